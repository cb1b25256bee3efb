package reply

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/BTreeMap/SalesPipe/internal/messaging"
	"github.com/BTreeMap/SalesPipe/internal/models"
	"github.com/BTreeMap/SalesPipe/internal/store"
)

type fakeSpeech struct {
	audio []byte
	err   error
	calls []string
}

func (f *fakeSpeech) Synthesize(ctx context.Context, text string) ([]byte, error) {
	f.calls = append(f.calls, text)
	return f.audio, f.err
}

type failingAppend struct{ store.ThreadRepo }

func (failingAppend) AppendMessage(ctx context.Context, threadID string, role models.Role, content string) error {
	return errors.New("disk full")
}

const jid = "5511999999999@s.whatsapp.net"

func setup(t *testing.T) (*messaging.MockGateway, *store.InMemoryStore, string) {
	t.Helper()
	mem := store.NewInMemoryStore()
	id, err := mem.CreateThread(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return messaging.NewMockGateway(), mem, id
}

func lastAssistantTurn(t *testing.T, mem *store.InMemoryStore, threadID string) string {
	t.Helper()
	msgs, err := mem.ListMessages(context.Background(), threadID, 1)
	if err != nil || len(msgs) == 0 {
		return ""
	}
	return msgs[0].Content
}

func TestDeliver_Text(t *testing.T) {
	gw, mem, thread := setup(t)
	seq := NewSequencer(gw, nil, mem)

	out := seq.Deliver(context.Background(), models.TextReply{Text: "Olá!"}, Target{RemoteJID: jid, ThreadID: thread})
	if !out.Delivered || out.State != StateSent {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if got := gw.TextBodies(); len(got) != 1 || got[0] != "Olá!" {
		t.Errorf("texts = %v", got)
	}
	if got := lastAssistantTurn(t, mem, thread); got != "Olá!" {
		t.Errorf("assistant turn = %q", got)
	}
}

func TestDeliver_EmptyTextSendsNothing(t *testing.T) {
	gw, mem, thread := setup(t)
	seq := NewSequencer(gw, nil, mem)

	out := seq.Deliver(context.Background(), models.TextReply{}, Target{RemoteJID: jid, ThreadID: thread})
	if out.Delivered || out.State != StatePending || gw.SendCount() != 0 {
		t.Errorf("unexpected outcome %+v with %d sends", out, gw.SendCount())
	}
	if got := lastAssistantTurn(t, mem, thread); got != "" {
		t.Errorf("empty reply should not be recorded, got %q", got)
	}
}

func TestDeliver_Products(t *testing.T) {
	gw, mem, thread := setup(t)
	seq := NewSequencer(gw, nil, mem)

	r := models.ProductListReply{Products: []models.Product{
		{Name: "Nike Air", Size: "40", Price: "299.90", ImageURL: "https://x/y.jpg"},
	}}
	target := Target{RemoteJID: jid, MessageID: "MSG1", QuotedText: "Tem tênis Nike?", ThreadID: thread, Message: "Tem tênis Nike?"}
	out := seq.Deliver(context.Background(), r, target)

	if len(gw.Images) != 1 || gw.Images[0].Caption != "Nike Air, tamanho 40, R$299.90" {
		t.Fatalf("unexpected images %+v", gw.Images)
	}
	if !gw.Images[0].Quote.Valid() {
		t.Error("product image should quote the inbound message")
	}
	want := "Encontrei 1 produto(s) para 'Tem tênis Nike?'. Deseja prosseguir com o pedido?"
	if got := gw.TextBodies(); len(got) != 1 || got[0] != want {
		t.Errorf("texts = %v, want [%q]", got, want)
	}
	if strings.Join(gw.Sends, ",") != "image,text" {
		t.Errorf("send order = %v", gw.Sends)
	}
	if !out.Delivered || out.Sends != 2 || out.Text != want {
		t.Errorf("unexpected outcome %+v", out)
	}
	if got := lastAssistantTurn(t, mem, thread); got != want {
		t.Errorf("assistant turn = %q", got)
	}
}

func TestDeliver_ProductsWithNotes(t *testing.T) {
	gw, mem, thread := setup(t)
	gw.ImageErrFor["https://x/broken.jpg"] = errors.New("404")
	seq := NewSequencer(gw, nil, mem)

	r := models.ProductListReply{Products: []models.Product{
		{Name: "Sandália", Size: "37", Price: "89.90"},
		{Name: "Bota", Size: "38", Price: "199.00", ImageURL: "https://x/broken.jpg"},
	}}
	out := seq.Deliver(context.Background(), r, Target{RemoteJID: jid, ThreadID: thread, Message: "botas"})

	if len(gw.Images) != 0 {
		t.Errorf("no image should have been delivered, got %d", len(gw.Images))
	}
	text := gw.TextBodies()[0]
	if !strings.HasPrefix(text, "Encontrei 2 produto(s) para 'botas'.") {
		t.Errorf("unexpected summary %q", text)
	}
	if !strings.Contains(text, "Sandália, tamanho 37, R$89.90. Imagem não disponível.") {
		t.Errorf("missing image note in %q", text)
	}
	if !strings.Contains(text, "Falha ao enviar imagem do produto: Bota") {
		t.Errorf("missing failure note in %q", text)
	}
	if !out.Delivered {
		t.Error("summary text was sent, reply should count as delivered")
	}
}

func TestDeliver_AudioPreferred(t *testing.T) {
	gw, mem, thread := setup(t)
	speech := &fakeSpeech{audio: []byte("ID3audio")}
	seq := NewSequencer(gw, speech, mem)

	target := Target{RemoteJID: jid, ThreadID: thread, PreferAudio: true, MessageID: "MSG1", QuotedText: "me responda em áudio"}
	out := seq.Deliver(context.Background(), models.TextReply{Text: "Abrimos às 9h."}, target)

	if len(gw.Audios) != 1 || len(gw.Texts) != 0 {
		t.Fatalf("audios=%d texts=%d, want 1 and 0", len(gw.Audios), len(gw.Texts))
	}
	if string(gw.Audios[0].Audio) != "ID3audio" || gw.Audios[0].Quote.MessageID != "MSG1" {
		t.Errorf("unexpected audio message %+v", gw.Audios[0])
	}
	if len(speech.calls) != 1 || speech.calls[0] != "Abrimos às 9h." {
		t.Errorf("speech calls = %v", speech.calls)
	}
	if !out.Delivered || out.Recovered {
		t.Errorf("unexpected outcome %+v", out)
	}
}

func TestDeliver_AudioFallback(t *testing.T) {
	gw, mem, thread := setup(t)
	seq := NewSequencer(gw, &fakeSpeech{err: errors.New("tts down")}, mem)

	out := seq.Deliver(context.Background(), models.TextReply{Text: "Abrimos às 9h."}, Target{RemoteJID: jid, ThreadID: thread, PreferAudio: true})
	if len(gw.Audios) != 0 {
		t.Errorf("no audio expected, got %d", len(gw.Audios))
	}
	if got := gw.TextBodies(); len(got) != 1 || got[0] != AudioFailureText {
		t.Errorf("texts = %v", got)
	}
	if !out.Recovered || !out.Delivered || out.Text != AudioFailureText {
		t.Errorf("unexpected outcome %+v", out)
	}
}

func TestDeliver_MarkdownImage(t *testing.T) {
	gw, mem, thread := setup(t)
	seq := NewSequencer(gw, nil, mem)

	out := seq.Deliver(context.Background(), models.TextReply{Text: "![Tênis Nike](https://x/nike.jpg)"}, Target{RemoteJID: jid, ThreadID: thread})
	if len(gw.Images) != 1 || gw.Images[0].Caption != "Tênis Nike" || gw.Images[0].URL != "https://x/nike.jpg" {
		t.Fatalf("unexpected images %+v", gw.Images)
	}
	if len(gw.Texts) != 0 {
		t.Errorf("text should be cleared after image send, got %v", gw.TextBodies())
	}
	if !out.Delivered || out.Text != "" {
		t.Errorf("unexpected outcome %+v", out)
	}
	if got := lastAssistantTurn(t, mem, thread); got != "" {
		t.Errorf("cleared reply should not be recorded, got %q", got)
	}
}

func TestDeliver_MarkdownImageDefaultCaption(t *testing.T) {
	gw, mem, thread := setup(t)
	seq := NewSequencer(gw, nil, mem)
	seq.Deliver(context.Background(), models.TextReply{Text: "![](https://x/nike.jpg)"}, Target{RemoteJID: jid, ThreadID: thread})
	if len(gw.Images) != 1 || gw.Images[0].Caption != DefaultCaption {
		t.Errorf("unexpected images %+v", gw.Images)
	}
}

func TestDeliver_MarkdownImageFailureFallsThrough(t *testing.T) {
	gw, mem, thread := setup(t)
	gw.ImageErr = errors.New("bad url")
	seq := NewSequencer(gw, nil, mem)

	out := seq.Deliver(context.Background(), models.TextReply{Text: "![x](https://x/nike.jpg)"}, Target{RemoteJID: jid, ThreadID: thread})
	if got := gw.TextBodies(); len(got) != 1 || got[0] != ImageFailureText {
		t.Errorf("texts = %v", got)
	}
	if strings.Join(gw.Sends, ",") != "image,text" {
		t.Errorf("send order = %v", gw.Sends)
	}
	if !out.Delivered || !out.Recovered {
		t.Errorf("last send succeeded, outcome %+v", out)
	}
}

func TestDeliver_PersistenceFailureResendsOnce(t *testing.T) {
	gw, mem, thread := setup(t)
	seq := NewSequencer(gw, nil, failingAppend{mem})

	out := seq.Deliver(context.Background(), models.TextReply{Text: "Olá!"}, Target{RemoteJID: jid, ThreadID: thread})
	got := gw.TextBodies()
	if len(got) != 2 || got[0] != "Olá!" || got[1] != "Erro ao salvar resposta do assistente: disk full" {
		t.Errorf("texts = %v", got)
	}
	if !out.Recovered {
		t.Error("persistence failure should use the recovery")
	}
}

func TestDeliver_RecoveryUsedAtMostOnce(t *testing.T) {
	gw, mem, thread := setup(t)
	seq := NewSequencer(gw, &fakeSpeech{err: errors.New("tts down")}, failingAppend{mem})

	out := seq.Deliver(context.Background(), models.TextReply{Text: "Oi"}, Target{RemoteJID: jid, ThreadID: thread, PreferAudio: true})
	if got := gw.TextBodies(); len(got) != 1 || got[0] != AudioFailureText {
		t.Errorf("only the audio fallback should be sent, got %v", got)
	}
	if out.Sends != 1 {
		t.Errorf("sends = %d, want 1", out.Sends)
	}
}

func TestDeliver_LastSendWins(t *testing.T) {
	gw, mem, thread := setup(t)
	gw.TextErr = errors.New("gateway down")
	seq := NewSequencer(gw, nil, mem)

	r := models.ProductListReply{Products: []models.Product{{Name: "Nike Air", ImageURL: "https://x/y.jpg"}}}
	out := seq.Deliver(context.Background(), r, Target{RemoteJID: jid, ThreadID: thread, Message: "nike"})
	if len(gw.Images) != 1 {
		t.Fatalf("image should have been sent")
	}
	if out.Delivered || out.State != StateFailed {
		t.Errorf("failed summary text should decide the outcome, got %+v", out)
	}
}
