package reply

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/BTreeMap/SalesPipe/internal/messaging"
	"github.com/BTreeMap/SalesPipe/internal/models"
	"github.com/BTreeMap/SalesPipe/internal/store"
)

// Customer-facing texts produced during delivery.
const (
	AudioFailureText = "Desculpe, houve um problema ao gerar o áudio. Como posso ajudar?"
	ImageFailureText = "Desculpe, houve um problema ao enviar a imagem."
	DefaultCaption   = "Imagem do produto"
)

// State is the delivery state of one reply.
type State int

const (
	StatePending State = iota
	StateSent
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateSent:
		return "sent"
	case StateFailed:
		return "failed"
	default:
		return "pending"
	}
}

// Synthesizer turns text into encoded speech.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Target describes where and how a reply is delivered.
type Target struct {
	RemoteJID string
	// MessageID and QuotedText identify the inbound message quoted by media replies.
	MessageID   string
	QuotedText  string
	ThreadID    string
	PreferAudio bool
	// Message is the canonical inbound text, echoed in the product summary.
	Message string
}

func (t Target) quote() messaging.Quote {
	return messaging.Quote{MessageID: t.MessageID, Text: t.QuotedText}
}

// Outcome reports what Deliver did.
type Outcome struct {
	State State
	// Delivered is true when the last attempted send succeeded.
	Delivered bool
	// Text is the final text of the reply, as recorded in the thread.
	Text  string
	Sends int
	// Recovered is true when the single plain-text recovery was used.
	Recovered bool
}

// Sequencer performs the outbound side effects of a reply in a fixed order:
// audio, product images, a leading markdown image, then plain text.
type Sequencer struct {
	gateway messaging.Gateway
	speech  Synthesizer
	threads store.ThreadRepo
}

func NewSequencer(gateway messaging.Gateway, speech Synthesizer, threads store.ThreadRepo) *Sequencer {
	return &Sequencer{gateway: gateway, speech: speech, threads: threads}
}

var markdownImageRegex = regexp.MustCompile(`^!\[(.*?)\]\((.*?)\)`)

// delivery is the state of a single Deliver call.
type delivery struct {
	s         *Sequencer
	target    Target
	state     State
	text      string
	sends     int
	recovered bool
}

func (d *delivery) record(kind string, err error) {
	d.sends++
	if err != nil {
		d.state = StateFailed
		slog.Error("Sequencer.Deliver: send failed", "kind", kind, "remoteJID", d.target.RemoteJID, "error", err)
		return
	}
	d.state = StateSent
}

func (d *delivery) sendText(ctx context.Context, text string) {
	d.record("text", d.s.gateway.SendText(ctx, d.target.RemoteJID, text))
}

// recover resends text as plain text. It runs at most once per delivery.
func (d *delivery) recover(ctx context.Context, text, reason string) {
	d.text = text
	if d.recovered {
		slog.Warn("Sequencer.Deliver: recovery already used, skipping", "remoteJID", d.target.RemoteJID, "reason", reason)
		return
	}
	d.recovered = true
	slog.Info("Sequencer.Deliver: resending as plain text", "remoteJID", d.target.RemoteJID, "reason", reason)
	d.sendText(ctx, text)
}

// Deliver sends r to the target and records it as an assistant turn.
func (s *Sequencer) Deliver(ctx context.Context, r models.Reply, target Target) Outcome {
	d := &delivery{s: s, target: target, state: StatePending}

	switch v := r.(type) {
	case models.ProductListReply:
		d.deliverProducts(ctx, v.Products)
	case models.TextReply:
		d.text = v.Text
		switch {
		case target.PreferAudio && v.Text != "":
			d.deliverAudio(ctx, v.Text)
		case markdownImageRegex.MatchString(v.Text):
			d.deliverMarkdownImage(ctx, v.Text)
		case v.Text != "":
			d.sendText(ctx, v.Text)
		}
	default:
		slog.Error("Sequencer.Deliver: unknown reply type", "type", fmt.Sprintf("%T", r))
	}

	if d.text != "" && target.ThreadID != "" && s.threads != nil {
		if err := s.threads.AppendMessage(ctx, target.ThreadID, models.RoleAssistant, d.text); err != nil {
			slog.Error("Sequencer.Deliver: failed to record assistant turn", "threadID", target.ThreadID, "error", err)
			d.recover(ctx, fmt.Sprintf("Erro ao salvar resposta do assistente: %v", err), "persistence")
		}
	}

	return Outcome{
		State:     d.state,
		Delivered: d.state == StateSent,
		Text:      d.text,
		Sends:     d.sends,
		Recovered: d.recovered,
	}
}

func (d *delivery) deliverAudio(ctx context.Context, text string) {
	if d.s.speech == nil {
		d.recover(ctx, AudioFailureText, "speech not available")
		return
	}
	audio, err := d.s.speech.Synthesize(ctx, text)
	if err != nil || len(audio) == 0 {
		slog.Error("Sequencer.Deliver: speech synthesis failed", "remoteJID", d.target.RemoteJID, "error", err)
		d.recover(ctx, AudioFailureText, "speech synthesis")
		return
	}
	d.record("audio", d.s.gateway.SendAudio(ctx, messaging.AudioMessage{
		To:    d.target.RemoteJID,
		Audio: audio,
		Quote: d.target.quote(),
	}))
}

func (d *delivery) deliverProducts(ctx context.Context, products []models.Product) {
	var notes []string
	for _, p := range products {
		caption := Caption(p)
		if strings.TrimSpace(p.ImageURL) == "" {
			slog.Warn("Sequencer.Deliver: product without image", "remoteJID", d.target.RemoteJID, "product", p.Name)
			notes = append(notes, caption+". Imagem não disponível.")
			continue
		}
		err := d.s.gateway.SendImage(ctx, messaging.ImageMessage{
			To:      d.target.RemoteJID,
			URL:     p.ImageURL,
			Caption: caption,
			Quote:   d.target.quote(),
		})
		d.record("image", err)
		if err != nil {
			notes = append(notes, "Falha ao enviar imagem do produto: "+orDefault(p.Name, "Produto"))
		}
	}
	summary := fmt.Sprintf("Encontrei %d produto(s) para '%s'. Deseja prosseguir com o pedido?", len(products), d.target.Message)
	if len(notes) > 0 {
		summary += "\n" + strings.Join(notes, "\n")
	}
	d.text = summary
	d.sendText(ctx, summary)
}

func (d *delivery) deliverMarkdownImage(ctx context.Context, text string) {
	m := markdownImageRegex.FindStringSubmatch(text)
	caption := orDefault(m[1], DefaultCaption)
	err := d.s.gateway.SendImage(ctx, messaging.ImageMessage{
		To:      d.target.RemoteJID,
		URL:     m[2],
		Caption: caption,
		Quote:   d.target.quote(),
	})
	d.record("image", err)
	if err == nil {
		d.text = ""
		return
	}
	d.recover(ctx, ImageFailureText, "markdown image")
}
