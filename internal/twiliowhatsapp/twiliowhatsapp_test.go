package twiliowhatsapp

import (
	"context"
	"errors"
	"testing"

	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

type fakeAPI struct {
	params []*twilioApi.CreateMessageParams
	err    error
}

func (f *fakeAPI) CreateMessage(p *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error) {
	f.params = append(f.params, p)
	if f.err != nil {
		return nil, f.err
	}
	sid := "SM123"
	return &twilioApi.ApiV2010Message{Sid: &sid}, nil
}

func TestClient_SendMessage(t *testing.T) {
	api := &fakeAPI{}
	c := newClientWithAPI(api, "15550001111")

	if err := c.SendMessage(context.Background(), "5511999999999", "Olá"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	p := api.params[0]
	if *p.To != "whatsapp:+5511999999999" || *p.From != "whatsapp:+15550001111" || *p.Body != "Olá" {
		t.Errorf("unexpected params to=%q from=%q body=%q", *p.To, *p.From, *p.Body)
	}
	if p.MediaUrl != nil {
		t.Errorf("text send should carry no media, got %v", *p.MediaUrl)
	}
}

func TestClient_SendMedia(t *testing.T) {
	api := &fakeAPI{}
	c := newClientWithAPI(api, "whatsapp:+15550001111")

	if err := c.SendMedia(context.Background(), "5511999999999", "", "https://cdn.example.com/nike.jpg"); err != nil {
		t.Fatalf("SendMedia: %v", err)
	}
	p := api.params[0]
	if p.Body != nil {
		t.Errorf("empty caption should not set a body, got %q", *p.Body)
	}
	if urls := *p.MediaUrl; len(urls) != 1 || urls[0] != "https://cdn.example.com/nike.jpg" {
		t.Errorf("unexpected media urls %v", urls)
	}
	if err := c.SendMedia(context.Background(), "5511999999999", "x", ""); err == nil {
		t.Error("expected error for empty media url")
	}
}

func TestClient_Errors(t *testing.T) {
	api := &fakeAPI{err: errors.New("21211 invalid number")}
	c := newClientWithAPI(api, "15550001111")
	if err := c.SendMessage(context.Background(), "123", "oi"); err == nil {
		t.Error("expected API error to propagate")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.SendMessage(ctx, "5511999999999", "oi"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if len(api.params) != 1 {
		t.Errorf("cancelled send must not reach the API, calls = %d", len(api.params))
	}
}

func TestMockClient(t *testing.T) {
	mock := NewMockClient()
	if err := mock.SendMedia(context.Background(), "5511999999999", "Nike Air", "https://cdn.example.com/nike.jpg"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := mock.SentMessages[0]; got.MediaURL != "https://cdn.example.com/nike.jpg" || got.Body != "Nike Air" {
		t.Errorf("unexpected recorded send %+v", got)
	}
	mock.Err = errors.New("down")
	if err := mock.SendMessage(context.Background(), "5511999999999", "oi"); err == nil {
		t.Error("expected configured error")
	}
}

func TestWhatsAppAddress(t *testing.T) {
	tests := map[string]string{
		"5511999999999":           "whatsapp:+5511999999999",
		"+5511999999999":          "whatsapp:+5511999999999",
		"whatsapp:+5511999999999": "whatsapp:+5511999999999",
	}
	for in, want := range tests {
		if got := whatsAppAddress(in); got != want {
			t.Errorf("whatsAppAddress(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNewClient_MissingCredentials(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")
	if _, err := NewClient(); !errors.Is(err, ErrMissingCredentials) {
		t.Errorf("expected ErrMissingCredentials, got %v", err)
	}
	if _, err := NewClient(WithAccountSID("AC123"), WithAuthToken("tok")); !errors.Is(err, ErrMissingSender) {
		t.Errorf("expected ErrMissingSender, got %v", err)
	}
	if _, err := NewClient(WithAccountSID("AC123"), WithAuthToken("tok"), WithFromWhats("+15550001111")); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
