package messaging

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/SalesPipe/internal/twiliowhatsapp"
)

// TwilioGateway implements Gateway using the Twilio WhatsApp API. Voice notes
// and inbound media downloads are not available through this transport.
type TwilioGateway struct {
	client twiliowhatsapp.TwilioWhatsAppSender // Could be real Twilio client or MockClient
}

// Compile-time check that TwilioGateway implements Gateway.
var _ Gateway = (*TwilioGateway)(nil)

// NewTwilioGateway creates a TwilioGateway. A nil client yields ErrNotConfigured on every send.
func NewTwilioGateway(client twiliowhatsapp.TwilioWhatsAppSender) *TwilioGateway {
	return &TwilioGateway{client: client}
}

// SendText sends a text message, rendering markdown links as plain text.
func (g *TwilioGateway) SendText(ctx context.Context, to, text string) error {
	if g.client == nil {
		return ErrNotConfigured
	}
	canonical, err := CanonicalizeRecipient(to)
	if err != nil {
		return err
	}
	if err := g.client.SendMessage(ctx, canonical, RewriteMarkdownLinks(text)); err != nil {
		return fmt.Errorf("twilio send text: %w", err)
	}
	slog.Debug("TwilioGateway.SendText: message sent", "to", canonical)
	return nil
}

// SendAudio is not supported by Twilio without hosting the audio first.
func (g *TwilioGateway) SendAudio(ctx context.Context, msg AudioMessage) error {
	if g.client == nil {
		return ErrNotConfigured
	}
	return ErrUnsupported
}

// SendImage sends the image URL as a media attachment with the caption as body.
func (g *TwilioGateway) SendImage(ctx context.Context, msg ImageMessage) error {
	if g.client == nil {
		return ErrNotConfigured
	}
	canonical, err := CanonicalizeRecipient(msg.To)
	if err != nil {
		return err
	}
	if err := g.client.SendMedia(ctx, canonical, msg.Caption, msg.URL); err != nil {
		return fmt.Errorf("twilio send image: %w", err)
	}
	slog.Debug("TwilioGateway.SendImage: image sent", "to", canonical, "url", msg.URL)
	return nil
}

// FetchMedia is not supported; Twilio media arrives by URL on its own webhook format.
func (g *TwilioGateway) FetchMedia(ctx context.Context, messageID string, kind MediaKind) (*Media, error) {
	if g.client == nil {
		return nil, ErrNotConfigured
	}
	return nil, ErrUnsupported
}
