// Package twiliowhatsapp is the Twilio fallback transport for SalesPipe. It
// sends text and url-backed media; Twilio offers no voice-note or inbound
// media download equivalent to Evolution.
package twiliowhatsapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

var (
	// ErrMissingCredentials is returned when the account SID or auth token is unset.
	ErrMissingCredentials = errors.New("twiliowhatsapp: account SID and auth token must be provided")
	// ErrMissingSender is returned when no sending number is configured.
	ErrMissingSender = errors.New("twiliowhatsapp: sending number must be provided")
)

// TwilioWhatsAppSender is the subset of the Twilio REST API SalesPipe uses.
type TwilioWhatsAppSender interface {
	SendMessage(ctx context.Context, to string, body string) error
	SendMedia(ctx context.Context, to string, body string, mediaURL string) error
}

// messageCreator is satisfied by twilio's *ApiService.
type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// Opts holds configuration options for the Twilio WhatsApp client.
type Opts struct {
	AccountSID string
	AuthToken  string
	FromWhats  string
}

// Option defines a configuration option for the Twilio WhatsApp client.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFromWhats sets the sending number, with or without the "whatsapp:" prefix.
func WithFromWhats(from string) Option {
	return func(o *Opts) { o.FromWhats = from }
}

// Client sends WhatsApp messages from one Twilio number.
type Client struct {
	api  messageCreator
	from string
}

// Compile-time check that Client implements TwilioWhatsAppSender.
var _ TwilioWhatsAppSender = (*Client)(nil)

// NewClient builds a client, falling back to TWILIO_ACCOUNT_SID,
// TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER for unset options.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromWhats == "" {
		cfg.FromWhats = os.Getenv("TWILIO_FROM_NUMBER")
	}
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, ErrMissingCredentials
	}
	if cfg.FromWhats == "" {
		return nil, ErrMissingSender
	}
	rest := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return newClientWithAPI(rest.Api, cfg.FromWhats), nil
}

func newClientWithAPI(api messageCreator, from string) *Client {
	return &Client{api: api, from: whatsAppAddress(from)}
}

// whatsAppAddress renders a number in Twilio's "whatsapp:+<digits>" form.
func whatsAppAddress(number string) string {
	number = strings.TrimSpace(number)
	if strings.HasPrefix(number, "whatsapp:") {
		return number
	}
	if !strings.HasPrefix(number, "+") {
		number = "+" + number
	}
	return "whatsapp:" + number
}

// SendMessage sends a text message.
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	return c.create(ctx, to, body, "")
}

// SendMedia sends mediaURL, which Twilio fetches itself, with an optional caption.
func (c *Client) SendMedia(ctx context.Context, to string, body string, mediaURL string) error {
	if mediaURL == "" {
		return fmt.Errorf("twiliowhatsapp: empty media url")
	}
	return c.create(ctx, to, body, mediaURL)
}

// create issues one CreateMessage call. The twilio SDK takes no context, so
// ctx is only checked before the request.
func (c *Client) create(ctx context.Context, to, body, mediaURL string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(whatsAppAddress(to))
	params.SetFrom(c.from)
	if body != "" {
		params.SetBody(body)
	}
	if mediaURL != "" {
		params.SetMediaUrl([]string{mediaURL})
	}

	resp, err := c.api.CreateMessage(params)
	if err != nil {
		slog.Error("TwilioClient.create: send failed", "to", to, "media", mediaURL != "", "error", err)
		return fmt.Errorf("twiliowhatsapp: send to %s: %w", to, err)
	}
	sid := ""
	if resp != nil && resp.Sid != nil {
		sid = *resp.Sid
	}
	slog.Debug("TwilioClient.create: message queued", "to", to, "sid", sid, "media", mediaURL != "")
	return nil
}
