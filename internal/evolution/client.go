// Package evolution implements messaging.Gateway on top of the Evolution API,
// the WhatsApp HTTP gateway that delivers SalesPipe's webhooks.
package evolution

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/BTreeMap/SalesPipe/internal/media"
	"github.com/BTreeMap/SalesPipe/internal/messaging"
)

// DefaultTimeout bounds every Evolution API request.
const DefaultTimeout = 30 * time.Second

// StatusError is returned when the Evolution API answers with a status other than 200 or 201.
type StatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("evolution: %s returned status %d: %s", e.URL, e.StatusCode, e.Body)
}

// Opts holds configuration options for the Evolution client.
type Opts struct {
	BaseURL    string
	Token      string
	Instance   string
	HTTPClient *http.Client
}

// Option defines a configuration option for the Evolution client.
type Option func(*Opts)

// WithBaseURL sets the API base url, e.g. https://evolution.example.com.
func WithBaseURL(u string) Option {
	return func(o *Opts) { o.BaseURL = u }
}

// WithToken sets the value sent in the apikey header.
func WithToken(token string) Option {
	return func(o *Opts) { o.Token = token }
}

// WithInstance sets the Evolution instance name.
func WithInstance(name string) Option {
	return func(o *Opts) { o.Instance = name }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// Client talks to one Evolution API instance.
type Client struct {
	baseURL    string
	token      string
	instance   string
	httpClient *http.Client
}

// Compile-time check that Client implements messaging.Gateway.
var _ messaging.Gateway = (*Client)(nil)

// NewClient builds a client, falling back to EVOLUTION_API_URL,
// EVOLUTION_API_TOKEN and EVOLUTION_INSTANCE_NAME. Missing settings do not
// fail construction; every call then returns messaging.ErrNotConfigured.
func NewClient(opts ...Option) *Client {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = os.Getenv("EVOLUTION_API_URL")
	}
	if cfg.Token == "" {
		cfg.Token = os.Getenv("EVOLUTION_API_TOKEN")
	}
	if cfg.Instance == "" {
		cfg.Instance = os.Getenv("EVOLUTION_INSTANCE_NAME")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultTimeout}
	}
	c := &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		token:      cfg.Token,
		instance:   cfg.Instance,
		httpClient: cfg.HTTPClient,
	}
	if !c.Configured() {
		slog.Warn("evolution.NewClient: configuration incomplete, sends will fail",
			"baseURL_set", c.baseURL != "", "token_set", c.token != "", "instance_set", c.instance != "")
	}
	return c
}

// Configured reports whether base url, token and instance are all set.
func (c *Client) Configured() bool {
	return c.baseURL != "" && c.token != "" && c.instance != ""
}

type sendOptions struct {
	Delay            int      `json:"delay"`
	Presence         string   `json:"presence"`
	LinkPreview      *bool    `json:"linkPreview,omitempty"`
	MentionsEveryOne *bool    `json:"mentionsEveryOne,omitempty"`
	Mentioned        []string `json:"mentioned,omitempty"`
}

type quoted struct {
	Key struct {
		ID string `json:"id"`
	} `json:"key"`
	Message struct {
		Conversation string `json:"conversation"`
	} `json:"message"`
}

func quoteOf(q messaging.Quote) *quoted {
	if !q.Valid() {
		return nil
	}
	out := &quoted{}
	out.Key.ID = q.MessageID
	out.Message.Conversation = q.Text
	return out
}

// mediaOptions are shared by audio and image sends.
func mediaOptions(presence, to string) sendOptions {
	off := false
	opts := sendOptions{Presence: presence, LinkPreview: &off, MentionsEveryOne: &off}
	if to != "" {
		opts.Mentioned = []string{to}
	}
	return opts
}

// SendText sends a plain text message. Markdown links are rendered as "label: url".
func (c *Client) SendText(ctx context.Context, to, text string) error {
	payload := struct {
		Number  string      `json:"number"`
		Text    string      `json:"text"`
		Options sendOptions `json:"options"`
	}{
		Number:  to,
		Text:    messaging.RewriteMarkdownLinks(text),
		Options: sendOptions{Delay: 0, Presence: "composing"},
	}
	return c.post(ctx, "/message/sendText/", payload, nil)
}

// SendAudio sends a base64 encoded voice note.
func (c *Client) SendAudio(ctx context.Context, msg messaging.AudioMessage) error {
	if len(msg.Audio) == 0 {
		return fmt.Errorf("evolution: empty audio payload")
	}
	payload := struct {
		Number   string      `json:"number"`
		Audio    string      `json:"audio"`
		Mimetype string      `json:"mimetype"`
		Options  sendOptions `json:"options"`
		Quoted   *quoted     `json:"quoted,omitempty"`
	}{
		Number:   msg.To,
		Audio:    base64.StdEncoding.EncodeToString(msg.Audio),
		Mimetype: messaging.AudioMimeType,
		Options:  mediaOptions("recording", msg.To),
		Quoted:   quoteOf(msg.Quote),
	}
	return c.post(ctx, "/message/sendWhatsAppAudio/", payload, nil)
}

// SendImage sends an image by url with a caption.
func (c *Client) SendImage(ctx context.Context, msg messaging.ImageMessage) error {
	if msg.To == "" {
		return messaging.ErrEmptyRecipient
	}
	payload := struct {
		Number    string      `json:"number"`
		Mediatype string      `json:"mediatype"`
		Mimetype  string      `json:"mimetype"`
		Media     string      `json:"media"`
		Caption   string      `json:"caption"`
		Options   sendOptions `json:"options"`
		Quoted    *quoted     `json:"quoted,omitempty"`
	}{
		Number:    msg.To,
		Mediatype: "image",
		Mimetype:  "image/jpeg",
		Media:     msg.URL,
		Caption:   msg.Caption,
		Options:   mediaOptions("composing", msg.To),
		Quoted:    quoteOf(msg.Quote),
	}
	return c.post(ctx, "/message/sendMedia/", payload, nil)
}

// FetchMedia downloads the attachment of an inbound message and identifies it
// by its magic bytes. Images must be JPEG or PNG, audio Ogg or MP3.
func (c *Client) FetchMedia(ctx context.Context, messageID string, kind messaging.MediaKind) (*messaging.Media, error) {
	var payload struct {
		Message struct {
			Key struct {
				ID string `json:"id"`
			} `json:"key"`
		} `json:"message"`
		ConvertToMp4 bool `json:"convertToMp4"`
	}
	payload.Message.Key.ID = messageID
	payload.ConvertToMp4 = kind == messaging.MediaImage

	var resp struct {
		Base64 string `json:"base64"`
	}
	if err := c.post(ctx, "/chat/getBase64FromMediaMessage/", payload, &resp); err != nil {
		return nil, err
	}
	if resp.Base64 == "" {
		return nil, fmt.Errorf("evolution: no base64 data returned for message %s", messageID)
	}
	data, err := base64.StdEncoding.DecodeString(resp.Base64)
	if err != nil {
		return nil, fmt.Errorf("evolution: decode base64 media: %w", err)
	}
	format, err := media.Sniff(data)
	if err != nil {
		return nil, fmt.Errorf("evolution: unknown %s format: %w", kind, err)
	}
	if (kind == messaging.MediaImage && !format.IsImage()) || (kind == messaging.MediaAudio && !format.IsAudio()) {
		return nil, fmt.Errorf("evolution: expected %s media, got %s: %w", kind, format, media.ErrUnknownFormat)
	}
	slog.Debug("evolution.FetchMedia: media fetched", "messageID", messageID, "kind", kind, "format", format, "bytes", len(data))
	return &messaging.Media{Data: data, Base64: resp.Base64, Format: format}, nil
}

// post sends payload as JSON to path+instance and decodes the response into out when non-nil.
func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	if !c.Configured() {
		slog.Error("evolution: configuration incomplete", "path", path)
		return messaging.ErrNotConfigured
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("evolution: marshal payload: %w", err)
	}
	url := c.baseURL + path + c.instance
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("evolution: build request: %w", err)
	}
	req.Header.Set("apikey", c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("evolution: http error: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("evolution: read response: %w", err)
	}
	slog.Debug("evolution: response received", "path", path, "status", resp.StatusCode)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return &StatusError{StatusCode: resp.StatusCode, URL: url, Body: string(data)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("evolution: decode response: %w", err)
	}
	return nil
}
