// Package messaging defines the outbound WhatsApp gateway contract used by
// SalesPipe, its recipient rules and a recording mock for tests.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/BTreeMap/SalesPipe/internal/media"
)

var (
	// ErrNotConfigured is returned by a gateway built without credentials.
	ErrNotConfigured = errors.New("messaging gateway not configured")
	// ErrUnsupported is returned for operations a gateway cannot perform.
	ErrUnsupported = errors.New("operation not supported by gateway")
	// ErrEmptyRecipient is returned when no recipient is given.
	ErrEmptyRecipient = errors.New("recipient cannot be empty")
)

// AudioMimeType is the MIME type declared for outbound voice notes.
const AudioMimeType = "audio/mpeg; codecs=opus"

// MediaKind selects how the gateway should convert fetched media.
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaAudio MediaKind = "audio"
)

// Media is a decoded inbound attachment.
type Media struct {
	Data   []byte
	Base64 string
	Format media.Format
}

// MimeType returns the MIME type of the sniffed format.
func (m *Media) MimeType() string { return m.Format.MimeType() }

// Quote identifies the inbound message a reply refers to. Both fields must be
// set for the reply to render as a quote.
type Quote struct {
	MessageID string
	Text      string
}

// Valid reports whether the quote can be attached.
func (q Quote) Valid() bool { return q.MessageID != "" && q.Text != "" }

// AudioMessage is an outbound voice note.
type AudioMessage struct {
	To    string
	Audio []byte
	Quote Quote
}

// ImageMessage is an outbound image referenced by URL.
type ImageMessage struct {
	To      string
	URL     string
	Caption string
	Quote   Quote
}

// Gateway sends replies to WhatsApp customers and fetches inbound media.
type Gateway interface {
	SendText(ctx context.Context, to, text string) error
	SendAudio(ctx context.Context, msg AudioMessage) error
	SendImage(ctx context.Context, msg ImageMessage) error
	// FetchMedia downloads the attachment of an inbound message by id.
	FetchMedia(ctx context.Context, messageID string, kind MediaKind) (*Media, error)
}

var nonDigitRegex = regexp.MustCompile(`\D`)

// CanonicalizeRecipient strips the jid domain and any non-digits from a
// recipient and validates that at least 6 digits remain.
func CanonicalizeRecipient(recipient string) (string, error) {
	if recipient == "" {
		return "", ErrEmptyRecipient
	}
	local := recipient
	if i := strings.Index(local, "@"); i >= 0 {
		local = local[:i]
	}
	canonical := nonDigitRegex.ReplaceAllString(local, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < 6 {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum 6 digits required)", canonical)
	}
	if canonical != recipient {
		slog.Debug("messaging.CanonicalizeRecipient: canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

var markdownLinkRegex = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)

// RewriteMarkdownLinks renders [label](url) links as "label: url", which
// WhatsApp displays as a tappable link.
func RewriteMarkdownLinks(text string) string {
	return markdownLinkRegex.ReplaceAllString(text, "$1: $2")
}
