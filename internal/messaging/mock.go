package messaging

import (
	"context"
	"fmt"
	"sync"
)

// SentText records a text delivered through MockGateway.
type SentText struct {
	To   string
	Text string
}

// MockGateway records every outbound message and serves canned media.
// Errors can be injected per operation.
type MockGateway struct {
	mu sync.Mutex

	Texts  []SentText
	Audios []AudioMessage
	Images []ImageMessage
	// Sends lists operation names ("text", "audio", "image") in call order.
	Sends []string

	Media   map[MediaKind]*Media
	Fetches []string

	TextErr  error
	AudioErr error
	// ImageErr fails every image send; ImageErrFor fails sends to specific URLs.
	ImageErr    error
	ImageErrFor map[string]error
	FetchErr    error
}

// Compile-time check that MockGateway implements Gateway.
var _ Gateway = (*MockGateway)(nil)

// NewMockGateway creates an empty mock gateway.
func NewMockGateway() *MockGateway {
	return &MockGateway{
		Media:       make(map[MediaKind]*Media),
		ImageErrFor: make(map[string]error),
	}
}

func (m *MockGateway) SendText(ctx context.Context, to, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sends = append(m.Sends, "text")
	if m.TextErr != nil {
		return m.TextErr
	}
	m.Texts = append(m.Texts, SentText{To: to, Text: text})
	return nil
}

func (m *MockGateway) SendAudio(ctx context.Context, msg AudioMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sends = append(m.Sends, "audio")
	if m.AudioErr != nil {
		return m.AudioErr
	}
	m.Audios = append(m.Audios, msg)
	return nil
}

func (m *MockGateway) SendImage(ctx context.Context, msg ImageMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sends = append(m.Sends, "image")
	if m.ImageErr != nil {
		return m.ImageErr
	}
	if err := m.ImageErrFor[msg.URL]; err != nil {
		return err
	}
	m.Images = append(m.Images, msg)
	return nil
}

func (m *MockGateway) FetchMedia(ctx context.Context, messageID string, kind MediaKind) (*Media, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Fetches = append(m.Fetches, messageID)
	if m.FetchErr != nil {
		return nil, m.FetchErr
	}
	media, ok := m.Media[kind]
	if !ok {
		return nil, fmt.Errorf("no %s media for message %s", kind, messageID)
	}
	return media, nil
}

// SendCount returns the number of attempted sends of any kind.
func (m *MockGateway) SendCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Sends)
}

// TextBodies returns the delivered text bodies in order.
func (m *MockGateway) TextBodies() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Texts))
	for i, t := range m.Texts {
		out[i] = t.Text
	}
	return out
}
