package twiliowhatsapp

import (
	"context"
	"sync"
)

// SentMessage is one send recorded by MockClient.
type SentMessage struct {
	To       string
	Body     string
	MediaURL string
}

// MockClient records sends instead of calling Twilio.
type MockClient struct {
	mu           sync.Mutex
	SentMessages []SentMessage
	Err          error
}

var _ TwilioWhatsAppSender = (*MockClient)(nil)

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) SendMessage(_ context.Context, to string, body string) error {
	return m.record(SentMessage{To: to, Body: body})
}

func (m *MockClient) SendMedia(_ context.Context, to string, body string, mediaURL string) error {
	return m.record(SentMessage{To: to, Body: body, MediaURL: mediaURL})
}

func (m *MockClient) record(msg SentMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.SentMessages = append(m.SentMessages, msg)
	return nil
}
