package models

import (
	"bytes"
	"encoding/json"
)

// Modality is the kind of content an inbound message carries.
type Modality string

const (
	ModalityText  Modality = "text"
	ModalityAudio Modality = "audio"
	ModalityImage Modality = "image"
	ModalityNone  Modality = "none"
)

// WebhookEvent is the Evolution API webhook payload. Only the fields the
// pipeline reads are modeled; other keys are ignored.
type WebhookEvent struct {
	Event    string      `json:"event,omitempty"`
	Instance string      `json:"instance,omitempty"`
	Data     WebhookData `json:"data"`
}

// WebhookData is the "data" object of a webhook event.
type WebhookData struct {
	Key      MessageKey      `json:"key"`
	PushName string          `json:"pushName,omitempty"`
	Message  *WebhookMessage `json:"message,omitempty"`
}

// MessageKey identifies the inbound message and its sender.
type MessageKey struct {
	RemoteJID string `json:"remoteJid"`
	ID        string `json:"id,omitempty"`
	FromMe    bool   `json:"fromMe,omitempty"`
}

// WebhookMessage holds the message variants. Audio and image payloads are kept
// raw because only their presence matters; the bytes are fetched by message id.
type WebhookMessage struct {
	Conversation string          `json:"conversation,omitempty"`
	AudioMessage json.RawMessage `json:"audioMessage,omitempty"`
	ImageMessage json.RawMessage `json:"imageMessage,omitempty"`
}

// RemoteJID returns the sender identifier, or "".
func (e *WebhookEvent) RemoteJID() string {
	if e == nil {
		return ""
	}
	return e.Data.Key.RemoteJID
}

// MessageID returns the gateway message id, or "".
func (e *WebhookEvent) MessageID() string {
	if e == nil {
		return ""
	}
	return e.Data.Key.ID
}

// Conversation returns the literal text of a text message, or "".
func (e *WebhookEvent) Conversation() string {
	if e == nil || e.Data.Message == nil {
		return ""
	}
	return e.Data.Message.Conversation
}

// HasAudio reports whether the event carries an audio message.
func (e *WebhookEvent) HasAudio() bool {
	if e == nil || e.Data.Message == nil {
		return false
	}
	return present(e.Data.Message.AudioMessage)
}

// HasImage reports whether the event carries an image message.
func (e *WebhookEvent) HasImage() bool {
	if e == nil || e.Data.Message == nil {
		return false
	}
	return present(e.Data.Message.ImageMessage)
}

// Modality returns the message kind, with text taking precedence over audio
// and audio over image.
func (e *WebhookEvent) Modality() Modality {
	switch {
	case e.Conversation() != "":
		return ModalityText
	case e.HasAudio():
		return ModalityAudio
	case e.HasImage():
		return ModalityImage
	default:
		return ModalityNone
	}
}

// present reports whether raw holds a truthy value: null, false, 0, "" and
// empty objects or arrays count as absent.
func present(raw json.RawMessage) bool {
	if len(bytes.TrimSpace(raw)) == 0 {
		return false
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case float64:
		return x != 0
	case string:
		return x != ""
	case map[string]interface{}:
		return len(x) > 0
	case []interface{}:
		return len(x) > 0
	}
	return true
}
