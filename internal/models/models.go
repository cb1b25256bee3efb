// Package models defines the core data structures for SalesPipe.
//
// It includes the lead record, catalogue products, the canonical agent reply,
// the inbound webhook payload and the API response envelope shared across modules.
package models

import (
	"errors"
)

// Error variables for better error handling and testability
var (
	ErrEmptyRemoteJID = errors.New("remote jid cannot be empty")
	ErrInvalidPayload = errors.New("no valid message found in payload")
)

// WhatsAppUserSuffix is the JID suffix Evolution appends to individual chats.
const WhatsAppUserSuffix = "@s.whatsapp.net"

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusSuccess indicates the webhook event was processed.
	APIStatusSuccess APIStatus = "success"
	// APIStatusError indicates the webhook event failed or was rejected.
	APIStatusError APIStatus = "error"
	// APIStatusOK is used by the health probe.
	APIStatusOK APIStatus = "ok"
)

// APIResponse represents a standard API response with a status and optional message.
type APIResponse struct {
	Status  string `json:"status"`            // status of the API response
	Message string `json:"message,omitempty"` // optional message for error responses or additional info
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{
		response: APIResponse{},
	}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Success creates a successful API response with a message.
func Success(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusSuccess).
		WithMessage(message).
		Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}

// Health creates the health probe response.
func Health() APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		Build()
}
