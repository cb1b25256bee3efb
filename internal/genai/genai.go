// Package genai provides GenAI-enhanced operations using OpenAI API.
//
// It wraps chat completions (plain and with tools), image description,
// text-to-speech and speech-to-text behind narrow service interfaces so the
// rest of SalesPipe can be tested without network access.
package genai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultModel is the chat model used when none is configured.
const DefaultModel = "gpt-4o-mini"

// Image description parameters.
const (
	ImageDescriptionPrompt      = "Descreva o produto na imagem em português do Brasil."
	ImageDescriptionTemperature = 0.4
	ImageDescriptionAttempts    = 3
	ImageRetryInitialWait       = 4 * time.Second
	ImageRetryMaxWait           = 10 * time.Second
	TranscriptionLanguage       = "pt"
)

var (
	// ErrNotConfigured is returned by every call of a client built without an API key.
	ErrNotConfigured = errors.New("genai client not configured: OPENAI_API_KEY not set")
	// ErrNoChoicesReturned is returned when the completion carries no choices.
	ErrNoChoicesReturned = errors.New("no choices returned")
	// ErrEmptyInput is returned when a call receives nothing to process.
	ErrEmptyInput = errors.New("empty input")
	// ErrInvalidImage is returned when image data is not valid base64.
	ErrInvalidImage = errors.New("invalid base64 image data")
)

// chatService defines minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// speechService synthesizes audio and returns the encoded bytes.
type speechService interface {
	Create(ctx context.Context, params openai.AudioSpeechNewParams) ([]byte, error)
}

// transcriptionService transcribes an uploaded audio file.
type transcriptionService interface {
	Create(ctx context.Context, params openai.AudioTranscriptionNewParams) (string, error)
}

// ToolCall is a function call requested by the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the function name and its JSON arguments.
type FunctionCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolCallResponse is a model turn that may contain text, tool calls or both.
type ToolCallResponse struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ClientInterface is the full surface of the GenAI client.
type ClientInterface interface {
	Complete(ctx context.Context, prompt string, temperature float64) (string, error)
	GenerateWithTools(ctx context.Context, model string, messages []openai.ChatCompletionMessageParamUnion, tools []openai.ChatCompletionToolParam) (*ToolCallResponse, error)
	DescribeImage(ctx context.Context, imageBase64, mimeType string) (string, error)
	Synthesize(ctx context.Context, text string) ([]byte, error)
	Transcribe(ctx context.Context, audio []byte, ext string) (string, error)
}

// Client wraps the OpenAI services used by SalesPipe.
// The zero Client reports ErrNotConfigured from every call.
type Client struct {
	chat          chatService
	speech        speechService
	transcription transcriptionService
	model         string
	sleep         func(ctx context.Context, d time.Duration) error
}

// Compile-time check that Client implements ClientInterface.
var _ ClientInterface = (*Client)(nil)

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey string
	Model  string
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel sets the default chat model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// NewClient initializes a new GenAI client. The API key falls back to OPENAI_API_KEY.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	slog.Debug("GenAI client config loaded", "model", cfg.Model)

	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	return &Client{
		chat:          openAIChat{svc: &cli.Chat.Completions},
		speech:        openAISpeech{svc: &cli.Audio.Speech},
		transcription: openAITranscription{svc: &cli.Audio.Transcriptions},
		model:         cfg.Model,
		sleep:         sleepContext,
	}, nil
}

// Model returns the default chat model.
func (c *Client) Model() string {
	if c.model == "" {
		return DefaultModel
	}
	return c.model
}

// Complete sends prompt as a single user message and returns the reply text.
func (c *Client) Complete(ctx context.Context, prompt string, temperature float64) (string, error) {
	if c.chat == nil {
		return "", ErrNotConfigured
	}
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.Model()),
		Messages:    []openai.ChatCompletionMessageParamUnion{openai.UserMessage(prompt)},
		Temperature: openai.Float(temperature),
	}
	resp, err := c.chat.Create(ctx, params)
	if err != nil {
		slog.Error("GenAI.Complete: chat completion failed", "error", err)
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// GenerateWithTools runs one model turn with the given tool definitions.
func (c *Client) GenerateWithTools(ctx context.Context, model string, messages []openai.ChatCompletionMessageParamUnion, tools []openai.ChatCompletionToolParam) (*ToolCallResponse, error) {
	if c.chat == nil {
		return nil, ErrNotConfigured
	}
	if model == "" {
		model = c.Model()
	}
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: messages,
	}
	if len(tools) > 0 {
		params.Tools = tools
	}
	resp, err := c.chat.Create(ctx, params)
	if err != nil {
		slog.Error("GenAI.GenerateWithTools: chat completion failed", "error", err, "model", model)
		return nil, fmt.Errorf("chat completion with tools failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrNoChoicesReturned
	}
	msg := resp.Choices[0].Message
	out := &ToolCallResponse{Content: msg.Content}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: FunctionCall{
				Name:      tc.Function.Name,
				Arguments: json.RawMessage(tc.Function.Arguments),
			},
		})
	}
	slog.Debug("GenAI.GenerateWithTools: response received", "model", model, "contentLength", len(out.Content), "toolCalls", len(out.ToolCalls))
	return out, nil
}

// DescribeImage asks the vision model for a pt-BR description of the product
// in the image. imageBase64 may carry a data URL prefix. Transient failures are
// retried with exponential backoff.
func (c *Client) DescribeImage(ctx context.Context, imageBase64, mimeType string) (string, error) {
	if c.chat == nil {
		return "", ErrNotConfigured
	}
	dataURL, err := imageDataURL(imageBase64, mimeType)
	if err != nil {
		return "", err
	}
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(DefaultModel),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart(ImageDescriptionPrompt),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: dataURL}),
			}),
		},
		Temperature: openai.Float(ImageDescriptionTemperature),
	}

	var lastErr error
	wait := ImageRetryInitialWait
	for attempt := 1; attempt <= ImageDescriptionAttempts; attempt++ {
		resp, err := c.chat.Create(ctx, params)
		if err == nil && len(resp.Choices) > 0 {
			return strings.TrimSpace(resp.Choices[0].Message.Content), nil
		}
		if err == nil {
			err = ErrNoChoicesReturned
		}
		lastErr = err
		slog.Warn("GenAI.DescribeImage: attempt failed", "attempt", attempt, "error", err)
		if attempt == ImageDescriptionAttempts {
			break
		}
		if serr := c.sleepFor(ctx, wait); serr != nil {
			return "", serr
		}
		wait *= 2
		if wait > ImageRetryMaxWait {
			wait = ImageRetryMaxWait
		}
	}
	return "", fmt.Errorf("image description failed after %d attempts: %w", ImageDescriptionAttempts, lastErr)
}

// Synthesize converts text to MP3 speech.
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if c.speech == nil {
		return nil, ErrNotConfigured
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}
	audio, err := c.speech.Create(ctx, openai.AudioSpeechNewParams{
		Input:          text,
		Model:          openai.SpeechModelTTS1,
		Voice:          openai.AudioSpeechNewParamsVoice("nova"),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatMP3,
	})
	if err != nil {
		slog.Error("GenAI.Synthesize: speech generation failed", "error", err)
		return nil, fmt.Errorf("speech generation failed: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("speech generation returned no audio")
	}
	return audio, nil
}

// Transcribe converts audio bytes into pt-BR text. ext names the container
// format ("ogg", "mp3") so the upload carries a usable filename.
func (c *Client) Transcribe(ctx context.Context, audio []byte, ext string) (string, error) {
	if c.transcription == nil {
		return "", ErrNotConfigured
	}
	if len(audio) == 0 {
		return "", ErrEmptyInput
	}
	if ext == "" {
		ext = "ogg"
	}
	f, err := os.CreateTemp("", "salespipe-audio-*."+ext)
	if err != nil {
		return "", fmt.Errorf("failed to create temp audio file: %w", err)
	}
	defer os.Remove(f.Name())
	defer f.Close()
	if _, err := f.Write(audio); err != nil {
		return "", fmt.Errorf("failed to write temp audio file: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("failed to rewind temp audio file: %w", err)
	}

	text, err := c.transcription.Create(ctx, openai.AudioTranscriptionNewParams{
		File:     f,
		Model:    openai.AudioModelWhisper1,
		Language: openai.String(TranscriptionLanguage),
	})
	if err != nil {
		slog.Error("GenAI.Transcribe: transcription failed", "error", err)
		return "", fmt.Errorf("transcription failed: %w", err)
	}
	return strings.TrimSpace(text), nil
}

func (c *Client) sleepFor(ctx context.Context, d time.Duration) error {
	if c.sleep == nil {
		return sleepContext(ctx, d)
	}
	return c.sleep(ctx, d)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// imageDataURL validates the base64 payload and renders it as a data URL.
func imageDataURL(imageBase64, mimeType string) (string, error) {
	data := strings.TrimSpace(imageBase64)
	if strings.HasPrefix(data, "data:") {
		idx := strings.Index(data, ";base64,")
		if idx < 0 {
			return "", ErrInvalidImage
		}
		if mimeType == "" {
			mimeType = data[len("data:"):idx]
		}
		data = data[idx+len(";base64,"):]
	}
	if data == "" {
		return "", ErrInvalidImage
	}
	if _, err := base64.StdEncoding.DecodeString(data); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	return "data:" + mimeType + ";base64," + data, nil
}

// openAIChat adapts the SDK chat completion service.
type openAIChat struct {
	svc *openai.ChatCompletionService
}

func (s openAIChat) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := s.svc.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// openAISpeech adapts the SDK speech service and drains the response body.
type openAISpeech struct {
	svc *openai.AudioSpeechService
}

func (s openAISpeech) Create(ctx context.Context, params openai.AudioSpeechNewParams) ([]byte, error) {
	resp, err := s.svc.New(ctx, params)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("speech endpoint returned status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// openAITranscription adapts the SDK transcription service.
type openAITranscription struct {
	svc *openai.AudioTranscriptionService
}

func (s openAITranscription) Create(ctx context.Context, params openai.AudioTranscriptionNewParams) (string, error) {
	resp, err := s.svc.New(ctx, params)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}
