// Package inbound turns a webhook event into the canonical text the agents read.
package inbound

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/SalesPipe/internal/media"
	"github.com/BTreeMap/SalesPipe/internal/messaging"
	"github.com/BTreeMap/SalesPipe/internal/models"
)

// AudioReplyPhrase in a text message asks for a spoken reply.
const AudioReplyPhrase = "responda em áudio"

// NoMessageText answers an event without text, audio or image.
const NoMessageText = "Nenhuma mensagem válida encontrada. Como posso ajudar?"

// ResizeFailureText answers an image that could not be thumbnailed.
const ResizeFailureText = "Falha ao redimensionar imagem. Por favor, envie outra imagem ou descreva o produto."

// Transcriber converts audio to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, ext string) (string, error)
}

// ImageDescriber describes a base64 image in natural language.
type ImageDescriber interface {
	DescribeImage(ctx context.Context, imageBase64, mimeType string) (string, error)
}

// Classification is the result of classifying one event. When Terminal is set
// the pipeline replies with it directly and no agent runs.
type Classification struct {
	Modality    models.Modality
	Text        string
	PreferAudio bool
	Terminal    *models.TextReply
}

// Classifier resolves the modality of an event and produces its canonical text.
type Classifier struct {
	gateway       messaging.Gateway
	transcriber   Transcriber
	describer     ImageDescriber
	thumbnailSize int
}

func NewClassifier(gateway messaging.Gateway, transcriber Transcriber, describer ImageDescriber, thumbnailSize int) *Classifier {
	if thumbnailSize <= 0 {
		thumbnailSize = media.DefaultThumbnailSize
	}
	return &Classifier{gateway: gateway, transcriber: transcriber, describer: describer, thumbnailSize: thumbnailSize}
}

func terminal(modality models.Modality, format string, args ...interface{}) Classification {
	return Classification{Modality: modality, Terminal: &models.TextReply{Text: fmt.Sprintf(format, args...)}}
}

// Classify inspects event in the order text, audio, image. history is embedded
// into the canonical text of image messages. An event with none of the three
// returns models.ErrInvalidPayload together with a terminal reply.
func (c *Classifier) Classify(ctx context.Context, event *models.WebhookEvent, history string) (Classification, error) {
	remoteJID := event.RemoteJID()
	switch event.Modality() {
	case models.ModalityText:
		text := event.Conversation()
		return Classification{
			Modality:    models.ModalityText,
			Text:        text,
			PreferAudio: strings.Contains(strings.ToLower(text), AudioReplyPhrase),
		}, nil
	case models.ModalityAudio:
		return c.classifyAudio(ctx, remoteJID, event.MessageID()), nil
	case models.ModalityImage:
		return c.classifyImage(ctx, remoteJID, event.MessageID(), history), nil
	default:
		slog.Warn("Classifier.Classify: no text, audio or image in payload", "remoteJID", remoteJID)
		return Classification{Modality: models.ModalityNone, Terminal: &models.TextReply{Text: NoMessageText}}, models.ErrInvalidPayload
	}
}

func (c *Classifier) classifyAudio(ctx context.Context, remoteJID, messageID string) Classification {
	m, err := c.gateway.FetchMedia(ctx, messageID, messaging.MediaAudio)
	if err != nil {
		slog.Error("Classifier.classifyAudio: fetch failed", "remoteJID", remoteJID, "messageID", messageID, "error", err)
		return terminal(models.ModalityAudio, "Falha ao processar áudio: %v", err)
	}
	if c.transcriber == nil {
		return terminal(models.ModalityAudio, "Falha ao processar áudio: %s", "transcrição indisponível")
	}
	text, err := c.transcriber.Transcribe(ctx, m.Data, m.Format.Ext())
	if err != nil {
		slog.Error("Classifier.classifyAudio: transcription failed", "remoteJID", remoteJID, "error", err)
		return terminal(models.ModalityAudio, "Falha ao processar áudio: %v", err)
	}
	if strings.TrimSpace(text) == "" {
		return Classification{Modality: models.ModalityAudio, Terminal: &models.TextReply{Text: NoMessageText}}
	}
	slog.Info("Classifier.classifyAudio: audio transcribed", "remoteJID", remoteJID, "chars", len(text))
	return Classification{Modality: models.ModalityAudio, Text: text, PreferAudio: true}
}

func (c *Classifier) classifyImage(ctx context.Context, remoteJID, messageID, history string) Classification {
	m, err := c.gateway.FetchMedia(ctx, messageID, messaging.MediaImage)
	if err != nil {
		slog.Error("Classifier.classifyImage: fetch failed", "remoteJID", remoteJID, "messageID", messageID, "error", err)
		return terminal(models.ModalityImage, "Falha ao buscar imagem completa: %v", err)
	}
	thumb, err := media.Thumbnail(m.Data, c.thumbnailSize)
	if err != nil {
		slog.Error("Classifier.classifyImage: thumbnail failed", "remoteJID", remoteJID, "error", err)
		return Classification{Modality: models.ModalityImage, Terminal: &models.TextReply{Text: ResizeFailureText}}
	}
	if c.describer == nil {
		return terminal(models.ModalityImage, "Falha ao analisar imagem: %s", "análise indisponível")
	}
	desc, err := c.describer.DescribeImage(ctx, base64.StdEncoding.EncodeToString(thumb), media.FormatJPEG.MimeType())
	if err != nil {
		slog.Error("Classifier.classifyImage: describe failed", "remoteJID", remoteJID, "error", err)
		return terminal(models.ModalityImage, "Falha ao analisar imagem: %v", err)
	}
	slog.Info("Classifier.classifyImage: image described", "remoteJID", remoteJID, "description", desc)
	return Classification{
		Modality: models.ModalityImage,
		Text:     fmt.Sprintf("Imagem recebida: %s\n\nHistórico da conversa:\n%s", desc, history),
	}
}
