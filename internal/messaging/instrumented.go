package messaging

import (
	"context"
	"log/slog"
)

// SendObserver receives one observation per outbound send.
type SendObserver interface {
	ObserveOutbound(kind, status string)
}

// InstrumentedGateway decorates a Gateway with send logging and metrics.
type InstrumentedGateway struct {
	next     Gateway
	observer SendObserver
}

// Compile-time check that InstrumentedGateway implements Gateway.
var _ Gateway = (*InstrumentedGateway)(nil)

// NewInstrumentedGateway wraps next. A nil observer only logs.
func NewInstrumentedGateway(next Gateway, observer SendObserver) *InstrumentedGateway {
	return &InstrumentedGateway{next: next, observer: observer}
}

func (g *InstrumentedGateway) SendText(ctx context.Context, to, text string) error {
	err := g.next.SendText(ctx, to, text)
	g.observe("text", to, err)
	return err
}

func (g *InstrumentedGateway) SendAudio(ctx context.Context, msg AudioMessage) error {
	err := g.next.SendAudio(ctx, msg)
	g.observe("audio", msg.To, err)
	return err
}

func (g *InstrumentedGateway) SendImage(ctx context.Context, msg ImageMessage) error {
	err := g.next.SendImage(ctx, msg)
	g.observe("image", msg.To, err)
	return err
}

func (g *InstrumentedGateway) FetchMedia(ctx context.Context, messageID string, kind MediaKind) (*Media, error) {
	m, err := g.next.FetchMedia(ctx, messageID, kind)
	if err != nil {
		slog.Warn("InstrumentedGateway.FetchMedia: fetch failed", "messageID", messageID, "kind", kind, "error", err)
	}
	return m, err
}

func (g *InstrumentedGateway) observe(kind, to string, err error) {
	status := "sent"
	if err != nil {
		status = "failed"
		slog.Error("InstrumentedGateway: send failed", "kind", kind, "to", to, "error", err)
	} else {
		slog.Debug("InstrumentedGateway: send succeeded", "kind", kind, "to", to)
	}
	if g.observer != nil {
		g.observer.ObserveOutbound(kind, status)
	}
}
