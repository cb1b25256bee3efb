// Package flow wires the stages that turn one inbound webhook event into
// exactly one customer-visible reply.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/SalesPipe/internal/agents"
	"github.com/BTreeMap/SalesPipe/internal/inbound"
	"github.com/BTreeMap/SalesPipe/internal/leadinfo"
	"github.com/BTreeMap/SalesPipe/internal/metrics"
	"github.com/BTreeMap/SalesPipe/internal/models"
	"github.com/BTreeMap/SalesPipe/internal/reply"
	"github.com/BTreeMap/SalesPipe/internal/store"
	"github.com/BTreeMap/SalesPipe/internal/threads"
)

// DefaultBackgroundTimeout bounds each background task.
const DefaultBackgroundTimeout = 60 * time.Second

// Webhook result messages.
const (
	MsgMissingJID    = "No phone number or user_id found"
	MsgInvalidJSON   = "Invalid JSON payload"
	MsgDuplicate     = "Duplicate message ignored"
	MsgResponded     = "Processed and responded"
	MsgSendFailed    = "Failed to send response"
	msgProcessingErr = "Error processing webhook: %v"
)

// Deps are the collaborators of a SalesFlow. Dedup, Cache, Extractor and
// Metrics are optional.
type Deps struct {
	Leads      store.LeadRepo
	Threads    store.ThreadRepo
	Dedup      store.DedupRepo
	Cache      threads.Cache
	Classifier *inbound.Classifier
	Router     *agents.Router
	Sequencer  *reply.Sequencer
	Extractor  *leadinfo.Extractor
	Metrics    *metrics.Metrics
}

// Config holds the pipeline settings.
type Config struct {
	HistoryLimit int
	// WaitForLeadExtraction joins the background extraction before the marker pass.
	WaitForLeadExtraction bool
	MarkerPrecedence      leadinfo.Precedence
	BackgroundTimeout     time.Duration
	Dedup                 bool
}

// Option configures a SalesFlow.
type Option func(*Config)

// WithHistoryLimit sets how many turns are rendered into the prompt.
func WithHistoryLimit(n int) Option {
	return func(c *Config) { c.HistoryLimit = n }
}

// WithLeadExtractionSync makes HandleEvent wait for lead extraction.
func WithLeadExtractionSync(wait bool) Option {
	return func(c *Config) { c.WaitForLeadExtraction = wait }
}

// WithMarkerPrecedence selects how marker fields combine with the stored lead.
func WithMarkerPrecedence(p leadinfo.Precedence) Option {
	return func(c *Config) { c.MarkerPrecedence = p }
}

// WithBackgroundTimeout bounds background tasks.
func WithBackgroundTimeout(d time.Duration) Option {
	return func(c *Config) { c.BackgroundTimeout = d }
}

// WithDedup enables inbound deduplication by message id.
func WithDedup(enabled bool) Option {
	return func(c *Config) { c.Dedup = enabled }
}

// Result is the webhook answer for one event.
type Result struct {
	Status  models.APIStatus
	Message string
}

// Response converts the result into the API envelope.
func (r Result) Response() models.APIResponse {
	return models.NewAPIResponseBuilder().WithStatus(r.Status).WithMessage(r.Message).Build()
}

func success(msg string) Result { return Result{Status: models.APIStatusSuccess, Message: msg} }
func failure(msg string) Result { return Result{Status: models.APIStatusError, Message: msg} }

// SalesFlow runs the webhook pipeline: thread lookup, history, classification,
// lead extraction, agent routing, delivery and the marker pass.
type SalesFlow struct {
	deps     Deps
	cfg      Config
	registry *threads.Registry
	wg       sync.WaitGroup
}

// NewSalesFlow creates a SalesFlow. Background work started by the thread
// registry is tracked together with lead extraction.
func NewSalesFlow(deps Deps, opts ...Option) *SalesFlow {
	cfg := Config{
		HistoryLimit:      threads.DefaultHistoryLimit,
		MarkerPrecedence:  leadinfo.PrecedenceOverride,
		BackgroundTimeout: DefaultBackgroundTimeout,
		Dedup:             true,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BackgroundTimeout <= 0 {
		cfg.BackgroundTimeout = DefaultBackgroundTimeout
	}
	f := &SalesFlow{deps: deps, cfg: cfg}
	regOpts := []threads.Option{threads.WithSpawner(f.spawn), threads.WithUpdateTimeout(cfg.BackgroundTimeout)}
	if deps.Cache != nil {
		regOpts = append(regOpts, threads.WithCache(deps.Cache))
	}
	f.registry = threads.NewRegistry(deps.Leads, deps.Threads, regOpts...)
	return f
}

// Registry exposes the thread registry.
func (f *SalesFlow) Registry() *threads.Registry { return f.registry }

// spawn runs fn in a tracked goroutine with a panic boundary.
func (f *SalesFlow) spawn(fn func()) {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("SalesFlow.spawn: background task panicked", "panic", r)
			}
		}()
		fn()
	}()
}

// Wait blocks until every background task has finished.
func (f *SalesFlow) Wait() {
	f.wg.Wait()
}

// background detaches ctx from request cancellation and bounds it.
func (f *SalesFlow) background(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), f.cfg.BackgroundTimeout)
}

// HandleEvent processes one webhook event. It never panics and never returns
// an error: every failure is reported in the Result.
func (f *SalesFlow) HandleEvent(ctx context.Context, event *models.WebhookEvent) (res Result) {
	start := time.Now()
	modality := event.Modality()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("SalesFlow.HandleEvent: panic recovered", "remoteJID", event.RemoteJID(), "panic", r)
			res = failure(fmt.Sprintf(msgProcessingErr, r))
		}
		f.deps.Metrics.ObserveWebhook(string(modality), string(res.Status))
		f.deps.Metrics.ObserveLatency(string(modality), time.Since(start).Seconds())
	}()

	remoteJID := event.RemoteJID()
	if remoteJID == "" {
		slog.Warn("SalesFlow.HandleEvent: no remote jid in payload")
		return failure(MsgMissingJID)
	}
	messageID := event.MessageID()
	slog.Info("SalesFlow.HandleEvent: event received", "remoteJID", remoteJID, "messageID", messageID, "modality", modality)

	if f.isDuplicate(ctx, remoteJID, messageID) {
		return success(MsgDuplicate)
	}

	threadID, err := f.registry.GetOrCreate(ctx, remoteJID, event.Data.PushName)
	if err != nil {
		slog.Error("SalesFlow.HandleEvent: thread lookup failed", "remoteJID", remoteJID, "error", err)
		return failure(fmt.Sprintf(msgProcessingErr, err))
	}
	history := threads.RenderHistory(ctx, f.deps.Threads, threadID, f.cfg.HistoryLimit)
	slog.Debug("SalesFlow.HandleEvent: history loaded", "remoteJID", remoteJID, "threadID", threadID, "history", history)

	cls, err := f.deps.Classifier.Classify(ctx, event, history)
	if err != nil {
		slog.Warn("SalesFlow.HandleEvent: classification failed", "remoteJID", remoteJID, "error", err)
	}

	var (
		r         models.Reply
		extracted <-chan struct{}
		diagnosis string
	)
	if cls.Terminal != nil {
		r = *cls.Terminal
		diagnosis = cls.Terminal.Text
	} else {
		extracted = f.extractLead(ctx, remoteJID, cls.Text)
		r = f.deps.Router.Route(ctx, agents.Request{
			RemoteJID: remoteJID,
			ThreadID:  threadID,
			Modality:  cls.Modality,
			Text:      cls.Text,
			History:   history,
		})
	}

	outcome := f.deps.Sequencer.Deliver(ctx, r, reply.Target{
		RemoteJID:   remoteJID,
		MessageID:   messageID,
		QuotedText:  quotedText(cls),
		ThreadID:    threadID,
		PreferAudio: cls.PreferAudio && cls.Terminal == nil,
		Message:     cls.Text,
	})

	if extracted != nil && f.cfg.WaitForLeadExtraction {
		<-extracted
	}
	f.applyMarkers(ctx, remoteJID, cls.Text)

	if f.cfg.Dedup && f.deps.Dedup != nil && messageID != "" {
		if err := f.deps.Dedup.MarkProcessed(ctx, messageID); err != nil {
			slog.Warn("SalesFlow.HandleEvent: mark processed failed", "messageID", messageID, "error", err)
		}
	}

	if !outcome.Delivered {
		slog.Error("SalesFlow.HandleEvent: reply not delivered", "remoteJID", remoteJID, "state", outcome.State, "sends", outcome.Sends)
		if diagnosis != "" {
			return failure(MsgSendFailed + ": " + diagnosis)
		}
		return failure(MsgSendFailed)
	}
	slog.Info("SalesFlow.HandleEvent: reply delivered", "remoteJID", remoteJID, "threadID", threadID, "sends", outcome.Sends, "recovered", outcome.Recovered)
	if diagnosis != "" {
		return success(diagnosis)
	}
	return success(MsgResponded)
}

// isDuplicate records the message id and reports whether it was seen before.
// Store errors let the event through.
func (f *SalesFlow) isDuplicate(ctx context.Context, remoteJID, messageID string) bool {
	if !f.cfg.Dedup || f.deps.Dedup == nil || messageID == "" {
		return false
	}
	fresh, err := f.deps.Dedup.RecordInbound(ctx, messageID, remoteJID)
	if err != nil {
		slog.Warn("SalesFlow.isDuplicate: dedup check failed, processing anyway", "messageID", messageID, "error", err)
		return false
	}
	if !fresh {
		slog.Info("SalesFlow.isDuplicate: duplicate message ignored", "remoteJID", remoteJID, "messageID", messageID)
		return true
	}
	return false
}

// quotedText is the inbound text quoted by media replies. Transcripts are
// never quoted.
func quotedText(cls inbound.Classification) string {
	if cls.Modality == models.ModalityAudio {
		return ""
	}
	return cls.Text
}

// extractLead starts the first extraction pass in the background. The
// returned channel is closed when the pass has finished.
func (f *SalesFlow) extractLead(ctx context.Context, remoteJID, message string) <-chan struct{} {
	done := make(chan struct{})
	if f.deps.Extractor == nil || message == "" {
		close(done)
		return done
	}
	f.spawn(func() {
		defer close(done)
		bctx, cancel := f.background(ctx)
		defer cancel()

		lead, err := f.deps.Extractor.Extract(bctx, remoteJID, message)
		if err != nil {
			slog.Error("SalesFlow.extractLead: extraction failed", "remoteJID", remoteJID, "error", err)
			return
		}
		f.upsert(bctx, remoteJID, lead, "extraction")
	})
	return done
}

// applyMarkers writes the explicit cidade:/estado:/email: markers of message,
// honouring the configured precedence against the stored lead.
func (f *SalesFlow) applyMarkers(ctx context.Context, remoteJID, message string) {
	if message == "" {
		return
	}
	markers := leadinfo.ExtractMarkers(message)
	if len(markers) == 0 {
		return
	}
	if f.cfg.MarkerPrecedence == leadinfo.PrecedenceFill {
		stored, err := f.deps.Leads.GetLead(ctx, remoteJID)
		if err != nil {
			slog.Warn("SalesFlow.applyMarkers: lead read failed, writing all markers", "remoteJID", remoteJID, "error", err)
		}
		markers = leadinfo.ApplyPrecedence(stored, markers, leadinfo.PrecedenceFill)
		if len(markers) == 0 {
			return
		}
	}
	f.upsert(ctx, remoteJID, markers, "markers")
}

func (f *SalesFlow) upsert(ctx context.Context, remoteJID string, lead models.Lead, pass string) {
	clean, dropped := lead.Sanitize()
	if len(dropped) > 0 {
		slog.Debug("SalesFlow.upsert: dropped lead fields", "remoteJID", remoteJID, "pass", pass, "dropped", dropped)
	}
	if len(clean) == 0 {
		return
	}
	if err := f.deps.Leads.UpsertLead(ctx, remoteJID, clean); err != nil {
		slog.Error("SalesFlow.upsert: lead upsert failed", "remoteJID", remoteJID, "pass", pass, "error", err)
		return
	}
	slog.Debug("SalesFlow.upsert: lead saved", "remoteJID", remoteJID, "pass", pass, "fields", clean.Fields())
}
