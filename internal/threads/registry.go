// Package threads maps WhatsApp customers to conversation threads and renders
// their history for the agents.
package threads

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/SalesPipe/internal/models"
	"github.com/BTreeMap/SalesPipe/internal/store"
)

// DefaultUpdateTimeout bounds a background display-name update.
const DefaultUpdateTimeout = 60 * time.Second

// Registry resolves the conversation handle of a customer. Lookups go to the
// cache first, then the lead record, and create a new thread otherwise.
//
// A handle is cached only once the lead carrying it was written. Until then it
// is held in pending and the write is retried on the next lookup.
type Registry struct {
	cache   Cache
	leads   store.LeadRepo
	threads store.ThreadRepo
	now     func() time.Time
	// spawn runs background writes. It defaults to a bare goroutine.
	spawn         func(func())
	updateTimeout time.Duration

	mu      sync.Mutex
	pending map[string]models.Lead
}

// Option configures a Registry.
type Option func(*Registry)

// WithCache replaces the default MemoryCache.
func WithCache(c Cache) Option {
	return func(r *Registry) { r.cache = c }
}

// WithSpawner routes background lead updates through spawn, letting the caller track them.
func WithSpawner(spawn func(func())) Option {
	return func(r *Registry) { r.spawn = spawn }
}

// WithUpdateTimeout bounds background lead updates.
func WithUpdateTimeout(d time.Duration) Option {
	return func(r *Registry) { r.updateTimeout = d }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func NewRegistry(leads store.LeadRepo, threads store.ThreadRepo, opts ...Option) *Registry {
	r := &Registry{
		cache:   NewMemoryCache(),
		leads:   leads,
		threads: threads,
		now:     time.Now,
		spawn:   func(fn func()) { go fn() },
		pending: make(map[string]models.Lead),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.updateTimeout <= 0 {
		r.updateTimeout = DefaultUpdateTimeout
	}
	return r
}

// GetOrCreate returns the thread handle for remoteJID, creating the thread and
// the lead record on first contact. It performs at most one lead read and one
// lead write. A failed lead read is treated as "no lead".
func (r *Registry) GetOrCreate(ctx context.Context, remoteJID, displayName string) (string, error) {
	if remoteJID == "" {
		return "", models.ErrEmptyRemoteJID
	}
	if id, ok := r.cache.Get(ctx, remoteJID); ok {
		slog.Debug("Registry.GetOrCreate: reusing cached thread", "remoteJID", remoteJID, "threadID", id)
		return id, nil
	}
	if id, ok := r.retryPending(ctx, remoteJID); ok {
		return id, nil
	}

	lead, err := r.leads.GetLead(ctx, remoteJID)
	if err != nil {
		slog.Error("Registry.GetOrCreate: lead lookup failed, creating new thread", "remoteJID", remoteJID, "error", err)
		lead = nil
	}
	if id := lead.ThreadID(); id != "" {
		r.cache.Set(ctx, remoteJID, id)
		slog.Debug("Registry.GetOrCreate: reusing stored thread", "remoteJID", remoteJID, "threadID", id)
		if needsNameUpdate(lead, displayName) {
			update := r.identity(remoteJID, displayName, id)
			bg := context.WithoutCancel(ctx)
			r.spawn(func() {
				bctx, cancel := context.WithTimeout(bg, r.updateTimeout)
				defer cancel()
				if err := r.leads.UpsertLead(bctx, remoteJID, update); err != nil {
					slog.Error("Registry.GetOrCreate: display name update failed", "remoteJID", remoteJID, "error", err)
				}
			})
		}
		return id, nil
	}

	id, err := r.threads.CreateThread(ctx)
	if err != nil {
		return "", fmt.Errorf("create thread for %s: %w", remoteJID, err)
	}
	slog.Info("Registry.GetOrCreate: created thread", "remoteJID", remoteJID, "threadID", id)

	fresh := r.identity(remoteJID, displayName, id)
	fresh[models.LeadCreatedAt] = models.Timestamp(r.now())
	if err := r.leads.UpsertLead(ctx, remoteJID, fresh); err != nil {
		slog.Error("Registry.GetOrCreate: lead creation failed, will retry", "remoteJID", remoteJID, "threadID", id, "error", err)
		r.mu.Lock()
		r.pending[remoteJID] = fresh
		r.mu.Unlock()
		return id, nil
	}
	r.cache.Set(ctx, remoteJID, id)
	return id, nil
}

// retryPending reuses a handle whose lead write failed earlier and tries the
// write again. The handle is cached once the write succeeds.
func (r *Registry) retryPending(ctx context.Context, remoteJID string) (string, bool) {
	r.mu.Lock()
	lead, ok := r.pending[remoteJID]
	r.mu.Unlock()
	if !ok {
		return "", false
	}
	id := lead.ThreadID()
	if err := r.leads.UpsertLead(ctx, remoteJID, lead); err != nil {
		slog.Error("Registry.GetOrCreate: lead write still failing", "remoteJID", remoteJID, "threadID", id, "error", err)
		return id, true
	}
	r.mu.Lock()
	delete(r.pending, remoteJID)
	r.mu.Unlock()
	r.cache.Set(ctx, remoteJID, id)
	slog.Info("Registry.GetOrCreate: persisted pending thread", "remoteJID", remoteJID, "threadID", id)
	return id, true
}

func (r *Registry) identity(remoteJID, displayName, threadID string) models.Lead {
	lead := models.Lead{
		models.LeadRemoteJID: remoteJID,
		models.LeadPhone:     models.PhoneFromJID(remoteJID),
		models.LeadThreadID:  threadID,
	}
	if displayName != "" {
		lead[models.LeadCustomerName] = displayName
		lead[models.LeadPushName] = displayName
	}
	return lead
}

func needsNameUpdate(lead models.Lead, displayName string) bool {
	if displayName == "" {
		return false
	}
	return lead.Get(models.LeadCustomerName) != displayName || lead.Get(models.LeadPushName) != displayName
}
