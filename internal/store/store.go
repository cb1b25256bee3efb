// Package store provides storage backends for SalesPipe.
//
// It defines the lead, product, conversation-thread and inbound dedup
// repositories, with PostgreSQL, SQLite and in-memory implementations.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/SalesPipe/internal/models"
	"github.com/google/uuid"
)

// ThreadIDPrefix prefixes every conversation handle.
const ThreadIDPrefix = "thread_"

// LeadRepo reads and merges lead records keyed by remote jid.
type LeadRepo interface {
	// GetLead returns the stored lead, or nil when none exists.
	GetLead(ctx context.Context, remoteJID string) (models.Lead, error)
	// UpsertLead merges the recognized fields into the lead identified by remoteJID.
	// Only provided fields are overwritten and data_ultima_alteracao is set to now.
	UpsertLead(ctx context.Context, remoteJID string, fields models.Lead) error
}

// ProductRepo is the read side of the product catalogue.
type ProductRepo interface {
	// SearchProducts returns products whose name or description contains query, case-insensitively.
	SearchProducts(ctx context.Context, query string) ([]models.Product, error)
	// FindProductByName returns the first product whose name contains name, or nil.
	FindProductByName(ctx context.Context, name string) (*models.Product, error)
}

// CatalogWriter seeds the product catalogue.
type CatalogWriter interface {
	AddProduct(ctx context.Context, p models.Product) error
}

// ThreadRepo stores conversation threads and their append-only turns.
type ThreadRepo interface {
	CreateThread(ctx context.Context) (string, error)
	AppendMessage(ctx context.Context, threadID string, role models.Role, content string) error
	// ListMessages returns up to limit turns, newest first.
	ListMessages(ctx context.Context, threadID string, limit int) ([]models.ThreadMessage, error)
}

// Store is the full persistence surface used by the service.
type Store interface {
	LeadRepo
	ProductRepo
	CatalogWriter
	ThreadRepo
	DedupRepo
	Close() error
}

// Opts holds configuration options for SQL stores.
type Opts struct {
	DSN string
}

// Option defines a configuration option for SQL stores.
type Option func(*Opts)

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType returns "postgres" for PostgreSQL connection strings and
// "sqlite3" for everything else.
func DetectDSNType(dsn string) string {
	d := strings.TrimSpace(dsn)
	if strings.HasPrefix(d, "postgres://") || strings.HasPrefix(d, "postgresql://") || strings.Contains(d, "host=") {
		return "postgres"
	}
	return "sqlite3"
}

// Open creates the store matching dsn. An empty dsn yields an in-memory store.
func Open(dsn string) (Store, error) {
	if dsn == "" {
		slog.Info("Store.Open: no DSN configured, using in-memory store")
		return NewInMemoryStore(), nil
	}
	switch DetectDSNType(dsn) {
	case "postgres":
		return NewPostgresStore(WithPostgresDSN(dsn))
	default:
		return NewSQLiteStore(WithSQLiteDSN(dsn))
	}
}

func newThreadID() string {
	return ThreadIDPrefix + uuid.NewString()
}

// prepareLead sanitizes fields and stamps the key and modification time.
func prepareLead(remoteJID string, fields models.Lead, now time.Time) (models.Lead, error) {
	if remoteJID == "" {
		return nil, models.ErrEmptyRemoteJID
	}
	lead, dropped := fields.Sanitize()
	if len(dropped) > 0 {
		slog.Warn("Store.prepareLead: filtered unrecognized lead fields", "remoteJID", remoteJID, "dropped", dropped)
	}
	lead[models.LeadRemoteJID] = remoteJID
	lead[models.LeadUpdatedAt] = models.Timestamp(now)
	return lead, nil
}

// InMemoryStore is a mutex-guarded store for tests and credential-less runs.
type InMemoryStore struct {
	mu       sync.RWMutex
	leads    map[string]models.Lead
	products []models.Product
	threads  map[string][]models.ThreadMessage
	inbound  map[string]*inboundRecord
	now      func() time.Time
}

// Compile-time check that InMemoryStore implements Store.
var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		leads:   make(map[string]models.Lead),
		threads: make(map[string][]models.ThreadMessage),
		inbound: make(map[string]*inboundRecord),
		now:     time.Now,
	}
}

func (s *InMemoryStore) GetLead(ctx context.Context, remoteJID string) (models.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.leads[remoteJID]
	if !ok {
		return nil, nil
	}
	out := make(models.Lead, len(stored))
	out.Merge(stored)
	return out, nil
}

func (s *InMemoryStore) UpsertLead(ctx context.Context, remoteJID string, fields models.Lead) error {
	lead, err := prepareLead(remoteJID, fields, s.now())
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.leads[remoteJID]
	if !ok {
		existing = make(models.Lead, len(lead))
		s.leads[remoteJID] = existing
	}
	existing.Merge(lead)
	return nil
}

func (s *InMemoryStore) AddProduct(ctx context.Context, p models.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products = append(s.products, p)
	return nil
}

func (s *InMemoryStore) SearchProducts(ctx context.Context, query string) ([]models.Product, error) {
	q := strings.ToLower(query)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Product
	for _, p := range s.products {
		if strings.Contains(strings.ToLower(p.Name), q) || strings.Contains(strings.ToLower(p.Description), q) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *InMemoryStore) FindProductByName(ctx context.Context, name string) (*models.Product, error) {
	n := strings.ToLower(name)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.products {
		if strings.Contains(strings.ToLower(p.Name), n) {
			found := p
			return &found, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) CreateThread(ctx context.Context) (string, error) {
	id := newThreadID()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads[id] = nil
	return id, nil
}

func (s *InMemoryStore) AppendMessage(ctx context.Context, threadID string, role models.Role, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs, ok := s.threads[threadID]
	if !ok {
		return fmt.Errorf("thread %s not found", threadID)
	}
	s.threads[threadID] = append(msgs, models.ThreadMessage{
		ThreadID:  threadID,
		Role:      role,
		Content:   content,
		CreatedAt: s.now(),
	})
	return nil
}

func (s *InMemoryStore) ListMessages(ctx context.Context, threadID string, limit int) ([]models.ThreadMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs, ok := s.threads[threadID]
	if !ok {
		return nil, fmt.Errorf("thread %s not found", threadID)
	}
	out := make([]models.ThreadMessage, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		out = append(out, msgs[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// LeadCount returns the number of stored leads (for tests).
func (s *InMemoryStore) LeadCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.leads)
}

// ThreadIDs returns the known thread handles in sorted order (for tests).
func (s *InMemoryStore) ThreadIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.threads))
	for id := range s.threads {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *InMemoryStore) Close() error { return nil }
