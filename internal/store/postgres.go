// Package store provides storage backends for SalesPipe.
//
// This file implements a PostgreSQL-backed store for leads, products and threads.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/SalesPipe/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	// Determine DSN (required)
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}
	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return newPostgresStoreWithDB(db), nil
}

// newPostgresStoreWithDB wraps an already opened and migrated database handle.
func newPostgresStoreWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

// GetLead retrieves the lead for remoteJID, or nil when absent.
func (s *PostgresStore) GetLead(ctx context.Context, remoteJID string) (models.Lead, error) {
	lead, err := scanLead(s.db.QueryRowContext(ctx, leadSelectQuery(dollarPlaceholder), remoteJID))
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug("PostgresStore GetLead not found", "remoteJID", remoteJID)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetLead failed", "error", err, "remoteJID", remoteJID)
		return nil, fmt.Errorf("failed to get lead %s: %w", remoteJID, err)
	}
	return lead, nil
}

// UpsertLead merges fields into the lead row keyed by remoteJID.
func (s *PostgresStore) UpsertLead(ctx context.Context, remoteJID string, fields models.Lead) error {
	lead, err := prepareLead(remoteJID, fields, s.now())
	if err != nil {
		return err
	}
	query, args := buildLeadUpsert(lead, dollarPlaceholder)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		slog.Error("PostgresStore UpsertLead failed", "error", err, "remoteJID", remoteJID)
		return fmt.Errorf("failed to upsert lead %s: %w", remoteJID, err)
	}
	slog.Debug("PostgresStore UpsertLead succeeded", "remoteJID", remoteJID, "fields", len(lead))
	return nil
}

// AddProduct inserts a catalogue entry.
func (s *PostgresStore) AddProduct(ctx context.Context, p models.Product) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO products (name, size, price, image_url, description) VALUES ($1, $2, $3, $4, $5)`,
		p.Name, p.Size.String(), p.Price.String(), p.ImageURL, p.Description)
	if err != nil {
		slog.Error("PostgresStore AddProduct failed", "error", err, "name", p.Name)
		return fmt.Errorf("failed to insert product %s: %w", p.Name, err)
	}
	return nil
}

// SearchProducts matches query against name and description with ILIKE.
func (s *PostgresStore) SearchProducts(ctx context.Context, query string) ([]models.Product, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE name ILIKE $1 ESCAPE '\' OR description ILIKE $1 ESCAPE '\' ORDER BY id`,
		likePattern(query))
	if err != nil {
		slog.Error("PostgresStore SearchProducts query failed", "error", err, "query", query)
		return nil, fmt.Errorf("failed to search products: %w", err)
	}
	defer rows.Close()
	products, err := scanProducts(rows)
	if err != nil {
		slog.Error("PostgresStore SearchProducts scan failed", "error", err)
		return nil, err
	}
	slog.Debug("PostgresStore SearchProducts succeeded", "query", query, "count", len(products))
	return products, nil
}

// FindProductByName returns the first product whose name contains name.
func (s *PostgresStore) FindProductByName(ctx context.Context, name string) (*models.Product, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE name ILIKE $1 ESCAPE '\' ORDER BY id LIMIT 1`,
		likePattern(name))
	if err != nil {
		slog.Error("PostgresStore FindProductByName query failed", "error", err, "name", name)
		return nil, fmt.Errorf("failed to find product: %w", err)
	}
	defer rows.Close()
	products, err := scanProducts(rows)
	if err != nil {
		return nil, err
	}
	if len(products) == 0 {
		return nil, nil
	}
	return &products[0], nil
}

// CreateThread allocates a new conversation handle.
func (s *PostgresStore) CreateThread(ctx context.Context) (string, error) {
	id := newThreadID()
	if _, err := s.db.ExecContext(ctx, `INSERT INTO threads (id, created_at) VALUES ($1, $2)`, id, s.now()); err != nil {
		slog.Error("PostgresStore CreateThread failed", "error", err)
		return "", fmt.Errorf("failed to create thread: %w", err)
	}
	slog.Debug("PostgresStore CreateThread succeeded", "threadID", id)
	return id, nil
}

// AppendMessage appends a turn to the thread.
func (s *PostgresStore) AppendMessage(ctx context.Context, threadID string, role models.Role, content string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO thread_messages (thread_id, role, content, created_at) VALUES ($1, $2, $3, $4)`,
		threadID, string(role), content, s.now())
	if err != nil {
		slog.Error("PostgresStore AppendMessage failed", "error", err, "threadID", threadID, "role", role)
		return fmt.Errorf("failed to append message to thread %s: %w", threadID, err)
	}
	return nil
}

// ListMessages returns up to limit turns of the thread, newest first.
func (s *PostgresStore) ListMessages(ctx context.Context, threadID string, limit int) ([]models.ThreadMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT thread_id, role, content, created_at FROM thread_messages WHERE thread_id = $1 ORDER BY id DESC LIMIT $2`,
		threadID, defaultLimit(limit))
	if err != nil {
		slog.Error("PostgresStore ListMessages query failed", "error", err, "threadID", threadID)
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()
	return scanThreadMessages(rows)
}

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing PostgreSQL database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close PostgreSQL database", "error", err)
	}
	return err
}

func scanThreadMessages(rows *sql.Rows) ([]models.ThreadMessage, error) {
	var msgs []models.ThreadMessage
	for rows.Next() {
		var m models.ThreadMessage
		var role string
		if err := rows.Scan(&m.ThreadID, &role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan thread message: %w", err)
		}
		m.Role = models.Role(role)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate thread messages: %w", err)
	}
	return msgs, nil
}
