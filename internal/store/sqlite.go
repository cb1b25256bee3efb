// Package store provides storage backends for SalesPipe.
//
// This file implements an SQLite-backed store for leads, products and threads.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/BTreeMap/SalesPipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	// Determine DSN (required)
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// A single connection serializes writers and keeps the merge upsert atomic.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure tables exist
	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) GetLead(ctx context.Context, remoteJID string) (models.Lead, error) {
	lead, err := scanLead(s.db.QueryRowContext(ctx, leadSelectQuery(questionPlaceholder), remoteJID))
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug("SQLiteStore GetLead not found", "remoteJID", remoteJID)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetLead failed", "error", err, "remoteJID", remoteJID)
		return nil, fmt.Errorf("failed to get lead %s: %w", remoteJID, err)
	}
	return lead, nil
}

func (s *SQLiteStore) UpsertLead(ctx context.Context, remoteJID string, fields models.Lead) error {
	lead, err := prepareLead(remoteJID, fields, s.now())
	if err != nil {
		return err
	}
	query, args := buildLeadUpsert(lead, questionPlaceholder)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		slog.Error("SQLiteStore UpsertLead failed", "error", err, "remoteJID", remoteJID)
		return fmt.Errorf("failed to upsert lead %s: %w", remoteJID, err)
	}
	slog.Debug("SQLiteStore UpsertLead succeeded", "remoteJID", remoteJID, "fields", len(lead))
	return nil
}

func (s *SQLiteStore) AddProduct(ctx context.Context, p models.Product) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO products (name, size, price, image_url, description) VALUES (?, ?, ?, ?, ?)`,
		p.Name, p.Size.String(), p.Price.String(), p.ImageURL, p.Description)
	if err != nil {
		slog.Error("SQLiteStore AddProduct failed", "error", err, "name", p.Name)
		return fmt.Errorf("failed to insert product %s: %w", p.Name, err)
	}
	return nil
}

// SearchProducts lowercases both sides since SQLite's LIKE folds ASCII only.
func (s *SQLiteStore) SearchProducts(ctx context.Context, query string) ([]models.Product, error) {
	pattern := likePattern(query)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+productColumns+` FROM products
		 WHERE LOWER(name) LIKE LOWER(?) ESCAPE '\' OR LOWER(description) LIKE LOWER(?) ESCAPE '\'
		 ORDER BY id`,
		pattern, pattern)
	if err != nil {
		slog.Error("SQLiteStore SearchProducts query failed", "error", err, "query", query)
		return nil, fmt.Errorf("failed to search products: %w", err)
	}
	defer rows.Close()
	products, err := scanProducts(rows)
	if err != nil {
		slog.Error("SQLiteStore SearchProducts scan failed", "error", err)
		return nil, err
	}
	slog.Debug("SQLiteStore SearchProducts succeeded", "query", query, "count", len(products))
	return products, nil
}

func (s *SQLiteStore) FindProductByName(ctx context.Context, name string) (*models.Product, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE LOWER(name) LIKE LOWER(?) ESCAPE '\' ORDER BY id LIMIT 1`,
		likePattern(name))
	if err != nil {
		slog.Error("SQLiteStore FindProductByName query failed", "error", err, "name", name)
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

func (s *SQLiteStore) CreateThread(ctx context.Context) (string, error) {
	id := newThreadID()
	if _, err := s.db.ExecContext(ctx, `INSERT INTO threads (id, created_at) VALUES (?, ?)`, id, s.now()); err != nil {
		slog.Error("SQLiteStore CreateThread failed", "error", err)
		return "", fmt.Errorf("failed to create thread: %w", err)
	}
	slog.Debug("SQLiteStore CreateThread succeeded", "threadID", id)
	return id, nil
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, threadID string, role models.Role, content string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO thread_messages (thread_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		threadID, string(role), content, s.now())
	if err != nil {
		slog.Error("SQLiteStore AppendMessage failed", "error", err, "threadID", threadID, "role", role)
		return fmt.Errorf("failed to append message to thread %s: %w", threadID, err)
	}
	return nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, threadID string, limit int) ([]models.ThreadMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT thread_id, role, content, created_at FROM thread_messages WHERE thread_id = ? ORDER BY id DESC LIMIT ?`,
		threadID, defaultLimit(limit))
	if err != nil {
		slog.Error("SQLiteStore ListMessages query failed", "error", err, "threadID", threadID)
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()
	return scanThreadMessages(rows)
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
