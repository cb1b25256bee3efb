package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DedupRepo claims inbound webhook message ids. Evolution may redeliver a
// webhook and the claim keeps the redelivery from producing a second reply.
type DedupRepo interface {
	// RecordInbound claims messageID for remoteJID. It reports false when the
	// id was already claimed.
	RecordInbound(ctx context.Context, messageID, remoteJID string) (bool, error)
	// MarkProcessed stamps processed_at once a reply was delivered.
	MarkProcessed(ctx context.Context, messageID string) error
}

// inboundRecord is one claimed message id.
type inboundRecord struct {
	remoteJID   string
	receivedAt  time.Time
	processedAt *time.Time
}

// ON CONFLICT DO NOTHING is understood by both PostgreSQL and SQLite 3.24+.
func recordInboundSQL(ctx context.Context, db *sql.DB, ph placeholderFunc, now time.Time, messageID, remoteJID string) (bool, error) {
	query := fmt.Sprintf(`INSERT INTO inbound_dedup (message_id, remote_jid, received_at) VALUES (%s, %s, %s) ON CONFLICT (message_id) DO NOTHING`,
		ph(1), ph(2), ph(3))
	res, err := db.ExecContext(ctx, query, messageID, remoteJID, now)
	if err != nil {
		return false, fmt.Errorf("record inbound %s: %w", messageID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record inbound %s: rows affected: %w", messageID, err)
	}
	return n > 0, nil
}

func markProcessedSQL(ctx context.Context, db *sql.DB, ph placeholderFunc, now time.Time, messageID string) error {
	query := fmt.Sprintf(`UPDATE inbound_dedup SET processed_at = %s WHERE message_id = %s`, ph(1), ph(2))
	if _, err := db.ExecContext(ctx, query, now, messageID); err != nil {
		return fmt.Errorf("mark processed %s: %w", messageID, err)
	}
	return nil
}

func (s *PostgresStore) RecordInbound(ctx context.Context, messageID, remoteJID string) (bool, error) {
	return recordInboundSQL(ctx, s.db, dollarPlaceholder, s.now(), messageID, remoteJID)
}

func (s *PostgresStore) MarkProcessed(ctx context.Context, messageID string) error {
	return markProcessedSQL(ctx, s.db, dollarPlaceholder, s.now(), messageID)
}

func (s *SQLiteStore) RecordInbound(ctx context.Context, messageID, remoteJID string) (bool, error) {
	return recordInboundSQL(ctx, s.db, questionPlaceholder, s.now(), messageID, remoteJID)
}

func (s *SQLiteStore) MarkProcessed(ctx context.Context, messageID string) error {
	return markProcessedSQL(ctx, s.db, questionPlaceholder, s.now(), messageID)
}

func (s *InMemoryStore) RecordInbound(_ context.Context, messageID, remoteJID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inbound[messageID]; ok {
		return false, nil
	}
	s.inbound[messageID] = &inboundRecord{remoteJID: remoteJID, receivedAt: s.now()}
	return true, nil
}

func (s *InMemoryStore) MarkProcessed(_ context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.inbound[messageID]
	if !ok {
		return fmt.Errorf("mark processed %s: not recorded", messageID)
	}
	now := s.now()
	rec.processedAt = &now
	return nil
}

// Processed reports whether messageID was marked processed (for tests).
func (s *InMemoryStore) Processed(messageID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.inbound[messageID]
	return ok && rec.processedAt != nil
}
