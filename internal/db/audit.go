package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gsemu-project/gsemu/internal/events"
)

// auditMigrations are applied in order by Database.Migrate.
var auditMigrations = []string{`
	CREATE TABLE IF NOT EXISTS audit_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		created_at INTEGER NOT NULL,
		event_type TEXT NOT NULL,
		source TEXT NOT NULL,
		conn_id TEXT NOT NULL DEFAULT '',
		remote TEXT NOT NULL DEFAULT '',
		detail TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_audit_created_at ON audit_events(created_at);
	CREATE INDEX IF NOT EXISTS idx_audit_conn_id ON audit_events(conn_id);
`}

// DefaultRecentLimit is used when Recent is asked for a non-positive count.
const DefaultRecentLimit = 100

// AuditEntry is one recorded event.
type AuditEntry struct {
	ID        int64           `json:"id"`
	CreatedAt time.Time       `json:"created_at"`
	EventType string          `json:"event_type"`
	Source    string          `json:"source"`
	ConnID    string          `json:"conn_id,omitempty"`
	Remote    string          `json:"remote,omitempty"`
	Detail    json.RawMessage `json:"detail,omitempty"`
}

// AuditStore records connection, handshake and protocol events. It never
// stores credentials or license data beyond what the event payloads carry.
type AuditStore struct {
	db     *Database
	logger zerolog.Logger
}

// OpenAuditStore opens the database at path and migrates the schema.
func OpenAuditStore(path string) (*AuditStore, error) {
	database, err := NewDatabase(path)
	if err != nil {
		return nil, err
	}

	s := &AuditStore{
		db:     database,
		logger: log.With().Str("component", "audit").Logger(),
	}
	if err := s.migrate(context.Background()); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate audit database: %w", err)
	}
	return s, nil
}

func (s *AuditStore) migrate(ctx context.Context) error {
	applied, err := s.db.Migrate(ctx, auditMigrations)
	if err != nil {
		return err
	}
	if applied > 0 {
		s.logger.Info().Str("path", s.db.Path()).Int("applied", applied).Msg("audit schema migrated")
	}
	return nil
}

// Close closes the underlying database.
func (s *AuditStore) Close() error {
	return s.db.Close()
}

// Record inserts e.
func (s *AuditStore) Record(ctx context.Context, e events.Event) error {
	when := e.Time
	if when.IsZero() {
		when = time.Now()
	}

	connID, remote := eventOrigin(e.Payload)

	var detail []byte
	if e.Payload != nil {
		var err error
		if detail, err = json.Marshal(e.Payload); err != nil {
			return fmt.Errorf("failed to encode %s payload: %w", e.Type, err)
		}
	}

	_, err := s.db.Exec(ctx,
		`INSERT INTO audit_events (created_at, event_type, source, conn_id, remote, detail)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		when.UnixMilli(), string(e.Type), e.Source, connID, remote, string(detail))
	if err != nil {
		return fmt.Errorf("failed to record %s: %w", e.Type, err)
	}
	return nil
}

// eventOrigin pulls the connection id and remote address out of the
// payloads that carry them.
func eventOrigin(payload any) (connID, remote string) {
	switch p := payload.(type) {
	case events.ConnectionPayload:
		return p.ConnID, p.Remote
	case events.DisconnectPayload:
		return p.ConnID, p.Remote
	case events.HandshakePayload:
		return p.ConnID, p.Remote
	case events.LoginPayload:
		return p.ConnID, p.Remote
	case events.CDKeyRequestPayload:
		return "", p.Remote
	case events.NATRequestPayload:
		return "", p.Remote
	case events.ProtocolErrorPayload:
		return p.ConnID, p.Remote
	}
	return "", ""
}

// Recent returns up to limit entries, newest first.
func (s *AuditStore) Recent(ctx context.Context, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}

	rows, err := s.db.Query(ctx,
		`SELECT id, created_at, event_type, source, conn_id, remote, detail
		 FROM audit_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	entries := make([]AuditEntry, 0, limit)
	for rows.Next() {
		var (
			e       AuditEntry
			created int64
			detail  string
		)
		if err := rows.Scan(&e.ID, &created, &e.EventType, &e.Source, &e.ConnID, &e.Remote, &detail); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		e.CreatedAt = time.UnixMilli(created).UTC()
		if detail != "" {
			e.Detail = json.RawMessage(detail)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count returns the number of stored entries.
func (s *AuditStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRow(ctx, "SELECT COUNT(*) FROM audit_events").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count audit events: %w", err)
	}
	return n, nil
}

// Prune deletes entries older than retention and returns how many were
// removed.
func (s *AuditStore) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UnixMilli()
	res, err := s.db.Exec(ctx, "DELETE FROM audit_events WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune audit events: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Info().Int64("removed", n).Dur("retention", retention).Msg("audit events pruned")
	}
	return n, nil
}

// Subscribe records every bus event, shutdown included.
func (s *AuditStore) Subscribe(bus *events.EventBus) {
	bus.SubscribeAll("audit", s.Record)
}
