package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"

	_ "github.com/mattn/go-sqlite3"

	"chatmend/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			conversation_id TEXT PRIMARY KEY,
			messages TEXT NOT NULL,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			event_id TEXT PRIMARY KEY,
			reconcile_id TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			ts INTEGER NOT NULL,
			type TEXT NOT NULL,
			payload TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_conversation ON events(conversation_id, ts)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveHistory overwrites the stored history for a conversation in full. An
// empty conversation id disables persistence for the page view, so the call
// is a no-op.
func (s *SQLiteStore) SaveHistory(ctx context.Context, conversationID string, messages domain.History) error {
	if conversationID == "" {
		return nil
	}

	blob, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO conversations (conversation_id, messages, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)`,
		conversationID, string(blob))
	return err
}

// History returns the stored sequence for a conversation. A missing row, an
// empty id or an unparseable blob all yield an empty history, never an error.
func (s *SQLiteStore) History(ctx context.Context, conversationID string) (domain.History, error) {
	if conversationID == "" {
		return domain.History{}, nil
	}

	var blob string
	err := s.db.QueryRowContext(ctx,
		`SELECT messages FROM conversations WHERE conversation_id = ?`,
		conversationID).Scan(&blob)
	if err == sql.ErrNoRows {
		return domain.History{}, nil
	}
	if err != nil {
		return nil, err
	}

	var messages domain.History
	if err := json.Unmarshal([]byte(blob), &messages); err != nil {
		log.Printf("WARN: corrupt history blob for conversation %s, treating as empty: %v", conversationID, err)
		return domain.History{}, nil
	}
	if messages == nil {
		messages = domain.History{}
	}
	return messages, nil
}

// ListConversations returns the ids of all persisted conversations.
func (s *SQLiteStore) ListConversations(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT conversation_id FROM conversations ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Setting returns the stored value for a key, or "" when unset.
func (s *SQLiteStore) Setting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// SetSetting stores a setting value.
func (s *SQLiteStore) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO settings (key, value) VALUES (?, ?)`, key, value)
	return err
}

// CreateEvent appends a reconciliation trace event.
func (s *SQLiteStore) CreateEvent(ctx context.Context, event *domain.Event) error {
	payload := sql.NullString{}
	if len(event.Payload) > 0 {
		payload = sql.NullString{String: string(event.Payload), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (event_id, reconcile_id, conversation_id, ts, type, payload) VALUES (?, ?, ?, ?, ?, ?)`,
		event.EventID, event.ReconcileID, event.ConversationID, event.Ts, event.Type, payload)
	return err
}

// Events returns trace events for a conversation in ascending time order.
func (s *SQLiteStore) Events(ctx context.Context, conversationID string, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, reconcile_id, conversation_id, ts, type, payload FROM events
		 WHERE conversation_id = ? ORDER BY ts ASC LIMIT ?`,
		conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var event domain.Event
		var payload sql.NullString
		if err := rows.Scan(&event.EventID, &event.ReconcileID, &event.ConversationID,
			&event.Ts, &event.Type, &payload); err != nil {
			return nil, err
		}
		if payload.Valid {
			event.Payload = json.RawMessage(payload.String)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}
