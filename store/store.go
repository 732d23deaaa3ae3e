// Package store defines the persistence interface and implementations.
package store

import (
	"context"

	"chatmend/domain"
)

// Store persists conversation histories, relay settings and reconciliation
// trace events.
type Store interface {
	// History operations. SaveHistory overwrites the conversation entry
	// wholesale; both operations no-op on an empty conversation id.
	SaveHistory(ctx context.Context, conversationID string, messages domain.History) error
	History(ctx context.Context, conversationID string) (domain.History, error)
	ListConversations(ctx context.Context) ([]string, error)

	// Settings operations (credential, model identifier).
	Setting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error

	// Trace event operations.
	CreateEvent(ctx context.Context, event *domain.Event) error
	Events(ctx context.Context, conversationID string, limit int) ([]domain.Event, error)

	// Lifecycle
	Close() error
}

// Setting keys.
const (
	SettingAPIKey = "api_key"
	SettingModel  = "model"
)
