package rewrite

import (
	"context"
	"log"

	"chatmend/domain"
	"chatmend/store"
)

// SettingsClient resolves the credential and model from persisted settings on
// every call, falling back to the environment-configured client. It is the
// Rewriter the reconciliation controller runs against.
type SettingsClient struct {
	base  *Client
	store store.Store
}

// NewSettingsClient wraps a base client with settings lookup.
func NewSettingsClient(base *Client, s store.Store) *SettingsClient {
	return &SettingsClient{base: base, store: s}
}

// Rewrite forwards to the base client with any stored overrides applied.
func (sc *SettingsClient) Rewrite(ctx context.Context, history domain.History) domain.RewriteResult {
	apiKey, err := sc.store.Setting(ctx, store.SettingAPIKey)
	if err != nil {
		log.Printf("WARN: failed to read stored credential: %v", err)
	}
	model, err := sc.store.Setting(ctx, store.SettingModel)
	if err != nil {
		log.Printf("WARN: failed to read stored model: %v", err)
	}
	return sc.base.WithCredentials(apiKey, model).Rewrite(ctx, history)
}

// HasCredential reports whether a credential is available from settings or
// the environment.
func (sc *SettingsClient) HasCredential(ctx context.Context) bool {
	apiKey, err := sc.store.Setting(ctx, store.SettingAPIKey)
	if err != nil {
		log.Printf("WARN: failed to read stored credential: %v", err)
	}
	return apiKey != "" || sc.base.HasCredential()
}
