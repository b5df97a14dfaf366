package repository

import "context"

// SettingsRepository persists the admin-writable key/value Settings table.
type SettingsRepository interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	All(ctx context.Context) (map[string]string, error)
}
