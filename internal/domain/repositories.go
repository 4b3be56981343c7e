package domain

import "context"

// PreferenceStore persists per-chat filename templates.
type PreferenceStore interface {
	// GetFormat returns the chat's template, or the configured default when unset.
	GetFormat(ctx context.Context, chatID int64) (string, error)

	// SaveFormat stores the chat's template.
	SaveFormat(ctx context.Context, chatID int64, format string) error
}

// PreviewStore persists generated previews.
type PreviewStore interface {
	// SavePreview appends a preview to the chat's collection.
	SavePreview(ctx context.Context, chatID int64, name string, data []byte) error

	// GetPreviews returns every preview stored for the chat, oldest first.
	GetPreviews(ctx context.Context, chatID int64) ([]Preview, error)
}

// HealthChecker defines the interface for health checks
type HealthChecker interface {
	// CheckConnection checks if the database connection is healthy
	CheckConnection(ctx context.Context) error

	// EnsureCollections ensures that required collections/namespaces exist
	EnsureCollections(ctx context.Context) error
}
