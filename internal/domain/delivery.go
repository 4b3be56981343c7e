package domain

import "context"

// Delivery sends results back to a chat. Implementations must be safe for
// concurrent use by several workers.
type Delivery interface {
	// Reply sends a plain text message.
	Reply(ctx context.Context, text string) error

	// SendDocument sends a file under the given name.
	SendDocument(ctx context.Context, data []byte, name string) error

	// SendPhoto sends an image with a caption.
	SendPhoto(ctx context.Context, data []byte, caption string) error
}
