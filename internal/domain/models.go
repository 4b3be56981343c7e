package domain

import (
	"time"
)

// Default metadata used when a document carries no usable title or chapter.
const (
	DefaultTitle   = "Unknown"
	DefaultChapter = 1.0
)

// QueueItem is one uploaded document waiting for a drain.
// Seq is assigned by the work queue and identifies the item by enqueue order.
type QueueItem struct {
	Seq        uint64
	ChatID     int64
	Source     Delivery
	Payload    []byte
	FileName   string
	EnqueuedAt time.Time
}

// Metadata is what the extractor derives from a payload.
type Metadata struct {
	Title   string  `json:"title"`
	Chapter float64 `json:"chapter"`
}

// DefaultMetadata returns the fallback metadata.
func DefaultMetadata() Metadata {
	return Metadata{Title: DefaultTitle, Chapter: DefaultChapter}
}

// Preview is a stored preview image.
type Preview struct {
	Name string `json:"name"`
	Data []byte `json:"data"`
}

// Chat is the persisted per-chat record: filename template and generated previews.
type Chat struct {
	ChatID         int64     `json:"chat_id" reindex:"chat_id,,pk"`
	FilenameFormat string    `json:"filename_format" reindex:"filename_format"`
	Previews       []Preview `json:"previews" reindex:"previews"`
	UpdatedAt      int64     `json:"updated_at" reindex:"updated_at"`
}

// Target is where a drain sends renamed documents and previews and under
// which chat previews are persisted.
type Target struct {
	ChatID   int64
	Delivery Delivery
}
