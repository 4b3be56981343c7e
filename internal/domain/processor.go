package domain

import (
	"context"
	"time"
)

// MetadataExtractor derives Metadata from a raw document.
// It fails only when the payload is not a well-formed document.
type MetadataExtractor interface {
	Extract(payload []byte) (Metadata, error)
}

// PreviewRenderer renders a preview image for a document.
// A false result means no preview; it never fails the item.
type PreviewRenderer interface {
	Render(payload []byte, meta Metadata) ([]byte, bool)
}

// ItemProcessor runs the per-item pipeline.
type ItemProcessor interface {
	Process(ctx context.Context, item QueueItem, template string, target Target) Outcome
}

// Stage names the pipeline step an outcome finished at.
type Stage string

const (
	StageExtract  Stage = "extract"
	StageTemplate Stage = "template"
	StageDeliver  Stage = "deliver"
	StageDone     Stage = "done"
)

// Outcome is the transient result of processing one item.
type Outcome struct {
	Seq      uint64        `json:"seq"`
	FileName string        `json:"file_name"`
	NewName  string        `json:"new_name,omitempty"`
	Success  bool          `json:"success"`
	Stage    Stage         `json:"stage"`
	Preview  bool          `json:"preview"`
	Err      error         `json:"-"`
	Duration time.Duration `json:"-"`
}

// ErrorText returns the failure text, or "" for a successful outcome.
func (o Outcome) ErrorText() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}
