package processor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/autorename/internal/domain"
)

// RenameProcessor implements domain.ItemProcessor: extract metadata, render a
// preview, rename, deliver and persist the preview. It keeps no state between
// items, so one instance serves every worker of a batch.
type RenameProcessor struct {
	extractor domain.MetadataExtractor
	renderer  domain.PreviewRenderer
	previews  domain.PreviewStore
	logger    *zap.Logger
}

// NewRenameProcessor creates a processor over the given collaborators.
func NewRenameProcessor(
	extractor domain.MetadataExtractor,
	renderer domain.PreviewRenderer,
	previews domain.PreviewStore,
	logger *zap.Logger,
) *RenameProcessor {
	return &RenameProcessor{
		extractor: extractor,
		renderer:  renderer,
		previews:  previews,
		logger:    logger,
	}
}

// Process runs the pipeline for one item. Failures are reported to the
// item's source chat and returned in the outcome; they never propagate.
func (p *RenameProcessor) Process(ctx context.Context, item domain.QueueItem, template string, target domain.Target) (out domain.Outcome) {
	start := time.Now()
	log := p.logger.With(
		zap.Uint64("seq", item.Seq),
		zap.String("file_name", item.FileName),
		zap.Int64("chat_id", target.ChatID),
	)
	out = domain.Outcome{Seq: item.Seq, FileName: item.FileName, Stage: domain.StageExtract}

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic recovered while processing document",
				zap.Any("panic", r),
				zap.String("stage", string(out.Stage)),
				zap.Stack("stack"),
			)
			out = p.fail(ctx, log, item, out, fmt.Errorf("panic: %v", r))
		}
		out.Duration = time.Since(start)
	}()

	log.Debug("processing document")

	meta, err := p.extractor.Extract(item.Payload)
	if err != nil {
		return p.fail(ctx, log, item, out, err)
	}

	preview, hasPreview := p.renderer.Render(item.Payload, meta)
	if !hasPreview {
		log.Warn("preview not generated, continuing without it", zap.String("title", meta.Title))
	}

	out.Stage = domain.StageTemplate
	newName, err := RenderFilename(template, meta)
	if err != nil {
		return p.fail(ctx, log, item, out, err)
	}

	out.Stage = domain.StageDeliver
	if err := target.Delivery.SendDocument(ctx, item.Payload, newName); err != nil {
		return p.fail(ctx, log, item, out, &domain.DeliveryError{Op: "send document", Err: err})
	}

	if hasPreview {
		if err := target.Delivery.SendPhoto(ctx, preview, "Thumbnail for "+newName); err != nil {
			return p.fail(ctx, log, item, out, &domain.DeliveryError{Op: "send preview", Err: err})
		}
		// the user already has the file and the preview, so a failed save is only logged
		previewName := PreviewName(meta)
		if err := p.previews.SavePreview(ctx, target.ChatID, previewName, preview); err != nil {
			log.Error("failed to persist preview",
				zap.String("preview_name", previewName),
				zap.Error(err),
			)
		}
	}

	out.Stage = domain.StageDone
	out.Success = true
	out.NewName = newName
	out.Preview = hasPreview

	log.Info("processed and sent document",
		zap.String("new_name", newName),
		zap.Bool("preview", hasPreview),
		zap.Duration("duration", time.Since(start)),
	)
	return out
}

// fail reports err to the chat that uploaded the item. A failing reply is
// logged and otherwise ignored.
func (p *RenameProcessor) fail(ctx context.Context, log *zap.Logger, item domain.QueueItem, out domain.Outcome, err error) domain.Outcome {
	out.Success = false
	out.Err = err

	log.Error("error processing document",
		zap.String("stage", string(out.Stage)),
		zap.Error(err),
	)

	if item.Source == nil {
		return out
	}
	if replyErr := item.Source.Reply(ctx, fmt.Sprintf("Error processing %s: %v", item.FileName, err)); replyErr != nil {
		log.Error("failed to report processing error", zap.Error(replyErr))
	}
	return out
}

var _ domain.ItemProcessor = (*RenameProcessor)(nil)
