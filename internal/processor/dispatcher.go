package processor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/your-org/autorename/internal/domain"
	"github.com/your-org/autorename/internal/queue"
)

// DrainRequest carries what one batch needs: the pool size, the caller's
// filename template and where results go.
type DrainRequest struct {
	Workers  int
	Template string
	Target   domain.Target
}

// Report summarizes a drained batch. Submitted is the user-facing count.
type Report struct {
	Submitted int              `json:"submitted"`
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
	Outcomes  []domain.Outcome `json:"outcomes"`
	Duration  time.Duration    `json:"-"`
}

// Observer receives batch lifecycle events, e.g. for metrics.
type Observer interface {
	ItemStarted()
	ItemFinished(out domain.Outcome)
	BatchFinished(report Report)
}

type nopObserver struct{}

func (nopObserver) ItemStarted()                {}
func (nopObserver) ItemFinished(domain.Outcome) {}
func (nopObserver) BatchFinished(Report)        {}

// DispatcherOption configures optional Dispatcher behavior.
type DispatcherOption func(*Dispatcher)

// WithObserver attaches an observer to every batch.
func WithObserver(o Observer) DispatcherOption {
	return func(d *Dispatcher) {
		if o != nil {
			d.observer = o
		}
	}
}

// Dispatcher drains the work queue into a worker pool that lives only for
// the duration of one Drain call.
type Dispatcher struct {
	queue     *queue.WorkQueue
	processor domain.ItemProcessor
	logger    *zap.Logger
	observer  Observer
}

// NewDispatcher creates a dispatcher over q.
func NewDispatcher(q *queue.WorkQueue, processor domain.ItemProcessor, logger *zap.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		queue:     q,
		processor: processor,
		logger:    logger,
		observer:  nopObserver{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Drain processes everything currently queued with at most req.Workers items
// in flight and returns how many items were submitted.
func (d *Dispatcher) Drain(ctx context.Context, req DrainRequest) int {
	return d.DrainReport(ctx, req).Submitted
}

// DrainReport is Drain with per-item outcomes.
//
// Items are dequeued by the calling goroutine in FIFO order until the queue
// is observed empty; each is handed to the pool, blocking while the pool is
// full. Items enqueued while a drain runs may be left for the next one. If
// ctx is done the dispatcher stops dequeuing and leaves the rest queued.
// Items already dequeued run to completion on a context that ignores the
// cancellation, so their results and error replies still reach the chat.
func (d *Dispatcher) DrainReport(ctx context.Context, req DrainRequest) Report {
	workers := req.Workers
	if workers < 1 {
		workers = 1
	}

	if err := ctx.Err(); err != nil {
		d.logger.Warn("drain cancelled before start, documents stay queued",
			zap.Int("queue_size", d.queue.Len()),
			zap.Error(err),
		)
		return Report{Outcomes: []domain.Outcome{}}
	}

	first, ok := d.queue.TryDequeue()
	if !ok {
		d.logger.Warn("no documents in queue")
		return Report{Outcomes: []domain.Outcome{}}
	}

	start := time.Now()
	var (
		g        errgroup.Group
		mu       sync.Mutex
		outcomes []domain.Outcome
		report   Report
	)
	g.SetLimit(workers)

	itemCtx := context.WithoutCancel(ctx)
	item := first
	for {
		current := item
		report.Submitted++
		g.Go(func() error {
			out := d.run(itemCtx, current, req)

			mu.Lock()
			outcomes = append(outcomes, out)
			mu.Unlock()
			return nil
		})
		d.logger.Debug("submitted for processing",
			zap.Uint64("seq", current.Seq),
			zap.String("file_name", current.FileName),
			zap.Int("queue_size", d.queue.Len()),
		)

		if ctx.Err() != nil {
			d.logger.Warn("drain interrupted, leaving remaining documents queued",
				zap.Int("submitted", report.Submitted),
				zap.Error(ctx.Err()),
			)
			break
		}
		if item, ok = d.queue.TryDequeue(); !ok {
			break
		}
	}

	_ = g.Wait()

	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].Seq < outcomes[j].Seq })
	for _, out := range outcomes {
		if out.Success {
			report.Succeeded++
		} else {
			report.Failed++
		}
	}
	report.Outcomes = outcomes
	report.Duration = time.Since(start)
	d.observer.BatchFinished(report)

	d.logger.Info("all documents processed",
		zap.Int("submitted", report.Submitted),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
		zap.Int("workers", workers),
		zap.Duration("duration", report.Duration),
	)
	return report
}

// run invokes the processor for one item. A panicking processor fails only
// that item.
func (d *Dispatcher) run(ctx context.Context, item domain.QueueItem, req DrainRequest) (out domain.Outcome) {
	d.observer.ItemStarted()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("worker panic recovered",
				zap.Uint64("seq", item.Seq),
				zap.String("file_name", item.FileName),
				zap.Any("panic", r),
			)
			out = domain.Outcome{
				Seq:      item.Seq,
				FileName: item.FileName,
				Stage:    domain.StageExtract,
				Err:      fmt.Errorf("worker panic: %v", r),
			}
		}
		d.observer.ItemFinished(out)
	}()
	return d.processor.Process(ctx, item, req.Template, req.Target)
}
