// Package metrics exposes Prometheus metrics for the rename pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/autorename/internal/domain"
	"github.com/your-org/autorename/internal/processor"
)

const namespace = "autorename"

// Collector records queue and batch metrics. It implements processor.Observer.
type Collector struct {
	registry *prometheus.Registry

	enqueued      prometheus.Counter
	processed     *prometheus.CounterVec
	batches       prometheus.Counter
	batchDuration prometheus.Histogram
	workersBusy   prometheus.Gauge
	itemDuration  prometheus.Histogram
}

// NewCollector registers every metric on a fresh registry. queueDepth is
// sampled on each scrape.
func NewCollector(queueDepth func() int) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		enqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_enqueued_total",
			Help:      "Documents added to the work queue.",
		}),
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_processed_total",
			Help:      "Documents processed, by result and the stage they finished at.",
		}, []string{"result", "stage"}),
		batches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Non-empty drains of the work queue.",
		}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Wall time of a drain.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		workersBusy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workers_busy",
			Help:      "Items currently being processed.",
		}),
		itemDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "item_duration_seconds",
			Help:      "Time spent processing one document.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	c.registry.MustRegister(
		c.enqueued,
		c.processed,
		c.batches,
		c.batchDuration,
		c.workersBusy,
		c.itemDuration,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Documents waiting in the work queue.",
		}, func() float64 {
			if queueDepth == nil {
				return 0
			}
			return float64(queueDepth())
		}),
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return c
}

// Enqueued counts an upload.
func (c *Collector) Enqueued() {
	c.enqueued.Inc()
}

func (c *Collector) ItemStarted() {
	c.workersBusy.Inc()
}

func (c *Collector) ItemFinished(out domain.Outcome) {
	c.workersBusy.Dec()
	result := "success"
	if !out.Success {
		result = "failure"
	}
	c.processed.WithLabelValues(result, string(out.Stage)).Inc()
	if out.Duration > 0 {
		c.itemDuration.Observe(out.Duration.Seconds())
	}
}

func (c *Collector) BatchFinished(report processor.Report) {
	c.batches.Inc()
	c.batchDuration.Observe(report.Duration.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

var _ processor.Observer = (*Collector)(nil)
