package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// QueueLengther reports queue depth. *dispatch.RedisQueue satisfies it.
type QueueLengther interface {
	Len(ctx context.Context) (pending, inFlight int64, err error)
}

type queueCollector struct {
	queue   QueueLengther
	timeout time.Duration
	depth   *prometheus.Desc
}

// NewQueueCollector creates a collector that reads queue depth on scrape.
func NewQueueCollector(q QueueLengther) prometheus.Collector {
	return &queueCollector{
		queue:   q,
		timeout: 2 * time.Second,
		depth: prometheus.NewDesc(
			namespace+"_queue_depth",
			"Current job queue depth by state.",
			[]string{"state"},
			nil,
		),
	}
}

// RegisterQueueCollector registers a queue collector with the default
// registry.
func RegisterQueueCollector(q QueueLengther) {
	prometheus.MustRegister(NewQueueCollector(q))
}

func (c *queueCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.depth
}

func (c *queueCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	pending, inFlight, err := c.queue.Len(ctx)
	if err != nil {
		zap.L().Warn("metrics: queue depth unavailable", zap.Error(err))
		return
	}
	ch <- prometheus.MustNewConstMetric(c.depth, prometheus.GaugeValue, float64(pending), "pending")
	ch <- prometheus.MustNewConstMetric(c.depth, prometheus.GaugeValue, float64(inFlight), "in_flight")
}
