package storage

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	deliveryCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "microchallenges_db_deliveries_count",
		Help: "Number of deliveries stored in the database by outcome",
	}, []string{"outcome"})

	lastRefresh = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "microchallenges_db_metrics_last_refresh_timestamp_seconds",
		Help: "Unix time of the last successful delivery gauge refresh",
	})
)

// gatherTimeout bounds a single refresh query.
const gatherTimeout = 10 * time.Second

// DBMetricsCollector refreshes the per-outcome delivery gauges from storage.
// Refresh requests are coalesced: at most one is pending at a time.
type DBMetricsCollector struct {
	storage Storage
	logger  *slog.Logger
	pending chan struct{}
}

func NewDBMetricsCollector(storage Storage, logger *slog.Logger) *DBMetricsCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &DBMetricsCollector{
		storage: storage,
		logger:  logger,
		pending: make(chan struct{}, 1),
	}
}

// GatherMetrics replaces every gauge with the current totals. Outcomes no
// longer present in storage disappear from the exposition.
func (c *DBMetricsCollector) GatherMetrics(ctx context.Context) error {
	stats, err := c.storage.GetStats(ctx, time.Time{})
	if err != nil {
		return err
	}

	deliveryCount.Reset()
	for outcome, count := range stats {
		deliveryCount.WithLabelValues(outcome).Set(float64(count))
	}
	lastRefresh.SetToCurrentTime()
	c.logger.Debug("refreshed delivery gauges", "outcomes", len(stats))
	return nil
}

// EnqueueGatherMetrics requests a refresh without blocking.
func (c *DBMetricsCollector) EnqueueGatherMetrics() {
	select {
	case c.pending <- struct{}{}:
	default:
	}
}

// StartMetricsCollection refreshes in the background until ctx is done, on
// request and, when interval > 0, on a timer. It returns immediately.
func (c *DBMetricsCollector) StartMetricsCollection(ctx context.Context, interval time.Duration) {
	if c.storage == nil {
		c.logger.Debug("storage is nil, not starting metrics collection")
		return
	}

	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		tick = ticker.C
		context.AfterFunc(ctx, ticker.Stop)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.logger.Debug("stopped metrics collector")
				return
			case <-tick:
			case <-c.pending:
			}

			gctx, cancel := context.WithTimeout(ctx, gatherTimeout)
			if err := c.GatherMetrics(gctx); err != nil && ctx.Err() == nil {
				c.logger.Error("failed to gather metrics", "error", err)
			}
			cancel()
		}
	}()

	c.EnqueueGatherMetrics()
}
