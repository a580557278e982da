package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/C1ean-dev/process/internal/models"
	"github.com/C1ean-dev/process/internal/store"
)

const (
	defaultInterval = 15 * time.Second
	queryTimeout    = 2 * time.Second
)

var documentsByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "docflow_documents",
	Help: "Number of documents per lifecycle status.",
}, []string{"status"})

// StartCollector polls document counts into the status gauge until ctx ends.
func StartCollector(ctx context.Context, st store.Store, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		interval = defaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			if err := collect(ctx, st); err != nil {
				logger.Warn("status metrics collection failed", "error", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func collect(ctx context.Context, st store.Store) error {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	counts, err := st.CountByStatus(queryCtx)
	if err != nil {
		return err
	}
	for _, status := range []models.Status{
		models.StatusPending,
		models.StatusProcessing,
		models.StatusCompleted,
		models.StatusFailed,
		models.StatusReprocessing,
	} {
		documentsByStatus.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
	return nil
}
