// Package monitor is the reconciliation loop that heals the pipeline after
// crashes: stale in-flight documents go back through the retry path, orphan
// files in the pending area get records, and pending records whose queue
// reference was lost get republished.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/C1ean-dev/process/internal/events"
	"github.com/C1ean-dev/process/internal/extract"
	"github.com/C1ean-dev/process/internal/metrics"
	"github.com/C1ean-dev/process/internal/models"
	"github.com/C1ean-dev/process/internal/queue"
	"github.com/C1ean-dev/process/internal/retry"
	"github.com/C1ean-dev/process/internal/staging"
	"github.com/C1ean-dev/process/internal/store"
)

const (
	DefaultInterval  = time.Minute
	DefaultStaleness = 15 * time.Minute
	DefaultWatermark = 5 * time.Minute

	republishBatch = 100
)

type Config struct {
	// Interval between sweeps. Ignored when Schedule is set.
	Interval time.Duration
	// Schedule is an optional cron expression overriding Interval.
	Schedule string
	// Staleness is how long an in-flight record may go without updates
	// before its worker is presumed dead.
	Staleness time.Duration
	// Watermark is how old a pending record's last enqueue may be before
	// its queue reference is considered lost and republished.
	Watermark time.Duration
}

type Monitor struct {
	cfg    Config
	store  store.Store
	dirs   *staging.Dirs
	pub    queue.Publisher
	retry  *retry.Controller
	events events.Publisher
	logger *slog.Logger
}

func New(cfg Config, st store.Store, dirs *staging.Dirs, pub queue.Publisher, rc *retry.Controller, ev events.Publisher, logger *slog.Logger) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Staleness <= 0 {
		cfg.Staleness = DefaultStaleness
	}
	if cfg.Watermark <= 0 {
		cfg.Watermark = DefaultWatermark
	}
	if ev == nil {
		ev = events.NoopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{cfg: cfg, store: st, dirs: dirs, pub: pub, retry: rc, events: ev, logger: logger}
}

// Start runs sweeps until ctx is cancelled. One sweep runs immediately so a
// restart reconciles whatever the previous process left behind.
func (m *Monitor) Start(ctx context.Context) error {
	var next func() time.Duration
	if m.cfg.Schedule != "" {
		sched, err := cron.ParseStandard(m.cfg.Schedule)
		if err != nil {
			return fmt.Errorf("invalid sweep schedule %q: %w", m.cfg.Schedule, err)
		}
		next = func() time.Duration { return time.Until(sched.Next(time.Now())) }
	} else {
		next = func() time.Duration { return m.cfg.Interval }
	}

	go func() {
		for {
			m.Sweep(ctx)
			timer := time.NewTimer(next())
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}()
	return nil
}

// Sweep runs the three reconciliation scans once.
func (m *Monitor) Sweep(ctx context.Context) {
	if err := m.recoverStale(ctx); err != nil {
		m.logger.Error("stale recovery scan failed", "error", err)
	}
	if err := m.adoptOrphans(ctx); err != nil {
		m.logger.Error("orphan adoption scan failed", "error", err)
	}
	if err := m.republishPending(ctx); err != nil {
		m.logger.Error("republish scan failed", "error", err)
	}
}

// recoverStale routes in-flight records nobody has touched within the
// staleness window back through the retry controller, exactly as if their
// worker had reported a failure before dying.
func (m *Monitor) recoverStale(ctx context.Context) error {
	docs, err := m.store.ListStaleProcessing(ctx, m.cfg.Staleness)
	if err != nil {
		return err
	}
	for i := range docs {
		doc := &docs[i]
		logger := m.logger.With(
			slog.Int64("document_id", doc.ID),
			slog.String("stored_name", doc.StoredName),
		)
		logger.Warn("recovering stale document", "status", string(doc.Status), "updated_at", doc.UpdatedAt)

		cause := extract.Transient("stale_processing",
			fmt.Errorf("no progress for %s, worker presumed dead", m.cfg.Staleness))
		outcome, err := m.retry.HandleFailure(ctx, doc, cause)
		if err != nil {
			logger.Error("stale recovery failed", "error", err)
			continue
		}
		metrics.StaleRecovered.Inc()
		m.events.Publish(events.Event{
			Type:       events.TypeRecovered,
			Message:    string(outcome),
			DocumentID: doc.ID,
			StoredName: doc.StoredName,
			Retries:    doc.Retries,
		})
	}
	return nil
}

// adoptOrphans creates records for files sitting in the pending area that
// the store has never heard of. Happens when a file is dropped into the
// folder by hand or a crash lost the record insert.
func (m *Monitor) adoptOrphans(ctx context.Context) error {
	names, err := m.dirs.List(staging.AreaPending)
	if err != nil {
		return err
	}
	for _, name := range names {
		_, err := m.store.GetByStoredName(ctx, name)
		if err == nil {
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		if !extract.Supported(name) {
			m.logger.Warn("unsupported file in pending area, ignoring", "stored_name", name)
			continue
		}
		doc := &models.Document{
			OriginalName: name,
			StoredName:   name,
			Status:       models.StatusPending,
		}
		id, err := m.store.Create(ctx, doc)
		if err != nil {
			m.logger.Error("failed to adopt orphan file", "stored_name", name, "error", err)
			continue
		}
		m.logger.Info("adopted orphan file", "stored_name", name, "document_id", id)
		metrics.OrphansAdopted.Inc()
		m.events.Publish(events.Event{
			Type:       events.TypeAdopted,
			Message:    "orphan file adopted",
			DocumentID: id,
			StoredName: name,
			Status:     string(models.StatusPending),
		})
		m.publish(ctx, id)
	}
	return nil
}

// republishPending re-enqueues pending records whose reference is likely
// gone, either never published or published before the watermark. Workers
// tolerate the duplicates this can produce.
func (m *Monitor) republishPending(ctx context.Context) error {
	docs, err := m.store.ListByStatus(ctx, models.StatusPending, republishBatch)
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-m.cfg.Watermark)
	for i := range docs {
		doc := &docs[i]
		if doc.LastEnqueuedAt != nil && doc.LastEnqueuedAt.After(cutoff) {
			continue
		}
		m.logger.Info("republishing pending document",
			"document_id", doc.ID,
			"stored_name", doc.StoredName,
		)
		m.publish(ctx, doc.ID)
		metrics.QueueRepublished.Inc()
	}
	return nil
}

func (m *Monitor) publish(ctx context.Context, id int64) {
	now := time.Now().UTC()
	if err := m.pub.Publish(ctx, queue.Message{TaskID: id, EnqueuedAt: now}); err != nil {
		m.logger.Warn("publish failed, will retry next sweep", "document_id", id, "error", err)
		return
	}
	if err := m.store.TouchEnqueued(ctx, id, now); err != nil && !errors.Is(err, store.ErrStaleStatus) {
		m.logger.Warn("failed to record enqueue time", "document_id", id, "error", err)
	}
}
