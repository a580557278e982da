// Package retry decides the fate of failed processing attempts: back to the
// queue with a bumped counter, or terminally failed once the ceiling is hit.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/C1ean-dev/process/internal/extract"
	"github.com/C1ean-dev/process/internal/models"
	"github.com/C1ean-dev/process/internal/queue"
	"github.com/C1ean-dev/process/internal/staging"
	"github.com/C1ean-dev/process/internal/store"
)

// DefaultCeiling is the number of attempts a document gets before it is
// parked in the failed area for manual triage.
const DefaultCeiling = 3

// Outcome tells the caller how a failed attempt was resolved.
type Outcome string

const (
	// OutcomeRequeued means the document went back to pending for another try.
	OutcomeRequeued Outcome = "requeued"
	// OutcomeFailed means the document is terminally failed.
	OutcomeFailed Outcome = "failed"
	// OutcomePromoted means a crashed finalization was healed by promoting
	// the record to completed.
	OutcomePromoted Outcome = "promoted"
	// OutcomeDropped means another actor already handled the document.
	OutcomeDropped Outcome = "dropped"
)

type Controller struct {
	store   store.Store
	dirs    *staging.Dirs
	pub     queue.Publisher
	logger  *slog.Logger
	ceiling int
}

func NewController(st store.Store, dirs *staging.Dirs, pub queue.Publisher, ceiling int, logger *slog.Logger) *Controller {
	if ceiling <= 0 {
		ceiling = DefaultCeiling
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{store: st, dirs: dirs, pub: pub, logger: logger, ceiling: ceiling}
}

func (c *Controller) Ceiling() int { return c.ceiling }

// HandleFailure runs after a processing attempt failed. The document's file
// is expected in the processing area. The retry counter is bumped in the
// store before any file moves, so a crash between the two steps costs an
// attempt instead of granting a free one. A record still in reprocessing is
// such an interrupted retry: its increment is already durable, so the
// attempt resumes without charging a second one.
func (c *Controller) HandleFailure(ctx context.Context, doc *models.Document, cause error) (Outcome, error) {
	logger := c.logger.With(
		slog.Int64("document_id", doc.ID),
		slog.String("stored_name", doc.StoredName),
	)
	reason := cause.Error()

	if extract.IsPermanent(cause) {
		logger.Warn("permanent failure, not retrying", "reason", reason)
		return OutcomeFailed, c.fail(ctx, doc, reason, logger)
	}

	retries := doc.Retries
	if doc.Status == models.StatusReprocessing {
		logger.Info("resuming interrupted retry", "retries", retries)
	} else {
		var err error
		retries, err = c.store.BeginRetry(ctx, doc.ID, reason)
		if err != nil {
			if errors.Is(err, store.ErrStaleStatus) {
				logger.Info("retry skipped, record already transitioned")
				return OutcomeDropped, nil
			}
			return OutcomeDropped, fmt.Errorf("begin retry: %w", err)
		}
	}

	if retries >= c.ceiling {
		logger.Warn("retry ceiling reached", "retries", retries, "ceiling", c.ceiling)
		return OutcomeFailed, c.fail(ctx, doc, fmt.Sprintf("retry limit reached after %d attempts: %s", retries, reason), logger)
	}

	logger.Info("requeueing document", "retries", retries, "reason", reason)
	if _, err := c.dirs.Relocate(doc.StoredName, staging.AreaProcessing, staging.AreaPending); err != nil {
		if !errors.Is(err, staging.ErrConflict) {
			return OutcomeDropped, fmt.Errorf("relocate to pending: %w", err)
		}
		outcome, done, probeErr := c.resolveConflict(ctx, doc, logger)
		if probeErr != nil || done {
			return outcome, probeErr
		}
	}

	if err := c.store.FinishRetry(ctx, doc.ID); err != nil && !errors.Is(err, store.ErrStaleStatus) {
		return OutcomeDropped, fmt.Errorf("finish retry: %w", err)
	}
	return OutcomeRequeued, c.publish(ctx, doc.ID, logger)
}

// Resubmit puts a terminally failed document back through the pipeline with
// a fresh retry budget. Used by the triage tooling.
func (c *Controller) Resubmit(ctx context.Context, id int64) error {
	doc, err := c.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if doc.Status != models.StatusFailed {
		return fmt.Errorf("document %d is %s, only failed documents can be resubmitted", id, doc.Status)
	}

	if _, err := c.dirs.Relocate(doc.StoredName, staging.AreaFailed, staging.AreaPending); err != nil {
		if !errors.Is(err, staging.ErrConflict) {
			return fmt.Errorf("relocate to pending: %w", err)
		}
		// Tolerate a file already moved by an earlier interrupted resubmit.
		if area, locErr := c.dirs.Locate(doc.StoredName); locErr != nil || area != staging.AreaPending {
			return fmt.Errorf("resubmit %d: file not in failed area: %w", id, err)
		}
	}
	if err := c.store.Resubmit(ctx, id); err != nil {
		return fmt.Errorf("resubmit record: %w", err)
	}
	return c.publish(ctx, id, c.logger.With(slog.Int64("document_id", id)))
}

// resolveConflict runs when the processing-area file vanished under us.
// Another actor moved it, so probe where it ended up and reconcile the
// record with the file instead of fighting over it. Returns done=true when
// the document reached a terminal state and no requeue should happen.
func (c *Controller) resolveConflict(ctx context.Context, doc *models.Document, logger *slog.Logger) (outcome Outcome, done bool, err error) {
	area, err := c.dirs.Locate(doc.StoredName)
	if err != nil {
		if errors.Is(err, staging.ErrNotFound) {
			logger.Error("document file lost, failing record")
			failErr := c.store.MarkFailed(ctx, doc.ID, "document file missing from all staging areas")
			if failErr != nil && !errors.Is(failErr, store.ErrStaleStatus) {
				return OutcomeFailed, true, failErr
			}
			return OutcomeFailed, true, nil
		}
		return OutcomeDropped, true, err
	}

	switch area {
	case staging.AreaCompleted:
		// A finalization crash left the file completed but the record in
		// flight. The file is the source of truth here.
		logger.Info("file already completed, promoting record")
		ref := ""
		if doc.StorageRef != nil {
			ref = *doc.StorageRef
		}
		if markErr := c.store.MarkCompleted(ctx, doc.ID, ref); markErr != nil && !errors.Is(markErr, store.ErrStaleStatus) {
			return OutcomePromoted, true, markErr
		}
		return OutcomePromoted, true, nil
	case staging.AreaFailed:
		logger.Info("file already failed, aligning record")
		if markErr := c.store.MarkFailed(ctx, doc.ID, "moved to failed area by another actor"); markErr != nil && !errors.Is(markErr, store.ErrStaleStatus) {
			return OutcomeFailed, true, markErr
		}
		return OutcomeFailed, true, nil
	case staging.AreaPending:
		// Already where the retry wanted it. Continue with the requeue.
		logger.Debug("file already pending, continuing requeue")
		return OutcomeRequeued, false, nil
	default:
		// Still in processing despite the rename failure. Treat as benign
		// and let the stale-record sweep pick it up.
		logger.Warn("relocation conflict with file still in processing area")
		return OutcomeDropped, true, nil
	}
}

func (c *Controller) fail(ctx context.Context, doc *models.Document, reason string, logger *slog.Logger) error {
	if _, err := c.dirs.Relocate(doc.StoredName, staging.AreaProcessing, staging.AreaFailed); err != nil {
		if !errors.Is(err, staging.ErrConflict) {
			return fmt.Errorf("relocate to failed: %w", err)
		}
		if area, locErr := c.dirs.Locate(doc.StoredName); locErr == nil && area != staging.AreaFailed {
			logger.Warn("failing record but file is elsewhere", "area", string(area))
		}
	}
	if err := c.store.MarkFailed(ctx, doc.ID, reason); err != nil && !errors.Is(err, store.ErrStaleStatus) {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

func (c *Controller) publish(ctx context.Context, id int64, logger *slog.Logger) error {
	now := time.Now().UTC()
	if err := c.pub.Publish(ctx, queue.Message{TaskID: id, EnqueuedAt: now}); err != nil {
		// The record is pending either way; the folder monitor republishes
		// anything the queue dropped.
		logger.Warn("publish failed, monitor will republish", "error", err)
		return nil
	}
	if err := c.store.TouchEnqueued(ctx, id, now); err != nil && !errors.Is(err, store.ErrStaleStatus) {
		logger.Warn("failed to record enqueue time", "error", err)
	}
	return nil
}
