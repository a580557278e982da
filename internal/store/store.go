package store

import (
	"context"
	"errors"
	"time"

	"github.com/C1ean-dev/process/internal/models"
)

var (
	// ErrNotFound means no record exists for the given id or stored name.
	ErrNotFound = errors.New("store: document not found")

	// ErrUnavailable wraps infrastructure failures. Callers must not assume
	// the mutation applied; higher layers retry or let the monitor reconcile.
	ErrUnavailable = errors.New("store: unavailable")

	// ErrStaleStatus means a status-guarded update matched no row: another
	// actor already transitioned the record. Single-writer-per-id fencing.
	ErrStaleStatus = errors.New("store: status changed concurrently")
)

// Store is the durable record of every submitted document. All status
// transitions go through the guarded mutation methods; each guards on the
// expected current status so concurrent writers cannot clobber each other.
type Store interface {
	Create(ctx context.Context, doc *models.Document) (int64, error)
	Get(ctx context.Context, id int64) (*models.Document, error)
	GetByStoredName(ctx context.Context, storedName string) (*models.Document, error)
	ListByStatus(ctx context.Context, status models.Status, limit int) ([]models.Document, error)
	CountByStatus(ctx context.Context) (map[models.Status]int64, error)

	// MarkProcessing transitions pending/reprocessing -> processing.
	MarkProcessing(ctx context.Context, id int64) error

	// SaveResult persists extraction output while the record is still
	// processing, so a crash before completion never loses the fields.
	SaveResult(ctx context.Context, id int64, text string, fields *models.Fields) error

	// MarkCompleted finalizes an in-flight (processing or reprocessing)
	// record. The reprocessing case closes the crash window where the file
	// already reached the completed area but the record was queued for retry.
	MarkCompleted(ctx context.Context, id int64, storageRef string) error

	// MarkFailed terminally fails a record from any non-terminal status.
	MarkFailed(ctx context.Context, id int64, reason string) error

	// BeginRetry bumps the retry counter and parks the record in
	// reprocessing. The increment is durable before any file moves, so a
	// crash mid-transition can never produce an infinite retry loop. A
	// record already in reprocessing is rejected: its increment happened,
	// and repeating it would push the counter past the ceiling.
	BeginRetry(ctx context.Context, id int64, reason string) (int, error)

	// FinishRetry returns a reprocessing record to pending.
	FinishRetry(ctx context.Context, id int64) error

	// Resubmit resets a failed record for manual reprocessing.
	Resubmit(ctx context.Context, id int64) error

	// TouchEnqueued records that a queue reference was published for id.
	TouchEnqueued(ctx context.Context, id int64, at time.Time) error

	// ListStaleProcessing returns records that claim to be in flight but
	// have not been updated within the staleness window (crashed worker).
	ListStaleProcessing(ctx context.Context, olderThan time.Duration) ([]models.Document, error)

	// ListFailed returns recently failed records for triage.
	ListFailed(ctx context.Context, limit int) ([]models.Document, error)
}
