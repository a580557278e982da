// Package worker runs the fixed pool that drains the queue: claim the file,
// extract its text and fields, then finalize or hand the failure to the
// retry controller.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/C1ean-dev/process/internal/blob"
	"github.com/C1ean-dev/process/internal/events"
	"github.com/C1ean-dev/process/internal/extract"
	"github.com/C1ean-dev/process/internal/metrics"
	"github.com/C1ean-dev/process/internal/models"
	"github.com/C1ean-dev/process/internal/queue"
	"github.com/C1ean-dev/process/internal/retry"
	"github.com/C1ean-dev/process/internal/staging"
	"github.com/C1ean-dev/process/internal/store"
)

const DefaultPoolSize = 4

type Pool struct {
	store     store.Store
	dirs      *staging.Dirs
	consumer  queue.Consumer
	extractor Extractor
	retry     *retry.Controller
	archive   blob.Storage // nil disables archival
	events    events.Publisher
	logger    *slog.Logger
	size      int
	wg        sync.WaitGroup
}

// Extractor is what the pool needs from the OCR pipeline. Tests substitute
// a fake; production passes *extract.Extractor.
type Extractor interface {
	Extract(ctx context.Context, path string) (extract.Result, error)
}

type Options struct {
	Size    int
	Archive blob.Storage
	Events  events.Publisher
}

func NewPool(st store.Store, dirs *staging.Dirs, consumer queue.Consumer, ex Extractor, rc *retry.Controller, opts Options, logger *slog.Logger) *Pool {
	if opts.Size <= 0 {
		opts.Size = DefaultPoolSize
	}
	if opts.Events == nil {
		opts.Events = events.NoopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		store:     st,
		dirs:      dirs,
		consumer:  consumer,
		extractor: ex,
		retry:     rc,
		archive:   opts.Archive,
		events:    opts.Events,
		logger:    logger,
		size:      opts.Size,
	}
}

// Start launches the pool. Workers exit when ctx is cancelled or the queue
// channel closes; Wait blocks until the last in-flight document finishes.
func (p *Pool) Start(ctx context.Context) {
	p.logger.Info("starting worker pool", "size", p.size)
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
}

func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) run(ctx context.Context, id int) {
	defer p.wg.Done()
	logger := p.logger.With(slog.Int("worker", id))
	for {
		select {
		case <-ctx.Done():
			logger.Info("worker stopping")
			return
		case msg, ok := <-p.consumer.Messages():
			if !ok {
				logger.Info("queue closed, worker stopping")
				return
			}
			p.process(ctx, msg, logger)
		}
	}
}

func (p *Pool) process(ctx context.Context, msg queue.Message, logger *slog.Logger) {
	doc, err := p.store.Get(ctx, msg.TaskID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			logger.Warn("queued reference has no record, dropping", "document_id", msg.TaskID)
		} else {
			// Leave it; the monitor republishes anything still pending.
			logger.Error("record lookup failed, dropping reference", "document_id", msg.TaskID, "error", err)
		}
		metrics.DocumentsFinished.WithLabelValues(metrics.OutcomeDropped).Inc()
		return
	}
	logger = logger.With(
		slog.Int64("document_id", doc.ID),
		slog.String("stored_name", doc.StoredName),
	)

	if doc.Status.Terminal() {
		logger.Debug("reference for finished document, dropping")
		metrics.DocumentsFinished.WithLabelValues(metrics.OutcomeDropped).Inc()
		return
	}

	// Claiming is the atomic file move. Exactly one worker wins; the rest
	// see a conflict and drop the duplicate reference.
	if _, err := p.dirs.Relocate(doc.StoredName, staging.AreaPending, staging.AreaProcessing); err != nil {
		if errors.Is(err, staging.ErrConflict) {
			logger.Debug("claim lost, dropping duplicate reference")
			metrics.RelocationConflicts.WithLabelValues("pending_processing").Inc()
			metrics.DocumentsFinished.WithLabelValues(metrics.OutcomeDropped).Inc()
			return
		}
		logger.Error("claim relocation failed", "error", err)
		metrics.DocumentsFinished.WithLabelValues(metrics.OutcomeDropped).Inc()
		return
	}

	if err := p.store.MarkProcessing(ctx, doc.ID); err != nil {
		if errors.Is(err, store.ErrStaleStatus) {
			// Record changed under us after we took the file. Put the file
			// back and let whoever owns the record proceed.
			logger.Warn("record transitioned during claim, returning file to pending")
			if _, relErr := p.dirs.Relocate(doc.StoredName, staging.AreaProcessing, staging.AreaPending); relErr != nil && !errors.Is(relErr, staging.ErrConflict) {
				logger.Error("failed to return file to pending", "error", relErr)
			}
		} else {
			logger.Error("mark processing failed", "error", err)
		}
		metrics.DocumentsFinished.WithLabelValues(metrics.OutcomeDropped).Inc()
		return
	}

	metrics.DocumentsClaimed.Inc()
	if !msg.EnqueuedAt.IsZero() {
		metrics.QueueWaitTime.Observe(time.Since(msg.EnqueuedAt).Seconds())
	}
	p.events.Publish(events.Event{
		Type:       events.TypeClaimed,
		Message:    "processing started",
		DocumentID: doc.ID,
		StoredName: doc.StoredName,
		Status:     string(models.StatusProcessing),
		Retries:    doc.Retries,
	})
	logger.Info("processing document", "attempt", doc.Retries+1)

	path := p.dirs.Path(staging.AreaProcessing, doc.StoredName)
	result, err := p.extractor.Extract(ctx, path)
	if err == nil && strings.TrimSpace(result.Text) == "" {
		err = extract.Transient("empty_text", fmt.Errorf("extraction produced no text"))
	}
	if err == nil {
		metrics.ExtractionDuration.WithLabelValues(result.Method).Observe(result.Duration.Seconds())
		err = p.finalize(ctx, doc, result)
		if err == nil {
			metrics.DocumentsFinished.WithLabelValues(metrics.OutcomeCompleted).Inc()
			p.events.Publish(events.Event{
				Type:       events.TypeCompleted,
				Message:    "document completed",
				DocumentID: doc.ID,
				StoredName: doc.StoredName,
				Status:     string(models.StatusCompleted),
			})
			logger.Info("document completed", "method", result.Method, "pages", result.Pages)
			return
		}
	}

	p.fail(ctx, doc, err, logger)
}

// finalize persists the result, optionally archives the file, then moves it
// to the completed area and closes out the record. The result is saved
// before the file moves so a crash in between loses no extracted data.
func (p *Pool) finalize(ctx context.Context, doc *models.Document, result extract.Result) error {
	if err := p.store.SaveResult(ctx, doc.ID, result.Text, result.Fields); err != nil {
		return extract.Transient("save_result", err)
	}

	ref := ""
	if p.archive != nil {
		key, err := p.upload(ctx, doc.StoredName)
		if err != nil {
			// The upload happens while the file is still in processing, so a
			// failed attempt retries with the file where it started.
			return extract.Transient("archive_upload", err)
		}
		ref = key
	}

	if _, err := p.dirs.Relocate(doc.StoredName, staging.AreaProcessing, staging.AreaCompleted); err != nil {
		if errors.Is(err, staging.ErrConflict) {
			metrics.RelocationConflicts.WithLabelValues("processing_completed").Inc()
		}
		return extract.Transient("finalize_relocate", err)
	}
	if err := p.store.MarkCompleted(ctx, doc.ID, ref); err != nil {
		return extract.Transient("finalize_record", err)
	}
	return nil
}

func (p *Pool) upload(ctx context.Context, storedName string) (string, error) {
	f, err := os.Open(p.dirs.Path(staging.AreaProcessing, storedName))
	if err != nil {
		return "", err
	}
	defer f.Close()
	if err := p.archive.Put(ctx, storedName, f); err != nil {
		return "", err
	}
	return storedName, nil
}

func (p *Pool) fail(ctx context.Context, doc *models.Document, cause error, logger *slog.Logger) {
	logger.Warn("processing attempt failed", "reason", cause.Error())
	outcome, err := p.retry.HandleFailure(ctx, doc, cause)
	if err != nil {
		logger.Error("failure handling did not complete", "error", err)
	}
	switch outcome {
	case retry.OutcomeRequeued:
		metrics.DocumentsFinished.WithLabelValues(metrics.OutcomeRequeued).Inc()
		p.events.Publish(events.Event{
			Type:       events.TypeRequeued,
			Message:    cause.Error(),
			DocumentID: doc.ID,
			StoredName: doc.StoredName,
			Status:     string(models.StatusPending),
			Retries:    doc.Retries + 1,
		})
	case retry.OutcomeFailed:
		metrics.DocumentsFinished.WithLabelValues(metrics.OutcomeFailed).Inc()
		p.events.Publish(events.Event{
			Type:       events.TypeFailed,
			Message:    cause.Error(),
			DocumentID: doc.ID,
			StoredName: doc.StoredName,
			Status:     string(models.StatusFailed),
		})
	case retry.OutcomePromoted:
		metrics.DocumentsFinished.WithLabelValues(metrics.OutcomeCompleted).Inc()
		p.events.Publish(events.Event{
			Type:       events.TypeCompleted,
			Message:    "record promoted to match completed file",
			DocumentID: doc.ID,
			StoredName: doc.StoredName,
			Status:     string(models.StatusCompleted),
		})
	default:
		metrics.DocumentsFinished.WithLabelValues(metrics.OutcomeDropped).Inc()
	}
}
