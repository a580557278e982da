package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/C1ean-dev/process/internal/models"
)

const documentColumns = `
	id, original_name, stored_name, status, retries, extracted_text,
	fields_json, storage_ref, failure_reason, last_enqueued_at,
	created_at, updated_at`

// Postgres is the production Store backed by a pgx pool.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

func (s *Postgres) Create(ctx context.Context, doc *models.Document) (int64, error) {
	fieldsJSON, err := doc.FieldsJSON()
	if err != nil {
		return 0, err
	}
	query := `
		INSERT INTO documents (original_name, stored_name, status, retries, fields_json, last_enqueued_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	var id int64
	err = s.pool.QueryRow(ctx, query,
		doc.OriginalName, doc.StoredName, doc.Status, doc.Retries, fieldsJSON, doc.LastEnqueuedAt,
	).Scan(&id)
	if err != nil {
		return 0, wrapInfra(err)
	}
	return id, nil
}

func (s *Postgres) Get(ctx context.Context, id int64) (*models.Document, error) {
	query := `SELECT` + documentColumns + ` FROM documents WHERE id = $1`
	return s.queryOne(ctx, query, id)
}

func (s *Postgres) GetByStoredName(ctx context.Context, storedName string) (*models.Document, error) {
	query := `SELECT` + documentColumns + ` FROM documents WHERE stored_name = $1`
	return s.queryOne(ctx, query, storedName)
}

func (s *Postgres) queryOne(ctx context.Context, query string, arg any) (*models.Document, error) {
	doc, err := scanDocument(s.pool.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, wrapInfra(err)
	}
	return doc, nil
}

func (s *Postgres) ListByStatus(ctx context.Context, status models.Status, limit int) ([]models.Document, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT` + documentColumns + `
		FROM documents WHERE status = $1
		ORDER BY created_at DESC LIMIT $2`
	return s.queryMany(ctx, query, status, limit)
}

func (s *Postgres) ListFailed(ctx context.Context, limit int) ([]models.Document, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT` + documentColumns + `
		FROM documents WHERE status = 'failed'
		ORDER BY updated_at DESC LIMIT $1`
	return s.queryMany(ctx, query, limit)
}

func (s *Postgres) ListStaleProcessing(ctx context.Context, olderThan time.Duration) ([]models.Document, error) {
	query := `SELECT` + documentColumns + `
		FROM documents
		WHERE status IN ('processing', 'reprocessing')
		  AND updated_at < NOW() - $1::interval
		ORDER BY updated_at ASC`
	return s.queryMany(ctx, query, olderThan.String())
}

func (s *Postgres) queryMany(ctx context.Context, query string, args ...any) ([]models.Document, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapInfra(err)
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, wrapInfra(err)
		}
		docs = append(docs, *doc)
	}
	return docs, wrapInfra(rows.Err())
}

func (s *Postgres) CountByStatus(ctx context.Context) (map[models.Status]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM documents GROUP BY status`)
	if err != nil {
		return nil, wrapInfra(err)
	}
	defer rows.Close()

	counts := make(map[models.Status]int64)
	for rows.Next() {
		var status models.Status
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, wrapInfra(err)
		}
		counts[status] = count
	}
	return counts, wrapInfra(rows.Err())
}

func (s *Postgres) MarkProcessing(ctx context.Context, id int64) error {
	query := `
		UPDATE documents
		SET status = 'processing', updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'reprocessing')
	`
	return s.guarded(ctx, query, id)
}

func (s *Postgres) SaveResult(ctx context.Context, id int64, text string, fields *models.Fields) error {
	var fieldsJSON json.RawMessage
	if fields != nil {
		data, err := json.Marshal(fields)
		if err != nil {
			return err
		}
		fieldsJSON = data
	}
	query := `
		UPDATE documents
		SET extracted_text = $2, fields_json = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'processing'
	`
	return s.guarded(ctx, query, id, text, fieldsJSON)
}

func (s *Postgres) MarkCompleted(ctx context.Context, id int64, storageRef string) error {
	query := `
		UPDATE documents
		SET status = 'completed',
		    storage_ref = NULLIF($2, ''),
		    failure_reason = NULL,
		    updated_at = NOW()
		WHERE id = $1 AND status IN ('processing', 'reprocessing')
	`
	return s.guarded(ctx, query, id, storageRef)
}

func (s *Postgres) MarkFailed(ctx context.Context, id int64, reason string) error {
	query := `
		UPDATE documents
		SET status = 'failed', failure_reason = $2, updated_at = NOW()
		WHERE id = $1 AND status NOT IN ('completed', 'failed')
	`
	return s.guarded(ctx, query, id, truncate(reason, maxReasonLen))
}

func (s *Postgres) BeginRetry(ctx context.Context, id int64, reason string) (int, error) {
	query := `
		UPDATE documents
		SET status = 'reprocessing',
		    retries = retries + 1,
		    failure_reason = $2,
		    updated_at = NOW()
		WHERE id = $1 AND status IN ('processing', 'pending')
		RETURNING retries
	`
	var retries int
	err := s.pool.QueryRow(ctx, query, id, truncate(reason, maxReasonLen)).Scan(&retries)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, s.missingOrStale(ctx, id)
		}
		return 0, wrapInfra(err)
	}
	return retries, nil
}

func (s *Postgres) FinishRetry(ctx context.Context, id int64) error {
	query := `
		UPDATE documents
		SET status = 'pending', updated_at = NOW()
		WHERE id = $1 AND status = 'reprocessing'
	`
	return s.guarded(ctx, query, id)
}

func (s *Postgres) Resubmit(ctx context.Context, id int64) error {
	query := `
		UPDATE documents
		SET status = 'pending',
		    retries = 0,
		    failure_reason = NULL,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'failed'
	`
	return s.guarded(ctx, query, id)
}

func (s *Postgres) TouchEnqueued(ctx context.Context, id int64, at time.Time) error {
	query := `UPDATE documents SET last_enqueued_at = $2 WHERE id = $1`
	_, err := s.pool.Exec(ctx, query, id, at)
	return wrapInfra(err)
}

// guarded runs a status-fenced UPDATE whose first argument is the record id.
// Zero rows means either the id does not exist or the status guard lost a
// race, and callers need to tell those apart.
func (s *Postgres) guarded(ctx context.Context, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return wrapInfra(err)
	}
	if tag.RowsAffected() == 0 {
		return s.missingOrStale(ctx, args[0])
	}
	return nil
}

func (s *Postgres) missingOrStale(ctx context.Context, id any) error {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM documents WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return wrapInfra(err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrStaleStatus
}

const maxReasonLen = 1024

func truncate(value string, maxLen int) string {
	if len(value) <= maxLen {
		return value
	}
	return value[:maxLen]
}

func wrapInfra(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*models.Document, error) {
	var doc models.Document
	var fieldsJSON []byte
	var text *string
	if err := row.Scan(
		&doc.ID, &doc.OriginalName, &doc.StoredName, &doc.Status, &doc.Retries,
		&text, &fieldsJSON, &doc.StorageRef, &doc.FailureReason,
		&doc.LastEnqueuedAt, &doc.CreatedAt, &doc.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if text != nil {
		doc.ExtractedText = *text
	}
	if len(fieldsJSON) > 0 {
		var fields models.Fields
		if err := json.Unmarshal(fieldsJSON, &fields); err != nil {
			return nil, fmt.Errorf("decode fields_json for document %d: %w", doc.ID, err)
		}
		doc.Fields = &fields
	}
	return &doc, nil
}
