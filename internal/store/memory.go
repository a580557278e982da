package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/C1ean-dev/process/internal/models"
)

// Memory is an in-process Store used by tests and single-node trials. It
// keeps the same status-guard semantics as the Postgres implementation.
type Memory struct {
	mu     sync.Mutex
	nextID int64
	docs   map[int64]*models.Document
	byName map[string]int64
}

func NewMemory() *Memory {
	return &Memory{
		nextID: 1,
		docs:   make(map[int64]*models.Document),
		byName: make(map[string]int64),
	}
}

func (m *Memory) Create(_ context.Context, doc *models.Document) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++

	stored := *doc
	stored.ID = id
	if stored.Status == "" {
		stored.Status = models.StatusPending
	}
	now := time.Now()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	m.docs[id] = &stored
	m.byName[stored.StoredName] = id
	return id, nil
}

func (m *Memory) Get(_ context.Context, id int64) (*models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getLocked(id)
}

func (m *Memory) GetByStoredName(_ context.Context, storedName string) (*models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byName[storedName]
	if !ok {
		return nil, ErrNotFound
	}
	return m.getLocked(id)
}

func (m *Memory) getLocked(id int64) (*models.Document, error) {
	doc, ok := m.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *doc
	if doc.Fields != nil {
		fields := *doc.Fields
		copied.Fields = &fields
	}
	return &copied, nil
}

func (m *Memory) ListByStatus(_ context.Context, status models.Status, limit int) ([]models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var docs []models.Document
	for _, doc := range m.docs {
		if doc.Status == status {
			docs = append(docs, *doc)
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].CreatedAt.After(docs[j].CreatedAt) })
	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}
	return docs, nil
}

func (m *Memory) ListFailed(ctx context.Context, limit int) ([]models.Document, error) {
	return m.ListByStatus(ctx, models.StatusFailed, limit)
}

func (m *Memory) ListStaleProcessing(_ context.Context, olderThan time.Duration) ([]models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	var docs []models.Document
	for _, doc := range m.docs {
		inFlight := doc.Status == models.StatusProcessing || doc.Status == models.StatusReprocessing
		if inFlight && doc.UpdatedAt.Before(cutoff) {
			docs = append(docs, *doc)
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].UpdatedAt.Before(docs[j].UpdatedAt) })
	return docs, nil
}

func (m *Memory) CountByStatus(_ context.Context) (map[models.Status]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[models.Status]int64)
	for _, doc := range m.docs {
		counts[doc.Status]++
	}
	return counts, nil
}

func (m *Memory) mutate(id int64, allowed []models.Status, apply func(*models.Document)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return ErrNotFound
	}
	permitted := false
	for _, status := range allowed {
		if doc.Status == status {
			permitted = true
			break
		}
	}
	if !permitted {
		return ErrStaleStatus
	}
	apply(doc)
	doc.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) MarkProcessing(_ context.Context, id int64) error {
	return m.mutate(id, []models.Status{models.StatusPending, models.StatusReprocessing}, func(doc *models.Document) {
		doc.Status = models.StatusProcessing
	})
}

func (m *Memory) SaveResult(_ context.Context, id int64, text string, fields *models.Fields) error {
	return m.mutate(id, []models.Status{models.StatusProcessing}, func(doc *models.Document) {
		doc.ExtractedText = text
		doc.Fields = fields
	})
}

func (m *Memory) MarkCompleted(_ context.Context, id int64, storageRef string) error {
	return m.mutate(id, []models.Status{models.StatusProcessing, models.StatusReprocessing}, func(doc *models.Document) {
		doc.Status = models.StatusCompleted
		doc.FailureReason = nil
		if storageRef != "" {
			ref := storageRef
			doc.StorageRef = &ref
		}
	})
}

func (m *Memory) MarkFailed(_ context.Context, id int64, reason string) error {
	nonTerminal := []models.Status{models.StatusPending, models.StatusProcessing, models.StatusReprocessing}
	return m.mutate(id, nonTerminal, func(doc *models.Document) {
		doc.Status = models.StatusFailed
		trimmed := truncate(reason, maxReasonLen)
		doc.FailureReason = &trimmed
	})
}

func (m *Memory) BeginRetry(_ context.Context, id int64, reason string) (int, error) {
	var retries int
	allowed := []models.Status{models.StatusProcessing, models.StatusPending}
	err := m.mutate(id, allowed, func(doc *models.Document) {
		doc.Status = models.StatusReprocessing
		doc.Retries++
		trimmed := truncate(reason, maxReasonLen)
		doc.FailureReason = &trimmed
		retries = doc.Retries
	})
	return retries, err
}

func (m *Memory) FinishRetry(_ context.Context, id int64) error {
	return m.mutate(id, []models.Status{models.StatusReprocessing}, func(doc *models.Document) {
		doc.Status = models.StatusPending
	})
}

func (m *Memory) Resubmit(_ context.Context, id int64) error {
	return m.mutate(id, []models.Status{models.StatusFailed}, func(doc *models.Document) {
		doc.Status = models.StatusPending
		doc.Retries = 0
		doc.FailureReason = nil
	})
}

func (m *Memory) TouchEnqueued(_ context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return ErrNotFound
	}
	stamped := at
	doc.LastEnqueuedAt = &stamped
	return nil
}
