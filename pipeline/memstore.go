package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/docutag/linkmeta/linkcheck"
	"github.com/docutag/linkmeta/models"
)

// MemoryStore is a RecordStore kept in process memory. The service uses it
// when no database is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*models.Record
	now     func() time.Time
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*models.Record), now: time.Now}
}

func (m *MemoryStore) CreateRecord(ctx context.Context, url string) (*models.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	rec := &models.Record{
		ID:        uuid.New().String(),
		URL:       url,
		Status:    models.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.records[rec.ID] = rec
	out := *rec
	return &out, nil
}

func (m *MemoryStore) GetRecord(ctx context.Context, id string) (*models.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	out := *rec
	return &out, nil
}

func (m *MemoryStore) update(id string, fn func(*models.Record)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	fn(rec)
	rec.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) UpdateMetadata(ctx context.Context, id string, u models.MetadataUpdate) error {
	return m.update(id, func(rec *models.Record) {
		rec.Status = u.Status
		rec.Metadata = u.Metadata
		rec.Error = u.Error
		if u.ImagePath != "" {
			rec.ImagePath = u.ImagePath
		}
	})
}

func (m *MemoryStore) UpdateArticle(ctx context.Context, id string, article *models.ArticleContent) error {
	return m.update(id, func(rec *models.Record) {
		rec.Article = article
	})
}

func (m *MemoryStore) UpdateLinkStatus(ctx context.Context, id string, result models.LinkCheckResult, checkedAt time.Time) error {
	return m.update(id, func(rec *models.Record) {
		rec.LinkStatus = result.Status
		rec.RedirectURL = result.RedirectURL
		rec.LinkCheckedAt = &checkedAt
	})
}

// ListLinkTargets returns READY records, least recently checked first
func (m *MemoryStore) ListLinkTargets(ctx context.Context) ([]linkcheck.Target, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ready []*models.Record
	for _, rec := range m.records {
		if rec.Status == models.StatusReady {
			ready = append(ready, rec)
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		a, b := ready[i].LinkCheckedAt, ready[j].LinkCheckedAt
		switch {
		case a == nil && b == nil:
			return ready[i].CreatedAt.Before(ready[j].CreatedAt)
		case a == nil:
			return true
		case b == nil:
			return false
		}
		return a.Before(*b)
	})

	targets := make([]linkcheck.Target, len(ready))
	for i, rec := range ready {
		targets[i] = linkcheck.Target{ID: rec.ID, URL: rec.URL}
	}
	return targets, nil
}
