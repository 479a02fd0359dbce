package publishlog

import (
	"context"
	"sync"
	"time"

	"github.com/quickreview/pkg/models"
)

// MemoryStore keeps the log in process memory. Records do not survive the process.
type MemoryStore struct {
	mu      sync.RWMutex
	records []models.PublishRecord
	locks   *keyedMutex
	closed  bool
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{locks: newKeyedMutex()}
}

func (s *MemoryStore) Lock(ctx context.Context, key Key) (func(), error) {
	return s.locks.Lock(ctx, key.String())
}

func (s *MemoryStore) Latest(ctx context.Context, key Key, contentHash string) (*models.PublishRecord, error) {
	return s.newest(func(r *models.PublishRecord) bool {
		return matches(r, key) && r.ContentHash == contentHash
	})
}

func (s *MemoryStore) LatestComplete(ctx context.Context, key Key, revision string) (*models.PublishRecord, error) {
	return s.newest(func(r *models.PublishRecord) bool {
		return matches(r, key) && r.Revision == revision && r.Status == models.PublishComplete
	})
}

func (s *MemoryStore) Append(ctx context.Context, rec *models.PublishRecord) error {
	if err := validate(rec); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	rec.ID = int64(len(s.records) + 1)
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	cp := *rec
	cp.PostedComments = append([]string(nil), rec.PostedComments...)
	s.records = append(s.records, cp)
	return nil
}

func (s *MemoryStore) List(ctx context.Context, filter Filter) ([]models.PublishRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.PublishRecord
	for i := len(s.records) - 1; i >= 0; i-- {
		r := s.records[i]
		if filter.Platform != "" && r.Platform != filter.Platform {
			continue
		}
		if filter.PRID != "" && r.PRID != filter.PRID {
			continue
		}
		out = append(out, r)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *MemoryStore) newest(match func(*models.PublishRecord) bool) (*models.PublishRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	for i := len(s.records) - 1; i >= 0; i-- {
		if match(&s.records[i]) {
			r := s.records[i]
			return &r, nil
		}
	}
	return nil, nil
}

func matches(r *models.PublishRecord, key Key) bool {
	return r.Platform == key.Platform && r.PRID == key.PRID
}
