package progress

import (
	"context"
	"sort"
	"sync"

	"github.com/pathforge/pkg/models"
)

// ProgressStore persists one record per (learner, task) pair. Implementations
// must make Put atomic per pair; the coordinator serializes writers above this
// interface, so stores do not need their own revision checks.
type ProgressStore interface {
	// Get returns the stored record, or ok=false when the pair has none.
	Get(ctx context.Context, learnerID, taskID string) (models.ProgressRecord, bool, error)
	// Put creates or replaces the record for its (learner, task) pair.
	Put(ctx context.Context, record models.ProgressRecord) error
	// ByLearner returns all of a learner's records ordered by task id.
	ByLearner(ctx context.Context, learnerID string) ([]models.ProgressRecord, error)
}

type pairKey struct {
	learner string
	task    string
}

// MemoryStore is the in-process ProgressStore.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[pairKey]models.ProgressRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[pairKey]models.ProgressRecord)}
}

func (s *MemoryStore) Get(_ context.Context, learnerID, taskID string) (models.ProgressRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[pairKey{learnerID, taskID}]
	return rec, ok, nil
}

func (s *MemoryStore) Put(_ context.Context, record models.ProgressRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[pairKey{record.LearnerID, record.TaskID}] = record
	return nil
}

func (s *MemoryStore) ByLearner(_ context.Context, learnerID string) ([]models.ProgressRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ProgressRecord
	for key, rec := range s.records {
		if key.learner == learnerID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out, nil
}
