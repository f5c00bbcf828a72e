package index

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/pathforge/pkg/models"
)

// FragmentStore is the persistence contract for indexed fragments. All
// operations are tenant-scoped: a repository never sees another repository's
// fragments.
type FragmentStore interface {
	// Status reports whether a fragment identity exists and its status.
	Status(ctx context.Context, repositoryID, fragmentID string) (models.FragmentStatus, bool, error)

	// Put upserts one fragment (vector included, unless pending).
	Put(ctx context.Context, fragment models.CodeFragment) error

	// RetireFile deletes the file's fragments whose identity is not in live.
	// Returns the number of retired identities.
	RetireFile(ctx context.Context, repositoryID, filePath string, live map[string]bool) (int, error)

	// Search returns up to k fragments ranked by descending cosine similarity.
	Search(ctx context.Context, repositoryID string, vector []float32, k int) ([]models.FragmentMatch, error)

	// Pending lists fragments still awaiting an embedding.
	Pending(ctx context.Context, repositoryID string) ([]models.CodeFragment, error)

	// Count reports the number of stored fragments for a repository.
	Count(ctx context.Context, repositoryID string) (int, error)
}

// MemoryStore is an in-process FragmentStore with exact cosine scanning.
// Used by tests and single-node deployments without Postgres.
type MemoryStore struct {
	mu    sync.RWMutex
	repos map[string]map[string]models.CodeFragment // repositoryID -> fragmentID -> fragment
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{repos: make(map[string]map[string]models.CodeFragment)}
}

func (s *MemoryStore) Status(_ context.Context, repositoryID, fragmentID string) (models.FragmentStatus, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	frag, ok := s.repos[repositoryID][fragmentID]
	if !ok {
		return "", false, nil
	}
	return frag.Status, true, nil
}

func (s *MemoryStore) Put(_ context.Context, fragment models.CodeFragment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	repo, ok := s.repos[fragment.RepositoryID]
	if !ok {
		repo = make(map[string]models.CodeFragment)
		s.repos[fragment.RepositoryID] = repo
	}
	repo[fragment.ID] = fragment
	return nil
}

func (s *MemoryStore) RetireFile(_ context.Context, repositoryID, filePath string, live map[string]bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	retired := 0
	for id, frag := range s.repos[repositoryID] {
		if frag.FilePath == filePath && !live[id] {
			delete(s.repos[repositoryID], id)
			retired++
		}
	}
	return retired, nil
}

func (s *MemoryStore) Search(_ context.Context, repositoryID string, vector []float32, k int) ([]models.FragmentMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []models.FragmentMatch
	for _, frag := range s.repos[repositoryID] {
		if frag.Status != models.FragmentIndexed || len(frag.Embedding) == 0 {
			continue
		}
		matches = append(matches, models.FragmentMatch{
			Fragment:   frag,
			Similarity: CosineSimilarity(vector, frag.Embedding),
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].Fragment.ID < matches[j].Fragment.ID
	})

	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func (s *MemoryStore) Pending(_ context.Context, repositoryID string) ([]models.CodeFragment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pending []models.CodeFragment
	for _, frag := range s.repos[repositoryID] {
		if frag.Status == models.FragmentPending {
			pending = append(pending, frag)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].ID < pending[j].ID })
	return pending, nil
}

func (s *MemoryStore) Count(_ context.Context, repositoryID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.repos[repositoryID]), nil
}

// CosineSimilarity computes the cosine of the angle between two vectors.
// Mismatched or zero-length vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
