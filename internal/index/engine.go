// Package index implements the semantic retrieval engine: it embeds code
// fragments, stores them with their metadata, serves top-k similarity queries,
// and supports incremental re-indexing per fragment identity.
package index

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/pathforge/pkg/models"
)

// Embedder is the embedding contract the engine depends on. Satisfied by
// ai.ResilientEmbedder.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Config tunes the engine.
type Config struct {
	EmbeddingDimensions int // expected vector size; 0 disables the check
	MaxWorkers          int // concurrent embedding calls per batch
}

// BatchResult reports the outcome of an indexing batch. Partial success is a
// first-class outcome: pending fragments are stored without vectors and can be
// recovered with ReindexPending.
type BatchResult struct {
	Indexed    int      `json:"indexed"`
	Unchanged  int      `json:"unchanged"`
	Retired    int      `json:"retired"`
	Failed     int      `json:"failed"`
	Pending    int      `json:"pending"`
	PendingIDs []string `json:"pending_ids,omitempty"`
}

// Engine coordinates chunked fragments, the embedding provider, and the
// fragment store.
type Engine struct {
	store    FragmentStore
	embedder Embedder
	cfg      Config

	// writeLocks serializes the final index write per fragment identity so
	// concurrent re-indexing of the same identity cannot lose updates.
	writeLocks sync.Map // fragmentID -> *sync.Mutex
}

// New creates an Engine.
func New(store FragmentStore, embedder Embedder, cfg Config) *Engine {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	return &Engine{store: store, embedder: embedder, cfg: cfg}
}

// Index embeds and stores fragments for one repository. Idempotent per
// fragment identity: an identity already indexed is a no-op; changed file
// content shows up as new identities and the superseded ones are retired.
// Embedding failures degrade the affected fragments to index_pending instead
// of failing the batch.
func (e *Engine) Index(ctx context.Context, repositoryID string, fragments []models.CodeFragment) (BatchResult, error) {
	var result BatchResult
	var mu sync.Mutex

	// Identity set per file, for retiring superseded fragments afterwards.
	liveByFile := make(map[string]map[string]bool)
	var toEmbed []models.CodeFragment

	for _, frag := range fragments {
		if frag.RepositoryID != repositoryID {
			return result, fmt.Errorf("fragment %s belongs to repository %s, not %s",
				frag.ID, frag.RepositoryID, repositoryID)
		}

		if liveByFile[frag.FilePath] == nil {
			liveByFile[frag.FilePath] = make(map[string]bool)
		}
		liveByFile[frag.FilePath][frag.ID] = true

		status, exists, err := e.store.Status(ctx, repositoryID, frag.ID)
		if err != nil {
			return result, fmt.Errorf("failed to check fragment %s: %w", frag.ID, err)
		}
		if exists && status == models.FragmentIndexed {
			result.Unchanged++
			continue
		}
		toEmbed = append(toEmbed, frag)
	}

	// Bounded worker pool; multiple fragments embed concurrently, only the
	// final write per identity is serialized.
	sem := make(chan struct{}, e.cfg.MaxWorkers)
	var wg sync.WaitGroup

	for _, frag := range toEmbed {
		frag := frag
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			outcome := e.embedOne(ctx, frag)

			mu.Lock()
			switch outcome {
			case embedOK:
				result.Indexed++
			case embedPending:
				result.Pending++
				result.PendingIDs = append(result.PendingIDs, frag.ID)
			case embedFailed:
				result.Failed++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	for filePath, live := range liveByFile {
		retired, err := e.store.RetireFile(ctx, repositoryID, filePath, live)
		if err != nil {
			return result, fmt.Errorf("failed to retire fragments of %s: %w", filePath, err)
		}
		result.Retired += retired
	}

	log.Info().Str("repository", repositoryID).
		Int("indexed", result.Indexed).Int("unchanged", result.Unchanged).
		Int("retired", result.Retired).Int("pending", result.Pending).
		Int("failed", result.Failed).
		Msg("indexing batch finished")

	return result, nil
}

type embedOutcome int

const (
	embedOK embedOutcome = iota
	embedPending
	embedFailed
)

func (e *Engine) embedOne(ctx context.Context, frag models.CodeFragment) embedOutcome {
	vectors, err := e.embedder.EmbedTexts(ctx, []string{frag.Text})
	if err != nil {
		// Provider exhausted its retries: keep the fragment, mark it pending.
		log.Warn().Str("fragment", frag.ID).Str("file", frag.FilePath).Err(err).
			Msg("embedding failed, fragment marked index_pending")
		frag.Status = models.FragmentPending
		frag.Embedding = nil
		if perr := e.putLocked(ctx, frag); perr != nil {
			log.Error().Str("fragment", frag.ID).Err(perr).Msg("failed to store pending fragment")
			return embedFailed
		}
		return embedPending
	}

	vector := vectors[0]
	if e.cfg.EmbeddingDimensions > 0 && len(vector) != e.cfg.EmbeddingDimensions {
		log.Error().Str("fragment", frag.ID).
			Int("got", len(vector)).Int("want", e.cfg.EmbeddingDimensions).
			Msg("embedding dimensionality mismatch")
		return embedFailed
	}

	frag.Embedding = vector
	frag.Status = models.FragmentIndexed
	if err := e.putLocked(ctx, frag); err != nil {
		log.Error().Str("fragment", frag.ID).Err(err).Msg("failed to store fragment")
		return embedFailed
	}
	return embedOK
}

// putLocked performs the index write under the fragment's identity lock:
// at most one writer per identity at a time.
func (e *Engine) putLocked(ctx context.Context, frag models.CodeFragment) error {
	lockAny, _ := e.writeLocks.LoadOrStore(frag.ID, &sync.Mutex{})
	lock := lockAny.(*sync.Mutex)
	lock.Lock()
	defer lock.Unlock()
	return e.store.Put(ctx, frag)
}

// Query returns up to k fragments of the repository ranked by descending
// cosine similarity against the query text. Fewer than k stored fragments is
// not an error; the result is simply shorter.
func (e *Engine) Query(ctx context.Context, repositoryID, text string, k int) ([]models.FragmentMatch, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}

	vector, err := e.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	matches, err := e.store.Search(ctx, repositoryID, vector, k)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	return matches, nil
}

// ReindexPending retries embedding for fragments stuck in index_pending.
func (e *Engine) ReindexPending(ctx context.Context, repositoryID string) (BatchResult, error) {
	var result BatchResult

	pending, err := e.store.Pending(ctx, repositoryID)
	if err != nil {
		return result, fmt.Errorf("failed to list pending fragments: %w", err)
	}

	for _, frag := range pending {
		switch e.embedOne(ctx, frag) {
		case embedOK:
			result.Indexed++
		case embedPending:
			result.Pending++
			result.PendingIDs = append(result.PendingIDs, frag.ID)
		case embedFailed:
			result.Failed++
		}
	}

	return result, nil
}
