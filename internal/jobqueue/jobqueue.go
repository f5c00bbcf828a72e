/*
Package jobqueue runs repository indexing as River background jobs so large
snapshots never block the ingestion endpoint.

For tunable parameters see queue_config.go.
*/
package jobqueue

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/rs/zerolog/log"

	"github.com/pathforge/internal/chunker"
	"github.com/pathforge/internal/index"
	"github.com/pathforge/pkg/models"
)

// RepoIndexJobArgs asks a worker to chunk and index one repository snapshot.
type RepoIndexJobArgs struct {
	RepositoryID string `json:"repository_id"`
	SnapshotDir  string `json:"snapshot_dir"`
}

// Kind returns the job kind for River.
func (RepoIndexJobArgs) Kind() string { return "repo_index" }

// RepoIndexWorker loads a snapshot from disk, chunks it, and feeds the
// retrieval engine. Failed fragments stay pending; River retries the whole
// job and the engine's idempotence makes the re-run cheap.
type RepoIndexWorker struct {
	river.WorkerDefaults[RepoIndexJobArgs]
	chunker *chunker.Chunker
	engine  *index.Engine
	config  *QueueConfig
}

func (w *RepoIndexWorker) Timeout(*river.Job[RepoIndexJobArgs]) time.Duration {
	return w.config.JobTimeout
}

// Work chunks and indexes the snapshot.
func (w *RepoIndexWorker) Work(ctx context.Context, job *river.Job[RepoIndexJobArgs]) error {
	args := job.Args
	files, err := LoadSnapshot(args.SnapshotDir)
	if err != nil {
		return fmt.Errorf("load snapshot for %s: %w", args.RepositoryID, err)
	}
	if len(files) == 0 {
		log.Warn().Str("repository", args.RepositoryID).
			Str("snapshot", args.SnapshotDir).
			Msg("snapshot contains no indexable files")
		return nil
	}

	fragments := w.chunker.Files(args.RepositoryID, files)
	result, err := w.engine.Index(ctx, args.RepositoryID, fragments)
	if err != nil {
		return fmt.Errorf("index %s: %w", args.RepositoryID, err)
	}

	log.Info().Str("repository", args.RepositoryID).
		Int("files", len(files)).
		Int("indexed", result.Indexed).
		Int("unchanged", result.Unchanged).
		Int("retired", result.Retired).
		Int("pending", result.Pending).
		Msg("background indexing finished")

	if result.Pending > 0 {
		// surface pending fragments as a retriable failure so River re-runs
		// the job; already-indexed fragments are skipped on the next pass
		return fmt.Errorf("%d fragments pending for %s", result.Pending, args.RepositoryID)
	}
	return nil
}

// languageByExtension covers the languages the analyzer understands; anything
// else is indexed with the bare extension as its language tag.
var languageByExtension = map[string]string{
	".go":   "go",
	".ts":   "typescript",
	".tsx":  "typescript",
	".js":   "javascript",
	".jsx":  "javascript",
	".py":   "python",
	".java": "java",
}

// LoadSnapshot reads a flat snapshot directory into source files, skipping
// dot directories.
func LoadSnapshot(dir string) ([]models.SourceFile, error) {
	var files []models.SourceFile
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		lang, ok := languageByExtension[ext]
		if !ok {
			lang = strings.TrimPrefix(ext, ".")
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, models.SourceFile{
			FilePath: filepath.ToSlash(rel),
			Language: lang,
			Content:  string(content),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// JobQueue manages the River client and its workers.
type JobQueue struct {
	client *river.Client[pgx.Tx]
	pool   *pgxpool.Pool
	config *QueueConfig
}

// NewJobQueue wires a River client over its own pgx pool.
func NewJobQueue(ctx context.Context, databaseURL string, ch *chunker.Chunker, engine *index.Engine, config *QueueConfig) (*JobQueue, error) {
	if config == nil {
		config = DefaultQueueConfig()
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, &RepoIndexWorker{chunker: ch, engine: engine, config: config})

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues:  config.RiverQueueConfig(),
		Workers: workers,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create River client: %w", err)
	}

	return &JobQueue{client: client, pool: pool, config: config}, nil
}

// Start starts the queue workers.
func (jq *JobQueue) Start(ctx context.Context) error {
	return jq.client.Start(ctx)
}

// Stop drains the workers and closes the pool.
func (jq *JobQueue) Stop(ctx context.Context) error {
	err := jq.client.Stop(ctx)
	jq.pool.Close()
	return err
}

// EnqueueRepoIndex schedules background indexing of a snapshot directory.
func (jq *JobQueue) EnqueueRepoIndex(ctx context.Context, repositoryID, snapshotDir string) error {
	_, err := jq.client.Insert(ctx, RepoIndexJobArgs{
		RepositoryID: repositoryID,
		SnapshotDir:  snapshotDir,
	}, &river.InsertOpts{MaxAttempts: jq.config.MaxRetries})
	if err != nil {
		return fmt.Errorf("failed to queue repo index job: %w", err)
	}
	return nil
}
