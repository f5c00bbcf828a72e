package index

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/pathforge/pkg/models"
)

// PostgresStore implements FragmentStore on PostgreSQL with pgvector. Ranking
// uses the `<=>` cosine-distance operator; one row per fragment identity.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore connected to the given database URL.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// NewPostgresStoreFromPool wraps an existing pool (shared with the job queue).
func NewPostgresStoreFromPool(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Status(ctx context.Context, repositoryID, fragmentID string) (models.FragmentStatus, bool, error) {
	query := `
		SELECT status FROM code_fragments
		WHERE repository_id = $1 AND id = $2
	`

	var status string
	err := s.pool.QueryRow(ctx, query, repositoryID, fragmentID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to query fragment status: %w", err)
	}
	return models.FragmentStatus(status), true, nil
}

func (s *PostgresStore) Put(ctx context.Context, fragment models.CodeFragment) error {
	query := `
		INSERT INTO code_fragments
			(id, repository_id, file_path, start_line, end_line, language, text, embedding, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (repository_id, id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			status = EXCLUDED.status
	`

	var vec interface{}
	if len(fragment.Embedding) > 0 {
		vec = pgvector.NewVector(fragment.Embedding)
	}

	_, err := s.pool.Exec(ctx, query,
		fragment.ID, fragment.RepositoryID, fragment.FilePath,
		fragment.StartLine, fragment.EndLine, fragment.Language,
		fragment.Text, vec, string(fragment.Status), fragment.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert fragment: %w", err)
	}
	return nil
}

func (s *PostgresStore) RetireFile(ctx context.Context, repositoryID, filePath string, live map[string]bool) (int, error) {
	liveIDs := make([]string, 0, len(live))
	for id := range live {
		liveIDs = append(liveIDs, id)
	}

	query := `
		DELETE FROM code_fragments
		WHERE repository_id = $1 AND file_path = $2 AND NOT (id = ANY($3))
	`

	tag, err := s.pool.Exec(ctx, query, repositoryID, filePath, liveIDs)
	if err != nil {
		return 0, fmt.Errorf("failed to retire fragments: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) Search(ctx context.Context, repositoryID string, vector []float32, k int) ([]models.FragmentMatch, error) {
	vec := pgvector.NewVector(vector)

	query := `
		SELECT id, file_path, start_line, end_line, language, text,
		       1 - (embedding <=> $2) AS similarity, created_at
		FROM code_fragments
		WHERE repository_id = $1 AND status = 'indexed' AND embedding IS NOT NULL
		ORDER BY embedding <=> $2
		LIMIT $3
	`

	rows, err := s.pool.Query(ctx, query, repositoryID, vec, k)
	if err != nil {
		return nil, fmt.Errorf("failed to search fragments: %w", err)
	}
	defer rows.Close()

	var matches []models.FragmentMatch
	for rows.Next() {
		var m models.FragmentMatch
		m.Fragment.RepositoryID = repositoryID
		m.Fragment.Status = models.FragmentIndexed
		err := rows.Scan(
			&m.Fragment.ID,
			&m.Fragment.FilePath,
			&m.Fragment.StartLine,
			&m.Fragment.EndLine,
			&m.Fragment.Language,
			&m.Fragment.Text,
			&m.Similarity,
			&m.Fragment.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fragment match: %w", err)
		}
		matches = append(matches, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating fragment matches: %w", err)
	}
	return matches, nil
}

func (s *PostgresStore) Pending(ctx context.Context, repositoryID string) ([]models.CodeFragment, error) {
	query := `
		SELECT id, file_path, start_line, end_line, language, text, created_at
		FROM code_fragments
		WHERE repository_id = $1 AND status = 'index_pending'
		ORDER BY id
	`

	rows, err := s.pool.Query(ctx, query, repositoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending fragments: %w", err)
	}
	defer rows.Close()

	var pending []models.CodeFragment
	for rows.Next() {
		frag := models.CodeFragment{
			RepositoryID: repositoryID,
			Status:       models.FragmentPending,
		}
		err := rows.Scan(&frag.ID, &frag.FilePath, &frag.StartLine, &frag.EndLine,
			&frag.Language, &frag.Text, &frag.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pending fragment: %w", err)
		}
		pending = append(pending, frag)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending fragments: %w", err)
	}
	return pending, nil
}

func (s *PostgresStore) Count(ctx context.Context, repositoryID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM code_fragments WHERE repository_id = $1`, repositoryID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count fragments: %w", err)
	}
	return count, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Ensure PostgresStore implements FragmentStore
var _ FragmentStore = (*PostgresStore)(nil)
