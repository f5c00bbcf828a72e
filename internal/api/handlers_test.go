package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pathforge/internal/analyzer"
	"github.com/pathforge/internal/chunker"
	"github.com/pathforge/internal/export"
	"github.com/pathforge/internal/index"
	"github.com/pathforge/internal/planner"
	"github.com/pathforge/internal/progress"
	"github.com/pathforge/internal/tutor"
	"github.com/pathforge/pkg/models"
)

type testEmbedder struct{}

func (testEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = embedText(t)
	}
	return out, nil
}

func (testEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return embedText(text), nil
}

func embedText(t string) []float32 {
	v := make([]float32, 8)
	for i, c := range t {
		v[i%8] += float32(c) / 1000
	}
	return v
}

type testChat struct{}

func (testChat) Generate(context.Context, string) (string, error) {
	return `{"answer": "It verifies JWTs.", "confidence": 0.8, "cited_files": []}`, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()

	ch, err := chunker.New(chunker.Config{WindowLines: 10, OverlapLines: 2})
	require.NoError(t, err)

	engine := index.New(index.NewMemoryStore(), testEmbedder{}, index.Config{
		EmbeddingDimensions: 8,
		MaxWorkers:          2,
	})
	store := progress.NewMemoryStore()
	catalog := progress.NewPathCatalog()

	deps := Deps{
		Chunker:     ch,
		Engine:      engine,
		Analyzer:    analyzer.New(nil, analyzer.DefaultConfig()),
		Planner:     planner.New(),
		Coordinator: progress.NewCoordinator(store, catalog, progress.DefaultRiskThresholds()),
		Catalog:     catalog,
		Tutor: tutor.NewService(engine, testChat{},
			tutor.NewMemoryConversationStore(), tutor.DefaultOptions()),
	}
	return NewServer(0, deps)
}

func doJSON(s *Server, method, target string, body any) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = strings.NewReader(string(data))
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set(echoHeaderContentType, "application/json")
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

const echoHeaderContentType = "Content-Type"

func snapshotFiles() []models.SourceFile {
	content := func(lines int, stem string) string {
		var b strings.Builder
		for i := 0; i < lines; i++ {
			fmt.Fprintf(&b, "const %s%d = %d\n", stem, i, i)
		}
		return b.String()
	}
	return []models.SourceFile{
		{FilePath: "auth/types.ts", Language: "typescript", Content: content(15, "tokenType")},
		{FilePath: "auth/jwt.ts", Language: "typescript", Content: "import './types'\n" + content(20, "verify")},
		{FilePath: "api/routes.ts", Language: "typescript", Content: "import '../auth/jwt'\n" + content(18, "route")},
	}
}

func ingest(t *testing.T, s *Server) {
	t.Helper()
	rec := doJSON(s, http.MethodPost, "/api/v1/repositories/repo-1/ingest",
		ingestRequest{Files: snapshotFiles()})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func plan(t *testing.T, s *Server) export.LearningSpec {
	t.Helper()
	rec := doJSON(s, http.MethodPost, "/api/v1/repositories/repo-1/plan", planRequest{
		Profile: models.LearnerProfile{LearnerID: "u1", ExperienceLevel: "intermediate", DailyMinutes: 120},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var doc export.LearningSpec
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	return doc
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestIngestReportsBatchCounts(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(s, http.MethodPost, "/api/v1/repositories/repo-1/ingest",
		ingestRequest{Files: snapshotFiles()})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result index.BatchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Greater(t, result.Indexed, 0)
	assert.Zero(t, result.Failed)
}

func TestIngestRejectsEmptySnapshot(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(s, http.MethodPost, "/api/v1/repositories/repo-1/ingest", ingestRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPlanReturnsLearningSpec(t *testing.T) {
	s := newTestServer(t)
	ingest(t, s)

	doc := plan(t, s)
	assert.Equal(t, "repo-1", doc.Metadata.Repository)
	assert.NotEmpty(t, doc.Phases)
	require.NoError(t, export.Validate(&doc))
}

func TestPlanWithoutSnapshotIs404(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(s, http.MethodPost, "/api/v1/repositories/ghost/plan", planRequest{
		Profile: models.LearnerProfile{LearnerID: "u1"},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExportSpecIsDeterministic(t *testing.T) {
	s := newTestServer(t)
	ingest(t, s)
	plan(t, s)

	var pathID string
	s.mu.RLock()
	for id := range s.paths {
		pathID = id
	}
	s.mu.RUnlock()
	require.NotEmpty(t, pathID)

	first := doJSON(s, http.MethodGet, "/api/v1/paths/"+pathID+"/spec", nil)
	second := doJSON(s, http.MethodGet, "/api/v1/paths/"+pathID+"/spec", nil)
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
}

func TestImportSpecRoundTrip(t *testing.T) {
	s := newTestServer(t)
	ingest(t, s)
	doc := plan(t, s)

	var pathID string
	for id := range s.paths {
		pathID = id
	}
	require.NotEmpty(t, pathID)

	// re-importing the unmodified export is a no-op
	rec := doJSON(s, http.MethodPut, "/api/v1/paths/"+pathID+"/spec", doc)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"changed":false`)

	doc.Phases[0].Tasks[0].EstimatedMinutes += 15
	rec = doJSON(s, http.MethodPut, "/api/v1/paths/"+pathID+"/spec", doc)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"changed":true`)

	rec = doJSON(s, http.MethodPut, "/api/v1/paths/ghost/spec", doc)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// Exports must stay atomic against concurrent re-imports: every GET of the
// spec is byte-identical to one of the documents that were PUT, never a mix.
func TestExportSpecAtomicUnderReimport(t *testing.T) {
	s := newTestServer(t)
	ingest(t, s)
	doc := plan(t, s)

	var pathID string
	for id := range s.paths {
		pathID = id
	}
	require.NotEmpty(t, pathID)

	baseBytes, err := export.Encode(&doc)
	require.NoError(t, err)
	alt, err := export.Decode(baseBytes)
	require.NoError(t, err)
	alt.Phases[0].Tasks[0].EstimatedMinutes += 15
	altBytes, err := export.Encode(alt)
	require.NoError(t, err)

	const rounds = 20
	exports := make([][]byte, rounds)
	var wg sync.WaitGroup
	for i := 0; i < rounds; i++ {
		body := doc
		if i%2 == 1 {
			body = *alt
		}
		wg.Add(2)
		go func(body export.LearningSpec) {
			defer wg.Done()
			rec := doJSON(s, http.MethodPut, "/api/v1/paths/"+pathID+"/spec", body)
			assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		}(body)
		go func(i int) {
			defer wg.Done()
			rec := doJSON(s, http.MethodGet, "/api/v1/paths/"+pathID+"/spec", nil)
			assert.Equal(t, http.StatusOK, rec.Code)
			exports[i] = rec.Body.Bytes()
		}(i)
	}
	wg.Wait()

	for i, got := range exports {
		if !bytes.Equal(got, baseBytes) && !bytes.Equal(got, altBytes) {
			t.Fatalf("export %d mixes two documents:\n%s", i, got)
		}
	}
}

func TestProgressIntake(t *testing.T) {
	s := newTestServer(t)
	ingest(t, s)
	doc := plan(t, s)
	taskID := doc.Phases[0].Tasks[0].ID

	rec := doJSON(s, http.MethodPost, "/api/v1/progress", models.ProgressUpdate{
		LearnerID: "u1", TaskID: taskID, Status: models.StatusCompleted, Revision: 1,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "applied")

	// stale duplicate is a 200 with outcome discarded
	rec = doJSON(s, http.MethodPost, "/api/v1/progress", models.ProgressUpdate{
		LearnerID: "u1", TaskID: taskID, Status: models.StatusInProgress, Revision: 1,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "discarded")

	// unknown task
	rec = doJSON(s, http.MethodPost, "/api/v1/progress", models.ProgressUpdate{
		LearnerID: "u1", TaskID: "ghost-001", Status: models.StatusCompleted, Revision: 1,
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// malformed status
	rec = doJSON(s, http.MethodPost, "/api/v1/progress", models.ProgressUpdate{
		LearnerID: "u1", TaskID: taskID, Status: "paused", Revision: 2,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestReopenTask(t *testing.T) {
	s := newTestServer(t)
	ingest(t, s)
	doc := plan(t, s)
	taskID := doc.Phases[0].Tasks[0].ID

	rec := doJSON(s, http.MethodPost, "/api/v1/progress", models.ProgressUpdate{
		LearnerID: "u1", TaskID: taskID, Status: models.StatusCompleted, Revision: 1,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(s, http.MethodPost, "/api/v1/learners/u1/tasks/"+taskID+"/reopen", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// reopening a task that is no longer completed conflicts
	rec = doJSON(s, http.MethodPost, "/api/v1/learners/u1/tasks/"+taskID+"/reopen", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(s, http.MethodPost, "/api/v1/learners/u1/tasks/ghost-001/reopen", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReindexWithNothingPending(t *testing.T) {
	s := newTestServer(t)
	ingest(t, s)

	rec := doJSON(s, http.MethodPost, "/api/v1/repositories/repo-1/reindex", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result index.BatchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Zero(t, result.Indexed)
	assert.Zero(t, result.Pending)
}

func TestLearnerMetrics(t *testing.T) {
	s := newTestServer(t)
	ingest(t, s)
	doc := plan(t, s)
	taskID := doc.Phases[0].Tasks[0].ID

	rec := doJSON(s, http.MethodPost, "/api/v1/progress", models.ProgressUpdate{
		LearnerID: "u1", TaskID: taskID, Status: models.StatusCompleted, Revision: 1, Confidence: 0.9,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(s, http.MethodGet, "/api/v1/learners/u1/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var metrics models.LearnerMetrics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &metrics))
	assert.Equal(t, 1, metrics.CompletedTasks)
	assert.Greater(t, metrics.TotalTasks, 0)
}

func TestQueryRepository(t *testing.T) {
	s := newTestServer(t)
	ingest(t, s)

	rec := doJSON(s, http.MethodGet, "/api/v1/repositories/repo-1/query?text=verify&k=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var matches []models.FragmentMatch
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &matches))
	assert.NotEmpty(t, matches)
	assert.LessOrEqual(t, len(matches), 2)

	rec = doJSON(s, http.MethodGet, "/api/v1/repositories/repo-1/query?text=verify&k=0", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(s, http.MethodGet, "/api/v1/repositories/repo-1/query", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAsk(t *testing.T) {
	s := newTestServer(t)
	ingest(t, s)

	rec := doJSON(s, http.MethodPost, "/api/v1/ask", askRequest{
		Question:     "How are tokens verified?",
		RepositoryID: "repo-1",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp models.TutorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "It verifies JWTs.", resp.Answer)
	assert.NotEmpty(t, resp.ConversationID)

	rec = doJSON(s, http.MethodPost, "/api/v1/ask", askRequest{RepositoryID: "repo-1"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
