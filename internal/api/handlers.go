package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/pathforge/internal/export"
	"github.com/pathforge/internal/progress"
	"github.com/pathforge/pkg/models"
)

type ingestRequest struct {
	Files []models.SourceFile `json:"files"`
}

// ingestRepository chunks and indexes a flat snapshot. The response carries
// the partial-success counts; a snapshot with some failed embeddings is still
// a 200 with those fragments reported pending.
func (s *Server) ingestRepository(c echo.Context) error {
	repositoryID := c.Param("id")

	var req ingestRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if len(req.Files) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "no files in snapshot")
	}

	fragments := s.deps.Chunker.Files(repositoryID, req.Files)
	result, err := s.deps.Engine.Index(c.Request().Context(), repositoryID, fragments)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	s.rememberSnapshot(repositoryID, req.Files)
	return c.JSON(http.StatusOK, result)
}

// reindexRepository retries fragments left pending by a partial ingest.
func (s *Server) reindexRepository(c echo.Context) error {
	result, err := s.deps.Engine.ReindexPending(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, result)
}

type planRequest struct {
	LearnerID string                `json:"learner_id"`
	Profile   models.LearnerProfile `json:"profile"`
}

// planRepository analyzes the last ingested snapshot and plans a curriculum
// for the learner, returning the exported learning spec.
func (s *Server) planRepository(c echo.Context) error {
	repositoryID := c.Param("id")

	var req planRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if req.Profile.LearnerID == "" {
		req.Profile.LearnerID = req.LearnerID
	}
	if req.Profile.LearnerID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "learner_id is required")
	}

	files, ok := s.snapshotFor(repositoryID)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "repository has no ingested snapshot")
	}

	ctx := c.Request().Context()
	analysis, err := s.deps.Analyzer.Analyze(ctx, repositoryID, files)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}

	path, err := s.deps.Planner.Plan(ctx, analysis, req.Profile)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	s.storePath(path)

	// coalesced plan calls share the path pointer, so read it under the
	// same lock importSpec writes under
	s.mu.RLock()
	doc, err := export.BuildSpec(path)
	s.mu.RUnlock()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, doc)
}

// exportSpec renders the deterministic learning spec for a stored path. The
// export is read under the server lock so a concurrent re-import can never
// produce a mixed-state document.
func (s *Server) exportSpec(c echo.Context) error {
	s.mu.RLock()
	path, ok := s.paths[c.Param("id")]
	if !ok {
		s.mu.RUnlock()
		return echo.NewHTTPError(http.StatusNotFound, "unknown path")
	}
	doc, err := export.BuildSpec(path)
	s.mu.RUnlock()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	data, err := export.Encode(doc)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.Blob(http.StatusOK, echo.MIMEApplicationJSON, data)
}

// importSpec re-imports an exported learning spec against a stored path. A
// document identical to the current export changes nothing.
func (s *Server) importSpec(c echo.Context) error {
	path, ok := s.lookupPath(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown path")
	}

	var doc export.LearningSpec
	if err := c.Bind(&doc); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	s.mu.Lock()
	changed, err := export.ApplySpec(path, &doc)
	if err == nil && changed && s.deps.Catalog != nil {
		s.deps.Catalog.Add(path)
	}
	s.mu.Unlock()
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]bool{"changed": changed})
}

// applyProgress is the external client's intake. Stale and duplicate updates
// come back as outcome "discarded" with a 200; only validation failures are
// HTTP errors.
func (s *Server) applyProgress(c echo.Context) error {
	var update models.ProgressUpdate
	if err := c.Bind(&update); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	outcome, err := s.deps.Coordinator.Apply(c.Request().Context(), update)
	if errors.Is(err, progress.ErrTaskNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	if errors.Is(err, progress.ErrInvalidState) {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, map[string]string{"outcome": string(outcome)})
}

// reopenTask pushes a completed task back to in_progress when the curriculum
// changed underneath it.
func (s *Server) reopenTask(c echo.Context) error {
	err := s.deps.Coordinator.Reopen(c.Request().Context(), c.Param("id"), c.Param("task"))
	if errors.Is(err, progress.ErrTaskNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	if errors.Is(err, progress.ErrInvalidState) {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) learnerMetrics(c echo.Context) error {
	metrics, err := s.deps.Coordinator.Metrics(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, metrics)
}

type askRequest struct {
	Question       string `json:"question"`
	RepositoryID   string `json:"repository_id"`
	ConversationID string `json:"conversation_id"`
}

func (s *Server) ask(c echo.Context) error {
	var req askRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	resp, err := s.deps.Tutor.Ask(c.Request().Context(), req.Question, req.RepositoryID, req.ConversationID)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return c.JSON(http.StatusOK, resp)
}

// queryRepository is the raw retrieval interface.
func (s *Server) queryRepository(c echo.Context) error {
	repositoryID := c.Param("id")
	text := c.QueryParam("text")
	if text == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text query parameter is required")
	}
	k := 5
	if raw := c.QueryParam("k"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "k must be a positive integer")
		}
		k = parsed
	}

	matches, err := s.deps.Engine.Query(c.Request().Context(), repositoryID, text, k)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, matches)
}
