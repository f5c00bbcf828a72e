package progress

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pathforge/pkg/models"
)

func testCatalog() TaskCatalog {
	path := &models.LearningPath{
		Phases: []models.Phase{{
			ID: "phase-001",
			Tasks: []models.Task{
				{ID: "auth-001", Type: models.TaskRead, EstimatedMinutes: 20},
				{ID: "auth-002", Type: models.TaskAnalyze, EstimatedMinutes: 30},
				{ID: "auth-003", Type: models.TaskImplement, EstimatedMinutes: 60},
			},
		}},
	}
	return NewPathCatalog(path)
}

func newTestCoordinator() *Coordinator {
	return NewCoordinator(NewMemoryStore(), testCatalog(), DefaultRiskThresholds())
}

func update(task string, status models.TaskStatus, revision int64) models.ProgressUpdate {
	return models.ProgressUpdate{
		LearnerID:  "u1",
		TaskID:     task,
		Status:     status,
		Revision:   revision,
		Confidence: 0.8,
		Origin:     models.OriginClient,
	}
}

func TestApplyAcceptsFirstUpdate(t *testing.T) {
	c := newTestCoordinator()
	outcome, err := c.Apply(context.Background(), update("auth-001", models.StatusInProgress, 1))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	rec, ok, err := c.Record(context.Background(), "u1", "auth-001")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.StatusInProgress, rec.Status)
	assert.EqualValues(t, 1, rec.Revision)
	assert.NotNil(t, rec.StartedAt)
	assert.Nil(t, rec.CompletedAt)
}

func TestApplyDiscardsStaleDuplicate(t *testing.T) {
	c := newTestCoordinator()
	ctx := context.Background()

	outcome, err := c.Apply(ctx, update("auth-001", models.StatusCompleted, 2))
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, outcome)

	// late duplicate of an earlier update must be harmless
	outcome, err = c.Apply(ctx, update("auth-001", models.StatusInProgress, 1))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDiscarded, outcome)

	rec, ok, err := c.Record(ctx, "u1", "auth-001")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.StatusCompleted, rec.Status)
	assert.EqualValues(t, 2, rec.Revision)
}

func TestApplyOrderIndependentUnderPermutation(t *testing.T) {
	updates := []models.ProgressUpdate{
		update("auth-001", models.StatusInProgress, 1),
		update("auth-001", models.StatusBlocked, 2),
		update("auth-001", models.StatusInProgress, 3),
		update("auth-001", models.StatusCompleted, 4),
	}

	rng := rand.New(rand.NewSource(7))
	for iter := 0; iter < 50; iter++ {
		perm := rng.Perm(len(updates))
		c := newTestCoordinator()
		for _, i := range perm {
			_, err := c.Apply(context.Background(), updates[i])
			require.NoError(t, err)
		}
		rec, ok, err := c.Record(context.Background(), "u1", "auth-001")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, models.StatusCompleted, rec.Status, "permutation %v", perm)
		assert.EqualValues(t, 4, rec.Revision, "permutation %v", perm)
	}
}

func TestApplyEqualRevisionHigherRankWins(t *testing.T) {
	c := newTestCoordinator()
	ctx := context.Background()

	_, err := c.Apply(ctx, update("auth-001", models.StatusCompleted, 3))
	require.NoError(t, err)

	outcome, err := c.Apply(ctx, update("auth-001", models.StatusInProgress, 3))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDiscarded, outcome)

	rec, _, err := c.Record(ctx, "u1", "auth-001")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, rec.Status)
}

func TestApplyEqualRevisionEqualRankLastWriteWins(t *testing.T) {
	c := newTestCoordinator()
	ctx := context.Background()

	first := update("auth-001", models.StatusCompleted, 3)
	first.Confidence = 0.5
	second := update("auth-001", models.StatusCompleted, 3)
	second.Confidence = 0.9

	_, err := c.Apply(ctx, first)
	require.NoError(t, err)
	outcome, err := c.Apply(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)

	rec, _, err := c.Record(ctx, "u1", "auth-001")
	require.NoError(t, err)
	assert.Equal(t, 0.9, rec.Confidence)
	assert.EqualValues(t, 3, rec.Revision)
}

func TestApplyRejectsUnknownTask(t *testing.T) {
	c := newTestCoordinator()
	_, err := c.Apply(context.Background(), update("ghost-001", models.StatusInProgress, 1))
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestApplyRejectsMalformedStatus(t *testing.T) {
	c := newTestCoordinator()
	_, err := c.Apply(context.Background(), update("auth-001", "paused", 1))
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestReopen(t *testing.T) {
	c := newTestCoordinator()
	ctx := context.Background()

	_, err := c.Apply(ctx, update("auth-001", models.StatusCompleted, 1))
	require.NoError(t, err)

	require.NoError(t, c.Reopen(ctx, "u1", "auth-001"))

	rec, _, err := c.Record(ctx, "u1", "auth-001")
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, rec.Status)
	assert.EqualValues(t, 2, rec.Revision)
	assert.Equal(t, models.OriginLocal, rec.Origin)
	assert.Nil(t, rec.CompletedAt)

	// reopen is only defined on completed tasks
	err = c.Reopen(ctx, "u1", "auth-001")
	assert.ErrorIs(t, err, ErrInvalidState)

	err = c.Reopen(ctx, "u1", "auth-002")
	assert.True(t, errors.Is(err, ErrTaskNotFound))
}

func TestMetricsRollUp(t *testing.T) {
	c := newTestCoordinator()
	ctx := context.Background()

	u1 := update("auth-001", models.StatusCompleted, 1)
	u1.Confidence = 0.9
	u1.TimeSpent = 25
	_, err := c.Apply(ctx, u1)
	require.NoError(t, err)

	u2 := update("auth-002", models.StatusInProgress, 1)
	u2.Confidence = 0.7
	u2.TimeSpent = 10
	_, err = c.Apply(ctx, u2)
	require.NoError(t, err)

	m, err := c.Metrics(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, m.CompletedTasks)
	assert.Equal(t, 3, m.TotalTasks)
	assert.Equal(t, 35, m.TotalTimeMinutes)
	assert.InDelta(t, 0.8, m.AvgConfidence, 1e-9)
	assert.False(t, m.AtRisk)
}

func TestMetricsFlagsAtRiskLearner(t *testing.T) {
	c := newTestCoordinator()
	ctx := context.Background()

	// struggling on every started task and far over the estimates
	u := update("auth-001", models.StatusInProgress, 1)
	u.Confidence = 0.05
	u.TimeSpent = 200
	_, err := c.Apply(ctx, u)
	require.NoError(t, err)

	m, err := c.Metrics(ctx, "u1")
	require.NoError(t, err)
	assert.Greater(t, m.RiskScore, 0.0)
	assert.True(t, m.AtRisk)
}

func TestApplyConcurrentPairsDoNotInterfere(t *testing.T) {
	c := newTestCoordinator()
	ctx := context.Background()

	var wg sync.WaitGroup
	tasks := []string{"auth-001", "auth-002", "auth-003"}
	for _, task := range tasks {
		for rev := int64(1); rev <= 5; rev++ {
			wg.Add(1)
			go func(task string, rev int64) {
				defer wg.Done()
				_, err := c.Apply(ctx, update(task, models.StatusInProgress, rev))
				assert.NoError(t, err)
			}(task, rev)
		}
	}
	wg.Wait()

	for _, task := range tasks {
		rec, ok, err := c.Record(ctx, "u1", task)
		require.NoError(t, err)
		require.True(t, ok)
		assert.EqualValues(t, 5, rec.Revision, "task %s", task)
	}
}
