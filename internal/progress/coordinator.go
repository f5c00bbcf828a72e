// Package progress keeps per-learner task progress consistent under
// at-least-once delivery from two writers: the local system and an external
// task client syncing offline work late.
package progress

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pathforge/pkg/models"
)

var (
	// ErrTaskNotFound rejects updates naming a task no catalog knows.
	ErrTaskNotFound = errors.New("unknown task")
	// ErrInvalidState rejects malformed statuses and illegal local transitions.
	ErrInvalidState = errors.New("invalid progress state")
)

// Outcome is the per-update result. Discarded is not an error: stale and
// duplicate deliveries must be harmless to the sender.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDiscarded Outcome = "discarded"
)

// TaskCatalog resolves task identities and estimates. A retired task still
// resolves historical records; the catalog only gates new updates.
type TaskCatalog interface {
	Lookup(taskID string) (models.Task, bool)
	Count() int
}

// PathCatalog adapts learning paths into a TaskCatalog. Paths planned after
// construction are added with Add; safe for concurrent use.
type PathCatalog struct {
	mu    sync.RWMutex
	tasks map[string]models.Task
}

func NewPathCatalog(paths ...*models.LearningPath) *PathCatalog {
	c := &PathCatalog{tasks: make(map[string]models.Task)}
	for _, p := range paths {
		c.Add(p)
	}
	return c
}

func (c *PathCatalog) Add(path *models.LearningPath) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range path.Tasks() {
		c.tasks[t.ID] = t
	}
}

func (c *PathCatalog) Lookup(taskID string) (models.Task, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tasks[taskID]
	return t, ok
}

func (c *PathCatalog) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tasks)
}

// RiskThresholds tune the at-risk roll-up.
type RiskThresholds struct {
	ConfidenceFloor float64 // avg confidence below this counts against the learner
	TimeRatio       float64 // spent/estimated above this counts against the learner
	AtRisk          float64 // risk score at or above this flags the learner
}

func DefaultRiskThresholds() RiskThresholds {
	return RiskThresholds{ConfidenceFloor: 0.4, TimeRatio: 1.5, AtRisk: 0.6}
}

// Coordinator applies progress updates under the revision conflict rule.
// Different (learner, task) pairs proceed fully in parallel; updates for the
// same pair serialize on a per-pair mutex.
type Coordinator struct {
	store      ProgressStore
	catalog    TaskCatalog
	thresholds RiskThresholds

	locks sync.Map // pairKey -> *sync.Mutex
	now   func() time.Time
}

func NewCoordinator(store ProgressStore, catalog TaskCatalog, thresholds RiskThresholds) *Coordinator {
	return &Coordinator{
		store:      store,
		catalog:    catalog,
		thresholds: thresholds,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (c *Coordinator) pairLock(learnerID, taskID string) *sync.Mutex {
	v, _ := c.locks.LoadOrStore(pairKey{learnerID, taskID}, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Apply validates and applies one inbound update. Unknown task ids fail with
// ErrTaskNotFound and malformed statuses with ErrInvalidState; every other
// case resolves through the conflict rule and returns OutcomeApplied or
// OutcomeDiscarded with a nil error.
//
// An update with a strictly greater revision is authoritative even when it
// moves status backwards: the sender already walked the state machine and the
// revision proves causality. Equal revisions resolve by status rank, and an
// equal-rank tie goes to the later arrival.
func (c *Coordinator) Apply(ctx context.Context, update models.ProgressUpdate) (Outcome, error) {
	if !models.ValidTaskStatus(update.Status) {
		return "", fmt.Errorf("%w: status %q", ErrInvalidState, update.Status)
	}
	if update.LearnerID == "" || update.TaskID == "" {
		return "", fmt.Errorf("%w: learner and task ids are required", ErrInvalidState)
	}
	if _, ok := c.catalog.Lookup(update.TaskID); !ok {
		return "", fmt.Errorf("%w: %s", ErrTaskNotFound, update.TaskID)
	}
	if update.Origin == "" {
		update.Origin = models.OriginClient
	}

	lock := c.pairLock(update.LearnerID, update.TaskID)
	lock.Lock()
	defer lock.Unlock()

	stored, exists, err := c.store.Get(ctx, update.LearnerID, update.TaskID)
	if err != nil {
		return "", fmt.Errorf("load progress record: %w", err)
	}

	if exists && !supersedes(update, stored) {
		log.Warn().Str("learner", update.LearnerID).Str("task", update.TaskID).
			Int64("incoming_revision", update.Revision).
			Int64("stored_revision", stored.Revision).
			Str("incoming_status", string(update.Status)).
			Str("stored_status", string(stored.Status)).
			Msg("progress update discarded as stale or duplicate")
		return OutcomeDiscarded, nil
	}

	now := c.now()
	rec := stored
	if !exists {
		rec = models.ProgressRecord{LearnerID: update.LearnerID, TaskID: update.TaskID}
	}
	if rec.StartedAt == nil && update.Status != models.StatusNotStarted {
		rec.StartedAt = &now
	}
	if update.Status == models.StatusCompleted {
		rec.CompletedAt = &now
	} else {
		rec.CompletedAt = nil
	}
	rec.Status = update.Status
	rec.Confidence = update.Confidence
	rec.TimeSpentMinutes = update.TimeSpent
	rec.BlockerNotes = update.Notes
	rec.Origin = update.Origin
	rec.UpdatedAt = now
	// Adopt the larger revision so later permutations of the same update
	// stream converge on the same record regardless of arrival order.
	if update.Revision > rec.Revision {
		rec.Revision = update.Revision
	}

	if err := c.store.Put(ctx, rec); err != nil {
		return "", fmt.Errorf("store progress record: %w", err)
	}

	metrics, err := c.Metrics(ctx, update.LearnerID)
	if err != nil {
		return "", err
	}
	log.Info().Str("learner", update.LearnerID).Str("task", update.TaskID).
		Str("status", string(rec.Status)).
		Int64("revision", rec.Revision).
		Int("completed", metrics.CompletedTasks).
		Float64("risk_score", metrics.RiskScore).
		Msg("progress update applied")

	return OutcomeApplied, nil
}

// supersedes reports whether the incoming update wins over the stored record.
func supersedes(update models.ProgressUpdate, stored models.ProgressRecord) bool {
	if update.Revision != stored.Revision {
		return update.Revision > stored.Revision
	}
	incoming, current := models.StatusRank(update.Status), models.StatusRank(stored.Status)
	if incoming != current {
		return incoming > current
	}
	// Equal revision and equal rank: the later arrival wins.
	return true
}

// Reopen moves a completed task back to in_progress, as happens when a
// curriculum revision retires and reissues work. It is the only local
// transition out of the completed state.
func (c *Coordinator) Reopen(ctx context.Context, learnerID, taskID string) error {
	lock := c.pairLock(learnerID, taskID)
	lock.Lock()
	defer lock.Unlock()

	stored, exists, err := c.store.Get(ctx, learnerID, taskID)
	if err != nil {
		return fmt.Errorf("load progress record: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: %s/%s", ErrTaskNotFound, learnerID, taskID)
	}
	if stored.Status != models.StatusCompleted {
		return fmt.Errorf("%w: reopen requires a completed task, have %s", ErrInvalidState, stored.Status)
	}

	now := c.now()
	stored.Status = models.StatusInProgress
	stored.Revision++
	stored.Origin = models.OriginLocal
	stored.CompletedAt = nil
	stored.UpdatedAt = now

	if err := c.store.Put(ctx, stored); err != nil {
		return fmt.Errorf("store progress record: %w", err)
	}
	log.Info().Str("learner", learnerID).Str("task", taskID).
		Int64("revision", stored.Revision).
		Msg("completed task reopened")
	return nil
}

// Record returns the stored record for one pair.
func (c *Coordinator) Record(ctx context.Context, learnerID, taskID string) (models.ProgressRecord, bool, error) {
	return c.store.Get(ctx, learnerID, taskID)
}

// Metrics recomputes the learner roll-up from all stored records.
func (c *Coordinator) Metrics(ctx context.Context, learnerID string) (models.LearnerMetrics, error) {
	records, err := c.store.ByLearner(ctx, learnerID)
	if err != nil {
		return models.LearnerMetrics{}, fmt.Errorf("load learner records: %w", err)
	}

	m := models.LearnerMetrics{
		LearnerID:  learnerID,
		TotalTasks: c.catalog.Count(),
		ComputedAt: c.now(),
	}

	var confidenceSum float64
	var scored int
	var estimated int
	for _, rec := range records {
		m.TotalTimeMinutes += rec.TimeSpentMinutes
		if rec.Status == models.StatusCompleted {
			m.CompletedTasks++
		}
		if rec.Status != models.StatusNotStarted {
			confidenceSum += rec.Confidence
			scored++
		}
		if task, ok := c.catalog.Lookup(rec.TaskID); ok {
			estimated += task.EstimatedMinutes
		}
	}
	if scored > 0 {
		m.AvgConfidence = confidenceSum / float64(scored)
	}

	m.RiskScore = c.riskScore(m.AvgConfidence, scored, m.TotalTimeMinutes, estimated)
	m.AtRisk = m.RiskScore >= c.thresholds.AtRisk
	return m, nil
}

// riskScore blends low confidence and schedule overrun into [0, 1].
func (c *Coordinator) riskScore(avgConfidence float64, scored, spent, estimated int) float64 {
	if scored == 0 {
		return 0
	}

	confidenceRisk := 0.0
	if floor := c.thresholds.ConfidenceFloor; floor > 0 && avgConfidence < floor {
		confidenceRisk = (floor - avgConfidence) / floor
	}

	overrunRisk := 0.0
	if estimated > 0 {
		ratio := float64(spent) / float64(estimated)
		if limit := c.thresholds.TimeRatio; ratio > limit {
			overrunRisk = math.Min((ratio-limit)/limit, 1.0)
		}
	}

	return math.Min(0.6*confidenceRisk+0.4*overrunRisk, 1.0)
}
