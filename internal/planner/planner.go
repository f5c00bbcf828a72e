// Package planner assembles dependency-ordered learning paths from a
// repository's domain analysis and a learner profile.
package planner

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/pathforge/pkg/models"
)

// DefaultDailyMinutes is assumed when a profile carries no daily budget.
const DefaultDailyMinutes = 120

// DomainPrereqs maps a domain name to domains that must be scheduled before
// it. Declared pairs override the complexity-based ordering.
type DomainPrereqs map[string][]string

// DefaultDomainPrereqs covers the pairings that hold in most codebases:
// request-handling layers assume the auth concepts exist first.
func DefaultDomainPrereqs() DomainPrereqs {
	return DomainPrereqs{
		"api":        {"auth"},
		"handlers":   {"auth"},
		"middleware": {"auth"},
	}
}

// Planner builds learning paths. Safe for concurrent use; concurrent Plan
// calls for the same (repository, learner) pair are coalesced into one
// computation.
type Planner struct {
	registry *Registry
	prereqs  DomainPrereqs
	group    singleflight.Group
}

// Option customizes a Planner.
type Option func(*Planner)

// WithRegistry replaces the built-in template registry.
func WithRegistry(r *Registry) Option {
	return func(p *Planner) { p.registry = r }
}

// WithDomainPrereqs replaces the default domain-to-domain prerequisites.
func WithDomainPrereqs(dp DomainPrereqs) Option {
	return func(p *Planner) { p.prereqs = dp }
}

// New returns a planner with the built-in templates and default domain
// prerequisites.
func New(opts ...Option) *Planner {
	p := &Planner{
		registry: NewRegistry(),
		prereqs:  DefaultDomainPrereqs(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Plan produces a learning path for the given analysis and learner. Identical
// inputs yield the same task set, task IDs, and ordering; only the path ID
// and creation timestamp differ between calls.
func (p *Planner) Plan(ctx context.Context, analysis *models.DomainAnalysis, profile models.LearnerProfile) (*models.LearningPath, error) {
	if analysis == nil || len(analysis.Domains) == 0 {
		return nil, fmt.Errorf("plan: analysis has no domains")
	}
	if profile.LearnerID == "" {
		return nil, fmt.Errorf("plan: learner id is required")
	}

	key := analysis.RepositoryID + "|" + profile.LearnerID
	v, err, shared := p.group.Do(key, func() (interface{}, error) {
		return p.plan(ctx, analysis, profile)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		log.Debug().Str("repository", analysis.RepositoryID).
			Str("learner", profile.LearnerID).
			Msg("plan request coalesced with in-flight computation")
	}
	return v.(*models.LearningPath), nil
}

func (p *Planner) plan(ctx context.Context, analysis *models.DomainAnalysis, profile models.LearnerProfile) (*models.LearningPath, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	domains, err := p.orderDomains(analysis.Domains)
	if err != nil {
		return nil, err
	}

	// Materialize every domain's task chain, then wire cross-domain
	// prerequisites: a domain's entry tasks depend on the final task of each
	// declared background domain.
	graph := newTaskGraph()
	lastTask := make(map[string]string) // domain name -> final task id
	tasksByDomain := make(map[string][]models.Task)
	for order, d := range domains {
		ids := newTaskIDGen(d.Name)
		tasks := p.registry.Build(d, ids)
		for i := range tasks {
			estimateTask(&tasks[i], d, analysis.FileSizes, profile)
		}
		if len(tasks) > 0 {
			lastTask[strings.ToLower(d.Name)] = tasks[len(tasks)-1].ID
		}
		for i := range tasks {
			if len(tasks[i].Prerequisites) == 0 {
				for _, bg := range p.prereqs[strings.ToLower(d.Name)] {
					if final, ok := lastTask[bg]; ok {
						tasks[i].Prerequisites = append(tasks[i].Prerequisites, final)
					}
				}
			}
		}
		tasksByDomain[d.Name] = tasks
		for i := range tasks {
			if err := graph.add(&tasks[i], order); err != nil {
				return nil, err
			}
		}
	}

	sorted, err := graph.topoSort()
	if err != nil {
		return nil, err
	}
	position := make(map[string]int, len(sorted))
	for i, id := range sorted {
		position[id] = i
	}

	path := &models.LearningPath{
		ID:           uuid.New().String(),
		RepositoryID: analysis.RepositoryID,
		LearnerID:    profile.LearnerID,
		Name:         fmt.Sprintf("Learning path for %s", analysis.RepositoryID),
		Status:       models.PathDraft,
		CreatedAt:    time.Now().UTC(),
	}

	daily := profile.DailyMinutes
	if daily <= 0 {
		daily = DefaultDailyMinutes
	}

	day := 0
	for i, d := range domains {
		tasks := tasksByDomain[d.Name]
		sort.SliceStable(tasks, func(a, b int) bool {
			return position[tasks[a].ID] < position[tasks[b].ID]
		})

		phase := models.Phase{
			ID:   fmt.Sprintf("phase-%03d", i+1),
			Name: fmt.Sprintf("Phase %d: %s", i+1, d.Name),
		}
		minutes := 0
		for _, t := range tasks {
			minutes += t.EstimatedMinutes
		}
		if i > 0 {
			phase.Prerequisites = []string{path.Phases[i-1].ID}
		}
		days := (minutes + daily - 1) / daily
		if days < 1 {
			days = 1
		}
		phase.DayStart = day + 1
		phase.DayEnd = day + days
		day = phase.DayEnd
		phase.Tasks = tasks
		path.EstimatedMinutes += minutes
		path.Phases = append(path.Phases, phase)
	}

	// Every prerequisite must resolve to an earlier task in the flattened
	// order; a violation here means the domain ordering and the task graph
	// disagree, which is a bug, not bad input.
	flat := path.Tasks()
	flatPos := make(map[string]int, len(flat))
	for i, t := range flat {
		flatPos[t.ID] = i
	}
	for _, t := range flat {
		for _, pre := range t.Prerequisites {
			if flatPos[pre] >= flatPos[t.ID] {
				return nil, fmt.Errorf("plan: task %s scheduled before its prerequisite %s", t.ID, pre)
			}
		}
	}

	log.Info().Str("repository", analysis.RepositoryID).
		Str("learner", profile.LearnerID).
		Int("phases", len(path.Phases)).
		Int("tasks", len(flat)).
		Int("estimated_minutes", path.EstimatedMinutes).
		Msg("learning path planned")

	return path, nil
}

// orderDomains sorts domains by the analyzer's foundational order, then
// applies declared prerequisite pairs as a stable topological pass so a
// background domain always lands before the domains that assume it.
func (p *Planner) orderDomains(domains []models.Domain) ([]models.Domain, error) {
	ordered := make([]models.Domain, len(domains))
	copy(ordered, domains)
	sort.SliceStable(ordered, func(a, b int) bool {
		return ordered[a].Order < ordered[b].Order
	})

	present := make(map[string]int, len(ordered))
	for i, d := range ordered {
		present[strings.ToLower(d.Name)] = i
	}

	// Kahn over the declared pairs only. Ties resolve by the complexity
	// ordering established above.
	indegree := make([]int, len(ordered))
	dependents := make(map[int][]int)
	for i, d := range ordered {
		for _, bg := range p.prereqs[strings.ToLower(d.Name)] {
			if j, ok := present[bg]; ok && j != i {
				indegree[i]++
				dependents[j] = append(dependents[j], i)
			}
		}
	}

	var ready []int
	for i := range ordered {
		if indegree[i] == 0 {
			ready = append(ready, i)
		}
	}
	var result []models.Domain
	for len(ready) > 0 {
		sort.Ints(ready)
		next := ready[0]
		ready = ready[1:]
		result = append(result, ordered[next])
		for _, dep := range dependents[next] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}
	if len(result) != len(ordered) {
		var stuck []string
		for i, deg := range indegree {
			if deg > 0 {
				stuck = append(stuck, ordered[i].Name)
			}
		}
		sort.Strings(stuck)
		return nil, fmt.Errorf("plan: domain prerequisites form a cycle: %s", strings.Join(stuck, ", "))
	}
	return result, nil
}

var baseMinutes = map[models.TaskType]int{
	models.TaskRead:      20,
	models.TaskAnalyze:   30,
	models.TaskImplement: 60,
	models.TaskTest:      40,
}

// estimateTask fills EstimatedMinutes and Difficulty from the task type, the
// domain's complexity, the size of the referenced files, and the learner's
// experience level.
func estimateTask(t *models.Task, d models.Domain, sizes map[string]int, profile models.LearnerProfile) {
	base := baseMinutes[t.Type]
	if base == 0 {
		base = 30
	}

	complexityMult := 1.0
	switch d.Complexity {
	case models.ComplexityBeginner:
		complexityMult = 0.8
	case models.ComplexityAdvanced:
		complexityMult = 1.4
	}

	total := 0
	for _, f := range t.Files {
		total += sizes[f]
	}
	// Up to 2x for very large reference material; 20 KB saturates.
	sizeFactor := 1.0 + math.Min(float64(total), 20000)/20000

	experienceMult := 1.0
	switch strings.ToLower(profile.ExperienceLevel) {
	case "beginner":
		experienceMult = 1.25
	case "advanced":
		experienceMult = 0.8
	}

	t.EstimatedMinutes = int(math.Round(float64(base) * complexityMult * sizeFactor * experienceMult))
	if t.EstimatedMinutes < 5 {
		t.EstimatedMinutes = 5
	}

	typeWeight := map[models.TaskType]float64{
		models.TaskRead:      1.0,
		models.TaskAnalyze:   2.0,
		models.TaskImplement: 3.0,
		models.TaskTest:      2.5,
	}
	t.Difficulty = typeWeight[t.Type] + d.ComplexityScore/10
}
