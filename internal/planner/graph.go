package planner

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pathforge/pkg/models"
)

// CyclicCurriculumError reports a prerequisite cycle. A cycle is always a
// planner or template bug, never user input, so callers treat it as fatal.
type CyclicCurriculumError struct {
	Tasks []string // task ids participating in the cycle
}

func (e *CyclicCurriculumError) Error() string {
	return fmt.Sprintf("curriculum contains a prerequisite cycle among tasks: %s",
		strings.Join(e.Tasks, ", "))
}

// taskGraph is the explicit adjacency structure the planner builds before any
// path is persisted or exported: an arena of tasks indexed by identity, with
// prerequisite edges as identity pairs.
type taskGraph struct {
	tasks       map[string]*models.Task
	insertion   map[string]int // insertion index, for stable tie-breaks
	domainOrder map[string]int // source domain order per task
	count       int
}

func newTaskGraph() *taskGraph {
	return &taskGraph{
		tasks:       make(map[string]*models.Task),
		insertion:   make(map[string]int),
		domainOrder: make(map[string]int),
	}
}

func (g *taskGraph) add(task *models.Task, domainOrder int) error {
	if _, ok := g.tasks[task.ID]; ok {
		return fmt.Errorf("duplicate task id %s", task.ID)
	}
	g.tasks[task.ID] = task
	g.insertion[task.ID] = g.count
	g.domainOrder[task.ID] = domainOrder
	g.count++
	return nil
}

// validate checks that every prerequisite references a known task.
func (g *taskGraph) validate() error {
	for id, task := range g.tasks {
		for _, prereq := range task.Prerequisites {
			if _, ok := g.tasks[prereq]; !ok {
				return fmt.Errorf("task %s references unknown prerequisite %s", id, prereq)
			}
		}
	}
	return nil
}

// topoSort returns a valid ordering of all task ids, or CyclicCurriculumError.
// Ties between unrelated tasks break by ascending difficulty, then source
// domain order, then insertion order, so identical inputs always produce the
// identical sequence.
func (g *taskGraph) topoSort() ([]string, error) {
	if err := g.validate(); err != nil {
		return nil, err
	}

	inDegree := make(map[string]int, len(g.tasks))
	dependents := make(map[string][]string, len(g.tasks))
	for id, task := range g.tasks {
		if _, ok := inDegree[id]; !ok {
			inDegree[id] = 0
		}
		for _, prereq := range task.Prerequisites {
			inDegree[id]++
			dependents[prereq] = append(dependents[prereq], id)
		}
	}

	var ready []string
	for id, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}

	var order []string
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return g.less(ready[i], ready[j]) })

		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		for _, dep := range dependents[next] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(order) != len(g.tasks) {
		var cyclic []string
		for id := range g.tasks {
			if inDegree[id] > 0 {
				cyclic = append(cyclic, id)
			}
		}
		sort.Strings(cyclic)
		return nil, &CyclicCurriculumError{Tasks: cyclic}
	}

	return order, nil
}

func (g *taskGraph) less(a, b string) bool {
	ta, tb := g.tasks[a], g.tasks[b]
	if ta.Difficulty != tb.Difficulty {
		return ta.Difficulty < tb.Difficulty
	}
	if g.domainOrder[a] != g.domainOrder[b] {
		return g.domainOrder[a] < g.domainOrder[b]
	}
	return g.insertion[a] < g.insertion[b]
}
