package planner

import (
	"fmt"
	"path"
	"strings"

	"github.com/pathforge/pkg/models"
)

// A Variant is a pure function from a domain and its key files to a task
// subgraph. New domain kinds are supported by registering a new variant,
// never by editing a central conditional.
type Variant func(domain models.Domain, ids *taskIDGen) []models.Task

// Template pairs a variant with the predicate that selects it.
type Template struct {
	Name    string
	Matches func(domain models.Domain) bool
	Build   Variant
}

// Registry holds templates in registration order; the first match wins, and
// the generic chain is the fallback.
type Registry struct {
	templates []Template
}

// NewRegistry returns a registry preloaded with the built-in variants.
func NewRegistry() *Registry {
	r := &Registry{}
	r.Register(Template{
		Name:    "auth",
		Matches: domainNamed("auth", "authentication", "authorization", "security"),
		Build:   authVariant,
	})
	r.Register(Template{
		Name:    "api",
		Matches: domainNamed("api", "handlers", "routes", "controllers", "server"),
		Build:   apiVariant,
	})
	r.Register(Template{
		Name:    "storage",
		Matches: domainNamed("storage", "database", "db", "models", "repository", "store"),
		Build:   storageVariant,
	})
	return r
}

// Register appends a template. Later registrations only apply to domains no
// earlier template matched.
func (r *Registry) Register(t Template) {
	r.templates = append(r.templates, t)
}

// Build materializes the task subgraph for one domain.
func (r *Registry) Build(domain models.Domain, ids *taskIDGen) []models.Task {
	for _, t := range r.templates {
		if t.Matches(domain) {
			return t.Build(domain, ids)
		}
	}
	return genericVariant(domain, ids)
}

func domainNamed(names ...string) func(models.Domain) bool {
	return func(d models.Domain) bool {
		lower := strings.ToLower(d.Name)
		for _, n := range names {
			if lower == n || strings.Contains(lower, n) {
				return true
			}
		}
		return false
	}
}

// taskIDGen allocates sequential, deterministic task ids per domain
// (e.g. auth-001, auth-002).
type taskIDGen struct {
	domain string
	seq    int
}

func newTaskIDGen(domain string) *taskIDGen {
	return &taskIDGen{domain: sanitizeDomain(domain)}
}

func (g *taskIDGen) next() string {
	g.seq++
	return fmt.Sprintf("%s-%03d", g.domain, g.seq)
}

func sanitizeDomain(name string) string {
	name = strings.ToLower(name)
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		default:
			return '-'
		}
	}, name)
	return strings.Trim(name, "-")
}

// genericVariant is the fallback read → analyze → implement → test chain.
// Foundational key files (the most imported of the domain) become read
// tasks; the remaining key files become analyze tasks depending on every
// read task; a single implement and test task close the chain.
func genericVariant(domain models.Domain, ids *taskIDGen) []models.Task {
	return chainVariant(domain, ids, chainSpec{
		readObjective:      "Understand the types and contracts %s defines",
		analyzeObjective:   "Trace how %s uses the domain's foundations",
		implementTitle:     fmt.Sprintf("Extend the %s domain with a small change", domain.Name),
		implementObjective: fmt.Sprintf("Make a scoped change in %s without breaking its contracts", domain.Name),
		testTitle:          fmt.Sprintf("Write tests covering the %s domain", domain.Name),
		testObjective:      fmt.Sprintf("Exercise the %s behavior you changed with tests", domain.Name),
	})
}

func authVariant(domain models.Domain, ids *taskIDGen) []models.Task {
	return chainVariant(domain, ids, chainSpec{
		readObjective:      "Identify the credentials and token types %s defines",
		analyzeObjective:   "Follow a full authentication flow through %s",
		implementTitle:     fmt.Sprintf("Harden a validation path in %s", domain.Name),
		implementObjective: "Tighten input validation on one authentication path",
		testTitle:          fmt.Sprintf("Write negative-path tests for %s", domain.Name),
		testObjective:      "Cover expiry, tampering, and missing-credential cases",
	})
}

func apiVariant(domain models.Domain, ids *taskIDGen) []models.Task {
	return chainVariant(domain, ids, chainSpec{
		readObjective:      "Map the routes and payload shapes %s declares",
		analyzeObjective:   "Trace one request through %s from route to response",
		implementTitle:     fmt.Sprintf("Add an endpoint to %s", domain.Name),
		implementObjective: "Add one read-only endpoint following the existing conventions",
		testTitle:          fmt.Sprintf("Write handler tests for %s", domain.Name),
		testObjective:      "Exercise the new endpoint's success and error responses",
	})
}

func storageVariant(domain models.Domain, ids *taskIDGen) []models.Task {
	return chainVariant(domain, ids, chainSpec{
		readObjective:      "Understand the entities and ownership rules %s persists",
		analyzeObjective:   "Follow a write through %s and find its invariants",
		implementTitle:     fmt.Sprintf("Add a query to %s", domain.Name),
		implementObjective: "Add one query method following the existing access patterns",
		testTitle:          fmt.Sprintf("Write store tests for %s", domain.Name),
		testObjective:      "Cover the new query against an empty and a populated store",
	})
}

type chainSpec struct {
	readObjective      string
	analyzeObjective   string
	implementTitle     string
	implementObjective string
	testTitle          string
	testObjective      string
}

func chainVariant(domain models.Domain, ids *taskIDGen, spec chainSpec) []models.Task {
	keyFiles := domain.KeyFiles
	if len(keyFiles) == 0 {
		keyFiles = domain.Files
	}
	if len(keyFiles) == 0 {
		return nil
	}

	// The first half of the key files (most imported first) are the domain's
	// foundations and become read tasks; the rest become analyze tasks.
	readCount := (len(keyFiles) + 1) / 2
	readFiles := keyFiles[:readCount]
	analyzeFiles := keyFiles[readCount:]

	var tasks []models.Task
	var readIDs []string

	for _, f := range readFiles {
		id := ids.next()
		readIDs = append(readIDs, id)
		tasks = append(tasks, models.Task{
			ID:         id,
			Title:      fmt.Sprintf("Read %s", path.Base(f)),
			Type:       models.TaskRead,
			Files:      []string{f},
			Objectives: []string{fmt.Sprintf(spec.readObjective, path.Base(f))},
			Domain:     domain.Name,
		})
	}

	var analyzeIDs []string
	for _, f := range analyzeFiles {
		id := ids.next()
		analyzeIDs = append(analyzeIDs, id)
		tasks = append(tasks, models.Task{
			ID:            id,
			Title:         fmt.Sprintf("Analyze %s", path.Base(f)),
			Type:          models.TaskAnalyze,
			Files:         []string{f},
			Prerequisites: append([]string(nil), readIDs...),
			Objectives:    []string{fmt.Sprintf(spec.analyzeObjective, path.Base(f))},
			Domain:        domain.Name,
		})
	}

	// implement depends on the whole comprehension stage
	implementPrereqs := append(append([]string(nil), readIDs...), analyzeIDs...)
	implementID := ids.next()
	tasks = append(tasks, models.Task{
		ID:            implementID,
		Title:         spec.implementTitle,
		Type:          models.TaskImplement,
		Files:         append([]string(nil), keyFiles...),
		Prerequisites: implementPrereqs,
		Objectives:    []string{spec.implementObjective},
		Domain:        domain.Name,
	})

	tasks = append(tasks, models.Task{
		ID:            ids.next(),
		Title:         spec.testTitle,
		Type:          models.TaskTest,
		Files:         append([]string(nil), keyFiles...),
		Prerequisites: []string{implementID},
		Objectives:    []string{spec.testObjective},
		Domain:        domain.Name,
	})

	return tasks
}
