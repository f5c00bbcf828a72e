package planner

import (
	"testing"

	"github.com/pathforge/pkg/models"
)

func domainWithFiles(name string, keyFiles ...string) models.Domain {
	return models.Domain{
		Name:     name,
		Files:    keyFiles,
		KeyFiles: keyFiles,
	}
}

func TestChainVariantShape(t *testing.T) {
	d := domainWithFiles("billing", "billing/types.go", "billing/invoice.go", "billing/charge.go", "billing/refund.go")
	tasks := genericVariant(d, newTaskIDGen(d.Name))

	if len(tasks) != 6 {
		t.Fatalf("expected 6 tasks, got %d", len(tasks))
	}

	// first half of key files read, second half analyzed
	for i := 0; i < 2; i++ {
		if tasks[i].Type != models.TaskRead {
			t.Fatalf("task %d: expected read, got %s", i, tasks[i].Type)
		}
		if len(tasks[i].Prerequisites) != 0 {
			t.Fatalf("read task %s should have no prerequisites", tasks[i].ID)
		}
	}
	for i := 2; i < 4; i++ {
		if tasks[i].Type != models.TaskAnalyze {
			t.Fatalf("task %d: expected analyze, got %s", i, tasks[i].Type)
		}
		if len(tasks[i].Prerequisites) != 2 {
			t.Fatalf("analyze task %s should depend on both read tasks, got %v", tasks[i].ID, tasks[i].Prerequisites)
		}
	}

	impl := tasks[4]
	if impl.Type != models.TaskImplement {
		t.Fatalf("expected implement, got %s", impl.Type)
	}
	if len(impl.Prerequisites) != 4 {
		t.Fatalf("implement should depend on the whole comprehension stage, got %v", impl.Prerequisites)
	}

	test := tasks[5]
	if test.Type != models.TaskTest {
		t.Fatalf("expected test, got %s", test.Type)
	}
	if len(test.Prerequisites) != 1 || test.Prerequisites[0] != impl.ID {
		t.Fatalf("test should depend only on implement, got %v", test.Prerequisites)
	}
}

func TestChainVariantSingleFile(t *testing.T) {
	d := domainWithFiles("util", "util/strings.go")
	tasks := genericVariant(d, newTaskIDGen(d.Name))

	// one read, zero analyze, implement, test
	if len(tasks) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(tasks))
	}
	if tasks[0].Type != models.TaskRead || tasks[1].Type != models.TaskImplement || tasks[2].Type != models.TaskTest {
		t.Fatalf("unexpected chain: %s %s %s", tasks[0].Type, tasks[1].Type, tasks[2].Type)
	}
}

func TestChainVariantEmptyDomain(t *testing.T) {
	d := models.Domain{Name: "empty"}
	if tasks := genericVariant(d, newTaskIDGen(d.Name)); tasks != nil {
		t.Fatalf("expected no tasks for an empty domain, got %d", len(tasks))
	}
}

func TestTaskIDsAreSequentialAndSanitized(t *testing.T) {
	ids := newTaskIDGen("Auth & Sessions")
	if got := ids.next(); got != "auth---sessions-001" {
		t.Fatalf("unexpected first id %q", got)
	}
	if got := ids.next(); got != "auth---sessions-002" {
		t.Fatalf("unexpected second id %q", got)
	}
}

func TestRegistrySelectsByDomainName(t *testing.T) {
	r := NewRegistry()

	cases := []struct {
		domain    string
		wantTitle string
	}{
		{"auth", "Harden a validation path in auth"},
		{"api", "Add an endpoint to api"},
		{"database", "Add a query to database"},
		{"parsing", "Extend the parsing domain with a small change"},
	}
	for _, tc := range cases {
		d := domainWithFiles(tc.domain, tc.domain+"/a.go", tc.domain+"/b.go")
		tasks := r.Build(d, newTaskIDGen(d.Name))
		found := false
		for _, task := range tasks {
			if task.Title == tc.wantTitle {
				found = true
			}
		}
		if !found {
			t.Fatalf("domain %s: expected a task titled %q", tc.domain, tc.wantTitle)
		}
	}
}

func TestRegistryFirstMatchWins(t *testing.T) {
	r := NewRegistry()
	called := false
	r.Register(Template{
		Name:    "custom-auth",
		Matches: domainNamed("auth"),
		Build: func(d models.Domain, ids *taskIDGen) []models.Task {
			called = true
			return nil
		},
	})

	d := domainWithFiles("auth", "auth/jwt.go")
	r.Build(d, newTaskIDGen(d.Name))
	if called {
		t.Fatal("later registration should not shadow the built-in auth template")
	}
}
