package export

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/pathforge/pkg/models"
)

func samplePath() *models.LearningPath {
	return &models.LearningPath{
		ID:               "path-1",
		RepositoryID:     "repo-1",
		LearnerID:        "u1",
		Name:             "Learning path for repo-1",
		Status:           models.PathDraft,
		EstimatedMinutes: 180,
		Phases: []models.Phase{
			{
				ID:       "phase-001",
				Name:     "Phase 1: auth",
				DayStart: 1,
				DayEnd:   2,
				Tasks: []models.Task{
					{
						ID:               "auth-001",
						Title:            "Read types.ts",
						Type:             models.TaskRead,
						Files:            []string{"auth/types.ts"},
						EstimatedMinutes: 20,
						Objectives:       []string{"Understand the token types"},
					},
					{
						ID:               "auth-002",
						Title:            "Analyze jwt.ts",
						Type:             models.TaskAnalyze,
						Files:            []string{"auth/jwt.ts"},
						EstimatedMinutes: 40,
						Prerequisites:    []string{"auth-001"},
						Objectives:       []string{"Follow a full authentication flow"},
					},
				},
			},
			{
				ID:            "phase-002",
				Name:          "Phase 2: api",
				DayStart:      3,
				DayEnd:        4,
				Prerequisites: []string{"phase-001"},
				Tasks: []models.Task{
					{
						ID:               "api-001",
						Title:            "Read routes.ts",
						Type:             models.TaskRead,
						Files:            []string{"api/routes.ts"},
						EstimatedMinutes: 30,
						Prerequisites:    []string{"auth-002"},
						Objectives:       []string{"Map the routes"},
					},
				},
			},
		},
	}
}

func TestBuildSpecShape(t *testing.T) {
	doc, err := BuildSpec(samplePath())
	if err != nil {
		t.Fatalf("BuildSpec: %v", err)
	}

	if doc.Version != SpecVersion {
		t.Errorf("version = %q, want %q", doc.Version, SpecVersion)
	}
	if doc.Metadata.Repository != "repo-1" || doc.Metadata.EstimatedDuration != 180 {
		t.Errorf("unexpected metadata %+v", doc.Metadata)
	}
	if len(doc.Phases) != 2 {
		t.Fatalf("expected 2 phases, got %d", len(doc.Phases))
	}
	if got := doc.Phases[0].DayRange; got.Start != 1 || got.End != 2 {
		t.Errorf("unexpected day range %+v", got)
	}
	if doc.Phases[0].Tasks[0].Prerequisites == nil {
		t.Error("empty prerequisites must encode as [], not null")
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	doc, err := BuildSpec(samplePath())
	if err != nil {
		t.Fatalf("BuildSpec: %v", err)
	}
	first, err := Encode(doc)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	for i := 0; i < 10; i++ {
		doc2, err := BuildSpec(samplePath())
		if err != nil {
			t.Fatalf("BuildSpec: %v", err)
		}
		again, err := Encode(doc2)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		if string(first) != string(again) {
			t.Fatalf("encoding diverged on run %d", i)
		}
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	doc, err := BuildSpec(samplePath())
	if err != nil {
		t.Fatalf("BuildSpec: %v", err)
	}
	data, err := Encode(doc)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	back, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if diff := cmp.Diff(doc, back); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestApplySpecUnchangedIsNoOp(t *testing.T) {
	path := samplePath()
	doc, err := BuildSpec(path)
	if err != nil {
		t.Fatalf("BuildSpec: %v", err)
	}

	before := *path
	changed, err := ApplySpec(path, doc)
	if err != nil {
		t.Fatalf("ApplySpec: %v", err)
	}
	if changed {
		t.Error("re-importing an unchanged spec must not report a change")
	}
	if diff := cmp.Diff(&before, path); diff != "" {
		t.Errorf("path mutated by no-op import (-want +got):\n%s", diff)
	}
}

func TestApplySpecUpdatesPath(t *testing.T) {
	path := samplePath()
	doc, err := BuildSpec(path)
	if err != nil {
		t.Fatalf("BuildSpec: %v", err)
	}
	doc.Phases[0].Tasks[0].EstimatedMinutes = 55
	doc.Metadata.EstimatedDuration = 215

	changed, err := ApplySpec(path, doc)
	if err != nil {
		t.Fatalf("ApplySpec: %v", err)
	}
	if !changed {
		t.Fatal("expected a change")
	}
	if path.Phases[0].Tasks[0].EstimatedMinutes != 55 {
		t.Errorf("task estimate not updated, got %d", path.Phases[0].Tasks[0].EstimatedMinutes)
	}
	if path.EstimatedMinutes != 215 {
		t.Errorf("path total not updated, got %d", path.EstimatedMinutes)
	}
}

func TestApplySpecRejectsWrongRepository(t *testing.T) {
	path := samplePath()
	doc, err := BuildSpec(path)
	if err != nil {
		t.Fatalf("BuildSpec: %v", err)
	}
	doc.Metadata.Repository = "repo-2"
	if _, err := ApplySpec(path, doc); err == nil {
		t.Fatal("expected repository mismatch error")
	}
}

func TestValidateCatchesMalformedSpecs(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*LearningSpec)
	}{
		{"missing version", func(d *LearningSpec) { d.Version = "" }},
		{"missing repository", func(d *LearningSpec) { d.Metadata.Repository = "" }},
		{"no phases", func(d *LearningSpec) { d.Phases = nil }},
		{"bad day range", func(d *LearningSpec) { d.Phases[0].DayRange.End = 0 }},
		{"empty task id", func(d *LearningSpec) { d.Phases[0].Tasks[0].ID = "" }},
		{"duplicate task id", func(d *LearningSpec) { d.Phases[1].Tasks[0].ID = "auth-001" }},
		{"unknown type", func(d *LearningSpec) { d.Phases[0].Tasks[0].Type = "watch" }},
		{"zero estimate", func(d *LearningSpec) { d.Phases[0].Tasks[0].EstimatedMinutes = 0 }},
		{"forward prerequisite", func(d *LearningSpec) {
			d.Phases[0].Tasks[0].Prerequisites = []string{"api-001"}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			doc, err := BuildSpec(samplePath())
			if err != nil {
				t.Fatalf("BuildSpec: %v", err)
			}
			tc.mutate(doc)
			if err := Validate(doc); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
