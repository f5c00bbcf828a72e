// Package export builds the versioned learning-spec document an external task
// client consumes, and re-imports it without side effects when nothing
// changed.
package export

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/pathforge/pkg/models"
)

// SpecVersion identifies the document shape; bump on breaking changes.
const SpecVersion = "1"

// LearningSpec is the wire document. Field order is fixed by the struct, and
// no maps appear anywhere in it, so encoding the same path state always
// produces identical bytes.
type LearningSpec struct {
	Version  string      `json:"version"`
	Metadata Metadata    `json:"metadata"`
	Phases   []SpecPhase `json:"phases"`
}

type Metadata struct {
	Name              string `json:"name"`
	Repository        string `json:"repository"`
	EstimatedDuration int    `json:"estimatedDuration"` // minutes
}

type SpecPhase struct {
	Name     string     `json:"name"`
	DayRange DayRange   `json:"dayRange"`
	Tasks    []SpecTask `json:"tasks"`
}

type DayRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

type SpecTask struct {
	ID               string   `json:"id"`
	Title            string   `json:"title"`
	Type             string   `json:"type"`
	Files            []string `json:"files"`
	EstimatedMinutes int      `json:"estimatedMinutes"`
	Objectives       []string `json:"objectives"`
	Prerequisites    []string `json:"prerequisites"`
}

// BuildSpec converts a learning path into its export document and validates
// it. A validation failure here is a planner bug, not a user error, so it
// surfaces as an error the caller treats as fatal.
func BuildSpec(path *models.LearningPath) (*LearningSpec, error) {
	if path == nil {
		return nil, fmt.Errorf("build spec: nil path")
	}

	doc := &LearningSpec{
		Version: SpecVersion,
		Metadata: Metadata{
			Name:              path.Name,
			Repository:        path.RepositoryID,
			EstimatedDuration: path.EstimatedMinutes,
		},
	}
	for _, phase := range path.Phases {
		sp := SpecPhase{
			Name:     phase.Name,
			DayRange: DayRange{Start: phase.DayStart, End: phase.DayEnd},
		}
		for _, task := range phase.Tasks {
			sp.Tasks = append(sp.Tasks, SpecTask{
				ID:               task.ID,
				Title:            task.Title,
				Type:             string(task.Type),
				Files:            emptyNotNil(task.Files),
				EstimatedMinutes: task.EstimatedMinutes,
				Objectives:       emptyNotNil(task.Objectives),
				Prerequisites:    emptyNotNil(task.Prerequisites),
			})
		}
		doc.Phases = append(doc.Phases, sp)
	}

	if err := Validate(doc); err != nil {
		log.Error().Str("path", path.ID).Err(err).
			Msg("planner produced a malformed learning spec")
		return nil, fmt.Errorf("build spec for path %s: %w", path.ID, err)
	}
	return doc, nil
}

// emptyNotNil keeps JSON output stable: nil and empty slices must encode the
// same way.
func emptyNotNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// Validate checks the document against the export contract before it leaves
// the process.
func Validate(doc *LearningSpec) error {
	if doc == nil {
		return fmt.Errorf("nil spec")
	}
	if doc.Version == "" {
		return fmt.Errorf("missing version")
	}
	if doc.Metadata.Repository == "" {
		return fmt.Errorf("missing repository in metadata")
	}
	if len(doc.Phases) == 0 {
		return fmt.Errorf("spec has no phases")
	}

	seen := make(map[string]bool)
	for pi, phase := range doc.Phases {
		if phase.Name == "" {
			return fmt.Errorf("phase %d: missing name", pi)
		}
		if phase.DayRange.Start < 1 || phase.DayRange.End < phase.DayRange.Start {
			return fmt.Errorf("phase %q: invalid day range %d-%d",
				phase.Name, phase.DayRange.Start, phase.DayRange.End)
		}
		for _, task := range phase.Tasks {
			if task.ID == "" {
				return fmt.Errorf("phase %q: task with empty id", phase.Name)
			}
			if seen[task.ID] {
				return fmt.Errorf("duplicate task id %s", task.ID)
			}
			seen[task.ID] = true
			if !models.ValidTaskType(models.TaskType(task.Type)) {
				return fmt.Errorf("task %s: unknown type %q", task.ID, task.Type)
			}
			if task.EstimatedMinutes <= 0 {
				return fmt.Errorf("task %s: non-positive estimate", task.ID)
			}
			for _, pre := range task.Prerequisites {
				if !seen[pre] {
					return fmt.Errorf("task %s: prerequisite %s not yet defined", task.ID, pre)
				}
			}
		}
	}
	return nil
}

// Encode renders the document as canonical JSON. The same document always
// encodes to the same bytes.
func Encode(doc *LearningSpec) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode spec: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses a document previously produced by Encode.
func Decode(data []byte) (*LearningSpec, error) {
	var doc LearningSpec
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode spec: %w", err)
	}
	return &doc, nil
}

// ApplySpec re-imports an exported document against the current path. When
// the document matches the path's current export, nothing changes and changed
// is false; a diverging document updates the path's task set from the spec.
func ApplySpec(path *models.LearningPath, doc *LearningSpec) (changed bool, err error) {
	if err := Validate(doc); err != nil {
		return false, fmt.Errorf("apply spec: %w", err)
	}

	current, err := BuildSpec(path)
	if err != nil {
		return false, err
	}
	currentBytes, err := Encode(current)
	if err != nil {
		return false, err
	}
	incomingBytes, err := Encode(doc)
	if err != nil {
		return false, err
	}
	if bytes.Equal(currentBytes, incomingBytes) {
		return false, nil
	}

	if doc.Metadata.Repository != path.RepositoryID {
		return false, fmt.Errorf("apply spec: document targets repository %s, path belongs to %s",
			doc.Metadata.Repository, path.RepositoryID)
	}

	path.Name = doc.Metadata.Name
	path.EstimatedMinutes = doc.Metadata.EstimatedDuration
	phases := make([]models.Phase, 0, len(doc.Phases))
	for i, sp := range doc.Phases {
		phase := models.Phase{
			ID:       fmt.Sprintf("phase-%03d", i+1),
			Name:     sp.Name,
			DayStart: sp.DayRange.Start,
			DayEnd:   sp.DayRange.End,
		}
		if i > 0 {
			phase.Prerequisites = []string{phases[i-1].ID}
		}
		for _, st := range sp.Tasks {
			phase.Tasks = append(phase.Tasks, models.Task{
				ID:               st.ID,
				Title:            st.Title,
				Type:             models.TaskType(st.Type),
				Files:            st.Files,
				EstimatedMinutes: st.EstimatedMinutes,
				Objectives:       st.Objectives,
				Prerequisites:    st.Prerequisites,
			})
		}
		phases = append(phases, phase)
	}
	path.Phases = phases

	log.Info().Str("path", path.ID).Int("phases", len(phases)).
		Msg("learning path updated from imported spec")
	return true, nil
}
