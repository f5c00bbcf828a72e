package models

import (
	"time"
)

// Repository ingestion models

// SourceFile is the unit handed over by the repository ingestor: a flat
// (path, language, content) tuple. pathforge never clones or fetches itself.
type SourceFile struct {
	FilePath string `json:"file_path"`
	Language string `json:"language"`
	Content  string `json:"content"`
}

// FragmentStatus tracks the indexing lifecycle of a code fragment
type FragmentStatus string

const (
	FragmentIndexed FragmentStatus = "indexed"
	FragmentPending FragmentStatus = "index_pending"
)

// CodeFragment is a bounded span of source text stored with a derived vector
// for similarity search. Fragments are immutable once created; re-indexing a
// changed file retires the old identities and mints new ones.
type CodeFragment struct {
	ID           string         `json:"id" db:"id"`
	RepositoryID string         `json:"repository_id" db:"repository_id"`
	FilePath     string         `json:"file_path" db:"file_path"`
	StartLine    int            `json:"start_line" db:"start_line"`
	EndLine      int            `json:"end_line" db:"end_line"`
	Language     string         `json:"language" db:"language"`
	Text         string         `json:"text" db:"text"`
	Embedding    []float32      `json:"-" db:"embedding"`
	Status       FragmentStatus `json:"status" db:"status"`
	CreatedAt    time.Time      `json:"created_at" db:"created_at"`
}

// FragmentMatch is a query hit: a fragment plus its cosine similarity score.
type FragmentMatch struct {
	Fragment   CodeFragment `json:"fragment"`
	Similarity float64      `json:"similarity"`
}

// Domain analysis models

// ComplexityRating buckets a domain's difficulty
type ComplexityRating string

const (
	ComplexityBeginner     ComplexityRating = "beginner"
	ComplexityIntermediate ComplexityRating = "intermediate"
	ComplexityAdvanced     ComplexityRating = "advanced"
)

// Domain is a cohesive cluster of files representing one conceptual area of a
// codebase (e.g. auth).
type Domain struct {
	Name            string           `json:"name"`
	Files           []string         `json:"files"`
	KeyFiles        []string         `json:"key_files"`
	Complexity      ComplexityRating `json:"complexity"`
	ComplexityScore float64          `json:"complexity_score"`
	Order           int              `json:"order"` // lower = more foundational
	ImportFanOut    int              `json:"import_fan_out"`
	HasEntryPoint   bool             `json:"has_entry_point"`

	// RepresentativeFragments are retrieval-engine fragment identities that
	// best summarize the domain; empty when the index has no coverage yet.
	RepresentativeFragments []string `json:"representative_fragments,omitempty"`
}

// DomainAnalysis is the analyzer's full output for one repository snapshot.
type DomainAnalysis struct {
	RepositoryID string         `json:"repository_id"`
	Domains      []Domain       `json:"domains"`
	TotalFiles   int            `json:"total_files"`
	FileSizes    map[string]int `json:"file_sizes,omitempty"` // bytes per file, for duration estimation
	AnalyzedAt   time.Time      `json:"analyzed_at"`
}

// Curriculum models

// TaskType is the kind of work a curriculum task asks of the learner
type TaskType string

const (
	TaskRead      TaskType = "read"
	TaskAnalyze   TaskType = "analyze"
	TaskImplement TaskType = "implement"
	TaskTest      TaskType = "test"
)

// ValidTaskType reports whether t is one of the four known task types.
func ValidTaskType(t TaskType) bool {
	switch t {
	case TaskRead, TaskAnalyze, TaskImplement, TaskTest:
		return true
	}
	return false
}

// Task is one unit of curriculum work, owned by exactly one Phase.
type Task struct {
	ID               string   `json:"id"`
	Title            string   `json:"title"`
	Type             TaskType `json:"type"`
	Files            []string `json:"files"`
	EstimatedMinutes int      `json:"estimated_minutes"`
	Difficulty       float64  `json:"difficulty"`
	Prerequisites    []string `json:"prerequisites"`
	Objectives       []string `json:"objectives"`
	Domain           string   `json:"domain"`
}

// Phase is a time-boxed grouping of tasks, owned by exactly one LearningPath.
type Phase struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Tasks         []Task   `json:"tasks"`
	DayStart      int      `json:"day_start"`
	DayEnd        int      `json:"day_end"`
	Prerequisites []string `json:"prerequisites"`
}

// PathStatus is the lifecycle state of a learning path
type PathStatus string

const (
	PathDraft     PathStatus = "draft"
	PathActive    PathStatus = "active"
	PathCompleted PathStatus = "completed"
)

// LearningPath owns its phases and, transitively, their tasks. The task
// prerequisite graph across the whole path is acyclic, and the flattened task
// sequence never places a task before one of its prerequisites.
type LearningPath struct {
	ID               string     `json:"id"`
	RepositoryID     string     `json:"repository_id"`
	LearnerID        string     `json:"learner_id"`
	Name             string     `json:"name"`
	Phases           []Phase    `json:"phases"`
	Status           PathStatus `json:"status"`
	EstimatedMinutes int        `json:"estimated_minutes"`
	CreatedAt        time.Time  `json:"created_at"`
}

// Tasks returns the path's tasks flattened in phase order.
func (p *LearningPath) Tasks() []Task {
	var tasks []Task
	for _, phase := range p.Phases {
		tasks = append(tasks, phase.Tasks...)
	}
	return tasks
}

// LearnerProfile carries the per-learner knobs the planner honors.
type LearnerProfile struct {
	LearnerID       string   `json:"learner_id"`
	ExperienceLevel string   `json:"experience_level"` // beginner | intermediate | advanced
	DailyMinutes    int      `json:"daily_minutes"`
	FocusDomains    []string `json:"focus_domains,omitempty"`
}

// Progress models

// TaskStatus is the per-(learner, task) progress state
type TaskStatus string

const (
	StatusNotStarted TaskStatus = "not_started"
	StatusInProgress TaskStatus = "in_progress"
	StatusBlocked    TaskStatus = "blocked"
	StatusCompleted  TaskStatus = "completed"
)

// StatusRank orders statuses by how "advanced" they are; used to break ties
// between updates carrying equal revisions.
func StatusRank(s TaskStatus) int {
	switch s {
	case StatusNotStarted:
		return 0
	case StatusInProgress:
		return 1
	case StatusBlocked:
		return 2
	case StatusCompleted:
		return 3
	default:
		return -1
	}
}

// ValidTaskStatus reports whether s is one of the four known statuses.
func ValidTaskStatus(s TaskStatus) bool {
	return StatusRank(s) >= 0
}

// UpdateOrigin records which side last wrote a progress record
type UpdateOrigin string

const (
	OriginLocal  UpdateOrigin = "local"
	OriginClient UpdateOrigin = "external_client"
)

// ProgressRecord is the stored progress state for one (learner, task) pair.
// The revision counter never moves backwards; local writes bump it by one,
// accepted client updates move it to the incoming revision.
type ProgressRecord struct {
	LearnerID        string       `json:"learner_id" db:"learner_id"`
	TaskID           string       `json:"task_id" db:"task_id"`
	Status           TaskStatus   `json:"status" db:"status"`
	Revision         int64        `json:"revision" db:"revision"`
	Confidence       float64      `json:"confidence" db:"confidence"`
	TimeSpentMinutes int          `json:"time_spent_minutes" db:"time_spent_minutes"`
	Origin           UpdateOrigin `json:"origin" db:"origin"`
	BlockerNotes     *string      `json:"blocker_notes,omitempty" db:"blocker_notes"`
	StartedAt        *time.Time   `json:"started_at,omitempty" db:"started_at"`
	CompletedAt      *time.Time   `json:"completed_at,omitempty" db:"completed_at"`
	UpdatedAt        time.Time    `json:"updated_at" db:"updated_at"`
}

// ProgressUpdate is the inbound payload from either origin.
type ProgressUpdate struct {
	LearnerID  string       `json:"learner_id"`
	TaskID     string       `json:"task_id"`
	Status     TaskStatus   `json:"status"`
	Confidence float64      `json:"confidence"`
	TimeSpent  int          `json:"time_spent"`
	Revision   int64        `json:"revision"`
	Notes      *string      `json:"notes,omitempty"`
	Origin     UpdateOrigin `json:"origin"`
}

// LearnerMetrics is the roll-up recomputed after every accepted update.
type LearnerMetrics struct {
	LearnerID        string    `json:"learner_id"`
	CompletedTasks   int       `json:"completed_tasks"`
	TotalTasks       int       `json:"total_tasks"`
	AvgConfidence    float64   `json:"avg_confidence"`
	TotalTimeMinutes int       `json:"total_time_minutes"`
	RiskScore        float64   `json:"risk_score"`
	AtRisk           bool      `json:"at_risk"`
	ComputedAt       time.Time `json:"computed_at"`
}

// Conversation models

// Exchange is one question/answer turn with the fragments it cited.
type Exchange struct {
	Question    string    `json:"question"`
	Answer      string    `json:"answer"`
	FragmentIDs []string  `json:"fragment_ids"`
	AskedAt     time.Time `json:"asked_at"`
}

// Conversation is a bounded window of tutoring exchanges, scoped to one
// repository. Callers thread the conversation identity explicitly.
type Conversation struct {
	ID           string     `json:"id"`
	RepositoryID string     `json:"repository_id"`
	Exchanges    []Exchange `json:"exchanges"`
}

// CitedFile is a file reference a tutor answer is grounded on.
type CitedFile struct {
	FilePath  string `json:"file_path"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

// TutorResponse is the tutor's answer plus its grounding.
type TutorResponse struct {
	Answer         string      `json:"answer"`
	References     []CitedFile `json:"references"`
	Confidence     float64     `json:"confidence"`
	LowConfidence  bool        `json:"low_confidence"`
	ConversationID string      `json:"conversation_id"`
}
