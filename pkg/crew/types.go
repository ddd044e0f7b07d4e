// Package crew layers a task-orchestration workflow on the messenger
// substrate: a plan is a DAG of tasks executed in waves by spawned worker
// sessions, with bounded parallelism, retry, and review. State lives in
// per-task files under the project's crew directory so any process can
// inspect or resume the run.
package crew

import "time"

// Status is a task's lifecycle state.
type Status string

// Task states. todo → in_progress → {done, blocked}; blocked → todo on
// unblock; anything → todo on reset.
const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
	StatusBlocked    Status = "blocked"
)

// Task is one node of the plan DAG. The markdown specification body lives
// next to the JSON in tasks/<id>.md.
type Task struct {
	ID            string   `json:"id"` // "task-N", N >= 1
	Title         string   `json:"title"`
	Status        Status   `json:"status"`
	DependsOn     []string `json:"dependsOn,omitempty"`
	AssignedTo    string   `json:"assignedTo,omitempty"`
	AttemptCount  int      `json:"attemptCount"`
	ReviewCount   int      `json:"reviewCount,omitempty"`
	LastReview    *Verdict `json:"lastReview,omitempty"`
	BlockedReason string   `json:"blockedReason,omitempty"`
	Summary       string   `json:"summary,omitempty"`
}

// Plan is the per-project work plan header; the markdown body is plan.md.
type Plan struct {
	PRDPath   string    `json:"prdPath,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	Progress  string    `json:"progress,omitempty"`
}

// VerdictKind is a reviewer's judgment.
type VerdictKind string

// Review verdicts.
const (
	VerdictShip         VerdictKind = "SHIP"
	VerdictNeedsWork    VerdictKind = "NEEDS_WORK"
	VerdictMajorRethink VerdictKind = "MAJOR_RETHINK"
)

// Verdict is the structured form of a reviewer's markdown output.
type Verdict struct {
	Verdict     VerdictKind `json:"verdict"`
	Summary     string      `json:"summary"`
	Issues      []string    `json:"issues,omitempty"`
	Suggestions []string    `json:"suggestions,omitempty"`
}
