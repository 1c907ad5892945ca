// Package models provides the wire-stable JSON types shared by the queue
// store, the handoff document, the status HTTP server, and pkg/client.
package models

import "time"

// Phase identifies one stage of the fixed five-phase pipeline.
type Phase string

const (
	PhasePlan      Phase = "plan"
	PhaseImplement Phase = "implement"
	PhaseReview    Phase = "review"
	PhaseTest      Phase = "test"
	PhasePR        Phase = "pr"
)

// JobStatus is the lifecycle status of a queued unit of work.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobInProgress JobStatus = "in_progress"
	JobDone       JobStatus = "done"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

// RunStatus is the lifecycle status recorded in a handoff's state.status.
type RunStatus string

const (
	RunQueued     RunStatus = "queued"
	RunInProgress RunStatus = "in_progress"
	RunCompleted  RunStatus = "completed"
	RunFailed     RunStatus = "failed"
	RunCancelled  RunStatus = "cancelled"
)

// ReviewDecision is review.json's decision field.
type ReviewDecision string

const (
	ReviewApproved ReviewDecision = "approved"
	ReviewRejected ReviewDecision = "rejected"
	ReviewBlocked  ReviewDecision = "blocked"
)

// Job is a unit of work for one phase of one run, as persisted by the queue store.
type Job struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	Phase     Phase     `json:"phase"`
	Status    JobStatus `json:"status"`
	Attempt   int       `json:"attempt"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	LastError *string   `json:"last_error,omitempty"`
}

// Lease is exclusive tenancy of a run_id by a worker.
type Lease struct {
	RunID    string    `json:"run_id"`
	LockedAt time.Time `json:"locked_at"`
	Owner    string    `json:"owner"`
}

// Stats is the informational snapshot returned by queue.Store.Stats.
type Stats struct {
	Queued     int `json:"queued"`
	InProgress int `json:"in_progress"`
	LeaseCount int `json:"lease_count"`
}

// RecoverResult is the outcome of one RecoverStale sweep.
type RecoverResult struct {
	RequeuedJobs   int `json:"requeued_jobs"`
	ReleasedLeases int `json:"released_leases"`
}

// RepoInfo is the run's repository coordinates, filled in as the run progresses.
type RepoInfo struct {
	Root       string `json:"root"`
	Branch     string `json:"branch"`
	BaseBranch string `json:"baseBranch"`
	URL        string `json:"url"`
	// BaseSHA is the commit the work branch was created from, recorded by
	// the plan phase and used by the implement phase to compute the
	// merged diff against.
	BaseSHA string `json:"baseSha,omitempty"`
}

// RunInfo is the handoff's run block.
type RunInfo struct {
	ID            string    `json:"id"`
	CreatedAt     time.Time `json:"createdAt"`
	Repo          RepoInfo  `json:"repo"`
	KeepWorkspace bool      `json:"keepWorkspace"`
}

// TaskInfo is the handoff's task block.
type TaskInfo struct {
	ID     string `json:"id"`
	Prompt string `json:"prompt"`
	Mode   string `json:"mode,omitempty"`
}

// HistoryEntry is one append-only record of a phase transition.
type HistoryEntry struct {
	Phase    Phase     `json:"phase"`
	Status   RunStatus `json:"status"`
	EndedAt  time.Time `json:"endedAt"`
	Artifact string    `json:"artifact,omitempty"`
}

// StateBlock is the handoff's state block.
type StateBlock struct {
	Phase         Phase          `json:"phase"`
	Status        RunStatus      `json:"status"`
	Iteration     int            `json:"iteration"`
	MaxIterations int            `json:"maxIterations"`
	History       []HistoryEntry `json:"history"`
	// ReviewRetries counts rejected review rounds since the current
	// implement/review cycle began; it resets whenever review approves
	// or the run returns to plan.
	ReviewRetries int `json:"reviewRetries,omitempty"`
}

// Constraints carries cross-phase flags derived from plan.json.
type Constraints struct {
	RequireTestsForBehaviorChange *bool `json:"requireTestsForBehaviorChange,omitempty"`
}

// NextPointer designates the next agent to act and what it needs.
type NextPointer struct {
	Agent          string   `json:"agent"`
	InputArtifacts []string `json:"inputArtifacts"`
	Instructions   []string `json:"instructions"`
}

// Handoff is the per-run JSON document persisted at <run_dir>/handoff.json.
type Handoff struct {
	Run         RunInfo           `json:"run"`
	Task        TaskInfo          `json:"task"`
	State       StateBlock        `json:"state"`
	Artifacts   map[string]string `json:"artifacts"`
	Constraints *Constraints      `json:"constraints,omitempty"`
	Next        *NextPointer      `json:"next,omitempty"`
	Notes       []string          `json:"notes"`
}

// Canonical artifact filenames, relative to the run directory.
const (
	ArtifactTask             = "task.json"
	ArtifactHandoff          = "handoff.json"
	ArtifactHandoffImpl      = "handoff.implementor.json"
	ArtifactHandoffReview    = "handoff.review.json"
	ArtifactHandoffTest      = "handoff.test.json"
	ArtifactPlan             = "plan.json"
	ArtifactPlanError        = "plan.error.json"
	ArtifactImplementor      = "implementor.json"
	ArtifactImplementorError = "implementor.error.json"
	ArtifactReview           = "review.json"
	ArtifactReviewError      = "review.error.json"
	ArtifactTest             = "test.json"
	ArtifactTestError        = "test.error.json"
	ArtifactPRDraft          = "pr-draft.json"
)

// PRDraft is the terminal pr-draft.json artifact.
type PRDraft struct {
	TaskID string   `json:"task_id"`
	Status string   `json:"status"`
	Repo   RepoInfo `json:"repo"`
}
