package models

import "time"

type TaskStatus string

const (
	PendingTaskStatus   TaskStatus = "pending"
	RunningTaskStatus   TaskStatus = "running"
	CompletedTaskStatus TaskStatus = "completed"
	FailedTaskStatus    TaskStatus = "failed"
	CancelledTaskStatus TaskStatus = "cancelled"
)

// Terminal reports whether a status admits no further transitions. A failed
// task with attempts left is re-enqueued as pending before callers ever see
// it, so failed counts as terminal here.
func (s TaskStatus) Terminal() bool {
	return s == CompletedTaskStatus || s == FailedTaskStatus || s == CancelledTaskStatus
}

type TaskPriority string

const (
	CriticalPriority TaskPriority = "critical"
	HighPriority     TaskPriority = "high"
	MediumPriority   TaskPriority = "medium"
	LowPriority      TaskPriority = "low"
)

// Rank orders priorities for queueing; lower dispatches first.
func (p TaskPriority) Rank() int {
	switch p {
	case CriticalPriority:
		return 0
	case HighPriority:
		return 1
	case MediumPriority:
		return 2
	case LowPriority:
		return 3
	}
	return 4
}

func (p TaskPriority) Valid() bool {
	return p.Rank() < 4
}

type TaskType string

const (
	SponsorAnalysisTask     TaskType = "sponsor_analysis"
	GrantTimelineTask       TaskType = "grant_timeline"
	RelationshipMappingTask TaskType = "relationship_mapping"
	EmailAnalysisTask       TaskType = "email_analysis"
	ExcelProcessingTask     TaskType = "excel_processing"
)

// TaskTypes is the closed set of workflow kinds the orchestrator dispatches.
var TaskTypes = []TaskType{
	SponsorAnalysisTask,
	GrantTimelineTask,
	RelationshipMappingTask,
	EmailAnalysisTask,
	ExcelProcessingTask,
}

func (t TaskType) Valid() bool {
	for _, known := range TaskTypes {
		if t == known {
			return true
		}
	}
	return false
}

// WorkflowTask is a single unit of analytical work scheduled by the orchestrator.
type WorkflowTask struct {
	ID           string                 `json:"id" db:"id"`
	Type         TaskType               `json:"type" db:"task_type"`
	TenantID     string                 `json:"tenant_id" db:"tenant_id"`
	Payload      map[string]interface{} `json:"payload,omitempty" db:"-"`
	Priority     TaskPriority           `json:"priority" db:"priority"`
	DependsOn    []string               `json:"depends_on,omitempty" db:"-"`
	Status       TaskStatus             `json:"status" db:"status"`
	AttemptCount int                    `json:"attempt_count" db:"attempt_count"`
	MaxAttempts  int                    `json:"max_attempts" db:"max_attempts"`
	Progress     float64                `json:"progress" db:"progress"`
	Result       interface{}            `json:"result,omitempty" db:"-"`
	Error        string                 `json:"error,omitempty" db:"error_msg"`
	CreatedAt    time.Time              `json:"created_at" db:"created_at"`
	StartedAt    *time.Time             `json:"started_at,omitempty" db:"started_at"`
	CompletedAt  *time.Time             `json:"completed_at,omitempty" db:"completed_at"`

	// EstimatedDuration feeds the scheduler's timeout backstop. Zero means
	// the configured default applies.
	EstimatedDuration time.Duration `json:"estimated_duration,omitempty" db:"-"`
}

// Clone returns a copy safe to hand to callers while the scheduler keeps
// mutating the original. Payload and Result are shared; the scheduler does
// not mutate them after they are set.
func (t *WorkflowTask) Clone() WorkflowTask {
	cp := *t
	cp.DependsOn = append([]string(nil), t.DependsOn...)
	return cp
}
