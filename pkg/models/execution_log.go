package models

import "time"

// ExecutionLog records one attempt of a task for auditing.
type ExecutionLog struct {
	ID       int64      `json:"id" db:"id"`
	TaskID   string     `json:"task_id" db:"task_id"`
	TenantID string     `json:"tenant_id" db:"tenant_id"`
	Attempt  int        `json:"attempt" db:"attempt"`
	Status   TaskStatus `json:"status" db:"status"`
	Message  string     `json:"message,omitempty" db:"message"`
	LoggedAt time.Time  `json:"logged_at" db:"logged_at"`
}
