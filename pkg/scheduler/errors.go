package scheduler

import "fmt"

// ValidationError rejects a bad submission synchronously; nothing that
// fails validation is ever enqueued.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid submission: %s: %s", e.Field, e.Reason)
}

func validationErrf(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// TaskNotFoundError distinguishes "unknown task id" from "task exists but
// is not finished"; the latter is not an error at all.
type TaskNotFoundError struct {
	ID string
}

func (e *TaskNotFoundError) Error() string {
	return fmt.Sprintf("task %s not found", e.ID)
}
