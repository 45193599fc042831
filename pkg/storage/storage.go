package storage

import (
	"github.com/Tight5/Zero-Gate-sub000/pkg/models"
	"github.com/pkg/errors"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Store archives terminal tasks and their attempt history. The scheduler
// writes; dashboards and the CLI read. The in-memory implementation is the
// default; Postgres is used when a connection string is configured.
type Store interface {
	SaveTask(t models.WorkflowTask) error
	GetTask(id string) (models.WorkflowTask, error)
	ListTasks(tenantID string, limit int) ([]models.WorkflowTask, error)

	SaveLog(l models.ExecutionLog) error
	ListLogs(taskID string) ([]models.ExecutionLog, error)

	Close() error
}
