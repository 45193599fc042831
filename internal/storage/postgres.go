package storage

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/Tight5/Zero-Gate-sub000/pkg/models"
	"github.com/Tight5/Zero-Gate-sub000/pkg/storage"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
)

// PostgresStore archives terminal tasks and execution logs. Payload,
// result and depends_on are stored as JSON columns since the orchestrator
// treats them as opaque.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

type taskRow struct {
	ID           string         `db:"id"`
	Type         string         `db:"task_type"`
	TenantID     string         `db:"tenant_id"`
	Payload      []byte         `db:"payload"`
	Priority     string         `db:"priority"`
	DependsOn    []byte         `db:"depends_on"`
	Status       string         `db:"status"`
	AttemptCount int            `db:"attempt_count"`
	MaxAttempts  int            `db:"max_attempts"`
	Progress     float64        `db:"progress"`
	Result       []byte         `db:"result"`
	ErrorMsg     sql.NullString `db:"error_msg"`
	CreatedAt    time.Time      `db:"created_at"`
	StartedAt    *time.Time     `db:"started_at"`
	CompletedAt  *time.Time     `db:"completed_at"`
}

func toRow(t models.WorkflowTask) (taskRow, error) {
	payload, err := json.Marshal(t.Payload)
	if err != nil {
		return taskRow{}, errors.Wrap(err, "marshal payload")
	}
	deps, err := json.Marshal(t.DependsOn)
	if err != nil {
		return taskRow{}, errors.Wrap(err, "marshal depends_on")
	}
	result, err := json.Marshal(t.Result)
	if err != nil {
		return taskRow{}, errors.Wrap(err, "marshal result")
	}
	return taskRow{
		ID:           t.ID,
		Type:         string(t.Type),
		TenantID:     t.TenantID,
		Payload:      payload,
		Priority:     string(t.Priority),
		DependsOn:    deps,
		Status:       string(t.Status),
		AttemptCount: t.AttemptCount,
		MaxAttempts:  t.MaxAttempts,
		Progress:     t.Progress,
		Result:       result,
		ErrorMsg:     sql.NullString{String: t.Error, Valid: t.Error != ""},
		CreatedAt:    t.CreatedAt,
		StartedAt:    t.StartedAt,
		CompletedAt:  t.CompletedAt,
	}, nil
}

func fromRow(r taskRow) (models.WorkflowTask, error) {
	t := models.WorkflowTask{
		ID:           r.ID,
		Type:         models.TaskType(r.Type),
		TenantID:     r.TenantID,
		Priority:     models.TaskPriority(r.Priority),
		Status:       models.TaskStatus(r.Status),
		AttemptCount: r.AttemptCount,
		MaxAttempts:  r.MaxAttempts,
		Progress:     r.Progress,
		Error:        r.ErrorMsg.String,
		CreatedAt:    r.CreatedAt,
		StartedAt:    r.StartedAt,
		CompletedAt:  r.CompletedAt,
	}
	if len(r.Payload) > 0 {
		if err := json.Unmarshal(r.Payload, &t.Payload); err != nil {
			return t, errors.Wrap(err, "unmarshal payload")
		}
	}
	if len(r.DependsOn) > 0 {
		if err := json.Unmarshal(r.DependsOn, &t.DependsOn); err != nil {
			return t, errors.Wrap(err, "unmarshal depends_on")
		}
	}
	if len(r.Result) > 0 {
		if err := json.Unmarshal(r.Result, &t.Result); err != nil {
			return t, errors.Wrap(err, "unmarshal result")
		}
	}
	return t, nil
}

// SaveTask upserts an archived task. Retried tasks are archived once per
// terminal transition, so the latest write wins.
func (s *PostgresStore) SaveTask(t models.WorkflowTask) error {
	row, err := toRow(t)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO tasks (id, task_type, tenant_id, payload, priority, depends_on, status,
			attempt_count, max_attempts, progress, result, error_msg, created_at, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			attempt_count = EXCLUDED.attempt_count,
			progress = EXCLUDED.progress,
			result = EXCLUDED.result,
			error_msg = EXCLUDED.error_msg,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at`,
		row.ID, row.Type, row.TenantID, row.Payload, row.Priority, row.DependsOn, row.Status,
		row.AttemptCount, row.MaxAttempts, row.Progress, row.Result, row.ErrorMsg, row.CreatedAt, row.StartedAt, row.CompletedAt)
	if err != nil {
		return errors.Wrapf(err, "save task %s", t.ID)
	}
	return nil
}

func (s *PostgresStore) GetTask(id string) (models.WorkflowTask, error) {
	var row taskRow
	err := s.db.Get(&row, "SELECT * FROM tasks WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return models.WorkflowTask{}, storage.ErrNotFound
	}
	if err != nil {
		return models.WorkflowTask{}, err
	}
	return fromRow(row)
}

func (s *PostgresStore) ListTasks(tenantID string, limit int) ([]models.WorkflowTask, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []taskRow
	var err error
	if tenantID == "" {
		err = s.db.Select(&rows, "SELECT * FROM tasks ORDER BY created_at DESC LIMIT $1", limit)
	} else {
		err = s.db.Select(&rows, "SELECT * FROM tasks WHERE tenant_id = $1 ORDER BY created_at DESC LIMIT $2", tenantID, limit)
	}
	if err != nil {
		return nil, err
	}
	tasks := make([]models.WorkflowTask, 0, len(rows))
	for _, row := range rows {
		t, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func (s *PostgresStore) SaveLog(l models.ExecutionLog) error {
	_, err := s.db.Exec(`
		INSERT INTO execution_logs (task_id, tenant_id, attempt, status, message, logged_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		l.TaskID, l.TenantID, l.Attempt, l.Status, l.Message, l.LoggedAt)
	return err
}

func (s *PostgresStore) ListLogs(taskID string) ([]models.ExecutionLog, error) {
	var logs []models.ExecutionLog
	err := s.db.Select(&logs, "SELECT * FROM execution_logs WHERE task_id = $1 ORDER BY id", taskID)
	if err != nil {
		return nil, err
	}
	return logs, nil
}
