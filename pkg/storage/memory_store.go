package storage

import (
	"sync"

	"github.com/Tight5/Zero-Gate-sub000/pkg/models"
)

// memoryStore implements Store with in-memory storage. It backs tests and
// deployments that do not configure a database.
type memoryStore struct {
	mu     sync.RWMutex
	tasks  map[string]models.WorkflowTask
	order  []string
	logs   map[string][]models.ExecutionLog
	nextID int64
}

func NewMemoryStore() Store {
	return &memoryStore{
		tasks: make(map[string]models.WorkflowTask),
		logs:  make(map[string][]models.ExecutionLog),
	}
}

func (m *memoryStore) SaveTask(t models.WorkflowTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.tasks[t.ID]; !exists {
		m.order = append(m.order, t.ID)
	}
	m.tasks[t.ID] = t
	return nil
}

func (m *memoryStore) GetTask(id string) (models.WorkflowTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return models.WorkflowTask{}, ErrNotFound
	}
	return t, nil
}

func (m *memoryStore) ListTasks(tenantID string, limit int) ([]models.WorkflowTask, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.WorkflowTask
	// Newest first, matching the Postgres store's ordering.
	for i := len(m.order) - 1; i >= 0; i-- {
		t := m.tasks[m.order[i]]
		if tenantID != "" && t.TenantID != tenantID {
			continue
		}
		out = append(out, t)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memoryStore) SaveLog(l models.ExecutionLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	l.ID = m.nextID
	m.logs[l.TaskID] = append(m.logs[l.TaskID], l)
	return nil
}

func (m *memoryStore) ListLogs(taskID string) ([]models.ExecutionLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	logs := m.logs[taskID]
	out := make([]models.ExecutionLog, len(logs))
	copy(out, logs)
	return out, nil
}

func (m *memoryStore) Close() error {
	return nil
}
