// Package scheduler is the workflow orchestrator: it accepts job
// submissions, maintains a priority and dependency aware queue, runs a
// bounded number of jobs concurrently under resource pressure, retries
// failures with backoff and dispatches each job to its registered handler.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Tight5/Zero-Gate-sub000/pkg/gate"
	"github.com/Tight5/Zero-Gate-sub000/pkg/models"
	"github.com/Tight5/Zero-Gate-sub000/pkg/monitor"
	"github.com/Tight5/Zero-Gate-sub000/pkg/storage"
	"github.com/google/uuid"
)

// Logger defines the logging interface for the Scheduler.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Handler executes one workflow task. The context carries the timeout
// backstop and cooperative cancellation; handlers should check it at safe
// points in long loops.
type Handler func(ctx context.Context, task *models.WorkflowTask) (interface{}, error)

// AgentStatus is the orchestrator's own lifecycle state.
type AgentStatus string

const (
	AgentRunning AgentStatus = "running"
	AgentPaused  AgentStatus = "paused"
	AgentStopped AgentStatus = "stopped"
)

// Config tunes the scheduler. Zero values pick the defaults below.
type Config struct {
	// MinConcurrency and MaxConcurrency bound the dynamic worker limit.
	MinConcurrency int
	MaxConcurrency int
	// DispatchInterval is the period of the eligibility scan.
	DispatchInterval time.Duration
	// BackoffBase and BackoffCap shape the retry backoff base*2^attempts.
	BackoffBase time.Duration
	BackoffCap  time.Duration
	// TimeoutMultiplier scales a task's estimated duration into its
	// runaway-handler backstop.
	TimeoutMultiplier float64
	// DefaultMaxAttempts applies when a submission does not set one.
	DefaultMaxAttempts int
	// DefaultEstimatedDuration applies when a submission does not set one.
	DefaultEstimatedDuration time.Duration
	// Retention keeps terminal tasks readable before eviction.
	Retention time.Duration
}

func (c Config) withDefaults() Config {
	if c.MinConcurrency <= 0 {
		c.MinConcurrency = 1
	}
	if c.MaxConcurrency < c.MinConcurrency {
		c.MaxConcurrency = c.MinConcurrency + 3
	}
	if c.DispatchInterval <= 0 {
		c.DispatchInterval = 100 * time.Millisecond
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 500 * time.Millisecond
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 30 * time.Second
	}
	if c.TimeoutMultiplier <= 0 {
		c.TimeoutMultiplier = 3
	}
	if c.DefaultMaxAttempts <= 0 {
		c.DefaultMaxAttempts = 3
	}
	if c.DefaultEstimatedDuration <= 0 {
		c.DefaultEstimatedDuration = 30 * time.Second
	}
	if c.Retention <= 0 {
		c.Retention = 30 * time.Minute
	}
	return c
}

// taskEntry is the scheduler's private bookkeeping around a task.
type taskEntry struct {
	seq             uint64
	notBefore       time.Time
	cancel          context.CancelFunc
	cancelRequested bool
	done            chan struct{}
}

// Scheduler is safe for concurrent use. The task table is the only shared
// mutable state and one mutex serializes it; handlers run outside the lock.
type Scheduler struct {
	cfg     Config
	gate    *gate.Gate
	monitor *monitor.Monitor
	store   storage.Store
	logger  Logger

	mu       sync.Mutex
	tasks    map[string]*models.WorkflowTask
	entries  map[string]*taskEntry
	handlers map[models.TaskType]Handler
	seq      uint64
	running  int
	status   AgentStatus

	baseCtx    context.Context
	cancelBase context.CancelFunc
	kick       chan struct{}
	wg         sync.WaitGroup
	loopDone   chan struct{}
	started    bool
}

func New(cfg Config, g *gate.Gate, mon *monitor.Monitor, store storage.Store, logger Logger) *Scheduler {
	if store == nil {
		store = storage.NewMemoryStore()
	}
	return &Scheduler{
		cfg:      cfg.withDefaults(),
		gate:     g,
		monitor:  mon,
		store:    store,
		logger:   logger,
		tasks:    make(map[string]*models.WorkflowTask),
		entries:  make(map[string]*taskEntry),
		handlers: make(map[models.TaskType]Handler),
		status:   AgentRunning,
		kick:     make(chan struct{}, 1),
	}
}

// RegisterHandler binds a workflow kind to its handler and registers the
// kind with the feature gate at the given tier.
func (s *Scheduler) RegisterHandler(t models.TaskType, tier models.FeatureTier, h Handler) {
	s.mu.Lock()
	s.handlers[t] = h
	s.mu.Unlock()
	s.gate.Register(string(t), tier)
}

// Start launches the dispatch loop. Stop drains it.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.baseCtx, s.cancelBase = context.WithCancel(ctx)
	s.loopDone = make(chan struct{})
	s.mu.Unlock()
	go s.loop()
}

// Stop halts dispatch and waits for in-flight tasks to drain.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.cancelBase()
	s.mu.Unlock()
	<-s.loopDone
	s.wg.Wait()
}

func (s *Scheduler) loop() {
	defer close(s.loopDone)
	ticker := time.NewTicker(s.cfg.DispatchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.baseCtx.Done():
			return
		case <-ticker.C:
		case <-s.kick:
		}
		s.dispatch()
	}
}

// wake nudges the dispatch loop without waiting for the next tick.
func (s *Scheduler) wake() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// SubmitRequest is one job submission. ID is optional; when empty the
// scheduler assigns one. Setting IDs explicitly lets a batch reference its
// own members in DependsOn.
type SubmitRequest struct {
	ID                string                 `json:"id,omitempty"`
	Type              models.TaskType        `json:"type"`
	TenantID          string                 `json:"tenant_id"`
	Payload           map[string]interface{} `json:"payload,omitempty"`
	Priority          models.TaskPriority    `json:"priority"`
	DependsOn         []string               `json:"depends_on,omitempty"`
	MaxAttempts       int                    `json:"max_attempts,omitempty"`
	EstimatedDuration time.Duration          `json:"estimated_duration,omitempty"`
}

// Submit validates and enqueues one task, returning its id. Validation
// errors are synchronous and nothing invalid is ever enqueued.
func (s *Scheduler) Submit(req SubmitRequest) (string, error) {
	ids, err := s.SubmitAll([]SubmitRequest{req})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// SubmitAll validates a batch as a whole and enqueues all of it or none of
// it. Batch members may depend on each other by explicit id; dependency
// cycles are rejected here, never discovered later as a stuck task.
func (s *Scheduler) SubmitAll(reqs []SubmitRequest) ([]string, error) {
	if len(reqs) == 0 {
		return nil, validationErrf("tasks", "empty submission")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := make([]*models.WorkflowTask, 0, len(reqs))
	batchIDs := make(map[string]bool, len(reqs))
	for i := range reqs {
		task, err := s.buildTaskLocked(&reqs[i])
		if err != nil {
			return nil, err
		}
		if batchIDs[task.ID] {
			return nil, validationErrf("id", "duplicate id %q in batch", task.ID)
		}
		batchIDs[task.ID] = true
		batch = append(batch, task)
	}
	// Dependencies resolve against existing tasks or the batch itself.
	for _, task := range batch {
		for _, dep := range task.DependsOn {
			if _, exists := s.tasks[dep]; !exists && !batchIDs[dep] {
				return nil, validationErrf("depends_on", "unknown dependency %q for task %q", dep, task.ID)
			}
		}
	}
	if cycle := s.findCycleLocked(batch); cycle != "" {
		return nil, validationErrf("depends_on", "dependency cycle through %q", cycle)
	}

	ids := make([]string, 0, len(batch))
	for _, task := range batch {
		s.seq++
		s.tasks[task.ID] = task
		s.entries[task.ID] = &taskEntry{seq: s.seq, done: make(chan struct{})}
		ids = append(ids, task.ID)
		s.logger.Infof("submitted task %s type=%s priority=%s deps=%d", task.ID, task.Type, task.Priority, len(task.DependsOn))
	}
	s.wake()
	return ids, nil
}

func (s *Scheduler) buildTaskLocked(req *SubmitRequest) (*models.WorkflowTask, error) {
	if !req.Type.Valid() {
		return nil, validationErrf("type", "unknown workflow type %q", req.Type)
	}
	if _, ok := s.handlers[req.Type]; !ok {
		return nil, validationErrf("type", "no handler registered for %q", req.Type)
	}
	if req.Priority == "" {
		req.Priority = models.MediumPriority
	}
	if !req.Priority.Valid() {
		return nil, validationErrf("priority", "invalid priority %q", req.Priority)
	}
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	if _, exists := s.tasks[id]; exists {
		return nil, validationErrf("id", "task %q already exists", id)
	}
	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = s.cfg.DefaultMaxAttempts
	}
	estimated := req.EstimatedDuration
	if estimated <= 0 {
		estimated = s.cfg.DefaultEstimatedDuration
	}
	return &models.WorkflowTask{
		ID:                id,
		Type:              req.Type,
		TenantID:          req.TenantID,
		Payload:           req.Payload,
		Priority:          req.Priority,
		DependsOn:         append([]string(nil), req.DependsOn...),
		Status:            models.PendingTaskStatus,
		MaxAttempts:       maxAttempts,
		CreatedAt:         time.Now(),
		EstimatedDuration: estimated,
	}, nil
}

// findCycleLocked walks depends_on edges over existing tasks plus the batch
// and returns a node on a cycle, or "".
func (s *Scheduler) findCycleLocked(batch []*models.WorkflowTask) string {
	deps := make(map[string][]string, len(s.tasks)+len(batch))
	for id, t := range s.tasks {
		deps[id] = t.DependsOn
	}
	for _, t := range batch {
		deps[t.ID] = t.DependsOn
	}
	const (
		visiting = 1
		visited  = 2
	)
	state := make(map[string]int, len(deps))
	var walk func(id string) bool
	walk = func(id string) bool {
		state[id] = visiting
		for _, dep := range deps[id] {
			switch state[dep] {
			case visiting:
				return true
			case visited:
			default:
				if walk(dep) {
					return true
				}
			}
		}
		state[id] = visited
		return false
	}
	for _, t := range batch {
		if state[t.ID] == 0 && walk(t.ID) {
			return t.ID
		}
	}
	return ""
}

// Status returns a read-only snapshot of a task. Unknown ids get a
// TaskNotFoundError, distinct from a task that simply is not finished.
func (s *Scheduler) Status(id string) (models.WorkflowTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return models.WorkflowTask{}, &TaskNotFoundError{ID: id}
	}
	return task.Clone(), nil
}

// Wait blocks until the task reaches a terminal state or ctx expires.
func (s *Scheduler) Wait(ctx context.Context, id string) (models.WorkflowTask, error) {
	s.mu.Lock()
	entry, ok := s.entries[id]
	if !ok {
		task, exists := s.tasks[id]
		if exists {
			cloned := task.Clone()
			s.mu.Unlock()
			return cloned, nil
		}
		s.mu.Unlock()
		return models.WorkflowTask{}, &TaskNotFoundError{ID: id}
	}
	done := entry.done
	s.mu.Unlock()
	select {
	case <-done:
		return s.Status(id)
	case <-ctx.Done():
		return models.WorkflowTask{}, ctx.Err()
	}
}

// Cancel stops a pending task immediately and requests cooperative
// cancellation of a running one. Terminal tasks are a no-op, not an error.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelLocked(id)
}

func (s *Scheduler) cancelLocked(id string) bool {
	task, ok := s.tasks[id]
	if !ok || task.Status.Terminal() {
		return false
	}
	entry := s.entries[id]
	if task.Status == models.RunningTaskStatus {
		entry.cancelRequested = true
		if entry.cancel != nil {
			entry.cancel()
		}
		return true
	}
	s.finishLocked(task, entry, models.CancelledTaskStatus, "cancelled before dispatch")
	return true
}

// PauseAll stops dispatching new tasks without touching in-flight ones.
func (s *Scheduler) PauseAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == AgentRunning {
		s.status = AgentPaused
		s.logger.Infof("dispatch paused")
	}
}

// ResumeAll re-enables dispatch after a pause or stop.
func (s *Scheduler) ResumeAll() {
	s.mu.Lock()
	s.status = AgentRunning
	s.mu.Unlock()
	s.logger.Infof("dispatch resumed")
	s.wake()
}

// StopAgent cancels all non-critical pending tasks, lets running ones
// drain, and halts dispatch. Returns the number of tasks cancelled.
func (s *Scheduler) StopAgent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	affected := 0
	for id, task := range s.tasks {
		if task.Status == models.PendingTaskStatus && task.Priority != models.CriticalPriority {
			if s.cancelLocked(id) {
				affected++
			}
		}
	}
	s.status = AgentStopped
	s.logger.Infof("agent stopped, cancelled %d pending tasks", affected)
	return affected
}

// SystemStatus is the orchestrator-wide view exposed to dashboards.
type SystemStatus struct {
	AgentStatus     AgentStatus   `json:"agent_status"`
	ActiveCount     int           `json:"active_count"`
	QueueDepth      int           `json:"queue_depth"`
	Resource        ResourceView  `json:"resource"`
	EnabledFeatures []string      `json:"enabled_features"`
	HealthScore     float64       `json:"health_score"`
	Trend           monitor.Trend `json:"trend"`
	Profile         string        `json:"profile"`
}

type ResourceView struct {
	CPUPct float64 `json:"cpu_pct"`
	MemPct float64 `json:"mem_pct"`
}

func (s *Scheduler) SystemStatus() SystemStatus {
	s.mu.Lock()
	active := s.running
	depth := 0
	for _, t := range s.tasks {
		if t.Status == models.PendingTaskStatus {
			depth++
		}
	}
	status := s.status
	s.mu.Unlock()

	snap := s.monitor.Current()
	return SystemStatus{
		AgentStatus:     status,
		ActiveCount:     active,
		QueueDepth:      depth,
		Resource:        ResourceView{CPUPct: snap.CPUPct, MemPct: snap.MemPct},
		EnabledFeatures: s.gate.Enabled(),
		HealthScore:     s.monitor.HealthScore(),
		Trend:           s.monitor.Trend(),
		Profile:         s.monitor.Profile().Name,
	}
}

// concurrencyLimit degrades throughput smoothly instead of stalling:
// ceiling under normal pressure, halfway down under high, floor at
// critical.
func (s *Scheduler) concurrencyLimit() int {
	switch s.monitor.CurrentLevel() {
	case monitor.CriticalLevel:
		return s.cfg.MinConcurrency
	case monitor.HighLevel:
		limit := (s.cfg.MinConcurrency + s.cfg.MaxConcurrency) / 2
		if limit < s.cfg.MinConcurrency {
			limit = s.cfg.MinConcurrency
		}
		return limit
	}
	return s.cfg.MaxConcurrency
}

// dispatch runs one eligibility scan: pending tasks sorted by priority tier
// then submission order, admitted up to the dynamic concurrency limit.
// Waiting on dependencies, gate denial, backoff and slot exhaustion all
// look the same here: not yet eligible, re-checked next cycle.
func (s *Scheduler) dispatch() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictLocked(now)
	if s.status != AgentRunning {
		return
	}
	free := s.concurrencyLimit() - s.running
	if free <= 0 {
		return
	}

	type candidate struct {
		task  *models.WorkflowTask
		entry *taskEntry
	}
	var pending []candidate
	for id, task := range s.tasks {
		if task.Status == models.PendingTaskStatus {
			pending = append(pending, candidate{task: task, entry: s.entries[id]})
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		ri, rj := pending[i].task.Priority.Rank(), pending[j].task.Priority.Rank()
		if ri != rj {
			return ri < rj
		}
		return pending[i].entry.seq < pending[j].entry.seq
	})

	for _, c := range pending {
		if free <= 0 {
			break
		}
		if now.Before(c.entry.notBefore) {
			continue
		}
		ready, failedDep := s.dependencyStateLocked(c.task)
		if failedDep != "" {
			s.finishLocked(c.task, c.entry, models.FailedTaskStatus,
				fmt.Sprintf("dependency %s did not complete", failedDep))
			continue
		}
		if !ready {
			continue
		}
		// Critical bypasses the feature gate, never dependency ordering.
		if c.task.Priority != models.CriticalPriority && !s.gate.IsEnabled(string(c.task.Type)) {
			continue
		}
		s.startLocked(c.task, c.entry)
		free--
	}
}

// dependencyStateLocked reports whether every dependency completed, and the
// id of any dependency that reached a terminal state other than completed.
func (s *Scheduler) dependencyStateLocked(task *models.WorkflowTask) (ready bool, failedDep string) {
	for _, dep := range task.DependsOn {
		depTask, ok := s.tasks[dep]
		if !ok {
			// Evicted after completing; completion is the only way out of
			// the table other than cancellation, which finishLocked caught
			// while the dependent was still pending.
			continue
		}
		switch depTask.Status {
		case models.CompletedTaskStatus:
		case models.FailedTaskStatus, models.CancelledTaskStatus:
			return false, dep
		default:
			return false, ""
		}
	}
	return true, ""
}

func (s *Scheduler) startLocked(task *models.WorkflowTask, entry *taskEntry) {
	task.Status = models.RunningTaskStatus
	task.AttemptCount++
	startedAt := time.Now()
	task.StartedAt = &startedAt

	timeout := time.Duration(float64(task.EstimatedDuration) * s.cfg.TimeoutMultiplier)
	ctx, cancel := context.WithTimeout(s.baseCtx, timeout)
	entry.cancel = cancel
	handler := s.handlers[task.Type]
	s.running++
	s.wg.Add(1)
	s.logger.Infof("dispatching task %s attempt %d/%d", task.ID, task.AttemptCount, task.MaxAttempts)

	taskCopy := task.Clone()
	go func() {
		defer s.wg.Done()
		defer cancel()
		result, err := s.invoke(ctx, handler, &taskCopy)
		s.complete(task.ID, result, err, ctx)
	}()
}

// invoke wraps a handler call so a panicking task cannot kill the
// scheduler; a panic surfaces as an ordinary handler error.
func (s *Scheduler) invoke(ctx context.Context, handler Handler, task *models.WorkflowTask) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	type outcome struct {
		result interface{}
		err    error
	}
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: fmt.Errorf("handler panic: %v", r)}
			}
		}()
		res, herr := handler(ctx, task)
		ch <- outcome{result: res, err: herr}
	}()
	select {
	case out := <-ch:
		return out.result, out.err
	case <-ctx.Done():
		// Runaway handler: free the slot; the goroutine finishes on its
		// own and its result is discarded.
		return nil, ctx.Err()
	}
}

func (s *Scheduler) complete(id string, result interface{}, err error, ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		s.running--
		return
	}
	entry := s.entries[id]
	entry.cancel = nil
	s.running--

	switch {
	case err == nil:
		task.Result = result
		task.Progress = 1
		s.finishLocked(task, entry, models.CompletedTaskStatus, "")
	case entry.cancelRequested:
		s.finishLocked(task, entry, models.CancelledTaskStatus, "cancelled while running")
	case ctx.Err() == context.DeadlineExceeded:
		// Timeout backstop. A task that timed out once is unlikely to
		// behave differently; no automatic retry.
		s.finishLocked(task, entry, models.FailedTaskStatus,
			fmt.Sprintf("timed out after %s (attempt %d)", time.Duration(float64(task.EstimatedDuration)*s.cfg.TimeoutMultiplier), task.AttemptCount))
	case task.AttemptCount < task.MaxAttempts:
		backoff := s.backoff(task.AttemptCount)
		task.Status = models.PendingTaskStatus
		task.Error = err.Error()
		entry.notBefore = time.Now().Add(backoff)
		s.appendLog(task, models.FailedTaskStatus, err.Error())
		s.logger.Infof("task %s failed attempt %d/%d, retrying in %s: %v", task.ID, task.AttemptCount, task.MaxAttempts, backoff, err)
	default:
		s.finishLocked(task, entry, models.FailedTaskStatus, err.Error())
	}
	s.wake()
}

func (s *Scheduler) backoff(attempts int) time.Duration {
	d := s.cfg.BackoffBase
	for i := 0; i < attempts; i++ {
		d *= 2
		if d >= s.cfg.BackoffCap {
			return s.cfg.BackoffCap
		}
	}
	return d
}

// finishLocked moves a task to a terminal state, archives it and releases
// waiters.
func (s *Scheduler) finishLocked(task *models.WorkflowTask, entry *taskEntry, status models.TaskStatus, message string) {
	task.Status = status
	if status != models.CompletedTaskStatus {
		task.Error = message
	}
	completedAt := time.Now()
	task.CompletedAt = &completedAt
	s.appendLog(task, status, message)
	if err := s.store.SaveTask(task.Clone()); err != nil {
		s.logger.Errorf("archive task %s: %v", task.ID, err)
	}
	select {
	case <-entry.done:
	default:
		close(entry.done)
	}
	switch status {
	case models.CompletedTaskStatus:
		s.logger.Infof("task %s completed after %d attempt(s)", task.ID, task.AttemptCount)
	default:
		s.logger.Infof("task %s %s: %s", task.ID, status, message)
	}
}

func (s *Scheduler) appendLog(task *models.WorkflowTask, status models.TaskStatus, message string) {
	entry := models.ExecutionLog{
		TaskID:   task.ID,
		TenantID: task.TenantID,
		Attempt:  task.AttemptCount,
		Status:   status,
		Message:  message,
		LoggedAt: time.Now(),
	}
	if err := s.store.SaveLog(entry); err != nil {
		s.logger.Errorf("archive log for task %s: %v", task.ID, err)
	}
}

// evictLocked drops terminal tasks older than the retention window. The
// archive keeps their history; the in-memory table stays small.
func (s *Scheduler) evictLocked(now time.Time) {
	for id, task := range s.tasks {
		if !task.Status.Terminal() || task.CompletedAt == nil {
			continue
		}
		if now.Sub(*task.CompletedAt) > s.cfg.Retention {
			delete(s.tasks, id)
			delete(s.entries, id)
		}
	}
}
