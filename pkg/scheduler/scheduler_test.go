package scheduler_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Tight5/Zero-Gate-sub000/pkg/gate"
	"github.com/Tight5/Zero-Gate-sub000/pkg/models"
	"github.com/Tight5/Zero-Gate-sub000/pkg/monitor"
	"github.com/Tight5/Zero-Gate-sub000/pkg/scheduler"
	"github.com/Tight5/Zero-Gate-sub000/pkg/storage"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testLogger struct{}

func (testLogger) Infof(format string, args ...interface{})  {}
func (testLogger) Errorf(format string, args ...interface{}) {}

// stubSampler drives the resource monitor with synthetic load.
type stubSampler struct {
	mu  sync.Mutex
	cpu float64
	mem float64
}

func (s *stubSampler) Sample() (float64, float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cpu, s.mem, nil
}

func (s *stubSampler) set(cpu, mem float64) {
	s.mu.Lock()
	s.cpu = cpu
	s.mem = mem
	s.mu.Unlock()
}

type fixture struct {
	sched   *scheduler.Scheduler
	mon     *monitor.Monitor
	gate    *gate.Gate
	sampler *stubSampler
	store   storage.Store
}

func newFixture(t *testing.T, cfg scheduler.Config) *fixture {
	t.Helper()
	sampler := &stubSampler{}
	mon := monitor.New(models.BalancedProfile, testLogger{}, monitor.WithSampler(sampler))
	mon.Sample()
	g := gate.New(mon)
	store := storage.NewMemoryStore()
	if cfg.DispatchInterval == 0 {
		cfg.DispatchInterval = 10 * time.Millisecond
	}
	if cfg.BackoffBase == 0 {
		cfg.BackoffBase = 5 * time.Millisecond
	}
	sched := scheduler.New(cfg, g, mon, store, testLogger{})
	return &fixture{sched: sched, mon: mon, gate: g, sampler: sampler, store: store}
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	f.sched.Start(context.Background())
	t.Cleanup(f.sched.Stop)
}

func (f *fixture) wait(t *testing.T, id string) models.WorkflowTask {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	task, err := f.sched.Wait(ctx, id)
	require.NoError(t, err)
	return task
}

func okHandler(result interface{}) scheduler.Handler {
	return func(ctx context.Context, task *models.WorkflowTask) (interface{}, error) {
		return result, nil
	}
}

func TestSubmit_Validation(t *testing.T) {
	f := newFixture(t, scheduler.Config{})
	f.sched.RegisterHandler(models.SponsorAnalysisTask, models.EssentialTier, okHandler("ok"))

	tests := []struct {
		name string
		req  scheduler.SubmitRequest
	}{
		{"unknown type", scheduler.SubmitRequest{Type: "made_up_type"}},
		{"unregistered handler", scheduler.SubmitRequest{Type: models.ExcelProcessingTask}},
		{"invalid priority", scheduler.SubmitRequest{Type: models.SponsorAnalysisTask, Priority: "urgent"}},
		{"unknown dependency", scheduler.SubmitRequest{Type: models.SponsorAnalysisTask, DependsOn: []string{"ghost"}}},
		{"self dependency", scheduler.SubmitRequest{ID: "a", Type: models.SponsorAnalysisTask, DependsOn: []string{"a"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.sched.Submit(tt.req)
			var validation *scheduler.ValidationError
			require.Error(t, err)
			assert.True(t, errors.As(err, &validation), "want ValidationError, got %v", err)
		})
	}
}

func TestSubmitAll_RejectsCycleAndEnqueuesNothing(t *testing.T) {
	f := newFixture(t, scheduler.Config{})
	f.sched.RegisterHandler(models.SponsorAnalysisTask, models.EssentialTier, okHandler("ok"))

	_, err := f.sched.SubmitAll([]scheduler.SubmitRequest{
		{ID: "a", Type: models.SponsorAnalysisTask, DependsOn: []string{"b"}},
		{ID: "b", Type: models.SponsorAnalysisTask, DependsOn: []string{"a"}},
	})
	var validation *scheduler.ValidationError
	require.Error(t, err)
	require.True(t, errors.As(err, &validation))

	// Neither task was enqueued.
	var notFound *scheduler.TaskNotFoundError
	_, err = f.sched.Status("a")
	assert.True(t, errors.As(err, &notFound))
	_, err = f.sched.Status("b")
	assert.True(t, errors.As(err, &notFound))
}

func TestSubmitAll_AllowsIntraBatchDependencies(t *testing.T) {
	f := newFixture(t, scheduler.Config{})
	f.sched.RegisterHandler(models.SponsorAnalysisTask, models.EssentialTier, okHandler("ok"))
	f.start(t)

	ids, err := f.sched.SubmitAll([]scheduler.SubmitRequest{
		{ID: "first", Type: models.SponsorAnalysisTask},
		{ID: "second", Type: models.SponsorAnalysisTask, DependsOn: []string{"first"}},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"first", "second"}, ids)

	task := f.wait(t, "second")
	assert.Equal(t, models.CompletedTaskStatus, task.Status)
}

func TestStatus_UnknownID(t *testing.T) {
	f := newFixture(t, scheduler.Config{})
	_, err := f.sched.Status("nope")
	var notFound *scheduler.TaskNotFoundError
	require.Error(t, err)
	assert.True(t, errors.As(err, &notFound))
}

func TestTask_CompletesWithResult(t *testing.T) {
	f := newFixture(t, scheduler.Config{})
	f.sched.RegisterHandler(models.SponsorAnalysisTask, models.EssentialTier, okHandler("analysis done"))
	f.start(t)

	id, err := f.sched.Submit(scheduler.SubmitRequest{Type: models.SponsorAnalysisTask, TenantID: "t1"})
	require.NoError(t, err)

	task := f.wait(t, id)
	assert.Equal(t, models.CompletedTaskStatus, task.Status)
	assert.Equal(t, "analysis done", task.Result)
	assert.Equal(t, 1, task.AttemptCount)
	assert.Equal(t, 1.0, task.Progress)
	require.NotNil(t, task.StartedAt)
	require.NotNil(t, task.CompletedAt)

	// Terminal task was archived.
	archived, err := f.store.GetTask(id)
	require.NoError(t, err)
	assert.Equal(t, models.CompletedTaskStatus, archived.Status)
}

func TestDependencies_NeverRunBeforeCompletion(t *testing.T) {
	f := newFixture(t, scheduler.Config{MaxConcurrency: 4})

	var mu sync.Mutex
	events := make(map[string]time.Time)
	record := func(key string) {
		mu.Lock()
		events[key] = time.Now()
		mu.Unlock()
	}

	f.sched.RegisterHandler(models.SponsorAnalysisTask, models.EssentialTier,
		func(ctx context.Context, task *models.WorkflowTask) (interface{}, error) {
			record(task.ID + ":start")
			time.Sleep(50 * time.Millisecond)
			record(task.ID + ":end")
			return nil, nil
		})
	f.start(t)

	ids, err := f.sched.SubmitAll([]scheduler.SubmitRequest{
		{ID: "dep", Type: models.SponsorAnalysisTask},
		{ID: "dependent", Type: models.SponsorAnalysisTask, DependsOn: []string{"dep"}},
	})
	require.NoError(t, err)
	for _, id := range ids {
		task := f.wait(t, id)
		require.Equal(t, models.CompletedTaskStatus, task.Status)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, events["dependent:start"].After(events["dep:end"]),
		"dependent started %v, dependency ended %v", events["dependent:start"], events["dep:end"])
}

func TestDependency_FailureFailsDependent(t *testing.T) {
	f := newFixture(t, scheduler.Config{})
	f.sched.RegisterHandler(models.SponsorAnalysisTask, models.EssentialTier,
		func(ctx context.Context, task *models.WorkflowTask) (interface{}, error) {
			return nil, errors.New("boom")
		})
	f.sched.RegisterHandler(models.EmailAnalysisTask, models.EssentialTier, okHandler("ok"))
	f.start(t)

	ids, err := f.sched.SubmitAll([]scheduler.SubmitRequest{
		{ID: "doomed", Type: models.SponsorAnalysisTask, MaxAttempts: 1},
		{ID: "waiting", Type: models.EmailAnalysisTask, DependsOn: []string{"doomed"}},
	})
	require.NoError(t, err)

	doomed := f.wait(t, ids[0])
	assert.Equal(t, models.FailedTaskStatus, doomed.Status)

	waiting := f.wait(t, ids[1])
	assert.Equal(t, models.FailedTaskStatus, waiting.Status)
	assert.Contains(t, waiting.Error, "doomed")
}

func TestRetry_BackoffThenSuccess(t *testing.T) {
	f := newFixture(t, scheduler.Config{})

	var mu sync.Mutex
	calls := 0
	f.sched.RegisterHandler(models.SponsorAnalysisTask, models.EssentialTier,
		func(ctx context.Context, task *models.WorkflowTask) (interface{}, error) {
			mu.Lock()
			calls++
			n := calls
			mu.Unlock()
			if n < 3 {
				return nil, errors.New("transient")
			}
			return "recovered", nil
		})
	f.start(t)

	id, err := f.sched.Submit(scheduler.SubmitRequest{Type: models.SponsorAnalysisTask, MaxAttempts: 3})
	require.NoError(t, err)

	task := f.wait(t, id)
	assert.Equal(t, models.CompletedTaskStatus, task.Status)
	assert.Equal(t, "recovered", task.Result)
	assert.Equal(t, 3, task.AttemptCount)
}

func TestRetry_ExhaustionEndsInFailed(t *testing.T) {
	f := newFixture(t, scheduler.Config{})

	var mu sync.Mutex
	calls := 0
	f.sched.RegisterHandler(models.SponsorAnalysisTask, models.EssentialTier,
		func(ctx context.Context, task *models.WorkflowTask) (interface{}, error) {
			mu.Lock()
			calls++
			mu.Unlock()
			return nil, errors.New("permanent breakage")
		})
	f.start(t)

	id, err := f.sched.Submit(scheduler.SubmitRequest{Type: models.SponsorAnalysisTask, MaxAttempts: 2})
	require.NoError(t, err)

	task := f.wait(t, id)
	assert.Equal(t, models.FailedTaskStatus, task.Status)
	// The last error is recorded verbatim; attempts never exceed the cap.
	assert.Equal(t, "permanent breakage", task.Error)
	assert.Equal(t, 2, task.AttemptCount)
	mu.Lock()
	assert.Equal(t, 2, calls)
	mu.Unlock()

	// Every attempt left an audit entry.
	logs, err := f.store.ListLogs(id)
	require.NoError(t, err)
	assert.Len(t, logs, 2)
}

func TestHandlerPanic_IsContained(t *testing.T) {
	f := newFixture(t, scheduler.Config{})
	f.sched.RegisterHandler(models.SponsorAnalysisTask, models.EssentialTier,
		func(ctx context.Context, task *models.WorkflowTask) (interface{}, error) {
			panic("handler bug")
		})
	f.start(t)

	id, err := f.sched.Submit(scheduler.SubmitRequest{Type: models.SponsorAnalysisTask, MaxAttempts: 1})
	require.NoError(t, err)

	task := f.wait(t, id)
	assert.Equal(t, models.FailedTaskStatus, task.Status)
	assert.Contains(t, task.Error, "handler panic")
}

func TestTimeout_FailsWithoutRetry(t *testing.T) {
	f := newFixture(t, scheduler.Config{TimeoutMultiplier: 2})
	f.sched.RegisterHandler(models.SponsorAnalysisTask, models.EssentialTier,
		func(ctx context.Context, task *models.WorkflowTask) (interface{}, error) {
			// Runaway handler that ignores its context.
			time.Sleep(2 * time.Second)
			return "too late", nil
		})
	f.start(t)

	id, err := f.sched.Submit(scheduler.SubmitRequest{
		Type:              models.SponsorAnalysisTask,
		MaxAttempts:       3,
		EstimatedDuration: 20 * time.Millisecond,
	})
	require.NoError(t, err)

	task := f.wait(t, id)
	assert.Equal(t, models.FailedTaskStatus, task.Status)
	assert.Contains(t, task.Error, "timed out")
	// Timeouts are a backstop, not a retriable failure.
	assert.Equal(t, 1, task.AttemptCount)
}

func TestCancel(t *testing.T) {
	t.Run("pending task cancels immediately", func(t *testing.T) {
		f := newFixture(t, scheduler.Config{})
		f.sched.RegisterHandler(models.SponsorAnalysisTask, models.EssentialTier, okHandler("ok"))
		// Scheduler not started: the task stays pending.
		id, err := f.sched.Submit(scheduler.SubmitRequest{Type: models.SponsorAnalysisTask})
		require.NoError(t, err)

		assert.True(t, f.sched.Cancel(id))
		task, err := f.sched.Status(id)
		require.NoError(t, err)
		assert.Equal(t, models.CancelledTaskStatus, task.Status)

		// Cancelled tasks are never retried; a second cancel is a no-op.
		assert.False(t, f.sched.Cancel(id))
	})

	t.Run("running task cancels cooperatively", func(t *testing.T) {
		f := newFixture(t, scheduler.Config{})
		started := make(chan struct{})
		f.sched.RegisterHandler(models.SponsorAnalysisTask, models.EssentialTier,
			func(ctx context.Context, task *models.WorkflowTask) (interface{}, error) {
				close(started)
				<-ctx.Done()
				return nil, ctx.Err()
			})
		f.start(t)

		id, err := f.sched.Submit(scheduler.SubmitRequest{Type: models.SponsorAnalysisTask})
		require.NoError(t, err)
		<-started

		assert.True(t, f.sched.Cancel(id))
		task := f.wait(t, id)
		assert.Equal(t, models.CancelledTaskStatus, task.Status)
	})

	t.Run("unknown id is a no-op", func(t *testing.T) {
		f := newFixture(t, scheduler.Config{})
		assert.False(t, f.sched.Cancel("ghost"))
	})
}

func TestPriorityOrdering_CriticalBeforeLow(t *testing.T) {
	// Serialize execution so start order is exactly queue order, then
	// submit 50 mixed-priority tasks in reverse-priority order while
	// paused.
	f := newFixture(t, scheduler.Config{MinConcurrency: 1, MaxConcurrency: 1})

	var mu sync.Mutex
	var startOrder []string
	f.sched.RegisterHandler(models.SponsorAnalysisTask, models.EssentialTier,
		func(ctx context.Context, task *models.WorkflowTask) (interface{}, error) {
			mu.Lock()
			startOrder = append(startOrder, string(task.Priority))
			mu.Unlock()
			return nil, nil
		})
	f.start(t)
	f.sched.PauseAll()

	priorities := []models.TaskPriority{models.LowPriority, models.MediumPriority, models.HighPriority, models.CriticalPriority}
	var ids []string
	for i := 0; i < 50; i++ {
		id, err := f.sched.Submit(scheduler.SubmitRequest{
			Type:     models.SponsorAnalysisTask,
			Priority: priorities[i%len(priorities)],
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	f.sched.ResumeAll()
	for _, id := range ids {
		f.wait(t, id)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, startOrder, 50)
	lastCritical := -1
	firstLow := len(startOrder)
	for i, p := range startOrder {
		if p == string(models.CriticalPriority) {
			lastCritical = i
		}
		if p == string(models.LowPriority) && i < firstLow {
			firstLow = i
		}
	}
	assert.Less(t, lastCritical, firstLow, "all critical tasks must start before any low task")
}

func TestPauseResume(t *testing.T) {
	f := newFixture(t, scheduler.Config{})
	f.sched.RegisterHandler(models.SponsorAnalysisTask, models.EssentialTier, okHandler("ok"))
	f.start(t)
	f.sched.PauseAll()

	id, err := f.sched.Submit(scheduler.SubmitRequest{Type: models.SponsorAnalysisTask})
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	task, err := f.sched.Status(id)
	require.NoError(t, err)
	assert.Equal(t, models.PendingTaskStatus, task.Status, "paused scheduler must not dispatch")

	f.sched.ResumeAll()
	task = f.wait(t, id)
	assert.Equal(t, models.CompletedTaskStatus, task.Status)
}

func TestStopAgent_CancelsNonCriticalPending(t *testing.T) {
	f := newFixture(t, scheduler.Config{})
	f.sched.RegisterHandler(models.SponsorAnalysisTask, models.EssentialTier, okHandler("ok"))
	f.start(t)
	f.sched.PauseAll()

	lowID, err := f.sched.Submit(scheduler.SubmitRequest{Type: models.SponsorAnalysisTask, Priority: models.LowPriority})
	require.NoError(t, err)
	criticalID, err := f.sched.Submit(scheduler.SubmitRequest{Type: models.SponsorAnalysisTask, Priority: models.CriticalPriority})
	require.NoError(t, err)

	affected := f.sched.StopAgent()
	assert.Equal(t, 1, affected)

	low, err := f.sched.Status(lowID)
	require.NoError(t, err)
	assert.Equal(t, models.CancelledTaskStatus, low.Status)

	critical, err := f.sched.Status(criticalID)
	require.NoError(t, err)
	assert.Equal(t, models.PendingTaskStatus, critical.Status)

	assert.Equal(t, scheduler.AgentStopped, f.sched.SystemStatus().AgentStatus)
}

func TestFeatureGate_BlocksStandardUnderCritical(t *testing.T) {
	f := newFixture(t, scheduler.Config{})
	f.sched.RegisterHandler(models.SponsorAnalysisTask, models.StandardTier, okHandler("ok"))
	f.sched.RegisterHandler(models.GrantTimelineTask, models.EssentialTier, okHandler("plan"))

	// Force critical pressure before starting dispatch.
	f.sampler.set(99, 99)
	f.mon.Sample()
	f.start(t)

	gatedID, err := f.sched.Submit(scheduler.SubmitRequest{Type: models.SponsorAnalysisTask, Payload: map[string]interface{}{}})
	require.NoError(t, err)
	essentialID, err := f.sched.Submit(scheduler.SubmitRequest{Type: models.GrantTimelineTask})
	require.NoError(t, err)
	criticalID, err := f.sched.Submit(scheduler.SubmitRequest{Type: models.SponsorAnalysisTask, Priority: models.CriticalPriority})
	require.NoError(t, err)

	// Essential-tier and critical-priority tasks run despite the pressure.
	assert.Equal(t, models.CompletedTaskStatus, f.wait(t, essentialID).Status)
	assert.Equal(t, models.CompletedTaskStatus, f.wait(t, criticalID).Status)

	// The standard-tier task is suspended, not failed.
	task, err := f.sched.Status(gatedID)
	require.NoError(t, err)
	assert.Equal(t, models.PendingTaskStatus, task.Status)

	// Pressure recedes and the task drains.
	f.sampler.set(20, 20)
	f.mon.Sample()
	assert.Equal(t, models.CompletedTaskStatus, f.wait(t, gatedID).Status)
}

func TestSystemStatus(t *testing.T) {
	f := newFixture(t, scheduler.Config{})
	f.sched.RegisterHandler(models.SponsorAnalysisTask, models.StandardTier, okHandler("ok"))
	f.sampler.set(30, 40)
	f.mon.Sample()

	// Not started: submissions stay queued.
	_, err := f.sched.Submit(scheduler.SubmitRequest{Type: models.SponsorAnalysisTask})
	require.NoError(t, err)

	status := f.sched.SystemStatus()
	assert.Equal(t, scheduler.AgentRunning, status.AgentStatus)
	assert.Equal(t, 0, status.ActiveCount)
	assert.Equal(t, 1, status.QueueDepth)
	assert.Equal(t, 30.0, status.Resource.CPUPct)
	assert.Equal(t, 40.0, status.Resource.MemPct)
	assert.Contains(t, status.EnabledFeatures, "sponsor_analysis")
	assert.Equal(t, "balanced", status.Profile)
	assert.Greater(t, status.HealthScore, 0.0)
}
