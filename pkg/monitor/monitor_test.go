package monitor_test

import (
	"testing"

	"github.com/Tight5/Zero-Gate-sub000/pkg/models"
	"github.com/Tight5/Zero-Gate-sub000/pkg/monitor"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubSampler drives the monitor with synthetic load.
type stubSampler struct {
	cpu  float64
	mem  float64
	fail bool
}

func (s *stubSampler) Sample() (float64, float64, error) {
	if s.fail {
		return 0, 0, errors.New("platform API unavailable")
	}
	return s.cpu, s.mem, nil
}

type testLogger struct{}

func (testLogger) Infof(format string, args ...interface{})  {}
func (testLogger) Errorf(format string, args ...interface{}) {}

func newMonitor(sampler *stubSampler) *monitor.Monitor {
	return monitor.New(models.BalancedProfile, testLogger{}, monitor.WithSampler(sampler))
}

func TestSample_RecordsSnapshot(t *testing.T) {
	sampler := &stubSampler{cpu: 42, mem: 55}
	m := newMonitor(sampler)
	snap := m.Sample()
	assert.Equal(t, 42.0, snap.CPUPct)
	assert.Equal(t, 55.0, snap.MemPct)
	assert.False(t, snap.Stale)
	assert.Equal(t, snap.CPUPct, m.Current().CPUPct)
}

func TestSample_FailureDegradesToLastSnapshot(t *testing.T) {
	sampler := &stubSampler{cpu: 42, mem: 55}
	m := newMonitor(sampler)
	m.Sample()

	sampler.fail = true
	snap := m.Sample()
	assert.True(t, snap.Stale)
	assert.Equal(t, 42.0, snap.CPUPct)
	assert.Equal(t, 55.0, snap.MemPct)
}

func TestHealthScore_Bounds(t *testing.T) {
	sampler := &stubSampler{}
	m := newMonitor(sampler)
	// No samples yet: fully healthy.
	assert.Equal(t, 100.0, m.HealthScore())

	sampler.cpu, sampler.mem = 0, 0
	m.Sample()
	assert.Equal(t, 100.0, m.HealthScore())

	sampler.cpu, sampler.mem = 100, 100
	m.Sample()
	assert.Equal(t, 0.0, m.HealthScore())

	sampler.cpu, sampler.mem = 45, 45
	m.Sample()
	score := m.HealthScore()
	assert.Greater(t, score, 0.0)
	assert.Less(t, score, 100.0)
}

func TestTrend(t *testing.T) {
	t.Run("rising", func(t *testing.T) {
		sampler := &stubSampler{mem: 40}
		m := newMonitor(sampler)
		for cpu := 10.0; cpu <= 80; cpu += 10 {
			sampler.cpu = cpu
			m.Sample()
		}
		assert.Equal(t, monitor.RisingTrend, m.Trend())
	})
	t.Run("falling", func(t *testing.T) {
		sampler := &stubSampler{mem: 40}
		m := newMonitor(sampler)
		for cpu := 80.0; cpu >= 10; cpu -= 10 {
			sampler.cpu = cpu
			m.Sample()
		}
		assert.Equal(t, monitor.FallingTrend, m.Trend())
	})
	t.Run("stable", func(t *testing.T) {
		sampler := &stubSampler{cpu: 40, mem: 40}
		m := newMonitor(sampler)
		for i := 0; i < 8; i++ {
			m.Sample()
		}
		assert.Equal(t, monitor.StableTrend, m.Trend())
	})
	t.Run("too few samples", func(t *testing.T) {
		m := newMonitor(&stubSampler{cpu: 90})
		m.Sample()
		assert.Equal(t, monitor.StableTrend, m.Trend())
	})
}

func TestCurrentLevel(t *testing.T) {
	// Balanced profile: cpu 75/90, mem 80/90.
	sampler := &stubSampler{cpu: 10, mem: 10}
	m := newMonitor(sampler)
	m.Sample()
	assert.Equal(t, monitor.NormalLevel, m.CurrentLevel())

	sampler.cpu = 76
	m.Sample()
	assert.Equal(t, monitor.HighLevel, m.CurrentLevel())

	sampler.mem = 91
	m.Sample()
	assert.Equal(t, monitor.CriticalLevel, m.CurrentLevel())
}

func TestCriticalSince_TracksEpisode(t *testing.T) {
	sampler := &stubSampler{cpu: 10, mem: 10}
	m := newMonitor(sampler)
	m.Sample()
	_, critical := m.CriticalSince()
	assert.False(t, critical)

	sampler.cpu = 99
	first := m.Sample()
	since, critical := m.CriticalSince()
	require.True(t, critical)
	assert.Equal(t, first.Timestamp, since)

	// The entry time is stable across samples within one episode.
	m.Sample()
	again, critical := m.CriticalSince()
	require.True(t, critical)
	assert.Equal(t, since, again)

	// Recovery closes the episode; a relapse starts a new one.
	sampler.cpu = 10
	m.Sample()
	_, critical = m.CriticalSince()
	assert.False(t, critical)

	sampler.cpu = 99
	relapse := m.Sample()
	since, critical = m.CriticalSince()
	require.True(t, critical)
	assert.Equal(t, relapse.Timestamp, since)
}

func TestMayRun(t *testing.T) {
	sampler := &stubSampler{}
	m := newMonitor(sampler)

	setLoad := func(cpu, mem float64) {
		sampler.cpu, sampler.mem = cpu, mem
		m.Sample()
	}

	t.Run("normal load allows everything", func(t *testing.T) {
		setLoad(30, 30)
		for _, tier := range []models.FeatureTier{models.EssentialTier, models.StandardTier, models.AdvancedTier, models.ExperimentalTier} {
			assert.True(t, m.MayRun(tier), "tier %s", tier)
		}
	})

	t.Run("advanced stops at safety margin below high", func(t *testing.T) {
		// Balanced: cpu high 75, margin 10. 70 is under high but inside
		// the margin.
		setLoad(70, 30)
		assert.True(t, m.MayRun(models.StandardTier))
		assert.False(t, m.MayRun(models.AdvancedTier))
		assert.False(t, m.MayRun(models.ExperimentalTier))
	})

	t.Run("high load stops standard", func(t *testing.T) {
		setLoad(80, 30)
		assert.True(t, m.MayRun(models.EssentialTier))
		assert.False(t, m.MayRun(models.StandardTier))
	})

	t.Run("critical load stops everything but essential", func(t *testing.T) {
		setLoad(95, 95)
		assert.True(t, m.MayRun(models.EssentialTier))
		assert.False(t, m.MayRun(models.StandardTier))
		assert.False(t, m.MayRun(models.AdvancedTier))
		assert.False(t, m.MayRun(models.ExperimentalTier))
	})
}

func TestRingBufferWraps(t *testing.T) {
	sampler := &stubSampler{cpu: 50, mem: 50}
	m := monitor.New(models.BalancedProfile, testLogger{},
		monitor.WithSampler(sampler), monitor.WithBufferSize(4))
	for i := 0; i < 10; i++ {
		m.Sample()
	}
	require.Equal(t, 50.0, m.Current().CPUPct)
	assert.Equal(t, monitor.StableTrend, m.Trend())
}
