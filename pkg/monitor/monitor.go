// Package monitor samples system CPU and memory, keeps a rolling history
// and answers the feature gate's "may this tier run right now" question
// against the active performance profile.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/Tight5/Zero-Gate-sub000/pkg/models"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

const DefaultBufferSize = 60

// Logger defines the logging interface for the Monitor.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Snapshot is one resource sample.
type Snapshot struct {
	CPUPct    float64   `json:"cpu_pct"`
	MemPct    float64   `json:"mem_pct"`
	Timestamp time.Time `json:"timestamp"`

	// Stale marks a snapshot carried over from the previous cycle because
	// sampling failed. Staleness is tolerable; it is never an error.
	Stale bool `json:"stale,omitempty"`
}

// Trend classifies the short-horizon direction of resource pressure.
type Trend string

const (
	RisingTrend  Trend = "rising"
	FallingTrend Trend = "falling"
	StableTrend  Trend = "stable"
)

// Level classifies current pressure against the active profile.
type Level string

const (
	NormalLevel   Level = "normal"
	HighLevel     Level = "high"
	CriticalLevel Level = "critical"
)

// Sampler abstracts the platform API so tests can drive the monitor with
// synthetic load.
type Sampler interface {
	Sample() (cpuPct, memPct float64, err error)
}

type systemSampler struct{}

func (systemSampler) Sample() (float64, float64, error) {
	percents, err := cpu.Percent(0, false)
	if err != nil {
		return 0, 0, err
	}
	var cpuPct float64
	if len(percents) > 0 {
		cpuPct = percents[0]
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, err
	}
	return cpuPct, vm.UsedPercent, nil
}

// Monitor holds a fixed-length ring buffer of snapshots. One sampling
// goroutine appends; many readers check levels, so an RWMutex suffices.
type Monitor struct {
	mu      sync.RWMutex
	profile models.PerformanceProfile
	sampler Sampler
	logger  Logger
	buf     []Snapshot
	next    int
	filled  bool
	last    Snapshot
	hasLast bool

	// criticalSince marks when the current critical episode began; zero
	// outside an episode. Consumers use it to expire decisions made under
	// calmer conditions.
	criticalSince time.Time
	inCritical    bool
}

type Option func(*Monitor)

// WithSampler replaces the gopsutil-backed system sampler.
func WithSampler(s Sampler) Option {
	return func(m *Monitor) { m.sampler = s }
}

func WithBufferSize(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.buf = make([]Snapshot, n)
		}
	}
}

func New(profile models.PerformanceProfile, logger Logger, opts ...Option) *Monitor {
	m := &Monitor{
		profile: profile,
		sampler: systemSampler{},
		logger:  logger,
		buf:     make([]Snapshot, DefaultBufferSize),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Profile returns the active performance profile.
func (m *Monitor) Profile() models.PerformanceProfile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.profile
}

// SetProfile swaps the active profile; takes effect on the next check.
func (m *Monitor) SetProfile(p models.PerformanceProfile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profile = p
}

// Sample takes one snapshot and appends it to the history. A sampling
// failure degrades to the last known snapshot flagged stale; it never
// propagates to the caller.
func (m *Monitor) Sample() Snapshot {
	cpuPct, memPct, err := m.sampler.Sample()
	m.mu.Lock()
	defer m.mu.Unlock()
	var snap Snapshot
	if err != nil {
		if !m.hasLast {
			// Nothing to fall back on yet; record an empty stale sample.
			snap = Snapshot{Timestamp: time.Now(), Stale: true}
		} else {
			snap = m.last
			snap.Timestamp = time.Now()
			snap.Stale = true
		}
		m.logger.Errorf("resource sample failed, reusing last snapshot: %v", err)
	} else {
		snap = Snapshot{CPUPct: cpuPct, MemPct: memPct, Timestamp: time.Now()}
	}
	m.last = snap
	m.hasLast = true
	m.buf[m.next] = snap
	m.next++
	if m.next == len(m.buf) {
		m.next = 0
		m.filled = true
	}
	if m.level(snap) == CriticalLevel {
		if !m.inCritical {
			m.inCritical = true
			m.criticalSince = snap.Timestamp
			m.logger.Infof("resource pressure critical: cpu %.1f%% mem %.1f%%", snap.CPUPct, snap.MemPct)
		}
	} else if m.inCritical {
		m.inCritical = false
		m.criticalSince = time.Time{}
	}
	return snap
}

// Run samples on the given interval until the context is cancelled.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	m.Sample()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sample()
		}
	}
}

// Current returns the most recent snapshot.
func (m *Monitor) Current() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// history returns snapshots oldest-first. Caller holds at least a read lock.
func (m *Monitor) history() []Snapshot {
	if !m.filled {
		return m.buf[:m.next]
	}
	out := make([]Snapshot, 0, len(m.buf))
	out = append(out, m.buf[m.next:]...)
	out = append(out, m.buf[:m.next]...)
	return out
}

// pressure maps a snapshot to a single [0,1] figure: the worse of CPU and
// memory utilisation relative to the profile's critical thresholds.
func (m *Monitor) pressure(s Snapshot) float64 {
	cpuP := s.CPUPct / m.profile.CPUCritical
	memP := s.MemPct / m.profile.MemCritical
	p := cpuP
	if memP > p {
		p = memP
	}
	if p > 1 {
		p = 1
	}
	return p
}

// HealthScore summarises current pressure as a single figure in [0,100],
// 100 meaning fully healthy relative to the active profile.
func (m *Monitor) HealthScore() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.hasLast {
		return 100
	}
	return (1 - m.pressure(m.last)) * 100
}

// slope thresholds for trend classification, in pressure units per sample.
const trendSlopeEpsilon = 0.005

// TrendOver fits a least-squares line through the pressure of the most
// recent window samples and classifies its slope. The point is to flag an
// approaching threshold breach before it happens.
func (m *Monitor) TrendOver(window int) Trend {
	m.mu.RLock()
	defer m.mu.RUnlock()
	hist := m.history()
	if window > 0 && len(hist) > window {
		hist = hist[len(hist)-window:]
	}
	if len(hist) < 3 {
		return StableTrend
	}
	// Simple linear regression with x = sample index.
	n := float64(len(hist))
	var sumX, sumY, sumXY, sumXX float64
	for i, s := range hist {
		x := float64(i)
		y := m.pressure(s)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return StableTrend
	}
	slope := (n*sumXY - sumX*sumY) / denom
	switch {
	case slope > trendSlopeEpsilon:
		return RisingTrend
	case slope < -trendSlopeEpsilon:
		return FallingTrend
	}
	return StableTrend
}

// Trend classifies over the whole buffer.
func (m *Monitor) Trend() Trend {
	return m.TrendOver(0)
}

// CriticalSince reports when the current critical episode began. The
// second return is false outside an episode.
func (m *Monitor) CriticalSince() (time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.criticalSince, m.inCritical
}

// CurrentLevel classifies the latest snapshot against the profile.
func (m *Monitor) CurrentLevel() Level {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.level(m.last)
}

func (m *Monitor) level(s Snapshot) Level {
	if s.CPUPct >= m.profile.CPUCritical || s.MemPct >= m.profile.MemCritical {
		return CriticalLevel
	}
	if s.CPUPct >= m.profile.CPUHigh || s.MemPct >= m.profile.MemHigh {
		return HighLevel
	}
	return NormalLevel
}

// MayRun decides whether a feature of the given tier may run under current
// pressure. Essential always runs. Above critical nothing else does.
// Standard stops at the high thresholds; advanced and experimental stop a
// safety margin below them.
func (m *Monitor) MayRun(tier models.FeatureTier) bool {
	if tier == models.EssentialTier {
		return true
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.last
	if s.CPUPct >= m.profile.CPUCritical || s.MemPct >= m.profile.MemCritical {
		return false
	}
	cpuHigh, memHigh := m.profile.CPUHigh, m.profile.MemHigh
	if tier == models.AdvancedTier || tier == models.ExperimentalTier {
		cpuHigh -= m.profile.SafetyMargin
		memHigh -= m.profile.SafetyMargin
	}
	return s.CPUPct < cpuHigh && s.MemPct < memHigh
}
