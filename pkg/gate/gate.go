// Package gate maps feature names to priority tiers and decides, per
// check, whether a feature may run. Checks are pull-based from the
// scheduler's dispatch loop; there is no polling thread.
package gate

import (
	"sort"
	"sync"
	"time"

	"github.com/Tight5/Zero-Gate-sub000/pkg/models"
)

// MayRunner is the slice of the resource monitor the gate needs.
type MayRunner interface {
	MayRun(tier models.FeatureTier) bool
	CriticalSince() (time.Time, bool)
}

type override struct {
	enabled bool
	setAt   time.Time
}

// Gate is an enum-keyed registry guarded by one lock. IsEnabled is the
// only read path; Register and SetOverride are the only write paths.
type Gate struct {
	mu        sync.RWMutex
	tiers     map[string]models.FeatureTier
	overrides map[string]override
	monitor   MayRunner
}

func New(monitor MayRunner) *Gate {
	return &Gate{
		tiers:     make(map[string]models.FeatureTier),
		overrides: make(map[string]override),
		monitor:   monitor,
	}
}

// Register maps a feature name to a tier. Re-registering replaces the tier.
func (g *Gate) Register(name string, tier models.FeatureTier) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tiers[name] = tier
}

// Tier returns the registered tier for a feature.
func (g *Gate) Tier(name string) (models.FeatureTier, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	tier, ok := g.tiers[name]
	return tier, ok
}

// SetOverride forces a feature on or off regardless of resource pressure.
// A nil value clears the override. Overrides are timestamped: a critical
// episode invalidates every override set before it began.
func (g *Gate) SetOverride(name string, enabled *bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if enabled == nil {
		delete(g.overrides, name)
		return
	}
	g.overrides[name] = override{enabled: *enabled, setAt: time.Now()}
}

// IsEnabled returns the override if one is set, else delegates to the
// resource monitor for the feature's tier. Unregistered features are
// disabled. During a critical episode only overrides set after the
// episode began are honored; anything decided under calmer conditions
// reverts to tier gating.
func (g *Gate) IsEnabled(name string) bool {
	g.mu.RLock()
	ov, hasOverride := g.overrides[name]
	tier, registered := g.tiers[name]
	g.mu.RUnlock()
	if hasOverride {
		since, critical := g.monitor.CriticalSince()
		if !critical || !ov.setAt.Before(since) {
			return ov.enabled
		}
	}
	if !registered {
		return false
	}
	return g.monitor.MayRun(tier)
}

// Enabled lists the currently enabled feature names, sorted.
func (g *Gate) Enabled() []string {
	g.mu.RLock()
	names := make([]string, 0, len(g.tiers))
	for name := range g.tiers {
		names = append(names, name)
	}
	g.mu.RUnlock()

	enabled := names[:0]
	for _, name := range names {
		if g.IsEnabled(name) {
			enabled = append(enabled, name)
		}
	}
	sort.Strings(enabled)
	return enabled
}
