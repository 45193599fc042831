package models

type FeatureTier string

const (
	EssentialTier    FeatureTier = "essential"
	StandardTier     FeatureTier = "standard"
	AdvancedTier     FeatureTier = "advanced"
	ExperimentalTier FeatureTier = "experimental"
)

func (t FeatureTier) Valid() bool {
	switch t {
	case EssentialTier, StandardTier, AdvancedTier, ExperimentalTier:
		return true
	}
	return false
}

// PerformanceProfile bundles the CPU and memory thresholds the resource
// monitor gates against. The numbers were historically scattered across
// modules as ad hoc percentages; they live here as configuration now.
type PerformanceProfile struct {
	Name        string  `yaml:"name" json:"name"`
	CPUHigh     float64 `yaml:"cpu_high" json:"cpu_high"`
	CPUCritical float64 `yaml:"cpu_critical" json:"cpu_critical"`
	MemHigh     float64 `yaml:"mem_high" json:"mem_high"`
	MemCritical float64 `yaml:"mem_critical" json:"mem_critical"`

	// SafetyMargin is subtracted from the high thresholds when gating
	// advanced and experimental tiers, so expensive features back off
	// before the system actually reaches pressure.
	SafetyMargin float64 `yaml:"safety_margin" json:"safety_margin"`
}

// Built-in profiles. A deployment selects one at startup and may override
// any field via the config file.
var (
	DevelopmentProfile = PerformanceProfile{
		Name:         "development",
		CPUHigh:      85,
		CPUCritical:  95,
		MemHigh:      85,
		MemCritical:  95,
		SafetyMargin: 5,
	}
	BalancedProfile = PerformanceProfile{
		Name:         "balanced",
		CPUHigh:      75,
		CPUCritical:  90,
		MemHigh:      80,
		MemCritical:  90,
		SafetyMargin: 10,
	}
	PerformanceModeProfile = PerformanceProfile{
		Name:         "performance",
		CPUHigh:      70,
		CPUCritical:  85,
		MemHigh:      70,
		MemCritical:  85,
		SafetyMargin: 10,
	}
	EmergencyProfile = PerformanceProfile{
		Name:         "emergency",
		CPUHigh:      50,
		CPUCritical:  65,
		MemHigh:      50,
		MemCritical:  65,
		SafetyMargin: 15,
	}
)

// ProfileByName resolves a named built-in profile, defaulting to balanced.
func ProfileByName(name string) PerformanceProfile {
	switch name {
	case "development":
		return DevelopmentProfile
	case "performance":
		return PerformanceModeProfile
	case "emergency":
		return EmergencyProfile
	default:
		return BalancedProfile
	}
}
