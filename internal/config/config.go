// Package config loads orchestrator settings: .env for environment
// plumbing, an optional YAML file for performance profiles and scheduler
// tuning. Resource thresholds are configuration on purpose; the numbers
// differ per environment and are not hard-coded anywhere else.
package config

import (
	"os"
	"time"

	"github.com/Tight5/Zero-Gate-sub000/pkg/models"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Duration accepts "250ms" style YAML values; bare integers are taken as
// nanoseconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw interface{}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return errors.Wrapf(err, "parse duration %q", v)
		}
		*d = Duration(parsed)
	case int:
		*d = Duration(v)
	default:
		return errors.Errorf("invalid duration value %v", raw)
	}
	return nil
}

// Std converts back to the standard library type.
func (d Duration) Std() time.Duration { return time.Duration(d) }

type SchedulerConfig struct {
	MinConcurrency           int      `yaml:"min_concurrency"`
	MaxConcurrency           int      `yaml:"max_concurrency"`
	DispatchInterval         Duration `yaml:"dispatch_interval"`
	BackoffBase              Duration `yaml:"backoff_base"`
	BackoffCap               Duration `yaml:"backoff_cap"`
	TimeoutMultiplier        float64  `yaml:"timeout_multiplier"`
	DefaultMaxAttempts       int      `yaml:"default_max_attempts"`
	DefaultEstimatedDuration Duration `yaml:"default_estimated_duration"`
	Retention                Duration `yaml:"retention"`
}

type MonitorConfig struct {
	SampleInterval Duration `yaml:"sample_interval"`
	BufferSize     int      `yaml:"buffer_size"`
}

// Config is the full orchestrator configuration.
type Config struct {
	Port    string `yaml:"port"`
	DBConn  string `yaml:"db_conn"`
	Profile string `yaml:"profile"`

	// ProfileOverride replaces fields of the named built-in profile when
	// non-zero.
	ProfileOverride *models.PerformanceProfile `yaml:"profile_override"`

	// Features maps workflow kinds to tiers, overriding the defaults.
	Features map[string]models.FeatureTier `yaml:"features"`

	Scheduler SchedulerConfig `yaml:"scheduler"`
	Monitor   MonitorConfig   `yaml:"monitor"`
}

// Load reads .env (if present), then the YAML file named by CONFIG_FILE or
// the path argument, then applies environment overrides.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Port:    "8090",
		Profile: "balanced",
		Monitor: MonitorConfig{SampleInterval: Duration(5 * time.Second)},
	}

	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrapf(err, "read config %s", path)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "parse config %s", path)
		}
	}

	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}
	if conn := os.Getenv("DB_CONN"); conn != "" {
		cfg.DBConn = conn
	}
	if profile := os.Getenv("PERFORMANCE_PROFILE"); profile != "" {
		cfg.Profile = profile
	}
	return cfg, nil
}

// ActiveProfile resolves the configured performance profile.
func (c Config) ActiveProfile() models.PerformanceProfile {
	p := models.ProfileByName(c.Profile)
	if o := c.ProfileOverride; o != nil {
		if o.CPUHigh > 0 {
			p.CPUHigh = o.CPUHigh
		}
		if o.CPUCritical > 0 {
			p.CPUCritical = o.CPUCritical
		}
		if o.MemHigh > 0 {
			p.MemHigh = o.MemHigh
		}
		if o.MemCritical > 0 {
			p.MemCritical = o.MemCritical
		}
		if o.SafetyMargin > 0 {
			p.SafetyMargin = o.SafetyMargin
		}
	}
	return p
}
