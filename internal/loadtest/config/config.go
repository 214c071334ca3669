// Package config provides configuration loading and validation for the
// withdrawal benchmark harness. Settings come from an optional YAML
// file; the four workload knobs can always be overridden from the
// environment, matching the original harness contract.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variable names recognized by ApplyEnv.
const (
	EnvUserID         = "USER_ID"
	EnvWithdrawAmount = "WITHDRAW_AMOUNT"
	EnvAmountJitter   = "AMOUNT_JITTER"
	EnvInitBalance    = "INIT_BALANCE"
	EnvBaseURL        = "BASE_URL"
)

// Config is the root configuration for a benchmark run.
//
// Example YAML:
//
//	name: "lock strategy comparison"
//	baseUrl: "http://localhost:8080"
//	workload:
//	  userId: "123"
//	  withdrawAmount: 3
//	  amountJitter: 2
//	load:
//	  executor: constant-vus
//	  vus: 50
//	  duration: 2m
type Config struct {
	// Name of the run (for reporting).
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// BaseURL of the withdrawal service.
	BaseURL string `json:"baseUrl" yaml:"baseUrl"`

	// Workload holds the behavior-profile knobs.
	Workload WorkloadConfig `json:"workload,omitempty" yaml:"workload,omitempty"`

	// Load holds the executor settings.
	Load LoadConfig `json:"load,omitempty" yaml:"load,omitempty"`

	// HTTP holds client transport settings.
	HTTP HTTPConfig `json:"http,omitempty" yaml:"http,omitempty"`

	// Thresholds define pass/fail criteria evaluated after the run.
	Thresholds *ThresholdsConfig `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`
}

// WorkloadConfig holds the behavior-profile knobs.
type WorkloadConfig struct {
	// UserID sent with every request.
	UserID string `json:"userId,omitempty" yaml:"userId,omitempty"`

	// WithdrawAmount is the base withdrawal amount.
	WithdrawAmount int `json:"withdrawAmount,omitempty" yaml:"withdrawAmount,omitempty"`

	// AmountJitter is the symmetric random perturbation bound.
	AmountJitter int `json:"amountJitter,omitempty" yaml:"amountJitter,omitempty"`

	// InitBalance, when non-empty, is posted once per session to /init.
	InitBalance string `json:"initBalance,omitempty" yaml:"initBalance,omitempty"`

	// ThinkTimeMin and ThinkTimeMax bound the wait between iterations.
	ThinkTimeMin Duration `json:"thinkTimeMin,omitempty" yaml:"thinkTimeMin,omitempty"`
	ThinkTimeMax Duration `json:"thinkTimeMax,omitempty" yaml:"thinkTimeMax,omitempty"`
}

// LoadConfig holds the executor settings.
type LoadConfig struct {
	// Executor is the load strategy: "constant-vus", "ramping-vus",
	// "constant-arrival-rate".
	Executor string `json:"executor,omitempty" yaml:"executor,omitempty"`

	// VUs is the session count for session-based executors.
	VUs int `json:"vus,omitempty" yaml:"vus,omitempty"`

	// Duration is how long to run.
	Duration Duration `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Stages for the ramping executor.
	Stages []StageConfig `json:"stages,omitempty" yaml:"stages,omitempty"`

	// Rate is iteration starts per second for arrival-rate executors.
	Rate float64 `json:"rate,omitempty" yaml:"rate,omitempty"`

	// PreAllocatedVUs is the session pool size for arrival-rate
	// executors.
	PreAllocatedVUs int `json:"preAllocatedVUs,omitempty" yaml:"preAllocatedVUs,omitempty"`

	// GracefulStop is how long to wait for in-flight iterations when
	// stopping early.
	GracefulStop Duration `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`
}

// StageConfig defines one ramping stage.
type StageConfig struct {
	Duration Duration `json:"duration" yaml:"duration"`
	Target   int      `json:"target" yaml:"target"`
}

// HTTPConfig holds client transport settings.
type HTTPConfig struct {
	Timeout             Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	MaxIdleConnsPerHost int      `json:"maxIdleConnsPerHost,omitempty" yaml:"maxIdleConnsPerHost,omitempty"`
	MaxConnsPerHost     int      `json:"maxConnsPerHost,omitempty" yaml:"maxConnsPerHost,omitempty"`
	DisableKeepAlives   bool     `json:"disableKeepAlives,omitempty" yaml:"disableKeepAlives,omitempty"`
}

// ThresholdsConfig defines pass/fail criteria for the run.
type ThresholdsConfig struct {
	// Duration thresholds on overall latency, e.g. ["p95 < 500ms"].
	Duration []string `json:"duration,omitempty" yaml:"duration,omitempty"`

	// FailedRate thresholds on the failure rate, e.g. ["rate < 0.01"].
	FailedRate []string `json:"failedRate,omitempty" yaml:"failedRate,omitempty"`
}

// Default returns a configuration with the original benchmark's
// defaults: user "123", amount 3, no jitter, 0-20ms think time, 10
// sessions for 30 seconds.
func Default() *Config {
	return &Config{
		Name:    "redis lock comparison",
		BaseURL: "http://localhost:8080",
		Workload: WorkloadConfig{
			UserID:         "123",
			WithdrawAmount: 3,
			AmountJitter:   0,
			ThinkTimeMin:   0,
			ThinkTimeMax:   Duration(20 * time.Millisecond),
		},
		Load: LoadConfig{
			Executor: "constant-vus",
			VUs:      10,
			Duration: Duration(30 * time.Second),
		},
		HTTP: HTTPConfig{
			Timeout:             Duration(30 * time.Second),
			MaxIdleConnsPerHost: 100,
		},
	}
}

// LoadFile reads a YAML config file, validates it against the embedded
// schema, and merges it over the defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := validateDocument(data); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overlays the environment variables onto the config. Env
// values always win over file values for the workload knobs.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv(EnvBaseURL); v != "" {
		c.BaseURL = v
	}
	if v := os.Getenv(EnvUserID); v != "" {
		c.Workload.UserID = v
	}
	if v := os.Getenv(EnvWithdrawAmount); v != "" {
		amount, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: invalid integer %q", EnvWithdrawAmount, v)
		}
		c.Workload.WithdrawAmount = amount
	}
	if v := os.Getenv(EnvAmountJitter); v != "" {
		jitter, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: invalid integer %q", EnvAmountJitter, v)
		}
		c.Workload.AmountJitter = jitter
	}
	if v := os.Getenv(EnvInitBalance); v != "" {
		c.Workload.InitBalance = v
	}
	return nil
}

// Validate checks the configuration for errors the schema cannot
// express.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("baseUrl is required")
	}
	if c.Workload.UserID == "" {
		return fmt.Errorf("workload.userId is required")
	}
	if c.Workload.WithdrawAmount < 1 {
		return fmt.Errorf("workload.withdrawAmount must be >= 1, got %d", c.Workload.WithdrawAmount)
	}
	if c.Workload.AmountJitter < 0 {
		return fmt.Errorf("workload.amountJitter must be >= 0, got %d", c.Workload.AmountJitter)
	}
	if c.Workload.ThinkTimeMax < c.Workload.ThinkTimeMin {
		return fmt.Errorf("workload.thinkTimeMax must be >= workload.thinkTimeMin")
	}
	return nil
}

// Duration is a time.Duration that unmarshals from YAML/JSON strings
// like "30s" or "2m".
type Duration time.Duration

// GetDuration returns the duration or a default if zero.
func (d Duration) GetDuration(defaultValue time.Duration) time.Duration {
	if d == 0 {
		return defaultValue
	}
	return time.Duration(d)
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}

	if s == "" || s == "null" {
		*d = 0
		return nil
	}

	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}

	if s == "" {
		*d = 0
		return nil
	}

	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}
