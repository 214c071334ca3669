// Package executor provides load generation strategies for the
// withdrawal benchmark.
package executor

import (
	"context"
	"time"

	"github.com/ShaharShokrani/RedisOptimisticLockingDemo/internal/loadtest"
	"github.com/ShaharShokrani/RedisOptimisticLockingDemo/internal/loadtest/metrics"
)

// Type identifies the type of executor.
type Type string

const (
	// TypeConstantVUs runs a fixed number of sessions for a duration.
	TypeConstantVUs Type = "constant-vus"

	// TypeRampingVUs ramps the session count up and down through stages.
	TypeRampingVUs Type = "ramping-vus"

	// TypeConstantArrivalRate starts iterations at a fixed rate over a
	// pre-allocated session pool.
	TypeConstantArrivalRate Type = "constant-arrival-rate"
)

// Executor defines the interface for load generation strategies.
//
// Executors control HOW load is generated: how many sessions run
// concurrently and when iterations start. The behavior of each
// iteration is fixed by the session profile.
type Executor interface {
	// Type returns the executor type.
	Type() Type

	// Init initializes the executor with configuration.
	// Called once before Run().
	Init(ctx context.Context, config *Config) error

	// Run starts the executor and blocks until completion. Executors
	// must respect context cancellation for graceful shutdown.
	Run(ctx context.Context, scheduler *loadtest.SessionScheduler, metrics *metrics.Engine) error

	// GetProgress returns current progress (0.0 to 1.0).
	GetProgress() float64

	// GetActiveSessions returns the current active session count.
	GetActiveSessions() int

	// GetStats returns executor-specific statistics.
	GetStats() *Stats

	// Stop gracefully stops the executor before its natural end.
	Stop(ctx context.Context) error
}

// Config contains configuration for an executor.
type Config struct {
	// Type is the executor type.
	Type Type `json:"type" yaml:"type"`

	// VUs is the session count for session-based executors.
	VUs int `json:"vus,omitempty" yaml:"vus,omitempty"`

	// Duration is the run length for fixed-duration executors.
	Duration time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Rate is iteration starts per second (constant-arrival-rate).
	Rate float64 `json:"rate,omitempty" yaml:"rate,omitempty"`

	// PreAllocatedVUs is the session pool size for arrival-rate
	// executors.
	PreAllocatedVUs int `json:"preAllocatedVUs,omitempty" yaml:"preAllocatedVUs,omitempty"`

	// Stages for the ramping executor.
	Stages []Stage `json:"stages,omitempty" yaml:"stages,omitempty"`

	// GracefulStop is how long Stop waits for sessions to finish.
	GracefulStop time.Duration `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`
}

// Stage defines one stage of a ramping executor.
type Stage struct {
	// Duration of this stage.
	Duration time.Duration `json:"duration" yaml:"duration"`

	// Target session count at the end of this stage.
	Target int `json:"target" yaml:"target"`
}

// Stats contains real-time executor statistics.
type Stats struct {
	StartTime     time.Time     `json:"startTime"`
	CurrentTime   time.Time     `json:"currentTime"`
	Elapsed       time.Duration `json:"elapsed"`
	TotalDuration time.Duration `json:"totalDuration"`

	ActiveSessions int `json:"activeSessions"`
	TargetSessions int `json:"targetSessions"`

	Iterations int64 `json:"iterations"`

	CurrentStage int `json:"currentStage"`
	TotalStages  int `json:"totalStages"`

	CurrentRate float64 `json:"currentRate"`
	TargetRate  float64 `json:"targetRate"`
}

// Validate validates the executor configuration.
func (c *Config) Validate() error {
	if c.Type == "" {
		return &ValidationError{Field: "type", Message: "executor type is required"}
	}

	switch c.Type {
	case TypeConstantVUs:
		if c.VUs <= 0 {
			return &ValidationError{Field: "vus", Message: "vus must be > 0"}
		}
		if c.Duration <= 0 {
			return &ValidationError{Field: "duration", Message: "duration must be > 0"}
		}

	case TypeRampingVUs:
		if len(c.Stages) == 0 {
			return &ValidationError{Field: "stages", Message: "at least one stage is required"}
		}
		for _, stage := range c.Stages {
			if stage.Duration <= 0 {
				return &ValidationError{Field: "stages", Message: "stage duration must be > 0"}
			}
			if stage.Target < 0 {
				return &ValidationError{Field: "stages", Message: "stage target must be >= 0"}
			}
		}

	case TypeConstantArrivalRate:
		if c.Rate <= 0 {
			return &ValidationError{Field: "rate", Message: "rate must be > 0"}
		}
		if c.Duration <= 0 {
			return &ValidationError{Field: "duration", Message: "duration must be > 0"}
		}
		if c.PreAllocatedVUs <= 0 {
			return &ValidationError{Field: "preAllocatedVUs", Message: "preAllocatedVUs must be > 0"}
		}

	default:
		return &ValidationError{Field: "type", Message: "unknown executor type: " + string(c.Type)}
	}

	return nil
}

// TotalDuration calculates the total duration for this executor.
func (c *Config) TotalDuration() time.Duration {
	switch c.Type {
	case TypeConstantVUs, TypeConstantArrivalRate:
		return c.Duration

	case TypeRampingVUs:
		var total time.Duration
		for _, stage := range c.Stages {
			total += stage.Duration
		}
		return total

	default:
		return 0
	}
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "validation error on field '" + e.Field + "': " + e.Message
}
