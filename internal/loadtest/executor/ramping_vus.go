package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ShaharShokrani/RedisOptimisticLockingDemo/internal/loadtest"
	"github.com/ShaharShokrani/RedisOptimisticLockingDemo/internal/loadtest/metrics"
)

// rampTickInterval is how often the ramping executor re-evaluates the
// target session count.
const rampTickInterval = 100 * time.Millisecond

// RampingVUs ramps the session count up and down through stages.
//
// Within each stage the target count is interpolated linearly from the
// previous stage's target to the stage's own target, re-evaluated on a
// short tick. This mirrors a spawn-rate ramp: start gently, hold, then
// wind down.
type RampingVUs struct {
	config    *Config
	scheduler *loadtest.SessionScheduler
	metrics   *metrics.Engine

	startTime    time.Time
	running      atomic.Bool
	currentStage atomic.Int32

	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// NewRampingVUs creates a new ramping VUs executor.
func NewRampingVUs() *RampingVUs {
	return &RampingVUs{}
}

// Type returns the executor type.
func (e *RampingVUs) Type() Type {
	return TypeRampingVUs
}

// Init initializes the executor with configuration.
func (e *RampingVUs) Init(ctx context.Context, config *Config) error {
	if config.Type != TypeRampingVUs {
		return fmt.Errorf("invalid config type: expected %s, got %s", TypeRampingVUs, config.Type)
	}
	if err := config.Validate(); err != nil {
		return err
	}

	e.config = config
	return nil
}

// Run executes all stages and blocks until they complete or the
// context is cancelled.
func (e *RampingVUs) Run(ctx context.Context, scheduler *loadtest.SessionScheduler, metricsEngine *metrics.Engine) error {
	e.scheduler = scheduler
	e.metrics = metricsEngine
	e.running.Store(true)
	e.startTime = time.Now()
	defer e.running.Store(false)

	runCtx, cancel := context.WithCancel(ctx)
	e.cancelFunc = cancel
	defer cancel()

	previousTarget := 0
	for i, stage := range e.config.Stages {
		e.currentStage.Store(int32(i + 1))

		if err := e.runStage(runCtx, previousTarget, stage); err != nil {
			e.drain()
			return err
		}
		previousTarget = stage.Target

		select {
		case <-runCtx.Done():
			e.drain()
			return nil
		default:
		}
	}

	e.drain()
	return nil
}

// runStage ramps from the previous target to the stage target over the
// stage duration.
func (e *RampingVUs) runStage(ctx context.Context, from int, stage Stage) error {
	stageStart := time.Now()
	ticker := time.NewTicker(rampTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		elapsed := time.Since(stageStart)
		if elapsed >= stage.Duration {
			e.scaleTo(ctx, stage.Target)
			return nil
		}

		fraction := float64(elapsed) / float64(stage.Duration)
		target := from + int(fraction*float64(stage.Target-from))
		e.scaleTo(ctx, target)
	}
}

// scaleTo spawns or stops sessions to match the target count.
func (e *RampingVUs) scaleTo(ctx context.Context, target int) {
	current := e.scheduler.ActiveCount()

	for current < target {
		sess, err := e.scheduler.Spawn()
		if err != nil {
			return
		}
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.scheduler.RunSession(ctx, sess)
		}()
		current++
	}

	if current > target {
		e.scheduler.StopN(current - target)
	}

	e.scheduler.UpdateMetrics()
}

// drain stops all remaining sessions and waits for their goroutines.
func (e *RampingVUs) drain() {
	e.scheduler.StopAll()
	e.wg.Wait()
	e.scheduler.UpdateMetrics()
}

// GetProgress returns current progress (0.0 to 1.0).
func (e *RampingVUs) GetProgress() float64 {
	if !e.running.Load() {
		if e.startTime.IsZero() {
			return 0.0
		}
		return 1.0
	}

	total := e.config.TotalDuration()
	if total <= 0 {
		return 0.0
	}
	progress := float64(time.Since(e.startTime)) / float64(total)
	if progress > 1.0 {
		progress = 1.0
	}
	return progress
}

// GetActiveSessions returns the current active session count.
func (e *RampingVUs) GetActiveSessions() int {
	if e.scheduler == nil {
		return 0
	}
	return e.scheduler.ActiveCount()
}

// GetStats returns executor statistics.
func (e *RampingVUs) GetStats() *Stats {
	var elapsed time.Duration
	if !e.startTime.IsZero() {
		elapsed = time.Since(e.startTime)
	}

	var iterations int64
	active := 0
	if e.scheduler != nil {
		iterations = e.scheduler.TotalIterations()
		active = e.scheduler.ActiveCount()
	}

	maxTarget := 0
	for _, stage := range e.config.Stages {
		if stage.Target > maxTarget {
			maxTarget = stage.Target
		}
	}

	return &Stats{
		StartTime:      e.startTime,
		CurrentTime:    time.Now(),
		Elapsed:        elapsed,
		TotalDuration:  e.config.TotalDuration(),
		ActiveSessions: active,
		TargetSessions: maxTarget,
		Iterations:     iterations,
		CurrentStage:   int(e.currentStage.Load()),
		TotalStages:    len(e.config.Stages),
	}
}

// Stop gracefully stops the executor.
func (e *RampingVUs) Stop(ctx context.Context) error {
	if e.cancelFunc != nil {
		e.cancelFunc()
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	graceful := e.config.GracefulStop
	if graceful == 0 {
		graceful = 30 * time.Second
	}

	select {
	case <-done:
		return nil
	case <-time.After(graceful):
		return fmt.Errorf("graceful stop timeout after %v", graceful)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ensure RampingVUs implements Executor.
var _ Executor = (*RampingVUs)(nil)
