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

// ConstantVUs runs a fixed number of sessions for a specified duration.
//
// This is the direct equivalent of running the benchmark with N users:
// spawn N sessions and let each run iterations as fast as its think
// time allows until the duration expires.
type ConstantVUs struct {
	config    *Config
	scheduler *loadtest.SessionScheduler
	metrics   *metrics.Engine

	startTime      time.Time
	activeSessions atomic.Int32
	running        atomic.Bool

	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// NewConstantVUs creates a new constant VUs executor.
func NewConstantVUs() *ConstantVUs {
	return &ConstantVUs{}
}

// Type returns the executor type.
func (e *ConstantVUs) Type() Type {
	return TypeConstantVUs
}

// Init initializes the executor with configuration.
func (e *ConstantVUs) Init(ctx context.Context, config *Config) error {
	if config.Type != TypeConstantVUs {
		return fmt.Errorf("invalid config type: expected %s, got %s", TypeConstantVUs, config.Type)
	}
	if err := config.Validate(); err != nil {
		return err
	}

	e.config = config
	return nil
}

// Run starts the executor and blocks until the duration expires or the
// context is cancelled.
func (e *ConstantVUs) Run(ctx context.Context, scheduler *loadtest.SessionScheduler, metricsEngine *metrics.Engine) error {
	e.scheduler = scheduler
	e.metrics = metricsEngine
	e.running.Store(true)
	e.startTime = time.Now()

	runCtx, cancel := context.WithTimeout(ctx, e.config.Duration)
	e.cancelFunc = cancel
	defer cancel()

	for i := 0; i < e.config.VUs; i++ {
		sess, err := scheduler.Spawn()
		if err != nil {
			cancel()
			e.wg.Wait()
			e.running.Store(false)
			return fmt.Errorf("failed to spawn session: %w", err)
		}
		e.wg.Add(1)
		go e.runSession(runCtx, sess)
	}

	e.wg.Wait()
	e.running.Store(false)

	return nil
}

func (e *ConstantVUs) runSession(ctx context.Context, sess *loadtest.Session) {
	defer e.wg.Done()

	e.activeSessions.Add(1)
	e.metrics.SetActiveSessions(int(e.activeSessions.Load()))
	defer func() {
		e.activeSessions.Add(-1)
		e.metrics.SetActiveSessions(int(e.activeSessions.Load()))
	}()

	e.scheduler.RunSession(ctx, sess)
}

// GetProgress returns current progress (0.0 to 1.0).
func (e *ConstantVUs) GetProgress() float64 {
	if !e.running.Load() {
		if e.startTime.IsZero() {
			return 0.0
		}
		return 1.0
	}

	progress := float64(time.Since(e.startTime)) / float64(e.config.Duration)
	if progress > 1.0 {
		progress = 1.0
	}
	return progress
}

// GetActiveSessions returns the current active session count.
func (e *ConstantVUs) GetActiveSessions() int {
	return int(e.activeSessions.Load())
}

// GetStats returns executor statistics.
func (e *ConstantVUs) GetStats() *Stats {
	var elapsed time.Duration
	if !e.startTime.IsZero() {
		elapsed = time.Since(e.startTime)
	}

	var iterations int64
	if e.scheduler != nil {
		iterations = e.scheduler.TotalIterations()
	}

	return &Stats{
		StartTime:      e.startTime,
		CurrentTime:    time.Now(),
		Elapsed:        elapsed,
		TotalDuration:  e.config.Duration,
		ActiveSessions: int(e.activeSessions.Load()),
		TargetSessions: e.config.VUs,
		Iterations:     iterations,
	}
}

// Stop gracefully stops the executor.
func (e *ConstantVUs) Stop(ctx context.Context) error {
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

// Ensure ConstantVUs implements Executor.
var _ Executor = (*ConstantVUs)(nil)
