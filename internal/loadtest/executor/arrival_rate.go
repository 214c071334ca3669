package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/ShaharShokrani/RedisOptimisticLockingDemo/internal/loadtest"
	"github.com/ShaharShokrani/RedisOptimisticLockingDemo/internal/loadtest/metrics"
)

// ConstantArrivalRate starts iterations at a fixed rate, independent of
// how long each iteration takes, over a pre-allocated session pool.
//
// An open-model executor: if the service slows down, iterations still
// start on schedule as long as a pooled session is free. When the pool
// is exhausted the iteration is dropped and counted, rather than
// queued, so the configured rate never turns into a backlog.
type ConstantArrivalRate struct {
	config    *Config
	scheduler *loadtest.SessionScheduler
	metrics   *metrics.Engine

	startTime  time.Time
	running    atomic.Bool
	iterations atomic.Int64
	dropped    atomic.Int64
	busy       atomic.Int32

	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// NewConstantArrivalRate creates a new constant arrival rate executor.
func NewConstantArrivalRate() *ConstantArrivalRate {
	return &ConstantArrivalRate{}
}

// Type returns the executor type.
func (e *ConstantArrivalRate) Type() Type {
	return TypeConstantArrivalRate
}

// Init initializes the executor with configuration.
func (e *ConstantArrivalRate) Init(ctx context.Context, config *Config) error {
	if config.Type != TypeConstantArrivalRate {
		return fmt.Errorf("invalid config type: expected %s, got %s", TypeConstantArrivalRate, config.Type)
	}
	if err := config.Validate(); err != nil {
		return err
	}

	e.config = config
	return nil
}

// Run starts iterations at the configured rate until the duration
// expires or the context is cancelled.
func (e *ConstantArrivalRate) Run(ctx context.Context, scheduler *loadtest.SessionScheduler, metricsEngine *metrics.Engine) error {
	e.scheduler = scheduler
	e.metrics = metricsEngine
	e.running.Store(true)
	e.startTime = time.Now()
	defer e.running.Store(false)

	runCtx, cancel := context.WithTimeout(ctx, e.config.Duration)
	e.cancelFunc = cancel
	defer cancel()

	// Pre-allocate the session pool.
	pool := make(chan *loadtest.Session, e.config.PreAllocatedVUs)
	for i := 0; i < e.config.PreAllocatedVUs; i++ {
		sess, err := scheduler.Spawn()
		if err != nil {
			return fmt.Errorf("failed to spawn session: %w", err)
		}
		pool <- sess
	}
	e.metrics.SetActiveSessions(e.config.PreAllocatedVUs)

	limiter := rate.NewLimiter(rate.Limit(e.config.Rate), 1)

	for {
		if err := limiter.Wait(runCtx); err != nil {
			// Context cancelled or deadline passed: natural end of run.
			break
		}

		select {
		case sess := <-pool:
			e.wg.Add(1)
			e.busy.Add(1)
			go func() {
				defer e.wg.Done()
				defer e.busy.Add(-1)
				// Single iteration per arrival; stop requests and
				// cancellation end the iteration early.
				_ = sess.RunIteration(runCtx)
				e.iterations.Add(1)
				pool <- sess
			}()
		default:
			// Pool exhausted: drop this arrival instead of queueing.
			e.dropped.Add(1)
		}
	}

	e.wg.Wait()
	scheduler.StopAll()
	e.metrics.SetActiveSessions(0)

	return nil
}

// GetProgress returns current progress (0.0 to 1.0).
func (e *ConstantArrivalRate) GetProgress() float64 {
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

// GetActiveSessions returns the number of sessions currently running an
// iteration.
func (e *ConstantArrivalRate) GetActiveSessions() int {
	return int(e.busy.Load())
}

// GetDropped returns the number of arrivals dropped because the pool
// was exhausted.
func (e *ConstantArrivalRate) GetDropped() int64 {
	return e.dropped.Load()
}

// GetStats returns executor statistics.
func (e *ConstantArrivalRate) GetStats() *Stats {
	var elapsed time.Duration
	currentRate := 0.0
	if !e.startTime.IsZero() {
		elapsed = time.Since(e.startTime)
		if elapsed.Seconds() > 0 {
			currentRate = float64(e.iterations.Load()) / elapsed.Seconds()
		}
	}

	return &Stats{
		StartTime:      e.startTime,
		CurrentTime:    time.Now(),
		Elapsed:        elapsed,
		TotalDuration:  e.config.Duration,
		ActiveSessions: int(e.busy.Load()),
		TargetSessions: e.config.PreAllocatedVUs,
		Iterations:     e.iterations.Load(),
		CurrentRate:    currentRate,
		TargetRate:     e.config.Rate,
	}
}

// Stop gracefully stops the executor.
func (e *ConstantArrivalRate) Stop(ctx context.Context) error {
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

// Ensure ConstantArrivalRate implements Executor.
var _ Executor = (*ConstantArrivalRate)(nil)
