package loadtest

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ShaharShokrani/RedisOptimisticLockingDemo/internal/loadtest/metrics"
)

// SessionScheduler manages the lifecycle of sessions: spawning,
// stopping, and graceful shutdown. Executors drive it to control the
// number of concurrent sessions.
type SessionScheduler struct {
	profile *Profile
	metrics *metrics.Engine

	httpConfig HTTPClientConfig

	sessions   map[int]*Session
	sessionsMu sync.RWMutex

	nextID atomic.Int32

	// Shared pooled client. One client across all sessions keeps
	// connection reuse realistic for a single-host benchmark.
	sharedClient *http.Client

	shutdownCh chan struct{}
	shutdownWg sync.WaitGroup
}

// HTTPClientConfig contains HTTP client configuration for sessions.
type HTTPClientConfig struct {
	// Timeout bounds each request end to end.
	Timeout time.Duration

	// MaxIdleConns controls the maximum number of idle connections.
	MaxIdleConns int

	// MaxIdleConnsPerHost controls the maximum idle connections per host.
	MaxIdleConnsPerHost int

	// MaxConnsPerHost limits total connections per host. Zero means
	// unlimited.
	MaxConnsPerHost int

	// IdleConnTimeout is how long idle connections are kept alive.
	IdleConnTimeout time.Duration

	// DisableKeepAlives disables HTTP keep-alives.
	DisableKeepAlives bool
}

// DefaultHTTPClientConfig returns sensible defaults for load testing
// against a single host.
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		Timeout:             30 * time.Second,
		MaxIdleConns:        1000,
		MaxIdleConnsPerHost: 100,
		MaxConnsPerHost:     0,
		IdleConnTimeout:     90 * time.Second,
	}
}

// NewSessionScheduler creates a scheduler for the given profile.
func NewSessionScheduler(profile *Profile, metricsEngine *metrics.Engine, httpConfig HTTPClientConfig) *SessionScheduler {
	s := &SessionScheduler{
		profile:    profile,
		metrics:    metricsEngine,
		httpConfig: httpConfig,
		sessions:   make(map[int]*Session),
		shutdownCh: make(chan struct{}),
	}
	s.sharedClient = s.createHTTPClient()
	return s
}

func (s *SessionScheduler) createHTTPClient() *http.Client {
	transport := &http.Transport{
		MaxIdleConns:        s.httpConfig.MaxIdleConns,
		MaxIdleConnsPerHost: s.httpConfig.MaxIdleConnsPerHost,
		MaxConnsPerHost:     s.httpConfig.MaxConnsPerHost,
		IdleConnTimeout:     s.httpConfig.IdleConnTimeout,
		DisableKeepAlives:   s.httpConfig.DisableKeepAlives,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   s.httpConfig.Timeout,
	}
}

// Spawn creates and registers a new session. The caller is responsible
// for running it, typically via RunSession.
func (s *SessionScheduler) Spawn() (*Session, error) {
	id := int(s.nextID.Add(1))

	sess, err := NewSession(id, s.profile, s.sharedClient, s.metrics)
	if err != nil {
		return nil, err
	}

	s.sessionsMu.Lock()
	s.sessions[id] = sess
	s.sessionsMu.Unlock()

	return sess, nil
}

// ActiveCount returns the number of non-stopped sessions.
func (s *SessionScheduler) ActiveCount() int {
	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()

	count := 0
	for _, sess := range s.sessions {
		if sess.State() != SessionStopped {
			count++
		}
	}
	return count
}

// TotalIterations returns the sum of completed iterations across all
// sessions ever spawned.
func (s *SessionScheduler) TotalIterations() int64 {
	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()

	var total int64
	for _, sess := range s.sessions {
		total += sess.Iteration()
	}
	return total
}

// StopAll requests all sessions to stop.
func (s *SessionScheduler) StopAll() {
	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()

	for _, sess := range s.sessions {
		sess.RequestStop()
	}
}

// StopN requests up to n running sessions to stop and returns how many
// were signalled. Used by ramping executors to scale down.
func (s *SessionScheduler) StopN(n int) int {
	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()

	stopped := 0
	for _, sess := range s.sessions {
		if stopped >= n {
			break
		}
		state := sess.State()
		if state != SessionStopped && state != SessionStopping {
			sess.RequestStop()
			stopped++
		}
	}
	return stopped
}

// RunSession runs a session's iteration loop until the context is
// cancelled, the scheduler shuts down, or the session is stopped.
func (s *SessionScheduler) RunSession(ctx context.Context, sess *Session) {
	s.shutdownWg.Add(1)
	defer s.shutdownWg.Done()
	defer sess.MarkStopped()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdownCh:
			return
		case <-sess.stopCh:
			return
		default:
		}

		state := sess.State()
		if state == SessionStopping || state == SessionStopped {
			return
		}

		if err := sess.RunIteration(ctx); err != nil {
			// Cancellation or stop request; anything else already
			// surfaced through the metrics engine.
			if ctx.Err() != nil || sess.State() == SessionStopping {
				return
			}
		}
	}
}

// UpdateMetrics pushes the current active session count to the metrics
// engine.
func (s *SessionScheduler) UpdateMetrics() {
	s.metrics.SetActiveSessions(s.ActiveCount())
}

// Shutdown stops all sessions and waits for their goroutines to exit,
// up to the timeout.
func (s *SessionScheduler) Shutdown(timeout time.Duration) {
	select {
	case <-s.shutdownCh:
		// Already shut down.
		return
	default:
		close(s.shutdownCh)
	}

	s.StopAll()

	done := make(chan struct{})
	go func() {
		s.shutdownWg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
	}

	s.sharedClient.CloseIdleConnections()
}
