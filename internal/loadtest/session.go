// Package loadtest implements the virtual-user behavior profile for the
// withdrawal benchmark: each session repeatedly picks a weighted action,
// issues the HTTP request, and classifies the response as pass or fail.
package loadtest

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"

	"github.com/ShaharShokrani/RedisOptimisticLockingDemo/internal/loadtest/metrics"
)

// SessionState represents the lifecycle state of a session.
type SessionState int32

const (
	// SessionIdle indicates the session is ready but not currently running.
	SessionIdle SessionState = iota
	// SessionRunning indicates the session is actively running iterations.
	SessionRunning
	// SessionStopping indicates the session has been requested to stop.
	SessionStopping
	// SessionStopped indicates the session has fully stopped.
	SessionStopped
)

func (s SessionState) String() string {
	switch s {
	case SessionIdle:
		return "idle"
	case SessionRunning:
		return "running"
	case SessionStopping:
		return "stopping"
	case SessionStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Profile is the per-session workload definition: which endpoints to
// hit, with what identity and amounts, and how long to idle between
// iterations.
type Profile struct {
	// BaseURL of the withdrawal service, without trailing slash.
	BaseURL string

	// UserID sent with every request. All sessions share the same ID;
	// contention on a single account is the point of the benchmark.
	UserID string

	// WithdrawAmount is the base amount per withdrawal request.
	WithdrawAmount int

	// AmountJitter is the symmetric bound on the random perturbation
	// applied to WithdrawAmount. Zero disables jitter.
	AmountJitter int

	// InitBalance, when non-empty, triggers one best-effort POST /init
	// at session start carrying this value.
	InitBalance string

	// ThinkTimeMin and ThinkTimeMax bound the random wait between
	// iterations.
	ThinkTimeMin time.Duration
	ThinkTimeMax time.Duration

	// Actions is the weighted action table. Empty means DefaultActions.
	Actions []Action
}

// DefaultProfile returns a profile with the original benchmark's
// defaults: user "123", amount 3, no jitter, 0-20ms think time.
func DefaultProfile(baseURL string) *Profile {
	return &Profile{
		BaseURL:        baseURL,
		UserID:         "123",
		WithdrawAmount: 3,
		AmountJitter:   0,
		ThinkTimeMin:   0,
		ThinkTimeMax:   20 * time.Millisecond,
		Actions:        DefaultActions(),
	}
}

// Validate checks the profile for obvious misconfiguration.
func (p *Profile) Validate() error {
	if p.BaseURL == "" {
		return fmt.Errorf("profile: base URL is required")
	}
	if p.UserID == "" {
		return fmt.Errorf("profile: user ID is required")
	}
	if p.WithdrawAmount < 1 {
		return fmt.Errorf("profile: withdraw amount must be >= 1, got %d", p.WithdrawAmount)
	}
	if p.AmountJitter < 0 {
		return fmt.Errorf("profile: amount jitter must be >= 0, got %d", p.AmountJitter)
	}
	if p.ThinkTimeMin < 0 || p.ThinkTimeMax < p.ThinkTimeMin {
		return fmt.Errorf("profile: think time bounds [%v, %v] are invalid", p.ThinkTimeMin, p.ThinkTimeMax)
	}
	return nil
}

func (p *Profile) actions() []Action {
	if len(p.Actions) > 0 {
		return p.Actions
	}
	return DefaultActions()
}

// Session is a single simulated user. Each session has its own PRNG
// and iteration counter; the HTTP client and metrics engine are shared
// and safe for concurrent use.
type Session struct {
	// ID is the unique identifier of this session within a run.
	ID int

	profile *Profile
	client  *http.Client
	metrics *metrics.Engine
	picker  *weightedPicker
	rng     *rand.Rand

	// Lifecycle state (atomic for lock-free reads).
	state atomic.Int32

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
	doneOnce sync.Once

	iteration   atomic.Int64
	initialized bool

	// Tally of the "status" field parsed from withdrawal response
	// bodies. Instrumentation only; it never affects classification.
	statusTally   map[string]int64
	statusTallyMu sync.Mutex
}

// NewSession creates a session. The picker must come from the profile's
// action table; seed feeds the session-local PRNG.
func NewSession(id int, profile *Profile, client *http.Client, metricsEngine *metrics.Engine) (*Session, error) {
	picker, err := newWeightedPicker(profile.actions())
	if err != nil {
		return nil, err
	}

	return &Session{
		ID:          id,
		profile:     profile,
		client:      client,
		metrics:     metricsEngine,
		picker:      picker,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano() + int64(id))),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		statusTally: make(map[string]int64),
	}, nil
}

// State returns the current session state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// Iteration returns the number of completed iterations.
func (s *Session) Iteration() int64 {
	return s.iteration.Load()
}

// RunIteration executes one iteration: pick a weighted action, issue
// the request, record the outcome, then apply think time. The first
// iteration is preceded by session initialization when an initial
// balance is configured.
func (s *Session) RunIteration(ctx context.Context) error {
	// Enter Running only from Idle so a concurrent stop request is
	// never clobbered.
	if !s.state.CompareAndSwap(int32(SessionIdle), int32(SessionRunning)) {
		return fmt.Errorf("session %d is stopping or stopped", s.ID)
	}

	if !s.initialized {
		s.initialized = true
		s.initBalance(ctx)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopCh:
		return nil
	default:
	}

	action := s.picker.Pick(s.rng)
	s.execute(ctx, action)
	s.iteration.Add(1)

	s.thinkTime(ctx)

	// Return to Idle unless a stop request arrived mid-iteration; the
	// CAS leaves Stopping intact so the loop in RunSession can exit.
	s.state.CompareAndSwap(int32(SessionRunning), int32(SessionIdle))
	return nil
}

// initBalance issues the optional one-shot POST /init. The call is
// best-effort: the outcome is recorded but never aborts the session.
func (s *Session) initBalance(ctx context.Context) {
	if s.profile.InitBalance == "" {
		return
	}

	params := url.Values{}
	params.Set("userId", s.profile.UserID)
	params.Set("balance", s.profile.InitBalance)

	start := time.Now()
	statusCode, _, err := s.do(ctx, http.MethodPost, "/init", params)
	elapsed := time.Since(start)

	if err != nil {
		s.metrics.Record("init", elapsed, false, err.Error())
		return
	}
	s.metrics.Record("init", elapsed, statusCode == http.StatusOK, reasonForStatus(statusCode))
}

// execute issues one action's request and records its classification.
func (s *Session) execute(ctx context.Context, action Action) {
	params := url.Values{}
	switch action.Kind {
	case KindWithdraw:
		params.Set("userId", s.profile.UserID)
		params.Set("amount", strconv.Itoa(WithdrawAmount(s.rng, s.profile.WithdrawAmount, s.profile.AmountJitter)))
	case KindBalance:
		params.Set("userId", s.profile.UserID)
	case KindHealth:
		// No parameters.
	}

	start := time.Now()
	statusCode, body, err := s.do(ctx, action.Method, action.Path, params)
	elapsed := time.Since(start)

	if err != nil {
		s.metrics.Record(action.Name, elapsed, false, err.Error())
		return
	}

	var outcome Outcome
	switch action.Kind {
	case KindWithdraw:
		outcome = ClassifyWithdraw(statusCode)
		s.tallyBodyStatus(body)
	case KindBalance:
		outcome = ClassifyBalance(statusCode)
	case KindHealth:
		outcome = ClassifyHealth(statusCode)
	}

	s.metrics.Record(action.Name, elapsed, outcome.Success, outcome.Reason)
}

// do issues a single HTTP request with the given query parameters and
// returns the status code and body. The body is always drained so the
// connection can be reused.
func (s *Session) do(ctx context.Context, method, path string, params url.Values) (int, []byte, error) {
	reqURL := s.profile.BaseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return 0, nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return resp.StatusCode, body, nil
}

// tallyBodyStatus parses the "status" field out of a withdrawal
// response body. The value is tallied for inspection but deliberately
// does not influence pass/fail classification.
func (s *Session) tallyBodyStatus(body []byte) {
	status := gjson.GetBytes(body, "status")
	value := "unknown"
	if status.Exists() {
		value = status.String()
	}

	s.statusTallyMu.Lock()
	s.statusTally[value]++
	s.statusTallyMu.Unlock()
}

// BodyStatusTally returns a copy of the tally of "status" values seen
// in withdrawal response bodies.
func (s *Session) BodyStatusTally() map[string]int64 {
	s.statusTallyMu.Lock()
	defer s.statusTallyMu.Unlock()

	out := make(map[string]int64, len(s.statusTally))
	for k, v := range s.statusTally {
		out[k] = v
	}
	return out
}

// thinkTime waits a random interval in [ThinkTimeMin, ThinkTimeMax],
// or until the session is stopped.
func (s *Session) thinkTime(ctx context.Context) {
	wait := s.profile.ThinkTimeMin
	if diff := s.profile.ThinkTimeMax - s.profile.ThinkTimeMin; diff > 0 {
		wait += time.Duration(s.rng.Int63n(int64(diff) + 1))
	}
	if wait <= 0 {
		return
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-s.stopCh:
	case <-timer.C:
	}
}

// RequestStop signals the session to stop after the current iteration.
// Safe to call more than once.
func (s *Session) RequestStop() {
	if s.State() == SessionStopped {
		return
	}
	if !s.state.CompareAndSwap(int32(SessionRunning), int32(SessionStopping)) {
		s.state.CompareAndSwap(int32(SessionIdle), int32(SessionStopping))
	}
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// WaitForStop waits for the session to stop with a timeout.
// Returns true if the session stopped within the timeout.
func (s *Session) WaitForStop(timeout time.Duration) bool {
	select {
	case <-s.doneCh:
		return true
	case <-time.After(timeout):
		return false
	}
}

// MarkStopped marks the session as fully stopped. Called by the
// scheduler when the session goroutine exits.
func (s *Session) MarkStopped() {
	s.state.Store(int32(SessionStopped))
	s.doneOnce.Do(func() { close(s.doneCh) })
}

func reasonForStatus(statusCode int) string {
	if statusCode == http.StatusOK {
		return ""
	}
	return httpReason(statusCode)
}
