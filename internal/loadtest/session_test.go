package loadtest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ShaharShokrani/RedisOptimisticLockingDemo/internal/loadtest/metrics"
)

func testProfile(baseURL string) *Profile {
	p := DefaultProfile(baseURL)
	p.ThinkTimeMin = 0
	p.ThinkTimeMax = 0
	return p
}

func newTestSession(t *testing.T, profile *Profile, engine *metrics.Engine) *Session {
	t.Helper()
	sess, err := NewSession(1, profile, &http.Client{Timeout: 5 * time.Second}, engine)
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	return sess
}

func TestSession_SendsQueryParameters(t *testing.T) {
	var mu sync.Mutex
	var gotPaths []string
	var gotUserIDs []string
	var gotAmounts []string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotPaths = append(gotPaths, r.URL.Path)
		gotUserIDs = append(gotUserIDs, r.URL.Query().Get("userId"))
		gotAmounts = append(gotAmounts, r.URL.Query().Get("amount"))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "ok"}`))
	}))
	defer server.Close()

	profile := testProfile(server.URL)
	profile.Actions = []Action{
		{Name: "withdraw_watch", Path: "/withdraw_watch", Method: http.MethodPost, Weight: 1, Kind: KindWithdraw},
	}

	engine := metrics.NewEngine()
	sess := newTestSession(t, profile, engine)

	if err := sess.RunIteration(context.Background()); err != nil {
		t.Fatalf("RunIteration() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(gotPaths) != 1 {
		t.Fatalf("server saw %d requests, want 1", len(gotPaths))
	}
	if gotPaths[0] != "/withdraw_watch" {
		t.Errorf("path = %q, want /withdraw_watch", gotPaths[0])
	}
	if gotUserIDs[0] != "123" {
		t.Errorf("userId = %q, want 123", gotUserIDs[0])
	}
	if gotAmounts[0] != "3" {
		t.Errorf("amount = %q, want 3 (base amount, no jitter)", gotAmounts[0])
	}
}

func TestSession_InitBalanceOncePerSession(t *testing.T) {
	var mu sync.Mutex
	initCalls := 0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/init" {
			mu.Lock()
			initCalls++
			mu.Unlock()
			if r.URL.Query().Get("balance") != "500" {
				t.Errorf("init balance = %q, want 500", r.URL.Query().Get("balance"))
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "ok"}`))
	}))
	defer server.Close()

	profile := testProfile(server.URL)
	profile.InitBalance = "500"

	engine := metrics.NewEngine()
	sess := newTestSession(t, profile, engine)

	for i := 0; i < 5; i++ {
		if err := sess.RunIteration(context.Background()); err != nil {
			t.Fatalf("RunIteration() error = %v", err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if initCalls != 1 {
		t.Errorf("init called %d times, want 1", initCalls)
	}
	if sess.Iteration() != 5 {
		t.Errorf("Iteration() = %d, want 5", sess.Iteration())
	}
}

func TestSession_NoInitWithoutBalance(t *testing.T) {
	var mu sync.Mutex
	initCalls := 0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/init" {
			mu.Lock()
			initCalls++
			mu.Unlock()
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "ok"}`))
	}))
	defer server.Close()

	engine := metrics.NewEngine()
	sess := newTestSession(t, testProfile(server.URL), engine)

	if err := sess.RunIteration(context.Background()); err != nil {
		t.Fatalf("RunIteration() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if initCalls != 0 {
		t.Errorf("init called %d times, want 0", initCalls)
	}
}

func TestSession_WithdrawFailureRecordedWithStatusReason(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	profile := testProfile(server.URL)
	profile.Actions = []Action{
		{Name: "withdraw_watch", Path: "/withdraw_watch", Method: http.MethodPost, Weight: 1, Kind: KindWithdraw},
	}

	engine := metrics.NewEngine()
	sess := newTestSession(t, profile, engine)

	if err := sess.RunIteration(context.Background()); err != nil {
		t.Fatalf("RunIteration() error = %v", err)
	}

	snapshot := engine.GetSnapshot()
	if snapshot.FailedRequests != 1 {
		t.Fatalf("FailedRequests = %d, want 1", snapshot.FailedRequests)
	}
	if len(snapshot.Actions) != 1 {
		t.Fatalf("got %d actions, want 1", len(snapshot.Actions))
	}
	if got := snapshot.Actions[0].FailureReasons["HTTP 500"]; got != 1 {
		t.Errorf("FailureReasons[HTTP 500] = %d, want 1", got)
	}
}

func TestSession_Withdraw200AlwaysSuccess(t *testing.T) {
	// A 200 with a business-failure body must still classify as success.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "insufficient_funds"}`))
	}))
	defer server.Close()

	profile := testProfile(server.URL)
	profile.Actions = []Action{
		{Name: "withdraw_lock_lua", Path: "/withdraw_lock_lua", Method: http.MethodPost, Weight: 1, Kind: KindWithdraw},
	}

	engine := metrics.NewEngine()
	sess := newTestSession(t, profile, engine)

	for i := 0; i < 3; i++ {
		if err := sess.RunIteration(context.Background()); err != nil {
			t.Fatalf("RunIteration() error = %v", err)
		}
	}

	snapshot := engine.GetSnapshot()
	if snapshot.FailedRequests != 0 {
		t.Errorf("FailedRequests = %d, want 0", snapshot.FailedRequests)
	}
	if snapshot.SuccessRequests != 3 {
		t.Errorf("SuccessRequests = %d, want 3", snapshot.SuccessRequests)
	}

	// The body status is still tallied as instrumentation.
	tally := sess.BodyStatusTally()
	if tally["insufficient_funds"] != 3 {
		t.Errorf("BodyStatusTally()[insufficient_funds] = %d, want 3", tally["insufficient_funds"])
	}
}

func TestSession_BalanceNotFoundIsSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error": "user not found"}`))
	}))
	defer server.Close()

	profile := testProfile(server.URL)
	profile.Actions = []Action{
		{Name: "balance", Path: "/balance", Method: http.MethodGet, Weight: 1, Kind: KindBalance},
	}

	engine := metrics.NewEngine()
	sess := newTestSession(t, profile, engine)

	if err := sess.RunIteration(context.Background()); err != nil {
		t.Fatalf("RunIteration() error = %v", err)
	}

	snapshot := engine.GetSnapshot()
	if snapshot.SuccessRequests != 1 {
		t.Errorf("SuccessRequests = %d, want 1", snapshot.SuccessRequests)
	}
	if snapshot.FailedRequests != 0 {
		t.Errorf("FailedRequests = %d, want 0", snapshot.FailedRequests)
	}
}

func TestSession_EveryRequestRecordedOnce(t *testing.T) {
	var mu sync.Mutex
	serverRequests := 0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		serverRequests++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "ok"}`))
	}))
	defer server.Close()

	engine := metrics.NewEngine()
	sess := newTestSession(t, testProfile(server.URL), engine)

	const iterations = 50
	for i := 0; i < iterations; i++ {
		if err := sess.RunIteration(context.Background()); err != nil {
			t.Fatalf("RunIteration() error = %v", err)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	snapshot := engine.GetSnapshot()
	if snapshot.TotalRequests != int64(serverRequests) {
		t.Errorf("TotalRequests = %d, server saw %d", snapshot.TotalRequests, serverRequests)
	}
	if snapshot.TotalRequests != iterations {
		t.Errorf("TotalRequests = %d, want %d (one request per iteration)", snapshot.TotalRequests, iterations)
	}
}

func TestSession_StopLifecycle(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	engine := metrics.NewEngine()
	sess := newTestSession(t, testProfile(server.URL), engine)

	if sess.State() != SessionIdle {
		t.Errorf("initial state = %v, want idle", sess.State())
	}

	sess.RequestStop()
	if sess.State() != SessionStopping {
		t.Errorf("state after RequestStop = %v, want stopping", sess.State())
	}

	if err := sess.RunIteration(context.Background()); err == nil {
		t.Error("RunIteration() on a stopping session should fail")
	}

	sess.MarkStopped()
	if sess.State() != SessionStopped {
		t.Errorf("state after MarkStopped = %v, want stopped", sess.State())
	}
	if !sess.WaitForStop(time.Second) {
		t.Error("WaitForStop() should return true after MarkStopped")
	}
}

func TestSession_StopDuringIteration(t *testing.T) {
	requestStarted := make(chan struct{})
	release := make(chan struct{})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(requestStarted)
		<-release
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "ok"}`))
	}))
	defer server.Close()

	engine := metrics.NewEngine()
	sess := newTestSession(t, testProfile(server.URL), engine)

	done := make(chan error, 1)
	go func() { done <- sess.RunIteration(context.Background()) }()

	// Stop while the request is in flight, then let it finish.
	<-requestStarted
	sess.RequestStop()
	close(release)

	if err := <-done; err != nil {
		t.Fatalf("RunIteration() error = %v", err)
	}

	// The completed iteration must not clobber the stop request.
	if sess.State() != SessionStopping {
		t.Fatalf("state after iteration = %v, want stopping", sess.State())
	}

	// A second stop request must be a no-op.
	sess.RequestStop()
	if sess.State() != SessionStopping {
		t.Errorf("state after second RequestStop = %v, want stopping", sess.State())
	}

	if err := sess.RunIteration(context.Background()); err == nil {
		t.Error("RunIteration() on a stopping session should fail")
	}
}

func TestProfile_Validate(t *testing.T) {
	valid := DefaultProfile("http://localhost:8080")
	if err := valid.Validate(); err != nil {
		t.Errorf("Validate() on default profile error = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Profile)
	}{
		{"missing base URL", func(p *Profile) { p.BaseURL = "" }},
		{"missing user ID", func(p *Profile) { p.UserID = "" }},
		{"zero amount", func(p *Profile) { p.WithdrawAmount = 0 }},
		{"negative jitter", func(p *Profile) { p.AmountJitter = -1 }},
		{"inverted think time", func(p *Profile) { p.ThinkTimeMin = time.Second; p.ThinkTimeMax = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultProfile("http://localhost:8080")
			tt.mutate(p)
			if err := p.Validate(); err == nil {
				t.Errorf("Validate() should fail for %s", tt.name)
			}
		})
	}
}
