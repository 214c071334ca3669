package executor_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ShaharShokrani/RedisOptimisticLockingDemo/internal/loadtest"
	"github.com/ShaharShokrani/RedisOptimisticLockingDemo/internal/loadtest/executor"
	"github.com/ShaharShokrani/RedisOptimisticLockingDemo/internal/loadtest/metrics"
)

// newExecutorTestServer creates a test HTTP server answering every
// endpoint with a successful withdrawal body.
func newExecutorTestServer() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "ok"}`))
	}))
}

// newExecutorTestScheduler creates a scheduler with zero think time so
// tests finish quickly.
func newExecutorTestScheduler(baseURL string) (*loadtest.SessionScheduler, *metrics.Engine) {
	profile := loadtest.DefaultProfile(baseURL)
	profile.ThinkTimeMin = 0
	profile.ThinkTimeMax = time.Millisecond
	engine := metrics.NewEngine()
	return loadtest.NewSessionScheduler(profile, engine, loadtest.DefaultHTTPClientConfig()), engine
}

func TestNewConstantVUs(t *testing.T) {
	e := executor.NewConstantVUs()
	if e == nil {
		t.Fatal("NewConstantVUs() returned nil")
	}
}

func TestConstantVUs_Type(t *testing.T) {
	e := executor.NewConstantVUs()
	if e.Type() != executor.TypeConstantVUs {
		t.Errorf("Type() = %v, want %v", e.Type(), executor.TypeConstantVUs)
	}
}

func TestConstantVUs_Init_ValidConfig(t *testing.T) {
	e := executor.NewConstantVUs()

	config := &executor.Config{
		Type:     executor.TypeConstantVUs,
		VUs:      10,
		Duration: 1 * time.Minute,
	}

	if err := e.Init(context.Background(), config); err != nil {
		t.Fatalf("Init() error = %v, want nil", err)
	}
}

func TestConstantVUs_Init_InvalidType(t *testing.T) {
	e := executor.NewConstantVUs()

	config := &executor.Config{
		Type:     executor.TypeRampingVUs,
		VUs:      10,
		Duration: 1 * time.Minute,
	}

	if err := e.Init(context.Background(), config); err == nil {
		t.Fatal("Init() expected error for wrong type, got nil")
	}
}

func TestConstantVUs_Init_InvalidVUs(t *testing.T) {
	for _, vus := range []int{0, -5} {
		e := executor.NewConstantVUs()
		config := &executor.Config{
			Type:     executor.TypeConstantVUs,
			VUs:      vus,
			Duration: 1 * time.Minute,
		}
		if err := e.Init(context.Background(), config); err == nil {
			t.Errorf("Init() with vus=%d expected error, got nil", vus)
		}
	}
}

func TestConstantVUs_Init_MissingDuration(t *testing.T) {
	e := executor.NewConstantVUs()

	config := &executor.Config{
		Type: executor.TypeConstantVUs,
		VUs:  10,
	}

	if err := e.Init(context.Background(), config); err == nil {
		t.Fatal("Init() expected error for zero duration, got nil")
	}
}

func TestConstantVUs_Run(t *testing.T) {
	server := newExecutorTestServer()
	defer server.Close()

	scheduler, metricsEngine := newExecutorTestScheduler(server.URL)

	e := executor.NewConstantVUs()
	config := &executor.Config{
		Type:     executor.TypeConstantVUs,
		VUs:      5,
		Duration: 500 * time.Millisecond,
	}
	if err := e.Init(context.Background(), config); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	start := time.Now()
	if err := e.Run(context.Background(), scheduler, metricsEngine); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	elapsed := time.Since(start)

	if elapsed < 400*time.Millisecond {
		t.Errorf("Run() returned after %v, want at least ~500ms", elapsed)
	}
	if elapsed > 3*time.Second {
		t.Errorf("Run() took %v, too long for a 500ms test", elapsed)
	}

	snapshot := metricsEngine.GetSnapshot()
	if snapshot.TotalRequests == 0 {
		t.Error("no requests recorded")
	}

	stats := e.GetStats()
	if stats.Iterations == 0 {
		t.Error("GetStats().Iterations = 0, want > 0")
	}
	if stats.TargetSessions != 5 {
		t.Errorf("GetStats().TargetSessions = %d, want 5", stats.TargetSessions)
	}
	if e.GetActiveSessions() != 0 {
		t.Errorf("GetActiveSessions() after Run = %d, want 0", e.GetActiveSessions())
	}
}

func TestConstantVUs_RunRespectsContextCancellation(t *testing.T) {
	server := newExecutorTestServer()
	defer server.Close()

	scheduler, metricsEngine := newExecutorTestScheduler(server.URL)

	e := executor.NewConstantVUs()
	config := &executor.Config{
		Type:     executor.TypeConstantVUs,
		VUs:      3,
		Duration: 30 * time.Second,
	}
	if err := e.Init(context.Background(), config); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(300 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	if err := e.Run(ctx, scheduler, metricsEngine); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Run() took %v after cancellation, want prompt return", elapsed)
	}
}

func TestConstantVUs_Progress(t *testing.T) {
	e := executor.NewConstantVUs()

	if got := e.GetProgress(); got != 0.0 {
		t.Errorf("GetProgress() before Run = %f, want 0.0", got)
	}

	server := newExecutorTestServer()
	defer server.Close()

	scheduler, metricsEngine := newExecutorTestScheduler(server.URL)
	config := &executor.Config{
		Type:     executor.TypeConstantVUs,
		VUs:      2,
		Duration: 300 * time.Millisecond,
	}
	if err := e.Init(context.Background(), config); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := e.Run(context.Background(), scheduler, metricsEngine); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := e.GetProgress(); got != 1.0 {
		t.Errorf("GetProgress() after Run = %f, want 1.0", got)
	}
}
