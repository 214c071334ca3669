package metrics_test

import (
	"sync"
	"testing"
	"time"

	"github.com/ShaharShokrani/RedisOptimisticLockingDemo/internal/loadtest/metrics"
)

func TestEngine_RecordCounts(t *testing.T) {
	engine := metrics.NewEngine()

	engine.Record("withdraw_watch", 10*time.Millisecond, true, "")
	engine.Record("withdraw_watch", 20*time.Millisecond, false, "HTTP 500")
	engine.Record("balance", 5*time.Millisecond, true, "")

	snapshot := engine.GetSnapshot()

	if snapshot.TotalRequests != 3 {
		t.Errorf("TotalRequests = %d, want 3", snapshot.TotalRequests)
	}
	if snapshot.SuccessRequests != 2 {
		t.Errorf("SuccessRequests = %d, want 2", snapshot.SuccessRequests)
	}
	if snapshot.FailedRequests != 1 {
		t.Errorf("FailedRequests = %d, want 1", snapshot.FailedRequests)
	}
	if snapshot.ErrorRate < 0.33 || snapshot.ErrorRate > 0.34 {
		t.Errorf("ErrorRate = %f, want ~0.333", snapshot.ErrorRate)
	}
}

func TestEngine_PerActionBreakdown(t *testing.T) {
	engine := metrics.NewEngine()

	engine.Record("withdraw_watch", 10*time.Millisecond, true, "")
	engine.Record("withdraw_watch", 15*time.Millisecond, false, "HTTP 409")
	engine.Record("withdraw_watch", 12*time.Millisecond, false, "HTTP 409")
	engine.Record("withdraw_lock_lua", 8*time.Millisecond, true, "")

	snapshot := engine.GetSnapshot()

	if len(snapshot.Actions) != 2 {
		t.Fatalf("got %d actions, want 2", len(snapshot.Actions))
	}

	// Actions are sorted by name.
	lua := snapshot.Actions[0]
	watch := snapshot.Actions[1]

	if lua.Name != "withdraw_lock_lua" || watch.Name != "withdraw_watch" {
		t.Fatalf("unexpected action order: %q, %q", lua.Name, watch.Name)
	}

	if watch.Count != 3 {
		t.Errorf("watch.Count = %d, want 3", watch.Count)
	}
	if watch.Failures != 2 {
		t.Errorf("watch.Failures = %d, want 2", watch.Failures)
	}
	if watch.FailureReasons["HTTP 409"] != 2 {
		t.Errorf("watch.FailureReasons[HTTP 409] = %d, want 2", watch.FailureReasons["HTTP 409"])
	}
	if got := watch.FailureRate(); got < 0.66 || got > 0.67 {
		t.Errorf("watch.FailureRate() = %f, want ~0.667", got)
	}

	if lua.Count != 1 || lua.Failures != 0 {
		t.Errorf("lua count/failures = %d/%d, want 1/0", lua.Count, lua.Failures)
	}
	if lua.FailureRate() != 0 {
		t.Errorf("lua.FailureRate() = %f, want 0", lua.FailureRate())
	}
}

func TestEngine_LatencyPercentiles(t *testing.T) {
	engine := metrics.NewEngine()

	// 100 samples, 1ms to 100ms.
	for i := 1; i <= 100; i++ {
		engine.Record("withdraw_watch", time.Duration(i)*time.Millisecond, true, "")
	}

	snapshot := engine.GetSnapshot()
	lat := snapshot.Latency

	if lat.Count != 100 {
		t.Fatalf("Latency.Count = %d, want 100", lat.Count)
	}

	// HDR histograms are approximate; allow some slack.
	checkNear := func(name string, got, want time.Duration) {
		t.Helper()
		tolerance := want / 10
		if tolerance < 2*time.Millisecond {
			tolerance = 2 * time.Millisecond
		}
		if got < want-tolerance || got > want+tolerance {
			t.Errorf("%s = %v, want about %v", name, got, want)
		}
	}

	checkNear("P50", lat.P50, 50*time.Millisecond)
	checkNear("P90", lat.P90, 90*time.Millisecond)
	checkNear("P99", lat.P99, 99*time.Millisecond)
	checkNear("Min", lat.Min, 1*time.Millisecond)
	checkNear("Max", lat.Max, 100*time.Millisecond)
}

func TestEngine_ConcurrentRecording(t *testing.T) {
	engine := metrics.NewEngine()

	var wg sync.WaitGroup
	const goroutines = 20
	const perGoroutine = 100

	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				success := i%10 != 0
				reason := ""
				if !success {
					reason = "HTTP 500"
				}
				engine.Record("withdraw_watch", time.Millisecond, success, reason)
			}
		}(g)
	}
	wg.Wait()

	snapshot := engine.GetSnapshot()
	if snapshot.TotalRequests != goroutines*perGoroutine {
		t.Errorf("TotalRequests = %d, want %d", snapshot.TotalRequests, goroutines*perGoroutine)
	}
	if snapshot.FailedRequests != goroutines*perGoroutine/10 {
		t.Errorf("FailedRequests = %d, want %d", snapshot.FailedRequests, goroutines*perGoroutine/10)
	}
}

func TestEngine_Reset(t *testing.T) {
	engine := metrics.NewEngine()

	engine.Record("withdraw_watch", time.Millisecond, true, "")
	engine.SetActiveSessions(5)
	engine.Reset()

	snapshot := engine.GetSnapshot()
	if snapshot.TotalRequests != 0 {
		t.Errorf("TotalRequests after Reset = %d, want 0", snapshot.TotalRequests)
	}
	if len(snapshot.Actions) != 0 {
		t.Errorf("Actions after Reset = %d entries, want 0", len(snapshot.Actions))
	}
	if snapshot.ActiveSessions != 0 {
		t.Errorf("ActiveSessions after Reset = %d, want 0", snapshot.ActiveSessions)
	}
}

func TestEngine_ActiveSessions(t *testing.T) {
	engine := metrics.NewEngine()

	engine.SetActiveSessions(7)
	if got := engine.GetActiveSessions(); got != 7 {
		t.Errorf("GetActiveSessions() = %d, want 7", got)
	}
}
