// Package metrics collects request outcomes and latency statistics for
// the load harness using HDR histograms.
package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Engine aggregates request outcomes across all sessions.
//
// Latencies go into HDR histograms (overall plus one per action name)
// so percentiles are cheap to read at any point. Counters are atomic;
// histogram updates take a mutex because hdrhistogram.RecordValue is
// not safe for concurrent use.
type Engine struct {
	// Overall latency histogram.
	// Range: 1 microsecond to 1 hour, 3 significant figures.
	latencyHist   *hdrhistogram.Histogram
	latencyHistMu sync.Mutex

	// Per-action breakdown. Each action tracks its own histogram,
	// counters, and failure-reason tally.
	actions   map[string]*actionRecorder
	actionsMu sync.RWMutex

	totalRequests   atomic.Int64
	successRequests atomic.Int64
	failedRequests  atomic.Int64

	activeSessions atomic.Int32

	startTime time.Time

	config EngineConfig
}

// EngineConfig contains histogram bounds for the metrics engine.
type EngineConfig struct {
	// HistogramMin is the minimum recordable value in microseconds.
	HistogramMin int64

	// HistogramMax is the maximum recordable value in microseconds.
	HistogramMax int64

	// HistogramSigFigs is the number of significant figures.
	HistogramSigFigs int
}

// DefaultEngineConfig returns the default configuration.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		HistogramMin:     1,
		HistogramMax:     3600000000, // 1 hour in microseconds
		HistogramSigFigs: 3,
	}
}

type actionRecorder struct {
	hist     *hdrhistogram.Histogram
	count    int64
	failures int64
	// Failure reasons as reported by classification, e.g. "HTTP 500".
	reasons map[string]int64
}

// NewEngine creates a metrics engine with default configuration.
func NewEngine() *Engine {
	return NewEngineWithConfig(DefaultEngineConfig())
}

// NewEngineWithConfig creates a metrics engine with custom histogram bounds.
func NewEngineWithConfig(config EngineConfig) *Engine {
	return &Engine{
		latencyHist: hdrhistogram.New(config.HistogramMin, config.HistogramMax, config.HistogramSigFigs),
		actions:     make(map[string]*actionRecorder),
		startTime:   time.Now(),
		config:      config,
	}
}

// Record records the outcome of a single request.
//
// Every issued request must be recorded exactly once. The action name
// is the display name of the endpoint (e.g. "withdraw_watch"); reason
// is the failure label and must be empty for successes.
func (e *Engine) Record(action string, duration time.Duration, success bool, reason string) {
	latencyMicros := duration.Microseconds()

	// Clamp to valid histogram range.
	if latencyMicros < e.config.HistogramMin {
		latencyMicros = e.config.HistogramMin
	}
	if latencyMicros > e.config.HistogramMax {
		latencyMicros = e.config.HistogramMax
	}

	e.latencyHistMu.Lock()
	_ = e.latencyHist.RecordValue(latencyMicros)
	e.latencyHistMu.Unlock()

	e.recordAction(action, latencyMicros, success, reason)

	e.totalRequests.Add(1)
	if success {
		e.successRequests.Add(1)
	} else {
		e.failedRequests.Add(1)
	}
}

func (e *Engine) recordAction(name string, latencyMicros int64, success bool, reason string) {
	e.actionsMu.Lock()
	defer e.actionsMu.Unlock()

	rec, exists := e.actions[name]
	if !exists {
		rec = &actionRecorder{
			hist:    hdrhistogram.New(e.config.HistogramMin, e.config.HistogramMax, e.config.HistogramSigFigs),
			reasons: make(map[string]int64),
		}
		e.actions[name] = rec
	}

	_ = rec.hist.RecordValue(latencyMicros)
	rec.count++
	if !success {
		rec.failures++
		if reason != "" {
			rec.reasons[reason]++
		}
	}
}

// SetActiveSessions updates the active session count.
func (e *Engine) SetActiveSessions(count int) {
	e.activeSessions.Store(int32(count))
}

// GetActiveSessions returns the current active session count.
func (e *Engine) GetActiveSessions() int {
	return int(e.activeSessions.Load())
}

// GetSnapshot returns a point-in-time view of all metrics.
func (e *Engine) GetSnapshot() *Snapshot {
	e.latencyHistMu.Lock()
	latencyStats := statsFromHistogram(e.latencyHist)
	e.latencyHistMu.Unlock()

	elapsed := time.Since(e.startTime)
	totalReqs := e.totalRequests.Load()
	failedReqs := e.failedRequests.Load()

	rps := 0.0
	if elapsed.Seconds() > 0 {
		rps = float64(totalReqs) / elapsed.Seconds()
	}

	errorRate := 0.0
	if totalReqs > 0 {
		errorRate = float64(failedReqs) / float64(totalReqs)
	}

	return &Snapshot{
		TotalRequests:   totalReqs,
		SuccessRequests: e.successRequests.Load(),
		FailedRequests:  failedReqs,
		Latency:         latencyStats,
		RPS:             rps,
		ErrorRate:       errorRate,
		ActiveSessions:  e.GetActiveSessions(),
		Actions:         e.getActionStats(),
		Elapsed:         elapsed,
		StartTime:       e.startTime,
		Timestamp:       time.Now(),
	}
}

// getActionStats returns the per-action breakdown, sorted by name.
func (e *Engine) getActionStats() []ActionStats {
	e.actionsMu.RLock()
	defer e.actionsMu.RUnlock()

	result := make([]ActionStats, 0, len(e.actions))
	for name, rec := range e.actions {
		reasons := make(map[string]int64, len(rec.reasons))
		for r, n := range rec.reasons {
			reasons[r] = n
		}
		result = append(result, ActionStats{
			Name:           name,
			Count:          rec.count,
			Failures:       rec.failures,
			FailureReasons: reasons,
			Latency:        statsFromHistogram(rec.hist),
		})
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// Reset resets all metrics to initial state.
func (e *Engine) Reset() {
	e.latencyHistMu.Lock()
	e.latencyHist.Reset()
	e.latencyHistMu.Unlock()

	e.actionsMu.Lock()
	e.actions = make(map[string]*actionRecorder)
	e.actionsMu.Unlock()

	e.totalRequests.Store(0)
	e.successRequests.Store(0)
	e.failedRequests.Store(0)
	e.activeSessions.Store(0)
	e.startTime = time.Now()
}

func statsFromHistogram(hist *hdrhistogram.Histogram) LatencyStats {
	return LatencyStats{
		Min:    time.Duration(hist.Min()) * time.Microsecond,
		Max:    time.Duration(hist.Max()) * time.Microsecond,
		Mean:   time.Duration(hist.Mean()) * time.Microsecond,
		StdDev: time.Duration(hist.StdDev()) * time.Microsecond,
		P50:    time.Duration(hist.ValueAtQuantile(50)) * time.Microsecond,
		P90:    time.Duration(hist.ValueAtQuantile(90)) * time.Microsecond,
		P95:    time.Duration(hist.ValueAtQuantile(95)) * time.Microsecond,
		P99:    time.Duration(hist.ValueAtQuantile(99)) * time.Microsecond,
		Count:  hist.TotalCount(),
	}
}

// Snapshot contains a point-in-time view of all metrics.
type Snapshot struct {
	TotalRequests   int64         `json:"totalRequests"`
	SuccessRequests int64         `json:"successRequests"`
	FailedRequests  int64         `json:"failedRequests"`
	Latency         LatencyStats  `json:"latency"`
	RPS             float64       `json:"rps"`
	ErrorRate       float64       `json:"errorRate"`
	ActiveSessions  int           `json:"activeSessions"`
	Actions         []ActionStats `json:"actions"`
	Elapsed         time.Duration `json:"elapsed"`
	StartTime       time.Time     `json:"startTime"`
	Timestamp       time.Time     `json:"timestamp"`
}

// ActionStats contains the outcome breakdown for one named action.
type ActionStats struct {
	Name           string           `json:"name"`
	Count          int64            `json:"count"`
	Failures       int64            `json:"failures"`
	FailureReasons map[string]int64 `json:"failureReasons,omitempty"`
	Latency        LatencyStats     `json:"latency"`
}

// FailureRate returns the fraction of failed requests for this action.
func (s ActionStats) FailureRate() float64 {
	if s.Count == 0 {
		return 0
	}
	return float64(s.Failures) / float64(s.Count)
}

// LatencyStats contains latency statistics.
type LatencyStats struct {
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
	Mean   time.Duration `json:"mean"`
	StdDev time.Duration `json:"stdDev"`
	P50    time.Duration `json:"p50"`
	P90    time.Duration `json:"p90"`
	P95    time.Duration `json:"p95"`
	P99    time.Duration `json:"p99"`
	Count  int64         `json:"count"`
}
