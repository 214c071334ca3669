// Package engine orchestrates a benchmark run: it wires the session
// scheduler, the chosen executor, and the metrics engine together and
// turns the outcome into a Result.
package engine

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ShaharShokrani/RedisOptimisticLockingDemo/internal/loadtest"
	"github.com/ShaharShokrani/RedisOptimisticLockingDemo/internal/loadtest/config"
	"github.com/ShaharShokrani/RedisOptimisticLockingDemo/internal/loadtest/executor"
	"github.com/ShaharShokrani/RedisOptimisticLockingDemo/internal/loadtest/metrics"
)

// Engine runs one benchmark from configuration to Result.
type Engine struct {
	config  *config.Config
	profile *loadtest.Profile

	metricsEngine *metrics.Engine
	scheduler     *loadtest.SessionScheduler
	exec          executor.Executor
	execType      executor.Type

	mu      sync.RWMutex
	running bool

	startTime time.Time
}

// Result contains the complete outcome of a benchmark run.
type Result struct {
	Name      string        `json:"name"`
	StartTime time.Time     `json:"startTime"`
	EndTime   time.Time     `json:"endTime"`
	Duration  time.Duration `json:"duration"`

	Executor   string `json:"executor"`
	Iterations int64  `json:"iterations"`

	Metrics *metrics.Snapshot `json:"metrics"`

	Passed     bool              `json:"passed"`
	Thresholds []ThresholdResult `json:"thresholds,omitempty"`
}

// ThresholdResult contains the result of one threshold evaluation.
type ThresholdResult struct {
	Metric     string `json:"metric"`
	Expression string `json:"expression"`
	Passed     bool   `json:"passed"`
	Value      string `json:"value"`
	Message    string `json:"message,omitempty"`
}

// New creates an engine for the given configuration.
func New(cfg *config.Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	profile := &loadtest.Profile{
		BaseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		UserID:         cfg.Workload.UserID,
		WithdrawAmount: cfg.Workload.WithdrawAmount,
		AmountJitter:   cfg.Workload.AmountJitter,
		InitBalance:    cfg.Workload.InitBalance,
		ThinkTimeMin:   time.Duration(cfg.Workload.ThinkTimeMin),
		ThinkTimeMax:   time.Duration(cfg.Workload.ThinkTimeMax),
		Actions:        loadtest.DefaultActions(),
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}

	execType, err := executor.ParseType(cfg.Load.Executor)
	if err != nil {
		return nil, err
	}
	exec, err := executor.New(execType)
	if err != nil {
		return nil, err
	}

	return &Engine{
		config:   cfg,
		profile:  profile,
		exec:     exec,
		execType: execType,
	}, nil
}

// Run executes the benchmark and returns the Result. The context can
// be used for cancellation; sessions stop gracefully between
// iterations.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, fmt.Errorf("engine is already running")
	}
	e.running = true
	e.startTime = time.Now()
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	e.metricsEngine = metrics.NewEngine()

	httpConfig := loadtest.DefaultHTTPClientConfig()
	httpConfig.Timeout = e.config.HTTP.Timeout.GetDuration(httpConfig.Timeout)
	if e.config.HTTP.MaxIdleConnsPerHost > 0 {
		httpConfig.MaxIdleConnsPerHost = e.config.HTTP.MaxIdleConnsPerHost
	}
	if e.config.HTTP.MaxConnsPerHost > 0 {
		httpConfig.MaxConnsPerHost = e.config.HTTP.MaxConnsPerHost
	}
	httpConfig.DisableKeepAlives = e.config.HTTP.DisableKeepAlives

	e.scheduler = loadtest.NewSessionScheduler(e.profile, e.metricsEngine, httpConfig)

	execConfig := e.executorConfig()
	if err := e.exec.Init(ctx, execConfig); err != nil {
		return nil, fmt.Errorf("failed to initialize executor: %w", err)
	}

	runErr := e.exec.Run(ctx, e.scheduler, e.metricsEngine)

	e.scheduler.Shutdown(execConfig.GracefulStop)

	snapshot := e.metricsEngine.GetSnapshot()
	thresholdResults := e.evaluateThresholds(snapshot)
	passed := true
	for _, tr := range thresholdResults {
		if !tr.Passed {
			passed = false
			break
		}
	}

	result := &Result{
		Name:       e.config.Name,
		StartTime:  e.startTime,
		EndTime:    time.Now(),
		Duration:   time.Since(e.startTime),
		Executor:   string(e.exec.Type()),
		Iterations: e.scheduler.TotalIterations(),
		Metrics:    snapshot,
		Passed:     passed,
		Thresholds: thresholdResults,
	}

	return result, runErr
}

// executorConfig converts the load config into an executor config.
func (e *Engine) executorConfig() *executor.Config {
	load := e.config.Load

	cfg := &executor.Config{
		Type:            e.execType,
		VUs:             load.VUs,
		Duration:        time.Duration(load.Duration),
		Rate:            load.Rate,
		PreAllocatedVUs: load.PreAllocatedVUs,
		GracefulStop:    load.GracefulStop.GetDuration(30 * time.Second),
	}

	for _, stage := range load.Stages {
		cfg.Stages = append(cfg.Stages, executor.Stage{
			Duration: time.Duration(stage.Duration),
			Target:   stage.Target,
		})
	}

	return cfg
}

// Stop gracefully stops a running benchmark.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.RLock()
	running := e.running
	e.mu.RUnlock()
	if !running {
		return nil
	}
	return e.exec.Stop(ctx)
}

// IsRunning reports whether the engine is currently running.
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// GetProgress returns the overall run progress (0.0 to 1.0).
func (e *Engine) GetProgress() float64 {
	return e.exec.GetProgress()
}

// GetMetrics returns the current metrics snapshot, or nil before Run.
func (e *Engine) GetMetrics() *metrics.Snapshot {
	if e.metricsEngine == nil {
		return nil
	}
	return e.metricsEngine.GetSnapshot()
}

// GetStats returns the executor's current statistics.
func (e *Engine) GetStats() *executor.Stats {
	return e.exec.GetStats()
}

// evaluateThresholds evaluates all configured thresholds against the
// final snapshot.
func (e *Engine) evaluateThresholds(snapshot *metrics.Snapshot) []ThresholdResult {
	if e.config.Thresholds == nil {
		return nil
	}

	var results []ThresholdResult

	for _, expr := range e.config.Thresholds.Duration {
		results = append(results, evaluateDurationThreshold(expr, snapshot))
	}
	for _, expr := range e.config.Thresholds.FailedRate {
		results = append(results, evaluateFailedRateThreshold(expr, snapshot))
	}

	return results
}

// evaluateDurationThreshold evaluates an expression like "p95 < 500ms"
// against the overall latency stats.
func evaluateDurationThreshold(expr string, snapshot *metrics.Snapshot) ThresholdResult {
	result := ThresholdResult{
		Metric:     "duration",
		Expression: expr,
	}

	metric, op, valueStr, err := parseThresholdExpression(expr)
	if err != nil {
		result.Message = fmt.Sprintf("failed to parse expression: %v", err)
		return result
	}

	var actual time.Duration
	switch metric {
	case "min":
		actual = snapshot.Latency.Min
	case "max":
		actual = snapshot.Latency.Max
	case "avg", "mean", "med":
		actual = snapshot.Latency.Mean
	case "p50":
		actual = snapshot.Latency.P50
	case "p90":
		actual = snapshot.Latency.P90
	case "p95":
		actual = snapshot.Latency.P95
	case "p99":
		actual = snapshot.Latency.P99
	default:
		result.Message = fmt.Sprintf("unknown metric: %s", metric)
		return result
	}

	threshold, err := time.ParseDuration(valueStr)
	if err != nil {
		result.Message = fmt.Sprintf("failed to parse threshold value: %v", err)
		return result
	}

	result.Value = actual.String()
	result.Passed = compareValues(float64(actual), op, float64(threshold))
	if !result.Passed {
		result.Message = fmt.Sprintf("%s is %s, threshold: %s %s", metric, actual, op, threshold)
	}

	return result
}

// evaluateFailedRateThreshold evaluates an expression like
// "rate < 0.01" against the overall failure rate.
func evaluateFailedRateThreshold(expr string, snapshot *metrics.Snapshot) ThresholdResult {
	result := ThresholdResult{
		Metric:     "failedRate",
		Expression: expr,
	}

	metric, op, valueStr, err := parseThresholdExpression(expr)
	if err != nil {
		result.Message = fmt.Sprintf("failed to parse expression: %v", err)
		return result
	}

	if metric != "rate" {
		result.Message = fmt.Sprintf("failedRate only supports 'rate' metric, got: %s", metric)
		return result
	}

	threshold, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		result.Message = fmt.Sprintf("failed to parse threshold value: %v", err)
		return result
	}

	result.Value = fmt.Sprintf("%.4f", snapshot.ErrorRate)
	result.Passed = compareValues(snapshot.ErrorRate, op, threshold)
	if !result.Passed {
		result.Message = fmt.Sprintf("failure rate is %.4f, threshold: %s %.4f", snapshot.ErrorRate, op, threshold)
	}

	return result
}

var thresholdExprRe = regexp.MustCompile(`^(\w+)\s*([<>=!]+)\s*(.+)$`)

// parseThresholdExpression parses an expression like "p95 < 500ms".
func parseThresholdExpression(expr string) (metric, op, value string, err error) {
	expr = strings.TrimSpace(expr)

	matches := thresholdExprRe.FindStringSubmatch(expr)
	if len(matches) != 4 {
		return "", "", "", fmt.Errorf("invalid expression format: %s", expr)
	}

	return matches[1], matches[2], strings.TrimSpace(matches[3]), nil
}

// compareValues compares two values using the given operator.
func compareValues(actual float64, op string, threshold float64) bool {
	switch op {
	case "<":
		return actual < threshold
	case "<=":
		return actual <= threshold
	case ">":
		return actual > threshold
	case ">=":
		return actual >= threshold
	case "==", "=":
		return actual == threshold
	case "!=", "<>":
		return actual != threshold
	default:
		return false
	}
}
