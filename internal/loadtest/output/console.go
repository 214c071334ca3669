// Package output renders live progress and the final summary of a
// benchmark run to the console.
package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/ShaharShokrani/RedisOptimisticLockingDemo/internal/loadtest/engine"
	"github.com/ShaharShokrani/RedisOptimisticLockingDemo/internal/loadtest/metrics"
)

// ANSI escape codes for the live display.
const (
	cursorUp  = "\033[%dA"
	clearLine = "\033[2K"

	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorRed    = "\033[31m"

	headerRule = "━"

	progressFilled = "█"
	progressEmpty  = "░"
)

// LiveStats contains real-time statistics for display.
type LiveStats struct {
	Progress  float64
	Elapsed   time.Duration
	Remaining time.Duration

	ActiveSessions int
	TargetSessions int

	CurrentRPS    float64
	TotalRequests int64
	Errors        int64
	ErrorRate     float64

	LatencyP95 time.Duration
	LatencyAvg time.Duration
}

// ConsoleOutput manages console output during a benchmark run.
type ConsoleOutput struct {
	runName   string
	executor  string
	writer    io.Writer
	isTTY     bool
	useColors bool
	quiet     bool
	scheme    *ColorScheme

	mu          sync.Mutex
	linesOutput int
}

// ConsoleOutputConfig contains configuration for ConsoleOutput.
type ConsoleOutputConfig struct {
	RunName     string
	Executor    string
	Writer      io.Writer
	Quiet       bool
	NoColor     bool
	ForceColors bool
	ForceTTY    bool
}

// NewConsoleOutput creates a new console output handler.
func NewConsoleOutput(config ConsoleOutputConfig) *ConsoleOutput {
	if config.Writer == nil {
		config.Writer = os.Stdout
	}

	isTTY := config.ForceTTY || isTerminal(config.Writer)
	useColors := !config.NoColor && (config.ForceColors || (isTTY && os.Getenv("NO_COLOR") == ""))

	scheme := DefaultColorScheme()
	if !useColors {
		scheme = NoColorScheme()
	}

	return &ConsoleOutput{
		runName:   config.RunName,
		executor:  config.Executor,
		writer:    config.Writer,
		isTTY:     isTTY,
		useColors: useColors,
		quiet:     config.Quiet,
		scheme:    scheme,
	}
}

// isTerminal checks if the writer is a terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// PrintHeader prints the run header.
func (c *ConsoleOutput) PrintHeader() {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	line := strings.Repeat(headerRule, 56)
	c.writeln(c.colorize(line, colorCyan))
	c.writeln(c.colorize(fmt.Sprintf("%s [%s]", c.runName, c.executor), colorBold))
	c.writeln(c.colorize(line, colorCyan))
	c.writeln("")
}

// Update redraws the live display with new statistics. Only useful on
// a TTY; no-op otherwise.
func (c *ConsoleOutput) Update(stats *LiveStats) {
	if c.quiet || !c.isTTY {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.linesOutput > 0 {
		c.write(fmt.Sprintf(cursorUp, c.linesOutput))
		for i := 0; i < c.linesOutput; i++ {
			c.write(clearLine)
			if i < c.linesOutput-1 {
				c.write("\n")
			}
		}
		c.write(fmt.Sprintf(cursorUp, c.linesOutput-1))
	}

	lines := c.renderLiveStats(stats)
	c.linesOutput = len(lines)

	for _, line := range lines {
		c.writeln(line)
	}
}

// renderLiveStats renders the live statistics display.
func (c *ConsoleOutput) renderLiveStats(stats *LiveStats) []string {
	var lines []string

	progressBar := c.renderProgressBar(stats.Progress, 40)
	progressPercent := fmt.Sprintf("%.0f%%", stats.Progress*100)
	timeInfo := fmt.Sprintf("%s / %s", formatDuration(stats.Elapsed), formatDuration(stats.Elapsed+stats.Remaining))

	lines = append(lines, fmt.Sprintf("Progress: %s %s | %s",
		c.colorize(progressBar, colorGreen),
		c.colorize(progressPercent, colorBold),
		c.colorize(timeInfo, colorDim)))

	errColor := colorGreen
	if stats.ErrorRate > 0.01 {
		errColor = colorYellow
	}
	if stats.ErrorRate > 0.05 {
		errColor = colorRed
	}

	lines = append(lines, fmt.Sprintf("Sessions: %s / %d | RPS: %s | Errors: %s (%s)",
		c.colorize(fmt.Sprintf("%d", stats.ActiveSessions), colorCyan),
		stats.TargetSessions,
		c.colorize(fmt.Sprintf("%.1f", stats.CurrentRPS), colorGreen),
		c.colorize(fmt.Sprintf("%d", stats.Errors), errColor),
		c.colorize(fmt.Sprintf("%.1f%%", stats.ErrorRate*100), errColor)))

	lines = append(lines, fmt.Sprintf("Latency:  p95 %s | avg %s",
		c.colorize(formatDurationShort(stats.LatencyP95), colorCyan),
		c.colorize(formatDurationShort(stats.LatencyAvg), colorCyan)))

	return lines
}

// renderProgressBar renders a progress bar.
func (c *ConsoleOutput) renderProgressBar(progress float64, width int) string {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}

	filled := int(progress * float64(width))
	empty := width - filled

	return "[" + strings.Repeat(progressFilled, filled) + strings.Repeat(progressEmpty, empty) + "]"
}

// PrintNonInteractiveUpdate prints a one-line status update. Used when
// output is not a TTY (piped to a file or CI).
func (c *ConsoleOutput) PrintNonInteractiveUpdate(stats *LiveStats) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.writeln(fmt.Sprintf("[%s] Progress: %.0f%% | Sessions: %d | Reqs: %d | RPS: %.1f | Errors: %d (%.1f%%) | P95: %s",
		formatDuration(stats.Elapsed),
		stats.Progress*100,
		stats.ActiveSessions,
		stats.TotalRequests,
		stats.CurrentRPS,
		stats.Errors,
		stats.ErrorRate*100,
		formatDurationShort(stats.LatencyP95)))
}

// PrintSummary prints the final run summary, including the per-endpoint
// breakdown that makes the lock strategies comparable.
func (c *ConsoleOutput) PrintSummary(result *engine.Result) {
	if c.quiet {
		if result.Passed {
			c.writeln(c.scheme.Good.Sprint("PASSED"))
		} else {
			c.writeln(c.scheme.Bad.Sprint("FAILED"))
		}
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Clear the live display before printing the summary.
	if c.isTTY && c.linesOutput > 0 {
		c.write(fmt.Sprintf(cursorUp, c.linesOutput))
		for i := 0; i < c.linesOutput; i++ {
			c.write(clearLine + "\n")
		}
		c.write(fmt.Sprintf(cursorUp, c.linesOutput))
		c.linesOutput = 0
	}

	line := strings.Repeat(headerRule, 56)
	status := c.scheme.Good.Sprint("Completed ✓")
	if !result.Passed {
		status = c.scheme.Bad.Sprint("Failed ✗")
	}

	c.writeln("")
	c.writeln(c.scheme.Title.Sprint(line))
	c.writeln(fmt.Sprintf("%s - %s", c.scheme.Highlight.Sprint(result.Name), status))
	c.writeln(c.scheme.Title.Sprint(line))
	c.writeln("")

	c.writeln(fmt.Sprintf("Executor:      %s", c.scheme.Value.Sprint(result.Executor)))
	c.writeln(fmt.Sprintf("Duration:      %s", c.scheme.Value.Sprint(formatDuration(result.Duration))))
	c.writeln(fmt.Sprintf("Iterations:    %s", c.scheme.Value.Sprint(formatNumber(result.Iterations))))

	m := result.Metrics
	if m != nil {
		c.writeln(fmt.Sprintf("Total Reqs:    %s", c.scheme.Value.Sprint(formatNumber(m.TotalRequests))))

		successRate := 1.0 - m.ErrorRate
		rateColor := c.scheme.Good
		if successRate < 0.99 {
			rateColor = c.scheme.Warn
		}
		if successRate < 0.95 {
			rateColor = c.scheme.Bad
		}
		c.writeln(fmt.Sprintf("Success Rate:  %s", rateColor.Sprintf("%.1f%%", successRate*100)))
		c.writeln(fmt.Sprintf("Throughput:    %s", c.scheme.Value.Sprintf("%.1f req/s", m.RPS)))
		c.writeln("")

		c.writeln(c.scheme.Highlight.Sprint("Latency Distribution:"))
		c.writeln(fmt.Sprintf("  Min:       %s", formatDurationShort(m.Latency.Min)))
		c.writeln(fmt.Sprintf("  P50:       %s", formatDurationShort(m.Latency.P50)))
		c.writeln(fmt.Sprintf("  P90:       %s", formatDurationShort(m.Latency.P90)))
		c.writeln(fmt.Sprintf("  P95:       %s", formatDurationShort(m.Latency.P95)))
		c.writeln(fmt.Sprintf("  P99:       %s", formatDurationShort(m.Latency.P99)))
		c.writeln(fmt.Sprintf("  Max:       %s", formatDurationShort(m.Latency.Max)))
		c.writeln("")

		if len(m.Actions) > 0 {
			c.printActionTable(m.Actions)
		}
	}

	if len(result.Thresholds) > 0 {
		c.writeln(c.scheme.Highlight.Sprint("Thresholds:"))
		for _, t := range result.Thresholds {
			icon := SuccessIcon(!c.useColors)
			if !t.Passed {
				icon = ErrorIcon(!c.useColors)
			}
			c.writeln(fmt.Sprintf("  %s %s (actual: %s)", icon, t.Expression, t.Value))
			if !t.Passed && t.Message != "" {
				c.writeln(fmt.Sprintf("      %s", t.Message))
			}
		}
		c.writeln("")
	}
}

// printActionTable prints the per-endpoint breakdown.
func (c *ConsoleOutput) printActionTable(actions []metrics.ActionStats) {
	c.writeln(c.scheme.Highlight.Sprint("Endpoints:"))

	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "  NAME\tREQS\tFAIL\tP50\tP95\tP99\tMAX")
	for _, a := range actions {
		fmt.Fprintf(w, "  %s\t%d\t%.1f%%\t%s\t%s\t%s\t%s\n",
			a.Name,
			a.Count,
			a.FailureRate()*100,
			formatDurationShort(a.Latency.P50),
			formatDurationShort(a.Latency.P95),
			formatDurationShort(a.Latency.P99),
			formatDurationShort(a.Latency.Max))
	}
	w.Flush()
	c.write(buf.String())

	// Failure reasons, if any, grouped under the table.
	var failing []metrics.ActionStats
	for _, a := range actions {
		if len(a.FailureReasons) > 0 {
			failing = append(failing, a)
		}
	}
	if len(failing) > 0 {
		c.writeln("")
		c.writeln(c.scheme.Highlight.Sprint("Failure Reasons:"))
		for _, a := range failing {
			reasons := make([]string, 0, len(a.FailureReasons))
			for reason, count := range a.FailureReasons {
				reasons = append(reasons, fmt.Sprintf("%s ×%d", reason, count))
			}
			sort.Strings(reasons)
			c.writeln(fmt.Sprintf("  %s: %s", a.Name, strings.Join(reasons, ", ")))
		}
	}
	c.writeln("")
}

// IsTTY returns whether the output is a terminal.
func (c *ConsoleOutput) IsTTY() bool {
	return c.isTTY
}

func (c *ConsoleOutput) write(s string) {
	fmt.Fprint(c.writer, s)
}

func (c *ConsoleOutput) writeln(s string) {
	fmt.Fprintln(c.writer, s)
}

// colorize wraps text in raw ANSI codes for the live display.
func (c *ConsoleOutput) colorize(text, color string) string {
	if !c.useColors {
		return text
	}
	return color + text + colorReset
}

// StatsFromSnapshot creates LiveStats from a metrics snapshot.
func StatsFromSnapshot(snapshot *metrics.Snapshot, progress float64, totalDuration time.Duration, targetSessions int) *LiveStats {
	if snapshot == nil {
		return &LiveStats{
			Progress:       progress,
			TargetSessions: targetSessions,
		}
	}

	elapsed := snapshot.Elapsed
	remaining := time.Duration(0)
	if progress > 0 && progress < 1 {
		remaining = time.Duration(float64(elapsed) * (1 - progress) / progress)
	} else if totalDuration > 0 {
		remaining = totalDuration - elapsed
		if remaining < 0 {
			remaining = 0
		}
	}

	return &LiveStats{
		Progress:       progress,
		Elapsed:        elapsed,
		Remaining:      remaining,
		ActiveSessions: snapshot.ActiveSessions,
		TargetSessions: targetSessions,
		CurrentRPS:     snapshot.RPS,
		TotalRequests:  snapshot.TotalRequests,
		Errors:         snapshot.FailedRequests,
		ErrorRate:      snapshot.ErrorRate,
		LatencyP95:     snapshot.Latency.P95,
		LatencyAvg:     snapshot.Latency.Mean,
	}
}

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %02ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %02dm %02ds", h, m, s)
}

// formatDurationShort formats a duration in a short format.
func formatDurationShort(d time.Duration) string {
	if d < time.Microsecond {
		return "0ms"
	}
	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
	return fmt.Sprintf("%.1fm", d.Minutes())
}

// formatNumber formats a number with thousands separators.
func formatNumber(n int64) string {
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	var result strings.Builder
	offset := len(str) % 3
	if offset > 0 {
		result.WriteString(str[:offset])
	}
	for i := offset; i < len(str); i += 3 {
		if result.Len() > 0 {
			result.WriteString(",")
		}
		result.WriteString(str[i : i+3])
	}
	return result.String()
}
