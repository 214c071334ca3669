package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShaharShokrani/RedisOptimisticLockingDemo/internal/loadtest/config"
	"github.com/ShaharShokrani/RedisOptimisticLockingDemo/internal/loadtest/engine"
	"github.com/ShaharShokrani/RedisOptimisticLockingDemo/internal/loadtest/output"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the withdrawal benchmark",
	Long: `Execute the benchmark against a withdrawal service.

Config file mode:
  rediscompare run --config bench.yaml

Quick CLI mode:
  rediscompare run --base-url http://localhost:8080 --vus 50 --duration 2m

Ramping mode:
  rediscompare run --base-url http://localhost:8080 \
    --executor ramping-vus \
    --stages "30s:10,2m:50,30s:0"

Arrival rate mode:
  rediscompare run --base-url http://localhost:8080 \
    --executor constant-arrival-rate \
    --rate 100 --duration 5m --pre-allocated-vus 200

The USER_ID, WITHDRAW_AMOUNT, AMOUNT_JITTER, INIT_BALANCE, and
BASE_URL environment variables override the corresponding config
values.`,
	RunE: runBenchmark,
}

func init() {
	runCmd.Flags().StringP("config", "c", "", "YAML configuration file")
	runCmd.Flags().String("base-url", "", "base URL of the withdrawal service")
	runCmd.Flags().String("executor", "", "executor type (constant-vus, ramping-vus, constant-arrival-rate)")
	runCmd.Flags().Int("vus", 0, "number of virtual user sessions")
	runCmd.Flags().String("duration", "", "run duration (e.g. 30s, 2m)")
	runCmd.Flags().String("stages", "", "ramping stages as duration:target pairs (e.g. \"30s:10,2m:50,30s:0\")")
	runCmd.Flags().Float64("rate", 0, "iteration starts per second (constant-arrival-rate)")
	runCmd.Flags().Int("pre-allocated-vus", 0, "session pool size (constant-arrival-rate)")
	runCmd.Flags().StringP("output", "o", "", "write the result as JSON to a file")
	runCmd.Flags().Bool("json", false, "print the result as JSON to stdout")
	runCmd.Flags().BoolP("quiet", "q", false, "suppress progress output, print only pass/fail")
	runCmd.Flags().Bool("no-color", false, "disable colored output")
}

func runBenchmark(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	outputPath, _ := cmd.Flags().GetString("output")
	jsonOutput, _ := cmd.Flags().GetBool("json")
	quiet, _ := cmd.Flags().GetBool("quiet")
	noColor, _ := cmd.Flags().GetBool("no-color")

	cfg, err := buildConfig(cmd, configFile)
	if err != nil {
		return err
	}

	eng, err := engine.New(cfg)
	if err != nil {
		return err
	}

	consoleOutput := output.NewConsoleOutput(output.ConsoleOutputConfig{
		RunName:  cfg.Name,
		Executor: cfg.Load.Executor,
		Quiet:    quiet || jsonOutput,
		NoColor:  noColor,
	})

	consoleOutput.PrintHeader()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var wg sync.WaitGroup
	var result *engine.Result
	var runErr error

	wg.Add(1)
	go func() {
		defer wg.Done()
		result, runErr = eng.Run(ctx)
	}()

	totalDuration := time.Duration(cfg.Load.Duration)
	if cfg.Load.Executor == "ramping-vus" {
		totalDuration = 0
		for _, stage := range cfg.Load.Stages {
			totalDuration += time.Duration(stage.Duration)
		}
	}
	targetSessions := targetSessionCount(cfg)

	updateTicker := time.NewTicker(time.Second)
	defer updateTicker.Stop()

progressLoop:
	for {
		select {
		case <-updateTicker.C:
			if !eng.IsRunning() {
				break progressLoop
			}
			stats := output.StatsFromSnapshot(eng.GetMetrics(), eng.GetProgress(), totalDuration, targetSessions)
			if consoleOutput.IsTTY() {
				consoleOutput.Update(stats)
			} else {
				consoleOutput.PrintNonInteractiveUpdate(stats)
			}
		case <-ctx.Done():
			break progressLoop
		}
	}

	wg.Wait()

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "Error running benchmark: %v\n", runErr)
		// Still report whatever was collected.
	}
	if result == nil {
		return fmt.Errorf("benchmark produced no result")
	}

	if jsonOutput {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
		fmt.Println(string(data))
	} else {
		consoleOutput.PrintSummary(result)
	}

	if outputPath != "" {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
		if err := os.WriteFile(outputPath, data, 0o644); err != nil {
			return fmt.Errorf("failed to write result file: %w", err)
		}
		if !quiet && !jsonOutput {
			fmt.Printf("Result written to %s\n", outputPath)
		}
	}

	if !result.Passed {
		// Thresholds failed: nonzero exit without cobra usage noise.
		cmd.SilenceUsage = true
		cmd.SilenceErrors = true
		return fmt.Errorf("thresholds not met")
	}
	return runErr
}

// buildConfig assembles the run configuration from defaults, the
// optional config file, environment variables, and flags, in that
// order of increasing precedence.
func buildConfig(cmd *cobra.Command, configFile string) (*config.Config, error) {
	var cfg *config.Config
	var err error

	if configFile != "" {
		cfg, err = config.LoadFile(configFile)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.Default()
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	if v, _ := cmd.Flags().GetString("base-url"); v != "" {
		cfg.BaseURL = v
	}
	if v, _ := cmd.Flags().GetString("executor"); v != "" {
		cfg.Load.Executor = v
	}
	if v, _ := cmd.Flags().GetInt("vus"); v > 0 {
		cfg.Load.VUs = v
	}
	if v, _ := cmd.Flags().GetString("duration"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid --duration: %w", err)
		}
		cfg.Load.Duration = config.Duration(d)
	}
	if v, _ := cmd.Flags().GetString("stages"); v != "" {
		stages, err := parseStages(v)
		if err != nil {
			return nil, err
		}
		cfg.Load.Stages = stages
		if cfg.Load.Executor == "" || cfg.Load.Executor == "constant-vus" {
			cfg.Load.Executor = "ramping-vus"
		}
	}
	if v, _ := cmd.Flags().GetFloat64("rate"); v > 0 {
		cfg.Load.Rate = v
		if cfg.Load.Executor == "" || cfg.Load.Executor == "constant-vus" {
			cfg.Load.Executor = "constant-arrival-rate"
		}
	}
	if v, _ := cmd.Flags().GetInt("pre-allocated-vus"); v > 0 {
		cfg.Load.PreAllocatedVUs = v
	}

	return cfg, nil
}

// parseStages parses a stages flag like "30s:10,2m:50,30s:0".
func parseStages(s string) ([]config.StageConfig, error) {
	var stages []config.StageConfig
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		fields := strings.SplitN(part, ":", 2)
		if len(fields) != 2 {
			return nil, fmt.Errorf("invalid stage %q: expected duration:target", part)
		}

		d, err := time.ParseDuration(strings.TrimSpace(fields[0]))
		if err != nil {
			return nil, fmt.Errorf("invalid stage duration %q: %w", fields[0], err)
		}
		target, err := strconv.Atoi(strings.TrimSpace(fields[1]))
		if err != nil || target < 0 {
			return nil, fmt.Errorf("invalid stage target %q", fields[1])
		}

		stages = append(stages, config.StageConfig{
			Duration: config.Duration(d),
			Target:   target,
		})
	}
	if len(stages) == 0 {
		return nil, fmt.Errorf("no stages in %q", s)
	}
	return stages, nil
}

// targetSessionCount returns the configured peak session count for the
// live display.
func targetSessionCount(cfg *config.Config) int {
	switch cfg.Load.Executor {
	case "ramping-vus":
		max := 0
		for _, stage := range cfg.Load.Stages {
			if stage.Target > max {
				max = stage.Target
			}
		}
		return max
	case "constant-arrival-rate":
		return cfg.Load.PreAllocatedVUs
	default:
		return cfg.Load.VUs
	}
}
