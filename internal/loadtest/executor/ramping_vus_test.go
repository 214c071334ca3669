package executor_test

import (
	"context"
	"testing"
	"time"

	"github.com/ShaharShokrani/RedisOptimisticLockingDemo/internal/loadtest/executor"
)

func TestRampingVUs_Type(t *testing.T) {
	e := executor.NewRampingVUs()
	if e.Type() != executor.TypeRampingVUs {
		t.Errorf("Type() = %v, want %v", e.Type(), executor.TypeRampingVUs)
	}
}

func TestRampingVUs_Init_RequiresStages(t *testing.T) {
	e := executor.NewRampingVUs()

	config := &executor.Config{
		Type: executor.TypeRampingVUs,
	}

	if err := e.Init(context.Background(), config); err == nil {
		t.Fatal("Init() expected error for missing stages, got nil")
	}
}

func TestRampingVUs_Init_RejectsInvalidStage(t *testing.T) {
	e := executor.NewRampingVUs()

	config := &executor.Config{
		Type: executor.TypeRampingVUs,
		Stages: []executor.Stage{
			{Duration: 0, Target: 5},
		},
	}
	if err := e.Init(context.Background(), config); err == nil {
		t.Error("Init() expected error for zero stage duration, got nil")
	}

	config = &executor.Config{
		Type: executor.TypeRampingVUs,
		Stages: []executor.Stage{
			{Duration: time.Second, Target: -1},
		},
	}
	if err := e.Init(context.Background(), config); err == nil {
		t.Error("Init() expected error for negative target, got nil")
	}
}

func TestRampingVUs_Run(t *testing.T) {
	server := newExecutorTestServer()
	defer server.Close()

	scheduler, metricsEngine := newExecutorTestScheduler(server.URL)

	e := executor.NewRampingVUs()
	config := &executor.Config{
		Type: executor.TypeRampingVUs,
		Stages: []executor.Stage{
			{Duration: 300 * time.Millisecond, Target: 4},
			{Duration: 300 * time.Millisecond, Target: 0},
		},
	}
	if err := e.Init(context.Background(), config); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	if err := e.Run(context.Background(), scheduler, metricsEngine); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	snapshot := metricsEngine.GetSnapshot()
	if snapshot.TotalRequests == 0 {
		t.Error("no requests recorded during ramp")
	}

	stats := e.GetStats()
	if stats.TotalStages != 2 {
		t.Errorf("GetStats().TotalStages = %d, want 2", stats.TotalStages)
	}
	if stats.CurrentStage != 2 {
		t.Errorf("GetStats().CurrentStage = %d, want 2 after completion", stats.CurrentStage)
	}
	if stats.TargetSessions != 4 {
		t.Errorf("GetStats().TargetSessions = %d, want 4 (peak target)", stats.TargetSessions)
	}
	if stats.TotalDuration != 600*time.Millisecond {
		t.Errorf("GetStats().TotalDuration = %v, want 600ms", stats.TotalDuration)
	}
}

func TestRampingVUs_RunRespectsContextCancellation(t *testing.T) {
	server := newExecutorTestServer()
	defer server.Close()

	scheduler, metricsEngine := newExecutorTestScheduler(server.URL)

	e := executor.NewRampingVUs()
	config := &executor.Config{
		Type: executor.TypeRampingVUs,
		Stages: []executor.Stage{
			{Duration: 30 * time.Second, Target: 3},
		},
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
