package cron_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	ctxengine "github.com/flemzord/chatmem/internal/context"
	"github.com/flemzord/chatmem/internal/cron"
	"github.com/flemzord/chatmem/internal/cron/crontest"
	"github.com/flemzord/chatmem/internal/memory"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRetentionSweepJob_Schedule(t *testing.T) {
	t.Parallel()

	j := &cron.RetentionSweepJob{}
	if j.Name() != "retention_sweep" {
		t.Errorf("Name = %q", j.Name())
	}
	if j.Schedule() != cron.DefaultSweepSchedule {
		t.Errorf("default schedule = %q", j.Schedule())
	}
	j.ScheduleExpr = "*/1 * * * *"
	if j.Schedule() != "*/1 * * * *" {
		t.Errorf("custom schedule = %q", j.Schedule())
	}
}

func TestRetentionSweepJob_Run(t *testing.T) {
	t.Parallel()

	store := &crontest.MockCompactor{Result: ctxengine.Result{
		Compressed: true,
		Summary:    memory.Summary{StartMessageID: 1, EndMessageID: 11},
	}}
	j := &cron.RetentionSweepJob{Store: store, Logger: quietLogger()}

	if err := j.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if store.Calls() != 1 {
		t.Errorf("Compact calls = %d, want 1", store.Calls())
	}
}

func TestRetentionSweepJob_PropagatesFailure(t *testing.T) {
	t.Parallel()

	store := &crontest.MockCompactor{Err: memory.ErrSummarizationFailed}
	j := &cron.RetentionSweepJob{Store: store, Logger: quietLogger()}

	if err := j.Run(context.Background()); !errors.Is(err, memory.ErrSummarizationFailed) {
		t.Errorf("err = %v, want ErrSummarizationFailed", err)
	}
}

func TestRetentionSweepJob_CancelledContext(t *testing.T) {
	t.Parallel()

	store := &crontest.MockCompactor{}
	j := &cron.RetentionSweepJob{Store: store, Logger: quietLogger()}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := j.Run(ctx); err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if store.Calls() != 0 {
		t.Errorf("Compact called %d times after cancel", store.Calls())
	}
}

func TestCheckpointJob(t *testing.T) {
	t.Parallel()

	cp := &crontest.MockCheckpointer{}
	j := &cron.CheckpointJob{Backend: cp, Logger: quietLogger()}
	if j.Name() != "wal_checkpoint" || j.Schedule() != cron.DefaultCheckpointSchedule {
		t.Errorf("job = %s @ %s", j.Name(), j.Schedule())
	}
	if err := j.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	cp.Err = errors.New("locked")
	if err := j.Run(context.Background()); err == nil {
		t.Error("expected checkpoint error")
	}
	if cp.Calls() != 2 {
		t.Errorf("calls = %d, want 2", cp.Calls())
	}
}

func TestScheduler_RunsRegisteredMockJob(t *testing.T) {
	t.Parallel()

	job := &crontest.MockJob{NameVal: "mock", ScheduleVal: "0 0 1 1 *"}
	s := cron.NewScheduler(quietLogger())
	if err := s.RegisterJob(job); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = s.Stop(context.Background()) }()

	s.RunNow("mock")
	if job.CallCount() != 1 {
		t.Errorf("calls = %d, want 1", job.CallCount())
	}
}
