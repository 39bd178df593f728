package cron

import (
	"context"
	"fmt"
	"log/slog"

	ctxengine "github.com/flemzord/chatmem/internal/context"
)

// Default schedules for the built-in jobs.
const (
	DefaultSweepSchedule      = "*/15 * * * *"
	DefaultCheckpointSchedule = "0 * * * *"
)

// Compactor is the subset of conversation.Store needed by the sweep job.
type Compactor interface {
	Compact(ctx context.Context) (ctxengine.Result, error)
}

// RetentionSweepJob re-runs the retention policy on a schedule so that a
// batch left behind by a failed summarization is retried even when no new
// messages arrive.
type RetentionSweepJob struct {
	Store        Compactor
	Logger       *slog.Logger
	ScheduleExpr string // empty = DefaultSweepSchedule
}

// Compile-time interface check.
var _ Job = (*RetentionSweepJob)(nil)

// Name implements Job.
func (j *RetentionSweepJob) Name() string { return "retention_sweep" }

// Schedule implements Job.
func (j *RetentionSweepJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return DefaultSweepSchedule
}

// Run performs one retention evaluation.
func (j *RetentionSweepJob) Run(ctx context.Context) error {
	if ctx.Err() != nil {
		return fmt.Errorf("cron: retention sweep cancelled: %w", ctx.Err())
	}
	res, err := j.Store.Compact(ctx)
	if err != nil {
		return fmt.Errorf("cron: retention sweep: %w", err)
	}
	if res.Compressed {
		j.Logger.Info("cron: retention sweep compressed history",
			"start", res.Summary.StartMessageID,
			"end", res.Summary.EndMessageID,
			"pruned", res.Pruned,
		)
	}
	return nil
}

// Checkpointer is implemented by backends with a write-ahead log.
type Checkpointer interface {
	Checkpoint(ctx context.Context) error
}

// CheckpointJob folds the SQLite WAL back into the main database file.
type CheckpointJob struct {
	Backend      Checkpointer
	Logger       *slog.Logger
	ScheduleExpr string // empty = DefaultCheckpointSchedule
}

// Compile-time interface check.
var _ Job = (*CheckpointJob)(nil)

// Name implements Job.
func (j *CheckpointJob) Name() string { return "wal_checkpoint" }

// Schedule implements Job.
func (j *CheckpointJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return DefaultCheckpointSchedule
}

// Run checkpoints the WAL.
func (j *CheckpointJob) Run(ctx context.Context) error {
	if err := j.Backend.Checkpoint(ctx); err != nil {
		return fmt.Errorf("cron: wal checkpoint: %w", err)
	}
	j.Logger.Debug("cron: wal checkpoint done")
	return nil
}
