package trigger

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/user/flowd"
	"github.com/user/flowd/internal/engine"
	"github.com/user/flowd/internal/storage"
)

// Sweeper polls for active scheduled workflows once a minute and invokes
// every workflow whose cron expression fires in that minute. One workflow's
// failure never stops the sweep.
type Sweeper struct {
	store    storage.Storage
	engine   *engine.Engine
	log      flowd.Logger
	interval time.Duration
}

func NewSweeper(store storage.Storage, eng *engine.Engine, log flowd.Logger) *Sweeper {
	if log == nil {
		log = engine.NewDefaultLogger()
	}
	return &Sweeper{store: store, engine: eng, log: log, interval: time.Minute}
}

// Run blocks, sweeping every minute until the context is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			s.Sweep(ctx, now)
		case <-ctx.Done():
			return
		}
	}
}

// Sweep runs every scheduled workflow whose expression matches the minute
// containing now.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) {
	workflows, err := s.store.ListScheduledWorkflows(ctx)
	if err != nil {
		s.log.Error("failed to list scheduled workflows", "error", err)
		return
	}

	for _, wf := range workflows {
		match, err := MatchesMinute(wf.ScheduleCron, now)
		if err != nil {
			s.log.Warn("invalid cron expression",
				"workflow_id", wf.ID, "cron", wf.ScheduleCron, "error", err)
			continue
		}
		if !match {
			continue
		}

		s.log.Info("schedule fired", "workflow_id", wf.ID, "cron", wf.ScheduleCron)
		if _, err := s.engine.ExecuteWorkflow(ctx, wf.ID, map[string]any{}, wf.UserID, storage.TriggerSchedule); err != nil {
			s.log.Error("scheduled execution failed", "workflow_id", wf.ID, "error", err)
		}
	}
}

// MatchesMinute reports whether a 5-field cron expression fires in the minute
// containing at. Day-of-week follows the standard convention: 0 (or 7) is
// Sunday.
func MatchesMinute(expr string, at time.Time) (bool, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return false, err
	}
	minute := at.Truncate(time.Minute)
	return sched.Next(minute.Add(-time.Second)).Equal(minute), nil
}
