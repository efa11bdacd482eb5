package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/apimgr/weatherapi/src/config"
	"github.com/apimgr/weatherapi/src/server/metrics"
	"github.com/apimgr/weatherapi/src/utils"
)

// Task names
const (
	TaskStatsSweep     = "stats-sweep"
	TaskBlacklistPurge = "blacklist-purge"
	TaskLogRotation    = "log-rotation"
	TaskHistoryCleanup = "history-cleanup"
)

// Retention of rotated logs and task history
const (
	logRetention     = 30 * 24 * time.Hour
	historyRetention = 30 * 24 * time.Hour
)

// Sweeper removes generated chart files older than minAge
type Sweeper interface {
	Sweep(minAge time.Duration) (int, error)
}

// Purger empties the token blacklist
type Purger interface {
	PurgeAll(ctx context.Context) (int64, error)
}

// RegisterDefaultTasks adds the maintenance tasks on the configured schedules
func (s *Scheduler) RegisterDefaultTasks(cfg config.SchedulerConfig, charts Sweeper, blacklist Purger, logger *utils.Logger) error {
	tasks := []struct {
		name     string
		schedule string
		fn       TaskFunc
	}{
		{TaskStatsSweep, cfg.StatsSweep, StatsSweepTask(charts, scheduleInterval(cfg.StatsSweep), logger)},
		{TaskBlacklistPurge, cfg.BlacklistPurge, BlacklistPurgeTask(blacklist, logger)},
		{TaskLogRotation, "@daily", LogRotationTask(logger)},
		{TaskHistoryCleanup, "@weekly", s.historyCleanupTask()},
	}

	for _, t := range tasks {
		if err := s.AddTask(t.name, t.schedule, t.fn); err != nil {
			return err
		}
	}
	return nil
}

// StatsSweepTask deletes rendered charts. Files younger than minAge are
// left for the next run so a chart is not removed between render and serve.
func StatsSweepTask(charts Sweeper, minAge time.Duration, logger *utils.Logger) TaskFunc {
	return func(ctx context.Context) error {
		removed, err := charts.Sweep(minAge)
		if err != nil {
			return fmt.Errorf("stats sweep: %w", err)
		}
		if removed > 0 {
			logger.Debug("Removed %d chart files", removed)
		}
		return nil
	}
}

// BlacklistPurgeTask clears the blacklist. Purged tokens that have not yet
// expired become usable again until their own expiry.
func BlacklistPurgeTask(store Purger, logger *utils.Logger) TaskFunc {
	return func(ctx context.Context) error {
		purged, err := store.PurgeAll(ctx)
		if err != nil {
			return fmt.Errorf("blacklist purge: %w", err)
		}
		metrics.BlacklistPurged.Add(float64(purged))
		logger.Info("Purged %d blacklisted tokens", purged)
		return nil
	}
}

// LogRotationTask archives the log files and drops old archives
func LogRotationTask(logger *utils.Logger) TaskFunc {
	return func(ctx context.Context) error {
		return logger.RotateLogs(logRetention)
	}
}

// scheduleInterval is the gap between two consecutive runs of expr, or one
// minute when expr does not parse
func scheduleInterval(expr string) time.Duration {
	sched, err := scheduleParser.Parse(expr)
	if err != nil {
		return time.Minute
	}
	first := sched.Next(time.Now())
	return sched.Next(first).Sub(first)
}

func (s *Scheduler) historyCleanupTask() TaskFunc {
	return func(ctx context.Context) error {
		removed, err := s.CleanupOldTaskHistory(ctx, historyRetention)
		if err != nil {
			return err
		}
		if removed > 0 {
			s.logger.Info("Cleaned up %d old task history records", removed)
		}
		return nil
	}
}
