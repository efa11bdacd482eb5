package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// TaskRun represents a single execution of a task
type TaskRun struct {
	ID        int64     `json:"id"`
	TaskName  string    `json:"task_name"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	// milliseconds
	Duration int64 `json:"duration_ms"`
	// "success", "error"
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// RecordTaskRun records a task execution in scheduler_history
func (s *Scheduler) RecordTaskRun(ctx context.Context, taskName string, startTime, endTime time.Time, err error) error {
	status := "success"
	errorMsg := ""
	if err != nil {
		status = "error"
		errorMsg = err.Error()
	}

	// The run is recorded even when Stop has cancelled the task context
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	_, dbErr := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO scheduler_history (task_name, started_at, finished_at, duration_ms, status, error)
		VALUES (?, ?, ?, ?, ?, ?)`),
		taskName, startTime.UTC(), endTime.UTC(), endTime.Sub(startTime).Milliseconds(), status, errorMsg)
	if dbErr != nil {
		return fmt.Errorf("failed to record task run: %w", dbErr)
	}
	return nil
}

// GetTaskHistory returns the most recent runs of a task, newest first
func (s *Scheduler) GetTaskHistory(ctx context.Context, taskName string, limit int) ([]TaskRun, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, s.db.Rebind(`
		SELECT id, task_name, started_at, finished_at, duration_ms, status, COALESCE(error, '')
		FROM scheduler_history
		WHERE task_name = ?
		ORDER BY started_at DESC, id DESC`), taskName)
	if err != nil {
		return nil, fmt.Errorf("failed to query task history: %w", err)
	}
	defer rows.Close()

	history := []TaskRun{}
	for rows.Next() && len(history) < limit {
		var run TaskRun
		if err := rows.Scan(&run.ID, &run.TaskName, &run.StartTime, &run.EndTime,
			&run.Duration, &run.Status, &run.Error); err != nil {
			return nil, fmt.Errorf("failed to scan task run: %w", err)
		}
		history = append(history, run)
	}
	return history, rows.Err()
}

// GetLastTaskRun returns the most recent run for a task, or nil
func (s *Scheduler) GetLastTaskRun(ctx context.Context, taskName string) (*TaskRun, error) {
	history, err := s.GetTaskHistory(ctx, taskName, 1)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, nil
	}
	return &history[0], nil
}

// GetTaskStats returns run counts for a task
func (s *Scheduler) GetTaskStats(ctx context.Context, taskName string) (total, success, failed int, err error) {
	var ok, bad sql.NullInt64
	err = s.db.QueryRowContext(ctx, s.db.Rebind(`
		SELECT
			COUNT(*),
			SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END)
		FROM scheduler_history
		WHERE task_name = ?`), taskName).Scan(&total, &ok, &bad)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, 0, nil
	}
	return total, int(ok.Int64), int(bad.Int64), err
}

// CleanupOldTaskHistory removes runs that started before now - retention
func (s *Scheduler) CleanupOldTaskHistory(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}

	result, err := s.db.ExecContext(ctx, s.db.Rebind(
		"DELETE FROM scheduler_history WHERE started_at < ?"),
		time.Now().Add(-retention).UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to clean task history: %w", err)
	}
	return result.RowsAffected()
}
