// Package scheduler runs the maintenance tasks on cron schedules and keeps
// their run history
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/apimgr/weatherapi/src/database"
	"github.com/apimgr/weatherapi/src/server/metrics"
	"github.com/apimgr/weatherapi/src/utils"
)

// TaskFunc is the body of a scheduled task. ctx is cancelled on Stop.
type TaskFunc func(ctx context.Context) error

// Task represents a scheduled task
type Task struct {
	Name string
	// Cron expression: "0 2 * * *", "@hourly", "@every 5m"
	Schedule string
	Fn       TaskFunc
	entryID  cron.EntryID

	mu      sync.Mutex
	running bool
	lastRun *time.Time
}

// Scheduler manages scheduled tasks using robfig/cron
type Scheduler struct {
	cron   *cron.Cron
	tasks  map[string]*Task
	db     *database.DB
	logger *utils.Logger

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.RWMutex
}

// Standard five-field cron plus descriptors (@daily, @every 1m)
var scheduleParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// NewScheduler creates a scheduler recording history in db
func NewScheduler(db *database.DB, logger *utils.Logger) *Scheduler {
	c := cron.New(cron.WithParser(scheduleParser))

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   c,
		tasks:  make(map[string]*Task),
		db:     db,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// AddTask registers fn under name on a cron schedule
func (s *Scheduler) AddTask(name string, schedule string, fn TaskFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[name]; exists {
		return fmt.Errorf("task '%s' already registered", name)
	}

	task := &Task{Name: name, Schedule: schedule, Fn: fn}

	entryID, err := s.cron.AddFunc(schedule, func() { s.executeTask(task) })
	if err != nil {
		return fmt.Errorf("failed to add task '%s' with schedule '%s': %w", name, schedule, err)
	}

	task.entryID = entryID
	s.tasks[name] = task
	return nil
}

// Start starts the cron scheduler
func (s *Scheduler) Start() {
	s.mu.RLock()
	defer s.mu.RUnlock()

	s.cron.Start()
	s.logger.Info("Task manager has started (%d scheduled tasks)", len(s.tasks))
}

// Stop cancels running tasks and waits for them to return
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping scheduler...")

	s.cancel()
	<-s.cron.Stop().Done()

	s.logger.Info("Scheduler stopped")
}

// RunTask executes a registered task immediately, outside its schedule
func (s *Scheduler) RunTask(name string) error {
	s.mu.RLock()
	task, ok := s.tasks[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown task '%s'", name)
	}
	return s.executeTask(task)
}

// executeTask runs a task, records the run and never lets a panic or an
// error escape into the cron goroutine
func (s *Scheduler) executeTask(task *Task) (err error) {
	task.mu.Lock()
	if task.running {
		task.mu.Unlock()
		s.logger.Warn("Task '%s' still running, skipping this tick", task.Name)
		return nil
	}
	task.running = true
	task.mu.Unlock()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
		end := time.Now()
		elapsed := end.Sub(start)

		task.mu.Lock()
		task.running = false
		task.lastRun = &end
		task.mu.Unlock()

		status := "success"
		if err != nil {
			status = "error"
			s.logger.Error("Task '%s' failed after %v: %v", task.Name, elapsed, err)
		} else {
			s.logger.Debug("Task '%s' completed in %v", task.Name, elapsed)
		}
		metrics.RecordSchedulerTask(task.Name, status, elapsed)

		if recErr := s.RecordTaskRun(s.ctx, task.Name, start, end, err); recErr != nil {
			s.logger.Warn("Failed to record run of task '%s': %v", task.Name, recErr)
		}
	}()

	return task.Fn(s.ctx)
}

// TaskStatus is a task's schedule and timing
type TaskStatus struct {
	Name     string     `json:"name"`
	Schedule string     `json:"schedule"`
	Running  bool       `json:"running"`
	LastRun  *time.Time `json:"last_run,omitempty"`
	NextRun  time.Time  `json:"next_run"`
}

// GetTaskStatus returns status of all tasks sorted by name
func (s *Scheduler) GetTaskStatus() []TaskStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := make([]TaskStatus, 0, len(s.tasks))
	for _, task := range s.tasks {
		task.mu.Lock()
		st := TaskStatus{
			Name:     task.Name,
			Schedule: task.Schedule,
			Running:  task.running,
			LastRun:  task.lastRun,
		}
		task.mu.Unlock()

		if entry := s.cron.Entry(task.entryID); entry.ID != 0 {
			st.NextRun = entry.Next
		}
		status = append(status, st)
	}

	sort.Slice(status, func(i, j int) bool { return status[i].Name < status[j].Name })
	return status
}
