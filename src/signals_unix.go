//go:build !windows

package main

import (
	"os"
	"syscall"

	"github.com/apimgr/weatherapi/src/scheduler"
	"github.com/apimgr/weatherapi/src/utils"
)

var platformSignals = []os.Signal{
	// Reopen log files after external rotation
	syscall.SIGUSR1,
}

// handlePlatformSignal handles signals that do not stop the server and
// reports whether sig was one of them. SIGUSR1 runs the log rotation task
// out of schedule so the run shows up in the task history.
func handlePlatformSignal(sig os.Signal, sched *scheduler.Scheduler, logger *utils.Logger) bool {
	if sig != syscall.SIGUSR1 {
		return false
	}

	logger.Info("Received SIGUSR1, rotating log files...")
	if err := sched.RunTask(scheduler.TaskLogRotation); err != nil {
		logger.Error("Failed to rotate logs: %v", err)
	}
	return true
}
