//go:build windows

package main

import (
	"os"

	"github.com/apimgr/weatherapi/src/scheduler"
	"github.com/apimgr/weatherapi/src/utils"
)

var platformSignals []os.Signal

func handlePlatformSignal(os.Signal, *scheduler.Scheduler, *utils.Logger) bool {
	return false
}
