package main

import (
	"fmt"
	"runtime"
)

// Set with -ldflags "-X main.Version=... -X main.CommitID=... -X main.BuildDate=..."
var (
	Version   = "dev"
	CommitID  = "unknown"
	BuildDate = "unknown"
)

// GetVersionString is printed by -version and logged at startup
func GetVersionString() string {
	return fmt.Sprintf("weatherapi %s (commit %s, built %s, %s %s/%s)",
		Version, CommitID, BuildDate, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
