package config

import (
	"fmt"
	"os"
	"strings"
)

// Mode is the execution mode. Development relaxes the secret length check
// and turns on debug logging and gin's debug router output.
type Mode string

const (
	ModeDevelopment Mode = "development"
	ModeProduction  Mode = "production"
)

// DetectMode resolves the mode: the configured value first, then MODE or
// APP_MODE, then production. Unrecognized values are skipped.
func DetectMode(configMode string) Mode {
	for _, candidate := range []string{configMode, os.Getenv("MODE"), os.Getenv("APP_MODE")} {
		if mode, err := ParseMode(candidate); err == nil {
			return mode
		}
	}
	return ModeProduction
}

// ParseMode accepts the long and short spellings of each mode
func ParseMode(value string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "development", "dev":
		return ModeDevelopment, nil
	case "production", "prod":
		return ModeProduction, nil
	}
	return "", fmt.Errorf("mode %q is not supported (development, production)", value)
}
