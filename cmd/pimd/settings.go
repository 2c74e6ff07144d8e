package main

import (
	"errors"
	"fmt"

	"github.com/joeshaw/envdecode"
)

// settings are process defaults taken from the environment; flags win.
type settings struct {
	DataDir     string `env:"PIMD_DATA_DIR,default=.pimd"`
	MetricsAddr string `env:"PIMD_METRICS_ADDR"`
	LogLevel    string `env:"PIMD_LOG_LEVEL"`
}

func loadSettings() (settings, error) {
	var s settings
	if err := envdecode.Decode(&s); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return s, fmt.Errorf("environment: %w", err)
	}
	if s.DataDir == "" {
		s.DataDir = ".pimd"
	}
	return s, nil
}
