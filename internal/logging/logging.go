// Package logging configures the process-wide logrus logger.
package logging

import (
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/san-kum/pimd/internal/config"
)

// Level maps a simulation verbosity onto a logrus level.
func Level(v config.Verbosity) logrus.Level {
	switch v {
	case config.Quiet:
		return logrus.WarnLevel
	case config.High:
		return logrus.DebugLevel
	case config.Debug:
		return logrus.TraceLevel
	default:
		return logrus.InfoLevel
	}
}

// Setup sets the global level from the verbosity unless override names a
// logrus level. It returns the level in effect.
func Setup(v config.Verbosity, override string) (logrus.Level, error) {
	level := Level(v)
	if override = strings.TrimSpace(override); override != "" {
		l, err := logrus.ParseLevel(override)
		if err != nil {
			return level, fmt.Errorf("invalid log level %q: %w", override, err)
		}
		level = l
	}
	logrus.SetLevel(level)
	return level, nil
}

// Init installs the text formatter and output used by the CLI.
func Init(w io.Writer) {
	logrus.SetOutput(w)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000",
	})
}
