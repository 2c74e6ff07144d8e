// Package output writes trajectories, property tables and checkpoints on a
// per-channel stride.
package output

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/san-kum/pimd/internal/config"
	"github.com/san-kum/pimd/internal/dynamo"
	"github.com/san-kum/pimd/internal/prng"
	"github.com/san-kum/pimd/internal/properties"
)

// Snapshot is the state handed to the scheduler at a step.
type Snapshot struct {
	Step             int
	Time             float64
	Beads            *dynamo.Beads
	Forces           []*dynamo.ForceResult
	Cell             dynamo.Cell
	Properties       properties.Values
	ThermostatEnergy float64

	RunID string
	RNG   *prng.Generator
}

type Options struct {
	// Dir is where output files are created; empty means the working
	// directory.
	Dir    string
	NBeads int
	// Resume appends to existing trajectory and property files instead of
	// truncating them.
	Resume bool
}

type channel interface {
	Stride() int
	Write(step int, snap *Snapshot) error
	Files() []string
	Close() error
}

// Scheduler owns every output channel of a run.
type Scheduler struct {
	channels    []channel
	checkpoints []*checkpointChannel
	fallback    *checkpointChannel
	log         *logrus.Entry
}

func New(cfg config.OutputConfig, opts Options) (*Scheduler, error) {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = config.DefaultPrefix
	}
	base := filepath.Join(opts.Dir, prefix)
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0755); err != nil {
			return nil, fmt.Errorf("output: %w", err)
		}
	}

	s := &Scheduler{log: logrus.WithField("component", "output")}
	for _, ch := range cfg.Channels {
		var (
			c   channel
			err error
		)
		switch ch.Kind {
		case config.TrajectoryChannel:
			c, err = newTrajectory(base, ch, opts)
		case config.PropertiesChannel:
			c, err = newPropertiesTable(base, ch, opts)
		case config.CheckpointChannel:
			cp := newCheckpointChannel(base, ch)
			s.checkpoints = append(s.checkpoints, cp)
			c = cp
		default:
			err = fmt.Errorf("output: unknown channel kind %q", ch.Kind)
		}
		if err != nil {
			s.Close()
			return nil, err
		}
		s.channels = append(s.channels, c)
	}
	if len(s.checkpoints) == 0 {
		s.fallback = newCheckpointChannel(base, config.OutputChannel{
			Kind:      config.CheckpointChannel,
			Filename:  config.DefaultCheckpoint,
			Stride:    1,
			Overwrite: true,
		})
	}
	return s, nil
}

// Due reports whether any channel writes at step.
func (s *Scheduler) Due(step int) bool {
	for _, c := range s.channels {
		if step%c.Stride() == 0 {
			return true
		}
	}
	return false
}

// CheckpointDue reports whether a configured checkpoint channel writes at
// step.
func (s *Scheduler) CheckpointDue(step int) bool {
	for _, c := range s.checkpoints {
		if step%c.Stride() == 0 {
			return true
		}
	}
	return false
}

// OnStep writes every channel whose stride divides step.
func (s *Scheduler) OnStep(step int, snap *Snapshot) error {
	for _, c := range s.channels {
		if step%c.Stride() != 0 {
			continue
		}
		if err := c.Write(step, snap); err != nil {
			return err
		}
	}
	return nil
}

// Checkpoint writes a checkpoint outside the stride schedule, through every
// configured checkpoint channel or a default one when none is configured.
// Channels that already hold this step are skipped.
func (s *Scheduler) Checkpoint(snap *Snapshot) error {
	targets := s.checkpoints
	if s.fallback != nil {
		targets = []*checkpointChannel{s.fallback}
	}
	var errs []error
	for _, c := range targets {
		if c.written && c.last == snap.Step {
			continue
		}
		s.log.WithField("step", snap.Step).Debug("writing checkpoint")
		if err := c.Write(snap.Step, snap); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Files lists every file the scheduler has written to.
func (s *Scheduler) Files() []string {
	var files []string
	for _, c := range s.channels {
		files = append(files, c.Files()...)
	}
	if s.fallback != nil {
		files = append(files, s.fallback.Files()...)
	}
	return files
}

// Close closes every channel. It is safe to call more than once.
func (s *Scheduler) Close() error {
	var errs []error
	for _, c := range s.channels {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func openStream(path string, resume bool) (*os.File, error) {
	flags := os.O_CREATE | os.O_WRONLY
	if resume {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, &dynamo.OutputWriteError{Path: path, Step: -1, Wrapped: err}
	}
	return f, nil
}
