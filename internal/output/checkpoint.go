package output

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/san-kum/pimd/internal/config"
	"github.com/san-kum/pimd/internal/dynamo"
)

const checkpointVersion = 1

// Checkpoint is the full restartable state of a run.
type Checkpoint struct {
	Version          int         `json:"version"`
	RunID            string      `json:"run_id,omitempty"`
	Step             int         `json:"step"`
	Time             float64     `json:"time"`
	Seed             int64       `json:"seed"`
	Labels           []string    `json:"labels"`
	Masses           []float64   `json:"masses"`
	Positions        [][]float64 `json:"positions"`
	Momenta          [][]float64 `json:"momenta"`
	Cell             [9]float64  `json:"cell"`
	ThermostatEnergy float64     `json:"thermostat_energy"`
	PRNG             []byte      `json:"prng,omitempty"`
}

// NewCheckpoint captures snap. Bead arrays are copied.
func NewCheckpoint(snap *Snapshot) (*Checkpoint, error) {
	b := snap.Beads.Clone()
	cp := &Checkpoint{
		Version:          checkpointVersion,
		RunID:            snap.RunID,
		Step:             snap.Step,
		Time:             snap.Time,
		Labels:           b.Labels,
		Masses:           b.Masses,
		Positions:        b.Q,
		Momenta:          b.P,
		Cell:             snap.Cell.H,
		ThermostatEnergy: snap.ThermostatEnergy,
	}
	if snap.RNG != nil {
		state, err := snap.RNG.State()
		if err != nil {
			return nil, err
		}
		cp.Seed = snap.RNG.Seed()
		cp.PRNG = state
	}
	return cp, nil
}

// Beads rebuilds the ring polymer stored in the checkpoint.
func (c *Checkpoint) Beads() (*dynamo.Beads, error) {
	if len(c.Positions) == 0 || len(c.Positions) != len(c.Momenta) {
		return nil, fmt.Errorf("%w: checkpoint holds %d position and %d momentum beads",
			dynamo.ErrDimensionMismatch, len(c.Positions), len(c.Momenta))
	}
	b := dynamo.NewBeads(len(c.Positions), len(c.Masses))
	if len(c.Labels) != len(c.Masses) {
		return nil, fmt.Errorf("%w: %d labels for %d masses", dynamo.ErrDimensionMismatch, len(c.Labels), len(c.Masses))
	}
	copy(b.Labels, c.Labels)
	copy(b.Masses, c.Masses)
	for j := range c.Positions {
		if len(c.Positions[j]) != 3*len(c.Masses) || len(c.Momenta[j]) != 3*len(c.Masses) {
			return nil, fmt.Errorf("%w: bead %d", dynamo.ErrDimensionMismatch, j)
		}
		copy(b.Q[j], c.Positions[j])
		copy(b.P[j], c.Momenta[j])
	}
	return b, nil
}

// LoadCheckpoint reads a checkpoint file.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("checkpoint %s: %w", path, err)
	}
	if cp.Version != checkpointVersion {
		return nil, fmt.Errorf("checkpoint %s: unsupported version %d", path, cp.Version)
	}
	return &cp, nil
}

type checkpointChannel struct {
	base      string
	stride    int
	overwrite bool
	files     []string
	written   bool
	last      int
	log       *logrus.Entry
}

func newCheckpointChannel(prefix string, ch config.OutputChannel) *checkpointChannel {
	name := ch.Filename
	if name == "" {
		name = config.DefaultCheckpoint
	}
	return &checkpointChannel{
		base:      prefix + "." + name,
		stride:    ch.Stride,
		overwrite: ch.Overwrite,
		log:       logrus.WithField("channel", "checkpoint"),
	}
}

func (c *checkpointChannel) Stride() int     { return c.stride }
func (c *checkpointChannel) Files() []string { return c.files }
func (c *checkpointChannel) Close() error    { return nil }

func (c *checkpointChannel) Write(step int, snap *Snapshot) error {
	cp, err := NewCheckpoint(snap)
	if err != nil {
		return &dynamo.OutputWriteError{Path: c.base, Step: step, Wrapped: err}
	}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return &dynamo.OutputWriteError{Path: c.base, Step: step, Wrapped: err}
	}

	var path string
	if c.overwrite {
		path = c.base
		err = replaceFile(path, data)
	} else {
		path, err = createFree(c.base+"_"+strconv.Itoa(step), data)
	}
	if err != nil {
		return &dynamo.OutputWriteError{Path: path, Step: step, Wrapped: err}
	}

	c.written, c.last = true, step
	if len(c.files) == 0 || c.files[len(c.files)-1] != path {
		c.files = append(c.files, path)
	}
	c.log.WithFields(logrus.Fields{"step": step, "path": path}).Debug("checkpoint written")
	return nil
}

// replaceFile swaps data into path through a temporary file in the same
// directory, so readers never see a partial checkpoint.
func replaceFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// createFree writes data to path, or to the first path.N that does not
// exist yet. Files are created exclusively, so an existing checkpoint is
// never opened for writing even if it appears after the name was chosen.
func createFree(path string, data []byte) (string, error) {
	candidate := path
	for n := 1; ; n++ {
		f, err := os.OpenFile(candidate, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if errors.Is(err, fs.ErrExist) {
			candidate = path + "." + strconv.Itoa(n)
			continue
		}
		if err != nil {
			return candidate, err
		}
		_, err = f.Write(data)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		return candidate, err
	}
}
