package config

import (
	"time"

	"github.com/san-kum/pimd/internal/dynamo"
)

// All physical quantities below are stored in internal units (atomic units,
// Kelvin for temperatures) after parsing.

const (
	DefaultAddress    = "localhost"
	DefaultSlots      = 4
	DefaultLatency    = 0.01
	DefaultRetries    = 3
	DefaultPileLambda = 1.0
	DefaultPrefix     = "simulation"
	DefaultCheckpoint = "checkpoint"

	DefaultGradTolerance = 1e-6
	DefaultMaximumStep   = 100.0
	DefaultLSTolerance   = 1e-5
	DefaultLSIter        = 100
	DefaultLSStep        = 1e-3
	DefaultLSAdaptive    = 1.0
)

type Verbosity string

const (
	Quiet  Verbosity = "quiet"
	Low    Verbosity = "low"
	Medium Verbosity = "medium"
	High   Verbosity = "high"
	Debug  Verbosity = "debug"
)

type SocketMode string

const (
	Unix SocketMode = "unix"
	Inet SocketMode = "inet"
)

type SimulationConfig struct {
	Verbosity  Verbosity `yaml:"verbosity" validate:"oneof=quiet low medium high debug"`
	TotalSteps int       `yaml:"total_steps" validate:"gte=0"`
	Step       int       `yaml:"step" validate:"gte=0,ltefield=TotalSteps"`
	// TotalTime is a wall-clock budget in seconds; 0 disables it.
	TotalTime float64 `yaml:"total_time" validate:"gte=0"`
	Seed      int64   `yaml:"seed"`

	// Exactly one of Socket and Potential is set.
	Socket    *SocketConfig    `yaml:"socket,omitempty" validate:"omitempty"`
	Potential *PotentialConfig `yaml:"potential,omitempty" validate:"omitempty"`

	Output OutputConfig `yaml:"output"`
	System SystemConfig `yaml:"system"`

	// Unresolved lists the fields left holding a placeholder when parsing
	// with KeepPlaceholders.
	Unresolved []string `yaml:"unresolved,omitempty"`
	pending    []Placeholder
}

// Resolved fails with a *SubstitutionError when the config still holds
// placeholders kept at parse time.
func (c *SimulationConfig) Resolved() error {
	if len(c.pending) == 0 {
		return nil
	}
	return &SubstitutionError{Missing: append([]Placeholder(nil), c.pending...)}
}

// ProviderName returns the name of the configured force provider.
func (c *SimulationConfig) ProviderName() string {
	switch {
	case c.Socket != nil:
		return c.Socket.Name
	case c.Potential != nil:
		return c.Potential.Name
	}
	return ""
}

type SocketConfig struct {
	Name    string     `yaml:"name" validate:"required"`
	Mode    SocketMode `yaml:"mode" validate:"oneof=unix inet"`
	PBC     bool       `yaml:"pbc"`
	Address string     `yaml:"address" validate:"required"`
	Port    int        `yaml:"port" validate:"required_if=Mode inet,omitempty,min=1,max=65535"`
	Slots   int        `yaml:"slots" validate:"min=1,max=5"`
	// Latency is the polling interval in seconds.
	Latency float64 `yaml:"latency" validate:"gte=0"`
	// Timeout bounds one force exchange in seconds; 0 waits forever.
	Timeout    float64 `yaml:"timeout" validate:"gte=0"`
	Retries    int     `yaml:"retries" validate:"gte=0"`
	Parameters string  `yaml:"parameters,omitempty"`
}

func (s *SocketConfig) LatencyDuration() time.Duration {
	return time.Duration(s.Latency * float64(time.Second))
}

func (s *SocketConfig) TimeoutDuration() time.Duration {
	return time.Duration(s.Timeout * float64(time.Second))
}

type PotentialKind string

const (
	Harmonic     PotentialKind = "harmonic"
	DoubleWell   PotentialKind = "doublewell"
	LennardJones PotentialKind = "lj"
)

type PotentialConfig struct {
	Name string        `yaml:"name" validate:"required"`
	Kind PotentialKind `yaml:"kind" validate:"oneof=harmonic doublewell lj"`
	PBC  bool          `yaml:"pbc"`
	// harmonic: V = k/2 sum x^2
	K float64 `yaml:"k,omitempty" validate:"gte=0"`
	// doublewell: V = a (x^2 - b)^2 per coordinate
	A float64 `yaml:"a,omitempty" validate:"gte=0"`
	B float64 `yaml:"b,omitempty" validate:"gte=0"`
	// lj: pairwise 4 eps ((s/r)^12 - (s/r)^6) truncated at cutoff
	Epsilon float64 `yaml:"epsilon,omitempty" validate:"gte=0"`
	Sigma   float64 `yaml:"sigma,omitempty" validate:"gte=0"`
	Cutoff  float64 `yaml:"cutoff,omitempty" validate:"gte=0"`
}

type SystemConfig struct {
	NBeads     int              `yaml:"nbeads" validate:"min=1"`
	Init       InitConfig       `yaml:"init"`
	Cell       dynamo.Cell      `yaml:"cell"`
	Velocities VelocitiesConfig `yaml:"velocities"`
	// Forces names the force provider acting on the system.
	Forces string `yaml:"forces" validate:"required"`
	// Temperature is the ensemble temperature in Kelvin.
	Temperature float64 `yaml:"temperature" validate:"gte=0"`
	Motion      Motion  `yaml:"motion" validate:"-"`
}

type InitMode string

const (
	InitInline     InitMode = "inline"
	InitCheckpoint InitMode = "chk"
)

type InitConfig struct {
	Mode      InitMode  `yaml:"mode" validate:"oneof=inline chk"`
	File      string    `yaml:"file,omitempty" validate:"required_if=Mode chk"`
	Positions []float64 `yaml:"positions,omitempty"`
	Labels    []string  `yaml:"labels,omitempty"`
	Masses    []float64 `yaml:"masses,omitempty"`
}

type VelocitiesConfig struct {
	Mode string `yaml:"mode" validate:"oneof=thermal manual none"`
	// Temperature in Kelvin for thermal initialization; 0 uses the ensemble
	// temperature.
	Temperature float64   `yaml:"temperature,omitempty" validate:"gte=0"`
	Values      []float64 `yaml:"values,omitempty"`
}

// Motion is one of DynamicsMotion, MinimizeMotion, MultiMotion or
// DummyMotion.
type Motion interface {
	MotionMode() string
}

type DynamicsMotion struct {
	Ensemble   string            `yaml:"ensemble" validate:"oneof=nve nvt"`
	Thermostat *ThermostatConfig `yaml:"thermostat,omitempty" validate:"required_if=Ensemble nvt,omitempty"`
	// Timestep in atomic time units.
	Timestep float64 `yaml:"timestep" validate:"gt=0"`
	FixCOM   bool    `yaml:"fixcom"`
}

func (DynamicsMotion) MotionMode() string { return "dynamics" }

type ThermostatConfig struct {
	Mode string `yaml:"mode" validate:"oneof=langevin pile_l pile_g svr"`
	// Tau is the relaxation time in atomic time units.
	Tau        float64 `yaml:"tau" validate:"gt=0"`
	PileLambda float64 `yaml:"pile_lambda" validate:"gt=0"`
}

// MinimizeMotion relaxes the bead positions on the physical potential.
type MinimizeMotion struct {
	// Optimizer is sd (steepest descent), cg (Polak-Ribiere conjugate
	// gradient) or bfgs.
	Optimizer string `yaml:"optimizer" validate:"oneof=sd cg bfgs"`
	// GradTolerance is the largest force component, in hartree/bohr, at
	// which the optimization counts as converged.
	GradTolerance float64 `yaml:"grad_tolerance" validate:"gt=0"`
	// MaximumStep bounds the displacement of one line search, in bohr.
	MaximumStep float64          `yaml:"maximum_step" validate:"gt=0"`
	LineSearch  LineSearchConfig `yaml:"ls_options"`
	// FixAtoms lists atoms, 0-indexed, that never move.
	FixAtoms []int `yaml:"fixatoms,omitempty" validate:"dive,gte=0"`
}

func (MinimizeMotion) MotionMode() string { return "minimize" }

type LineSearchConfig struct {
	Tolerance float64 `yaml:"tolerance" validate:"gt=0"`
	Iter      int     `yaml:"iter" validate:"gte=1"`
	// Step is the first trial displacement in bohr.
	Step float64 `yaml:"step" validate:"gt=0"`
	// Adaptive mixes the accepted displacement into the next trial step.
	Adaptive float64 `yaml:"adaptive" validate:"gte=0,lte=1"`
}

// DefaultMinimize returns a MinimizeMotion with every option at its default.
func DefaultMinimize(optimizer string) MinimizeMotion {
	return MinimizeMotion{
		Optimizer:     optimizer,
		GradTolerance: DefaultGradTolerance,
		MaximumStep:   DefaultMaximumStep,
		LineSearch: LineSearchConfig{
			Tolerance: DefaultLSTolerance,
			Iter:      DefaultLSIter,
			Step:      DefaultLSStep,
			Adaptive:  DefaultLSAdaptive,
		},
	}
}

type MultiMotion struct {
	Motions []Motion `yaml:"motions"`
}

func (MultiMotion) MotionMode() string { return "multi" }

type DummyMotion struct{}

func (DummyMotion) MotionMode() string { return "dummy" }

type ChannelKind string

const (
	TrajectoryChannel ChannelKind = "trajectory"
	PropertiesChannel ChannelKind = "properties"
	CheckpointChannel ChannelKind = "checkpoint"
)

type OutputConfig struct {
	Prefix   string          `yaml:"prefix"`
	Channels []OutputChannel `yaml:"channels" validate:"dive"`
}

// Quantity is a named quantity with the unit it is reported in.
type Quantity struct {
	Name string `yaml:"name"`
	Unit string `yaml:"unit,omitempty"`
}

type OutputChannel struct {
	Kind     ChannelKind `yaml:"kind" validate:"oneof=trajectory properties checkpoint"`
	Filename string      `yaml:"filename" validate:"required"`
	Stride   int         `yaml:"stride" validate:"min=1"`

	// trajectory
	Format    string   `yaml:"format,omitempty" validate:"omitempty,oneof=xyz pdb"`
	Quantity  Quantity `yaml:"quantity,omitempty"`
	Bead      int      `yaml:"bead,omitempty" validate:"gte=-1"`
	CellUnits string   `yaml:"cell_units,omitempty"`

	// properties
	Quantities []Quantity `yaml:"quantities,omitempty"`

	// checkpoint
	Overwrite bool `yaml:"overwrite,omitempty"`
}

// AllBeads selects every bead of a trajectory channel.
const AllBeads = -1
