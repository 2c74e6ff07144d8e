package sim

import (
	"github.com/san-kum/pimd/internal/forcefield"
	"github.com/san-kum/pimd/internal/metrics"
	"github.com/san-kum/pimd/internal/properties"
)

// Phase is the lifecycle state of a run.
type Phase int32

const (
	PhaseInit Phase = iota
	PhaseRunning
	PhaseCheckpointed
	PhaseDone
	PhaseFailed
)

var phaseNames = [...]string{"init", "running", "checkpointed", "done", "failed"}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}

// PhaseNames lists every phase in lifecycle order.
func PhaseNames() []string { return phaseNames[:] }

// Observer is notified after every completed step.
type Observer interface {
	OnStep(step int, v properties.Values)
}

type Options struct {
	RunID string
	// Dir receives the output files; empty means the working directory.
	Dir string
	// Forces replaces the providers declared in the config.
	Forces *forcefield.Registry
	// Collector, when set, receives live metrics.
	Collector *metrics.Collector
}

// Status is a point-in-time view of a run, safe to read while it runs.
type Status struct {
	RunID      string  `json:"run_id"`
	Phase      string  `json:"phase"`
	Step       int     `json:"step"`
	TotalSteps int     `json:"total_steps"`
	Time       float64 `json:"time"`
}

type Result struct {
	RunID       string
	Phase       Phase
	StartStep   int
	FinalStep   int
	StepsTaken  int
	Time        float64
	Stopped     bool
	EnergyDrift float64
	Metrics     map[string]float64
	Files       []string
}
