// Package sim drives a path-integral run from a parsed config: it builds the
// ring polymer, steps it, feeds the output channels and keeps the run's
// lifecycle phase.
package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/san-kum/pimd/internal/config"
	"github.com/san-kum/pimd/internal/dynamo"
	"github.com/san-kum/pimd/internal/forcefield"
	"github.com/san-kum/pimd/internal/metrics"
	"github.com/san-kum/pimd/internal/motion"
	"github.com/san-kum/pimd/internal/output"
	"github.com/san-kum/pimd/internal/prng"
	"github.com/san-kum/pimd/internal/properties"
	"github.com/san-kum/pimd/internal/socket"
)

// stabilityCeiling is the multiple of the ensemble temperature above which a
// step counts as unstable.
const stabilityCeiling = 10

type Simulator struct {
	cfg       *config.SimulationConfig
	opts      Options
	metrics   []metrics.Metric
	observers []Observer
	drift     *metrics.EnergyDrift
	log       *logrus.Entry

	phase    atomic.Int32
	step     atomic.Int64
	stopOnce sync.Once
	stop     chan struct{}

	mu      sync.Mutex
	simTime float64
}

// New checks that cfg is runnable. Nothing is opened until Run.
func New(cfg *config.SimulationConfig, opts Options) (*Simulator, error) {
	if err := cfg.Resolved(); err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	if cfg.System.NBeads > 1 && cfg.System.Temperature <= 0 {
		return nil, fmt.Errorf("%w: %d beads need a positive ensemble temperature", dynamo.ErrParameterBounds, cfg.System.NBeads)
	}

	s := &Simulator{
		cfg:   cfg,
		opts:  opts,
		drift: metrics.NewEnergyDrift(),
		stop:  make(chan struct{}),
		log:   logrus.WithField("run_id", opts.RunID),
	}
	s.metrics = []metrics.Metric{s.drift, metrics.NewAverage(properties.Temperature)}
	if t := cfg.System.Temperature; t > 0 {
		s.metrics = append(s.metrics, metrics.NewStability(stabilityCeiling*t))
	}
	s.step.Store(int64(cfg.Step))
	return s, nil
}

func (s *Simulator) AddMetric(m metrics.Metric)       { s.metrics = append(s.metrics, m) }
func (s *Simulator) AddObserver(o Observer)           { s.observers = append(s.observers, o) }
func (s *Simulator) Config() *config.SimulationConfig { return s.cfg }

func (s *Simulator) Phase() Phase { return Phase(s.phase.Load()) }

func (s *Simulator) setPhase(p Phase) {
	if Phase(s.phase.Swap(int32(p))) == p {
		return
	}
	if s.opts.Collector != nil {
		s.opts.Collector.RecordPhase(p.String(), PhaseNames())
	}
	s.log.WithField("phase", p).Debug("phase change")
}

// Status may be called from any goroutine.
func (s *Simulator) Status() Status {
	s.mu.Lock()
	t := s.simTime
	s.mu.Unlock()
	return Status{
		RunID:      s.opts.RunID,
		Phase:      s.Phase().String(),
		Step:       int(s.step.Load()),
		TotalSteps: s.cfg.TotalSteps,
		Time:       t,
	}
}

// RequestStop asks the run to finish the step in flight, write a final
// checkpoint and return. It is safe to call more than once.
func (s *Simulator) RequestStop() {
	s.stopOnce.Do(func() {
		s.log.Info("soft exit requested")
		close(s.stop)
	})
}

func (s *Simulator) stopRequested() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

// run is the state Run builds during the init phase.
type run struct {
	registry  *forcefield.Registry
	forces    *forcefield.Forces
	rng       *prng.Generator
	modes     *motion.NormalModes
	stepper   motion.Stepper
	scheduler *output.Scheduler
	state     *motion.State
	start     int
	time      float64
	resumed   bool
}

// Run executes the simulation until total_steps, a soft exit, the wall-clock
// budget or a fatal error. On a soft exit the returned error wraps
// dynamo.ErrSoftExit and the result is still valid.
func (s *Simulator) Run(ctx context.Context) (*Result, error) {
	s.setPhase(PhaseInit)
	r, err := s.init(ctx)
	if err != nil {
		s.setPhase(PhaseFailed)
		if r != nil {
			r.close(s.log)
		}
		return nil, err
	}
	defer r.close(s.log)

	res := &Result{RunID: s.opts.RunID, StartStep: r.start, FinalStep: r.start, Time: r.time}
	for _, m := range s.metrics {
		m.Reset()
	}

	wall := time.Now()
	dt := r.stepper.Timestep()
	pool := NewBeadsPool(r.state.Beads.NBeads(), r.state.Beads.NAtoms())
	var budget time.Duration
	if s.cfg.TotalTime > 0 {
		budget = time.Duration(s.cfg.TotalTime * float64(time.Second))
	}

	values := s.evaluate(r, r.start)
	s.observe(r.start, values)
	if !r.resumed {
		if err := s.emit(r, r.start, values); err != nil {
			return s.fail(r, res, r.start, err)
		}
	}

	s.setPhase(PhaseRunning)
	s.log.WithFields(logrus.Fields{
		"start":   r.start,
		"steps":   s.cfg.TotalSteps,
		"nbeads":  r.state.Beads.NBeads(),
		"natoms":  r.state.Beads.NAtoms(),
		"motion":  r.stepper.Mode(),
		"forces":  r.forces.Provider().Name(),
		"resumed": r.resumed,
	}).Info("run started")

	for step := r.start + 1; step <= s.cfg.TotalSteps; step++ {
		if err := ctx.Err(); err != nil {
			return s.fail(r, res, step-1, err)
		}
		if s.stopRequested() {
			return s.softExit(r, res, "requested")
		}
		if budget > 0 && time.Since(wall) >= budget {
			return s.softExit(r, res, "wall-clock budget spent")
		}

		rngState, err := r.rng.State()
		if err != nil {
			return s.fail(r, res, step-1, err)
		}
		backup := pool.GetAndCopy(r.state.Beads)
		backupForces, backupEnergy := r.state.Forces, r.state.ThermostatEnergy
		started := time.Now()

		if err := r.stepper.Step(ctx, r.state); err != nil {
			// roll back to the last complete step for the checkpoint,
			// including the random numbers the thermostat already drew
			pool.Put(r.state.Beads)
			r.state.Beads, r.state.Forces, r.state.ThermostatEnergy = backup, backupForces, backupEnergy
			if rerr := r.rng.Restore(rngState); rerr != nil {
				s.log.WithError(rerr).Warn("could not rewind random number generator")
			}
			return s.fail(r, res, step-1, &dynamo.SimulationError{Step: step, Time: r.time + dt, Wrapped: err})
		}
		pool.Put(backup)

		r.time += dt
		res.StepsTaken++
		res.FinalStep = step
		res.Time = r.time
		s.step.Store(int64(step))
		s.mu.Lock()
		s.simTime = r.time
		s.mu.Unlock()

		values := s.evaluate(r, step)
		s.observe(step, values)
		if s.opts.Collector != nil {
			s.opts.Collector.RecordStep(time.Since(started))
		}

		if s.Phase() == PhaseCheckpointed {
			s.setPhase(PhaseRunning)
		}
		if err := s.emit(r, step, values); err != nil {
			return s.fail(r, res, step, err)
		}
		if c, ok := r.stepper.(motion.Converger); ok && c.Converged() {
			s.log.WithField("step", step).Info("geometry optimization converged")
			break
		}
	}

	if err := s.checkpoint(r, res.FinalStep); err != nil {
		s.log.WithError(err).Warn("final checkpoint failed")
	}
	s.finish(r, res)
	s.setPhase(PhaseDone)
	res.Phase = PhaseDone
	s.log.WithFields(logrus.Fields{
		"steps": res.StepsTaken,
		"drift": res.EnergyDrift,
		"wall":  time.Since(wall).Round(time.Millisecond),
	}).Info("run finished")
	return res, nil
}

func (s *Simulator) init(ctx context.Context) (*run, error) {
	cfg := s.cfg
	r := &run{start: cfg.Step, rng: prng.New(cfg.Seed)}

	r.registry = s.opts.Forces
	if r.registry == nil {
		var hooks socket.Hooks
		if s.opts.Collector != nil {
			hooks = s.opts.Collector.SocketHooks(cfg.ProviderName())
		}
		reg, err := forcefield.FromConfig(cfg, hooks)
		if err != nil {
			return nil, err
		}
		r.registry = reg
	}
	forces, err := r.registry.Bind(cfg.System.Forces)
	if err != nil {
		return r, err
	}
	r.forces = forces

	st := &motion.State{Cell: cfg.System.Cell}
	switch cfg.System.Init.Mode {
	case config.InitCheckpoint:
		if err := s.restore(r, st); err != nil {
			return r, err
		}
	default:
		b, err := motion.InitBeads(cfg.System.NBeads, cfg.System.Init)
		if err != nil {
			return r, err
		}
		st.Beads = b
	}
	r.state = st

	r.modes = motion.NewNormalModes(st.Beads.NBeads(), cfg.System.Temperature)
	r.stepper, err = motion.Build(cfg.System.Motion, motion.Env{
		Forces:      r.forces,
		Modes:       r.modes,
		RNG:         r.rng,
		Temperature: cfg.System.Temperature,
		NAtoms:      st.Beads.NAtoms(),
	})
	if err != nil {
		return r, err
	}
	if !r.resumed {
		if err := motion.InitVelocities(st.Beads, cfg.System.Velocities, r.stepper.FixCOM(), r.rng); err != nil {
			return r, err
		}
	}

	r.scheduler, err = output.New(cfg.Output, output.Options{
		Dir:    s.opts.Dir,
		NBeads: st.Beads.NBeads(),
		Resume: r.resumed,
	})
	if err != nil {
		return r, err
	}

	st.Forces, err = r.forces.Compute(ctx, st.Beads, st.Cell)
	if err != nil {
		if cerr := r.scheduler.Checkpoint(s.snapshot(r, r.start)); cerr != nil {
			s.log.WithError(cerr).Warn("could not write checkpoint after failure")
		}
		return r, err
	}
	return r, nil
}

// restore loads the checkpoint named by the init config. The checkpoint
// step is used unless the config sets a starting step of its own.
func (s *Simulator) restore(r *run, st *motion.State) error {
	cfg := s.cfg
	cp, err := output.LoadCheckpoint(cfg.System.Init.File)
	if err != nil {
		return err
	}
	b, err := cp.Beads()
	if err != nil {
		return err
	}
	if b.NBeads() != cfg.System.NBeads {
		return fmt.Errorf("%w: checkpoint has %d beads, config asks for %d",
			dynamo.ErrDimensionMismatch, b.NBeads(), cfg.System.NBeads)
	}
	if len(cp.PRNG) > 0 {
		if err := r.rng.Restore(cp.PRNG); err != nil {
			return err
		}
	}
	st.Beads = b
	st.ThermostatEnergy = cp.ThermostatEnergy
	if st.Cell.IsZero() {
		st.Cell = dynamo.Cell{H: cp.Cell}
	}
	if cfg.Step == 0 {
		r.start = cp.Step
	}
	r.time = cp.Time
	r.resumed = true
	s.step.Store(int64(r.start))
	s.log.WithFields(logrus.Fields{"file": cfg.System.Init.File, "step": r.start}).Info("resuming from checkpoint")
	return nil
}

func (s *Simulator) evaluate(r *run, step int) properties.Values {
	return properties.Evaluate(properties.Input{
		Step:             step,
		Time:             r.time,
		Beads:            r.state.Beads,
		Forces:           r.state.Forces,
		Cell:             r.state.Cell,
		OmegaP:           r.modes.OmegaP(),
		Temperature:      s.cfg.System.Temperature,
		ThermostatEnergy: r.state.ThermostatEnergy,
		FixCOM:           r.stepper.FixCOM(),
	})
}

func (s *Simulator) observe(step int, v properties.Values) {
	for _, m := range s.metrics {
		m.Observe(step, v)
	}
	for _, o := range s.observers {
		o.OnStep(step, v)
	}
	if c := s.opts.Collector; c != nil {
		c.RecordProperties(v)
		c.RecordDrift(s.drift.Current())
	}
}

func (s *Simulator) snapshot(r *run, step int) *output.Snapshot {
	return &output.Snapshot{
		Step:             step,
		Time:             r.time,
		Beads:            r.state.Beads,
		Forces:           r.state.Forces,
		Cell:             r.state.Cell,
		ThermostatEnergy: r.state.ThermostatEnergy,
		RunID:            s.opts.RunID,
		RNG:              r.rng,
	}
}

func (s *Simulator) emit(r *run, step int, v properties.Values) error {
	if !r.scheduler.Due(step) {
		return nil
	}
	snap := s.snapshot(r, step)
	snap.Properties = v
	if err := r.scheduler.OnStep(step, snap); err != nil {
		return err
	}
	if r.scheduler.CheckpointDue(step) {
		s.checkpointed()
	}
	return nil
}

func (s *Simulator) checkpoint(r *run, step int) error {
	if err := r.scheduler.Checkpoint(s.snapshot(r, step)); err != nil {
		return err
	}
	s.checkpointed()
	return nil
}

func (s *Simulator) checkpointed() {
	s.setPhase(PhaseCheckpointed)
	if s.opts.Collector != nil {
		s.opts.Collector.RecordCheckpoint()
	}
}

func (s *Simulator) softExit(r *run, res *Result, reason string) (*Result, error) {
	res.Stopped = true
	s.log.WithFields(logrus.Fields{"step": res.FinalStep, "reason": reason}).Info("stopping early")
	if err := s.checkpoint(r, res.FinalStep); err != nil {
		s.finish(r, res)
		s.setPhase(PhaseFailed)
		res.Phase = PhaseFailed
		return res, err
	}
	s.finish(r, res)
	s.setPhase(PhaseDone)
	res.Phase = PhaseDone
	return res, fmt.Errorf("%s: %w", reason, dynamo.ErrSoftExit)
}

// fail writes a best-effort checkpoint of the last complete step and
// returns err.
func (s *Simulator) fail(r *run, res *Result, step int, err error) (*Result, error) {
	var werr *dynamo.OutputWriteError
	if !errors.As(err, &werr) {
		if cerr := r.scheduler.Checkpoint(s.snapshot(r, step)); cerr != nil {
			s.log.WithError(cerr).Warn("could not write checkpoint after failure")
		}
	}
	s.finish(r, res)
	s.setPhase(PhaseFailed)
	res.Phase = PhaseFailed
	s.log.WithError(err).WithField("step", step).Error("run failed")
	return res, err
}

func (s *Simulator) finish(r *run, res *Result) {
	res.EnergyDrift = s.drift.Value()
	res.Metrics = metrics.Summarize(s.metrics)
	if r.scheduler != nil {
		if err := r.scheduler.Close(); err != nil {
			s.log.WithError(err).Warn("closing output")
		}
		res.Files = r.scheduler.Files()
	}
}

func (r *run) close(log *logrus.Entry) {
	if r.scheduler != nil {
		if err := r.scheduler.Close(); err != nil {
			log.WithError(err).Warn("closing output")
		}
	}
	if r.registry != nil {
		if err := r.registry.Close(); err != nil {
			log.WithError(err).Debug("closing force providers")
		}
	}
}
