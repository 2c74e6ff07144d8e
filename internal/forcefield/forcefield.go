// Package forcefield maps force provider names to implementations and
// evaluates every bead of a ring polymer against one of them.
package forcefield

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/san-kum/pimd/internal/config"
	"github.com/san-kum/pimd/internal/dynamo"
	"github.com/san-kum/pimd/internal/physics"
	"github.com/san-kum/pimd/internal/socket"
)

// Registry holds the declared providers by name.
type Registry struct {
	providers map[string]dynamo.ForceProvider
	wrap      map[string]bool
}

func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]dynamo.ForceProvider),
		wrap:      make(map[string]bool),
	}
}

// Register adds p. When wrap is set, positions are folded into the cell
// before they are sent.
func (r *Registry) Register(p dynamo.ForceProvider, wrap bool) error {
	if _, dup := r.providers[p.Name()]; dup {
		return fmt.Errorf("forcefield: %q declared twice", p.Name())
	}
	r.providers[p.Name()] = p
	r.wrap[p.Name()] = wrap
	return nil
}

func (r *Registry) Lookup(name string) (dynamo.ForceProvider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("forcefield: unknown provider %q (have %v)", name, r.Names())
	}
	return p, nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Close closes every provider and returns the first error.
func (r *Registry) Close() error {
	var first error
	for _, name := range r.Names() {
		if err := r.providers[name].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// FromConfig registers the provider declared in cfg.
func FromConfig(cfg *config.SimulationConfig, hooks socket.Hooks) (*Registry, error) {
	r := NewRegistry()
	switch {
	case cfg.Socket != nil:
		s := cfg.Socket
		client := socket.New(socket.Config{
			Name:       s.Name,
			Mode:       string(s.Mode),
			Address:    s.Address,
			Port:       s.Port,
			Slots:      s.Slots,
			Latency:    s.LatencyDuration(),
			Timeout:    s.TimeoutDuration(),
			Retries:    s.Retries,
			Parameters: s.Parameters,
		}, socket.IPICodec{}, hooks)
		if err := r.Register(client, s.PBC); err != nil {
			return nil, err
		}
	case cfg.Potential != nil:
		p, err := NewPotential(cfg.Potential)
		if err != nil {
			return nil, err
		}
		if err := r.Register(physics.NewProvider(cfg.Potential.Name, p, cfg.Potential.PBC), false); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("forcefield: no provider declared")
	}
	return r, nil
}

// NewPotential builds the embedded potential described by pc.
func NewPotential(pc *config.PotentialConfig) (physics.Potential, error) {
	switch pc.Kind {
	case config.Harmonic:
		return physics.NewHarmonic(pc.K), nil
	case config.DoubleWell:
		return physics.NewDoubleWell(pc.A, pc.B), nil
	case config.LennardJones:
		if pc.Sigma <= 0 {
			return nil, fmt.Errorf("forcefield %s: %w: sigma must be positive", pc.Name, dynamo.ErrParameterBounds)
		}
		return physics.NewLennardJones(pc.Epsilon, pc.Sigma, pc.Cutoff), nil
	}
	return nil, fmt.Errorf("forcefield %s: unknown potential %q", pc.Name, pc.Kind)
}

// Forces evaluates all beads against one provider.
type Forces struct {
	provider dynamo.ForceProvider
	wrap     bool
	log      *logrus.Entry
}

// Bind returns the evaluator for the provider registered under name.
func (r *Registry) Bind(name string) (*Forces, error) {
	p, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}
	return &Forces{provider: p, wrap: r.wrap[name], log: logrus.WithField("forcefield", name)}, nil
}

func (f *Forces) Provider() dynamo.ForceProvider { return f.provider }

// Compute fetches forces for every bead. It returns only once all beads
// have answered or one has failed.
func (f *Forces) Compute(ctx context.Context, beads *dynamo.Beads, cell dynamo.Cell) ([]*dynamo.ForceResult, error) {
	nb := beads.NBeads()
	results := make([]*dynamo.ForceResult, nb)
	err := dynamo.ForEach(ctx, nb, f.provider.Parallelism(), func(ctx context.Context, j int) error {
		q := beads.Q[j]
		if f.wrap && !cell.IsZero() {
			q = append([]float64(nil), q...)
			if err := cell.Wrap(q); err != nil {
				return err
			}
		}
		res, err := f.provider.Evaluate(ctx, dynamo.ForceRequest{Bead: j, Positions: q, Cell: cell})
		if err != nil {
			return err
		}
		if len(res.Forces) != len(beads.Q[j]) {
			return fmt.Errorf("%w: bead %d: %d force components for %d coordinates",
				dynamo.ErrDimensionMismatch, j, len(res.Forces), len(beads.Q[j]))
		}
		results[j] = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	f.log.WithField("beads", nb).Trace("forces evaluated")
	return results, nil
}
