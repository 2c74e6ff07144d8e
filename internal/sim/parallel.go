package sim

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/san-kum/pimd/internal/config"
)

// Ensemble runs independent replicas of one config side by side. Replica i
// is seeded with seedStart+i and writes under <dir>/replica_<i>.
type Ensemble struct {
	cfg       *config.SimulationConfig
	opts      Options
	numRuns   int
	seedStart int64

	mu   sync.Mutex
	sims []*Simulator
}

func NewEnsemble(cfg *config.SimulationConfig, opts Options, numRuns int) *Ensemble {
	return &Ensemble{cfg: cfg, opts: opts, numRuns: numRuns, seedStart: cfg.Seed}
}

// RequestStop asks every replica for a soft exit.
func (e *Ensemble) RequestStop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range e.sims {
		s.RequestStop()
	}
}

func (e *Ensemble) Run(ctx context.Context) ([]*Result, error) {
	sims := make([]*Simulator, e.numRuns)
	for i := range sims {
		cfgCopy := *e.cfg
		cfgCopy.Seed = e.seedStart + int64(i)

		// each replica owns its providers
		opts := e.opts
		opts.Forces = nil
		opts.Collector = nil
		opts.Dir = filepath.Join(e.opts.Dir, fmt.Sprintf("replica_%d", i))
		opts.RunID = fmt.Sprintf("%s-%d", e.opts.RunID, i)

		s, err := New(&cfgCopy, opts)
		if err != nil {
			return nil, fmt.Errorf("replica %d: %w", i, err)
		}
		sims[i] = s
	}
	e.mu.Lock()
	e.sims = sims
	e.mu.Unlock()

	results := make([]*Result, e.numRuns)
	g, gctx := errgroup.WithContext(ctx)
	for i, s := range sims {
		g.Go(func() error {
			res, err := s.Run(gctx)
			results[i] = res
			if err != nil {
				return fmt.Errorf("replica %d: %w", i, err)
			}
			return nil
		})
	}
	return results, g.Wait()
}

// Status reports every replica started so far.
func (e *Ensemble) Status() []Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Status, 0, len(e.sims))
	for _, s := range e.sims {
		out = append(out, s.Status())
	}
	return out
}
