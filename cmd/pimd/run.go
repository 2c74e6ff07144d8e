package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/san-kum/pimd/internal/config"
	"github.com/san-kum/pimd/internal/dynamo"
	"github.com/san-kum/pimd/internal/logging"
	"github.com/san-kum/pimd/internal/metrics"
	"github.com/san-kum/pimd/internal/monitor"
	"github.com/san-kum/pimd/internal/sim"
	"github.com/san-kum/pimd/internal/softexit"
	"github.com/san-kum/pimd/internal/storage"
)

func resolveVars() (config.Vars, error) {
	return config.ResolveVars(varFiles, os.Environ(), assignments)
}

// runner is either a single simulator or an ensemble of replicas.
type runner interface {
	RequestStop()
	Run(ctx context.Context) ([]*sim.Result, error)
	monitor.StatusSource
}

type single struct{ s *sim.Simulator }

func (r single) RequestStop()         { r.s.RequestStop() }
func (r single) Status() []sim.Status { return monitor.Runs{r.s}.Status() }
func (r single) Run(ctx context.Context) ([]*sim.Result, error) {
	res, err := r.s.Run(ctx)
	return []*sim.Result{res}, err
}

func runSimulation(cmd *cobra.Command, args []string) error {
	path := args[0]

	vars, err := resolveVars()
	if err != nil {
		return err
	}
	cfg, err := config.ParseFile(path, vars)
	if err != nil {
		return err
	}
	if _, err := logging.Setup(cfg.Verbosity, logLevel); err != nil {
		return err
	}
	if replicas < 1 {
		return fmt.Errorf("--replicas must be at least 1, got %d", replicas)
	}

	st := storage.New(dataDir)
	if err := st.Init(); err != nil {
		return err
	}

	runID := storage.NewRunID()
	opts := sim.Options{RunID: runID, Dir: outDir}

	var (
		r        runner
		promHTTP http.Handler
	)
	if replicas == 1 {
		opts.Collector = metrics.NewCollector("pimd", runID)
		promHTTP = opts.Collector.Handler()
		s, err := sim.New(cfg, opts)
		if err != nil {
			return err
		}
		r = single{s}
	} else {
		// replicas share no collector; /metrics is served for single runs only
		r = sim.NewEnsemble(cfg, opts, replicas)
	}

	if metricsAddr != "" {
		srv, err := monitor.Start(metricsAddr, monitor.NewRouter(promHTTP, r))
		if err != nil {
			return fmt.Errorf("monitor: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
	}

	ctx, watcher, err := softexit.Watch(cmd.Context(), ".", r)
	if err != nil {
		return err
	}
	defer watcher.Close()

	logrus.WithFields(logrus.Fields{
		"run_id":   runID,
		"config":   path,
		"nbeads":   cfg.System.NBeads,
		"steps":    cfg.TotalSteps,
		"replicas": replicas,
	}).Info("starting run")

	started := time.Now()
	results, runErr := r.Run(ctx)
	wall := time.Since(started)

	stopped := errors.Is(runErr, dynamo.ErrSoftExit)
	for i, res := range results {
		id := runID
		if replicas > 1 {
			id = fmt.Sprintf("%s-%d", runID, i)
		}
		recErr := runErr
		if stopped {
			recErr = nil
		}
		replicaCfg := *cfg
		replicaCfg.Seed = cfg.Seed + int64(i)
		meta := storage.NewRecord(id, path, &replicaCfg, res, recErr, wall)
		if _, err := st.Save(meta); err != nil {
			logrus.WithError(err).Warn("could not record run")
		}
		fmt.Println(renderSummary(meta))
	}

	if stopped {
		return nil
	}
	return runErr
}
