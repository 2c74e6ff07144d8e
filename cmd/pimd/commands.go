package main

import (
	"bytes"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/san-kum/pimd/internal/config"
	"github.com/san-kum/pimd/internal/forcefield"
	"github.com/san-kum/pimd/internal/logging"
	"github.com/san-kum/pimd/internal/physics"
	"github.com/san-kum/pimd/internal/socket"
	"github.com/san-kum/pimd/internal/storage"
	"github.com/san-kum/pimd/internal/units"
)

func validateConfig(cmd *cobra.Command, args []string) error {
	vars, err := resolveVars()
	if err != nil {
		return err
	}
	doc, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	cfg, err := config.ParseWithOptions(bytes.NewReader(doc), vars, config.ParseOptions{KeepPlaceholders: keepVars})
	if err != nil {
		return err
	}

	fmt.Printf("%s: ok\n", args[0])
	fmt.Printf("provider: %s\n", cfg.ProviderName())
	fmt.Printf("beads: %d  atoms: %d  steps: %d\n", cfg.System.NBeads, len(cfg.System.Init.Labels), cfg.TotalSteps)
	if len(cfg.Unresolved) > 0 {
		fmt.Printf("unresolved: %s\n", strings.Join(cfg.Unresolved, ", "))
	}
	return nil
}

func dumpConfig(cmd *cobra.Command, args []string) error {
	vars, err := resolveVars()
	if err != nil {
		return err
	}
	cfg, err := config.ParseFile(args[0], vars)
	if err != nil {
		return err
	}
	out, err := config.Dump(cfg)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(out)
	return err
}

func convertUnits(cmd *cobra.Command, args []string) error {
	switch len(args) {
	case 0:
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "DIMENSION\tUNITS")
		for _, dim := range units.Dimensions() {
			fmt.Fprintf(w, "%s\t%s\n", dim, strings.Join(units.Units(dim), ", "))
		}
		return w.Flush()
	case 3:
	default:
		return fmt.Errorf("want [value] [from] [to] or no arguments")
	}

	value, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return fmt.Errorf("invalid value %q", args[0])
	}
	out, err := units.Convert(value, args[1], args[2])
	if err != nil {
		return err
	}
	fmt.Printf("%.10g %s\n", out, args[2])
	return nil
}

func runDriver(cmd *cobra.Command, args []string) error {
	if _, err := logging.Setup(config.Low, logLevel); err != nil {
		return err
	}
	pc := &config.PotentialConfig{
		Name:    driverName,
		Kind:    config.PotentialKind(potential),
		K:       potK,
		A:       potA,
		B:       potB,
		Epsilon: potEpsilon,
		Sigma:   potSigma,
		Cutoff:  potCutoff,
	}
	pot, err := forcefield.NewPotential(pc)
	if err != nil {
		return err
	}

	ln, err := socket.Listen(driverMode, driverAddress, driverPort)
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{"addr": ln.Addr().String(), "potential": pot.Kind()}).Info("driver listening")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d := socket.NewDriver(physics.NewProvider(driverName, pot, false), nil)
	if err := d.Serve(ctx, ln); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func listRuns(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	runs, err := st.List()
	if err != nil {
		return err
	}

	if jsonOut {
		return storage.ExportJSON(os.Stdout, runs)
	}

	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCONFIG\tTIME\tSTATUS\tBEADS\tSTEPS\tWALL\tDRIFT")

	for _, run := range runs {
		status := run.Status
		if run.Stopped {
			status += " (stopped)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d/%d\t%.2fs\t%.2e\n",
			run.ID,
			run.Config,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			status,
			run.NBeads,
			run.FinalStep,
			run.StepsRequested,
			run.WallTime,
			run.EnergyDrift,
		)
	}

	return w.Flush()
}

func listPresets(cmd *cobra.Command, args []string) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tDESCRIPTION\tPLACEHOLDERS")
	for _, name := range config.ListPresets() {
		p, _ := config.GetPreset(name)
		fmt.Fprintf(w, "%s\t%s\t%s\n", name, p.Description, strings.Join(config.Placeholders([]byte(p.Document)), ","))
	}
	return w.Flush()
}

func initPreset(cmd *cobra.Command, args []string) error {
	p, err := config.GetPreset(args[0])
	if err != nil {
		return fmt.Errorf("%w (available: %s)", err, strings.Join(config.ListPresets(), ", "))
	}
	vars, err := config.ParseAssignments(assignments)
	if err != nil {
		return err
	}
	doc, err := p.Render(vars)
	if err != nil {
		return err
	}
	if err := os.WriteFile(args[1], doc, 0o644); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", args[1])
	return nil
}
