package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/san-kum/pimd/internal/logging"
)

var (
	dataDir     string
	logLevel    string
	metricsAddr string
	outDir      string
	varFiles    []string
	assignments []string
	replicas    int
	keepVars    bool
	jsonOut     bool
	// driver flags
	driverMode    string
	driverAddress string
	driverPort    int
	driverName    string
	potential     string
	potK          float64
	potA          float64
	potB          float64
	potEpsilon    float64
	potSigma      float64
	potCutoff     float64
)

// main registers the pimd commands and exits with status 1 when the chosen
// command fails.
func main() {
	settings, err := loadSettings()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logging.Init(os.Stderr)

	rootCmd := &cobra.Command{
		Use:           "pimd",
		Short:         "path-integral molecular dynamics driver",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", settings.DataDir, "run store directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", settings.LogLevel, "override the config verbosity (trace, debug, info, warn, error)")

	runCmd := &cobra.Command{
		Use:   "run [config.xml]",
		Short: "run a simulation",
		Args:  cobra.ExactArgs(1),
		RunE:  runSimulation,
	}
	addVarFlags(runCmd)
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", settings.MetricsAddr, "serve /metrics, /healthz and /status on this address")
	runCmd.Flags().StringVar(&outDir, "out", "", "directory for output files (default: working directory)")
	runCmd.Flags().IntVar(&replicas, "replicas", 1, "independent replicas with consecutive seeds")

	validateCmd := &cobra.Command{
		Use:   "validate [config.xml]",
		Short: "parse and check a config without running it",
		Args:  cobra.ExactArgs(1),
		RunE:  validateConfig,
	}
	addVarFlags(validateCmd)
	validateCmd.Flags().BoolVar(&keepVars, "raw", false, "accept unresolved placeholders and list them")

	dumpCmd := &cobra.Command{
		Use:   "dump [config.xml]",
		Short: "print the parsed config as yaml in internal units",
		Args:  cobra.ExactArgs(1),
		RunE:  dumpConfig,
	}
	addVarFlags(dumpCmd)

	unitsCmd := &cobra.Command{
		Use:   "units [value] [from] [to]",
		Short: "convert a value between units",
		Args:  cobra.RangeArgs(0, 3),
		RunE:  convertUnits,
	}

	driverCmd := &cobra.Command{
		Use:   "driver",
		Short: "serve an analytic potential over the socket protocol",
		Args:  cobra.NoArgs,
		RunE:  runDriver,
	}
	driverCmd.Flags().StringVar(&driverMode, "mode", "inet", "unix or inet")
	driverCmd.Flags().StringVar(&driverAddress, "address", "localhost", "host name or unix socket name")
	driverCmd.Flags().IntVar(&driverPort, "port", 65535, "inet port")
	driverCmd.Flags().StringVar(&driverName, "name", "driver", "provider name used in logs")
	driverCmd.Flags().StringVar(&potential, "potential", "harmonic", "harmonic, doublewell or lj")
	driverCmd.Flags().Float64Var(&potK, "k", 1.0, "harmonic force constant (atomic units)")
	driverCmd.Flags().Float64Var(&potA, "a", 1.0, "double well height parameter")
	driverCmd.Flags().Float64Var(&potB, "b", 1.0, "double well minimum position squared")
	driverCmd.Flags().Float64Var(&potEpsilon, "epsilon", 1.0, "lj well depth")
	driverCmd.Flags().Float64Var(&potSigma, "sigma", 1.0, "lj diameter")
	driverCmd.Flags().Float64Var(&potCutoff, "cutoff", 0, "lj cutoff, 0 for none")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list recorded runs",
		RunE:  listRuns,
	}
	listCmd.Flags().BoolVar(&jsonOut, "json", false, "print the records as json")

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "list built-in configs",
		RunE:  listPresets,
	}

	initCmd := &cobra.Command{
		Use:   "init [preset] [out.xml]",
		Short: "write a built-in config to a file",
		Args:  cobra.ExactArgs(2),
		RunE:  initPreset,
	}
	initCmd.Flags().StringArrayVar(&assignments, "set", nil, "placeholder value NAME=value (repeatable)")

	rootCmd.AddCommand(runCmd, validateCmd, dumpCmd, unitsCmd, driverCmd, listCmd, presetsCmd, initCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("error: ")+err.Error())
		os.Exit(1)
	}
}

func addVarFlags(cmd *cobra.Command) {
	cmd.Flags().StringArrayVar(&assignments, "set", nil, "placeholder value NAME=value (repeatable)")
	cmd.Flags().StringArrayVar(&varFiles, "vars", nil, "placeholder values from a .env or yaml file (repeatable)")
}
