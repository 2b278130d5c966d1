package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mrfox365/traveler-api/internal/cli"
	"github.com/mrfox365/traveler-api/internal/config"
)

var (
	version = "0.1.0"
)

func main() {
	err := rootCmd.Execute()
	if errors.Is(err, cli.ErrThresholdsFailed) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.ExitThresholdsFailed)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "travelerload",
	Short: "Load-test harness for the travel-plan API",
	Long: `travelerload drives the travel-plan REST API with virtual users and
reports k6-style metrics, checks and thresholds.

Built-in scenarios: smoke, load, stress, spike, endurance, sharding.

Examples:
  travelerload run smoke                         # 1 VU contract check
  travelerload run load --base-url http://api:8080
  travelerload run stress --time-scale 0.1       # 10x shorter rehearsal
  travelerload run --scenario-file ramp.yaml --live
  travelerload mock --latency 20ms               # local fake backend
  travelerload runs list`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Initialize(); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}
		return nil
	},
}

// Flags shared by every command
var (
	flagConfig  string
	flagEnvFile string
)

// Flags for run
var (
	flagBaseURL       string
	flagScenarioFile  string
	flagVUs           int
	flagDuration      time.Duration
	flagTimeScale     float64
	flagTimeout       time.Duration
	flagLive          bool
	flagMetricsAddr   string
	flagSummaryExport string
	flagNoHistory     bool
	flagSeed          int64
)

// Flags for runs, mock, shards
var (
	flagLimit       int
	flagScenario    string
	flagMockAddr    string
	flagMockLatency time.Duration
	flagRegistryDSN string

	flagScenarioOutput string
	flagRunOutput      string
	flagShardOutput    string
)

var runCmd = &cobra.Command{
	Use:   "run [scenario]",
	Short: "Run a scenario against the API",
	Long: `Run a built-in scenario, optionally tuned by a YAML/JSONC scenario file.

Without a scenario name in an interactive terminal, a selector is shown.
Exits with code 99 when a threshold is crossed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := cli.RunOptions{
			ScenarioFile:  flagScenarioFile,
			BaseURL:       flagBaseURL,
			VUs:           flagVUs,
			Duration:      flagDuration,
			TimeScale:     flagTimeScale,
			Timeout:       flagTimeout,
			Seed:          flagSeed,
			Live:          flagLive,
			MetricsAddr:   flagMetricsAddr,
			SummaryExport: flagSummaryExport,
			NoHistory:     flagNoHistory,
		}
		if len(args) > 0 {
			opts.Scenario = args[0]
		}
		if opts.Scenario == "" && opts.ScenarioFile == "" {
			name, err := cli.SelectScenario()
			if err != nil {
				return err
			}
			opts.Scenario = name
		}

		app, err := setup(cmd, flagLive)
		if err != nil {
			return err
		}
		defer app.Close()

		ctx, stop := signalContext()
		defer stop()

		_, err = cli.Run(ctx, app, opts)
		return err
	},
}

var scenariosCmd = &cobra.Command{
	Use:   "scenarios",
	Short: "Inspect built-in scenarios",
}

var scenariosListCmd = &cobra.Command{
	Use:   "list",
	Short: "List built-in scenarios",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cli.ListScenarios(cmd.OutOrStdout())
	},
}

var scenariosShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Print a scenario in scenario-file form",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := cli.RunOptions{Scenario: args[0], ScenarioFile: flagScenarioFile}
		return cli.ShowScenario(cmd.OutOrStdout(), opts, flagScenarioOutput)
	},
}

var scenariosExportCmd = &cobra.Command{
	Use:   "export <name> <file>",
	Short: "Write a scenario file (.yaml, .yml, .json) to edit and run with --scenario-file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cli.ExportScenario(args[0], args[1]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Exported %s to %s\n", args[0], args[1])
		return nil
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Browse stored run history",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored runs, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := setup(cmd, false)
		if err != nil {
			return err
		}
		defer app.Close()
		return cli.ListRuns(app, flagScenario, flagLimit)
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a stored run with endpoints, thresholds and checks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		app, err := setup(cmd, false)
		if err != nil {
			return err
		}
		defer app.Close()
		return cli.ShowRun(app, id, flagRunOutput)
	},
}

var runsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a stored run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		app, err := setup(cmd, false)
		if err != nil {
			return err
		}
		defer app.Close()
		return cli.DeleteRun(app, id)
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the API answers /health with UP",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := setup(cmd, false)
		if err != nil {
			return err
		}
		defer app.Close()

		ctx, stop := signalContext()
		defer stop()
		return cli.Health(ctx, app, flagBaseURL, flagTimeout)
	},
}

var mockCmd = &cobra.Command{
	Use:   "mock",
	Short: "Serve an in-memory fake of the travel-plan API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := setup(cmd, false)
		if err != nil {
			return err
		}
		defer app.Close()

		ctx, stop := signalContext()
		defer stop()
		return cli.Mock(ctx, app, cli.MockOptions{Addr: flagMockAddr, Latency: flagMockLatency})
	},
}

var shardsCmd = &cobra.Command{
	Use:   "shards",
	Short: "Inspect the backend's Postgres shards",
}

var shardsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count travel plans and database size per shard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := setup(cmd, false)
		if err != nil {
			return err
		}
		defer app.Close()

		ctx, stop := signalContext()
		defer stop()
		return cli.ShardStats(ctx, app, flagRegistryDSN, flagShardOutput)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file (default ~/.travelerload/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagEnvFile, "env-file", "", "Load environment variables from file")

	// Run command flags
	runCmd.Flags().StringVar(&flagBaseURL, "base-url", "", "API base URL (overrides config)")
	runCmd.Flags().StringVarP(&flagScenarioFile, "scenario-file", "f", "", "YAML/JSONC scenario file")
	runCmd.Flags().IntVar(&flagVUs, "vus", 0, "Run a constant number of VUs instead of the stages")
	runCmd.Flags().DurationVar(&flagDuration, "duration", 0, "Run for a fixed duration instead of the stages")
	runCmd.Flags().Float64Var(&flagTimeScale, "time-scale", 1, "Multiply every stage duration")
	runCmd.Flags().DurationVar(&flagTimeout, "timeout", 0, "Per-request timeout (overrides config)")
	runCmd.Flags().BoolVar(&flagLive, "live", false, "Show the live dashboard")
	runCmd.Flags().StringVar(&flagMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address during the run")
	runCmd.Flags().StringVar(&flagSummaryExport, "summary-export", "", "Write the JSON summary to this file")
	runCmd.Flags().BoolVar(&flagNoHistory, "no-history", false, "Do not store the run")
	runCmd.Flags().Int64Var(&flagSeed, "seed", 0, "Data generator seed (0 = time based)")

	// Scenario command flags
	scenariosShowCmd.Flags().StringVarP(&flagScenarioOutput, "output", "o", "yaml", "Output format (yaml/json)")
	scenariosShowCmd.Flags().StringVarP(&flagScenarioFile, "scenario-file", "f", "", "Apply a scenario file before printing")
	scenariosCmd.AddCommand(scenariosListCmd, scenariosShowCmd, scenariosExportCmd)

	// Runs command flags
	runsListCmd.Flags().IntVarP(&flagLimit, "limit", "n", 20, "Maximum number of runs")
	runsListCmd.Flags().StringVarP(&flagScenario, "scenario", "s", "", "Only runs of this scenario")
	runsShowCmd.Flags().StringVarP(&flagRunOutput, "output", "o", "yaml", "Output format (yaml/json)")
	runsCmd.AddCommand(runsListCmd, runsShowCmd, runsDeleteCmd)

	healthCmd.Flags().StringVar(&flagBaseURL, "base-url", "", "API base URL (overrides config)")
	healthCmd.Flags().DurationVar(&flagTimeout, "timeout", 0, "Request timeout (overrides config)")

	mockCmd.Flags().StringVar(&flagMockAddr, "addr", "", "Listen address (default from config, 127.0.0.1:8080)")
	mockCmd.Flags().DurationVar(&flagMockLatency, "latency", 0, "Artificial latency added to every request")

	shardsStatsCmd.Flags().StringVar(&flagRegistryDSN, "registry-dsn", "", "Postgres DSN of the shard registry (overrides config)")
	shardsStatsCmd.Flags().StringVarP(&flagShardOutput, "output", "o", "table", "Output format (table/yaml/json)")
	shardsCmd.AddCommand(shardsStatsCmd)

	// Add subcommands
	rootCmd.AddCommand(runCmd, scenariosCmd, runsCmd, healthCmd, mockCmd, shardsCmd)
}

// setup loads config and logging for commands that need them
func setup(cmd *cobra.Command, quiet bool) (*cli.App, error) {
	return cli.Setup(cli.SetupOptions{
		ConfigPath: flagConfig,
		EnvFile:    flagEnvFile,
		Quiet:      quiet,
		Out:        cmd.OutOrStdout(),
	})
}

// signalContext is cancelled by SIGINT or SIGTERM; the runner treats that as a graceful stop
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid run id %q", s)
	}
	return id, nil
}
