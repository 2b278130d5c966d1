// Package cli implements the travelerload commands. cmd/travelerload only
// parses flags; everything it runs lives here so it can be tested.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/mrfox365/traveler-api/internal/apiclient"
	"github.com/mrfox365/traveler-api/internal/config"
	"github.com/mrfox365/traveler-api/internal/datagen"
	"github.com/mrfox365/traveler-api/internal/history"
	"github.com/mrfox365/traveler-api/internal/logger"
	"github.com/mrfox365/traveler-api/internal/metrics"
	"github.com/mrfox365/traveler-api/internal/report"
	"github.com/mrfox365/traveler-api/internal/runner"
	"github.com/mrfox365/traveler-api/internal/scenario"
	"github.com/mrfox365/traveler-api/internal/tui"
)

// ExitThresholdsFailed is the process exit code when a threshold is crossed
const ExitThresholdsFailed = 99

// ErrThresholdsFailed is returned by Run when the run finished but a threshold was crossed
var ErrThresholdsFailed = errors.New("some thresholds have failed")

// progressInterval is how often a non-live run logs its progress
const progressInterval = 10 * time.Second

// App carries the loaded configuration and logger shared by all commands
type App struct {
	Config *config.Config
	Logger *zap.Logger
	Out    io.Writer

	closer io.Closer
}

// SetupOptions select the config sources
type SetupOptions struct {
	ConfigPath string
	EnvFile    string
	// Quiet keeps terminal log output away from a full-screen UI
	Quiet bool
	Out   io.Writer
}

// Setup loads the configuration and builds the logger
func Setup(opts SetupOptions) (*App, error) {
	cfg, err := config.Load(opts.ConfigPath, opts.EnvFile)
	if err != nil {
		return nil, err
	}

	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	app := &App{Config: cfg, Out: out}
	if opts.Quiet && (cfg.Log.Output == "" || cfg.Log.Output == "stderr" || cfg.Log.Output == "stdout") {
		app.Logger = logger.NewWriter(cfg.Log, io.Discard)
		return app, nil
	}

	log, closer, err := logger.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	app.Logger = log
	app.closer = closer
	return app, nil
}

// Close flushes the logger and releases its output
func (a *App) Close() error {
	_ = a.Logger.Sync()
	if a.closer != nil {
		return a.closer.Close()
	}
	return nil
}

// NewClient builds an API client for the configured backend
func (a *App) NewClient(baseURL string, timeout time.Duration, maxConns int, collector *metrics.Collector) (*apiclient.Client, error) {
	if baseURL == "" {
		baseURL = a.Config.BaseURL
	}
	transport := a.Config.Transport(maxConns)
	if timeout > 0 {
		transport.Timeout = timeout
	}
	return apiclient.New(apiclient.Options{
		BaseURL:          baseURL,
		Transport:        transport,
		Collector:        collector,
		Logger:           a.Logger,
		ValidationMarker: a.Config.ValidationMarker,
		Headers:          a.Config.Headers,
	})
}

// RunOptions contains options for running a scenario
type RunOptions struct {
	Scenario     string
	ScenarioFile string
	BaseURL      string
	// VUs and Duration replace the stages with a constant-VU shape
	VUs       int
	Duration  time.Duration
	TimeScale float64
	Timeout   time.Duration
	Seed      int64
	Live      bool

	MetricsAddr   string
	SummaryExport string
	NoHistory     bool
}

// ResolveScenario picks the built-in or file scenario and applies the shape overrides
func ResolveScenario(opts RunOptions) (scenario.Scenario, error) {
	var sc scenario.Scenario
	var err error

	switch {
	case opts.ScenarioFile != "":
		f, ferr := scenario.LoadFile(findScenarioFile(opts.ScenarioFile))
		if ferr != nil {
			return scenario.Scenario{}, ferr
		}
		if opts.Scenario != "" {
			base, lerr := scenario.Lookup(opts.Scenario)
			if lerr != nil {
				return scenario.Scenario{}, lerr
			}
			sc, err = f.Apply(base)
		} else {
			sc, err = f.Resolve()
		}
	case opts.Scenario != "":
		sc, err = scenario.Lookup(opts.Scenario)
	default:
		return scenario.Scenario{}, fmt.Errorf("a scenario name or --scenario-file is required")
	}
	if err != nil {
		return scenario.Scenario{}, err
	}

	if opts.VUs > 0 || opts.Duration > 0 {
		vus, d := opts.VUs, opts.Duration
		if vus <= 0 {
			vus = sc.MaxVUs()
		}
		if d <= 0 {
			d = sc.TotalDuration()
		}
		sc = sc.WithConstantVUs(vus, d)
	}
	if opts.TimeScale > 0 && opts.TimeScale != 1 {
		sc = sc.Scale(opts.TimeScale)
	}

	if err := sc.Validate(); err != nil {
		return scenario.Scenario{}, err
	}
	return sc, nil
}

// findScenarioFile falls back to the user scenarios directory for bare file names
func findScenarioFile(path string) string {
	if _, err := os.Stat(path); err == nil || filepath.Base(path) != path || config.ScenariosDir == "" {
		return path
	}
	candidate := filepath.Join(config.ScenariosDir, path)
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return path
}

// Run executes a scenario, prints the summary, exports and stores the result.
// It returns ErrThresholdsFailed alongside the result when a threshold was crossed.
func Run(ctx context.Context, app *App, opts RunOptions) (*runner.Result, error) {
	sc, err := ResolveScenario(opts)
	if err != nil {
		return nil, err
	}

	seed := opts.Seed
	if seed == 0 {
		seed = app.Config.Seed
	}

	collector := metrics.NewCollector()

	metricsAddr := opts.MetricsAddr
	if metricsAddr == "" {
		metricsAddr = app.Config.MetricsAddr
	}
	if metricsAddr != "" {
		stop, err := serveMetrics(app.Logger, metricsAddr, sc.Name, collector)
		if err != nil {
			return nil, err
		}
		defer stop()
	}

	client, err := app.NewClient(opts.BaseURL, opts.Timeout, sc.MaxVUs(), collector)
	if err != nil {
		return nil, err
	}

	r, err := runner.New(sc, runner.Deps{Client: client, Data: datagen.New(seed)}, runner.Options{Logger: app.Logger})
	if err != nil {
		return nil, err
	}

	var res *runner.Result
	if opts.Live {
		res, err = tui.Run(ctx, r)
	} else {
		res, err = runPlain(ctx, app.Logger, r)
	}
	if err != nil {
		return res, fmt.Errorf("run failed: %w", err)
	}

	if err := report.Summary(app.Out, res); err != nil {
		return res, fmt.Errorf("failed to write summary: %w", err)
	}

	if opts.SummaryExport != "" {
		if err := exportSummary(opts.SummaryExport, res); err != nil {
			return res, err
		}
		app.Logger.Info("Summary exported", zap.String("path", opts.SummaryExport))
	}

	if !opts.NoHistory && !app.Config.NoHistory {
		if err := saveHistory(app, res); err != nil {
			// the run itself succeeded; losing its history entry is not fatal
			app.Logger.Warn("Failed to save run history", zap.Error(err))
		}
	}

	if !res.Passed() {
		return res, ErrThresholdsFailed
	}
	return res, nil
}

// runPlain runs r while logging its progress periodically
func runPlain(ctx context.Context, log *zap.Logger, r *runner.Runner) (*runner.Result, error) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(progressInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				p := r.Progress()
				log.Info("Progress",
					zap.Duration("elapsed", p.Elapsed.Round(time.Second)),
					zap.Duration("total", p.Total),
					zap.Int("vus", p.ActiveVUs),
					zap.Int("target_vus", p.TargetVUs),
					zap.Int64("iterations", p.Iterations),
					zap.Int64("requests", p.Requests))
			}
		}
	}()
	defer close(done)

	return r.Run(ctx)
}

// serveMetrics exposes a Prometheus mirror of collector on addr
func serveMetrics(log *zap.Logger, addr, scenarioName string, collector *metrics.Collector) (func(), error) {
	exporter := metrics.NewExporter(scenarioName)
	collector.Attach(exporter)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on metrics address %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", exporter.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Metrics server stopped", zap.Error(err))
		}
	}()
	log.Info("Serving metrics", zap.String("addr", ln.Addr().String()))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

func exportSummary(path string, res *runner.Result) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, config.FilePermissions)
	if err != nil {
		return fmt.Errorf("failed to create summary file: %w", err)
	}
	defer f.Close()

	if err := report.JSON(f, res); err != nil {
		return fmt.Errorf("failed to write summary file: %w", err)
	}
	return nil
}

func saveHistory(app *App, res *runner.Result) error {
	mgr, err := history.NewManager(app.Config.DatabasePath)
	if err != nil {
		return err
	}
	defer mgr.Close()

	id, err := mgr.SaveResult(res)
	if err != nil {
		return err
	}
	app.Logger.Info("Run saved", zap.Int64("id", id), zap.String("db", app.Config.DatabasePath))
	return nil
}
