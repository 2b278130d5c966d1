package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/mrfox365/traveler-api/internal/history"
	"github.com/mrfox365/traveler-api/internal/mockapi"
	"github.com/mrfox365/traveler-api/internal/report"
	"github.com/mrfox365/traveler-api/internal/scenario"
	"github.com/mrfox365/traveler-api/internal/shards"
)

// ListScenarios prints the built-in scenarios
func ListScenarios(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tMAX VUS\tDURATION\tDESCRIPTION")
	for _, sc := range scenario.All() {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", sc.Name, sc.MaxVUs(), scenario.FormatDuration(sc.TotalDuration()), sc.Description)
	}
	return tw.Flush()
}

// ShowScenario prints a scenario in file form, so it can be copied and edited
func ShowScenario(w io.Writer, opts RunOptions, format string) error {
	sc, err := ResolveScenario(opts)
	if err != nil {
		return err
	}
	data, err := scenario.Marshal(sc, format)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// ExportScenario writes a scenario to path; the format follows the extension
func ExportScenario(name, path string) error {
	sc, err := scenario.Lookup(name)
	if err != nil {
		return err
	}
	return scenario.Export(sc, path)
}

// ListRuns prints stored runs, newest first
func ListRuns(app *App, scenarioName string, limit int) error {
	mgr, err := history.NewManager(app.Config.DatabasePath)
	if err != nil {
		return err
	}
	defer mgr.Close()

	runs, err := mgr.ListRuns(scenarioName, limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(app.Out, "No runs recorded yet.")
		return nil
	}

	tw := tabwriter.NewWriter(app.Out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tSCENARIO\tSTATUS\tRESULT\tDURATION\tREQS\tERRORS\tCONFLICTS\tP95")
	for _, r := range runs {
		verdict := "pass"
		if !r.Passed {
			verdict = "FAIL"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%d\t%.2f%%\t%.2f%%\t%s\n",
			r.ID,
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.Scenario,
			r.Status,
			verdict,
			report.FormatDuration(time.Duration(r.DurationMs)*time.Millisecond),
			r.HTTPReqs,
			r.APIErrorRate*100,
			r.ConflictRate*100,
			report.FormatMs(r.P95DurationMs))
	}
	return tw.Flush()
}

// ShowRun prints one stored run with its details as yaml or json
func ShowRun(app *App, id int64, format string) error {
	mgr, err := history.NewManager(app.Config.DatabasePath)
	if err != nil {
		return err
	}
	defer mgr.Close()

	run, err := mgr.GetRun(id)
	if err != nil {
		return err
	}
	return encode(app.Out, run, format)
}

// DeleteRun removes one stored run
func DeleteRun(app *App, id int64) error {
	mgr, err := history.NewManager(app.Config.DatabasePath)
	if err != nil {
		return err
	}
	defer mgr.Close()

	if err := mgr.DeleteRun(id); err != nil {
		return err
	}
	fmt.Fprintf(app.Out, "Deleted run %d\n", id)
	return nil
}

func encode(w io.Writer, v any, format string) error {
	switch strings.ToLower(format) {
	case "", "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(v)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	return fmt.Errorf("unsupported output format %q (use yaml or json)", format)
}

// Health performs a single health check against the backend
func Health(ctx context.Context, app *App, baseURL string, timeout time.Duration) error {
	client, err := app.NewClient(baseURL, timeout, 1, nil)
	if err != nil {
		return err
	}

	start := time.Now()
	if err := client.CheckHealth(ctx); err != nil {
		return fmt.Errorf("%s is not healthy: %w", client.Endpoints().BaseURL(), err)
	}
	fmt.Fprintf(app.Out, "%s is UP (%s)\n", client.Endpoints().BaseURL(), report.FormatDuration(time.Since(start)))
	return nil
}

// MockOptions configure the fake backend
type MockOptions struct {
	Addr    string
	Latency time.Duration
}

// Mock serves the in-memory fake backend until ctx is done
func Mock(ctx context.Context, app *App, opts MockOptions) error {
	if opts.Addr == "" {
		opts.Addr = app.Config.Mock.Addr
	}
	if opts.Latency == 0 {
		opts.Latency = app.Config.Mock.Latency
	}

	srv := mockapi.NewServer(mockapi.Options{Latency: opts.Latency, Logger: app.Logger})
	if err := srv.Start(opts.Addr); err != nil {
		return err
	}
	fmt.Fprintf(app.Out, "Mock travel-plan API on http://%s (ctrl+c to stop)\n", srv.Addr())

	<-ctx.Done()

	store := srv.Store()
	app.Logger.Info("Mock backend stopping",
		zap.Int("plans", store.PlanCount()),
		zap.Int("locations", store.LocationCount()))
	return srv.Stop()
}

// ShardStats prints row counts and sizes of every shard in the registry
func ShardStats(ctx context.Context, app *App, registryDSN, format string) error {
	if registryDSN == "" {
		registryDSN = app.Config.Shards.RegistryDSN
	}

	rep, err := shards.Stats(ctx, registryDSN, shards.Options{
		ConnectTimeout: app.Config.Shards.ConnectTimeout,
		Logger:         app.Logger,
	})
	if err != nil {
		return err
	}

	if format == "" || format == "table" {
		return shards.Write(app.Out, rep)
	}
	return encode(app.Out, rep, format)
}
