package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mrfox365/traveler-api/internal/config"
	"github.com/mrfox365/traveler-api/internal/history"
	"github.com/mrfox365/traveler-api/internal/mockapi"
	"github.com/mrfox365/traveler-api/internal/runner"
	"github.com/mrfox365/traveler-api/internal/scenario"
)

func newTestApp(t *testing.T, baseURL string) (*App, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	return &App{
		Config: &config.Config{
			BaseURL:          baseURL,
			RequestTimeout:   5 * time.Second,
			ValidationMarker: "Validation",
			DatabasePath:     filepath.Join(t.TempDir(), "history.db"),
		},
		Logger: zap.NewNop(),
		Out:    &out,
	}, &out
}

func newBackend(t *testing.T) (*mockapi.Server, string) {
	t.Helper()
	backend := mockapi.NewServer(mockapi.Options{})
	ts := httptest.NewServer(backend.Handler())
	t.Cleanup(ts.Close)
	return backend, ts.URL
}

func TestResolveScenario(t *testing.T) {
	t.Run("built-in", func(t *testing.T) {
		sc, err := ResolveScenario(RunOptions{Scenario: "Load"})
		require.NoError(t, err)
		assert.Equal(t, "load", sc.Name)
		assert.Equal(t, 7*time.Minute, sc.TotalDuration())
	})

	t.Run("constant VUs", func(t *testing.T) {
		sc, err := ResolveScenario(RunOptions{Scenario: "stress", VUs: 5, Duration: 10 * time.Second})
		require.NoError(t, err)
		require.Len(t, sc.Stages, 1)
		assert.Equal(t, 5, sc.StartVUs)
		assert.Equal(t, scenario.Stage{Duration: 10 * time.Second, Target: 5}, sc.Stages[0])
	})

	t.Run("duration only keeps max VUs", func(t *testing.T) {
		sc, err := ResolveScenario(RunOptions{Scenario: "spike", Duration: time.Second})
		require.NoError(t, err)
		assert.Equal(t, scenario.Spike().MaxVUs(), sc.MaxVUs())
		assert.Equal(t, time.Second, sc.TotalDuration())
	})

	t.Run("time scale", func(t *testing.T) {
		sc, err := ResolveScenario(RunOptions{Scenario: "smoke", TimeScale: 0.5})
		require.NoError(t, err)
		assert.Equal(t, 30*time.Second, sc.TotalDuration())
	})

	t.Run("file on top of named base", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "short.yaml")
		require.NoError(t, os.WriteFile(path, []byte("stages:\n  - duration: 5s\n    target: 3\n"), 0644))

		sc, err := ResolveScenario(RunOptions{Scenario: "load", ScenarioFile: path})
		require.NoError(t, err)
		assert.Equal(t, "load", sc.Name)
		assert.Equal(t, 5*time.Second, sc.TotalDuration())
		assert.Equal(t, 3, sc.MaxVUs())
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := ResolveScenario(RunOptions{Scenario: "stres"})
		assert.ErrorContains(t, err, "did you mean stress")
	})

	t.Run("nothing selected", func(t *testing.T) {
		_, err := ResolveScenario(RunOptions{})
		assert.ErrorContains(t, err, "scenario name or --scenario-file is required")
	})
}

func TestFindScenarioFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, config.InitializeAt(dir))
	require.NoError(t, os.WriteFile(filepath.Join(config.ScenariosDir, "mine.yaml"), []byte("base: smoke\n"), 0644))

	assert.Equal(t, filepath.Join(config.ScenariosDir, "mine.yaml"), findScenarioFile("mine.yaml"))
	assert.Equal(t, "other.yaml", findScenarioFile("other.yaml"))
	assert.Equal(t, "./mine.yaml", findScenarioFile("./mine.yaml"))
}

func TestRun_AgainstMock(t *testing.T) {
	backend, url := newBackend(t)
	app, out := newTestApp(t, url)
	export := filepath.Join(t.TempDir(), "summary.json")

	res, err := Run(context.Background(), app, RunOptions{
		Scenario:      "sharding",
		VUs:           2,
		Duration:      300 * time.Millisecond,
		Seed:          7,
		SummaryExport: export,
	})
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, runner.StatusCompleted, res.Status)
	assert.True(t, res.Passed())
	assert.Positive(t, backend.Store().PlanCount())
	assert.Contains(t, out.String(), "sharding")
	assert.Contains(t, out.String(), "SHARDS")

	data, err := os.ReadFile(export)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, true, decoded["passed"])

	mgr, err := history.NewManager(app.Config.DatabasePath)
	require.NoError(t, err)
	defer mgr.Close()
	runs, err := mgr.ListRuns("sharding", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.True(t, runs[0].Passed)
}

func TestRun_ThresholdsFailed(t *testing.T) {
	_, url := newBackend(t)
	app, _ := newTestApp(t, url)

	path := filepath.Join(t.TempDir(), "strict.jsonc")
	body := `{
		// nothing may be sent
		"base": "sharding",
		"thresholds": {"http_reqs": ["count<1"]}
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	res, err := Run(context.Background(), app, RunOptions{
		ScenarioFile: path,
		VUs:          1,
		Duration:     200 * time.Millisecond,
		NoHistory:    true,
	})
	require.ErrorIs(t, err, ErrThresholdsFailed)
	require.NotNil(t, res)
	assert.NotEmpty(t, res.FailedThresholds())

	_, statErr := os.Stat(app.Config.DatabasePath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRuns_ListShowDelete(t *testing.T) {
	app, out := newTestApp(t, "http://localhost:8080")

	require.NoError(t, ListRuns(app, "", 10))
	assert.Contains(t, out.String(), "No runs recorded yet.")

	mgr, err := history.NewManager(app.Config.DatabasePath)
	require.NoError(t, err)
	id, err := mgr.Save(&history.Run{
		Scenario:  "load",
		BaseURL:   "http://localhost:8080",
		Status:    runner.StatusCompleted,
		Passed:    true,
		StartedAt: time.Now().Add(-time.Minute),
		EndedAt:   time.Now(),
		HTTPReqs:  42,
	})
	require.NoError(t, err)
	require.NoError(t, mgr.Close())

	out.Reset()
	require.NoError(t, ListRuns(app, "", 10))
	assert.Contains(t, out.String(), "load")
	assert.Contains(t, out.String(), "pass")

	out.Reset()
	require.NoError(t, ShowRun(app, id, "json"))
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	assert.Equal(t, float64(42), decoded["http_reqs"])

	out.Reset()
	require.NoError(t, ShowRun(app, id, "yaml"))
	assert.Contains(t, out.String(), "scenario: load")

	assert.ErrorContains(t, ShowRun(app, id, "xml"), "unsupported output format")

	require.NoError(t, DeleteRun(app, id))
	assert.ErrorIs(t, DeleteRun(app, id), history.ErrNotFound)
}

func TestScenarioCommands(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, ListScenarios(&buf))
	for _, name := range scenario.Names() {
		assert.Contains(t, buf.String(), name)
	}
	assert.Contains(t, buf.String(), "8m30s")

	buf.Reset()
	require.NoError(t, ShowScenario(&buf, RunOptions{Scenario: "spike"}, "yaml"))
	assert.Contains(t, buf.String(), "name: spike")

	path := filepath.Join(t.TempDir(), "endurance.yaml")
	require.NoError(t, ExportScenario("endurance", path))
	f, err := scenario.LoadFile(path)
	require.NoError(t, err)
	sc, err := f.Resolve()
	require.NoError(t, err)
	assert.Equal(t, scenario.Endurance().TotalDuration(), sc.TotalDuration())
}

func TestHealth(t *testing.T) {
	_, url := newBackend(t)
	app, out := newTestApp(t, url)

	require.NoError(t, Health(context.Background(), app, "", time.Second))
	assert.Contains(t, out.String(), "is UP")

	err := Health(context.Background(), app, "http://127.0.0.1:1", time.Second)
	assert.ErrorContains(t, err, "is not healthy")
}

func TestMock_StopsOnCancel(t *testing.T) {
	app, out := newTestApp(t, "http://localhost:8080")
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- Mock(ctx, app, MockOptions{Addr: "127.0.0.1:0"})
	}()

	select {
	case err := <-done:
		t.Fatalf("mock exited early: %v", err)
	case <-time.After(200 * time.Millisecond):
	}
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("mock did not stop")
	}
	assert.Contains(t, out.String(), "Mock travel-plan API on http://127.0.0.1:")
}

func TestSelector(t *testing.T) {
	m := newSelector(scenario.All())

	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyDown})
	updated, cmd := updated.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.Equal(t, "load", updated.(selectorModel).choice)
	assert.Empty(t, updated.View())

	m = newSelector(scenario.All())
	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	assert.Empty(t, updated.(selectorModel).choice)
}
