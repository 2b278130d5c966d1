package tui

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrfox365/traveler-api/internal/metrics"
	"github.com/mrfox365/traveler-api/internal/runner"
)

type fakeSource struct {
	progress  runner.Progress
	collector *metrics.Collector
	stops     int
}

func (f *fakeSource) Progress() runner.Progress     { return f.progress }
func (f *fakeSource) Collector() *metrics.Collector { return f.collector }
func (f *fakeSource) Stop()                         { f.stops++ }

func newFake() *fakeSource {
	c := metrics.NewCollector()
	c.RecordRequest(metrics.RequestSample{Method: "POST", Endpoint: "/api/travel-plans", Status: 201, Duration: 20 * time.Millisecond, Expected: true, Tracked: true})
	c.RecordRequest(metrics.RequestSample{Method: "PUT", Endpoint: "/api/travel-plans/:id", Status: 409, Duration: 10 * time.Millisecond, Expected: true, Tracked: true})
	c.RecordIteration(50*time.Millisecond, false)
	return &fakeSource{
		collector: c,
		progress: runner.Progress{
			Elapsed:   30 * time.Second,
			Total:     time.Minute,
			Stage:     1,
			Stages:    3,
			TargetVUs: 10,
			ActiveVUs: 8,
		},
	}
}

func TestModel_TickRefreshes(t *testing.T) {
	src := newFake()
	m := NewModel(src, "load")
	require.NotNil(t, m.Init())

	updated, cmd := m.Update(tickMsg(time.Now()))
	require.NotNil(t, cmd)

	view := updated.View()
	assert.Contains(t, view, "load - Running")
	assert.Contains(t, view, "8 active / 10 target")
	assert.Contains(t, view, "Stage: 2/3")
	assert.Contains(t, view, "Requests:   2")
	assert.Contains(t, view, "Iterations: 1")
	assert.Contains(t, view, "50.00%")
	assert.Contains(t, view, "p(95):      19.50ms (last 1024)")
}

func TestModel_QuitRequestsStopOnce(t *testing.T) {
	src := newFake()
	var m tea.Model = NewModel(src, "stress")

	m, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	assert.Nil(t, cmd)
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})

	assert.Equal(t, 1, src.stops)
	assert.Contains(t, m.View(), "Stopping")
	assert.Contains(t, m.View(), "Waiting for")
}

func TestModel_DoneQuits(t *testing.T) {
	src := newFake()
	m := NewModel(src, "smoke")

	updated, cmd := m.Update(doneMsg{result: &runner.Result{Scenario: "smoke"}})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
	assert.Contains(t, updated.View(), "smoke - Finished")
}

func TestModel_WindowResizeClampsBar(t *testing.T) {
	m := NewModel(newFake(), "spike")

	updated, _ := m.Update(tea.WindowSizeMsg{Width: 200, Height: 40})
	assert.Equal(t, 60, updated.(Model).bar.Width)

	updated, _ = m.Update(tea.WindowSizeMsg{Width: 15, Height: 40})
	assert.Equal(t, 10, updated.(Model).bar.Width)
}
