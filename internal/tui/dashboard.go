// Package tui renders a live dashboard while a scenario runs.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mrfox365/traveler-api/internal/metrics"
	"github.com/mrfox365/traveler-api/internal/report"
	"github.com/mrfox365/traveler-api/internal/runner"
)

// PollInterval is how often the dashboard refreshes
const PollInterval = 500 * time.Millisecond

// Adaptive color definitions for light/dark terminal support
var (
	colorGreen  = lipgloss.AdaptiveColor{Light: "#006400", Dark: "#00ff00"}
	colorRed    = lipgloss.AdaptiveColor{Light: "#8b0000", Dark: "#ff0000"}
	colorYellow = lipgloss.AdaptiveColor{Light: "#b8860b", Dark: "#ffff00"}
	colorGray   = lipgloss.AdaptiveColor{Light: "#555555", Dark: "#888888"}
	colorCyan   = lipgloss.AdaptiveColor{Light: "#008b8b", Dark: "#00ffff"}
)

var (
	styleTitle        = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	styleTitleFocused = lipgloss.NewStyle().Bold(true)
	styleSuccess      = lipgloss.NewStyle().Foreground(colorGreen)
	styleError        = lipgloss.NewStyle().Foreground(colorRed)
	styleWarning      = lipgloss.NewStyle().Foreground(colorYellow)
	styleSubtle       = lipgloss.NewStyle().Foreground(colorGray)
)

// Source is the run the dashboard watches
type Source interface {
	Progress() runner.Progress
	Collector() *metrics.Collector
	Stop()
}

type tickMsg time.Time

// doneMsg carries the finished run
type doneMsg struct {
	result *runner.Result
	err    error
}

// Model is the bubbletea model of the dashboard
type Model struct {
	src      Source
	scenario string
	bar      progress.Model
	width    int

	progress runner.Progress
	live     metrics.LiveStats
	stopping bool
	done     bool
}

// NewModel creates a dashboard for src
func NewModel(src Source, scenario string) Model {
	return Model{
		src:      src,
		scenario: scenario,
		bar:      progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
	}
}

func tick() tea.Cmd {
	return tea.Tick(PollInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Init starts polling
func (m Model) Init() tea.Cmd {
	return tick()
}

// Update handles keys, polling ticks and the end of the run
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if !m.stopping {
				m.stopping = true
				m.src.Stop()
			}
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		barWidth := msg.Width - 20
		if barWidth > 60 {
			barWidth = 60
		}
		if barWidth < 10 {
			barWidth = 10
		}
		m.bar.Width = barWidth
		return m, nil

	case tickMsg:
		m.refresh()
		return m, tick()

	case doneMsg:
		m.refresh()
		m.done = true
		return m, tea.Quit
	}
	return m, nil
}

func (m *Model) refresh() {
	m.progress = m.src.Progress()
	m.live = m.src.Collector().Live()
}

// View renders the dashboard
func (m Model) View() string {
	var content strings.Builder
	p := m.progress
	s := m.live

	title := fmt.Sprintf("travelerload - %s - Running", m.scenario)
	switch {
	case m.done:
		title = fmt.Sprintf("travelerload - %s - Finished", m.scenario)
	case m.stopping || p.Stopping:
		title = fmt.Sprintf("travelerload - %s - Stopping", m.scenario)
	}
	content.WriteString(styleTitle.Render(title) + "\n\n")

	content.WriteString(styleTitleFocused.Render("Progress") + "\n")
	content.WriteString(m.bar.ViewAs(p.Fraction()) + "\n")
	content.WriteString(fmt.Sprintf("Elapsed: %s / %s   Stage: %d/%d\n",
		report.FormatDuration(p.Elapsed), report.FormatDuration(p.Total), p.Stage+1, p.Stages))
	content.WriteString(fmt.Sprintf("VUs: %d active / %d target\n\n", p.ActiveVUs, p.TargetVUs))

	content.WriteString(styleTitleFocused.Render("Statistics") + "\n")
	leftCol := []string{
		fmt.Sprintf("Requests:   %d", s.HTTPReqs),
		fmt.Sprintf("RPS:        %.1f", s.RPS()),
		fmt.Sprintf("Iterations: %d", s.Iterations),
		fmt.Sprintf("Iter errs:  %d", s.IterationErrors),
	}
	rightCol := []string{
		"Errors:     " + rateStyle(s.APIErrors.Rate(), 0.01).Render(fmt.Sprintf("%.2f%%", s.APIErrors.Rate()*100)),
		"Conflicts:  " + rateStyle(s.Conflicts.Rate(), 0.05).Render(fmt.Sprintf("%.2f%%", s.Conflicts.Rate()*100)),
		fmt.Sprintf("Checks:     %.2f%%", s.Checks.Rate()*100),
		fmt.Sprintf("p(95):      %s (last %d)", report.FormatMs(s.RecentP95), metrics.RecentWindow),
	}
	for i := range leftCol {
		content.WriteString(fmt.Sprintf("%-25s%s\n", leftCol[i], rightCol[i]))
	}

	content.WriteString("\n")
	footer := "q/ctrl+c: Stop gracefully"
	if m.stopping || p.Stopping {
		footer = fmt.Sprintf("Waiting for %d active VUs to finish...", p.ActiveVUs)
	}
	content.WriteString(styleSubtle.Render(footer))

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorCyan).
		Padding(1, 2).
		Render(content.String()) + "\n"
}

func rateStyle(rate, warn float64) lipgloss.Style {
	switch {
	case rate == 0:
		return styleSuccess
	case rate < warn:
		return styleWarning
	}
	return styleError
}

// Run drives r behind the dashboard and returns its result.
// The run itself follows ctx; quitting the dashboard requests a graceful stop.
func Run(ctx context.Context, r *runner.Runner, opts ...tea.ProgramOption) (*runner.Result, error) {
	program := tea.NewProgram(NewModel(r, r.Scenario().Name), opts...)

	results := make(chan doneMsg, 1)
	go func() {
		res, err := r.Run(ctx)
		results <- doneMsg{result: res, err: err}
		program.Send(doneMsg{result: res, err: err})
	}()

	if _, err := program.Run(); err != nil {
		// the UI failed; the run keeps going to a graceful stop
		r.Stop()
		done := <-results
		if done.err != nil {
			return done.result, done.err
		}
		return done.result, fmt.Errorf("dashboard failed: %w", err)
	}

	done := <-results
	return done.result, done.err
}
