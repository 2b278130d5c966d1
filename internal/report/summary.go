// Package report renders a finished run for humans and machines.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/mrfox365/traveler-api/internal/metrics"
	"github.com/mrfox365/traveler-api/internal/runner"
)

// Adaptive color definitions for light/dark terminal support
var (
	colorGreen = lipgloss.AdaptiveColor{Light: "#006400", Dark: "#00ff00"}
	colorRed   = lipgloss.AdaptiveColor{Light: "#8b0000", Dark: "#ff0000"}
	colorGray  = lipgloss.AdaptiveColor{Light: "#555555", Dark: "#888888"}
	colorCyan  = lipgloss.AdaptiveColor{Light: "#008b8b", Dark: "#00ffff"}
)

var (
	styleTitle   = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	styleSuccess = lipgloss.NewStyle().Foreground(colorGreen)
	styleError   = lipgloss.NewStyle().Foreground(colorRed)
	styleSubtle  = lipgloss.NewStyle().Foreground(colorGray)
)

const (
	markPass = "✓"
	markFail = "✗"
	// metricNameWidth pads metric names with dots, k6 style
	metricNameWidth = 30
)

// Summary writes the end-of-run summary
func Summary(w io.Writer, res *runner.Result) error {
	var b strings.Builder

	status := styleSuccess.Render(string(res.Status))
	if res.Status != runner.StatusCompleted {
		status = styleError.Render(string(res.Status))
	}
	fmt.Fprintf(&b, "\n  %s %s (%s)\n", styleTitle.Render("scenario:"), res.Scenario, status)
	fmt.Fprintf(&b, "  %s\n\n", styleSubtle.Render(fmt.Sprintf("%s, up to %d VUs, %s",
		FormatDuration(res.Duration), res.MaxVUs, res.BaseURL)))

	s := res.Metrics
	if s == nil {
		s = &metrics.Snapshot{}
	}

	writeChecks(&b, s)
	writeThresholds(&b, res.Thresholds)
	writeMetrics(&b, res, s)
	writeEndpoints(&b, s)
	writeShards(&b, s)

	verdict := styleSuccess.Render(markPass + " all thresholds passed")
	if !res.Passed() {
		verdict = styleError.Render(fmt.Sprintf("%s %d threshold(s) crossed", markFail, len(res.FailedThresholds())))
	}
	fmt.Fprintf(&b, "  %s\n\n", verdict)

	_, err := io.WriteString(w, b.String())
	return err
}

func section(b *strings.Builder, title string) {
	fmt.Fprintf(b, "  %s\n", styleTitle.Render("█ "+title))
}

func writeChecks(b *strings.Builder, s *metrics.Snapshot) {
	if len(s.CheckList) == 0 {
		return
	}
	section(b, "CHECKS")
	for _, c := range s.CheckList {
		total := c.Passes + c.Fails
		if c.Fails == 0 {
			fmt.Fprintf(b, "    %s %s\n", styleSuccess.Render(markPass), c.Name)
			continue
		}
		pct := 0.0
		if total > 0 {
			pct = float64(c.Passes) / float64(total) * 100
		}
		fmt.Fprintf(b, "    %s %s\n      %s\n", styleError.Render(markFail), c.Name,
			styleSubtle.Render(fmt.Sprintf("↳ %.0f%%  %s %d / %s %d", pct, markPass, c.Passes, markFail, c.Fails)))
	}
	b.WriteString("\n")
}

func writeThresholds(b *strings.Builder, results []metrics.ThresholdResult) {
	if len(results) == 0 {
		return
	}
	section(b, "THRESHOLDS")
	for _, t := range results {
		mark := styleSuccess.Render(markPass)
		if !t.Passed {
			mark = styleError.Render(markFail)
		}
		fmt.Fprintf(b, "    %-20s %s '%s' %s\n", t.Metric, mark, t.Expr,
			styleSubtle.Render(FormatValue(t.Metric, t.Expr, t.Observed)))
	}
	b.WriteString("\n")
}

func writeMetrics(b *strings.Builder, res *runner.Result, s *metrics.Snapshot) {
	section(b, "METRICS")
	secs := s.Elapsed.Seconds()
	perSec := func(n int64) float64 {
		if secs <= 0 {
			return 0
		}
		return float64(n) / secs
	}

	row := func(name, value string) {
		fmt.Fprintf(b, "    %s: %s\n", dotted(name), value)
	}
	rate := func(r metrics.RateStats) string {
		return fmt.Sprintf("%.2f%%  %d out of %d", r.Rate()*100, r.Hits, r.Total)
	}

	row(metrics.APIErrors, rate(s.APIErrors))
	row(metrics.Conflicts, rate(s.Conflicts))
	row(metrics.ChecksMetric, rate(s.Checks))
	row(metrics.HTTPReqDuration, trend(s.HTTPReqDuration))
	row(metrics.HTTPReqFailed, rate(s.HTTPReqFailed))
	row(metrics.HTTPReqs, fmt.Sprintf("%d  %.2f/s", s.HTTPReqs, perSec(s.HTTPReqs)))
	row(metrics.IterationDuration, trend(s.IterationDuration))
	row(metrics.Iterations, fmt.Sprintf("%d  %.2f/s  (aborted %d, interrupted %d)",
		s.Iterations, perSec(s.Iterations), res.Iterations.Aborted, res.Iterations.Interrupted))
	row(metrics.IterationErrors, fmt.Sprintf("%d", s.IterationErrors))
	row(metrics.VUsMax, fmt.Sprintf("%d", s.VUsMax))
	b.WriteString("\n")
}

func writeEndpoints(b *strings.Builder, s *metrics.Snapshot) {
	if len(s.Endpoints) == 0 {
		return
	}
	section(b, "ENDPOINTS")
	width := 0
	for _, e := range s.Endpoints {
		if n := len(e.Name()); n > width {
			width = n
		}
	}
	for _, e := range s.Endpoints {
		fmt.Fprintf(b, "    %-*s  reqs=%-7d failed=%-7s p(95)=%s\n", width, e.Name(),
			e.Failed.Total, fmt.Sprintf("%.2f%%", e.Failed.Rate()*100), FormatMs(e.Duration.P95))
	}
	b.WriteString("\n")
}

func writeShards(b *strings.Builder, s *metrics.Snapshot) {
	if len(s.Shards) == 0 {
		return
	}
	section(b, "SHARDS")
	var total int64
	for _, n := range s.Shards {
		total += n
	}
	keys := s.ShardKeys()
	for _, k := range keys {
		fmt.Fprintf(b, "    shard %s: %5d  %5.1f%%\n", k, s.Shards[k], float64(s.Shards[k])/float64(total)*100)
	}
	fmt.Fprintf(b, "    %s\n\n", styleSubtle.Render(fmt.Sprintf("%d records across %d shards", total, len(keys))))
}

func dotted(name string) string {
	if len(name) >= metricNameWidth {
		return name
	}
	return name + strings.Repeat(".", metricNameWidth-len(name))
}

func trend(t metrics.TrendStats) string {
	return fmt.Sprintf("avg=%s min=%s med=%s max=%s p(90)=%s p(95)=%s",
		FormatMs(t.Avg), FormatMs(t.Min), FormatMs(t.Med), FormatMs(t.Max), FormatMs(t.P90), FormatMs(t.P95))
}

// FormatMs prints a millisecond value the way k6 does: 850µs, 12.3ms, 1.2s
func FormatMs(ms float64) string {
	switch {
	case ms < 1:
		return fmt.Sprintf("%.0fµs", ms*1000)
	case ms < 1000:
		return fmt.Sprintf("%.2fms", ms)
	}
	return fmt.Sprintf("%.2fs", ms/1000)
}

// FormatValue prints an observed threshold value with its aggregation
func FormatValue(metric, expr string, v float64) string {
	agg := expr
	if i := strings.IndexAny(expr, "<>=!"); i > 0 {
		agg = strings.TrimSpace(expr[:i])
	}
	switch metrics.Kind(metric) {
	case "rate":
		return fmt.Sprintf("%s=%.2f%%", agg, v*100)
	case "trend":
		return fmt.Sprintf("%s=%s", agg, FormatMs(v))
	}
	return fmt.Sprintf("%s=%g", agg, v)
}

// FormatDuration prints a run length: 950ms, 42.0s, 7m0s
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return d.Round(time.Second).String()
}

// JSON writes the machine-readable summary
func JSON(w io.Writer, res *runner.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		*runner.Result
		Passed bool `json:"passed"`
	}{res, res.Passed()})
}
