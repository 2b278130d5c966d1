// Package history persists finished runs in a local SQLite database so
// results can be listed and compared after the fact.
package history

import (
	"time"

	"github.com/mrfox365/traveler-api/internal/runner"
)

// Run is one stored run. Endpoints, Thresholds, Checks and Shards are
// only filled by GetRun.
type Run struct {
	ID       int64         `json:"id" yaml:"id"`
	Scenario string        `json:"scenario" yaml:"scenario"`
	BaseURL  string        `json:"base_url" yaml:"base_url"`
	Status   runner.Status `json:"status" yaml:"status"`
	Passed   bool          `json:"passed" yaml:"passed"`

	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	EndedAt    time.Time `json:"ended_at" yaml:"ended_at"`
	DurationMs int64     `json:"duration_ms" yaml:"duration_ms"`
	MaxVUs     int       `json:"max_vus" yaml:"max_vus"`

	Iterations            int64 `json:"iterations" yaml:"iterations"`
	IterationsAborted     int64 `json:"iterations_aborted" yaml:"iterations_aborted"`
	IterationsInterrupted int64 `json:"iterations_interrupted" yaml:"iterations_interrupted"`
	IterationErrors       int64 `json:"iteration_errors" yaml:"iteration_errors"`

	HTTPReqs          int64   `json:"http_reqs" yaml:"http_reqs"`
	HTTPReqFailedRate float64 `json:"http_req_failed_rate" yaml:"http_req_failed_rate"`
	APIErrors         int64   `json:"api_errors" yaml:"api_errors"`
	APIErrorRate      float64 `json:"api_error_rate" yaml:"api_error_rate"`
	Conflicts         int64   `json:"conflicts" yaml:"conflicts"`
	ConflictRate      float64 `json:"conflict_rate" yaml:"conflict_rate"`
	ChecksPassed      int64   `json:"checks_passed" yaml:"checks_passed"`
	ChecksFailed      int64   `json:"checks_failed" yaml:"checks_failed"`

	AvgDurationMs float64 `json:"avg_duration_ms" yaml:"avg_duration_ms"`
	MinDurationMs float64 `json:"min_duration_ms" yaml:"min_duration_ms"`
	MaxDurationMs float64 `json:"max_duration_ms" yaml:"max_duration_ms"`
	MedDurationMs float64 `json:"med_duration_ms" yaml:"med_duration_ms"`
	P90DurationMs float64 `json:"p90_duration_ms" yaml:"p90_duration_ms"`
	P95DurationMs float64 `json:"p95_duration_ms" yaml:"p95_duration_ms"`
	P99DurationMs float64 `json:"p99_duration_ms" yaml:"p99_duration_ms"`

	Endpoints  []Endpoint       `json:"endpoints,omitempty" yaml:"endpoints,omitempty"`
	Thresholds []Threshold      `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`
	Checks     []Check          `json:"checks,omitempty" yaml:"checks,omitempty"`
	Shards     map[string]int64 `json:"shards,omitempty" yaml:"shards,omitempty"`
}

// Endpoint is the per-tag summary of a run
type Endpoint struct {
	Method        string  `json:"method" yaml:"method"`
	Endpoint      string  `json:"endpoint" yaml:"endpoint"`
	Requests      int64   `json:"requests" yaml:"requests"`
	Failed        int64   `json:"failed" yaml:"failed"`
	AvgDurationMs float64 `json:"avg_duration_ms" yaml:"avg_duration_ms"`
	P95DurationMs float64 `json:"p95_duration_ms" yaml:"p95_duration_ms"`
	MaxDurationMs float64 `json:"max_duration_ms" yaml:"max_duration_ms"`
}

type Threshold struct {
	Metric   string  `json:"metric" yaml:"metric"`
	Expr     string  `json:"expr" yaml:"expr"`
	Observed float64 `json:"observed" yaml:"observed"`
	Passed   bool    `json:"passed" yaml:"passed"`
}

type Check struct {
	Name   string `json:"name" yaml:"name"`
	Passes int64  `json:"passes" yaml:"passes"`
	Fails  int64  `json:"fails" yaml:"fails"`
}

// FromResult flattens a runner result into a storable run
func FromResult(res *runner.Result) *Run {
	run := &Run{
		Scenario:              res.Scenario,
		BaseURL:               res.BaseURL,
		Status:                res.Status,
		Passed:                res.Passed(),
		StartedAt:             res.StartedAt,
		EndedAt:               res.EndedAt,
		DurationMs:            res.Duration.Milliseconds(),
		MaxVUs:                res.MaxVUs,
		Iterations:            res.Iterations.Completed + res.Iterations.Aborted,
		IterationsAborted:     res.Iterations.Aborted,
		IterationsInterrupted: res.Iterations.Interrupted,
	}

	for _, t := range res.Thresholds {
		run.Thresholds = append(run.Thresholds, Threshold{Metric: t.Metric, Expr: t.Expr, Observed: t.Observed, Passed: t.Passed})
	}

	s := res.Metrics
	if s == nil {
		return run
	}

	run.IterationErrors = s.IterationErrors
	run.HTTPReqs = s.HTTPReqs
	run.HTTPReqFailedRate = s.HTTPReqFailed.Rate()
	run.APIErrors = s.APIErrors.Hits
	run.APIErrorRate = s.APIErrors.Rate()
	run.Conflicts = s.Conflicts.Hits
	run.ConflictRate = s.Conflicts.Rate()
	run.ChecksPassed = s.Checks.Hits
	run.ChecksFailed = s.Checks.Misses()

	d := s.HTTPReqDuration
	run.AvgDurationMs = d.Avg
	run.MinDurationMs = d.Min
	run.MaxDurationMs = d.Max
	run.MedDurationMs = d.Med
	run.P90DurationMs = d.P90
	run.P95DurationMs = d.P95
	run.P99DurationMs = d.P99

	for _, e := range s.Endpoints {
		run.Endpoints = append(run.Endpoints, Endpoint{
			Method:        e.Method,
			Endpoint:      e.Endpoint,
			Requests:      e.Failed.Total,
			Failed:        e.Failed.Hits,
			AvgDurationMs: e.Duration.Avg,
			P95DurationMs: e.Duration.P95,
			MaxDurationMs: e.Duration.Max,
		})
	}
	for _, c := range s.CheckList {
		run.Checks = append(run.Checks, Check{Name: c.Name, Passes: c.Passes, Fails: c.Fails})
	}
	if len(s.Shards) > 0 {
		run.Shards = make(map[string]int64, len(s.Shards))
		for k, v := range s.Shards {
			run.Shards[k] = v
		}
	}
	return run
}
