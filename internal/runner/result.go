package runner

import (
	"time"

	"github.com/mrfox365/traveler-api/internal/metrics"
)

// Status of a finished run
type Status string

const (
	StatusCompleted   Status = "completed"
	StatusInterrupted Status = "interrupted"
)

// IterationCounts splits iterations by how they ended
type IterationCounts struct {
	// Completed iterations ran to the end, with or without failed steps
	Completed int64 `json:"completed" yaml:"completed"`
	// Aborted iterations stopped early because a step returned no data
	Aborted int64 `json:"aborted" yaml:"aborted"`
	// Interrupted iterations were cut by a graceful period expiring
	Interrupted int64 `json:"interrupted" yaml:"interrupted"`
}

// Result is the outcome of one run
type Result struct {
	Scenario   string                    `json:"scenario" yaml:"scenario"`
	BaseURL    string                    `json:"base_url" yaml:"base_url"`
	Status     Status                    `json:"status" yaml:"status"`
	StartedAt  time.Time                 `json:"started_at" yaml:"started_at"`
	EndedAt    time.Time                 `json:"ended_at" yaml:"ended_at"`
	Duration   time.Duration             `json:"duration" yaml:"duration"`
	MaxVUs     int                       `json:"max_vus" yaml:"max_vus"`
	Iterations IterationCounts           `json:"iterations" yaml:"iterations"`
	Metrics    *metrics.Snapshot         `json:"metrics" yaml:"metrics"`
	Thresholds []metrics.ThresholdResult `json:"thresholds" yaml:"thresholds"`
}

// Passed reports whether every threshold held
func (r *Result) Passed() bool {
	return metrics.AllPassed(r.Thresholds)
}

// FailedThresholds returns the thresholds that did not hold
func (r *Result) FailedThresholds() []metrics.ThresholdResult {
	var failed []metrics.ThresholdResult
	for _, t := range r.Thresholds {
		if !t.Passed {
			failed = append(failed, t)
		}
	}
	return failed
}

func (r *Runner) result(status Status, startedAt, endedAt time.Time) *Result {
	snap := r.collector.Snapshot()

	// Validate already parsed these
	thresholds, _ := metrics.ParseThresholds(r.sc.Thresholds)

	return &Result{
		Scenario:  r.sc.Name,
		BaseURL:   r.deps.Client.Endpoints().BaseURL(),
		Status:    status,
		StartedAt: startedAt,
		EndedAt:   endedAt,
		Duration:  endedAt.Sub(startedAt),
		MaxVUs:    len(r.slots),
		Iterations: IterationCounts{
			Completed:   r.completed.Load(),
			Aborted:     r.aborted.Load(),
			Interrupted: r.cut.Load(),
		},
		Metrics:    snap,
		Thresholds: metrics.Evaluate(thresholds, snap),
	}
}
