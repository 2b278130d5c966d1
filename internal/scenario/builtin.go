package scenario

import (
	"time"

	"github.com/mrfox365/traveler-api/internal/metrics"
)

// Smoke runs the full workflow with a single VU to validate the API contract
func Smoke() Scenario {
	return Scenario{
		Name:        "smoke",
		Description: "1 VU for 1m through every operation, including validation and conflict checks",
		Executor:    ExecutorRampingVUs,
		StartVUs:    1,
		Stages: []Stage{
			{Duration: time.Minute, Target: 1},
		},
		GracefulStop: DefaultGracefulStop,
		Thresholds: map[string][]string{
			metrics.HTTPReqFailed:   {"rate<0.01"},
			metrics.HTTPReqDuration: {"p(95)<1000"},
			metrics.ChecksMetric:    {"rate>0.99"},
		},
		Pacing:       Pacing{Min: time.Second, Max: 3 * time.Second},
		AbortPause:   time.Second,
		WorkflowName: "smoke",
		Workflow:     SmokeWorkflow,
	}
}

// Load ramps to 100 VUs over the CRUD workflow
func Load() Scenario {
	return Scenario{
		Name:        "load",
		Description: "Ramp 0 -> 10 -> 50 -> 100 VUs over 7m; fails on >=1% errors or p95 >= 1s",
		Executor:    ExecutorRampingVUs,
		StartVUs:    0,
		Stages: []Stage{
			{Duration: time.Minute, Target: 10},
			{Duration: 2 * time.Minute, Target: 50},
			{Duration: 2 * time.Minute, Target: 100},
			{Duration: time.Minute, Target: 100},
			{Duration: time.Minute, Target: 0},
		},
		GracefulRampDown: 30 * time.Second,
		GracefulStop:     DefaultGracefulStop,
		Thresholds: map[string][]string{
			metrics.HTTPReqDuration: {"p(95)<1000"},
			metrics.HTTPReqFailed:   {"rate<0.01"},
		},
		Pacing:       Fixed(time.Second),
		AbortPause:   time.Second,
		WorkflowName: "load",
		Workflow:     LoadWorkflow,
	}
}

// Stress pushes to 10000 VUs to find the breaking point; thresholds only monitor
func Stress() Scenario {
	return Scenario{
		Name:        "stress",
		Description: "Ramp to 10000 VUs over 8m30s to find the breaking point; monitor-only thresholds",
		Executor:    ExecutorRampingVUs,
		StartVUs:    0,
		Stages: []Stage{
			{Duration: 30 * time.Second, Target: 100},
			{Duration: time.Minute, Target: 500},
			{Duration: time.Minute, Target: 1000},
			{Duration: 2 * time.Minute, Target: 10000},
			{Duration: 2 * time.Minute, Target: 10000},
			{Duration: 2 * time.Minute, Target: 0},
		},
		GracefulStop: DefaultGracefulStop,
		Thresholds: map[string][]string{
			metrics.HTTPReqFailed: {"rate<1"},
		},
		Pacing:       Fixed(500 * time.Millisecond),
		AbortPause:   time.Second,
		WorkflowName: "stress",
		Workflow:     StressWorkflow,
	}
}

// Spike jumps from 10 to 500 VUs in 10s and back to test recovery
func Spike() Scenario {
	return Scenario{
		Name:        "spike",
		Description: "10 -> 500 VUs in 10s, hold 30s, drop back to 10; tolerates 5% errors",
		Executor:    ExecutorRampingVUs,
		StartVUs:    0,
		Stages: []Stage{
			{Duration: 10 * time.Second, Target: 10},
			{Duration: 10 * time.Second, Target: 500},
			{Duration: 30 * time.Second, Target: 500},
			{Duration: 10 * time.Second, Target: 10},
			{Duration: 30 * time.Second, Target: 10},
		},
		GracefulStop: DefaultGracefulStop,
		Thresholds: map[string][]string{
			metrics.HTTPReqFailed:   {"rate<0.05"},
			metrics.HTTPReqDuration: {"p(95)<2000"},
		},
		Pacing:       Pacing{Min: 100 * time.Millisecond, Max: 500 * time.Millisecond},
		AbortPause:   time.Second,
		WorkflowName: "spike",
		Workflow:     SpikeWorkflow,
	}
}

// Endurance holds 100 VUs for 30m to surface leaks and slow degradation
func Endurance() Scenario {
	return Scenario{
		Name:        "endurance",
		Description: "Hold 100 VUs for 30m; strict thresholds (errors < 1%, p95 < 500ms)",
		Executor:    ExecutorRampingVUs,
		StartVUs:    0,
		Stages: []Stage{
			{Duration: 2 * time.Minute, Target: 100},
			{Duration: 30 * time.Minute, Target: 100},
			{Duration: 2 * time.Minute, Target: 0},
		},
		GracefulStop: DefaultGracefulStop,
		Thresholds: map[string][]string{
			metrics.HTTPReqFailed:   {"rate<0.01"},
			metrics.HTTPReqDuration: {"p(95)<500"},
		},
		Pacing:       Fixed(time.Second),
		AbortPause:   5 * time.Second,
		WorkflowName: "endurance",
		Workflow:     EnduranceWorkflow,
	}
}

// Sharding creates then immediately reads back plans across a partitioned backend
func Sharding() Scenario {
	return Scenario{
		Name:        "sharding",
		Description: "10 VUs for 30s: create then read by id, recording the shard of every record",
		Executor:    ExecutorRampingVUs,
		StartVUs:    10,
		Stages: []Stage{
			{Duration: 30 * time.Second, Target: 10},
		},
		GracefulStop: DefaultGracefulStop,
		Thresholds: map[string][]string{
			metrics.ChecksMetric: {"rate>0.99"},
		},
		Pacing:       Fixed(100 * time.Millisecond),
		AbortPause:   100 * time.Millisecond,
		WorkflowName: "sharding",
		Workflow:     ShardingWorkflow,
	}
}
