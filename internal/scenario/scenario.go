// Package scenario defines the traffic shapes run against the travel-plan API.
//
// A Scenario is a declarative stage list for the ramping-VU executor plus the
// workflow each virtual user repeats. Built-in scenarios can be tuned from a
// YAML or JSONC file, or replaced by a constant-VU shape from the command line.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sahilm/fuzzy"

	"github.com/mrfox365/traveler-api/internal/apiclient"
	"github.com/mrfox365/traveler-api/internal/datagen"
	"github.com/mrfox365/traveler-api/internal/metrics"
)

// ExecutorRampingVUs is the only supported executor
const ExecutorRampingVUs = "ramping-vus"

// DefaultGracefulStop is the time in-flight iterations get after the last stage
const DefaultGracefulStop = 30 * time.Second

// ErrAborted marks an iteration that stopped early because a step produced no data
var ErrAborted = errors.New("iteration aborted")

// Stage ramps the VU count linearly to Target over Duration
type Stage struct {
	Duration time.Duration
	Target   int
}

// Pacing is the pause at the end of a completed iteration, uniform in [Min, Max]
type Pacing struct {
	Min time.Duration
	Max time.Duration
}

// Fixed returns a pacing with Min == Max
func Fixed(d time.Duration) Pacing {
	return Pacing{Min: d, Max: d}
}

// Env is what a workflow sees during one iteration
type Env struct {
	Client     *apiclient.Client
	Data       *datagen.Generator
	VU         int
	Iteration  int64
	Pacing     Pacing
	AbortPause time.Duration
}

// Pace sleeps for the scenario pacing
func (e Env) Pace(ctx context.Context) error {
	return apiclient.ThinkTime(ctx, e.Pacing.Min, e.Pacing.Max)
}

// Abort sleeps for the abort pause and returns an error wrapping ErrAborted
func (e Env) Abort(ctx context.Context, step string, cause error) error {
	_ = apiclient.Sleep(ctx, e.AbortPause)
	return fmt.Errorf("%w at %s: %v", ErrAborted, step, cause)
}

// Workflow is one iteration body
type Workflow func(ctx context.Context, env Env) error

// Scenario is a named traffic shape
type Scenario struct {
	Name             string
	Description      string
	Executor         string
	StartVUs         int
	Stages           []Stage
	GracefulRampDown time.Duration
	GracefulStop     time.Duration
	Thresholds       map[string][]string
	Pacing           Pacing
	AbortPause       time.Duration
	WorkflowName     string
	Workflow         Workflow
}

// TotalDuration is the sum of all stage durations
func (s Scenario) TotalDuration() time.Duration {
	var total time.Duration
	for _, st := range s.Stages {
		total += st.Duration
	}
	return total
}

// MaxVUs is the highest concurrency the stages reach
func (s Scenario) MaxVUs() int {
	max := s.StartVUs
	for _, st := range s.Stages {
		if st.Target > max {
			max = st.Target
		}
	}
	return max
}

// Validate checks the shape and parses the thresholds
func (s Scenario) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("scenario name is required")
	}
	if s.Executor != ExecutorRampingVUs {
		return fmt.Errorf("scenario %s: unsupported executor %q", s.Name, s.Executor)
	}
	if s.StartVUs < 0 {
		return fmt.Errorf("scenario %s: startVUs must be >= 0", s.Name)
	}
	if len(s.Stages) == 0 {
		return fmt.Errorf("scenario %s: at least one stage is required", s.Name)
	}
	for i, st := range s.Stages {
		if st.Duration <= 0 {
			return fmt.Errorf("scenario %s: stage %d duration must be > 0", s.Name, i+1)
		}
		if st.Target < 0 {
			return fmt.Errorf("scenario %s: stage %d target must be >= 0", s.Name, i+1)
		}
	}
	if s.Pacing.Min < 0 || s.Pacing.Max < s.Pacing.Min {
		return fmt.Errorf("scenario %s: invalid pacing %s-%s", s.Name, s.Pacing.Min, s.Pacing.Max)
	}
	if s.GracefulRampDown < 0 || s.GracefulStop < 0 || s.AbortPause < 0 {
		return fmt.Errorf("scenario %s: graceful periods and abort pause must be >= 0", s.Name)
	}
	if s.Workflow == nil {
		return fmt.Errorf("scenario %s: no workflow", s.Name)
	}
	if _, err := metrics.ParseThresholds(s.Thresholds); err != nil {
		return fmt.Errorf("scenario %s: %w", s.Name, err)
	}
	return nil
}

// Clone returns a deep copy safe to modify
func (s Scenario) Clone() Scenario {
	c := s
	c.Stages = append([]Stage(nil), s.Stages...)
	c.Thresholds = make(map[string][]string, len(s.Thresholds))
	for k, v := range s.Thresholds {
		c.Thresholds[k] = append([]string(nil), v...)
	}
	return c
}

// WithConstantVUs replaces the stages by a single constant-VU stage
func (s Scenario) WithConstantVUs(vus int, d time.Duration) Scenario {
	c := s.Clone()
	c.StartVUs = vus
	c.Stages = []Stage{{Duration: d, Target: vus}}
	return c
}

// Scale multiplies every stage duration by f, for shortened rehearsals
func (s Scenario) Scale(f float64) Scenario {
	c := s.Clone()
	if f <= 0 {
		return c
	}
	for i := range c.Stages {
		c.Stages[i].Duration = time.Duration(float64(c.Stages[i].Duration) * f)
		if c.Stages[i].Duration <= 0 {
			c.Stages[i].Duration = time.Millisecond
		}
	}
	return c
}

// All returns the built-in scenarios in display order
func All() []Scenario {
	return []Scenario{
		Smoke(),
		Load(),
		Stress(),
		Spike(),
		Endurance(),
		Sharding(),
	}
}

// Names returns the built-in scenario names
func Names() []string {
	all := All()
	names := make([]string, len(all))
	for i, s := range all {
		names[i] = s.Name
	}
	return names
}

// Lookup finds a built-in scenario by case-insensitive name
func Lookup(name string) (Scenario, error) {
	needle := strings.ToLower(strings.TrimSpace(name))
	for _, s := range All() {
		if s.Name == needle {
			return s, nil
		}
	}

	if suggestions := Suggest(needle); len(suggestions) > 0 {
		return Scenario{}, fmt.Errorf("unknown scenario %q (did you mean %s?)", name, strings.Join(suggestions, ", "))
	}
	return Scenario{}, fmt.Errorf("unknown scenario %q (available: %s)", name, strings.Join(Names(), ", "))
}

// Suggest returns built-in names that fuzzy-match input, best first
func Suggest(input string) []string {
	if input == "" {
		return nil
	}
	names := Names()
	matches := fuzzy.Find(strings.ToLower(input), names)
	sort.Stable(matches)

	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.Str)
	}
	return out
}

// workflows by name, used when a scenario file picks a different body
func workflowByName(name string) (Workflow, bool) {
	switch name {
	case "smoke":
		return SmokeWorkflow, true
	case "load":
		return LoadWorkflow, true
	case "stress":
		return StressWorkflow, true
	case "spike":
		return SpikeWorkflow, true
	case "endurance":
		return EnduranceWorkflow, true
	case "sharding":
		return ShardingWorkflow, true
	}
	return nil, false
}
