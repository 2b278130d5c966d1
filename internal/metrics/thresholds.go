package metrics

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

type metricKind int

const (
	kindRate metricKind = iota
	kindTrend
	kindCounter
	kindGauge
)

var metricKinds = map[string]metricKind{
	APIErrors:         kindRate,
	Conflicts:         kindRate,
	HTTPReqFailed:     kindRate,
	ChecksMetric:      kindRate,
	HTTPReqDuration:   kindTrend,
	IterationDuration: kindTrend,
	HTTPReqs:          kindCounter,
	Iterations:        kindCounter,
	IterationErrors:   kindCounter,
	VUs:               kindGauge,
	VUsMax:            kindGauge,
}

var allowedAggregations = map[metricKind][]string{
	kindRate:    {"rate"},
	kindTrend:   {"avg", "min", "max", "med", "p"},
	kindCounter: {"count", "rate"},
	kindGauge:   {"value"},
}

var thresholdPattern = regexp.MustCompile(`^\s*(avg|min|max|med|count|rate|value|p\(\s*(\d+(?:\.\d+)?)\s*\))\s*(<=|>=|===|==|!=|<|>)\s*(-?\d+(?:\.\d+)?)\s*$`)

// Threshold is one parsed pass/fail condition, e.g. "p(95)<1000" on http_req_duration
type Threshold struct {
	Metric      string
	Expr        string
	Aggregation string
	Percentile  float64
	Op          string
	Value       float64
}

// ThresholdResult is the outcome of evaluating a threshold against a snapshot
type ThresholdResult struct {
	Metric   string  `json:"metric" yaml:"metric"`
	Expr     string  `json:"expr" yaml:"expr"`
	Observed float64 `json:"observed" yaml:"observed"`
	Passed   bool    `json:"passed" yaml:"passed"`
}

// KnownMetric reports whether name can be used in a threshold
func KnownMetric(name string) bool {
	_, ok := metricKinds[name]
	return ok
}

// Kind returns "rate", "trend", "counter" or "gauge" for a known metric, "" otherwise
func Kind(name string) string {
	kind, ok := metricKinds[name]
	if !ok {
		return ""
	}
	switch kind {
	case kindRate:
		return "rate"
	case kindTrend:
		return "trend"
	case kindCounter:
		return "counter"
	}
	return "gauge"
}

// ParseThreshold parses a single expression for metric
func ParseThreshold(metric, expr string) (Threshold, error) {
	kind, ok := metricKinds[metric]
	if !ok {
		return Threshold{}, fmt.Errorf("unknown metric %q", metric)
	}

	m := thresholdPattern.FindStringSubmatch(expr)
	if m == nil {
		return Threshold{}, fmt.Errorf("invalid threshold expression %q for %s", expr, metric)
	}

	t := Threshold{Metric: metric, Expr: strings.TrimSpace(expr), Aggregation: m[1], Op: m[3]}
	if t.Op == "===" {
		t.Op = "=="
	}
	if m[2] != "" {
		t.Aggregation = "p"
		t.Percentile, _ = strconv.ParseFloat(m[2], 64)
		if t.Percentile > 100 {
			return Threshold{}, fmt.Errorf("percentile out of range in %q", expr)
		}
	}

	if !allowed(kind, t.Aggregation) {
		return Threshold{}, fmt.Errorf("aggregation %q is not supported by %s", t.Aggregation, metric)
	}

	t.Value, _ = strconv.ParseFloat(m[4], 64)
	return t, nil
}

func allowed(kind metricKind, agg string) bool {
	for _, a := range allowedAggregations[kind] {
		if a == agg {
			return true
		}
	}
	return false
}

// ParseThresholds parses a metric -> expressions map, ordered by metric name
func ParseThresholds(defs map[string][]string) ([]Threshold, error) {
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []Threshold
	for _, name := range names {
		for _, expr := range defs[name] {
			t, err := ParseThreshold(name, expr)
			if err != nil {
				return nil, err
			}
			out = append(out, t)
		}
	}
	return out, nil
}

// Evaluate checks the threshold against a snapshot
func (t Threshold) Evaluate(s *Snapshot) ThresholdResult {
	observed := t.observe(s)
	return ThresholdResult{
		Metric:   t.Metric,
		Expr:     t.Expr,
		Observed: observed,
		Passed:   compare(observed, t.Op, t.Value),
	}
}

// Evaluate checks every threshold against a snapshot
func Evaluate(thresholds []Threshold, s *Snapshot) []ThresholdResult {
	results := make([]ThresholdResult, 0, len(thresholds))
	for _, t := range thresholds {
		results = append(results, t.Evaluate(s))
	}
	return results
}

// AllPassed reports whether no threshold failed
func AllPassed(results []ThresholdResult) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}

func (t Threshold) observe(s *Snapshot) float64 {
	switch t.Metric {
	case APIErrors:
		return s.APIErrors.Rate()
	case Conflicts:
		return s.Conflicts.Rate()
	case HTTPReqFailed:
		return s.HTTPReqFailed.Rate()
	case ChecksMetric:
		return s.Checks.Rate()
	case HTTPReqDuration:
		return trendValue(s.HTTPReqDuration, t)
	case IterationDuration:
		return trendValue(s.IterationDuration, t)
	case HTTPReqs:
		return counterValue(s.HTTPReqs, s, t)
	case Iterations:
		return counterValue(s.Iterations, s, t)
	case IterationErrors:
		return counterValue(s.IterationErrors, s, t)
	case VUs:
		return float64(s.VUs)
	case VUsMax:
		return float64(s.VUsMax)
	}
	return 0
}

func trendValue(ts TrendStats, t Threshold) float64 {
	switch t.Aggregation {
	case "avg":
		return ts.Avg
	case "min":
		return ts.Min
	case "max":
		return ts.Max
	case "med":
		return ts.Med
	default:
		return ts.Percentile(t.Percentile)
	}
}

func counterValue(n int64, s *Snapshot, t Threshold) float64 {
	if t.Aggregation == "rate" {
		if s.Elapsed <= 0 {
			return 0
		}
		return float64(n) / s.Elapsed.Seconds()
	}
	return float64(n)
}

func compare(observed float64, op string, value float64) bool {
	switch op {
	case "<":
		return observed < value
	case "<=":
		return observed <= value
	case ">":
		return observed > value
	case ">=":
		return observed >= value
	case "==":
		return observed == value
	case "!=":
		return observed != value
	}
	return false
}
