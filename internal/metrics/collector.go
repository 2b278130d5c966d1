package metrics

import (
	"sort"
	"sync"
	"time"
)

// Metric names as they appear in thresholds and reports
const (
	APIErrors         = "api_errors"
	Conflicts         = "optimistic_lock_conflicts"
	HTTPReqs          = "http_reqs"
	HTTPReqFailed     = "http_req_failed"
	HTTPReqDuration   = "http_req_duration"
	ChecksMetric      = "checks"
	Iterations        = "iterations"
	IterationErrors   = "iteration_errors"
	IterationDuration = "iteration_duration"
	VUs               = "vus"
	VUsMax            = "vus_max"
)

// StatusConflict is the optimistic-lock conflict status
const StatusConflict = 409

// RequestSample describes one completed HTTP exchange
type RequestSample struct {
	Method   string
	Endpoint string // tagged path, ids replaced by ":id"
	Status   int    // 0 on transport failure
	Duration time.Duration
	Expected bool // status was in the caller's expected set
	// Tracked requests also feed api_errors and optimistic_lock_conflicts.
	Tracked bool
}

// Observer receives every sample recorded by a Collector
type Observer interface {
	ObserveRequest(s RequestSample)
	ObserveIteration(d time.Duration, failed bool)
	ObserveVUs(n int)
}

// Collector aggregates all metrics of one run
type Collector struct {
	start time.Time

	apiErrors       Rate
	conflicts       Rate
	httpReqs        Counter
	httpReqFailed   Rate
	httpReqDuration *Trend
	checks          Rate

	iterations        Counter
	iterationErrors   Counter
	iterationDuration *Trend
	vus               Gauge

	mu         sync.RWMutex
	endpoints  map[string]*endpointSink
	checkSinks map[string]*Rate
	checkOrder []string
	shards     map[string]int64
	observers  []Observer
}

type endpointSink struct {
	method   string
	endpoint string
	failed   Rate
	duration *Trend
}

// NewCollector creates an empty collector; elapsed time counts from now
func NewCollector() *Collector {
	return &Collector{
		start:             time.Now(),
		httpReqDuration:   NewTrend(),
		iterationDuration: NewTrend(),
		endpoints:         make(map[string]*endpointSink),
		checkSinks:        make(map[string]*Rate),
		shards:            make(map[string]int64),
	}
}

// Attach registers an observer. Must be called before the run starts.
func (c *Collector) Attach(o Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, o)
}

// Reset restarts the elapsed clock
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.start = time.Now()
}

// RecordRequest records one HTTP exchange into the built-in metrics and,
// for tracked calls, exactly one api_errors and one conflict sample.
func (c *Collector) RecordRequest(s RequestSample) {
	c.httpReqs.Add(1)
	c.httpReqFailed.Add(!s.Expected)
	c.httpReqDuration.Add(s.Duration)

	if s.Tracked {
		c.apiErrors.Add(!s.Expected)
		c.conflicts.Add(s.Status == StatusConflict)
	}

	sink := c.endpoint(s.Method, s.Endpoint)
	sink.failed.Add(!s.Expected)
	sink.duration.Add(s.Duration)

	c.mu.RLock()
	observers := c.observers
	c.mu.RUnlock()
	for _, o := range observers {
		o.ObserveRequest(s)
	}
}

func (c *Collector) endpoint(method, endpoint string) *endpointSink {
	key := method + " " + endpoint

	c.mu.RLock()
	sink, ok := c.endpoints[key]
	c.mu.RUnlock()
	if ok {
		return sink
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if sink, ok = c.endpoints[key]; ok {
		return sink
	}
	sink = &endpointSink{method: method, endpoint: endpoint, duration: NewTrend()}
	c.endpoints[key] = sink
	return sink
}

// Check records a named boolean assertion and returns ok
func (c *Collector) Check(name string, ok bool) bool {
	c.mu.RLock()
	sink, found := c.checkSinks[name]
	c.mu.RUnlock()

	if !found {
		c.mu.Lock()
		if sink, found = c.checkSinks[name]; !found {
			sink = &Rate{}
			c.checkSinks[name] = sink
			c.checkOrder = append(c.checkOrder, name)
		}
		c.mu.Unlock()
	}

	sink.Add(ok)
	c.checks.Add(ok)
	return ok
}

// RecordIteration records a finished iteration
func (c *Collector) RecordIteration(d time.Duration, failed bool) {
	c.iterations.Add(1)
	if failed {
		c.iterationErrors.Add(1)
	}
	c.iterationDuration.Add(d)

	c.mu.RLock()
	observers := c.observers
	c.mu.RUnlock()
	for _, o := range observers {
		o.ObserveIteration(d, failed)
	}
}

// SetVUs records the current number of running virtual users
func (c *Collector) SetVUs(n int) {
	c.vus.Set(int64(n))

	c.mu.RLock()
	observers := c.observers
	c.mu.RUnlock()
	for _, o := range observers {
		o.ObserveVUs(n)
	}
}

// RecordShard counts one record routed to the given shard key
func (c *Collector) RecordShard(key string) {
	if key == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shards[key]++
}

// Requests returns http_reqs without building a snapshot
func (c *Collector) Requests() int64 {
	return c.httpReqs.Value()
}

// Iterations returns the number of recorded iterations
func (c *Collector) Iterations() int64 {
	return c.iterations.Value()
}

// ErrorRate returns the current api_errors value
func (c *Collector) ErrorRate() float64 {
	return c.apiErrors.Value()
}

// ConflictRate returns the current optimistic_lock_conflicts value
func (c *Collector) ConflictRate() float64 {
	return c.conflicts.Value()
}

// LiveStats is the cheap subset of a Snapshot polled while a run is in progress
type LiveStats struct {
	Elapsed         time.Duration
	HTTPReqs        int64
	APIErrors       RateStats
	Conflicts       RateStats
	Checks          RateStats
	Iterations      int64
	IterationErrors int64
	VUs             int64
	// RecentP95 is p(95) of http_req_duration over the last RecentWindow requests
	RecentP95 float64
}

// RPS returns http_reqs per second over the elapsed time
func (l LiveStats) RPS() float64 {
	if l.Elapsed <= 0 {
		return 0
	}
	return float64(l.HTTPReqs) / l.Elapsed.Seconds()
}

// Live reads counters and rates without touching the full trend samples.
// Use Snapshot for the end-of-run summary.
func (c *Collector) Live() LiveStats {
	c.mu.RLock()
	start := c.start
	c.mu.RUnlock()

	return LiveStats{
		Elapsed:         time.Since(start),
		HTTPReqs:        c.httpReqs.Value(),
		APIErrors:       c.apiErrors.Stats(),
		Conflicts:       c.conflicts.Stats(),
		Checks:          c.checks.Stats(),
		Iterations:      c.iterations.Value(),
		IterationErrors: c.iterationErrors.Value(),
		VUs:             c.vus.Value(),
		RecentP95:       c.httpReqDuration.RecentPercentile(95),
	}
}

// Snapshot returns an immutable view of every metric
func (c *Collector) Snapshot() *Snapshot {
	c.mu.RLock()
	start := c.start
	sinks := make([]*endpointSink, 0, len(c.endpoints))
	for _, s := range c.endpoints {
		sinks = append(sinks, s)
	}
	checks := make([]CheckStats, 0, len(c.checkOrder))
	for _, name := range c.checkOrder {
		st := c.checkSinks[name].Stats()
		checks = append(checks, CheckStats{Name: name, Passes: st.Hits, Fails: st.Misses()})
	}
	shards := make(map[string]int64, len(c.shards))
	for k, v := range c.shards {
		shards[k] = v
	}
	c.mu.RUnlock()

	endpoints := make([]EndpointStats, 0, len(sinks))
	for _, s := range sinks {
		endpoints = append(endpoints, EndpointStats{
			Method:   s.method,
			Endpoint: s.endpoint,
			Failed:   s.failed.Stats(),
			Duration: s.duration.Stats(),
		})
	}
	sort.Slice(endpoints, func(i, j int) bool {
		if endpoints[i].Endpoint != endpoints[j].Endpoint {
			return endpoints[i].Endpoint < endpoints[j].Endpoint
		}
		return endpoints[i].Method < endpoints[j].Method
	})

	return &Snapshot{
		Taken:             time.Now(),
		Elapsed:           time.Since(start),
		APIErrors:         c.apiErrors.Stats(),
		Conflicts:         c.conflicts.Stats(),
		HTTPReqs:          c.httpReqs.Value(),
		HTTPReqFailed:     c.httpReqFailed.Stats(),
		HTTPReqDuration:   c.httpReqDuration.Stats(),
		Checks:            c.checks.Stats(),
		CheckList:         checks,
		Iterations:        c.iterations.Value(),
		IterationErrors:   c.iterationErrors.Value(),
		IterationDuration: c.iterationDuration.Stats(),
		VUs:               c.vus.Value(),
		VUsMax:            c.vus.Max(),
		Endpoints:         endpoints,
		Shards:            shards,
	}
}

// Snapshot is a point-in-time copy of a Collector
type Snapshot struct {
	Taken   time.Time     `json:"taken" yaml:"taken"`
	Elapsed time.Duration `json:"elapsed" yaml:"elapsed"`

	APIErrors       RateStats  `json:"api_errors" yaml:"api_errors"`
	Conflicts       RateStats  `json:"optimistic_lock_conflicts" yaml:"optimistic_lock_conflicts"`
	HTTPReqs        int64      `json:"http_reqs" yaml:"http_reqs"`
	HTTPReqFailed   RateStats  `json:"http_req_failed" yaml:"http_req_failed"`
	HTTPReqDuration TrendStats `json:"http_req_duration" yaml:"http_req_duration"`
	Checks          RateStats  `json:"checks" yaml:"checks"`

	CheckList         []CheckStats `json:"check_list" yaml:"check_list"`
	Iterations        int64        `json:"iterations" yaml:"iterations"`
	IterationErrors   int64        `json:"iteration_errors" yaml:"iteration_errors"`
	IterationDuration TrendStats   `json:"iteration_duration" yaml:"iteration_duration"`
	VUs               int64        `json:"vus" yaml:"vus"`
	VUsMax            int64        `json:"vus_max" yaml:"vus_max"`

	Endpoints []EndpointStats  `json:"endpoints" yaml:"endpoints"`
	Shards    map[string]int64 `json:"shards,omitempty" yaml:"shards,omitempty"`
}

// CheckStats is the pass/fail count of one named check
type CheckStats struct {
	Name   string `json:"name" yaml:"name"`
	Passes int64  `json:"passes" yaml:"passes"`
	Fails  int64  `json:"fails" yaml:"fails"`
}

// EndpointStats aggregates the requests sharing one method and tag
type EndpointStats struct {
	Method   string     `json:"method" yaml:"method"`
	Endpoint string     `json:"endpoint" yaml:"endpoint"`
	Failed   RateStats  `json:"failed" yaml:"failed"`
	Duration TrendStats `json:"duration" yaml:"duration"`
}

// Name returns the "METHOD endpoint" label
func (e EndpointStats) Name() string {
	return e.Method + " " + e.Endpoint
}

// RPS returns http_reqs per second over the elapsed time
func (s *Snapshot) RPS() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.HTTPReqs) / s.Elapsed.Seconds()
}

// ShardKeys returns the recorded shard keys in order
func (s *Snapshot) ShardKeys() []string {
	keys := make([]string, 0, len(s.Shards))
	for k := range s.Shards {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
