// Package runner executes a scenario with the ramping-VU model: a controller
// adjusts the number of running virtual users along the stage list, and each
// VU repeats the scenario workflow until it is no longer wanted.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mrfox365/traveler-api/internal/apiclient"
	"github.com/mrfox365/traveler-api/internal/datagen"
	"github.com/mrfox365/traveler-api/internal/metrics"
	"github.com/mrfox365/traveler-api/internal/scenario"
)

const (
	// TickInterval is how often the controller recomputes the VU target
	TickInterval = 100 * time.Millisecond
)

// Deps are shared by every VU of a run
type Deps struct {
	Client *apiclient.Client
	Data   *datagen.Generator
}

// Options tune a Runner
type Options struct {
	TickInterval time.Duration
	Logger       *zap.Logger
}

// vu is one virtual user slot
type vu struct {
	id      int // 1-based, as shown in titles
	running atomic.Bool

	mu          sync.Mutex
	cancelIter  context.CancelFunc
	excessSince time.Time
}

func (v *vu) setCancel(cancel context.CancelFunc) {
	v.mu.Lock()
	v.cancelIter = cancel
	v.mu.Unlock()
}

// interrupt cancels the in-flight iteration, if any
func (v *vu) interrupt() {
	v.mu.Lock()
	if v.cancelIter != nil {
		v.cancelIter()
	}
	v.mu.Unlock()
}

// Runner drives one scenario run
type Runner struct {
	sc     scenario.Scenario
	deps   Deps
	tick   time.Duration
	logger *zap.Logger

	collector *metrics.Collector
	slots     []*vu

	group      *errgroup.Group
	hardCtx    context.Context
	hardCancel context.CancelFunc

	stopOnce sync.Once
	stopCh   chan struct{}

	started   atomic.Int64 // unix nanos
	stage     atomic.Int32
	target    atomic.Int32
	active    atomic.Int32
	stopping  atomic.Bool
	completed atomic.Int64
	aborted   atomic.Int64
	cut       atomic.Int64 // interrupted iterations
}

// New validates the scenario and prepares a runner
func New(sc scenario.Scenario, deps Deps, opts Options) (*Runner, error) {
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	if deps.Client == nil {
		return nil, fmt.Errorf("runner requires an API client")
	}
	if deps.Client.Collector() == nil {
		return nil, fmt.Errorf("runner requires a client with a metrics collector")
	}
	if deps.Data == nil {
		deps.Data = datagen.New(0)
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = TickInterval
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	slots := make([]*vu, sc.MaxVUs())
	for i := range slots {
		slots[i] = &vu{id: i + 1}
	}

	return &Runner{
		sc:        sc,
		deps:      deps,
		tick:      opts.TickInterval,
		logger:    opts.Logger.With(zap.String("scenario", sc.Name)),
		collector: deps.Client.Collector(),
		slots:     slots,
		stopCh:    make(chan struct{}),
	}, nil
}

// Scenario returns the scenario being run
func (r *Runner) Scenario() scenario.Scenario {
	return r.sc
}

// Collector returns the run's metrics collector
func (r *Runner) Collector() *metrics.Collector {
	return r.collector
}

// Stop requests a graceful stop: no new iterations, in-flight ones get GracefulStop
func (r *Runner) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

// Run executes the scenario and blocks until every VU has exited.
// Cancelling ctx behaves like Stop and marks the run interrupted.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	if !r.started.CompareAndSwap(0, time.Now().UnixNano()) {
		return nil, fmt.Errorf("runner already started")
	}
	startedAt := r.startTime()
	r.collector.Reset()

	r.hardCtx, r.hardCancel = context.WithCancel(context.Background())
	defer r.hardCancel()
	r.group = &errgroup.Group{}

	r.logger.Info("Run started",
		zap.Int("stages", len(r.sc.Stages)),
		zap.Int("max_vus", len(r.slots)),
		zap.Duration("duration", r.sc.TotalDuration()))

	status := r.control(ctx)

	// gracefulStop: let in-flight iterations finish, then cut them
	done := make(chan struct{})
	go func() {
		_ = r.group.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(gracefulOrDefault(r.sc.GracefulStop)):
		r.logger.Warn("Graceful stop expired, interrupting iterations",
			zap.Int32("active_vus", r.active.Load()))
		r.hardCancel()
		<-done
	}
	r.collector.SetVUs(0)

	endedAt := time.Now()
	result := r.result(status, startedAt, endedAt)

	r.logger.Info("Run finished",
		zap.String("status", string(result.Status)),
		zap.Duration("elapsed", result.Duration),
		zap.Int64("iterations", result.Iterations.Completed),
		zap.Bool("thresholds_passed", result.Passed()))

	return result, nil
}

// control is the controller loop; it returns when the stages are over or a stop was requested
func (r *Runner) control(ctx context.Context) Status {
	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()

	total := r.sc.TotalDuration()
	r.adjust(0)

	for {
		select {
		case <-ctx.Done():
			r.beginStop("context cancelled")
			return StatusInterrupted
		case <-r.stopCh:
			r.beginStop("stop requested")
			return StatusInterrupted
		case <-ticker.C:
			elapsed := time.Since(r.startTime())
			if elapsed >= total {
				r.beginStop("stages complete")
				return StatusCompleted
			}
			r.adjust(elapsed)
		}
	}
}

// adjust applies the target for elapsed: starts missing VUs and
// interrupts excess ones that outlived gracefulRampDown
func (r *Runner) adjust(elapsed time.Duration) {
	target, stage := TargetAt(r.sc, elapsed)
	r.target.Store(int32(target))
	r.stage.Store(int32(stage))

	now := time.Now()
	grace := gracefulOrDefault(r.sc.GracefulRampDown)

	for i, slot := range r.slots {
		if i < target {
			slot.mu.Lock()
			slot.excessSince = time.Time{}
			slot.mu.Unlock()
			if slot.running.CompareAndSwap(false, true) {
				r.startVU(slot)
			}
			continue
		}
		if !slot.running.Load() {
			continue
		}
		slot.mu.Lock()
		if slot.excessSince.IsZero() {
			slot.excessSince = now
		}
		expired := now.Sub(slot.excessSince) >= grace
		slot.mu.Unlock()
		if expired {
			slot.interrupt()
		}
	}

	r.collector.SetVUs(int(r.active.Load()))
}

func (r *Runner) beginStop(reason string) {
	r.stopping.Store(true)
	r.target.Store(0)
	r.logger.Info("Stopping run", zap.String("reason", reason), zap.Int32("active_vus", r.active.Load()))
}

func (r *Runner) startVU(slot *vu) {
	r.active.Add(1)
	r.group.Go(func() error {
		defer func() {
			r.active.Add(-1)
			slot.running.Store(false)
		}()

		client := r.deps.Client.ForVU(slot.id)
		var iteration int64
		for r.wanted(slot) {
			r.iterate(client, slot, iteration)
			iteration++
		}
		return nil
	})
}

// wanted reports whether slot should start another iteration
func (r *Runner) wanted(slot *vu) bool {
	if r.stopping.Load() || r.hardCtx.Err() != nil {
		return false
	}
	return slot.id <= int(r.target.Load())
}

// iterate runs one workflow iteration and records its outcome
func (r *Runner) iterate(client *apiclient.Client, slot *vu, iteration int64) {
	ctx, cancel := context.WithCancel(r.hardCtx)
	slot.setCancel(cancel)
	defer func() {
		slot.setCancel(nil)
		cancel()
	}()

	env := scenario.Env{
		Client:     client,
		Data:       r.deps.Data,
		VU:         slot.id,
		Iteration:  iteration,
		Pacing:     r.sc.Pacing,
		AbortPause: r.sc.AbortPause,
	}

	start := time.Now()
	err := r.safeRun(ctx, env)
	duration := time.Since(start)

	switch {
	case ctx.Err() != nil:
		r.cut.Add(1)
		return
	case errors.Is(err, scenario.ErrAborted):
		r.aborted.Add(1)
	default:
		r.completed.Add(1)
	}

	if err != nil {
		r.logger.Debug("Iteration failed",
			zap.Int("vu", slot.id),
			zap.Int64("iteration", iteration),
			zap.Error(err))
	}
	r.collector.RecordIteration(duration, err != nil)
}

// safeRun recovers a panicking workflow into an error
func (r *Runner) safeRun(ctx context.Context, env scenario.Env) (err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("Workflow panicked", zap.Int("vu", env.VU), zap.Any("panic", p))
			err = fmt.Errorf("workflow panic: %v", p)
		}
	}()
	return r.sc.Workflow(ctx, env)
}

func (r *Runner) startTime() time.Time {
	return time.Unix(0, r.started.Load())
}

// Progress is a live view of a run
type Progress struct {
	Started    bool
	Elapsed    time.Duration
	Total      time.Duration
	Stage      int // 0-based index into the stage list
	Stages     int
	TargetVUs  int
	ActiveVUs  int
	Iterations int64
	Requests   int64
	Stopping   bool
}

// Fraction is Elapsed over Total, clamped to [0, 1]
func (p Progress) Fraction() float64 {
	if p.Total <= 0 {
		return 0
	}
	f := float64(p.Elapsed) / float64(p.Total)
	if f > 1 {
		return 1
	}
	return f
}

// Progress returns the current state; safe to call from any goroutine
func (r *Runner) Progress() Progress {
	p := Progress{
		Total:      r.sc.TotalDuration(),
		Stages:     len(r.sc.Stages),
		Stage:      int(r.stage.Load()),
		TargetVUs:  int(r.target.Load()),
		ActiveVUs:  int(r.active.Load()),
		Iterations: r.collector.Iterations(),
		Requests:   r.collector.Requests(),
		Stopping:   r.stopping.Load(),
	}
	if r.started.Load() != 0 {
		p.Started = true
		p.Elapsed = time.Since(r.startTime())
	}
	return p
}

// TargetAt returns the VU target and the stage index at elapsed. The target
// moves linearly from the previous stage's target (StartVUs for the first)
// to the stage's own target.
func TargetAt(sc scenario.Scenario, elapsed time.Duration) (int, int) {
	from := sc.StartVUs
	var offset time.Duration
	for i, st := range sc.Stages {
		if elapsed < offset+st.Duration {
			frac := float64(elapsed-offset) / float64(st.Duration)
			return from + int(float64(st.Target-from)*frac), i
		}
		offset += st.Duration
		from = st.Target
	}
	if len(sc.Stages) == 0 {
		return sc.StartVUs, 0
	}
	return from, len(sc.Stages) - 1
}

func gracefulOrDefault(d time.Duration) time.Duration {
	if d <= 0 {
		return scenario.DefaultGracefulStop
	}
	return d
}
