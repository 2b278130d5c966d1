package runner

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrfox365/traveler-api/internal/apiclient"
	"github.com/mrfox365/traveler-api/internal/datagen"
	"github.com/mrfox365/traveler-api/internal/metrics"
	"github.com/mrfox365/traveler-api/internal/mockapi"
	"github.com/mrfox365/traveler-api/internal/scenario"
)

func testDeps(t *testing.T, baseURL string) Deps {
	t.Helper()
	client, err := apiclient.New(apiclient.Options{
		BaseURL:   baseURL,
		Collector: metrics.NewCollector(),
		Transport: apiclient.TransportConfig{Timeout: 2 * time.Second},
	})
	require.NoError(t, err)
	return Deps{Client: client, Data: datagen.New(7)}
}

func testScenario(wf scenario.Workflow, stages ...scenario.Stage) scenario.Scenario {
	return scenario.Scenario{
		Name:             "test",
		Executor:         scenario.ExecutorRampingVUs,
		Stages:           stages,
		GracefulRampDown: 50 * time.Millisecond,
		GracefulStop:     50 * time.Millisecond,
		Workflow:         wf,
		WorkflowName:     "test",
	}
}

func newRunner(t *testing.T, sc scenario.Scenario) *Runner {
	t.Helper()
	r, err := New(sc, testDeps(t, "http://127.0.0.1:1"), Options{TickInterval: 10 * time.Millisecond})
	require.NoError(t, err)
	return r
}

func TestTargetAt(t *testing.T) {
	sc := scenario.Scenario{
		StartVUs: 0,
		Stages: []scenario.Stage{
			{Duration: 10 * time.Second, Target: 10},
			{Duration: 10 * time.Second, Target: 10},
			{Duration: 10 * time.Second, Target: 0},
		},
	}

	tests := []struct {
		elapsed time.Duration
		target  int
		stage   int
	}{
		{0, 0, 0},
		{time.Second, 1, 0},
		{5 * time.Second, 5, 0},
		{10 * time.Second, 10, 1},
		{15 * time.Second, 10, 1},
		{20 * time.Second, 10, 2},
		{25 * time.Second, 5, 2},
		{40 * time.Second, 0, 2},
	}

	for _, tt := range tests {
		target, stage := TargetAt(sc, tt.elapsed)
		assert.Equal(t, tt.target, target, "target at %s", tt.elapsed)
		assert.Equal(t, tt.stage, stage, "stage at %s", tt.elapsed)
	}

	sc.StartVUs = 10
	sc.Stages = []scenario.Stage{{Duration: 30 * time.Second, Target: 10}}
	target, _ := TargetAt(sc, 0)
	assert.Equal(t, 10, target, "startVUs applies from the first tick")
}

func TestNew_Errors(t *testing.T) {
	deps := testDeps(t, "http://127.0.0.1:1")

	_, err := New(scenario.Scenario{Name: "bad"}, deps, Options{})
	assert.ErrorContains(t, err, "invalid scenario")

	_, err = New(scenario.Smoke(), Deps{}, Options{})
	assert.ErrorContains(t, err, "API client")
}

func TestRun_ConstantVUs(t *testing.T) {
	var mu sync.Mutex
	seen := map[int]bool{}

	wf := func(ctx context.Context, env scenario.Env) error {
		mu.Lock()
		seen[env.VU] = true
		mu.Unlock()
		return apiclient.Sleep(ctx, 5*time.Millisecond)
	}

	sc := testScenario(wf, scenario.Stage{Duration: 300 * time.Millisecond, Target: 3})
	sc.StartVUs = 3
	r := newRunner(t, sc)

	result, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, map[int]bool{1: true, 2: true, 3: true}, seen)
	assert.Greater(t, result.Iterations.Completed, int64(3))
	assert.Equal(t, result.Iterations.Completed, result.Metrics.Iterations)
	assert.Equal(t, int64(0), result.Metrics.IterationErrors)
	assert.Equal(t, int64(3), result.Metrics.VUsMax)
	assert.Equal(t, int64(0), result.Metrics.VUs)
	assert.Equal(t, 3, result.MaxVUs)
	assert.True(t, result.Passed(), "no thresholds means pass")

	_, err = r.Run(context.Background())
	assert.ErrorContains(t, err, "already started")
}

func TestRun_RampDownInterruptsAfterGrace(t *testing.T) {
	var blocked atomic.Int32
	wf := func(ctx context.Context, env scenario.Env) error {
		blocked.Add(1)
		<-ctx.Done()
		return ctx.Err()
	}

	sc := testScenario(wf,
		scenario.Stage{Duration: 50 * time.Millisecond, Target: 2},
		scenario.Stage{Duration: 10 * time.Millisecond, Target: 0},
		scenario.Stage{Duration: 400 * time.Millisecond, Target: 0},
	)
	sc.StartVUs = 2
	sc.GracefulStop = 5 * time.Second
	r := newRunner(t, sc)

	start := time.Now()
	result, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 3*time.Second, "ramp-down grace cut the blocked iterations")
	assert.Equal(t, int64(2), result.Iterations.Interrupted)
	assert.Equal(t, int32(2), blocked.Load())
	assert.Equal(t, int64(0), result.Metrics.Iterations, "interrupted iterations are not recorded")
}

func TestRun_GracefulStopLetsIterationsFinish(t *testing.T) {
	wf := func(ctx context.Context, env scenario.Env) error {
		time.Sleep(150 * time.Millisecond)
		return nil
	}

	sc := testScenario(wf, scenario.Stage{Duration: 50 * time.Millisecond, Target: 1})
	sc.StartVUs = 1
	sc.GracefulStop = 2 * time.Second
	r := newRunner(t, sc)

	result, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Iterations.Completed)
	assert.Equal(t, int64(0), result.Iterations.Interrupted)
}

func TestRun_GracefulStopExpires(t *testing.T) {
	wf := func(ctx context.Context, env scenario.Env) error {
		<-ctx.Done()
		return ctx.Err()
	}

	sc := testScenario(wf, scenario.Stage{Duration: 50 * time.Millisecond, Target: 1})
	sc.StartVUs = 1
	r := newRunner(t, sc)

	result, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, int64(1), result.Iterations.Interrupted)
}

func TestRun_PanicsAndAborts(t *testing.T) {
	var calls atomic.Int64
	wf := func(ctx context.Context, env scenario.Env) error {
		switch calls.Add(1) % 3 {
		case 0:
			panic("boom")
		case 1:
			return env.Abort(ctx, "create plan", errors.New("no data"))
		}
		return apiclient.Sleep(ctx, 5*time.Millisecond)
	}

	sc := testScenario(wf, scenario.Stage{Duration: 200 * time.Millisecond, Target: 1})
	sc.StartVUs = 1
	r := newRunner(t, sc)

	result, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Greater(t, result.Iterations.Aborted, int64(0))
	assert.Greater(t, result.Metrics.IterationErrors, int64(0))
	assert.Equal(t,
		result.Iterations.Completed+result.Iterations.Aborted,
		result.Metrics.Iterations)
}

func TestRun_StopAndCancel(t *testing.T) {
	wf := func(ctx context.Context, env scenario.Env) error {
		return apiclient.Sleep(ctx, 10*time.Millisecond)
	}

	sc := testScenario(wf, scenario.Stage{Duration: time.Minute, Target: 2})
	sc.StartVUs = 2

	t.Run("stop", func(t *testing.T) {
		r := newRunner(t, sc)
		time.AfterFunc(150*time.Millisecond, r.Stop)

		start := time.Now()
		result, err := r.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, StatusInterrupted, result.Status)
		assert.Less(t, time.Since(start), 5*time.Second)
		assert.True(t, r.Progress().Stopping)
	})

	t.Run("context", func(t *testing.T) {
		r := newRunner(t, sc)
		ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
		defer cancel()

		result, err := r.Run(ctx)
		require.NoError(t, err)
		assert.Equal(t, StatusInterrupted, result.Status)
	})
}

func TestRun_Progress(t *testing.T) {
	wf := func(ctx context.Context, env scenario.Env) error {
		return apiclient.Sleep(ctx, 5*time.Millisecond)
	}
	sc := testScenario(wf,
		scenario.Stage{Duration: 100 * time.Millisecond, Target: 2},
		scenario.Stage{Duration: 300 * time.Millisecond, Target: 2},
	)
	r := newRunner(t, sc)

	before := r.Progress()
	assert.False(t, before.Started)
	assert.Equal(t, 400*time.Millisecond, before.Total)
	assert.Equal(t, 2, before.Stages)

	midCh := make(chan Progress, 1)
	time.AfterFunc(250*time.Millisecond, func() { midCh <- r.Progress() })

	_, err := r.Run(context.Background())
	require.NoError(t, err)
	mid := <-midCh

	assert.True(t, mid.Started)
	assert.Equal(t, 1, mid.Stage)
	assert.Equal(t, 2, mid.TargetVUs)
	assert.Greater(t, mid.Iterations, int64(0))
	assert.InDelta(t, 0.6, mid.Fraction(), 0.2)
}

func TestRun_AgainstMockAPI(t *testing.T) {
	backend := mockapi.NewServer(mockapi.Options{})
	ts := httptest.NewServer(backend.Handler())
	defer ts.Close()

	sc := scenario.Load().WithConstantVUs(2, 300*time.Millisecond)
	sc.Pacing = scenario.Fixed(10 * time.Millisecond)
	sc.GracefulStop = 2 * time.Second
	sc.Thresholds[metrics.HTTPReqs] = []string{"count<1"}

	r, err := New(sc, testDeps(t, ts.URL), Options{TickInterval: 10 * time.Millisecond})
	require.NoError(t, err)

	result, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Greater(t, result.Metrics.HTTPReqs, int64(0))
	assert.Equal(t, int64(0), result.Metrics.APIErrors.Hits)
	assert.Equal(t, 0, backend.Store().PlanCount())

	assert.False(t, result.Passed())
	failed := result.FailedThresholds()
	require.Len(t, failed, 1)
	assert.Equal(t, metrics.HTTPReqs, failed[0].Metric)
	assert.Len(t, result.Thresholds, 3)
}
