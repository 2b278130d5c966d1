package apiclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrfox365/traveler-api/internal/endpoints"
	"github.com/mrfox365/traveler-api/internal/metrics"
	"github.com/mrfox365/traveler-api/internal/mockapi"
	"github.com/mrfox365/traveler-api/internal/model"
)

func newBackend(t *testing.T) (*Client, *metrics.Collector, *mockapi.Server) {
	t.Helper()

	backend := mockapi.NewServer(mockapi.Options{})
	ts := httptest.NewServer(backend.Handler())
	t.Cleanup(ts.Close)

	collector := metrics.NewCollector()
	client, err := New(Options{
		BaseURL:   ts.URL,
		Collector: collector,
		Transport: TransportConfig{Timeout: 5 * time.Second},
	})
	require.NoError(t, err)
	return client, collector, backend
}

func checkStats(s *metrics.Snapshot, name string) metrics.CheckStats {
	for _, c := range s.CheckList {
		if c.Name == name {
			return c
		}
	}
	return metrics.CheckStats{Name: name}
}

func TestClient_OptimisticConcurrencyScenario(t *testing.T) {
	client, collector, _ := newBackend(t)
	ctx := context.Background()

	req := model.PlanRequest{Title: "T", Budget: decimal.NewFromInt(1000), Currency: "USD", IsPublic: true}

	plan, err := client.CreatePlan(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, plan)
	assert.Equal(t, 0, plan.Version)
	assert.True(t, model.IsUUID(plan.ID))

	update := req
	update.Budget = decimal.NewFromInt(3000)
	updated, err := client.UpdatePlan(ctx, plan.ID, update.WithVersion(0))
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.True(t, updated.Budget.Equal(decimal.NewFromInt(3000)))
	assert.Equal(t, 1, updated.Version)

	before := collector.Snapshot().Conflicts.Hits

	stale, err := client.UpdatePlan(ctx, plan.ID, update.WithVersion(0))
	assert.Nil(t, stale)
	require.Error(t, err)
	assert.True(t, IsConflict(err))
	assert.False(t, errors.Is(err, ErrUnexpectedStatus), "409 is expected on update")
	assert.Equal(t, http.StatusConflict, StatusOf(err))

	s := collector.Snapshot()
	assert.Equal(t, before+1, s.Conflicts.Hits)
	assert.Equal(t, int64(0), s.APIErrors.Hits)
	assert.Equal(t, int64(3), s.APIErrors.Total)
	assert.Equal(t, int64(3), s.Conflicts.Total)
	assert.Equal(t, metrics.CheckStats{Name: "plan updated successfully", Passes: 1, Fails: 1}, checkStats(s, "plan updated successfully"))
	assert.Equal(t, int64(1), checkStats(s, "plan has version 0").Passes)
}

func TestClient_GetAfterDeleteIsNotFound(t *testing.T) {
	client, collector, _ := newBackend(t)
	ctx := context.Background()

	plan, err := client.CreatePlan(ctx, model.PlanRequest{Title: "gone", Currency: "EUR"})
	require.NoError(t, err)

	require.NoError(t, client.DeletePlan(ctx, plan.ID))

	for i := 0; i < 3; i++ {
		got, err := client.GetPlan(ctx, plan.ID)
		assert.Nil(t, got)
		assert.ErrorIs(t, err, ErrUnexpectedStatus)
		assert.Equal(t, http.StatusNotFound, StatusOf(err))
	}
	assert.NoError(t, client.VerifyPlanDeleted(ctx, plan.ID))

	s := collector.Snapshot()
	// create + delete + 3 failed gets + verify
	assert.Equal(t, int64(6), s.APIErrors.Total)
	assert.Equal(t, int64(3), s.APIErrors.Hits)
	assert.InDelta(t, 0.5, s.APIErrors.Rate(), 1e-9)
	assert.Equal(t, int64(1), checkStats(s, "plan is deleted (404)").Passes)
}

func TestClient_LocationRoundTrip(t *testing.T) {
	client, collector, _ := newBackend(t)
	ctx := context.Background()

	plan, err := client.CreatePlan(ctx, model.PlanRequest{Title: "P"})
	require.NoError(t, err)

	loc, err := client.CreateLocation(ctx, plan.ID, model.LocationRequest{Name: "Louvre", Budget: decimal.NewFromInt(17)})
	require.NoError(t, err)
	assert.Equal(t, plan.ID, loc.TravelPlanID)
	assert.GreaterOrEqual(t, loc.VisitOrder, 1)

	read, err := client.GetLocation(ctx, loc.ID)
	require.NoError(t, err)
	assert.Equal(t, plan.ID, read.TravelPlanID)
	assert.GreaterOrEqual(t, read.VisitOrder, 1)

	updated, err := client.UpdateLocation(ctx, loc.ID, model.LocationRequest{Name: "Louvre Museum"})
	require.NoError(t, err)
	assert.Equal(t, 1, updated.Version)
	assert.Equal(t, "Louvre Museum", updated.Name)

	// second update re-reads the version so it does not conflict
	updated, err = client.UpdateLocation(ctx, loc.ID, model.LocationRequest{Name: "Louvre"})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)

	require.NoError(t, client.DeleteLocation(ctx, loc.ID))

	s := collector.Snapshot()
	assert.Equal(t, int64(0), s.APIErrors.Hits)
	// create plan, create location, get, 2x(get+put), delete
	assert.Equal(t, int64(8), s.APIErrors.Total)
	assert.Equal(t, int64(1), checkStats(s, "location linked to plan").Passes)
	assert.Equal(t, int64(1), checkStats(s, "location has visitOrder").Passes)
}

func TestClient_SnakeCaseLocationResponse(t *testing.T) {
	const planID = "3f2504e0-4f89-41d3-9a0c-0305e82c3301"
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"a","travel_plan_id":"` + planID + `","visit_order":3,"name":"x","version":0}`))
	}))
	defer ts.Close()

	collector := metrics.NewCollector()
	client, err := New(Options{BaseURL: ts.URL, Collector: collector})
	require.NoError(t, err)

	loc, err := client.CreateLocation(context.Background(), planID, model.LocationRequest{Name: "x"})
	require.NoError(t, err)
	assert.Equal(t, planID, loc.TravelPlanID)
	assert.Equal(t, 3, loc.VisitOrder)

	s := collector.Snapshot()
	assert.Equal(t, int64(1), checkStats(s, "location linked to plan").Passes)
	assert.Equal(t, int64(1), checkStats(s, "location has visitOrder").Passes)
}

func TestClient_HealthAndValidation(t *testing.T) {
	client, collector, _ := newBackend(t)
	ctx := context.Background()

	require.NoError(t, client.CheckHealth(ctx))

	invalid := model.PlanRequest{Title: "", Budget: decimal.NewFromInt(-5), Currency: "USD"}
	require.NoError(t, client.Validate(ctx, http.MethodPost, client.Endpoints().TravelPlans(), invalid))

	// a valid payload fails the validation check
	err := client.Validate(ctx, http.MethodPost, client.Endpoints().TravelPlans(), model.PlanRequest{Title: "ok"})
	assert.ErrorIs(t, err, ErrUnexpectedStatus)

	s := collector.Snapshot()
	assert.Equal(t, int64(1), checkStats(s, "status is UP").Passes)
	assert.Equal(t, metrics.CheckStats{Name: "error message present", Passes: 1, Fails: 1}, checkStats(s, "error message present"))
	assert.Equal(t, int64(1), s.APIErrors.Hits)
}

func TestClient_HealthBodyMismatch(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"UP"}`))
	}))
	defer ts.Close()

	client, err := New(Options{BaseURL: ts.URL})
	require.NoError(t, err)

	err = client.CheckHealth(context.Background())
	assert.ErrorIs(t, err, ErrCheckFailed)
}

func TestClient_ListPlans(t *testing.T) {
	client, _, backend := newBackend(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := backend.Store().CreatePlan(model.PlanRequest{Title: "p"})
		require.NoError(t, err)
	}

	page, err := client.ListPlans(ctx, endpoints.ListOptions{Size: 2})
	require.NoError(t, err)
	assert.Len(t, page.Content, 2)
	assert.Equal(t, 3, page.TotalElements)

	bare := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":"a","title":"x","version":0}]`))
	}))
	defer bare.Close()

	bareClient, err := New(Options{BaseURL: bare.URL})
	require.NoError(t, err)
	page, err = bareClient.ListPlans(ctx, endpoints.ListOptions{})
	require.NoError(t, err)
	require.Len(t, page.Content, 1)
	assert.Equal(t, "x", page.Content[0].Title)
}

func TestClient_EmptyPageIsArray(t *testing.T) {
	client, collector, _ := newBackend(t)

	page, err := client.ListPlans(context.Background(), endpoints.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, page.Content)
	assert.Equal(t, int64(1), checkStats(collector.Snapshot(), "response is array").Passes)
}

func TestClient_TransportFailure(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	collector := metrics.NewCollector()
	client, err := New(Options{BaseURL: url, Collector: collector})
	require.NoError(t, err)

	plan, err := client.CreatePlan(context.Background(), model.PlanRequest{Title: "x"})
	assert.Nil(t, plan)
	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, ErrUnexpectedStatus)
	assert.Equal(t, 0, StatusOf(err))

	s := collector.Snapshot()
	assert.Equal(t, metrics.RateStats{Hits: 1, Total: 1}, s.APIErrors)
	assert.Equal(t, metrics.RateStats{Hits: 0, Total: 1}, s.Conflicts)
}

func TestClient_Timeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()

	client, err := New(Options{BaseURL: ts.URL, Transport: TransportConfig{Timeout: 50 * time.Millisecond}})
	require.NoError(t, err)

	start := time.Now()
	err = client.CheckHealth(context.Background())
	assert.ErrorIs(t, err, ErrTransport)
	assert.Less(t, time.Since(start), time.Second)
}

func TestClient_DoIsUntracked(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	collector := metrics.NewCollector()
	client, err := New(Options{BaseURL: ts.URL, Collector: collector})
	require.NoError(t, err)

	resp, err := client.Do(context.Background(), http.MethodGet, ts.URL+"/anything", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)

	_, err = client.Do(context.Background(), http.MethodGet, ts.URL+"/anything", nil, http.StatusCreated)
	assert.ErrorIs(t, err, ErrUnexpectedStatus)

	s := collector.Snapshot()
	assert.Equal(t, int32(2), hits.Load())
	assert.Equal(t, int64(2), s.HTTPReqs)
	assert.Equal(t, metrics.RateStats{Hits: 1, Total: 2}, s.HTTPReqFailed)
	assert.Equal(t, int64(0), s.APIErrors.Total)
}

func TestClient_UpdatePlanStale(t *testing.T) {
	client, collector, _ := newBackend(t)
	ctx := context.Background()

	req := model.PlanRequest{Title: "T", Budget: decimal.NewFromInt(1000), Currency: "USD"}
	plan, err := client.CreatePlan(ctx, req)
	require.NoError(t, err)
	_, err = client.UpdatePlan(ctx, plan.ID, req.WithVersion(0))
	require.NoError(t, err)

	require.NoError(t, client.UpdatePlanStale(ctx, plan.ID, req.WithVersion(0)))

	s := collector.Snapshot()
	assert.Equal(t, metrics.CheckStats{Name: "stale version rejected with 409", Passes: 1}, checkStats(s, "stale version rejected with 409"))
	assert.Equal(t, metrics.CheckStats{Name: "plan updated successfully", Passes: 1}, checkStats(s, "plan updated successfully"))
	assert.Equal(t, int64(1), s.Conflicts.Hits)
	assert.Equal(t, int64(0), s.APIErrors.Hits)
	assert.Equal(t, int64(0), s.Checks.Misses())
}

func TestClient_UpdatePlanStaleAccepted(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"3f2504e0-4f89-41d3-9a0c-0305e82c3301","version":1}`))
	}))
	defer ts.Close()

	collector := metrics.NewCollector()
	client, err := New(Options{BaseURL: ts.URL, Collector: collector})
	require.NoError(t, err)

	err = client.UpdatePlanStale(context.Background(), "3f2504e0-4f89-41d3-9a0c-0305e82c3301", model.PlanRequest{Title: "T"}.WithVersion(0))
	assert.ErrorIs(t, err, ErrUnexpectedStatus)

	s := collector.Snapshot()
	assert.Equal(t, int64(1), checkStats(s, "stale version rejected with 409").Fails)
	assert.Equal(t, metrics.RateStats{Hits: 1, Total: 1}, s.APIErrors)
}

func TestClient_EncodeFailureIsRecorded(t *testing.T) {
	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer ts.Close()

	collector := metrics.NewCollector()
	client, err := New(Options{BaseURL: ts.URL, Collector: collector})
	require.NoError(t, err)

	_, err = client.call(context.Background(), http.MethodPost, client.Endpoints().TravelPlans(),
		map[string]any{"budget": func() {}}, http.StatusCreated)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to encode")

	s := collector.Snapshot()
	assert.Equal(t, int32(0), hits.Load())
	assert.Equal(t, metrics.RateStats{Hits: 1, Total: 1}, s.APIErrors)
	assert.Equal(t, metrics.RateStats{Hits: 0, Total: 1}, s.Conflicts)
	assert.Equal(t, int64(1), s.Checks.Misses())
}

func TestClient_ForVU(t *testing.T) {
	client, _, _ := newBackend(t)

	view := client.ForVU(7)
	assert.Equal(t, 7, view.VU())
	assert.Equal(t, 0, client.VU())
	assert.Same(t, client.Collector(), view.Collector())
}

func TestThinkTime(t *testing.T) {
	start := time.Now()
	require.NoError(t, ThinkTime(context.Background(), 10*time.Millisecond, 20*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, ThinkTime(ctx, time.Hour, time.Hour), context.Canceled)
}

func TestStatusError_Message(t *testing.T) {
	err := &StatusError{Method: "PUT", Endpoint: "/api/travel-plans/:id", Status: 500, Expected: []int{200, 409}}
	assert.Equal(t, "PUT /api/travel-plans/:id: status 500 (expected [200,409])", err.Error())
	assert.ErrorIs(t, err, ErrUnexpectedStatus)
	assert.False(t, IsConflict(err))
}
