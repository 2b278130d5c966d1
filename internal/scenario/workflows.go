package scenario

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/mrfox365/traveler-api/internal/apiclient"
	"github.com/mrfox365/traveler-api/internal/endpoints"
	"github.com/mrfox365/traveler-api/internal/model"
)

// Workflows never clean up after an aborted iteration: a plan created
// before a later step failed stays on the backend.

var (
	LoadWorkflow      = crudWorkflow("Load Test Plan VU-%d", 9999, true, true)
	StressWorkflow    = crudWorkflow("Stress Test VU-%d", 5000, true, true)
	SpikeWorkflow     = crudWorkflow("Spike VU-%d", 0, false, false)
	EnduranceWorkflow = crudWorkflow("Endurance VU-%d", 3000, true, true)
)

// crudWorkflow builds the create -> add location -> read -> update -> delete body.
// The update reuses the generated fields with version 0, the version a fresh
// plan is known to have, so a concurrent writer shows up as a 409.
func crudWorkflow(titleFormat string, updateBudget int64, withHealth, withUpdate bool) Workflow {
	return func(ctx context.Context, env Env) error {
		c := env.Client
		var errs []error

		if withHealth {
			if err := c.CheckHealth(ctx); err != nil {
				errs = append(errs, err)
			}
		}

		req := env.Data.Plan()
		req.Title = fmt.Sprintf(titleFormat, env.VU)

		plan, err := c.CreatePlan(ctx, req)
		if plan == nil {
			return errors.Join(append(errs, env.Abort(ctx, "create plan", err))...)
		}

		if _, err := c.CreateLocation(ctx, plan.ID, env.Data.Location()); err != nil {
			errs = append(errs, err)
		}

		if _, err := c.GetPlan(ctx, plan.ID); err != nil {
			errs = append(errs, err)
		}

		if withUpdate {
			update := req
			update.Budget = decimal.NewFromInt(updateBudget)
			if _, err := c.UpdatePlan(ctx, plan.ID, update.WithVersion(0)); err != nil && !apiclient.IsConflict(err) {
				errs = append(errs, err)
			}
		}

		if err := c.DeletePlan(ctx, plan.ID); err != nil {
			errs = append(errs, err)
		}

		_ = env.Pace(ctx)
		return errors.Join(errs...)
	}
}

// SmokeWorkflow walks every operation once, including an invalid create
// and a deliberate stale update that must be rejected with 409.
func SmokeWorkflow(ctx context.Context, env Env) error {
	c := env.Client
	var errs []error
	keep := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	keep(c.CheckHealth(ctx))

	req := env.Data.Plan()
	req.Title = fmt.Sprintf("Smoke Test Plan VU-%d", env.VU)

	plan, err := c.CreatePlan(ctx, req)
	if plan == nil {
		return errors.Join(append(errs, env.Abort(ctx, "create plan", err))...)
	}

	keep(c.Validate(ctx, http.MethodPost, c.Endpoints().TravelPlans(), env.Data.InvalidPlan()))

	loc, err := c.CreateLocation(ctx, plan.ID, env.Data.Location())
	keep(err)

	_, err = c.GetPlan(ctx, plan.ID)
	keep(err)

	_, err = c.ListPlans(ctx, endpoints.ListOptions{Page: 0, Size: 10})
	keep(err)

	update := req
	update.Budget = update.Budget.Add(decimal.NewFromInt(100))
	updated, err := c.UpdatePlan(ctx, plan.ID, update.WithVersion(plan.Version))
	if err != nil && !apiclient.IsConflict(err) {
		keep(err)
	}
	if updated != nil {
		c.Collector().Check("updated plan echoes new budget", updated.Budget.Equal(update.Budget))

		keep(c.UpdatePlanStale(ctx, plan.ID, update.WithVersion(plan.Version)))
	}

	if loc != nil {
		_, err = c.UpdateLocation(ctx, loc.ID, env.Data.Location())
		if err != nil && !apiclient.IsConflict(err) {
			keep(err)
		}
		keep(c.DeleteLocation(ctx, loc.ID))
	}

	keep(c.DeletePlan(ctx, plan.ID))
	keep(c.VerifyPlanDeleted(ctx, plan.ID))

	_ = env.Pace(ctx)
	return errors.Join(errs...)
}

// shardTestPlan is the fixed payload of the sharding check
func shardTestPlan() model.PlanRequest {
	start, _ := model.ParseDate("2024-01-01")
	end, _ := model.ParseDate("2024-01-10")
	return model.PlanRequest{
		Title:       "Shard Test Plan",
		Description: "Testing distribution across 16 shards",
		StartDate:   &start,
		EndDate:     &end,
		Budget:      decimal.RequireFromString("1000.00"),
		Currency:    "USD",
		IsPublic:    true,
	}
}

// ShardingWorkflow creates a plan with a raw request and reads it straight back
// by id, checking that routing finds the record. The shard key of every created
// record is counted.
func ShardingWorkflow(ctx context.Context, env Env) error {
	c := env.Client
	col := c.Collector()

	resp, err := c.Do(ctx, http.MethodPost, c.Endpoints().TravelPlans(), shardTestPlan(), http.StatusCreated, http.StatusOK)
	if !col.Check("create status is 201", err == nil) {
		return env.Abort(ctx, "create plan", err)
	}

	id, ok := apiclient.ExtractID(resp.Body)
	if !ok {
		col.Check("read status is 200", false)
		col.Check("id matches", false)
		return env.Abort(ctx, "create plan", fmt.Errorf("%w: no id in body", apiclient.ErrDecode))
	}
	col.RecordShard(model.ShardKey(id))

	read, err := c.Do(ctx, http.MethodGet, c.Endpoints().TravelPlan(id), nil)
	readOK := read != nil && read.Status == http.StatusOK
	col.Check("read status is 200", readOK)

	matches := false
	if readOK {
		readID, _ := apiclient.ExtractID(read.Body)
		matches = readID == id
	}
	col.Check("id matches", matches)

	_ = env.Pace(ctx)

	if err != nil {
		return err
	}
	if !matches {
		return fmt.Errorf("%w: read back id does not match %s", apiclient.ErrCheckFailed, id)
	}
	return nil
}
