package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/jmespath/go-jmespath"
	"go.uber.org/zap"

	"github.com/mrfox365/traveler-api/internal/endpoints"
	"github.com/mrfox365/traveler-api/internal/model"
)

// Field extractors. Backends have answered both camelCase and snake_case.
var (
	exprPlanLink   = jmespath.MustCompile("travelPlanId || travel_plan_id")
	exprVisitOrder = jmespath.MustCompile("visitOrder || visit_order")
	exprContent    = jmespath.MustCompile("content")
	exprError      = jmespath.MustCompile("error")
	exprID         = jmespath.MustCompile("id")
	exprVersion    = jmespath.MustCompile("version")
)

// search decodes body into a generic value and evaluates expr against it
func search(expr *jmespath.JMESPath, body []byte) (interface{}, error) {
	var data interface{}
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	result, err := expr.Search(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return result, nil
}

// CreatePlan posts a new plan. Expects 201 with a UUID id and version 0.
func (c *Client) CreatePlan(ctx context.Context, req model.PlanRequest) (*model.TravelPlan, error) {
	resp, err := c.call(ctx, http.MethodPost, c.resolver.TravelPlans(), req, http.StatusCreated)

	created := err == nil
	c.check("plan created successfully", created)

	var plan model.TravelPlan
	var decodeErr error
	if created {
		decodeErr = resp.JSON(&plan)
	}
	c.check("plan has valid UUID", created && decodeErr == nil && model.IsUUID(plan.ID))
	c.check("plan has version 0", created && decodeErr == nil && versionIsZero(resp.Body))

	if err != nil {
		return nil, err
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	return &plan, nil
}

// versionIsZero requires a literal 0, not an absent field
func versionIsZero(body []byte) bool {
	v, err := search(exprVersion, body)
	if err != nil {
		return false
	}
	n, ok := v.(float64)
	return ok && n == 0
}

// GetPlan reads a plan. Expects 200.
func (c *Client) GetPlan(ctx context.Context, id string) (*model.TravelPlan, error) {
	resp, err := c.call(ctx, http.MethodGet, c.resolver.TravelPlan(id), nil, http.StatusOK)
	if err != nil {
		return nil, err
	}

	var plan model.TravelPlan
	if err := resp.JSON(&plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

// VerifyPlanDeleted reads a plan expecting 404
func (c *Client) VerifyPlanDeleted(ctx context.Context, id string) error {
	_, err := c.call(ctx, http.MethodGet, c.resolver.TravelPlan(id), nil, http.StatusNotFound)
	c.check("plan is deleted (404)", err == nil)
	return err
}

// UpdatePlan puts a plan carrying req.Version. Expects 200 or 409; a 409
// returns nil data and an error for which IsConflict is true.
func (c *Client) UpdatePlan(ctx context.Context, id string, req model.PlanRequest) (*model.TravelPlan, error) {
	resp, err := c.call(ctx, http.MethodPut, c.resolver.TravelPlan(id), req, http.StatusOK, http.StatusConflict)
	if err != nil {
		c.check("plan updated successfully", false)
		return nil, err
	}

	c.check("plan updated successfully", resp.Status == http.StatusOK)
	if resp.Status == http.StatusConflict {
		return nil, &StatusError{
			Method:   http.MethodPut,
			Endpoint: endpoints.Tag(c.resolver.TravelPlan(id)),
			Status:   resp.Status,
			Expected: []int{http.StatusOK, http.StatusConflict},
		}
	}

	var plan model.TravelPlan
	if err := resp.JSON(&plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

// UpdatePlanStale sends an update carrying an outdated version. Expects 409;
// any other status is an error and fails the check.
func (c *Client) UpdatePlanStale(ctx context.Context, id string, req model.PlanRequest) error {
	_, err := c.call(ctx, http.MethodPut, c.resolver.TravelPlan(id), req, http.StatusConflict)
	c.check("stale version rejected with 409", err == nil)
	return err
}

// DeletePlan deletes a plan. Expects 204.
func (c *Client) DeletePlan(ctx context.Context, id string) error {
	_, err := c.call(ctx, http.MethodDelete, c.resolver.TravelPlan(id), nil, http.StatusNoContent)
	c.check("plan deleted successfully", err == nil)
	return err
}

// ListPlans reads one page of plans. Accepts a page object or a bare array.
func (c *Client) ListPlans(ctx context.Context, opts endpoints.ListOptions) (*model.Page[model.TravelPlan], error) {
	resp, err := c.call(ctx, http.MethodGet, c.resolver.TravelPlansPage(opts), nil, http.StatusOK)
	c.check("plans list retrieved", err == nil)
	if err != nil {
		c.check("response is array", false)
		return nil, err
	}

	content, searchErr := listContent(resp.Body)
	_, isArray := content.([]interface{})
	c.check("response is array", searchErr == nil && isArray)
	if searchErr != nil {
		return nil, searchErr
	}
	if !isArray {
		return nil, fmt.Errorf("%w: list content is not an array", ErrDecode)
	}

	page := &model.Page[model.TravelPlan]{}
	if err := resp.JSON(page); err != nil || page.Content == nil {
		// bare array body
		page = &model.Page[model.TravelPlan]{}
		if err := resp.JSON(&page.Content); err != nil {
			return nil, err
		}
		page.TotalElements = len(page.Content)
		page.Size = len(page.Content)
		if len(page.Content) > 0 {
			page.TotalPages = 1
		}
	}
	return page, nil
}

// listContent returns the content array of a page, or the body itself when it is not a page
func listContent(body []byte) (interface{}, error) {
	var data interface{}
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if _, isObject := data.(map[string]interface{}); !isObject {
		return data, nil
	}
	content, err := exprContent.Search(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return content, nil
}

// CreateLocation adds a location to a plan. Expects 201 with visit order >= 1
// and the parent linkage equal to planID.
func (c *Client) CreateLocation(ctx context.Context, planID string, req model.LocationRequest) (*model.Location, error) {
	resp, err := c.call(ctx, http.MethodPost, c.resolver.LocationsForPlan(planID), req, http.StatusCreated)

	created := err == nil
	c.check("location created successfully", created)

	hasOrder, linked := false, false
	if created {
		if v, serr := search(exprVisitOrder, resp.Body); serr == nil {
			n, ok := v.(float64)
			hasOrder = ok && n >= 1
		}
		if v, serr := search(exprPlanLink, resp.Body); serr == nil {
			s, ok := v.(string)
			linked = ok && s == planID
		}
	}
	c.check("location has visitOrder", hasOrder)
	c.check("location linked to plan", linked)

	if err != nil {
		return nil, err
	}

	var loc model.Location
	if err := resp.JSON(&loc); err != nil {
		return nil, err
	}
	// fill fields the backend may have sent in snake_case
	if loc.TravelPlanID == "" && linked {
		loc.TravelPlanID = planID
	}
	if loc.VisitOrder == 0 && hasOrder {
		if v, serr := search(exprVisitOrder, resp.Body); serr == nil {
			loc.VisitOrder = int(v.(float64))
		}
	}
	return &loc, nil
}

// GetLocation reads a location. Expects 200.
func (c *Client) GetLocation(ctx context.Context, id string) (*model.Location, error) {
	resp, err := c.call(ctx, http.MethodGet, c.resolver.Location(id), nil, http.StatusOK)
	if err != nil {
		return nil, err
	}

	var loc model.Location
	if err := resp.JSON(&loc); err != nil {
		return nil, err
	}
	return &loc, nil
}

// UpdateLocation reads the current version then puts req with that version.
// The two steps are not atomic: a concurrent writer between them yields 409.
func (c *Client) UpdateLocation(ctx context.Context, id string, req model.LocationRequest) (*model.Location, error) {
	current, err := c.GetLocation(ctx, id)
	if err != nil {
		c.logger.Debug("failed to fetch location for update", zap.String("id", id), zap.Error(err))
		return nil, err
	}

	resp, err := c.call(ctx, http.MethodPut, c.resolver.Location(id), req.WithVersion(current.Version), http.StatusOK, http.StatusConflict)
	if err != nil {
		c.check("location updated successfully", false)
		return nil, err
	}

	c.check("location updated successfully", resp.Status == http.StatusOK)
	if resp.Status == http.StatusConflict {
		return nil, &StatusError{
			Method:   http.MethodPut,
			Endpoint: endpoints.Tag(c.resolver.Location(id)),
			Status:   resp.Status,
			Expected: []int{http.StatusOK, http.StatusConflict},
		}
	}

	var loc model.Location
	if err := resp.JSON(&loc); err != nil {
		return nil, err
	}
	return &loc, nil
}

// DeleteLocation deletes a location. Expects 204.
func (c *Client) DeleteLocation(ctx context.Context, id string) error {
	_, err := c.call(ctx, http.MethodDelete, c.resolver.Location(id), nil, http.StatusNoContent)
	c.check("location deleted successfully", err == nil)
	return err
}

// CheckHealth expects 200 with the literal body "UP"
func (c *Client) CheckHealth(ctx context.Context) error {
	resp, err := c.call(ctx, http.MethodGet, c.resolver.Health(), nil, http.StatusOK)
	c.check("API is healthy", err == nil)

	up := err == nil && string(resp.Body) == "UP"
	c.check("status is UP", up)

	if err != nil {
		return err
	}
	if !up {
		return fmt.Errorf("%w: health body %q", ErrCheckFailed, truncate(resp.Body, 64))
	}
	return nil
}

// Validate sends an invalid payload expecting 400 with an error field containing the marker
func (c *Client) Validate(ctx context.Context, method, url string, body any) error {
	resp, err := c.call(ctx, method, url, body, http.StatusBadRequest)
	c.check("validation error returned", err == nil)

	hasMessage := false
	if err == nil {
		if v, serr := search(exprError, resp.Body); serr == nil {
			s, ok := v.(string)
			hasMessage = ok && strings.Contains(s, c.marker)
		}
	}
	c.check("error message present", hasMessage)

	if err != nil {
		return err
	}
	if !hasMessage {
		return fmt.Errorf("%w: error body lacks %q", ErrCheckFailed, c.marker)
	}
	return nil
}

// ExtractID reads the id field of a JSON body
func ExtractID(body []byte) (string, bool) {
	v, err := search(exprID, body)
	if err != nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
