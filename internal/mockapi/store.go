package mockapi

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mrfox365/traveler-api/internal/model"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("version conflict")
	ErrValidation = errors.New("validation error")
)

// FieldError is a validation failure on named fields
type FieldError struct {
	Fields map[string]string
}

func (e *FieldError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation error: " + strings.Join(parts, "; ")
}

func (e *FieldError) Unwrap() error {
	return ErrValidation
}

type planRecord struct {
	plan      model.TravelPlan
	createdAt time.Time
	locations []string
}

// Store keeps plans and locations in memory with the backend's versioning rules
type Store struct {
	mu        sync.RWMutex
	plans     map[string]*planRecord
	locations map[string]*model.Location
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		plans:     make(map[string]*planRecord),
		locations: make(map[string]*model.Location),
	}
}

// CreatePlan validates and stores a new plan at version 0
func (s *Store) CreatePlan(req model.PlanRequest) (model.TravelPlan, error) {
	if err := validatePlan(req, false); err != nil {
		return model.TravelPlan{}, err
	}

	plan := model.TravelPlan{
		ID:          uuid.NewString(),
		Title:       req.Title,
		Description: req.Description,
		StartDate:   req.StartDate,
		EndDate:     req.EndDate,
		Budget:      req.Budget,
		Currency:    currencyOrDefault(req.Currency),
		IsPublic:    req.IsPublic,
		Version:     0,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[plan.ID] = &planRecord{plan: plan, createdAt: time.Now()}
	return plan, nil
}

// GetPlan returns the plan with its locations in visit order
func (s *Store) GetPlan(id string) (model.TravelPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.plans[id]
	if !ok {
		return model.TravelPlan{}, fmt.Errorf("plan %s: %w", id, ErrNotFound)
	}
	return s.withLocations(rec), nil
}

// UpdatePlan replaces the plan fields when req.Version matches the stored version
func (s *Store) UpdatePlan(id string, req model.PlanRequest) (model.TravelPlan, error) {
	if err := validatePlan(req, true); err != nil {
		return model.TravelPlan{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.plans[id]
	if !ok {
		return model.TravelPlan{}, fmt.Errorf("plan %s: %w", id, ErrNotFound)
	}
	if rec.plan.Version != *req.Version {
		return model.TravelPlan{}, fmt.Errorf("plan %s was updated by another user: %w", id, ErrConflict)
	}

	rec.plan.Title = req.Title
	rec.plan.Description = req.Description
	rec.plan.StartDate = req.StartDate
	rec.plan.EndDate = req.EndDate
	rec.plan.Budget = req.Budget
	rec.plan.Currency = currencyOrDefault(req.Currency)
	rec.plan.IsPublic = req.IsPublic
	rec.plan.Version++

	return s.withLocations(rec), nil
}

// DeletePlan removes the plan and cascades to its locations
func (s *Store) DeletePlan(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.plans[id]
	if !ok {
		return fmt.Errorf("plan %s: %w", id, ErrNotFound)
	}
	for _, locID := range rec.locations {
		delete(s.locations, locID)
	}
	delete(s.plans, id)
	return nil
}

// ListPlans returns one page of plans sorted by sortSpec ("field" or "field,asc|desc").
// Unknown sort fields fall back to creation order.
func (s *Store) ListPlans(page, size int, sortSpec string) model.Page[model.TravelPlan] {
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = 20
	}

	s.mu.RLock()
	recs := make([]*planRecord, 0, len(s.plans))
	for _, rec := range s.plans {
		recs = append(recs, rec)
	}
	s.mu.RUnlock()

	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].createdAt.Before(recs[j].createdAt)
	})
	if less := planComparator(sortSpec); less != nil {
		sort.SliceStable(recs, func(i, j int) bool {
			return less(recs[i].plan, recs[j].plan)
		})
	}

	total := len(recs)
	content := make([]model.TravelPlan, 0, size)
	for i := page * size; i < total && i < (page+1)*size; i++ {
		content = append(content, recs[i].plan)
	}

	return model.Page[model.TravelPlan]{
		Content:       content,
		TotalPages:    (total + size - 1) / size,
		TotalElements: total,
		Number:        page,
		Size:          size,
	}
}

func planComparator(spec string) func(a, b model.TravelPlan) bool {
	if spec == "" {
		return nil
	}
	field, dir, _ := strings.Cut(spec, ",")
	desc := strings.EqualFold(strings.TrimSpace(dir), "desc")

	var less func(a, b model.TravelPlan) bool
	switch strings.TrimSpace(field) {
	case "title":
		less = func(a, b model.TravelPlan) bool { return strings.ToLower(a.Title) < strings.ToLower(b.Title) }
	case "budget":
		less = func(a, b model.TravelPlan) bool { return a.Budget.LessThan(b.Budget) }
	case "currency":
		less = func(a, b model.TravelPlan) bool { return a.Currency < b.Currency }
	case "startDate":
		less = func(a, b model.TravelPlan) bool { return dateBefore(a.StartDate, b.StartDate) }
	case "endDate":
		less = func(a, b model.TravelPlan) bool { return dateBefore(a.EndDate, b.EndDate) }
	case "id":
		less = func(a, b model.TravelPlan) bool { return a.ID < b.ID }
	default:
		return nil
	}

	if desc {
		return func(a, b model.TravelPlan) bool { return less(b, a) }
	}
	return less
}

// dateBefore orders nil dates last
func dateBefore(a, b *model.Date) bool {
	switch {
	case a == nil:
		return false
	case b == nil:
		return true
	default:
		return a.Before(b.Time)
	}
}

// AddLocation appends a location to a plan with visit order max+1.
// The location id lands on the same shard key as its plan.
func (s *Store) AddLocation(planID string, req model.LocationRequest) (model.Location, error) {
	if err := validateLocation(req, false); err != nil {
		return model.Location{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.plans[planID]
	if !ok {
		return model.Location{}, fmt.Errorf("plan %s: %w", planID, ErrNotFound)
	}

	maxOrder := 0
	for _, locID := range rec.locations {
		if loc := s.locations[locID]; loc != nil && loc.VisitOrder > maxOrder {
			maxOrder = loc.VisitOrder
		}
	}

	loc := &model.Location{
		ID:            idForShard(model.ShardKey(planID)),
		TravelPlanID:  planID,
		Name:          req.Name,
		Address:       req.Address,
		Latitude:      req.Latitude,
		Longitude:     req.Longitude,
		VisitOrder:    maxOrder + 1,
		Notes:         req.Notes,
		ArrivalDate:   req.ArrivalDate,
		DepartureDate: req.DepartureDate,
		Budget:        req.Budget,
		Version:       0,
	}
	s.locations[loc.ID] = loc
	rec.locations = append(rec.locations, loc.ID)

	return *loc, nil
}

// GetLocation returns one location
func (s *Store) GetLocation(id string) (model.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	loc, ok := s.locations[id]
	if !ok {
		return model.Location{}, fmt.Errorf("location %s: %w", id, ErrNotFound)
	}
	return *loc, nil
}

// ListLocations returns the locations of a plan in visit order
func (s *Store) ListLocations(planID string) ([]model.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.plans[planID]
	if !ok {
		return nil, fmt.Errorf("plan %s: %w", planID, ErrNotFound)
	}
	return s.withLocations(rec).Locations, nil
}

// UpdateLocation replaces location fields when req.Version matches
func (s *Store) UpdateLocation(id string, req model.LocationRequest) (model.Location, error) {
	if err := validateLocation(req, true); err != nil {
		return model.Location{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	loc, ok := s.locations[id]
	if !ok {
		return model.Location{}, fmt.Errorf("location %s: %w", id, ErrNotFound)
	}
	if loc.Version != *req.Version {
		return model.Location{}, fmt.Errorf("location %s was updated by another user: %w", id, ErrConflict)
	}

	loc.Name = req.Name
	loc.Address = req.Address
	loc.Notes = req.Notes
	loc.Budget = req.Budget
	loc.Latitude = req.Latitude
	loc.Longitude = req.Longitude
	loc.ArrivalDate = req.ArrivalDate
	loc.DepartureDate = req.DepartureDate
	if req.VisitOrder != nil {
		loc.VisitOrder = *req.VisitOrder
	}
	loc.Version++

	return *loc, nil
}

// DeleteLocation removes a location from its plan
func (s *Store) DeleteLocation(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	loc, ok := s.locations[id]
	if !ok {
		return fmt.Errorf("location %s: %w", id, ErrNotFound)
	}
	delete(s.locations, id)

	if rec, ok := s.plans[loc.TravelPlanID]; ok {
		kept := rec.locations[:0]
		for _, locID := range rec.locations {
			if locID != id {
				kept = append(kept, locID)
			}
		}
		rec.locations = kept
	}
	return nil
}

// PlanCount returns the number of stored plans
func (s *Store) PlanCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.plans)
}

// LocationCount returns the number of stored locations
func (s *Store) LocationCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.locations)
}

// PlanIDs returns the ids of every stored plan
func (s *Store) PlanIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.plans))
	for id := range s.plans {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// withLocations must be called with s.mu held
func (s *Store) withLocations(rec *planRecord) model.TravelPlan {
	plan := rec.plan
	plan.Locations = make([]model.Location, 0, len(rec.locations))
	for _, id := range rec.locations {
		if loc := s.locations[id]; loc != nil {
			plan.Locations = append(plan.Locations, *loc)
		}
	}
	sort.SliceStable(plan.Locations, func(i, j int) bool {
		return plan.Locations[i].VisitOrder < plan.Locations[j].VisitOrder
	})
	return plan
}

func validatePlan(req model.PlanRequest, update bool) error {
	fields := map[string]string{}

	if strings.TrimSpace(req.Title) == "" {
		fields["title"] = "must not be blank"
	} else if len(req.Title) > 200 {
		fields["title"] = "size must be between 0 and 200"
	}
	if req.Budget.IsNegative() {
		fields["budget"] = "must be greater than or equal to 0.0"
	}
	if req.Currency != "" && !model.IsValidCurrency(req.Currency) {
		fields["currency"] = "must be one of " + strings.Join(model.Currencies, ", ")
	}
	if req.StartDate != nil && req.EndDate != nil && req.EndDate.Before(req.StartDate.Time) {
		fields["endDate"] = "End date cannot be before start date"
	}
	if update && req.Version == nil {
		fields["version"] = "must not be null"
	}

	if len(fields) > 0 {
		return &FieldError{Fields: fields}
	}
	return nil
}

var (
	maxLatitude  = decimal.NewFromInt(90)
	maxLongitude = decimal.NewFromInt(180)
)

func validateLocation(req model.LocationRequest, update bool) error {
	fields := map[string]string{}

	if strings.TrimSpace(req.Name) == "" {
		fields["name"] = "must not be blank"
	} else if len(req.Name) > 200 {
		fields["name"] = "size must be between 0 and 200"
	}
	if req.Budget.IsNegative() {
		fields["budget"] = "must be greater than or equal to 0.0"
	}
	if req.Latitude.Abs().GreaterThan(maxLatitude) {
		fields["latitude"] = "must be between -90.0 and 90.0"
	}
	if req.Longitude.Abs().GreaterThan(maxLongitude) {
		fields["longitude"] = "must be between -180.0 and 180.0"
	}
	if req.ArrivalDate != nil && req.DepartureDate != nil && req.DepartureDate.Before(req.ArrivalDate.Time) {
		fields["departureDate"] = "Departure date cannot be before arrival date"
	}
	if req.VisitOrder != nil && *req.VisitOrder < 1 {
		fields["visitOrder"] = "must be greater than or equal to 1"
	}
	if update && req.Version == nil {
		fields["version"] = "must not be null"
	}

	if len(fields) > 0 {
		return &FieldError{Fields: fields}
	}
	return nil
}

func currencyOrDefault(c string) string {
	if c == "" {
		return "USD"
	}
	return c
}

// idForShard draws random ids until one falls on the wanted shard key
func idForShard(key string) string {
	for {
		id := uuid.NewString()
		if key == "" || model.ShardKey(id) == key {
			return id
		}
	}
}
