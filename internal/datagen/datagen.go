// Package datagen produces randomized request payloads that pass backend validation.
package datagen

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mrfox365/traveler-api/internal/model"
)

var destinations = []string{
	"Paris", "Kyiv", "Lviv", "Tokyo", "Lisbon", "Rome", "Barcelona", "Prague",
	"Vienna", "Istanbul", "Reykjavik", "Kyoto", "Odesa", "Krakow", "Berlin", "Oslo",
}

var tripKinds = []string{
	"Weekend Getaway", "Summer Vacation", "Business Trip", "Food Tour",
	"Road Trip", "City Break", "Hiking Week", "Family Holiday",
}

var landmarks = []string{
	"Old Town Square", "Central Museum", "City Park", "Main Cathedral", "Harbour Walk",
	"Botanical Garden", "Castle Hill", "Night Market", "Opera House", "Railway Station",
}

var streets = []string{
	"Main St", "Market St", "River Rd", "Station Ave", "Hill Ln", "Park Blvd",
}

var notes = []string{
	"Book tickets in advance", "Closed on Mondays", "Bring cash",
	"Great view at sunset", "Guided tour available", "",
}

// Generator is safe for concurrent use by all virtual users
type Generator struct {
	mu  sync.Mutex
	rnd *rand.Rand
	now func() time.Time
}

// New creates a generator. A zero seed uses the current time.
func New(seed int64) *Generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Generator{
		rnd: rand.New(rand.NewPCG(uint64(seed), uint64(seed))),
		now: time.Now,
	}
}

// Plan returns a valid plan payload: budget 100.00-10000.00, end date on or after start
func (g *Generator) Plan() model.PlanRequest {
	g.mu.Lock()
	defer g.mu.Unlock()

	dest := g.pick(destinations)
	kind := g.pick(tripKinds)

	start := model.NewDate(g.now().AddDate(0, 0, 1+g.rnd.IntN(180)))
	end := model.NewDate(start.AddDate(0, 0, 1+g.rnd.IntN(21)))

	return model.PlanRequest{
		Title:       fmt.Sprintf("%s %s", dest, kind),
		Description: fmt.Sprintf("%s in %s, %d travellers", kind, dest, 1+g.rnd.IntN(6)),
		StartDate:   &start,
		EndDate:     &end,
		Budget:      g.cents(10000, 1000000),
		Currency:    g.pick(model.Currencies),
		IsPublic:    g.rnd.IntN(2) == 1,
	}
}

// Location returns a valid location payload. Half of them carry an arrival/departure pair.
func (g *Generator) Location() model.LocationRequest {
	g.mu.Lock()
	defer g.mu.Unlock()

	loc := model.LocationRequest{
		Name:      g.pick(landmarks),
		Address:   fmt.Sprintf("%d %s", 1+g.rnd.IntN(200), g.pick(streets)),
		Notes:     g.pick(notes),
		Budget:    g.cents(0, 50000),
		Latitude:  g.coordinate(90),
		Longitude: g.coordinate(180),
	}

	if g.rnd.IntN(2) == 1 {
		at := g.now().Add(time.Duration(1+g.rnd.IntN(24*90)) * time.Hour)
		arrival := model.NewTimestamp(at)
		departure := model.NewTimestamp(at.Add(time.Duration(1+g.rnd.IntN(72)) * time.Hour))
		loc.ArrivalDate = &arrival
		loc.DepartureDate = &departure
	}

	return loc
}

// InvalidPlan returns a payload the backend must reject with 400
func (g *Generator) InvalidPlan() model.PlanRequest {
	g.mu.Lock()
	defer g.mu.Unlock()

	return model.PlanRequest{
		Title:    "",
		Budget:   decimal.NewFromInt(-1 - int64(g.rnd.IntN(1000))),
		Currency: g.pick(model.Currencies),
	}
}

// Between returns a duration uniformly distributed in [min, max]
func (g *Generator) Between(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return min + time.Duration(g.rnd.Int64N(int64(max-min)+1))
}

func (g *Generator) pick(values []string) string {
	return values[g.rnd.IntN(len(values))]
}

// cents returns a 2-decimal amount in [lo, hi] cents
func (g *Generator) cents(lo, hi int64) decimal.Decimal {
	return decimal.New(lo+g.rnd.Int64N(hi-lo+1), -2)
}

// coordinate returns a 6-decimal value in [-limit, limit]
func (g *Generator) coordinate(limit int64) decimal.Decimal {
	micro := limit * 1000000
	return decimal.New(g.rnd.Int64N(2*micro+1)-micro, -6)
}
