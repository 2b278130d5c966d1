package datagen

import (
	"encoding/json"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrfox365/traveler-api/internal/model"
)

func TestGenerator_Plan(t *testing.T) {
	g := New(42)
	lo, hi := decimal.NewFromInt(100), decimal.NewFromInt(10000)

	for i := 0; i < 500; i++ {
		p := g.Plan()

		assert.NotEmpty(t, p.Title)
		assert.True(t, model.IsValidCurrency(p.Currency), "currency %q", p.Currency)
		assert.True(t, p.Budget.GreaterThanOrEqual(lo) && p.Budget.LessThanOrEqual(hi), "budget %s", p.Budget)
		assert.LessOrEqual(t, -p.Budget.Exponent(), int32(2))
		require.NotNil(t, p.StartDate)
		require.NotNil(t, p.EndDate)
		assert.False(t, p.EndDate.Before(p.StartDate.Time), "end %s before start %s", p.EndDate, p.StartDate)
		assert.Nil(t, p.Version)
	}
}

func TestGenerator_Location(t *testing.T) {
	g := New(7)
	withDates := 0

	for i := 0; i < 500; i++ {
		l := g.Location()

		assert.NotEmpty(t, l.Name)
		assert.False(t, l.Budget.IsNegative())
		assert.True(t, l.Latitude.Abs().LessThanOrEqual(decimal.NewFromInt(90)))
		assert.True(t, l.Longitude.Abs().LessThanOrEqual(decimal.NewFromInt(180)))
		assert.Nil(t, l.VisitOrder)

		if l.ArrivalDate != nil {
			withDates++
			require.NotNil(t, l.DepartureDate)
			assert.False(t, l.DepartureDate.Before(l.ArrivalDate.Time))
		}
	}

	assert.Greater(t, withDates, 0)
	assert.Less(t, withDates, 500)
}

// backendTimestamp is the pattern the create-location DTO binds arrival and departure with
var backendTimestamp = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{3}(Z|[+-]\d{2}(\d{2})?)$`)

func TestGenerator_LocationDatesHaveMilliseconds(t *testing.T) {
	g := New(11)
	checked := 0

	for i := 0; i < 200; i++ {
		data, err := json.Marshal(g.Location())
		require.NoError(t, err)

		var raw map[string]any
		require.NoError(t, json.Unmarshal(data, &raw))
		for _, field := range []string{"arrivalDate", "departureDate"} {
			v, ok := raw[field]
			if !ok {
				continue
			}
			checked++
			s, ok := v.(string)
			require.True(t, ok, "%s is %T", field, v)
			assert.Regexp(t, backendTimestamp, s)

			_, err := model.ParseTimestamp(s)
			assert.NoError(t, err)
		}
	}

	assert.Positive(t, checked)
}

func TestGenerator_InvalidPlan(t *testing.T) {
	p := New(1).InvalidPlan()

	assert.Empty(t, p.Title)
	assert.True(t, p.Budget.IsNegative())
}

func TestGenerator_Between(t *testing.T) {
	g := New(3)

	for i := 0; i < 100; i++ {
		d := g.Between(100*time.Millisecond, 500*time.Millisecond)
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.LessOrEqual(t, d, 500*time.Millisecond)
	}
	assert.Equal(t, time.Second, g.Between(time.Second, time.Second))
}

func TestGenerator_SeedIsReproducible(t *testing.T) {
	a, b := New(5), New(5)

	for i := 0; i < 20; i++ {
		pa, pb := a.Plan(), b.Plan()
		assert.Equal(t, pa.Title, pb.Title)
		assert.True(t, pa.Budget.Equal(pb.Budget))

		la, lb := a.Location(), b.Location()
		assert.Equal(t, la.Address, lb.Address)
		assert.True(t, la.Latitude.Equal(lb.Latitude))
	}
}

func TestGenerator_Concurrent(t *testing.T) {
	g := New(0)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = g.Plan()
				_ = g.Location()
			}
		}()
	}
	wg.Wait()
}
