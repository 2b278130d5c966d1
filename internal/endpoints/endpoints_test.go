package endpoints

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const planID = "3f2504e0-4f89-41d3-9a0c-0305e82c3301"

func TestResolver_Paths(t *testing.T) {
	r := New("http://localhost:8080/")

	assert.Equal(t, "http://localhost:8080", r.BaseURL())
	assert.Equal(t, "http://localhost:8080/api/travel-plans", r.TravelPlans())
	assert.Equal(t, "http://localhost:8080/api/travel-plans/"+planID, r.TravelPlan(planID))
	assert.Equal(t, "http://localhost:8080/api/travel-plans/"+planID+"/locations", r.LocationsForPlan(planID))
	assert.Equal(t, "http://localhost:8080/api/locations/"+planID, r.Location(planID))
	assert.Equal(t, "http://localhost:8080/health", r.Health())
}

func TestResolver_TravelPlansPage(t *testing.T) {
	r := New("http://api")

	assert.Equal(t, "http://api/api/travel-plans", r.TravelPlansPage(ListOptions{}))
	assert.Equal(t, "http://api/api/travel-plans?page=2&size=20&sort=title%2Casc",
		r.TravelPlansPage(ListOptions{Page: 2, Size: 20, Sort: "title,asc"}))
}

func TestTag(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string
	}{
		{"collection", "http://localhost:8080/api/travel-plans", "/api/travel-plans"},
		{"item", "http://localhost:8080/api/travel-plans/" + planID, "/api/travel-plans/:id"},
		{"nested", "https://x.io/api/travel-plans/" + planID + "/locations", "/api/travel-plans/:id/locations"},
		{"query dropped", "http://h/api/travel-plans?page=1", "/api/travel-plans"},
		{"no path", "http://h", "/"},
		{"health", "http://h/health", "/health"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Tag(tt.url))
		})
	}
}
