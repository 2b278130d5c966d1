package model

import (
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func init() {
	// The backend binds budgets and coordinates to BigDecimal fields and
	// expects JSON numbers, not strings.
	decimal.MarshalJSONWithoutQuotes = true
}

// Currencies accepted by the backend
var Currencies = []string{"USD", "EUR", "UAH"}

// TravelPlan is the plan representation returned by the backend
type TravelPlan struct {
	ID          string          `json:"id" yaml:"id"`
	Title       string          `json:"title" yaml:"title"`
	Description string          `json:"description,omitempty" yaml:"description,omitempty"`
	StartDate   *Date           `json:"startDate,omitempty" yaml:"startDate,omitempty"`
	EndDate     *Date           `json:"endDate,omitempty" yaml:"endDate,omitempty"`
	Budget      decimal.Decimal `json:"budget" yaml:"budget"`
	Currency    string          `json:"currency" yaml:"currency"`
	IsPublic    bool            `json:"isPublic" yaml:"isPublic"`
	Version     int             `json:"version" yaml:"version"`
	Locations   []Location      `json:"locations,omitempty" yaml:"locations,omitempty"`
}

// PlanRequest is the create/update body for a plan.
// Version is omitted on create and required on update.
type PlanRequest struct {
	Title       string          `json:"title" yaml:"title"`
	Description string          `json:"description,omitempty" yaml:"description,omitempty"`
	StartDate   *Date           `json:"startDate,omitempty" yaml:"startDate,omitempty"`
	EndDate     *Date           `json:"endDate,omitempty" yaml:"endDate,omitempty"`
	Budget      decimal.Decimal `json:"budget" yaml:"budget"`
	Currency    string          `json:"currency" yaml:"currency"`
	IsPublic    bool            `json:"isPublic" yaml:"isPublic"`
	Version     *int            `json:"version,omitempty" yaml:"version,omitempty"`
}

// WithVersion returns a copy of the request carrying the given version
func (r PlanRequest) WithVersion(version int) PlanRequest {
	r.Version = &version
	return r
}

// Location is a stop inside a travel plan
type Location struct {
	ID            string          `json:"id" yaml:"id"`
	TravelPlanID  string          `json:"travelPlanId" yaml:"travelPlanId"`
	Name          string          `json:"name" yaml:"name"`
	Address       string          `json:"address,omitempty" yaml:"address,omitempty"`
	Latitude      decimal.Decimal `json:"latitude" yaml:"latitude"`
	Longitude     decimal.Decimal `json:"longitude" yaml:"longitude"`
	VisitOrder    int             `json:"visitOrder" yaml:"visitOrder"`
	Notes         string          `json:"notes,omitempty" yaml:"notes,omitempty"`
	ArrivalDate   *Timestamp      `json:"arrivalDate,omitempty" yaml:"arrivalDate,omitempty"`
	DepartureDate *Timestamp      `json:"departureDate,omitempty" yaml:"departureDate,omitempty"`
	Budget        decimal.Decimal `json:"budget" yaml:"budget"`
	Version       int             `json:"version" yaml:"version"`
}

// LocationRequest is the create/update body for a location.
// VisitOrder is assigned by the server on create.
type LocationRequest struct {
	Name          string          `json:"name" yaml:"name"`
	Address       string          `json:"address,omitempty" yaml:"address,omitempty"`
	Latitude      decimal.Decimal `json:"latitude" yaml:"latitude"`
	Longitude     decimal.Decimal `json:"longitude" yaml:"longitude"`
	ArrivalDate   *Timestamp      `json:"arrivalDate,omitempty" yaml:"arrivalDate,omitempty"`
	DepartureDate *Timestamp      `json:"departureDate,omitempty" yaml:"departureDate,omitempty"`
	Budget        decimal.Decimal `json:"budget" yaml:"budget"`
	Notes         string          `json:"notes,omitempty" yaml:"notes,omitempty"`
	VisitOrder    *int            `json:"visitOrder,omitempty" yaml:"visitOrder,omitempty"`
	Version       *int            `json:"version,omitempty" yaml:"version,omitempty"`
}

// WithVersion returns a copy of the request carrying the given version
func (r LocationRequest) WithVersion(version int) LocationRequest {
	r.Version = &version
	return r
}

// Page is a Spring-style page of results
type Page[T any] struct {
	Content       []T `json:"content"`
	TotalPages    int `json:"totalPages"`
	TotalElements int `json:"totalElements"`
	Number        int `json:"number"`
	Size          int `json:"size"`
}

// ErrorBody is the error payload returned on 4xx/5xx responses
type ErrorBody struct {
	Status   int               `json:"status"`
	Error    string            `json:"error"`
	Message  string            `json:"message,omitempty"`
	Messages map[string]string `json:"messages,omitempty"`
}

// IsValidCurrency reports whether c is one of the accepted currencies
func IsValidCurrency(c string) bool {
	for _, cur := range Currencies {
		if cur == c {
			return true
		}
	}
	return false
}

// IsUUID reports whether s is a lowercase canonical UUID string
func IsUUID(s string) bool {
	if len(s) != 36 || strings.ToLower(s) != s {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

// ShardKey returns the shard a record is routed to: the last hex digit of its id.
// Returns an empty string when id is not a UUID.
func ShardKey(id string) string {
	if !IsUUID(id) {
		return ""
	}
	return id[len(id)-1:]
}
