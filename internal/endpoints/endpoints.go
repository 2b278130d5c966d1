// Package endpoints maps a backend base URL to the travel-plan API paths.
package endpoints

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

var (
	schemeHostPattern = regexp.MustCompile(`^https?://[^/]+`)
	idSegmentPattern  = regexp.MustCompile(`/[0-9a-fA-F-]{36}`)
)

// IDPlaceholder replaces generated ids in endpoint tags
const IDPlaceholder = "/:id"

// Resolver builds fully-qualified resource URLs
type Resolver struct {
	base string
}

// ListOptions are the optional page/size/sort query parameters of the plan list
type ListOptions struct {
	Page int
	Size int
	Sort string // e.g. "title,asc"
}

// New creates a resolver for baseURL. The URL is not validated.
func New(baseURL string) Resolver {
	return Resolver{base: strings.TrimRight(baseURL, "/")}
}

// BaseURL returns the base URL without trailing slash
func (r Resolver) BaseURL() string {
	return r.base
}

func (r Resolver) TravelPlans() string {
	return r.base + "/api/travel-plans"
}

func (r Resolver) TravelPlan(id string) string {
	return r.TravelPlans() + "/" + id
}

func (r Resolver) LocationsForPlan(planID string) string {
	return r.TravelPlan(planID) + "/locations"
}

func (r Resolver) Location(id string) string {
	return r.base + "/api/locations/" + id
}

func (r Resolver) Health() string {
	return r.base + "/health"
}

// TravelPlansPage returns the list URL with the non-zero options as query parameters
func (r Resolver) TravelPlansPage(opts ListOptions) string {
	q := url.Values{}
	if opts.Page > 0 {
		q.Set("page", strconv.Itoa(opts.Page))
	}
	if opts.Size > 0 {
		q.Set("size", strconv.Itoa(opts.Size))
	}
	if opts.Sort != "" {
		q.Set("sort", opts.Sort)
	}
	if len(q) == 0 {
		return r.TravelPlans()
	}
	return r.TravelPlans() + "?" + q.Encode()
}

// Tag normalizes a request URL for grouped reporting.
// Scheme, host, query and fragment are dropped and every UUID segment
// becomes ":id", so generated ids do not create one bucket each.
func Tag(rawURL string) string {
	if idx := strings.IndexAny(rawURL, "?#"); idx != -1 {
		rawURL = rawURL[:idx]
	}

	path := schemeHostPattern.ReplaceAllString(rawURL, "")
	if path == "" {
		return "/"
	}

	return idSegmentPattern.ReplaceAllString(path, IDPlaceholder)
}
