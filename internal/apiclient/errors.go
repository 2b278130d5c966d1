package apiclient

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrUnexpectedStatus is returned when the status is outside the operation's expected set
	ErrUnexpectedStatus = errors.New("unexpected status")
	// ErrConflict marks an optimistic lock conflict (409)
	ErrConflict = errors.New("optimistic lock conflict")
	// ErrTransport marks a request that produced no response
	ErrTransport = errors.New("transport failure")
	// ErrDecode marks a successful status with an unusable body
	ErrDecode = errors.New("failed to decode response")
	// ErrCheckFailed marks a response that arrived but failed a content check
	ErrCheckFailed = errors.New("check failed")
)

// StatusError describes a response whose status did not produce usable data
type StatusError struct {
	Method   string
	Endpoint string
	Status   int
	Expected []int
	Cause    error // transport error when Status is 0
}

func (e *StatusError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s %s: %v: %v", e.Method, e.Endpoint, ErrTransport, e.Cause)
	}
	return fmt.Sprintf("%s %s: status %d (expected %s)", e.Method, e.Endpoint, e.Status, formatStatuses(e.Expected))
}

// Unwrap exposes the matching sentinels so errors.Is works on each category
func (e *StatusError) Unwrap() []error {
	var errs []error
	if e.Status == 0 {
		errs = append(errs, ErrTransport)
		if e.Cause != nil {
			errs = append(errs, e.Cause)
		}
	}
	if e.Status == http.StatusConflict {
		errs = append(errs, ErrConflict)
	}
	if !containsStatus(e.Expected, e.Status) {
		errs = append(errs, ErrUnexpectedStatus)
	}
	return errs
}

// IsConflict reports whether err carries a 409 response
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// StatusOf returns the HTTP status carried by err, 0 if none
func StatusOf(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return 0
}

func containsStatus(set []int, status int) bool {
	for _, s := range set {
		if s == status {
			return true
		}
	}
	return false
}

func formatStatuses(set []int) string {
	parts := make([]string, len(set))
	for i, s := range set {
		parts[i] = fmt.Sprint(s)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
