// Package apiclient wraps every travel-plan API operation with status
// validation, response parsing and metric emission.
//
// Each operation declares the statuses it expects. Every call through an
// operation adds exactly one sample to api_errors (1 when the status is
// outside the expected set) and one sample to optimistic_lock_conflicts
// (1 on 409, whatever was expected). Bodies are decoded only on an expected
// success status; otherwise the operation returns nil data and an error so
// the caller skips dependent steps.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mrfox365/traveler-api/internal/endpoints"
	"github.com/mrfox365/traveler-api/internal/metrics"
)

// DefaultValidationMarker is the substring expected in a 400 error body
const DefaultValidationMarker = "Validation"

// maxBodySize caps how much of a response body is kept
const maxBodySize = 4 << 20

// Options configure a Client
type Options struct {
	BaseURL string
	// HTTPClient is shared by all VU views; built from Transport when nil
	HTTPClient *http.Client
	Transport  TransportConfig
	Collector  *metrics.Collector
	Logger     *zap.Logger
	// ValidationMarker overrides DefaultValidationMarker
	ValidationMarker string
	Headers          map[string]string
}

// Client issues instrumented requests. A Client is safe for concurrent use;
// ForVU returns a lightweight view that tags logs with a VU number.
type Client struct {
	resolver  endpoints.Resolver
	http      *http.Client
	timeout   time.Duration
	collector *metrics.Collector
	logger    *zap.Logger
	marker    string
	headers   map[string]string
	vu        int
}

// Response is a completed exchange
type Response struct {
	Status   int
	Body     []byte
	Duration time.Duration
}

// JSON decodes the body into v
func (r *Response) JSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return nil
}

// New creates a client
func New(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		var err error
		httpClient, err = NewHTTPClient(opts.Transport)
		if err != nil {
			return nil, fmt.Errorf("failed to build HTTP client: %w", err)
		}
	}

	collector := opts.Collector
	if collector == nil {
		collector = metrics.NewCollector()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	marker := opts.ValidationMarker
	if marker == "" {
		marker = DefaultValidationMarker
	}

	return &Client{
		resolver:  endpoints.New(opts.BaseURL),
		http:      httpClient,
		timeout:   opts.Transport.RequestTimeout(),
		collector: collector,
		logger:    logger,
		marker:    marker,
		headers:   opts.Headers,
	}, nil
}

// ForVU returns a view of c for virtual user n
func (c *Client) ForVU(n int) *Client {
	view := *c
	view.vu = n
	view.logger = c.logger.With(zap.Int("vu", n))
	return &view
}

// VU returns the virtual user number of this view, 0 for the root client
func (c *Client) VU() int {
	return c.vu
}

// Endpoints exposes the resolver
func (c *Client) Endpoints() endpoints.Resolver {
	return c.resolver
}

// Collector exposes the metric sink
func (c *Client) Collector() *metrics.Collector {
	return c.collector
}

// check records a named assertion
func (c *Client) check(name string, ok bool) bool {
	return c.collector.Check(name, ok)
}

// call issues a tracked request: it feeds api_errors, optimistic_lock_conflicts
// and the "status is one of" check. The response is returned even when the
// status is unexpected; err is a *StatusError in that case.
func (c *Client) call(ctx context.Context, method, url string, body any, expected ...int) (*Response, error) {
	resp, err := c.exchange(ctx, method, url, body, expected, true)
	c.check(fmt.Sprintf("status is one of %s", formatStatuses(expected)), err == nil)
	return resp, err
}

// Do issues an untracked request. It only feeds the built-in http_* metrics.
// With no expected statuses, 200-399 count as success.
func (c *Client) Do(ctx context.Context, method, url string, body any, expected ...int) (*Response, error) {
	return c.exchange(ctx, method, url, body, expected, false)
}

func (c *Client) exchange(ctx context.Context, method, url string, body any, expected []int, tracked bool) (*Response, error) {
	tag := endpoints.Tag(url)

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			c.recordUnsent(method, tag, tracked)
			return nil, fmt.Errorf("failed to encode %s %s body: %w", method, tag, err)
		}
		reader = bytes.NewReader(data)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, url, reader)
	if err != nil {
		c.recordUnsent(method, tag, tracked)
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	httpResp, err := c.http.Do(req)
	resp := &Response{}
	if err == nil {
		resp.Status = httpResp.StatusCode
		resp.Body, err = io.ReadAll(io.LimitReader(httpResp.Body, maxBodySize))
		httpResp.Body.Close()
		if err != nil {
			// a truncated body is unusable; keep the status for classification
			resp.Body = nil
		}
	}
	resp.Duration = time.Since(start)

	ok := isExpected(resp.Status, expected)
	c.collector.RecordRequest(metrics.RequestSample{
		Method:   method,
		Endpoint: tag,
		Status:   resp.Status,
		Duration: resp.Duration,
		Expected: ok,
		Tracked:  tracked,
	})

	if resp.Status == 0 {
		c.logger.Debug("request failed",
			zap.String("method", method),
			zap.String("endpoint", tag),
			zap.Error(err),
		)
		return resp, &StatusError{Method: method, Endpoint: tag, Expected: expected, Cause: err}
	}

	if !ok {
		c.logger.Debug("unexpected status",
			zap.String("method", method),
			zap.String("endpoint", tag),
			zap.Int("status", resp.Status),
			zap.Ints("expected", expected),
		)
		return resp, &StatusError{Method: method, Endpoint: tag, Status: resp.Status, Expected: expected}
	}

	return resp, nil
}

// recordUnsent counts a call that failed before reaching the wire as a status-0 failure
func (c *Client) recordUnsent(method, tag string, tracked bool) {
	c.collector.RecordRequest(metrics.RequestSample{
		Method:   method,
		Endpoint: tag,
		Tracked:  tracked,
	})
}

func isExpected(status int, expected []int) bool {
	if status == 0 {
		return false
	}
	if len(expected) == 0 {
		return status >= 200 && status < 400
	}
	return containsStatus(expected, status)
}

// ThinkTime pauses for a uniformly random duration in [min, max].
// It returns early with the context error when ctx is cancelled.
func ThinkTime(ctx context.Context, min, max time.Duration) error {
	d := min
	if max > min {
		d += time.Duration(rand.Int64N(int64(max-min) + 1))
	}
	return Sleep(ctx, d)
}

// Sleep pauses for d or until ctx is done
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
