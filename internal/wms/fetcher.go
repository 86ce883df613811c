package wms

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/metatierrascol/wms-compositor/internal/observability"
)

const (
	DefaultTimeout = 15 * time.Second
	DefaultRetries = 2

	maxCapabilitiesBody = 16 << 20
)

// Fetcher resolves a WMS base URL into a validated capability snapshot.
type Fetcher struct {
	logger  *slog.Logger
	client  *http.Client
	timeout time.Duration
	retries int
	// mockFallback degrades transport failures into synthetic capabilities.
	// Development only.
	mockFallback bool
}

func NewFetcher(logger *slog.Logger, client *http.Client, timeout time.Duration, retries int, mockFallback bool) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if retries < 0 {
		retries = DefaultRetries
	}
	return &Fetcher{
		logger:       logger,
		client:       client,
		timeout:      timeout,
		retries:      retries,
		mockFallback: mockFallback,
	}
}

// BuildCapabilitiesURL returns the GetCapabilities request URL for a base
// URL. A URL that already carries service, request and version parameters
// (any case) is returned unchanged; otherwise all query parameters are
// replaced with the lower-case standard triple. Unparseable input falls back
// to plain string concatenation.
func BuildCapabilitiesURL(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil || !u.IsAbs() {
		sep := "?"
		if strings.Contains(baseURL, "?") {
			sep = "&"
		}
		return baseURL + sep + "service=WMS&request=GetCapabilities&version=1.3.0"
	}

	q := u.Query()
	if hasParamFold(q, "service") && hasParamFold(q, "request") && hasParamFold(q, "version") {
		return baseURL
	}

	u.RawQuery = ""
	q = url.Values{}
	q.Set("service", "WMS")
	q.Set("request", "GetCapabilities")
	q.Set("version", "1.3.0")
	u.RawQuery = q.Encode()
	return u.String()
}

func hasParamFold(q url.Values, name string) bool {
	for k := range q {
		if strings.EqualFold(k, name) {
			return true
		}
	}
	return false
}

// Fetch issues the GetCapabilities request and parses the response. All
// failures are reported through the returned Validation, never as an error.
// Transport failures and 5xx responses are retried up to the configured
// budget; each attempt gets the full timeout.
func (f *Fetcher) Fetch(ctx context.Context, baseURL string) Validation {
	capURL := BuildCapabilitiesURL(baseURL)
	start := time.Now()

	var lastErr error
	var lastStatus int
	for attempt := 0; attempt <= f.retries; attempt++ {
		body, status, err := f.fetchOnce(ctx, capURL)
		if err == nil && status == http.StatusOK {
			observability.ObserveCapabilityFetch("ok", time.Since(start))
			return Parse(body, baseURL)
		}
		lastErr, lastStatus = err, status

		// 404 is definitive; anything below 500 won't get better by asking
		// again.
		if err == nil && status < http.StatusInternalServerError {
			break
		}
		if ctx.Err() != nil {
			break
		}
		f.logger.Warn("capabilities fetch attempt failed",
			"url", capURL, "attempt", attempt+1, "status", status, "err", err)
	}

	return f.failedValidation(baseURL, lastStatus, lastErr, start)
}

func (f *Fetcher) fetchOnce(ctx context.Context, capURL string) ([]byte, int, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, capURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/xml, text/xml, */*")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 8<<10))
		return nil, resp.StatusCode, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCapabilitiesBody))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	return body, resp.StatusCode, nil
}

func (f *Fetcher) failedValidation(baseURL string, status int, transportErr error, start time.Time) Validation {
	v := Validation{Errors: []string{}, Warnings: []string{}}

	switch {
	case transportErr != nil:
		observability.ObserveCapabilityFetch("network_error", time.Since(start))
		if errors.Is(transportErr, context.DeadlineExceeded) {
			v.Errors = append(v.Errors,
				fmt.Sprintf("timed out fetching capabilities after %s", f.timeout))
		} else {
			v.Errors = append(v.Errors,
				"network error: the service is unreachable or does not allow cross-origin access")
		}
		if f.mockFallback {
			v.Warnings = append(v.Warnings, "serving simulated capabilities (development fallback)")
			v.Capabilities = MockCapabilities(baseURL)
			v.Valid = true
		}
	case status == http.StatusNotFound:
		observability.ObserveCapabilityFetch("not_found", time.Since(start))
		v.Errors = append(v.Errors, "service not found (404), check the URL")
	case status >= http.StatusInternalServerError:
		observability.ObserveCapabilityFetch("server_error", time.Since(start))
		v.Errors = append(v.Errors, fmt.Sprintf("server error (%d)", status))
	default:
		observability.ObserveCapabilityFetch("http_error", time.Since(start))
		v.Errors = append(v.Errors, fmt.Sprintf("unexpected HTTP status %d", status))
	}
	return v
}
