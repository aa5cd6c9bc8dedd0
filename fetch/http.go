package fetch

import (
	"context"
	"fmt"
	"net/http"
	"time"

	slogcontext "github.com/veqryn/slog-context"
	"golang.org/x/time/rate"

	"github.com/christopherhwood/plank/location"
)

// HTTPConfig configures the HTTP fetcher.
type HTTPConfig struct {
	// Timeout for individual requests (default: 30s).
	Timeout time.Duration

	// RateLimit requests per second (default: 10, negative disables).
	RateLimit float64

	// RateBurst maximum burst size (default: 5).
	RateBurst int

	// MaxBytes limits the response body (default: 16 MiB).
	MaxBytes int64

	// UserAgent string (default: "plank/1").
	UserAgent string

	// Headers to add to all requests.
	Headers map[string]string

	// Transport allows injecting a custom HTTP transport (for tests/stubs).
	Transport http.RoundTripper
}

// DefaultHTTPConfig returns a config with sensible defaults.
func DefaultHTTPConfig() *HTTPConfig {
	return &HTTPConfig{
		Timeout:   30 * time.Second,
		RateLimit: 10,
		RateBurst: 5,
		MaxBytes:  16 << 20,
		UserAgent: "plank/1",
	}
}

// HTTP fetches http and https locations.
type HTTP struct {
	config  *HTTPConfig
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTP creates an HTTP fetcher, filling zero config fields with defaults.
// cfg itself is left unchanged.
func NewHTTP(cfg *HTTPConfig) *HTTP {
	def := DefaultHTTPConfig()
	if cfg == nil {
		cfg = def
	}
	config := *cfg
	if config.Timeout == 0 {
		config.Timeout = def.Timeout
	}
	if config.RateLimit == 0 {
		config.RateLimit = def.RateLimit
	}
	if config.RateBurst == 0 {
		config.RateBurst = def.RateBurst
	}
	if config.MaxBytes == 0 {
		config.MaxBytes = def.MaxBytes
	}
	if config.UserAgent == "" {
		config.UserAgent = def.UserAgent
	}

	h := &HTTP{
		config: &config,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: config.Transport,
		},
	}
	if config.RateLimit > 0 {
		h.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), config.RateBurst)
	}
	return h
}

func (h *HTTP) Fetch(ctx context.Context, loc location.Location) ([]byte, error) {
	switch loc.Scheme() {
	case "http", "https":
	default:
		return nil, fmt.Errorf("%w %q: http fetcher", ErrUnsupportedScheme, loc.Scheme())
	}
	if h.limiter != nil {
		if err := h.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, loc.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", h.config.UserAgent)
	req.Header.Set("Accept", "application/schema+json, application/json, application/yaml;q=0.9, */*;q=0.5")
	for k, v := range h.config.Headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", loc, err)
	}
	defer resp.Body.Close()
	slogcontext.FromCtx(ctx).DebugContext(ctx, "fetched schema",
		"url", loc.String(), "status", resp.StatusCode, "duration", time.Since(start))

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, fmt.Errorf("%w: GET %s: %s", ErrNotFound, loc, resp.Status)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("GET %s: unexpected status %s", loc, resp.Status)
	}
	data, err := readLimited(resp.Body, h.config.MaxBytes)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", loc, err)
	}
	return data, nil
}
