package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"routeswap/pkg/metrics"
	"routeswap/pkg/types"
)

// Default configuration values
const (
	DefaultTimeout     = 15 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 500 * time.Millisecond
	DefaultMaxDelay    = 5 * time.Second
	DefaultBackoffMult = 2.0
)

// Service codes meaning no viable path exists
const (
	codeRouteNotFound  = 4008
	codeNoEligiblePool = 4010
)

// RouteClient talks to the routing service's quote and build-route endpoints
type RouteClient struct {
	baseURL     string
	clientID    string
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
	logger      zerolog.Logger
}

// ClientOption configures RouteClient
type ClientOption func(*RouteClient)

// WithTimeout sets the per-attempt HTTP timeout
func WithTimeout(d time.Duration) ClientOption {
	return func(c *RouteClient) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts
func WithMaxRetries(n int) ClientOption {
	return func(c *RouteClient) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *RouteClient) {
		c.retryDelay = d
	}
}

// WithMaxDelay sets maximum retry delay
func WithMaxDelay(d time.Duration) ClientOption {
	return func(c *RouteClient) {
		c.maxDelay = d
	}
}

// WithHTTPClient sets a custom http.Client
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *RouteClient) {
		c.client = client
	}
}

// WithClientID sets the x-client-id header sent on every request
func WithClientID(id string) ClientOption {
	return func(c *RouteClient) {
		c.clientID = id
	}
}

// NewRouteClient creates a new routing service client
func NewRouteClient(baseURL string, opts ...ClientOption) *RouteClient {
	c := &RouteClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		client:      &http.Client{Timeout: DefaultTimeout},
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
		logger:      log.With().Str("component", "route-client").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchQuote requests a route for the given pair and amount
func (c *RouteClient) FetchQuote(ctx context.Context, params QuoteParams) (*RawRouteQuote, error) {
	if params.ChainID == "" {
		return nil, fmt.Errorf("chain is required")
	}
	if params.TokenIn == "" || params.TokenOut == "" {
		return nil, fmt.Errorf("tokenIn and tokenOut are required")
	}
	if params.Amount == "" {
		return nil, fmt.Errorf("amount is required")
	}

	q := url.Values{}
	q.Set("tokenIn", params.TokenIn)
	q.Set("tokenOut", params.TokenOut)
	if params.Kind == types.ExactOut {
		q.Set("amountOut", params.Amount)
		q.Set("swapMode", "ExactOut")
	} else {
		q.Set("amountIn", params.Amount)
	}
	q.Set("gasInclude", "true")
	endpoint := fmt.Sprintf("%s/%s/api/v1/routes?%s", c.baseURL, url.PathEscape(params.ChainID), q.Encode())

	start := time.Now()
	data, err := c.do(ctx, http.MethodGet, endpoint, nil)
	metrics.QuoteDuration.WithLabelValues(params.ChainID).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.QuoteRequests.WithLabelValues(params.ChainID, statusLabel(err)).Inc()
		return nil, err
	}

	quote, err := parseRoutes(data, params)
	if err != nil {
		metrics.QuoteRequests.WithLabelValues(params.ChainID, statusLabel(err)).Inc()
		return nil, err
	}
	quote.FetchedAt = time.Now()
	metrics.QuoteRequests.WithLabelValues(params.ChainID, "ok").Inc()

	c.logger.Debug().
		Str("chain", params.ChainID).
		Str("token_in", quote.TokenIn).
		Str("token_out", quote.TokenOut).
		Str("amount_in", quote.AmountIn).
		Str("amount_out", quote.AmountOut).
		Msg("quote received")

	return quote, nil
}

// do performs a request with retries and exponential backoff and returns the
// envelope's data section. Transport errors, 5xx and 429 are retried.
func (c *RouteClient) do(ctx context.Context, method, endpoint string, body []byte) (json.RawMessage, error) {
	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			var rl *types.RateLimitedError
			wait := delay
			if errors.As(lastErr, &rl) && rl.RetryAfter > wait {
				wait = rl.RetryAfter
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
			// Exponential backoff
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
			c.logger.Debug().Int("attempt", attempt).Err(lastErr).Msg("retrying routing service request")
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.clientID != "" {
			req.Header.Set("x-client-id", c.clientID)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = &types.NetworkError{Op: "routing request", Err: err}
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = &types.NetworkError{Op: "read response", Err: err}
			continue
		}

		// Handle rate limiting
		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = &types.RateLimitedError{RetryAfter: retryAfter(resp.Header.Get("Retry-After"))}
			continue
		}

		if resp.StatusCode >= http.StatusInternalServerError {
			lastErr = &types.NetworkError{
				Op:  "routing request",
				Err: fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(respBody)),
			}
			continue
		}

		var env apiEnvelope
		if err := json.Unmarshal(respBody, &env); err != nil {
			if resp.StatusCode != http.StatusOK {
				return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, truncate(respBody))
			}
			return nil, &types.MalformedQuoteError{Field: "body", Reason: err.Error()}
		}

		if env.Code == codeRouteNotFound || env.Code == codeNoEligiblePool || resp.StatusCode == http.StatusNotFound {
			return nil, &types.NoRouteError{Message: env.Message}
		}
		if resp.StatusCode != http.StatusOK || env.Code != 0 {
			return nil, fmt.Errorf("API error (status %d, code %d): %s", resp.StatusCode, env.Code, env.Message)
		}

		return env.Data, nil
	}

	var rl *types.RateLimitedError
	if errors.As(lastErr, &rl) {
		return nil, rl
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func retryAfter(h string) time.Duration {
	if h == "" {
		return 0
	}
	if secs, err := strconv.Atoi(h); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(h); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func truncate(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}

func statusLabel(err error) string {
	var (
		noRoute   *types.NoRouteError
		network   *types.NetworkError
		limited   *types.RateLimitedError
		malformed *types.MalformedQuoteError
	)
	switch {
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.As(err, &noRoute):
		return "no_route"
	case errors.As(err, &limited):
		return "rate_limited"
	case errors.As(err, &network):
		return "network"
	case errors.As(err, &malformed):
		return "malformed"
	default:
		return "error"
	}
}
