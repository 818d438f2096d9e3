package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"reelsmith/internal/logging"
	"reelsmith/internal/resilience"
	"reelsmith/internal/services"
)

const (
	defaultTimeout = 30 * time.Second
	errorBodyLimit = 2048
)

// Limiter admits requests for a client key, blocking until there is room.
type Limiter interface {
	Wait(ctx context.Context, key string) error
}

// Options configures a Client.
type Options struct {
	// Name identifies the dependency in errors, logs and the limiter key.
	Name       string
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	Breaker    *resilience.Breaker
	Limiter    Limiter
	Retry      resilience.RetryPolicy
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client sends requests to one external service.
type Client struct {
	name    string
	baseURL string
	apiKey  string
	http    *http.Client
	breaker *resilience.Breaker
	limiter Limiter
	retry   resilience.RetryPolicy
	logger  *slog.Logger
}

// New builds a client. A nil breaker or limiter disables that guard.
func New(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		name = "http"
	}
	c := &Client{
		name:    name,
		baseURL: strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"),
		apiKey:  strings.TrimSpace(opts.APIKey),
		http:    httpClient,
		breaker: opts.Breaker,
		limiter: opts.Limiter,
		retry:   opts.Retry,
		logger:  logging.NewComponentLogger(opts.Logger, name),
	}
	if c.retry.OnRetry == nil {
		c.retry.OnRetry = func(attempt int, delay time.Duration, err error) {
			c.logger.Info("retrying request",
				logging.String(logging.FieldDependency, c.name),
				logging.Int(logging.FieldAttempt, attempt),
				logging.Duration("delay", delay),
				logging.String(logging.FieldErrorKind, services.KindName(err)),
				logging.Error(err),
			)
		}
	}
	return c
}

// Name returns the dependency name.
func (c *Client) Name() string {
	return c.name
}

// Configured reports whether a base URL is set.
func (c *Client) Configured() bool {
	return c.baseURL != ""
}

// URL joins path onto the base URL.
func (c *Client) URL(path string, query url.Values) (string, error) {
	if c.baseURL == "" {
		return "", services.Errorf(services.ErrConfiguration, "", c.name, "%s base url not configured", c.name)
	}
	joined, err := url.JoinPath(c.baseURL, path)
	if err != nil {
		return "", services.Wrap(services.ErrConfiguration, "", c.name, "build request url", err)
	}
	if len(query) > 0 {
		joined += "?" + query.Encode()
	}
	return joined, nil
}

// RequestFunc builds a fresh request for one attempt. Bodies must be
// rebuilt each time because a sent body cannot be replayed.
type RequestFunc func(ctx context.Context) (*http.Request, error)

// DoJSON sends the request with retry and decodes a JSON response into out.
func (c *Client) DoJSON(ctx context.Context, op string, build RequestFunc, out any) error {
	return resilience.Retry(ctx, c.retry, func(ctx context.Context, attempt int) error {
		return c.guard(ctx, func(ctx context.Context) error {
			resp, err := c.send(ctx, op, build)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if out == nil {
				_, _ = io.Copy(io.Discard, resp.Body)
				return nil
			}
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return services.Wrap(services.ErrExternalTool, "", op, c.name+" returned an invalid response", err,
					services.WithCode("invalid_response"), services.WithDetail(logging.FieldDependency, c.name))
			}
			return nil
		})
	})
}

// Open sends a single guarded request and returns the response for
// streaming. The caller closes the body. Opening is retried; reading the
// body is not.
func (c *Client) Open(ctx context.Context, op string, build RequestFunc) (*http.Response, error) {
	var resp *http.Response
	err := resilience.Retry(ctx, c.retry, func(ctx context.Context, attempt int) error {
		return c.guard(ctx, func(ctx context.Context) error {
			r, err := c.send(ctx, op, build)
			if err != nil {
				return err
			}
			resp = r
			return nil
		})
	})
	return resp, err
}

func (c *Client) guard(ctx context.Context, fn func(context.Context) error) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, c.name); err != nil {
			return err
		}
	}
	if c.breaker == nil {
		return fn(ctx)
	}
	return c.breaker.Do(ctx, fn)
}

func (c *Client) send(ctx context.Context, op string, build RequestFunc) (*http.Response, error) {
	req, err := build(ctx)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" && req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		req.Header.Set("X-Request-ID", rid)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.transportError(ctx, op, err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		resp.Body.Close()
		return nil, c.statusError(op, resp.StatusCode, resp.Header.Get("Retry-After"), string(body))
	}
	return resp, nil
}

func (c *Client) transportError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%s %s: %w", c.name, op, ctx.Err())
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return services.Wrap(services.ErrTimeout, "", op, c.name+" request timed out", err,
			services.WithCode(c.name+"_timeout"), services.WithDetail(logging.FieldDependency, c.name))
	}
	return services.Wrap(services.ErrTransient, "", op, c.name+" unreachable", err,
		services.WithCode(c.name+"_unreachable"), services.WithDetail(logging.FieldDependency, c.name))
}

func (c *Client) statusError(op string, status int, retryAfter, body string) error {
	cause := fmt.Errorf("http %d: %s", status, strings.TrimSpace(body))
	opts := []services.Option{
		services.WithCode(fmt.Sprintf("http_%d", status)),
		services.WithDetail("status", status),
		services.WithDetail(logging.FieldDependency, c.name),
	}
	switch {
	case status == http.StatusTooManyRequests:
		if delay, ok := ParseRetryAfter(retryAfter, time.Now()); ok {
			opts = append(opts, services.WithDetail("retry_after", delay))
		}
		return services.Wrap(services.ErrRateLimited, "", op, c.name+" rate limited the request", cause, opts...)
	case status == http.StatusRequestTimeout || status >= http.StatusInternalServerError:
		return services.Wrap(services.ErrTransient, "", op, c.name+" unavailable", cause, opts...)
	case status == http.StatusNotFound || status == http.StatusGone:
		return services.Wrap(services.ErrNotFound, "", op, c.name+" resource not found", cause, opts...)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return services.Wrap(services.ErrConfiguration, "", op, c.name+" rejected credentials", cause, opts...)
	default:
		return services.Wrap(services.ErrValidation, "", op, c.name+" rejected the request", cause, opts...)
	}
}

// ParseRetryAfter reads a Retry-After header in either delta-seconds or
// HTTP-date form.
func ParseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		delay := when.Sub(now)
		if delay < 0 {
			return 0, false
		}
		return delay, true
	}
	return 0, false
}
