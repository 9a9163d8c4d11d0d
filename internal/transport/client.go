// Package transport implements the rate-limited, retrying HTTP client core
// shared by every outbound venue call: the feed client, the order-book
// client, and any future blind capability wrapper.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/scanenginehq/scanengine/internal/domain"
	"github.com/scanenginehq/scanengine/internal/ratelimit"
)

// Method is an HTTP verb this client core accepts.
type Method string

const (
	MethodGet    Method = http.MethodGet
	MethodPost   Method = http.MethodPost
	MethodPut    Method = http.MethodPut
	MethodDelete Method = http.MethodDelete
)

// RetryConfig controls the exponential-backoff-with-jitter retry loop.
type RetryConfig struct {
	MaxRetries     int
	InitialDelayMs int64
	MaxDelayMs     int64
	RetryOn        map[int]bool
}

// Config is the HTTP client core's full configuration surface (§4.A).
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	Proxy     string // explicit proxy URL; empty selects from env per precedence
	MaxRequests int
	WindowMs    int64
	Retry             RetryConfig
	EnableLogging     bool
	MaxResponseLogSize int
	DefaultHeaders    map[string]string
}

// LogRecord is a single request-attempt observation emitted to a LogSink.
// Logging failures must never propagate to the caller.
type LogRecord struct {
	ClientType    string
	Endpoint      string
	Method        string
	RequestParams map[string]string
	StatusCode    int
	ResponseSize  int
	DurationMs    int64
	Success       bool
	ErrorMessage  string
	RetryCount    int
	TraceID       string
	Source        string
	CreatedAt     time.Time
}

// LogSink receives request-attempt log records. Implementations must be
// safe under concurrent appends.
type LogSink interface {
	Append(rec LogRecord)
}

// Response is the generic result of a Client.Request call.
type Response[T any] struct {
	Success    bool
	Data       T
	Err        error
	StatusCode int
	Duration   time.Duration
}

// Client is the shared request engine: token-bucket paced, retried with
// exponential backoff and jitter, and observed through a pluggable
// LogSink.
type Client struct {
	http      *resty.Client
	limiter   *ratelimit.Limiter
	retry     RetryConfig
	logSink   LogSink
	clientType string
	logging   bool
	maxLogLen int
}

// New builds a Client from cfg. clientType labels every emitted LogRecord
// (e.g. "feed", "book") so a shared LogSink can distinguish callers.
func New(clientType string, cfg Config, sink LogSink) *Client {
	rc := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout)

	for k, v := range cfg.DefaultHeaders {
		rc.SetHeader(k, v)
	}

	if proxyURL := selectProxy(cfg.Proxy); proxyURL != "" {
		rc.SetProxy(proxyURL)
	}

	return &Client{
		http:       rc,
		limiter:    ratelimit.New(cfg.MaxRequests, time.Duration(cfg.WindowMs)*time.Millisecond),
		retry:      cfg.Retry,
		logSink:    sink,
		clientType: clientType,
		logging:    cfg.EnableLogging,
		maxLogLen:  cfg.MaxResponseLogSize,
	}
}

// selectProxy implements the §4.A proxy selection order: explicit config,
// then SOCKS_PROXY, then HTTPS_PROXY, then HTTP_PROXY. A socks*-prefixed
// value selects a SOCKS transport; anything else is treated as an
// HTTPS-CONNECT proxy URL.
func selectProxy(explicit string) string {
	if explicit != "" {
		return explicit
	}
	for _, key := range []string{"SOCKS_PROXY", "HTTPS_PROXY", "HTTP_PROXY"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return ""
}

// Request issues a single logical request, retrying on status codes in
// RetryOn with exponential backoff and jitter, and decoding a successful
// response body into a T via resty's SetResult. headers are merged over
// the client's defaults for this request only.
func Request[T any](ctx context.Context, c *Client, endpoint string, method Method, params, headers map[string]string, body any, skipLogging bool) Response[T] {
	var last Response[T]

	for attempt := 0; ; attempt++ {
		if err := c.limiter.Acquire(ctx); err != nil {
			return Response[T]{Success: false, Err: fmt.Errorf("transport: %w: %v", domain.ErrCancelled, err)}
		}

		start := time.Now()
		var result T
		req := c.http.R().SetContext(ctx).SetResult(&result)
		for k, v := range headers {
			req.SetHeader(k, v)
		}
		if params != nil {
			qp := url.Values{}
			for k, v := range params {
				qp.Set(k, v)
			}
			req.SetQueryParamsFromValues(qp)
		}
		if body != nil {
			req.SetBody(body)
		}

		resp, err := doMethod(req, method, endpoint)
		duration := time.Since(start)

		rec := LogRecord{
			ClientType:    c.clientType,
			Endpoint:      endpoint,
			Method:        string(method),
			RequestParams: params,
			DurationMs:    duration.Milliseconds(),
			RetryCount:    attempt,
			Source:        "transport",
			CreatedAt:     time.Now(),
		}

		if err != nil {
			rec.Success = false
			rec.ErrorMessage = err.Error()
			c.log(rec, skipLogging)
			last = Response[T]{Success: false, Err: fmt.Errorf("transport: %w: %v", domain.ErrTransportFailure, err), Duration: duration}
			if attempt < c.retry.MaxRetries {
				sleepBackoff(ctx, c.retry, attempt+1)
				continue
			}
			return last
		}

		status := resp.StatusCode()
		rec.StatusCode = status
		rec.ResponseSize = len(resp.Body())
		rec.Success = status >= 200 && status < 300

		c.log(rec, skipLogging)

		if rec.Success {
			return Response[T]{Success: true, Data: result, StatusCode: status, Duration: duration}
		}

		kind := classify(status)
		last = Response[T]{Success: false, Err: fmt.Errorf("transport: %w: status %d", kind, status), StatusCode: status, Duration: duration}

		if c.retry.RetryOn[status] && attempt < c.retry.MaxRetries {
			sleepBackoff(ctx, c.retry, attempt+1)
			continue
		}
		return last
	}
}

func doMethod(req *resty.Request, method Method, endpoint string) (*resty.Response, error) {
	switch method {
	case MethodGet:
		return req.Get(endpoint)
	case MethodPost:
		return req.Post(endpoint)
	case MethodPut:
		return req.Put(endpoint)
	case MethodDelete:
		return req.Delete(endpoint)
	default:
		return nil, fmt.Errorf("transport: unsupported method %q", method)
	}
}

func classify(status int) error {
	switch {
	case status == 429:
		return domain.ErrRateLimited
	case status >= 500:
		return domain.ErrServerBusy
	default:
		return domain.ErrClientRejection
	}
}

// backoffDelay computes min(initialDelayMs*2^(n-1)*(1±0.25*U), maxDelayMs)
// for retry attempt n.
func backoffDelay(rc RetryConfig, n int) time.Duration {
	base := float64(rc.InitialDelayMs) * pow2(n-1)
	jitter := 1 + (rand.Float64()*2-1)*0.25
	delay := base * jitter
	if delay > float64(rc.MaxDelayMs) {
		delay = float64(rc.MaxDelayMs)
	}
	return time.Duration(delay) * time.Millisecond
}

// sleepBackoff waits the backoff delay before attempt n+1, honoring ctx
// cancellation.
func sleepBackoff(ctx context.Context, rc RetryConfig, n int) {
	timer := time.NewTimer(backoffDelay(rc, n))
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func pow2(n int) float64 {
	if n < 0 {
		return 1
	}
	result := 1.0
	for i := 0; i < n; i++ {
		result *= 2
	}
	return result
}

func (c *Client) log(rec LogRecord, skip bool) {
	if skip || !c.logging || c.logSink == nil {
		return
	}
	defer func() {
		// Logging must never propagate a panic to the caller.
		_ = recover()
	}()
	if len(rec.ErrorMessage) > c.maxLogLen && c.maxLogLen > 0 {
		rec.ErrorMessage = rec.ErrorMessage[:c.maxLogLen]
	}
	c.logSink.Append(rec)
}

// SlogBridge adapts a LogSink onto slog for components that just want
// structured logs without a dedicated sink.
type SlogBridge struct {
	Logger *slog.Logger
}

func (b SlogBridge) Append(rec LogRecord) {
	lvl := slog.LevelInfo
	if !rec.Success {
		lvl = slog.LevelWarn
	}
	b.Logger.Log(context.Background(), lvl, "http request",
		slog.String("client_type", rec.ClientType),
		slog.String("endpoint", rec.Endpoint),
		slog.String("method", rec.Method),
		slog.Int("status_code", rec.StatusCode),
		slog.Int64("duration_ms", rec.DurationMs),
		slog.Bool("success", rec.Success),
		slog.Int("retry_count", rec.RetryCount),
		slog.String("error", rec.ErrorMessage),
	)
}

// ParamsToStrings converts a scalar-valued parameter map into the
// string-valued map the request engine expects.
func ParamsToStrings(params map[string]any) map[string]string {
	out := make(map[string]string, len(params))
	for k, v := range params {
		switch val := v.(type) {
		case string:
			out[k] = val
		case bool:
			out[k] = strconv.FormatBool(val)
		case int:
			out[k] = strconv.Itoa(val)
		case int64:
			out[k] = strconv.FormatInt(val, 10)
		case float64:
			out[k] = strconv.FormatFloat(val, 'f', -1, 64)
		default:
			out[k] = fmt.Sprintf("%v", val)
		}
	}
	return out
}
