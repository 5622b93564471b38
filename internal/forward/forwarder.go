package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jwalitptl/quote-api/internal/config"
	"github.com/jwalitptl/quote-api/internal/model"
	"github.com/jwalitptl/quote-api/pkg/circuitbreaker"
	"github.com/jwalitptl/quote-api/pkg/metrics"
)

type Mode string

const (
	ModeHTTP     Mode = "http"
	ModeNoop     Mode = "noop"
	ModeDisabled Mode = "disabled"
)

const (
	DefaultTimeout       = 10 * time.Second
	IdempotencyKeyHeader = "Idempotency-Key"
	maxErrorBodyBytes    = 4 << 10
)

// ErrDisabled is returned when no downstream system is configured. Nothing
// should be queued for retry in that case.
var ErrDisabled = errors.New("downstream forwarding is disabled")

// StatusError is a non-2xx answer from the downstream system.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("downstream responded with status %d", e.StatusCode)
	}
	return fmt.Sprintf("downstream responded with status %d: %s", e.StatusCode, e.Body)
}

// Forwarder delivers a quote to the downstream admin system.
type Forwarder interface {
	Forward(ctx context.Context, req *model.ForwardRequest) error
	Mode() Mode
}

// New builds the forwarder selected by cfg.Mode.
func New(cfg config.DownstreamConfig, m *metrics.Metrics) (Forwarder, error) {
	switch Mode(cfg.Mode) {
	case ModeHTTP:
		f, err := NewHTTPForwarder(cfg, nil, m)
		if err != nil {
			return nil, err
		}
		return f, nil
	case ModeNoop:
		return NoopForwarder{}, nil
	case ModeDisabled, "":
		return DisabledForwarder{}, nil
	default:
		return nil, fmt.Errorf("unknown downstream mode %q", cfg.Mode)
	}
}

// HTTPForwarder posts the forward request as JSON to one configured URL.
type HTTPForwarder struct {
	url          string
	method       string
	apiKey       string
	apiKeyHeader string
	client       *http.Client
	breaker      *circuitbreaker.CircuitBreaker
	metrics      *metrics.Metrics
}

// NewHTTPForwarder uses client when given, otherwise a client with cfg.Timeout.
func NewHTTPForwarder(cfg config.DownstreamConfig, client *http.Client, m *metrics.Metrics) (*HTTPForwarder, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("downstream url is required")
	}
	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = http.MethodPost
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	header := cfg.APIKeyHeader
	if header == "" {
		header = "X-API-Key"
	}

	return &HTTPForwarder{
		url:          cfg.URL,
		method:       method,
		apiKey:       cfg.APIKey,
		apiKeyHeader: header,
		client:       client,
		breaker: circuitbreaker.NewCircuitBreaker(circuitbreaker.Settings{
			Name:        "downstream",
			MaxFailures: cfg.BreakerMaxFailures,
			Timeout:     cfg.BreakerTimeout,
		}),
		metrics: m,
	}, nil
}

func (f *HTTPForwarder) Mode() Mode {
	return ModeHTTP
}

func (f *HTTPForwarder) Forward(ctx context.Context, req *model.ForwardRequest) error {
	if req == nil {
		return fmt.Errorf("forward request cannot be nil")
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode forward request: %w", err)
	}

	if f.metrics != nil {
		timer := prometheus.NewTimer(f.metrics.ForwardLatency)
		defer timer.ObserveDuration()
	}

	return f.breaker.Execute(func() error {
		return f.send(ctx, req.QuoteID, body)
	})
}

func (f *HTTPForwarder) send(ctx context.Context, quoteID string, body []byte) error {
	httpReq, err := http.NewRequestWithContext(ctx, f.method, f.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build downstream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if quoteID != "" {
		httpReq.Header.Set(IdempotencyKeyHeader, quoteID)
	}
	if f.apiKey != "" {
		httpReq.Header.Set(f.apiKeyHeader, f.apiKey)
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("downstream request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBodyBytes))
	return nil
}

// NoopForwarder accepts everything. It exists for integration environments
// that have no downstream and must be chosen explicitly.
type NoopForwarder struct{}

func (NoopForwarder) Forward(context.Context, *model.ForwardRequest) error { return nil }

func (NoopForwarder) Mode() Mode { return ModeNoop }

// DisabledForwarder refuses everything with ErrDisabled.
type DisabledForwarder struct{}

func (DisabledForwarder) Forward(context.Context, *model.ForwardRequest) error { return ErrDisabled }

func (DisabledForwarder) Mode() Mode { return ModeDisabled }
