// Package gateway reports the status of the auxiliary ecosystem services
// (AI, economy, blockchain) behind the command center.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/felixgeelhaar/fortify/retry"
	"github.com/felixgeelhaar/fortify/timeout"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Service is one probed endpoint.
type Service struct {
	Name string `json:"name" mapstructure:"name"`
	URL  string `json:"url" mapstructure:"url"`
}

// DefaultServices mirrors the compose network of the ecosystem.
var DefaultServices = []Service{
	{Name: "ai", URL: "http://ai:8000/health"},
	{Name: "economy", URL: "http://economy:8000/balance"},
	{Name: "blockchain", URL: "http://blockchain:8000/height"},
}

// Result is the outcome of probing one service.
type Result struct {
	Name      string `json:"name"`
	OK        bool   `json:"ok"`
	Body      any    `json:"body,omitempty"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// Status is the aggregated view of every configured service.
type Status struct {
	Healthy   int       `json:"healthy"`
	Total     int       `json:"total"`
	Services  []Result  `json:"services"`
	CheckedAt time.Time `json:"checked_at"`
}

// Prober probes services with a per-attempt timeout and retry.
type Prober struct {
	services    []Service
	client      *http.Client
	timeout     time.Duration
	maxAttempts int
	retryDelay  time.Duration
	logger      *zap.Logger
}

// Option configures a Prober.
type Option func(*Prober)

// WithHTTPClient overrides the HTTP client used for probes.
func WithHTTPClient(c *http.Client) Option { return func(p *Prober) { p.client = c } }

// WithRetry sets the attempt count and initial backoff delay.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(p *Prober) {
		p.maxAttempts = attempts
		p.retryDelay = delay
	}
}

// WithLogger sets the logger used for failed probes.
func WithLogger(l *zap.Logger) Option { return func(p *Prober) { p.logger = l } }

// NewProber creates a Prober over services. A non-positive perAttempt
// falls back to 3s.
func NewProber(services []Service, perAttempt time.Duration, opts ...Option) *Prober {
	if perAttempt <= 0 {
		perAttempt = 3 * time.Second
	}
	p := &Prober{
		services:    services,
		client:      http.DefaultClient,
		timeout:     perAttempt,
		maxAttempts: 2,
		retryDelay:  200 * time.Millisecond,
		logger:      zap.NewNop(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Status probes every service in parallel. It never fails as a whole: each
// unreachable service is reported with its error.
func (p *Prober) Status(ctx context.Context) *Status {
	results := make([]Result, len(p.services))

	var eg errgroup.Group
	for i, svc := range p.services {
		eg.Go(func() error {
			results[i] = p.probe(ctx, svc)
			return nil
		})
	}
	_ = eg.Wait()

	st := &Status{Total: len(results), Services: results, CheckedAt: time.Now().UTC()}
	for _, r := range results {
		if r.OK {
			st.Healthy++
		}
	}
	return st
}

func (p *Prober) probe(ctx context.Context, svc Service) Result {
	r := retry.New[any](retry.Config{
		MaxAttempts:   p.maxAttempts,
		InitialDelay:  p.retryDelay,
		BackoffPolicy: retry.BackoffExponential,
	})
	t := timeout.New[any](timeout.Config{DefaultTimeout: p.timeout})

	start := time.Now()
	body, err := r.Do(ctx, func(ctx context.Context) (any, error) {
		return t.Execute(ctx, p.timeout, func(ctx context.Context) (any, error) {
			return p.fetch(ctx, svc.URL)
		})
	})
	res := Result{Name: svc.Name, LatencyMS: time.Since(start).Milliseconds()}
	if err != nil {
		p.logger.Warn("gateway probe failed", zap.String("service", svc.Name), zap.String("url", svc.URL), zap.Error(err))
		res.Error = err.Error()
		return res
	}
	res.OK = true
	res.Body = body
	return res
}

func (p *Prober) fetch(ctx context.Context, url string) (any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var body any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return body, nil
}
