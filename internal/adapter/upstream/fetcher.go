package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/tide-data-service/internal/observability"
)

// ErrFetchFailed is returned once every attempt of a logical request failed.
// Callers treat it as "no data", never as fatal.
var ErrFetchFailed = errors.New("fetch failed")

// FailureClass labels why a single attempt failed. Every class is retried
// the same way.
type FailureClass string

const (
	FailureTimeout    FailureClass = "timeout"
	FailureHTTPStatus FailureClass = "http_status"
	FailureTransport  FailureClass = "transport"
	FailureDecode     FailureClass = "decode"
)

// AttemptError describes one failed attempt.
type AttemptError struct {
	Class  FailureClass
	Status int
	Err    error
}

func (e *AttemptError) Error() string {
	if e.Class == FailureHTTPStatus {
		return fmt.Sprintf("%s %d: %v", e.Class, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Class, e.Err)
}

func (e *AttemptError) Unwrap() error { return e.Err }

// Request is one logical upstream call.
type Request struct {
	Domain  string
	Harbor  string
	URL     string
	Timeout time.Duration
}

// FetcherConfig controls pacing and retries.
type FetcherConfig struct {
	RequestDelay time.Duration // waited before every attempt
	InitialDelay time.Duration // backoff base; attempt n waits base*2^(n-1)
	MaxAttempts  int
	Referer      string
	UserAgent    string
}

// Fetcher performs paced, retried GET requests returning raw JSON.
type Fetcher struct {
	httpClient *http.Client
	clock      clockwork.Clock
	cfg        FetcherConfig
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewFetcher creates a Fetcher. Per-request timeouts come from Request, so
// the http.Client carries none.
func NewFetcher(cfg FetcherConfig, clk clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Fetcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &Fetcher{
		httpClient: &http.Client{},
		clock:      clk,
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics,
	}
}

// Fetch runs the request until an attempt returns a 200 with a JSON body or
// the attempts are exhausted. Cancellation of ctx aborts immediately.
func (f *Fetcher) Fetch(ctx context.Context, req Request) (json.RawMessage, error) {
	log := f.logger.With("harbor", req.Harbor, "domain", req.Domain, "url", req.URL)
	var lastErr error

	for attempt := 1; attempt <= f.cfg.MaxAttempts; attempt++ {
		if err := f.sleep(ctx, f.cfg.RequestDelay); err != nil {
			return nil, err
		}

		start := f.clock.Now()
		body, err := f.attempt(ctx, req)
		f.metrics.FetchDuration.WithLabelValues(req.Domain).Observe(f.clock.Since(start).Seconds())

		if err == nil {
			f.metrics.FetchAttempts.WithLabelValues(req.Domain, "success").Inc()
			f.metrics.FetchResults.WithLabelValues(req.Domain, "success").Inc()
			log.Debug("fetched", "attempt", attempt, "max_attempts", f.cfg.MaxAttempts)
			return body, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr = err
		class := FailureTransport
		var ae *AttemptError
		if errors.As(err, &ae) {
			class = ae.Class
		}
		f.metrics.FetchAttempts.WithLabelValues(req.Domain, string(class)).Inc()

		if attempt == f.cfg.MaxAttempts {
			log.Warn("fetch attempt failed", "attempt", attempt, "max_attempts", f.cfg.MaxAttempts, "class", class, "error", err)
			break
		}

		delay := f.cfg.InitialDelay << (attempt - 1)
		log.Warn("fetch attempt failed, retrying",
			"attempt", attempt,
			"max_attempts", f.cfg.MaxAttempts,
			"class", class,
			"retry_in", delay,
			"error", err,
		)
		if err := f.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	f.metrics.FetchResults.WithLabelValues(req.Domain, "exhausted").Inc()
	log.Error("fetch failed after all attempts", "max_attempts", f.cfg.MaxAttempts, "error", lastErr)
	return nil, fmt.Errorf("%w: %s for %s after %d attempts: %w", ErrFetchFailed, req.Domain, req.Harbor, f.cfg.MaxAttempts, lastErr)
}

func (f *Fetcher) attempt(ctx context.Context, req Request) (json.RawMessage, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, &AttemptError{Class: FailureTransport, Err: fmt.Errorf("create request: %w", err)}
	}
	if f.cfg.Referer != "" {
		httpReq.Header.Set("Referer", f.cfg.Referer)
	}
	if f.cfg.UserAgent != "" {
		httpReq.Header.Set("User-Agent", f.cfg.UserAgent)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := f.httpClient.Do(httpReq)
	if err != nil {
		return nil, &AttemptError{Class: classifyTransport(err), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &AttemptError{Class: classifyTransport(err), Err: fmt.Errorf("read body: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &AttemptError{Class: FailureHTTPStatus, Status: resp.StatusCode, Err: fmt.Errorf("unexpected status: %.200s", body)}
	}
	if !json.Valid(body) {
		return nil, &AttemptError{Class: FailureDecode, Err: errors.New("response is not valid JSON")}
	}
	return body, nil
}

func classifyTransport(err error) FailureClass {
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureTimeout
	}
	return FailureTransport
}

// sleep waits d on the fetcher clock or returns early when ctx ends.
func (f *Fetcher) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-f.clock.After(d):
		return nil
	}
}
