package judge0

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultTimeout           = 30 * time.Second
	defaultHealthTimeout     = 3 * time.Second
	defaultPollInterval      = time.Second
	defaultPollAttempts      = 10
	defaultBatchPollAttempts = 5
	maxErrorBody             = 512
)

var (
	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "grader",
		Subsystem: "judge0",
		Name:      "request_duration_seconds",
		Help:      "Duration of calls made to the execution service",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})

	requestFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "grader",
		Subsystem: "judge0",
		Name:      "request_failures_total",
		Help:      "Number of calls to the execution service that failed",
	}, []string{"operation", "kind"})

	pollExhausted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "grader",
		Subsystem: "judge0",
		Name:      "poll_exhausted_total",
		Help:      "Number of polling loops that gave up before a terminal status",
	}, []string{"mode"})
)

// Config groups client configuration values.
type Config struct {
	BaseURL           string
	AuthToken         string
	Timeout           time.Duration
	HealthTimeout     time.Duration
	PollInterval      time.Duration
	PollAttempts      int
	BatchPollAttempts int
	Limits            Limits
	HTTPClient        *http.Client
	Logger            zerolog.Logger
}

// Client talks to a Judge0 compatible execution service.
type Client struct {
	baseURL string
	cfg     Config
	http    *http.Client
	tracer  trace.Tracer
	logger  zerolog.Logger
}

// NewClient constructs an execution service client.
func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("judge0 base url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("parse judge0 base url: %w", err)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = defaultHealthTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = defaultPollAttempts
	}
	if cfg.BatchPollAttempts <= 0 {
		cfg.BatchPollAttempts = defaultBatchPollAttempts
	}
	if cfg.Limits == (Limits{}) {
		cfg.Limits = DefaultLimits()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	return &Client{
		baseURL: base,
		cfg:     cfg,
		http:    httpClient,
		tracer:  otel.Tracer("github.com/noah-isme/gema-grader/pkg/judge0"),
		logger:  logger.With().Str("component", "judge0_client").Logger(),
	}, nil
}

// Limits returns the resource limits applied to every submission.
func (c *Client) Limits() Limits {
	return c.cfg.Limits
}

// PollAttempts returns the configured single submission polling budget.
func (c *Client) PollAttempts() int {
	return c.cfg.PollAttempts
}

// BatchPollAttempts returns the configured batch polling budget.
func (c *Client) BatchPollAttempts() int {
	return c.cfg.BatchPollAttempts
}

// Health checks whether the service answers its status listing.
func (c *Client) Health(parent context.Context) (bool, string) {
	ctx, cancel := context.WithTimeout(parent, c.cfg.HealthTimeout)
	defer cancel()

	ctx, span := c.tracer.Start(ctx, "judge0.health")
	defer span.End()

	start := time.Now()
	resp, err := c.do(ctx, http.MethodGet, "/statuses", nil, nil)
	requestDuration.WithLabelValues("health").Observe(time.Since(start).Seconds())
	if err != nil {
		requestFailures.WithLabelValues("health", string(KindServiceUnavailable)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Sprintf("connection error: %v", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		requestFailures.WithLabelValues("health", string(KindServiceUnavailable)).Inc()
		span.SetStatus(codes.Error, "unhealthy")
		return false, fmt.Sprintf("status code %d", resp.StatusCode)
	}

	return true, "ok"
}

// SubmitOne enqueues a single submission and returns its token.
func (c *Client) SubmitOne(parent context.Context, sub Submission) (string, error) {
	ctx, span := c.tracer.Start(parent, "judge0.submit", trace.WithAttributes(
		attribute.Int("judge0.language_id", sub.LanguageID),
	))
	defer span.End()

	query := url.Values{"base64_encoded": {"false"}, "wait": {"false"}}
	var body struct {
		Token string `json:"token"`
	}

	start := time.Now()
	err := c.doJSON(ctx, http.MethodPost, "/submissions", query, c.payload(sub), &body)
	requestDuration.WithLabelValues("submit").Observe(time.Since(start).Seconds())
	if err == nil && strings.TrimSpace(body.Token) == "" {
		err = newError(KindNoToken, "no token received from execution service", 0, nil)
	}
	if err != nil {
		requestFailures.WithLabelValues("submit", string(KindOf(err))).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	return body.Token, nil
}

// SubmitBatch enqueues several submissions in one request. Tokens are
// returned in request order; entries the service rejected are empty.
func (c *Client) SubmitBatch(parent context.Context, subs []Submission) ([]string, error) {
	if len(subs) == 0 {
		return nil, nil
	}

	ctx, span := c.tracer.Start(parent, "judge0.submit_batch", trace.WithAttributes(
		attribute.Int("judge0.batch_size", len(subs)),
	))
	defer span.End()

	payload := struct {
		Submissions []submissionPayload `json:"submissions"`
	}{Submissions: make([]submissionPayload, 0, len(subs))}
	for _, sub := range subs {
		payload.Submissions = append(payload.Submissions, c.payload(sub))
	}

	var entries []struct {
		Token string `json:"token"`
	}

	query := url.Values{"base64_encoded": {"false"}}
	start := time.Now()
	err := c.doJSON(ctx, http.MethodPost, "/submissions/batch", query, payload, &entries)
	requestDuration.WithLabelValues("submit_batch").Observe(time.Since(start).Seconds())
	if err != nil {
		requestFailures.WithLabelValues("submit_batch", string(KindOf(err))).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	tokens := make([]string, len(subs))
	received := 0
	for i := range tokens {
		if i < len(entries) {
			tokens[i] = strings.TrimSpace(entries[i].Token)
		}
		if tokens[i] != "" {
			received++
		}
	}
	if received == 0 {
		err := newError(KindNoToken, "no tokens received from execution service", 0, nil)
		requestFailures.WithLabelValues("submit_batch", string(KindNoToken)).Inc()
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if received < len(subs) {
		c.logger.Warn().Int("requested", len(subs)).Int("received", received).Msg("batch submission returned missing tokens")
	}

	return tokens, nil
}

// PollOne waits for a submission to reach a terminal status. When the
// attempts run out or the context ends, a synthetic timeout result is
// returned instead of an error.
func (c *Client) PollOne(parent context.Context, token string, maxAttempts int) Result {
	if maxAttempts <= 0 {
		maxAttempts = c.cfg.PollAttempts
	}

	ctx, span := c.tracer.Start(parent, "judge0.poll", trace.WithAttributes(
		attribute.String("judge0.token", token),
	))
	defer span.End()

	query := url.Values{"base64_encoded": {"false"}, "fields": {"*"}}
	path := "/submissions/" + url.PathEscape(token)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		var result Result
		start := time.Now()
		err := c.doJSON(ctx, http.MethodGet, path, query, nil, &result)
		requestDuration.WithLabelValues("poll").Observe(time.Since(start).Seconds())

		wait := c.cfg.PollInterval * time.Duration(attempt)
		switch {
		case err != nil:
			requestFailures.WithLabelValues("poll", string(KindOf(err))).Inc()
			c.logger.Warn().Err(err).Str("token", token).Int("attempt", attempt).Msg("poll request failed")
			wait = 2 * c.cfg.PollInterval
		case !result.Pending():
			if result.Token == "" {
				result.Token = token
			}
			span.SetAttributes(attribute.Int("judge0.status_id", result.Status.ID))
			return result
		}

		if attempt == maxAttempts {
			break
		}
		if !sleep(ctx, wait) {
			break
		}
	}

	pollExhausted.WithLabelValues("single").Inc()
	span.SetStatus(codes.Error, "polling exhausted")
	c.logger.Warn().Str("token", token).Int("attempts", maxAttempts).Msg("polling exhausted")
	return timeoutResult(token)
}

// PollBatch waits until every token reaches a terminal status. Results are
// returned in token order. Exhaustion yields ErrPollExhausted.
func (c *Client) PollBatch(parent context.Context, tokens []string, maxAttempts int) ([]Result, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	if maxAttempts <= 0 {
		maxAttempts = c.cfg.BatchPollAttempts
	}

	ctx, span := c.tracer.Start(parent, "judge0.poll_batch", trace.WithAttributes(
		attribute.Int("judge0.batch_size", len(tokens)),
	))
	defer span.End()

	query := url.Values{
		"tokens":         {strings.Join(tokens, ",")},
		"base64_encoded": {"false"},
		"fields":         {"*"},
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		var body struct {
			Submissions []Result `json:"submissions"`
		}
		start := time.Now()
		err := c.doJSON(ctx, http.MethodGet, "/submissions/batch", query, nil, &body)
		requestDuration.WithLabelValues("poll_batch").Observe(time.Since(start).Seconds())

		if err != nil {
			lastErr = err
			requestFailures.WithLabelValues("poll_batch", string(KindOf(err))).Inc()
			c.logger.Warn().Err(err).Int("attempt", attempt).Msg("batch poll request failed")
		} else if complete(body.Submissions) {
			return body.Submissions, nil
		}

		if attempt == maxAttempts {
			break
		}
		if !sleep(ctx, 2*c.cfg.PollInterval) {
			lastErr = ctx.Err()
			break
		}
	}

	pollExhausted.WithLabelValues("batch").Inc()
	span.SetStatus(codes.Error, "batch polling exhausted")
	return nil, newError(KindTimeout, ErrPollExhausted.Message, 0, lastErr)
}

// Execute submits a program and waits for its result.
func (c *Client) Execute(ctx context.Context, sub Submission) (Result, error) {
	token, err := c.SubmitOne(ctx, sub)
	if err != nil {
		return Result{}, err
	}
	return c.PollOne(ctx, token, c.cfg.PollAttempts), nil
}

func (c *Client) payload(sub Submission) submissionPayload {
	return submissionPayload{
		SourceCode:     sub.SourceCode,
		LanguageID:     sub.LanguageID,
		Stdin:          sub.Stdin,
		ExpectedOutput: sub.ExpectedOutput,
		Limits:         c.cfg.Limits,
	}
}

func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, in, out any) error {
	var body io.Reader
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return newError(KindBadRequest, "encode request", 0, err)
		}
		body = bytes.NewReader(encoded)
	}

	resp, err := c.do(ctx, method, path, query, body)
	if err != nil {
		return newError(KindServiceUnavailable, "execution service unreachable", 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		kind := KindServiceUnavailable
		if resp.StatusCode < http.StatusInternalServerError {
			kind = KindBadRequest
		}
		message := strings.TrimSpace(string(snippet))
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		return newError(kind, message, resp.StatusCode, nil)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return newError(KindServiceUnavailable, "decode response", resp.StatusCode, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Response, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.AuthToken != "" {
		req.Header.Set("X-Auth-Token", c.cfg.AuthToken)
	}

	return c.http.Do(req)
}

func complete(results []Result) bool {
	if len(results) == 0 {
		return false
	}
	for _, result := range results {
		if result.Pending() {
			return false
		}
	}
	return true
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
