// Package remote is the client for the asynchronous translation service.
//
// A run submits the changed entries as a job, polls the job until it
// reaches a terminal status and reads the translations the service has
// cached from earlier jobs:
//
//	POST /translate              submit, returns {jobId}
//	GET  /translate/jobs/{id}    job status
//	GET  /translate              cached translations
//
// Every non-2xx response is converted into an *Error of a fixed Kind.
package remote

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

	"github.com/google/uuid"

	"github.com/bandapella/translatr-gradle-plugin/catalog"
)

const (
	// HeaderAPIKey carries the credential on every request.
	HeaderAPIKey = "X-API-Key"
	// HeaderRequestID carries a fresh UUID per request.
	HeaderRequestID = "X-Request-ID"

	maxResponseBytes = 32 << 20
)

// ---------------------------------------------------------------------------
// Wire types
// ---------------------------------------------------------------------------

// Status is the job lifecycle status reported by the service.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether polling should stop.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Meta carries per-job counters.
type Meta struct {
	Cached     int `json:"cached"`
	Translated int `json:"translated"`
	Total      int `json:"total"`
}

// Job is a job status document.
type Job struct {
	ID           string         `json:"id"`
	Status       Status         `json:"status"`
	Progress     float64        `json:"progress"`
	StringsCount int            `json:"stringsCount,omitempty"`
	UpdatedAt    string         `json:"updatedAt,omitempty"`
	Translations catalog.Result `json:"translations,omitempty"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	Meta         *Meta          `json:"meta,omitempty"`
}

// Cached is everything the service still holds from earlier jobs.
type Cached struct {
	Translations catalog.Result `json:"translations"`
	Meta         map[string]any `json:"meta,omitempty"`
}

type submitResponse struct {
	JobID     string `json:"jobId"`
	Status    string `json:"status"`
	CreatedAt string `json:"createdAt"`
}

// ---------------------------------------------------------------------------
// Options
// ---------------------------------------------------------------------------

// Options configures a Client. Zero values select defaults.
type Options struct {
	// BaseURL is the service root, e.g. https://api.example.com/v1.
	BaseURL string
	APIKey  string
	// HTTPClient overrides the transport. Timeout and Proxy are ignored
	// when it is set.
	HTTPClient *http.Client
	// Timeout bounds a single request (default 30s).
	Timeout time.Duration
	// Proxy is an optional HTTP/HTTPS proxy URL. Without it the standard
	// proxy environment variables apply.
	Proxy string
	// MaxRetries is the number of attempts for a request failing at the
	// network level (default 3). During polling it is the number of
	// consecutive failed polls tolerated.
	MaxRetries int
	// RetryDelay is the linear backoff unit between attempts (default 2s).
	RetryDelay time.Duration
	// PollInitialDelay is the first wait between polls (default 1s).
	PollInitialDelay time.Duration
	// PollMaxDelay caps the wait between polls (default 10s).
	PollMaxDelay time.Duration
	// PollBackoff multiplies the wait after each poll (default 1.5).
	PollBackoff float64
	// ActivityTimeout is how long a job may go without any observable
	// change before polling gives up (default 5m).
	ActivityTimeout time.Duration
	// UserAgent is sent with every request when set.
	UserAgent string
}

func (o *Options) effectiveTimeout() time.Duration {
	if o.Timeout > 0 {
		return o.Timeout
	}
	return 30 * time.Second
}

func (o *Options) effectiveMaxRetries() int {
	if o.MaxRetries > 0 {
		return o.MaxRetries
	}
	return 3
}

func (o *Options) effectiveRetryDelay() time.Duration {
	if o.RetryDelay > 0 {
		return o.RetryDelay
	}
	return 2 * time.Second
}

func (o *Options) effectivePollInitialDelay() time.Duration {
	if o.PollInitialDelay > 0 {
		return o.PollInitialDelay
	}
	return time.Second
}

func (o *Options) effectivePollMaxDelay() time.Duration {
	if o.PollMaxDelay > 0 {
		return o.PollMaxDelay
	}
	return 10 * time.Second
}

func (o *Options) effectivePollBackoff() float64 {
	if o.PollBackoff > 1 {
		return o.PollBackoff
	}
	return 1.5
}

func (o *Options) effectiveActivityTimeout() time.Duration {
	if o.ActivityTimeout > 0 {
		return o.ActivityTimeout
	}
	return 5 * time.Minute
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

// Client talks to one translation service. It is safe to reuse within a
// run; state of a poll lives in the Poll call.
type Client struct {
	opts Options
	http *http.Client
	base string

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient returns a client for opts.BaseURL.
func NewClient(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("api url is not set")
	}
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid api url %q", opts.BaseURL)
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc = makeHTTPClient(opts.Proxy, opts.effectiveTimeout())
	}

	return &Client{
		opts:  opts,
		http:  hc,
		base:  base,
		now:   time.Now,
		sleep: sleepCtx,
	}, nil
}

func makeHTTPClient(proxyURL string, timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxyURL != "" {
		if parsed, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(parsed)
		}
	} else {
		transport.Proxy = http.ProxyFromEnvironment
	}
	return &http.Client{Transport: transport, Timeout: timeout}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Submit posts entries as a new job and returns its id. Network failures
// are retried with linear backoff (attempt × RetryDelay); any non-2xx
// response is classified and returned without retry.
func (c *Client) Submit(ctx context.Context, entries []Item, languages []string) (string, error) {
	body, err := json.Marshal(submitRequest{Strings: items(entries), Languages: languages})
	if err != nil {
		return "", fmt.Errorf("encoding submission: %w", err)
	}

	status, resp, err := c.doWithRetry(ctx, http.MethodPost, "/translate", body)
	if err != nil {
		return "", err
	}
	if status/100 != 2 {
		return "", Classify(status, resp)
	}

	var sr submitResponse
	if err := decodeValidated(schemaSubmit, resp, &sr); err != nil {
		return "", malformed(status, resp, err)
	}
	return sr.JobID, nil
}

// FetchCached returns all translations the service holds, independent of
// any job.
func (c *Client) FetchCached(ctx context.Context) (*Cached, error) {
	status, resp, err := c.doWithRetry(ctx, http.MethodGet, "/translate", nil)
	if err != nil {
		return nil, err
	}
	if status/100 != 2 {
		return nil, Classify(status, resp)
	}

	var cached Cached
	if err := decodeValidated(schemaCached, resp, &cached); err != nil {
		return nil, malformed(status, resp, err)
	}
	if cached.Translations == nil {
		cached.Translations = catalog.Result{}
	}
	return &cached, nil
}

// fetchJob performs a single status request.
func (c *Client) fetchJob(ctx context.Context, jobID string) (*Job, error) {
	path := "/translate/jobs/" + url.PathEscape(jobID)
	status, resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if status/100 != 2 {
		return nil, Classify(status, resp)
	}

	var job Job
	if err := decodeValidated(schemaJob, resp, &job); err != nil {
		return nil, malformed(status, resp, err)
	}
	return &job, nil
}

// doWithRetry retries network-level failures only.
func (c *Client) doWithRetry(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	attempts := c.opts.effectiveMaxRetries()
	delay := c.opts.effectiveRetryDelay()

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, time.Duration(attempt)*delay); err != nil {
				return 0, nil, err
			}
		}

		status, resp, err := c.do(ctx, method, path, body)
		if err == nil {
			return status, resp, nil
		}
		if ctx.Err() != nil {
			return 0, nil, ctx.Err()
		}
		lastErr = err
	}

	return 0, nil, &Error{
		Kind:       KindNetwork,
		Diagnostic: fmt.Sprintf("%s %s failed after %d attempts: %s", method, path, attempts, DiagnosticOf(lastErr)),
		Cause:      lastErr,
	}
}

// do performs one request. Transport failures come back as KindNetwork.
func (c *Client) do(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.opts.APIKey != "" {
		req.Header.Set(HeaderAPIKey, c.opts.APIKey)
	}
	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}
	req.Header.Set(HeaderRequestID, uuid.NewString())

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, &Error{
			Kind:       KindNetwork,
			Diagnostic: fmt.Sprintf("%s %s: %v", method, path, err),
			Cause:      err,
		}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, &Error{
			Kind:       KindNetwork,
			Status:     resp.StatusCode,
			Diagnostic: fmt.Sprintf("%s %s: reading body: %v", method, path, err),
			Cause:      err,
		}
	}
	return resp.StatusCode, data, nil
}
