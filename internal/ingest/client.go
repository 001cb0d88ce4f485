package ingest

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

	"github.com/cenkalti/backoff/v5"
	"github.com/example/lexisync/internal/logger"
	"github.com/example/lexisync/pkg/models"
)

// ErrWaitTimeout is returned when a job is still running after the last poll
var ErrWaitTimeout = errors.New("timed out waiting for sync job")

// StatusError is a non-2xx answer from the server
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server answered %d: %s", e.Code, strings.TrimSpace(e.Body))
}

// ClientConfig holds the submitter settings
type ClientConfig struct {
	BaseURL      string
	Secret       string
	MaxAttempts  int
	BaseDelay    time.Duration
	PollInterval time.Duration
	MaxPolls     int
	HTTPClient   *http.Client
}

// Client is the submitting half of the pipeline
type Client struct {
	cfg  ClientConfig
	http *http.Client
	log  *logger.Logger
	now  func() time.Time
}

// NewClient creates a client; zero settings fall back to the defaults of the
// ingestion contract
func NewClient(cfg ClientConfig, log *logger.Logger) *Client {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.MaxPolls <= 0 {
		cfg.MaxPolls = 60
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, http: hc, log: log.With("component", "ingest.client"), now: time.Now}
}

// Submit sends a payload and returns the job the server created or found
func (c *Client) Submit(ctx context.Context, p *Payload) (*JobResponse, error) {
	if p.PayloadVersion == 0 {
		p.PayloadVersion = PayloadVersion
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return c.do(ctx, http.MethodPost, "/api/sync/jobs", p.RequestID, body)
}

// Status asks for the job of a request id
func (c *Client) Status(ctx context.Context, requestID string) (*JobResponse, error) {
	return c.do(ctx, http.MethodGet, "/api/sync/jobs/"+url.PathEscape(requestID), requestID, nil)
}

// Wait polls the status every PollInterval until the job is terminal, at
// most MaxPolls times
func (c *Client) Wait(ctx context.Context, requestID string) (*JobResponse, error) {
	for i := 0; i < c.cfg.MaxPolls; i++ {
		resp, err := c.Status(ctx, requestID)
		if err != nil {
			return nil, err
		}
		if resp.Status == models.JobSuccess || resp.Status == models.JobFailed {
			return resp, nil
		}
		c.log.Debug("sync job not finished", "request_id", requestID, "status", resp.Status, "poll", i+1)
		if i == c.cfg.MaxPolls-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.cfg.PollInterval):
		}
	}
	return nil, fmt.Errorf("%w %s after %d polls", ErrWaitTimeout, requestID, c.cfg.MaxPolls)
}

// do sends one signed request, retrying 5xx and transport errors with
// exponential backoff. Every attempt is signed with a fresh timestamp. 4xx
// answers are returned at once.
func (c *Client) do(ctx context.Context, method, path, requestID string, body []byte) (*JobResponse, error) {
	signed := body
	if signed == nil {
		signed = EmptyBody
	}
	hash := BodyHash(signed)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.BaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0

	attempt := 0
	op := func() (*JobResponse, error) {
		attempt++
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		ts := c.now().Unix()
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
		req.Header.Set(HeaderRequestID, requestID)
		req.Header.Set(HeaderSignature, Sign(c.cfg.Secret, ts, requestID, hash))

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			return nil, err
		}
		defer resp.Body.Close()
		raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			return nil, &StatusError{Code: resp.StatusCode, Body: string(raw)}
		}
		if resp.StatusCode >= 400 {
			return nil, backoff.Permanent(&StatusError{Code: resp.StatusCode, Body: string(raw)})
		}
		var out JobResponse
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("failed to decode response: %w", err))
		}
		return &out, nil
	}

	notify := func(err error, next time.Duration) {
		c.log.Warn("sync request failed, retrying", "request_id", requestID, "attempt", attempt, "next", next.String(), "error", err)
	}
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(c.cfg.MaxAttempts)),
		backoff.WithNotify(notify),
	)
}
