package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const userAgent = "bears-go/0.1"

// TokenSource provides bearer tokens for outgoing requests. Defined at the
// consumer per Go convention "accept interfaces, return structs"; the auth
// cache provides the real implementation.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// Call summarizes one completed logical request (including its retries) for
// the history recorder.
type Call struct {
	RequestID string
	Method    string
	URL       string
	Status    int
	Attempts  int
	Duration  time.Duration
	StartedAt time.Time
}

// Recorder receives a Call after each request completes. Implementations
// must tolerate being called from multiple goroutines.
type Recorder interface {
	Record(ctx context.Context, call Call)
}

// Client is a token-authenticated HTTP caller with uniform retry, backoff,
// and error classification. One retry Policy governs every request.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      TokenSource
	logger     *slog.Logger
	policy     Policy
	envHeaders map[string]string
	recorder   Recorder

	// sleepFunc is called to wait between retries. Defaults to timeSleep.
	// Tests override this to avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithPolicy overrides the default retry policy.
func WithPolicy(p Policy) ClientOption {
	return func(c *Client) {
		c.policy = p
	}
}

// WithEnvHeaders tags every request with the deployment environment the way
// boe zones expect: x-use-boe plus the env label. Non-boe zones get no extra
// headers.
func WithEnvHeaders(zone, env string) ClientOption {
	return func(c *Client) {
		if strings.Contains(strings.ToLower(zone), "boe") {
			c.envHeaders = map[string]string{
				"x-use-boe": "1",
				"X-TT-ENV":  env,
			}
		}
	}
}

// WithRecorder attaches a request-history recorder.
func WithRecorder(r Recorder) ClientOption {
	return func(c *Client) {
		c.recorder = r
	}
}

// NewClient creates a REST client for the given host. token may be nil for
// unauthenticated endpoints.
func NewClient(baseURL string, httpClient *http.Client, token TokenSource, logger *slog.Logger, opts ...ClientOption) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		token:      token,
		logger:     logger,
		policy:     DefaultPolicy(),
		sleepFunc:  timeSleep,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Do executes an HTTP request against the client's host, retrying transient
// failures under the client's policy. body is replayed from scratch on each
// attempt. The caller is responsible for closing the response body on
// success.
func (c *Client) Do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	url := c.baseURL + "/" + strings.TrimLeft(path, "/")
	requestID := uuid.NewString()
	started := time.Now()

	resp, status, attempts, err := c.doRetry(ctx, method, url, requestID, body)

	if c.recorder != nil {
		c.recorder.Record(ctx, Call{
			RequestID: requestID,
			Method:    method,
			URL:       url,
			Status:    status,
			Attempts:  attempts,
			Duration:  time.Since(started),
			StartedAt: started,
		})
	}

	return resp, err
}

// doRetry is the retry loop. Returns the successful response, the last HTTP
// status observed, the number of attempts made, and the terminal error if
// all attempts failed (in which case the response is nil).
func (c *Client) doRetry(ctx context.Context, method, url, requestID string, body []byte) (*http.Response, int, int, error) {
	var attempt int
	for {
		resp, err := c.doOnce(ctx, method, url, requestID, body)
		if err != nil {
			// Context cancellation is not retryable.
			if ctx.Err() != nil {
				return nil, 0, attempt + 1, fmt.Errorf("rest: request canceled: %w", ctx.Err())
			}

			// Network errors are retryable.
			if attempt < c.policy.MaxRetries {
				backoff := c.policy.backoff(attempt)
				c.logger.Warn("retrying after network error",
					slog.String("method", method),
					slog.String("url", url),
					slog.Int("attempt", attempt+1),
					slog.Duration("backoff", backoff),
					slog.String("error", err.Error()),
				)

				if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
					return nil, 0, attempt + 1, fmt.Errorf("rest: request canceled: %w", sleepErr)
				}

				attempt++

				continue
			}

			return nil, 0, attempt + 1, fmt.Errorf("rest: %s %s failed after %d retries: %w",
				method, url, c.policy.MaxRetries, err)
		}

		// 2xx — success.
		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			c.logger.Debug("request succeeded",
				slog.String("method", method),
				slog.String("url", url),
				slog.Int("status", resp.StatusCode),
			)

			return resp, resp.StatusCode, attempt + 1, nil
		}

		// Read and close body for error responses.
		errBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if readErr != nil {
			errBody = []byte("(failed to read response body)")
		}

		if c.policy.retryable(resp.StatusCode) && attempt < c.policy.MaxRetries {
			backoff := c.retryBackoff(resp, attempt)
			c.logger.Warn("retrying after HTTP error",
				slog.String("method", method),
				slog.String("url", url),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			if err := c.sleepFunc(ctx, backoff); err != nil {
				return nil, resp.StatusCode, attempt + 1, fmt.Errorf("rest: request canceled: %w", err)
			}

			attempt++

			continue
		}

		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			RequestID:  requestID,
			Message:    string(errBody),
			Err:        classifyStatus(resp.StatusCode),
		}

		if attempt > 0 {
			c.logger.Error("request failed after retries",
				slog.String("method", method),
				slog.String("url", url),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempts", attempt+1),
			)
		}

		return nil, resp.StatusCode, attempt + 1, apiErr
	}
}

// doOnce executes a single HTTP request (no retry).
func (c *Client) doOnce(ctx context.Context, method, url, requestID string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	if c.token != nil {
		tok, err := c.token.AccessToken(ctx)
		if err != nil {
			return nil, fmt.Errorf("obtaining token: %w", err)
		}

		req.Header.Set("Authorization", "Bearer "+tok)
	}

	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Request-Id", requestID)

	for k, v := range c.envHeaders {
		req.Header.Set(k, v)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

// DoJSON marshals in (when non-nil) as the request body, executes the
// request, and decodes the response into out (when non-nil).
func (c *Client) DoJSON(ctx context.Context, method, path string, in, out any) error {
	var body []byte

	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("rest: encoding request body: %w", err)
		}

		body = data
	}

	resp, err := c.Do(ctx, method, path, body)
	if err != nil {
		return err
	}

	defer resp.Body.Close()

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("rest: decoding response body: %w", err)
	}

	return nil
}

// retryBackoff returns the backoff duration for a retryable response.
// For 429 responses with a Retry-After header, that value is used.
func (c *Client) retryBackoff(resp *http.Response, attempt int) time.Duration {
	if resp.StatusCode == http.StatusTooManyRequests {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}

	return c.policy.backoff(attempt)
}

// timeSleep waits for the given duration or until the context is canceled.
// It is the default sleepFunc for Client.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
