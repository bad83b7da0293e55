package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"
)

// Retry and backoff constants.
const (
	maxRetries     = 5
	baseBackoff    = 1 * time.Second
	maxBackoff     = 60 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.25
	userAgent      = "syncroot/0.1"
)

// TokenSource provides OAuth2 bearer tokens. Defined at the consumer
// so tests can pass a static token without the oauth2 machinery.
type TokenSource interface {
	Token() (string, error)
}

// Client is an HTTP client for the remote file store API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      TokenSource
	logger     *slog.Logger

	// sleepFunc is called to wait between retries. Tests override this to
	// avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewClient creates a remote store client. baseURL is the API root, e.g.
// "https://www.googleapis.com/drive/v2".
func NewClient(baseURL string, httpClient *http.Client, token TokenSource, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		token:      token,
		logger:     logger,
		sleepFunc:  timeSleep,
	}
}

// Do executes an HTTP request against the API. The path is appended to the
// client's base URL. body may be nil; when set it is replayed on every retry.
// Network errors and retryable responses, rate-limit reasons included, are
// retried with backoff up to maxRetries times. The caller is responsible
// for closing the response body on success.
func (c *Client) Do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	url := c.baseURL + path

	for attempt := 0; ; attempt++ {
		resp, err := c.doOnce(ctx, method, url, body)
		if err != nil {
			// Context cancellation is not retryable.
			if ctx.Err() != nil {
				return nil, fmt.Errorf("remote: request canceled: %w", ctx.Err())
			}

			if attempt == maxRetries {
				return nil, fmt.Errorf("remote: %s %s failed after %d retries: %w", method, path, maxRetries, err)
			}

			backoff := c.calcBackoff(attempt)
			c.logger.Warn("retrying after network error",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
				slog.String("error", err.Error()),
			)

			if err := c.sleepFunc(ctx, backoff); err != nil {
				return nil, fmt.Errorf("remote: request canceled: %w", err)
			}

			continue
		}

		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			c.logger.Debug("request succeeded",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
			)

			return resp, nil
		}

		remoteErr := readError(resp)

		if !isRetryable(remoteErr.StatusCode, remoteErr.Reason) || attempt == maxRetries {
			if attempt > 0 {
				c.logger.Error("request failed after retries",
					slog.String("method", method),
					slog.String("path", path),
					slog.Int("status", remoteErr.StatusCode),
					slog.String("reason", remoteErr.Reason),
					slog.Int("attempts", attempt+1),
				)
			}

			return nil, remoteErr
		}

		backoff := c.retryBackoff(resp, remoteErr, attempt)
		c.logger.Warn("retrying after HTTP error",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", remoteErr.StatusCode),
			slog.String("reason", remoteErr.Reason),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", backoff),
		)

		if err := c.sleepFunc(ctx, backoff); err != nil {
			return nil, fmt.Errorf("remote: request canceled: %w", err)
		}
	}
}

// readError drains and closes a failed response and decodes its error
// envelope.
func readError(resp *http.Response) *Error {
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()

	if err != nil {
		body = []byte("(failed to read response body)")
	}

	reason, message := parseErrorBody(body)

	return &Error{
		StatusCode: resp.StatusCode,
		Reason:     reason,
		RequestID:  resp.Header.Get("X-Request-Id"),
		Message:    message,
		Err:        classify(resp.StatusCode, reason),
	}
}

// doOnce executes a single HTTP request (no retry).
func (c *Client) doOnce(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	tok, err := c.token.Token()
	if err != nil {
		return nil, fmt.Errorf("obtaining token: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("User-Agent", userAgent)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

// retryBackoff returns how long to wait before retrying a failed response.
// A throttled response that carries Retry-After, in seconds or as an HTTP
// date, is honored; everything else uses exponential backoff.
func (c *Client) retryBackoff(resp *http.Response, remoteErr *Error, attempt int) time.Duration {
	if errors.Is(remoteErr, ErrThrottled) {
		if d, ok := parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()); ok {
			return min(d, maxBackoff)
		}
	}

	return c.calcBackoff(attempt)
}

func parseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	if value == "" {
		return 0, false
	}

	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second, seconds > 0
	}

	if at, err := http.ParseTime(value); err == nil && at.After(now) {
		return at.Sub(now), true
	}

	return 0, false
}

// calcBackoff computes exponential backoff with ±25% jitter.
func (c *Client) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

// timeSleep waits for the given duration or until the context is canceled.
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
