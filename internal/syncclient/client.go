package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/OasisMate/cartpos-sub000/internal/domain"
)

const (
	defaultAttempts = 3
	defaultBackoff  = 500 * time.Millisecond
)

// StatusError is a non-retryable HTTP answer, such as an expired token or a
// shop the principal may not write to.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server answered %d: %s", e.Status, e.Message)
}

type Client struct {
	baseURL  string
	token    string
	http     *http.Client
	attempts int
	backoff  time.Duration
	log      *logrus.Entry
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithRetry(attempts int, backoff time.Duration) Option {
	return func(c *Client) {
		if attempts > 0 {
			c.attempts = attempts
		}
		if backoff > 0 {
			c.backoff = backoff
		}
	}
}

func New(baseURL string, token string, timeout time.Duration, logger *logrus.Logger, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    token,
		http:     &http.Client{Timeout: timeout},
		attempts: defaultAttempts,
		backoff:  defaultBackoff,
		log:      logger.WithField("component", "syncclient"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PushBatch posts one batch of a single kind and returns the server's
// per-item report.
func (c *Client) PushBatch(ctx context.Context, shopID string, kind domain.SyncKind, items []json.RawMessage) (domain.SyncBatchResponse, error) {
	if kind.Path() == "" {
		return domain.SyncBatchResponse{}, fmt.Errorf("unsupported sync kind %q", kind)
	}
	body, err := json.Marshal(domain.SyncBatchRequest{Items: items})
	if err != nil {
		return domain.SyncBatchResponse{}, err
	}

	var resp domain.SyncBatchResponse
	path := fmt.Sprintf("/api/v1/shops/%s/sync/%s", url.PathEscape(shopID), kind.Path())
	if err := c.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return domain.SyncBatchResponse{}, err
	}
	return resp, nil
}

// FetchStock reads the shop's stock projection for the local snapshot cache.
func (c *Client) FetchStock(ctx context.Context, shopID string) ([]domain.StockLevel, error) {
	var resp struct {
		Levels []domain.StockLevel `json:"levels"`
	}
	path := fmt.Sprintf("/api/v1/shops/%s/stock", url.PathEscape(shopID))
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Levels, nil
}

func (c *Client) do(ctx context.Context, method string, path string, body []byte, dest any) error {
	var lastErr error
	for attempt := 0; attempt < c.attempts; attempt++ {
		if attempt > 0 {
			wait := c.backoff << (attempt - 1)
			c.log.WithFields(logrus.Fields{"path": path, "attempt": attempt + 1, "wait": wait}).WithError(lastErr).Warn("retrying request")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}

		retry, err := c.once(ctx, method, path, body, dest)
		if err == nil {
			return nil
		}
		if !retry {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("%s %s failed after %d attempts: %w", method, path, c.attempts, lastErr)
}

func (c *Client) once(ctx context.Context, method string, path string, body []byte, dest any) (bool, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	res, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return true, err
	}
	defer res.Body.Close()

	if res.StatusCode >= 500 {
		_, _ = io.Copy(io.Discard, res.Body)
		return true, &StatusError{Status: res.StatusCode, Message: http.StatusText(res.StatusCode)}
	}
	if res.StatusCode >= 400 {
		return false, &StatusError{Status: res.StatusCode, Message: errorMessage(res.Body)}
	}
	if err := json.NewDecoder(res.Body).Decode(dest); err != nil {
		return false, fmt.Errorf("decode response: %w", err)
	}
	return false, nil
}

func errorMessage(body io.Reader) string {
	var payload struct {
		Error string `json:"error"`
	}
	raw, err := io.ReadAll(io.LimitReader(body, 64<<10))
	if err != nil {
		return "unreadable error body"
	}
	if err := json.Unmarshal(raw, &payload); err != nil || payload.Error == "" {
		return strings.TrimSpace(string(raw))
	}
	return payload.Error
}

// IsAuthError reports whether err means the terminal's token is no longer accepted.
func IsAuthError(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && (statusErr.Status == http.StatusUnauthorized || statusErr.Status == http.StatusForbidden)
}
