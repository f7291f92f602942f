package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/park285/cheese-rooms/internal/kv"
	"github.com/park285/cheese-rooms/internal/obslog"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

const OutboxKey = "cm.cloud.outbox"

// Cloud queues archived records in the KV store and uploads them on Flush.
type Cloud struct {
	baseURL string
	token   string
	http    *fasthttp.Client
	store   kv.Store
	logger  *zap.Logger

	defaultTimeout time.Duration
	retryMax       int

	mu sync.Mutex
}

type CloudOption func(*Cloud)

func WithCloudTimeout(d time.Duration) CloudOption {
	return func(c *Cloud) { c.defaultTimeout = d }
}

func WithCloudRetry(max int) CloudOption {
	return func(c *Cloud) { c.retryMax = max }
}

// WithCloudHTTPClient replaces the fasthttp client, e.g. to dial an in-memory listener.
func WithCloudHTTPClient(hc *fasthttp.Client) CloudOption {
	return func(c *Cloud) { c.http = hc }
}

func NewCloud(baseURL, token string, store kv.Store, logger *zap.Logger, opts ...CloudOption) *Cloud {
	c := &Cloud{
		baseURL:        strings.TrimRight(baseURL, "/"),
		token:          strings.TrimSpace(token),
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 8},
		store:          store,
		logger:         obslog.Or(logger),
		defaultTimeout: 10 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enqueue adds rec to the outbox unless a record with the same id is queued.
func (c *Cloud) Enqueue(ctx context.Context, rec Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	queue, err := c.load(ctx)
	if err != nil {
		return err
	}
	for _, r := range queue {
		if r.ID == rec.ID {
			return nil
		}
	}
	return kv.SetJSON(ctx, c.store, OutboxKey, append(queue, rec), 0)
}

// Pending returns the queued records.
func (c *Cloud) Pending(ctx context.Context) ([]Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.load(ctx)
}

func (c *Cloud) load(ctx context.Context) ([]Record, error) {
	var queue []Record
	if _, err := kv.GetJSON(ctx, c.store, OutboxKey, &queue); err != nil {
		return nil, fmt.Errorf("outbox load: %w", err)
	}
	return queue, nil
}

// Flush uploads queued records in order and drops the ones the server
// accepted. It stops at the first failure and keeps the rest queued.
func (c *Cloud) Flush(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	queue, err := c.load(ctx)
	if err != nil {
		return 0, err
	}
	sent := 0
	var flushErr error
	for _, rec := range queue {
		if err := c.doJSON(ctx, fasthttp.MethodPost, "/games", rec, nil); err != nil {
			flushErr = fmt.Errorf("upload %s: %w", rec.ID, err)
			break
		}
		sent++
	}
	if sent > 0 {
		rest := append([]Record(nil), queue[sent:]...)
		if err := kv.SetJSON(ctx, c.store, OutboxKey, rest, 0); err != nil {
			return sent, fmt.Errorf("outbox save: %w", err)
		}
		c.logger.Info("archive_cloud_flushed", zap.Int("sent", sent), zap.Int("remaining", len(rest)))
	}
	return sent, flushErr
}

func (c *Cloud) doJSON(ctx context.Context, method, path string, in any, out any) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	req.Header.SetContentType("application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		req.SetBody(payload)
	}

	attempts := c.retryMax
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx))
		if err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			if attempt == attempts {
				return lastErr
			}
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}

		status := resp.StatusCode()
		if status < 200 || status >= 300 {
			err := fmt.Errorf("archive api error: status=%d body=%s", status, truncate(string(resp.Body()), 512))
			if attempt == attempts || !shouldRetryStatus(status) {
				return err
			}
			lastErr = err
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}

		if out != nil {
			if err := json.Unmarshal(resp.Body(), out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
		}
		return nil
	}
	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return lastErr
}

func (c *Cloud) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
