// Package transport is the HTTP client for replica and master endpoints.
// Requests that fail at the network level or with a 5xx are retried after a
// fixed delay, without limit, until they succeed or the context is cancelled.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/serroba/online-pad/internal/commit"
	"github.com/serroba/online-pad/internal/protocol"
)

// DefaultRetryDelay is the pause between attempts.
const DefaultRetryDelay = time.Second

// ErrUnexpectedStatus is returned for a non-retryable, non-200 response.
var ErrUnexpectedStatus = errors.New("unexpected response status")

// zapLeveledLogger adapts zap to retryablehttp.LeveledLogger.
type zapLeveledLogger struct {
	inner *zap.SugaredLogger
}

func (l zapLeveledLogger) Error(msg string, kv ...any) { l.inner.Errorw(msg, kv...) }
func (l zapLeveledLogger) Info(msg string, kv ...any)  { l.inner.Infow(msg, kv...) }
func (l zapLeveledLogger) Debug(msg string, kv ...any) { l.inner.Debugw(msg, kv...) }
func (l zapLeveledLogger) Warn(msg string, kv ...any)  { l.inner.Warnw(msg, kv...) }

// Client talks to one server.
type Client struct {
	baseURL string
	http    *retryablehttp.Client
	logger  *zap.Logger
}

// Config holds configuration for creating a client.
type Config struct {
	BaseURL    string
	RetryDelay time.Duration
	Logger     *zap.Logger
	// HTTPClient overrides the underlying client. It must not set a timeout
	// shorter than the longest expected long-poll.
	HTTPClient *http.Client
}

// New creates a client for the server at cfg.BaseURL.
func New(cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = DefaultRetryDelay
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = math.MaxInt
	rc.RetryWaitMin = delay
	rc.RetryWaitMax = delay
	rc.Backoff = func(minWait, _ time.Duration, _ int, _ *http.Response) time.Duration {
		return minWait
	}
	rc.CheckRetry = retryablehttp.DefaultRetryPolicy
	rc.Logger = zapLeveledLogger{inner: logger.Sugar()}

	if cfg.HTTPClient != nil {
		rc.HTTPClient = cfg.HTTPClient
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    rc,
		logger:  logger,
	}
}

// Init returns a document's text and head revision.
func (c *Client) Init(ctx context.Context, docID string) (string, int, error) {
	resp, body, err := c.do(ctx, http.MethodPost, protocol.PathInit, nil, map[string]string{
		protocol.HeaderDocID: docID,
	})
	if err != nil {
		return "", 0, fmt.Errorf("init %s: %w", docID, err)
	}

	head, err := strconv.Atoi(resp.Header.Get(protocol.HeaderHead))
	if err != nil {
		return "", 0, fmt.Errorf("init %s: bad head header: %w", docID, err)
	}

	var text string
	if err := json.Unmarshal(body, &text); err != nil {
		return "", 0, fmt.Errorf("init %s: decode text: %w", docID, err)
	}

	return text, head, nil
}

// Get long-polls for revision rev of a document.
func (c *Client) Get(ctx context.Context, docID string, rev int) (commit.Commit, error) {
	_, body, err := c.do(ctx, http.MethodPost, protocol.PathGet, nil, map[string]string{
		protocol.HeaderDocID:      docID,
		protocol.HeaderNextCommit: strconv.Itoa(rev),
	})
	if err != nil {
		return commit.Commit{}, fmt.Errorf("get %s@%d: %w", docID, rev, err)
	}

	return commit.Decode(body)
}

// Put sends a commit to a replica. It returns an error wrapping
// commit.ErrMalformed if the master dropped the commit.
func (c *Client) Put(ctx context.Context, cm commit.Commit) error {
	raw, err := cm.Encode()
	if err != nil {
		return fmt.Errorf("encode commit: %w", err)
	}

	return c.put(ctx, protocol.PathPut, cm.DocID, raw)
}

// Fetch long-polls the master for the commit in a global slot.
func (c *Client) Fetch(ctx context.Context, slot int) (commit.Commit, error) {
	_, body, err := c.do(ctx, http.MethodGet, protocol.PathMasterGet, nil, map[string]string{
		protocol.HeaderSlot: strconv.Itoa(slot),
	})
	if err != nil {
		return commit.Commit{}, fmt.Errorf("fetch slot %d: %w", slot, err)
	}

	return commit.Decode(body)
}

// Submit forwards a raw commit to the master as is.
func (c *Client) Submit(ctx context.Context, raw []byte) error {
	return c.put(ctx, protocol.PathMasterPut, "", raw)
}

func (c *Client) put(ctx context.Context, path, docID string, raw []byte) error {
	headers := map[string]string{"Content-Type": "application/json"}
	if docID != "" {
		headers[protocol.HeaderDocID] = docID
	}

	resp, _, err := c.do(ctx, http.MethodPut, path, raw, headers)
	if err != nil {
		return fmt.Errorf("put: %w", err)
	}

	if resp.Header.Get(protocol.HeaderCommitStatus) == protocol.StatusDropped {
		return fmt.Errorf("put: %w", commit.ErrMalformed)
	}

	return nil
}

// do sends one request, retrying as configured, and returns the response with
// its body already read.
func (c *Client) do(
	ctx context.Context, method, path string, body []byte, headers map[string]string,
) (*http.Response, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, nil, fmt.Errorf("create request: %w", err)
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, err
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("%w: %d %s", ErrUnexpectedStatus, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	return resp, data, nil
}
