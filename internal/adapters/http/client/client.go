// Package client delivers accepted detections to the remote detection service.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/okian/posebridge/internal/domain/model"
	"github.com/okian/posebridge/pkg/logger"
	"github.com/okian/posebridge/pkg/metrics"
)

// Version is reported in the User-Agent header.
var Version = "dev" //nolint:gochecknoglobals // overridden at link time

const (
	defaultTimeout  = 5 * time.Second
	maxResponseBody = 64 << 10
	maxErrorBody    = 256
)

// Client POSTs one detection per request. It holds no global state; the
// delivery worker owns its instance.
type Client struct {
	url        string
	httpClient *http.Client
	timeout    time.Duration
	userAgent  string
	logger     logger.Logger
	now        func() time.Time
}

// Option applies a configuration option to the Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger sets the client's logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock sets the source of the payload send timestamp.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates a client for the detection endpoint at url.
func New(url string, opts ...Option) *Client {
	c := &Client{
		url:     url,
		timeout: defaultTimeout,
		now:     time.Now,
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:           http.ProxyFromEnvironment,
				MaxIdleConns:    4,
				IdleConnTimeout: 90 * time.Second,
			},
		},
	}
	c.userAgent = "posebridge/" + Version

	for _, opt := range opts {
		opt(c)
	}

	if c.logger == nil {
		c.logger = logger.Get().Named("client")
	}

	return c
}

// URL returns the endpoint the client posts to.
func (c *Client) URL() string { return c.url }

// Send performs one delivery attempt. The request runs under its own timeout
// and is not canceled by ctx, so shutdown lets an in-flight request finish.
// Any 2xx status is success.
func (c *Client) Send(ctx context.Context, item *model.QueuedDetection) error {
	body, err := json.Marshal(NewPayload(item, c.now()))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEncode, err)
	}

	reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if item.ID != "" {
		req.Header.Set("X-Request-ID", item.ID)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		err = classify(err)
		metrics.RecordDeliveryAttempt(Kind(err), since(start))
		return err
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug(ctx, "failed to close response body", logger.Error(cerr))
		}
	}()

	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := &StatusError{Code: resp.StatusCode, Body: truncate(string(respBody), maxErrorBody)}
		metrics.RecordDeliveryAttempt(metrics.OutcomeStatus, since(start))
		return err
	}

	outcome := metrics.OutcomeSuccess
	if readErr != nil {
		c.logger.Warn(ctx, "failed to read response body", logger.Error(readErr))
	} else if ack, ok := parseAck(respBody); !ok {
		outcome = metrics.OutcomeMalformedResponse
		c.logger.Warn(ctx, "unexpected response body from detection service",
			logger.Int("status", resp.StatusCode),
			logger.String("body", truncate(string(respBody), maxErrorBody)))
	} else if ack != nil && !ack.Success {
		c.logger.Warn(ctx, "detection service accepted the request but reported failure",
			logger.String("message", ack.Message))
	}
	metrics.RecordDeliveryAttempt(outcome, since(start))
	return nil
}

// parseAck decodes a 2xx body. An empty body is acceptable; a body that is
// not the ack envelope is not.
// The status is authoritative: a malformed 2xx body is counted as
// malformed_response in metrics and the send still succeeds without a retry.
func parseAck(body []byte) (*Ack, bool) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, true
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, false
	}
	if _, ok := fields["success"]; !ok {
		return nil, false
	}
	var ack Ack
	if err := json.Unmarshal(body, &ack); err != nil {
		return nil, false
	}
	return &ack, true
}

func classify(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrConnection, err)
}

func since(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
