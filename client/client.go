// Package client is a Go client for a remote outbox operator API.
//
// Usage:
//
//	c, err := client.New("http://127.0.0.1:7420")
//
//	// Enqueue a job.
//	res, err := c.Enqueue(ctx, job.CreateLabel{OrderID: "1001"}, "label:1001",
//	    client.WithCorrelationID("order:1001"),
//	)
//
//	// Follow everything that happens to the order.
//	sub, err := c.Subscribe(ctx, stream.CorrelationTopic("order:1001"))
//	defer sub.Close()
//	for evt := range sub.C() {
//	    fmt.Println(evt.Type)
//	}
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/xraph/outbox"
	"github.com/xraph/outbox/api"
	"github.com/xraph/outbox/classify"
	"github.com/xraph/outbox/upstream"
)

// Client talks to the operator API over HTTP and to the event stream over
// WebSocket.
type Client struct {
	baseURL string
	hc      *http.Client
	http    *upstream.Client
	logger  *slog.Logger

	// Reconnection of event subscriptions.
	reconnect  bool
	maxRetries int
	baseDelay  time.Duration
}

// New returns a client for the API served at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		logger:     slog.Default(),
		maxRetries: 5,
		baseDelay:  time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}

	uopts := []upstream.Option{upstream.WithLogger(c.logger), upstream.WithUserAgent("outbox-client/1")}
	if c.hc != nil {
		uopts = append(uopts, upstream.WithHTTPClient(c.hc))
	}
	hc, err := upstream.New(c.baseURL, uopts...)
	if err != nil {
		return nil, fmt.Errorf("outbox/client: %w", err)
	}
	c.http = hc
	return c, nil
}

// APIError is a non-2xx response from the operator API. It matches the
// outbox sentinel errors with errors.Is.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("outbox/client: %d: %s", e.StatusCode, e.Message)
}

// Is maps status codes back to the sentinels the server translated.
func (e *APIError) Is(target error) bool {
	switch e.StatusCode {
	case http.StatusNotFound:
		return target == outbox.ErrJobNotFound
	case http.StatusConflict:
		return target == outbox.ErrNotRetryable
	}
	return false
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	err := c.http.Do(ctx, method, path, in, out)
	if err == nil {
		return nil
	}

	var se *classify.StatusError
	if !errors.As(err, &se) {
		return fmt.Errorf("outbox/client: %s %s: %w", method, path, err)
	}
	msg := se.Body
	var body api.ErrorResponse
	if json.Unmarshal([]byte(se.Body), &body) == nil && body.Error != "" {
		msg = body.Error
	}
	return &APIError{StatusCode: se.Code, Message: msg}
}
