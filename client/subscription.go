package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/xraph/outbox/stream"
)

// Subscription is a live event stream. Events arrive on C until Close is
// called, ctx ends or the connection drops for good.
type Subscription struct {
	ch     chan *stream.Event
	cancel context.CancelFunc
	done   chan struct{}

	mu   sync.Mutex
	conn net.Conn
}

// C returns the event channel. It is closed when the subscription ends.
func (s *Subscription) C() <-chan *stream.Event { return s.ch }

// Close ends the subscription and waits for its reader to exit.
func (s *Subscription) Close() error {
	s.cancel()
	<-s.done
	return nil
}

func (s *Subscription) setConn(conn net.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
}

func (s *Subscription) closeConn() {
	s.mu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.mu.Unlock()
}

// Subscribe opens a WebSocket to the event stream. Topics follow the
// stream package convention:
//   - "job:<jobID>"          events for one job
//   - "correlation:<id>"     events for jobs sharing a correlation id
//   - "type:<jobType>"       events for one job type
//   - "jobs"                 all job lifecycle events
//   - "firehose"             everything, including purges (the default)
func (c *Client) Subscribe(ctx context.Context, topics ...string) (*Subscription, error) {
	for _, t := range topics {
		if err := stream.ValidateTopic(t); err != nil {
			return nil, err
		}
	}
	target, err := c.eventsURL(topics)
	if err != nil {
		return nil, err
	}

	conn, _, _, err := ws.Dial(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("outbox/client: websocket dial: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		ch:     make(chan *stream.Event, 64),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	sub.setConn(conn)

	go func() {
		<-ctx.Done()
		sub.closeConn()
	}()
	go c.readLoop(ctx, sub, target, conn)

	return sub, nil
}

// readLoop forwards events until ctx ends or the connection is lost and
// cannot be re-established.
func (c *Client) readLoop(ctx context.Context, sub *Subscription, target string, conn net.Conn) {
	defer close(sub.done)
	defer close(sub.ch)

	for {
		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("event stream read error", slog.String("error", err.Error()))
			if !c.reconnect {
				return
			}
			if conn = c.redial(ctx, target); conn == nil {
				return
			}
			sub.setConn(conn)
			if ctx.Err() != nil {
				_ = conn.Close()
				return
			}
			continue
		}

		var evt stream.Event
		if err := json.Unmarshal(data, &evt); err != nil {
			c.logger.Warn("event stream: invalid event", slog.String("error", err.Error()))
			continue
		}
		select {
		case sub.ch <- &evt:
		case <-ctx.Done():
			return
		}
	}
}

// redial reconnects with exponential backoff. It returns nil once the
// retries are used up or ctx ends.
func (c *Client) redial(ctx context.Context, target string) net.Conn {
	delay := c.baseDelay
	for i := range c.maxRetries {
		c.logger.Info("event stream reconnecting",
			slog.Int("attempt", i+1),
			slog.Duration("delay", delay),
		)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil
		}

		conn, _, _, err := ws.Dial(ctx, target)
		if err != nil {
			c.logger.Warn("event stream reconnect failed", slog.String("error", err.Error()))
			delay = min(delay*2, 30*time.Second)
			continue
		}
		c.logger.Info("event stream reconnected")
		return conn
	}
	c.logger.Error("event stream: max reconnection attempts reached")
	return nil
}

func (c *Client) eventsURL(topics []string) (string, error) {
	u, err := url.Parse(c.baseURL + "/v1/events")
	if err != nil {
		return "", fmt.Errorf("outbox/client: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	if len(topics) > 0 {
		u.RawQuery = url.Values{"topic": topics}.Encode()
	}
	return u.String(), nil
}
