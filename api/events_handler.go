package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/xraph/outbox/id"
	"github.com/xraph/outbox/stream"
)

// sseKeepAlive is how often an idle SSE stream gets a comment line so
// proxies do not time it out.
const sseKeepAlive = 15 * time.Second

// events streams lifecycle events to the client. A WebSocket upgrade
// request gets one text frame per event; anything else gets Server-Sent
// Events. Topics are chosen with repeated ?topic= parameters and default
// to the firehose.
func (a *API) events(w http.ResponseWriter, r *http.Request) {
	topics, err := topicsParam(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	if isWebSocketUpgrade(r) {
		a.serveWebSocket(w, r, topics)
		return
	}
	a.serveSSE(w, r, topics)
}

func (a *API) serveWebSocket(w http.ResponseWriter, r *http.Request, topics []string) {
	subID := id.NewSubscriberID().String()
	// Subscribe before the handshake completes so the client sees every
	// event published after the upgrade.
	sub := a.broker.Subscribe(subID, topics...)
	defer a.broker.RemoveSubscriber(subID)

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		a.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	a.logger.Debug("event stream connected",
		slog.String("subscriber_id", subID),
		slog.String("transport", "websocket"),
	)

	// The stream is one-way; reading only drains control frames and
	// notices when the client goes away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := wsutil.ReadClientData(conn); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case evt, ok := <-sub.C():
			if !ok {
				return
			}
			data, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			if err := wsutil.WriteServerText(conn, data); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}

func (a *API) serveSSE(w http.ResponseWriter, r *http.Request, topics []string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		a.writeError(w, r, fmt.Errorf("streaming not supported"))
		return
	}

	subID := id.NewSubscriberID().String()
	sub := a.broker.Subscribe(subID, topics...)
	defer a.broker.RemoveSubscriber(subID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	a.logger.Debug("event stream connected",
		slog.String("subscriber_id", subID),
		slog.String("transport", "sse"),
	)

	ticker := time.NewTicker(sseKeepAlive)
	defer ticker.Stop()

	for {
		select {
		case evt, ok := <-sub.C():
			if !ok {
				return
			}
			data, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", evt.ID, evt.Type, data); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func topicsParam(r *http.Request) ([]string, error) {
	topics := r.URL.Query()["topic"]
	if len(topics) == 0 {
		return []string{stream.TopicFirehose}, nil
	}
	for _, t := range topics {
		if err := stream.ValidateTopic(t); err != nil {
			return nil, fmt.Errorf("%w: %v", errBadRequest, err)
		}
	}
	return topics, nil
}

func isWebSocketUpgrade(r *http.Request) bool {
	if r.Header.Get("Accept") == "text/event-stream" {
		return false
	}
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}
