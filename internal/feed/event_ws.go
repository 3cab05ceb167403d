// Package feed streams real-world event settlement notices from the event
// data provider over WebSocket. The oracle mode uses it to trigger
// adjudication the moment an event settles instead of polling.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than
	// pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// SettlementNotice is one event-settled message from the provider stream.
type SettlementNotice struct {
	Event     string `json:"event"`
	Settled   bool   `json:"settled"`
	Outcome   bool   `json:"outcome"`
	Timestamp int64  `json:"timestamp"`
}

// SettlementHandler is invoked for each settled event.
type SettlementHandler func(ctx context.Context, notice SettlementNotice)

// subscribeCmd is the wire command used to (re)subscribe to event topics.
type subscribeCmd struct {
	Type   string   `json:"type"`
	Events []string `json:"events"`
}

// EventWSFeed maintains a WebSocket subscription to the provider's settlement
// stream, invoking the handler for each settled event. It reconnects with
// exponential backoff and restores its subscription after each reconnect.
type EventWSFeed struct {
	wsURL   string
	events  []string
	handler SettlementHandler
	logger  *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn

	closeOnce sync.Once
	done      chan struct{}
}

// NewEventWSFeed creates a feed subscribed to the given event descriptors.
func NewEventWSFeed(wsURL string, events []string, handler SettlementHandler, logger *slog.Logger) *EventWSFeed {
	return &EventWSFeed{
		wsURL:   wsURL,
		events:  events,
		handler: handler,
		logger:  logger.With(slog.String("component", "event_ws_feed")),
		done:    make(chan struct{}),
	}
}

// Run connects and processes settlement notices until ctx is cancelled or
// Close is called. Each disconnect triggers a reconnect with backoff.
func (f *EventWSFeed) Run(ctx context.Context) error {
	if len(f.events) == 0 {
		f.logger.Info("no events to watch, exiting")
		return nil
	}

	delay := reconnectDelay
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		err := f.runConnection(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("event feed disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// Close stops the feed and tears down any open connection.
func (f *EventWSFeed) Close() {
	f.closeOnce.Do(func() {
		close(f.done)
		f.mu.Lock()
		if f.conn != nil {
			_ = f.conn.Close()
		}
		f.mu.Unlock()
	})
}

func (f *EventWSFeed) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("feed: connect %s: %w", f.wsURL, err)
	}

	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		_ = conn.Close()
		f.conn = nil
		f.mu.Unlock()
	}()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	if err := f.subscribe(conn); err != nil {
		return err
	}
	f.logger.Info("event feed subscribed", slog.Int("events", len(f.events)))

	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go f.pingLoop(pingCtx, conn)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed: read: %w", err)
		}

		var notice SettlementNotice
		if err := json.Unmarshal(data, &notice); err != nil {
			f.logger.Debug("skipping undecodable frame", slog.String("error", err.Error()))
			continue
		}
		if !notice.Settled || notice.Event == "" {
			continue
		}
		f.handler(ctx, notice)
	}
}

func (f *EventWSFeed) subscribe(conn *websocket.Conn) error {
	cmd := subscribeCmd{Type: "subscribe", Events: f.events}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(cmd); err != nil {
		return fmt.Errorf("feed: subscribe: %w", err)
	}
	return nil
}

func (f *EventWSFeed) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-f.done:
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
