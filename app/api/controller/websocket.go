package controller

import (
	"context"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	auditdb "github.com/trustpoll/trustpoll/pkg/db/audit"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: In production, restrict to specific origins
		return true
	},
}

// ServerMessage represents messages sent to WebSocket clients.
type ServerMessage struct {
	Type    string      `json:"type"`    // "audit.event", "replay", "ping", "error"
	Payload interface{} `json:"payload"` // Event-specific data
}

const (
	wsWriteTimeout   = 10 * time.Second
	wsPingInterval   = 30 * time.Second
	wsReplayDepth    = 25
	wsSendBufferSize = 256
)

// HandleAuditFeed upgrades the connection to a WebSocket and streams audit
// events in real time: a short replay of recent events first, then every
// event as it is appended.
//
// Server sends:
// - {"type": "replay", "payload": [ ...recent events, oldest first... ]}
// - {"type": "audit.event", "payload": {...}}
// - {"type": "ping", "payload": {"timestamp": 1234567890}}
//
// IMPORTANT: All goroutines have panic recovery to prevent crashes.
func (c *Controller) HandleAuditFeed(w http.ResponseWriter, r *http.Request) {
	if c.App.Feed == nil {
		http.Error(w, "Real-time events not available (Redis disabled)", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.App.Logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}
	defer func(conn *websocket.Conn) {
		if err := conn.Close(); err != nil {
			c.App.Logger.Debug("Failed to close WebSocket connection", zap.Error(err))
		}
	}(conn)

	c.App.Logger.Info("WebSocket client connected", zap.String("remote_addr", r.RemoteAddr))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	send := make(chan ServerMessage, wsSendBufferSize)
	var wg sync.WaitGroup

	// Replay recent history so a late subscriber sees context, then stream.
	if recent, err := c.App.Feed.Recent(ctx, wsReplayDepth); err == nil && len(recent) > 0 {
		// Recent returns newest first; replay oldest first.
		for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
			recent[i], recent[j] = recent[j], recent[i]
		}
		send <- ServerMessage{Type: "replay", Payload: recent}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer c.recoverFeedPanic(cancel, r.RemoteAddr, "feed listener")
		_ = c.App.Feed.Listen(ctx, func(_ context.Context, e auditdb.Event) error {
			select {
			case send <- ServerMessage{Type: "audit.event", Payload: e}:
			default:
				// Slow client: drop rather than block the feed.
			}
			return nil
		})
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer c.recoverFeedPanic(cancel, r.RemoteAddr, "ping ticker")
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				select {
				case send <- ServerMessage{Type: "ping", Payload: map[string]int64{"timestamp": time.Now().Unix()}}:
				default:
				}
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer c.recoverFeedPanic(cancel, r.RemoteAddr, "message writer")
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-send:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	// Read loop detects client disconnects; inbound payloads are ignored.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	cancel()
	wg.Wait()

	c.App.Logger.Info("WebSocket client disconnected", zap.String("remote_addr", r.RemoteAddr))
}

func (c *Controller) recoverFeedPanic(cancel context.CancelFunc, remoteAddr, where string) {
	if rec := recover(); rec != nil {
		c.App.Logger.Error("Panic in WebSocket goroutine",
			zap.String("goroutine", where),
			zap.Any("panic", rec),
			zap.String("stack", string(debug.Stack())),
			zap.String("remote_addr", remoteAddr))
		cancel()
	}
}
