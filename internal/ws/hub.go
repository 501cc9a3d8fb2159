// Package ws pushes scheduler events to WebSocket observers. Every new
// connection first receives a snapshot of all tasks, then the event stream.
// Clients drop events whose seq is not greater than the snapshot's seq.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/phrazzld/rhqueue/internal/events"
	"github.com/phrazzld/rhqueue/internal/task"
)

// Message types
const (
	TypeSnapshot = "snapshot"
	TypeEvent    = "event"
)

const (
	sendBuffer   = 64
	writeTimeout = 10 * time.Second
)

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type    string          `json:"type"`
	Seq     uint64          `json:"seq"`
	Payload json.RawMessage `json:"payload"`
}

// Snapshotter supplies the state sent to a client when it connects.
type Snapshotter interface {
	Snapshot() task.Snapshot
}

type conn struct {
	send   chan []byte
	cancel context.CancelFunc
}

// Hub manages all active WebSocket connections and broadcasts events.
type Hub struct {
	mu       sync.Mutex
	conns    map[*conn]struct{}
	source   Snapshotter
	patterns []string
	logger   *slog.Logger
}

// NewHub creates a new hub. originPatterns are passed to websocket.Accept;
// an empty list allows same-origin requests only.
func NewHub(source Snapshotter, originPatterns []string, logger *slog.Logger) *Hub {
	return &Hub{
		conns:    make(map[*conn]struct{}),
		source:   source,
		patterns: originPatterns,
		logger:   logger.With("component", "ws_hub"),
	}
}

// ServeHTTP upgrades the request and serves the connection until the client
// goes away or the request context ends.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.patterns,
	})
	if err != nil {
		h.logger.Warn("websocket accept failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &conn{send: make(chan []byte, sendBuffer), cancel: cancel}
	if err := h.register(c); err != nil {
		h.logger.Error("failed to build snapshot", "error", err)
		_ = wsConn.Close(websocket.StatusInternalError, "snapshot failed")
		return
	}
	defer h.remove(c)

	h.logger.Info("websocket connected", "remote_addr", r.RemoteAddr)

	// Reads only detect disconnects; clients never send anything useful.
	readCtx := wsConn.CloseRead(ctx)

	for {
		select {
		case <-readCtx.Done():
			h.logger.Info("websocket disconnected", "remote_addr", r.RemoteAddr)
			return
		case data := <-c.send:
			writeCtx, cancelWrite := context.WithTimeout(ctx, writeTimeout)
			err := wsConn.Write(writeCtx, websocket.MessageText, data)
			cancelWrite()
			if err != nil {
				h.logger.Debug("websocket write failed", "remote_addr", r.RemoteAddr, "error", err)
				return
			}
		}
	}
}

// register adds c and queues the snapshot as its first message. Holding the
// hub lock keeps broadcasts from overtaking the snapshot.
func (h *Hub) register(c *conn) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	snap := h.source.Snapshot()
	data, err := encode(TypeSnapshot, snap.Seq, snap)
	if err != nil {
		return err
	}
	c.send <- data
	h.conns[c] = struct{}{}
	return nil
}

// HandleEvent broadcasts the event to every connection. Connections whose
// buffer is full are dropped rather than stalling the scheduler.
func (h *Hub) HandleEvent(_ context.Context, event *events.TaskEvent) error {
	if event == nil {
		return errors.New("nil event")
	}
	data, err := encode(TypeEvent, event.Seq, event)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.conns {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("dropping slow websocket client", "seq", event.Seq)
			c.cancel()
			delete(h.conns, c)
		}
	}
	return nil
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.conns {
		c.cancel()
		delete(h.conns, c)
	}
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, c)
}

func encode(msgType string, seq uint64, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{Type: msgType, Seq: seq, Payload: raw})
}

var _ events.EventHandler = (*Hub)(nil)
