package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/homelab-tools/beszel-proxy/internal/domain/systems"
	"github.com/homelab-tools/beszel-proxy/internal/widget"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = streamPongWait * 9 / 10
)

// StreamObserver is told when websocket subscribers connect and leave.
type StreamObserver interface {
	StreamOpened()
	StreamClosed()
}

// StreamHub pushes a fresh widget frame to every websocket subscriber once
// per reload interval.
type StreamHub struct {
	logger   *slog.Logger
	service  systems.Service
	renderer *widget.Renderer
	observer StreamObserver
	interval time.Duration
	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  map[*websocket.Conn]struct{}
	closed bool
	done   chan struct{}
}

// NewStreamHub builds a hub whose push interval follows the renderer's reload interval.
func NewStreamHub(logger *slog.Logger, service systems.Service, renderer *widget.Renderer, observer StreamObserver) *StreamHub {
	return &StreamHub{
		logger:   logger.With("component", "stream"),
		service:  service,
		renderer: renderer,
		observer: observer,
		interval: time.Duration(renderer.Options().ReloadInterval) * time.Second,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The widget is embedded in third-party dashboards.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: make(map[*websocket.Conn]struct{}),
		done:  make(chan struct{}),
	}
}

func (h *StreamHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	if !h.track(conn) {
		_ = conn.Close()
		return
	}
	defer h.untrack(conn)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.readLoop(conn, cancel)
	h.writeLoop(ctx, conn)
}

// Close disconnects every subscriber and refuses new ones.
func (h *StreamHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	close(h.done)
	for conn := range h.conns {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}
}

// Len returns the number of connected subscribers.
func (h *StreamHub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func (h *StreamHub) track(conn *websocket.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns[conn] = struct{}{}
	if h.observer != nil {
		h.observer.StreamOpened()
	}
	h.logger.Debug("stream opened", "remote", conn.RemoteAddr().String())
	return true
}

func (h *StreamHub) untrack(conn *websocket.Conn) {
	h.mu.Lock()
	_, ok := h.conns[conn]
	delete(h.conns, conn)
	h.mu.Unlock()

	_ = conn.Close()
	if ok && h.observer != nil {
		h.observer.StreamClosed()
	}
	h.logger.Debug("stream closed", "remote", conn.RemoteAddr().String())
}

// readLoop drains client frames so pongs and close messages are processed.
func (h *StreamHub) readLoop(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *StreamHub) writeLoop(ctx context.Context, conn *websocket.Conn) {
	push := time.NewTicker(h.interval)
	defer push.Stop()
	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()

	if !h.pushFrame(ctx, conn) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-push.C:
			if !h.pushFrame(ctx, conn) {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		}
	}
}

func (h *StreamHub) pushFrame(ctx context.Context, conn *websocket.Conn) bool {
	payload, err := buildWidget(ctx, h.service, h.renderer)
	if err != nil {
		h.logger.Error("stream frame failed", "err", err)
	}

	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	if err := conn.WriteJSON(payload); err != nil {
		h.logger.Debug("stream write failed", "err", err)
		return false
	}
	return true
}
