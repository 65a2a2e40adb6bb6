package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/homelab-tools/beszel-proxy/internal/domain"
	"github.com/homelab-tools/beszel-proxy/internal/widget"
)

// Deps are the collaborators shared by all handlers.
type Deps struct {
	Logger    *slog.Logger
	Domain    domain.Container
	Renderer  *widget.Renderer
	BeszelURL string
	// Streams, when set, is told about websocket subscribers coming and going.
	Streams StreamObserver
}

// Register attaches API routes to the provided mux and returns the stream hub
// so the caller can close live connections on shutdown.
func Register(mux *http.ServeMux, deps Deps) *StreamHub {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	registerSystemsRoutes(mux, deps.Logger, deps.Domain.Systems)
	registerWidgetRoutes(mux, deps.Logger, deps.Domain.Systems, deps.Renderer)
	registerHealthRoutes(mux, deps.BeszelURL, deps.Renderer.Options().ReloadInterval)

	hub := NewStreamHub(deps.Logger, deps.Domain.Systems, deps.Renderer, deps.Streams)
	mux.Handle("/ws", hub)
	return hub
}

func timestamp() string {
	return time.Now().Format(time.RFC3339)
}
