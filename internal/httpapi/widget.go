package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/homelab-tools/beszel-proxy/internal/domain/systems"
	"github.com/homelab-tools/beszel-proxy/internal/widget"
)

// widgetPayload is the JSON shape of /widget and of every stream frame.
type widgetPayload struct {
	HTML         string `json:"html"`
	Timestamp    string `json:"timestamp,omitempty"`
	SystemsCount *int   `json:"systems_count,omitempty"`
}

// buildWidget fetches a snapshot and renders it. On failure it returns the
// error fragment to show instead.
func buildWidget(ctx context.Context, service systems.Service, renderer *widget.Renderer) (widgetPayload, error) {
	snap, err := service.Snapshot(ctx)
	if err != nil {
		if errors.Is(err, systems.ErrAuth) {
			return widgetPayload{HTML: widget.AuthErrorHTML}, err
		}
		return widgetPayload{HTML: widget.FetchErrorHTML}, err
	}

	html, err := renderer.Render(snap)
	if err != nil {
		return widgetPayload{HTML: widget.FetchErrorHTML}, err
	}

	count := snap.Count()
	return widgetPayload{
		HTML:         html,
		Timestamp:    timestamp(),
		SystemsCount: &count,
	}, nil
}

func registerWidgetRoutes(mux *http.ServeMux, logger *slog.Logger, service systems.Service, renderer *widget.Renderer) {
	mux.HandleFunc("/widget", func(w http.ResponseWriter, r *http.Request) {
		if !requireGet(w, r) {
			return
		}

		payload, err := buildWidget(r.Context(), service, renderer)
		if err != nil {
			logger.Error("widget request failed", "err", err)
			respondJSON(w, http.StatusInternalServerError, payload)
			return
		}
		respondJSON(w, http.StatusOK, payload)
	})

	html := func(w http.ResponseWriter, r *http.Request) {
		if !requireGet(w, r) {
			return
		}

		payload, err := buildWidget(r.Context(), service, renderer)
		if err != nil {
			logger.Error("widget html request failed", "err", err)
			respondHTML(w, http.StatusInternalServerError, payload.HTML)
			return
		}
		respondHTML(w, http.StatusOK, payload.HTML)
	}

	mux.HandleFunc("/widget-html", html)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		html(w, r)
	})
}
