package httpapi

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/homelab-tools/beszel-proxy/internal/domain/systems"
)

// User-facing failure messages.
const (
	msgAuthFailed  = "Falha ao obter token de autenticação"
	msgFetchFailed = "Falha ao obter dados dos sistemas"
)

func registerSystemsRoutes(mux *http.ServeMux, logger *slog.Logger, service systems.Service) {
	mux.HandleFunc("/api/systems", func(w http.ResponseWriter, r *http.Request) {
		if !requireGet(w, r) {
			return
		}

		snap, err := service.Snapshot(r.Context())
		if err != nil {
			logger.Error("systems request failed", "err", err)
			if errors.Is(err, systems.ErrAuth) {
				respondError(w, http.StatusInternalServerError, msgAuthFailed)
				return
			}
			respondError(w, http.StatusInternalServerError, msgFetchFailed)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(snap.Raw); err != nil {
			logger.Error("failed to write systems response", "err", err)
		}
	})
}
