package httpapi

import "net/http"

func registerHealthRoutes(mux *http.ServeMux, beszelURL string, reloadInterval int) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if !requireGet(w, r) {
			return
		}

		respondJSON(w, http.StatusOK, map[string]any{
			"status":          "healthy",
			"timestamp":       timestamp(),
			"beszel_url":      beszelURL,
			"reload_interval": reloadInterval,
		})
	})
}
