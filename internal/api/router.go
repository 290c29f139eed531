package api

import (
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"codecollab/internal/collab"
	"codecollab/internal/middleware"
)

// SetupRoutes builds the HTTP surface: the websocket entry point and the
// health/stats endpoints, with tracing, panic recovery and CORS applied
// globally.
func SetupRoutes(server *collab.Server, ws *collab.WSHandler, logger zerolog.Logger) *mux.Router {
	r := mux.NewRouter()

	r.Use(middleware.Tracing(logger))
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.CORS)

	h := &Handler{server: server}

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", h.Health).Methods("GET")
	api.HandleFunc("/stats", h.Stats).Methods("GET")

	r.HandleFunc("/ws", ws.HandleConnection)

	return r
}
