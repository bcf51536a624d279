// Package api implements the daemon's unprivileged HTTP control surface
// (spec §4.5): GET/POST /config, GET /status, GET /traffic, guarded by
// a single shared token.
package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/overlaygate/gatewayd/internal/logging"
	"github.com/overlaygate/gatewayd/internal/reconciler"
	"github.com/overlaygate/gatewayd/internal/sni"
	"github.com/overlaygate/gatewayd/internal/traffic"
)

// DispatcherStats reports the SNI dispatcher's live counters.
type DispatcherStats interface {
	Stats() sni.Stats
}

// Server wires the config/status/traffic handlers to a mux.Router and
// enforces the shared-token auth boundary in front of all of them.
type Server struct {
	reconciler *reconciler.Reconciler
	store      *traffic.Store
	dispatcher DispatcherStats
	token      string
	log        *logging.Logger

	router *mux.Router
}

// New builds a Server. dispatcher may be nil (e.g. before the SNI
// listener has started); dispatcher stats are reported as zero then.
func New(rec *reconciler.Reconciler, store *traffic.Store, dispatcher DispatcherStats, token string, log *logging.Logger) *Server {
	s := &Server{
		reconciler: rec,
		store:      store,
		dispatcher: dispatcher,
		token:      token,
		log:        log.WithComponent("api"),
	}
	s.router = mux.NewRouter()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/config", s.handleGetConfig).Methods(http.MethodGet)
	s.router.HandleFunc("/config", s.handlePostConfig).Methods(http.MethodPost)
	s.router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/traffic", s.handleTraffic).Methods(http.MethodGet)
	s.router.HandleFunc("/openapi.yaml", s.handleOpenAPI).Methods(http.MethodGet)
}

// Handler returns the HTTP handler, request logging and auth applied.
func (s *Server) Handler() http.Handler {
	return s.loggingMiddleware(s.authMiddleware(s.router))
}
