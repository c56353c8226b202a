// Package api serves the dashboard state over HTTP and pushes status updates
// to websocket clients.
package api

import (
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ponytojas/go-plant-monitor/internal/dashboard"
	"github.com/ponytojas/go-plant-monitor/internal/metrics"
)

// Refresher schedules an immediate refresh.
type Refresher interface {
	Trigger() bool
}

// Server holds the handlers' dependencies.
type Server struct {
	state     *dashboard.State
	refresher Refresher
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	now       func() time.Time
	upgrader  websocket.Upgrader

	pingPeriod time.Duration
	writeWait  time.Duration
}

// NewServer wires the API. refresher and m may be nil.
func NewServer(state *dashboard.State, refresher Refresher, m *metrics.Metrics, logger zerolog.Logger) *Server {
	return &Server{
		state:     state,
		refresher: refresher,
		metrics:   m,
		logger:    logger.With().Str("component", "api").Logger(),
		now:       time.Now,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		pingPeriod: 30 * time.Second,
		writeWait:  10 * time.Second,
	}
}

// NewRouter registers every route.
func (s *Server) NewRouter() *mux.Router {
	r := mux.NewRouter()
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	r.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.serveWS).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/status", s.getStatus).Methods(http.MethodGet)
	v1.HandleFunc("/records/{kind}", s.getRecords).Methods(http.MethodGet)
	v1.HandleFunc("/charts", s.listCharts).Methods(http.MethodGet)
	v1.HandleFunc("/charts/{metric}", s.getChart).Methods(http.MethodGet)
	v1.HandleFunc("/charts/{metric}/range", s.putChartRange).Methods(http.MethodPut)
	v1.HandleFunc("/classify", s.classify).Methods(http.MethodGet)
	v1.HandleFunc("/refresh", s.postRefresh).Methods(http.MethodPost)

	// Router middleware only runs on matched routes; wrap the fallbacks so
	// misses are counted under the "unmatched" route.
	r.NotFoundHandler = s.metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	}))
	r.MethodNotAllowedHandler = s.metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}))
	return r
}

// Handler returns the router wrapped in an access log written through the
// server logger.
func (s *Server) Handler() http.Handler {
	access := s.logger.With().Str("component", "http").Logger()
	return handlers.LoggingHandler(access, s.NewRouter())
}
