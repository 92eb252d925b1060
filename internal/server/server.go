// Package server exposes the daemon's read/write surface to the local
// dashboard: a JSON HTTP API plus a websocket event stream fed from
// the message bus.
package server

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/maxclaw/internal/bus"
	"github.com/maxclaw/internal/metrics"
	"github.com/maxclaw/internal/search"
	"github.com/maxclaw/internal/session"
	"github.com/maxclaw/internal/store"
	"github.com/maxclaw/internal/team"
)

// DefaultAddr binds loopback only; the dashboard is a local tool.
const DefaultAddr = "127.0.0.1:28473"

// StatusFunc supplies the daemon status document for /api/status.
type StatusFunc func() interface{}

// Deps are the services the API fronts.
type Deps struct {
	Store    *store.Store
	Sessions *session.Manager
	Teams    *team.Manager
	Search   *search.Engine
	Metrics  *metrics.Collector
	Bus      *bus.Bus
	Status   StatusFunc
	Logger   *log.Logger
}

// Server is the HTTP dashboard adapter.
type Server struct {
	addr   string
	router *mux.Router
	hub    *Hub
	logger *log.Logger

	store    *store.Store
	sessions *session.Manager
	teams    *team.Manager
	search   *search.Engine
	metrics  *metrics.Collector
	bus      *bus.Bus
	status   StatusFunc

	httpServer *http.Server
	busSubID   string
}

func New(addr string, deps Deps) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	s := &Server{
		addr:     addr,
		router:   mux.NewRouter(),
		hub:      NewHub(),
		logger:   deps.Logger,
		store:    deps.Store,
		sessions: deps.Sessions,
		teams:    deps.Teams,
		search:   deps.Search,
		metrics:  deps.Metrics,
		bus:      deps.Bus,
		status:   deps.Status,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/projects", s.handleListProjects).Methods("GET")
	api.HandleFunc("/projects/{id}", s.handleGetProject).Methods("GET")
	api.HandleFunc("/projects/{id}/sessions", s.handleProjectSessions).Methods("GET")
	api.HandleFunc("/projects/{id}/activities", s.handleProjectActivities).Methods("GET")
	api.HandleFunc("/sessions", s.handleListSessions).Methods("GET")
	api.HandleFunc("/schedules", s.handleListSchedules).Methods("GET")
	api.HandleFunc("/schedules", s.handleCreateSchedule).Methods("POST")
	api.HandleFunc("/schedules/{id}", s.handleDeleteSchedule).Methods("DELETE")
	api.HandleFunc("/schedules/{id}/logs", s.handleScheduleLogs).Methods("GET")
	api.HandleFunc("/teams", s.handleListTeams).Methods("GET")
	api.HandleFunc("/queue", s.handleQueue).Methods("GET")
	api.HandleFunc("/search", s.handleSearch).Methods("POST")
	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Addr returns the configured listen address.
func (s *Server) Addr() string { return s.addr }

// Start binds the address and serves in the background. Bind failures
// surface synchronously so daemon start can abort.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.hub.Run()
	if s.bus != nil {
		s.busSubID = s.hub.AttachBus(s.bus)
	}
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("[HTTP] serve error: %v", err)
		}
	}()
	s.logger.Printf("[HTTP] dashboard API on http://%s", s.addr)
	return nil
}

// Shutdown drains connections and stops the hub. Safe when Start was
// never called.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.busSubID != "" && s.bus != nil {
		s.bus.Unsubscribe(s.busSubID)
		s.busSubID = ""
	}
	s.hub.Close()
	if s.httpServer == nil {
		return nil
	}
	err := s.httpServer.Shutdown(ctx)
	s.httpServer = nil
	s.logger.Printf("[HTTP] stopped")
	return err
}
