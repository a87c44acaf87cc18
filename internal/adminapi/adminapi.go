// Package adminapi implements the one outward HTTP seam the kernel
// exposes: a read-only status mirror over the Fabric, Clock, Network
// Gate, and orchestrator event log. It carries no simulation logic and
// accepts no writes.
//
// Grounded on the mux.Router/http.Server shape of
// grimm.is/flywall/internal/ebpf/controlplane.ControlPlane: a router built
// once at construction, routes registered under a path prefix, and a
// *http.Server started/stopped against it. Metrics are exposed the way
// the teacher's internal/api.Server wires promhttp.Handler against a
// dedicated registry rather than the global one.
package adminapi

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/grimm-is/icsrange/internal/clock"
	"github.com/grimm-is/icsrange/internal/fabric"
	"github.com/grimm-is/icsrange/internal/logging"
	"github.com/grimm-is/icsrange/internal/netgate"
	"github.com/grimm-is/icsrange/internal/telemetry"
)

// EventSource is the subset of Orchestrator the admin API reads from.
// Kept as an interface so handlers are testable against a fake without
// constructing a full running simulator.
type EventSource interface {
	Events() []fabric.Event
}

// Server is the admin HTTP surface. One instance is bound to one running
// simulator's Clock/Fabric/Gate/Telemetry/event log.
type Server struct {
	clk    *clock.Clock
	fab    *fabric.Fabric
	gate   *netgate.Gate
	tele   *telemetry.Collector
	events EventSource
	log    *logging.Logger

	router *mux.Router
	http   *http.Server
}

// New constructs an admin API server bound to addr, serving reads from
// the given components. Call Start to bind and begin serving.
func New(addr string, clk *clock.Clock, fab *fabric.Fabric, gate *netgate.Gate, tele *telemetry.Collector, events EventSource, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Default("adminapi")
	}
	s := &Server{
		clk:    clk,
		fab:    fab,
		gate:   gate,
		tele:   tele,
		events: events,
		log:    logger,
		router: mux.NewRouter(),
	}
	s.setupRoutes()
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	s.router.HandleFunc("/summary", s.handleSummary).Methods(http.MethodGet)
	s.router.HandleFunc("/devices", s.handleDevices).Methods(http.MethodGet)
	s.router.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
	s.router.HandleFunc("/denied", s.handleDenied).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.tele.Registry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)
}

// Start binds the listener and begins serving in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return err
	}
	go func() {
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Errorf("admin API server error: %v", err)
		}
	}()
	s.log.Infof("admin API listening on %s", ln.Addr())
	return nil
}

// Stop gracefully shuts down the HTTP server within ctx's deadline.
func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleSummary(w http.ResponseWriter, _ *http.Request) {
	sum := s.fab.Summary()
	snap := s.clk.Snap()
	writeJSON(w, map[string]any{
		"devices_total":  sum.DevicesTotal,
		"devices_online": sum.DevicesOnline,
		"by_kind":        sum.ByKind,
		"by_protocol":    sum.ByProtocol,
		"sim_time":       sum.SimTime,
		"cycles":         sum.Cycles,
		"clock_mode":     snap.Mode.String(),
		"clock_speed":    snap.Speed,
	})
}

func (s *Server) handleDevices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.fab.List())
}

func (s *Server) handleEvents(w http.ResponseWriter, _ *http.Request) {
	if s.events == nil {
		writeJSON(w, []fabric.Event{})
		return
	}
	writeJSON(w, s.events.Events())
}

func (s *Server) handleDenied(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.gate.DeniedLog())
}
