// Package server exposes the feed core to viewers over HTTP: a WebSocket
// push transport streaming snapshot/delta frames, JSON views of the current
// snapshot for the dashboard's REST polling fallback, and the Prometheus
// endpoint. The rendering layer on the other end of the socket owns all
// markup, styling and drawing; this package only ships frames.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"neongrid/internal/feed"
	"neongrid/internal/journal"
)

// Telemetry counts frames written to viewer transports; satisfied by
// telemetry.Metrics.
type Telemetry interface {
	FrameSentInc()
}

// Server serves the dashboard API and the viewer WebSocket endpoint.
type Server struct {
	hub      *feed.Hub
	jnl      *journal.Journal // optional
	tel      Telemetry        // optional
	router   *mux.Router
	server   *http.Server
	upgrader websocket.Upgrader

	mu        sync.Mutex
	isRunning bool
	stopCh    chan struct{}
}

// New creates a server for the given hub. jnl and tel may be nil.
func New(hub *feed.Hub, jnl *journal.Journal, tel Telemetry, listen string) *Server {
	s := &Server{
		hub:      hub,
		jnl:      jnl,
		tel:      tel,
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		stopCh:   make(chan struct{}),
	}

	r := mux.NewRouter()
	r.HandleFunc("/ws", s.handleWebSocket).Methods("GET")
	r.HandleFunc("/api/snapshot", s.handleSnapshot).Methods("GET")
	r.HandleFunc("/api/stats", s.handleStats).Methods("GET")
	r.HandleFunc("/api/positions", s.handlePositions).Methods("GET")
	r.HandleFunc("/api/activity", s.handleActivity).Methods("GET")
	r.HandleFunc("/api/activity/history", s.handleActivityHistory).Methods("GET")
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	s.router = r

	s.server = &http.Server{
		Addr:              listen,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start begins serving in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return fmt.Errorf("server is already running")
	}
	s.isRunning = true

	go func() {
		log.Info().Str("address", s.server.Addr).Msg("starting dashboard server")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("dashboard server failed")
		}
	}()
	return nil
}

// Stop shuts the server down gracefully, closing all viewer sockets.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isRunning {
		return nil
	}
	s.isRunning = false
	close(s.stopCh)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("failed to shutdown dashboard server")
		return err
	}
	log.Info().Msg("dashboard server stopped")
	return nil
}

// handleWebSocket upgrades the connection, attaches a subscriber and
// streams frames until the viewer goes away. A write failure is the fatal
// transport error of the subscriber lifecycle: the subscriber is detached
// and never resumed.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade websocket connection")
		return
	}
	defer conn.Close()

	sub := s.hub.Attach()
	defer sub.Detach()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Reader only detects the peer closing; viewers send nothing.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		frame, err := sub.Next(ctx)
		if err != nil {
			return
		}
		if err := conn.WriteJSON(frame); err != nil {
			log.Debug().Err(err).Uint64("subscriber", sub.ID()).Msg("viewer write failed, detaching")
			return
		}
		if s.tel != nil {
			s.tel.FrameSentInc()
		}
	}
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.hub.Store().Snapshot())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.hub.Store().Snapshot().Metrics)
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	snap := s.hub.Store().Snapshot()
	if snap.Positions == nil {
		snap.Positions = []feed.Position{}
	}
	writeJSON(w, snap.Positions)
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	snap := s.hub.Store().Snapshot()
	if snap.Activity == nil {
		snap.Activity = []feed.ActivityEvent{}
	}
	writeJSON(w, snap.Activity)
}

func (s *Server) handleActivityHistory(w http.ResponseWriter, r *http.Request) {
	if s.jnl == nil {
		http.Error(w, "activity journal not configured", http.StatusNotFound)
		return
	}
	entries, err := s.jnl.Recent(50)
	if err != nil {
		http.Error(w, "failed to read journal", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	writeJSON(w, entries)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("failed to encode response")
	}
}
