// Package httpapi serves the ops surface: health, prometheus metrics,
// engine status, coin catalog, and a websocket snapshot stream.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/stablewatch/stablewatch/internal/monitor"
	"github.com/stablewatch/stablewatch/internal/registry"
	"github.com/stablewatch/stablewatch/internal/reorg"
	"github.com/stablewatch/stablewatch/internal/schema"
	"github.com/stablewatch/stablewatch/internal/window"
)

// Status is the /status response body.
type Status struct {
	Uptime   string                   `json:"uptime"`
	Monitors map[string]monitor.Stats `json:"monitors"`
	Reorgs   reorg.Stats              `json:"reorgs"`
	Windows  window.Stats             `json:"windows"`
	Coins    []*registry.CoinStatus   `json:"coins"`
}

// Server exposes the ops endpoints.
type Server struct {
	addr     string
	started  time.Time
	monitors map[string]*monitor.Monitor
	reorgs   *reorg.Handler
	windows  *window.Manager
	coins    *registry.Registry
	hub      *Hub

	http *http.Server
}

// NewServer wires the ops surface over the engine components. Any of the
// component references may be nil; the matching sections are omitted.
func NewServer(addr string, monitors map[string]*monitor.Monitor, reorgs *reorg.Handler, windows *window.Manager, coins *registry.Registry) *Server {
	s := &Server{
		addr:     addr,
		started:  time.Now().UTC(),
		monitors: monitors,
		reorgs:   reorgs,
		windows:  windows,
		coins:    coins,
		hub:      NewHub(),
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/coins", s.handleCoins).Methods(http.MethodGet)
	r.HandleFunc("/coins/{symbol}", s.handleCoin).Methods(http.MethodGet)
	r.HandleFunc("/stream", s.hub.ServeWS)

	s.http = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Handler returns the router, used by tests and embedding servers.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Broadcast pushes a snapshot to every connected stream client.
func (s *Server) Broadcast(snapshot *schema.AggregatedRiskSnapshot) {
	s.hub.Broadcast(snapshot)
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.addr).Msg("http server started")
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.hub.Close()
		return s.http.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	status := Status{Uptime: time.Since(s.started).Round(time.Second).String()}

	if s.monitors != nil {
		status.Monitors = make(map[string]monitor.Stats, len(s.monitors))
		for chain, m := range s.monitors {
			status.Monitors[chain] = m.Stats()
		}
	}
	if s.reorgs != nil {
		status.Reorgs = s.reorgs.Stats()
	}
	if s.windows != nil {
		status.Windows = s.windows.Stats()
	}
	if s.coins != nil {
		status.Coins = s.coins.All()
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleCoins(w http.ResponseWriter, _ *http.Request) {
	if s.coins == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, s.coins.All())
}

func (s *Server) handleCoin(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	if s.coins == nil {
		http.NotFound(w, r)
		return
	}
	status := s.coins.Status(symbol)
	if status == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown coin"})
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("failed to write response")
	}
}
