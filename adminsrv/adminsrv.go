// Package adminsrv serves the engine's operational HTTP surface: health,
// Prometheus metrics, and a read-only positions view. Routing follows
// svyatogor45-abitrage's internal/api gorilla/mux layout.
package adminsrv

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"hedgearb/position"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Server is the admin HTTP server. It only reads engine state; nothing on
// this surface can place or cancel orders.
type Server struct {
	addr      string
	positions map[string]*position.Manager
	srv       *http.Server
	log       zerolog.Logger
}

// New creates a Server exposing the given pair -> position manager map.
func New(addr string, positions map[string]*position.Manager, logger zerolog.Logger) *Server {
	s := &Server{
		addr:      addr,
		positions: positions,
		log:       logger.With().Str("component", "adminsrv").Logger(),
	}
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/positions", s.handlePositions).Methods(http.MethodGet)
	s.srv = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errC := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.addr).Msg("admin server listening")
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errC <- err
		}
	}()
	select {
	case err := <-errC:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type positionView struct {
	Pair      string `json:"pair"`
	Mode      string `json:"mode"`
	NetQty    string `json:"net_qty"`
	Open      bool   `json:"open"`
	OpenCount int    `json:"history_count"`
}

func (s *Server) handlePositions(w http.ResponseWriter, _ *http.Request) {
	views := make([]positionView, 0, len(s.positions))
	for pair, mgr := range s.positions {
		views = append(views, positionView{
			Pair:      pair,
			Mode:      string(mgr.Mode()),
			NetQty:    mgr.CurrentNetQty().String(),
			Open:      mgr.HasPosition(),
			OpenCount: len(mgr.History()),
		})
	}
	writeJSON(w, http.StatusOK, views)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	data, _ := json.Marshal(v)
	w.Write(data)
}
