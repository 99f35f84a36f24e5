package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// StatusFunc reports the live connectivity snapshot for /api/status.
type StatusFunc func() any

// Server serves the directions and nearby-places pass-through endpoints.
type Server struct {
	Listen   string
	Upstream Upstream
	Status   StatusFunc
	Logger   *zap.Logger

	mu      sync.Mutex
	running bool
	srv     *http.Server
	addr    string
}

func (s *Server) Handler() http.Handler {
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := newHandlers(s.Upstream, logger.Named("api"))
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/directions", h.directions).Methods(http.MethodGet)
	api.HandleFunc("/places", h.places).Methods(http.MethodGet)
	if s.Status != nil {
		status := s.Status
		api.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, status())
		}).Methods(http.MethodGet)
	}
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	return r
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("api server already running")
	}
	if s.Listen == "" {
		s.Listen = "127.0.0.1:3000"
	}
	ln, err := net.Listen("tcp", s.Listen)
	if err != nil {
		return err
	}
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	s.addr = ln.Addr().String()
	s.running = true
	srv := s.srv
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) && s.Logger != nil {
			s.Logger.Error("api server stopped", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.srv == nil {
		return nil
	}
	s.running = false
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

// State reports whether the server runs and its bound address.
func (s *Server) State() (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addr != "" {
		return s.running, s.addr
	}
	return s.running, s.Listen
}

// Run serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	return s.Stop()
}
