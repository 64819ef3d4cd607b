package server

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/aeolun/wirehub/pkg/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	errorLog = log.New(os.Stderr, "ERROR: ", log.LstdFlags|log.Lmicroseconds)
	debugLog = log.New(io.Discard, "DEBUG: ", log.LstdFlags|log.Lmicroseconds)
)

// Server wires the store, the hub and the HTTP listener together.
type Server struct {
	db         *store.Store
	hub        *Hub
	config     ServerConfig
	listener   net.Listener
	httpServer *http.Server
	wg         sync.WaitGroup
}

// NewServer creates a new server instance
func NewServer(dbPath string, config ServerConfig) (*Server, error) {
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	hub, err := NewHub(db, config.IdentityField)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to build command set: %w", err)
	}

	if config.MetricsEnabled {
		hub.SetMetrics(NewMetrics())
	}

	return &Server{
		db:     db,
		hub:    hub,
		config: config,
	}, nil
}

// Hub exposes the protocol hub, mainly so callers can register
// additional commands before Start.
func (s *Server) Hub() *Hub {
	return s.hub
}

// EnableDebugLogging turns on verbose per-message logging.
func (s *Server) EnableDebugLogging() {
	debugLog = log.New(os.Stderr, "DEBUG: ", log.LstdFlags|log.Lmicroseconds)
}

// Start begins listening for WebSocket connections.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.HTTPPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.HandleWebSocket)
	if s.config.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
	}

	s.httpServer = &http.Server{Handler: mux}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			errorLog.Printf("HTTP server error: %v", err)
		}
	}()

	log.Printf("Listening on %s (ws://host%s/ws)", addr, addr)
	return nil
}

// Addr returns the bound listener address (useful with port 0).
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop gracefully stops the server: no new connections, all sessions
// closed, database closed.
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(ctx)
	}

	for _, sess := range s.hub.registry.Snapshot() {
		s.hub.Disconnect(sess)
	}

	s.wg.Wait()
	return s.db.Close()
}
