// Package server exposes the orchestrator over HTTP and streams its events
// to websocket clients.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/Kylo111/make-it-heavy/internal/observability"
	"github.com/Kylo111/make-it-heavy/pkg/orchestrator"
)

// Orchestrator runs one orchestration per request.
type Orchestrator interface {
	Orchestrate(ctx context.Context, query string) (*orchestrator.OrchestrationResult, error)
}

// Config holds server configuration
type Config struct {
	Host              string
	Port              int // 0 picks a free port
	AuthToken         string
	Orchestrator      Orchestrator
	Events            *orchestrator.EventBus
	RequestsPerMinute int
	MaxConcurrent     int
	MaxBodyBytes      int64
	EventBuffer       int
	ShutdownTimeout   time.Duration
	Logger            zerolog.Logger
}

// Server serves orchestrations and their event stream
type Server struct {
	cfg         Config
	server      *http.Server
	listener    net.Listener
	upgrader    websocket.Upgrader
	clients     *ClientRegistry
	broadcaster *EventBroadcaster
	auth        *AuthHandler
	limiter     *RateLimiter
	logger      zerolog.Logger

	shutdownMu     sync.RWMutex
	isShuttingDown bool
	inFlight       sync.WaitGroup

	forwardCancel context.CancelFunc
	unsubscribe   func()
	forwardWG     sync.WaitGroup
}

const (
	defaultMaxBodyBytes    = 1 << 20
	defaultEventBuffer     = 256
	defaultShutdownTimeout = 30 * time.Second
)

// NewServer creates a server. Events may be nil, in which case websocket
// clients only receive server notices.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Orchestrator == nil {
		return nil, errors.New("orchestrator is required")
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}

	clients := NewClientRegistry()
	logger := cfg.Logger.With().Str("component", "server").Logger()

	s := &Server{
		cfg:         cfg,
		clients:     clients,
		broadcaster: NewEventBroadcaster(clients, logger),
		auth:        NewAuthHandler(cfg.AuthToken),
		limiter:     NewRateLimiter(cfg.RequestsPerMinute, cfg.MaxConcurrent),
		logger:      logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	s.server = &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port)),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler returns the HTTP routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/orchestrate", s.handleOrchestrate)
	mux.HandleFunc("/v1/events", s.handleWebSocket)
	mux.HandleFunc("/v1/clients", s.handleClients)
	mux.Handle("/metrics", observability.MetricsHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

// Start binds the listener and serves in the background
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.server.Addr, err)
	}
	s.listener = ln

	s.startForwarding()

	s.logger.Info().
		Str("addr", ln.Addr().String()).
		Bool("auth", s.auth.Enabled()).
		Msg("Starting server")

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Server error")
		}
	}()

	return nil
}

// Addr returns the bound address, empty before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run starts the server and stops it when ctx is done.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	return s.Stop(stopCtx)
}

// Stop rejects new work, waits for in-flight orchestrations until ctx is
// done, then closes every client.
func (s *Server) Stop(ctx context.Context) error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down server")

	s.broadcaster.Broadcast(MessageShutdown, "Server is shutting down")

	done := make(chan struct{})
	go func() {
		s.inFlight.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("All in-flight orchestrations completed")
	case <-ctx.Done():
		s.logger.Warn().Msg("Shutdown timeout reached, forcing close")
	}

	s.stopForwarding()

	for _, client := range s.clients.All() {
		_ = client.Conn.Close()
	}

	if err := s.server.Shutdown(ctx); err != nil {
		_ = s.server.Close()
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info().Msg("Server stopped")
	return nil
}

func (s *Server) startForwarding() {
	if s.cfg.Events == nil {
		return
	}

	events, unsubscribe := s.cfg.Events.Subscribe(s.cfg.EventBuffer)
	ctx, cancel := context.WithCancel(context.Background())
	s.forwardCancel = cancel
	s.unsubscribe = unsubscribe

	s.forwardWG.Add(1)
	go func() {
		defer s.forwardWG.Done()
		s.broadcaster.Run(ctx, events)
	}()
}

func (s *Server) stopForwarding() {
	if s.forwardCancel == nil {
		return
	}
	s.forwardCancel()
	s.unsubscribe()
	s.forwardWG.Wait()
	s.forwardCancel = nil
}

func (s *Server) shuttingDown() bool {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	return s.isShuttingDown
}

func (s *Server) handleOrchestrate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "use POST")
		return
	}
	if !s.auth.Authorize(r) {
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "invalid or missing token")
		return
	}

	// Registering under the read lock orders Add before Stop's Wait.
	s.shutdownMu.RLock()
	if s.isShuttingDown {
		s.shutdownMu.RUnlock()
		writeError(w, http.StatusServiceUnavailable, CodeShuttingDown, "server is shutting down")
		return
	}
	s.inFlight.Add(1)
	s.shutdownMu.RUnlock()
	defer s.inFlight.Done()

	var req OrchestrateRequest
	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("empty body")
		}
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "query is required")
		return
	}

	allowed, reason := s.limiter.Acquire()
	if !allowed {
		writeError(w, http.StatusTooManyRequests, CodeRateLimited, reason)
		return
	}
	defer s.limiter.Release()

	s.logger.Info().
		Str("ip", r.RemoteAddr).
		Int("query_len", len(req.Query)).
		Msg("Orchestration requested")

	result, err := s.cfg.Orchestrator.Orchestrate(r.Context(), req.Query)
	if err != nil {
		switch {
		case errors.Is(err, orchestrator.ErrPrecondition):
			writeError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			writeError(w, http.StatusServiceUnavailable, CodeCancelled, err.Error())
		default:
			s.logger.Error().Err(err).Msg("Orchestration failed")
			writeError(w, http.StatusInternalServerError, CodeInternal, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleClients(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeError(w, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "use GET")
		return
	}
	if !s.auth.Authorize(r) {
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "invalid or missing token")
		return
	}
	writeJSON(w, http.StatusOK, s.clients.Infos())
}

// handleWebSocket subscribes a client to orchestration events. The optional
// request_id query parameter narrows the stream to one orchestration.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.shuttingDown() {
		writeError(w, http.StatusServiceUnavailable, CodeShuttingDown, "server is shutting down")
		return
	}
	if !s.auth.Authorize(r) {
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "invalid or missing token")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	clientID, _ := gonanoid.New()
	client := &Client{
		ID:          clientID,
		Conn:        conn,
		RequestID:   r.URL.Query().Get("request_id"),
		ConnectedAt: time.Now(),
		IPAddress:   r.RemoteAddr,
	}
	s.clients.Add(client)

	s.logger.Info().
		Str("clientId", clientID).
		Str("ip", r.RemoteAddr).
		Str("request_id", client.RequestID).
		Msg("Client connected")

	go s.handleClient(client)
}

// handleClient drains client frames so control messages are processed and
// a closed connection is noticed.
func (s *Server) handleClient(client *Client) {
	defer func() {
		_ = client.Conn.Close()
		s.clients.Remove(client.ID)
		s.logger.Info().Str("clientId", client.ID).Msg("Client disconnected")
	}()

	for {
		if _, _, err := client.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug().Err(err).Str("clientId", client.ID).Msg("WebSocket closed")
			}
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code})
}
