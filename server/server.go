// Package server exposes the control surface of the bot engine: start,
// stop, config update, top-up and status over HTTP, plus a websocket stream
// of lifecycle events.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/courtside/internal/domain"
	"github.com/vadiminshakov/courtside/internal/events"
	"github.com/vadiminshakov/courtside/internal/registry"
	"github.com/vadiminshakov/courtside/internal/wallet"
)

const (
	writeTimeout = 10 * time.Second
	pingPeriod   = 30 * time.Second
)

// Controller is the slice of the registry the handlers need.
type Controller interface {
	Start(ctx context.Context, user, event string, bankroll decimal.Decimal, cfg domain.BotConfig) error
	Stop(user, event string) (domain.WalletStatus, error)
	UpdateConfig(user, event string, cfg domain.BotConfig) error
	TopUp(user, event string, amount decimal.Decimal) error
	WalletStatus(user, event string) (domain.WalletStatus, error)
}

// Server serves the HTTP control surface.
type Server struct {
	addr        string
	ctrl        Controller
	broadcaster *events.Broadcaster
	logger      *zap.Logger
	upgrader    websocket.Upgrader
}

// NewServer creates a control-surface server.
func NewServer(addr string, ctrl Controller, broadcaster *events.Broadcaster, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		addr:        addr,
		ctrl:        ctrl,
		broadcaster: broadcaster,
		logger:      logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is
// cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/bots/start", s.handleStart)
	mux.HandleFunc("POST /api/bots/stop", s.handleStop)
	mux.HandleFunc("POST /api/bots/config", s.handleConfig)
	mux.HandleFunc("POST /api/bots/topup", s.handleTopUp)
	mux.HandleFunc("GET /api/bots/status", s.handleStatus)
	mux.HandleFunc("GET /ws", s.handleEvents)

	srv := &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type startRequest struct {
	User        string            `json:"user"`
	EventTicker string            `json:"event_ticker"`
	Bankroll    decimal.Decimal   `json:"bankroll"`
	Config      *domain.BotConfig `json:"config,omitempty"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !s.decode(w, r, &req) {
		return
	}
	cfg := domain.DefaultBotConfig()
	if req.Config != nil {
		cfg = *req.Config
	}

	if err := s.ctrl.Start(r.Context(), req.User, req.EventTicker, req.Bankroll, cfg); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{
		"status":       "started",
		"user":         req.User,
		"event_ticker": req.EventTicker,
	})
}

type sessionRequest struct {
	User        string `json:"user"`
	EventTicker string `json:"event_ticker"`
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if !s.decode(w, r, &req) {
		return
	}
	status, err := s.ctrl.Stop(req.User, req.EventTicker)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

type configRequest struct {
	User        string           `json:"user"`
	EventTicker string           `json:"event_ticker"`
	Config      domain.BotConfig `json:"config"`
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	var req configRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.ctrl.UpdateConfig(req.User, req.EventTicker, req.Config); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

type topUpRequest struct {
	User        string          `json:"user"`
	EventTicker string          `json:"event_ticker"`
	Amount      decimal.Decimal `json:"amount"`
}

func (s *Server) handleTopUp(w http.ResponseWriter, r *http.Request) {
	var req topUpRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.ctrl.TopUp(req.User, req.EventTicker, req.Amount); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "topped_up"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	event := r.URL.Query().Get("event")
	status, err := s.ctrl.WalletStatus(user, event)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

// handleEvents streams broadcaster events over a websocket until the client
// goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	sub := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(sub)

	// Reader goroutine only to detect close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case e, ok := <-sub:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	return true
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, registry.ErrAlreadyRunning):
		status = http.StatusConflict
	case errors.Is(err, registry.ErrNotRunning):
		status = http.StatusNotFound
	case errors.Is(err, wallet.ErrInsufficientFunds):
		status = http.StatusPaymentRequired
	default:
		// Validation failures come back as plain errors from BotConfig.
		status = http.StatusBadRequest
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("failed to encode response", zap.Error(err))
	}
}
