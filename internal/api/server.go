package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/pauseguard/pauseguard/internal/core"
	"github.com/pauseguard/pauseguard/internal/guard"
	"github.com/pauseguard/pauseguard/internal/lifecycle"
)

// Version is reported by /api/v1/status.
const Version = "0.4.0"

// Server is the pauseguard REST API server.
type Server struct {
	engine  *guard.Engine
	server  *http.Server
	limiter *ipLimiter
	logger  zerolog.Logger
}

// NewServer creates a new API server. The engine must already be started.
func NewServer(engine *guard.Engine) *Server {
	s := &Server{
		engine: engine,
		logger: engine.Logger.With().Str("component", "api_server").Logger(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/events", s.handleEvents)
	mux.HandleFunc("/api/v1/events/", s.handleEventByID)
	mux.HandleFunc("/api/v1/events/clear", s.handleEventsClear)
	mux.HandleFunc("/api/v1/contracts", s.handleContracts)
	mux.HandleFunc("/api/v1/contracts/", s.handleContract)
	mux.HandleFunc("/api/v1/responses", s.handleResponses)
	mux.HandleFunc("/api/v1/attackers", s.handleAttackers)
	mux.HandleFunc("/api/v1/logs", s.handleLogs)
	mux.HandleFunc("/api/v1/emergency-pause", s.handleEmergencyPause)
	mux.HandleFunc("/api/v1/shutdown", s.handleShutdown)

	cfg := engine.Config
	s.limiter = newIPLimiter(cfg.Server.RateLimitPerIP)

	// CORS -> logging -> rate limit -> auth -> handler
	handler := corsMiddleware(
		loggingMiddleware(
			rateLimitMiddleware(
				authMiddleware(mux, cfg, s.logger),
				s.limiter,
			),
			s.logger,
		),
		cfg.Server.CORSOrigins,
	)

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 3 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the full middleware chain.
func (s *Server) Handler() http.Handler { return s.server.Handler }

// Start begins serving the API.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("API server starting")
	if s.engine.Config.AuthEnabled() {
		s.logger.Info().Int("keys", len(s.engine.Config.Server.APIKeys)).Msg("API authentication enabled")
	} else {
		s.logger.Warn().Msg("API authentication disabled, set api_keys in config or PAUSEGUARD_API_KEY")
	}
	if s.engine.Config.Server.PauseSecret == "" {
		s.logger.Warn().Msg("emergency pause endpoint disabled, no pause_secret configured")
	}
	go s.limiter.cleanup(5 * time.Minute)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("API server error")
		}
	}()
	return nil
}

// Stop gracefully shuts down the API server.
func (s *Server) Stop() error {
	s.limiter.stop()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version":   Version,
		"status":    "running",
		"engine":    s.engine.Status(),
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := queryLimit(r, 100)
	minLevel := core.LevelInfo
	if lv := r.URL.Query().Get("min_level"); lv != "" {
		minLevel = core.ParseThreatLevel(lv)
	}
	contract := core.NormalizeAddress(r.URL.Query().Get("contract"))

	events := make([]core.ThreatEvent, 0)
	for _, ev := range s.engine.Journal.Events() {
		if len(events) >= limit {
			break
		}
		if ev.Level < minLevel || (contract != "" && ev.ContractAddress != contract) {
			continue
		}
		events = append(events, ev)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"total":  len(events),
	})
}

// handleEventByID handles GET /api/v1/events/{id}
func (s *Server) handleEventByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/v1/events/"), "/")
	if id == "" {
		s.handleEvents(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ev, ok := s.engine.Journal.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "event not found"})
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// handleEventsClear handles POST /api/v1/events/clear
func (s *Server) handleEventsClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	count := s.engine.Journal.Len()
	if err := s.engine.Journal.Clear(r.Context()); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "clearing persisted journal: " + err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "cleared",
		"cleared": count,
	})
}

func (s *Server) handleContracts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		contracts := s.engine.Registry.Contracts()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"contracts": contracts,
			"total":     len(contracts),
		})

	case http.MethodPost:
		var body struct {
			Address string `json:"address"`
			Owner   string `json:"owner"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
			return
		}
		if !common.IsHexAddress(body.Address) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "address must be a 20-byte hex address"})
			return
		}
		mc, err := s.engine.Registry.Register(r.Context(), common.HexToAddress(body.Address), body.Owner)
		if err != nil {
			writeJSON(w, lifecycleStatus(err), map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusCreated, mc)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleContract handles /api/v1/contracts/{address}[/confirm|/refresh]
func (s *Server) handleContract(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/contracts/"), "/"), "/")
	if parts[0] == "" {
		s.handleContracts(w, r)
		return
	}
	if !common.IsHexAddress(parts[0]) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid contract address"})
		return
	}
	addr := common.HexToAddress(parts[0])

	if len(parts) == 2 {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		switch parts[1] {
		case "confirm":
			mc, err := s.engine.Registry.ConfirmPermission(r.Context(), addr)
			if err != nil {
				writeJSON(w, lifecycleStatus(err), map[string]string{"error": err.Error()})
				return
			}
			writeJSON(w, http.StatusOK, mc)
		case "refresh":
			if err := s.engine.Registry.Refresh(r.Context(), addr); err != nil {
				writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
				return
			}
			mc, _ := s.engine.Registry.Get(addr)
			writeJSON(w, http.StatusOK, mc)
		default:
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown contract action"})
		}
		return
	}

	switch r.Method {
	case http.MethodGet:
		mc, ok := s.engine.Registry.Get(addr)
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "contract not registered"})
			return
		}
		writeJSON(w, http.StatusOK, mc)
	case http.MethodDelete:
		if err := s.engine.Registry.Deregister(addr); err != nil {
			writeJSON(w, lifecycleStatus(err), map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deregistered", "address": core.NormalizeAddress(addr.Hex())})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func lifecycleStatus(err error) int {
	switch {
	case errors.Is(err, lifecycle.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}

func (s *Server) handleResponses(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	records := s.engine.Responder.Log().Records(queryLimit(r, 100), r.URL.Query().Get("contract"))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"responses": records,
		"total":     len(records),
		"stats":     s.engine.Responder.Log().Stats(),
	})
}

func (s *Server) handleAttackers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	addrs := s.engine.Attackers.Addresses()
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = core.NormalizeAddress(a.Hex())
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"attackers": out,
		"total":     len(out),
	})
}

// handleLogs returns recent log entries captured in the engine's ring buffer.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	entries := s.engine.Logs.GetEntries(queryLimit(r, 100), r.URL.Query().Get("component"))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"logs":  entries,
		"total": len(entries),
	})
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "shutting_down",
		"message": "pauseguard is shutting down gracefully",
	})
	go func() {
		time.Sleep(250 * time.Millisecond)
		s.logger.Info().Msg("shutdown requested via API")
		// SIGINT to self lets the main signal handler stop everything in order.
		p, err := os.FindProcess(os.Getpid())
		if err != nil {
			s.logger.Error().Err(err).Msg("failed to find own process for shutdown signal")
			os.Exit(0)
		}
		if err := p.Signal(syscall.SIGINT); err != nil {
			s.logger.Error().Err(err).Msg("failed to send shutdown signal")
			os.Exit(0)
		}
	}()
}

func queryLimit(r *http.Request, def int) int {
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 {
		return l
	}
	return def
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
