// Package httpapi implements the HTTP/JSON frontend: a plain REST surface
// over the evaluation service for operators and dashboards that would
// rather not speak the chat protocol.
//
// Grounded in the gateway server's mux-building and graceful-shutdown
// pattern (internal/gateway/server.go): a cached *http.ServeMux, a
// context-driven Shutdown goroutine, JSON in and out.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nextlevelbuilder/scriptkeeper/internal/config"
	"github.com/nextlevelbuilder/scriptkeeper/pkg/protocol"
)

// Service is the subset of internal/service.Service the frontend drives.
type Service interface {
	Eval(code string, ctx protocol.EvalContext) protocol.EvalResponse
	History(limit int) ([]protocol.RevisionDescriptor, error)
	Rollback(id string) (string, error)
	IsAdmin(mask string) bool
}

// Server hosts the HTTP/JSON API.
type Server struct {
	cfg *config.Config
	svc Service

	mux        *http.ServeMux
	httpServer *http.Server
}

// New builds a Server. BuildMux (called lazily by Start) registers routes.
func New(cfg *config.Config, svc Service) *Server {
	return &Server{cfg: cfg, svc: svc}
}

// evalRequestBody is the JSON body accepted by POST /eval.
type evalRequestBody struct {
	Code    string `json:"code"`
	User    string `json:"user"`
	Mask    string `json:"mask"`
	Channel string `json:"channel"`
}

// BuildMux creates and caches the HTTP mux with all routes registered.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/eval", s.handleEval)
	mux.HandleFunc("/history", s.handleHistory)
	mux.HandleFunc("/rollback", s.handleRollback)
	s.mux = mux
	return mux
}

// Start runs the HTTP server until ctx is cancelled, then shuts it down
// gracefully within a 5-second window.
func (s *Server) Start(ctx context.Context) error {
	mux := s.BuildMux()

	addr := s.cfg.GatewayAddr()
	s.httpServer = &http.Server{Addr: addr, Handler: mux}

	slog.Info("http frontend starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("http frontend: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"status":"ok"}`)
}

func (s *Server) handleEval(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body evalRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(body.Code) == "" {
		http.Error(w, "code is required", http.StatusBadRequest)
		return
	}

	ctx := protocol.EvalContext{
		User:    body.User,
		Origin:  r.RemoteAddr,
		Channel: body.Channel,
		IsAdmin: s.svc.IsAdmin(body.Mask),
	}
	resp := s.svc.Eval(body.Code, ctx)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	revs, err := s.svc.History(limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, revs)
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		ID   string `json:"id"`
		Mask string `json:"mask"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if !s.svc.IsAdmin(body.Mask) {
		http.Error(w, protocol.ErrorPrefix+"rollback requires admin privileges", http.StatusForbidden)
		return
	}
	if body.ID == "" {
		http.Error(w, "usage: id is required", http.StatusBadRequest)
		return
	}
	confirmation, err := s.svc.Rollback(body.ID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": confirmation})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("http frontend: failed to encode response", "error", err)
	}
}
