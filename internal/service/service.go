// Package service implements the evaluation service façade (C8): the
// frontend-facing API that forwards evaluations to the supervisor,
// paginates output through a per-(channel,user) cursor table, and
// dispatches history/rollback/admin-check operations.
package service

import (
	"fmt"
	"strings"
	"sync"

	"github.com/nextlevelbuilder/scriptkeeper/internal/config"
	"github.com/nextlevelbuilder/scriptkeeper/internal/hostmask"
	"github.com/nextlevelbuilder/scriptkeeper/internal/supervisor"
	"github.com/nextlevelbuilder/scriptkeeper/pkg/protocol"
)

const noCachedOutput = "No cached output. Run a command first."

// Service is the single entry point every frontend drives.
type Service struct {
	cfg *config.Config
	sup *supervisor.Supervisor

	mu      sync.Mutex
	cursors map[string][]string
}

// New builds a Service over an already-running supervisor.
func New(cfg *config.Config, sup *supervisor.Supervisor) *Service {
	return &Service{cfg: cfg, sup: sup, cursors: make(map[string][]string)}
}

func cursorKey(channel, user string) string {
	return channel + ":" + user
}

// Eval forwards code to the supervisor and paginates the result. An eval
// call always overwrites any existing cursor for its (channel, user) key.
// "more" is a service-layer verb, not an interpreter one: it is
// intercepted here and never reaches the worker.
func (s *Service) Eval(code string, ctx protocol.EvalContext) protocol.EvalResponse {
	if strings.TrimSpace(code) == "more" {
		return s.More(ctx)
	}
	res := s.sup.Eval(code, ctx)
	return s.paginate(ctx, res)
}

func (s *Service) paginate(ctx protocol.EvalContext, res protocol.EvalResult) protocol.EvalResponse {
	key := cursorKey(ctx.ChannelOrDefault(), ctx.User)
	max := s.cfg.MaxOutputLines()

	var lines []string
	if res.Output != "" {
		lines = strings.Split(res.Output, "\n")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(lines) <= max {
		delete(s.cursors, key)
		return protocol.EvalResponse{Lines: lines, IsError: res.IsError, Revision: res.Revision}
	}

	page := lines[:max]
	s.cursors[key] = lines[max:]
	return protocol.EvalResponse{Lines: page, MoreAvailable: true, IsError: res.IsError, Revision: res.Revision}
}

// More drains up to max_output_lines from ctx's cursor. A missing cursor
// yields a one-line informational response rather than an error.
func (s *Service) More(ctx protocol.EvalContext) protocol.EvalResponse {
	key := cursorKey(ctx.ChannelOrDefault(), ctx.User)
	max := s.cfg.MaxOutputLines()

	s.mu.Lock()
	defer s.mu.Unlock()

	remaining, ok := s.cursors[key]
	if !ok {
		return protocol.EvalResponse{Lines: []string{noCachedOutput}}
	}

	if len(remaining) <= max {
		delete(s.cursors, key)
		return protocol.EvalResponse{Lines: remaining}
	}

	page := remaining[:max]
	s.cursors[key] = remaining[max:]
	return protocol.EvalResponse{Lines: page, MoreAvailable: true}
}

// History delegates to the supervisor's revision log.
func (s *Service) History(limit int) ([]protocol.RevisionDescriptor, error) {
	return s.sup.History(limit)
}

// Rollback delegates to the supervisor (checkout + worker restart) and
// returns a confirmation string naming the short revision id.
func (s *Service) Rollback(id string) (string, error) {
	if err := s.sup.Rollback(id); err != nil {
		return "", err
	}
	short := id
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("Rolled back to commit %s.", short), nil
}

// IsAdmin reports whether mask matches any configured privileged pattern.
func (s *Service) IsAdmin(mask string) bool {
	return hostmask.IsAdmin(s.cfg.PrivilegedUsers(), mask)
}

// Shutdown tears the supervisor (and its worker) down.
func (s *Service) Shutdown() {
	s.sup.Shutdown()
}
