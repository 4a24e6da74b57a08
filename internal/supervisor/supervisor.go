// Package supervisor implements the worker supervisor (C7): it owns the
// current evaluator worker, enforces a per-eval wall-clock timeout, and
// abandons and respawns a hung worker rather than trying to cancel it -
// the interpreter has no cooperative cancellation point reachable from
// outside the native call, so the on-disk state is the recovery point.
package supervisor

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/scriptkeeper/internal/revision"
	"github.com/nextlevelbuilder/scriptkeeper/internal/roommap"
	"github.com/nextlevelbuilder/scriptkeeper/internal/worker"
	"github.com/nextlevelbuilder/scriptkeeper/pkg/protocol"
)

// state names the supervisor's position in its Idle -> InFlight ->
// {Idle | Restarting} state machine. Only one request is ever in flight
// at a time: the worker processes its queue serially and each reply
// channel is single-use.
type state int

const (
	stateIdle state = iota
	stateInFlight
	stateRestarting
)

// Supervisor owns the currently live worker and replaces it whenever an
// evaluation exceeds the configured timeout.
type Supervisor struct {
	mu        sync.Mutex
	state     state
	stateRoot string
	remoteURL string
	sshKey    string
	rooms     *roommap.Map
	timeout   time.Duration
	current   *worker.Worker
	revLog    *revision.Log
}

// New opens the revision log and spawns the first worker.
func New(stateRoot, remoteURL, sshKey string, rooms *roommap.Map, timeout time.Duration) (*Supervisor, error) {
	revLog, err := revision.Open(stateRoot, remoteURL, sshKey)
	if err != nil {
		return nil, fmt.Errorf("open revision log: %w", err)
	}
	w, err := worker.New(stateRoot, remoteURL, sshKey, rooms)
	if err != nil {
		return nil, fmt.Errorf("spawn worker: %w", err)
	}
	return &Supervisor{
		stateRoot: stateRoot,
		remoteURL: remoteURL,
		sshKey:    sshKey,
		rooms:     rooms,
		timeout:   timeout,
		current:   w,
		revLog:    revLog,
	}, nil
}

// Eval submits code to the current worker and waits up to the configured
// timeout for a reply. A timeout abandons the worker and spawns a
// replacement that reloads from the on-disk state.
func (s *Supervisor) Eval(code string, ctx protocol.EvalContext) protocol.EvalResult {
	s.mu.Lock()
	s.state = stateInFlight
	w := s.current
	s.mu.Unlock()

	req, reply := worker.NewEvalRequest(code, ctx)
	if !w.Submit(req) {
		return protocol.EvalResult{IsError: true, Output: protocol.ErrorPrefix + "worker unavailable"}
	}

	select {
	case res := <-reply:
		s.mu.Lock()
		s.state = stateIdle
		s.mu.Unlock()
		return res
	case <-time.After(s.timeout):
		return s.restartAfterTimeout()
	}
}

func (s *Supervisor) restartAfterTimeout() protocol.EvalResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = stateRestarting

	slog.Warn("supervisor: worker exceeded evaluation timeout, abandoning and respawning",
		"timeout", s.timeout)

	// Deliberately do not call Shutdown on the hung worker: its loop may
	// be blocked inside a native call with no way to observe the done
	// channel. The goroutine and interpreter are leaked; the process
	// accepts that cost.
	w, err := worker.New(s.stateRoot, s.remoteURL, s.sshKey, s.rooms)
	if err != nil {
		slog.Error("supervisor: failed to respawn worker after timeout", "error", err)
		s.state = stateIdle
		return protocol.EvalResult{
			IsError: true,
			Output:  fmt.Sprintf("%sevaluation timed out and the worker could not be restarted: %s", protocol.ErrorPrefix, err),
		}
	}
	s.current = w
	s.state = stateIdle

	return protocol.EvalResult{
		IsError: true,
		Output:  fmt.Sprintf("error: evaluation timed out after %ds (thread restarted)", int(s.timeout.Seconds())),
	}
}

// History delegates to the revision log directly, bypassing the worker
// queue: it is a read of on-disk metadata, not an interpreter operation.
func (s *Supervisor) History(limit int) ([]protocol.RevisionDescriptor, error) {
	return s.revLog.Log(limit)
}

// Rollback resets the state repository to id and restarts the worker so
// its in-memory interpreter reloads from the rolled-back state.
func (s *Supervisor) Rollback(id string) error {
	if err := s.revLog.Checkout(id); err != nil {
		return err
	}
	return s.RestartFresh()
}

// RestartFresh discards the current worker and spawns a new one without
// waiting for a timeout. Used after a rollback, and available for manual
// recovery.
func (s *Supervisor) RestartFresh() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = stateRestarting

	s.current.Shutdown()
	w, err := worker.New(s.stateRoot, s.remoteURL, s.sshKey, s.rooms)
	if err != nil {
		s.state = stateIdle
		return fmt.Errorf("respawn worker: %w", err)
	}
	s.current = w
	s.state = stateIdle
	return nil
}

// Shutdown tears down the current worker.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current.Shutdown()
}
