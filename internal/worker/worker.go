// Package worker implements the evaluator worker (C6): a single goroutine
// that owns one interpreter and consumes eval requests from a queue,
// intercepting control verbs before handing anything else to the
// interpreter and persisting state changes after every eval.
package worker

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"
	lua "github.com/yuin/gopher-lua"

	"github.com/nextlevelbuilder/scriptkeeper/internal/blobstore"
	"github.com/nextlevelbuilder/scriptkeeper/internal/bracket"
	"github.com/nextlevelbuilder/scriptkeeper/internal/httphelpers"
	"github.com/nextlevelbuilder/scriptkeeper/internal/interp"
	"github.com/nextlevelbuilder/scriptkeeper/internal/revision"
	"github.com/nextlevelbuilder/scriptkeeper/internal/roommap"
	"github.com/nextlevelbuilder/scriptkeeper/internal/snapshot"
	"github.com/nextlevelbuilder/scriptkeeper/pkg/protocol"
)

const defaultHistoryLimit = 10

// EvalRequest is produced by the supervisor and consumed by the
// worker exactly once. The reply channel is buffered by one so the
// worker never blocks delivering its result.
type EvalRequest struct {
	ID    string
	Code  string
	Ctx   protocol.EvalContext
	reply chan protocol.EvalResult
}

// NewEvalRequest builds a request and the channel its reply will arrive
// on. Each request gets a fresh correlation id for log lines spanning
// its lifetime.
func NewEvalRequest(code string, ctx protocol.EvalContext) (*EvalRequest, <-chan protocol.EvalResult) {
	ch := make(chan protocol.EvalResult, 1)
	return &EvalRequest{ID: uuid.NewString(), Code: code, Ctx: ctx, reply: ch}, ch
}

// Interpreter is the narrow view of internal/interp.Interpreter the
// worker needs. New always fills it with an *interp.Interpreter.
type Interpreter interface {
	Eval(code string) (string, error)
	EvalWithContext(code, user, origin, channel string) (string, error)
	ProcNames() []string
	GlobalNames() []string
	ProcArgsBody(name string) (args, body string, ok bool)
	IsArray(name string) bool
	ScalarValue(name string) (string, bool)
	ArrayValue(name string) (map[string]string, bool)
	Extend(name string, fn lua.LGFunction)
	Close()
}

// RevisionLog is the narrow view of internal/revision.Log the worker
// needs.
type RevisionLog interface {
	Commit(user, origin, message string) (*protocol.RevisionDescriptor, error)
	Log(limit int) ([]protocol.RevisionDescriptor, error)
	Checkout(id string) error
}

// Worker owns exactly one interpreter for its entire lifetime and serves
// requests from queue on its own goroutine.
type Worker struct {
	queue  chan *EvalRequest
	done   chan struct{}
	interp Interpreter
	revLog RevisionLog
	rooms  *roommap.Map
	root   string
	http   *httphelpers.HTTPCommands
	stocks *httphelpers.StockCommands
}

// New opens the revision log and interpreter rooted at stateRoot, then
// starts the worker's serving goroutine. The interpreter is extended
// with the network-egress helpers (http_get/http_post/http_head and
// stockquote) so scripts can reach the outside world under rate limits.
func New(stateRoot string, remoteURL, sshKey string, rooms *roommap.Map) (*Worker, error) {
	revLog, err := revision.Open(stateRoot, remoteURL, sshKey)
	if err != nil {
		return nil, fmt.Errorf("open revision log: %w", err)
	}
	in, err := interp.New(stateRoot)
	if err != nil {
		return nil, fmt.Errorf("create interpreter: %w", err)
	}

	httpCmds := httphelpers.NewHTTPCommands()
	stockCmds := httphelpers.NewStockCommands()
	httpCmds.Register(in)
	stockCmds.Register(in)

	w := &Worker{
		queue:  make(chan *EvalRequest, 32),
		done:   make(chan struct{}),
		interp: in,
		revLog: revLog,
		rooms:  rooms,
		root:   stateRoot,
		http:   httpCmds,
		stocks: stockCmds,
	}
	go w.run()
	return w, nil
}

func (w *Worker) run() {
	for {
		select {
		case req := <-w.queue:
			req.reply <- w.handle(req)
		case <-w.done:
			w.interp.Close()
			return
		}
	}
}

// Submit enqueues req, returning false if the worker has already been
// shut down.
func (w *Worker) Submit(req *EvalRequest) bool {
	select {
	case w.queue <- req:
		return true
	case <-w.done:
		return false
	}
}

// Shutdown stops the worker's loop and closes its interpreter.
func (w *Worker) Shutdown() {
	close(w.done)
}

func (w *Worker) handle(req *EvalRequest) protocol.EvalResult {
	code := strings.TrimSpace(req.Code)

	if err := bracket.Validate(code); err != nil {
		return protocol.EvalResult{IsError: true, Output: protocol.ErrorPrefix + err.Error()}
	}

	if n, ok := parseHistoryVerb(code); ok {
		return w.handleHistory(n)
	}
	if rest, found := strings.CutPrefix(code, "rollback "); found {
		return w.handleRollback(req.Ctx, strings.TrimSpace(rest))
	}
	if rest, found := strings.CutPrefix(code, "chanlist "); found {
		return w.handleChanlist(strings.TrimSpace(rest))
	}

	return w.evalAndPersist(req)
}

func parseHistoryVerb(code string) (limit int, ok bool) {
	if code == "history" {
		return defaultHistoryLimit, true
	}
	rest, found := strings.CutPrefix(code, "history ")
	if !found {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(rest))
	if err != nil || n <= 0 {
		return defaultHistoryLimit, true
	}
	return n, true
}

func (w *Worker) handleHistory(limit int) protocol.EvalResult {
	revs, err := w.revLog.Log(limit)
	if err != nil {
		return protocol.EvalResult{IsError: true, Output: protocol.ErrorPrefix + err.Error()}
	}
	lines := make([]string, 0, len(revs))
	for _, r := range revs {
		lines = append(lines, fmt.Sprintf("%s %s %s %s",
			r.ShortID(), r.Time.Format("2006-01-02 15:04:05"), r.Author, firstLine(r.Message)))
	}
	return protocol.EvalResult{Output: strings.Join(lines, "\n")}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func (w *Worker) handleRollback(ctx protocol.EvalContext, id string) protocol.EvalResult {
	if !ctx.IsAdmin {
		return protocol.EvalResult{IsError: true, Output: protocol.ErrorPrefix + "rollback requires admin privileges"}
	}
	if id == "" {
		return protocol.EvalResult{IsError: true, Output: protocol.ErrorPrefix + "usage: rollback <id>"}
	}
	if err := w.revLog.Checkout(id); err != nil {
		return protocol.EvalResult{IsError: true, Output: protocol.ErrorPrefix + err.Error()}
	}
	return protocol.EvalResult{Output: fmt.Sprintf("Rolled back to commit %s. Note: restart to reload state.", id)}
}

func (w *Worker) handleChanlist(room string) protocol.EvalResult {
	if room == "" {
		return protocol.EvalResult{IsError: true, Output: protocol.ErrorPrefix + "usage: chanlist <room>"}
	}
	if w.rooms == nil {
		return protocol.EvalResult{Output: ""}
	}
	return protocol.EvalResult{Output: strings.Join(w.rooms.Members(room), " ")}
}

// evalAndPersist runs the common path: snapshot, eval (with or without
// context depending on privilege), snapshot again, diff, and - if
// anything changed - persist blobs and commit a revision.
func (w *Worker) evalAndPersist(req *EvalRequest) protocol.EvalResult {
	w.http.BeginEval(req.Ctx.ChannelOrDefault())
	w.stocks.BeginEval(req.Ctx.User)

	before := w.takeSnapshot()

	var output string
	var err error
	if req.Ctx.IsAdmin {
		output, err = w.interp.Eval(req.Code)
	} else {
		output, err = w.interp.EvalWithContext(req.Code, req.Ctx.User, req.Ctx.Origin, req.Ctx.ChannelOrDefault())
	}

	result := protocol.EvalResult{Output: output}
	if err != nil {
		result = protocol.EvalResult{IsError: true, Output: protocol.ErrorPrefix + err.Error()}
	}

	after := w.takeSnapshot()
	diff := snapshot.Diff(before, after)
	if diff.Empty() {
		return result
	}

	blobstore.Persist(w.root, diff.NewProcs, diff.DeletedProcs, diff.NewVars, diff.DeletedVars, w.interp, w.interp)

	rev, commitErr := w.revLog.Commit(req.Ctx.User, req.Ctx.Origin, req.Code)
	if commitErr != nil {
		slog.Warn("eval committed state but revision commit failed", "request_id", req.ID, "error", commitErr)
		return result
	}
	result.Revision = rev
	return result
}

func (w *Worker) takeSnapshot() snapshot.Snapshot {
	return snapshot.New(w.interp.ProcNames(), w.interp.GlobalNames())
}
