package httphelpers

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/nextlevelbuilder/scriptkeeper/internal/blobstore"
)

const (
	httpRequestsPerEval   = 5
	httpRequestsPerMinute = 25
	postBodyLimit         = 150_000
	transferLimit         = 150_000
	requestTimeout        = 5 * time.Second
)

// Extender is the subset of *interp.Interpreter that command packages need
// to register builtins without importing package interp.
type Extender interface {
	Extend(name string, fn lua.LGFunction)
}

// HTTPCommands registers http_get/http_post/http_head builtins, rate
// limited per channel and capped per evaluation. One instance is meant
// to live for a worker's whole lifetime; BeginEval tells it which
// channel the next evaluation belongs to, the same way the original
// rate limiter's set_context did.
type HTTPCommands struct {
	limiter *Limiter
	client  *http.Client

	mu      sync.Mutex
	channel string
}

// NewHTTPCommands builds the HTTP command set.
func NewHTTPCommands() *HTTPCommands {
	return &HTTPCommands{
		limiter: NewLimiter(httpRequestsPerEval, httpRequestsPerMinute),
		client:  &http.Client{Timeout: requestTimeout},
	}
}

// BeginEval resets the per-eval request count and records which channel
// the upcoming evaluation belongs to for per-minute bucketing.
func (h *HTTPCommands) BeginEval(channel string) {
	h.mu.Lock()
	h.channel = channel
	h.mu.Unlock()
	h.limiter.BeginEval()
}

func (h *HTTPCommands) currentChannel() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.channel
}

// Register installs http_get, http_post and http_head into in.
func (h *HTTPCommands) Register(in Extender) {
	in.Extend("http_get", h.get)
	in.Extend("http_post", h.post)
	in.Extend("http_head", h.head)
}

func (h *HTTPCommands) get(L *lua.LState) int {
	url := L.CheckString(1)
	if err := h.limiter.Allow(h.currentChannel()); err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		L.RaiseError("bad request: %s", err)
		return 0
	}
	return h.doAndPush(L, req)
}

func (h *HTTPCommands) post(L *lua.LState) int {
	url := L.CheckString(1)
	body := L.OptString(2, "")
	if len(body) > postBodyLimit {
		L.RaiseError("post body exceeds %d bytes", postBodyLimit)
		return 0
	}
	if err := h.limiter.Allow(h.currentChannel()); err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		L.RaiseError("bad request: %s", err)
		return 0
	}
	return h.doAndPush(L, req)
}

func (h *HTTPCommands) head(L *lua.LState) int {
	url := L.CheckString(1)
	if err := h.limiter.Allow(h.currentChannel()); err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}
	req, err := http.NewRequest(http.MethodHead, url, nil)
	if err != nil {
		L.RaiseError("bad request: %s", err)
		return 0
	}
	resp, err := h.client.Do(req)
	if err != nil {
		L.RaiseError("http request failed: %s", err)
		return 0
	}
	defer resp.Body.Close()
	L.Push(lua.LString(formatHeaders(resp.Header)))
	return 1
}

// doAndPush performs req and pushes a list literal onto L's stack: status
// code, a brace-quoted header dict, and the brace-quoted body - the same
// shape the original bot returned to scripts.
func (h *HTTPCommands) doAndPush(L *lua.LState, req *http.Request) int {
	resp, err := h.client.Do(req)
	if err != nil {
		L.RaiseError("http request failed: %s", err)
		return 0
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, transferLimit+1)
	raw, err := io.ReadAll(limited)
	if err != nil {
		L.RaiseError("failed to read response: %s", err)
		return 0
	}
	if len(raw) > transferLimit {
		L.RaiseError("transfer exceeded %d bytes", transferLimit)
		return 0
	}

	headers := formatHeaders(resp.Header)
	result := fmt.Sprintf("%d {%s} %s", resp.StatusCode, headers, blobstore.Quote(string(raw)))
	L.Push(lua.LString(result))
	return 1
}

func formatHeaders(h http.Header) string {
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		value := strings.Join(h.Values(name), ", ")
		parts = append(parts, blobstore.Quote(name)+" "+blobstore.Quote(value))
	}
	return strings.Join(parts, " ")
}
