package httphelpers

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	lua "github.com/yuin/gopher-lua"
)

// fakeExtender records builtins registered via Extend so tests can invoke
// them directly without spinning up a full interpreter.
type fakeExtender struct {
	L        *lua.LState
	builtins map[string]lua.LGFunction
}

func newFakeExtender() *fakeExtender {
	return &fakeExtender{L: lua.NewState(), builtins: make(map[string]lua.LGFunction)}
}

func (f *fakeExtender) Extend(name string, fn lua.LGFunction) {
	f.builtins[name] = fn
}

func (f *fakeExtender) call(t *testing.T, name string, args ...lua.LValue) (lua.LValue, error) {
	t.Helper()
	fn, ok := f.builtins[name]
	if !ok {
		t.Fatalf("builtin %q was never registered", name)
	}
	f.L.Push(f.L.NewFunction(fn))
	for _, a := range args {
		f.L.Push(a)
	}
	if err := f.L.PCall(len(args), 1, nil); err != nil {
		return nil, err
	}
	v := f.L.Get(-1)
	f.L.Pop(1)
	return v, nil
}

func TestHTTPGetReturnsStatusHeadersAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Test", "yes")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "hello world")
	}))
	defer srv.Close()

	h := NewHTTPCommands()
	ext := newFakeExtender()
	defer ext.L.Close()
	h.Register(ext)
	h.BeginEval("##test")

	result, err := ext.call(t, "http_get", lua.LString(srv.URL))
	if err != nil {
		t.Fatal(err)
	}
	got := result.String()
	if got[:3] != "200" {
		t.Errorf("expected 200 status prefix, got %q", got)
	}
	if !strings.Contains(got, "hello world") {
		t.Errorf("expected body in response, got %q", got)
	}
}

func TestHTTPGetEnforcesPerEvalCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	h := NewHTTPCommands()
	ext := newFakeExtender()
	defer ext.L.Close()
	h.Register(ext)
	h.BeginEval("##cap-test")

	for i := 0; i < httpRequestsPerEval; i++ {
		if _, err := ext.call(t, "http_get", lua.LString(srv.URL)); err != nil {
			t.Fatalf("request %d should succeed: %v", i, err)
		}
	}
	if _, err := ext.call(t, "http_get", lua.LString(srv.URL)); err == nil {
		t.Error("expected the request beyond the per-eval cap to fail")
	}
}

func TestHTTPPostRejectsOversizedBody(t *testing.T) {
	h := NewHTTPCommands()
	ext := newFakeExtender()
	defer ext.L.Close()
	h.Register(ext)
	h.BeginEval("##post-test")

	oversized := make([]byte, postBodyLimit+1)
	if _, err := ext.call(t, "http_post", lua.LString("http://example.invalid"), lua.LString(oversized)); err == nil {
		t.Error("expected oversized POST body to be rejected before any request is made")
	}
}

func TestStockQuoteFetchesAndFormats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"chart":{"result":[{"meta":{"symbol":"ACME","regularMarketPrice":105.0,"previousClose":100.0,"regularMarketVolume":12345}}]}}`)
	}))
	defer srv.Close()

	s := newStockCommandsWithEndpoint(srv.URL + "/")
	ext := newFakeExtender()
	defer ext.L.Close()
	s.Register(ext)
	s.BeginEval("alice")

	result, err := ext.call(t, "stockquote", lua.LString("acme"))
	if err != nil {
		t.Fatal(err)
	}
	got := result.String()
	if !strings.Contains(got, "ACME") || !strings.Contains(got, "105.00") || !strings.Contains(got, "+5.00%") {
		t.Errorf("unexpected quote format: %q", got)
	}
}

func TestStockQuoteServesFromCacheWithoutRefetching(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		io.WriteString(w, `{"chart":{"result":[{"meta":{"symbol":"ACME","regularMarketPrice":1.0,"previousClose":1.0,"regularMarketVolume":1}}]}}`)
	}))
	defer srv.Close()

	s := newStockCommandsWithEndpoint(srv.URL + "/")
	ext := newFakeExtender()
	defer ext.L.Close()
	s.Register(ext)
	s.BeginEval("bob")

	for i := 0; i < 5; i++ {
		if _, err := ext.call(t, "stockquote", lua.LString("acme")); err != nil {
			t.Fatal(err)
		}
	}
	if calls != 1 {
		t.Errorf("expected a single upstream fetch with the rest served from cache, got %d calls", calls)
	}
}

