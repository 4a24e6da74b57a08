package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nextlevelbuilder/scriptkeeper/internal/config"
	"github.com/nextlevelbuilder/scriptkeeper/pkg/protocol"
)

type fakeService struct {
	lastCode string
	lastCtx  protocol.EvalContext
	resp     protocol.EvalResponse

	historyLimit int
	historyResp  []protocol.RevisionDescriptor
	historyErr   error

	rollbackID   string
	rollbackResp string
	rollbackErr  error
}

func (f *fakeService) Eval(code string, ctx protocol.EvalContext) protocol.EvalResponse {
	f.lastCode = code
	f.lastCtx = ctx
	return f.resp
}

func (f *fakeService) History(limit int) ([]protocol.RevisionDescriptor, error) {
	f.historyLimit = limit
	return f.historyResp, f.historyErr
}

func (f *fakeService) Rollback(id string) (string, error) {
	f.rollbackID = id
	return f.rollbackResp, f.rollbackErr
}

func (f *fakeService) IsAdmin(mask string) bool {
	return mask == "nick!admin@trusted.example"
}

func newTestServer(svc Service) *Server {
	return New(&config.Config{Gateway: config.GatewayConfig{Host: "127.0.0.1", Port: 0}}, svc)
}

func TestHandleHealthReportsOK(t *testing.T) {
	s := newTestServer(&fakeService{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	s.BuildMux().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %q, want ok", body["status"])
	}
}

func TestHandleEvalForwardsCodeAndContext(t *testing.T) {
	svc := &fakeService{resp: protocol.EvalResponse{Lines: []string{"42"}}}
	s := newTestServer(svc)

	payload, _ := json.Marshal(evalRequestBody{Code: "return 1+1", User: "alice", Mask: "nick!admin@trusted.example", Channel: "#general"})
	req := httptest.NewRequest(http.MethodPost, "/eval", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	s.BuildMux().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	if svc.lastCode != "return 1+1" {
		t.Errorf("lastCode = %q", svc.lastCode)
	}
	if !svc.lastCtx.IsAdmin {
		t.Error("expected admin mask to set IsAdmin")
	}

	var resp protocol.EvalResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Lines) != 1 || resp.Lines[0] != "42" {
		t.Errorf("resp.Lines = %v, want [42]", resp.Lines)
	}
}

func TestHandleEvalRejectsEmptyCode(t *testing.T) {
	s := newTestServer(&fakeService{})
	payload, _ := json.Marshal(evalRequestBody{Code: "  "})
	req := httptest.NewRequest(http.MethodPost, "/eval", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	s.BuildMux().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleHistoryReturnsRevisions(t *testing.T) {
	svc := &fakeService{historyResp: []protocol.RevisionDescriptor{{ID: "abc123", Author: "bob"}}}
	s := newTestServer(svc)

	req := httptest.NewRequest(http.MethodGet, "/history?limit=5", nil)
	rec := httptest.NewRecorder()
	s.BuildMux().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if svc.historyLimit != 5 {
		t.Errorf("historyLimit = %d, want 5", svc.historyLimit)
	}
	var revs []protocol.RevisionDescriptor
	if err := json.Unmarshal(rec.Body.Bytes(), &revs); err != nil {
		t.Fatal(err)
	}
	if len(revs) != 1 || revs[0].ID != "abc123" {
		t.Errorf("revs = %+v", revs)
	}
}

func TestHandleRollbackRequiresAdminMask(t *testing.T) {
	svc := &fakeService{rollbackResp: "Rolled back to commit abc123."}
	s := newTestServer(svc)

	payload, _ := json.Marshal(map[string]string{"id": "abc123", "mask": "nick!guest@example.com"})
	req := httptest.NewRequest(http.MethodPost, "/rollback", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	s.BuildMux().ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
	if svc.rollbackID != "" {
		t.Error("expected Rollback not to be called for a non-admin mask")
	}
}

func TestHandleRollbackSucceedsForAdmin(t *testing.T) {
	svc := &fakeService{rollbackResp: "Rolled back to commit abc123."}
	s := newTestServer(svc)

	payload, _ := json.Marshal(map[string]string{"id": "abc123", "mask": "nick!admin@trusted.example"})
	req := httptest.NewRequest(http.MethodPost, "/rollback", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	s.BuildMux().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
	if svc.rollbackID != "abc123" {
		t.Errorf("rollbackID = %q, want abc123", svc.rollbackID)
	}
}

func TestStartShutsDownOnContextCancel(t *testing.T) {
	s := newTestServer(&fakeService{})
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- s.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Start returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server shutdown")
	}
}
