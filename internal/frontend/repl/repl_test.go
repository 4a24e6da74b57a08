package repl

import (
	"bytes"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/scriptkeeper/pkg/protocol"
)

type fakeService struct {
	lastCode string
	lastCtx  protocol.EvalContext
	resp     protocol.EvalResponse
}

func (f *fakeService) Eval(code string, ctx protocol.EvalContext) protocol.EvalResponse {
	f.lastCode = code
	f.lastCtx = ctx
	return f.resp
}

func TestRunEvaluatesEachLineAndPrintsOutput(t *testing.T) {
	svc := &fakeService{resp: protocol.EvalResponse{Lines: []string{"42"}}}
	in := strings.NewReader("return 1+1\nexit\n")
	var out bytes.Buffer

	r := New(svc, in, &out, "alice", true)
	if err := r.Run(); err != nil {
		t.Fatal(err)
	}

	if svc.lastCode != "return 1+1" {
		t.Errorf("lastCode = %q", svc.lastCode)
	}
	if !strings.Contains(out.String(), "42") {
		t.Errorf("output = %q, want it to contain 42", out.String())
	}
}

func TestRunStopsOnQuit(t *testing.T) {
	svc := &fakeService{}
	in := strings.NewReader("quit\nshould not run\n")
	var out bytes.Buffer

	r := New(svc, in, &out, "bob", false)
	if err := r.Run(); err != nil {
		t.Fatal(err)
	}
	if svc.lastCode != "" {
		t.Errorf("expected no eval to run after quit, got %q", svc.lastCode)
	}
}

func TestRunSkipsBlankLines(t *testing.T) {
	svc := &fakeService{resp: protocol.EvalResponse{Lines: []string{"ok"}}}
	in := strings.NewReader("\n\nreturn 1\nexit\n")
	var out bytes.Buffer

	r := New(svc, in, &out, "carol", false)
	if err := r.Run(); err != nil {
		t.Fatal(err)
	}
	if svc.lastCode != "return 1" {
		t.Errorf("lastCode = %q, want return 1", svc.lastCode)
	}
}

func TestRunReportsMoreAvailableAndRevision(t *testing.T) {
	svc := &fakeService{resp: protocol.EvalResponse{
		Lines:         []string{"line1"},
		MoreAvailable: true,
		Revision:      &protocol.RevisionDescriptor{ID: "abcdef1234567890"},
	}}
	in := strings.NewReader("run\nexit\n")
	var out bytes.Buffer

	r := New(svc, in, &out, "dave", true)
	if err := r.Run(); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "more output available") {
		t.Error("expected more-available hint in output")
	}
	if !strings.Contains(out.String(), "committed abcdef12") {
		t.Errorf("output = %q, want committed short id", out.String())
	}
}
