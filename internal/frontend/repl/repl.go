// Package repl implements a terminal frontend: a plain read-eval-print
// loop over stdin/stdout for local and interactive use, driving the
// same Service every other frontend drives.
//
// Grounded in the bufio.Scanner-driven interactive loops used throughout
// the example pack's CLI tools (e.g. dyad_interactive.go's command
// prompt in the si tool).
package repl

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/nextlevelbuilder/scriptkeeper/pkg/protocol"
)

// Service is the subset of internal/service.Service the frontend drives.
type Service interface {
	Eval(code string, ctx protocol.EvalContext) protocol.EvalResponse
}

// REPL reads lines from in, evaluates each as a script, and writes the
// response to out.
type REPL struct {
	svc    Service
	in     io.Reader
	out    io.Writer
	user   string
	admin  bool
	prompt string
}

// New builds a REPL. User and admin describe the identity every
// evaluation in this session runs as; a terminal session has no
// separate chat identity to authenticate.
func New(svc Service, in io.Reader, out io.Writer, user string, admin bool) *REPL {
	return &REPL{svc: svc, in: in, out: out, user: user, admin: admin, prompt: "> "}
}

// Run drives the loop until in is exhausted (EOF), an "exit" or "quit"
// line is read, or a read error occurs. It returns nil on a clean EOF and
// on exit/quit.
func (r *REPL) Run() error {
	scanner := bufio.NewScanner(r.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	fmt.Fprint(r.out, r.prompt)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Fprint(r.out, r.prompt)
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}

		resp := r.svc.Eval(line, protocol.EvalContext{User: r.user, Origin: "repl", IsAdmin: r.admin})
		r.printResponse(resp)
		fmt.Fprint(r.out, r.prompt)
	}
	return scanner.Err()
}

func (r *REPL) printResponse(resp protocol.EvalResponse) {
	for _, line := range resp.Lines {
		fmt.Fprintln(r.out, line)
	}
	if resp.MoreAvailable {
		fmt.Fprintln(r.out, "(more output available - type `more`)")
	}
	if resp.Revision != nil {
		fmt.Fprintf(r.out, "committed %s\n", resp.Revision.ShortID())
	}
}
