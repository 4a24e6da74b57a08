// Package revision wraps the content-addressed store's directory as a
// git-backed revision log: every change set is committed with the
// submitter as author, history reads the commit log, and rollback resets
// the working tree to an earlier commit.
//
// Grounded in the git CLI wrapper style used throughout the example pack
// (see Aureuma-si/tools/si/internal/vault/git.go): small functions, each
// one `exec.Command("git", ...)` with cmd.Dir set and stderr captured for
// error context.
package revision

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/nextlevelbuilder/scriptkeeper/pkg/protocol"
)

// Log wraps a git repository rooted at Root.
type Log struct {
	Root string
}

// Open ensures a git repository exists at root, initializing one (or
// cloning from remoteURL when given) if it does not, and returns a Log
// wrapping it. A freshly initialized repository gets empty procs/_index
// and vars/_index files as its initial commit.
func Open(root, remoteURL, sshKey string) (*Log, error) {
	if _, err := exec.LookPath("git"); err != nil {
		return nil, fmt.Errorf("git not found in PATH: %w", err)
	}

	if isGitRepo(root) {
		return &Log{Root: root}, nil
	}

	if remoteURL != "" {
		if err := cloneRemote(root, remoteURL, sshKey); err != nil {
			return nil, fmt.Errorf("clone state repo: %w", err)
		}
		return &Log{Root: root}, nil
	}

	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	if err := run(root, "init"); err != nil {
		return nil, fmt.Errorf("git init: %w", err)
	}
	for _, kind := range []string{"procs", "vars"} {
		if err := os.MkdirAll(filepath.Join(root, kind), 0o755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(filepath.Join(root, kind, "_index"), nil, 0o644); err != nil {
			return nil, err
		}
	}
	l := &Log{Root: root}
	if err := l.commitAll("scriptkeeper", "scriptkeeper@local", "initial empty state"); err != nil {
		return nil, fmt.Errorf("initial commit: %w", err)
	}
	return l, nil
}

func isGitRepo(root string) bool {
	info, err := os.Stat(filepath.Join(root, ".git"))
	return err == nil && info.IsDir()
}

func cloneRemote(root, remoteURL, sshKey string) error {
	if err := os.MkdirAll(filepath.Dir(root), 0o755); err != nil {
		return err
	}
	cmd := exec.Command("git", "clone", remoteURL, root)
	if sshKey != "" {
		cmd.Env = append(os.Environ(), fmt.Sprintf("GIT_SSH_COMMAND=ssh -i %s -o IdentitiesOnly=yes", sshKey))
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

func run(dir string, args ...string) error {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

func output(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

func (l *Log) commitAll(author, email, message string) error {
	if err := run(l.Root, "add", "-A"); err != nil {
		return err
	}
	// -c user.name/-c user.email stand in for a committer identity; hosts
	// running scriptkeeper need no git config of their own.
	authorArg := fmt.Sprintf("%s <%s>", author, email)
	return run(l.Root, "-c", "user.name="+author, "-c", "user.email="+email,
		"commit", "--author="+authorArg, "-m", message)
}

var statsRe = regexp.MustCompile(`(\d+) files? changed(?:, (\d+) insertions?\(\+\))?(?:, (\d+) deletions?\(-\))?`)

// Commit stages every path under the state root and commits the change
// set, with author name = submitter user, author email = "<user>@<origin>",
// and message = the submitted code. Callers must only invoke Commit when
// there is actually something to commit (an empty diff short-circuits
// upstream in the worker).
func (l *Log) Commit(user, origin, message string) (*protocol.RevisionDescriptor, error) {
	if err := run(l.Root, "add", "-A"); err != nil {
		return nil, err
	}

	authorArg := fmt.Sprintf("%s <%s@%s>", user, user, origin)
	out, err := output(l.Root, "-c", "user.name=scriptkeeper", "-c", "user.email=scriptkeeper@local",
		"commit", "--author="+authorArg, "-m", message)
	if err != nil {
		return nil, err
	}

	id, err := output(l.Root, "rev-parse", "HEAD")
	if err != nil {
		return nil, err
	}

	files, ins, del := 0, 0, 0
	if m := statsRe.FindStringSubmatch(out); m != nil {
		files, _ = strconv.Atoi(m[1])
		ins, _ = strconv.Atoi(m[2])
		del, _ = strconv.Atoi(m[3])
	}

	return &protocol.RevisionDescriptor{
		ID:           strings.TrimSpace(id),
		Author:       user,
		Message:      message,
		FilesChanged: files,
		Insertions:   ins,
		Deletions:    del,
		Time:         time.Now(),
	}, nil
}

const logFieldSep = "\x00"

// Log returns the newest limit commits from HEAD, newest first.
func (l *Log) Log(limit int) ([]protocol.RevisionDescriptor, error) {
	if limit <= 0 {
		limit = 10
	}
	// git expands %x00 to the NUL separator; a literal NUL cannot be passed
	// in an exec argument.
	format := strings.Join([]string{"%H", "%aI", "%an", "%s"}, "%x00")
	out, err := output(l.Root, "log", fmt.Sprintf("-n%d", limit), "--pretty=format:"+format)
	if err != nil {
		if strings.Contains(err.Error(), "does not have any commits") {
			return nil, nil
		}
		return nil, err
	}
	if strings.TrimSpace(out) == "" {
		return nil, nil
	}
	var revs []protocol.RevisionDescriptor
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		fields := strings.Split(line, logFieldSep)
		if len(fields) != 4 {
			continue
		}
		t, _ := time.Parse(time.RFC3339, fields[1])
		revs = append(revs, protocol.RevisionDescriptor{
			ID:      fields[0],
			Time:    t,
			Author:  fields[2],
			Message: fields[3],
		})
	}
	return revs, nil
}

// Checkout resets the working tree (and HEAD) to the given commit. The
// caller is responsible for restarting the evaluator worker afterward so
// the in-memory interpreter reloads from the now-rolled-back state.
func (l *Log) Checkout(id string) error {
	return run(l.Root, "reset", "--hard", id)
}
