// Package blobstore implements the content-addressed store: canonical
// serialization of a proc or variable, SHA-1 addressing, and the per-kind
// name->hash index files that make the on-disk repository layout in the
// spec's §3 data model concrete.
package blobstore

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Kind distinguishes the two index namespaces.
type Kind string

const (
	KindProc Kind = "procs"
	KindVar  Kind = "vars"
)

// IndexEntry is one "<name> <hash>" line.
type IndexEntry struct {
	Name string
	Hash string
}

func indexPath(root string, kind Kind) string {
	return filepath.Join(root, string(kind), "_index")
}

func blobPath(root string, kind Kind, hash string) string {
	return filepath.Join(root, string(kind), hash)
}

// HashOf returns the lowercase hex SHA-1 of data.
func HashOf(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}

// ReadIndex parses "<name> <hash>" lines from <root>/<kind>/_index. A
// missing file yields an empty index, not an error.
func ReadIndex(root string, kind Kind) ([]IndexEntry, error) {
	data, err := os.ReadFile(indexPath(root, kind))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var entries []IndexEntry
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		sp := strings.LastIndexByte(line, ' ')
		if sp < 0 {
			continue
		}
		entries = append(entries, IndexEntry{Name: line[:sp], Hash: line[sp+1:]})
	}
	return entries, nil
}

// WriteIndex writes entries sorted lexicographically by name, one
// "<name> <hash>" line each.
func WriteIndex(root string, kind Kind, entries []IndexEntry) error {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%s %s\n", e.Name, e.Hash)
	}
	dir := filepath.Join(root, string(kind))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(indexPath(root, kind), []byte(b.String()), 0o644)
}

// ReadBlob reads the content-addressed blob for hash under kind.
func ReadBlob(root string, kind Kind, hash string) ([]byte, error) {
	return os.ReadFile(blobPath(root, kind, hash))
}

// WriteBlobIfAbsent writes data to its content-addressed path iff no file
// already exists there, and returns the hash.
func WriteBlobIfAbsent(root string, kind Kind, data []byte) (string, error) {
	hash := HashOf(data)
	dir := filepath.Join(root, string(kind))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := blobPath(root, kind, hash)
	if _, err := os.Stat(path); err == nil {
		return hash, nil
	} else if !os.IsNotExist(err) {
		return "", err
	}
	return hash, os.WriteFile(path, data, 0o644)
}

// Quote brace-quotes s if it contains whitespace, braces, or a backslash;
// embedded braces are backslash-escaped. Names and values that need it are
// quoted wherever a generated Script command embeds them.
func Quote(s string) string {
	if s == "" {
		return "{}"
	}
	needsQuote := strings.ContainsAny(s, " \t\n{}\\")
	if !needsQuote {
		return s
	}
	var b strings.Builder
	b.WriteByte('{')
	for i := 0; i < len(s); i++ {
		if s[i] == '{' || s[i] == '}' {
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	b.WriteByte('}')
	return b.String()
}

// Unquote reverses Quote: strips a single layer of brace-quoting and
// unescapes embedded braces. A value that was never brace-quoted passes
// through unchanged.
func Unquote(s string) string {
	if len(s) < 2 || s[0] != '{' || s[len(s)-1] != '}' {
		return s
	}
	inner := s[1 : len(s)-1]
	var b strings.Builder
	for i := 0; i < len(inner); i++ {
		if inner[i] == '\\' && i+1 < len(inner) && (inner[i+1] == '{' || inner[i+1] == '}') {
			i++
		}
		b.WriteByte(inner[i])
	}
	return b.String()
}

// ParseList splits a list literal into its word tokens, honoring {...}
// grouping (a backslash escapes an embedded brace). It is the inverse of
// assembling a blob from Quoted parts, used to decode ArrayBlob's dict
// literal and ProcBlob's two brace groups on state reload.
func ParseList(s string) []string {
	var words []string
	i, n := 0, len(s)
	for i < n {
		for i < n && (s[i] == ' ' || s[i] == '\t' || s[i] == '\n') {
			i++
		}
		if i >= n {
			break
		}
		if s[i] == '{' {
			depth := 1
			i++
			var b strings.Builder
			for i < n && depth > 0 {
				if s[i] == '\\' && i+1 < n && (s[i+1] == '{' || s[i+1] == '}') {
					b.WriteByte(s[i+1])
					i += 2
					continue
				}
				if s[i] == '{' {
					depth++
				} else if s[i] == '}' {
					depth--
					if depth == 0 {
						i++
						break
					}
				}
				b.WriteByte(s[i])
				i++
			}
			words = append(words, b.String())
			continue
		}
		start := i
		for i < n && s[i] != ' ' && s[i] != '\t' && s[i] != '\n' {
			i++
		}
		words = append(words, s[start:i])
	}
	return words
}

// ProcBlob assembles the canonical "{args} {body}" form.
func ProcBlob(args, body string) []byte {
	return []byte(fmt.Sprintf("{%s} {%s}", args, body))
}

// ScalarBlob assembles the canonical "scalar <value-literal>" form.
func ScalarBlob(value string) []byte {
	return []byte("scalar " + Quote(value))
}

// ArrayBlob assembles the canonical "array <dict-literal>" form. Pairs are
// sorted by key for determinism (structurally identical arrays dedupe).
func ArrayBlob(pairs map[string]string) []byte {
	keys := make([]string, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		parts = append(parts, Quote(k), Quote(pairs[k]))
	}
	return []byte("array {" + strings.Join(parts, " ") + "}")
}

// ProcSource is the narrow view of the interpreter blobstore needs to
// serialize a changed proc. Defined here (not in package interp) so interp
// can depend on blobstore without a cycle.
type ProcSource interface {
	ProcArgsBody(name string) (args, body string, ok bool)
}

// VarSource is the narrow view of the interpreter blobstore needs to
// serialize a changed global variable.
type VarSource interface {
	IsArray(name string) bool
	ScalarValue(name string) (value string, ok bool)
	ArrayValue(name string) (pairs map[string]string, ok bool)
}

// PersistResult summarizes what Persist wrote.
type PersistResult struct {
	FilesChanged int
}

// Persist applies a StateDiff-shaped change set (new/deleted proc and var
// names) to the on-disk store: serialize+hash+write each new entity, then
// upsert or remove its index entry. Writes are best-effort: a failure for
// one entity is logged and the remaining entities are still processed.
func Persist(root string, newProcs, deletedProcs, newVars, deletedVars []string, procs ProcSource, vars VarSource) PersistResult {
	result := PersistResult{}

	procIdx, _ := ReadIndex(root, KindProc)
	procMap := toMap(procIdx)
	for _, name := range newProcs {
		args, body, ok := procs.ProcArgsBody(name)
		if !ok {
			slog.Warn("blobstore: proc vanished before persist", "name", name)
			continue
		}
		hash, err := WriteBlobIfAbsent(root, KindProc, ProcBlob(args, body))
		if err != nil {
			slog.Error("blobstore: failed to write proc blob", "name", name, "error", err)
			continue
		}
		procMap[name] = hash
		result.FilesChanged++
	}
	for _, name := range deletedProcs {
		if _, ok := procMap[name]; ok {
			delete(procMap, name)
			result.FilesChanged++
		}
	}
	if len(newProcs)+len(deletedProcs) > 0 {
		if err := WriteIndex(root, KindProc, fromMap(procMap)); err != nil {
			slog.Error("blobstore: failed to write proc index", "error", err)
		} else {
			result.FilesChanged++
		}
	}

	varIdx, _ := ReadIndex(root, KindVar)
	varMap := toMap(varIdx)
	for _, name := range newVars {
		var blob []byte
		if vars.IsArray(name) {
			pairs, ok := vars.ArrayValue(name)
			if !ok {
				slog.Warn("blobstore: array var vanished before persist", "name", name)
				continue
			}
			blob = ArrayBlob(pairs)
		} else {
			value, ok := vars.ScalarValue(name)
			if !ok {
				slog.Warn("blobstore: scalar var vanished before persist", "name", name)
				continue
			}
			blob = ScalarBlob(value)
		}
		hash, err := WriteBlobIfAbsent(root, KindVar, blob)
		if err != nil {
			slog.Error("blobstore: failed to write var blob", "name", name, "error", err)
			continue
		}
		varMap[name] = hash
		result.FilesChanged++
	}
	for _, name := range deletedVars {
		if _, ok := varMap[name]; ok {
			delete(varMap, name)
			result.FilesChanged++
		}
	}
	if len(newVars)+len(deletedVars) > 0 {
		if err := WriteIndex(root, KindVar, fromMap(varMap)); err != nil {
			slog.Error("blobstore: failed to write var index", "error", err)
		} else {
			result.FilesChanged++
		}
	}

	return result
}

func toMap(entries []IndexEntry) map[string]string {
	m := make(map[string]string, len(entries))
	for _, e := range entries {
		m[e.Name] = e.Hash
	}
	return m
}

func fromMap(m map[string]string) []IndexEntry {
	entries := make([]IndexEntry, 0, len(m))
	for name, hash := range m {
		entries = append(entries, IndexEntry{Name: name, Hash: hash})
	}
	return entries
}

// VerifyIndex checks invariant P1: every (name, hash) entry in the index
// points to an extant blob whose SHA-1 equals hash.
func VerifyIndex(root string, kind Kind) error {
	entries, err := ReadIndex(root, kind)
	if err != nil {
		return err
	}
	for _, e := range entries {
		data, err := ReadBlob(root, kind, e.Hash)
		if err != nil {
			return fmt.Errorf("%s: blob for %q (%s) missing: %w", kind, e.Name, e.Hash, err)
		}
		if HashOf(data) != e.Hash {
			return fmt.Errorf("%s: blob for %q does not hash to %s", kind, e.Name, e.Hash)
		}
	}
	return nil
}
