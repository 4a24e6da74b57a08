// Package interp wraps a capability-restricted gopher-lua virtual machine
// realizing the Script language described by the wrapper contract: procs
// are global functions defined through the proc builtin (which keeps
// their literal args/body text alongside the compiled closure so
// introspection round-trips exactly), global variables are set through
// the set/arrayset builtins and tracked the same way.
package interp

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/nextlevelbuilder/scriptkeeper/internal/blobstore"
)

// Library resource filenames under the state root, loaded at construction
// if present.
const (
	libraryFileName  = "stolen-treasure.tcl"
	wordListFileName = "english_words.txt"
)

type procEntry struct {
	args string
	body string
}

// Interpreter is a single gopher-lua VM plus the side-registries needed to
// answer the wrapper's introspection contract.
type Interpreter struct {
	L       *lua.LState
	procs   map[string]procEntry
	scalars map[string]bool
	arrays  map[string]bool
}

var (
	_ blobstore.ProcSource = (*Interpreter)(nil)
	_ blobstore.VarSource  = (*Interpreter)(nil)
)

// New creates an interpreter: opens the standard libraries, registers the
// Script builtins, revokes the dangerous capabilities, then - if stateRoot
// names an existing directory - loads the library script, the word list,
// and the persisted procs/vars indices, in that order.
func New(stateRoot string) (*Interpreter, error) {
	in := &Interpreter{
		L:       lua.NewState(),
		procs:   make(map[string]procEntry),
		scalars: make(map[string]bool),
		arrays:  make(map[string]bool),
	}

	in.registerBuiltins()
	revokeCapabilities(in.L)

	if stateRoot != "" {
		if _, err := os.Stat(stateRoot); err == nil {
			if err := in.loadPersistedState(stateRoot); err != nil {
				in.L.Close()
				return nil, err
			}
		} else if !os.IsNotExist(err) {
			in.L.Close()
			return nil, err
		}
	}

	return in, nil
}

// Close releases the underlying VM.
func (in *Interpreter) Close() {
	in.L.Close()
}

func (in *Interpreter) registerBuiltins() {
	L := in.L
	L.OpenLibs()

	L.SetGlobal("proc", L.NewFunction(in.luaProc))
	L.SetGlobal("set", L.NewFunction(in.luaSet))
	L.SetGlobal("arrayset", L.NewFunction(in.luaArraySet))
	L.SetGlobal("unset", L.NewFunction(in.luaUnset))
	L.SetGlobal("rename", L.NewFunction(in.luaRename))
	L.SetGlobal("sha1", L.NewFunction(luaSHA1))

	info := L.NewTable()
	L.SetField(info, "procs", L.NewFunction(in.luaInfoProcs))
	L.SetField(info, "vars", L.NewFunction(in.luaInfoVars))
	L.SetField(info, "args", L.NewFunction(in.luaInfoArgs))
	L.SetField(info, "body", L.NewFunction(in.luaInfoBody))
	L.SetGlobal("info", info)
}

// revokeCapabilities hides the surface the wrapper contract's canonical
// dangerous-capability list maps to in gopher-lua's standard library.
// Sub-interpreter creation, event-loop waiting, working-directory
// change/query, and filesystem globbing have no equivalent in gopher-lua's
// stdlib, so there is nothing to revoke for those entries. Network socket
// creation is likewise absent from gopher-lua by default, so the
// "may remain available" clause is moot here; HTTP egress is instead
// provided (and rate-limited) explicitly by the httphelpers package.
func revokeCapabilities(L *lua.LState) {
	L.SetGlobal("load", lua.LNil)      // code-as-value application
	L.SetGlobal("loadstring", lua.LNil)
	L.SetGlobal("dofile", lua.LNil)    // source loading
	L.SetGlobal("loadfile", lua.LNil)
	L.SetGlobal("debug", lua.LNil)     // command tracing

	if co, ok := L.GetGlobal("coroutine").(*lua.LTable); ok {
		co.RawSetString("yield", lua.LNil)
	}
	if osTbl, ok := L.GetGlobal("os").(*lua.LTable); ok {
		for _, name := range []string{"execute", "exit", "rename", "remove", "tmpname"} {
			osTbl.RawSetString(name, lua.LNil)
		}
	}
	if ioTbl, ok := L.GetGlobal("io").(*lua.LTable); ok {
		for _, name := range []string{"open", "lines", "popen", "input", "output", "tmpfile"} {
			ioTbl.RawSetString(name, lua.LNil)
		}
	}
	if pkg, ok := L.GetGlobal("package").(*lua.LTable); ok {
		pkg.RawSetString("loadlib", lua.LNil) // dynamic library loading
	}
}

func (in *Interpreter) defineProc(name, args, body string) error {
	params := strings.Fields(args)
	src := "local function __scriptkeeper_proc(" + strings.Join(params, ", ") + ")\n" + body + "\nend\nreturn __scriptkeeper_proc"
	fn, err := in.L.LoadString(src)
	if err != nil {
		return err
	}
	in.L.Push(fn)
	if err := in.L.PCall(0, 1, nil); err != nil {
		return err
	}
	closure := in.L.Get(-1)
	in.L.Pop(1)
	in.L.SetGlobal(name, closure)
	in.procs[name] = procEntry{args: args, body: body}
	return nil
}

func (in *Interpreter) luaProc(L *lua.LState) int {
	name := L.CheckString(1)
	args := L.CheckString(2)
	body := L.CheckString(3)
	if err := in.defineProc(name, args, body); err != nil {
		L.RaiseError("proc %s: %s", name, err.Error())
	}
	return 0
}

func (in *Interpreter) setScalar(name, value string) {
	in.L.SetGlobal(name, lua.LString(value))
	delete(in.arrays, name)
	in.scalars[name] = true
}

func (in *Interpreter) setArrayPairs(name string, pairs map[string]string) {
	tbl := in.L.NewTable()
	for k, v := range pairs {
		tbl.RawSetString(k, lua.LString(v))
	}
	in.L.SetGlobal(name, tbl)
	delete(in.scalars, name)
	in.arrays[name] = true
}

func (in *Interpreter) luaSet(L *lua.LState) int {
	name := L.CheckString(1)
	value := L.CheckString(2)
	in.setScalar(name, value)
	L.Push(lua.LString(value))
	return 1
}

func (in *Interpreter) luaArraySet(L *lua.LState) int {
	name := L.CheckString(1)
	tbl := L.CheckTable(2)
	pairs := make(map[string]string)
	tbl.ForEach(func(k, v lua.LValue) {
		pairs[k.String()] = v.String()
	})
	in.setArrayPairs(name, pairs)
	return 0
}

func (in *Interpreter) luaUnset(L *lua.LState) int {
	name := L.CheckString(1)
	in.L.SetGlobal(name, lua.LNil)
	delete(in.scalars, name)
	delete(in.arrays, name)
	delete(in.procs, name)
	return 0
}

func (in *Interpreter) luaRename(L *lua.LState) int {
	oldName := L.CheckString(1)
	newName := L.OptString(2, "")
	val := in.L.GetGlobal(oldName)
	meta, hadMeta := in.procs[oldName]
	in.L.SetGlobal(oldName, lua.LNil)
	delete(in.procs, oldName)
	if newName == "" {
		return 0
	}
	in.L.SetGlobal(newName, val)
	if hadMeta {
		in.procs[newName] = meta
	}
	return 0
}

func luaSHA1(L *lua.LState) int {
	data := L.CheckString(1)
	sum := sha1.Sum([]byte(data))
	L.Push(lua.LString(hex.EncodeToString(sum[:])))
	return 1
}

func (in *Interpreter) luaInfoProcs(L *lua.LState) int {
	L.Push(lua.LString(strings.Join(in.ProcNames(), " ")))
	return 1
}

func (in *Interpreter) luaInfoVars(L *lua.LState) int {
	L.Push(lua.LString(strings.Join(in.GlobalNames(), " ")))
	return 1
}

func (in *Interpreter) luaInfoArgs(L *lua.LState) int {
	name := L.CheckString(1)
	entry, ok := in.procs[name]
	if !ok {
		L.RaiseError("info args: no such proc %q", name)
		return 0
	}
	L.Push(lua.LString(entry.args))
	return 1
}

func (in *Interpreter) luaInfoBody(L *lua.LState) int {
	name := L.CheckString(1)
	entry, ok := in.procs[name]
	if !ok {
		L.RaiseError("info body: no such proc %q", name)
		return 0
	}
	L.Push(lua.LString(entry.body))
	return 1
}

// ProcNames returns the sorted names of every currently-defined proc.
func (in *Interpreter) ProcNames() []string {
	names := make([]string, 0, len(in.procs))
	for name := range in.procs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GlobalNames returns the sorted names of every currently-set global
// variable (scalar or array).
func (in *Interpreter) GlobalNames() []string {
	names := make([]string, 0, len(in.scalars)+len(in.arrays))
	for name := range in.scalars {
		names = append(names, name)
	}
	for name := range in.arrays {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ProcArgsBody implements blobstore.ProcSource.
func (in *Interpreter) ProcArgsBody(name string) (args, body string, ok bool) {
	entry, found := in.procs[name]
	if !found {
		return "", "", false
	}
	return entry.args, entry.body, true
}

// IsArray implements blobstore.VarSource.
func (in *Interpreter) IsArray(name string) bool {
	return in.arrays[name]
}

// ScalarValue implements blobstore.VarSource.
func (in *Interpreter) ScalarValue(name string) (string, bool) {
	if !in.scalars[name] {
		return "", false
	}
	return in.L.GetGlobal(name).String(), true
}

// ArrayValue implements blobstore.VarSource.
func (in *Interpreter) ArrayValue(name string) (map[string]string, bool) {
	if !in.arrays[name] {
		return nil, false
	}
	tbl, ok := in.L.GetGlobal(name).(*lua.LTable)
	if !ok {
		return nil, false
	}
	pairs := make(map[string]string)
	tbl.ForEach(func(k, v lua.LValue) {
		pairs[k.String()] = v.String()
	})
	return pairs, true
}

// Extend registers an additional builtin under name. Collaborators (the
// HTTP and stock-quote helper commands) use this to add themselves to the
// interpreter without interp importing them.
func (in *Interpreter) Extend(name string, fn lua.LGFunction) {
	in.L.SetGlobal(name, in.L.NewFunction(fn))
}

// Eval runs code and returns the string form of its result, if any.
func (in *Interpreter) Eval(code string) (string, error) {
	in.L.SetTop(0)
	if err := in.L.DoString(code); err != nil {
		return "", err
	}
	if in.L.GetTop() == 0 {
		return "", nil
	}
	result := in.L.Get(-1)
	in.L.SetTop(0)
	if result == lua.LNil {
		return "", nil
	}
	return result.String(), nil
}

// EvalWithContext sets the three per-request context globals before
// delegating to Eval.
func (in *Interpreter) EvalWithContext(code, user, origin, channel string) (string, error) {
	in.L.SetGlobal("nick", lua.LString(user))
	in.L.SetGlobal("mask", lua.LString(origin))
	in.L.SetGlobal("channel", lua.LString(channel))
	return in.Eval(code)
}

func (in *Interpreter) loadPersistedState(stateRoot string) error {
	libPath := filepath.Join(stateRoot, libraryFileName)
	if data, err := os.ReadFile(libPath); err == nil {
		if err := in.L.DoString(string(data)); err != nil {
			return fmt.Errorf("load %s: %w", libraryFileName, err)
		}
	} else if !os.IsNotExist(err) {
		return err
	}

	wordsPath := filepath.Join(stateRoot, wordListFileName)
	if data, err := os.ReadFile(wordsPath); err == nil {
		tbl := in.L.NewTable()
		idx := 1
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimRight(line, "\r")
			if line == "" {
				continue
			}
			tbl.RawSetInt(idx, lua.LString(line))
			idx++
		}
		in.L.SetGlobal("english_words", tbl)
	} else if !os.IsNotExist(err) {
		return err
	}

	if err := in.restoreProcs(stateRoot); err != nil {
		return err
	}
	return in.restoreVars(stateRoot)
}

func (in *Interpreter) restoreProcs(stateRoot string) error {
	entries, err := blobstore.ReadIndex(stateRoot, blobstore.KindProc)
	if err != nil {
		return err
	}
	for _, e := range entries {
		data, err := blobstore.ReadBlob(stateRoot, blobstore.KindProc, e.Hash)
		if err != nil {
			return fmt.Errorf("load proc %s: %w", e.Name, err)
		}
		parts := blobstore.ParseList(string(data))
		if len(parts) != 2 {
			return fmt.Errorf("malformed proc blob for %s", e.Name)
		}
		if err := in.defineProc(e.Name, parts[0], parts[1]); err != nil {
			return fmt.Errorf("define proc %s: %w", e.Name, err)
		}
	}
	return nil
}

func (in *Interpreter) restoreVars(stateRoot string) error {
	entries, err := blobstore.ReadIndex(stateRoot, blobstore.KindVar)
	if err != nil {
		return err
	}
	for _, e := range entries {
		data, err := blobstore.ReadBlob(stateRoot, blobstore.KindVar, e.Hash)
		if err != nil {
			return fmt.Errorf("load var %s: %w", e.Name, err)
		}
		if err := in.restoreVar(e.Name, string(data)); err != nil {
			return fmt.Errorf("restore var %s: %w", e.Name, err)
		}
	}
	return nil
}

func (in *Interpreter) restoreVar(name, blob string) error {
	switch {
	case strings.HasPrefix(blob, "scalar "):
		in.setScalar(name, blobstore.Unquote(strings.TrimPrefix(blob, "scalar ")))
		return nil
	case strings.HasPrefix(blob, "array "):
		inner := blobstore.Unquote(strings.TrimPrefix(blob, "array "))
		words := blobstore.ParseList(inner)
		pairs := make(map[string]string, len(words)/2)
		for i := 0; i+1 < len(words); i += 2 {
			pairs[words[i]] = words[i+1]
		}
		in.setArrayPairs(name, pairs)
		return nil
	default:
		return fmt.Errorf("unrecognized var blob tag")
	}
}
