// Package snapshot captures the set of user-defined procedures and global
// variables in an interpreter at a point in time, and computes the set
// difference between two such captures.
package snapshot

import "sort"

// Snapshot is the set of proc names and global-variable names visible in
// the interpreter at the moment it was taken.
type Snapshot struct {
	Procs   map[string]bool
	Globals map[string]bool
}

// New builds a Snapshot from raw name lists (as returned by the
// interpreter's own introspection commands).
func New(procs, globals []string) Snapshot {
	s := Snapshot{Procs: make(map[string]bool, len(procs)), Globals: make(map[string]bool, len(globals))}
	for _, p := range procs {
		s.Procs[p] = true
	}
	for _, g := range globals {
		s.Globals[g] = true
	}
	return s
}

// StateDiff holds the four disjoint name lists produced by comparing two
// snapshots. Within each kind, New and Deleted never overlap.
type StateDiff struct {
	NewProcs     []string
	DeletedProcs []string
	NewVars      []string
	DeletedVars  []string
}

// Empty reports whether the diff changed nothing.
func (d StateDiff) Empty() bool {
	return len(d.NewProcs) == 0 && len(d.DeletedProcs) == 0 && len(d.NewVars) == 0 && len(d.DeletedVars) == 0
}

// Diff computes new/deleted names for procs and globals between before and
// after. new(X) = after \ before; deleted(X) = before \ after.
func Diff(before, after Snapshot) StateDiff {
	return StateDiff{
		NewProcs:     setDiff(after.Procs, before.Procs),
		DeletedProcs: setDiff(before.Procs, after.Procs),
		NewVars:      setDiff(after.Globals, before.Globals),
		DeletedVars:  setDiff(before.Globals, after.Globals),
	}
}

// setDiff returns the sorted list of keys in a but not in b.
func setDiff(a, b map[string]bool) []string {
	var out []string
	for name := range a {
		if !b[name] {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
