// Package artifact observes the shared output directory and decides which
// newly written file belongs to a job.
//
// The worker writes straight into a directory shared by every job and names
// its output itself, so the only evidence of what a job produced is the
// difference between two listings taken around the worker run. Nothing in
// this package creates or modifies files in that directory.
package artifact

import (
	"fmt"
	"os"
	"sort"
)

// Snapshot is an immutable set of file names present in a directory at one
// instant.
type Snapshot struct {
	names map[string]struct{}
}

// NewSnapshot builds a Snapshot from a list of names.
func NewSnapshot(names ...string) Snapshot {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return Snapshot{names: set}
}

// Take lists the top level of dir. Subdirectories are not descended into
// and are not reported.
func Take(dir string) (Snapshot, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot %s: %w", dir, err)
	}
	set := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		set[e.Name()] = struct{}{}
	}
	return Snapshot{names: set}, nil
}

// Len returns the number of names in the snapshot.
func (s Snapshot) Len() int {
	return len(s.names)
}

// Has reports whether name was present.
func (s Snapshot) Has(name string) bool {
	_, ok := s.names[name]
	return ok
}

// Names returns the snapshot contents in lexicographic order.
func (s Snapshot) Names() []string {
	out := make([]string, 0, len(s.names))
	for n := range s.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Diff returns the names in after that are not in before, sorted so callers
// never depend on directory listing order.
func Diff(before, after Snapshot) []string {
	var added []string
	for n := range after.names {
		if !before.Has(n) {
			added = append(added, n)
		}
	}
	sort.Strings(added)
	return added
}
