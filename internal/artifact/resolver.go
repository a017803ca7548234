package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Match describes how confidently a file was picked.
type Match string

// Match strengths, strongest first.
const (
	MatchNone    Match = "none"
	MatchPattern Match = "pattern"
	MatchRelaxed Match = "extension"
)

// Resolution is the resolver's verdict for one job.
type Resolution struct {
	Name     string
	Match    Match
	NewFiles []string
}

// Found reports whether an artifact was selected.
func (r Resolution) Found() bool {
	return r.Name != ""
}

// Resolver picks the artifact among newly appeared files.
//
// Preference order: names with Prefix and Extension, then any name with
// Extension. Within a tier the most recently modified file wins and equal
// times fall back to the lexicographically smallest name.
type Resolver struct {
	Prefix    string
	Extension string
	// Stat is replaceable in tests; defaults to os.Stat.
	Stat func(string) (os.FileInfo, error)
}

// NewResolver returns a Resolver for the given naming convention.
func NewResolver(prefix, extension string) *Resolver {
	return &Resolver{Prefix: prefix, Extension: extension, Stat: os.Stat}
}

// Resolve compares two snapshots of dir and selects the job's artifact.
// A zero Resolution (Found() == false) means the worker produced nothing
// recognizable.
func (r *Resolver) Resolve(dir string, before, after Snapshot) (Resolution, error) {
	added := Diff(before, after)
	res := Resolution{Match: MatchNone, NewFiles: added}
	if len(added) == 0 {
		return res, nil
	}

	var strong, relaxed []string
	for _, name := range added {
		if !r.hasExtension(name) {
			continue
		}
		relaxed = append(relaxed, name)
		if strings.HasPrefix(name, r.Prefix) {
			strong = append(strong, name)
		}
	}

	for _, tier := range []struct {
		match Match
		names []string
	}{
		{MatchPattern, strong},
		{MatchRelaxed, relaxed},
	} {
		name, err := r.newest(dir, tier.names)
		if err != nil {
			return res, err
		}
		if name != "" {
			res.Name = name
			res.Match = tier.match
			return res, nil
		}
	}
	return res, nil
}

func (r *Resolver) hasExtension(name string) bool {
	return strings.EqualFold(filepath.Ext(name), r.Extension)
}

// newest returns the most recently modified of names. Names are expected in
// sorted order so the first of equally recent files is the smallest. Files
// that disappeared since the snapshot are skipped.
func (r *Resolver) newest(dir string, names []string) (string, error) {
	stat := r.Stat
	if stat == nil {
		stat = os.Stat
	}
	var (
		best     string
		bestTime time.Time
	)
	for _, name := range names {
		info, err := stat(filepath.Join(dir, name))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("stat %s: %w", name, err)
		}
		if best == "" || info.ModTime().After(bestTime) {
			best = name
			bestTime = info.ModTime()
		}
	}
	return best, nil
}
