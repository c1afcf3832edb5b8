package vpath

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrInvalidPath is returned for an unknown root, an escape attempt, or a
// malformed virtual path. The HTTP handlers surface it as 404, except
// list-batch, which fails the whole request with 400; a single error kind is
// sufficient per the resolver's contract.
var ErrInvalidPath = errors.New("vpath: invalid path")

// Roots is the process-wide mapping from a short virtual root name to the
// absolute directory it exposes. It is built once at startup and never
// mutated afterward.
type Roots struct {
	byName map[string]string
	names  []string // sorted, for BuildTrees
}

// NewRoots builds a Roots registry from a list of directories. Each
// directory's basename becomes its virtual root name; a duplicate basename
// is a fatal configuration error, returned here rather than exiting so the
// caller controls the process lifecycle.
func NewRoots(dirs []string) (*Roots, error) {
	r := &Roots{byName: make(map[string]string, len(dirs))}
	for _, d := range dirs {
		abs, err := filepath.Abs(d)
		if err != nil {
			return nil, fmt.Errorf("vpath: resolving %q: %w", d, err)
		}
		info, err := os.Stat(abs)
		if err != nil || !info.IsDir() {
			return nil, fmt.Errorf("vpath: not a directory: %s", d)
		}
		name := Encode(filepath.Base(abs))
		if _, dup := r.byName[name]; dup {
			return nil, fmt.Errorf("vpath: duplicate directory names not allowed: %s", filepath.Base(abs))
		}
		r.byName[name] = abs
		r.names = append(r.names, name)
	}
	sort.Strings(r.names)
	return r, nil
}

// Resolve maps a virtual path "<root>/<rest>" to an absolute filesystem
// path, rejecting anything that escapes the mapped root.
func (r *Roots) Resolve(virtual string) (string, error) {
	decoded, err := Decode(virtual)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}

	name, rest, _ := strings.Cut(decoded, "/")
	base, ok := r.byName[name]
	if !ok {
		return "", fmt.Errorf("%w: unknown root %q", ErrInvalidPath, name)
	}
	if rest == "" {
		return base, nil
	}

	candidate := filepath.Join(base, rest)
	resolved, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		// The target may not exist yet (e.g. a directory listing probe);
		// fall back to a lexical join so "not found" is distinguishable
		// from "escaped the root" by the caller.
		resolved = filepath.Clean(candidate)
	}
	realBase, err := filepath.EvalSymlinks(base)
	if err != nil {
		realBase = base
	}
	if resolved != realBase && !strings.HasPrefix(resolved, realBase+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q escapes root %q", ErrInvalidPath, virtual, name)
	}
	return resolved, nil
}

// TreeNode is one directory in the tree exposed by GET /api/tree.
type TreeNode struct {
	Name string     `json:"name"`
	Dirs []TreeNode `json:"dirs"`
}

// BuildTrees walks every root and returns its subdirectory tree, skipping
// dot-prefixed names and sorting siblings lexicographically.
func (r *Roots) BuildTrees() []TreeNode {
	trees := make([]TreeNode, 0, len(r.names))
	for _, name := range r.names {
		trees = append(trees, walkTree(r.byName[name], name))
	}
	return trees
}

func walkTree(dir, name string) TreeNode {
	node := TreeNode{Name: name}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return node
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		node.Dirs = append(node.Dirs, walkTree(filepath.Join(dir, e.Name()), Encode(e.Name())))
	}
	return node
}
