// ABOUTME: Workspace containment for caller-supplied paths.
// ABOUTME: Comparison is case-insensitive and separator-normalised, on a path-component boundary.

package executor

import (
	"path/filepath"
	"strings"

	"github.com/2389/workbridge/internal/protocol"
)

// canonicalRoot resolves symlinks in root when it exists.
func canonicalRoot(root string) string {
	root = filepath.Clean(root)
	if real, err := filepath.EvalSymlinks(root); err == nil {
		return real
	}
	return root
}

// resolve maps p (relative to the root, or absolute) to an absolute path
// inside the workspace. A path that leaves the root, directly or through a
// symlink, is a policy denial.
func (e *Executor) resolve(p string) (string, error) {
	var abs string
	if filepath.IsAbs(p) {
		abs = filepath.Clean(p)
	} else {
		abs = filepath.Join(e.root, p)
	}
	if !within(e.root, abs) {
		return "", protocol.Errorf(protocol.KindPolicy, protocol.CodePathEscape, "path outside workspace root: %s", p)
	}

	if real, err := filepath.EvalSymlinks(abs); err == nil {
		if !within(e.root, real) {
			return "", protocol.Errorf(protocol.KindPolicy, protocol.CodePathEscape, "path outside workspace root: %s", p)
		}
		abs = real
	}
	return abs, nil
}

// within reports whether target is root or lies beneath it.
func within(root, target string) bool {
	r := normalize(root)
	t := normalize(target)
	if t == r {
		return true
	}
	if !strings.HasSuffix(r, "/") {
		r += "/"
	}
	return strings.HasPrefix(t, r)
}

func normalize(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	return strings.ToLower(filepath.ToSlash(filepath.Clean(p)))
}

// relative returns abs relative to the root with forward slashes.
func (e *Executor) relative(abs string) string {
	rel, err := filepath.Rel(e.root, abs)
	if err != nil {
		return filepath.ToSlash(abs)
	}
	return filepath.ToSlash(rel)
}
