// Package safety confines paths built from stored export records and
// archive entries to the directory they belong to.
package safety

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnsafePath is wrapped by every rejection in this package.
var ErrUnsafePath = errors.New("unsafe path")

// CleanRelativePath normalizes a relative path such as a tar entry name.
// Absolute paths, parent traversal and NUL bytes are rejected.
func CleanRelativePath(p string) (string, error) {
	switch {
	case p == "":
		return "", fmt.Errorf("%w: empty", ErrUnsafePath)
	case strings.ContainsRune(p, 0):
		return "", fmt.Errorf("%w: NUL byte in %q", ErrUnsafePath, p)
	}

	clean := filepath.Clean(filepath.FromSlash(p))
	switch {
	case clean == ".":
		return "", fmt.Errorf("%w: %q resolves to the root itself", ErrUnsafePath, p)
	case filepath.IsAbs(clean) || filepath.VolumeName(clean) != "":
		return "", fmt.Errorf("%w: absolute path %q", ErrUnsafePath, p)
	case escapes(clean):
		return "", fmt.Errorf("%w: parent traversal in %q", ErrUnsafePath, p)
	}
	return clean, nil
}

// SafeJoinUnder joins rel under root and returns the absolute result,
// failing if it would land outside root.
func SafeJoinUnder(root, rel string) (string, error) {
	cleanRel, err := CleanRelativePath(rel)
	if err != nil {
		return "", err
	}
	return EnsureUnderRoot(root, filepath.Join(root, cleanRel))
}

// PartPath resolves an artifact part file name inside an export directory.
// Part names are single path elements; anything with a separator is rejected.
func PartPath(dir, name string) (string, error) {
	if name != filepath.Base(filepath.FromSlash(name)) || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: part name %q is not a plain file name", ErrUnsafePath, name)
	}
	return SafeJoinUnder(dir, name)
}

// EnsureUnderRoot verifies candidate stays under root once symlinks in the
// existing part of either path are resolved, and returns candidate as an
// absolute path.
func EnsureUnderRoot(root, candidate string) (string, error) {
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}
	candAbs, err := filepath.Abs(candidate)
	if err != nil {
		return "", fmt.Errorf("resolve candidate: %w", err)
	}

	rootReal, err := resolveExisting(rootAbs)
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}
	candReal, err := resolveExisting(candAbs)
	if err != nil {
		return "", fmt.Errorf("resolve candidate: %w", err)
	}

	rel, err := filepath.Rel(rootReal, candReal)
	if err != nil {
		return "", fmt.Errorf("%w: compare paths: %v", ErrUnsafePath, err)
	}
	if escapes(rel) {
		return "", fmt.Errorf("%w: %q escapes %q", ErrUnsafePath, candidate, root)
	}
	return candAbs, nil
}

func escapes(rel string) bool {
	return rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// resolveExisting evaluates symlinks in the longest existing prefix of p
// and re-attaches the rest.
func resolveExisting(p string) (string, error) {
	var rest []string
	cur := p
	for {
		real, err := filepath.EvalSymlinks(cur)
		if err == nil {
			return filepath.Join(append([]string{real}, rest...)...), nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return p, nil
		}
		rest = append([]string{filepath.Base(cur)}, rest...)
		cur = parent
	}
}
