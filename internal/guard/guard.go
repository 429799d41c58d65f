// Package guard confines all filesystem operations performed on behalf
// of a project to that project's folder, rejecting any path that would
// escape it via "..", symlinks, or an absolute path outside the root.
package guard

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// ErrOutsideRoot indicates a requested path resolves outside the
// Guard's confined root.
var ErrOutsideRoot = errors.New("path escapes project root")

// ErrForeignPath indicates a patch carries a unified-diff file header
// (`--- `/`+++ `) naming a path other than the one it was asked to
// patch, or headers for more than one file.
var ErrForeignPath = errors.New("patch references foreign path")

// Guard confines reads, writes, and patches to Root.
type Guard struct {
	Root string
}

// New creates a Guard rooted at root. root is made absolute and
// symlink-resolved once up front so later comparisons are cheap.
func New(root string) (*Guard, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("guard: resolve root: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if os.IsNotExist(err) {
			resolved = abs
		} else {
			return nil, fmt.Errorf("guard: resolve root symlinks: %w", err)
		}
	}
	return &Guard{Root: resolved}, nil
}

// resolveSafe joins rel onto Root and verifies the result stays inside
// Root, resolving symlinks on any existing ancestor so a symlink cannot
// be used to point outside the confined tree.
func (g *Guard) resolveSafe(rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("guard: %w: %q is absolute", ErrOutsideRoot, rel)
	}

	joined := filepath.Join(g.Root, rel)
	if joined != g.Root && !strings.HasPrefix(joined, g.Root+string(filepath.Separator)) {
		return "", fmt.Errorf("guard: %w: %q", ErrOutsideRoot, rel)
	}

	resolved, err := resolveExistingSymlinks(joined)
	if err != nil {
		return "", err
	}
	if resolved != g.Root && !strings.HasPrefix(resolved, g.Root+string(filepath.Separator)) {
		return "", fmt.Errorf("guard: %w: %q resolves outside root via symlink", ErrOutsideRoot, rel)
	}

	return joined, nil
}

// resolveExistingSymlinks walks up from path until it finds an
// existing ancestor, resolves that ancestor's symlinks, and rejoins
// the non-existent suffix. This lets writeFile create new files while
// still catching a symlinked parent directory that escapes the root.
func resolveExistingSymlinks(path string) (string, error) {
	cur := path
	var suffix []string
	for {
		if _, err := os.Lstat(cur); err == nil {
			resolved, err := filepath.EvalSymlinks(cur)
			if err != nil {
				return "", fmt.Errorf("guard: eval symlinks: %w", err)
			}
			for i := len(suffix) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, suffix[i])
			}
			return resolved, nil
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return path, nil
		}
		suffix = append(suffix, filepath.Base(cur))
		cur = parent
	}
}

// List returns the names of entries directly inside rel (relative to
// Root).
func (g *Guard) List(rel string) ([]string, error) {
	dir, err := g.resolveSafe(rel)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("guard: list %q: %w", rel, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

// ReadFile reads the file at rel (relative to Root).
func (g *Guard) ReadFile(rel string) ([]byte, error) {
	path, err := g.resolveSafe(rel)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("guard: read %q: %w", rel, err)
	}
	return data, nil
}

// WriteFile writes content to rel, creating parent directories as
// needed. If dryRun is true, the write is validated but not performed.
func (g *Guard) WriteFile(rel string, content []byte, dryRun bool) error {
	path, err := g.resolveSafe(rel)
	if err != nil {
		return err
	}
	if dryRun {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("guard: mkdir for %q: %w", rel, err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("guard: write %q: %w", rel, err)
	}
	return nil
}

// AppendFile appends content to rel, creating it (and its parent
// directories) if it does not already exist.
func (g *Guard) AppendFile(rel string, content []byte, dryRun bool) error {
	path, err := g.resolveSafe(rel)
	if err != nil {
		return err
	}
	if dryRun {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("guard: mkdir for %q: %w", rel, err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("guard: open %q for append: %w", rel, err)
	}
	defer f.Close()
	if _, err := f.Write(content); err != nil {
		return fmt.Errorf("guard: append %q: %w", rel, err)
	}
	return nil
}

// ApplyPatch applies a unified diff patch to the file at rel using
// diff-match-patch's fuzzy-matching patch format.
func (g *Guard) ApplyPatch(rel string, patchText string, dryRun bool) (string, error) {
	if err := checkPatchTargetsPath(rel, patchText); err != nil {
		return "", err
	}

	path, err := g.resolveSafe(rel)
	if err != nil {
		return "", err
	}

	original, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("guard: read %q for patch: %w", rel, err)
	}

	// PatchFromText accepts only diff-match-patch hunks, so drop any
	// leading file headers checkPatchTargetsPath has already validated.
	body := strings.Split(patchText, "\n")
	for len(body) > 0 && patchHeaderRE.MatchString(body[0]) {
		body = body[1:]
	}
	dmp := diffmatchpatch.New()
	patches, err := dmp.PatchFromText(strings.Join(body, "\n"))
	if err != nil {
		return "", fmt.Errorf("guard: parse patch for %q: %w", rel, err)
	}

	patched, applied := dmp.PatchApply(patches, string(original))
	for i, ok := range applied {
		if !ok {
			return "", fmt.Errorf("guard: patch hunk %d failed to apply to %q", i, rel)
		}
	}

	if dryRun {
		return patched, nil
	}
	if err := os.WriteFile(path, []byte(patched), 0o644); err != nil {
		return "", fmt.Errorf("guard: write patched %q: %w", rel, err)
	}
	return patched, nil
}

// patchHeaderRE matches a unified-diff file header line ("--- a/foo"
// or "+++ b/foo"), capturing the path with any leading "a/"/"b/" still
// attached.
var patchHeaderRE = regexp.MustCompile(`^(?:---|\+\+\+)\s+(\S+)`)

// checkPatchTargetsPath rejects patchText if it carries a unified-diff
// file header naming a path other than rel, or headers for more than
// one distinct file. Patches with no headers at all (diff-match-patch's
// own bare format) are allowed through unchecked.
func checkPatchTargetsPath(rel, patchText string) error {
	seen := make(map[string]bool)
	for _, line := range strings.Split(patchText, "\n") {
		m := patchHeaderRE.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		header := normalizePatchHeaderPath(m[1])
		if header == "" || header == "dev/null" {
			continue
		}
		seen[header] = true
	}

	if len(seen) == 0 {
		return nil
	}
	if len(seen) > 1 {
		return fmt.Errorf("guard: %w: patch headers name multiple files", ErrForeignPath)
	}

	want := normalizePatchHeaderPath(rel)
	for header := range seen {
		if header != want && !strings.HasSuffix(want, "/"+header) && !strings.HasSuffix(header, "/"+want) {
			return fmt.Errorf("guard: %w: patch header names %q, expected %q", ErrForeignPath, header, rel)
		}
	}
	return nil
}

// normalizePatchHeaderPath strips a leading "a/"/"b/" diff prefix and
// surrounding slashes so headers from either side of a diff compare
// equal to a bare project-relative path.
func normalizePatchHeaderPath(p string) string {
	p = strings.TrimPrefix(p, "a/")
	p = strings.TrimPrefix(p, "b/")
	return strings.Trim(p, "/")
}

// ReplaceRange replaces the 1-indexed, inclusive line range [start,end]
// of rel with newContent's lines.
func (g *Guard) ReplaceRange(rel string, start, end int, newContent string, dryRun bool) error {
	if start < 1 || end < start {
		return fmt.Errorf("guard: invalid range [%d,%d] for %q", start, end, rel)
	}

	path, err := g.resolveSafe(rel)
	if err != nil {
		return err
	}
	original, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("guard: read %q for range replace: %w", rel, err)
	}

	lines := strings.Split(string(original), "\n")
	if start > len(lines) || end > len(lines) {
		return fmt.Errorf("guard: range [%d,%d] exceeds %d lines in %q", start, end, len(lines), rel)
	}

	replacement := strings.Split(newContent, "\n")
	out := append([]string{}, lines[:start-1]...)
	out = append(out, replacement...)
	out = append(out, lines[end:]...)
	result := strings.Join(out, "\n")

	if dryRun {
		return nil
	}
	if err := os.WriteFile(path, []byte(result), 0o644); err != nil {
		return fmt.Errorf("guard: write range-replaced %q: %w", rel, err)
	}
	return nil
}

// Exists reports whether rel exists inside Root.
func (g *Guard) Exists(rel string) bool {
	path, err := g.resolveSafe(rel)
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}
