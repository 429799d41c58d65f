package guard

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sergi/go-diff/diffmatchpatch"
)

func newTestGuard(t *testing.T) (*Guard, string) {
	t.Helper()
	root := t.TempDir()
	g, err := New(root)
	if err != nil {
		t.Fatalf("unexpected error creating guard: %v", err)
	}
	return g, root
}

func TestWriteAndReadFile(t *testing.T) {
	g, _ := newTestGuard(t)

	if err := g.WriteFile("notes/todo.txt", []byte("hello"), false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := g.ReadFile("notes/todo.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("expected %q, got %q", "hello", data)
	}
}

func TestWriteFileDryRunDoesNotTouchDisk(t *testing.T) {
	g, root := newTestGuard(t)

	if err := g.WriteFile("a.txt", []byte("x"), true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "a.txt")); !os.IsNotExist(err) {
		t.Errorf("expected file not to exist after dry run, stat err: %v", err)
	}
}

func TestResolveSafeRejectsParentEscape(t *testing.T) {
	g, _ := newTestGuard(t)

	_, err := g.ReadFile("../../etc/passwd")
	if err == nil {
		t.Fatal("expected error for path escaping root")
	}
}

func TestResolveSafeRejectsAbsolutePath(t *testing.T) {
	g, _ := newTestGuard(t)

	_, err := g.ReadFile("/etc/passwd")
	if err == nil {
		t.Fatal("expected error for absolute path")
	}
}

func TestResolveSafeRejectsSymlinkEscape(t *testing.T) {
	g, root := newTestGuard(t)

	outside := t.TempDir()
	if err := os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("nope"), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := os.Symlink(outside, filepath.Join(root, "escape")); err != nil {
		t.Fatalf("setup symlink: %v", err)
	}

	_, err := g.ReadFile("escape/secret.txt")
	if err == nil {
		t.Fatal("expected error for path escaping root via symlink")
	}
}

func TestAppendFileCreatesThenAppends(t *testing.T) {
	g, _ := newTestGuard(t)

	if err := g.AppendFile("log.txt", []byte("one\n"), false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := g.AppendFile("log.txt", []byte("two\n"), false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := g.ReadFile("log.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "one\ntwo\n" {
		t.Errorf("expected appended content, got %q", data)
	}
}

func TestReplaceRange(t *testing.T) {
	g, _ := newTestGuard(t)

	if err := g.WriteFile("f.txt", []byte("a\nb\nc\nd\n"), false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := g.ReplaceRange("f.txt", 2, 3, "x\ny", false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := g.ReadFile("f.txt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "a\nx\ny\nd\n"
	if string(data) != want {
		t.Errorf("expected %q, got %q", want, data)
	}
}

func TestReplaceRangeInvalidBounds(t *testing.T) {
	g, _ := newTestGuard(t)
	if err := g.WriteFile("f.txt", []byte("a\nb\n"), false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := g.ReplaceRange("f.txt", 0, 1, "x", false); err == nil {
		t.Error("expected error for start < 1")
	}
	if err := g.ReplaceRange("f.txt", 5, 6, "x", false); err == nil {
		t.Error("expected error for range exceeding file length")
	}
}

func TestExists(t *testing.T) {
	g, _ := newTestGuard(t)
	if g.Exists("missing.txt") {
		t.Error("expected missing.txt not to exist")
	}
	if err := g.WriteFile("present.txt", []byte("y"), false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !g.Exists("present.txt") {
		t.Error("expected present.txt to exist")
	}
}

func TestList(t *testing.T) {
	g, _ := newTestGuard(t)
	if err := g.WriteFile("dir/a.txt", []byte("1"), false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := g.WriteFile("dir/b.txt", []byte("2"), false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	names, err := g.List("dir")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(names) != 2 {
		t.Errorf("expected 2 entries, got %d: %v", len(names), names)
	}
}

func makePatch(t *testing.T, before, after string) string {
	t.Helper()
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(before, after, false)
	patches := dmp.PatchMake(before, diffs)
	return dmp.PatchToText(patches)
}

func TestApplyPatchAppliesCleanPatch(t *testing.T) {
	g, _ := newTestGuard(t)
	if err := g.WriteFile("notes.txt", []byte("line one\nline two\n"), false); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	patch := makePatch(t, "line one\nline two\n", "line one\nline TWO\n")

	got, err := g.ApplyPatch("notes.txt", patch, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "line one\nline TWO\n" {
		t.Errorf("unexpected patched content: %q", got)
	}
}

func TestApplyPatchRejectsForeignPathHeader(t *testing.T) {
	g, _ := newTestGuard(t)
	if err := g.WriteFile("notes.txt", []byte("line one\nline two\n"), false); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	patch := makePatch(t, "line one\nline two\n", "line one\nline TWO\n")
	patch = "--- a/other.txt\n+++ b/other.txt\n" + patch

	if _, err := g.ApplyPatch("notes.txt", patch, false); !errors.Is(err, ErrForeignPath) {
		t.Fatalf("expected ErrForeignPath, got %v", err)
	}
}

func TestApplyPatchRejectsMultipleFileHeaders(t *testing.T) {
	g, _ := newTestGuard(t)
	if err := g.WriteFile("notes.txt", []byte("line one\n"), false); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	patch := makePatch(t, "line one\n", "line ONE\n")
	patch = "--- a/notes.txt\n+++ b/other.txt\n" + patch

	if _, err := g.ApplyPatch("notes.txt", patch, false); !errors.Is(err, ErrForeignPath) {
		t.Fatalf("expected ErrForeignPath, got %v", err)
	}
}

func TestApplyPatchAllowsMatchingHeader(t *testing.T) {
	g, _ := newTestGuard(t)
	if err := g.WriteFile("src/notes.txt", []byte("line one\n"), false); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	patch := makePatch(t, "line one\n", "line ONE\n")
	patch = "--- a/src/notes.txt\n+++ b/src/notes.txt\n" + patch

	got, err := g.ApplyPatch("src/notes.txt", patch, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(got, "line ONE") {
		t.Errorf("unexpected patched content: %q", got)
	}
}
