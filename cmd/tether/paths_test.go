package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func mkModelDir(t *testing.T, root, name string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", name, err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte("{}"), 0o644); err != nil {
		t.Fatalf("write config %s: %v", name, err)
	}
	return dir
}

func TestDiscoverModelDirsSorted(t *testing.T) {
	root := t.TempDir()
	b := mkModelDir(t, root, "b")
	a := mkModelDir(t, root, "a")
	if err := os.MkdirAll(filepath.Join(root, "no-config"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "ignore.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	got, err := discoverModelDirs(root)
	if err != nil {
		t.Fatalf("discoverModelDirs returned error: %v", err)
	}
	want := []string{a, b}
	if len(got) != len(want) {
		t.Fatalf("unexpected model count: got %d want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected ordering at %d: got %q want %q", i, got[i], want[i])
		}
	}
}

func TestDiscoverModelDirsSelf(t *testing.T) {
	dir := mkModelDir(t, t.TempDir(), "bert")
	mkModelDir(t, dir, "nested")

	got, err := discoverModelDirs(dir)
	if err != nil {
		t.Fatalf("discoverModelDirs returned error: %v", err)
	}
	if len(got) != 1 || got[0] != dir {
		t.Fatalf("expected the directory itself, got %v", got)
	}
}

func TestResolveModelDir(t *testing.T) {
	t.Run("model flag bypasses env", func(t *testing.T) {
		t.Setenv(envTetherModelsDir, "")
		got, err := resolveModelDir("/tmp/bert/", "", bytes.NewBuffer(nil), io.Discard)
		if err != nil {
			t.Fatalf("resolveModelDir returned error: %v", err)
		}
		if got != filepath.Clean("/tmp/bert") {
			t.Fatalf("unexpected model path: got %q", got)
		}
	})

	t.Run("nothing configured", func(t *testing.T) {
		t.Setenv(envTetherModelsDir, "")
		if _, err := resolveModelDir("", "", bytes.NewBuffer(nil), io.Discard); err == nil {
			t.Fatalf("expected error without --model or models dir")
		}
	})

	t.Run("single model selects automatically", func(t *testing.T) {
		root := t.TempDir()
		only := mkModelDir(t, root, "only")
		t.Setenv(envTetherModelsDir, root)

		prevTTY := stdinIsTTY
		stdinIsTTY = func() bool { return false }
		defer func() { stdinIsTTY = prevTTY }()

		got, err := resolveModelDir("", "", bytes.NewBuffer(nil), io.Discard)
		if err != nil {
			t.Fatalf("resolveModelDir returned error: %v", err)
		}
		if got != only {
			t.Fatalf("unexpected model path: got %q want %q", got, only)
		}
	})

	t.Run("multiple models requires tty", func(t *testing.T) {
		root := t.TempDir()
		mkModelDir(t, root, "a")
		mkModelDir(t, root, "b")
		t.Setenv(envTetherModelsDir, root)

		prevTTY := stdinIsTTY
		stdinIsTTY = func() bool { return false }
		defer func() { stdinIsTTY = prevTTY }()

		if _, err := resolveModelDir("", "", bytes.NewBuffer(nil), io.Discard); err == nil {
			t.Fatalf("expected error when multiple models and stdin is not a tty")
		}
	})

	t.Run("interactive selection chooses sorted index", func(t *testing.T) {
		root := t.TempDir()
		b := mkModelDir(t, root, "b")
		mkModelDir(t, root, "a")

		prevTTY := stdinIsTTY
		stdinIsTTY = func() bool { return true }
		defer func() { stdinIsTTY = prevTTY }()

		got, err := resolveModelDir("", root, bytes.NewBufferString("x\n2\n"), io.Discard)
		if err != nil {
			t.Fatalf("resolveModelDir returned error: %v", err)
		}
		if got != b {
			t.Fatalf("unexpected model selection: got %q want %q", got, b)
		}
	})
}
