package goarc

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/goarc/goarc/internal/session"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFile(t *testing.T, path, content string, perm os.FileMode) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), perm); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(path, perm); err != nil {
		t.Fatal(err)
	}
}

func TestWalkTreeOrder(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a", "x.txt"), "x", 0o644)
	writeFile(t, filepath.Join(root, "b.txt"), "b", 0o644)

	var got []string
	err := walkTree(context.Background(), root, nil, discardLogger(), func(e *session.Entry, src io.Reader) error {
		got = append(got, e.Path)
		if src != nil {
			if _, err := io.Copy(io.Discard, src); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("walkTree: %v", err)
	}

	// Children of root only, parents before their contents, no entry
	// for root itself.
	want := []string{"a", "a/x.txt", "b.txt"}
	if len(got) != len(want) {
		t.Fatalf("walked %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("walked %v, want %v", got, want)
		}
	}
}

func TestWalkTreeExcludePrunes(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "keep", "k.txt"), "k", 0o644)
	writeFile(t, filepath.Join(root, "skip", "s.txt"), "s", 0o644)
	writeFile(t, filepath.Join(root, "note.md"), "n", 0o644)

	var got []string
	err := walkTree(context.Background(), root, []string{"skip", "**/*.md"}, discardLogger(),
		func(e *session.Entry, src io.Reader) error {
			got = append(got, e.Path)
			return nil
		})
	if err != nil {
		t.Fatalf("walkTree: %v", err)
	}
	for _, p := range got {
		if p == "skip" || p == "skip/s.txt" || p == "note.md" {
			t.Fatalf("excluded path %q was walked", p)
		}
	}
	if len(got) != 2 {
		t.Fatalf("walked %v, want keep and keep/k.txt", got)
	}
}

func TestWalkTreeCancelled(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "a", 0o644)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := walkTree(ctx, root, nil, discardLogger(), func(e *session.Entry, src io.Reader) error {
		t.Fatal("walk callback ran after cancellation")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("walkTree = %v, want context.Canceled", err)
	}
}

func TestWalkTreeCallbackErrorStops(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "a", 0o644)
	writeFile(t, filepath.Join(root, "b.txt"), "b", 0o644)

	boom := errors.New("boom")
	var calls int
	err := walkTree(context.Background(), root, nil, discardLogger(), func(e *session.Entry, src io.Reader) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("walkTree = %v, want callback error", err)
	}
	if calls != 1 {
		t.Fatalf("callback ran %d times after failing", calls)
	}
}
