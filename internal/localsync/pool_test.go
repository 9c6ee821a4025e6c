package localsync

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/zsuzuki/filesync/internal/inventory"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := OpenIndex(filepath.Join(t.TempDir(), "index"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}

func writeSrc(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRunCopiesChangedFiles(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	writeSrc(t, src, "a.txt", "hello")
	writeSrc(t, src, "nested/b.txt", "world")

	pool := New(Options{SrcRoot: src, DstRoot: dst, Scheme: inventory.ContentHash, NumWorkers: 2}, newTestIndex(t))
	if err := pool.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(filepath.Join(dst, "a.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello" {
		t.Fatalf("a.txt = %q, want hello", got)
	}
	got, err = os.ReadFile(filepath.Join(dst, "nested", "b.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "world" {
		t.Fatalf("nested/b.txt = %q, want world", got)
	}
}

func TestRunIsIdempotentOnSecondPass(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	writeSrc(t, src, "a.txt", "hello")
	idx := newTestIndex(t)

	pool := New(Options{SrcRoot: src, DstRoot: dst, Scheme: inventory.ContentHash}, idx)
	if err := pool.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	marker := time.Unix(1000, 0)
	if err := os.Chtimes(filepath.Join(dst, "a.txt"), marker, marker); err != nil {
		t.Fatal(err)
	}

	pool2 := New(Options{SrcRoot: src, DstRoot: dst, Scheme: inventory.ContentHash}, idx)
	if err := pool2.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(filepath.Join(dst, "a.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if !info.ModTime().Equal(marker) {
		t.Fatal("second run re-copied an unchanged file, expected it to be left alone")
	}
}

func TestIndexMonotonicityAfterCopy(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	writeSrc(t, src, "a.txt", "hello")
	idx := newTestIndex(t)
	srcPath := filepath.Join(src, "a.txt")

	wantHash, err := inventory.HashFile(srcPath)
	if err != nil {
		t.Fatal(err)
	}

	pool := New(Options{SrcRoot: src, DstRoot: dst, Scheme: inventory.ContentHash}, idx)
	if err := pool.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	fp, ok, err := idx.Get(srcPath)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || fp != wantHash {
		t.Fatalf("index[%s] = (%q, %v), want (%q, true)", srcPath, fp, ok, wantHash)
	}

	// Unrelated reads of the index must not perturb the stored value.
	if _, _, err := idx.Get("unrelated/key"); err != nil {
		t.Fatal(err)
	}
	fp, ok, err = idx.Get(srcPath)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || fp != wantHash {
		t.Fatalf("index[%s] changed after an unrelated read, want it unchanged at %q", srcPath, wantHash)
	}
}

func TestCheckOnlySuppressesCopy(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	writeSrc(t, src, "a.txt", "hello")

	pool := New(Options{SrcRoot: src, DstRoot: dst, Scheme: inventory.ContentHash, CheckOnly: true}, newTestIndex(t))
	if err := pool.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(dst, "a.txt")); !os.IsNotExist(err) {
		t.Fatal("check-only run should not have copied anything")
	}
}
