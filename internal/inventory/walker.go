package inventory

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/semaphore"
)

// InventoryFileName is always excluded from a walk of the root that
// contains it (spec.md §4.4).
const InventoryFileName = "files.json"

const hashChunkSize = 8 << 10 // 8 KiB, spec.md §4.4

// memoKey identifies a file well enough to tell whether it needs
// rehashing: an unchanged (size, mtime) pair is assumed to mean unchanged
// content, exactly as the reconciler itself assumes for the destination
// side.
type memoKey struct {
	path  string
	size  int64
	mtime int64
}

// Walker builds inventories for one root directory using one fingerprint
// scheme. A Walker may be reused across repeated rebuilds of the same
// root; its content-hash memo persists across calls and only ever saves
// work, never changes an answer (a cache miss always falls back to
// reading the file).
type Walker struct {
	Scheme   Scheme
	Exclude  *regexp.Regexp
	Parallel int // 0 or 1 disables concurrent hashing
	hashMemo *lru.Cache[memoKey, string]
}

// NewWalker returns a Walker for the given scheme. memoSize bounds the
// content-hash memo (ignored in ModTime mode); 0 disables memoization.
func NewWalker(scheme Scheme, exclude *regexp.Regexp, memoSize int) *Walker {
	w := &Walker{Scheme: scheme, Exclude: exclude}
	if scheme == ContentHash && memoSize > 0 {
		c, err := lru.New[memoKey, string](memoSize)
		if err == nil {
			w.hashMemo = c
		}
	}
	return w
}

// fileTask is one regular file discovered by the walk, in traversal order.
type fileTask struct {
	relPath string
	absPath string
	info    fs.FileInfo
}

// Walk produces the inventory of root, filtered by any of: the built-in
// files.json exclusion, the optional pattern filter (content-hash mode's
// explicit filename list), and the Walker's exclusion regexp.
func (w *Walker) Walk(ctx context.Context, root string, nameFilter []string) ([]Record, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("inventory: resolve root: %w", err)
	}
	jsonPath := filepath.Join(absRoot, InventoryFileName)

	var tasks []fileTask
	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if path == jsonPath {
			return nil
		}
		if len(nameFilter) > 0 && !matchesAny(nameFilter, d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(absRoot, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if w.Exclude != nil && w.Exclude.MatchString(rel) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		tasks = append(tasks, fileTask{relPath: rel, absPath: path, info: info})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("inventory: walk %s: %w", absRoot, err)
	}

	records := make([]Record, len(tasks))
	if w.Scheme == ModTime || w.Parallel <= 1 {
		for i, task := range tasks {
			fp, err := w.fingerprint(task)
			if err != nil {
				return nil, err
			}
			records[i] = Record{Path: task.relPath, Fingerprint: fp}
		}
		return records, nil
	}

	return w.fingerprintParallel(ctx, tasks, records)
}

// fingerprintParallel hashes independent files concurrently, bounded by
// w.Parallel via a weighted semaphore. Results are written into
// pre-allocated slots by task index, so the returned slice's order is
// identical to the sequential path's.
func (w *Walker) fingerprintParallel(ctx context.Context, tasks []fileTask, records []Record) ([]Record, error) {
	sem := semaphore.NewWeighted(int64(w.Parallel))
	errs := make(chan error, len(tasks))

	for i, task := range tasks {
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		go func(i int, task fileTask) {
			defer sem.Release(1)
			fp, err := w.fingerprint(task)
			if err != nil {
				errs <- err
				return
			}
			records[i] = Record{Path: task.relPath, Fingerprint: fp}
			errs <- nil
		}(i, task)
	}

	if err := sem.Acquire(ctx, int64(w.Parallel)); err != nil {
		return nil, err
	}
	close(errs)
	for err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return records, nil
}

func (w *Walker) fingerprint(task fileTask) (string, error) {
	if w.Scheme == ModTime {
		return strconv.FormatInt(task.info.ModTime().Unix(), 10), nil
	}
	return w.contentHash(task)
}

func (w *Walker) contentHash(task fileTask) (string, error) {
	key := memoKey{path: task.absPath, size: task.info.Size(), mtime: task.info.ModTime().UnixNano()}
	if w.hashMemo != nil {
		if fp, ok := w.hashMemo.Get(key); ok {
			return fp, nil
		}
	}

	fp, err := HashFile(task.absPath)
	if err != nil {
		return "", err
	}
	if w.hashMemo != nil {
		w.hashMemo.Add(key, fp)
	}
	return fp, nil
}

// Fingerprint computes a single file's fingerprint under scheme, without
// requiring a Walker or a full directory walk. The local worker pool (C7)
// uses this directly, one path at a time, rather than the batch Walk path.
func Fingerprint(scheme Scheme, path string) (string, error) {
	if scheme == ModTime {
		info, err := os.Stat(path)
		if err != nil {
			return "", fmt.Errorf("inventory: stat %s: %w", path, err)
		}
		return strconv.FormatInt(info.ModTime().Unix(), 10), nil
	}
	return HashFile(path)
}

// HashFile computes the 32-lowercase-hex-digit MD5 of a file's contents,
// reading it in 8 KiB chunks (spec.md §4.4).
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("inventory: open %s: %w", path, err)
	}
	defer f.Close()

	h := md5.New()
	buf := make([]byte, hashChunkSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("inventory: hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func matchesAny(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

// SortByPath sorts records by relative path, giving the inventory a
// deterministic order independent of filesystem traversal order.
func SortByPath(records []Record) {
	sort.Slice(records, func(i, j int) bool { return records[i].Path < records[j].Path })
}
