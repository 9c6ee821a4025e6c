package localsync

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/zsuzuki/filesync/internal/inventory"
	"github.com/zsuzuki/filesync/internal/logger"
)

var l = logger.DefaultLogger.NewFacility("localsync", "local worker pool")

// DefaultWorkerCount is max(1, hardware_concurrency/2), spec.md §4.7's
// worker-count default.
func DefaultWorkerCount() int {
	if n := runtime.NumCPU() / 2; n > 0 {
		return n
	}
	return 1
}

// Options configures one run of the pool (spec.md §4.7 mode flags).
type Options struct {
	SrcRoot    string
	DstRoot    string
	Scheme     inventory.Scheme
	CheckOnly  bool
	Verbose    bool
	NumWorkers int
	// Exclude, if set, is tested against the source-relative,
	// slash-separated path of each file the producer walk finds; a match
	// skips the file entirely (spec.md §6's --pattern flag).
	Exclude *regexp.Regexp
}

type taskKind int

const (
	taskCheck taskKind = iota
	taskCopy
)

// task is the tagged-variant queue entry: a check task names one source
// path; a copy task names a resolved (src, dst, fingerprint) triple. One
// struct with a kind tag, not two task types behind an interface — the
// same "no class hierarchies for two shapes" policy C3's sendEntry
// follows.
type task struct {
	kind        taskKind
	srcPath     string // check
	src, dst    string // copy
	fingerprint string // copy
}

// Pool runs the two-stage check/copy pipeline over one producer walk of
// Options.SrcRoot (spec.md §4.7).
type Pool struct {
	opts  Options
	index *Index

	mu    sync.Mutex
	cond  *sync.Cond
	queue []task

	outstanding int64 // atomic
	terminate   int32 // atomic bool
}

// New constructs a Pool backed by idx. If opts.NumWorkers is 0,
// DefaultWorkerCount is used.
func New(opts Options, idx *Index) *Pool {
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = DefaultWorkerCount()
	}
	p := &Pool{opts: opts, index: idx}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Run walks opts.SrcRoot, enqueuing one check task per regular file, starts
// opts.NumWorkers workers, and blocks until the queue is empty and the
// outstanding-work counter is zero (spec.md §4.7's producer contract).
func (p *Pool) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < p.opts.NumWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.worker(ctx)
		}()
	}

	walkErr := filepath.WalkDir(p.opts.SrcRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if p.opts.Exclude != nil {
			rel, relErr := filepath.Rel(p.opts.SrcRoot, path)
			if relErr == nil && p.opts.Exclude.MatchString(filepath.ToSlash(rel)) {
				return nil
			}
		}
		atomic.AddInt64(&p.outstanding, 1)
		p.push(task{kind: taskCheck, srcPath: path})
		return nil
	})

	p.waitDrained()
	atomic.StoreInt32(&p.terminate, 1)
	p.cond.Broadcast()
	wg.Wait()

	return walkErr
}

func (p *Pool) push(t task) {
	p.mu.Lock()
	p.queue = append(p.queue, t)
	p.mu.Unlock()
	p.cond.Signal()
}

func (p *Pool) pop() (task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.queue) == 0 {
		if atomic.LoadInt32(&p.terminate) != 0 {
			return task{}, false
		}
		p.cond.Wait()
	}
	t := p.queue[0]
	p.queue = p.queue[1:]
	return t, true
}

func (p *Pool) waitDrained() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.queue) > 0 || atomic.LoadInt64(&p.outstanding) > 0 {
		p.cond.Wait()
	}
}

// decrementOutstanding accounts for one finished unit of work and wakes
// waitDrained so it can recheck its condition promptly instead of only on
// the next enqueue.
func (p *Pool) decrementOutstanding() {
	atomic.AddInt64(&p.outstanding, -1)
	// Broadcast under the mutex so the wakeup cannot fall between
	// waitDrained's check of the counter and its cond.Wait.
	p.mu.Lock()
	p.cond.Broadcast()
	p.mu.Unlock()
}

func (p *Pool) worker(ctx context.Context) {
	for {
		t, ok := p.pop()
		if !ok {
			return
		}
		switch t.kind {
		case taskCheck:
			p.runCheck(t)
		case taskCopy:
			p.runCopy(t)
		}
	}
}

// runCheck implements the check task exactly as spec.md §4.7 describes it:
// fingerprint, compare to the index, translate the path, and either
// enqueue a copy task or decrement the outstanding-work counter.
func (p *Pool) runCheck(t task) {
	fp, err := inventory.Fingerprint(p.opts.Scheme, t.srcPath)
	if err != nil {
		l.Warnf("fingerprint %s: %v", t.srcPath, err)
		p.decrementOutstanding()
		return
	}

	update := false
	prev, ok, err := p.index.Get(t.srcPath)
	if err != nil {
		l.Warnf("index lookup %s: %v", t.srcPath, err)
	}
	if !ok || prev != fp {
		update = true
	}

	dst, err := p.translate(t.srcPath)
	if err != nil {
		l.Warnf("translate %s: %v", t.srcPath, err)
		p.decrementOutstanding()
		return
	}

	if !update {
		if _, err := os.Stat(dst); err != nil {
			update = true
		}
	}

	if update && !p.opts.CheckOnly {
		if p.opts.Verbose {
			l.Infof("pending copy %s -> %s", t.srcPath, dst)
		}
		if err := p.index.Put(t.srcPath, fp); err != nil {
			l.Warnf("index store %s: %v", t.srcPath, err)
		}
		p.push(task{kind: taskCopy, src: t.srcPath, dst: dst, fingerprint: fp})
		return
	}

	if update && p.opts.Verbose {
		l.Infof("would copy %s -> %s (check-only)", t.srcPath, dst)
	}
	p.decrementOutstanding()
}

// runCopy implements the copy task: ensure dst's parent exists, replace
// any existing dst, copy src's bytes across, and decrement the
// outstanding-work counter (spec.md §4.7). The index entry for this path
// was already written by the check task that produced this copy task, so
// there is nothing left to persist here but the bytes.
func (p *Pool) runCopy(t task) {
	defer p.decrementOutstanding()

	if err := os.MkdirAll(filepath.Dir(t.dst), 0o755); err != nil {
		l.Warnf("mkdir for %s: %v", t.dst, err)
		return
	}
	if err := os.Remove(t.dst); err != nil && !os.IsNotExist(err) {
		l.Warnf("remove existing %s: %v", t.dst, err)
		return
	}
	if err := copyFile(t.src, t.dst); err != nil {
		l.Warnf("copy %s -> %s: %v", t.src, t.dst, err)
		return
	}
	if p.opts.Verbose {
		l.Infof("copied %s -> %s", t.src, t.dst)
	}
}

// translate maps a source path to its destination path by taking its path
// relative to the source root and joining that onto the destination root.
// Paths outside the source root are rejected.
func (p *Pool) translate(srcPath string) (string, error) {
	rel, err := filepath.Rel(p.opts.SrcRoot, srcPath)
	if err != nil {
		return "", fmt.Errorf("localsync: %s is not under %s: %w", srcPath, p.opts.SrcRoot, err)
	}
	if strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("localsync: %s escapes source root %s", srcPath, p.opts.SrcRoot)
	}
	return filepath.Join(p.opts.DstRoot, rel), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
