package conn

import (
	"io"
	"sync"

	"github.com/zsuzuki/filesync/internal/lz4stream"
	"github.com/zsuzuki/filesync/internal/wire"
)

type entryKind int

const (
	kindMessage entryKind = iota
	kindFile
)

// sendEntry is the tagged send-queue element spec.md's design notes call
// for: one type, one discriminator, per-variant fields — not a class
// hierarchy.
type sendEntry struct {
	kind entryKind

	// kindMessage
	command string
	body    []byte
	count   uint64

	// kindFile
	src     io.ReadCloser
	encoder *lz4stream.Encoder
	remain  int64

	callback func(ok bool)
}

// sendQueue is the FIFO described in spec.md §4.3: a mutex-protected slice
// plus "launch the send loop iff the queue was empty on enqueue".
type sendQueue struct {
	mu      sync.Mutex
	entries []*sendEntry
}

// push appends e and reports whether the queue was empty beforehand (i.e.
// whether the caller must start the send loop).
func (q *sendQueue) push(e *sendEntry) (shouldLaunch bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	shouldLaunch = len(q.entries) == 0
	q.entries = append(q.entries, e)
	return shouldLaunch
}

// front returns the head entry without removing it, or nil if empty.
func (q *sendQueue) front() *sendEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return nil
	}
	return q.entries[0]
}

// pop removes the head entry and reports whether the queue has more work.
func (q *sendQueue) pop() (more bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) > 0 {
		q.entries = q.entries[1:]
	}
	return len(q.entries) > 0
}

func newMessageEntry(command string, fields []string, cb func(ok bool)) (*sendEntry, wire.Header, error) {
	h, body, err := wire.Encode(command, fields)
	if err != nil {
		return nil, wire.Header{}, err
	}
	return &sendEntry{
		kind:     kindMessage,
		command:  command,
		body:     body,
		count:    uint64(len(fields)),
		callback: cb,
	}, h, nil
}
