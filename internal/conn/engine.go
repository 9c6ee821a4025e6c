// Package conn implements the connection engine (spec.md C3): one
// full-duplex byte stream, a serialized FIFO send queue enforcing a single
// outstanding write at a time, and a two-mode receive state machine
// (message vs file).
//
// There is no shared reactor here the way the C++ original used a single
// boost::asio::io_service; each Engine drives its own send loop and
// receive loop on their own goroutines. The contract that matters is
// unchanged: for messages A enqueued before B, A's bytes precede B's bytes
// on the wire, with no interleaving, and the engine never mixes
// message-mode and file-mode reads within one subscription.
package conn

import (
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"

	"github.com/zsuzuki/filesync/internal/lz4stream"
	"github.com/zsuzuki/filesync/internal/logger"
	"github.com/zsuzuki/filesync/internal/wire"
)

var l = logger.DefaultLogger.NewFacility("conn", "wire protocol connection engine")

// MessageCallback receives a decoded message frame, or command "error"
// with an empty field list on a read failure (spec.md §4.3, §7).
type MessageCallback func(command string, fields []string)

// FileDoneCallback is invoked once a file-mode receive has written the
// final block to disk (or failed to).
type FileDoneCallback func(err error)

// Engine owns one net.Conn for its lifetime.
type Engine struct {
	conn    net.Conn
	queue   sendQueue
	metrics *Metrics
}

// New wraps c in an Engine. metrics may be nil.
func New(c net.Conn, m *Metrics) *Engine {
	if m == nil {
		m = NewMetrics(nil, "conn")
	}
	return &Engine{conn: c, metrics: m}
}

// Close closes the underlying connection.
func (e *Engine) Close() error {
	return e.conn.Close()
}

// RemoteAddr returns the underlying connection's remote address.
func (e *Engine) RemoteAddr() net.Addr {
	return e.conn.RemoteAddr()
}

// Send enqueues a message frame. It is safe to call from any goroutine;
// enqueue() is the one entry point the send queue's mutex must arbitrate
// against concurrent callers (spec.md §5).
func (e *Engine) Send(command string, fields []string, cb func(ok bool)) {
	if cb == nil {
		cb = func(bool) {}
	}
	entry, _, err := newMessageEntry(command, fields, cb)
	if err != nil {
		l.Warnf("encode %q: %v", command, err)
		cb(false)
		return
	}
	e.enqueue(entry)
}

// SendFile enqueues a file transfer. The command name on the opening frame
// is fixed to "filecopy" per spec.md §6.
func (e *Engine) SendFile(path string, cb func(ok bool)) error {
	if cb == nil {
		cb = func(bool) {}
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	e.enqueue(&sendEntry{
		kind:     kindFile,
		command:  "filecopy",
		src:      f,
		encoder:  lz4stream.NewEncoder(),
		remain:   info.Size(),
		callback: cb,
	})
	return nil
}

func (e *Engine) enqueue(entry *sendEntry) {
	if e.queue.push(entry) {
		go e.sendLoop()
	}
}

// sendLoop pops the head of the queue, writes its header, then dispatches
// on its kind. It re-enters itself (not another queue pop) to send
// successive blocks of one file entry, and loops over queue pops until the
// queue drains — matching spec.md §4.3's send loop exactly.
func (e *Engine) sendLoop() {
	for {
		entry := e.queue.front()
		if entry == nil {
			return
		}

		var ok bool
		switch entry.kind {
		case kindMessage:
			ok = e.writeMessage(entry)
		case kindFile:
			ok = e.writeFile(entry)
		}

		if entry.kind == kindFile && entry.src != nil {
			entry.src.Close()
		}
		if entry.encoder != nil {
			entry.encoder.Close()
		}
		entry.callback(ok)

		if !e.queue.pop() {
			return
		}
	}
}

func (e *Engine) writeMessage(entry *sendEntry) bool {
	h := wire.Header{Length: uint64(len(entry.body)), Count: entry.count}
	copy(h.Command[:], entry.command)
	if _, err := e.conn.Write(h.MarshalBinary()); err != nil {
		l.Debugf("write header: %v", err)
		return false
	}
	if _, err := e.conn.Write(entry.body); err != nil {
		l.Debugf("write body: %v", err)
		return false
	}
	e.metrics.BytesSent.Inc(int64(wire.HeaderSize + len(entry.body)))
	return true
}

func (e *Engine) writeFile(entry *sendEntry) bool {
	h := wire.Header{Length: uint64(entry.remain), Count: 1}
	copy(h.Command[:], entry.command)
	if _, err := e.conn.Write(h.MarshalBinary()); err != nil {
		l.Debugf("write file header: %v", err)
		return false
	}

	buf := make([]byte, wire.BlockSize)
	for {
		n, readErr := io.ReadFull(entry.src, buf)
		if readErr == io.ErrUnexpectedEOF || readErr == io.EOF {
			// last, possibly partial, block
		} else if readErr != nil {
			l.Debugf("read file body: %v", readErr)
			return false
		}
		eof := readErr == io.EOF || readErr == io.ErrUnexpectedEOF

		compressed, err := entry.encoder.Encode(buf[:n])
		if err != nil {
			l.Debugf("compress block: %v", err)
			return false
		}

		th := wire.TransHeader{Size: uint64(n), CompSize: uint64(len(compressed)), EOF: eof}
		out := append(th.MarshalBinary(), compressed...)
		if _, err := e.conn.Write(out); err != nil {
			l.Debugf("write block: %v", err)
			return false
		}
		e.metrics.BytesSent.Inc(int64(len(out)))

		if eof {
			e.metrics.FilesSent.Inc(1)
			return true
		}
	}
}

// ReceiveMessage performs one message-mode receive: it reads exactly one
// header and body, decodes it, and invokes cb. On any read or decode
// error, including the peer closing the connection (io.EOF), cb is invoked
// with command "error" and no fields (spec.md §4.3, §7). The caller
// re-subscribes (calls ReceiveMessage again) if it wants to keep reading
// messages.
func (e *Engine) ReceiveMessage(cb MessageCallback) {
	go e.receiveMessage(cb)
}

func (e *Engine) receiveMessage(cb MessageCallback) {
	raw := make([]byte, wire.HeaderSize)
	if _, err := io.ReadFull(e.conn, raw); err != nil {
		l.Debugf("read header: %v", err)
		cb("error", nil)
		return
	}
	h, err := wire.UnmarshalHeader(raw)
	if err != nil {
		l.Debugf("decode header: %v", err)
		cb("error", nil)
		return
	}
	body := make([]byte, h.Length)
	if h.Length > 0 {
		if _, err := io.ReadFull(e.conn, body); err != nil {
			l.Debugf("read body: %v", err)
			cb("error", nil)
			return
		}
	}
	e.metrics.BytesReceived.Inc(int64(wire.HeaderSize) + int64(h.Length))

	command, fields, err := wire.Decode(h, body)
	if err != nil {
		l.Debugf("decode body: %v", err)
		cb("error", nil)
		return
	}
	cb(command, fields)
}

// ReceiveFile performs one file-mode receive: it reads the opening command
// header (acknowledging the frame without interpreting it further), then
// loops reading transport blocks and writing their decompressed payload to
// destPath until the EOF-flagged block, invoking cb exactly once.
func (e *Engine) ReceiveFile(destPath string, cb FileDoneCallback) {
	go e.receiveFile(destPath, cb)
}

func (e *Engine) receiveFile(destPath string, cb FileDoneCallback) {
	raw := make([]byte, wire.HeaderSize)
	if _, err := io.ReadFull(e.conn, raw); err != nil {
		cb(fmt.Errorf("conn: read file command header: %w", err))
		return
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		cb(fmt.Errorf("conn: create destination directory: %w", err))
		return
	}
	out, err := os.Create(destPath)
	if err != nil {
		cb(fmt.Errorf("conn: create destination file: %w", err))
		return
	}
	defer out.Close()

	dec := lz4stream.NewDecoder()
	defer dec.Close()

	thRaw := make([]byte, wire.TransHeaderSize)
	for {
		if _, err := io.ReadFull(e.conn, thRaw); err != nil {
			cb(fmt.Errorf("conn: read block header: %w", err))
			return
		}
		th := wire.UnmarshalTransHeader(thRaw)

		compressed := make([]byte, th.CompSize)
		if th.CompSize > 0 {
			if _, err := io.ReadFull(e.conn, compressed); err != nil {
				cb(fmt.Errorf("conn: read block body: %w", err))
				return
			}
		}
		e.metrics.BytesReceived.Inc(int64(wire.TransHeaderSize) + int64(th.CompSize))

		plain, err := dec.Decode(compressed, int(th.Size))
		if err != nil {
			cb(fmt.Errorf("conn: decompress block: %w", err))
			return
		}
		if _, err := out.Write(plain); err != nil {
			cb(fmt.Errorf("conn: write block: %w", err))
			return
		}

		if th.EOF {
			e.metrics.FilesReceived.Inc(1)
			cb(nil)
			return
		}
	}
}

