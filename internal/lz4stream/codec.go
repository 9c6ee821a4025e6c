// Package lz4stream wraps github.com/pierrec/lz4/v4 so that a file
// transfer can be compressed and decompressed one fixed-size block at a
// time while still benefiting from an LZ4 compression window that spans
// the whole file, matching the "one compressor instance across all blocks"
// contract of spec.md §4.2.
package lz4stream

import (
	"bytes"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
)

// Encoder compresses a sequence of same-transfer blocks, preserving the
// LZ4 window across calls.
type Encoder struct {
	buf *bytes.Buffer
	w   *lz4.Writer
}

// NewEncoder creates a streaming compressor using fast-mode acceleration
// factor 1, as spec.md §4.2 requires.
func NewEncoder() *Encoder {
	buf := &bytes.Buffer{}
	w := lz4.NewWriter(buf)
	_ = w.Apply(lz4.CompressionLevelOption(lz4.Fast))
	return &Encoder{buf: buf, w: w}
}

// Encode compresses chunk and returns the compressed bytes produced for it.
// Each call's output depends on the history of all previous chunks passed
// to this Encoder.
func (e *Encoder) Encode(chunk []byte) ([]byte, error) {
	if _, err := e.w.Write(chunk); err != nil {
		return nil, fmt.Errorf("lz4stream: compress: %w", err)
	}
	if err := e.w.Flush(); err != nil {
		return nil, fmt.Errorf("lz4stream: flush: %w", err)
	}
	out := make([]byte, e.buf.Len())
	copy(out, e.buf.Bytes())
	e.buf.Reset()
	return out, nil
}

// Close releases the encoder's resources. It does not close any
// underlying transport; lz4stream never owns the socket.
func (e *Encoder) Close() error {
	return e.w.Close()
}

// Decoder decompresses a sequence of same-transfer blocks produced by the
// matching Encoder, one block at a time.
//
// A background goroutine runs for the Decoder's whole lifetime, copying
// everything lz4.Reader produces into a second pipe. Decode only reads
// from that second pipe when it expects a non-zero number of plaintext
// bytes back. This indirection matters for zero-size blocks (an empty
// file, or the trailing EOF block of a file whose length is an exact
// multiple of the block size): io.ReadFull never calls the underlying
// Read at all when asked for zero bytes (see io.ReadAtLeast — its loop
// condition is already false when min is 0), so a Decode call that both
// wrote the block's bytes AND expected to read them back out in the same
// call would deadlock on an empty block. Splitting "drain what was
// written" from "read what Decode asked for" into two independent pipes
// means the background copy keeps draining regardless of whether this
// particular call ever reads anything.
type Decoder struct {
	pw   *io.PipeWriter
	outR *io.PipeReader
}

// NewDecoder creates a streaming decompressor.
func NewDecoder() *Decoder {
	pr, pw := io.Pipe()
	r := lz4.NewReader(pr)

	outR, outW := io.Pipe()
	go func() {
		_, err := io.Copy(outW, r)
		outW.CloseWithError(err)
	}()

	return &Decoder{pw: pw, outR: outR}
}

// Decode decompresses one block's compressed bytes and returns exactly
// uncompressedSize bytes of plaintext. Block N depends on the decoder
// state left behind by blocks 0..N-1, as spec.md §4.2 requires.
func (d *Decoder) Decode(compressed []byte, uncompressedSize int) ([]byte, error) {
	errCh := make(chan error, 1)
	go func() {
		_, err := d.pw.Write(compressed)
		errCh <- err
	}()

	out := make([]byte, uncompressedSize)
	if uncompressedSize > 0 {
		if _, err := io.ReadFull(d.outR, out); err != nil {
			return nil, fmt.Errorf("lz4stream: decompress: %w", err)
		}
	}
	if err := <-errCh; err != nil {
		return nil, fmt.Errorf("lz4stream: pipe write: %w", err)
	}
	return out, nil
}

// Close releases the decoder's resources.
func (d *Decoder) Close() error {
	return d.pw.Close()
}
