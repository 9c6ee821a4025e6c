// Package wire implements the fixed-layout command frame used by every
// connection in the sync suite: a small header naming a command and the
// number of embedded strings, followed by the strings themselves
// NUL-terminated and concatenated.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// CommandNameSize is the width of the command-name field in a Header.
	CommandNameSize = 128

	// HeaderSize is the on-wire size of a Header: two uint64 fields plus
	// the command-name field.
	HeaderSize = 8 + 8 + CommandNameSize

	// MaxPayload rejects headers that claim an implausible body size.
	// The wire protocol has no other way to bound a hostile or corrupt
	// length field.
	MaxPayload = 16 << 20 // 16 MiB
)

// ErrNoCommand is returned by Decode when a header's command-name field
// contains no NUL terminator within CommandNameSize bytes.
var ErrNoCommand = errors.New("wire: command name not NUL-terminated")

// ErrPayloadTooLarge is returned when a header's declared length exceeds
// MaxPayload.
var ErrPayloadTooLarge = errors.New("wire: payload exceeds maximum frame size")

// ErrEmbeddedNUL is returned by Encode when a string to be framed contains
// a NUL byte, which would corrupt the NUL-terminated body encoding.
var ErrEmbeddedNUL = errors.New("wire: string contains embedded NUL")

// Header is the fixed 144-octet record that precedes every frame's body.
// Length and Count are encoded using the host's native byte order: this
// protocol is explicitly LAN/same-architecture only (spec.md §9).
type Header struct {
	Length  uint64
	Count   uint64
	Command [CommandNameSize]byte
}

// CommandString returns the Header's command name, truncated at the first
// NUL byte.
func (h *Header) CommandString() (string, error) {
	n := indexNUL(h.Command[:])
	if n < 0 {
		return "", ErrNoCommand
	}
	return string(h.Command[:n]), nil
}

func indexNUL(b []byte) int {
	for i, c := range b {
		if c == 0 {
			return i
		}
	}
	return -1
}

// MarshalBinary encodes h into its on-wire 144-byte representation.
func (h *Header) MarshalBinary() []byte {
	buf := make([]byte, HeaderSize)
	binary.NativeEndian.PutUint64(buf[0:8], h.Length)
	binary.NativeEndian.PutUint64(buf[8:16], h.Count)
	copy(buf[16:], h.Command[:])
	return buf
}

// UnmarshalHeader decodes a 144-byte on-wire record into a Header.
func UnmarshalHeader(buf []byte) (Header, error) {
	if len(buf) != HeaderSize {
		return Header{}, fmt.Errorf("wire: header must be %d bytes, got %d", HeaderSize, len(buf))
	}
	var h Header
	h.Length = binary.NativeEndian.Uint64(buf[0:8])
	h.Count = binary.NativeEndian.Uint64(buf[8:16])
	copy(h.Command[:], buf[16:])
	if h.Length > MaxPayload {
		return Header{}, ErrPayloadTooLarge
	}
	return h, nil
}

// Encode builds the header and body for a command frame carrying the given
// command name and ordered list of strings. No string may contain an
// embedded NUL byte.
func Encode(command string, fields []string) (Header, []byte, error) {
	total := 0
	for _, f := range fields {
		if indexNUL([]byte(f)) >= 0 {
			return Header{}, nil, ErrEmbeddedNUL
		}
		total += len(f) + 1
	}

	body := make([]byte, 0, total)
	for _, f := range fields {
		body = append(body, f...)
		body = append(body, 0)
	}

	var h Header
	if len(command) > CommandNameSize {
		command = command[:CommandNameSize]
	}
	copy(h.Command[:], command)
	h.Length = uint64(len(body))
	h.Count = uint64(len(fields))

	return h, body, nil
}

// Decode splits a frame's body into its embedded strings, using h.Count as
// the authoritative count (it does not scan for trailing garbage beyond
// the last terminator it needs).
func Decode(h Header, body []byte) (command string, fields []string, err error) {
	command, err = h.CommandString()
	if err != nil {
		return "", nil, err
	}
	if uint64(len(body)) != h.Length {
		return "", nil, fmt.Errorf("wire: body length %d does not match header length %d", len(body), h.Length)
	}

	fields = make([]string, 0, h.Count)
	ofs := 0
	for i := uint64(0); i < h.Count; i++ {
		if ofs > len(body) {
			return "", nil, fmt.Errorf("wire: body truncated before %d-th string", i)
		}
		n := indexNUL(body[ofs:])
		if n < 0 {
			return "", nil, fmt.Errorf("wire: %d-th string not NUL-terminated", i)
		}
		fields = append(fields, string(body[ofs:ofs+n]))
		ofs += n + 1
	}
	return command, fields, nil
}
