package lz4stream

import (
	"bytes"
	"crypto/rand"
	"testing"
)

// chunk splits data into BlockSize-ish pieces the way the connection
// engine's send loop does (spec.md §4.3: "reads up to 8192 bytes").
func chunk(data []byte, size int) [][]byte {
	var out [][]byte
	for len(data) > 0 {
		n := size
		if n > len(data) {
			n = len(data)
		}
		out = append(out, data[:n])
		data = data[n:]
	}
	if len(out) == 0 {
		out = append(out, nil)
	}
	return out
}

func roundTrip(t *testing.T, data []byte) {
	t.Helper()
	const blockSize = 8192

	enc := NewEncoder()
	dec := NewDecoder()
	defer enc.Close()
	defer dec.Close()

	var got bytes.Buffer
	for _, c := range chunk(data, blockSize) {
		compressed, err := enc.Encode(c)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		plain, err := dec.Decode(compressed, len(c))
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		got.Write(plain)
	}

	if !bytes.Equal(got.Bytes(), data) {
		t.Fatalf("round trip mismatch: got %d bytes, want %d bytes", got.Len(), len(data))
	}
}

func TestRoundTripSizes(t *testing.T) {
	sizes := []int{0, 1, 8191, 8192, 8193, 1 << 20}
	for _, n := range sizes {
		data := make([]byte, n)
		if _, err := rand.Read(data); err != nil {
			t.Fatal(err)
		}
		t.Run("", func(t *testing.T) { roundTrip(t, data) })
	}
}

// TestRoundTripTrailingEmptyBlock mirrors what the connection engine's
// writeFile actually sends for a file whose length is an exact multiple of
// the block size: a final EOF block carrying zero plaintext bytes, after
// one or more full blocks. chunk() alone never produces this shape (it
// stops as soon as the data is exhausted), so it needs its own test.
func TestRoundTripTrailingEmptyBlock(t *testing.T) {
	const blockSize = 8192
	data := make([]byte, blockSize)
	if _, err := rand.Read(data); err != nil {
		t.Fatal(err)
	}

	enc := NewEncoder()
	dec := NewDecoder()
	defer enc.Close()
	defer dec.Close()

	var got bytes.Buffer
	for _, c := range [][]byte{data, nil} {
		compressed, err := enc.Encode(c)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		plain, err := dec.Decode(compressed, len(c))
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		got.Write(plain)
	}

	if !bytes.Equal(got.Bytes(), data) {
		t.Fatalf("round trip mismatch: got %d bytes, want %d bytes", got.Len(), len(data))
	}
}

func TestRoundTripMixedCompressibility(t *testing.T) {
	random := make([]byte, 256*1024)
	if _, err := rand.Read(random); err != nil {
		t.Fatal(err)
	}
	compressible := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog\n"), 20000)

	data := append(append([]byte{}, random...), compressible...)
	roundTrip(t, data)
}
