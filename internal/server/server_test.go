package server

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/zsuzuki/filesync/internal/conn"
	"github.com/zsuzuki/filesync/internal/inventory"
	"github.com/zsuzuki/filesync/internal/wire"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// readMessage performs one synchronous message-mode read directly against
// the raw pipe, mirroring what conn.Engine.receiveMessage does, without
// pulling in a second Engine (spec.md C3's receive side is exercised
// separately in internal/conn).
func readMessage(t *testing.T, c net.Conn) (string, []string) {
	t.Helper()
	raw := make([]byte, wire.HeaderSize)
	if _, err := readFull(c, raw); err != nil {
		t.Fatal(err)
	}
	h, err := wire.UnmarshalHeader(raw)
	if err != nil {
		t.Fatal(err)
	}
	body := make([]byte, h.Length)
	if h.Length > 0 {
		if _, err := readFull(c, body); err != nil {
			t.Fatal(err)
		}
	}
	cmd, fields, err := wire.Decode(h, body)
	if err != nil {
		t.Fatal(err)
	}
	return cmd, fields
}

func readFull(c net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := c.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func writeRequest(t *testing.T, c net.Conn, command string, fields []string) {
	t.Helper()
	h, body, err := wire.Encode(command, fields)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Write(h.MarshalBinary()); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Write(body); err != nil {
		t.Fatal(err)
	}
}

func TestRequestFilelistReturnsSortedInventory(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "b.txt"), "b")
	writeFile(t, filepath.Join(root, "a.txt"), "a")

	srv, err := New(root, inventory.ContentHash, nil)
	if err != nil {
		t.Fatal(err)
	}

	client, serverSide := net.Pipe()
	defer client.Close()

	go srv.handleConn(context.Background(), serverSide)

	writeRequest(t, client, "request", []string{"filelist", "--"})

	cmd, fields := readMessage(t, client)
	if cmd != "filelist" {
		t.Fatalf("command = %q, want filelist", cmd)
	}
	if len(fields) != 4 {
		t.Fatalf("fields = %v, want 4 entries (2 files)", fields)
	}
	if fields[0] != "a.txt" || fields[2] != "b.txt" {
		t.Fatalf("fields = %v, want sorted a.txt before b.txt", fields)
	}
}

func TestFileReqServesFileContents(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "hello world")

	srv, err := New(root, inventory.ContentHash, nil)
	if err != nil {
		t.Fatal(err)
	}
	srv.Metrics = conn.NewMetrics(nil, "test")

	client, serverSide := net.Pipe()
	defer client.Close()

	go srv.handleConn(context.Background(), serverSide)

	writeRequest(t, client, "filereq", []string{"a.txt"})

	clientEng := conn.New(client, conn.NewMetrics(nil, "client"))
	done := make(chan error, 1)
	dest := filepath.Join(t.TempDir(), "a.txt")
	clientEng.ReceiveFile(dest, func(err error) { done <- err })

	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for file transfer")
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello world" {
		t.Fatalf("content = %q, want %q", got, "hello world")
	}
}
