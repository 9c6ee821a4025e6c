package conn

import (
	"crypto/rand"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestSerializedSendOrdering(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	eng := New(client, nil)

	var mu sync.Mutex
	var done []string
	cb := func(name string) func(bool) {
		return func(ok bool) {
			if !ok {
				t.Errorf("send %s failed", name)
			}
			mu.Lock()
			done = append(done, name)
			mu.Unlock()
		}
	}

	eng.Send("A", []string{"a"}, cb("A"))
	eng.Send("B", []string{"b"}, cb("B"))
	eng.Send("C", []string{"c"}, cb("C"))

	for _, want := range []string{"A", "B", "C"} {
		gotCmd, fields := readOneMessage(t, server)
		if gotCmd != want {
			t.Fatalf("received command %q, want %q", gotCmd, want)
		}
		if len(fields) != 1 {
			t.Fatalf("received %d fields for %q, want 1", len(fields), want)
		}
	}

	deadline := time.After(time.Second)
	for {
		mu.Lock()
		n := len(done)
		mu.Unlock()
		if n == 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for send callbacks")
		case <-time.After(time.Millisecond):
		}
	}
}

func readOneMessage(t *testing.T, c net.Conn) (string, []string) {
	t.Helper()
	eng := New(c, nil)
	ch := make(chan struct {
		cmd    string
		fields []string
	}, 1)
	eng.ReceiveMessage(func(cmd string, fields []string) {
		ch <- struct {
			cmd    string
			fields []string
		}{cmd, fields}
	})
	select {
	case r := <-ch:
		return r.cmd, r.fields
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return "", nil
	}
}

func TestFileTransferRoundTrip(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "src.bin")
	dstPath := filepath.Join(dir, "out", "dst.bin")

	data := make([]byte, 3*8192+17)
	if _, err := rand.Read(data); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(srcPath, data, 0o644); err != nil {
		t.Fatal(err)
	}

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	sender := New(client, nil)
	receiver := New(server, nil)

	sendDone := make(chan bool, 1)
	if err := sender.SendFile(srcPath, func(ok bool) { sendDone <- ok }); err != nil {
		t.Fatal(err)
	}

	recvDone := make(chan error, 1)
	receiver.ReceiveFile(dstPath, func(err error) { recvDone <- err })

	select {
	case err := <-recvDone:
		if err != nil {
			t.Fatalf("receive failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for file receive")
	}
	select {
	case ok := <-sendDone:
		if !ok {
			t.Fatal("send reported failure")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for send completion")
	}

	got, err := os.ReadFile(dstPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(data) {
		t.Fatalf("got %d bytes, want %d", len(got), len(data))
	}
	for i := range data {
		if got[i] != data[i] {
			t.Fatalf("byte %d differs", i)
		}
	}
}
