// Command syncclient is the directory-sync suite's client half: it
// connects to a syncserver, diffs its inventory against local state, and
// pulls whatever differs (spec.md §6).
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/zsuzuki/filesync/internal/conn"
	"github.com/zsuzuki/filesync/internal/inventory"
	"github.com/zsuzuki/filesync/internal/logger"
	"github.com/zsuzuki/filesync/internal/reconcile"
	"github.com/zsuzuki/filesync/internal/server"
)

func main() {
	hostname := flag.String("hostname", "localhost", "server to connect to")
	output := flag.String("output", ".", "directory to sync into")
	update := flag.Bool("update", false, "force the server to rebuild its inventory before replying (content-hash mode)")
	timestamp := flag.Bool("timestamp", false, "use the time-stamp fingerprint scheme instead of content hashes")
	requestDir := flag.String("request", "", "remote source directory (time-stamp mode)")
	without := flag.String("without", "", "exclusion regex for the remote walk (time-stamp mode)")
	verbose := flag.Bool("verbose", false, "enable verbose logging")
	flag.Parse()

	if *verbose {
		logger.DefaultLogger.SetLevel(logger.LevelVerbose)
	}

	if err := os.MkdirAll(*output, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "syncclient: %v\n", err)
		os.Exit(1)
	}

	scheme := inventory.ContentHash
	if *timestamp {
		scheme = inventory.ModTime
	}

	addr := fmt.Sprintf("%s:%d", *hostname, server.DefaultPort)
	c, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		fmt.Fprintf(os.Stderr, "syncclient: dial %s: %v\n", addr, err)
		os.Exit(1)
	}

	metrics := conn.NewMetrics(nil, "syncclient")
	eng := conn.New(c, metrics)
	defer eng.Close()

	var requestOpts []string
	switch scheme {
	case inventory.ContentHash:
		if *update {
			requestOpts = []string{"--"}
		}
	case inventory.ModTime:
		requestOpts = []string{*requestDir, *without}
	}

	done := make(chan error, 1)
	fields := append([]string{"filelist"}, requestOpts...)
	eng.Send("request", fields, func(ok bool) {
		if !ok {
			done <- fmt.Errorf("syncclient: request failed")
			return
		}
		eng.ReceiveMessage(func(command string, reply []string) {
			if command == "error" {
				done <- fmt.Errorf("syncclient: server closed the connection")
				return
			}
			if command != "filelist" {
				done <- fmt.Errorf("syncclient: unexpected reply %q", command)
				return
			}
			runPull(eng, scheme, reply, *output, done)
		})
	})

	if err := <-done; err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func runPull(eng *conn.Engine, scheme inventory.Scheme, filelistFields []string, output string, done chan error) {
	remote := decodeFileList(filelistFields)

	var plan reconcile.Plan
	switch scheme {
	case inventory.ContentHash:
		local, err := inventory.Load(output)
		if err != nil {
			done <- fmt.Errorf("syncclient: load local inventory: %w", err)
			return
		}
		plan = reconcile.ContentHash(remote, local, output)
	case inventory.ModTime:
		p, err := reconcile.ModTime(remote, output)
		if err != nil {
			done <- fmt.Errorf("syncclient: compute pull plan: %w", err)
			return
		}
		plan = p
	}

	reconcile.RunPullLoop(eng, plan, output, func(err error) {
		done <- err
	})
}

func decodeFileList(fields []string) []inventory.Record {
	records := make([]inventory.Record, 0, len(fields)/2)
	for i := 0; i+1 < len(fields); i += 2 {
		records = append(records, inventory.Record{Path: fields[i], Fingerprint: fields[i+1]})
	}
	return records
}
