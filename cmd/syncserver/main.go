// Command syncserver is the directory-sync suite's server half: it holds
// an inventory of one directory and answers filelist/filereq/finish over
// TCP 34000, running until killed (spec.md §6).
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/thejerf/suture/v4"

	"github.com/zsuzuki/filesync/internal/config"
	"github.com/zsuzuki/filesync/internal/conn"
	"github.com/zsuzuki/filesync/internal/hooks"
	"github.com/zsuzuki/filesync/internal/inventory"
	"github.com/zsuzuki/filesync/internal/logger"
	"github.com/zsuzuki/filesync/internal/server"
)

func main() {
	path := flag.String("path", ".", "directory to serve (content-hash mode)")
	timestamp := flag.Bool("timestamp", false, "serve with the time-stamp fingerprint scheme instead of content hashes")
	verbose := flag.Bool("verbose", false, "enable verbose logging")
	settingsPath := flag.String("settings", "settings.toml", "update-hook settings file (content-hash mode only)")
	flag.Parse()

	if *verbose {
		logger.DefaultLogger.SetLevel(logger.LevelVerbose)
	}

	info, err := os.Stat(*path)
	if err != nil || !info.IsDir() {
		fmt.Fprintf(os.Stderr, "syncserver: %s is not a directory\n", *path)
		os.Exit(1)
	}

	scheme := inventory.ContentHash
	var hookRunner *hooks.Runner
	if *timestamp {
		scheme = inventory.ModTime
	} else {
		settings, err := config.Load(filepath.Join(*path, *settingsPath))
		if err != nil {
			fmt.Fprintf(os.Stderr, "syncserver: %v\n", err)
			os.Exit(1)
		}
		hookRunner, err = hooks.New(settings)
		if err != nil {
			fmt.Fprintf(os.Stderr, "syncserver: %v\n", err)
			os.Exit(1)
		}
	}

	srv, err := server.New(*path, scheme, hookRunner)
	if err != nil {
		fmt.Fprintf(os.Stderr, "syncserver: %v\n", err)
		os.Exit(1)
	}
	srv.Metrics = conn.NewMetrics(nil, "syncserver")

	ln, err := server.Listen()
	if err != nil {
		fmt.Fprintf(os.Stderr, "syncserver: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// suture supervises the accept loop the way the original process
	// supervises its single io_service worker: a failed Serve call is
	// restarted rather than taking the whole process down, as long as
	// ctx hasn't been cancelled.
	super := suture.NewSimple("syncserver")
	super.Add(acceptService{srv: srv, ln: ln})
	if err := super.Serve(ctx); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "syncserver: %v\n", err)
		os.Exit(1)
	}
}

// acceptService adapts Server.Serve to suture.Service so the supervisor
// can restart it on failure.
type acceptService struct {
	srv *server.Server
	ln  net.Listener
}

func (a acceptService) Serve(ctx context.Context) error {
	return a.srv.Serve(ctx, a.ln)
}
