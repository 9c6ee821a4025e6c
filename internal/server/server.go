// Package server implements the server dispatcher (spec.md C6): accept
// one connection, interpret commands, serve inventory and file bodies.
package server

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"regexp"

	"github.com/zsuzuki/filesync/internal/conn"
	"github.com/zsuzuki/filesync/internal/hooks"
	"github.com/zsuzuki/filesync/internal/inventory"
	"github.com/zsuzuki/filesync/internal/logger"
)

var l = logger.DefaultLogger.NewFacility("server", "directory sync server")

// DefaultPort is the fixed TCP port this suite's protocol runs on
// (spec.md §3, §6).
const DefaultPort = 34000

// Server owns the inventory for one root directory and serves it to
// however many connections the Accept loop hands it.
type Server struct {
	Root    string
	Scheme  inventory.Scheme
	Hooks   *hooks.Runner // content-hash mode only; nil otherwise
	Metrics *conn.Metrics

	walker    *inventory.Walker
	inventory []inventory.Record
}

// New constructs a Server and performs the initial inventory build, the
// same way the original process does at startup before it ever accepts a
// connection.
func New(root string, scheme inventory.Scheme, h *hooks.Runner) (*Server, error) {
	s := &Server{
		Root:   root,
		Scheme: scheme,
		Hooks:  h,
		walker: inventory.NewWalker(scheme, nil, 4096),
	}
	if _, err := s.rebuild(context.Background(), nil, nil); err != nil {
		return nil, err
	}
	return s, nil
}

// Listen opens the fixed TCP listener this suite's servers always use.
func Listen() (net.Listener, error) {
	return net.Listen("tcp", fmt.Sprintf(":%d", DefaultPort))
}

// Serve accepts connections from ln forever, handling each on its own
// goroutine, until ctx is cancelled or ln is closed. A single connection's
// failure never takes the listener down (spec.md §7): exactly one
// goroutine crashing on a protocol or I/O error only ends that connection.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		c, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go s.handleConn(ctx, c)
	}
}

// handleConn serves one connection until the session ends (a finish
// command or a receive error), then closes it. dispatch only starts a
// background receive and returns immediately, so handleConn blocks on done
// rather than closing the connection out from under it; closing here would
// race the first ReceiveMessage goroutine and, over a real net.Conn, lose
// that race essentially every time.
func (s *Server) handleConn(ctx context.Context, c net.Conn) {
	l.Infof("accepted connection from %s", c.RemoteAddr())
	eng := conn.New(c, s.Metrics)
	defer eng.Close()

	done := make(chan struct{})
	s.dispatch(ctx, eng, done)
	<-done
}

// dispatch implements the server's command table (spec.md §4.6). It
// re-subscribes to message receive after every command except finish and
// error, which end the session by closing done.
func (s *Server) dispatch(ctx context.Context, eng *conn.Engine, done chan struct{}) {
	eng.ReceiveMessage(func(command string, fields []string) {
		switch command {
		case "error":
			close(done)
		case "request":
			s.handleRequest(ctx, eng, fields, done)
		case "filereq":
			s.handleFileReq(ctx, eng, fields, done)
		case "finish":
			l.Verbosef("connection finished")
			close(done)
		default:
			l.Debugf("ignoring unknown command %q", command)
			s.dispatch(ctx, eng, done)
		}
	})
}

func (s *Server) handleRequest(ctx context.Context, eng *conn.Engine, fields []string, done chan struct{}) {
	if len(fields) == 0 || fields[0] != "filelist" {
		s.dispatch(ctx, eng, done)
		return
	}

	if len(fields) > 1 {
		if err := s.applyRebuildOpts(ctx, fields[1:]); err != nil {
			l.Warnf("rebuild inventory: %v", err)
		}
	}

	s.sendFileList(eng)
	s.dispatch(ctx, eng, done)
}

// applyRebuildOpts interprets the request command's trailing arguments per
// spec.md §4.6: content-hash mode takes "--" (no filter) or an explicit
// filename list; time-stamp mode takes a source directory and an
// exclusion regex.
func (s *Server) applyRebuildOpts(ctx context.Context, opts []string) error {
	switch s.Scheme {
	case inventory.ContentHash:
		var names []string
		if len(opts) > 0 && opts[0] != "--" {
			names = opts
		}
		_, err := s.rebuild(ctx, names, nil)
		return err

	case inventory.ModTime:
		if len(opts) < 2 {
			return fmt.Errorf("server: time-stamp request needs <dir> <exclude>")
		}
		s.Root = opts[0]
		var exclude *regexp.Regexp
		if opts[1] != "" {
			re, err := regexp.Compile(opts[1])
			if err != nil {
				return fmt.Errorf("server: compile exclusion %q: %w", opts[1], err)
			}
			exclude = re
		}
		_, err := s.rebuild(ctx, nil, exclude)
		return err
	}
	return nil
}

// rebuild walks s.Root and, in content-hash mode, runs update hooks for
// every changed entry, blocking until each spawned process exits before
// recomputing that entry's hash (spec.md §4.6, §9).
func (s *Server) rebuild(ctx context.Context, nameFilter []string, exclude *regexp.Regexp) ([]inventory.Record, error) {
	s.walker.Exclude = exclude

	previous := inventory.ByPath(s.inventory)
	fresh, err := s.walker.Walk(ctx, s.Root, nameFilter)
	if err != nil {
		return nil, err
	}
	inventory.SortByPath(fresh)

	if s.Scheme == inventory.ContentHash && s.Hooks != nil {
		for i, rec := range fresh {
			if prev, ok := previous[rec.Path]; ok && prev.Fingerprint == rec.Fingerprint {
				continue
			}
			absPath := filepath.Join(s.Root, filepath.FromSlash(rec.Path))
			if err := s.Hooks.Run(ctx, absPath); err != nil {
				l.Warnf("update hook for %s: %v", rec.Path, err)
				continue
			}
			// The hook may have rewritten the file; recompute its
			// hash before it lands in files.json (spec.md §9 — this
			// is intended, not folded back into the loop condition).
			hash, err := inventory.HashFile(absPath)
			if err != nil {
				l.Warnf("rehash %s after hook: %v", rec.Path, err)
				continue
			}
			fresh[i].Fingerprint = hash
		}
	}

	s.inventory = fresh
	if err := inventory.Save(s.Root, s.inventory); err != nil {
		return nil, err
	}
	return s.inventory, nil
}

func (s *Server) sendFileList(eng *conn.Engine) {
	fields := make([]string, 0, len(s.inventory)*2)
	for _, r := range s.inventory {
		fields = append(fields, r.Path, r.Fingerprint)
	}
	eng.Send("filelist", fields, func(bool) {})
}

// handleFileReq serves one file and, once the transfer completes (whether
// it succeeds or fails), re-subscribes to message receive: spec.md §4.6
// requires a filereq connection to keep listening for further commands,
// since a single connection typically serves many files in a row.
func (s *Server) handleFileReq(ctx context.Context, eng *conn.Engine, fields []string, done chan struct{}) {
	if len(fields) == 0 {
		s.dispatch(ctx, eng, done)
		return
	}
	relPath := fields[0]
	absPath := filepath.Join(s.Root, filepath.FromSlash(relPath))
	l.Verbosef("serving %s", relPath)

	if err := eng.SendFile(absPath, func(ok bool) {
		if !ok {
			l.Warnf("file transfer of %s failed", relPath)
		}
		s.dispatch(ctx, eng, done)
	}); err != nil {
		l.Warnf("open %s: %v", absPath, err)
		s.dispatch(ctx, eng, done)
		return
	}
}
