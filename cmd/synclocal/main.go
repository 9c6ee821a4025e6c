// Command synclocal mirrors one local directory into another without ever
// opening a network connection, using a persistent key/value index to
// skip files that have not changed (spec.md §6, C7).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/zsuzuki/filesync/internal/inventory"
	"github.com/zsuzuki/filesync/internal/localsync"
	"github.com/zsuzuki/filesync/internal/logger"
)

func main() {
	filedb := flag.String("filedb", "./.syncfiles.db", "key/value index path, created if missing")
	jobs := flag.Int("job", -1, "worker count; -1 selects max(1, cores/2)")
	src := flag.String("src", "", "source directory")
	dst := flag.String("dst", "", "destination directory")
	useTimestamp := flag.Bool("time", false, "use the time-stamp fingerprint scheme instead of content hashes")
	checkOnly := flag.Bool("check", false, "dry run: report what would be copied without copying")
	verbose := flag.Bool("verbose", false, "enable verbose logging")
	pattern := flag.String("pattern", "", "exclusion regex applied to source-relative paths")
	flag.Parse()

	if *verbose {
		logger.DefaultLogger.SetLevel(logger.LevelVerbose)
	}

	if *src == "" || *dst == "" {
		fmt.Fprintln(os.Stderr, "synclocal: --src and --dst are required")
		os.Exit(1)
	}

	srcInfo, err := os.Stat(*src)
	if err != nil || !srcInfo.IsDir() {
		fmt.Fprintf(os.Stderr, "synclocal: %s is not a directory\n", *src)
		os.Exit(1)
	}

	absSrc, err := filepath.Abs(*src)
	if err != nil {
		fmt.Fprintf(os.Stderr, "synclocal: %v\n", err)
		os.Exit(1)
	}
	absDst, err := filepath.Abs(*dst)
	if err != nil {
		fmt.Fprintf(os.Stderr, "synclocal: %v\n", err)
		os.Exit(1)
	}
	if absSrc == absDst {
		fmt.Fprintln(os.Stderr, "synclocal: --src and --dst must differ")
		os.Exit(1)
	}

	if err := os.MkdirAll(*dst, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "synclocal: %v\n", err)
		os.Exit(1)
	}

	idx, err := localsync.OpenIndex(*filedb)
	if err != nil {
		fmt.Fprintf(os.Stderr, "synclocal: %v\n", err)
		os.Exit(1)
	}
	defer idx.Close()

	scheme := inventory.ContentHash
	if *useTimestamp {
		scheme = inventory.ModTime
	}

	opts := localsync.Options{
		SrcRoot:    absSrc,
		DstRoot:    absDst,
		Scheme:     scheme,
		CheckOnly:  *checkOnly,
		Verbose:    *verbose,
		NumWorkers: *jobs,
	}
	if *jobs <= 0 {
		opts.NumWorkers = localsync.DefaultWorkerCount()
	}
	if *pattern != "" {
		re, err := regexp.Compile(*pattern)
		if err != nil {
			fmt.Fprintf(os.Stderr, "synclocal: compile --pattern: %v\n", err)
			os.Exit(1)
		}
		opts.Exclude = re
	}

	pool := localsync.New(opts, idx)
	if err := pool.Run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "synclocal: %v\n", err)
		os.Exit(1)
	}
}
