// Package reconcile implements the client-side reconciliation algorithm
// (spec.md C5): diff a remote inventory against local state and produce an
// ordered pull list.
package reconcile

import (
	"os"
	"path/filepath"

	"github.com/zsuzuki/filesync/internal/inventory"
)

// Plan pairs a pull list with the up-to-date inventory that should be
// persisted once every pull in it has completed.
type Plan struct {
	Pulls    []string
	Expected []inventory.Record
}

// ContentHash computes the pull list for content-hash mode (spec.md §4.5):
// a remote entry is pulled if it's unseen locally, if the destination file
// is missing from disk regardless of recorded hash, or if the hashes
// differ.
func ContentHash(remote []inventory.Record, local []inventory.Record, destRoot string) Plan {
	localByPath := inventory.ByPath(local)

	plan := Plan{Expected: remote}
	for _, r := range remote {
		destPath := filepath.Join(destRoot, filepath.FromSlash(r.Path))

		l, seen := localByPath[r.Path]
		switch {
		case !seen:
			plan.Pulls = append(plan.Pulls, r.Path)
		case !fileExists(destPath):
			plan.Pulls = append(plan.Pulls, r.Path)
		case l.Fingerprint != r.Fingerprint:
			plan.Pulls = append(plan.Pulls, r.Path)
		}
	}
	return plan
}

// ModTime computes the pull list for time-stamp mode (spec.md §4.5): a
// remote entry is pulled if the destination is missing, or if the remote
// mtime is strictly newer than the destination file's own mtime.
func ModTime(remote []inventory.Record, destRoot string) (Plan, error) {
	plan := Plan{Expected: remote}
	for _, r := range remote {
		destPath := filepath.Join(destRoot, filepath.FromSlash(r.Path))

		info, err := os.Stat(destPath)
		if os.IsNotExist(err) {
			plan.Pulls = append(plan.Pulls, r.Path)
			continue
		}
		if err != nil {
			return Plan{}, err
		}

		remoteTime, err := parseUnixSeconds(r.Fingerprint)
		if err != nil {
			return Plan{}, err
		}
		if remoteTime > info.ModTime().Unix() {
			plan.Pulls = append(plan.Pulls, r.Path)
		}
	}
	return plan, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
