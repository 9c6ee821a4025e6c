package reconcile

import (
	"fmt"
	"path/filepath"

	"github.com/zsuzuki/filesync/internal/conn"
	"github.com/zsuzuki/filesync/internal/inventory"
	"github.com/zsuzuki/filesync/internal/logger"
)

var l = logger.DefaultLogger.NewFacility("reconcile", "client-side reconciliation")

// RunPullLoop drives plan.Pulls to completion over eng, one filereq at a
// time — the next filereq is issued only after the previous file-receive
// callback has fired, which spec.md §4.5 requires and which falls out
// naturally here from simply not starting pull N+1 until pull N's callback
// runs. Once every pull has succeeded it writes files.json and sends
// "finish", then invokes done(nil). The first failed pull invokes done with
// its error instead; files.json is then not written and "finish" is not
// sent.
func RunPullLoop(eng *conn.Engine, plan Plan, destRoot string, done func(err error)) {
	pullOne(eng, plan, destRoot, 0, done)
}

func pullOne(eng *conn.Engine, plan Plan, destRoot string, idx int, done func(err error)) {
	if idx >= len(plan.Pulls) {
		finish(eng, plan, destRoot, done)
		return
	}

	relPath := plan.Pulls[idx]
	destPath := filepath.Join(destRoot, filepath.FromSlash(relPath))
	l.Verbosef("pulling %s", relPath)

	eng.Send("filereq", []string{relPath}, func(ok bool) {
		if !ok {
			done(fmt.Errorf("reconcile: filereq %s: send failed", relPath))
			return
		}
		eng.ReceiveFile(destPath, func(err error) {
			if err != nil {
				done(fmt.Errorf("reconcile: receive %s: %w", relPath, err))
				return
			}
			pullOne(eng, plan, destRoot, idx+1, done)
		})
	})
}

func finish(eng *conn.Engine, plan Plan, destRoot string, done func(err error)) {
	if err := inventory.Save(destRoot, plan.Expected); err != nil {
		done(fmt.Errorf("reconcile: save files.json: %w", err))
		return
	}
	eng.Send("finish", nil, func(bool) {
		done(nil)
	})
}
