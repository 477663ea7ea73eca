package main

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/WasatchPhotonics/SharkTooth/config"
	"github.com/WasatchPhotonics/SharkTooth/health"
	"github.com/WasatchPhotonics/SharkTooth/session"
)

// rebuildDebounce coalesces the burst of events a capture re-export emits.
const rebuildDebounce = 500 * time.Millisecond

// watchCapture monitors the capture file and rebuilds the session wholesale
// when it changes. The directory is watched rather than the file itself, so
// tools that replace the file atomically still trigger a rebuild.
func watchCapture(ctx context.Context, path string, cfg config.Config,
	current *atomic.Pointer[session.Session], mon *health.Monitor,
	logger *slog.Logger) (func(), error) {

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}
	target := filepath.Base(path)

	go func() {
		var timer *time.Timer
		rebuild := func() {
			sess, err := session.Load(path, cfg, session.WithLogger(logger))
			if err != nil {
				// Keep serving the previous session; a half-written export
				// is expected mid-copy.
				mon.RecordRebuildFailure()
				logger.Warn("session rebuild failed", "err", err)
				return
			}
			current.Store(sess)
			mon.RecordRebuild()
			logger.Info("session rebuilt", "stats", sess.Stats())
		}

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != target {
					continue
				}
				if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(rebuildDebounce, rebuild)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("capture watcher", "err", err)
			}
		}
	}()

	return func() { watcher.Close() }, nil
}
