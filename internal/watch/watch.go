// Package watch reacts to filesystem changes with fsnotify.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces the burst of events produced by a single commit.
const DefaultDebounce = 200 * time.Millisecond

// Repository calls onChange whenever the refs of the git repository at dir
// move, including commits made by other processes. Events are debounced.
//
// The watcher stops when ctx is done.
func Repository(ctx context.Context, dir string, debounce time.Duration, onChange func()) error {
	gitDir := filepath.Join(dir, ".git")
	if fi, err := os.Stat(gitDir); err != nil || !fi.IsDir() {
		return fmt.Errorf("%s is not a git directory", gitDir)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// fsnotify is not recursive; HEAD and packed-refs live in .git, branch
	// tips in refs/heads.
	for _, d := range []string{gitDir, filepath.Join(gitDir, "refs", "heads")} {
		if err := w.Add(d); err != nil && !os.IsNotExist(err) {
			_ = w.Close()
			return fmt.Errorf("failed to watch %s: %w", d, err)
		}
	}
	d := debouncer{delay: debounce, fn: onChange}
	go func() {
		defer func() { _ = w.Close() }()
		defer d.stop()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if !isRefEvent(gitDir, event) {
					continue
				}
				slog.DebugContext(ctx, "Repository changed", "path", event.Name, "op", event.Op.String())
				d.trigger()
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.WarnContext(ctx, "Error watching repository", "err", err)
			}
		}
	}()
	return nil
}

// isRefEvent reports whether event can move a ref. Lock files and object
// writes are ignored; the final rename onto the ref is what matters.
func isRefEvent(gitDir string, event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
		return false
	}
	if filepath.Ext(event.Name) == ".lock" {
		return false
	}
	rel, err := filepath.Rel(gitDir, event.Name)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	switch rel {
	case "HEAD", "packed-refs":
		return true
	}
	return filepath.ToSlash(filepath.Dir(rel)) == "refs/heads"
}

// Executable watches the current executable for modifications and calls
// stop when it is rewritten, so a rebuilt binary restarts under a supervisor.
func Executable(ctx context.Context, stop context.CancelFunc) error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(exe); err != nil {
		_ = w.Close()
		return err
	}
	go func() {
		defer func() { _ = w.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Chmod) {
					slog.InfoContext(ctx, "Executable modified, initiating shutdown")
					stop()
					return
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.WarnContext(ctx, "Error watching executable", "err", err)
			}
		}
	}()
	return nil
}

type debouncer struct {
	delay time.Duration
	fn    func()

	mu    sync.Mutex
	timer *time.Timer
}

func (d *debouncer) trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.fn)
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
}
