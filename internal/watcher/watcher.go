package watcher

import (
	"context"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Change is a filesystem change on an event file matched by a watch pattern.
type Change struct {
	Path string
	Op   fsnotify.Op
}

// Watcher monitors NDJSON event files for changes using OS notifications.
// Parent directories of matched files are watched as well, so event files
// created after startup (a new session writing its first line) are picked
// up if they match one of the patterns.
type Watcher struct {
	fsw      *fsnotify.Watcher
	changes  chan Change
	patterns []string
	seed     []string
	logger   *zap.Logger
}

// New expands the glob patterns and sets up watches on the matched files
// and their parent directories.
func New(patterns []string, logger *zap.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fsw:     fsw,
		changes: make(chan Change, 256),
		logger:  logger,
	}

	dirs := make(map[string]struct{})
	for _, pattern := range patterns {
		abs, err := filepath.Abs(pattern)
		if err != nil {
			abs = pattern
		}
		w.patterns = append(w.patterns, abs)

		matches, err := doublestar.FilepathGlob(abs, doublestar.WithFilesOnly())
		if err != nil {
			logger.Warn("bad watch pattern", zap.String("pattern", pattern), zap.Error(err))
			continue
		}
		for _, m := range matches {
			if err := fsw.Add(m); err != nil {
				logger.Warn("cannot watch event file", zap.String("path", m), zap.Error(err))
				continue
			}
			w.seed = append(w.seed, m)
			dirs[filepath.Dir(m)] = struct{}{}
		}
	}
	for d := range dirs {
		_ = fsw.Add(d)
	}

	return w, nil
}

// Changes returns the channel of matched file changes.
func (w *Watcher) Changes() <-chan Change {
	return w.changes
}

// Seed returns the files matched at startup.
func (w *Watcher) Seed() []string {
	return w.seed
}

// Track adds a file back to the watch set after rotation.
func (w *Watcher) Track(path string) error {
	return w.fsw.Add(path)
}

// Run forwards changes until the context is cancelled. Directory events are
// filtered through the patterns so unrelated files in watched directories
// are ignored.
func (w *Watcher) Run(ctx context.Context) {
	defer w.fsw.Close()
	defer close(w.changes)

	const relevant = fsnotify.Write | fsnotify.Create | fsnotify.Remove | fsnotify.Rename

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&relevant == 0 || !w.matches(ev.Name) {
				continue
			}
			w.changes <- Change{Path: ev.Name, Op: ev.Op}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) matches(path string) bool {
	for _, p := range w.patterns {
		if ok, err := doublestar.PathMatch(filepath.ToSlash(p), filepath.ToSlash(path)); err == nil && ok {
			return true
		}
	}
	return false
}
