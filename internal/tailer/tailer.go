package tailer

import (
	"bytes"
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/gnod-dev/gnodlogger/internal/model"
	"github.com/gnod-dev/gnodlogger/internal/watcher"
)

const (
	checkpointInterval = 5 * time.Second
	reconnectRetries   = 5
	readChunk          = 64 * 1024
)

// Tailer follows watched NDJSON event files and emits complete lines for
// the ingest pipeline. A line is only emitted once its trailing newline has
// been written, so a half-flushed JSON object is never parsed.
type Tailer struct {
	mu      sync.Mutex
	sources map[string]*source
	out     chan model.RawLine
	ckpt    *Checkpoint
	watch   *watcher.Watcher
	logger  *zap.Logger
}

// source is one tailed event file. partial holds bytes after the last
// newline seen, carried over to the next read.
type source struct {
	file    *os.File
	offset  int64
	partial []byte
}

// New creates a Tailer fed by the given Watcher.
func New(w *watcher.Watcher, ckpt *Checkpoint, logger *zap.Logger) *Tailer {
	return &Tailer{
		sources: make(map[string]*source),
		out:     make(chan model.RawLine, 512),
		ckpt:    ckpt,
		watch:   w,
		logger:  logger,
	}
}

// Lines returns the channel where complete event lines are sent.
func (t *Tailer) Lines() <-chan model.RawLine {
	return t.out
}

// Start consumes watcher changes until the context is cancelled.
func (t *Tailer) Start(ctx context.Context) {
	defer close(t.out)

	for _, p := range t.watch.Seed() {
		t.open(p)
	}

	saveTicker := time.NewTicker(checkpointInterval)
	defer saveTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.saveCheckpoint()
			t.closeAll()
			return

		case ch, ok := <-t.watch.Changes():
			if !ok {
				return
			}
			t.apply(ch)

		case <-saveTicker.C:
			t.saveCheckpoint()
		}
	}
}

func (t *Tailer) apply(ch watcher.Change) {
	switch {
	case ch.Op&fsnotify.Write != 0:
		t.drain(ch.Path)

	case ch.Op&fsnotify.Create != 0:
		// Either a brand-new event file or the replacement after rotation.
		t.open(ch.Path)
		t.drain(ch.Path)

	case ch.Op&fsnotify.Remove != 0, ch.Op&fsnotify.Rename != 0:
		// File rotated or deleted. Drop the checkpoint mark so a
		// replacement file is read from the start, then reconnect.
		t.closeSource(ch.Path)
		t.ckpt.Forget(ch.Path)
		go t.reconnect(ch.Path)
	}
}

// open begins tailing a file, resuming from its checkpoint mark. A mark
// past the current size means the file was truncated; start over.
func (t *Tailer) open(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.sources[path]; exists {
		return
	}

	f, err := os.Open(path)
	if err != nil {
		t.logger.Warn("cannot open event file", zap.String("path", path), zap.Error(err))
		return
	}

	var offset int64
	if saved, ok := t.ckpt.Get(path); ok {
		offset = saved
		if info, err := f.Stat(); err == nil && offset > info.Size() {
			offset = 0
		}
	} else {
		offset, _ = f.Seek(0, io.SeekEnd)
	}
	f.Seek(offset, io.SeekStart)

	t.sources[path] = &source{file: f, offset: offset}
}

// drain reads everything appended since the last read and emits each
// complete line. Bytes after the final newline stay buffered in the source.
func (t *Tailer) drain(path string) {
	t.mu.Lock()
	src, ok := t.sources[path]
	t.mu.Unlock()
	if !ok {
		return
	}

	buf := make([]byte, readChunk)
	for {
		n, err := src.file.Read(buf)
		if n > 0 {
			src.offset += int64(n)
			src.partial = append(src.partial, buf[:n]...)
			for {
				nl := bytes.IndexByte(src.partial, '\n')
				if nl < 0 {
					break
				}
				line := string(bytes.TrimRight(src.partial[:nl], "\r"))
				src.partial = src.partial[nl+1:]
				if line == "" {
					continue
				}
				t.out <- model.RawLine{Text: line, Source: path}
			}
		}
		if err != nil {
			if err != io.EOF {
				t.logger.Warn("read error on event file", zap.String("path", path), zap.Error(err))
			}
			break
		}
	}

	// Checkpoint at the last line boundary, not the raw read position, so
	// a restart re-reads any buffered partial line instead of losing it.
	t.ckpt.Set(path, src.offset-int64(len(src.partial)))
}

func (t *Tailer) closeSource(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if src, ok := t.sources[path]; ok {
		src.file.Close()
		delete(t.sources, path)
	}
}

// reconnect polls for a rotated file to reappear. It only re-watches and
// re-opens; all reads stay on the Start loop, driven by the Create/Write
// events that follow.
func (t *Tailer) reconnect(path string) {
	for i := 0; i < reconnectRetries; i++ {
		time.Sleep(time.Second)
		if _, err := os.Stat(path); err == nil {
			t.logger.Info("reconnected to rotated event file", zap.String("path", path))
			_ = t.watch.Track(path)
			t.open(path)
			return
		}
	}
	t.logger.Warn("gave up reconnecting to event file", zap.String("path", path))
}

func (t *Tailer) saveCheckpoint() {
	if err := t.ckpt.Save(); err != nil {
		t.logger.Warn("checkpoint save failed", zap.Error(err))
	}
}

func (t *Tailer) closeAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for path, src := range t.sources {
		src.file.Close()
		delete(t.sources, path)
	}
}
