package tailer

import (
	"encoding/json"
	"os"
	"sync"
	"time"
)

// fileMark records how far into an event file ingestion has progressed.
type fileMark struct {
	Offset    int64     `json:"offset"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Checkpoint persists per-file ingest offsets so tailing resumes where it
// left off after a restart instead of replaying already-stored events.
type Checkpoint struct {
	mu    sync.RWMutex
	path  string
	marks map[string]fileMark
}

// NewCheckpoint loads the checkpoint at path, starting empty if the file
// does not exist or cannot be parsed.
func NewCheckpoint(path string) (*Checkpoint, error) {
	c := &Checkpoint{
		path:  path,
		marks: make(map[string]fileMark),
	}

	raw, err := os.ReadFile(path)
	if err == nil {
		_ = json.Unmarshal(raw, &c.marks)
	}
	if c.marks == nil {
		c.marks = make(map[string]fileMark)
	}

	return c, nil
}

// Get returns the saved offset for an event file.
func (c *Checkpoint) Get(path string) (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.marks[path]
	return m.Offset, ok
}

// Set records the current ingest offset for an event file.
func (c *Checkpoint) Set(path string, offset int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.marks[path] = fileMark{Offset: offset, UpdatedAt: time.Now().UTC()}
}

// Forget drops the mark for a file. Called on rotation so the replacement
// file is read from the start rather than from the old file's offset.
func (c *Checkpoint) Forget(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.marks, path)
}

// Save writes the marks to disk via a temp-file rename.
func (c *Checkpoint) Save() error {
	c.mu.RLock()
	raw, err := json.MarshalIndent(c.marks, "", "  ")
	c.mu.RUnlock()
	if err != nil {
		return err
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, c.path)
}
