// Package ledger implements the durable set of already-processed item
// identifiers backing deduplication across runs.
package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Ledger is a durable set of identifiers. Once an identifier has been added
// and flushed it stays a member for good; there is no removal operation.
//
// A Ledger assumes a single writer per run. Two processes mutating the same
// backing file concurrently will lose entries; external locking is the
// caller's problem.
type Ledger struct {
	mu      sync.RWMutex
	path    string
	entries map[string]struct{}
	dirty   bool
}

// Load reads the ledger file at path. A missing file yields an empty ledger,
// not an error.
func Load(path string) (*Ledger, error) {
	l := &Ledger{
		path:    path,
		entries: make(map[string]struct{}),
	}
	data, err := os.ReadFile(path) // #nosec G304 -- caller-configured ledger path.
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, fmt.Errorf("read ledger file: %w", err)
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("decode ledger file: %w", err)
	}
	for _, id := range ids {
		l.entries[id] = struct{}{}
	}
	return l, nil
}

// Contains reports whether id has been recorded.
func (l *Ledger) Contains(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.entries[id]
	return ok
}

// Add records id as processed. Adding an existing id is a no-op.
func (l *Ledger) Add(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.entries[id]; ok {
		return
	}
	l.entries[id] = struct{}{}
	l.dirty = true
}

// Len returns the number of recorded identifiers.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Flush writes the set to disk atomically (temp file then rename). Entries
// are serialized as a sorted JSON array so the file diffs cleanly between
// runs. Flushing an unchanged ledger is a no-op.
func (l *Ledger) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.dirty {
		return nil
	}

	ids := make([]string, 0, len(l.entries))
	for id := range l.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	data, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}

	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create ledger directory: %w", err)
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write ledger temp file: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return fmt.Errorf("replace ledger file: %w", err)
	}
	l.dirty = false
	return nil
}
