package domain

import (
	"strings"
	"sync"
)

// Ring is an ordered pool of opaque string entries with a wrapping cursor.
// The session-token pool and the proxy pool share this shape: hand out the
// current entry, advance to the next on demand, wrap at the end.
type Ring struct {
	mu      sync.Mutex
	entries []string
	cursor  int
}

func NewRing(entries []string) *Ring {
	r := &Ring{}
	r.Replace(entries)
	return r
}

// Replace swaps the pool contents wholesale and resets the cursor to the
// first entry. Blank and duplicate entries are dropped, preserving the order
// they were first seen in.
func (r *Ring) Replace(entries []string) {
	normalized := make([]string, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		trimmed := strings.TrimSpace(entry)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		normalized = append(normalized, trimmed)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = normalized
	r.cursor = 0
}

// Current returns the entry under the cursor, or false when the pool is empty.
func (r *Ring) Current() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) == 0 {
		return "", false
	}
	return r.entries[r.cursor], true
}

// Advance moves the cursor one position forward, wrapping past the last
// entry, and returns the new current entry. Advancing an empty pool is a
// safe no-op.
func (r *Ring) Advance() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) == 0 {
		return "", false
	}
	r.cursor = (r.cursor + 1) % len(r.entries)
	return r.entries[r.cursor], true
}

func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Position returns the zero-based cursor position.
func (r *Ring) Position() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cursor
}

// Entries returns a copy of the pool contents in order.
func (r *Ring) Entries() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.entries))
	copy(out, r.entries)
	return out
}
