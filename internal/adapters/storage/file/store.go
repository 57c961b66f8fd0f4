// Package file persists newline-delimited entry lists (session tokens,
// proxies, private keys) as plain files next to the binary.
package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/nebrix/klokpilot/internal/ports"
)

const (
	storeDirMode  = 0o700
	storeFileMode = 0o600
)

type Store struct {
	path string
	mu   sync.RWMutex
}

var _ ports.ListStore = (*Store)(nil)

func NewStore(path string) *Store {
	return &Store{path: filepath.Clean(path)}
}

// Load reads the list, one entry per line, skipping blank lines. A missing
// file is an empty list, not an error.
func (s *Store) Load(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read list file %q: %w", s.path, err)
	}

	var entries []string
	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		entries = append(entries, trimmed)
	}
	return entries, nil
}

// Save overwrites the list wholesale with a trailing newline.
func (s *Store) Save(ctx context.Context, entries []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, storeDirMode); err != nil {
			return fmt.Errorf("create list directory: %w", err)
		}
	}

	var sb strings.Builder
	for _, entry := range entries {
		sb.WriteString(entry)
		sb.WriteByte('\n')
	}

	if err := os.WriteFile(s.path, []byte(sb.String()), storeFileMode); err != nil {
		return fmt.Errorf("write list file %q: %w", s.path, err)
	}
	return nil
}
