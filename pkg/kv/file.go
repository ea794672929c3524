package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// File is a Store persisted as a single JSON document. The whole document is
// rewritten on every mutation, so it suits small state such as the key pool.
type File struct {
	FilePath string

	mu   sync.Mutex
	data map[string][]byte
}

// NewFile opens (or lazily creates) a JSON file store. A missing file is an
// empty store; an unreadable one is an error.
func NewFile(path string) (*File, error) {
	f := &File{FilePath: path, data: make(map[string][]byte)}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return f, nil
		}
		return nil, fmt.Errorf("read file: %w", err)
	}
	if len(raw) == 0 {
		return f, nil
	}
	if err := json.Unmarshal(raw, &f.data); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return f, nil
}

func (f *File) Get(_ context.Context, key Key) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key.String()]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(v), nil
}

func (f *File) Set(_ context.Context, key Key, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key.String()] = clone(value)
	return f.flush()
}

func (f *File) Delete(_ context.Context, key Key) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.data[key.String()]; !ok {
		return nil
	}
	delete(f.data, key.String())
	return f.flush()
}

func (f *File) List(_ context.Context, prefix Key) ([]Entry, error) {
	p := prefixOf(prefix)

	f.mu.Lock()
	defer f.mu.Unlock()

	var out []Entry
	for k, v := range f.data {
		if strings.HasPrefix(k, p) {
			out = append(out, Entry{Key: ParseKey(k), Value: clone(v)})
		}
	}
	sortEntries(out)
	return out, nil
}

// Close is a no-op; every mutation is already on disk.
func (f *File) Close() error {
	return nil
}

// flush writes the document via a temp file and rename. Caller holds mu.
func (f *File) flush() error {
	if f.FilePath == "" {
		return nil
	}

	// Ensure directory exists
	dir := filepath.Dir(f.FilePath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
	}

	raw, err := json.MarshalIndent(f.data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	tmp := f.FilePath + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	if err := os.Rename(tmp, f.FilePath); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

var _ Store = (*File)(nil)
