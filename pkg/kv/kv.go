// Package kv provides the local durable state used by go-ruvo.
//
// Keys are hierarchical paths such as Key{"transcripts", id} and are encoded
// with '/' between segments. Four backends are available:
//
//   - Memory: process-local map, for tests and ephemeral sessions
//   - Badger: embedded BadgerDB, on disk or in memory
//   - File: a single JSON document on disk
//   - Redis: shared state across processes
package kv

import (
	"context"
	"errors"
	"sort"
	"strings"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("kv: not found")

// ErrClosed is returned when a store is used after Close.
var ErrClosed = errors.New("kv: store closed")

// Separator joins key segments.
const Separator = "/"

// Key is a hierarchical path.
type Key []string

// String returns the encoded key.
func (k Key) String() string {
	return strings.Join(k, Separator)
}

// ParseKey splits an encoded key back into segments.
func ParseKey(s string) Key {
	if s == "" {
		return nil
	}
	return Key(strings.Split(s, Separator))
}

// Entry is a key-value pair returned by List.
type Entry struct {
	Key   Key
	Value []byte
}

// Store is a key-value store with path-based keys.
type Store interface {
	// Get returns ErrNotFound if the key is absent.
	Get(ctx context.Context, key Key) ([]byte, error)

	// Set overwrites any existing value.
	Set(ctx context.Context, key Key, value []byte) error

	// Delete is a no-op for missing keys.
	Delete(ctx context.Context, key Key) error

	// List returns entries strictly below prefix, sorted by key.
	List(ctx context.Context, prefix Key) ([]Entry, error)

	Close() error
}

// prefixOf returns the encoded prefix including a trailing separator so that
// "a/b" does not match "a/bc". An empty prefix matches everything.
func prefixOf(prefix Key) string {
	if len(prefix) == 0 {
		return ""
	}
	return prefix.String() + Separator
}

func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Key.String() < entries[j].Key.String()
	})
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	return cp
}
