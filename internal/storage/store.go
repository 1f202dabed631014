// Package storage provides the shared session store: a tree of paths holding
// opaque JSON documents, with last-write-wins per path, atomic single-path
// swaps, subtree deletes, and ordered change notifications.
//
// There are no transactions across paths. Writes to one path reach every
// watcher in the order they were applied; writes to different paths carry no
// ordering guarantee relative to each other.
package storage

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrNotFound indicates the path holds no value.
	ErrNotFound = errors.New("path not found")
	// ErrConflict indicates a swap lost too many races to commit.
	ErrConflict = errors.New("swap conflict")
	// ErrNoChange aborts a swap without an error: the swap function returns
	// it to leave the path exactly as it found it.
	ErrNoChange = errors.New("no change")
	// ErrInvalidPath indicates a malformed path.
	ErrInvalidPath = errors.New("invalid path")
	// ErrClosed indicates the store has been closed.
	ErrClosed = errors.New("store closed")
)

// Event is one observed change. Value is nil when the path was deleted.
type Event struct {
	Path  string
	Value []byte
}

// Store is the shared session store. Both backends deliver the same
// semantics; the SQLite one additionally survives restarts.
type Store interface {
	// Put writes value to path, replacing whatever was there.
	Put(ctx context.Context, path string, value []byte) error
	// Get returns the value at path, or ErrNotFound.
	Get(ctx context.Context, path string) ([]byte, error)
	// Swap atomically rewrites one path. fn receives the current value
	// (nil when absent) and returns the replacement; returning a nil value
	// deletes the path, returning ErrNoChange leaves it untouched, and any
	// other error aborts the swap.
	Swap(ctx context.Context, path string, fn func(old []byte) ([]byte, error)) error
	// Delete removes path and everything under it.
	Delete(ctx context.Context, path string) error
	// List returns all values at or under prefix, keyed by full path.
	List(ctx context.Context, prefix string) (map[string][]byte, error)
	// Watch streams changes at or under prefix, starting with one event per
	// existing path. The channel closes when cancel is called, ctx ends, or
	// the store closes.
	Watch(ctx context.Context, prefix string) (<-chan Event, func(), error)
	Close() error
}

// ValidPath reports whether p is a well-formed store path: one or more
// non-empty segments separated by single slashes.
func ValidPath(p string) bool {
	if p == "" {
		return false
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "" {
			return false
		}
	}
	return true
}

// underPrefix reports whether path is prefix itself or inside its subtree.
// An empty prefix matches everything.
func underPrefix(prefix, path string) bool {
	if prefix == "" {
		return true
	}
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}
