package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// swapAttempts bounds optimistic swap retries before giving up.
const swapAttempts = 32

// Memory is the in-process store backend.
type Memory struct {
	mu     sync.Mutex
	data   map[string][]byte
	hub    *hub
	closed bool
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte), hub: newHub()}
}

func (m *Memory) Put(ctx context.Context, path string, value []byte) error {
	if !ValidPath(path) {
		return fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	if len(value) == 0 {
		return fmt.Errorf("put %q: empty value", path)
	}
	v := bytes.Clone(value)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.data[path] = v
	m.hub.notify(Event{Path: path, Value: v})
	return nil
}

func (m *Memory) Get(ctx context.Context, path string) ([]byte, error) {
	m.mu.Lock()
	v, ok := m.data[path]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return bytes.Clone(v), nil
}

func (m *Memory) Swap(ctx context.Context, path string, fn func(old []byte) ([]byte, error)) error {
	if !ValidPath(path) {
		return fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	for attempt := 0; attempt < swapAttempts; attempt++ {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return ErrClosed
		}
		old, existed := m.data[path]
		m.mu.Unlock()

		next, err := fn(bytes.Clone(old))
		if errors.Is(err, ErrNoChange) {
			return nil
		}
		if err != nil {
			return err
		}

		m.mu.Lock()
		cur, exists := m.data[path]
		if exists != existed || !bytes.Equal(cur, old) {
			m.mu.Unlock()
			continue
		}
		if len(next) == 0 {
			if existed {
				delete(m.data, path)
				m.hub.notify(Event{Path: path})
			}
		} else {
			v := bytes.Clone(next)
			m.data[path] = v
			m.hub.notify(Event{Path: path, Value: v})
		}
		m.mu.Unlock()
		return nil
	}
	return fmt.Errorf("%w: %s", ErrConflict, path)
}

func (m *Memory) Delete(ctx context.Context, path string) error {
	if !ValidPath(path) {
		return fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	var removed []string
	for p := range m.data {
		if underPrefix(path, p) {
			removed = append(removed, p)
		}
	}
	sort.Strings(removed)
	for _, p := range removed {
		delete(m.data, p)
		m.hub.notify(Event{Path: p})
	}
	return nil
}

func (m *Memory) List(ctx context.Context, prefix string) (map[string][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]byte)
	for p, v := range m.data {
		if underPrefix(prefix, p) {
			out[p] = bytes.Clone(v)
		}
	}
	return out, nil
}

func (m *Memory) Watch(ctx context.Context, prefix string) (<-chan Event, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var current []Event
	for p, v := range m.data {
		if underPrefix(prefix, p) {
			current = append(current, Event{Path: p, Value: bytes.Clone(v)})
		}
	}
	sort.Slice(current, func(i, j int) bool { return current[i].Path < current[j].Path })
	w, err := m.hub.subscribe(ctx, prefix, current)
	if err != nil {
		return nil, nil, err
	}
	return w.ch, func() { m.hub.unsubscribe(w) }, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.hub.close()
	return nil
}
