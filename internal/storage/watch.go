package storage

import (
	"context"
	"sync"
)

// watcher buffers events for one subscriber so a slow reader never stalls
// writers or other subscribers, while still seeing every event in order.
type watcher struct {
	prefix string
	ch     chan Event

	mu    sync.Mutex
	queue []Event

	wake chan struct{}
	done chan struct{}
	once sync.Once
}

func newWatcher(prefix string) *watcher {
	return &watcher{
		prefix: prefix,
		ch:     make(chan Event, 16),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (w *watcher) enqueue(ev Event) {
	w.mu.Lock()
	w.queue = append(w.queue, ev)
	w.mu.Unlock()
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *watcher) stop() {
	w.once.Do(func() { close(w.done) })
}

// pump drains the queue into the subscriber channel until stopped.
func (w *watcher) pump() {
	defer close(w.ch)
	for {
		select {
		case <-w.done:
			return
		case <-w.wake:
		}
		for {
			w.mu.Lock()
			if len(w.queue) == 0 {
				w.mu.Unlock()
				break
			}
			ev := w.queue[0]
			w.queue = w.queue[1:]
			w.mu.Unlock()
			select {
			case w.ch <- ev:
			case <-w.done:
				return
			}
		}
	}
}

// hub fans events out to registered watchers. Both store backends embed one;
// callers must hold their own write lock around notify so every watcher sees
// per-path events in apply order.
type hub struct {
	mu       sync.Mutex
	watchers map[*watcher]struct{}
	closed   bool
}

func newHub() *hub {
	return &hub{watchers: make(map[*watcher]struct{})}
}

// subscribe registers a watcher preloaded with one event per existing entry.
// The caller passes the current state under the prefix, read under the same
// lock that guards writes.
func (h *hub) subscribe(ctx context.Context, prefix string, current []Event) (*watcher, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	w := newWatcher(prefix)
	w.queue = append(w.queue, current...)
	if len(w.queue) > 0 {
		w.wake <- struct{}{}
	}
	h.watchers[w] = struct{}{}
	h.mu.Unlock()

	go w.pump()
	go func() {
		select {
		case <-ctx.Done():
			h.unsubscribe(w)
		case <-w.done:
		}
	}()
	return w, nil
}

func (h *hub) unsubscribe(w *watcher) {
	h.mu.Lock()
	delete(h.watchers, w)
	h.mu.Unlock()
	w.stop()
}

// notify delivers one event to every watcher whose prefix covers it.
func (h *hub) notify(ev Event) {
	h.mu.Lock()
	for w := range h.watchers {
		if underPrefix(w.prefix, ev.Path) {
			w.enqueue(ev)
		}
	}
	h.mu.Unlock()
}

// close stops all watchers and refuses new subscriptions.
func (h *hub) close() {
	h.mu.Lock()
	h.closed = true
	ws := make([]*watcher, 0, len(h.watchers))
	for w := range h.watchers {
		ws = append(ws, w)
	}
	h.watchers = make(map[*watcher]struct{})
	h.mu.Unlock()
	for _, w := range ws {
		w.stop()
	}
}
