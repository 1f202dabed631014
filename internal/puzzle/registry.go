package puzzle

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds all registered puzzle types, keyed by their Info().ID.
type Registry struct {
	mu      sync.RWMutex
	puzzles map[string]Puzzle
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{puzzles: make(map[string]Puzzle)}
}

// Register adds a puzzle type. It panics if the ID is already taken, since
// registration happens once at startup and a collision is a programming error.
func (r *Registry) Register(p Puzzle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := p.Info().ID
	if _, exists := r.puzzles[id]; exists {
		panic(fmt.Sprintf("puzzle type %q registered twice", id))
	}
	r.puzzles[id] = p
}

// Get returns the puzzle type with the given ID.
func (r *Registry) Get(id string) (Puzzle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.puzzles[id]
	return p, ok
}

// List returns info for all registered puzzle types, sorted by ID.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]Info, 0, len(r.puzzles))
	for _, p := range r.puzzles {
		infos = append(infos, p.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}
