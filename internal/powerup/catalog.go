// Package powerup implements the ability catalog, the allocation engine, and
// the activation, expiry, and visibility rules.
package powerup

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownAbility indicates an ability ID missing from the catalog.
	ErrUnknownAbility = errors.New("unknown ability")
	// ErrAbilityActive indicates the player already has an ability running.
	ErrAbilityActive = errors.New("another ability is active")
	// ErrUnavailable indicates the ability has no remaining instances in the
	// caller's inventory or the shared pool.
	ErrUnavailable = errors.New("powerup unavailable")
	// ErrInvalidConfig indicates a powerup configuration that fails
	// validation.
	ErrInvalidConfig = errors.New("invalid powerup configuration")
)

// Scope is who an ability acts on.
type Scope string

const (
	ScopeSelf   Scope = "self"
	ScopeOthers Scope = "others"
	ScopeAll    Scope = "all"
)

// Effect is what an ability does while its window is open.
type Effect string

const (
	// EffectRevealCell uncovers one cell on the activator's own board.
	EffectRevealCell Effect = "reveal-cell"
	// EffectRevealBoards lets the activator watch every opponent's board.
	EffectRevealBoards Effect = "reveal-boards"
	// EffectObscureBoards hides the activator's board from opponents who
	// would otherwise see it.
	EffectObscureBoards Effect = "obscure-boards"
)

// Ability is one immutable catalog entry. DurationMs 0 means instantaneous:
// the ability stays active until its trigger fires or the configured fallback
// timeout elapses.
type Ability struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Scope       Scope  `json:"scope"`
	Effect      Effect `json:"effect"`
	DurationMs  int64  `json:"durationMs"`
}

// Instant reports whether the ability is cleared by a trigger rather than a
// fixed window.
func (a Ability) Instant() bool { return a.DurationMs == 0 }

// Catalog is the process-wide ability table, populated once at startup and
// read-only afterward.
type Catalog struct {
	byID  map[string]Ability
	order []string
}

// NewCatalog builds a catalog. It panics on duplicate IDs, since the catalog
// is assembled once at startup and a collision is a programming error.
func NewCatalog(abilities ...Ability) *Catalog {
	c := &Catalog{byID: make(map[string]Ability, len(abilities))}
	for _, a := range abilities {
		if _, exists := c.byID[a.ID]; exists {
			panic(fmt.Sprintf("ability %q registered twice", a.ID))
		}
		c.byID[a.ID] = a
		c.order = append(c.order, a.ID)
	}
	return c
}

// Get returns the ability with the given ID.
func (c *Catalog) Get(id string) (Ability, bool) {
	a, ok := c.byID[id]
	return a, ok
}

// IDs returns all ability IDs in registration order.
func (c *Catalog) IDs() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// All returns all abilities in registration order.
func (c *Catalog) All() []Ability {
	out := make([]Ability, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	return out
}

// Default returns the standard three-ability catalog.
func Default() *Catalog {
	return NewCatalog(
		Ability{
			ID:          "hint",
			Name:        "Hint",
			Description: "Reveals one cell of your own puzzle.",
			Scope:       ScopeSelf,
			Effect:      EffectRevealCell,
		},
		Ability{
			ID:          "peep",
			Name:        "Peep",
			Description: "Shows you your opponents' boards for ten seconds.",
			Scope:       ScopeSelf,
			Effect:      EffectRevealBoards,
			DurationMs:  10000,
		},
		Ability{
			ID:          "fog",
			Name:        "Fog",
			Description: "Hides your board from your opponents for ten seconds.",
			Scope:       ScopeOthers,
			Effect:      EffectObscureBoards,
			DurationMs:  10000,
		},
	)
}
