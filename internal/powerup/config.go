package powerup

import "fmt"

// Mode selects how starting abilities are allocated.
type Mode string

const (
	// ModeRandomShared draws one random loadout into the shared pool.
	ModeRandomShared Mode = "random-shared"
	// ModeFixedShared writes the configured list into the shared pool.
	ModeFixedShared Mode = "fixed-shared"
	// ModeRandomPerPlayer draws an independent loadout for every player.
	ModeRandomPerPlayer Mode = "random-per-player"
	// ModeFixedPerPlayer gives every player a copy of the configured list.
	ModeFixedPerPlayer Mode = "fixed-per-player"
)

// Defaults for unset configuration fields.
const (
	DefaultMaxPerEntity  = 3
	DefaultMaxPerType    = 2
	DefaultHintTimeoutMs = 30000
)

// Config is a session's powerup configuration, fixed at creation time.
type Config struct {
	Enabled bool `json:"enabled"`
	Mode    Mode `json:"mode,omitempty"`
	// MaxPerEntity caps total abilities per inventory (N).
	MaxPerEntity int `json:"maxPerEntity,omitempty"`
	// MaxPerType caps instances of one ability type per inventory (M).
	MaxPerType int `json:"maxPerType,omitempty"`
	// FixedList is the creator-chosen loadout for fixed modes.
	FixedList []string `json:"fixedList,omitempty"`
	// Pool is the candidate set for random modes; empty means the whole
	// catalog.
	Pool []string `json:"pool,omitempty"`
	// HintTimeoutMs bounds how long an instantaneous ability may stay
	// active when its trigger never fires.
	HintTimeoutMs int64 `json:"hintTimeoutMs,omitempty"`
}

// Shared reports whether abilities come from one pool shared by all players.
func (c Config) Shared() bool {
	return c.Mode == ModeRandomShared || c.Mode == ModeFixedShared
}

// PerPlayer reports whether every player carries a personal inventory.
func (c Config) PerPlayer() bool {
	return c.Mode == ModeRandomPerPlayer || c.Mode == ModeFixedPerPlayer
}

// Fixed reports whether the loadout is creator-chosen rather than drawn.
func (c Config) Fixed() bool {
	return c.Mode == ModeFixedShared || c.Mode == ModeFixedPerPlayer
}

// ApplyDefaults fills unset limits in place.
func (c *Config) ApplyDefaults() {
	if c.MaxPerEntity == 0 {
		c.MaxPerEntity = DefaultMaxPerEntity
	}
	if c.MaxPerType == 0 {
		c.MaxPerType = DefaultMaxPerType
	}
	if c.HintTimeoutMs == 0 {
		c.HintTimeoutMs = DefaultHintTimeoutMs
	}
}

// Validate checks the configuration against the catalog. Call after
// ApplyDefaults.
func (c Config) Validate(cat *Catalog) error {
	if !c.Enabled {
		return nil
	}
	switch c.Mode {
	case ModeRandomShared, ModeFixedShared, ModeRandomPerPlayer, ModeFixedPerPlayer:
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, c.Mode)
	}
	if c.MaxPerEntity <= 0 || c.MaxPerType <= 0 {
		return fmt.Errorf("%w: limits must be positive", ErrInvalidConfig)
	}
	if c.HintTimeoutMs <= 0 {
		return fmt.Errorf("%w: hint timeout must be positive", ErrInvalidConfig)
	}
	if c.Fixed() {
		if len(c.FixedList) == 0 {
			return fmt.Errorf("%w: fixed mode needs a loadout", ErrInvalidConfig)
		}
		for _, id := range c.FixedList {
			if _, ok := cat.Get(id); !ok {
				return fmt.Errorf("%w: %q", ErrUnknownAbility, id)
			}
		}
		return CheckLoadout(c.FixedList, c.MaxPerEntity, c.MaxPerType)
	}
	for _, id := range c.Pool {
		if _, ok := cat.Get(id); !ok {
			return fmt.Errorf("%w: %q", ErrUnknownAbility, id)
		}
	}
	return nil
}

// CheckLoadout enforces the per-entity caps: at most maxTotal abilities, at
// most maxPerType of any one type.
func CheckLoadout(list []string, maxTotal, maxPerType int) error {
	if len(list) > maxTotal {
		return fmt.Errorf("%w: %d abilities exceeds the limit of %d", ErrInvalidConfig, len(list), maxTotal)
	}
	counts := make(map[string]int)
	for _, id := range list {
		counts[id]++
		if counts[id] > maxPerType {
			return fmt.Errorf("%w: more than %d of %q", ErrInvalidConfig, maxPerType, id)
		}
	}
	return nil
}

// CountByType folds a loadout list into inventory counts.
func CountByType(list []string) map[string]int {
	counts := make(map[string]int, len(list))
	for _, id := range list {
		counts[id]++
	}
	return counts
}

// Take removes one instance of id from counts, reporting whether one was
// available. Exhausted entries stay at zero so clients can still display
// them.
func Take(counts map[string]int, id string) bool {
	if counts[id] <= 0 {
		return false
	}
	counts[id]--
	return true
}
