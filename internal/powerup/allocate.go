package powerup

import (
	"math/rand"
	"time"
)

// Allocate computes one starting loadout under the configured caps. It runs
// once per pool (shared modes) or once per joining player (per-player modes)
// and is never re-run later.
//
// Fixed modes return the configured list verbatim. Random modes draw one
// ability at a time from the candidate pool, excluding any type that has
// already reached MaxPerType in the draw so far, and stop early once no type
// remains eligible. A nil rng falls back to a time-seeded source.
func Allocate(cfg Config, cat *Catalog, rng *rand.Rand) ([]string, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.Fixed() {
		if err := CheckLoadout(cfg.FixedList, cfg.MaxPerEntity, cfg.MaxPerType); err != nil {
			return nil, err
		}
		out := make([]string, len(cfg.FixedList))
		copy(out, cfg.FixedList)
		return out, nil
	}

	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	candidates := cfg.Pool
	if len(candidates) == 0 {
		candidates = cat.IDs()
	}
	// Dedupe: the pool is a set of candidate types.
	seen := make(map[string]bool, len(candidates))
	types := make([]string, 0, len(candidates))
	for _, id := range candidates {
		if !seen[id] {
			seen[id] = true
			types = append(types, id)
		}
	}

	var out []string
	counts := make(map[string]int)
	for len(out) < cfg.MaxPerEntity {
		eligible := make([]string, 0, len(types))
		for _, id := range types {
			if counts[id] < cfg.MaxPerType {
				eligible = append(eligible, id)
			}
		}
		if len(eligible) == 0 {
			break
		}
		id := eligible[rng.Intn(len(eligible))]
		counts[id]++
		out = append(out, id)
	}
	return out, nil
}
