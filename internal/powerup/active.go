package powerup

import "encoding/json"

// Active is a player's single in-flight ability as stored in the shared
// store. DurationMs is copied from the catalog at activation so expiry math
// needs nothing but this document and the session configuration.
type Active struct {
	AbilityID   string          `json:"abilityId"`
	ActivatedAt int64           `json:"activatedAt"`
	DurationMs  int64           `json:"durationMs,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// end returns the instant the window closes. Instantaneous abilities fall
// back to the configured timeout so a never-firing trigger cannot hold the
// activation slot forever.
func (a *Active) end(instantTimeoutMs int64) int64 {
	if a.DurationMs > 0 {
		return a.ActivatedAt + a.DurationMs
	}
	return a.ActivatedAt + instantTimeoutMs
}

// Covers reports whether the ability window includes instant t. A nil
// receiver covers nothing.
func (a *Active) Covers(t, instantTimeoutMs int64) bool {
	if a == nil {
		return false
	}
	return t >= a.ActivatedAt && t < a.end(instantTimeoutMs)
}

// Expired reports whether the window has closed by instant t. Expiry may be
// observed and acted on by any client; clearing an already-cleared ability is
// a no-op, so duplicate execution is safe.
func (a *Active) Expired(t, instantTimeoutMs int64) bool {
	if a == nil {
		return false
	}
	return t >= a.end(instantTimeoutMs)
}
