package client

import (
	"context"
	"encoding/json"
	"log"

	"puzzlerace/internal/powerup"
	"puzzlerace/internal/session"
	"puzzlerace/internal/storage"
)

// resolve is the periodic sweep every client runs: expire overdue abilities
// for every player, fire the time-limit transition, and finalize this
// player's own profile once the session has finished. Expiry must run in any
// client, not just the ability owner's, so an inattentive owner still
// expires; all writes are idempotent swaps, which makes duplicate sweeps
// safe.
func (c *Client) resolve(ctx context.Context) {
	s := c.Snapshot()
	now := c.nowMs()

	switch s.Phase.Status {
	case session.StatusPlaying:
		timeout := s.Config.Powerup.HintTimeoutMs
		for pid, p := range s.Players {
			if p.Active != nil && p.Active.Expired(now, timeout) {
				if err := c.clearActive(ctx, pid, p.Active); err != nil {
					log.Printf("session %s: expire ability of %s: %v", c.sessionID, pid, err)
				}
			}
		}
		if deadline, ok := s.Deadline(); ok && now >= deadline {
			winner := ""
			if s.Config.RankOnTimeout {
				winner, _ = s.CompletionLeader()
			}
			if err := c.finish(ctx, winner, session.EndTimeout); err != nil {
				log.Printf("session %s: time limit transition: %v", c.sessionID, err)
			}
		}
	case session.StatusFinished:
		if c.playerID != "" {
			c.finalizeProfile(ctx, s)
		}
	}
}

// clearActive removes a player's active ability only while it still matches
// the observed one. Duplicate clears, and clears racing a fresh activation,
// are both no-ops.
func (c *Client) clearActive(ctx context.Context, playerID string, observed *powerup.Active) error {
	return c.store.Swap(ctx, session.ActivePath(c.sessionID, playerID), func(old []byte) ([]byte, error) {
		if old == nil {
			return nil, storage.ErrNoChange
		}
		var current powerup.Active
		if err := json.Unmarshal(old, &current); err != nil {
			return nil, nil
		}
		if current.AbilityID != observed.AbilityID || current.ActivatedAt != observed.ActivatedAt {
			return nil, storage.ErrNoChange
		}
		return nil, nil
	})
}

// finalizeProfile marks this player finished and freezes their final score.
// Later sweeps see the finished status and do nothing.
func (c *Client) finalizeProfile(ctx context.Context, s *session.Session) {
	me := s.Players[c.playerID]
	if me == nil || me.Profile.Status == session.PlayerFinished {
		return
	}
	score := me.Completion
	err := c.store.Swap(ctx, session.ProfilePath(c.sessionID, c.playerID), func(old []byte) ([]byte, error) {
		if old == nil {
			return nil, storage.ErrNoChange
		}
		var profile session.Profile
		if err := json.Unmarshal(old, &profile); err != nil {
			return nil, storage.ErrNoChange
		}
		if profile.Status == session.PlayerFinished {
			return nil, storage.ErrNoChange
		}
		profile.Status = session.PlayerFinished
		profile.FinalScore = &score
		return json.Marshal(profile)
	})
	if err != nil {
		log.Printf("session %s: finalize profile: %v", c.sessionID, err)
	}
}
