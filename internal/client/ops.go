package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"puzzlerace/internal/powerup"
	"puzzlerace/internal/puzzle"
	"puzzlerace/internal/session"
	"puzzlerace/internal/storage"
)

// Start moves the session from waiting to playing and records the start
// time. Admin only, two players minimum.
func (c *Client) Start(ctx context.Context) error {
	s := c.Snapshot()
	if err := s.CanStart(c.playerID); err != nil {
		return err
	}
	started := c.nowMs()
	return c.swapPhase(ctx, func(ph *session.Phase) error {
		if ph.Status == session.StatusFinished {
			return session.ErrFinished
		}
		if ph.Status != session.StatusWaiting {
			return session.ErrNotWaiting
		}
		ph.Status = session.StatusPlaying
		ph.StartedAt = &started
		return nil
	})
}

// SubmitMove runs the move pipeline: validate against the locally-held
// state, apply, publish the new state, republish completion, and fire the
// win transition when the result is complete and correct. An invalid move
// returns ErrInvalidMove and writes nothing.
func (c *Client) SubmitMove(ctx context.Context, move []byte) error {
	s := c.Snapshot()
	if err := s.CanMove(c.playerID); err != nil {
		return err
	}
	me := s.Players[c.playerID]
	var env puzzle.Envelope
	if me != nil {
		env = me.State
	}
	state, err := c.decodeState(env)
	if err != nil {
		return err
	}
	parsed, err := c.plugin.ParseMove(move)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMove, err)
	}
	if !c.plugin.ValidateMove(state, parsed) {
		return ErrInvalidMove
	}
	next, err := c.plugin.ApplyMove(state, parsed)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMove, err)
	}

	sealed, err := puzzle.Seal(c.plugin, next)
	if err != nil {
		return err
	}
	if err := c.putJSON(ctx, session.StatePath(c.sessionID, c.playerID), sealed); err != nil {
		return err
	}
	// Completion is a recomputed projection over the whole state, not a
	// counter, so it tolerates out-of-order observation against the state
	// path.
	score := c.plugin.Score(next, c.initial, c.solution)
	if err := c.putJSON(ctx, session.CompletionPath(c.sessionID, c.playerID), score); err != nil {
		return err
	}

	// Fold the accepted move into the local snapshot right away; the watch
	// echo re-applies the same values. Waiting for the echo would make a
	// quick second move validate against the pre-move state.
	c.mu.Lock()
	if p := c.sess.Players[c.playerID]; p != nil {
		p.State = sealed
		p.Completion = score
	}
	c.mu.Unlock()

	c.maybeResolveHint(ctx, me, next)

	if c.plugin.IsComplete(next) && c.plugin.IsCorrect(next, c.solution) {
		return c.finish(ctx, c.playerID, session.EndWin)
	}
	return nil
}

// Activate spends one instance of the ability and records it as the player's
// active ability. The source decrement and the active-slot write are separate
// single-path swaps; if the slot turns out to be occupied the instance is
// credited back.
func (c *Client) Activate(ctx context.Context, abilityID string) error {
	s := c.Snapshot()
	now := c.nowMs()
	if err := s.CanActivate(c.playerID, abilityID, c.catalog, now); err != nil {
		return err
	}
	ability, _ := c.catalog.Get(abilityID)

	if err := c.debit(ctx, s, abilityID); err != nil {
		return err
	}

	active := powerup.Active{
		AbilityID:   abilityID,
		ActivatedAt: now,
		DurationMs:  ability.DurationMs,
	}
	if ability.Effect == powerup.EffectRevealCell {
		active.Payload = c.hintPayload(s)
	}
	timeout := s.Config.Powerup.HintTimeoutMs
	err := c.store.Swap(ctx, session.ActivePath(c.sessionID, c.playerID), func(old []byte) ([]byte, error) {
		if old != nil {
			var occupant powerup.Active
			if err := json.Unmarshal(old, &occupant); err == nil && !occupant.Expired(now, timeout) {
				return nil, powerup.ErrAbilityActive
			}
		}
		return json.Marshal(active)
	})
	if err != nil {
		if errors.Is(err, powerup.ErrAbilityActive) {
			if cerr := c.credit(ctx, s, abilityID); cerr != nil {
				log.Printf("session %s: re-credit %s: %v", c.sessionID, abilityID, cerr)
			}
		}
		return err
	}

	c.mu.Lock()
	if p := c.sess.Players[c.playerID]; p != nil {
		recorded := active
		p.Active = &recorded
	}
	c.mu.Unlock()
	return nil
}

// Terminate ends the session early. Admin only; no winner is recorded.
func (c *Client) Terminate(ctx context.Context) error {
	s := c.Snapshot()
	if err := s.CanTerminate(c.playerID); err != nil {
		return err
	}
	return c.swapPhase(ctx, func(ph *session.Phase) error {
		if ph.Status == session.StatusFinished {
			return session.ErrFinished
		}
		ph.Status = session.StatusFinished
		ph.EndReason = session.EndTerminated
		return nil
	})
}

// finish swaps the phase to finished. Losing the race to another finisher is
// a no-op: the winner was set atomically with the status by whoever got
// there first.
func (c *Client) finish(ctx context.Context, winnerID, reason string) error {
	return c.swapPhase(ctx, func(ph *session.Phase) error {
		if ph.Status != session.StatusPlaying {
			return storage.ErrNoChange
		}
		ph.Status = session.StatusFinished
		ph.EndReason = reason
		if winnerID != "" {
			winner := winnerID
			ph.WinnerID = &winner
		}
		return nil
	})
}

func (c *Client) swapPhase(ctx context.Context, mutate func(*session.Phase) error) error {
	return c.store.Swap(ctx, session.PhasePath(c.sessionID), func(old []byte) ([]byte, error) {
		if old == nil {
			return nil, session.ErrNotFound
		}
		var ph session.Phase
		if err := json.Unmarshal(old, &ph); err != nil {
			return nil, fmt.Errorf("decode phase: %w", err)
		}
		if err := mutate(&ph); err != nil {
			return nil, err
		}
		return json.Marshal(ph)
	})
}

// sourcePath is where the ability instances come from: the shared pool or
// the player's own inventory, depending on the allocation mode.
func (c *Client) sourcePath(s *session.Session) string {
	if s.Config.Powerup.Shared() {
		return session.PoolPath(c.sessionID)
	}
	return session.InventoryPath(c.sessionID, c.playerID)
}

func (c *Client) debit(ctx context.Context, s *session.Session, abilityID string) error {
	return c.store.Swap(ctx, c.sourcePath(s), func(old []byte) ([]byte, error) {
		counts := map[string]int{}
		if old != nil {
			if err := json.Unmarshal(old, &counts); err != nil {
				return nil, fmt.Errorf("decode counts: %w", err)
			}
		}
		if !powerup.Take(counts, abilityID) {
			return nil, powerup.ErrUnavailable
		}
		return json.Marshal(counts)
	})
}

func (c *Client) credit(ctx context.Context, s *session.Session, abilityID string) error {
	return c.store.Swap(ctx, c.sourcePath(s), func(old []byte) ([]byte, error) {
		counts := map[string]int{}
		if old != nil {
			if err := json.Unmarshal(old, &counts); err != nil {
				return nil, fmt.Errorf("decode counts: %w", err)
			}
		}
		counts[abilityID]++
		return json.Marshal(counts)
	})
}

// hintPayload computes the revealed-cell payload for an instantaneous reveal
// ability. A plugin without hint support yields an empty payload; the
// ability then simply runs out its fallback timeout.
func (c *Client) hintPayload(s *session.Session) json.RawMessage {
	h, ok := c.plugin.(puzzle.Hinter)
	if !ok {
		return nil
	}
	me := s.Players[c.playerID]
	var env puzzle.Envelope
	if me != nil {
		env = me.State
	}
	state, err := c.decodeState(env)
	if err != nil {
		return nil
	}
	payload, err := h.Hint(state, c.solution)
	if err != nil {
		return nil
	}
	return payload
}

// maybeResolveHint clears the player's own instantaneous ability once its
// trigger has fired, e.g. the hinted cell now holds the hinted value.
func (c *Client) maybeResolveHint(ctx context.Context, me *session.Player, state puzzle.State) {
	if me == nil || me.Active == nil || len(me.Active.Payload) == 0 {
		return
	}
	ability, ok := c.catalog.Get(me.Active.AbilityID)
	if !ok || !ability.Instant() {
		return
	}
	h, ok := c.plugin.(puzzle.Hinter)
	if !ok || !h.HintResolved(state, me.Active.Payload) {
		return
	}
	if err := c.clearActive(ctx, c.playerID, me.Active); err != nil {
		log.Printf("session %s: clear resolved hint: %v", c.sessionID, err)
	}
}
