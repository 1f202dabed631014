package client

import (
	"encoding/json"

	"puzzlerace/internal/powerup"
	"puzzlerace/internal/puzzle"
	"puzzlerace/internal/session"
)

// PlayerView is one player's row in a View. State is omitted when the viewer
// may not see that board at this instant.
type PlayerView struct {
	ID         string               `json:"id"`
	Name       string               `json:"name"`
	Status     session.PlayerStatus `json:"status"`
	Completion int                  `json:"completionPercentage"`
	FinalScore *int                 `json:"finalScore"`
	Active     *powerup.Active      `json:"activeAbility"`
	Inventory  map[string]int       `json:"inventory,omitempty"`
	Visible    bool                 `json:"visible"`
	State      *puzzle.Envelope     `json:"state,omitempty"`
}

// View is the session as one viewer may see it right now. Opponents'
// inventories are never included; their board states only while the
// visibility rule allows.
type View struct {
	ID               string          `json:"id"`
	Status           session.Status  `json:"status"`
	WinnerID         *string         `json:"winnerId"`
	StartedAt        *int64          `json:"startedAt"`
	EndReason        string          `json:"endReason,omitempty"`
	AdminID          string          `json:"adminId"`
	PuzzleType       string          `json:"puzzleType"`
	Difficulty       string          `json:"difficulty"`
	TimeLimitMinutes int             `json:"timeLimitMinutes"`
	Powerup          powerup.Config  `json:"powerup"`
	InitialState     json.RawMessage `json:"initialState"`
	SharedPool       map[string]int  `json:"sharedPool,omitempty"`
	Players          []PlayerView    `json:"players"`
}

// Visible reports whether this client may currently see ownerID's board.
// Observers and owners always may; between opponents the reveal/obscure
// precedence rule applies, recomputed at every call because either window
// may lapse mid-overlap.
func (c *Client) Visible(ownerID string) bool {
	return c.visibleIn(c.Snapshot(), ownerID, c.nowMs())
}

func (c *Client) visibleIn(s *session.Session, ownerID string, now int64) bool {
	if c.playerID == "" {
		return true
	}
	var viewerActive, ownerActive *powerup.Active
	if p := s.Players[c.playerID]; p != nil {
		viewerActive = p.Active
	}
	if p := s.Players[ownerID]; p != nil {
		ownerActive = p.Active
	}
	return powerup.Visible(c.catalog, c.playerID, ownerID, viewerActive, ownerActive, now, s.Config.Powerup.HintTimeoutMs)
}

// View renders the current snapshot through this viewer's eyes, in roster
// order.
func (c *Client) View() View {
	s := c.Snapshot()
	now := c.nowMs()
	v := View{
		ID:               s.ID,
		Status:           s.Phase.Status,
		WinnerID:         s.Phase.WinnerID,
		StartedAt:        s.Phase.StartedAt,
		EndReason:        s.Phase.EndReason,
		AdminID:          s.Config.AdminID,
		PuzzleType:       s.Config.PuzzleType,
		Difficulty:       s.Config.Difficulty,
		TimeLimitMinutes: s.Config.TimeLimitMinutes,
		Powerup:          s.Config.Powerup,
		InitialState:     s.Puzzle.Initial,
		SharedPool:       s.Pool,
		Players:          make([]PlayerView, 0, len(s.Roster)),
	}
	for _, pid := range s.Roster {
		p := s.Players[pid]
		if p == nil {
			p = &session.Player{}
		}
		pv := PlayerView{
			ID:         pid,
			Name:       p.Profile.Name,
			Status:     p.Profile.Status,
			Completion: p.Completion,
			FinalScore: p.Profile.FinalScore,
			Active:     p.Active,
			Visible:    c.visibleIn(s, pid, now),
		}
		if pid == c.playerID {
			pv.Inventory = p.Inventory
		}
		if pv.Visible && p.State.Type != "" {
			state := p.State
			pv.State = &state
		}
		v.Players = append(v.Players, pv)
	}
	return v
}
