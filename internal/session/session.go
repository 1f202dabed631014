// Package session implements the session lifecycle: the document shapes kept
// in the shared store, the state-machine predicates every client consults
// before writing, and the manager that creates and garbage-collects sessions.
package session

import (
	"encoding/json"
	"errors"

	"puzzlerace/internal/powerup"
	"puzzlerace/internal/puzzle"
)

// Status represents the session lifecycle. Transitions only move forward:
// waiting, then playing, then finished.
type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusPlaying  Status = "playing"
	StatusFinished Status = "finished"
)

// PlayerStatus is a participant's own lifecycle within a session.
type PlayerStatus string

const (
	PlayerPlaying  PlayerStatus = "playing"
	PlayerFinished PlayerStatus = "finished"
)

// Session capacity.
const (
	MinPlayers = 2
	MaxPlayers = 4
)

// Reasons a session reached the finished status.
const (
	EndWin        = "win"
	EndTimeout    = "timeout"
	EndTerminated = "terminated"
)

var (
	ErrNotFound        = errors.New("session not found")
	ErrNotAdmin        = errors.New("only the session admin may do that")
	ErrNotWaiting      = errors.New("session already started")
	ErrNotPlaying      = errors.New("session is not in play")
	ErrFinished        = errors.New("session already finished")
	ErrSessionFull     = errors.New("session is full")
	ErrTooFewPlayers   = errors.New("not enough players")
	ErrDuplicatePlayer = errors.New("player already joined")
	ErrUnknownPlayer   = errors.New("unknown player")
)

// Config is the immutable session configuration document, written once at
// creation.
type Config struct {
	AdminID          string         `json:"adminId"`
	PuzzleType       string         `json:"puzzleType"`
	Difficulty       string         `json:"difficulty"`
	TimeLimitMinutes int            `json:"timeLimitMinutes"`
	RankOnTimeout    bool           `json:"rankOnTimeout,omitempty"`
	CreatedAt        int64          `json:"createdAt"`
	Powerup          powerup.Config `json:"powerup"`
}

// Phase is the lifecycle document. Status, winner, and start time live in one
// document so every transition is a single-path atomic swap: the winner can
// never be observed without the finished status that set it.
type Phase struct {
	Status    Status  `json:"status"`
	WinnerID  *string `json:"winnerId"`
	StartedAt *int64  `json:"startedAt"`
	EndReason string  `json:"endReason,omitempty"`
}

// Profile is a player's public document.
type Profile struct {
	Name       string       `json:"name"`
	Status     PlayerStatus `json:"status"`
	FinalScore *int         `json:"finalScore"`
}

// PuzzleDoc pins the generated puzzle instance. State bytes always travel
// with the puzzle type that produced them.
type PuzzleDoc struct {
	Type       string          `json:"puzzleType"`
	Difficulty string          `json:"difficulty"`
	Initial    json.RawMessage `json:"initialState"`
	Solution   json.RawMessage `json:"solutionState"`
	Meta       json.RawMessage `json:"meta,omitempty"`
}

// Player is one participant's slice of a session snapshot.
type Player struct {
	Profile    Profile
	State      puzzle.Envelope
	Completion int
	Inventory  map[string]int
	Active     *powerup.Active
}

// Session is a client's local snapshot of one session, assembled from store
// documents and kept current by replaying change events. It carries no
// connection state; all predicates on it are pure.
type Session struct {
	ID      string
	Config  Config
	Phase   Phase
	Roster  []string
	Puzzle  PuzzleDoc
	Pool    map[string]int
	Players map[string]*Player
}

// New returns an empty snapshot for the given session ID.
func New(id string) *Session {
	return &Session{ID: id, Players: make(map[string]*Player)}
}

// HasPlayer reports whether the player is on the roster.
func (s *Session) HasPlayer(playerID string) bool {
	for _, id := range s.Roster {
		if id == playerID {
			return true
		}
	}
	return false
}

// CanJoin reports whether a new player may join now.
func (s *Session) CanJoin(playerID string) error {
	if s.Phase.Status == StatusFinished {
		return ErrFinished
	}
	if s.Phase.Status != StatusWaiting {
		return ErrNotWaiting
	}
	if len(s.Roster) >= MaxPlayers {
		return ErrSessionFull
	}
	if s.HasPlayer(playerID) {
		return ErrDuplicatePlayer
	}
	return nil
}

// CanStart reports whether the caller may start the session now.
func (s *Session) CanStart(callerID string) error {
	if s.Phase.Status == StatusFinished {
		return ErrFinished
	}
	if s.Phase.Status != StatusWaiting {
		return ErrNotWaiting
	}
	if callerID != s.Config.AdminID {
		return ErrNotAdmin
	}
	if len(s.Roster) < MinPlayers {
		return ErrTooFewPlayers
	}
	return nil
}

// CanMove reports whether the player may submit a move now.
func (s *Session) CanMove(playerID string) error {
	if s.Phase.Status == StatusFinished {
		return ErrFinished
	}
	if s.Phase.Status != StatusPlaying {
		return ErrNotPlaying
	}
	if !s.HasPlayer(playerID) {
		return ErrUnknownPlayer
	}
	return nil
}

// CanActivate reports whether the player may activate the ability now:
// session in play, no ability already running, and an instance available in
// the player's source (personal inventory or shared pool).
func (s *Session) CanActivate(playerID, abilityID string, cat *powerup.Catalog, now int64) error {
	if err := s.CanMove(playerID); err != nil {
		return err
	}
	cfg := s.Config.Powerup
	if !cfg.Enabled {
		return powerup.ErrUnavailable
	}
	if _, ok := cat.Get(abilityID); !ok {
		return powerup.ErrUnknownAbility
	}
	p := s.Players[playerID]
	if p != nil && p.Active != nil && !p.Active.Expired(now, cfg.HintTimeoutMs) {
		return powerup.ErrAbilityActive
	}
	if cfg.Shared() {
		if s.Pool[abilityID] <= 0 {
			return powerup.ErrUnavailable
		}
		return nil
	}
	if p == nil || p.Inventory[abilityID] <= 0 {
		return powerup.ErrUnavailable
	}
	return nil
}

// CanTerminate reports whether the caller may terminate the session now.
func (s *Session) CanTerminate(callerID string) error {
	if s.Phase.Status == StatusFinished {
		return ErrFinished
	}
	if callerID != s.Config.AdminID {
		return ErrNotAdmin
	}
	return nil
}

// Deadline returns the instant the time limit lapses, when one applies.
func (s *Session) Deadline() (int64, bool) {
	if s.Phase.Status != StatusPlaying || s.Phase.StartedAt == nil || s.Config.TimeLimitMinutes <= 0 {
		return 0, false
	}
	return *s.Phase.StartedAt + int64(s.Config.TimeLimitMinutes)*60_000, true
}

// CompletionLeader returns the player with the strictly highest completion
// percentage. Ties report no leader.
func (s *Session) CompletionLeader() (string, bool) {
	best, bestID, tied := -1, "", false
	for _, pid := range s.Roster {
		c := 0
		if p := s.Players[pid]; p != nil {
			c = p.Completion
		}
		switch {
		case c > best:
			best, bestID, tied = c, pid, false
		case c == best:
			tied = true
		}
	}
	if bestID == "" || tied {
		return "", false
	}
	return bestID, true
}

// Clone returns a deep copy safe to hand across goroutines.
func (s *Session) Clone() *Session {
	out := &Session{
		ID:      s.ID,
		Config:  s.Config,
		Phase:   s.Phase,
		Puzzle:  s.Puzzle,
		Roster:  append([]string(nil), s.Roster...),
		Players: make(map[string]*Player, len(s.Players)),
	}
	if s.Phase.WinnerID != nil {
		winner := *s.Phase.WinnerID
		out.Phase.WinnerID = &winner
	}
	if s.Phase.StartedAt != nil {
		started := *s.Phase.StartedAt
		out.Phase.StartedAt = &started
	}
	if s.Pool != nil {
		out.Pool = make(map[string]int, len(s.Pool))
		for k, v := range s.Pool {
			out.Pool[k] = v
		}
	}
	for id, p := range s.Players {
		cp := *p
		if p.Profile.FinalScore != nil {
			score := *p.Profile.FinalScore
			cp.Profile.FinalScore = &score
		}
		if p.Inventory != nil {
			cp.Inventory = make(map[string]int, len(p.Inventory))
			for k, v := range p.Inventory {
				cp.Inventory[k] = v
			}
		}
		if p.Active != nil {
			active := *p.Active
			cp.Active = &active
		}
		out.Players[id] = &cp
	}
	return out
}
