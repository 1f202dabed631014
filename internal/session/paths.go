package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"puzzlerace/internal/powerup"
	"puzzlerace/internal/puzzle"
	"puzzlerace/internal/storage"
)

// Root is the store prefix under which all sessions live.
const Root = "sessions"

func Prefix(id string) string     { return Root + "/" + id }
func ConfigPath(id string) string { return Prefix(id) + "/config" }
func PhasePath(id string) string  { return Prefix(id) + "/phase" }
func RosterPath(id string) string { return Prefix(id) + "/roster" }
func PuzzlePath(id string) string { return Prefix(id) + "/puzzle" }
func PoolPath(id string) string   { return Prefix(id) + "/pool" }

func PlayerPrefix(id, pid string) string   { return Prefix(id) + "/players/" + pid }
func ProfilePath(id, pid string) string    { return PlayerPrefix(id, pid) + "/profile" }
func StatePath(id, pid string) string      { return PlayerPrefix(id, pid) + "/state" }
func CompletionPath(id, pid string) string { return PlayerPrefix(id, pid) + "/completion" }
func InventoryPath(id, pid string) string  { return PlayerPrefix(id, pid) + "/inventory" }
func ActivePath(id, pid string) string     { return PlayerPrefix(id, pid) + "/active" }

// Load assembles a snapshot from the store. It returns ErrNotFound when the
// session has no phase document, the one document every session is born with.
func Load(ctx context.Context, st storage.Store, id string) (*Session, error) {
	entries, err := st.List(ctx, Prefix(id))
	if err != nil {
		return nil, err
	}
	if _, ok := entries[PhasePath(id)]; !ok {
		return nil, ErrNotFound
	}
	s := New(id)
	for path, value := range entries {
		if err := s.Apply(storage.Event{Path: path, Value: value}); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Apply folds one store event into the snapshot. Events for other sessions
// and for documents this version does not know are ignored. A nil value
// clears the document it addresses.
func (s *Session) Apply(ev storage.Event) error {
	rel, ok := strings.CutPrefix(ev.Path, Prefix(s.ID)+"/")
	if !ok {
		return nil
	}
	switch rel {
	case "config":
		s.Config = Config{}
		return decodeDoc(ev, &s.Config)
	case "phase":
		s.Phase = Phase{}
		return decodeDoc(ev, &s.Phase)
	case "roster":
		s.Roster = nil
		return decodeDoc(ev, &s.Roster)
	case "puzzle":
		s.Puzzle = PuzzleDoc{}
		return decodeDoc(ev, &s.Puzzle)
	case "pool":
		s.Pool = nil
		return decodeDoc(ev, &s.Pool)
	}
	rest, ok := strings.CutPrefix(rel, "players/")
	if !ok {
		return nil
	}
	pid, field, ok := strings.Cut(rest, "/")
	if !ok || pid == "" {
		return nil
	}
	switch field {
	case "profile", "state", "completion", "inventory", "active":
	default:
		return nil
	}
	p := s.Players[pid]
	if p == nil {
		p = &Player{}
		s.Players[pid] = p
	}
	switch field {
	case "profile":
		p.Profile = Profile{}
		return decodeDoc(ev, &p.Profile)
	case "state":
		p.State = puzzle.Envelope{}
		return decodeDoc(ev, &p.State)
	case "completion":
		p.Completion = 0
		return decodeDoc(ev, &p.Completion)
	case "inventory":
		p.Inventory = nil
		return decodeDoc(ev, &p.Inventory)
	case "active":
		p.Active = nil
		if ev.Value == nil {
			return nil
		}
		p.Active = &powerup.Active{}
		return decodeDoc(ev, p.Active)
	}
	return nil
}

func decodeDoc(ev storage.Event, into any) error {
	if ev.Value == nil {
		return nil
	}
	if err := json.Unmarshal(ev.Value, into); err != nil {
		return fmt.Errorf("decode %s: %w", ev.Path, err)
	}
	return nil
}
