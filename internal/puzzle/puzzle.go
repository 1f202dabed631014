package puzzle

import (
	"encoding/json"
	"errors"
	"fmt"
)

// State is an opaque puzzle state owned by one plugin. The session core never
// inspects it; it only round-trips it through the owning plugin's codec.
type State any

// Move is an opaque move value produced by a plugin's ParseMove.
type Move any

// Info describes a puzzle type for the lobby.
type Info struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Instance is one generated puzzle: a starting state, the solved state, and
// optional display metadata forwarded verbatim to clients.
type Instance struct {
	Initial  State
	Solution State
	Meta     json.RawMessage
}

// Puzzle is the contract every puzzle type implements. ApplyMove must be pure:
// it returns a new state and leaves its input untouched.
type Puzzle interface {
	Info() Info
	Create(difficulty string) (*Instance, error)
	ValidateMove(state State, move Move) bool
	ApplyMove(state State, move Move) (State, error)
	IsComplete(state State) bool
	IsCorrect(state, solution State) bool
	// Score reports completion 0..100 measured against the initially empty
	// positions: 0 when state equals initial, 100 when it equals solution.
	Score(state, initial, solution State) int
	MarshalState(state State) ([]byte, error)
	UnmarshalState(data []byte) (State, error)
	ParseMove(data []byte) (Move, error)
}

// Hinter is an optional capability: plugins that can reveal a single cell
// implement it. Discovery is by type assertion on the registry lookup.
type Hinter interface {
	// Hint returns an opaque payload describing one revealed cell, or an
	// error when the state has nothing left to reveal.
	Hint(state, solution State) ([]byte, error)
	// HintResolved reports whether the hinted cell has since been filled.
	HintResolved(state State, payload []byte) bool
}

var (
	// ErrUnknownType indicates state bytes tagged with an unregistered
	// puzzle type.
	ErrUnknownType = errors.New("unknown puzzle type")
	// ErrStateMismatch indicates state bytes that could not be decoded by
	// the plugin they claim to belong to.
	ErrStateMismatch = errors.New("state does not match puzzle type")
	// ErrBadMove indicates a move payload the plugin could not parse.
	ErrBadMove = errors.New("malformed move")
)

// Envelope pairs serialized state bytes with the puzzle type that produced
// them. State bytes never travel without their type tag, and decoding always
// routes through the registry by that tag rather than sniffing content.
type Envelope struct {
	Type string          `json:"puzzleType"`
	Data json.RawMessage `json:"data"`
}

// Seal serializes a state through its owning plugin into a tagged envelope.
func Seal(p Puzzle, state State) (Envelope, error) {
	data, err := p.MarshalState(state)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s state: %w", p.Info().ID, err)
	}
	return Envelope{Type: p.Info().ID, Data: data}, nil
}

// Open decodes a tagged envelope through the registry. It fails with
// ErrUnknownType for unregistered tags and ErrStateMismatch for bytes the
// owning plugin rejects.
func Open(r *Registry, env Envelope) (Puzzle, State, error) {
	p, ok := r.Get(env.Type)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	state, err := p.UnmarshalState(env.Data)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrStateMismatch, err)
	}
	return p, state, nil
}
