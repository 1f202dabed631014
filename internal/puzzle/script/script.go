// Package script runs puzzle plugins written in Lua. Scripts keep states and
// moves as plain strings, so the bridge never interprets either side's data.
//
// A script declares two globals, id and name, and implements:
//
//	create(difficulty) -> initial, solution, meta_json
//	validate_move(state, move) -> bool
//	apply_move(state, move) -> state
//	is_complete(state) -> bool
//	is_correct(state, solution) -> bool
//	score(state, initial, solution) -> 0..100
//
// and optionally, to support hints:
//
//	hint(state, solution) -> payload
//	hint_resolved(state, payload) -> bool
//
// Scripts signal failure with error(); the bridge surfaces it as a Go error.
package script

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	lua "github.com/Shopify/go-lua"

	"puzzlerace/internal/puzzle"
)

var requiredFuncs = []string{
	"create", "validate_move", "apply_move", "is_complete", "is_correct", "score",
}

// Plugin is a Lua-backed puzzle. A Lua state is not safe for concurrent use,
// so every call into the script holds the plugin mutex.
type Plugin struct {
	id   string
	name string

	mu sync.Mutex
	l  *lua.State
}

type hintingPlugin struct {
	*Plugin
}

// New compiles a script and returns it as a puzzle plugin. Scripts that
// define hint and hint_resolved come back with hint support.
func New(source string) (puzzle.Puzzle, error) {
	l := lua.NewState()
	lua.OpenLibraries(l)
	if err := lua.DoString(l, source); err != nil {
		return nil, fmt.Errorf("script: load: %w", err)
	}

	p := &Plugin{l: l}
	var err error
	if p.id, err = stringGlobal(l, "id"); err != nil {
		return nil, err
	}
	if p.name, err = stringGlobal(l, "name"); err != nil {
		p.name = p.id
	}
	for _, fn := range requiredFuncs {
		if !isFunction(l, fn) {
			return nil, fmt.Errorf("script %s: missing function %q", p.id, fn)
		}
	}
	if isFunction(l, "hint") && isFunction(l, "hint_resolved") {
		return hintingPlugin{p}, nil
	}
	return p, nil
}

// LoadFile reads and compiles a script from disk.
func LoadFile(path string) (puzzle.Puzzle, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("script: %w", err)
	}
	return New(string(src))
}

func stringGlobal(l *lua.State, name string) (string, error) {
	l.Global(name)
	defer l.Pop(1)
	s, ok := l.ToString(-1)
	if !ok || s == "" {
		return "", fmt.Errorf("script: global %q must be a non-empty string", name)
	}
	return s, nil
}

func isFunction(l *lua.State, name string) bool {
	l.Global(name)
	defer l.Pop(1)
	return l.IsFunction(-1)
}

func (p *Plugin) Info() puzzle.Info {
	return puzzle.Info{ID: p.id, Name: p.name}
}

// call invokes a script function with string arguments and leaves results on
// the stack for the caller. Callers must hold p.mu and pop results.
func (p *Plugin) call(fn string, results int, args ...string) error {
	p.l.Global(fn)
	for _, a := range args {
		p.l.PushString(a)
	}
	if err := p.l.ProtectedCall(len(args), results, 0); err != nil {
		p.l.SetTop(0)
		return fmt.Errorf("script %s: %s: %w", p.id, fn, err)
	}
	return nil
}

func (p *Plugin) callString(fn string, args ...string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.call(fn, 1, args...); err != nil {
		return "", err
	}
	defer p.l.Pop(1)
	s, ok := p.l.ToString(-1)
	if !ok {
		return "", fmt.Errorf("script %s: %s did not return a string", p.id, fn)
	}
	return s, nil
}

func (p *Plugin) callBool(fn string, args ...string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.call(fn, 1, args...); err != nil {
		return false, err
	}
	defer p.l.Pop(1)
	return p.l.ToBoolean(-1), nil
}

func (p *Plugin) Create(difficulty string) (*puzzle.Instance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.call("create", 3, difficulty); err != nil {
		return nil, err
	}
	defer p.l.Pop(3)
	initial, ok1 := p.l.ToString(-3)
	solution, ok2 := p.l.ToString(-2)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("script %s: create must return initial and solution strings", p.id)
	}
	inst := &puzzle.Instance{Initial: initial, Solution: solution}
	if meta, ok := p.l.ToString(-1); ok && meta != "" {
		if !json.Valid([]byte(meta)) {
			return nil, fmt.Errorf("script %s: create returned invalid meta JSON", p.id)
		}
		inst.Meta = json.RawMessage(meta)
	}
	return inst, nil
}

func (p *Plugin) ValidateMove(state puzzle.State, move puzzle.Move) bool {
	s, ok1 := state.(string)
	m, ok2 := move.(string)
	if !ok1 || !ok2 {
		return false
	}
	ok, err := p.callBool("validate_move", s, m)
	return err == nil && ok
}

func (p *Plugin) ApplyMove(state puzzle.State, move puzzle.Move) (puzzle.State, error) {
	s, ok := state.(string)
	if !ok {
		return nil, errors.New("script: state is not a string")
	}
	m, ok := move.(string)
	if !ok {
		return nil, errors.New("script: not a script move")
	}
	return p.callString("apply_move", s, m)
}

func (p *Plugin) IsComplete(state puzzle.State) bool {
	s, ok := state.(string)
	if !ok {
		return false
	}
	complete, err := p.callBool("is_complete", s)
	return err == nil && complete
}

func (p *Plugin) IsCorrect(state, solution puzzle.State) bool {
	s, ok1 := state.(string)
	sol, ok2 := solution.(string)
	if !ok1 || !ok2 {
		return false
	}
	correct, err := p.callBool("is_correct", s, sol)
	return err == nil && correct
}

func (p *Plugin) Score(state, initial, solution puzzle.State) int {
	s, ok1 := state.(string)
	init, ok2 := initial.(string)
	sol, ok3 := solution.(string)
	if !ok1 || !ok2 || !ok3 {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.call("score", 1, s, init, sol); err != nil {
		return 0
	}
	defer p.l.Pop(1)
	n, ok := p.l.ToNumber(-1)
	if !ok {
		return 0
	}
	switch {
	case n < 0:
		return 0
	case n > 100:
		return 100
	}
	return int(n)
}

func (p *Plugin) MarshalState(state puzzle.State) ([]byte, error) {
	s, ok := state.(string)
	if !ok {
		return nil, errors.New("script: state is not a string")
	}
	return json.Marshal(s)
}

func (p *Plugin) UnmarshalState(data []byte) (puzzle.State, error) {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return s, nil
}

// ParseMove accepts the move either as a JSON string or as raw text.
func (p *Plugin) ParseMove(data []byte) (puzzle.Move, error) {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s, nil
	}
	m := strings.TrimSpace(string(data))
	if m == "" {
		return nil, fmt.Errorf("%w: empty", puzzle.ErrBadMove)
	}
	return m, nil
}

func (h hintingPlugin) Hint(state, solution puzzle.State) ([]byte, error) {
	s, ok1 := state.(string)
	sol, ok2 := solution.(string)
	if !ok1 || !ok2 {
		return nil, errors.New("script: state is not a string")
	}
	payload, err := h.callString("hint", s, sol)
	if err != nil {
		return nil, err
	}
	return []byte(payload), nil
}

func (h hintingPlugin) HintResolved(state puzzle.State, payload []byte) bool {
	s, ok := state.(string)
	if !ok {
		return false
	}
	resolved, err := h.callBool("hint_resolved", s, string(payload))
	return err == nil && resolved
}
