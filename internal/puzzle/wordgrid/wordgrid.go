// Package wordgrid implements a word square fill-in puzzle: a small letter
// grid whose rows and columns spell the same words, with some letters given.
package wordgrid

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"puzzlerace/internal/puzzle"
)

// WordGrid is the puzzle plugin. The zero value is ready to register.
type WordGrid struct{}

// Grid is the wordgrid state. Cells holds the current letters row-major with
// '.' for empty; Given holds the starting pattern, whose letters mark cells
// that are never editable.
type Grid struct {
	Size  int    `json:"size"`
	Cells string `json:"cells"`
	Given string `json:"given"`
}

// Move writes one letter. An empty Letter clears the cell.
type Move struct {
	Row    int    `json:"row"`
	Col    int    `json:"col"`
	Letter string `json:"letter"`
}

type board struct {
	size     int
	solution string
	starts   map[string]string
}

// Curated word squares. Each difficulty is a mask of one square's letters.
var boards = []board{
	{
		size:     4,
		solution: "CARD" + "AREA" + "REAR" + "DART",
		starts: map[string]string{
			"easy": "CARD" + "A.E." + "RE.R" + ".ART",
		},
	},
	{
		size:     5,
		solution: "HEART" + "EMBER" + "ABUSE" + "RESIN" + "TREND",
		starts: map[string]string{
			"medium": "H.A.T" + ".MBE." + "AB.SE" + ".ES.N" + "T.EN.",
			"hard":   "H...T" + ".M..." + "..U.." + "...I." + "T...D",
		},
	},
}

func lookup(difficulty string) (board, string, bool) {
	for _, b := range boards {
		if start, ok := b.starts[difficulty]; ok {
			return b, start, true
		}
	}
	return board{}, "", false
}

func (WordGrid) Info() puzzle.Info {
	return puzzle.Info{ID: "wordgrid", Name: "Word Grid"}
}

func (WordGrid) Create(difficulty string) (*puzzle.Instance, error) {
	b, start, ok := lookup(difficulty)
	if !ok {
		return nil, fmt.Errorf("wordgrid: unknown difficulty %q", difficulty)
	}
	meta, err := json.Marshal(map[string]int{"rows": b.size, "cols": b.size})
	if err != nil {
		return nil, err
	}
	return &puzzle.Instance{
		Initial:  &Grid{Size: b.size, Cells: start, Given: start},
		Solution: &Grid{Size: b.size, Cells: b.solution, Given: start},
		Meta:     meta,
	}, nil
}

func (g *Grid) inRange(row, col int) bool {
	return row >= 0 && row < g.Size && col >= 0 && col < g.Size
}

func (g *Grid) given(row, col int) bool {
	return g.Given[row*g.Size+col] != '.'
}

func validLetter(letter string) bool {
	if letter == "" {
		return true
	}
	return len(letter) == 1 && letter[0] >= 'A' && letter[0] <= 'Z'
}

func (WordGrid) ValidateMove(state puzzle.State, move puzzle.Move) bool {
	g, ok := state.(*Grid)
	if !ok {
		return false
	}
	m, ok := move.(Move)
	if !ok {
		return false
	}
	if !g.inRange(m.Row, m.Col) || !validLetter(m.Letter) {
		return false
	}
	return !g.given(m.Row, m.Col)
}

func (WordGrid) ApplyMove(state puzzle.State, move puzzle.Move) (puzzle.State, error) {
	g, ok := state.(*Grid)
	if !ok {
		return nil, errors.New("wordgrid: state is not a grid")
	}
	m, ok := move.(Move)
	if !ok {
		return nil, errors.New("wordgrid: not a wordgrid move")
	}
	if !g.inRange(m.Row, m.Col) {
		return nil, fmt.Errorf("wordgrid: cell (%d,%d) out of range", m.Row, m.Col)
	}
	if !validLetter(m.Letter) {
		return nil, fmt.Errorf("wordgrid: %q is not a letter", m.Letter)
	}
	if g.given(m.Row, m.Col) {
		return nil, fmt.Errorf("wordgrid: cell (%d,%d) is a given", m.Row, m.Col)
	}
	cells := []byte(g.Cells)
	if m.Letter == "" {
		cells[m.Row*g.Size+m.Col] = '.'
	} else {
		cells[m.Row*g.Size+m.Col] = m.Letter[0]
	}
	next := *g
	next.Cells = string(cells)
	return &next, nil
}

func (WordGrid) IsComplete(state puzzle.State) bool {
	g, ok := state.(*Grid)
	if !ok {
		return false
	}
	return !strings.ContainsRune(g.Cells, '.')
}

func (WordGrid) IsCorrect(state, solution puzzle.State) bool {
	g, ok := state.(*Grid)
	if !ok {
		return false
	}
	sol, ok := solution.(*Grid)
	if !ok {
		return false
	}
	return g.Size == sol.Size && g.Cells == sol.Cells
}

func (WordGrid) Score(state, initial, solution puzzle.State) int {
	g, ok1 := state.(*Grid)
	init, ok2 := initial.(*Grid)
	sol, ok3 := solution.(*Grid)
	if !ok1 || !ok2 || !ok3 {
		return 0
	}
	total, correct := 0, 0
	for i := 0; i < len(init.Given); i++ {
		if init.Given[i] != '.' {
			continue
		}
		total++
		if g.Cells[i] != '.' && g.Cells[i] == sol.Cells[i] {
			correct++
		}
	}
	if total == 0 {
		return 100
	}
	return correct * 100 / total
}

func (WordGrid) MarshalState(state puzzle.State) ([]byte, error) {
	g, ok := state.(*Grid)
	if !ok {
		return nil, errors.New("wordgrid: state is not a grid")
	}
	return json.Marshal(g)
}

func (WordGrid) UnmarshalState(data []byte) (puzzle.State, error) {
	var g Grid
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, err
	}
	if g.Size < 2 || len(g.Cells) != g.Size*g.Size || len(g.Given) != g.Size*g.Size {
		return nil, fmt.Errorf("wordgrid: malformed %dx%d grid", g.Size, g.Size)
	}
	for i := 0; i < len(g.Cells); i++ {
		if g.Cells[i] != '.' && (g.Cells[i] < 'A' || g.Cells[i] > 'Z') {
			return nil, fmt.Errorf("wordgrid: bad cell %q", g.Cells[i])
		}
	}
	return &g, nil
}

func (WordGrid) ParseMove(data []byte) (puzzle.Move, error) {
	var m Move
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", puzzle.ErrBadMove, err)
	}
	m.Letter = strings.ToUpper(m.Letter)
	return m, nil
}

// Hint reveals the first cell, scanning row-major, that differs from the
// solution.
func (WordGrid) Hint(state, solution puzzle.State) ([]byte, error) {
	g, ok := state.(*Grid)
	if !ok {
		return nil, errors.New("wordgrid: state is not a grid")
	}
	sol, ok := solution.(*Grid)
	if !ok {
		return nil, errors.New("wordgrid: solution is not a grid")
	}
	for i := 0; i < len(g.Cells); i++ {
		if g.Cells[i] != sol.Cells[i] {
			return json.Marshal(Move{Row: i / g.Size, Col: i % g.Size, Letter: string(sol.Cells[i])})
		}
	}
	return nil, errors.New("wordgrid: grid already solved")
}

// HintResolved reports whether the hinted cell now holds the revealed letter.
func (WordGrid) HintResolved(state puzzle.State, payload []byte) bool {
	g, ok := state.(*Grid)
	if !ok {
		return false
	}
	var m Move
	if err := json.Unmarshal(payload, &m); err != nil {
		return false
	}
	if !g.inRange(m.Row, m.Col) || len(m.Letter) != 1 {
		return false
	}
	return g.Cells[m.Row*g.Size+m.Col] == m.Letter[0]
}
