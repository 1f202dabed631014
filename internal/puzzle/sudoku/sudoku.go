// Package sudoku implements the classic 9x9 digit placement puzzle.
package sudoku

import (
	"encoding/json"
	"errors"
	"fmt"

	"puzzlerace/internal/puzzle"
)

// Sudoku is the puzzle plugin. The zero value is ready to register.
type Sudoku struct{}

// Board is the sudoku state: cell values 0-9 (0 means empty) plus a mask of
// the pre-filled givens, which are never editable.
type Board struct {
	Cells [9][9]int  `json:"cells"`
	Given [9][9]bool `json:"given"`
}

// Move fills one cell. Value 0 clears a previous entry.
type Move struct {
	Row   int `json:"row"`
	Col   int `json:"col"`
	Value int `json:"value"`
}

// Curated grids: one starting grid per difficulty, all masks of the same
// solved grid. Dots mark empty cells, rows top to bottom.
const solvedGrid = "" +
	"534678912" +
	"672195348" +
	"198342567" +
	"859761423" +
	"426853791" +
	"713924856" +
	"961537284" +
	"287419635" +
	"345286179"

var startGrids = map[string]string{
	"easy": "" +
		"53..7...." +
		"6..195..." +
		".98....6." +
		"8...6...3" +
		"4..8.3..1" +
		"7...2...6" +
		".6....28." +
		"...419..5" +
		"....8..79",
	"medium": "" +
		".3..7...." +
		"6..19...." +
		".98....6." +
		"8...6...3" +
		"4..8.3..1" +
		"7...2...6" +
		".6....28." +
		"...41...5" +
		"....8..7.",
	"hard": "" +
		".3......." +
		"6..19...." +
		".9.....6." +
		"8...6...." +
		"4..8.3..1" +
		"....2...6" +
		".6....2.." +
		"...41...." +
		"....8..7.",
}

func (Sudoku) Info() puzzle.Info {
	return puzzle.Info{ID: "sudoku", Name: "Sudoku"}
}

func (Sudoku) Create(difficulty string) (*puzzle.Instance, error) {
	grid, ok := startGrids[difficulty]
	if !ok {
		return nil, fmt.Errorf("sudoku: unknown difficulty %q", difficulty)
	}
	meta, err := json.Marshal(map[string]int{"rows": 9, "cols": 9})
	if err != nil {
		return nil, err
	}
	return &puzzle.Instance{
		Initial:  parseGrid(grid),
		Solution: parseGrid(solvedGrid),
		Meta:     meta,
	}, nil
}

func (Sudoku) ValidateMove(state puzzle.State, move puzzle.Move) bool {
	b, ok := state.(*Board)
	if !ok {
		return false
	}
	m, ok := move.(Move)
	if !ok {
		return false
	}
	if m.Row < 0 || m.Row > 8 || m.Col < 0 || m.Col > 8 {
		return false
	}
	if m.Value < 0 || m.Value > 9 {
		return false
	}
	return !b.Given[m.Row][m.Col]
}

func (s Sudoku) ApplyMove(state puzzle.State, move puzzle.Move) (puzzle.State, error) {
	b, ok := state.(*Board)
	if !ok {
		return nil, errors.New("sudoku: state is not a board")
	}
	m, ok := move.(Move)
	if !ok {
		return nil, errors.New("sudoku: not a sudoku move")
	}
	if m.Row < 0 || m.Row > 8 || m.Col < 0 || m.Col > 8 {
		return nil, fmt.Errorf("sudoku: cell (%d,%d) out of range", m.Row, m.Col)
	}
	if m.Value < 0 || m.Value > 9 {
		return nil, fmt.Errorf("sudoku: value %d out of range", m.Value)
	}
	if b.Given[m.Row][m.Col] {
		return nil, fmt.Errorf("sudoku: cell (%d,%d) is a given", m.Row, m.Col)
	}
	next := *b
	next.Cells[m.Row][m.Col] = m.Value
	return &next, nil
}

func (Sudoku) IsComplete(state puzzle.State) bool {
	b, ok := state.(*Board)
	if !ok {
		return false
	}
	for r := range b.Cells {
		for c := range b.Cells[r] {
			if b.Cells[r][c] == 0 {
				return false
			}
		}
	}
	return true
}

func (Sudoku) IsCorrect(state, solution puzzle.State) bool {
	b, ok := state.(*Board)
	if !ok {
		return false
	}
	sol, ok := solution.(*Board)
	if !ok {
		return false
	}
	return b.Cells == sol.Cells
}

func (Sudoku) Score(state, initial, solution puzzle.State) int {
	b, ok1 := state.(*Board)
	init, ok2 := initial.(*Board)
	sol, ok3 := solution.(*Board)
	if !ok1 || !ok2 || !ok3 {
		return 0
	}
	total, correct := 0, 0
	for r := range init.Cells {
		for c := range init.Cells[r] {
			if init.Given[r][c] {
				continue
			}
			total++
			if b.Cells[r][c] != 0 && b.Cells[r][c] == sol.Cells[r][c] {
				correct++
			}
		}
	}
	if total == 0 {
		return 100
	}
	return correct * 100 / total
}

func (Sudoku) MarshalState(state puzzle.State) ([]byte, error) {
	b, ok := state.(*Board)
	if !ok {
		return nil, errors.New("sudoku: state is not a board")
	}
	return json.Marshal(b)
}

func (Sudoku) UnmarshalState(data []byte) (puzzle.State, error) {
	var b Board
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, err
	}
	for r := range b.Cells {
		for c := range b.Cells[r] {
			if b.Cells[r][c] < 0 || b.Cells[r][c] > 9 {
				return nil, fmt.Errorf("sudoku: cell (%d,%d) holds %d", r, c, b.Cells[r][c])
			}
		}
	}
	return &b, nil
}

func (Sudoku) ParseMove(data []byte) (puzzle.Move, error) {
	var m Move
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", puzzle.ErrBadMove, err)
	}
	return m, nil
}

// Hint reveals the first cell, scanning row-major, that differs from the
// solution.
func (Sudoku) Hint(state, solution puzzle.State) ([]byte, error) {
	b, ok := state.(*Board)
	if !ok {
		return nil, errors.New("sudoku: state is not a board")
	}
	sol, ok := solution.(*Board)
	if !ok {
		return nil, errors.New("sudoku: solution is not a board")
	}
	for r := range b.Cells {
		for c := range b.Cells[r] {
			if b.Cells[r][c] != sol.Cells[r][c] {
				return json.Marshal(Move{Row: r, Col: c, Value: sol.Cells[r][c]})
			}
		}
	}
	return nil, errors.New("sudoku: board already solved")
}

// HintResolved reports whether the hinted cell now holds the revealed value.
func (Sudoku) HintResolved(state puzzle.State, payload []byte) bool {
	b, ok := state.(*Board)
	if !ok {
		return false
	}
	var m Move
	if err := json.Unmarshal(payload, &m); err != nil {
		return false
	}
	if m.Row < 0 || m.Row > 8 || m.Col < 0 || m.Col > 8 {
		return false
	}
	return b.Cells[m.Row][m.Col] == m.Value
}

func parseGrid(grid string) *Board {
	var b Board
	for i, ch := range []byte(grid) {
		r, c := i/9, i%9
		if ch == '.' {
			continue
		}
		b.Cells[r][c] = int(ch - '0')
		b.Given[r][c] = true
	}
	return &b
}
