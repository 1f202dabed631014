package script

import (
	_ "embed"

	"puzzlerace/internal/puzzle"
)

//go:embed sample.lua
var sampleSource string

// Sample returns the built-in Lua sequence puzzle that ships with the server.
func Sample() (puzzle.Puzzle, error) {
	return New(sampleSource)
}
