package mines

import (
	"fmt"
	"math/rand/v2"
)

// Source supplies uniformly distributed integers in [0, n).
// *rand.Rand from math/rand/v2 satisfies it.
type Source interface {
	IntN(n int) int
}

type globalSource struct{}

func (globalSource) IntN(n int) int { return rand.IntN(n) }

// Grid is a side x side board of cells stored row-major.
type Grid struct {
	side  int
	cells []*Cell
	mines int
}

// NewGrid builds a board and seeds mineCount mines into it by rejection
// sampling: random (row, column) pairs are drawn until mineCount distinct
// cells are mines. mineCount must leave at least one safe cell.
func NewGrid(side, mineCount int, src Source) (*Grid, error) {
	if side < 1 {
		return nil, fmt.Errorf("grid side must be positive, got %d", side)
	}
	if mineCount < 1 || mineCount > side*side-1 {
		return nil, fmt.Errorf("%w: %d on a %dx%d grid", ErrInvalidMineCount, mineCount, side, side)
	}
	if src == nil {
		src = globalSource{}
	}

	g := &Grid{side: side, cells: make([]*Cell, 0, side*side)}
	for row := 0; row < side; row++ {
		for col := 0; col < side; col++ {
			g.cells = append(g.cells, newCell(col, row))
		}
	}

	for g.mines < mineCount {
		r := src.IntN(side)
		c := src.IntN(side)
		if err := g.cells[r*side+c].MarkAsMine(); err != nil {
			continue
		}
		g.mines++
	}
	return g, nil
}

func (g *Grid) Side() int      { return g.side }
func (g *Grid) MineCount() int { return g.mines }
func (g *Grid) SafeCells() int { return len(g.cells) - g.mines }

// InBounds reports whether (x, y) addresses a cell.
func (g *Grid) InBounds(x, y int) bool {
	return x >= 0 && x < g.side && y >= 0 && y < g.side
}

// Cell returns the cell at column x, row y.
func (g *Grid) Cell(x, y int) (*Cell, bool) {
	if !g.InBounds(x, y) {
		return nil, false
	}
	return g.cells[y*g.side+x], true
}

// Mines lists mine positions in row-major order.
func (g *Grid) Mines() []Position {
	out := make([]Position, 0, g.mines)
	for _, c := range g.cells {
		if c.mine {
			out = append(out, c.Position())
		}
	}
	return out
}

// Revealed lists revealed positions in row-major order.
func (g *Grid) Revealed() []Position {
	var out []Position
	for _, c := range g.cells {
		if c.revealed {
			out = append(out, c.Position())
		}
	}
	return out
}
