package mines

// Cell is one grid position. Its coordinates never change; the mine flag is
// set at most once during generation and the revealed flag only goes from
// false to true.
type Cell struct {
	Column int
	Row    int

	mine     bool
	revealed bool
}

func newCell(column, row int) *Cell {
	return &Cell{Column: column, Row: row}
}

// MarkAsMine flags the cell as a mine. It fails when the cell already is one
// or has been revealed.
func (c *Cell) MarkAsMine() error {
	if c.revealed {
		return ErrCellRevealed
	}
	if c.mine {
		return ErrAlreadyMine
	}
	c.mine = true
	return nil
}

// Reveal uncovers the cell and reports whether this call did the uncovering.
func (c *Cell) Reveal() bool {
	if c.revealed {
		return false
	}
	c.revealed = true
	return true
}

func (c *Cell) IsMine() bool     { return c.mine }
func (c *Cell) IsRevealed() bool { return c.revealed }

// Position returns the cell coordinates.
func (c *Cell) Position() Position {
	return Position{X: c.Column, Y: c.Row}
}

// Position addresses a cell: X is the column, Y the row.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Index returns the row-major index of p on a grid of the given side.
func (p Position) Index(side int) int { return p.Y*side + p.X }

// PositionAt converts a row-major index back to a position.
func PositionAt(index, side int) Position {
	return Position{X: index % side, Y: index / side}
}
