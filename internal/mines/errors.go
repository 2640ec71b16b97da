package mines

import "errors"

// Engine errors. All of them are recoverable: a call that returns one of
// these leaves the round exactly as it was.
var (
	ErrInvalidBet       = errors.New("invalid bet")
	ErrInvalidMineCount = errors.New("invalid mine count")
	ErrOutOfBounds      = errors.New("cell out of bounds")
	ErrNotInProgress    = errors.New("round not in progress")
	ErrRoundInProgress  = errors.New("round already in progress")
)

// Cell errors, only reachable during grid generation.
var (
	ErrAlreadyMine  = errors.New("cell is already a mine")
	ErrCellRevealed = errors.New("cell is already revealed")
)
