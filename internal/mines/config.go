package mines

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	defaultGridSide  = 5
	defaultMinMines  = 1
	defaultMaxMines  = 24
	defaultMineCount = 3
)

// Config parameterizes a round engine.
type Config struct {
	GridSide          int             `json:"gridSide"`
	MinBet            decimal.Decimal `json:"minBet"`
	MinMines          int             `json:"minMines"`
	MaxMines          int             `json:"maxMines"`
	LossResetDelay    time.Duration   `json:"lossResetDelay"`
	WinResetDelay     time.Duration   `json:"winResetDelay"`
	CashoutResetDelay time.Duration   `json:"cashoutResetDelay"`
}

// DefaultConfig returns the classic 5x5 board with 1-24 mines.
func DefaultConfig() Config {
	return Config{
		GridSide:          defaultGridSide,
		MinBet:            decimal.New(1, -2),
		MinMines:          defaultMinMines,
		MaxMines:          defaultMaxMines,
		LossResetDelay:    2000 * time.Millisecond,
		WinResetDelay:     2000 * time.Millisecond,
		CashoutResetDelay: 1500 * time.Millisecond,
	}
}

// DefaultMineCount is the mine count offered before the player picks one.
func DefaultMineCount() int { return defaultMineCount }

// Validate checks that the config describes a playable board.
func (c Config) Validate() error {
	if c.GridSide < 2 {
		return fmt.Errorf("grid side must be at least 2, got %d", c.GridSide)
	}
	if c.MinBet.IsNegative() {
		return fmt.Errorf("min bet must not be negative, got %s", c.MinBet)
	}
	if c.MinMines < 1 {
		return fmt.Errorf("min mines must be at least 1, got %d", c.MinMines)
	}
	if c.MaxMines < c.MinMines {
		return fmt.Errorf("max mines %d is below min mines %d", c.MaxMines, c.MinMines)
	}
	if c.MinMines > c.Cells()-1 {
		return fmt.Errorf("min mines %d leaves no safe cell on a %dx%d grid", c.MinMines, c.GridSide, c.GridSide)
	}
	if c.LossResetDelay < 0 || c.WinResetDelay < 0 || c.CashoutResetDelay < 0 {
		return fmt.Errorf("reset delays must not be negative")
	}
	return nil
}

// Cells is the number of cells on the grid.
func (c Config) Cells() int { return c.GridSide * c.GridSide }

// MineBounds returns the inclusive range of accepted mine counts. The upper
// bound never exceeds cells-1 so that at least one safe cell exists.
func (c Config) MineBounds() (lo, hi int) {
	hi = c.MaxMines
	if limit := c.Cells() - 1; hi > limit {
		hi = limit
	}
	return c.MinMines, hi
}

func (c Config) resetDelay(o Outcome) time.Duration {
	switch o {
	case OutcomeWin:
		return c.WinResetDelay
	case OutcomeCashedOut:
		return c.CashoutResetDelay
	default:
		return c.LossResetDelay
	}
}
