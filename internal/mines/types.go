package mines

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the engine lifecycle state.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusInProgress Status = "in_progress"
	StatusLost       Status = "lost"
	StatusWon        Status = "won"
	StatusCashedOut  Status = "cashed_out"
)

// Terminal reports whether s ends a round.
func (s Status) Terminal() bool {
	return s == StatusLost || s == StatusWon || s == StatusCashedOut
}

// Outcome is how a round ended.
type Outcome string

const (
	OutcomeWin       Outcome = "win"
	OutcomeLoss      Outcome = "loss"
	OutcomeCashedOut Outcome = "cashed_out"
)

func (o Outcome) status() Status {
	switch o {
	case OutcomeWin:
		return StatusWon
	case OutcomeCashedOut:
		return StatusCashedOut
	default:
		return StatusLost
	}
}

// RoundInfo describes a freshly started round.
type RoundInfo struct {
	RoundID    string          `json:"roundId"`
	Generation uint64          `json:"generation"`
	Bet        decimal.Decimal `json:"bet"`
	MineCount  int             `json:"mineCount"`
	GridSide   int             `json:"gridSide"`
	TotalSafe  int             `json:"totalSafe"`
	StartedAt  time.Time       `json:"startedAt"`
}

// Reveal is the result of a RevealCell call.
type Reveal struct {
	RoundID         string          `json:"roundId"`
	Generation      uint64          `json:"generation"`
	Position        Position        `json:"position"`
	Mine            bool            `json:"mine"`
	AlreadyRevealed bool            `json:"alreadyRevealed"`
	Revealed        int             `json:"revealed"`
	Reward          decimal.Decimal `json:"reward"`
	Status          Status          `json:"status"`
}

// RewardUpdate carries the reward after a safe reveal.
type RewardUpdate struct {
	RoundID    string          `json:"roundId"`
	Generation uint64          `json:"generation"`
	Reward     decimal.Decimal `json:"reward"`
	Multiplier decimal.Decimal `json:"multiplier"`
	Revealed   int             `json:"revealed"`
	TotalSafe  int             `json:"totalSafe"`
}

// RoundResult is the terminal record of a round. Payout is zero on a loss.
type RoundResult struct {
	RoundID    string          `json:"roundId"`
	Generation uint64          `json:"generation"`
	Outcome    Outcome         `json:"outcome"`
	Bet        decimal.Decimal `json:"bet"`
	Payout     decimal.Decimal `json:"payout"`
	MineCount  int             `json:"mineCount"`
	GridSide   int             `json:"gridSide"`
	Revealed   int             `json:"revealed"`
	TotalSafe  int             `json:"totalSafe"`
	Mines      []Position      `json:"mines"`
	StartedAt  time.Time       `json:"startedAt"`
	EndedAt    time.Time       `json:"endedAt"`
}

// ResetInfo is sent when a terminal round is cleared back to idle.
type ResetInfo struct {
	RoundID    string    `json:"roundId"`
	Generation uint64    `json:"generation"`
	ResetAt    time.Time `json:"resetAt"`
}

// CellView is the read-only view of a cell. Mine is only set once the round
// is over.
type CellView struct {
	X        int  `json:"x"`
	Y        int  `json:"y"`
	Revealed bool `json:"revealed"`
	Mine     bool `json:"mine"`
}

// Snapshot is a read-only copy of the engine state.
type Snapshot struct {
	Status     Status          `json:"status"`
	RoundID    string          `json:"roundId,omitempty"`
	Generation uint64          `json:"generation"`
	Bet        decimal.Decimal `json:"bet"`
	MineCount  int             `json:"mineCount"`
	GridSide   int             `json:"gridSide"`
	Revealed   int             `json:"revealed"`
	TotalSafe  int             `json:"totalSafe"`
	Reward     decimal.Decimal `json:"reward"`
	Multiplier decimal.Decimal `json:"multiplier"`
	Cells      []CellView      `json:"cells,omitempty"`
	Last       *RoundResult    `json:"last,omitempty"`
}
