package scripting

import (
	"math"

	"github.com/MJE43/mines-desktop/internal/mines"
)

// Statistics tracks autoplay results since the last start or resetstats().
// Amounts are float64 because scripts see them as JS numbers.
type Statistics struct {
	Bets     int     `json:"bets"`
	Wins     int     `json:"wins"`
	Losses   int     `json:"losses"`
	Cashouts int     `json:"cashouts"`
	Wagered  float64 `json:"wagered"`
	Profit   float64 `json:"profit"`
	Balance  float64 `json:"balance"`
	StartBal float64 `json:"startBal"`

	WinStreak  int `json:"winStreak"`
	LoseStreak int `json:"loseStreak"`
	// Positive while winning, negative while losing.
	CurrentStreak int `json:"currentStreak"`

	HighestStreak int     `json:"highestStreak"`
	LowestStreak  int     `json:"lowestStreak"`
	HighestBet    float64 `json:"highestBet"`
	HighestProfit float64 `json:"highestProfit"`
	LowestProfit  float64 `json:"lowestProfit"`

	CurrentProfit float64 `json:"currentProfit"`
	PreviousBet   float64 `json:"previousBet"`
}

// NewStatistics starts a tally at the given balance.
func NewStatistics(startBalance float64) *Statistics {
	return &Statistics{Balance: startBalance, StartBal: startBalance}
}

// Reset clears the tally and rebases it on the current balance.
func (s *Statistics) Reset() {
	*s = *NewStatistics(s.Balance)
}

// BetResult is one finished round as the statistics see it.
type BetResult struct {
	Amount     float64       `json:"amount"`
	Payout     float64       `json:"payout"`
	Multiplier float64       `json:"payoutMultiplier"`
	Win        bool          `json:"win"`
	Outcome    mines.Outcome `json:"outcome"`
	Mines      int           `json:"mines"`
	Revealed   int           `json:"revealed"`
}

// newBetResult converts a round result. A round counts as a win when it paid
// back more than the bet.
func newBetResult(r mines.RoundResult) BetResult {
	amount := r.Bet.InexactFloat64()
	payout := r.Payout.InexactFloat64()
	var multi float64
	if r.Bet.IsPositive() {
		multi = r.Payout.Div(r.Bet).InexactFloat64()
	}
	return BetResult{
		Amount:     amount,
		Payout:     payout,
		Multiplier: multi,
		Win:        r.Payout.GreaterThan(r.Bet),
		Outcome:    r.Outcome,
		Mines:      r.MineCount,
		Revealed:   r.Revealed,
	}
}

// RecordBet folds one result into the tally.
func (s *Statistics) RecordBet(r BetResult) {
	s.Bets++
	if r.Outcome == mines.OutcomeCashedOut {
		s.Cashouts++
	}

	profit := r.Payout - r.Amount
	s.CurrentProfit = profit
	s.Profit += profit
	s.Wagered += r.Amount
	s.PreviousBet = r.Amount
	s.Balance += profit

	if r.Win {
		s.Wins++
		s.WinStreak++
		s.LoseStreak = 0
		s.CurrentStreak = s.WinStreak
	} else {
		s.Losses++
		s.LoseStreak++
		s.WinStreak = 0
		s.CurrentStreak = -s.LoseStreak
	}

	s.HighestBet = math.Max(s.HighestBet, r.Amount)
	s.HighestProfit = math.Max(s.HighestProfit, s.Profit)
	s.LowestProfit = math.Min(s.LowestProfit, s.Profit)
	s.HighestStreak = max(s.HighestStreak, s.CurrentStreak)
	s.LowestStreak = min(s.LowestStreak, s.CurrentStreak)
}

// ProfitPercent is profit relative to the starting balance.
func (s *Statistics) ProfitPercent() float64 {
	if s.StartBal == 0 {
		return 0
	}
	return s.Profit / math.Abs(s.StartBal) * 100
}

// ChartPoint is one sample of the profit curve.
type ChartPoint struct {
	BetNumber int     `json:"x"`
	Profit    float64 `json:"y"`
	Win       bool    `json:"win"`
}

// ChartBuffer keeps a bounded profit curve. Once it holds twice its limit it
// drops every other point, always keeping the first and the newest.
type ChartBuffer struct {
	points []ChartPoint
	limit  int
}

// NewChartBuffer returns a buffer that thins out past limit points.
func NewChartBuffer(limit int) *ChartBuffer {
	if limit <= 0 {
		limit = 50
	}
	return &ChartBuffer{points: make([]ChartPoint, 0, limit), limit: limit}
}

// Push appends p, thinning the curve when it grows too long.
func (cb *ChartBuffer) Push(p ChartPoint) {
	cb.points = append(cb.points, p)
	if len(cb.points) < cb.limit*2 {
		return
	}
	last := len(cb.points) - 1
	kept := make([]ChartPoint, 0, cb.limit+1)
	kept = append(kept, cb.points[0])
	for i := 2; i < last; i += 2 {
		kept = append(kept, cb.points[i])
	}
	cb.points = append(kept, cb.points[last])
}

// Points returns a copy of the curve.
func (cb *ChartBuffer) Points() []ChartPoint {
	return append([]ChartPoint(nil), cb.points...)
}

// Len is the number of stored points.
func (cb *ChartBuffer) Len() int { return len(cb.points) }

// Reset empties the curve.
func (cb *ChartBuffer) Reset() {
	cb.points = cb.points[:0]
}
