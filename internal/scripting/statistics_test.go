package scripting

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/MJE43/mines-desktop/internal/mines"
)

func TestStatisticsRecordBet(t *testing.T) {
	s := NewStatistics(100)
	for _, r := range []BetResult{
		{Amount: 10, Payout: 0, Outcome: mines.OutcomeLoss},
		{Amount: 10, Payout: 0, Outcome: mines.OutcomeLoss},
		{Amount: 20, Payout: 50, Win: true, Outcome: mines.OutcomeCashedOut},
	} {
		s.RecordBet(r)
	}

	if s.Bets != 3 || s.Wins != 1 || s.Losses != 2 || s.Cashouts != 1 {
		t.Errorf("counts = %+v", s)
	}
	if s.Profit != 10 || s.Balance != 110 || s.Wagered != 40 {
		t.Errorf("profit=%v balance=%v wagered=%v", s.Profit, s.Balance, s.Wagered)
	}
	if s.CurrentStreak != 1 || s.LowestStreak != -2 || s.HighestStreak != 1 {
		t.Errorf("streaks current=%d lowest=%d highest=%d", s.CurrentStreak, s.LowestStreak, s.HighestStreak)
	}
	if s.LowestProfit != -20 || s.HighestProfit != 10 || s.HighestBet != 20 {
		t.Errorf("peaks = %+v", s)
	}
	if p := s.ProfitPercent(); p != 10 {
		t.Errorf("ProfitPercent = %v", p)
	}

	s.Reset()
	if s.Bets != 0 || s.StartBal != 110 || s.Balance != 110 {
		t.Errorf("after reset = %+v", s)
	}
}

func TestNewBetResult(t *testing.T) {
	r := newBetResult(mines.RoundResult{
		Outcome:   mines.OutcomeCashedOut,
		Bet:       decimal.NewFromInt(4),
		Payout:    decimal.NewFromInt(6),
		MineCount: 3,
		Revealed:  5,
	})
	if !r.Win || r.Multiplier != 1.5 || r.Amount != 4 || r.Payout != 6 {
		t.Errorf("result = %+v", r)
	}

	r = newBetResult(mines.RoundResult{Outcome: mines.OutcomeCashedOut, Bet: decimal.NewFromInt(4), Payout: decimal.NewFromInt(4)})
	if r.Win {
		t.Error("breaking even is not a win")
	}
}

func TestChartBuffer(t *testing.T) {
	cb := NewChartBuffer(10)
	for i := 0; i < 25; i++ {
		cb.Push(ChartPoint{BetNumber: i, Profit: float64(i), Win: i%2 == 0})
	}

	points := cb.Points()
	if len(points) >= 20 {
		t.Errorf("expected thinning to keep fewer than 20 points, got %d", len(points))
	}
	if points[0].BetNumber != 0 {
		t.Errorf("first point should be preserved, got %d", points[0].BetNumber)
	}
	if last := points[len(points)-1].BetNumber; last != 24 {
		t.Errorf("last point should be preserved, got %d", last)
	}

	cb.Reset()
	if cb.Len() != 0 {
		t.Errorf("Len after reset = %d", cb.Len())
	}
}
