package mines

import "github.com/shopspring/decimal"

// RewardPolicy computes the accrued reward of an in-progress round.
type RewardPolicy interface {
	Reward(bet decimal.Decimal, mineCount, revealed, totalSafe int) decimal.Decimal
}

// LinearReward pays bet x (1 + mineCount) x revealed / totalSafe: zero before
// the first safe reveal, bet x (1 + mineCount) once every safe cell is open.
type LinearReward struct{}

func (LinearReward) Reward(bet decimal.Decimal, mineCount, revealed, totalSafe int) decimal.Decimal {
	if revealed <= 0 || totalSafe <= 0 {
		return decimal.Zero
	}
	// Multiply first so exact fractions like 440/22 stay exact.
	return bet.
		Mul(decimal.NewFromInt(int64(1 + mineCount))).
		Mul(decimal.NewFromInt(int64(revealed))).
		Div(decimal.NewFromInt(int64(totalSafe)))
}

// Multiplier is the payout multiple p applies to the bet.
func Multiplier(p RewardPolicy, mineCount, revealed, totalSafe int) decimal.Decimal {
	return p.Reward(decimal.NewFromInt(1), mineCount, revealed, totalSafe)
}
