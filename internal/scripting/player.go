package scripting

import (
	"github.com/shopspring/decimal"

	"github.com/MJE43/mines-desktop/internal/mines"
	"github.com/MJE43/mines-desktop/internal/session"
)

// RoundPlayer is what the autoplay loop needs from a player session.
type RoundPlayer interface {
	GridSide() int
	Balance() decimal.Decimal
	PlaceBet(bet decimal.Decimal, mineCount int) error
	// Reveal uncovers a cell. The result is non-nil when the reveal ended
	// the round.
	Reveal(x, y int) (mines.Reveal, *mines.RoundResult, error)
	CashOut() (mines.RoundResult, error)
}

// SessionPlayer plays through a session, so autoplay bets are debited and
// paid like manual ones.
type SessionPlayer struct {
	s *session.Session
}

// NewSessionPlayer adapts s to RoundPlayer.
func NewSessionPlayer(s *session.Session) *SessionPlayer {
	return &SessionPlayer{s: s}
}

func (p *SessionPlayer) GridSide() int { return p.s.Engine().Config().GridSide }

func (p *SessionPlayer) Balance() decimal.Decimal { return p.s.Balance() }

func (p *SessionPlayer) PlaceBet(bet decimal.Decimal, mineCount int) error {
	_, err := p.s.PlaceBet(bet, mineCount)
	return err
}

func (p *SessionPlayer) Reveal(x, y int) (mines.Reveal, *mines.RoundResult, error) {
	return p.s.RevealResult(x, y)
}

func (p *SessionPlayer) CashOut() (mines.RoundResult, error) {
	return p.s.CashOut()
}
