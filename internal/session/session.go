package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/MJE43/mines-desktop/internal/mines"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("invalid amount")
)

// Totals are running counters over every round this session has played.
type Totals struct {
	Rounds   int             `json:"rounds"`
	Wins     int             `json:"wins"`
	Losses   int             `json:"losses"`
	Cashouts int             `json:"cashouts"`
	Wagered  decimal.Decimal `json:"wagered"`
	PaidOut  decimal.Decimal `json:"paidOut"`
	Net      decimal.Decimal `json:"net"`
}

// Status is the player-facing view of the session.
type Status struct {
	ID      string          `json:"id"`
	Balance decimal.Decimal `json:"balance"`
	Totals  Totals          `json:"totals"`
	Round   mines.Snapshot  `json:"round"`
}

// Session owns the player's balance and is the single entry point into one
// round engine. Calls are serialized so that checking funds, starting the
// round and debiting the bet happen as one step.
type Session struct {
	mu     sync.Mutex
	id     string
	engine *mines.Engine
	logger *zap.Logger

	// balMu guards balance and totals. It is separate from mu because the
	// payout observer runs while an entry call still holds mu.
	balMu   sync.Mutex
	balance decimal.Decimal
	totals  Totals

	unsubscribe func()
}

// Option customizes a Session.
type Option func(*Session)

// WithID fixes the session id instead of generating one.
func WithID(id string) Option {
	return func(s *Session) { s.id = id }
}

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// New binds a session to engine. Payouts are credited from the engine's
// round-ended notification, so they land before Reveal or CashOut returns.
func New(engine *mines.Engine, startingBalance decimal.Decimal, opts ...Option) (*Session, error) {
	if engine == nil {
		return nil, errors.New("session: nil engine")
	}
	if startingBalance.IsNegative() {
		return nil, fmt.Errorf("%w: starting balance %s is negative", ErrInvalidAmount, startingBalance)
	}
	s := &Session{
		id:      uuid.NewString(),
		engine:  engine,
		logger:  zap.NewNop(),
		balance: startingBalance,
		totals: Totals{
			Wagered: decimal.Zero,
			PaidOut: decimal.Zero,
			Net:     decimal.Zero,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.unsubscribe = engine.Subscribe(payoutObserver{s: s})
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Engine returns the engine this session drives.
func (s *Session) Engine() *mines.Engine { return s.engine }

// PlaceBet starts a round. The bet is debited only after the engine has
// accepted it, so a rejected start costs nothing.
func (s *Session) PlaceBet(bet decimal.Decimal, mineCount int) (mines.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if balance := s.Balance(); bet.GreaterThan(balance) {
		return mines.Snapshot{}, fmt.Errorf("%w: bet %s exceeds balance %s", ErrInsufficientFunds, bet, balance)
	}
	if err := s.engine.StartRound(bet, mineCount); err != nil {
		return mines.Snapshot{}, err
	}

	s.balMu.Lock()
	s.balance = s.balance.Sub(bet)
	s.totals.Rounds++
	s.totals.Wagered = s.totals.Wagered.Add(bet)
	s.totals.Net = s.totals.PaidOut.Sub(s.totals.Wagered)
	balance := s.balance
	s.balMu.Unlock()

	s.logger.Info("bet placed",
		zap.String("bet", bet.String()),
		zap.Int("mines", mineCount),
		zap.String("balance", balance.String()),
	)
	return s.engine.Snapshot(), nil
}

// Reveal uncovers a cell in the current round.
func (s *Session) Reveal(x, y int) (mines.Reveal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.RevealCell(x, y)
}

// RevealResult is Reveal that also returns the round result when the reveal
// ended the round.
func (s *Session) RevealResult(x, y int) (mines.Reveal, *mines.RoundResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.RevealCellResult(x, y)
}

// CashOut ends the current round and credits the reward.
func (s *Session) CashOut() (mines.RoundResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.CashOut()
}

// Deposit adds a positive amount to the balance.
func (s *Session) Deposit(amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: deposit must be positive, got %s", ErrInvalidAmount, amount)
	}
	s.balMu.Lock()
	s.balance = s.balance.Add(amount)
	balance := s.balance
	s.balMu.Unlock()

	s.logger.Info("deposit", zap.String("amount", amount.String()), zap.String("balance", balance.String()))
	return balance, nil
}

// Balance returns the current balance.
func (s *Session) Balance() decimal.Decimal {
	s.balMu.Lock()
	defer s.balMu.Unlock()
	return s.balance
}

// Status returns balance, totals and the engine snapshot.
func (s *Session) Status() Status {
	s.balMu.Lock()
	st := Status{ID: s.id, Balance: s.balance, Totals: s.totals}
	s.balMu.Unlock()
	st.Round = s.engine.Snapshot()
	return st
}

// Close detaches the session from the engine.
func (s *Session) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

func (s *Session) settle(r mines.RoundResult) {
	s.balMu.Lock()
	switch r.Outcome {
	case mines.OutcomeWin:
		s.totals.Wins++
	case mines.OutcomeLoss:
		s.totals.Losses++
	case mines.OutcomeCashedOut:
		s.totals.Cashouts++
	}
	if r.Payout.IsPositive() {
		s.balance = s.balance.Add(r.Payout)
		s.totals.PaidOut = s.totals.PaidOut.Add(r.Payout)
	}
	s.totals.Net = s.totals.PaidOut.Sub(s.totals.Wagered)
	balance := s.balance
	s.balMu.Unlock()

	s.logger.Info("round settled",
		zap.String("round_id", r.RoundID),
		zap.String("outcome", string(r.Outcome)),
		zap.String("payout", r.Payout.String()),
		zap.String("balance", balance.String()),
	)
}

type payoutObserver struct {
	mines.NopObserver
	s *Session
}

func (o payoutObserver) RoundEnded(r mines.RoundResult) { o.s.settle(r) }
