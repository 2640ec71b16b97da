package mines

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// round is the state of one play. It is owned by the engine and never
// handed out; observers and callers get value copies.
type round struct {
	id         string
	generation uint64
	bet        decimal.Decimal
	mineCount  int
	grid       *Grid
	revealed   int
	reward     decimal.Decimal
	startedAt  time.Time
}

func (r *round) info() RoundInfo {
	return RoundInfo{
		RoundID:    r.id,
		Generation: r.generation,
		Bet:        r.bet,
		MineCount:  r.mineCount,
		GridSide:   r.grid.Side(),
		TotalSafe:  r.grid.SafeCells(),
		StartedAt:  r.startedAt,
	}
}

// Engine runs the round state machine: idle, in progress, then lost, won or
// cashed out, and back to idle after the configured reset delay.
//
// Entry points and the reset callback are serialized by an internal mutex.
// A multi-caller host that needs several calls to be atomic (debit then
// start, for example) must still add its own exclusion around them.
type Engine struct {
	mu         sync.Mutex
	cfg        Config
	src        Source
	policy     RewardPolicy
	scheduler  Scheduler
	now        func() time.Time
	logger     *zap.Logger
	subs       subscribers
	status     Status
	generation uint64
	current    *round
	last       *RoundResult
	resetTimer Timer
	closed     bool
}

// Option customizes an Engine.
type Option func(*Engine)

// WithSource sets the randomness used for mine placement.
func WithSource(src Source) Option {
	return func(e *Engine) { e.src = src }
}

// WithRewardPolicy replaces LinearReward.
func WithRewardPolicy(p RewardPolicy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithScheduler replaces the time.AfterFunc based scheduler.
func WithScheduler(s Scheduler) Option {
	return func(e *Engine) { e.scheduler = s }
}

// WithClock replaces time.Now for round timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger attaches a logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine returns an idle engine.
func NewEngine(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("mines: %w", err)
	}
	e := &Engine{
		cfg:       cfg,
		src:       globalSource{},
		policy:    LinearReward{},
		scheduler: realScheduler{},
		now:       time.Now,
		logger:    zap.NewNop(),
		status:    StatusIdle,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// Subscribe registers o and returns a func that unregisters it.
func (e *Engine) Subscribe(o Observer) func() {
	return e.subs.add(o)
}

// Status returns the current lifecycle state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// StartRound validates the bet and mine count, discards the previous grid,
// seeds a fresh one and moves to in progress. Any pending auto-reset is
// cancelled. The engine never touches balance; debiting the bet is the
// caller's job.
func (e *Engine) StartRound(bet decimal.Decimal, mineCount int) error {
	e.mu.Lock()

	if !bet.IsPositive() || bet.LessThan(e.cfg.MinBet) {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s is below the minimum of %s", ErrInvalidBet, bet, e.cfg.MinBet)
	}
	lo, hi := e.cfg.MineBounds()
	if mineCount < lo || mineCount > hi {
		e.mu.Unlock()
		return fmt.Errorf("%w: mines count must be between %d and %d, got %d", ErrInvalidMineCount, lo, hi, mineCount)
	}
	if e.status == StatusInProgress {
		e.mu.Unlock()
		return ErrRoundInProgress
	}

	grid, err := NewGrid(e.cfg.GridSide, mineCount, e.src)
	if err != nil {
		e.mu.Unlock()
		return err
	}

	e.cancelResetLocked()
	e.generation++
	e.current = &round{
		id:         uuid.NewString(),
		generation: e.generation,
		bet:        bet,
		mineCount:  mineCount,
		grid:       grid,
		reward:     decimal.Zero,
		startedAt:  e.now(),
	}
	e.status = StatusInProgress
	info := e.current.info()
	e.mu.Unlock()

	e.logger.Debug("round started",
		zap.String("round_id", info.RoundID),
		zap.Uint64("generation", info.Generation),
		zap.String("bet", info.Bet.String()),
		zap.Int("mines", info.MineCount),
	)
	e.subs.dispatch([]Event{{Kind: EventRoundStarted, Started: &info}})
	return nil
}

// RevealCell uncovers the cell at column x, row y. Revealing a cell that is
// already open is a no-op reported through Reveal.AlreadyRevealed.
func (e *Engine) RevealCell(x, y int) (Reveal, error) {
	rev, _, err := e.RevealCellResult(x, y)
	return rev, err
}

// RevealCellResult is RevealCell that also returns the result of the round
// when this reveal ended it, and nil otherwise.
func (e *Engine) RevealCellResult(x, y int) (Reveal, *RoundResult, error) {
	e.mu.Lock()

	if x < 0 || x >= e.cfg.GridSide || y < 0 || y >= e.cfg.GridSide {
		e.mu.Unlock()
		return Reveal{}, nil, fmt.Errorf("%w: (%d, %d) on a %dx%d grid", ErrOutOfBounds, x, y, e.cfg.GridSide, e.cfg.GridSide)
	}
	if e.status != StatusInProgress {
		e.mu.Unlock()
		return Reveal{}, nil, ErrNotInProgress
	}

	r := e.current
	cell, _ := r.grid.Cell(x, y)
	rev := Reveal{
		RoundID:    r.id,
		Generation: r.generation,
		Position:   Position{X: x, Y: y},
	}

	if !cell.Reveal() {
		rev.AlreadyRevealed = true
		rev.Mine = cell.IsMine()
		rev.Revealed = r.revealed
		rev.Reward = r.reward
		rev.Status = e.status
		e.mu.Unlock()
		return rev, nil, nil
	}

	var (
		events []Event
		ended  *RoundResult
	)
	if cell.IsMine() {
		r.reward = decimal.Zero
		rev.Mine = true
		rev.Revealed = r.revealed
		rev.Reward = r.reward
		result := e.finishLocked(OutcomeLoss)
		out := result
		ended = &out
		rev.Status = e.status
		events = append(events,
			Event{Kind: EventCellRevealed, Reveal: &rev},
			Event{Kind: EventRoundEnded, Result: &result},
		)
	} else {
		r.revealed++
		total := r.grid.SafeCells()
		r.reward = e.policy.Reward(r.bet, r.mineCount, r.revealed, total)
		rev.Revealed = r.revealed
		rev.Reward = r.reward
		update := RewardUpdate{
			RoundID:    r.id,
			Generation: r.generation,
			Reward:     r.reward,
			Multiplier: Multiplier(e.policy, r.mineCount, r.revealed, total),
			Revealed:   r.revealed,
			TotalSafe:  total,
		}
		events = append(events,
			Event{Kind: EventCellRevealed, Reveal: &rev},
			Event{Kind: EventRewardChanged, Reward: &update},
		)
		if r.revealed == total {
			result := e.finishLocked(OutcomeWin)
			out := result
			ended = &out
			events = append(events, Event{Kind: EventRoundEnded, Result: &result})
		}
		rev.Status = e.status
	}
	e.mu.Unlock()

	e.subs.dispatch(events)
	return rev, ended, nil
}

// CashOut ends the round and pays the current reward, which is zero when
// nothing has been revealed yet.
func (e *Engine) CashOut() (RoundResult, error) {
	e.mu.Lock()
	if e.status != StatusInProgress {
		e.mu.Unlock()
		return RoundResult{}, ErrNotInProgress
	}
	result := e.finishLocked(OutcomeCashedOut)
	e.mu.Unlock()

	e.subs.dispatch([]Event{{Kind: EventRoundEnded, Result: &result}})
	return result, nil
}

// finishLocked moves the current round to its terminal state and schedules
// the auto-reset for that generation.
func (e *Engine) finishLocked(o Outcome) RoundResult {
	r := e.current
	e.status = o.status()

	payout := r.reward
	if o == OutcomeLoss {
		payout = decimal.Zero
	}
	result := RoundResult{
		RoundID:    r.id,
		Generation: r.generation,
		Outcome:    o,
		Bet:        r.bet,
		Payout:     payout,
		MineCount:  r.mineCount,
		GridSide:   r.grid.Side(),
		Revealed:   r.revealed,
		TotalSafe:  r.grid.SafeCells(),
		Mines:      r.grid.Mines(),
		StartedAt:  r.startedAt,
		EndedAt:    e.now(),
	}
	last := result
	e.last = &last

	e.logger.Debug("round ended",
		zap.String("round_id", r.id),
		zap.String("outcome", string(o)),
		zap.String("payout", payout.String()),
		zap.Int("revealed", r.revealed),
	)

	if !e.closed {
		gen := r.generation
		e.resetTimer = e.scheduler.AfterFunc(e.cfg.resetDelay(o), func() { e.autoReset(gen) })
	}
	return result
}

// autoReset returns a terminal round to idle. It does nothing when a newer
// round has started since it was scheduled.
func (e *Engine) autoReset(gen uint64) {
	e.mu.Lock()
	if e.generation != gen || !e.status.Terminal() {
		e.mu.Unlock()
		e.logger.Debug("stale reset ignored", zap.Uint64("generation", gen))
		return
	}
	info := ResetInfo{
		RoundID:    e.current.id,
		Generation: gen,
		ResetAt:    e.now(),
	}
	e.status = StatusIdle
	e.current = nil
	e.resetTimer = nil
	e.mu.Unlock()

	e.subs.dispatch([]Event{{Kind: EventRoundReset, Reset: &info}})
}

func (e *Engine) cancelResetLocked() {
	if e.resetTimer != nil {
		e.resetTimer.Stop()
		e.resetTimer = nil
	}
}

// Snapshot returns a read-only copy of the engine state. Mine positions are
// only included once the round is over.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := Snapshot{
		Status:     e.status,
		Generation: e.generation,
		GridSide:   e.cfg.GridSide,
		Bet:        decimal.Zero,
		Reward:     decimal.Zero,
		Multiplier: decimal.Zero,
	}
	if e.last != nil {
		last := *e.last
		snap.Last = &last
	}
	r := e.current
	if r == nil {
		return snap
	}

	total := r.grid.SafeCells()
	snap.RoundID = r.id
	snap.Bet = r.bet
	snap.MineCount = r.mineCount
	snap.Revealed = r.revealed
	snap.TotalSafe = total
	snap.Reward = r.reward
	if e.status != StatusLost {
		snap.Multiplier = Multiplier(e.policy, r.mineCount, r.revealed, total)
	}

	disclose := e.status.Terminal()
	snap.Cells = make([]CellView, 0, len(r.grid.cells))
	for _, c := range r.grid.cells {
		snap.Cells = append(snap.Cells, CellView{
			X:        c.Column,
			Y:        c.Row,
			Revealed: c.revealed,
			Mine:     c.mine && (disclose || c.revealed),
		})
	}
	return snap
}

// Close cancels any pending auto-reset. The engine stays usable but no
// further resets are scheduled.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.cancelResetLocked()
}
