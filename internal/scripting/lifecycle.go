package scripting

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/MJE43/mines-desktop/internal/mines"
)

// State is the autoplay lifecycle state.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateStopped State = "stopped"
	StateError   State = "error"
)

var (
	ErrAlreadyRunning = errors.New("script is already running")
	ErrNotRunning     = errors.New("script is not running")
)

const (
	chartLimit   = 500
	emitInterval = 100 * time.Millisecond
)

// EventEmitter pushes autoplay updates to a frontend.
type EventEmitter interface {
	EmitScriptState(Snapshot)
	EmitScriptLog([]LogEntry)
}

// Snapshot is a serializable view of the autoplay engine.
type Snapshot struct {
	State         State        `json:"state"`
	Error         string       `json:"error,omitempty"`
	Stats         *Statistics  `json:"stats"`
	Chart         []ChartPoint `json:"chart"`
	NextBet       float64      `json:"nextBet"`
	Mines         int          `json:"mines"`
	BetsPerSecond float64      `json:"betsPerSecond"`
}

// RunJournal records each autoplay run. RunStarted returns the id passed to
// RunEnded.
type RunJournal interface {
	RunStarted(source string, startBalance float64) (string, error)
	RunEnded(id string, final Snapshot) error
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithRunJournal records every run that gets past script evaluation.
func WithRunJournal(j RunJournal) Option {
	return func(e *Engine) { e.journal = j }
}

// WithDefaultMines sets the mine count a script starts with.
func WithDefaultMines(n int) Option {
	return func(e *Engine) { e.defaultMines = n }
}

// Engine runs a user script that places and plays rounds on its own. The
// script defines dobet(), called after every round, and may define round(),
// called before every reveal.
type Engine struct {
	player       RoundPlayer
	emitter      EventEmitter
	journal      RunJournal
	logger       *zap.Logger
	defaultMines int

	mu        sync.RWMutex
	state     State
	err       error
	cancel    context.CancelFunc
	done      chan struct{}
	vm        *VM
	vars      *Variables
	stats     *Statistics
	chart     *ChartBuffer
	startTime time.Time

	// opened marks the cells revealed in the current round. Only the bet
	// loop touches it.
	opened []bool

	emitMu   sync.Mutex
	lastEmit time.Time
}

// NewEngine returns an idle engine playing through player. emitter may be nil.
func NewEngine(player RoundPlayer, emitter EventEmitter, opts ...Option) *Engine {
	e := &Engine{
		player:       player,
		emitter:      emitter,
		logger:       zap.NewNop(),
		defaultMines: mines.DefaultMineCount(),
		state:        StateIdle,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start executes script and begins the bet loop in the background.
func (e *Engine) Start(script string) error {
	e.mu.Lock()
	if e.state == StateRunning {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}

	side := e.player.GridSide()
	e.stats = NewStatistics(e.player.Balance().InexactFloat64())
	e.chart = NewChartBuffer(chartLimit)
	e.vars = NewVariables(e.stats, e.defaultMines)
	e.opened = make([]bool, side*side)
	e.vm = NewVM(side, e.randomCell, e.emitLog)
	e.state = StateRunning
	e.err = nil
	e.startTime = time.Now()

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	done := make(chan struct{})
	e.done = done
	vm, vars := e.vm, e.vars
	e.mu.Unlock()

	vm.SetVariables(vars)
	err := vm.Execute(script)
	if err == nil && !vm.HasFunction("dobet") {
		err = errors.New("script must define a dobet() function")
	}
	if err != nil {
		cancel()
		e.fail(err)
		close(done)
		return err
	}

	e.mu.Lock()
	vm.SyncVariables(vars)
	vars.Running = true
	startBal := e.stats.StartBal
	e.mu.Unlock()
	vm.SetVariables(vars)

	runID := e.startRun(script, startBal)
	e.logger.Info("script started", zap.Float64("balance", startBal), zap.String("run_id", runID))
	e.emitState()
	go e.betLoop(ctx, vm, done, runID)
	return nil
}

// Stop ends the bet loop and waits for it to exit. A round in progress is
// cashed out.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if e.state != StateRunning {
		e.mu.Unlock()
		return ErrNotRunning
	}
	e.cancel()
	e.state = StateStopped
	e.vars.Running = false
	vm, done := e.vm, e.done
	e.mu.Unlock()

	vm.Interrupt()
	<-done
	e.logger.Info("script stopped")
	e.emitState()
	return nil
}

// State returns the current snapshot.
func (e *Engine) State() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshot()
}

// Logs returns the script log buffer.
func (e *Engine) Logs() []LogEntry {
	e.mu.RLock()
	vm := e.vm
	e.mu.RUnlock()
	if vm == nil {
		return nil
	}
	return vm.Logs()
}

// Wait blocks until the bet loop exits or ctx is done.
func (e *Engine) Wait(ctx context.Context) error {
	e.mu.RLock()
	done := e.done
	e.mu.RUnlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) betLoop(ctx context.Context, vm *VM, done chan struct{}, runID string) {
	defer close(done)
	defer e.endRun(runID)
	defer func() {
		if r := recover(); r != nil {
			e.fail(fmt.Errorf("script panic: %v", r))
		}
	}()

	for {
		if ctx.Err() != nil || vm.StopRequested() {
			e.finish()
			return
		}

		e.mu.RLock()
		nextBet, mineCount := e.vars.NextBet, e.vars.Mines
		e.mu.RUnlock()
		if nextBet <= 0 {
			e.fail(fmt.Errorf("nextbet must be > 0, got %g", nextBet))
			return
		}

		bet := decimal.NewFromFloat(nextBet)
		if err := e.player.PlaceBet(bet, mineCount); err != nil {
			e.fail(fmt.Errorf("place bet: %w", err))
			return
		}

		result, err := e.playRound(ctx, vm)
		if err != nil {
			e.abandonRound()
			if ctx.Err() != nil {
				e.finish()
				return
			}
			e.fail(err)
			return
		}
		br := newBetResult(result)

		e.mu.Lock()
		e.stats.RecordBet(br)
		e.stats.Balance = e.player.Balance().InexactFloat64()
		e.vars.Win = br.Win
		e.vars.PreviousBet = br.Amount
		e.vars.Balance = e.stats.Balance
		e.vars.CashoutDone = true
		e.vars.CurrentBet = map[string]any{"active": false}
		e.vars.LastBet = map[string]any{
			"amount":           br.Amount,
			"payout":           br.Payout,
			"payoutMultiplier": br.Multiplier,
			"win":              br.Win,
			"outcome":          string(br.Outcome),
			"mines":            br.Mines,
			"revealed":         br.Revealed,
		}
		e.chart.Push(ChartPoint{BetNumber: e.stats.Bets, Profit: e.stats.Profit, Win: br.Win})
		vars := e.vars
		e.mu.Unlock()

		vm.SetVariables(vars)
		if _, err := vm.Call("dobet"); err != nil {
			if ctx.Err() != nil {
				e.finish()
				return
			}
			e.fail(err)
			return
		}

		e.mu.Lock()
		vm.SyncVariables(e.vars)
		stopOnWin := e.vars.StopOnWin
		e.mu.Unlock()

		if vm.TakeResetRequest() {
			e.mu.Lock()
			e.stats.Reset()
			e.chart.Reset()
			e.mu.Unlock()
			vm.SetVariables(vars)
		}

		if vm.StopRequested() || (stopOnWin && br.Win) {
			e.finish()
			return
		}

		e.throttledEmitState()

		if d := vm.TakeSleep(); d > 0 {
			select {
			case <-ctx.Done():
				e.finish()
				return
			case <-time.After(d):
			}
		}
	}
}

// playRound reveals cells until the round ends or the script cashes out.
// Without round() the cells come from fields, and the round is cashed out
// once they run out.
func (e *Engine) playRound(ctx context.Context, vm *VM) (mines.RoundResult, error) {
	side := e.player.GridSide()
	hasRound := vm.HasFunction("round")
	clear(e.opened)

	var revealed int
	var reward decimal.Decimal
	for step := 0; step < side*side; step++ {
		if ctx.Err() != nil || vm.StopRequested() {
			return e.player.CashOut()
		}

		e.mu.Lock()
		e.vars.CashoutDone = false
		e.vars.CurrentBet = map[string]any{
			"active":   true,
			"step":     step,
			"revealed": revealed,
			"reward":   reward.InexactFloat64(),
		}
		vars := e.vars
		e.mu.Unlock()
		vm.SetVariables(vars)

		var pos mines.Position
		var cashOut bool
		if hasRound {
			action, err := vm.Call("round")
			if err != nil {
				if ctx.Err() != nil {
					return e.player.CashOut()
				}
				return mines.RoundResult{}, err
			}
			e.mu.Lock()
			vm.SyncVariables(e.vars)
			e.mu.Unlock()
			if pos, cashOut, err = parseAction(action, side); err != nil {
				return mines.RoundResult{}, err
			}
		} else {
			e.mu.RLock()
			fields := e.vars.Fields
			e.mu.RUnlock()
			switch {
			case step >= len(fields):
				cashOut = true
			case fields[step] < 0 || fields[step] >= side*side:
				return mines.RoundResult{}, fmt.Errorf("%w: field %d", mines.ErrOutOfBounds, fields[step])
			default:
				pos = mines.PositionAt(fields[step], side)
			}
		}

		if cashOut {
			return e.player.CashOut()
		}
		rev, result, err := e.player.Reveal(pos.X, pos.Y)
		if err != nil {
			return mines.RoundResult{}, fmt.Errorf("reveal: %w", err)
		}
		if result != nil {
			return *result, nil
		}
		if i := pos.Y*side + pos.X; i < len(e.opened) {
			e.opened[i] = true
		}
		revealed, reward = rev.Revealed, rev.Reward
	}
	return e.player.CashOut()
}

// parseAction reads the value round() returned: a cell index, an {x, y}
// object, or CASHOUT. Nothing at all also cashes out.
func parseAction(v any, side int) (mines.Position, bool, error) {
	switch a := v.(type) {
	case nil:
		return mines.Position{}, true, nil
	case string:
		if a == CashOutAction {
			return mines.Position{}, true, nil
		}
		return mines.Position{}, false, fmt.Errorf("round() returned unknown action %q", a)
	case map[string]any:
		x, okX := exportInt(a["x"])
		y, okY := exportInt(a["y"])
		if !okX || !okY {
			return mines.Position{}, false, errors.New("round() must return integer x and y")
		}
		return mines.Position{X: x, Y: y}, false, nil
	default:
		idx, ok := exportInt(v)
		if !ok {
			return mines.Position{}, false, fmt.Errorf("round() returned unsupported value %v", v)
		}
		if idx < 0 || idx >= side*side {
			return mines.Position{}, false, fmt.Errorf("%w: index %d", mines.ErrOutOfBounds, idx)
		}
		return mines.PositionAt(idx, side), false, nil
	}
}

// abandonRound cashes out a round the loop can no longer play.
func (e *Engine) abandonRound() {
	if _, err := e.player.CashOut(); err != nil && !errors.Is(err, mines.ErrNotInProgress) {
		e.logger.Warn("abandon round", zap.Error(err))
	}
}

// randomCell backs randomcell(): a uniformly chosen cell not yet revealed
// this round.
func (e *Engine) randomCell() int {
	free := make([]int, 0, len(e.opened))
	for i, open := range e.opened {
		if !open {
			free = append(free, i)
		}
	}
	if len(free) == 0 {
		return 0
	}
	return free[rand.IntN(len(free))]
}

func (e *Engine) startRun(source string, startBal float64) string {
	if e.journal == nil {
		return ""
	}
	id, err := e.journal.RunStarted(source, startBal)
	if err != nil {
		e.logger.Warn("failed to record run start", zap.Error(err))
		return ""
	}
	return id
}

func (e *Engine) endRun(id string) {
	if e.journal == nil || id == "" {
		return
	}
	if err := e.journal.RunEnded(id, e.State()); err != nil {
		e.logger.Warn("failed to record run end", zap.String("run_id", id), zap.Error(err))
	}
}

func (e *Engine) finish() {
	e.mu.Lock()
	if e.state == StateRunning {
		e.state = StateStopped
	}
	e.vars.Running = false
	e.mu.Unlock()
	e.emitState()
}

func (e *Engine) fail(err error) {
	e.mu.Lock()
	e.state = StateError
	e.err = err
	if e.vars != nil {
		e.vars.Running = false
	}
	e.mu.Unlock()
	e.logger.Warn("script failed", zap.Error(err))
	e.emitState()
}

func (e *Engine) snapshot() Snapshot {
	snap := Snapshot{State: e.state}
	if e.err != nil {
		snap.Error = e.err.Error()
	}
	if e.stats != nil {
		stats := *e.stats
		snap.Stats = &stats
	}
	if e.chart != nil {
		snap.Chart = e.chart.Points()
	}
	if e.vars != nil {
		snap.NextBet = e.vars.NextBet
		snap.Mines = e.vars.Mines
	}
	if e.state == StateRunning && e.stats != nil && e.stats.Bets > 0 {
		if elapsed := time.Since(e.startTime).Seconds(); elapsed > 0 {
			snap.BetsPerSecond = float64(e.stats.Bets) / elapsed
		}
	}
	return snap
}

func (e *Engine) emitState() {
	if e.emitter == nil {
		return
	}
	snap := e.State()
	e.emitMu.Lock()
	e.lastEmit = time.Now()
	e.emitMu.Unlock()
	e.emitter.EmitScriptState(snap)
}

func (e *Engine) throttledEmitState() {
	e.emitMu.Lock()
	due := time.Since(e.lastEmit) >= emitInterval
	e.emitMu.Unlock()
	if due {
		e.emitState()
	}
}

func (e *Engine) emitLog(entry LogEntry) {
	e.logger.Debug("script log", zap.String("message", entry.Message))
	if e.emitter != nil {
		e.emitter.EmitScriptLog([]LogEntry{entry})
	}
}
