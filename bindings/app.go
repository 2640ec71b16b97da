package bindings

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/MJE43/mines-desktop/internal/app"
	"github.com/MJE43/mines-desktop/internal/mines"
	"github.com/MJE43/mines-desktop/internal/scripting"
	"github.com/MJE43/mines-desktop/internal/session"
	"github.com/MJE43/mines-desktop/internal/store"
)

// App is the object bound to the frontend. Amounts cross the bridge as
// decimal strings.
type App struct {
	core    *app.App
	emitter *Emitter

	mu          sync.Mutex
	ctx         context.Context
	unsubscribe func()
}

// GameConfig is what the frontend needs to draw the board and bet form.
type GameConfig struct {
	GridSide     int    `json:"gridSide"`
	MinBet       string `json:"minBet"`
	MinMines     int    `json:"minMines"`
	MaxMines     int    `json:"maxMines"`
	DefaultMines int    `json:"defaultMines"`
}

// New binds core. emitter must be the one core was built with, so autoplay
// updates reach the same window.
func New(core *app.App, emitter *Emitter) *App {
	return &App{core: core, emitter: emitter}
}

// Startup is called by Wails once the window exists.
func (a *App) Startup(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ctx = ctx
	a.emitter.SetContext(ctx)
	if a.unsubscribe == nil {
		a.unsubscribe = a.core.Engine().Subscribe(mines.Forward(a.emitter.EmitEngineEvent))
	}
}

// Shutdown detaches from the engine and the window.
func (a *App) Shutdown(context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.unsubscribe != nil {
		a.unsubscribe()
		a.unsubscribe = nil
	}
	a.emitter.SetContext(nil)
	a.ctx = nil
}

func (a *App) context() context.Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ctx == nil {
		return context.Background()
	}
	return a.ctx
}

func parseAmount(s string, sentinel error) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q is not a number", sentinel, s)
	}
	return d, nil
}

func (a *App) GetGameConfig() GameConfig {
	cfg := a.core.Engine().Config()
	minMines, maxMines := cfg.MineBounds()
	return GameConfig{
		GridSide:     cfg.GridSide,
		MinBet:       cfg.MinBet.String(),
		MinMines:     minMines,
		MaxMines:     maxMines,
		DefaultMines: a.core.Config().Game.DefaultMines,
	}
}

// StartRound debits bet and starts a round with mineCount mines.
func (a *App) StartRound(bet string, mineCount int) (mines.Snapshot, error) {
	amount, err := parseAmount(bet, mines.ErrInvalidBet)
	if err != nil {
		return mines.Snapshot{}, err
	}
	return a.core.Session().PlaceBet(amount, mineCount)
}

func (a *App) RevealCell(x, y int) (mines.Reveal, error) {
	return a.core.Session().Reveal(x, y)
}

func (a *App) CashOut() (mines.RoundResult, error) {
	return a.core.Session().CashOut()
}

// Deposit adds amount and returns the new balance.
func (a *App) Deposit(amount string) (string, error) {
	d, err := parseAmount(amount, session.ErrInvalidAmount)
	if err != nil {
		return "", err
	}
	balance, err := a.core.Session().Deposit(d)
	if err != nil {
		return "", err
	}
	return balance.String(), nil
}

func (a *App) GetStatus() session.Status {
	return a.core.Session().Status()
}

// GetHistory pages through finished rounds of this session, newest first.
// outcome may be empty.
func (a *App) GetHistory(limit, offset int, outcome string) (store.RoundsPage, error) {
	f := store.RoundFilter{SessionID: a.core.Session().ID(), Limit: limit, Offset: offset}
	if outcome != "" {
		o := mines.Outcome(outcome)
		if !lo.Contains([]mines.Outcome{mines.OutcomeWin, mines.OutcomeLoss, mines.OutcomeCashedOut}, o) {
			return store.RoundsPage{}, fmt.Errorf("unknown outcome %q", outcome)
		}
		f.Outcome = o
	}
	return a.core.Journal().ListRounds(a.context(), f)
}

func (a *App) GetRound(id string) (store.RoundDetail, error) {
	d, err := a.core.Journal().GetRound(a.context(), id)
	if err != nil {
		return store.RoundDetail{}, err
	}
	if d.SessionID != a.core.Session().ID() {
		return store.RoundDetail{}, store.ErrNotFound
	}
	return d, nil
}

func (a *App) GetSummary() (store.Summary, error) {
	return a.core.Journal().Summary(a.context(), a.core.Session().ID())
}

func (a *App) StartScript(script string) error {
	return a.core.Autoplay().Start(script)
}

func (a *App) StopScript() error {
	return a.core.Autoplay().Stop()
}

func (a *App) GetScriptState() scripting.Snapshot {
	return a.core.Autoplay().State()
}

func (a *App) GetScriptLogs() []scripting.LogEntry {
	return a.core.Autoplay().Logs()
}

// GetAPIInfo returns the control API address and a fresh token.
func (a *App) GetAPIInfo() (app.APIInfo, error) {
	return a.core.APIInfo()
}

// GetScriptRuns pages through this session's autoplay runs, newest first.
func (a *App) GetScriptRuns(limit, offset int) (store.RunsPage, error) {
	return a.core.Journal().ListRuns(a.context(), a.core.Session().ID(), limit, offset)
}

func (a *App) DeleteScriptRun(id string) error {
	return a.core.Journal().DeleteRun(a.context(), id)
}
