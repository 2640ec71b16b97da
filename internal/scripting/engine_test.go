package scripting

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/MJE43/mines-desktop/internal/mines"
	"github.com/MJE43/mines-desktop/internal/session"
)

// cornerSource puts the only mine at (0, 0), index 0.
type cornerSource struct{}

func (cornerSource) IntN(int) int { return 0 }

type nopTimer struct{}

func (nopTimer) Stop() bool { return true }

type holdScheduler struct{}

func (holdScheduler) AfterFunc(time.Duration, func()) mines.Timer { return nopTimer{} }

type recordingEmitter struct {
	mu     sync.Mutex
	states []Snapshot
	logs   []LogEntry
}

func (r *recordingEmitter) EmitScriptState(s Snapshot) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *recordingEmitter) EmitScriptLog(entries []LogEntry) {
	r.mu.Lock()
	r.logs = append(r.logs, entries...)
	r.mu.Unlock()
}

func newTestSession(t *testing.T, balance string) *session.Session {
	t.Helper()
	eng, err := mines.NewEngine(mines.DefaultConfig(),
		mines.WithSource(cornerSource{}),
		mines.WithScheduler(holdScheduler{}),
	)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	s, err := session.New(eng, decimal.RequireFromString(balance))
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func runToEnd(t *testing.T, eng *Engine, script string) Snapshot {
	t.Helper()
	if err := eng.Start(script); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := eng.Wait(ctx); err != nil {
		eng.Stop()
		t.Fatal("script did not finish within timeout")
	}
	return eng.State()
}

func TestEngineStartStop(t *testing.T) {
	sess := newTestSession(t, "1000")
	eng := NewEngine(NewSessionPlayer(sess), &recordingEmitter{}, WithDefaultMines(1))

	script := `
		nextbet = 1
		mines = 1
		fields = [1, 2]
		dobet = function() {}
	`
	if err := eng.Start(script); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if st := eng.State().State; st != StateRunning {
		t.Errorf("expected running, got %s", st)
	}

	time.Sleep(100 * time.Millisecond)
	if err := eng.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	snap := eng.State()
	if snap.State != StateStopped {
		t.Errorf("expected stopped, got %s", snap.State)
	}
	if snap.Stats == nil || snap.Stats.Bets == 0 {
		t.Fatal("expected some rounds to have been played")
	}
	if st := sess.Engine().Status(); st == mines.StatusInProgress {
		t.Error("stop left a round in progress")
	}
	if err := eng.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("second Stop = %v, want ErrNotRunning", err)
	}
}

func TestEngineFieldsCashOut(t *testing.T) {
	sess := newTestSession(t, "100")
	eng := NewEngine(NewSessionPlayer(sess), nil, WithDefaultMines(1))

	snap := runToEnd(t, eng, `
		nextbet = 1
		mines = 1
		fields = [1, 2]
		dobet = function() {
			if (bets >= 10) stop()
		}
	`)

	if snap.State != StateStopped {
		t.Fatalf("expected stopped, got %s (%s)", snap.State, snap.Error)
	}
	if snap.Stats.Bets != 10 || snap.Stats.Cashouts != 10 {
		t.Errorf("bets=%d cashouts=%d, want 10/10", snap.Stats.Bets, snap.Stats.Cashouts)
	}
	// Two reveals with one mine pay 1 x 2 x 2 / 24, less than the bet.
	if snap.Stats.Losses != 10 || snap.Stats.LoseStreak != 10 {
		t.Errorf("losses=%d losestreak=%d", snap.Stats.Losses, snap.Stats.LoseStreak)
	}
	if got := sess.Status().Totals.Rounds; got != 10 {
		t.Errorf("session rounds = %d", got)
	}
}

func TestEngineRoundFunctionHitsMine(t *testing.T) {
	sess := newTestSession(t, "100")
	eng := NewEngine(NewSessionPlayer(sess), nil, WithDefaultMines(1))

	snap := runToEnd(t, eng, `
		nextbet = 1
		mines = 1
		round = function() { return 0 }
		dobet = function() {
			if (lastBet.outcome !== "loss") {
				log("unexpected outcome " + lastBet.outcome)
			}
			if (bets >= 3) stop()
		}
	`)

	if snap.Stats.Losses != 3 || snap.Stats.Profit != -3 {
		t.Errorf("losses=%d profit=%v", snap.Stats.Losses, snap.Stats.Profit)
	}
	if b := sess.Balance(); !b.Equal(decimal.NewFromInt(97)) {
		t.Errorf("balance = %s, want 97", b)
	}
	if logs := eng.Logs(); len(logs) != 0 {
		t.Errorf("unexpected logs: %+v", logs)
	}
}

func TestEngineRoundFunctionPositionsAndCashOut(t *testing.T) {
	sess := newTestSession(t, "100")
	eng := NewEngine(NewSessionPlayer(sess), nil, WithDefaultMines(1))

	snap := runToEnd(t, eng, `
		nextbet = 12
		mines = 1
		round = function() {
			if (currentBet.step == 0) return {x: 1, y: 0}
			if (currentBet.step == 1) return 7
			return CASHOUT
		}
		dobet = function() { stop() }
	`)

	if snap.Stats.Cashouts != 1 {
		t.Fatalf("cashouts = %d", snap.Stats.Cashouts)
	}
	// 12 x 2 x 2 / 24 = 2
	if b := sess.Balance(); !b.Equal(decimal.NewFromInt(90)) {
		t.Errorf("balance = %s, want 90", b)
	}
}

func TestEngineStopOnWin(t *testing.T) {
	sess := newTestSession(t, "10")
	eng := NewEngine(NewSessionPlayer(sess), nil, WithDefaultMines(1))

	snap := runToEnd(t, eng, `
		nextbet = 1
		mines = 1
		stoponwin = true
		fields = []
		for (var i = 1; i < GRID_SIDE * GRID_SIDE; i++) fields.push(i)
		dobet = function() {}
	`)

	if snap.State != StateStopped {
		t.Fatalf("expected stopped, got %s (%s)", snap.State, snap.Error)
	}
	if snap.Stats.Bets != 1 || snap.Stats.Wins != 1 {
		t.Errorf("bets=%d wins=%d", snap.Stats.Bets, snap.Stats.Wins)
	}
	if b := sess.Balance(); !b.Equal(decimal.NewFromInt(11)) {
		t.Errorf("balance = %s, want 11", b)
	}
}

func TestEngineRandomCell(t *testing.T) {
	sess := newTestSession(t, "100")
	eng := NewEngine(NewSessionPlayer(sess), nil, WithDefaultMines(1))

	snap := runToEnd(t, eng, `
		nextbet = 1
		mines = 1
		round = function() {
			if (currentBet.step >= 3) return CASHOUT
			return randomcell()
		}
		dobet = function() { if (bets >= 5) stop() }
	`)
	if snap.State != StateStopped || snap.Stats.Bets != 5 {
		t.Errorf("state=%s bets=%d err=%s", snap.State, snap.Stats.Bets, snap.Error)
	}
}

func TestEngineErrors(t *testing.T) {
	tests := []struct {
		name    string
		balance string
		script  string
		startOK bool
	}{
		{name: "missing dobet", balance: "10", script: "var x = 1;"},
		{name: "syntax error", balance: "10", script: "dobet = function( {"},
		{name: "eval removed", balance: "10", script: `eval("1"); dobet = function() {}`},
		{name: "insufficient funds", balance: "0.5", script: "nextbet = 1; dobet = function() {}", startOK: true},
		{name: "zero bet", balance: "10", script: "nextbet = 0; dobet = function() {}", startOK: true},
		{name: "bad field", balance: "10", script: "nextbet = 1; fields = [99]; dobet = function() {}", startOK: true},
		{name: "bad action", balance: "10", script: `nextbet = 1; round = function() { return "left" }; dobet = function() {}`, startOK: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := newTestSession(t, tt.balance)
			eng := NewEngine(NewSessionPlayer(sess), nil, WithDefaultMines(1))

			err := eng.Start(tt.script)
			if tt.startOK != (err == nil) {
				t.Fatalf("Start error = %v, startOK %v", err, tt.startOK)
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := eng.Wait(ctx); err != nil {
				t.Fatal("engine did not stop")
			}
			snap := eng.State()
			if snap.State != StateError || snap.Error == "" {
				t.Errorf("state=%s error=%q, want error state", snap.State, snap.Error)
			}
			if st := sess.Engine().Status(); st == mines.StatusInProgress {
				t.Error("failed script left a round in progress")
			}
		})
	}
}

func TestEngineScriptTimeout(t *testing.T) {
	eng := NewEngine(NewSessionPlayer(newTestSession(t, "10")), nil, WithDefaultMines(1))
	err := eng.Start("while (true) {}")
	if !errors.Is(err, ErrScriptTimeout) {
		t.Fatalf("Start error = %v, want ErrScriptTimeout", err)
	}
}

func TestEngineLogs(t *testing.T) {
	emitter := &recordingEmitter{}
	eng := NewEngine(NewSessionPlayer(newTestSession(t, "10")), emitter, WithDefaultMines(1))

	runToEnd(t, eng, `
		nextbet = 1
		console.log("hello", "from", "script")
		dobet = function() { stop() }
	`)

	logs := eng.Logs()
	if len(logs) != 1 || logs[0].Message != "hello from script" {
		t.Errorf("logs = %+v", logs)
	}
	emitter.mu.Lock()
	defer emitter.mu.Unlock()
	if len(emitter.logs) != 1 {
		t.Errorf("emitted %d log entries", len(emitter.logs))
	}
	if len(emitter.states) == 0 || emitter.states[len(emitter.states)-1].State != StateStopped {
		t.Error("final state was not emitted")
	}
}

func TestEngineStartWhileRunning(t *testing.T) {
	eng := NewEngine(NewSessionPlayer(newTestSession(t, "1000")), nil, WithDefaultMines(1))
	script := `nextbet = 1; sleeptime = 20; dobet = function() { sleep(20) }`
	if err := eng.Start(script); err != nil {
		t.Fatal(err)
	}
	defer eng.Stop()
	if err := eng.Start(script); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start = %v, want ErrAlreadyRunning", err)
	}
}

func TestParseAction(t *testing.T) {
	tests := []struct {
		name    string
		in      any
		want    mines.Position
		cashOut bool
		wantErr bool
	}{
		{name: "nothing", in: nil, cashOut: true},
		{name: "cashout", in: CashOutAction, cashOut: true},
		{name: "index", in: int64(7), want: mines.Position{X: 2, Y: 1}},
		{name: "integral float", in: float64(5), want: mines.Position{X: 0, Y: 1}},
		{name: "object", in: map[string]any{"x": int64(3), "y": int64(4)}, want: mines.Position{X: 3, Y: 4}},
		{name: "fraction", in: 1.5, wantErr: true},
		{name: "index too large", in: int64(25), wantErr: true},
		{name: "negative index", in: int64(-1), wantErr: true},
		{name: "unknown string", in: "hit", wantErr: true},
		{name: "object missing y", in: map[string]any{"x": int64(1)}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pos, cashOut, err := parseAction(tt.in, 5)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if cashOut != tt.cashOut || pos != tt.want {
				t.Errorf("got %+v cashOut=%v, want %+v cashOut=%v", pos, cashOut, tt.want, tt.cashOut)
			}
		})
	}
}

func TestSessionPlayerRevealResult(t *testing.T) {
	sess := newTestSession(t, "10")
	p := NewSessionPlayer(sess)

	if err := p.PlaceBet(decimal.NewFromInt(1), 1); err != nil {
		t.Fatal(err)
	}
	if _, res, err := p.Reveal(3, 3); err != nil || res != nil {
		t.Fatalf("safe reveal = %v, %v", res, err)
	}
	rev, first, err := p.Reveal(0, 0)
	if err != nil || first == nil {
		t.Fatalf("losing reveal = %v, %v", first, err)
	}
	if first.RoundID != rev.RoundID || first.Outcome != mines.OutcomeLoss || first.Revealed != 1 {
		t.Errorf("result = %+v for round %s", first, rev.RoundID)
	}

	// A later round must not leak into the result already handed out.
	if err := p.PlaceBet(decimal.NewFromInt(1), 1); err != nil {
		t.Fatal(err)
	}
	rev2, second, err := p.Reveal(0, 0)
	if err != nil || second == nil {
		t.Fatalf("second losing reveal = %v, %v", second, err)
	}
	if second.RoundID != rev2.RoundID || second.RoundID == first.RoundID {
		t.Errorf("second result round %s, reveal %s, first %s", second.RoundID, rev2.RoundID, first.RoundID)
	}
	if first.Revealed != 1 || second.Revealed != 0 {
		t.Errorf("revealed counts = %d, %d; want 1, 0", first.Revealed, second.Revealed)
	}
}
