package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/MJE43/mines-desktop/internal/mines"
	"github.com/MJE43/mines-desktop/internal/session"
	"github.com/MJE43/mines-desktop/internal/store"
)

// cornerSource puts a single mine at (0, 0).
type cornerSource struct{}

func (cornerSource) IntN(int) int { return 0 }

type nopTimer struct{}

func (nopTimer) Stop() bool { return true }

type holdScheduler struct{}

func (holdScheduler) AfterFunc(time.Duration, func()) mines.Timer { return nopTimer{} }

var testKey = bytes.Repeat([]byte("k"), 32)

type testEnv struct {
	server  *Server
	handler http.Handler
	session *session.Session
	journal *store.Store
	token   string
}

func newTestEnv(t *testing.T, balance string) *testEnv {
	t.Helper()
	eng, err := mines.NewEngine(mines.DefaultConfig(),
		mines.WithSource(cornerSource{}),
		mines.WithScheduler(holdScheduler{}),
	)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	sess, err := session.New(eng, decimal.RequireFromString(balance), session.WithID("sess-1"))
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	journal, err := store.Open(context.Background(), store.MemoryDSN, nil)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	auth, err := NewAuthenticator(testKey, sess.ID(), time.Hour)
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}
	token, _, err := auth.Issue()
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	srv := NewServer(sess, journal, auth, nil, Options{AllowedOrigins: []string{"http://localhost:*"}, DefaultMines: 1})
	t.Cleanup(func() {
		srv.Shutdown(context.Background())
		journal.Close()
	})
	return &testEnv{server: srv, handler: srv.Routes(), session: sess, journal: journal, token: token}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.token)
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func expectError(t *testing.T, w *httptest.ResponseRecorder, status int, errType string) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("Expected status %d, got %d: %s", status, w.Code, w.Body.String())
	}
	var e EngineError
	if err := json.NewDecoder(w.Body).Decode(&e); err != nil {
		t.Fatalf("Failed to decode error: %v", err)
	}
	if e.Type != errType {
		t.Errorf("Expected error type %s, got %s", errType, e.Type)
	}
	if got := w.Header().Get("X-Error-Type"); got != errType {
		t.Errorf("X-Error-Type = %q", got)
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, "100")

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if w.Header().Get("X-Engine-Version") != EngineVersion {
		t.Error("missing X-Engine-Version header")
	}
	var resp HealthCheckResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Status != HealthStatusHealthy {
		t.Errorf("status = %s", resp.Status)
	}
	if _, ok := resp.Checks["journal"]; !ok {
		t.Error("journal check missing")
	}
}

func TestProbesAndVersion(t *testing.T) {
	env := newTestEnv(t, "100")
	for _, path := range []string{"/health/live", "/health/ready", "/version"} {
		w := httptest.NewRecorder()
		env.handler.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
		if w.Code != http.StatusOK {
			t.Errorf("%s: status %d", path, w.Code)
		}
	}
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t, "100")

	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/session", nil))
	expectError(t, w, http.StatusUnauthorized, ErrTypeUnauthorized)

	other, err := NewAuthenticator(testKey, "someone-else", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	foreign, _, _ := other.Issue()

	expired, err := NewAuthenticator(testKey, "sess-1", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	stale, _, _ := expired.Issue()

	for name, token := range map[string]string{
		"garbage":       "not-a-jwt",
		"wrong subject": foreign,
		"expired":       stale,
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/v1/session", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			w := httptest.NewRecorder()
			env.handler.ServeHTTP(w, req)
			expectError(t, w, http.StatusUnauthorized, ErrTypeUnauthorized)
		})
	}

	req := httptest.NewRequest("GET", "/api/v1/session?access_token="+env.token, nil)
	w = httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("query token rejected: %d", w.Code)
	}
}

func TestRoundFlow(t *testing.T) {
	env := newTestEnv(t, "100")

	w := env.do(t, "POST", "/api/v1/rounds", map[string]any{"bet": "12", "mines": 1})
	if w.Code != http.StatusCreated {
		t.Fatalf("place bet: %d %s", w.Code, w.Body.String())
	}
	var snap mines.Snapshot
	json.NewDecoder(w.Body).Decode(&snap)
	if snap.Status != mines.StatusInProgress || snap.MineCount != 1 {
		t.Errorf("snapshot = %+v", snap)
	}

	w = env.do(t, "POST", "/api/v1/rounds/current/reveal", map[string]any{"x": 1, "y": 0})
	if w.Code != http.StatusOK {
		t.Fatalf("reveal: %d %s", w.Code, w.Body.String())
	}
	w = env.do(t, "POST", "/api/v1/rounds/current/reveal", map[string]any{"index": 2})
	if w.Code != http.StatusOK {
		t.Fatalf("reveal by index: %d %s", w.Code, w.Body.String())
	}
	var rev RevealResponse
	json.NewDecoder(w.Body).Decode(&rev)
	if rev.Revealed != 2 || rev.Position != (mines.Position{X: 2, Y: 0}) {
		t.Errorf("reveal = %+v", rev.Reveal)
	}
	// 12 × 2 × 2 / 24 = 2
	if !rev.Reward.Equal(decimal.NewFromInt(2)) {
		t.Errorf("reward = %s", rev.Reward)
	}

	w = env.do(t, "GET", "/api/v1/rounds/current", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("current: %d", w.Code)
	}

	w = env.do(t, "POST", "/api/v1/rounds/current/cashout", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("cashout: %d %s", w.Code, w.Body.String())
	}
	var out CashOutResponse
	json.NewDecoder(w.Body).Decode(&out)
	if !out.Result.Payout.Equal(decimal.NewFromInt(2)) || !out.Balance.Equal(decimal.NewFromInt(90)) {
		t.Errorf("cashout = %+v", out)
	}

	w = env.do(t, "POST", "/api/v1/rounds/current/reveal", map[string]any{"x": 3, "y": 3})
	expectError(t, w, http.StatusConflict, ErrTypeNotInProgress)
	w = env.do(t, "POST", "/api/v1/rounds/current/cashout", nil)
	expectError(t, w, http.StatusConflict, ErrTypeNotInProgress)
}

func TestPlaceBetErrors(t *testing.T) {
	env := newTestEnv(t, "10")

	expectError(t, env.do(t, "POST", "/api/v1/rounds", map[string]any{"bet": "50"}),
		http.StatusPaymentRequired, ErrTypeInsufficientFunds)
	expectError(t, env.do(t, "POST", "/api/v1/rounds", map[string]any{"bet": "1", "mines": 25}),
		http.StatusUnprocessableEntity, ErrTypeInvalidMineCount)
	expectError(t, env.do(t, "POST", "/api/v1/rounds", map[string]any{"bet": "0"}),
		http.StatusUnprocessableEntity, ErrTypeInvalidBet)
	expectError(t, env.do(t, "POST", "/api/v1/rounds", map[string]any{"bet": "1", "colour": "red"}),
		http.StatusUnprocessableEntity, ErrTypeValidation)
	expectError(t, env.do(t, "POST", "/api/v1/rounds", map[string]any{"bet": "abc"}),
		http.StatusUnprocessableEntity, ErrTypeInvalidBet)
	expectError(t, env.do(t, "POST", "/api/v1/rounds", map[string]any{"bet": true, "mines": 1}),
		http.StatusUnprocessableEntity, ErrTypeInvalidBet)
	expectError(t, env.do(t, "POST", "/api/v1/rounds", map[string]any{"mines": 1}),
		http.StatusUnprocessableEntity, ErrTypeInvalidBet)

	if w := env.do(t, "POST", "/api/v1/rounds", map[string]any{"bet": "1"}); w.Code != http.StatusCreated {
		t.Fatalf("place bet: %d", w.Code)
	}
	expectError(t, env.do(t, "POST", "/api/v1/rounds", map[string]any{"bet": "1"}),
		http.StatusConflict, ErrTypeRoundInProgress)

	if b := env.session.Balance(); !b.Equal(decimal.NewFromInt(9)) {
		t.Errorf("balance = %s, want 9", b)
	}
}

func TestRevealValidation(t *testing.T) {
	env := newTestEnv(t, "10")
	env.do(t, "POST", "/api/v1/rounds", map[string]any{"bet": "1"})

	expectError(t, env.do(t, "POST", "/api/v1/rounds/current/reveal", map[string]any{"x": 1}),
		http.StatusUnprocessableEntity, ErrTypeValidation)
	expectError(t, env.do(t, "POST", "/api/v1/rounds/current/reveal", map[string]any{"x": 5, "y": 0}),
		http.StatusUnprocessableEntity, ErrTypeOutOfBounds)
	expectError(t, env.do(t, "POST", "/api/v1/rounds/current/reveal", map[string]any{"index": 25}),
		http.StatusUnprocessableEntity, ErrTypeOutOfBounds)

	if st := env.session.Engine().Status(); st != mines.StatusInProgress {
		t.Errorf("rejected reveals changed status to %s", st)
	}
}

func TestDeposit(t *testing.T) {
	env := newTestEnv(t, "0")
	expectError(t, env.do(t, "POST", "/api/v1/session/deposit", map[string]any{"amount": "-1"}),
		http.StatusUnprocessableEntity, ErrTypeInvalidAmount)
	expectError(t, env.do(t, "POST", "/api/v1/session/deposit", map[string]any{"amount": "lots"}),
		http.StatusUnprocessableEntity, ErrTypeInvalidAmount)

	w := env.do(t, "POST", "/api/v1/session/deposit", map[string]any{"amount": 7.25})
	if w.Code != http.StatusOK {
		t.Fatalf("deposit: %d", w.Code)
	}
	var resp DepositResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if !resp.Balance.Equal(decimal.RequireFromString("7.25")) {
		t.Errorf("balance = %s", resp.Balance)
	}

	w = env.do(t, "GET", "/api/v1/session", nil)
	var st session.Status
	json.NewDecoder(w.Body).Decode(&st)
	if st.ID != "sess-1" || !st.Balance.Equal(resp.Balance) {
		t.Errorf("status = %+v", st)
	}
}

func TestHistoryEndpoints(t *testing.T) {
	env := newTestEnv(t, "10")
	ctx := context.Background()
	now := time.Now()
	for i, o := range []mines.Outcome{mines.OutcomeLoss, mines.OutcomeWin, mines.OutcomeLoss} {
		rec := store.RoundRecord{
			ID:        []string{"r1", "r2", "r3"}[i],
			SessionID: "sess-1",
			Outcome:   o,
			Bet:       decimal.NewFromInt(1),
			Payout:    decimal.Zero,
			MineCount: 1,
			GridSide:  5,
			TotalSafe: 24,
			StartedAt: now,
			EndedAt:   now.Add(time.Duration(i) * time.Second),
		}
		if err := env.journal.InsertRound(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}
	foreign := store.RoundRecord{ID: "x1", SessionID: "other", Outcome: mines.OutcomeWin, Bet: decimal.NewFromInt(1), Payout: decimal.NewFromInt(2), StartedAt: now, EndedAt: now}
	if err := env.journal.InsertRound(ctx, foreign); err != nil {
		t.Fatal(err)
	}

	w := env.do(t, "GET", "/api/v1/rounds?outcome=loss&limit=10", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list: %d %s", w.Code, w.Body.String())
	}
	var hist HistoryResponse
	json.NewDecoder(w.Body).Decode(&hist)
	if hist.TotalCount != 2 || len(hist.Rounds) != 2 || hist.Rounds[0].ID != "r3" {
		t.Errorf("history = %+v", hist)
	}
	if !hist.Rounds[0].Profit.Equal(decimal.NewFromInt(-1)) {
		t.Errorf("profit = %s", hist.Rounds[0].Profit)
	}

	expectError(t, env.do(t, "GET", "/api/v1/rounds?outcome=draw", nil), http.StatusUnprocessableEntity, ErrTypeValidation)
	expectError(t, env.do(t, "GET", "/api/v1/rounds?limit=-1", nil), http.StatusUnprocessableEntity, ErrTypeValidation)

	if w := env.do(t, "GET", "/api/v1/rounds/r2", nil); w.Code != http.StatusOK {
		t.Errorf("get round: %d", w.Code)
	}
	expectError(t, env.do(t, "GET", "/api/v1/rounds/missing", nil), http.StatusNotFound, ErrTypeRoundNotFound)
	expectError(t, env.do(t, "GET", "/api/v1/rounds/x1", nil), http.StatusNotFound, ErrTypeRoundNotFound)

	w = env.do(t, "GET", "/api/v1/summary", nil)
	var sum SummaryResponse
	json.NewDecoder(w.Body).Decode(&sum)
	if sum.Journal.Rounds != 3 || sum.Journal.Wins != 1 {
		t.Errorf("summary = %+v", sum.Journal)
	}
}

func TestEventsWebsocket(t *testing.T) {
	env := newTestEnv(t, "10")
	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/events?access_token=" + env.token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for env.server.Hub().Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := env.session.PlaceBet(decimal.NewFromInt(1), 1); err != nil {
		t.Fatalf("PlaceBet: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev mines.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if ev.Kind != mines.EventRoundStarted || ev.Started == nil || ev.Started.MineCount != 1 {
		t.Errorf("event = %+v", ev)
	}
}

func TestEventsRequireToken(t *testing.T) {
	env := newTestEnv(t, "10")
	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/events"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected handshake to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401, got %+v", resp)
	}
}
