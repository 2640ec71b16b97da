package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	eng, err := cfg.Engine()
	if err != nil {
		t.Fatalf("Engine: %v", err)
	}
	if eng.GridSide != 5 || eng.MinMines != 1 || eng.MaxMines != 24 {
		t.Errorf("unexpected board %+v", eng)
	}
	if eng.LossResetDelay != 2*time.Second || eng.CashoutResetDelay != 1500*time.Millisecond {
		t.Errorf("unexpected delays %+v", eng)
	}
	if !eng.MinBet.Equal(decimal.RequireFromString("0.01")) {
		t.Errorf("min bet = %s", eng.MinBet)
	}
	if cfg.Game.DefaultMines != 3 {
		t.Errorf("default mines = %d", cfg.Game.DefaultMines)
	}
	if cfg.Journal.DSN != ":memory:" {
		t.Errorf("journal dsn = %q", cfg.Journal.DSN)
	}
	if !cfg.API.Enabled || cfg.API.Port != 17888 {
		t.Errorf("api = %+v", cfg.API)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mines.yaml")
	body := `
game:
  grid_side: 6
  max_mines: 30
  cashout_reset_delay: 750ms
session:
  starting_balance: "250.50"
api:
  port: 9000
  allowed_origins: ["http://localhost:5173"]
log:
  level: debug
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Game.GridSide != 6 || cfg.Game.MaxMines != 30 {
		t.Errorf("game = %+v", cfg.Game)
	}
	if cfg.Game.CashoutResetDelay != 750*time.Millisecond {
		t.Errorf("cashout delay = %s", cfg.Game.CashoutResetDelay)
	}
	if lo, hi := cfg.Game.MineBounds(); lo != 1 || hi != 30 {
		t.Errorf("bounds = %d..%d", lo, hi)
	}
	b, err := cfg.StartingBalance()
	if err != nil || !b.Equal(decimal.RequireFromString("250.5")) {
		t.Errorf("starting balance = %s, %v", b, err)
	}
	if cfg.API.Port != 9000 || len(cfg.API.AllowedOrigins) != 1 {
		t.Errorf("api = %+v", cfg.API)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q", cfg.Log.Level)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("MINES_API_PORT", "9123")
	t.Setenv("MINES_GAME_WIN_RESET_DELAY", "3s")
	t.Setenv("MINES_SESSION_STARTING_BALANCE", "42")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.Port != 9123 {
		t.Errorf("port = %d", cfg.API.Port)
	}
	if cfg.Game.WinResetDelay != 3*time.Second {
		t.Errorf("win delay = %s", cfg.Game.WinResetDelay)
	}
	if cfg.Session.StartingBalance != "42" {
		t.Errorf("starting balance = %q", cfg.Session.StartingBalance)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := []struct {
		name, key, value string
	}{
		{"grid too small", "MINES_GAME_GRID_SIDE", "1"},
		{"bad balance", "MINES_SESSION_STARTING_BALANCE", "-5"},
		{"bad min bet", "MINES_GAME_MIN_BET", "cheap"},
		{"port out of range", "MINES_API_PORT", "70000"},
		{"default mines too high", "MINES_GAME_DEFAULT_MINES", "25"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			if _, err := Load(""); err == nil {
				t.Errorf("expected error for %s=%s", tc.key, tc.value)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for a missing config file")
	}
}

func TestResetDelayMillisecondKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mines.yaml")
	body := `
game:
  loss_reset_delay: 5s
  loss_reset_delay_ms: 500
  cashout_reset_delay_ms: 0
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MINES_GAME_WIN_RESET_DELAY_MS", "2500")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	eng, err := cfg.Engine()
	if err != nil {
		t.Fatal(err)
	}
	if eng.LossResetDelay != 500*time.Millisecond {
		t.Errorf("loss delay = %s, want 500ms", eng.LossResetDelay)
	}
	if eng.WinResetDelay != 2500*time.Millisecond {
		t.Errorf("win delay = %s, want 2.5s", eng.WinResetDelay)
	}
	if eng.CashoutResetDelay != 0 {
		t.Errorf("cashout delay = %s, want 0", eng.CashoutResetDelay)
	}
}

func TestResetDelayRejectsBareNumbers(t *testing.T) {
	cases := []struct {
		name, body string
	}{
		{"unitless duration", "game:\n  win_reset_delay: 2000\n"},
		{"negative millis", "game:\n  loss_reset_delay_ms: -1\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "mines.yaml")
			if err := os.WriteFile(path, []byte(tc.body), 0o600); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Errorf("expected error for %q", tc.body)
			}
		})
	}
}
