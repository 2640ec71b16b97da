package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/MJE43/mines-desktop/internal/mines"
)

// EnvPrefix is prepended to every environment override, e.g.
// MINES_API_PORT or MINES_GAME_GRID_SIDE.
const EnvPrefix = "MINES"

type Config struct {
	Game    GameConfig    `mapstructure:"game"`
	Session SessionConfig `mapstructure:"session"`
	API     APIConfig     `mapstructure:"api"`
	Journal JournalConfig `mapstructure:"journal"`
	Log     LogConfig     `mapstructure:"log"`
	Secrets SecretsConfig `mapstructure:"secrets"`
}

type GameConfig struct {
	GridSide          int           `mapstructure:"grid_side"`
	MinBet            string        `mapstructure:"min_bet"`
	MinMines          int           `mapstructure:"min_mines"`
	MaxMines          int           `mapstructure:"max_mines"`
	DefaultMines      int           `mapstructure:"default_mines"`
	LossResetDelay    time.Duration `mapstructure:"loss_reset_delay"`
	WinResetDelay     time.Duration `mapstructure:"win_reset_delay"`
	CashoutResetDelay time.Duration `mapstructure:"cashout_reset_delay"`

	// Integer millisecond forms. When set they win over the duration keys.
	LossResetDelayMs    *int `mapstructure:"loss_reset_delay_ms"`
	WinResetDelayMs     *int `mapstructure:"win_reset_delay_ms"`
	CashoutResetDelayMs *int `mapstructure:"cashout_reset_delay_ms"`
}

type SessionConfig struct {
	StartingBalance string `mapstructure:"starting_balance"`
}

type APIConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Port           int           `mapstructure:"port"`
	TokenTTL       time.Duration `mapstructure:"token_ttl"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

type JournalConfig struct {
	DSN          string        `mapstructure:"dsn"`
	FlushRetries int           `mapstructure:"flush_retries"`
	RetryBase    time.Duration `mapstructure:"retry_base"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
	Dev        bool   `mapstructure:"dev"`
}

type SecretsConfig struct {
	Service      string `mapstructure:"service"`
	FallbackPath string `mapstructure:"fallback_path"`
}

func setDefaults(v *viper.Viper) {
	game := mines.DefaultConfig()
	v.SetDefault("game.grid_side", game.GridSide)
	v.SetDefault("game.min_bet", game.MinBet.String())
	v.SetDefault("game.min_mines", game.MinMines)
	v.SetDefault("game.max_mines", game.MaxMines)
	v.SetDefault("game.default_mines", mines.DefaultMineCount())
	v.SetDefault("game.loss_reset_delay", game.LossResetDelay)
	v.SetDefault("game.win_reset_delay", game.WinResetDelay)
	v.SetDefault("game.cashout_reset_delay", game.CashoutResetDelay)

	v.SetDefault("session.starting_balance", "1000")

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.port", 17888)
	v.SetDefault("api.token_ttl", 24*time.Hour)
	v.SetDefault("api.request_timeout", 15*time.Second)
	v.SetDefault("api.allowed_origins", []string{"http://localhost:*", "http://127.0.0.1:*", "wails://*"})

	v.SetDefault("journal.dsn", ":memory:")
	v.SetDefault("journal.flush_retries", 5)
	v.SetDefault("journal.retry_base", 20*time.Millisecond)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 14)
	v.SetDefault("log.compress", true)
	v.SetDefault("log.dev", false)

	v.SetDefault("secrets.service", "mines-desktop")
	v.SetDefault("secrets.fallback_path", "")
}

// Loader reads configuration from defaults, an optional file and the
// environment, in increasing order of precedence.
type Loader struct {
	v    *viper.Viper
	path string
	mu   sync.Mutex
}

// NewLoader prepares a loader. path may be empty.
func NewLoader(path string) *Loader {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// The _ms keys have no default, so AutomaticEnv alone would not see them.
	for _, key := range []string{"loss_reset_delay_ms", "win_reset_delay_ms", "cashout_reset_delay_ms"} {
		_ = v.BindEnv("game." + key)
	}
	if path != "" {
		v.SetConfigFile(path)
	}
	return &Loader{v: v, path: path}
}

// Load reads the file, if any, and decodes the result.
func Load(path string) (Config, error) {
	return NewLoader(path).Load()
}

func (l *Loader) Load() (Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.path != "" {
		if _, err := os.Stat(l.path); err != nil {
			return Config{}, fmt.Errorf("config file %s: %w", l.path, err)
		}
		if err := l.v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}
	return l.decodeLocked()
}

func (l *Loader) decodeLocked() (Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Watch calls fn with the re-decoded config whenever the file changes. It
// does nothing when no file was given.
func (l *Loader) Watch(fn func(Config, error)) {
	if l.path == "" {
		return
	}
	l.v.OnConfigChange(func(fsnotify.Event) {
		l.mu.Lock()
		cfg, err := l.decodeLocked()
		l.mu.Unlock()
		fn(cfg, err)
	})
	l.v.WatchConfig()
}

// Validate checks every section that cannot be caught later at wiring time.
func (c Config) Validate() error {
	if _, err := c.Engine(); err != nil {
		return err
	}
	lo, hi := c.Game.MineBounds()
	if c.Game.DefaultMines < lo || c.Game.DefaultMines > hi {
		return fmt.Errorf("game.default_mines must be between %d and %d, got %d", lo, hi, c.Game.DefaultMines)
	}
	if _, err := c.StartingBalance(); err != nil {
		return err
	}
	// Port 0 asks the OS for a free port.
	if c.API.Enabled && (c.API.Port < 0 || c.API.Port > 65535) {
		return fmt.Errorf("api.port must be between 0 and 65535, got %d", c.API.Port)
	}
	if c.API.TokenTTL <= 0 {
		return errors.New("api.token_ttl must be positive")
	}
	if c.Journal.FlushRetries < 0 {
		return fmt.Errorf("journal.flush_retries must not be negative, got %d", c.Journal.FlushRetries)
	}
	return nil
}

// MineBounds mirrors mines.Config.MineBounds for the raw section.
func (g GameConfig) MineBounds() (lo, hi int) {
	hi = g.MaxMines
	if limit := g.GridSide*g.GridSide - 1; hi > limit {
		hi = limit
	}
	return g.MinMines, hi
}

// Engine converts the game section into an engine config.
func (c Config) Engine() (mines.Config, error) {
	minBet, err := decimal.NewFromString(c.Game.MinBet)
	if err != nil {
		return mines.Config{}, fmt.Errorf("game.min_bet: %w", err)
	}
	loss, err := resetDelay("loss_reset_delay", c.Game.LossResetDelay, c.Game.LossResetDelayMs)
	if err != nil {
		return mines.Config{}, err
	}
	win, err := resetDelay("win_reset_delay", c.Game.WinResetDelay, c.Game.WinResetDelayMs)
	if err != nil {
		return mines.Config{}, err
	}
	cashout, err := resetDelay("cashout_reset_delay", c.Game.CashoutResetDelay, c.Game.CashoutResetDelayMs)
	if err != nil {
		return mines.Config{}, err
	}
	cfg := mines.Config{
		GridSide:          c.Game.GridSide,
		MinBet:            minBet,
		MinMines:          c.Game.MinMines,
		MaxMines:          c.Game.MaxMines,
		LossResetDelay:    loss,
		WinResetDelay:     win,
		CashoutResetDelay: cashout,
	}
	if err := cfg.Validate(); err != nil {
		return mines.Config{}, fmt.Errorf("game: %w", err)
	}
	return cfg, nil
}

// resetDelay picks the _ms form of key when present. A bare number on the
// duration key decodes as nanoseconds, so anything between zero and 1ms is
// rejected instead of silently resetting rounds at once.
func resetDelay(key string, d time.Duration, ms *int) (time.Duration, error) {
	if ms != nil {
		if *ms < 0 {
			return 0, fmt.Errorf("game.%s_ms must not be negative, got %d", key, *ms)
		}
		return time.Duration(*ms) * time.Millisecond, nil
	}
	if d > 0 && d < time.Millisecond {
		return 0, fmt.Errorf("game.%s is %s: give a unit (e.g. \"2s\") or use game.%s_ms", key, d, key)
	}
	return d, nil
}

// StartingBalance parses session.starting_balance.
func (c Config) StartingBalance() (decimal.Decimal, error) {
	b, err := decimal.NewFromString(c.Session.StartingBalance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("session.starting_balance: %w", err)
	}
	if b.IsNegative() {
		return decimal.Zero, fmt.Errorf("session.starting_balance must not be negative, got %s", b)
	}
	return b, nil
}
