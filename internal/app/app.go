// Package app wires the game, the player session and its side services from
// a config. Both the desktop shell and the headless daemon build on it.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MJE43/mines-desktop/internal/api"
	"github.com/MJE43/mines-desktop/internal/config"
	"github.com/MJE43/mines-desktop/internal/logging"
	"github.com/MJE43/mines-desktop/internal/mines"
	"github.com/MJE43/mines-desktop/internal/scripting"
	"github.com/MJE43/mines-desktop/internal/secrets"
	"github.com/MJE43/mines-desktop/internal/session"
	"github.com/MJE43/mines-desktop/internal/store"
)

const (
	AppName          = "mines-desktop"
	signingKeyName   = "api-signing-key"
	secretsFileName  = "secrets.json"
	journalOpenLimit = 10 * time.Second
)

// APIInfo tells a client where the control API is and how to authenticate.
type APIInfo struct {
	Enabled   bool      `json:"enabled"`
	URL       string    `json:"url,omitempty"`
	Token     string    `json:"token,omitempty"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
}

// Option configures an App.
type Option func(*App)

// WithScriptEmitter receives autoplay state and log updates.
func WithScriptEmitter(e scripting.EventEmitter) Option {
	return func(a *App) { a.scriptEmitter = e }
}

// WithLogger replaces the logger built from the config.
func WithLogger(l *logging.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithSecrets replaces the keyring-backed secret store.
func WithSecrets(s *secrets.Store) Option {
	return func(a *App) { a.secrets = s }
}

// App owns every long-lived component of one player session.
type App struct {
	cfg           config.Config
	log           *logging.Logger
	logger        *zap.Logger
	scriptEmitter scripting.EventEmitter

	engine   *mines.Engine
	session  *session.Session
	journal  *store.Store
	recorder *store.Recorder
	secrets  *secrets.Store
	auth     *api.Authenticator
	server   *api.Server
	autoplay *scripting.Engine

	stopRecorder func()

	mu      sync.Mutex
	started bool
	closed  bool
}

// New builds every component but starts nothing that listens.
func New(cfg config.Config, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	a := &App{cfg: cfg}
	for _, opt := range opts {
		opt(a)
	}
	if a.log == nil {
		a.log = logging.New(AppName, cfg.Log)
	}
	a.logger = a.log.Logger

	if err := a.build(); err != nil {
		a.Close(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *App) build() error {
	engineCfg, err := a.cfg.Engine()
	if err != nil {
		return err
	}
	balance, err := a.cfg.StartingBalance()
	if err != nil {
		return err
	}

	a.engine, err = mines.NewEngine(engineCfg, mines.WithLogger(a.logger.Named("engine")))
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	a.session, err = session.New(a.engine, balance,
		session.WithID(uuid.NewString()),
		session.WithLogger(a.logger.Named("session")),
	)
	if err != nil {
		return fmt.Errorf("session: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), journalOpenLimit)
	defer cancel()
	a.journal, err = store.Open(ctx, a.cfg.Journal.DSN, a.logger.Named("journal"))
	if err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	a.recorder = store.NewRecorder(a.journal, a.session.ID(),
		store.WithRetries(a.cfg.Journal.FlushRetries, a.cfg.Journal.RetryBase),
		store.WithRecorderLogger(a.logger.Named("recorder")),
	)
	a.stopRecorder = a.engine.Subscribe(a.recorder)

	a.autoplay = scripting.NewEngine(scripting.NewSessionPlayer(a.session), a.scriptEmitter,
		scripting.WithLogger(a.logger.Named("script")),
		scripting.WithDefaultMines(a.cfg.Game.DefaultMines),
		scripting.WithRunJournal(runJournal{store: a.journal, sessionID: a.session.ID()}),
	)

	if !a.cfg.API.Enabled {
		return nil
	}
	if a.secrets == nil {
		a.secrets = secrets.New(a.cfg.Secrets.Service, fallbackPath(a.cfg.Secrets.FallbackPath))
	}
	key, err := a.secrets.SigningKey(signingKeyName)
	if err != nil {
		return fmt.Errorf("signing key: %w", err)
	}
	a.auth, err = api.NewAuthenticator(key, a.session.ID(), a.cfg.API.TokenTTL)
	if err != nil {
		return fmt.Errorf("authenticator: %w", err)
	}
	a.server = api.NewServer(a.session, a.journal, a.auth, a.logger.Named("api"), api.Options{
		Port:           a.cfg.API.Port,
		AllowedOrigins: a.cfg.API.AllowedOrigins,
		RequestTimeout: a.cfg.API.RequestTimeout,
		DefaultMines:   a.cfg.Game.DefaultMines,
	})
	return nil
}

// fallbackPath puts the secrets file next to the other per-user data when the
// config leaves it open.
func fallbackPath(configured string) string {
	if configured != "" {
		return configured
	}
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		return filepath.Join(dir, AppName, secretsFileName)
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, "."+AppName, secretsFileName)
	}
	return ""
}

// Start brings up the control API when it is enabled.
func (a *App) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return errors.New("app is closed")
	}
	if a.started {
		return nil
	}
	if a.server != nil {
		if err := a.server.Start(); err != nil {
			return err
		}
	}
	a.started = true
	a.logger.Info("session ready",
		zap.String("session_id", a.session.ID()),
		zap.String("balance", a.session.Balance().String()),
		zap.Bool("api", a.server != nil),
	)
	return nil
}

// Config returns the config the app was built from, with live changes applied.
func (a *App) Config() config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// Reload applies the parts of cfg that can change at runtime. Currently that
// is the log level; everything else needs a restart.
func (a *App) Reload(cfg config.Config, err error) {
	if err != nil {
		a.logger.Warn("config reload failed", zap.Error(err))
		return
	}
	a.mu.Lock()
	a.cfg.Log.Level = cfg.Log.Level
	a.mu.Unlock()
	a.log.SetLevel(cfg.Log.Level)
	a.logger.Info("config reloaded", zap.String("log_level", cfg.Log.Level))
}

func (a *App) Logger() *zap.Logger { return a.logger }
func (a *App) Engine() *mines.Engine { return a.engine }
func (a *App) Session() *session.Session { return a.session }
func (a *App) Journal() *store.Store { return a.journal }
func (a *App) Recorder() *store.Recorder { return a.recorder }
func (a *App) Autoplay() *scripting.Engine { return a.autoplay }
func (a *App) Server() *api.Server { return a.server }
func (a *App) Authenticator() *api.Authenticator { return a.auth }

// APIInfo issues a fresh token for the control API.
func (a *App) APIInfo() (APIInfo, error) {
	a.mu.Lock()
	started := a.started
	a.mu.Unlock()
	if a.server == nil || !started {
		return APIInfo{Enabled: false}, nil
	}
	token, exp, err := a.auth.Issue()
	if err != nil {
		return APIInfo{}, fmt.Errorf("issue token: %w", err)
	}
	return APIInfo{Enabled: true, URL: a.server.URL(), Token: token, ExpiresAt: exp}, nil
}

// Close tears everything down in reverse order of construction. It is safe
// to call more than once.
func (a *App) Close(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	var errs []error
	if a.autoplay != nil {
		if err := a.autoplay.Stop(); err != nil && !errors.Is(err, scripting.ErrNotRunning) {
			errs = append(errs, fmt.Errorf("autoplay: %w", err))
		}
	}
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("api: %w", err))
		}
	}
	if a.stopRecorder != nil {
		a.stopRecorder()
	}
	if a.recorder != nil {
		a.recorder.Close()
	}
	if a.session != nil {
		a.session.Close()
	}
	if a.engine != nil {
		a.engine.Close()
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			errs = append(errs, fmt.Errorf("journal: %w", err))
		}
	}
	if a.logger != nil {
		a.logger.Info("shutdown complete")
	}
	if a.log != nil {
		a.log.Close()
	}
	return errors.Join(errs...)
}
