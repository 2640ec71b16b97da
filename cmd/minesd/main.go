// Command minesd runs a Mines session without the desktop window. The game
// is driven through the control API or an autoplay script.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/MJE43/mines-desktop/internal/app"
	"github.com/MJE43/mines-desktop/internal/config"
	"github.com/MJE43/mines-desktop/internal/scripting"
)

const shutdownLimit = 10 * time.Second

// logEmitter reports autoplay progress through the app logger.
type logEmitter struct {
	logger *zap.Logger
}

func (l *logEmitter) EmitScriptState(s scripting.Snapshot) {
	if l.logger == nil || s.Stats == nil {
		return
	}
	l.logger.Debug("autoplay",
		zap.String("state", string(s.State)),
		zap.Int("bets", s.Stats.Bets),
		zap.Float64("profit", s.Stats.Profit),
		zap.Float64("balance", s.Stats.Balance),
	)
}

func (l *logEmitter) EmitScriptLog(entries []scripting.LogEntry) {
	if l.logger == nil {
		return
	}
	for _, e := range entries {
		l.logger.Info("script", zap.String("message", e.Message))
	}
}

func main() {
	cfgPath := flag.String("config", os.Getenv("MINES_CONFIG"), "path to a config file")
	scriptPath := flag.String("script", "", "autoplay script to run on start")
	flag.Parse()

	if err := run(*cfgPath, *scriptPath); err != nil {
		fmt.Fprintf(os.Stderr, "minesd: %v\n", err)
		os.Exit(1)
	}
}

func run(cfgPath, scriptPath string) error {
	loader := config.NewLoader(cfgPath)
	cfg, err := loader.Load()
	if err != nil {
		return err
	}

	emitter := &logEmitter{}
	core, err := app.New(cfg, app.WithScriptEmitter(emitter))
	if err != nil {
		return err
	}
	log := core.Logger()
	emitter.logger = log.Named("autoplay")
	loader.Watch(core.Reload)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := core.Start(); err != nil {
		core.Close(context.Background())
		return err
	}

	info, err := core.APIInfo()
	if err != nil {
		log.Error("issue API token", zap.Error(err))
	} else if info.Enabled {
		fmt.Printf("API:   %s\nToken: %s\nExpires %s\n", info.URL, info.Token, humanize.Time(info.ExpiresAt))
	}

	scriptDone := make(chan struct{})
	if scriptPath != "" {
		src, err := os.ReadFile(scriptPath)
		if err != nil {
			core.Close(context.Background())
			return fmt.Errorf("read script: %w", err)
		}
		if err := core.Autoplay().Start(string(src)); err != nil {
			core.Close(context.Background())
			return fmt.Errorf("start script: %w", err)
		}
		go func() {
			core.Autoplay().Wait(ctx)
			close(scriptDone)
		}()
	}

	select {
	case <-ctx.Done():
		log.Info("signal received, shutting down")
	case <-scriptDone:
		st := core.Autoplay().State()
		fields := []zap.Field{zap.String("state", string(st.State)), zap.String("error", st.Error)}
		if st.Stats != nil {
			fields = append(fields, zap.Int("bets", st.Stats.Bets), zap.Float64("profit", st.Stats.Profit))
		}
		log.Info("autoplay finished", fields...)
		// Keep serving the API when it is on.
		if info.Enabled {
			<-ctx.Done()
		}
	}

	status := core.Session().Status()
	log.Info("session summary",
		zap.String("balance", status.Balance.String()),
		zap.Int("rounds", status.Totals.Rounds),
		zap.String("net", status.Totals.Net.String()),
	)

	sctx, cancel := context.WithTimeout(context.Background(), shutdownLimit)
	defer cancel()
	if err := core.Close(sctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
