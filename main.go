package main

import (
	"context"
	"embed"
	"flag"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/logger"
	"github.com/wailsapp/wails/v2/pkg/menu"
	"github.com/wailsapp/wails/v2/pkg/menu/keys"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"
	"github.com/wailsapp/wails/v2/pkg/options/linux"
	"github.com/wailsapp/wails/v2/pkg/options/mac"
	"github.com/wailsapp/wails/v2/pkg/options/windows"
	wruntime "github.com/wailsapp/wails/v2/pkg/runtime"
	"go.uber.org/zap"

	"github.com/MJE43/mines-desktop/bindings"
	"github.com/MJE43/mines-desktop/internal/app"
	"github.com/MJE43/mines-desktop/internal/config"
)

//go:embed all:frontend/dist
var assets embed.FS

const (
	configEnv     = "MINES_CONFIG"
	configFile    = "config.yaml"
	repoURL       = "https://github.com/MJE43/mines-desktop"
	shutdownLimit = 5 * time.Second
)

var (
	appCtx   context.Context
	appCtxMu sync.RWMutex
)

func buildWindowsOptions(log *zap.Logger) *windows.Options {
	return &windows.Options{
		BackdropType: windows.Mica,
		Theme:        windows.SystemDefault,
		CustomTheme: &windows.ThemeSettings{
			DarkModeTitleBar:   windows.RGB(15, 33, 46),
			DarkModeTitleText:  windows.RGB(226, 232, 240),
			DarkModeBorder:     windows.RGB(33, 55, 67),
			LightModeTitleBar:  windows.RGB(248, 250, 252),
			LightModeTitleText: windows.RGB(15, 23, 42),
			LightModeBorder:    windows.RGB(226, 232, 240),
		},
		IsZoomControlEnabled: false,
		ZoomFactor:           1.0,
		WindowClassName:      "MinesDesktopWindow",
		OnSuspend:            func() { log.Info("entering low power mode") },
		OnResume:             func() { log.Info("resuming from low power mode") },
	}
}

func appIcon() []byte {
	data, err := assets.ReadFile("frontend/dist/assets/logo.png")
	if err != nil {
		return nil
	}
	return data
}

func buildMacOptions() *mac.Options {
	return &mac.Options{
		TitleBar: &mac.TitleBar{HideToolbarSeparator: true},
		About: &mac.AboutInfo{
			Title:   "Mines",
			Message: "A local Mines game with scripted autoplay.\n\nBuilt with Wails",
			Icon:    appIcon(),
		},
	}
}

func buildLinuxOptions() *linux.Options {
	return &linux.Options{
		Icon:             appIcon(),
		WebviewGpuPolicy: linux.WebviewGpuPolicyAlways,
		ProgramName:      app.AppName,
	}
}

// configPath prefers the -config flag, then $MINES_CONFIG, then a config.yaml
// in the data directory if one exists.
func configPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if p := os.Getenv(configEnv); p != "" {
		return p
	}
	candidate := filepath.Join(appDataDir(), configFile)
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return ""
}

func main() {
	cfgFlag := flag.String("config", "", "path to a config file")
	flag.Parse()

	loader := config.NewLoader(configPath(*cfgFlag))
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	emitter := bindings.NewEmitter(nil)
	core, err := app.New(cfg, app.WithScriptEmitter(emitter))
	if err != nil {
		fmt.Fprintf(os.Stderr, "start: %v\n", err)
		os.Exit(1)
	}
	log := core.Logger()
	log.Info("starting", zap.String("go", runtime.Version()))
	loader.Watch(core.Reload)

	bound := bindings.New(core, emitter)

	startup := func(ctx context.Context) {
		setAppContext(ctx)
		bound.Startup(ctx)
		if err := core.Start(); err != nil {
			log.Error("control API failed to start", zap.Error(err))
		}
	}

	beforeClose := func(ctx context.Context) (prevent bool) {
		setAppContext(nil)
		bound.Shutdown(ctx)
		sctx, cancel := context.WithTimeout(context.Background(), shutdownLimit)
		defer cancel()
		if err := core.Close(sctx); err != nil {
			fmt.Fprintf(os.Stderr, "shutdown: %v\n", err)
		}
		return false
	}

	if err := wails.Run(&options.App{
		Title:            "Mines",
		Width:            1100,
		Height:           780,
		MinWidth:         800,
		MinHeight:        640,
		WindowStartState: options.Normal,
		BackgroundColour: &options.RGBA{R: 15, G: 33, B: 46, A: 255},

		AssetServer: &assetserver.Options{
			Assets: assets,
		},

		OnStartup:     startup,
		OnBeforeClose: beforeClose,

		Menu: buildAppMenu(bound),
		Bind: []interface{}{bound},

		LogLevel:           logger.INFO,
		LogLevelProduction: logger.ERROR,

		EnableDefaultContextMenu: false,

		ErrorFormatter: func(err error) any {
			if err == nil {
				return nil
			}
			return err.Error()
		},

		SingleInstanceLock: &options.SingleInstanceLock{
			UniqueId: "4b1f0c9e-7d2a-4e8b-a3c6-mines-desktop",
			OnSecondInstanceLaunch: func(data options.SecondInstanceData) {
				log.Info("second instance prevented", zap.Strings("args", data.Args))
				withAppContext(func(ctx context.Context) { wruntime.WindowShow(ctx) })
			},
		},

		DragAndDrop: &options.DragAndDrop{
			EnableFileDrop:     false,
			DisableWebViewDrop: true,
		},

		Windows: buildWindowsOptions(log),
		Mac:     buildMacOptions(),
		Linux:   buildLinuxOptions(),
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		core.Close(context.Background())
		os.Exit(1)
	}
}

// appDataDir returns an OS-appropriate writable directory.
func appDataDir() string {
	if d, err := os.UserConfigDir(); err == nil && d != "" {
		return filepath.Join(d, app.AppName)
	}
	if h, err := os.UserHomeDir(); err == nil && h != "" {
		return filepath.Join(h, "."+app.AppName)
	}
	return "."
}

func buildAppMenu(bound *bindings.App) *menu.Menu {
	rootMenu := menu.NewMenu()

	if runtime.GOOS == "darwin" {
		if appMenu := menu.AppMenu(); appMenu != nil {
			rootMenu.Append(appMenu)
		}
	}

	fileMenu := menu.NewMenu()
	fileMenu.AddText("Open Data Directory", keys.CmdOrCtrl("o"), func(_ *menu.CallbackData) {
		withAppContext(func(ctx context.Context) {
			dir := appDataDir()
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return
			}
			openPathInExplorer(ctx, dir)
		})
	})
	fileMenu.AddSeparator()
	fileMenu.AddText("Quit", keys.CmdOrCtrl("q"), func(_ *menu.CallbackData) {
		withAppContext(wruntime.Quit)
	})
	rootMenu.Append(menu.SubMenu("File", fileMenu))

	gameMenu := menu.NewMenu()
	gameMenu.AddText("Cash Out", keys.CmdOrCtrl("k"), func(_ *menu.CallbackData) {
		bound.CashOut()
	})
	gameMenu.AddText("Stop Autoplay", keys.CmdOrCtrl("."), func(_ *menu.CallbackData) {
		bound.StopScript()
	})
	gameMenu.AddSeparator()
	gameMenu.AddText("Copy API Token", nil, func(_ *menu.CallbackData) {
		withAppContext(func(ctx context.Context) {
			info, err := bound.GetAPIInfo()
			if err != nil || !info.Enabled {
				wruntime.MessageDialog(ctx, wruntime.MessageDialogOptions{
					Type:    wruntime.InfoDialog,
					Title:   "Control API",
					Message: "The control API is disabled.",
				})
				return
			}
			wruntime.ClipboardSetText(ctx, info.Token)
		})
	})
	rootMenu.Append(menu.SubMenu("Game", gameMenu))

	viewMenu := menu.NewMenu()
	viewMenu.AddText("Reload Frontend", keys.CmdOrCtrl("r"), func(_ *menu.CallbackData) {
		withAppContext(wruntime.WindowReloadApp)
	})
	viewMenu.AddText("Toggle Fullscreen", keys.Combo("f", keys.CmdOrCtrlKey, keys.ShiftKey), func(_ *menu.CallbackData) {
		withAppContext(toggleFullscreen)
	})
	rootMenu.Append(menu.SubMenu("View", viewMenu))

	helpMenu := menu.NewMenu()
	helpMenu.AddText("Project Repository", nil, func(_ *menu.CallbackData) {
		withAppContext(func(ctx context.Context) {
			wruntime.BrowserOpenURL(ctx, repoURL)
		})
	})
	rootMenu.Append(menu.SubMenu("Help", helpMenu))

	return rootMenu
}

func openPathInExplorer(ctx context.Context, path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	wruntime.BrowserOpenURL(ctx, fileURI(abs))
}

func fileURI(path string) string {
	clean := filepath.ToSlash(path)
	if runtime.GOOS == "windows" && len(clean) > 0 && clean[0] != '/' {
		clean = "/" + clean
	}
	u := url.URL{Scheme: "file", Path: clean}
	return u.String()
}

func toggleFullscreen(ctx context.Context) {
	if wruntime.WindowIsFullscreen(ctx) {
		wruntime.WindowUnfullscreen(ctx)
		return
	}
	wruntime.WindowFullscreen(ctx)
}

func setAppContext(ctx context.Context) {
	appCtxMu.Lock()
	defer appCtxMu.Unlock()
	appCtx = ctx
}

func withAppContext(action func(context.Context)) {
	appCtxMu.RLock()
	ctx := appCtx
	appCtxMu.RUnlock()
	if ctx == nil {
		return
	}
	action(ctx)
}
