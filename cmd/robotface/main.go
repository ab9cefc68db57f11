// Command robotface serves the robot facial-expression demo: detection
// sessions with confidence scoring and audible tone cues.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/robotface/internal/app"
	"github.com/MrWong99/robotface/internal/config"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

const defaultConfigPath = "config.yaml"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", defaultConfigPath, "path to the YAML configuration file")
	listenAddr := flag.String("listen", "", "override server.listen_addr")
	flag.Parse()

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	// ── Load configuration ────────────────────────────────────────────────────
	var application *app.App
	cfg, watcher, err := loadConfig(*configPath, func(old, new *config.Config) {
		application.ApplyConfig(old, new)
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "robotface: %v\n", err)
		return 1
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}
	level.Set(cfg.Server.LogLevel.Level())

	slog.Info("robotface starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := []app.Option{app.WithLevelVar(level), app.WithVersion(version)}
	if watcher != nil {
		opts = append(opts, app.WithWatcher(watcher))
	}
	application, err = app.New(ctx, cfg, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	printStartupSummary(cfg, application.SinkName(), watcher != nil)
	slog.Info("server ready, press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// loadConfig loads path and returns a watcher for hot reload. A missing file
// at the default path falls back to built-in defaults without a watcher; a
// missing file at an explicit path is an error.
func loadConfig(path string, onChange func(old, new *config.Config)) (*config.Config, *config.Watcher, error) {
	w, err := config.NewWatcher(path, onChange)
	if err == nil {
		return w.Current(), w, nil
	}
	if errors.Is(err, os.ErrNotExist) && path == defaultConfigPath {
		slog.Info("no config file found, using defaults", "path", path)
		return config.Default(), nil, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil, fmt.Errorf("config file %q not found, copy configs/example.yaml to get started", path)
	}
	return nil, nil, err
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, sink string, hotReload bool) {
	reload := "off"
	if hotReload {
		reload = "on"
	}
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        robotface · startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	fmt.Printf("║  Playback sink   : %-19s ║\n", sink)
	fmt.Printf("║  Threshold       : %-19.1f ║\n", cfg.Detection.Threshold())
	fmt.Printf("║  Sound cues      : %-19t ║\n", cfg.Detection.Sound())
	fmt.Printf("║  Tone            : %-19s ║\n", fmt.Sprintf("%.2fs @ %.2f", cfg.Tone.Duration, cfg.Tone.Volume))
	fmt.Printf("║  Config reload   : %-19s ║\n", reload)
	fmt.Println("╚═══════════════════════════════════════╝")
}
