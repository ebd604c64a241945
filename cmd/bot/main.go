package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/SinzaXh/Shein-suto-verse/internal/bot"
	"github.com/SinzaXh/Shein-suto-verse/internal/config"
	"github.com/SinzaXh/Shein-suto-verse/internal/orchestrator"
	"github.com/SinzaXh/Shein-suto-verse/internal/proxy"
	"github.com/SinzaXh/Shein-suto-verse/internal/scheduler"
	"github.com/SinzaXh/Shein-suto-verse/internal/session"
	"github.com/SinzaXh/Shein-suto-verse/internal/shein"
	"github.com/SinzaXh/Shein-suto-verse/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	pool, err := newProxyPool(cfg, log)
	if err != nil {
		log.Error("build proxy pool", "error", err)
		os.Exit(1)
	}

	client := shein.New(shein.NewHTTPDoer(30*time.Second), pool, shein.Options{
		MaxProducts: cfg.MaxProducts,
		WaitMin:     cfg.WaitMin,
		WaitMax:     cfg.WaitMax,
	}, log)

	sessions := session.NewManager(store, client, log)

	b, err := bot.New(cfg.TelegramBotToken, store, cfg, sessions, nil, log)
	if err != nil {
		log.Error("create bot", "error", err)
		os.Exit(1)
	}

	retention := time.Duration(cfg.RetentionDays) * 24 * time.Hour
	orch := orchestrator.New(store, client, sessions, b, retention, log)
	b.SetResender(orch)

	sched := scheduler.New(store, orch, b, cfg.AuthorizedUsers, cfg.CheckInterval, log)
	b.SetRunner(sched)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("starting bot", "users", len(cfg.AuthorizedUsers), "interval", cfg.CheckInterval)

	go sched.Run(ctx)

	b.Run(ctx)

	log.Info("bot stopped")
}

func newProxyPool(cfg *config.Config, log *slog.Logger) (*proxy.Pool, error) {
	if cfg.ProxyDisabled || len(cfg.ProxyAddrs) == 0 {
		log.Warn("proxy pool disabled, upstream calls go direct")
		return proxy.NewDirect(), nil
	}
	return proxy.New(cfg.ProxyAddrs, cfg.ProxyUsername, cfg.ProxyPassword)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
