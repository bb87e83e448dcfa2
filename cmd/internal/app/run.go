package app

import (
	"context"
	"os/signal"
	"syscall"

	"mereb/cmd/internal/auth/session"
)

// Run is the CLI entrypoint used by cmd/mereb.
// It returns an error instead of calling os.Exit to keep defers effective and lint clean.
func Run() error {
	cfg := LoadConfig()
	log := NewLogger(cfg.LogLevel, cfg.LogFormat)

	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		log.Error("config.session.invalid", "err", err)
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := New(ctx, cfg, sessCfg, log)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}
