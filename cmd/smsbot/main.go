package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"telegram-smsbot/internal/adapters/cli"
	"telegram-smsbot/internal/app"
	"telegram-smsbot/internal/infra/config"
	"telegram-smsbot/internal/infra/logger"
	"telegram-smsbot/internal/infra/pr"

	"go.uber.org/zap"
	"golang.org/x/term"
)

func main() {
	// envPath определяет расположение .env с секретами и общими настройками.
	envPath := flag.String("env", "assets/.env", "path to .env file")
	flag.Parse()

	cfg, err := config.Load(*envPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}
	env := cfg.Env()
	time.Local = cfg.Location() //nolint:reassign // приложение работает в зоне APP_TIMEZONE

	// Консоль администратора только при живом терминале: под systemd/docker stdin закрыт.
	if env.CLIEnable && term.IsTerminal(int(os.Stdin.Fd())) {
		if err := pr.Init(pr.Options{Prompt: "smsbot> ", Commands: cli.CommandNames()}); err != nil {
			logger.Fatal("failed to init readline", zap.Error(err))
		}
		defer pr.Close()
	}

	logger.Init(env.LogLevel)
	logger.InitFile(logger.FileOptions{
		Path:       env.LogFile,
		Level:      env.LogFileLevel,
		MaxSizeMB:  env.LogFileMaxSize,
		MaxBackups: env.LogFileMaxBackups,
		MaxAgeDays: env.LogFileMaxAge,
		Compress:   env.LogFileCompress,
	})
	logger.SetWriters(pr.Stdout(), pr.Stderr())
	defer logger.Close()
	for _, msg := range cfg.Warnings() {
		logger.Warn(msg)
	}

	// Контекст с обработкой Ctrl+C/SIGTERM; stop() снимает подписку.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if runErr := app.NewApp(ctx, stop, cfg).Run(); runErr != nil {
		stop()
		logger.Fatal("app run failed", zap.Error(runErr))
	}
	logger.Info("Graceful shutdown complete")
}
