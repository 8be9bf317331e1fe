package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	_ "github.com/mattn/go-sqlite3"

	"github.com/maaaruch/tg-pod-poll-bot/internal/app"
	"github.com/maaaruch/tg-pod-poll-bot/internal/config"
	"github.com/maaaruch/tg-pod-poll-bot/internal/handler"
	"github.com/maaaruch/tg-pod-poll-bot/internal/scheduler"
	"github.com/maaaruch/tg-pod-poll-bot/internal/service"
	"github.com/maaaruch/tg-pod-poll-bot/internal/storage"
)

func main() {
	register := flag.Bool("register", false, "publish the command list to Telegram and exit")
	postNow := flag.Bool("post", false, "post a poll right after startup")
	flag.Parse()

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log.Level)
	slog.SetDefault(logger)

	if cfg.Telegram.Token == "" {
		logger.Error("TELEGRAM_BOT_TOKEN is not set")
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}
	loc, _ := cfg.Location()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		logger.Error("open store", "error", err, "driver", cfg.Store.Driver)
		os.Exit(1)
	}
	defer closeStore()

	bot, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Error("create bot", "error", err)
		os.Exit(1)
	}
	bot.Debug = cfg.Telegram.Debug
	logger.Info("bot started", "username", bot.Self.UserName, "chat_id", cfg.Telegram.ChatID)

	svc := service.New(store, service.Options{
		Capacity:   cfg.Poll.Capacity,
		Categories: cfg.Poll.Categories,
	}, logger)
	application := app.New(bot, svc, cfg.Telegram.ChatID, logger)

	if *register {
		if err := application.RegisterCommands(); err != nil {
			logger.Error("register commands", "error", err)
			os.Exit(1)
		}
		logger.Info("commands registered")
		return
	}

	sched, err := scheduler.New(cfg.Poll.Schedule, loc, application.PostPoll, logger)
	if err != nil {
		logger.Error("create scheduler", "error", err)
		os.Exit(1)
	}
	sched.Start()
	defer sched.Stop()

	var srv *http.Server
	if cfg.Server.Enabled {
		srv = &http.Server{
			Addr:         cfg.Addr(),
			Handler:      handler.New(svc, logger).Router(),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		go func() {
			logger.Info("keep-alive server listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("keep-alive server", "error", err)
			}
		}()
	}

	if *postNow {
		if err := application.PostPoll(ctx); err != nil {
			logger.Error("post poll", "error", err)
		}
	}

	application.Run(ctx)
	logger.Info("shutting down")

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", "error", err)
		}
	}
}

func openStore(ctx context.Context, cfg config.StoreConfig) (service.Store, func(), error) {
	switch cfg.Driver {
	case "postgres":
		pool, err := storage.NewPool(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		store := storage.NewPostgres(pool)
		if err := store.InitSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, pool.Close, nil

	case "memory":
		return storage.NewMemory(), func() {}, nil

	default:
		if dir := filepath.Dir(cfg.Path); dir != "." && dir != "" {
			_ = os.MkdirAll(dir, 0o755)
		}
		db, err := sql.Open("sqlite3", cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)

		store := storage.NewSQLite(db)
		if err := store.InitSchema(); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return store, func() { _ = db.Close() }, nil
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
