package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"callsense/internal/calls"
	"callsense/internal/config"
	"callsense/internal/ingest"
	"callsense/internal/mailingest"
	"callsense/internal/queue"
	"callsense/internal/storage"
	"callsense/pkg/logger"
	"callsense/pkg/utils"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(config.RoleMail)
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env, "callsense-mailingest")
	slog.SetDefault(log)

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{MaxOpenConns: 4})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	blobs, closeBlobs, err := storage.Open(rootCtx, cfg.Storage, log)
	if err != nil {
		log.Error("storage init failed", "err", err)
		os.Exit(1)
	}
	defer closeBlobs()

	var notifier ingest.Notifier
	if cfg.RedisEnabled() {
		rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
		notifier = queue.NewRedisQueue(rdb, queue.DefaultKey)
	}

	// Mail attachments arrive with their audio, so no fetcher is configured.
	ingestSvc := ingest.NewService(calls.NewPostgresStore(db), blobs, nil, ingest.Options{
		DefaultCompanyID: cfg.Ingest.DefaultCompanyID,
		Notifier:         notifier,
		Logger:           log,
	})

	gsvc, err := mailingest.NewGmailService(rootCtx, mailingest.Credentials{
		ClientID:     cfg.Mail.ClientID,
		ClientSecret: cfg.Mail.ClientSecret,
		RefreshToken: cfg.Mail.RefreshToken,
		Endpoint:     cfg.Mail.Endpoint,
	})
	if err != nil {
		log.Error("gmail init failed", "err", err)
		os.Exit(1)
	}

	p := mailingest.NewPoller(gsvc, ingestSvc, mailingest.Options{
		User:        cfg.Mail.User,
		Query:       cfg.Mail.Query,
		MaxMessages: int64(cfg.Mail.MaxMessages),
		CompanyID:   cfg.Ingest.DefaultCompanyID,
		Logger:      log,
	})
	if err := p.Run(rootCtx, cfg.Mail.PollInterval); err != nil {
		log.Error("mail ingest exited", "err", err)
		os.Exit(1)
	}
}
