package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"callsense/internal/audit"
	"callsense/internal/auth"
	"callsense/internal/calls"
	"callsense/internal/config"
	"callsense/internal/httpapi"
	"callsense/internal/ingest"
	"callsense/internal/metrics"
	"callsense/internal/migration"
	"callsense/internal/queue"
	"callsense/internal/reporting"
	"callsense/internal/storage"
	"callsense/internal/telephony"
	"callsense/pkg/logger"
	"callsense/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(config.RoleAPI)
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env, "callsense-api")
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	if cfg.DB.AutoMigrate {
		if err := migration.Run(db); err != nil {
			log.Error("migrations failed", "err", err)
			os.Exit(1)
		}
		log.Info("migrations applied")
	}

	blobs, closeBlobs, err := storage.Open(rootCtx, cfg.Storage, log)
	if err != nil {
		log.Error("storage init failed", "err", err)
		os.Exit(1)
	}
	defer closeBlobs()

	// Redis is optional: without it the worker relies on polling alone.
	var notifier ingest.Notifier
	var queueNotifier httpapi.Notifier
	if cfg.RedisEnabled() {
		rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
		q := queue.NewRedisQueue(rdb, queue.DefaultKey)
		notifier, queueNotifier = q, q
	}

	m := metrics.NewPipeline(prometheus.DefaultRegisterer, metrics.Config{ServiceName: "callsense-api", Environment: cfg.App.Env})

	store := calls.NewPostgresStore(db)
	fetcher := telephony.NewTwilioProvider(telephony.TwilioOptions{
		AccountSID: cfg.Twilio.AccountSID,
		AuthToken:  cfg.Twilio.AuthToken,
		MaxBytes:   cfg.Ingest.FetchMaxBytes,
	})
	ingestSvc := ingest.NewService(store, blobs, fetcher, ingest.Options{
		FetchTimeout:     cfg.Ingest.FetchTimeout,
		DefaultCompanyID: cfg.Ingest.DefaultCompanyID,
		Notifier:         notifier,
		Metrics:          m,
		Logger:           log,
	})

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		authMW: auth.RequireAccessToken(authManager),
		webhooks: telephony.TwilioWebhookHandler{
			Ingest:               ingestSvc,
			Greeting:             cfg.Twilio.VoiceGreeting,
			RecordingCallbackURL: cfg.Twilio.RecordingCallbackURL,
		},
		api: httpapi.Handlers{
			Calls:    store,
			Audit:    audit.NewService(audit.NewPostgresRepo(db)),
			Notifier: queueNotifier,
			Reports:  reporting.NewService(reporting.StoreRepo{Store: store}),
			Ready: func(ctx context.Context) error {
				return utils.HealthCheck(ctx, db, 2*time.Second)
			},
		},
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Recording callbacks block on the download and the durable insert.
		WriteTimeout: cfg.Ingest.FetchTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "storage", cfg.Storage.Backend, "queue", cfg.RedisEnabled())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}
