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

	"callsense/internal/calls"
	"callsense/internal/config"
	"callsense/internal/metrics"
	"callsense/internal/queue"
	"callsense/internal/storage"
	"callsense/internal/transcribe"
	"callsense/internal/worker"
	"callsense/pkg/logger"
	"callsense/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(config.RoleWorker)
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env, "callsense-worker")
	slog.SetDefault(log)

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{MaxOpenConns: cfg.Worker.Concurrency + 4})
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

	analyzer, err := newAnalyzer(cfg.Analyzer, log)
	if err != nil {
		log.Error("analyzer init failed", "err", err)
		os.Exit(1)
	}

	m := metrics.NewPipeline(prometheus.DefaultRegisterer, metrics.Config{ServiceName: "callsense-worker", Environment: cfg.App.Env})

	opts := worker.Options{
		BatchSize:       cfg.Worker.BatchSize,
		Concurrency:     cfg.Worker.Concurrency,
		MaxAttempts:     cfg.Worker.MaxAttempts,
		RetryBackoff:    cfg.Worker.RetryBackoff,
		ClaimLease:      cfg.Worker.ClaimLease,
		RetrieveTimeout: cfg.Worker.RetrieveTimeout,
		ClassifyTimeout: cfg.Worker.ClassifyTimeout,
		PollInterval:    cfg.Worker.PollInterval,
		Metrics:         m,
		Logger:          log,
	}
	if cfg.RedisEnabled() {
		rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
		opts.Queue = queue.NewRedisQueue(rdb, queue.DefaultKey)
		if cfg.Worker.InflightLimit > 0 {
			opts.Limiter = worker.NewRedisLimiter(rdb, worker.DefaultInflightKey, cfg.Worker.InflightLimit, cfg.Worker.ClaimLease)
		}
	}

	w := worker.New(calls.NewPostgresStore(db), blobs, analyzer, opts)

	var srv *http.Server
	if addr := cfg.MetricsAddr(); addr != "" {
		if cfg.IsProduction() {
			gin.SetMode(gin.ReleaseMode)
		}
		r := gin.New()
		r.Use(gin.Recovery())
		r.GET("/healthz", func(c *gin.Context) {
			if err := utils.HealthCheck(c.Request.Context(), db, 2*time.Second); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
		srv = &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			log.Info("worker metrics listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", "err", err)
			}
		}()
	}

	if err := w.Run(rootCtx); err != nil {
		log.Error("worker exited", "err", err)
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
}

func newAnalyzer(cfg config.AnalyzerConfig, log *slog.Logger) (transcribe.Analyzer, error) {
	if cfg.OpenAIAPIKey == "" {
		log.Warn("OPENAI_API_KEY not set; using placeholder analyzer")
		return transcribe.Placeholder{}, nil
	}
	return transcribe.NewOpenAI(transcribe.OpenAIOptions{
		APIKey:          cfg.OpenAIAPIKey,
		BaseURL:         cfg.OpenAIBaseURL,
		TranscribeModel: cfg.TranscribeModel,
		ChatModel:       cfg.ChatModel,
		Logger:          log,
	})
}
