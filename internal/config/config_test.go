package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validWorker() WorkerConfig {
	return WorkerConfig{PollInterval: 10 * time.Second, Concurrency: 2, BatchSize: 50, MaxAttempts: 3}
}

func TestValidate_ReportsMissingRequired(t *testing.T) {
	c := Config{Role: RoleAPI}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := Config{
		Role:   RoleAPI,
		App:    AppConfig{Env: "production", Port: 8080},
		DB:     DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "calls", SSLMode: ""},
		Auth:   AuthConfig{JWTSecret: "secret", JWTIssuer: "i", JWTAudience: "a"},
		Worker: validWorker(),
	}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
}

func TestValidate_LocalDefaults(t *testing.T) {
	c := Config{
		Role:   RoleAPI,
		App:    AppConfig{Env: "local", Port: 8080},
		DB:     DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "calls"},
		Auth:   AuthConfig{JWTSecret: "secret"},
		Worker: validWorker(),
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
	if c.Storage.Backend != StorageBackendLocal || c.Storage.LocalDir == "" {
		t.Fatalf("expected local storage default, got %+v", c.Storage)
	}
	if c.Worker.ClaimLease != 10*time.Minute {
		t.Fatalf("expected default claim lease, got %s", c.Worker.ClaimLease)
	}
	if c.RedisEnabled() {
		t.Fatalf("redis should be disabled without REDIS_HOST")
	}
}

func TestValidate_WorkerDoesNotNeedJWT(t *testing.T) {
	c := Config{
		Role:   RoleWorker,
		App:    AppConfig{Env: "dev"},
		DB:     DBConfig{Host: "localhost", Port: 5432, User: "postgres", Name: "calls"},
		Worker: validWorker(),
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidate_GCSWithoutBucketIsNotFatal(t *testing.T) {
	c := Config{
		Role:    RoleWorker,
		App:     AppConfig{Env: "dev"},
		DB:      DBConfig{Host: "localhost", Port: 5432, User: "postgres", Name: "calls"},
		Storage: StorageConfig{Backend: StorageBackendGCS},
		Worker:  validWorker(),
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidate_RejectsUnknownBackend(t *testing.T) {
	c := Config{
		Role:    RoleWorker,
		App:     AppConfig{Env: "dev"},
		DB:      DBConfig{Host: "localhost", Port: 5432, User: "postgres", Name: "calls"},
		Storage: StorageConfig{Backend: "s3"},
		Worker:  validWorker(),
	}
	err := c.Validate()
	if err == nil || !strings.Contains(err.Error(), "STORAGE_BACKEND") {
		t.Fatalf("expected STORAGE_BACKEND error, got %v", err)
	}
}

func TestValidate_ClaimLeaseMustLeaveRoomToFinish(t *testing.T) {
	w := validWorker()
	w.RetrieveTimeout = 30 * time.Second
	w.ClassifyTimeout = 2 * time.Minute
	w.ClaimLease = 2*time.Minute + 35*time.Second
	c := Config{
		Role:   RoleWorker,
		App:    AppConfig{Env: "dev"},
		DB:     DBConfig{Host: "localhost", Port: 5432, User: "postgres", Name: "calls"},
		Worker: w,
	}
	err := c.Validate()
	if err == nil || !strings.Contains(err.Error(), "WORKER_CLAIM_LEASE") {
		t.Fatalf("expected WORKER_CLAIM_LEASE error, got %v", err)
	}

	c.Worker.ClaimLease = 3 * time.Minute
	if err := c.Validate(); err != nil {
		t.Fatalf("expected lease with room to finish to pass, got %v", err)
	}
}

func TestValidate_MailRole(t *testing.T) {
	base := func() Config {
		return Config{
			Role:   RoleMail,
			App:    AppConfig{Env: "dev"},
			DB:     DBConfig{Host: "localhost", Port: 5432, User: "postgres", Name: "calls"},
			Worker: validWorker(),
			Mail:   MailConfig{PollInterval: 30 * time.Second, MaxMessages: 50},
		}
	}

	c := base()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected mail role without JWT or port to validate, got %v", err)
	}
	if c.Mail.User != "me" {
		t.Fatalf("expected default gmail user, got %q", c.Mail.User)
	}

	c = base()
	c.Mail.RefreshToken = "rt"
	err := c.Validate()
	if err == nil || !strings.Contains(err.Error(), "GMAIL_CLIENT_ID") {
		t.Fatalf("expected client credentials error, got %v", err)
	}

	c = base()
	c.Mail.PollInterval = 0
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for zero poll interval")
	}
}

func TestLoad_ReadsEnvFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "test.env")
	body := strings.Join([]string{
		"APP_ENV=dev",
		"DB_HOST=db",
		"DB_PORT=5432",
		"DB_USER=calls",
		"DB_NAME=calls",
		"WORKER_POLL_SECS=3",
		"WORKER_CONCURRENCY=4",
		"STORAGE_BACKEND=gcs",
		"RECORDINGS_BUCKET=rec-bucket",
	}, "\n")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv("ENV_FILE", p)
	for _, k := range []string{"APP_ENV", "DB_HOST", "DB_PORT", "DB_USER", "DB_NAME", "WORKER_POLL_SECS", "WORKER_CONCURRENCY", "STORAGE_BACKEND", "RECORDINGS_BUCKET", "REDIS_HOST"} {
		t.Setenv(k, "")
		_ = os.Unsetenv(k)
	}

	c, err := Load(RoleWorker)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Worker.PollInterval != 3*time.Second {
		t.Fatalf("expected 3s poll interval, got %s", c.Worker.PollInterval)
	}
	if c.Worker.Concurrency != 4 {
		t.Fatalf("expected concurrency 4, got %d", c.Worker.Concurrency)
	}
	if c.Storage.Backend != StorageBackendGCS || c.Storage.Bucket != "rec-bucket" {
		t.Fatalf("unexpected storage config: %+v", c.Storage)
	}
}

func TestLoad_AggregatesParseErrors(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("APP_ENV", "dev")
	t.Setenv("DB_PORT", "nope")
	t.Setenv("WORKER_BATCH_SIZE", "lots")

	_, err := Load(RoleWorker)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "DB_PORT") || !strings.Contains(err.Error(), "WORKER_BATCH_SIZE") {
		t.Fatalf("expected both parse errors, got %v", err)
	}
}
