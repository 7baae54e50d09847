package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Role selects which process is loading configuration. Validation differs per role.
type Role string

const (
	RoleAPI    Role = "api"
	RoleWorker Role = "worker"
	RoleMail   Role = "mailingest"
)

// Config holds all configuration required by the api and worker processes.
// All values must come from env (or an env-file loaded by godotenv).
// No business logic should depend on raw environment variables.
type Config struct {
	Role Role

	App      AppConfig
	DB       DBConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Twilio   TwilioConfig
	Storage  StorageConfig
	Ingest   IngestConfig
	Worker   WorkerConfig
	Analyzer AnalyzerConfig
	Mail     MailConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string

	// AutoMigrate applies embedded migrations on api startup.
	AutoMigrate bool
}

// RedisConfig is optional. An empty host disables the wake-up queue and the inflight cap.
type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret      string
	JWTIssuer      string
	JWTAudience    string
	AccessTokenTTL time.Duration
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string

	// RecordingCallbackURL is the absolute URL given to <Record recordingStatusCallback>.
	// Derived from the request host when empty.
	RecordingCallbackURL string
	VoiceGreeting        string
}

const (
	StorageBackendLocal = "local"
	StorageBackendGCS   = "gcs"
)

type StorageConfig struct {
	Backend     string
	LocalDir    string
	Bucket      string
	KMSKeyName  string
	GCSEndpoint string
}

type IngestConfig struct {
	FetchTimeout     time.Duration
	FetchMaxBytes    int64
	DefaultCompanyID string
}

type WorkerConfig struct {
	PollInterval    time.Duration
	Concurrency     int
	BatchSize       int
	MaxAttempts     int
	RetryBackoff    time.Duration
	ClaimLease      time.Duration
	InflightLimit   int
	RetrieveTimeout time.Duration
	ClassifyTimeout time.Duration
	MetricsPort     int
}

type AnalyzerConfig struct {
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	TranscribeModel string
	ChatModel       string
}

// MailConfig drives the Gmail voicemail poller. A refresh token needs the OAuth
// client id and secret; without one, application default credentials are used.
type MailConfig struct {
	User         string
	Query        string
	PollInterval time.Duration
	MaxMessages  int
	ClientID     string
	ClientSecret string
	RefreshToken string
	Endpoint     string
}

// Load reads the environment for the given role. A .env file is loaded first when present;
// ENV_FILE overrides its path. Variables already set in the environment win.
// Parse failures are collected so one run reports every bad variable.
func Load(role Role) (Config, error) {
	envFile := strings.TrimSpace(os.Getenv("ENV_FILE"))
	if envFile == "" {
		envFile = ".env"
	}
	_ = godotenv.Load(envFile)

	var env envReader
	c := Config{Role: role}

	c.App.Env = env.str("APP_ENV")
	if role == RoleAPI {
		c.App.Port = env.requiredInt("APP_PORT")
	}

	c.DB = DBConfig{
		Host:        env.str("DB_HOST"),
		Port:        env.requiredInt("DB_PORT"),
		User:        env.str("DB_USER"),
		Password:    env.raw("DB_PASSWORD"),
		Name:        env.str("DB_NAME"),
		SSLMode:     env.str("DB_SSLMODE"),
		AutoMigrate: env.boolean("DB_AUTO_MIGRATE", true),
	}

	if c.Redis.Host = env.str("REDIS_HOST"); c.Redis.Host != "" {
		c.Redis.Port = env.integer("REDIS_PORT", 6379)
	}

	// Zero durations are replaced with role-specific defaults by Validate.
	c.Auth = AuthConfig{
		JWTSecret:      env.raw("JWT_SECRET"),
		JWTIssuer:      env.str("JWT_ISSUER"),
		JWTAudience:    env.str("JWT_AUDIENCE"),
		AccessTokenTTL: env.duration("JWT_ACCESS_TTL"),
	}

	c.Twilio = TwilioConfig{
		AccountSID:           env.str("TWILIO_ACCOUNT_SID"),
		AuthToken:            env.raw("TWILIO_AUTH_TOKEN"),
		RecordingCallbackURL: env.str("RECORDING_CALLBACK_URL"),
		VoiceGreeting:        env.str("VOICE_GREETING"),
	}

	c.Storage = StorageConfig{
		Backend:     strings.ToLower(env.str("STORAGE_BACKEND")),
		LocalDir:    env.str("RECORDINGS_DIR"),
		Bucket:      env.str("RECORDINGS_BUCKET"),
		KMSKeyName:  env.str("RECORDINGS_KMS_KEY"),
		GCSEndpoint: env.str("STORAGE_GCS_ENDPOINT"),
	}

	c.Ingest = IngestConfig{
		FetchTimeout:     env.duration("FETCH_TIMEOUT"),
		FetchMaxBytes:    int64(env.integer("FETCH_MAX_BYTES", 0)),
		DefaultCompanyID: env.str("DEFAULT_COMPANY_ID"),
	}

	c.Worker = WorkerConfig{
		PollInterval:    time.Duration(env.integer("WORKER_POLL_SECS", 10)) * time.Second,
		Concurrency:     env.integer("WORKER_CONCURRENCY", 2),
		BatchSize:       env.integer("WORKER_BATCH_SIZE", 50),
		MaxAttempts:     env.integer("WORKER_MAX_ATTEMPTS", 3),
		InflightLimit:   env.integer("WORKER_INFLIGHT_LIMIT", 0),
		MetricsPort:     env.integer("WORKER_METRICS_PORT", 0),
		RetryBackoff:    env.duration("WORKER_RETRY_BACKOFF"),
		ClaimLease:      env.duration("WORKER_CLAIM_LEASE"),
		RetrieveTimeout: env.duration("RETRIEVE_TIMEOUT"),
		ClassifyTimeout: env.duration("CLASSIFY_TIMEOUT"),
	}

	if role == RoleMail {
		c.Mail = MailConfig{
			User:         env.str("GMAIL_USER"),
			Query:        env.str("GMAIL_QUERY"),
			PollInterval: time.Duration(env.integer("GMAIL_POLL_SECS", 30)) * time.Second,
			MaxMessages:  env.integer("GMAIL_MAX_MESSAGES", 50),
			ClientID:     env.str("GMAIL_CLIENT_ID"),
			ClientSecret: env.raw("GMAIL_CLIENT_SECRET"),
			RefreshToken: env.raw("GMAIL_REFRESH_TOKEN"),
			Endpoint:     env.str("GMAIL_ENDPOINT"),
		}
	}

	c.Analyzer = AnalyzerConfig{
		OpenAIAPIKey:    env.raw("OPENAI_API_KEY"),
		OpenAIBaseURL:   env.str("OPENAI_BASE_URL"),
		TranscribeModel: env.str("OPENAI_TRANSCRIBE_MODEL"),
		ChatModel:       env.str("OPENAI_CHAT_MODEL"),
	}

	if err := joinErrors(env.errs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks required values and fills defaults in place.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.Role == RoleAPI && !validPort(c.App.Port) {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	for _, req := range []struct{ key, val string }{
		{"DB_HOST", c.DB.Host}, {"DB_USER", c.DB.User}, {"DB_NAME", c.DB.Name},
	} {
		if req.val == "" {
			errs = append(errs, fmt.Errorf("%s is required", req.key))
		}
	}
	if !validPort(c.DB.Port) {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	switch {
	case c.DB.SSLMode == "" && c.IsProduction():
		errs = append(errs, errors.New("DB_SSLMODE is required in production"))
	case c.DB.SSLMode == "":
		c.DB.SSLMode = "disable"
	case !isValidSSLMode(c.DB.SSLMode):
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.Redis.Host != "" && !validPort(c.Redis.Port) {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Role == RoleAPI {
		if c.Auth.JWTSecret == "" {
			errs = append(errs, errors.New("JWT_SECRET is required"))
		}
		if c.IsProduction() {
			if c.Auth.JWTIssuer == "" {
				errs = append(errs, errors.New("JWT_ISSUER is required in production"))
			}
			if c.Auth.JWTAudience == "" {
				errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
			}
		}
		if c.Auth.AccessTokenTTL <= 0 {
			c.Auth.AccessTokenTTL = 15 * time.Minute
		}
	}

	if c.Twilio.VoiceGreeting == "" {
		c.Twilio.VoiceGreeting = "Thanks for calling. Please leave a message after the beep."
	}
	if c.Twilio.AuthToken != "" && c.Twilio.AccountSID == "" {
		errs = append(errs, errors.New("TWILIO_ACCOUNT_SID is required when TWILIO_AUTH_TOKEN is set"))
	}

	if c.Storage.Backend == "" {
		c.Storage.Backend = StorageBackendLocal
	}
	switch c.Storage.Backend {
	case StorageBackendLocal:
		if c.Storage.LocalDir == "" {
			c.Storage.LocalDir = "./data/recordings"
		}
	case StorageBackendGCS:
		// An unset bucket is reported per operation as a storage configuration error,
		// not at startup.
	default:
		errs = append(errs, fmt.Errorf("STORAGE_BACKEND must be one of local, gcs, got %q", c.Storage.Backend))
	}

	if c.Ingest.FetchTimeout <= 0 {
		c.Ingest.FetchTimeout = 30 * time.Second
	}
	if c.Ingest.FetchMaxBytes <= 0 {
		c.Ingest.FetchMaxBytes = 100 << 20
	}
	if c.Ingest.DefaultCompanyID == "" {
		c.Ingest.DefaultCompanyID = "default"
	}

	if c.Worker.PollInterval <= 0 {
		errs = append(errs, errors.New("WORKER_POLL_SECS must be > 0"))
	}
	if c.Worker.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("WORKER_CONCURRENCY must be > 0, got %d", c.Worker.Concurrency))
	}
	if c.Worker.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("WORKER_BATCH_SIZE must be > 0, got %d", c.Worker.BatchSize))
	}
	if c.Worker.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("WORKER_MAX_ATTEMPTS must be > 0, got %d", c.Worker.MaxAttempts))
	}
	if c.Worker.InflightLimit < 0 {
		errs = append(errs, fmt.Errorf("WORKER_INFLIGHT_LIMIT must be >= 0, got %d", c.Worker.InflightLimit))
	}
	if c.Worker.MetricsPort != 0 && !validPort(c.Worker.MetricsPort) {
		errs = append(errs, fmt.Errorf("WORKER_METRICS_PORT must be a valid port, got %d", c.Worker.MetricsPort))
	}
	if c.Worker.RetryBackoff <= 0 {
		c.Worker.RetryBackoff = 500 * time.Millisecond
	}
	if c.Worker.ClaimLease <= 0 {
		c.Worker.ClaimLease = 10 * time.Minute
	}
	if c.Worker.RetrieveTimeout <= 0 {
		c.Worker.RetrieveTimeout = 30 * time.Second
	}
	if c.Worker.ClassifyTimeout <= 0 {
		c.Worker.ClassifyTimeout = 2 * time.Minute
	}
	// The worker stops retrying before the lease ends and keeps up to 10s to write
	// the result; one attempt of each stage must still fit.
	if c.Worker.ClaimLease <= c.Worker.RetrieveTimeout+c.Worker.ClassifyTimeout+10*time.Second {
		errs = append(errs, errors.New("WORKER_CLAIM_LEASE must exceed RETRIEVE_TIMEOUT + CLASSIFY_TIMEOUT + 10s"))
	}

	if c.Role == RoleMail {
		if c.Mail.User == "" {
			c.Mail.User = "me"
		}
		if c.Mail.PollInterval <= 0 {
			errs = append(errs, errors.New("GMAIL_POLL_SECS must be > 0"))
		}
		if c.Mail.MaxMessages <= 0 || c.Mail.MaxMessages > 500 {
			errs = append(errs, fmt.Errorf("GMAIL_MAX_MESSAGES must be in 1..500, got %d", c.Mail.MaxMessages))
		}
		if c.Mail.RefreshToken != "" && (c.Mail.ClientID == "" || c.Mail.ClientSecret == "") {
			errs = append(errs, errors.New("GMAIL_CLIENT_ID and GMAIL_CLIENT_SECRET are required with GMAIL_REFRESH_TOKEN"))
		}
	}

	if c.Analyzer.OpenAIBaseURL == "" {
		c.Analyzer.OpenAIBaseURL = "https://api.openai.com/v1"
	}
	if c.Analyzer.TranscribeModel == "" {
		c.Analyzer.TranscribeModel = "whisper-1"
	}
	if c.Analyzer.ChatModel == "" {
		c.Analyzer.ChatModel = "gpt-4o-mini"
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

// MetricsAddr is the worker's health/metrics listener. Empty when disabled.
func (c Config) MetricsAddr() string {
	if c.Worker.MetricsPort == 0 {
		return ""
	}
	return fmt.Sprintf(":%d", c.Worker.MetricsPort)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisEnabled() bool {
	return c.Redis.Host != ""
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// envReader reads typed variables and remembers every parse failure.
type envReader struct {
	errs []error
}

// raw returns the value untrimmed. Used for secrets.
func (r *envReader) raw(key string) string { return os.Getenv(key) }

func (r *envReader) str(key string) string { return strings.TrimSpace(os.Getenv(key)) }

func (r *envReader) requiredInt(key string) int {
	if r.str(key) == "" {
		r.errs = append(r.errs, fmt.Errorf("%s is required", key))
		return 0
	}
	return r.integer(key, 0)
}

func (r *envReader) integer(key string, def int) int {
	v := r.str(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s must be an integer, got %q", key, v))
		return def
	}
	return n
}

func (r *envReader) boolean(key string, def bool) bool {
	v := r.str(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s must be a boolean, got %q", key, v))
		return def
	}
	return b
}

// duration returns 0 when unset so Validate can apply its default.
func (r *envReader) duration(key string) time.Duration {
	v := r.str(key)
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s must be a duration like 30s, got %q", key, v))
		return 0
	}
	return d
}

func validPort(n int) bool { return n > 0 && n <= 65535 }

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

// joinErrors renders one error per line under a common header.
func joinErrors(errs []error) error {
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	}
	lines := make([]string, 0, len(errs)+1)
	lines = append(lines, fmt.Sprintf("config: %d problems", len(errs)))
	for _, e := range errs {
		lines = append(lines, "  "+e.Error())
	}
	return errors.New(strings.Join(lines, "\n"))
}
