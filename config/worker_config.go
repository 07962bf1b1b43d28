package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"cleanup_worker/pkg/apperr"
)

// Ledger backends.
const (
	LedgerBadger   = "badger"
	LedgerPostgres = "postgres"
	LedgerMemory   = "memory"
)

// generateWorkerID creates a unique worker ID using hostname and PID
func generateWorkerID() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "cleanup"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

type Config struct {
	Port        string
	Environment string
	WorkerID    string
	LogLevel    string
	LogFormat   string

	// Policy file (persons, thresholds, rules, cap)
	PolicyFile string

	// Ledger
	LedgerBackend string
	LedgerPath    string
	DatabaseURL   string

	// Report archive
	MongoDBURL      string
	MongoDBName     string
	ReportRetention time.Duration

	// Redis: adjudication cache, shared rate limit, audit stream
	RedisURL          string
	AuditStream       string
	AuditStreamMaxLen int64

	// JWT for the HTTP API; empty disables auth
	JWTSecret string

	// OpenAI
	OpenAIAPIKey   string
	OpenAIBaseURL  string
	LLMModel       string
	LLMMaxTokens   int
	LLMTemperature float64
	LLMTimeout     time.Duration
	LLMCacheTTL    time.Duration

	// Google
	GoogleCredentialsFile string
	GoogleTokenFile       string
	TokenEncryptionKey    string
	MediaEnabled          bool
	EmailEnabled          bool
	GmailCategories       []string
	GmailQuery            string
	GmailDeleteMode       string
	DriveDeleteMode       string
	DriveMinSizeBytes     int64

	// Face extraction sidecar
	FaceServiceURL string

	// Decision phase
	DecisionWorkers int
	MaxMediaItems   int
	MaxEmails       int
	DryRun          bool

	// Execution
	ExecConcurrency  int
	ExecMaxAttempts  int
	ExecCallTimeout  time.Duration
	RateLimitRPS     int
	RateLimitBurst   int
	RateLimitShared  bool
	BackoffBase      time.Duration
	BackoffMax       time.Duration
	MaxDeletesPerRun int // overrides the policy file when > 0

	// Scheduler
	SchedulerEnabled  bool
	ScheduleInterval  time.Duration
	ScheduleOnStartup bool

	// CORS
	AllowedOrigins []string
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),
		WorkerID:    getEnv("WORKER_ID", generateWorkerID()),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "json"),

		PolicyFile: getEnv("POLICY_FILE", "policy.yaml"),

		// Ledger
		LedgerBackend: strings.ToLower(getEnv("LEDGER_BACKEND", LedgerBadger)),
		LedgerPath:    getEnv("LEDGER_PATH", "data/ledger"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),

		// Report archive
		MongoDBURL:      getEnv("MONGODB_URL", ""),
		MongoDBName:     getEnv("MONGODB_DATABASE", "cleanup"),
		ReportRetention: getEnvDuration("REPORT_RETENTION", 90*24*time.Hour),

		// Redis
		RedisURL:          getEnv("REDIS_URL", ""),
		AuditStream:       getEnv("AUDIT_STREAM", "cleanup:audit"),
		AuditStreamMaxLen: int64(getEnvInt("AUDIT_STREAM_MAXLEN", 100000)),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", ""),

		// OpenAI
		OpenAIAPIKey:   getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:  getEnv("OPENAI_BASE_URL", ""),
		LLMModel:       getEnv("LLM_MODEL", "gpt-4o-mini"),
		LLMMaxTokens:   getEnvInt("LLM_MAX_TOKENS", 256),
		LLMTemperature: getEnvFloat("LLM_TEMPERATURE", 0),
		LLMTimeout:     getEnvDuration("LLM_TIMEOUT", 20*time.Second),
		LLMCacheTTL:    getEnvDuration("LLM_CACHE_TTL", 7*24*time.Hour),

		// Google
		GoogleCredentialsFile: getEnv("GOOGLE_CREDENTIALS_FILE", "credentials.json"),
		GoogleTokenFile:       getEnv("GOOGLE_TOKEN_FILE", "token.json"),
		TokenEncryptionKey:    getEnv("TOKEN_ENCRYPTION_KEY", ""),
		MediaEnabled:          getEnvBool("MEDIA_ENABLED", true),
		EmailEnabled:          getEnvBool("EMAIL_ENABLED", true),
		GmailCategories:       getEnvSlice("GMAIL_CATEGORIES", []string{"SPAM", "CATEGORY_PROMOTIONS", "CATEGORY_SOCIAL"}),
		GmailQuery:            getEnv("GMAIL_QUERY", ""),
		GmailDeleteMode:       getEnv("GMAIL_DELETE_MODE", "trash"),
		DriveDeleteMode:       getEnv("DRIVE_DELETE_MODE", "trash"),
		DriveMinSizeBytes:     int64(getEnvInt("DRIVE_MIN_SIZE_BYTES", 0)),

		FaceServiceURL: getEnv("FACE_SERVICE_URL", ""),

		// Decision phase
		DecisionWorkers: getEnvInt("DECISION_WORKERS", 8),
		MaxMediaItems:   getEnvInt("MAX_MEDIA_ITEMS", 0),
		MaxEmails:       getEnvInt("MAX_EMAILS", 0),
		DryRun:          getEnvBool("DRY_RUN", false),

		// Execution
		ExecConcurrency:  getEnvInt("EXEC_CONCURRENCY", 4),
		ExecMaxAttempts:  getEnvInt("EXEC_MAX_ATTEMPTS", 5),
		ExecCallTimeout:  getEnvDuration("EXEC_CALL_TIMEOUT", 30*time.Second),
		RateLimitRPS:     getEnvInt("RATE_LIMIT_RPS", 10),
		RateLimitBurst:   getEnvInt("RATE_LIMIT_BURST", 20),
		RateLimitShared:  getEnvBool("RATE_LIMIT_SHARED", false),
		BackoffBase:      getEnvDuration("BACKOFF_BASE", time.Second),
		BackoffMax:       getEnvDuration("BACKOFF_MAX", 30*time.Second),
		MaxDeletesPerRun: getEnvInt("MAX_DELETES_PER_RUN", 0),

		// Scheduler
		SchedulerEnabled:  getEnvBool("SCHEDULER_ENABLED", false),
		ScheduleInterval:  getEnvDuration("SCHEDULE_INTERVAL", 24*time.Hour),
		ScheduleOnStartup: getEnvBool("SCHEDULE_ON_STARTUP", false),

		// CORS
		AllowedOrigins: getEnvSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings that would make a run unsafe or impossible.
func (c *Config) Validate() error {
	switch c.LedgerBackend {
	case LedgerBadger:
		if c.LedgerPath == "" {
			return apperr.ConfigError("LEDGER_PATH is required for the badger ledger")
		}
	case LedgerPostgres:
		if c.DatabaseURL == "" {
			return apperr.ConfigError("DATABASE_URL is required for the postgres ledger")
		}
	case LedgerMemory:
		if c.IsProduction() {
			return apperr.ConfigError("the memory ledger is not durable and cannot be used in production")
		}
	default:
		return apperr.ConfigErrorf("unknown LEDGER_BACKEND %q", c.LedgerBackend)
	}
	if !c.MediaEnabled && !c.EmailEnabled {
		return apperr.ConfigError("at least one of MEDIA_ENABLED and EMAIL_ENABLED must be true")
	}
	if c.DecisionWorkers <= 0 {
		return apperr.ConfigErrorf("DECISION_WORKERS %d must be > 0", c.DecisionWorkers)
	}
	if c.ExecConcurrency <= 0 {
		return apperr.ConfigErrorf("EXEC_CONCURRENCY %d must be > 0", c.ExecConcurrency)
	}
	if c.ExecMaxAttempts < 1 {
		return apperr.ConfigErrorf("EXEC_MAX_ATTEMPTS %d must be >= 1", c.ExecMaxAttempts)
	}
	if c.MaxDeletesPerRun < 0 {
		return apperr.ConfigErrorf("MAX_DELETES_PER_RUN %d must be >= 0", c.MaxDeletesPerRun)
	}
	if c.RateLimitShared && c.RedisURL == "" {
		return apperr.ConfigError("RATE_LIMIT_SHARED requires REDIS_URL")
	}
	if c.SchedulerEnabled && c.ScheduleInterval <= 0 {
		return apperr.ConfigError("SCHEDULE_INTERVAL must be > 0 when the scheduler is enabled")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := parts[:0]
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
