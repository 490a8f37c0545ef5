package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App         AppConfig
	Logger      LoggerConfig
	Call        CallConfig
	Postgres    PostgresConfig
	Redis       RedisConfig
	OpenProject OpenProjectConfig
	CardDAV     CardDAVConfig
	Directory   DirectoryConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// CallConfig tunes the call-event engine.
type CallConfig struct {
	// Backend selects the ticket backend implementation: postgres|openproject.
	Backend string
	// DefaultProjectID is where tickets for unknown numbers are created.
	DefaultProjectID string
	// DefaultDurationMinutes is the fallback used when a call's start
	// timestamp cannot be parsed on hangup.
	DefaultDurationMinutes int
	// UnknownTitlePrefix prefixes the caller number when no name, company or
	// number is usable as a title.
	UnknownTitlePrefix string
	// Sync processes events inside the webhook request instead of the worker.
	Sync bool
	// QueueSize bounds the worker queue.
	QueueSize int
	// DedupTTLSeconds is how long a delivered (event, callid) pair is
	// remembered for webhook retry suppression.
	DedupTTLSeconds int
	// NotifyWebhookURL, when set, receives lifecycle event notifications.
	NotifyWebhookURL string
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// OpenProjectConfig holds the REST ticket backend settings.
type OpenProjectConfig struct {
	BaseURL  string
	APIKey   string
	TypeCall string
	// TrackingField is the work-package custom field carrying the
	// comma-separated call-id set.
	TrackingField string
	// CallStartField and CallEndField are the custom fields holding the
	// first-call start and last hangup timestamps.
	CallStartField string
	CallEndField   string
	// Status hrefs as the API expects them.
	StatusNew        string
	StatusInProgress string
	StatusClosed     string
	TimeoutSeconds   int
}

// CardDAVConfig holds the contact directory settings.
type CardDAVConfig struct {
	BaseURL  string
	Username string
	Password string
	// ProjectCategoryPrefix marks vCard categories that carry routing
	// project ids, e.g. "project:".
	ProjectCategoryPrefix string
	// MinSuffixDigits is the shortest digit suffix accepted as a number match.
	MinSuffixDigits int
	TimeoutSeconds  int
}

// DirectoryConfig selects the directory implementation: carddav|static|none.
type DirectoryConfig struct {
	Kind string
	// StaticPath points at a JSON contact map for the static directory.
	StaticPath string
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "callbridge"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Call: CallConfig{
			Backend:                getEnv("CALL_BACKEND", "postgres"),
			DefaultProjectID:       getEnv("CALL_DEFAULT_PROJECT", "support"),
			DefaultDurationMinutes: getEnvAsInt("CALL_DEFAULT_DURATION_MIN", 15),
			UnknownTitlePrefix:     getEnv("CALL_UNKNOWN_TITLE_PREFIX", "Eingehender Anruf von"),
			Sync:                   getEnvAsBool("CALL_SYNC", false),
			QueueSize:              getEnvAsInt("CALL_QUEUE_SIZE", 256),
			DedupTTLSeconds:        getEnvAsInt("CALL_DEDUP_TTL_SECONDS", 300),
			NotifyWebhookURL:       getEnv("CALL_NOTIFY_WEBHOOK_URL", ""),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		OpenProject: OpenProjectConfig{
			BaseURL:          getEnv("OPENPROJECT_BASE_URL", ""),
			APIKey:           os.Getenv("OPENPROJECT_API_KEY"),
			TypeCall:         getEnv("OPENPROJECT_TYPE_CALL", "/api/v3/types/1"),
			TrackingField:    getEnv("OPENPROJECT_CALLID_FIELD", "customField1"),
			CallStartField:   getEnv("OPENPROJECT_CALLSTART_FIELD", "customField2"),
			CallEndField:     getEnv("OPENPROJECT_CALLEND_FIELD", "customField3"),
			StatusNew:        getEnv("OPENPROJECT_STATUS_NEW", "/api/v3/statuses/1"),
			StatusInProgress: getEnv("OPENPROJECT_STATUS_IN_PROGRESS", "/api/v3/statuses/7"),
			StatusClosed:     getEnv("OPENPROJECT_STATUS_CLOSED", "/api/v3/statuses/13"),
			TimeoutSeconds:   getEnvAsInt("OPENPROJECT_TIMEOUT_SECONDS", 10),
		},
		CardDAV: CardDAVConfig{
			BaseURL:               getEnv("CARDDAV_BASE_URL", ""),
			Username:              os.Getenv("CARDDAV_USERNAME"),
			Password:              os.Getenv("CARDDAV_PASSWORD"),
			ProjectCategoryPrefix: getEnv("CARDDAV_PROJECT_CATEGORY_PREFIX", "project:"),
			MinSuffixDigits:       getEnvAsInt("CARDDAV_MIN_SUFFIX_DIGITS", 6),
			TimeoutSeconds:        getEnvAsInt("CARDDAV_TIMEOUT_SECONDS", 10),
		},
		Directory: DirectoryConfig{
			Kind:       getEnv("CALL_DIRECTORY", "none"),
			StaticPath: getEnv("CALL_DIRECTORY_STATIC_PATH", ""),
		},
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// DedupTTL returns the webhook dedup window.
func (c CallConfig) DedupTTL() time.Duration {
	if c.DedupTTLSeconds <= 0 {
		return 0
	}
	return time.Duration(c.DedupTTLSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
