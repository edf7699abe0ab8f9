package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	AWS      AWSConfig
	Session  SessionConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all (e.g. http://localhost:3000,http://localhost:3001)
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/classroom?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings. Empty Addr disables the job queue and event mirror.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds the secret used to verify connection and API tokens.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// AWSConfig holds AWS credentials and the bucket for poll result exports.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	ExportsBucket        string // empty disables poll export
	PresignExpireMinutes int
}

// SessionConfig holds live classroom session tuning.
type SessionConfig struct {
	PollMinDuration        int // seconds
	PollMaxDuration        int // seconds
	PollDefaultDuration    int // seconds, used when create_poll omits duration
	QueueGraceDelay        time.Duration
	ChatMaxLength          int
	ChatHistoryLimit       int
	ChatRetain             int // messages kept in memory for history/edit lookups
	RosterIncludeEphemeral bool
	StoreTimeout           time.Duration
	EventsChannel          string
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load() // .env

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			URL:      os.Getenv("DATABASE_URL"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "classroom"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			ExportsBucket:        getEnv("AWS_S3_EXPORTS_BUCKET", ""),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
		Session: SessionConfig{
			PollMinDuration:        getEnvInt("POLL_MIN_DURATION_SEC", 5),
			PollMaxDuration:        getEnvInt("POLL_MAX_DURATION_SEC", 300),
			PollDefaultDuration:    getEnvInt("POLL_DEFAULT_DURATION_SEC", 15),
			QueueGraceDelay:        time.Duration(getEnvInt("POLL_GRACE_DELAY_MS", 1000)) * time.Millisecond,
			ChatMaxLength:          getEnvInt("CHAT_MAX_LENGTH", 1000),
			ChatHistoryLimit:       getEnvInt("CHAT_HISTORY_LIMIT", 50),
			ChatRetain:             getEnvInt("CHAT_RETAIN", 1000),
			RosterIncludeEphemeral: getEnvBool("ROSTER_INCLUDE_EPHEMERAL", false),
			StoreTimeout:           time.Duration(getEnvInt("STORE_TIMEOUT_SEC", 5)) * time.Second,
			EventsChannel:          getEnv("EVENTS_CHANNEL", "classroom:events"),
		},
	}
	if err := cfg.Session.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (s SessionConfig) validate() error {
	if s.PollMinDuration <= 0 || s.PollMaxDuration < s.PollMinDuration {
		return fmt.Errorf("invalid poll duration bounds [%d,%d]", s.PollMinDuration, s.PollMaxDuration)
	}
	if s.PollDefaultDuration < s.PollMinDuration || s.PollDefaultDuration > s.PollMaxDuration {
		return fmt.Errorf("default poll duration %d outside [%d,%d]", s.PollDefaultDuration, s.PollMinDuration, s.PollMaxDuration)
	}
	if s.QueueGraceDelay < 0 {
		return fmt.Errorf("negative poll grace delay")
	}
	if s.ChatMaxLength <= 0 || s.ChatHistoryLimit <= 0 || s.ChatRetain <= 0 {
		return fmt.Errorf("chat limits must be positive")
	}
	return nil
}

// SplitOrigins returns the configured CORS origins, trimmed.
func (c ServerConfig) SplitOrigins() []string {
	return splitTrim(c.CORSAllowedOrigins, ",")
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func splitTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, sep) {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
