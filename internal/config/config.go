package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	RevocationMemory   = "memory"
	RevocationPostgres = "postgres"
)

type Config struct {
	ServerPort              string
	ServerReadHeaderTimeout time.Duration
	ServerWriteTimeout      time.Duration
	ServerIdleTimeout       time.Duration
	RequestTimeout          time.Duration
	ShutdownTimeout         time.Duration

	DatabaseURL      string
	DBMaxConns       int32
	DBMinConns       int32
	DBConnectTimeout time.Duration
	DBMigrateOnStart bool

	JWTSecret          string
	JWTAccessTTL       time.Duration
	JWTRefreshTTL      time.Duration
	JWTEmbedProfile    bool
	BcryptCost         int
	LoginRequireActive bool

	RevocationBackend         string
	RevocationCleanupInterval time.Duration

	CORSOrigins []string
	LogLevel    slog.Level
	LogNoColor  bool
}

func Load() (*Config, error) {
	return load(true)
}

// LoadOffline loads the configuration for tools that only decode tokens and
// never open a database connection.
func LoadOffline() (*Config, error) {
	return load(false)
}

func load(requireDatabase bool) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ServerPort:              getEnv("SERVER_PORT", "8080"),
		ServerReadHeaderTimeout: getDuration("SERVER_READ_HEADER_TIMEOUT", 10*time.Second),
		ServerWriteTimeout:      getDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
		ServerIdleTimeout:       getDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		RequestTimeout:          getDuration("REQUEST_TIMEOUT", 30*time.Second),
		ShutdownTimeout:         getDuration("SHUTDOWN_TIMEOUT", 10*time.Second),

		DatabaseURL:      strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DBMaxConns:       int32(getInt("DB_MAX_CONNS", 10)),
		DBMinConns:       int32(getInt("DB_MIN_CONNS", 1)),
		DBConnectTimeout: getDuration("DB_CONNECT_TIMEOUT", 10*time.Second),
		DBMigrateOnStart: getBool("DB_MIGRATE_ON_START", true),

		JWTSecret:          strings.TrimSpace(os.Getenv("JWT_SECRET")),
		JWTAccessTTL:       getDuration("JWT_ACCESS_TTL", 15*time.Minute),
		JWTRefreshTTL:      getDuration("JWT_REFRESH_TTL", 168*time.Hour),
		JWTEmbedProfile:    getBool("JWT_EMBED_PROFILE", false),
		BcryptCost:         getInt("BCRYPT_COST", 12),
		LoginRequireActive: getBool("LOGIN_REQUIRE_ACTIVE", false),

		RevocationBackend:         strings.ToLower(getEnv("REVOCATION_BACKEND", RevocationMemory)),
		RevocationCleanupInterval: getDuration("REVOCATION_CLEANUP_INTERVAL", 10*time.Minute),

		CORSOrigins: splitCSV(getEnv("CORS_ORIGINS", "*")),
		LogLevel:    getLevel("LOG_LEVEL", slog.LevelInfo),
		LogNoColor:  getBool("LOG_NO_COLOR", false),
	}

	validate := cfg.Validate
	if !requireDatabase {
		cfg.DatabaseURL = ""
		validate = cfg.validateAuth
	}

	if err := validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if err := c.validateAuth(); err != nil {
		return err
	}

	if c.ServerPort == "" {
		return fmt.Errorf("SERVER_PORT cannot be empty")
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}

	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS cannot exceed DB_MAX_CONNS")
	}

	switch c.RevocationBackend {
	case RevocationMemory, RevocationPostgres:
	default:
		return fmt.Errorf("REVOCATION_BACKEND must be %q or %q", RevocationMemory, RevocationPostgres)
	}

	return nil
}

func (c *Config) validateAuth() error {
	if strings.TrimSpace(c.JWTSecret) == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if c.JWTAccessTTL <= 0 || c.JWTRefreshTTL <= 0 {
		return fmt.Errorf("JWT_ACCESS_TTL and JWT_REFRESH_TTL must be positive")
	}

	if c.JWTAccessTTL >= c.JWTRefreshTTL {
		return fmt.Errorf("JWT_ACCESS_TTL must be shorter than JWT_REFRESH_TTL")
	}

	return nil
}

func getEnv(key string, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}

	return v
}

func getInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}

	return v
}

func getBool(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}

	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return v
}

func getLevel(key string, fallback slog.Level) slog.Level {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return fallback
	}

	return level
}

func splitCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}

	return out
}
