package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds runtime configuration for the API service.
type Config struct {
	Env  string
	Addr string

	PostgresDSN string
	RedisAddr   string

	// AuthSecret signs access and refresh tokens. It has no fallback:
	// a randomly generated secret would invalidate every outstanding token
	// on restart and diverge between instances.
	AuthSecret string
	Issuer     string

	AccessTTL  time.Duration
	RefreshTTL time.Duration

	LoginRateLimit  int
	LoginRateWindow time.Duration
	APIRateLimit    int
	APIRateWindow   time.Duration
}

// Load reads configuration from the environment. In development a .env file
// is merged in first if present. A missing auth secret is a fatal error.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Env:             getenv("CLAIMTRAIL_ENV", "development"),
		Addr:            getenv("CLAIMTRAIL_ADDR", ":8080"),
		PostgresDSN:     os.Getenv("CLAIMTRAIL_PG_DSN"),
		RedisAddr:       os.Getenv("CLAIMTRAIL_REDIS_ADDR"),
		AuthSecret:      strings.TrimSpace(os.Getenv("CLAIMTRAIL_AUTH_SECRET")),
		Issuer:          getenv("CLAIMTRAIL_ISSUER", "claimtrail"),
		AccessTTL:       getduration("CLAIMTRAIL_ACCESS_TTL", 15*time.Minute),
		RefreshTTL:      getduration("CLAIMTRAIL_REFRESH_TTL", 7*24*time.Hour),
		LoginRateLimit:  getint("CLAIMTRAIL_LOGIN_RATE_LIMIT", 10),
		LoginRateWindow: getduration("CLAIMTRAIL_LOGIN_RATE_WINDOW", time.Minute),
		APIRateLimit:    getint("CLAIMTRAIL_API_RATE_LIMIT", 120),
		APIRateWindow:   getduration("CLAIMTRAIL_API_RATE_WINDOW", time.Minute),
	}

	if cfg.AuthSecret == "" {
		return Config{}, fmt.Errorf("CLAIMTRAIL_AUTH_SECRET is required")
	}
	if len(cfg.AuthSecret) < 32 {
		return Config{}, fmt.Errorf("CLAIMTRAIL_AUTH_SECRET must be at least 32 bytes")
	}
	return cfg, nil
}

// IsDevelopment reports whether the service runs outside production.
// Cookies drop the Secure attribute only in this mode.
func (c Config) IsDevelopment() bool {
	return c.Env == "development" || c.Env == "test"
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getint(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func getduration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
