package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	Port           string
	AllowedOrigins []string
	Env            string
	LogLevel       string
	LogFormat      string // console or json
	LogFile        string // rotated by lumberjack when set

	WSReadTimeout  time.Duration
	WSWriteTimeout time.Duration
	PingPeriod     time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64
	SendBuffer     int

	DBDriver    string // sqlite or postgres
	DatabaseURL string

	RedisAddr     string // empty means in-process cache
	RedisPassword string
	RedisDB       int

	TickInterval      time.Duration
	FlushInterval     time.Duration
	BroadcastInterval time.Duration
	LockTimeout       time.Duration
	ACWDuration       time.Duration
	DisconnectGrace   time.Duration // 0 disables the sweep

	// LongPauseThreshold overrides every per-type threshold when non-zero
	LongPauseThreshold time.Duration

	ProductiveIncludesCall bool

	SkipAuth   bool
	JWTSecret  string
	OIDCIssuer string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	config := &Config{
		Port:           getEnv("PORT", "8080"),
		AllowedOrigins: strings.Split(getEnv("ALLOWED_ORIGINS", "http://localhost:5173"), ","),
		Env:            getEnv("ENV", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "console"),
		LogFile:        os.Getenv("LOG_FILE"),
		DBDriver:       getEnv("DB_DRIVER", "sqlite"),
		DatabaseURL:    getEnv("DATABASE_URL", "file:presence.db?_busy_timeout=5000"),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		OIDCIssuer:     os.Getenv("OIDC_ISSUER"),
	}

	var err error

	// Parse WebSocket timeouts
	if config.WSReadTimeout, err = getSeconds("WS_READ_TIMEOUT", 60*time.Second); err != nil {
		return nil, err
	}
	if config.WSWriteTimeout, err = getSeconds("WS_WRITE_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}

	// Calculate WebSocket constants
	config.PongWait = config.WSReadTimeout
	config.PingPeriod = (config.PongWait * 9) / 10 // Must be less than pongWait
	config.WriteWait = config.WSWriteTimeout

	maxMessageSize, err := getInt("WS_MAX_MESSAGE_SIZE", 4096)
	if err != nil {
		return nil, err
	}
	config.MaxMessageSize = int64(maxMessageSize)

	if config.SendBuffer, err = getInt("WS_SEND_BUFFER", 256); err != nil {
		return nil, err
	}
	if config.RedisDB, err = getInt("REDIS_DB", 0); err != nil {
		return nil, err
	}

	durations := []struct {
		key    string
		target *time.Duration
		def    time.Duration
	}{
		{"TICK_INTERVAL", &config.TickInterval, time.Second},
		{"FLUSH_INTERVAL", &config.FlushInterval, 30 * time.Second},
		{"BROADCAST_INTERVAL", &config.BroadcastInterval, 5 * time.Second},
		{"LOCK_TIMEOUT", &config.LockTimeout, 2 * time.Second},
		{"ACW_DURATION", &config.ACWDuration, 30 * time.Second},
		{"DISCONNECT_GRACE", &config.DisconnectGrace, 5 * time.Minute},
		{"LONG_PAUSE_THRESHOLD", &config.LongPauseThreshold, 0},
	}
	for _, d := range durations {
		if *d.target, err = getSeconds(d.key, d.def); err != nil {
			return nil, err
		}
	}

	if config.ProductiveIncludesCall, err = getBool("PRODUCTIVE_INCLUDES_CALL", true); err != nil {
		return nil, err
	}
	if config.SkipAuth, err = getBool("SKIP_AUTH", false); err != nil {
		return nil, err
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	// Trim spaces from allowed origins
	for i, origin := range config.AllowedOrigins {
		config.AllowedOrigins[i] = strings.TrimSpace(origin)
	}

	return config, nil
}

// IsProduction reports whether ENV is production
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func (c *Config) validate() error {
	if c.DBDriver != "sqlite" && c.DBDriver != "postgres" {
		return fmt.Errorf("invalid DB_DRIVER %q: must be sqlite or postgres", c.DBDriver)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("invalid TICK_INTERVAL: must be positive")
	}
	if c.FlushInterval < c.TickInterval {
		return fmt.Errorf("invalid FLUSH_INTERVAL: must not be shorter than TICK_INTERVAL")
	}
	if c.BroadcastInterval <= 0 {
		return fmt.Errorf("invalid BROADCAST_INTERVAL: must be positive")
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("invalid LOCK_TIMEOUT: must be positive")
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("invalid WS_SEND_BUFFER: must be positive")
	}
	if c.SkipAuth && c.IsProduction() {
		return fmt.Errorf("SKIP_AUTH cannot be enabled when ENV=production")
	}
	return nil
}

// getEnv gets an environment variable with a fallback default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getBool(key string, defaultValue bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

// getSeconds accepts either a plain number of seconds or a Go duration string
func getSeconds(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	if n, err := strconv.Atoi(raw); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("invalid %s: must not be negative", key)
		}
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s: must not be negative", key)
	}
	return d, nil
}
