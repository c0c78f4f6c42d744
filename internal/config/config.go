package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverPlaywright = "playwright"
	DriverStatic     = "static"
)

type Config struct {
	Server   ServerConfig
	Scraper  ScraperConfig
	Browser  BrowserConfig
	Mapping  MappingConfig
	Catalog  CatalogConfig
	Output   OutputConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Port            string
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

type ScraperConfig struct {
	Driver            string
	Budget            time.Duration
	MaxRetries        int
	RetryDelay        time.Duration
	BackoffFactor     float64
	NavigationTimeout time.Duration
	SettleDelay       time.Duration
	FilterDelay       time.Duration
	RequestsPerMinute int
	Jitter            time.Duration
}

type BrowserConfig struct {
	Headless       bool
	Timeout        time.Duration
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
	ProxyServer    string
}

type MappingConfig struct {
	PowerUnitThreshold int
	HPToKW             float64
	MaxYear            int
}

type CatalogConfig struct {
	// Path overrides the embedded catalog when set.
	Path string
}

type OutputConfig struct {
	DatasetFile string
}

type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int32
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	Stream   string
	MaxLen   int64
}

type LoggingConfig struct {
	Level  string
	Format string
}

// Load reads the environment, after merging a .env file from the working
// directory if one exists.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvOrDefault("SERVER_PORT", "8080"),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			AllowedOrigins:  getStringSliceOrDefault("SERVER_ALLOWED_ORIGINS", []string{"*"}),
		},
		Scraper: ScraperConfig{
			Driver:            getEnvOrDefault("SCRAPER_DRIVER", DriverPlaywright),
			Budget:            getDurationOrDefault("SCRAPER_BUDGET", 20*time.Second),
			MaxRetries:        getIntOrDefault("SCRAPER_MAX_RETRIES", 3),
			RetryDelay:        getDurationOrDefault("SCRAPER_RETRY_DELAY", 2*time.Second),
			BackoffFactor:     getFloatOrDefault("SCRAPER_BACKOFF_FACTOR", 1),
			NavigationTimeout: getDurationOrDefault("SCRAPER_NAVIGATION_TIMEOUT", 15*time.Second),
			SettleDelay:       getDurationOrDefault("SCRAPER_SETTLE_DELAY", 3*time.Second),
			FilterDelay:       getDurationOrDefault("SCRAPER_FILTER_DELAY", time.Second),
			RequestsPerMinute: getIntOrDefault("SCRAPER_REQUESTS_PER_MINUTE", 12),
			Jitter:            getDurationOrDefault("SCRAPER_JITTER", 500*time.Millisecond),
		},
		Browser: BrowserConfig{
			Headless:       getBoolOrDefault("BROWSER_HEADLESS", true),
			Timeout:        getDurationOrDefault("BROWSER_TIMEOUT", 30*time.Second),
			UserAgent:      getEnvOrDefault("BROWSER_USER_AGENT", ""),
			ViewportWidth:  getIntOrDefault("BROWSER_VIEWPORT_WIDTH", 1920),
			ViewportHeight: getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", 1080),
			AcceptLanguage: getEnvOrDefault("BROWSER_ACCEPT_LANGUAGE", "de-DE,de;q=0.9,en;q=0.8"),
			TimezoneID:     getEnvOrDefault("BROWSER_TIMEZONE", "Europe/Berlin"),
			Locale:         getEnvOrDefault("BROWSER_LOCALE", "de-DE"),
			ProxyServer:    getEnvOrDefault("BROWSER_PROXY", ""),
		},
		Mapping: MappingConfig{
			PowerUnitThreshold: getIntOrDefault("MAPPING_POWER_UNIT_THRESHOLD", 200),
			HPToKW:             getFloatOrDefault("MAPPING_HP_TO_KW", 0.735),
			MaxYear:            getIntOrDefault("MAPPING_MAX_YEAR", time.Now().Year()),
		},
		Catalog: CatalogConfig{
			Path: getEnvOrDefault("CATALOG_PATH", ""),
		},
		Output: OutputConfig{
			DatasetFile: getEnvOrDefault("OUTPUT_DATASET_FILE", ""),
		},
		Database: DatabaseConfig{
			Enabled:  getBoolOrDefault("DB_ENABLED", false),
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			DBName:   getEnvOrDefault("DB_NAME", "carzilla"),
			SSLMode:  getEnvOrDefault("DB_SSL_MODE", "disable"),
			MaxConns: int32(getIntOrDefault("DB_MAX_CONNS", 10)),
		},
		Redis: RedisConfig{
			Enabled:  getBoolOrDefault("REDIS_ENABLED", false),
			Addr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getIntOrDefault("REDIS_DB", 0),
			Stream:   getEnvOrDefault("REDIS_STREAM", "stream:carzilla_searches"),
			MaxLen:   int64(getIntOrDefault("REDIS_STREAM_MAXLEN", 10000)),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Scraper.Driver {
	case DriverPlaywright, DriverStatic:
	default:
		return fmt.Errorf("SCRAPER_DRIVER must be %q or %q, got %q", DriverPlaywright, DriverStatic, c.Scraper.Driver)
	}

	if c.Scraper.Budget <= 0 {
		return fmt.Errorf("SCRAPER_BUDGET must be positive")
	}
	if c.Scraper.MaxRetries < 1 {
		return fmt.Errorf("SCRAPER_MAX_RETRIES must be at least 1")
	}
	if c.Scraper.RetryDelay < 0 {
		return fmt.Errorf("SCRAPER_RETRY_DELAY cannot be negative")
	}
	if c.Scraper.BackoffFactor < 1 {
		return fmt.Errorf("SCRAPER_BACKOFF_FACTOR must be at least 1")
	}
	if c.Scraper.RequestsPerMinute < 0 {
		return fmt.Errorf("SCRAPER_REQUESTS_PER_MINUTE cannot be negative")
	}

	if c.Mapping.PowerUnitThreshold < 0 {
		return fmt.Errorf("MAPPING_POWER_UNIT_THRESHOLD cannot be negative")
	}
	if c.Mapping.HPToKW <= 0 || c.Mapping.HPToKW > 1 {
		return fmt.Errorf("MAPPING_HP_TO_KW must be in (0, 1]")
	}
	if c.Mapping.MaxYear < 1980 {
		return fmt.Errorf("MAPPING_MAX_YEAR must be at least 1980")
	}

	if c.Database.Enabled && c.Database.DBName == "" {
		return fmt.Errorf("DB_NAME is required when DB_ENABLED is set")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("REDIS_ADDR is required when REDIS_ENABLED is set")
	}

	return nil
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
