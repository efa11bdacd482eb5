// Package config loads server.yml, applies environment overrides and validates the result
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Mode string `yaml:"mode"` // development, production

	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Blacklist BlacklistConfig `yaml:"blacklist"`
	Weather   WeatherConfig   `yaml:"weather"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Logging   LoggingConfig   `yaml:"logging"`

	// path of the file the config was read from, empty when defaults only
	path string
}

// ServerConfig represents listener and public URL settings
type ServerConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
	// Public base URL used to build item transfer links
	BackendURL string `yaml:"backend_url"`
	// Directory where rendered charts are written
	StatsDir string `yaml:"stats_dir"`
	// Requests per minute per client IP on /users and /weather
	RateLimit   int      `yaml:"rate_limit"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// DatabaseConfig selects the SQL driver and connection
type DatabaseConfig struct {
	// sqlite, postgres, mysql, mssql
	Type     string `yaml:"type"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
	// Full connection string, overrides the fields above when set
	URL string `yaml:"url"`
}

// AuthConfig holds token signing settings
type AuthConfig struct {
	Secret      string        `yaml:"secret"`
	Algorithm   string        `yaml:"algorithm"`
	SessionTTL  time.Duration `yaml:"session_ttl"`
	TransferTTL time.Duration `yaml:"transfer_ttl"`
	Issuer      string        `yaml:"issuer"`
}

// BlacklistConfig selects the revoked token backend
type BlacklistConfig struct {
	// sql or redis
	Backend  string `yaml:"backend"`
	RedisURL string `yaml:"redis_url"`
	Prefix   string `yaml:"prefix"`
}

// WeatherConfig holds upstream API settings
type WeatherConfig struct {
	APIKey       string        `yaml:"api_key"`
	BaseURL      string        `yaml:"base_url"`
	GeocodingURL string        `yaml:"geocoding_url"`
	UserAgent    string        `yaml:"user_agent"`
	Timeout      time.Duration `yaml:"timeout"`
	CacheTTL     time.Duration `yaml:"cache_ttl"`
}

// SchedulerConfig holds cron expressions for maintenance tasks
type SchedulerConfig struct {
	StatsSweep     string `yaml:"stats_sweep"`
	BlacklistPurge string `yaml:"blacklist_purge"`
}

// LoggingConfig controls the log directory and verbosity
type LoggingConfig struct {
	Dir   string `yaml:"dir"`
	Debug bool   `yaml:"debug"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Mode: string(ModeProduction),
		Server: ServerConfig{
			Address:    "0.0.0.0",
			Port:       8000,
			BackendURL: "http://localhost:8000",
			StatsDir:   "stats",
			RateLimit:  120,
		},
		Database: DatabaseConfig{
			Type: "sqlite",
			Name: "weather.db",
		},
		Auth: AuthConfig{
			Algorithm:   "HS256",
			SessionTTL:  10 * time.Minute,
			TransferTTL: 5 * time.Minute,
			Issuer:      "weatherapi",
		},
		Blacklist: BlacklistConfig{
			Backend: "sql",
			Prefix:  "blacklist:",
		},
		Weather: WeatherConfig{
			BaseURL:      "https://api.openweathermap.org",
			GeocodingURL: "https://nominatim.openstreetmap.org",
			UserAgent:    "weather_app",
			Timeout:      10 * time.Second,
			CacheTTL:     10 * time.Minute,
		},
		Scheduler: SchedulerConfig{
			StatsSweep:     "@every 1m",
			BlacklistPurge: "@daily",
		},
	}
}

// Load reads the config file at path (or searches the default locations when
// path is empty), applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
		cfg.path = path
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Path returns the file the configuration was loaded from
func (c *Config) Path() string {
	return c.path
}

// IsDevelopment reports whether the resolved mode is development
func (c *Config) IsDevelopment() bool {
	return DetectMode(c.Mode) == ModeDevelopment
}

// ListenAddr returns host:port for the HTTP server
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Address, c.Server.Port)
}

// applyEnv overrides file values with environment variables
func (c *Config) applyEnv() {
	if v := os.Getenv("MODE"); v != "" {
		c.Mode = v
	}
	if v := os.Getenv("DEBUG"); v != "" {
		c.Logging.Debug = IsTruthy(v)
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("BACKEND_URL"); v != "" {
		c.Server.BackendURL = v
	}
	if v := os.Getenv("SECRET"); v != "" {
		c.Auth.Secret = v
	}
	if v := os.Getenv("ALGORITHM"); v != "" {
		c.Auth.Algorithm = v
	}
	if v := os.Getenv("OPEN_WEATHER_KEY"); v != "" {
		c.Weather.APIKey = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Blacklist.RedisURL = v
	}
	if v := os.Getenv("LOG_DIR"); v != "" {
		c.Logging.Dir = v
	}
}

// Validate checks the configuration for values the service cannot run with
func (c *Config) Validate() error {
	var errs []error

	if c.Mode != "" {
		if _, err := ParseMode(c.Mode); err != nil {
			errs = append(errs, err)
		}
	}

	if c.Auth.Secret == "" {
		errs = append(errs, errors.New("auth.secret is required (or set SECRET)"))
	} else if !c.IsDevelopment() && len(c.Auth.Secret) < 32 {
		errs = append(errs, errors.New("auth.secret must be at least 32 bytes in production mode"))
	}

	switch strings.ToUpper(c.Auth.Algorithm) {
	case "HS256", "HS384", "HS512":
		c.Auth.Algorithm = strings.ToUpper(c.Auth.Algorithm)
	default:
		errs = append(errs, fmt.Errorf("auth.algorithm %q is not supported (HS256, HS384, HS512)", c.Auth.Algorithm))
	}

	if c.Auth.SessionTTL <= 0 {
		errs = append(errs, errors.New("auth.session_ttl must be positive"))
	}
	if c.Auth.TransferTTL <= 0 {
		errs = append(errs, errors.New("auth.transfer_ttl must be positive"))
	} else if c.Auth.TransferTTL > c.Auth.SessionTTL {
		errs = append(errs, errors.New("auth.transfer_ttl must not exceed auth.session_ttl"))
	}

	switch c.Blacklist.Backend {
	case "sql":
	case "redis":
		if c.Blacklist.RedisURL == "" {
			errs = append(errs, errors.New("blacklist.redis_url is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("blacklist.backend %q is not supported (sql, redis)", c.Blacklist.Backend))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range", c.Server.Port))
	}
	if c.Server.StatsDir == "" {
		errs = append(errs, errors.New("server.stats_dir is required"))
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	for name, expr := range map[string]string{
		"scheduler.stats_sweep":     c.Scheduler.StatsSweep,
		"scheduler.blacklist_purge": c.Scheduler.BlacklistPurge,
	} {
		if _, err := parser.Parse(expr); err != nil {
			errs = append(errs, fmt.Errorf("%s: invalid schedule %q: %w", name, expr, err))
		}
	}

	return errors.Join(errs...)
}

// IsTruthy parses the usual boolean spellings found in env files
func IsTruthy(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on", "enable", "enabled":
		return true
	}
	return false
}

// findConfigFile searches for server.yml in common locations
func findConfigFile() string {
	if env := os.Getenv("CONFIG_FILE"); env != "" {
		return env
	}

	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	searchPaths := []string{
		filepath.Join(cwd, "server.yml"),
		filepath.Join(cwd, "../server.yml"),
		"/etc/weatherapi/server.yml",
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}
