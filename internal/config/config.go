package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultProfile is the profile name used when a template does not name one.
const DefaultProfile = "DEFAULT"

// DefaultAPIURL is the Mailgun v3 base URL used when a profile omits api_url.
const DefaultAPIURL = "https://api.mailgun.net/v3"

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Rebel    RebelConfig    `yaml:"rebel"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Auth     AuthConfig     `yaml:"auth"`
	Archive  ArchiveConfig  `yaml:"archive"`
	Log      LogConfig      `yaml:"log"`
}

// RebelConfig is the mail dispatch configuration: sending profiles and
// process-wide switches.
type RebelConfig struct {
	TestMode bool `yaml:"test_mode"`
	// ExtraSearchFields is passed through untouched to whatever lists
	// delivery records for operators.
	ExtraSearchFields []string                 `yaml:"extra_search_fields"`
	Profiles          map[string]ProfileConfig `yaml:"profiles"`
}

// Profile returns the named profile and whether it exists.
func (c RebelConfig) Profile(name string) (ProfileConfig, bool) {
	p, ok := c.Profiles[name]
	return p, ok
}

// ProfileConfig is one Mailgun account: sender address plus API credentials.
type ProfileConfig struct {
	Email          string    `yaml:"email"`
	TimeoutSeconds int       `yaml:"timeout_seconds"`
	API            APIConfig `yaml:"api"`
}

// Timeout returns the configured timeout as a duration
func (c ProfileConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// APIConfig holds Mailgun API credentials for a profile
type APIConfig struct {
	APIKey string `yaml:"api_key"`
	Domain string `yaml:"domain"`
	APIURL string `yaml:"api_url"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Addr returns host:port for http.Server.
func (c ServerConfig) Addr() string {
	host := c.Host
	if h := os.Getenv("SERVER_HOST"); h != "" {
		host = h
	}
	return fmt.Sprintf("%s:%d", host, c.Port)
}

// DatabaseConfig holds the PostgreSQL connection settings
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
	// LockConns caps the separate pool that holds advisory locks when
	// Redis is absent.
	LockConns int `yaml:"lock_conns"`
}

// LockPoolSize returns LockConns, or 4 when unset.
func (c DatabaseConfig) LockPoolSize() int {
	if c.LockConns > 0 {
		return c.LockConns
	}
	return 4
}

// RedisConfig holds the optional Redis used for per-record webhook locks.
// An empty Addr disables Redis locking.
type RedisConfig struct {
	Addr           string `yaml:"addr"`
	Password       string `yaml:"password"`
	DB             int    `yaml:"db"`
	LockTTLSeconds int    `yaml:"lock_ttl_seconds"`
}

// LockTTL returns the lock expiry as a duration
func (c RedisConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// AuthConfig holds Google OAuth settings for the operator-only endpoints.
type AuthConfig struct {
	Enabled            bool     `yaml:"enabled"`
	GoogleClientID     string   `yaml:"google_client_id"`
	GoogleClientSecret string   `yaml:"google_client_secret"`
	BaseURL            string   `yaml:"base_url"`
	Superusers         []string `yaml:"superusers"`
	CookieName         string   `yaml:"cookie_name"`
	CookieMaxAge       int      `yaml:"cookie_max_age"`
}

// ArchiveConfig configures the optional S3 copy of stored message content.
type ArchiveConfig struct {
	Enabled     bool   `yaml:"enabled"`
	S3Bucket    string `yaml:"s3_bucket"`
	Prefix      string `yaml:"prefix"`
	AWSRegion   string `yaml:"aws_region"`
	AccessKey   string `yaml:"access_key"`
	SecretKey   string `yaml:"secret_key"`
	EndpointURL string `yaml:"endpoint_url"`
}

// LogConfig controls the structured logger
type LogConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	for name, p := range cfg.Rebel.Profiles {
		if p.API.APIURL == "" {
			p.API.APIURL = DefaultAPIURL
		}
		p.API.APIURL = strings.TrimRight(p.API.APIURL, "/")
		if p.TimeoutSeconds == 0 {
			p.TimeoutSeconds = 30
		}
		cfg.Rebel.Profiles[name] = p
	}
	if cfg.Redis.LockTTLSeconds == 0 {
		cfg.Redis.LockTTLSeconds = 30
	}
	if cfg.Auth.CookieName == "" {
		cfg.Auth.CookieName = "rebel_session"
	}
	if cfg.Auth.CookieMaxAge == 0 {
		cfg.Auth.CookieMaxAge = 8 * 3600
	}
	if cfg.Archive.Prefix == "" {
		cfg.Archive.Prefix = "rebel/content/"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It loads a .env file (if present) before reading env vars, so secrets can
// live in .env locally and in real env vars in deployment.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	// A shared key only fills profiles that do not carry their own.
	if apiKey := os.Getenv("MAILGUN_API_KEY"); apiKey != "" {
		for name, p := range cfg.Rebel.Profiles {
			if p.API.APIKey == "" {
				p.API.APIKey = apiKey
				cfg.Rebel.Profiles[name] = p
			}
		}
	}
	if apiURL := os.Getenv("MAILGUN_API_URL"); apiURL != "" {
		for name, p := range cfg.Rebel.Profiles {
			p.API.APIURL = strings.TrimRight(apiURL, "/")
			cfg.Rebel.Profiles[name] = p
		}
	}
	if v := os.Getenv("REBEL_TEST_MODE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Rebel.TestMode = b
		}
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Database.URL = dbURL
	}
	if addr := os.Getenv("REDIS_URL"); addr != "" {
		cfg.Redis.Addr = addr
	}

	// Auth overrides
	if v := os.Getenv("GOOGLE_CLIENT_ID"); v != "" {
		cfg.Auth.GoogleClientID = v
	}
	if v := os.Getenv("GOOGLE_CLIENT_SECRET"); v != "" {
		cfg.Auth.GoogleClientSecret = v
	}
	if v := os.Getenv("REBEL_SUPERUSERS"); v != "" {
		cfg.Auth.Superusers = splitList(v)
	}
	if v := os.Getenv("ARCHIVE_S3_BUCKET"); v != "" {
		cfg.Archive.S3Bucket = v
		cfg.Archive.Enabled = true
	}

	return cfg, nil
}

// Validate checks the settings every sending process depends on.
func (c *Config) Validate() error {
	if len(c.Rebel.Profiles) == 0 {
		return fmt.Errorf("config: rebel.profiles is empty")
	}
	for name, p := range c.Rebel.Profiles {
		if p.API.Domain == "" {
			return fmt.Errorf("config: profile %s: api.domain is required", name)
		}
		if p.API.APIKey == "" {
			return fmt.Errorf("config: profile %s: api.api_key is required", name)
		}
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}
