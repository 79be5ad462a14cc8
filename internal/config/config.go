package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	NodeEnv   string
	Port      string
	JWTSecret string
	// DataDir holds one badger database per collection
	DataDir  string
	Inbox    InboxConfig
	Remote   RemoteConfig
	Database DatabaseConfig
	Endpoint EndpointConfig
}

// RemoteConfig describes the LAN sync endpoint a node replicates with.
// An empty URL means the node runs fully offline.
type RemoteConfig struct {
	URL      string
	Username string
	Password string
}

// InboxConfig controls the EIP drop directory poller
type InboxConfig struct {
	Dir      string
	Interval time.Duration
}

// DatabaseConfig holds database configuration of the sync endpoint
type DatabaseConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
	// Embedded starts a bundled PostgreSQL instead of connecting to Host
	Embedded bool
	DataDir  string
}

// EndpointConfig holds the sync endpoint listener and its bootstrap account
type EndpointConfig struct {
	Port     string
	Username string
	Password string
}

// Load loads configuration from .env and environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("DATA_DIR", "./data")

	cfg := &Config{
		NodeEnv:   getEnv("NODE_ENV", "development"),
		Port:      getEnv("PORT", "3001"),
		JWTSecret: os.Getenv("JWT_SECRET"),
		DataDir:   dataDir,
		Inbox: InboxConfig{
			Dir:      os.Getenv("INBOX_DIR"),
			Interval: getDurationEnv("INBOX_INTERVAL", 10*time.Second),
		},
		Remote: RemoteConfig{
			URL:      os.Getenv("REMOTE_URL"),
			Username: os.Getenv("REMOTE_USERNAME"),
			Password: os.Getenv("REMOTE_PASSWORD"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("PG_HOST", "localhost"),
			Port:     getEnv("PG_PORT", "5432"),
			Username: getEnv("PG_USERNAME", "postgres"),
			Password: os.Getenv("PG_PASSWORD"),
			Database: getEnv("PG_DATABASE", "dairysync"),
			Embedded: getBoolEnv("PG_EMBEDDED", true),
			DataDir:  getEnv("PG_DATA_DIR", filepath.Join(dataDir, "postgres")),
		},
		Endpoint: EndpointConfig{
			Port:     getEnv("ENDPOINT_PORT", "5984"),
			Username: os.Getenv("ENDPOINT_USERNAME"),
			Password: os.Getenv("ENDPOINT_PASSWORD"),
		},
	}

	if cfg.Remote.URL != "" {
		u, err := url.Parse(cfg.Remote.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("REMOTE_URL %q is not an http(s) url", cfg.Remote.URL)
		}
	}

	return cfg, nil
}

// IsProduction reports whether NODE_ENV is production
func (c *Config) IsProduction() bool {
	return c.NodeEnv == "production"
}

// getEnv gets environment variable with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if result, err := strconv.Atoi(value); err == nil {
			return result
		}
	}
	return defaultValue
}

// getDurationEnv accepts Go durations ("5s", "1m30s") or plain seconds
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
