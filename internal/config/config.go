package config

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	AppMode           string
	ServerAddr        string
	LockSweepSchedule string
	Database          DatabaseConfig
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver   string
	URL      string
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
	Path     string
}

// Load reads configuration from .env file and environment variables
func Load() (*Config, error) {
	// Load .env file (ignore error if file doesn't exist in production)
	if err := godotenv.Load(); err != nil {
		log.Println("[WARN] config: .env file not found, using environment variables")
	}

	appMode := strings.TrimSpace(getEnv("APP_MODE", "dev"))
	if appMode != "dev" && appMode != "prod" {
		return nil, fmt.Errorf("invalid APP_MODE: '%s' (must be 'dev' or 'prod')", appMode)
	}

	db, err := loadDatabaseConfig(appMode)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		AppMode:           appMode,
		ServerAddr:        getEnv("SERVER_ADDR", ":8080"),
		LockSweepSchedule: os.Getenv("LOCK_SWEEP_SCHEDULE"),
		Database:          db,
	}
	if _, ok := os.LookupEnv("LOCK_SWEEP_SCHEDULE"); !ok {
		cfg.LockSweepSchedule = "@every 10m"
	}

	log.Printf("[INFO] config: loaded [MODE: %s, DRIVER: %s]", cfg.AppMode, cfg.Database.Driver)
	return cfg, nil
}

// loadDatabaseConfig loads database config based on mode. Production reads the
// PROD_ prefixed variables and requires TLS.
func loadDatabaseConfig(mode string) (DatabaseConfig, error) {
	prefix := ""
	sslMode := "disable"
	if mode == "prod" {
		prefix = "PROD_"
		sslMode = "require"
	}

	driver := strings.ToLower(getEnv("DB_DRIVER", "postgres"))
	switch driver {
	case "postgres", "mysql", "sqlite":
	default:
		return DatabaseConfig{}, fmt.Errorf("invalid DB_DRIVER: '%s' (must be 'postgres', 'mysql' or 'sqlite')", driver)
	}

	defaultPort := "5432"
	if driver == "mysql" {
		defaultPort = "3306"
	}

	return DatabaseConfig{
		Driver:   driver,
		URL:      os.Getenv("DATABASE_URL"),
		Host:     getEnv(prefix+"DB_HOST", "localhost"),
		Port:     getEnv(prefix+"DB_PORT", defaultPort),
		User:     getEnv(prefix+"DB_USER", "postgres"),
		Password: getEnv(prefix+"DB_PASSWORD", ""),
		Name:     getEnv(prefix+"DB_NAME", "library"),
		SSLMode:  getEnv(prefix+"DB_SSLMODE", sslMode),
		Path:     getEnv("DB_PATH", "library.db"),
	}, nil
}

// DSN returns the connection string for the configured driver. DATABASE_URL
// wins when set.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	switch d.Driver {
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			d.User, d.Password, d.Host, d.Port, d.Name)
	case "sqlite":
		return fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1", d.Path)
	default:
		return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
	}
}

// getEnv gets environment variable with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// IsDev returns true if running in development mode
func (c *Config) IsDev() bool {
	return c.AppMode == "dev"
}

// IsProd returns true if running in production mode
func (c *Config) IsProd() bool {
	return c.AppMode == "prod"
}
