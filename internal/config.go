package internal

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
)

type Config struct {
	App           AppConfig           `mapstructure:"app"`
	Server        ServerConfig        `mapstructure:"http_server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Gateway       GatewayConfig       `mapstructure:"gateway"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

type AppConfig struct {
	// Environment gates whether the route layer may synthesize a
	// fallback redirect when the gateway is unavailable. The payment
	// core itself never consults it.
	Environment string `mapstructure:"environment"`
	BaseURL     string `mapstructure:"base_url"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Source          string        `mapstructure:"source"`
}

// GatewayConfig carries the hosted-checkout credentials. It is built once at
// startup and injected into the kashier client constructor; business logic
// never reads the process environment directly.
type GatewayConfig struct {
	MerchantID      string        `mapstructure:"merchant_id"`
	APIKey          string        `mapstructure:"api_key"`
	CheckoutBaseURL string        `mapstructure:"checkout_base_url"`
	DefaultCurrency string        `mapstructure:"default_currency"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
}

type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ----------------- ENV LOADING -----------------

// LoadConfigFromEnv builds the configuration purely from environment
// variables, for container deployments where no config file is mounted.
func LoadConfigFromEnv() *Config {
	return &Config{
		App: AppConfig{
			Environment: getEnv("APP_ENV", EnvDevelopment),
			BaseURL:     getEnv("APP_BASE_URL", "http://localhost:3000"),
		},
		Server: ServerConfig{
			Port:              getEnvAsInt("HTTP_PORT", 8080),
			ReadHeaderTimeout: getEnvAsDuration("HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
			ReadTimeout:       getEnvAsDuration("HTTP_READ_TIMEOUT", 10*time.Second),
			IdleTimeout:       getEnvAsDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),
			WriteTimeout:      getEnvAsDuration("HTTP_WRITE_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvAsDuration("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
			Source:          getEnv("DATABASE_URL", ""),
		},
		Gateway: GatewayConfig{
			MerchantID:      getEnv("KASHIER_MERCHANT_ID", ""),
			APIKey:          getEnv("KASHIER_API_KEY", ""),
			CheckoutBaseURL: getEnv("KASHIER_CHECKOUT_URL", "https://checkout.kashier.io"),
			DefaultCurrency: getEnv("KASHIER_CURRENCY", "EGP"),
			RequestTimeout:  getEnvAsDuration("KASHIER_TIMEOUT", 8*time.Second),
		},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "json"),
			},
		},
	}
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultVal
}

// ----------------- VALIDATION -----------------

func (c *Config) Validate() error {
	var errs []string

	if err := c.App.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("app config: %v", err))
	}

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("database config: %v", err))
	}

	if err := c.Gateway.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("gateway config: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

func (c *AppConfig) Validate() error {
	if c.Environment != EnvProduction && c.Environment != EnvDevelopment {
		return fmt.Errorf("environment must be %q or %q, got %q", EnvProduction, EnvDevelopment, c.Environment)
	}
	if _, err := url.ParseRequestURI(c.BaseURL); err != nil {
		return fmt.Errorf("invalid base_url %s: %w", c.BaseURL, err)
	}
	return nil
}

func (c *ServerConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.ReadTimeout < c.ReadHeaderTimeout {
		return errors.New("read_timeout must be >= read_header_timeout")
	}
	return nil
}

func (c *DatabaseConfig) Validate() error {
	if c.Source == "" {
		return errors.New("source is required")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max_idle_conns cannot be greater than max_open_conns")
	}
	return nil
}

func (c *DatabaseConfig) GetDSN() string {
	return c.Source
}

// Validate checks structural config only. Missing merchant credentials are
// deliberately not fatal at startup: cod-only deployments run without them,
// and the kashier client reports a ConfigurationError the moment a hosted
// checkout is actually requested.
func (c *GatewayConfig) Validate() error {
	if c.CheckoutBaseURL == "" {
		return errors.New("checkout_base_url is required")
	}
	if _, err := url.ParseRequestURI(c.CheckoutBaseURL); err != nil {
		return fmt.Errorf("invalid checkout_base_url %s: %w", c.CheckoutBaseURL, err)
	}
	if c.DefaultCurrency == "" {
		return errors.New("default_currency is required")
	}
	if c.RequestTimeout <= 0 || c.RequestTimeout > 30*time.Second {
		return errors.New("request_timeout must be positive and bounded")
	}
	return nil
}

func (c *AppConfig) IsProduction() bool {
	return c.Environment == EnvProduction
}
