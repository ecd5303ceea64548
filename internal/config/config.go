package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the newsletter service.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	SES      SESConfig      `yaml:"ses"`
	Mail     MailConfig     `yaml:"mail"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Sweeper  SweeperConfig  `yaml:"sweeper"`
	Limits   LimitsConfig   `yaml:"limits"`
	LogLevel string         `yaml:"log_level"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RedisConfig holds Redis connection settings. Redis backs the subscribe
// rate limiter and the preferred distributed-lock implementation; when Addr
// is empty the service falls back to Postgres advisory locks and an open
// rate limiter.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// SESConfig holds AWS SES credentials for the notifier transport.
type SESConfig struct {
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
}

// MailConfig holds the sender identity and the frontend base URL used to
// build confirmation and unsubscribe links. Injected explicitly; never read
// from ambient globals.
type MailConfig struct {
	FromName    string `yaml:"from_name"`
	FromEmail   string `yaml:"from_email"`
	ReplyTo     string `yaml:"reply_to"`
	FrontendURL string `yaml:"frontend_url"`
	CompanyName string `yaml:"company_name"`
}

// DispatchConfig holds worker pool and retry settings for the notification
// dispatch queue.
type DispatchConfig struct {
	NumWorkers   int           `yaml:"num_workers"`
	BatchSize    int           `yaml:"batch_size"`
	PollInterval time.Duration `yaml:"poll_interval"`
	SendTimeout  time.Duration `yaml:"send_timeout"`
	MaxAttempts  int           `yaml:"max_attempts"`
	RetryDelay   time.Duration `yaml:"retry_delay"`
}

// SweeperConfig holds maintenance sweep settings.
type SweeperConfig struct {
	Interval         time.Duration `yaml:"interval"`
	PurgeGraceDays   int           `yaml:"purge_grace_days"`
	ResendAfterHours int           `yaml:"resend_after_hours"`
}

// LimitsConfig holds abuse-control settings for the public endpoints.
type LimitsConfig struct {
	SubscribePerHour int `yaml:"subscribe_per_hour"`
}

// Load reads the YAML config at path and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// LoadFromEnv loads the YAML config (if the path exists), loads .env, and
// applies environment overrides for connection strings and secrets.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			loaded, err := Load(path)
			if err != nil {
				return nil, err
			}
			cfg = loaded
		}
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.SES.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.SES.SecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.SES.Region = v
	}
	if v := os.Getenv("FRONTEND_URL"); v != "" {
		cfg.Mail.FrontendURL = v
	}
	if v := os.Getenv("MAIL_FROM_EMAIL"); v != "" {
		cfg.Mail.FromEmail = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 25
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = 5 * time.Minute
	}
	if c.SES.Region == "" {
		c.SES.Region = "us-east-1"
	}
	if c.Mail.FromName == "" {
		c.Mail.FromName = "Girasol Tours"
	}
	if c.Mail.FromEmail == "" {
		c.Mail.FromEmail = "hello@girasoltours.com"
	}
	if c.Mail.FrontendURL == "" {
		c.Mail.FrontendURL = "https://girasoltours.com"
	}
	if c.Mail.CompanyName == "" {
		c.Mail.CompanyName = "Girasol Tours"
	}
	if c.Dispatch.NumWorkers == 0 {
		c.Dispatch.NumWorkers = 4
	}
	if c.Dispatch.BatchSize == 0 {
		c.Dispatch.BatchSize = 25
	}
	if c.Dispatch.PollInterval == 0 {
		c.Dispatch.PollInterval = time.Second
	}
	if c.Dispatch.SendTimeout == 0 {
		c.Dispatch.SendTimeout = 30 * time.Second
	}
	if c.Dispatch.MaxAttempts == 0 {
		c.Dispatch.MaxAttempts = 3
	}
	if c.Dispatch.RetryDelay == 0 {
		c.Dispatch.RetryDelay = 60 * time.Second
	}
	if c.Sweeper.Interval == 0 {
		c.Sweeper.Interval = time.Hour
	}
	if c.Sweeper.PurgeGraceDays == 0 {
		c.Sweeper.PurgeGraceDays = 7
	}
	if c.Sweeper.ResendAfterHours == 0 {
		c.Sweeper.ResendAfterHours = 24
	}
	if c.Limits.SubscribePerHour == 0 {
		c.Limits.SubscribePerHour = 5
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}
