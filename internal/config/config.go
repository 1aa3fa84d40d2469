package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

const (
	MailTransportSMTP = "smtp"
	MailTransportHTTP = "http"

	RateLimitBackendRedis = "redis"
	RateLimitBackendLocal = "local"
)

type Config struct {
	DatabaseDSN     string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL     string `env:"RABBITMQ_URL,required=true"`
	RedisURL        string `env:"REDIS_URL"`
	// BaseURL is the public API origin; emailed links are BaseURL/newsletter/...
	BaseURL         string `env:"BASE_URL,required=true"`
	FrontendBaseURL string `env:"FRONTEND_BASE_URL,required=true"`

	MailTransport string `env:"MAIL_TRANSPORT,default=smtp"`
	MailFrom      string `env:"MAIL_FROM,required=true"`
	SMTPHost      string `env:"SMTP_HOST"`
	SMTPPort      int    `env:"SMTP_PORT,default=587"`
	SMTPUsername  string `env:"SMTP_USERNAME"`
	SMTPPassword  string `env:"SMTP_PASSWORD"`
	SMTPSecurity  string `env:"SMTP_SECURITY,default=starttls"`
	MailAPIURL    string `env:"MAIL_API_URL"`
	MailAPIKey    string `env:"MAIL_API_KEY"`

	RateLimitPerSec     int    `env:"RATE_LIMIT_PER_SEC,default=10"`
	RateLimitBackend    string `env:"RATE_LIMIT_BACKEND,default=redis"`
	WorkerConcurrency   int    `env:"WORKER_CONCURRENCY,default=2"`
	DispatchConcurrency int    `env:"DISPATCH_CONCURRENCY,default=1"`
	APIPort             int    `env:"API_PORT,default=8080"`
	LogLevel            string `env:"LOG_LEVEL,default=info"`

	SendTimeoutRaw       string `env:"SEND_TIMEOUT,default=30s"`
	SchedulerIntervalRaw string `env:"SCHEDULER_INTERVAL,default=30s"`
	StallThresholdRaw    string `env:"STALL_THRESHOLD,default=1h"`

	SendTimeout       time.Duration
	SchedulerInterval time.Duration
	StallThreshold    time.Duration
}

// Load reads the configuration from the environment. Variables from .env
// files are applied first without overriding the real environment; a missing
// file is not an error.
func Load(dotenvFiles ...string) (*Config, error) {
	if len(dotenvFiles) == 0 {
		dotenvFiles = []string{".env"}
	}
	for _, file := range dotenvFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", file, err)
		}
	}

	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) normalize() error {
	var err error
	if c.SendTimeout, err = positiveDuration("SEND_TIMEOUT", c.SendTimeoutRaw); err != nil {
		return err
	}
	if c.SchedulerInterval, err = positiveDuration("SCHEDULER_INTERVAL", c.SchedulerIntervalRaw); err != nil {
		return err
	}
	if c.StallThreshold, err = positiveDuration("STALL_THRESHOLD", c.StallThresholdRaw); err != nil {
		return err
	}

	c.MailTransport = strings.ToLower(strings.TrimSpace(c.MailTransport))
	switch c.MailTransport {
	case MailTransportSMTP:
		if strings.TrimSpace(c.SMTPHost) == "" {
			return fmt.Errorf("SMTP_HOST is required when MAIL_TRANSPORT=smtp")
		}
	case MailTransportHTTP:
		if strings.TrimSpace(c.MailAPIURL) == "" {
			return fmt.Errorf("MAIL_API_URL is required when MAIL_TRANSPORT=http")
		}
	default:
		return fmt.Errorf("unsupported MAIL_TRANSPORT %q", c.MailTransport)
	}

	c.RateLimitBackend = strings.ToLower(strings.TrimSpace(c.RateLimitBackend))
	switch c.RateLimitBackend {
	case RateLimitBackendRedis:
		if strings.TrimSpace(c.RedisURL) == "" {
			return fmt.Errorf("REDIS_URL is required when RATE_LIMIT_BACKEND=redis")
		}
	case RateLimitBackendLocal:
	default:
		return fmt.Errorf("unsupported RATE_LIMIT_BACKEND %q", c.RateLimitBackend)
	}

	c.SMTPSecurity = strings.ToLower(strings.TrimSpace(c.SMTPSecurity))
	c.WorkerConcurrency = max(c.WorkerConcurrency, 1)
	c.DispatchConcurrency = max(c.DispatchConcurrency, 1)
	return nil
}

func positiveDuration(name, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", name, raw)
	}
	return d, nil
}
