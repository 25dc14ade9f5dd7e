// config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

type Config struct {
	Server          ServerConfig
	Database        DatabaseConfig
	Mpesa           MpesaConfig
	Redis           RedisConfig
	Kafka           KafkaConfig
	Webhook         WebhookConfig
	Poller          PollerConfig
	Site            SiteConfig
	CallbackBaseURL string
}

type ServerConfig struct {
	Port string
	Env  string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// MpesaConfig holds the shared master account used when a tenant has no till of its own.
type MpesaConfig struct {
	Environment     string
	BaseURL         string
	ConsumerKey     string
	ConsumerSecret  string
	ShortCode       string
	Passkey         string
	TillNumber      string
	TransactionType string
	Timeout         time.Duration
}

type RedisConfig struct {
	Host            string
	Port            string
	Password        string
	DB              int
	StatusTTL       time.Duration
	IdempotencyTTL  time.Duration
	RateLimitOn     bool
	RateLimit       int
	RateLimitWindow time.Duration
}

type KafkaConfig struct {
	Brokers      []string
	PaymentTopic string
}

type WebhookConfig struct {
	Workers      int
	BatchSize    int
	PollInterval time.Duration
	MaxAttempts  int
	Timeout      time.Duration
}

type PollerConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

// SiteConfig drives the public job-site payment flow.
type SiteConfig struct {
	OwnerID         string
	DefaultAmount   int64
	ReferencePrefix string
	Description     string
}

func Load(logger *zap.Logger) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Env:  getEnv("ENVIRONMENT", "development"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "swiftpay"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
			MaxConns: getEnvInt("DB_MAX_CONNS", 20),
			MinConns: getEnvInt("DB_MIN_CONNS", 2),
		},
		Mpesa: MpesaConfig{
			Environment:     getEnv("MPESA_ENVIRONMENT", "sandbox"),
			BaseURL:         getEnv("MPESA_BASE_URL", ""),
			ConsumerKey:     getEnv("MPESA_CONSUMER_KEY", ""),
			ConsumerSecret:  getEnv("MPESA_CONSUMER_SECRET", ""),
			ShortCode:       getEnv("MPESA_SHORT_CODE", ""),
			Passkey:         getEnv("MPESA_PASSKEY", ""),
			TillNumber:      getEnv("MPESA_TILL_NUMBER", ""),
			TransactionType: getEnv("MPESA_TRANSACTION_TYPE", "CustomerBuyGoodsOnline"),
			Timeout:         getEnvDuration("MPESA_TIMEOUT", 30*time.Second),
		},
		Redis: RedisConfig{
			Host:            getEnv("REDIS_HOST", "localhost"),
			Port:            getEnv("REDIS_PORT", "6379"),
			Password:        getEnv("REDIS_PASSWORD", ""),
			DB:              getEnvInt("REDIS_DB", 0),
			StatusTTL:       getEnvDuration("STATUS_CACHE_TTL", 10*time.Minute),
			IdempotencyTTL:  getEnvDuration("IDEMPOTENCY_TTL", 24*time.Hour),
			RateLimitOn:     getEnvBool("RATE_LIMIT_ENABLED", true),
			RateLimit:       getEnvInt("RATE_LIMIT", 10),
			RateLimitWindow: getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		Kafka: KafkaConfig{
			Brokers:      splitList(getEnv("KAFKA_BROKERS", "")),
			PaymentTopic: getEnv("KAFKA_PAYMENT_TOPIC", "swiftpay.payments"),
		},
		Webhook: WebhookConfig{
			Workers:      getEnvInt("WEBHOOK_WORKERS", 4),
			BatchSize:    getEnvInt("WEBHOOK_BATCH_SIZE", 20),
			PollInterval: getEnvDuration("WEBHOOK_POLL_INTERVAL", 2*time.Second),
			MaxAttempts:  getEnvInt("WEBHOOK_MAX_ATTEMPTS", 8),
			Timeout:      getEnvDuration("WEBHOOK_TIMEOUT", 10*time.Second),
		},
		Poller: PollerConfig{
			Interval: getEnvDuration("POLL_INTERVAL", 3*time.Second),
			Timeout:  getEnvDuration("POLL_TIMEOUT", 120*time.Second),
		},
		Site: SiteConfig{
			OwnerID:         getEnv("SITE_OWNER_ID", ""),
			DefaultAmount:   int64(getEnvInt("SITE_DEFAULT_AMOUNT", 130)),
			ReferencePrefix: getEnv("SITE_REFERENCE_PREFIX", "NAIVASJOBS"),
			Description:     getEnv("SITE_DESCRIPTION", "Job Application Processing Fee"),
		},
		CallbackBaseURL: strings.TrimRight(getEnv("CALLBACK_BASE_URL", ""), "/"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if len(cfg.Kafka.Brokers) == 0 {
		logger.Warn("no kafka brokers configured, payment events will not be published")
	}

	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	if c.Mpesa.ConsumerKey == "" {
		missing = append(missing, "MPESA_CONSUMER_KEY")
	}
	if c.Mpesa.ConsumerSecret == "" {
		missing = append(missing, "MPESA_CONSUMER_SECRET")
	}
	if c.Mpesa.ShortCode == "" {
		missing = append(missing, "MPESA_SHORT_CODE")
	}
	if c.Mpesa.Passkey == "" {
		missing = append(missing, "MPESA_PASSKEY")
	}
	if c.CallbackBaseURL == "" {
		missing = append(missing, "CALLBACK_BASE_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

// CallbackURL is the address the gateway posts STK results to.
func (c *Config) CallbackURL() string {
	return c.CallbackBaseURL + "/api/payments/callback"
}

func (c *Config) RedisAddr() string {
	return c.Redis.Host + ":" + c.Redis.Port
}

func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.DBName,
		c.Database.SSLMode,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		boolVal, err := strconv.ParseBool(value)
		if err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
