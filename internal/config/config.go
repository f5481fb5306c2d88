package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"listing_hunter/internal/domain"
)

type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	RabbitMQ  RabbitMQConfig  `yaml:"rabbitmq"`
	Source    SourceConfig    `yaml:"source"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Sync      SyncConfig      `yaml:"sync"`
	Retention RetentionConfig `yaml:"retention"`
	HTTP      HTTPConfig      `yaml:"http"`
	LogLevel  string          `yaml:"log_level"`
}

// RabbitMQConfig configures the optional activity sink. An empty URL disables it.
type RabbitMQConfig struct {
	URL        string `yaml:"url"`
	Exchange   string `yaml:"exchange"`
	RoutingKey string `yaml:"routing_key"`
	QueueName  string `yaml:"queue_name"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

type SourceConfig struct {
	BaseURL     string        `yaml:"base_url"`
	AccessToken string        `yaml:"access_token"`
	PageSize    int           `yaml:"page_size"`
	Timeout     time.Duration `yaml:"timeout"`
	Canton      int           `yaml:"canton"`
	PriceFrom   int           `yaml:"price_from"`
	PriceTo     int           `yaml:"price_to"`
	Retry       RetryConfig   `yaml:"retry"`
}

type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

type TelegramConfig struct {
	BotToken     string        `yaml:"bot_token"`
	BaseURL      string        `yaml:"base_url"`
	Timeout      time.Duration `yaml:"timeout"`
	RateLimit    float64       `yaml:"rate_limit"` // messages per second
	PollInterval time.Duration `yaml:"poll_interval"`
	Polling      *bool         `yaml:"polling"`
}

type SyncConfig struct {
	BackfillInterval time.Duration     `yaml:"backfill_interval"`
	CheckInterval    time.Duration     `yaml:"check_interval"`
	RunTimeout       time.Duration     `yaml:"run_timeout"`
	PageSize         int               `yaml:"page_size"`
	Categories       []domain.Category `yaml:"categories"`
	NotifyOnStart    *bool             `yaml:"notify_on_start"`
}

// RetentionConfig drives the purge endpoint: rows created before CreatedBefore
// and not updated within UpdatedWithin are removed.
type RetentionConfig struct {
	CreatedBefore time.Time     `yaml:"created_before"`
	UpdatedWithin time.Duration `yaml:"updated_within"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.RabbitMQ.Exchange == "" {
		c.RabbitMQ.Exchange = "listing_hunter"
	}
	if c.RabbitMQ.RoutingKey == "" {
		c.RabbitMQ.RoutingKey = "activity"
	}
	if c.RabbitMQ.QueueName == "" {
		c.RabbitMQ.QueueName = "listing_activity"
	}
	if c.Source.BaseURL == "" {
		c.Source.BaseURL = "https://api.olx.ba"
	}
	if c.Source.PageSize == 0 {
		c.Source.PageSize = 50
	}
	if c.Source.Timeout == 0 {
		c.Source.Timeout = 30 * time.Second
	}
	if c.Source.Canton == 0 {
		c.Source.Canton = 9
	}
	if c.Source.PriceFrom == 0 {
		c.Source.PriceFrom = 100000
	}
	if c.Source.PriceTo == 0 {
		c.Source.PriceTo = 250000
	}
	if c.Source.Retry.MaxAttempts == 0 {
		c.Source.Retry.MaxAttempts = 3
	}
	if c.Source.Retry.InitialBackoff == 0 {
		c.Source.Retry.InitialBackoff = 1 * time.Second
	}
	if c.Source.Retry.MaxBackoff == 0 {
		c.Source.Retry.MaxBackoff = 30 * time.Second
	}
	if c.Telegram.BaseURL == "" {
		c.Telegram.BaseURL = "https://api.telegram.org"
	}
	if c.Telegram.Timeout == 0 {
		c.Telegram.Timeout = 10 * time.Second
	}
	if c.Telegram.RateLimit == 0 {
		c.Telegram.RateLimit = 25
	}
	if c.Telegram.PollInterval == 0 {
		c.Telegram.PollInterval = 1 * time.Second
	}
	if c.Telegram.Polling == nil {
		enabled := true
		c.Telegram.Polling = &enabled
	}
	if c.Sync.BackfillInterval == 0 {
		c.Sync.BackfillInterval = 2 * time.Minute
	}
	if c.Sync.CheckInterval == 0 {
		c.Sync.CheckInterval = 30 * time.Second
	}
	if c.Sync.RunTimeout == 0 {
		c.Sync.RunTimeout = 5 * time.Minute
	}
	if c.Sync.PageSize == 0 {
		c.Sync.PageSize = c.Source.PageSize
	}
	if len(c.Sync.Categories) == 0 {
		c.Sync.Categories = append([]domain.Category(nil), domain.Categories...)
	}
	if c.Sync.NotifyOnStart == nil {
		enabled := true
		c.Sync.NotifyOnStart = &enabled
	}
	if c.Retention.UpdatedWithin == 0 {
		c.Retention.UpdatedWithin = 7 * 24 * time.Hour
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func (c *Config) validate() error {
	for _, category := range c.Sync.Categories {
		if !category.Valid() {
			return fmt.Errorf("sync.categories: unknown category %q", category)
		}
	}
	if c.Sync.PageSize <= 0 {
		return fmt.Errorf("sync.page_size must be positive, got %d", c.Sync.PageSize)
	}
	return nil
}
