package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"tribuna/internal/models"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App           AppConfig           `yaml:"app"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Backup        BackupConfig        `yaml:"backup"`
	Monitoring    MonitoringConfig    `yaml:"monitoring"`
	Logging       LoggingConfig       `yaml:"logging"`
	API           APIConfig           `yaml:"api"`
	Booking       BookingConfig       `yaml:"booking"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Seed          SeedConfig          `yaml:"seed"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
	// Timezone матчей, например Africa/Dar_es_Salaam
	Timezone string `yaml:"timezone"`
}

// Location resolves the timezone match schedules are written in.
func (a AppConfig) Location() (*time.Location, error) {
	if a.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %w", a.Timezone, err)
	}
	return loc, nil
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type APIConfig struct {
	HTTP      APIHTTPConfig      `yaml:"http"`
	GRPC      APIGRPCConfig      `yaml:"grpc"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIGRPCConfig struct {
	Enabled    bool         `yaml:"enabled"`
	Port       int          `yaml:"port"`
	Reflection bool         `yaml:"reflection"`
	TLS        APITLSConfig `yaml:"tls"`
}

type APITLSConfig struct {
	Enabled           bool   `yaml:"enabled"`
	CertFile          string `yaml:"cert_file"`
	KeyFile           string `yaml:"key_file"`
	ClientCAFile      string `yaml:"client_ca_file"`
	RequireClientCert bool   `yaml:"require_client_cert"`
}

type APIAuthConfig struct {
	// JWTSecret подписывает HS256 токены пользователей HTTP API
	JWTSecret    string         `yaml:"jwt_secret"`
	JWTIssuer    string         `yaml:"jwt_issuer"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type BookingConfig struct {
	ClosureLeadMinutes int `yaml:"closure_lead_minutes"`
	// PendingTimeoutMinutes: nil means the default, 0 disables expiry
	PendingTimeoutMinutes  *int   `yaml:"pending_timeout_minutes"`
	CompletionGraceMinutes int    `yaml:"completion_grace_minutes"`
	DefaultDurationMinutes int    `yaml:"default_duration_minutes"`
	SweepSchedule          string `yaml:"sweep_schedule"`
	MaxSeatsPerBooking     int    `yaml:"max_seats_per_booking"`
	UserRateLimit          int    `yaml:"user_rate_limit"`
	UserRateWindowSeconds  int    `yaml:"user_rate_window_seconds"`
}

func (b BookingConfig) PendingTimeout() time.Duration {
	if b.PendingTimeoutMinutes == nil {
		return models.DefaultPendingTimeoutMinutes * time.Minute
	}
	return time.Duration(*b.PendingTimeoutMinutes) * time.Minute
}

func (b BookingConfig) CompletionGrace() time.Duration {
	return time.Duration(b.CompletionGraceMinutes) * time.Minute
}

type NotificationsConfig struct {
	Channel  string             `yaml:"channel"` // log, telegram, amqp
	Telegram TelegramConfig     `yaml:"telegram"`
	AMQP     AMQPConfig         `yaml:"amqp"`
	Retry    RetryConfig        `yaml:"retry"`
	Worker   NotificationWorker `yaml:"worker"`
}

type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	Debug    bool   `yaml:"debug"`
}

type AMQPConfig struct {
	URL   string `yaml:"url"`
	Queue string `yaml:"queue"`
}

type RetryConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
}

type NotificationWorker struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	BatchSize    int           `yaml:"batch_size"`
	RedisQueue   string        `yaml:"redis_queue"`
}

type SeedConfig struct {
	StadiumsFile string `yaml:"stadiums_file"`
}

func Load(configPath string) (*Config, error) {
	// Загружаем .env файл если существует
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Предварительная замена переменных окружения в YAML
	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if _, err := c.App.Location(); err != nil {
		return err
	}
	if c.API.HTTP.Enabled && len(c.API.Auth.JWTSecret) < 16 {
		return errors.New("api.auth.jwt_secret must be at least 16 characters")
	}
	if c.Booking.ClosureLeadMinutes < 0 {
		return errors.New("booking.closure_lead_minutes must not be negative")
	}
	if c.Booking.PendingTimeoutMinutes != nil && *c.Booking.PendingTimeoutMinutes < 0 {
		return errors.New("booking.pending_timeout_minutes must not be negative")
	}
	if _, err := cron.ParseStandard(c.Booking.SweepSchedule); err != nil {
		return fmt.Errorf("invalid booking.sweep_schedule: %w", err)
	}
	if c.Backup.Enabled {
		if c.Backup.StoragePath == "" {
			return errors.New("backup.storage_path is required when backups are enabled")
		}
		if _, err := cron.ParseStandard(c.Backup.Schedule); err != nil {
			return fmt.Errorf("invalid backup.schedule: %w", err)
		}
	}

	switch c.Notifications.Channel {
	case "log":
	case "telegram":
		if c.Notifications.Telegram.BotToken == "" || c.Notifications.Telegram.BotToken == "YOUR_BOT_TOKEN_HERE" {
			return errors.New("telegram bot token is required for the telegram channel")
		}
	case "amqp":
		if c.Notifications.AMQP.URL == "" {
			return errors.New("notifications.amqp.url is required for the amqp channel")
		}
	default:
		return fmt.Errorf("unknown notifications.channel %q", c.Notifications.Channel)
	}

	return ValidateAPIKeys(c.API.Auth.APIKeys)
}

func ValidateAPIKeys(keys []APIClientKey) error {
	seen := make(map[string]bool)
	for _, k := range keys {
		if strings.TrimSpace(k.Key) == "" {
			return fmt.Errorf("api key '%s' is empty", k.Name)
		}
		if seen[k.Key] {
			return fmt.Errorf("duplicate api key for client '%s'", k.Name)
		}
		seen[k.Key] = true
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "tribuna"
	}
	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 8081
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}
	if c.API.RateLimit.RPS == 0 {
		c.API.RateLimit.RPS = 10
	}
	if c.API.RateLimit.Burst == 0 {
		c.API.RateLimit.Burst = 20
	}

	// Booking defaults
	if c.Booking.ClosureLeadMinutes == 0 {
		c.Booking.ClosureLeadMinutes = models.DefaultClosureLeadMinutes
	}
	if c.Booking.CompletionGraceMinutes == 0 {
		c.Booking.CompletionGraceMinutes = models.DefaultCompletionGraceMinutes
	}
	if c.Booking.DefaultDurationMinutes == 0 {
		c.Booking.DefaultDurationMinutes = models.DefaultMatchDurationMinutes
	}
	if c.Booking.SweepSchedule == "" {
		c.Booking.SweepSchedule = "@every 1m"
	}
	if c.Booking.MaxSeatsPerBooking == 0 {
		c.Booking.MaxSeatsPerBooking = models.DefaultMaxSeatsPerBooking
	}
	if c.Booking.UserRateLimit == 0 {
		c.Booking.UserRateLimit = 5
	}
	if c.Booking.UserRateWindowSeconds == 0 {
		c.Booking.UserRateWindowSeconds = 60
	}

	if c.Backup.Schedule == "" {
		c.Backup.Schedule = "@daily"
	}

	// Notification defaults
	if c.Notifications.Channel == "" {
		c.Notifications.Channel = "log"
	}
	if c.Notifications.AMQP.Queue == "" {
		c.Notifications.AMQP.Queue = "tribuna.notifications"
	}
	if c.Notifications.Retry.MaxRetries == 0 {
		c.Notifications.Retry.MaxRetries = 5
	}
	if c.Notifications.Retry.BaseDelay == 0 {
		c.Notifications.Retry.BaseDelay = 2 * time.Second
	}
	if c.Notifications.Retry.MaxDelay == 0 {
		c.Notifications.Retry.MaxDelay = time.Minute
	}
	if c.Notifications.Worker.PollInterval == 0 {
		c.Notifications.Worker.PollInterval = 5 * time.Second
	}
	if c.Notifications.Worker.BatchSize == 0 {
		c.Notifications.Worker.BatchSize = 50
	}
	if c.Notifications.Worker.RedisQueue == "" {
		c.Notifications.Worker.RedisQueue = "tribuna:notifications"
	}
}
