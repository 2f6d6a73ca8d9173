package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database      DatabaseConfig
	Redis         RedisConfig
	JWT           JWTConfig
	CORS          CORSConfig
	Log           LogConfig
	Payment       PaymentConfig
	Chat          ChatConfig
	Notifications NotificationsConfig
	Analytics     AnalyticsConfig
	Subscriptions SubscriptionsConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret            string
	Expiration        time.Duration
	RefreshExpiration time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// PaymentConfig describes the hosted-checkout gateway integration.
type PaymentConfig struct {
	BaseURL        string
	AccessToken    string
	WebhookSecret  string
	Sandbox        bool
	SuccessURL     string
	FailureURL     string
	RequestTimeout time.Duration
}

// ChatConfig tunes the support chat endpoints.
type ChatConfig struct {
	TypingTTL      time.Duration
	UnreadCacheTTL time.Duration
	PageSize       int
}

// NotificationsConfig sizes the broadcast fanout workers.
type NotificationsConfig struct {
	FanoutWorkers   int
	FanoutBatchSize int
	QueueBuffer     int
}

// AnalyticsConfig governs cache behaviour for the revenue dashboards.
type AnalyticsConfig struct {
	Enabled  bool
	CacheTTL time.Duration
}

// SubscriptionsConfig controls recurring-access behaviour.
type SubscriptionsConfig struct {
	Enabled     bool
	GracePeriod time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:            v.GetString("JWT_SECRET"),
		Expiration:        parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		RefreshExpiration: parseDuration(v.GetString("REFRESH_TOKEN_EXPIRATION"), 7*24*time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Payment = PaymentConfig{
		BaseURL:        v.GetString("PAYMENT_BASE_URL"),
		AccessToken:    v.GetString("PAYMENT_ACCESS_TOKEN"),
		WebhookSecret:  v.GetString("PAYMENT_WEBHOOK_SECRET"),
		Sandbox:        v.GetBool("PAYMENT_SANDBOX"),
		SuccessURL:     v.GetString("PAYMENT_SUCCESS_URL"),
		FailureURL:     v.GetString("PAYMENT_FAILURE_URL"),
		RequestTimeout: parseDuration(v.GetString("PAYMENT_REQUEST_TIMEOUT"), 10*time.Second),
	}

	cfg.Chat = ChatConfig{
		TypingTTL:      parseDuration(v.GetString("CHAT_TYPING_TTL"), 6*time.Second),
		UnreadCacheTTL: parseDuration(v.GetString("CHAT_UNREAD_CACHE_TTL"), 8*time.Second),
		PageSize:       v.GetInt("CHAT_PAGE_SIZE"),
	}

	cfg.Notifications = NotificationsConfig{
		FanoutWorkers:   v.GetInt("NOTIFICATION_FANOUT_WORKERS"),
		FanoutBatchSize: v.GetInt("NOTIFICATION_FANOUT_BATCH_SIZE"),
		QueueBuffer:     v.GetInt("NOTIFICATION_QUEUE_BUFFER"),
	}

	cfg.Analytics = AnalyticsConfig{
		Enabled:  v.GetBool("ENABLE_ANALYTICS"),
		CacheTTL: parseDuration(v.GetString("ANALYTICS_CACHE_TTL"), 10*time.Minute),
	}

	cfg.Subscriptions = SubscriptionsConfig{
		Enabled:     v.GetBool("ENABLE_SUBSCRIPTIONS"),
		GracePeriod: parseDuration(v.GetString("SUBSCRIPTION_GRACE_PERIOD"), 72*time.Hour),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "lms_commerce")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("REFRESH_TOKEN_EXPIRATION", "168h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("PAYMENT_BASE_URL", "https://api.checkout.example.com")
	v.SetDefault("PAYMENT_ACCESS_TOKEN", "")
	v.SetDefault("PAYMENT_WEBHOOK_SECRET", "dev_webhook_secret")
	v.SetDefault("PAYMENT_SANDBOX", true)
	v.SetDefault("PAYMENT_SUCCESS_URL", "http://localhost:3000/checkout/success")
	v.SetDefault("PAYMENT_FAILURE_URL", "http://localhost:3000/checkout/failure")
	v.SetDefault("PAYMENT_REQUEST_TIMEOUT", "10s")

	v.SetDefault("CHAT_TYPING_TTL", "6s")
	v.SetDefault("CHAT_UNREAD_CACHE_TTL", "8s")
	v.SetDefault("CHAT_PAGE_SIZE", 50)

	v.SetDefault("NOTIFICATION_FANOUT_WORKERS", 2)
	v.SetDefault("NOTIFICATION_FANOUT_BATCH_SIZE", 500)
	v.SetDefault("NOTIFICATION_QUEUE_BUFFER", 64)

	v.SetDefault("ENABLE_ANALYTICS", true)
	v.SetDefault("ANALYTICS_CACHE_TTL", "10m")

	v.SetDefault("ENABLE_SUBSCRIPTIONS", true)
	v.SetDefault("SUBSCRIPTION_GRACE_PERIOD", "72h")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
