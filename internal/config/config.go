package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config представляет структуру конфигурации для приложения.
type Config struct {
	App struct {
		Port string `mapstructure:"port"`
		Env  string `mapstructure:"env"`
	} `mapstructure:"app"`
	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
	Database struct {
		DSN     string `mapstructure:"dsn"`
		Migrate bool   `mapstructure:"migrate"`
	} `mapstructure:"database"`
	Redis struct {
		Addr     string        `mapstructure:"addr"`
		Password string        `mapstructure:"password"`
		DB       int           `mapstructure:"db"`
		CacheTTL time.Duration `mapstructure:"cacheTtl"`
	} `mapstructure:"redis"`
	Kafka struct {
		Brokers            []string `mapstructure:"brokers"`
		EventsTopic        string   `mapstructure:"eventsTopic"`
		NotificationsTopic string   `mapstructure:"notificationsTopic"`
	} `mapstructure:"kafka"`
	Stripe struct {
		APIKey        string `mapstructure:"apiKey"`
		WebhookSecret string `mapstructure:"webhookSecret"`
		APIURL        string `mapstructure:"apiUrl"`
		MaxRetries    uint64 `mapstructure:"maxRetries"`
	} `mapstructure:"stripe"`
	GRPC struct {
		Port string `mapstructure:"port"`
	} `mapstructure:"grpc"`
	Auth struct {
		JWTSecret string `mapstructure:"jwtSecret"`
	} `mapstructure:"auth"`
}

// IsProduction true для APP_ENV=production.
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

// setDefaults регистрирует все ключи, иначе AutomaticEnv не увидит их при Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.port", "8080")
	v.SetDefault("app.env", "development")
	v.SetDefault("log.level", "info")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.migrate", false)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.cacheTtl", 5*time.Minute)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.eventsTopic", "billing.events")
	v.SetDefault("kafka.notificationsTopic", "billing.notifications")
	v.SetDefault("stripe.apiKey", "")
	v.SetDefault("stripe.webhookSecret", "")
	v.SetDefault("stripe.apiUrl", "")
	v.SetDefault("stripe.maxRetries", 3)
	v.SetDefault("grpc.port", "9090")
	v.SetDefault("auth.jwtSecret", "")
}

// LoadConfig загружает конфигурацию из config.yml и переменных окружения.
// Вне production сначала подгружается .env файл, если он есть.
func LoadConfig(envFile string, configPaths ...string) (*Config, error) {
	if os.Getenv("APP_ENV") != "production" && envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(configPaths) == 0 {
		configPaths = []string{".", "./config"}
	}
	for _, p := range configPaths {
		v.AddConfigPath(p)
	}

	// STRIPE_WEBHOOKSECRET -> stripe.webhooksecret
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv() // Чтение переменных окружения

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate проверяет обязательные параметры.
func (c *Config) Validate() error {
	var missing []string
	if c.App.Port == "" {
		missing = append(missing, "app.port")
	}
	if c.GRPC.Port == "" {
		missing = append(missing, "grpc.port")
	}
	if c.Database.DSN == "" {
		missing = append(missing, "database.dsn")
	}
	if c.Stripe.APIKey == "" {
		missing = append(missing, "stripe.apiKey")
	}
	if c.Stripe.WebhookSecret == "" {
		missing = append(missing, "stripe.webhookSecret")
	}
	if c.Auth.JWTSecret == "" {
		missing = append(missing, "auth.jwtSecret")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	if c.Redis.CacheTTL < 0 {
		return errors.New("redis.cacheTtl must not be negative")
	}
	return nil
}
