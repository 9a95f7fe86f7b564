package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config структура конфигурации приложения
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	GRPC     GRPCConfig     `mapstructure:"grpc"`
	Stripe   StripeConfig   `mapstructure:"stripe"`
	Auth     AuthConfig     `mapstructure:"auth"`
}

// AppConfig общие настройки
type AppConfig struct {
	Env string `mapstructure:"env"`
}

// ServerConfig конфигурация HTTP сервера
type ServerConfig struct {
	Port            string `mapstructure:"port"`
	ReadTimeout     int    `mapstructure:"readTimeout"`
	WriteTimeout    int    `mapstructure:"writeTimeout"`
	ShutdownTimeout int    `mapstructure:"shutdownTimeout"`
}

// DatabaseConfig конфигурация базы данных.
// Driver: "postgres" (production) или "sqlite" (локальная разработка)
type DatabaseConfig struct {
	Driver         string `mapstructure:"driver"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	Database       string `mapstructure:"name"`
	SSLMode        string `mapstructure:"sslmode"`
	SQLitePath     string `mapstructure:"sqlitePath"`
	MigrateOnStart bool   `mapstructure:"migrateOnStart"`

	MaxConns               int `mapstructure:"maxConns"`
	MinConns               int `mapstructure:"minConns"`
	ConnMaxLifetimeSeconds int `mapstructure:"connMaxLifetimeSeconds"`
	ConnMaxIdleSeconds     int `mapstructure:"connMaxIdleSeconds"`
}

// RedisConfig конфигурация кеша
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	TTL      int    `mapstructure:"ttlSeconds"`
}

// KafkaConfig конфигурация публикации событий
type KafkaConfig struct {
	Brokers      []string `mapstructure:"brokers"`
	EnsureTopics bool     `mapstructure:"ensureTopics"`
}

// LoggingConfig конфигурация логгера
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// GRPCConfig конфигурация gRPC сервера (health)
type GRPCConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	UseTLS   bool   `mapstructure:"useTLS"`
	CertFile string `mapstructure:"certFile"`
	KeyFile  string `mapstructure:"keyFile"`
}

// StripeConfig конфигурация Stripe
type StripeConfig struct {
	APIKey                string `mapstructure:"apiKey"`
	WebhookSecret         string `mapstructure:"webhookSecret"`
	APIURL                string `mapstructure:"apiURL"`
	LookupTimeoutSeconds  int    `mapstructure:"lookupTimeoutSeconds"`
	SignatureToleranceSec int    `mapstructure:"signatureToleranceSeconds"`
}

// AuthConfig конфигурация проверки токенов
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwtSecret"`
}

// binding описывает ключ конфигурации, имя переменной окружения и значение по умолчанию
type binding struct {
	key string
	env string
	def interface{}
}

var bindings = []binding{
	{"app.env", "APP_ENV", "development"},

	{"server.port", "PORT", "8080"},
	{"server.readTimeout", "SERVER_READ_TIMEOUT", 15},
	{"server.writeTimeout", "SERVER_WRITE_TIMEOUT", 15},
	{"server.shutdownTimeout", "SERVER_SHUTDOWN_TIMEOUT", 30},

	{"database.driver", "DB_DRIVER", "postgres"},
	{"database.host", "DB_HOST", "localhost"},
	{"database.port", "DB_PORT", 5432},
	{"database.user", "DB_USER", "postgres"},
	{"database.password", "DB_PASSWORD", "postgres"},
	{"database.name", "DB_NAME", "shop"},
	{"database.sslmode", "DB_SSLMODE", "disable"},
	{"database.sqlitePath", "DB_SQLITE_PATH", "reconciler.db"},
	{"database.migrateOnStart", "DB_MIGRATE_ON_START", false},
	{"database.maxConns", "DB_MAX_CONNS", 10},
	{"database.minConns", "DB_MIN_CONNS", 2},
	{"database.connMaxLifetimeSeconds", "DB_CONN_MAX_LIFETIME", 3600},
	{"database.connMaxIdleSeconds", "DB_CONN_MAX_IDLE", 1800},

	{"redis.addr", "REDIS_ADDR", "localhost:6379"},
	{"redis.password", "REDIS_PASSWORD", ""},
	{"redis.db", "REDIS_DB", 0},
	{"redis.ttlSeconds", "REDIS_TTL_SECONDS", 900},

	{"kafka.brokers", "KAFKA_BROKERS", []string{}},
	{"kafka.ensureTopics", "KAFKA_ENSURE_TOPICS", true},

	{"logging.level", "LOG_LEVEL", "info"},
	{"logging.format", "LOG_FORMAT", "console"},

	{"grpc.host", "GRPC_HOST", "0.0.0.0"},
	{"grpc.port", "GRPC_PORT", "50051"},
	{"grpc.useTLS", "GRPC_USE_TLS", false},
	{"grpc.certFile", "GRPC_CERT_FILE", ""},
	{"grpc.keyFile", "GRPC_KEY_FILE", ""},

	{"stripe.apiKey", "STRIPE_API_KEY", ""},
	{"stripe.webhookSecret", "STRIPE_WEBHOOK_SECRET", ""},
	{"stripe.apiURL", "STRIPE_API_URL", ""},
	{"stripe.lookupTimeoutSeconds", "STRIPE_LOOKUP_TIMEOUT", 30},
	{"stripe.signatureToleranceSeconds", "STRIPE_SIGNATURE_TOLERANCE", 0},

	{"auth.jwtSecret", "JWT_SECRET", ""},
}

// Load загружает конфигурацию: значения по умолчанию, затем config.yml (если есть),
// затем переменные окружения
func Load() (*Config, error) {
	return LoadWith(viper.New(), ".")
}

// LoadWith загружает конфигурацию через переданный экземпляр viper
func LoadWith(v *viper.Viper, configPath string) (*Config, error) {
	for _, b := range bindings {
		v.SetDefault(b.key, b.def)
		if err := v.BindEnv(b.key, b.env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", b.env, err)
		}
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// KAFKA_BROKERS приходит строкой "host1:9092,host2:9092"
	if len(cfg.Kafka.Brokers) == 1 && strings.Contains(cfg.Kafka.Brokers[0], ",") {
		cfg.Kafka.Brokers = strings.Split(cfg.Kafka.Brokers[0], ",")
	}
	brokers := cfg.Kafka.Brokers[:0]
	for _, b := range cfg.Kafka.Brokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	cfg.Kafka.Brokers = brokers

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate проверяет значения, без которых сервис не может стартовать
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("config: unsupported database driver %q", c.Database.Driver)
	}
	if c.Server.Port == "" {
		return errors.New("config: server port is empty")
	}
	if c.Stripe.LookupTimeoutSeconds <= 0 {
		return errors.New("config: stripe lookup timeout must be positive")
	}
	return nil
}

// IsProduction сообщает, запущен ли сервис в production окружении
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}

// GetDSN возвращает строку подключения к базе данных
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// GetMigrateURL возвращает URL для golang-migrate (драйвер pgx/v5)
func (c *DatabaseConfig) GetMigrateURL() string {
	u := url.URL{
		Scheme:   "pgx5",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: "sslmode=" + c.SSLMode,
	}
	return u.String()
}

// ConnMaxLifetime предельный возраст соединения в пуле
func (c *DatabaseConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetimeSeconds) * time.Second
}

// ConnMaxIdleTime сколько соединение может простаивать
func (c *DatabaseConfig) ConnMaxIdleTime() time.Duration {
	return time.Duration(c.ConnMaxIdleSeconds) * time.Second
}

// LookupTimeout таймаут запроса метаданных подписки в Stripe
func (c *StripeConfig) LookupTimeout() time.Duration {
	return time.Duration(c.LookupTimeoutSeconds) * time.Second
}

// SignatureTolerance допустимый возраст подписи вебхука (0 - без ограничения)
func (c *StripeConfig) SignatureTolerance() time.Duration {
	return time.Duration(c.SignatureToleranceSec) * time.Second
}

// CacheTTL время жизни записей в Redis
func (c *RedisConfig) CacheTTL() time.Duration {
	return time.Duration(c.TTL) * time.Second
}
