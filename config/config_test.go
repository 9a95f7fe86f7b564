package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadWith(viper.New(), t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 10, cfg.Database.MaxConns)
	assert.Equal(t, 2, cfg.Database.MinConns)
	assert.Equal(t, time.Hour, cfg.Database.ConnMaxLifetime())
	assert.Equal(t, 30*time.Minute, cfg.Database.ConnMaxIdleTime())
	assert.Equal(t, 30*time.Second, cfg.Stripe.LookupTimeout())
	assert.Zero(t, cfg.Stripe.SignatureTolerance())
	assert.Equal(t, 15*time.Minute, cfg.Redis.CacheTTL())
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.False(t, cfg.IsProduction())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_test")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092")
	t.Setenv("APP_ENV", "production")
	t.Setenv("DB_MAX_CONNS", "25")
	t.Setenv("DB_CONN_MAX_IDLE", "60")

	cfg, err := LoadWith(viper.New(), t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "whsec_test", cfg.Stripe.WebhookSecret)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, 25, cfg.Database.MaxConns)
	assert.Equal(t, time.Minute, cfg.Database.ConnMaxIdleTime())
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("DB_DRIVER", "mongo")

	_, err := LoadWith(viper.New(), t.TempDir())
	assert.Error(t, err)
}

func TestDatabaseURLs(t *testing.T) {
	db := DatabaseConfig{Host: "db", Port: 5432, User: "app", Password: "p@ss", Database: "shop", SSLMode: "disable"}

	assert.Equal(t, "host=db port=5432 user=app password=p@ss dbname=shop sslmode=disable", db.GetDSN())
	assert.Equal(t, "pgx5://app:p%40ss@db:5432/shop?sslmode=disable", db.GetMigrateURL())
}
