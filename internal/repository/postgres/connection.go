package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/Dhoini/payment-reconciler/pkg/logger"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ApplicationName видно в pg_stat_activity
const ApplicationName = "payment-reconciler"

// PoolSettings размеры и время жизни соединений пула. Нулевые поля
// оставляют значения pgxpool по умолчанию.
type PoolSettings struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// NewPoolConfig разбирает строку подключения и применяет настройки пула
func NewPoolConfig(connString string, settings PoolSettings) (*pgxpool.Config, error) {
	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	if settings.MaxConns > 0 {
		poolConfig.MaxConns = settings.MaxConns
	}
	if settings.MinConns > 0 {
		poolConfig.MinConns = settings.MinConns
	}
	if poolConfig.MinConns > poolConfig.MaxConns {
		return nil, fmt.Errorf("pool min conns %d exceeds max conns %d", poolConfig.MinConns, poolConfig.MaxConns)
	}
	if settings.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = settings.MaxConnLifetime
	}
	if settings.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = settings.MaxConnIdleTime
	}

	if _, ok := poolConfig.ConnConfig.RuntimeParams["application_name"]; !ok {
		poolConfig.ConnConfig.RuntimeParams["application_name"] = ApplicationName
	}
	return poolConfig, nil
}

// NewConnection поднимает пул и проверяет, что база отвечает
func NewConnection(ctx context.Context, connString string, settings PoolSettings, log *logger.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := NewPoolConfig(connString, settings)
	if err != nil {
		return nil, err
	}

	log.Infow("Connecting to PostgreSQL",
		"host", poolConfig.ConnConfig.Host,
		"database", poolConfig.ConnConfig.Database,
		"maxConns", poolConfig.MaxConns,
		"minConns", poolConfig.MinConns,
	)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	log.Info("Successfully connected to PostgreSQL")
	return pool, nil
}
