package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Dhoini/payment-reconciler/config"
	"github.com/Dhoini/payment-reconciler/internal/repository/postgres"
	"github.com/Dhoini/payment-reconciler/migrations"
	"github.com/Dhoini/payment-reconciler/pkg/logger"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

func init() {
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// Store единственный дескриптор реляционного хранилища.
// Передается в репозитории явно, глобального подключения нет.
type Store struct {
	db     *sqlx.DB
	pool   *pgxpool.Pool
	driver string
	log    *logger.Logger
}

// Open открывает хранилище по конфигурации
func Open(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (*Store, error) {
	switch cfg.Driver {
	case DriverPostgres:
		if cfg.MigrateOnStart {
			if err := postgres.MigrateUp(cfg.GetMigrateURL(), log); err != nil {
				return nil, err
			}
		}
		return OpenPostgres(ctx, cfg.GetDSN(), postgres.PoolSettings{
			MaxConns:        int32(cfg.MaxConns),
			MinConns:        int32(cfg.MinConns),
			MaxConnLifetime: cfg.ConnMaxLifetime(),
			MaxConnIdleTime: cfg.ConnMaxIdleTime(),
		}, log)
	case DriverSQLite:
		return OpenSQLite(ctx, cfg.SQLitePath, log)
	}
	return nil, fmt.Errorf("repository: unsupported driver %q", cfg.Driver)
}

// OpenPostgres поднимает пул pgx и оборачивает его в sqlx
func OpenPostgres(ctx context.Context, dsn string, settings postgres.PoolSettings, log *logger.Logger) (*Store, error) {
	pool, err := postgres.NewConnection(ctx, dsn, settings, log)
	if err != nil {
		return nil, err
	}

	db := sqlx.NewDb(stdlib.OpenDBFromPool(pool), "pgx")
	return &Store{db: db, pool: pool, driver: DriverPostgres, log: log}, nil
}

// OpenSQLite открывает SQLite и применяет встроенную схему.
// path ":memory:" дает изолированную базу на время жизни Store.
func OpenSQLite(ctx context.Context, path string, log *logger.Logger) (*Store, error) {
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

	sqlDB, err := sql.Open(DriverSQLite, dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to open sqlite: %w", err)
	}
	// одно соединение: у in-memory базы каждое соединение видит свою копию
	sqlDB.SetMaxOpenConns(1)

	db := sqlx.NewDb(sqlDB, DriverSQLite)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to ping sqlite: %w", err)
	}

	schema, err := migrations.SQLiteSchema()
	if err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to apply sqlite schema: %w", err)
	}

	log.Infow("SQLite store ready", "path", path)
	return &Store{db: db, driver: DriverSQLite, log: log}, nil
}

// DB возвращает sqlx дескриптор
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Driver возвращает имя драйвера
func (s *Store) Driver() string {
	return s.driver
}

// Ping проверяет доступность хранилища
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close закрывает хранилище
func (s *Store) Close() error {
	err := s.db.Close()
	if s.pool != nil {
		s.pool.Close()
	}
	return err
}

// rebind переводит плейсхолдеры ? в формат драйвера
func (s *Store) rebind(query string) string {
	return s.db.Rebind(query)
}
