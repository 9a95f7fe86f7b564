// Package migrations содержит схему базы данных для обоих поддерживаемых драйверов.
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
)

//go:embed postgres/*.sql sqlite/*.sql
var files embed.FS

// FS возвращает каталог миграций для драйвера (postgres или sqlite)
func FS(driver string) (fs.FS, error) {
	switch driver {
	case "postgres", "sqlite":
		return fs.Sub(files, driver)
	}
	return nil, fmt.Errorf("migrations: unsupported driver %q", driver)
}

// SQLiteSchema возвращает начальную схему для SQLite (локальная разработка и тесты)
func SQLiteSchema() (string, error) {
	data, err := files.ReadFile("sqlite/000001_init.up.sql")
	if err != nil {
		return "", fmt.Errorf("migrations: read sqlite schema: %w", err)
	}
	return string(data), nil
}
