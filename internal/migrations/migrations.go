package migrations

import (
	"embed"
	"errors"
	"fmt"

	"explorer/internal/config"
	"explorer/internal/logger"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

//go:embed sql/*.sql
var files embed.FS

// Run применяет миграции. По умолчанию используются встроенные SQL-файлы,
// MIGRATIONS_PATH (file://...) позволяет подменить каталог.
func Run(cfg *config.Cfg, log *logger.Zap) error {
	if !cfg.Migrations.Enabled || !cfg.Database.Enabled {
		log.Info("Миграции отключены")
		return nil
	}

	m, err := newMigrate(cfg)
	if err != nil {
		return err
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil || dbErr != nil {
			log.Warn("Ошибка закрытия мигратора", zap.NamedError("source", srcErr), zap.NamedError("db", dbErr))
		}
	}()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Info("Миграции актуальны")
			return nil
		}
		return fmt.Errorf("ошибка применения миграций: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return err
	}
	log.Info("Миграции применены", zap.Uint("version", version), zap.Bool("dirty", dirty))
	return nil
}

func newMigrate(cfg *config.Cfg) (*migrate.Migrate, error) {
	if cfg.Migrations.Path != "" {
		m, err := migrate.New(cfg.Migrations.Path, cfg.Database.URL())
		if err != nil {
			return nil, fmt.Errorf("ошибка инициализации миграций из %s: %w", cfg.Migrations.Path, err)
		}
		return m, nil
	}

	src, err := iofs.New(files, "sql")
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения встроенных миграций: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, cfg.Database.URL())
	if err != nil {
		return nil, fmt.Errorf("ошибка инициализации миграций: %w", err)
	}
	return m, nil
}
