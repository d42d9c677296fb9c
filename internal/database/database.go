// Пакет database — пул подключений к хранилищу учётных записей,
// схема хранилища (встроенные миграции) и её проверка для /health/ready.
package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arturkryukov/artstore/federation-module/internal/config"
	"github.com/arturkryukov/artstore/federation-module/internal/domain/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	applicationName = "federation-module"

	connectAttempts = 5
	connectBackoff  = 500 * time.Millisecond
	pingTimeout     = 3 * time.Second
)

// Connect открывает пул к хранилищу учётных записей. Хранилище может
// стартовать позже сервиса, поэтому ping повторяется с линейной паузой.
// Неудача — ошибка вида model.ErrStoreUnavailable.
func Connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("разбор DSN хранилища: %w", err)
	}
	// Видно в pg_stat_activity.
	poolCfg.ConnConfig.RuntimeParams["application_name"] = applicationName

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("создание пула подключений: %w", err)
	}

	if err := pingWithRetry(ctx, pool, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %w", model.ErrStoreUnavailable, err)
	}

	logger.Info("Хранилище учётных записей подключено",
		slog.String("host", cfg.DBHost),
		slog.Int("port", cfg.DBPort),
		slog.String("database", cfg.DBName),
		slog.Int("max_conns", int(poolCfg.MaxConns)),
	)
	return pool, nil
}

func pingWithRetry(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	var err error
	for attempt := 1; ; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		err = pool.Ping(pingCtx)
		cancel()
		if err == nil || attempt == connectAttempts {
			return err
		}

		logger.Warn("Хранилище учётных записей недоступно, повтор подключения",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(connectBackoff * time.Duration(attempt)):
		}
	}
}

// Migrate приводит схему хранилища к последней встроенной версии.
// Схема в состоянии dirty (прерванная миграция) требует ручного вмешательства.
func Migrate(cfg *config.Config, logger *slog.Logger) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("источник миграций: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, cfg.MigrateURL())
	if err != nil {
		return fmt.Errorf("инициализация миграций: %w", err)
	}
	defer m.Close()

	before, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		before = 0
	case err != nil:
		return fmt.Errorf("чтение версии схемы: %w", err)
	case dirty:
		return fmt.Errorf("схема хранилища в состоянии dirty (версия %d), нужна ручная починка", before)
	}

	err = m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		logger.Info("Схема хранилища актуальна", slog.Uint64("version", uint64(before)))
		return nil
	}
	if err != nil {
		return fmt.Errorf("применение миграций: %w", err)
	}

	after, _, _ := m.Version()
	logger.Info("Схема хранилища обновлена",
		slog.Uint64("from", uint64(before)),
		slog.Uint64("to", uint64(after)),
	)
	return nil
}

// ReadinessChecker — готовность хранилища: подключение есть и схема применена.
type ReadinessChecker struct {
	pool *pgxpool.Pool
}

func NewReadinessChecker(pool *pgxpool.Pool) *ReadinessChecker {
	return &ReadinessChecker{pool: pool}
}

// CheckReady возвращает "fail", если хранилище недоступно или таблиц
// accounts и roles нет.
func (c *ReadinessChecker) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	var schemaReady bool
	err := c.pool.QueryRow(ctx,
		`SELECT to_regclass('accounts') IS NOT NULL AND to_regclass('roles') IS NOT NULL`,
	).Scan(&schemaReady)
	if err != nil {
		return "fail", fmt.Sprintf("хранилище учётных записей недоступно: %v", err)
	}
	if !schemaReady {
		return "fail", "схема хранилища не применена"
	}
	return "ok", "хранилище доступно"
}
