// Пакет repository — слой доступа к внешнему хранилищу учётных записей (PostgreSQL).
// Все запросы — чистый SQL через pgx, без ORM.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arturkryukov/artstore/federation-module/internal/domain/model"
)

// Ошибки слоя репозиториев — общие виды ошибок доменной модели.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = model.ErrNotFound
	// ErrConflict — конфликт уникальности (дублирующийся ресурс).
	ErrConflict = model.ErrConflict
	// ErrStoreUnavailable — PostgreSQL недоступен или транзакция не зафиксирована.
	ErrStoreUnavailable = model.ErrStoreUnavailable
)

// MatchAll — маска поиска без фильтрации.
const MatchAll = "*"

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx, что позволяет
// использовать репозитории как внутри, так и вне транзакций.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store — явный дескриптор единицы работы с хранилищем.
// Передаётся параметром во все операции ядра.
type Store interface {
	Accounts() AccountRepository
	Roles() RoleRepository
}

type store struct {
	accounts AccountRepository
	roles    RoleRepository
}

// NewStore создаёт Store поверх пула или транзакции.
func NewStore(db DBTX) Store {
	return &store{
		accounts: NewAccountRepository(db),
		roles:    NewRoleRepository(db),
	}
}

func (s *store) Accounts() AccountRepository { return s.accounts }
func (s *store) Roles() RoleRepository       { return s.roles }

// TxRunner позволяет выполнять операции в транзакции.
type TxRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner создаёт TxRunner для управления транзакциями.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// RunInTx выполняет fn внутри транзакции.
// При ошибке fn — транзакция откатывается.
// При успехе транзакция коммитится, ошибки begin/commit оборачиваются в ErrStoreUnavailable.
func (r *TxRunner) RunInTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w: %w", ErrStoreUnavailable, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // откат после коммита: no-op

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w: %w", ErrStoreUnavailable, err)
	}
	return nil
}

// WithinTx выполняет fn с Store, привязанным к транзакции.
func (r *TxRunner) WithinTx(ctx context.Context, fn func(st Store) error) error {
	return r.RunInTx(ctx, func(tx pgx.Tx) error {
		return fn(NewStore(tx))
	})
}

// Pool возвращает Store поверх пула (вне транзакции) — для чтения.
func (r *TxRunner) Pool() Store {
	return NewStore(r.pool)
}

// wrapErr классифицирует ошибку pgx: нет строк → ErrNotFound,
// нарушение уникальности → ErrConflict, проблемы соединения → ErrStoreUnavailable.
func wrapErr(op string, err error) error {
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return ErrNotFound
	case isUniqueViolation(err):
		return fmt.Errorf("%s: %w: %w", op, ErrConflict, err)
	case isUnavailable(err):
		return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

// isUniqueViolation проверяет, является ли ошибка нарушением уникальности PostgreSQL.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// isUnavailable — ошибка соединения, таймаут или SQLSTATE классов
// 08 (connection exception), 53 (insufficient resources), 57P (operator intervention).
func isUnavailable(err error) bool {
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	if pgconn.Timeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, "08") ||
			strings.HasPrefix(pgErr.Code, "53") ||
			strings.HasPrefix(pgErr.Code, "57P")
	}
	return false
}

// escapeLike экранирует метасимволы LIKE, чтобы маска сравнивалась буквально.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// containsPattern формирует шаблон ILIKE для поиска подстроки.
func containsPattern(s string) string {
	return "%" + escapeLike(s) + "%"
}

// pageClause формирует LIMIT/OFFSET. Отрицательное значение отключает
// соответствующее ограничение. nextArg — номер следующего $-параметра.
func pageClause(first, max, nextArg int) (clause string, args []any) {
	var parts []string
	if max >= 0 {
		parts = append(parts, fmt.Sprintf("LIMIT $%d", nextArg))
		args = append(args, max)
		nextArg++
	}
	if first >= 0 {
		parts = append(parts, fmt.Sprintf("OFFSET $%d", nextArg))
		args = append(args, first)
	}
	return strings.Join(parts, " "), args
}
