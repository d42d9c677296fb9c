package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/arturkryukov/artstore/federation-module/internal/domain/model"
)

// AccountRepository — операции с таблицами accounts и account_roles.
type AccountRepository interface {
	// GetByID возвращает учётную запись по id.
	GetByID(ctx context.Context, id int64) (*model.Account, error)
	// GetByUsername — точное совпадение username (с учётом регистра).
	GetByUsername(ctx context.Context, username string) (*model.Account, error)
	// GetByEmail — точное совпадение email.
	GetByEmail(ctx context.Context, email string) (*model.Account, error)
	// Count возвращает количество учётных записей.
	Count(ctx context.Context) (int, error)
	// List возвращает все учётные записи, упорядоченные по username.
	List(ctx context.Context, first, max int) ([]*model.Account, error)
	// Search — подстрока в username или email без учёта регистра.
	// Маска "*" эквивалентна List.
	Search(ctx context.Context, pattern string, first, max int) ([]*model.Account, error)
	// Create создаёт учётную запись, заполняет ID.
	Create(ctx context.Context, acc *model.Account) error
	// Update сохраняет профиль и статус (без пароля).
	Update(ctx context.Context, acc *model.Account) error
	// UpdatePassword сохраняет хэш и время смены пароля одним UPDATE.
	UpdatePassword(ctx context.Context, id int64, hash *string, changedAt *time.Time) error
	// Delete удаляет строку учётной записи.
	Delete(ctx context.Context, id int64) error

	// ListRoles возвращает роли учётной записи с правами.
	ListRoles(ctx context.Context, accountID int64) ([]*model.Role, error)
	// LinkRole связывает учётную запись с ролью (идемпотентно).
	LinkRole(ctx context.Context, accountID, roleID int64) error
	// UnlinkRole удаляет связь. Отсутствие связи — не ошибка.
	UnlinkRole(ctx context.Context, accountID, roleID int64) error
	// UnlinkAllRoles удаляет все связи учётной записи.
	UnlinkAllRoles(ctx context.Context, accountID int64) error
}

type accountRepo struct {
	db DBTX
}

// NewAccountRepository создаёт репозиторий учётных записей.
func NewAccountRepository(db DBTX) AccountRepository {
	return &accountRepo{db: db}
}

const accountColumns = `id, username, password_hash, status, first_name, last_name, middle_name,
	email, phone, department, position, ip_address, max_sessions, max_idle_time,
	blocking_date, banner_viewed, created, password_changed_at`

func scanAccount(row pgx.Row) (*model.Account, error) {
	a := &model.Account{}
	var status string
	err := row.Scan(
		&a.ID, &a.Username, &a.PasswordHash, &status, &a.FirstName, &a.LastName, &a.MiddleName,
		&a.Email, &a.Phone, &a.Department, &a.Position, &a.IPAddress, &a.MaxSessions, &a.MaxIdleTime,
		&a.BlockingDate, &a.BannerViewed, &a.CreatedTimestamp, &a.PasswordChangedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Status = model.AccountStatus(status)
	return a, nil
}

func (r *accountRepo) getOne(ctx context.Context, op, where string, arg any) (*model.Account, error) {
	query := fmt.Sprintf(`SELECT %s FROM accounts WHERE %s`, accountColumns, where)
	a, err := scanAccount(r.db.QueryRow(ctx, query, arg))
	if err != nil {
		return nil, wrapErr(op, err)
	}
	return a, nil
}

func (r *accountRepo) GetByID(ctx context.Context, id int64) (*model.Account, error) {
	return r.getOne(ctx, "ошибка получения учётной записи", "id = $1", id)
}

func (r *accountRepo) GetByUsername(ctx context.Context, username string) (*model.Account, error) {
	return r.getOne(ctx, "ошибка получения учётной записи по username", "username = $1", username)
}

func (r *accountRepo) GetByEmail(ctx context.Context, email string) (*model.Account, error) {
	// Email не уникален: берём первую по id запись
	return r.getOne(ctx, "ошибка получения учётной записи по email", "email = $1 ORDER BY id LIMIT 1", email)
}

func (r *accountRepo) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&count); err != nil {
		return 0, wrapErr("ошибка подсчёта учётных записей", err)
	}
	return count, nil
}

func (r *accountRepo) List(ctx context.Context, first, max int) ([]*model.Account, error) {
	return r.Search(ctx, MatchAll, first, max)
}

func (r *accountRepo) Search(ctx context.Context, pattern string, first, max int) ([]*model.Account, error) {
	var (
		where string
		args  []any
	)
	if pattern != MatchAll {
		where = `WHERE username ILIKE $1 ESCAPE '\' OR email ILIKE $1 ESCAPE '\'`
		args = append(args, containsPattern(pattern))
	}
	page, pageArgs := pageClause(first, max, len(args)+1)
	args = append(args, pageArgs...)

	query := strings.TrimSpace(fmt.Sprintf(`SELECT %s FROM accounts %s ORDER BY username, id %s`,
		accountColumns, where, page))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("ошибка поиска учётных записей", err)
	}
	defer rows.Close()

	var result []*model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, wrapErr("ошибка сканирования учётной записи", err)
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("ошибка итерации учётных записей", err)
	}
	return result, nil
}

func (r *accountRepo) Create(ctx context.Context, a *model.Account) error {
	query := `
		INSERT INTO accounts (username, password_hash, status, first_name, last_name, middle_name,
			email, phone, department, position, ip_address, max_sessions, max_idle_time,
			blocking_date, banner_viewed, created, password_changed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING id`

	err := r.db.QueryRow(ctx, query,
		a.Username, a.PasswordHash, string(a.Status), a.FirstName, a.LastName, a.MiddleName,
		a.Email, a.Phone, a.Department, a.Position, a.IPAddress, a.MaxSessions, a.MaxIdleTime,
		a.BlockingDate, a.BannerViewed, a.CreatedTimestamp, a.PasswordChangedAt,
	).Scan(&a.ID)
	if err != nil {
		return wrapErr("ошибка создания учётной записи", err)
	}
	return nil
}

func (r *accountRepo) Update(ctx context.Context, a *model.Account) error {
	query := `
		UPDATE accounts SET
			username = $2, status = $3, first_name = $4, last_name = $5, middle_name = $6,
			email = $7, phone = $8, department = $9, position = $10, ip_address = $11,
			max_sessions = $12, max_idle_time = $13, blocking_date = $14, banner_viewed = $15,
			created = $16
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query,
		a.ID, a.Username, string(a.Status), a.FirstName, a.LastName, a.MiddleName,
		a.Email, a.Phone, a.Department, a.Position, a.IPAddress,
		a.MaxSessions, a.MaxIdleTime, a.BlockingDate, a.BannerViewed, a.CreatedTimestamp,
	)
	if err != nil {
		return wrapErr("ошибка обновления учётной записи", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *accountRepo) UpdatePassword(ctx context.Context, id int64, hash *string, changedAt *time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE accounts SET password_hash = $2, password_changed_at = $3 WHERE id = $1`,
		id, hash, changedAt)
	if err != nil {
		return wrapErr("ошибка обновления пароля", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *accountRepo) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return wrapErr("ошибка удаления учётной записи", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *accountRepo) ListRoles(ctx context.Context, accountID int64) ([]*model.Role, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM roles r
		JOIN account_roles ar ON ar.role_id = r.id
		WHERE ar.account_id = $1
		ORDER BY r.name`, prefixedRoleColumns)

	roles, err := queryRoles(ctx, r.db, query, accountID)
	if err != nil {
		return nil, err
	}
	if err := loadRights(ctx, r.db, roles); err != nil {
		return nil, err
	}
	return roles, nil
}

func (r *accountRepo) LinkRole(ctx context.Context, accountID, roleID int64) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO account_roles (account_id, role_id) VALUES ($1, $2)
		ON CONFLICT (account_id, role_id) DO NOTHING`, accountID, roleID)
	if err != nil {
		return wrapErr("ошибка связывания роли", err)
	}
	return nil
}

func (r *accountRepo) UnlinkRole(ctx context.Context, accountID, roleID int64) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM account_roles WHERE account_id = $1 AND role_id = $2`, accountID, roleID)
	if err != nil {
		return wrapErr("ошибка отвязки роли", err)
	}
	return nil
}

func (r *accountRepo) UnlinkAllRoles(ctx context.Context, accountID int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM account_roles WHERE account_id = $1`, accountID)
	if err != nil {
		return wrapErr("ошибка отвязки ролей учётной записи", err)
	}
	return nil
}
