package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/arturkryukov/artstore/federation-module/internal/domain/model"
)

// RoleRepository — операции с таблицами roles и role_rights.
type RoleRepository interface {
	// List возвращает все роли, упорядоченные по имени.
	List(ctx context.Context, first, max int) ([]*model.Role, error)
	// Search — подстрока в имени или описании без учёта регистра.
	// Маска "*" эквивалентна List.
	Search(ctx context.Context, pattern string, first, max int) ([]*model.Role, error)
	// GetByName возвращает роль с правами по имени.
	GetByName(ctx context.Context, name string) (*model.Role, error)
	// Create создаёт роль вместе с правами. Дубликат имени — ErrConflict.
	Create(ctx context.Context, role *model.Role) error
	// Delete удаляет роль (права удаляются каскадно).
	Delete(ctx context.Context, id int64) error
	// UnlinkAccounts удаляет все связи роли с учётными записями.
	// Возвращает количество удалённых связей.
	UnlinkAccounts(ctx context.Context, roleID int64) (int64, error)
}

type roleRepo struct {
	db DBTX
}

// NewRoleRepository создаёт репозиторий ролей.
func NewRoleRepository(db DBTX) RoleRepository {
	return &roleRepo{db: db}
}

const (
	roleColumns         = `id, name, description, modified_at`
	prefixedRoleColumns = `r.id, r.name, r.description, r.modified_at`
)

func scanRole(row pgx.Row) (*model.Role, error) {
	role := &model.Role{}
	if err := row.Scan(&role.ID, &role.Name, &role.Description, &role.ModifiedAt); err != nil {
		return nil, err
	}
	return role, nil
}

func queryRoles(ctx context.Context, db DBTX, query string, args ...any) ([]*model.Role, error) {
	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("ошибка получения ролей", err)
	}
	defer rows.Close()

	var result []*model.Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, wrapErr("ошибка сканирования роли", err)
		}
		result = append(result, role)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("ошибка итерации ролей", err)
	}
	return result, nil
}

// loadRights заполняет Rights для набора ролей одним запросом.
func loadRights(ctx context.Context, db DBTX, roles []*model.Role) error {
	if len(roles) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(roles))
	byID := make(map[int64]*model.Role, len(roles))
	for _, r := range roles {
		ids = append(ids, r.ID)
		byID[r.ID] = r
	}

	rows, err := db.Query(ctx, `
		SELECT id, role_id, key, value, modified_at, version
		FROM role_rights
		WHERE role_id = ANY($1)
		ORDER BY role_id, id`, ids)
	if err != nil {
		return wrapErr("ошибка получения прав ролей", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			right  model.Right
			roleID int64
		)
		if err := rows.Scan(&right.ID, &roleID, &right.Key, &right.Value, &right.ModifiedAt, &right.Version); err != nil {
			return wrapErr("ошибка сканирования права роли", err)
		}
		if role, ok := byID[roleID]; ok {
			role.Rights = append(role.Rights, right)
		}
	}
	if err := rows.Err(); err != nil {
		return wrapErr("ошибка итерации прав ролей", err)
	}
	return nil
}

func (r *roleRepo) List(ctx context.Context, first, max int) ([]*model.Role, error) {
	return r.Search(ctx, MatchAll, first, max)
}

func (r *roleRepo) Search(ctx context.Context, pattern string, first, max int) ([]*model.Role, error) {
	var (
		where string
		args  []any
	)
	if pattern != MatchAll {
		where = `WHERE name ILIKE $1 ESCAPE '\' OR description ILIKE $1 ESCAPE '\'`
		args = append(args, containsPattern(pattern))
	}
	page, pageArgs := pageClause(first, max, len(args)+1)
	args = append(args, pageArgs...)

	query := strings.TrimSpace(fmt.Sprintf(`SELECT %s FROM roles %s ORDER BY name %s`,
		roleColumns, where, page))

	roles, err := queryRoles(ctx, r.db, query, args...)
	if err != nil {
		return nil, err
	}
	if err := loadRights(ctx, r.db, roles); err != nil {
		return nil, err
	}
	return roles, nil
}

func (r *roleRepo) GetByName(ctx context.Context, name string) (*model.Role, error) {
	query := fmt.Sprintf(`SELECT %s FROM roles WHERE name = $1`, roleColumns)
	role, err := scanRole(r.db.QueryRow(ctx, query, name))
	if err != nil {
		return nil, wrapErr("ошибка получения роли", err)
	}
	if err := loadRights(ctx, r.db, []*model.Role{role}); err != nil {
		return nil, err
	}
	return role, nil
}

func (r *roleRepo) Create(ctx context.Context, role *model.Role) error {
	// ON CONFLICT DO NOTHING: дубликат имени не прерывает транзакцию,
	// вызывающий может повторно прочитать роль.
	err := r.db.QueryRow(ctx, `
		INSERT INTO roles (name, description) VALUES ($1, $2)
		ON CONFLICT (name) DO NOTHING
		RETURNING id, modified_at`,
		role.Name, role.Description,
	).Scan(&role.ID, &role.ModifiedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("роль %q: %w", role.Name, ErrConflict)
	}
	if err != nil {
		return wrapErr("ошибка создания роли", err)
	}

	for i := range role.Rights {
		right := &role.Rights[i]
		err := r.db.QueryRow(ctx, `
			INSERT INTO role_rights (role_id, key, value, version) VALUES ($1, $2, $3, $4)
			RETURNING id, modified_at`,
			role.ID, right.Key, right.Value, right.Version,
		).Scan(&right.ID, &right.ModifiedAt)
		if err != nil {
			return wrapErr("ошибка создания права роли", err)
		}
	}
	return nil
}

func (r *roleRepo) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return wrapErr("ошибка удаления роли", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *roleRepo) UnlinkAccounts(ctx context.Context, roleID int64) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM account_roles WHERE role_id = $1`, roleID)
	if err != nil {
		return 0, wrapErr("ошибка отвязки учётных записей от роли", err)
	}
	return tag.RowsAffected(), nil
}
