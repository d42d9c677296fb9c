// role_sync.go — односторонняя синхронизация ролей внешнего хранилища
// в каталог Keycloak.
//
// Роли и назначения переносятся лениво, по одной учётной записи, либо
// явным массовым проходом (SeedRoles, SeedRolesForUsers).
// Каталог никогда не удаляет роли по инициативе этого сервиса.
//
// Prometheus-метрики:
//   - fm_role_sync_total{result} — результат ensure роли (created, updated, unchanged, error)
//   - fm_role_seed_duration_seconds — длительность массового прохода
//   - fm_role_mapping_changes_total{action} — назначения и снятия ролей (grant, revoke)
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/arturkryukov/artstore/federation-module/internal/domain/model"
	"github.com/arturkryukov/artstore/federation-module/internal/domain/storageid"
	"github.com/arturkryukov/artstore/federation-module/internal/repository"
)

// maxAttributeLength — предел длины ключа и значения атрибута роли в каталоге.
const maxAttributeLength = 255

var (
	roleSyncTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fm_role_sync_total",
		Help: "Результаты синхронизации ролей с каталогом",
	}, []string{"result"})

	roleSeedDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fm_role_seed_duration_seconds",
		Help:    "Длительность массового заполнения ролей каталога",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 0.1s … ~51s
	})

	roleMappingChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fm_role_mapping_changes_total",
		Help: "Изменения назначений ролей в каталоге",
	}, []string{"action"})
)

// syncOutcome — результат ensure одной роли.
type syncOutcome string

const (
	outcomeCreated   syncOutcome = "created"
	outcomeUpdated   syncOutcome = "updated"
	outcomeUnchanged syncOutcome = "unchanged"
)

// RoleSyncService — движок синхронизации ролей.
type RoleSyncService struct {
	roles      RoleDirectory
	mappings   MappingDirectory
	providerID string
	logger     *slog.Logger
}

// NewRoleSyncService создаёт движок синхронизации.
// providerID — префикс составного id пользователя в каталоге.
func NewRoleSyncService(roles RoleDirectory, mappings MappingDirectory, providerID string, logger *slog.Logger) *RoleSyncService {
	return &RoleSyncService{
		roles:      roles,
		mappings:   mappings,
		providerID: providerID,
		logger:     logger.With(slog.String("component", "role_sync")),
	}
}

// EnsureRole гарантирует наличие роли в каталоге с описанием и атрибутами
// из внешней роли. Идемпотентна.
func (s *RoleSyncService) EnsureRole(ctx context.Context, role *model.Role) (*model.DirectoryRole, error) {
	dr, _, err := s.ensure(ctx, role)
	return dr, err
}

func (s *RoleSyncService) ensure(ctx context.Context, role *model.Role) (*model.DirectoryRole, syncOutcome, error) {
	desired := desiredDirectoryRole(role)

	existing, err := s.roles.GetRole(ctx, role.Name)
	if err != nil {
		roleSyncTotal.WithLabelValues("error").Inc()
		return nil, "", fmt.Errorf("чтение роли %q из каталога: %w", role.Name, err)
	}

	if existing == nil {
		err := s.roles.AddRole(ctx, desired)
		if err == nil {
			roleSyncTotal.WithLabelValues(string(outcomeCreated)).Inc()
			s.logger.Info("Роль создана в каталоге", slog.String("role", role.Name))
			return desired, outcomeCreated, nil
		}
		if !errors.Is(err, ErrConflict) {
			roleSyncTotal.WithLabelValues("error").Inc()
			return nil, "", fmt.Errorf("создание роли %q в каталоге: %w", role.Name, err)
		}

		// Роль создана параллельно: читаем её ещё раз.
		existing, err = s.roles.GetRole(ctx, role.Name)
		if err != nil {
			roleSyncTotal.WithLabelValues("error").Inc()
			return nil, "", fmt.Errorf("повторное чтение роли %q: %w", role.Name, err)
		}
		if existing == nil {
			roleSyncTotal.WithLabelValues("error").Inc()
			return nil, "", fmt.Errorf("роль %q: конфликт без записи: %w", role.Name, ErrConflict)
		}
	}

	if sameRoleState(existing, desired) {
		roleSyncTotal.WithLabelValues(string(outcomeUnchanged)).Inc()
		return existing, outcomeUnchanged, nil
	}

	existing.Description = desired.Description
	existing.Attributes = desired.Attributes
	if err := s.roles.UpdateRole(ctx, existing); err != nil {
		roleSyncTotal.WithLabelValues("error").Inc()
		return nil, "", fmt.Errorf("обновление роли %q в каталоге: %w", role.Name, err)
	}

	roleSyncTotal.WithLabelValues(string(outcomeUpdated)).Inc()
	s.logger.Info("Роль обновлена в каталоге", slog.String("role", role.Name))
	return existing, outcomeUpdated, nil
}

// ReconcileAccountRoles переносит роли учётной записи в каталог и
// возвращает итоговый набор ролей пользователя, отсортированный по имени.
func (s *RoleSyncService) ReconcileAccountRoles(ctx context.Context, st repository.Store, acc *model.Account) ([]*model.DirectoryRole, error) {
	userID := storageid.Encode(s.providerID, acc.ID)

	roles, err := st.Accounts().ListRoles(ctx, acc.ID)
	if err != nil {
		return nil, fmt.Errorf("роли учётной записи %d: %w", acc.ID, err)
	}
	acc.Roles = roles

	current, err := s.mappings.UserRoles(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("назначения пользователя %s: %w", userID, err)
	}

	result := make(map[string]*model.DirectoryRole, len(roles)+len(current))
	for _, dr := range current {
		result[dr.Name] = dr
	}

	var missing []*model.DirectoryRole
	for _, role := range roles {
		dr, _, err := s.ensure(ctx, role)
		if err != nil {
			return nil, err
		}
		if _, granted := result[dr.Name]; !granted {
			missing = append(missing, dr)
		}
		result[dr.Name] = dr

		if err := st.Accounts().LinkRole(ctx, acc.ID, role.ID); err != nil {
			return nil, fmt.Errorf("связь %d ↔ %q: %w", acc.ID, role.Name, err)
		}
	}

	if len(missing) > 0 {
		if err := s.mappings.Grant(ctx, userID, missing...); err != nil {
			return nil, fmt.Errorf("назначение ролей пользователю %s: %w", userID, err)
		}
		roleMappingChanges.WithLabelValues("grant").Add(float64(len(missing)))
	}

	defaults, err := s.roles.DefaultRoles(ctx)
	if err != nil {
		return nil, fmt.Errorf("роли по умолчанию: %w", err)
	}
	for _, dr := range defaults {
		if _, ok := result[dr.Name]; !ok {
			result[dr.Name] = dr
		}
	}

	out := slices.Collect(maps.Values(result))
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// GrantRole назначает пользователю роль каталога. Отсутствующая во внешнем
// хранилище роль создаётся по роли каталога.
func (s *RoleSyncService) GrantRole(ctx context.Context, st repository.Store, acc *model.Account, roleName string) error {
	dr, err := s.roles.GetRole(ctx, roleName)
	if err != nil {
		return fmt.Errorf("чтение роли %q из каталога: %w", roleName, err)
	}
	if dr == nil {
		return fmt.Errorf("роль каталога %q: %w", roleName, ErrNotFound)
	}

	role, err := s.externalRole(ctx, st, dr)
	if err != nil {
		return err
	}

	if err := st.Accounts().LinkRole(ctx, acc.ID, role.ID); err != nil {
		return fmt.Errorf("связь %d ↔ %q: %w", acc.ID, roleName, err)
	}
	acc.AddRole(role)

	userID := storageid.Encode(s.providerID, acc.ID)
	if err := s.mappings.Grant(ctx, userID, dr); err != nil {
		return fmt.Errorf("назначение роли %q пользователю %s: %w", roleName, userID, err)
	}
	roleMappingChanges.WithLabelValues("grant").Inc()
	return nil
}

// externalRole возвращает внешнюю роль по имени, создавая её при отсутствии.
// Конфликт уникальности — одно повторное чтение.
func (s *RoleSyncService) externalRole(ctx context.Context, st repository.Store, dr *model.DirectoryRole) (*model.Role, error) {
	role, err := st.Roles().GetByName(ctx, dr.Name)
	if err == nil {
		return role, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("чтение роли %q: %w", dr.Name, err)
	}

	role = &model.Role{Name: dr.Name}
	if dr.Description != "" {
		desc := dr.Description
		role.Description = &desc
	}

	err = st.Roles().Create(ctx, role)
	if errors.Is(err, ErrConflict) {
		role, err = st.Roles().GetByName(ctx, dr.Name)
	}
	if err != nil {
		return nil, fmt.Errorf("создание роли %q: %w", dr.Name, err)
	}

	s.logger.Info("Роль создана во внешнем хранилище", slog.String("role", dr.Name))
	return role, nil
}

// RevokeAccountRole снимает роль с учётной записи в хранилище и каталоге.
// Сама роль не удаляется.
func (s *RoleSyncService) RevokeAccountRole(ctx context.Context, st repository.Store, acc *model.Account, roleName string) error {
	role, err := st.Roles().GetByName(ctx, roleName)
	switch {
	case err == nil:
		if err := st.Accounts().UnlinkRole(ctx, acc.ID, role.ID); err != nil {
			return fmt.Errorf("отвязка %d ↔ %q: %w", acc.ID, roleName, err)
		}
	case !errors.Is(err, ErrNotFound):
		return fmt.Errorf("чтение роли %q: %w", roleName, err)
	}
	acc.RemoveRole(roleName)

	dr, err := s.roles.GetRole(ctx, roleName)
	if err != nil {
		return fmt.Errorf("чтение роли %q из каталога: %w", roleName, err)
	}
	if dr == nil {
		return nil
	}

	userID := storageid.Encode(s.providerID, acc.ID)
	if err := s.mappings.Revoke(ctx, userID, dr); err != nil {
		return fmt.Errorf("снятие роли %q с пользователя %s: %w", roleName, userID, err)
	}
	roleMappingChanges.WithLabelValues("revoke").Inc()
	return nil
}

// SeedRoles переносит в каталог все роли, подходящие под маску ("*" — все).
func (s *RoleSyncService) SeedRoles(ctx context.Context, st repository.Store, mask string) (*model.RoleSeedResult, error) {
	roles, err := st.Roles().Search(ctx, mask, -1, -1)
	if err != nil {
		return nil, fmt.Errorf("поиск ролей по маске %q: %w", mask, err)
	}
	return s.seed(ctx, "roles", mask, roles)
}

// SeedRolesForUsers переносит в каталог роли всех учётных записей,
// подходящих под маску пользователей.
func (s *RoleSyncService) SeedRolesForUsers(ctx context.Context, st repository.Store, mask string) (*model.RoleSeedResult, error) {
	accounts, err := st.Accounts().Search(ctx, mask, -1, -1)
	if err != nil {
		return nil, fmt.Errorf("поиск учётных записей по маске %q: %w", mask, err)
	}

	seen := make(map[string]struct{})
	var roles []*model.Role
	for _, acc := range accounts {
		accRoles, err := st.Accounts().ListRoles(ctx, acc.ID)
		if err != nil {
			return nil, fmt.Errorf("роли учётной записи %d: %w", acc.ID, err)
		}
		for _, r := range accRoles {
			if _, dup := seen[r.Name]; dup {
				continue
			}
			seen[r.Name] = struct{}{}
			roles = append(roles, r)
		}
	}
	return s.seed(ctx, "users", mask, roles)
}

func (s *RoleSyncService) seed(ctx context.Context, kind, mask string, roles []*model.Role) (*model.RoleSeedResult, error) {
	startedAt := time.Now()
	result := &model.RoleSeedResult{RunID: uuid.NewString(), Total: len(roles)}

	logger := s.logger.With(slog.String("run_id", result.RunID))
	logger.Info("Заполнение ролей каталога запущено",
		slog.String("kind", kind),
		slog.String("mask", mask),
		slog.Int("total", len(roles)),
	)

	for _, role := range roles {
		_, outcome, err := s.ensure(ctx, role)
		if err != nil {
			logger.Error("Заполнение ролей прервано",
				slog.String("role", role.Name),
				slog.String("error", err.Error()),
			)
			return nil, err
		}
		switch outcome {
		case outcomeCreated:
			result.Created++
		case outcomeUpdated:
			result.Updated++
		default:
			result.Unchanged++
		}
	}

	result.Duration = time.Since(startedAt)
	roleSeedDuration.Observe(result.Duration.Seconds())

	logger.Info("Заполнение ролей каталога завершено",
		slog.Int("created", result.Created),
		slog.Int("updated", result.Updated),
		slog.Int("unchanged", result.Unchanged),
		slog.Duration("duration", result.Duration),
	)
	return result, nil
}

// RemoveRole обрабатывает удаление realm-роли каталогом: отвязывает все
// учётные записи и удаляет внешнюю роль (права удаляются каскадно).
// false — внешней роли нет.
func (s *RoleSyncService) RemoveRole(ctx context.Context, st repository.Store, name string) (bool, error) {
	role, err := st.Roles().GetByName(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("чтение роли %q: %w", name, err)
	}

	unlinked, err := st.Roles().UnlinkAccounts(ctx, role.ID)
	if err != nil {
		return false, err
	}
	if err := st.Roles().Delete(ctx, role.ID); err != nil {
		return false, err
	}

	s.logger.Info("Внешняя роль удалена",
		slog.String("role", name),
		slog.Int64("unlinked_accounts", unlinked),
	)
	return true, nil
}

// desiredDirectoryRole строит целевое состояние роли каталога.
// Ключи и значения прав обрезаются до 255 символов; при повторе ключа
// побеждает более позднее право.
func desiredDirectoryRole(role *model.Role) *model.DirectoryRole {
	attrs := make(map[string][]string, len(role.Rights))
	for _, right := range role.Rights {
		attrs[truncateRunes(right.Key, maxAttributeLength)] = []string{truncateRunes(right.Value, maxAttributeLength)}
	}
	return &model.DirectoryRole{
		Name:        role.Name,
		Description: role.DescriptionValue(),
		Attributes:  attrs,
	}
}

func sameRoleState(a, b *model.DirectoryRole) bool {
	return a.Description == b.Description &&
		maps.EqualFunc(a.Attributes, b.Attributes, slices.Equal[[]string])
}

// truncateRunes обрезает строку до n символов (рун), не разрывая UTF-8.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
