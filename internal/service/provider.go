// provider.go — провайдер пользователей и ролей для каталога Keycloak.
//
// Каждый изменяющий вызов — одна транзакция хранилища (Transactor.WithinTx).
// Сначала изменения хранилища, затем каталога: ошибка каталога откатывает
// транзакцию. Чтение идёт через пул без транзакции.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/arturkryukov/artstore/federation-module/internal/domain/account"
	"github.com/arturkryukov/artstore/federation-module/internal/domain/model"
	"github.com/arturkryukov/artstore/federation-module/internal/domain/storageid"
	"github.com/arturkryukov/artstore/federation-module/internal/repository"
)

// Transactor — единица работы с хранилищем.
// Реализуется repository.TxRunner.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(st repository.Store) error) error
	Pool() repository.Store
}

// ProviderService реализует все возможности провайдера.
type ProviderService struct {
	tx           Transactor
	sync         *RoleSyncService
	creds        *CredentialService
	cache        *HashCache
	providerID   string
	deletePolicy model.DeletePolicy
	logger       *slog.Logger
}

// NewProviderService создаёт провайдер.
// deletePolicy фиксируется при создании и не меняется.
func NewProviderService(
	tx Transactor,
	sync *RoleSyncService,
	creds *CredentialService,
	cache *HashCache,
	providerID string,
	deletePolicy model.DeletePolicy,
	logger *slog.Logger,
) *ProviderService {
	return &ProviderService{
		tx:           tx,
		sync:         sync,
		creds:        creds,
		cache:        cache,
		providerID:   providerID,
		deletePolicy: deletePolicy,
		logger:       logger.With(slog.String("component", "provider")),
	}
}

// --- Поиск пользователей ---

// GetUserByID ищет пользователя по составному id.
// Чужой провайдер или некорректный id — нет совпадения.
func (p *ProviderService) GetUserByID(ctx context.Context, id string) (*account.UserAdapter, error) {
	accID, ok := p.decodeID(id)
	if !ok {
		return nil, nil
	}
	return p.lookup(p.tx.Pool().Accounts().GetByID(ctx, accID))
}

func (p *ProviderService) GetUserByUsername(ctx context.Context, username string) (*account.UserAdapter, error) {
	return p.lookup(p.tx.Pool().Accounts().GetByUsername(ctx, username))
}

func (p *ProviderService) GetUserByEmail(ctx context.Context, email string) (*account.UserAdapter, error) {
	return p.lookup(p.tx.Pool().Accounts().GetByEmail(ctx, email))
}

func (p *ProviderService) lookup(acc *model.Account, err error) (*account.UserAdapter, error) {
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return account.NewUserAdapter(p.providerID, acc), nil
}

// --- Перечисление ---

func (p *ProviderService) UsersCount(ctx context.Context) (int, error) {
	return p.tx.Pool().Accounts().Count(ctx)
}

func (p *ProviderService) ListUsers(ctx context.Context, first, max int) ([]*account.UserAdapter, error) {
	accounts, err := p.tx.Pool().Accounts().List(ctx, first, max)
	if err != nil {
		return nil, err
	}
	return p.adapters(accounts), nil
}

// SearchUsers ищет подстроку в username или email, "*" означает всех пользователей.
func (p *ProviderService) SearchUsers(ctx context.Context, search string, first, max int) ([]*account.UserAdapter, error) {
	accounts, err := p.tx.Pool().Accounts().Search(ctx, search, first, max)
	if err != nil {
		return nil, err
	}
	return p.adapters(accounts), nil
}

func (p *ProviderService) adapters(accounts []*model.Account) []*account.UserAdapter {
	users := make([]*account.UserAdapter, 0, len(accounts))
	for _, acc := range accounts {
		users = append(users, account.NewUserAdapter(p.providerID, acc))
	}
	return users
}

// --- Регистрация ---

// AddUser создаёт учётную запись со значениями по умолчанию.
func (p *ProviderService) AddUser(ctx context.Context, username string) (*account.UserAdapter, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("%w: username не может быть пустым", ErrValidation)
	}

	acc := model.NewAccount(username)
	err := p.tx.WithinTx(ctx, func(st repository.Store) error {
		return st.Accounts().Create(ctx, acc)
	})
	if err != nil {
		return nil, fmt.Errorf("создание пользователя %q: %w", username, err)
	}

	p.logger.Info("Пользователь создан",
		slog.String("username", username),
		slog.Int64("account_id", acc.ID),
	)
	return account.NewUserAdapter(p.providerID, acc), nil
}

// RemoveUser удаляет пользователя по политике удаления.
// hard: отвязать все роли и удалить строку; soft: перевести в статус DELETED.
func (p *ProviderService) RemoveUser(ctx context.Context, id string) (bool, error) {
	removed := false
	var accID int64
	err := p.withAccount(ctx, id, func(st repository.Store, acc *model.Account) error {
		removed, accID = true, acc.ID
		if p.deletePolicy == model.DeletePolicyHard {
			if err := st.Accounts().UnlinkAllRoles(ctx, acc.ID); err != nil {
				return err
			}
			return st.Accounts().Delete(ctx, acc.ID)
		}
		acc.Status = model.AccountStatusDeleted
		return st.Accounts().Update(ctx, acc)
	})
	if errors.Is(err, ErrNotFound) && !removed {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	p.cache.Evict(p.cacheKey(accID))
	p.logger.Info("Пользователь удалён",
		slog.String("user_id", id),
		slog.String("policy", string(p.deletePolicy)),
	)
	return true, nil
}

// --- Атрибуты и статус ---

func (p *ProviderService) SetAttribute(ctx context.Context, id, name string, values []string) (bool, error) {
	handled := false
	err := p.withAccount(ctx, id, func(st repository.Store, acc *model.Account) error {
		handled = account.NewUserAdapter(p.providerID, acc).SetAttributeValues(name, values)
		if !handled || len(values) == 0 {
			return nil
		}
		return st.Accounts().Update(ctx, acc)
	})
	return handled, err
}

func (p *ProviderService) RemoveAttribute(ctx context.Context, id, name string) (bool, error) {
	handled := false
	err := p.withAccount(ctx, id, func(st repository.Store, acc *model.Account) error {
		handled = account.NewUserAdapter(p.providerID, acc).RemoveAttribute(name)
		if !handled {
			return nil
		}
		return st.Accounts().Update(ctx, acc)
	})
	return handled, err
}

func (p *ProviderService) SetEnabled(ctx context.Context, id string, enabled bool) error {
	return p.withAccount(ctx, id, func(st repository.Store, acc *model.Account) error {
		account.NewUserAdapter(p.providerID, acc).SetEnabled(enabled)
		return st.Accounts().Update(ctx, acc)
	})
}

// --- Учётные данные ---

func (p *ProviderService) SupportsCredential(kind string) bool {
	return p.creds.Supports(kind)
}

func (p *ProviderService) IsCredentialConfigured(ctx context.Context, id, kind string) (bool, error) {
	if !p.creds.Supports(kind) {
		return false, nil
	}
	src, err := p.hashSource(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return p.creds.IsConfigured(src, kind), nil
}

// ValidateCredential проверяет пароль. Неизвестный пользователь — false.
func (p *ProviderService) ValidateCredential(ctx context.Context, id, kind, raw string) (bool, error) {
	if !p.creds.Supports(kind) {
		return false, nil
	}
	src, err := p.hashSource(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return p.creds.Verify(src, raw), nil
}

func (p *ProviderService) UpdateCredential(ctx context.Context, id, kind, raw string) (bool, error) {
	updated := false
	var accID int64
	err := p.withAccount(ctx, id, func(st repository.Store, acc *model.Account) error {
		var err error
		accID = acc.ID
		updated, err = p.creds.Update(ctx, st, acc, kind, raw)
		return err
	})
	if err != nil {
		return false, err
	}
	p.cache.Evict(p.cacheKey(accID))
	return updated, nil
}

func (p *ProviderService) DisableCredential(ctx context.Context, id, kind string) (bool, error) {
	disabled := false
	var accID int64
	err := p.withAccount(ctx, id, func(st repository.Store, acc *model.Account) error {
		var err error
		accID = acc.ID
		disabled, err = p.creds.Disable(ctx, st, acc, kind)
		return err
	})
	if err != nil {
		return false, err
	}
	p.cache.Evict(p.cacheKey(accID))
	return disabled, nil
}

// OnUserCache кэширует хэш пароля при загрузке пользователя каталогом.
//
// Чтение и Put не атомарны: смена пароля может закоммититься и очистить кэш
// между ними. Поэтому после Put хэш перечитывается, и при расхождении
// запись вытесняется.
func (p *ProviderService) OnUserCache(ctx context.Context, id string) error {
	acc, err := p.loadAccount(ctx, p.tx.Pool(), id)
	if err != nil {
		return err
	}
	if acc.PasswordHash == nil {
		return nil
	}
	key := p.cacheKey(acc.ID)
	p.cache.Put(key, *acc.PasswordHash)

	fresh, err := p.tx.Pool().Accounts().GetByID(ctx, acc.ID)
	if err != nil || fresh.PasswordHash == nil || *fresh.PasswordHash != *acc.PasswordHash {
		p.cache.Evict(key)
		p.logger.Debug("Хэш изменился во время кэширования, запись вытеснена",
			slog.String("user_id", key),
		)
	}
	return nil
}

// hashSource выбирает источник хэша: кэш, иначе учётная запись.
func (p *ProviderService) hashSource(ctx context.Context, id string) (HashSource, error) {
	accID, ok := p.decodeID(id)
	if !ok {
		return nil, fmt.Errorf("пользователь %q: %w", id, ErrNotFound)
	}
	if hash, ok := p.cache.Get(p.cacheKey(accID)); ok {
		return CachedHash{Hash: hash}, nil
	}
	acc, err := p.loadAccount(ctx, p.tx.Pool(), id)
	if err != nil {
		return nil, err
	}
	return LiveHash{Account: acc}, nil
}

// --- Роли ---

// ListRoles — все роли или поиск по подстроке имени/описания.
func (p *ProviderService) ListRoles(ctx context.Context, search string, first, max int) ([]*model.Role, error) {
	if search == "" {
		return p.tx.Pool().Roles().List(ctx, first, max)
	}
	return p.tx.Pool().Roles().Search(ctx, search, first, max)
}

// GetRole возвращает внешнюю роль. Нет роли — (nil, nil).
func (p *ProviderService) GetRole(ctx context.Context, name string) (*model.Role, error) {
	role, err := p.tx.Pool().Roles().GetByName(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return role, err
}

// SaveRole сохраняет роль с правами и сразу переносит её в каталог.
func (p *ProviderService) SaveRole(ctx context.Context, role *model.Role) (*model.DirectoryRole, error) {
	if strings.TrimSpace(role.Name) == "" {
		return nil, fmt.Errorf("%w: имя роли не может быть пустым", ErrValidation)
	}

	var dr *model.DirectoryRole
	err := p.tx.WithinTx(ctx, func(st repository.Store) error {
		if err := st.Roles().Create(ctx, role); err != nil {
			return err
		}
		var err error
		dr, err = p.sync.EnsureRole(ctx, role)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("сохранение роли %q: %w", role.Name, err)
	}
	return dr, nil
}

// RemoveRole — реакция на удаление realm-роли в каталоге.
func (p *ProviderService) RemoveRole(ctx context.Context, name string) (bool, error) {
	removed := false
	err := p.tx.WithinTx(ctx, func(st repository.Store) error {
		var err error
		removed, err = p.sync.RemoveRole(ctx, st, name)
		return err
	})
	return removed, err
}

func (p *ProviderService) SeedRoles(ctx context.Context, mask string) (*model.RoleSeedResult, error) {
	return p.sync.SeedRoles(ctx, p.tx.Pool(), maskOrAll(mask))
}

func (p *ProviderService) SeedRolesForUsers(ctx context.Context, mask string) (*model.RoleSeedResult, error) {
	return p.sync.SeedRolesForUsers(ctx, p.tx.Pool(), maskOrAll(mask))
}

// --- Назначения ролей ---

// RoleMappings синхронизирует роли пользователя с каталогом и возвращает
// итоговый набор.
func (p *ProviderService) RoleMappings(ctx context.Context, id string) ([]*model.DirectoryRole, error) {
	var roles []*model.DirectoryRole
	err := p.withAccount(ctx, id, func(st repository.Store, acc *model.Account) error {
		var err error
		roles, err = p.sync.ReconcileAccountRoles(ctx, st, acc)
		return err
	})
	return roles, err
}

func (p *ProviderService) GrantRole(ctx context.Context, id, roleName string) error {
	return p.withAccount(ctx, id, func(st repository.Store, acc *model.Account) error {
		return p.sync.GrantRole(ctx, st, acc, roleName)
	})
}

func (p *ProviderService) RevokeRole(ctx context.Context, id, roleName string) error {
	return p.withAccount(ctx, id, func(st repository.Store, acc *model.Account) error {
		return p.sync.RevokeAccountRole(ctx, st, acc, roleName)
	})
}

// --- helpers ---

// withAccount загружает учётную запись в транзакции и вызывает fn.
func (p *ProviderService) withAccount(ctx context.Context, id string, fn func(st repository.Store, acc *model.Account) error) error {
	return p.tx.WithinTx(ctx, func(st repository.Store) error {
		acc, err := p.loadAccount(ctx, st, id)
		if err != nil {
			return err
		}
		return fn(st, acc)
	})
}

func (p *ProviderService) loadAccount(ctx context.Context, st repository.Store, id string) (*model.Account, error) {
	accID, ok := p.decodeID(id)
	if !ok {
		return nil, fmt.Errorf("пользователь %q: %w", id, ErrNotFound)
	}
	acc, err := st.Accounts().GetByID(ctx, accID)
	if err != nil {
		return nil, fmt.Errorf("пользователь %q: %w", id, err)
	}
	return acc, nil
}

// decodeID разбирает составной id и проверяет провайдера.
func (p *ProviderService) decodeID(id string) (int64, bool) {
	provider, err := storageid.ProviderOf(id)
	if err != nil || provider != p.providerID {
		return 0, false
	}
	accID, err := storageid.Decode(id)
	if err != nil {
		return 0, false
	}
	return accID, true
}

// cacheKey — канонический составной id: ключ кэша хэшей не зависит от
// записи id во входящем запросе.
func (p *ProviderService) cacheKey(accID int64) string {
	return storageid.Encode(p.providerID, accID)
}

func maskOrAll(mask string) string {
	if strings.TrimSpace(mask) == "" {
		return repository.MatchAll
	}
	return mask
}
