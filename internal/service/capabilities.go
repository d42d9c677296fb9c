// capabilities.go — узкие интерфейсы возможностей провайдера и их реестр.
//
// Обработчики HTTP зависят только от реестра: незарегистрированная
// возможность даёт ErrNotImplemented (HTTP 501).
package service

import (
	"context"

	"github.com/arturkryukov/artstore/federation-module/internal/domain/account"
	"github.com/arturkryukov/artstore/federation-module/internal/domain/model"
)

// --- Каталог (Keycloak) ---

// RoleDirectory — realm-роли каталога.
type RoleDirectory interface {
	// GetRole возвращает роль по имени; отсутствие — (nil, nil).
	GetRole(ctx context.Context, name string) (*model.DirectoryRole, error)
	// AddRole создаёт роль и заполняет её ID. Дубликат — ErrConflict.
	AddRole(ctx context.Context, role *model.DirectoryRole) error
	UpdateRole(ctx context.Context, role *model.DirectoryRole) error
	// DefaultRoles — роли, которые realm выдаёт каждому пользователю.
	DefaultRoles(ctx context.Context) ([]*model.DirectoryRole, error)
}

// MappingDirectory — назначения realm-ролей пользователям каталога.
type MappingDirectory interface {
	UserRoles(ctx context.Context, userID string) ([]*model.DirectoryRole, error)
	Grant(ctx context.Context, userID string, roles ...*model.DirectoryRole) error
	Revoke(ctx context.Context, userID string, roles ...*model.DirectoryRole) error
}

// --- Возможности провайдера ---

// UserLookup — поиск одного пользователя. Без совпадения возвращает (nil, nil).
type UserLookup interface {
	GetUserByID(ctx context.Context, id string) (*account.UserAdapter, error)
	GetUserByUsername(ctx context.Context, username string) (*account.UserAdapter, error)
	GetUserByEmail(ctx context.Context, email string) (*account.UserAdapter, error)
}

// UserRegistration — создание и удаление пользователей.
type UserRegistration interface {
	AddUser(ctx context.Context, username string) (*account.UserAdapter, error)
	// RemoveUser удаляет пользователя по политике удаления.
	// false — пользователь не найден.
	RemoveUser(ctx context.Context, id string) (bool, error)
}

// UserQuery — подсчёт, перечисление и поиск пользователей.
type UserQuery interface {
	UsersCount(ctx context.Context) (int, error)
	ListUsers(ctx context.Context, first, max int) ([]*account.UserAdapter, error)
	SearchUsers(ctx context.Context, search string, first, max int) ([]*account.UserAdapter, error)
}

// UserEditor — изменение атрибутов и статуса пользователя.
// handled=false — атрибут не из внешнего хранилища, его хранит каталог.
type UserEditor interface {
	SetAttribute(ctx context.Context, id, name string, values []string) (handled bool, err error)
	RemoveAttribute(ctx context.Context, id, name string) (handled bool, err error)
	SetEnabled(ctx context.Context, id string, enabled bool) error
}

// CredentialValidatorCap — проверка учётных данных.
type CredentialValidatorCap interface {
	SupportsCredential(kind string) bool
	IsCredentialConfigured(ctx context.Context, id, kind string) (bool, error)
	ValidateCredential(ctx context.Context, id, kind, raw string) (bool, error)
}

// CredentialUpdater — смена и отключение учётных данных.
type CredentialUpdater interface {
	UpdateCredential(ctx context.Context, id, kind, raw string) (bool, error)
	DisableCredential(ctx context.Context, id, kind string) (bool, error)
}

// UserCacheHook — однократное заполнение кэша при загрузке пользователя каталогом.
type UserCacheHook interface {
	OnUserCache(ctx context.Context, id string) error
}

// RoleProvider — внешние роли.
type RoleProvider interface {
	ListRoles(ctx context.Context, search string, first, max int) ([]*model.Role, error)
	GetRole(ctx context.Context, name string) (*model.Role, error)
	SaveRole(ctx context.Context, role *model.Role) (*model.DirectoryRole, error)
	RemoveRole(ctx context.Context, name string) (bool, error)
	SeedRoles(ctx context.Context, mask string) (*model.RoleSeedResult, error)
	SeedRolesForUsers(ctx context.Context, mask string) (*model.RoleSeedResult, error)
}

// RoleMapper — назначения ролей пользователю.
type RoleMapper interface {
	RoleMappings(ctx context.Context, id string) ([]*model.DirectoryRole, error)
	GrantRole(ctx context.Context, id, roleName string) error
	RevokeRole(ctx context.Context, id, roleName string) error
}

// Capabilities — реестр зарегистрированных возможностей.
// Заполняется при старте, дальше только читается.
type Capabilities struct {
	lookup       UserLookup
	registration UserRegistration
	query        UserQuery
	editor       UserEditor
	validator    CredentialValidatorCap
	updater      CredentialUpdater
	cacheHook    UserCacheHook
	roles        RoleProvider
	mapper       RoleMapper
}

// NewCapabilities создаёт пустой реестр.
func NewCapabilities() *Capabilities {
	return &Capabilities{}
}

func (c *Capabilities) RegisterUserLookup(v UserLookup)                      { c.lookup = v }
func (c *Capabilities) RegisterUserRegistration(v UserRegistration)          { c.registration = v }
func (c *Capabilities) RegisterUserQuery(v UserQuery)                        { c.query = v }
func (c *Capabilities) RegisterUserEditor(v UserEditor)                      { c.editor = v }
func (c *Capabilities) RegisterCredentialValidator(v CredentialValidatorCap) { c.validator = v }
func (c *Capabilities) RegisterCredentialUpdater(v CredentialUpdater)        { c.updater = v }
func (c *Capabilities) RegisterUserCacheHook(v UserCacheHook)                { c.cacheHook = v }
func (c *Capabilities) RegisterRoleProvider(v RoleProvider)                  { c.roles = v }
func (c *Capabilities) RegisterRoleMapper(v RoleMapper)                      { c.mapper = v }

// RegisterProvider регистрирует все возможности ProviderService.
func (c *Capabilities) RegisterProvider(p *ProviderService) {
	c.RegisterUserLookup(p)
	c.RegisterUserRegistration(p)
	c.RegisterUserQuery(p)
	c.RegisterUserEditor(p)
	c.RegisterCredentialValidator(p)
	c.RegisterCredentialUpdater(p)
	c.RegisterUserCacheHook(p)
	c.RegisterRoleProvider(p)
	c.RegisterRoleMapper(p)
}

// capability возвращает v или ErrNotImplemented, если возможность не зарегистрирована.
func capability[T comparable](v T) (T, error) {
	var zero T
	if v == zero {
		return zero, ErrNotImplemented
	}
	return v, nil
}

func (c *Capabilities) UserLookup() (UserLookup, error)             { return capability(c.lookup) }
func (c *Capabilities) UserRegistration() (UserRegistration, error) { return capability(c.registration) }
func (c *Capabilities) UserQuery() (UserQuery, error)               { return capability(c.query) }
func (c *Capabilities) UserEditor() (UserEditor, error)             { return capability(c.editor) }
func (c *Capabilities) CredentialValidator() (CredentialValidatorCap, error) {
	return capability(c.validator)
}
func (c *Capabilities) CredentialUpdater() (CredentialUpdater, error) { return capability(c.updater) }
func (c *Capabilities) UserCacheHook() (UserCacheHook, error)         { return capability(c.cacheHook) }
func (c *Capabilities) RoleProvider() (RoleProvider, error)           { return capability(c.roles) }
func (c *Capabilities) RoleMapper() (RoleMapper, error)               { return capability(c.mapper) }
