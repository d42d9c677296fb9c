// Пакет model — доменные модели Federation Module.
package model

import "time"

// AccountStatus — статус учётной записи во внешнем хранилище.
// Допустимы только два значения, переходы разрешены в обе стороны.
type AccountStatus string

const (
	// AccountStatusActive — учётная запись активна (enabled в каталоге).
	AccountStatusActive AccountStatus = "ACTIVE"
	// AccountStatusDeleted — учётная запись отключена (soft delete).
	AccountStatusDeleted AccountStatus = "DELETED"
)

// Значения по умолчанию для новой учётной записи.
const (
	DefaultMaxIdleTime = 10
	DefaultMaxSessions = 0
)

// Account — учётная запись из внешнего хранилища (таблица accounts).
type Account struct {
	// ID — неизменяемый числовой идентификатор
	ID int64
	// Username — уникальное имя пользователя (поиск с учётом регистра)
	Username string
	// PasswordHash — bcrypt-хэш пароля (nil, если пароль не задан)
	PasswordHash *string
	// Status — ACTIVE или DELETED
	Status AccountStatus

	FirstName  *string
	LastName   *string
	MiddleName *string
	Email      *string
	Phone      *string
	Department *string
	Position   *string
	IPAddress  *string

	// MaxSessions — максимальное количество одновременных сессий
	MaxSessions int
	// MaxIdleTime — максимальное время простоя сессии (минуты)
	MaxIdleTime int
	// BlockingDate — дата блокировки (nil, если не заблокирован)
	BlockingDate *time.Time
	// BannerViewed — пользователь видел баннер безопасности
	BannerViewed bool
	// CreatedTimestamp — время создания, миллисекунды Unix epoch
	CreatedTimestamp int64
	// PasswordChangedAt — время последней смены пароля
	PasswordChangedAt *time.Time

	// Roles — внешние роли учётной записи (заполняются по запросу)
	Roles []*Role
}

// NewAccount создаёт учётную запись со значениями по умолчанию.
func NewAccount(username string) *Account {
	return &Account{
		Username:         username,
		Status:           AccountStatusActive,
		MaxSessions:      DefaultMaxSessions,
		MaxIdleTime:      DefaultMaxIdleTime,
		CreatedTimestamp: time.Now().UnixMilli(),
	}
}

// HasRole проверяет наличие роли с указанным именем.
func (a *Account) HasRole(name string) bool {
	for _, r := range a.Roles {
		if r.Name == name {
			return true
		}
	}
	return false
}

// AddRole добавляет роль в коллекцию, если роли с таким именем ещё нет.
func (a *Account) AddRole(role *Role) {
	if role == nil || a.HasRole(role.Name) {
		return
	}
	a.Roles = append(a.Roles, role)
}

// RemoveRole удаляет роль из коллекции. Возвращает true, если роль была.
func (a *Account) RemoveRole(name string) bool {
	for i, r := range a.Roles {
		if r.Name == name {
			a.Roles = append(a.Roles[:i], a.Roles[i+1:]...)
			return true
		}
	}
	return false
}

// DeletePolicy — политика удаления учётных записей.
// Выбирается при запуске сервиса (FM_DELETE_POLICY).
type DeletePolicy string

const (
	// DeletePolicyHard — удалить строку, предварительно отвязав все роли.
	DeletePolicyHard DeletePolicy = "hard"
	// DeletePolicySoft — перевести статус в DELETED, строка остаётся.
	DeletePolicySoft DeletePolicy = "soft"
)

// Valid проверяет, что политика — одно из допустимых значений.
func (p DeletePolicy) Valid() bool {
	return p == DeletePolicyHard || p == DeletePolicySoft
}
