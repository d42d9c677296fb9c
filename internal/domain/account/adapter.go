// Пакет account — адаптер учётной записи внешнего хранилища к контракту
// пользователя каталога: идентификатор, атрибуты, статус.
package account

import (
	"strconv"
	"time"

	"github.com/arturkryukov/artstore/federation-module/internal/domain/model"
	"github.com/arturkryukov/artstore/federation-module/internal/domain/storageid"
)

// Стандартные атрибуты пользователя каталога.
const (
	AttrUsername  = "username"
	AttrFirstName = "firstName"
	AttrLastName  = "lastName"
	AttrEmail     = "email"
)

// Кастомные атрибуты, хранящиеся во внешнем хранилище.
const (
	AttrPhone        = "номер телефона"
	AttrMiddleName   = "отчество"
	AttrDepartment   = "подразделение"
	AttrPosition     = "должность"
	AttrIPAddress    = "IP адрес"
	AttrBannerViewed = "показ баннера безопасности"
)

// CustomAttributes — кастомные атрибуты в фиксированном порядке.
var CustomAttributes = []string{
	AttrPhone, AttrMiddleName, AttrDepartment, AttrPosition, AttrIPAddress, AttrBannerViewed,
}

// UserAdapter — представление учётной записи в виде пользователя каталога.
// Мутации применяются к Account напрямую; сохранение — на вызывающей стороне.
type UserAdapter struct {
	providerID string
	account    *model.Account
}

// NewUserAdapter создаёт адаптер для учётной записи.
func NewUserAdapter(providerID string, acc *model.Account) *UserAdapter {
	return &UserAdapter{providerID: providerID, account: acc}
}

// ID — составной идентификатор пользователя каталога.
func (u *UserAdapter) ID() string {
	return storageid.Encode(u.providerID, u.account.ID)
}

// Account возвращает адаптируемую учётную запись.
func (u *UserAdapter) Account() *model.Account {
	return u.account
}

func (u *UserAdapter) Username() string {
	return u.account.Username
}

func (u *UserAdapter) SetUsername(username string) {
	u.account.Username = username
}

func (u *UserAdapter) FirstName() string { return deref(u.account.FirstName) }
func (u *UserAdapter) LastName() string  { return deref(u.account.LastName) }
func (u *UserAdapter) Email() string     { return deref(u.account.Email) }

func (u *UserAdapter) SetFirstName(v string) { u.account.FirstName = &v }
func (u *UserAdapter) SetLastName(v string)  { u.account.LastName = &v }
func (u *UserAdapter) SetEmail(v string)     { u.account.Email = &v }

// IsEnabled: ACTIVE ⇔ true.
func (u *UserAdapter) IsEnabled() bool {
	return u.account.Status == model.AccountStatusActive
}

// SetEnabled переводит статус учётной записи: true → ACTIVE, false → DELETED.
func (u *UserAdapter) SetEnabled(enabled bool) {
	if enabled {
		u.account.Status = model.AccountStatusActive
		return
	}
	u.account.Status = model.AccountStatusDeleted
}

// CreatedTimestamp возвращает время создания (мс). Если не задано —
// проставляет текущее время.
func (u *UserAdapter) CreatedTimestamp() int64 {
	if u.account.CreatedTimestamp == 0 {
		u.account.CreatedTimestamp = time.Now().UnixMilli()
	}
	return u.account.CreatedTimestamp
}

// Attributes возвращает атрибуты пользователя: четыре стандартных,
// затем кастомные в объявленном порядке.
func (u *UserAdapter) Attributes() *Attributes {
	acc := u.account
	attrs := NewAttributes()

	attrs.Add(AttrUsername, &acc.Username)
	attrs.Add(AttrFirstName, acc.FirstName)
	attrs.Add(AttrLastName, acc.LastName)
	attrs.Add(AttrEmail, acc.Email)

	attrs.Add(AttrPhone, acc.Phone)
	attrs.Add(AttrMiddleName, acc.MiddleName)
	attrs.Add(AttrDepartment, acc.Department)
	attrs.Add(AttrPosition, acc.Position)
	attrs.Add(AttrIPAddress, acc.IPAddress)
	banner := strconv.FormatBool(acc.BannerViewed)
	attrs.Add(AttrBannerViewed, &banner)

	return attrs
}

// FirstAttribute возвращает первое значение атрибута.
// ok == false — атрибут не хранится во внешнем хранилище.
func (u *UserAdapter) FirstAttribute(name string) (value string, ok bool) {
	acc := u.account
	switch name {
	case AttrUsername:
		return acc.Username, true
	case AttrFirstName:
		return deref(acc.FirstName), true
	case AttrLastName:
		return deref(acc.LastName), true
	case AttrEmail:
		return deref(acc.Email), true
	case AttrPhone:
		return deref(acc.Phone), true
	case AttrMiddleName:
		return deref(acc.MiddleName), true
	case AttrDepartment:
		return deref(acc.Department), true
	case AttrPosition:
		return deref(acc.Position), true
	case AttrIPAddress:
		return deref(acc.IPAddress), true
	case AttrBannerViewed:
		return strconv.FormatBool(acc.BannerViewed), true
	default:
		return "", false
	}
}

// SetAttribute устанавливает кастомный атрибут. Возвращает false, если имя
// не относится к кастомным атрибутам и запись нужно делегировать
// общему хранилищу атрибутов каталога.
func (u *UserAdapter) SetAttribute(name, value string) bool {
	return u.setCustom(name, &value)
}

// RemoveAttribute очищает кастомный атрибут. Семантика результата та же,
// что у SetAttribute.
func (u *UserAdapter) RemoveAttribute(name string) bool {
	return u.setCustom(name, nil)
}

// SetAttributeValues применяет первое значение списка; поддерживает также
// стандартные атрибуты firstName, lastName, email. Пустой список ничего
// не меняет, но результат по-прежнему зависит только от имени.
func (u *UserAdapter) SetAttributeValues(name string, values []string) bool {
	if len(values) == 0 {
		return isEditableStandard(name) || IsCustomAttribute(name)
	}
	switch name {
	case AttrFirstName:
		u.SetFirstName(values[0])
		return true
	case AttrLastName:
		u.SetLastName(values[0])
		return true
	case AttrEmail:
		u.SetEmail(values[0])
		return true
	default:
		return u.SetAttribute(name, values[0])
	}
}

// IsCustomAttribute проверяет, хранится ли атрибут во внешнем хранилище.
func IsCustomAttribute(name string) bool {
	for _, a := range CustomAttributes {
		if a == name {
			return true
		}
	}
	return false
}

func isEditableStandard(name string) bool {
	return name == AttrFirstName || name == AttrLastName || name == AttrEmail
}

func (u *UserAdapter) setCustom(name string, value *string) bool {
	acc := u.account
	switch name {
	case AttrPhone:
		acc.Phone = value
	case AttrMiddleName:
		acc.MiddleName = value
	case AttrDepartment:
		acc.Department = value
	case AttrPosition:
		acc.Position = value
	case AttrIPAddress:
		acc.IPAddress = value
	case AttrBannerViewed:
		acc.BannerViewed = value != nil && parseBool(*value)
	default:
		return false
	}
	return true
}

// parseBool: нераспознанное значение трактуется как false.
func parseBool(s string) bool {
	b, err := strconv.ParseBool(s)
	return err == nil && b
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
