package model

import "time"

// Role — внешняя роль (таблица roles). Имя служит естественным ключом,
// общим для внешнего хранилища и каталога Keycloak.
type Role struct {
	ID          int64
	Name        string
	Description *string
	ModifiedAt  time.Time
	// Rights — права роли (role_rights), упорядочены по id
	Rights []Right
}

// DescriptionValue возвращает описание или пустую строку.
func (r *Role) DescriptionValue() string {
	if r.Description == nil {
		return ""
	}
	return *r.Description
}

// Right — право роли: пара ключ/значение, копируется в атрибуты
// роли каталога.
type Right struct {
	ID         int64
	Key        string
	Value      string
	ModifiedAt time.Time
	Version    int
}

// DirectoryRole — realm-роль в каталоге Keycloak.
type DirectoryRole struct {
	ID          string
	Name        string
	Description string
	Composite   bool
	Attributes  map[string][]string
}

// RoleSeedResult — результат массового заполнения ролей каталога.
type RoleSeedResult struct {
	// RunID — идентификатор прогона (для корреляции в логах)
	RunID     string
	Total     int
	Created   int
	Updated   int
	Unchanged int
	Duration  time.Duration
}
