// Пакет storageid — составные идентификаторы пользователей федерации.
// Формат: f:<provider-id>:<числовой id учётной записи>.
package storageid

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const prefix = "f:"

// ErrInvalidID — строка не является составным идентификатором федерации.
var ErrInvalidID = errors.New("некорректный идентификатор пользователя федерации")

// Encode формирует составной идентификатор из provider id и id учётной записи.
func Encode(providerID string, id int64) string {
	return prefix + providerID + ":" + strconv.FormatInt(id, 10)
}

// Decode извлекает числовой id учётной записи из составного идентификатора.
// Числовая часть не содержит ':', поэтому разделителем считается последнее
// двоеточие — provider id может быть любым. Принимается только каноническая
// запись числа ("042" и "+42" отклоняются), так что Decode обратна Encode.
func Decode(composite string) (int64, error) {
	_, raw, err := split(composite)
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 || strconv.FormatInt(id, 10) != raw {
		return 0, fmt.Errorf("%w: %q", ErrInvalidID, composite)
	}
	return id, nil
}

// ProviderOf возвращает provider id из составного идентификатора.
func ProviderOf(composite string) (string, error) {
	provider, _, err := split(composite)
	return provider, err
}

func split(composite string) (provider, raw string, err error) {
	if !strings.HasPrefix(composite, prefix) {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidID, composite)
	}
	rest := composite[len(prefix):]
	idx := strings.LastIndex(rest, ":")
	if idx < 0 || idx == len(rest)-1 {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidID, composite)
	}
	return rest[:idx], rest[idx+1:], nil
}
