package account

import (
	"bytes"
	"encoding/json"
)

// Attributes — упорядоченная мультикарта атрибутов пользователя.
// Порядок ключей совпадает с порядком добавления.
type Attributes struct {
	keys   []string
	values map[string][]string
}

// NewAttributes создаёт пустую мультикарту.
func NewAttributes() *Attributes {
	return &Attributes{values: make(map[string][]string)}
}

// Add добавляет значение к ключу. nil-значение регистрирует ключ без значений.
func (a *Attributes) Add(name string, value *string) {
	if _, ok := a.values[name]; !ok {
		a.keys = append(a.keys, name)
		a.values[name] = []string{}
	}
	if value != nil {
		a.values[name] = append(a.values[name], *value)
	}
}

// Keys возвращает ключи в порядке добавления.
func (a *Attributes) Keys() []string {
	out := make([]string, len(a.keys))
	copy(out, a.keys)
	return out
}

// Get возвращает все значения ключа.
func (a *Attributes) Get(name string) []string {
	return a.values[name]
}

// First возвращает первое значение ключа или пустую строку.
func (a *Attributes) First(name string) string {
	if v := a.values[name]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// Len — количество ключей.
func (a *Attributes) Len() int {
	return len(a.keys)
}

// MarshalJSON сериализует мультикарту в JSON-объект с сохранением порядка ключей.
func (a *Attributes) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range a.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(a.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
