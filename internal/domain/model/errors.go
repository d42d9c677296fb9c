package model

import "errors"

// Виды ошибок, общие для хранилища, каталога и сервисного слоя.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict — конфликт уникальности (одновременное создание).
	ErrConflict = errors.New("конфликт — запись уже существует")
	// ErrStoreUnavailable — хранилище недоступно или транзакция не зафиксирована.
	ErrStoreUnavailable = errors.New("хранилище учётных записей недоступно")
	// ErrDirectoryUnavailable — каталог (Keycloak) недоступен.
	ErrDirectoryUnavailable = errors.New("Identity Provider недоступен")
)
