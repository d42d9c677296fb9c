// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import (
	"errors"

	"github.com/arturkryukov/artstore/federation-module/internal/domain/model"
)

var (
	// ErrNotFound — ресурс не найден.
	ErrNotFound = model.ErrNotFound
	// ErrConflict — конфликт (дублирующийся ресурс).
	ErrConflict = model.ErrConflict
	// ErrStoreUnavailable — внешнее хранилище учётных записей недоступно.
	ErrStoreUnavailable = model.ErrStoreUnavailable
	// ErrIDPUnavailable — Identity Provider (Keycloak) недоступен.
	ErrIDPUnavailable = model.ErrDirectoryUnavailable
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
	// ErrNotImplemented — возможность провайдера не зарегистрирована.
	ErrNotImplemented = errors.New("возможность не поддерживается")
)
