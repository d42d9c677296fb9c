// credentials.go — проверка и смена паролей (bcrypt).
//
// Источник хэша (HashSource) выбирается один раз на границе вызова:
// LiveHash берётся из учётной записи, CachedHash из кэша каталога.
// Валидатор сам кэш не заполняет.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/arturkryukov/artstore/federation-module/internal/domain/model"
	"github.com/arturkryukov/artstore/federation-module/internal/repository"
)

// PasswordCredential — единственный поддерживаемый тип учётных данных.
const PasswordCredential = "password"

// bcryptShape — формат хэша bcrypt: $2[a|b|y]$NN$ + 53 символа соли и хэша.
var bcryptShape = regexp.MustCompile(`^\$2[aby]?\$\d\d\$[./0-9A-Za-z]{53}$`)

// HashSource — источник хранимого хэша.
type HashSource interface {
	storedHash() (string, bool)
}

// LiveHash — хэш из учётной записи хранилища.
type LiveHash struct {
	Account *model.Account
}

func (s LiveHash) storedHash() (string, bool) {
	if s.Account == nil || s.Account.PasswordHash == nil || *s.Account.PasswordHash == "" {
		return "", false
	}
	return *s.Account.PasswordHash, true
}

// CachedHash — хэш из кэша каталога.
type CachedHash struct {
	Hash string
}

func (s CachedHash) storedHash() (string, bool) {
	return s.Hash, s.Hash != ""
}

// CredentialService — валидатор паролей.
type CredentialService struct {
	cost   int
	now    func() time.Time
	logger *slog.Logger
}

// NewCredentialService создаёт валидатор с заданной стоимостью bcrypt.
func NewCredentialService(cost int, logger *slog.Logger) *CredentialService {
	return &CredentialService{
		cost:   cost,
		now:    time.Now,
		logger: logger.With(slog.String("component", "credentials")),
	}
}

// Supports — true только для пароля.
func (s *CredentialService) Supports(kind string) bool {
	return kind == PasswordCredential
}

// IsConfigured — тип поддерживается и хэш есть в источнике.
func (s *CredentialService) IsConfigured(src HashSource, kind string) bool {
	if !s.Supports(kind) || src == nil {
		return false
	}
	_, ok := src.storedHash()
	return ok
}

// Verify сравнивает пароль с хранимым хэшем. Любая неопределённость — false.
func (s *CredentialService) Verify(src HashSource, raw string) bool {
	if src == nil {
		return false
	}
	hash, ok := src.storedHash()
	if !ok {
		return false
	}
	if !bcryptShape.MatchString(hash) {
		s.logger.Warn("Хранимый хэш не похож на bcrypt, проверка отклонена")
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(raw)) == nil
}

// Update хэширует новый пароль и сохраняет хэш и время смены одним UPDATE.
// false — тип не поддерживается.
func (s *CredentialService) Update(ctx context.Context, st repository.Store, acc *model.Account, kind, raw string) (bool, error) {
	if !s.Supports(kind) {
		return false, nil
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(raw), s.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return false, fmt.Errorf("%w: пароль длиннее 72 байт", ErrValidation)
		}
		return false, fmt.Errorf("хэширование пароля: %w", err)
	}

	hash := string(hashed)
	changedAt := s.now().UTC()
	if err := st.Accounts().UpdatePassword(ctx, acc.ID, &hash, &changedAt); err != nil {
		return false, fmt.Errorf("сохранение пароля: %w", err)
	}

	acc.PasswordHash = &hash
	acc.PasswordChangedAt = &changedAt
	return true, nil
}

// Disable удаляет хэш пароля. false — тип не поддерживается.
func (s *CredentialService) Disable(ctx context.Context, st repository.Store, acc *model.Account, kind string) (bool, error) {
	if !s.Supports(kind) {
		return false, nil
	}

	if err := st.Accounts().UpdatePassword(ctx, acc.ID, nil, acc.PasswordChangedAt); err != nil {
		return false, fmt.Errorf("отключение пароля: %w", err)
	}

	acc.PasswordHash = nil
	return true, nil
}
