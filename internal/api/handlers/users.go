// users.go — обработчики /api/v1/users.
package handlers

import (
	"net/http"

	"github.com/oapi-codegen/runtime"
	openapi_types "github.com/oapi-codegen/runtime/types"

	apierrors "github.com/arturkryukov/artstore/federation-module/internal/api/errors"
	"github.com/arturkryukov/artstore/federation-module/internal/domain/account"
)

// FindUsers — GET /api/v1/users.
// username или email дают точный поиск (0 или 1 элемент), search ищет
// по подстроке ("*" означает всех), без параметров возвращается список.
func (h *APIHandler) FindUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var emailParam openapi_types.Email
	if err := runtime.BindQueryParameter("form", true, false, "email", q, &emailParam); err != nil {
		apierrors.ValidationError(w, "Некорректный параметр email: "+err.Error())
		return
	}

	username, email := q.Get("username"), string(emailParam)
	if username != "" || email != "" {
		lookup, err := h.caps.UserLookup()
		if err != nil {
			h.writeError(w, r, err, "Ошибка поиска пользователя")
			return
		}
		var user *account.UserAdapter
		if username != "" {
			user, err = lookup.GetUserByUsername(r.Context(), username)
		} else {
			user, err = lookup.GetUserByEmail(r.Context(), email)
		}
		if err != nil {
			h.writeError(w, r, err, "Ошибка поиска пользователя")
			return
		}
		var users []*account.UserAdapter
		if user != nil {
			users = append(users, user)
		}
		writeJSON(w, http.StatusOK, mapUsers(users))
		return
	}

	first, max, err := pagination(q)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	query, err := h.caps.UserQuery()
	if err != nil {
		h.writeError(w, r, err, "Ошибка получения пользователей")
		return
	}

	var users []*account.UserAdapter
	if search := q.Get("search"); search != "" {
		users, err = query.SearchUsers(r.Context(), search, first, max)
	} else {
		users, err = query.ListUsers(r.Context(), first, max)
	}
	if err != nil {
		h.writeError(w, r, err, "Ошибка получения пользователей")
		return
	}
	writeJSON(w, http.StatusOK, mapUsers(users))
}

// UsersCount — GET /api/v1/users/count.
func (h *APIHandler) UsersCount(w http.ResponseWriter, r *http.Request) {
	query, err := h.caps.UserQuery()
	if err != nil {
		h.writeError(w, r, err, "Ошибка подсчёта пользователей")
		return
	}
	n, err := query.UsersCount(r.Context())
	if err != nil {
		h.writeError(w, r, err, "Ошибка подсчёта пользователей")
		return
	}
	writeJSON(w, http.StatusOK, countResponse{Count: n})
}

// GetUser — GET /api/v1/users/{id}.
func (h *APIHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	p, ok := pathParams(w, r, "id")
	if !ok {
		return
	}
	lookup, err := h.caps.UserLookup()
	if err != nil {
		h.writeError(w, r, err, "Ошибка получения пользователя")
		return
	}
	user, err := lookup.GetUserByID(r.Context(), p[0])
	if err != nil {
		h.writeError(w, r, err, "Ошибка получения пользователя")
		return
	}
	if user == nil {
		apierrors.NotFound(w, "Пользователь не найден")
		return
	}
	writeJSON(w, http.StatusOK, mapUser(user))
}

// AddUser — POST /api/v1/users.
func (h *APIHandler) AddUser(w http.ResponseWriter, r *http.Request) {
	var req userCreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	reg, err := h.caps.UserRegistration()
	if err != nil {
		h.writeError(w, r, err, "Ошибка создания пользователя")
		return
	}
	user, err := reg.AddUser(r.Context(), req.Username)
	if err != nil {
		h.writeError(w, r, err, "Ошибка создания пользователя")
		return
	}
	writeJSON(w, http.StatusCreated, mapUser(user))
}

// RemoveUser — DELETE /api/v1/users/{id}. Политика удаления задаётся конфигурацией.
func (h *APIHandler) RemoveUser(w http.ResponseWriter, r *http.Request) {
	p, ok := pathParams(w, r, "id")
	if !ok {
		return
	}
	reg, err := h.caps.UserRegistration()
	if err != nil {
		h.writeError(w, r, err, "Ошибка удаления пользователя")
		return
	}
	removed, err := reg.RemoveUser(r.Context(), p[0])
	if err != nil {
		h.writeError(w, r, err, "Ошибка удаления пользователя")
		return
	}
	if !removed {
		apierrors.NotFound(w, "Пользователь не найден")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetAttribute — PUT /api/v1/users/{id}/attributes/{name}.
// handled=false — атрибут не хранится во внешнем хранилище.
func (h *APIHandler) SetAttribute(w http.ResponseWriter, r *http.Request) {
	p, ok := pathParams(w, r, "id", "name")
	if !ok {
		return
	}
	var req attributeValuesRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	editor, err := h.caps.UserEditor()
	if err != nil {
		h.writeError(w, r, err, "Ошибка изменения атрибута")
		return
	}
	handled, err := editor.SetAttribute(r.Context(), p[0], p[1], req.Values)
	if err != nil {
		h.writeError(w, r, err, "Ошибка изменения атрибута")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"handled": handled})
}

// RemoveAttribute — DELETE /api/v1/users/{id}/attributes/{name}.
func (h *APIHandler) RemoveAttribute(w http.ResponseWriter, r *http.Request) {
	p, ok := pathParams(w, r, "id", "name")
	if !ok {
		return
	}
	editor, err := h.caps.UserEditor()
	if err != nil {
		h.writeError(w, r, err, "Ошибка удаления атрибута")
		return
	}
	handled, err := editor.RemoveAttribute(r.Context(), p[0], p[1])
	if err != nil {
		h.writeError(w, r, err, "Ошибка удаления атрибута")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"handled": handled})
}

// SetEnabled — PUT /api/v1/users/{id}/enabled.
func (h *APIHandler) SetEnabled(w http.ResponseWriter, r *http.Request) {
	p, ok := pathParams(w, r, "id")
	if !ok {
		return
	}
	var req enabledRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	editor, err := h.caps.UserEditor()
	if err != nil {
		h.writeError(w, r, err, "Ошибка изменения статуса")
		return
	}
	if err := editor.SetEnabled(r.Context(), p[0], req.Enabled); err != nil {
		h.writeError(w, r, err, "Ошибка изменения статуса")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RoleMappings — GET /api/v1/users/{id}/role-mappings.
// Переносит роли учётной записи в каталог и возвращает итоговый набор.
func (h *APIHandler) RoleMappings(w http.ResponseWriter, r *http.Request) {
	p, ok := pathParams(w, r, "id")
	if !ok {
		return
	}
	mapper, err := h.caps.RoleMapper()
	if err != nil {
		h.writeError(w, r, err, "Ошибка получения ролей пользователя")
		return
	}
	roles, err := mapper.RoleMappings(r.Context(), p[0])
	if err != nil {
		h.writeError(w, r, err, "Ошибка получения ролей пользователя")
		return
	}
	items := make([]directoryRoleResponse, 0, len(roles))
	for _, dr := range roles {
		items = append(items, mapDirectoryRole(dr))
	}
	writeJSON(w, http.StatusOK, items)
}

// GrantRole — PUT /api/v1/users/{id}/role-mappings/{role}.
func (h *APIHandler) GrantRole(w http.ResponseWriter, r *http.Request) {
	p, ok := pathParams(w, r, "id", "role")
	if !ok {
		return
	}
	mapper, err := h.caps.RoleMapper()
	if err != nil {
		h.writeError(w, r, err, "Ошибка назначения роли")
		return
	}
	if err := mapper.GrantRole(r.Context(), p[0], p[1]); err != nil {
		h.writeError(w, r, err, "Ошибка назначения роли")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RevokeRole — DELETE /api/v1/users/{id}/role-mappings/{role}.
func (h *APIHandler) RevokeRole(w http.ResponseWriter, r *http.Request) {
	p, ok := pathParams(w, r, "id", "role")
	if !ok {
		return
	}
	mapper, err := h.caps.RoleMapper()
	if err != nil {
		h.writeError(w, r, err, "Ошибка снятия роли")
		return
	}
	if err := mapper.RevokeRole(r.Context(), p[0], p[1]); err != nil {
		h.writeError(w, r, err, "Ошибка снятия роли")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CredentialStatus — GET /api/v1/users/{id}/credentials/{type}.
func (h *APIHandler) CredentialStatus(w http.ResponseWriter, r *http.Request) {
	p, ok := pathParams(w, r, "id", "type")
	if !ok {
		return
	}
	validator, err := h.caps.CredentialValidator()
	if err != nil {
		h.writeError(w, r, err, "Ошибка проверки учётных данных")
		return
	}
	resp := credentialStatusResponse{Type: p[1], Supported: validator.SupportsCredential(p[1])}
	if resp.Supported {
		resp.Configured, err = validator.IsCredentialConfigured(r.Context(), p[0], p[1])
		if err != nil {
			h.writeError(w, r, err, "Ошибка проверки учётных данных")
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ValidateCredential — POST /api/v1/users/{id}/credentials/{type}/validate.
// Неверный пароль и неизвестный пользователь неразличимы: valid=false.
func (h *APIHandler) ValidateCredential(w http.ResponseWriter, r *http.Request) {
	p, ok := pathParams(w, r, "id", "type")
	if !ok {
		return
	}
	var req credentialRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	validator, err := h.caps.CredentialValidator()
	if err != nil {
		h.writeError(w, r, err, "Ошибка проверки учётных данных")
		return
	}
	valid, err := validator.ValidateCredential(r.Context(), p[0], p[1], req.Value)
	if err != nil {
		h.writeError(w, r, err, "Ошибка проверки учётных данных")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"valid": valid})
}

// UpdateCredential — PUT /api/v1/users/{id}/credentials/{type}.
func (h *APIHandler) UpdateCredential(w http.ResponseWriter, r *http.Request) {
	p, ok := pathParams(w, r, "id", "type")
	if !ok {
		return
	}
	var req credentialRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	updater, err := h.caps.CredentialUpdater()
	if err != nil {
		h.writeError(w, r, err, "Ошибка смены учётных данных")
		return
	}
	updated, err := updater.UpdateCredential(r.Context(), p[0], p[1], req.Value)
	if err != nil {
		h.writeError(w, r, err, "Ошибка смены учётных данных")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"updated": updated})
}

// DisableCredential — DELETE /api/v1/users/{id}/credentials/{type}.
func (h *APIHandler) DisableCredential(w http.ResponseWriter, r *http.Request) {
	p, ok := pathParams(w, r, "id", "type")
	if !ok {
		return
	}
	updater, err := h.caps.CredentialUpdater()
	if err != nil {
		h.writeError(w, r, err, "Ошибка отключения учётных данных")
		return
	}
	disabled, err := updater.DisableCredential(r.Context(), p[0], p[1])
	if err != nil {
		h.writeError(w, r, err, "Ошибка отключения учётных данных")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"disabled": disabled})
}

// OnUserCache — POST /api/v1/users/{id}/cache.
func (h *APIHandler) OnUserCache(w http.ResponseWriter, r *http.Request) {
	p, ok := pathParams(w, r, "id")
	if !ok {
		return
	}
	hook, err := h.caps.UserCacheHook()
	if err != nil {
		h.writeError(w, r, err, "Ошибка кэширования пользователя")
		return
	}
	if err := hook.OnUserCache(r.Context(), p[0]); err != nil {
		h.writeError(w, r, err, "Ошибка кэширования пользователя")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
