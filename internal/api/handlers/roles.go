// roles.go — обработчики /api/v1/roles: внешние роли и их перенос в каталог.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	apierrors "github.com/arturkryukov/artstore/federation-module/internal/api/errors"
	"github.com/arturkryukov/artstore/federation-module/internal/domain/model"
)

// ListRoles — GET /api/v1/roles. search ищет подстроку в имени или описании.
func (h *APIHandler) ListRoles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	first, max, err := pagination(q)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	provider, err := h.caps.RoleProvider()
	if err != nil {
		h.writeError(w, r, err, "Ошибка получения ролей")
		return
	}
	roles, err := provider.ListRoles(r.Context(), q.Get("search"), first, max)
	if err != nil {
		h.writeError(w, r, err, "Ошибка получения ролей")
		return
	}
	items := make([]roleResponse, 0, len(roles))
	for _, role := range roles {
		items = append(items, mapRole(role))
	}
	writeJSON(w, http.StatusOK, items)
}

// GetRole — GET /api/v1/roles/{name}.
func (h *APIHandler) GetRole(w http.ResponseWriter, r *http.Request) {
	p, ok := pathParams(w, r, "name")
	if !ok {
		return
	}
	provider, err := h.caps.RoleProvider()
	if err != nil {
		h.writeError(w, r, err, "Ошибка получения роли")
		return
	}
	role, err := provider.GetRole(r.Context(), p[0])
	if err != nil {
		h.writeError(w, r, err, "Ошибка получения роли")
		return
	}
	if role == nil {
		apierrors.NotFound(w, "Роль не найдена")
		return
	}
	writeJSON(w, http.StatusOK, mapRole(role))
}

// SaveRole — POST /api/v1/roles. Роль сохраняется с правами и сразу
// переносится в каталог.
func (h *APIHandler) SaveRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	provider, err := h.caps.RoleProvider()
	if err != nil {
		h.writeError(w, r, err, "Ошибка сохранения роли")
		return
	}
	dr, err := provider.SaveRole(r.Context(), req.toModel())
	if err != nil {
		h.writeError(w, r, err, "Ошибка сохранения роли")
		return
	}
	writeJSON(w, http.StatusCreated, mapDirectoryRole(dr))
}

// RemoveRole — DELETE /api/v1/roles/{name}. Вызывается перед удалением
// realm-роли: связи с учётными записями снимаются, роль удаляется.
func (h *APIHandler) RemoveRole(w http.ResponseWriter, r *http.Request) {
	p, ok := pathParams(w, r, "name")
	if !ok {
		return
	}
	provider, err := h.caps.RoleProvider()
	if err != nil {
		h.writeError(w, r, err, "Ошибка удаления роли")
		return
	}
	removed, err := provider.RemoveRole(r.Context(), p[0])
	if err != nil {
		h.writeError(w, r, err, "Ошибка удаления роли")
		return
	}
	if !removed {
		apierrors.NotFound(w, "Роль не найдена")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SeedRoles — POST /api/v1/roles/seed.
func (h *APIHandler) SeedRoles(w http.ResponseWriter, r *http.Request) {
	h.seed(w, r, false)
}

// SeedRolesForUsers — POST /api/v1/roles/seed-for-users.
func (h *APIHandler) SeedRolesForUsers(w http.ResponseWriter, r *http.Request) {
	h.seed(w, r, true)
}

func (h *APIHandler) seed(w http.ResponseWriter, r *http.Request, forUsers bool) {
	var req seedRequest
	// Тело необязательно: пустое — маска "*".
	if err := decodeOptionalJSON(r, &req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}
	provider, err := h.caps.RoleProvider()
	if err != nil {
		h.writeError(w, r, err, "Ошибка заполнения ролей")
		return
	}

	var res *model.RoleSeedResult
	if forUsers {
		res, err = provider.SeedRolesForUsers(r.Context(), req.Mask)
	} else {
		res, err = provider.SeedRoles(r.Context(), req.Mask)
	}
	if err != nil {
		h.writeError(w, r, err, "Ошибка заполнения ролей")
		return
	}
	writeJSON(w, http.StatusOK, mapSeed(res))
}

func decodeOptionalJSON(r *http.Request, dst any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
