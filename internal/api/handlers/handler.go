// Пакет handlers — HTTP-обработчики Federation Module.
// Обработчики получают возможности провайдера из реестра
// service.Capabilities: незарегистрированная возможность — 501.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"

	apierrors "github.com/arturkryukov/artstore/federation-module/internal/api/errors"
	"github.com/arturkryukov/artstore/federation-module/internal/service"
)

// APIHandler — обработчик /api/v1.
type APIHandler struct {
	caps   *service.Capabilities
	logger *slog.Logger
}

// NewAPIHandler создаёт обработчик поверх реестра возможностей.
func NewAPIHandler(caps *service.Capabilities, logger *slog.Logger) *APIHandler {
	return &APIHandler{
		caps:   caps,
		logger: logger.With(slog.String("component", "api_handler")),
	}
}

// --- Вспомогательные функции ---

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError отвечает по виду ошибки сервиса; прочие ошибки — 500 с записью в лог.
func (h *APIHandler) writeError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	if apierrors.FromService(w, err) {
		return
	}
	h.logger.ErrorContext(r.Context(), msg,
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	apierrors.InternalError(w, msg)
}

// pathParam извлекает и раскодирует параметр пути chi.
func pathParam(r *http.Request, name string) (string, error) {
	var v string
	err := runtime.BindStyledParameterWithOptions("simple", name, chi.URLParam(r, name), &v,
		runtime.BindStyledParameterOptions{
			ParamLocation: runtime.ParamLocationPath,
			Required:      true,
		})
	return v, err
}

// pathParams извлекает несколько параметров пути; при ошибке отвечает 400.
func pathParams(w http.ResponseWriter, r *http.Request, names ...string) ([]string, bool) {
	values := make([]string, len(names))
	for i, name := range names {
		v, err := pathParam(r, name)
		if err != nil {
			apierrors.ValidationError(w, "Некорректный параметр пути "+name+": "+err.Error())
			return nil, false
		}
		values[i] = v
	}
	return values, true
}

// pagination читает first/max. Отсутствующая граница — -1 (без ограничения).
func pagination(q url.Values) (first, max int, err error) {
	first, max = -1, -1
	if err = runtime.BindQueryParameter("form", true, false, "first", q, &first); err != nil {
		return 0, 0, err
	}
	if err = runtime.BindQueryParameter("form", true, false, "max", q, &max); err != nil {
		return 0, 0, err
	}
	return first, max, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return false
	}
	return true
}
