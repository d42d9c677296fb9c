// metrics.go — HTTP метрики Federation Module:
// fm_http_requests_total, fm_http_request_duration_seconds.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fm_http_requests_total",
			Help: "Общее количество HTTP-запросов к Federation Module",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fm_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к Federation Module в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// MetricsMiddleware считает запросы и их длительность по шаблону маршрута.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := newResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			path := routePattern(r)
			httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
			httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// routePattern возвращает шаблон маршрута chi, без совпадения normalizePath.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return normalizePath(r.URL.Path)
}

// normalizePath заменяет идентификаторы в пути на плейсхолдеры,
// чтобы id пользователей и имена ролей не попадали в лейблы.
// /api/v1/users/f:accounts:42/role-mappings/reader → /api/v1/users/{id}/role-mappings/{role}
func normalizePath(path string) string {
	const prefix = "/api/v1/"
	if !strings.HasPrefix(path, prefix) {
		return path
	}

	segs := strings.Split(strings.TrimPrefix(path, prefix), "/")
	switch segs[0] {
	case "users":
		if len(segs) > 1 && segs[1] != "count" {
			segs[1] = "{id}"
		}
		if len(segs) > 3 {
			switch segs[2] {
			case "attributes":
				segs[3] = "{name}"
			case "role-mappings":
				segs[3] = "{role}"
			case "credentials":
				segs[3] = "{type}"
			}
		}
	case "roles":
		if len(segs) > 1 && segs[1] != "seed" && segs[1] != "seed-for-users" {
			segs[1] = "{name}"
		}
	}
	return prefix + strings.Join(segs, "/")
}
