package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Mount регистрирует маршруты /api/v1. read и write — middleware проверки
// scope для чтения и изменений.
func (h *APIHandler) Mount(r chi.Router, read, write func(http.Handler) http.Handler) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(read)
			r.Get("/users", h.FindUsers)
			r.Get("/users/count", h.UsersCount)
			r.Get("/users/{id}", h.GetUser)
			r.Get("/users/{id}/credentials/{type}", h.CredentialStatus)
			r.Post("/users/{id}/credentials/{type}/validate", h.ValidateCredential)
			r.Post("/users/{id}/cache", h.OnUserCache)
			r.Get("/roles", h.ListRoles)
			r.Get("/roles/{name}", h.GetRole)
		})

		r.Group(func(r chi.Router) {
			r.Use(write)
			r.Post("/users", h.AddUser)
			r.Delete("/users/{id}", h.RemoveUser)
			r.Put("/users/{id}/attributes/{name}", h.SetAttribute)
			r.Delete("/users/{id}/attributes/{name}", h.RemoveAttribute)
			r.Put("/users/{id}/enabled", h.SetEnabled)
			// Синхронизация ролей с каталогом меняет обе стороны.
			r.Get("/users/{id}/role-mappings", h.RoleMappings)
			r.Put("/users/{id}/role-mappings/{role}", h.GrantRole)
			r.Delete("/users/{id}/role-mappings/{role}", h.RevokeRole)
			r.Put("/users/{id}/credentials/{type}", h.UpdateCredential)
			r.Delete("/users/{id}/credentials/{type}", h.DisableCredential)
			r.Post("/roles", h.SaveRole)
			r.Delete("/roles/{name}", h.RemoveRole)
			r.Post("/roles/seed", h.SeedRoles)
			r.Post("/roles/seed-for-users", h.SeedRolesForUsers)
		})
	})
}

// MountHealth регистрирует публичные health и metrics endpoints.
func (h *HealthHandler) MountHealth(r chi.Router) {
	r.Get("/health/live", h.HealthLive)
	r.Get("/health/ready", h.HealthReady)
	r.Get("/metrics", h.GetMetrics)
}
