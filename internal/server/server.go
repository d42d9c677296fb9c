// Пакет server — HTTP-сервер Federation Module с graceful shutdown.
// Без TLS: HTTP внутри кластера, TLS termination на API Gateway.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/arturkryukov/artstore/federation-module/internal/api/handlers"
	"github.com/arturkryukov/artstore/federation-module/internal/api/middleware"
	"github.com/arturkryukov/artstore/federation-module/internal/api/openapi"
	"github.com/arturkryukov/artstore/federation-module/internal/config"
)

// Server — HTTP-сервер Federation Module.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// Deps — обработчики и middleware, которые собирает main.
type Deps struct {
	API    *handlers.APIHandler
	Health *handlers.HealthHandler
	// JWTAuth — nil отключает проверку токена (тесты).
	JWTAuth *middleware.JWTAuth
	// Validator — nil отключает валидацию по OpenAPI.
	Validator *openapi.Validator
}

// New создаёт сервер с маршрутами и middleware.
func New(cfg *config.Config, logger *slog.Logger, deps Deps) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewRouter(cfg, logger, deps),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// NewRouter собирает chi router. Health и metrics публичные: их
// опрашивает Kubernetes напрямую, без API Gateway.
func NewRouter(cfg *config.Config, logger *slog.Logger, deps Deps) http.Handler {
	router := chi.NewRouter()

	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))

	deps.Health.MountHealth(router)

	router.Group(func(r chi.Router) {
		if deps.JWTAuth != nil {
			r.Use(deps.JWTAuth.Middleware())
		}
		if deps.Validator != nil {
			r.Use(deps.Validator.Middleware())
		}
		deps.API.Mount(r,
			middleware.RequireScope(cfg.APIReadScope),
			middleware.RequireScope(cfg.APIWriteScope),
		)
	})

	return router
}

// Run запускает сервер и ожидает SIGINT/SIGTERM, затем выполняет
// graceful shutdown.
func (s *Server) Run() error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
