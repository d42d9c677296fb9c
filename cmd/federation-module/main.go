// Точка входа Federation Module — провайдер федерации пользователей
// Keycloak поверх внешнего хранилища учётных записей (PostgreSQL).
// Загружает конфигурацию, применяет миграции, создаёт провайдер и реестр
// его возможностей, запускает topologymetrics и HTTP-сервер с JWT.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/arturkryukov/artstore/federation-module/internal/api/handlers"
	"github.com/arturkryukov/artstore/federation-module/internal/api/middleware"
	"github.com/arturkryukov/artstore/federation-module/internal/api/openapi"
	"github.com/arturkryukov/artstore/federation-module/internal/config"
	"github.com/arturkryukov/artstore/federation-module/internal/database"
	"github.com/arturkryukov/artstore/federation-module/internal/keycloak"
	"github.com/arturkryukov/artstore/federation-module/internal/repository"
	"github.com/arturkryukov/artstore/federation-module/internal/server"
	"github.com/arturkryukov/artstore/federation-module/internal/service"
)

// Таймаут HTTP-клиента JWKS при кастомном CA.
const jwksClientTimeout = 10 * time.Second

func main() {
	// 1. Конфигурация
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Логирование
	logger := config.SetupLogger(cfg)
	logger.Info("Federation Module запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("provider_id", cfg.ProviderID),
		slog.String("delete_policy", string(cfg.DeletePolicy)),
	)

	if os.Getenv("FM_DEPHEALTH_GROUP") == "" {
		logger.Warn("FM_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	// 3. Миграции
	if cfg.DBMigrate {
		logger.Info("Применение миграций БД...")
		if err := database.Migrate(cfg, logger); err != nil {
			logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// 4. PostgreSQL
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// Проверка здоровья для topologymetrics идёт через тот же пул,
	// поэтому видно и его исчерпание.
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Keycloak
	var httpClientCA *http.Client
	if cfg.CACertPath != "" {
		httpClientCA, err = buildHTTPClientWithCA(cfg.CACertPath)
		if err != nil {
			logger.Error("Ошибка загрузки CA-сертификата", slog.String("path", cfg.CACertPath), slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("CA-сертификат загружен", slog.String("path", cfg.CACertPath))
	}

	kcClient := keycloak.New(
		cfg.KeycloakURL,
		cfg.KeycloakRealm,
		cfg.KeycloakClientID,
		cfg.KeycloakClientSecret,
		httpClientCA, // nil — стандартный пул CA
		logger,
	)
	directory := keycloak.NewDirectory(kcClient)
	logger.Info("Keycloak клиент создан",
		slog.String("url", cfg.KeycloakURL),
		slog.String("realm", cfg.KeycloakRealm),
	)

	// 6. Провайдер и реестр возможностей
	roleSync := service.NewRoleSyncService(directory, directory, cfg.ProviderID, logger)
	provider := service.NewProviderService(
		repository.NewTxRunner(pool),
		roleSync,
		service.NewCredentialService(cfg.BcryptCost, logger),
		service.NewHashCache(cfg.CredentialCacheSize, cfg.CredentialCacheTTL),
		cfg.ProviderID,
		cfg.DeletePolicy,
		logger,
	)
	caps := service.NewCapabilities()
	caps.RegisterProvider(provider)

	// 7. topologymetrics
	dephealthSvc, dephealthErr := service.NewDephealthService(service.DephealthConfig{
		ServiceID:       "federation-module",
		Group:           cfg.DephealthGroup,
		DB:              pgDB,
		DatabaseURL:     cfg.DatabaseURL(),
		KeycloakJWKSURL: cfg.JWTJWKSURL,
		CheckInterval:   cfg.DephealthCheckInterval,
	}, logger)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
		dephealthSvc = nil
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", startErr.Error()))
	}

	// 8. JWT и валидация запросов
	jwtAuth, err := middleware.NewJWTAuth(
		cfg.JWTJWKSURL,
		cfg.CACertPath,
		cfg.JWTIssuer,
		jwksClientTimeout,
		cfg.JWKSRefreshInterval,
		cfg.JWTLeeway,
		logger,
	)
	if err != nil {
		logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("JWT middleware инициализирован",
		slog.String("jwks_url", cfg.JWTJWKSURL),
		slog.String("issuer", cfg.JWTIssuer),
		slog.String("read_scope", cfg.APIReadScope),
		slog.String("write_scope", cfg.APIWriteScope),
	)

	validator, err := openapi.NewValidator(logger)
	if err != nil {
		logger.Error("Ошибка загрузки OpenAPI-спецификации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 9. HTTP-сервер
	healthHandler := handlers.NewHealthHandler(
		handlers.Dependency{Name: "postgresql", Checker: database.NewReadinessChecker(pool)},
		handlers.Dependency{Name: "keycloak", Checker: kcClient},
	)
	srv := server.New(cfg, logger, server.Deps{
		API:       handlers.NewAPIHandler(caps, logger),
		Health:    healthHandler,
		JWTAuth:   jwtAuth,
		Validator: validator,
	})
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}
	logger.Info("Federation Module остановлен")
}

// buildHTTPClientWithCA создаёт HTTP-клиент с кастомным CA-сертификатом.
func buildHTTPClientWithCA(caCertPath string) (*http.Client, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, err
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	caCertPool.AppendCertsFromPEM(caCert)

	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				RootCAs: caCertPool,
			},
		},
	}, nil
}
