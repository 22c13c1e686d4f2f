// Точка входа Headplane — identity и authorization модуль для Headscale.
// Загружает конфигурацию, подключается к PostgreSQL, применяет миграции,
// инициализирует Headscale и OIDC клиенты, создаёт сервисный слой и API
// handlers, запускает topologymetrics и HTTP-сервер с graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/drifterza/headplane/internal/api/handlers"
	"github.com/drifterza/headplane/internal/api/middleware"
	"github.com/drifterza/headplane/internal/auth"
	"github.com/drifterza/headplane/internal/config"
	"github.com/drifterza/headplane/internal/database"
	"github.com/drifterza/headplane/internal/headscale"
	"github.com/drifterza/headplane/internal/repository"
	"github.com/drifterza/headplane/internal/server"
	"github.com/drifterza/headplane/internal/service"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Headplane запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	// Предупреждения о дефолтных значениях topologymetrics
	if os.Getenv("HP_DEPHEALTH_GROUP") == "" {
		logger.Warn("HP_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode).
	// Проверка здоровья PostgreSQL идёт через существующий пул соединений,
	// что позволяет обнаружить его исчерпание.
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Headscale клиент (привилегированный API-ключ сервера)
	hsClient, err := headscale.New(cfg.HeadscaleURL, cfg.HeadscaleAPIKey, cfg.HeadscaleCACertPath, logger)
	if err != nil {
		logger.Error("Ошибка создания Headscale клиента", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Headscale клиент создан", slog.String("url", cfg.HeadscaleURL))

	// 6. OIDC клиент и валидатор ID-токенов
	oidcClient := auth.NewOIDCClient(auth.OIDCConfig{
		Issuer:   cfg.OIDCIssuer,
		ClientID: cfg.OIDCClientID,
	})

	idTokenValidator, err := auth.NewIDTokenValidator(
		cfg.OIDCJWKSURL,
		cfg.HeadscaleCACertPath,
		oidcClient.Issuer(),
		cfg.OIDCClientID,
		cfg.JWKSRefreshInterval,
		cfg.JWTLeeway,
		logger,
	)
	if err != nil {
		logger.Error("Ошибка создания валидатора ID-токенов", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Валидатор ID-токенов инициализирован",
		slog.String("jwks_url", cfg.OIDCJWKSURL),
		slog.String("issuer", cfg.OIDCIssuer),
	)

	// 7. Session Manager — шифрование cookie-сессий (AES-256-GCM)
	secureCookie := strings.HasPrefix(cfg.OIDCIssuer, "https")
	sessionMgr, err := auth.NewSessionManager(cfg.SessionSecret, secureCookie)
	if err != nil {
		logger.Error("Ошибка создания Session Manager", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if cfg.SessionSecret == "" {
		logger.Warn("HP_SESSION_SECRET не задан, сессии не сохраняются между рестартами")
	}

	// 8. Repositories
	userRepo := repository.NewUserRepository(pool)
	txRunner := repository.NewTxRunner(pool)

	// 9. Services
	authenticator := auth.NewAuthenticator(func(rawKey string) auth.KeyLister {
		return hsClient.WithAPIKey(rawKey)
	}, logger)

	loginSvc := service.NewLoginService(
		txRunner,
		userRepo,
		repository.NewUserRepository,
		hsClient,
		cfg.OIDCDefaultRole,
		cfg.OIDCLinkRemoteUsers,
		logger,
	)

	preAuthKeySvc := service.NewPreAuthKeyService(hsClient, logger)

	// 10. Readiness checkers (PostgreSQL + Headscale)
	pgChecker := database.NewReadinessChecker(pool)
	healthHandler := handlers.NewHealthHandler(pgChecker, hsClient)

	// 11. API handler
	apiHandler := handlers.NewAPIHandler(
		healthHandler,
		authenticator,
		sessionMgr,
		oidcClient,
		idTokenValidator,
		loginSvc,
		preAuthKeySvc,
		hsClient,
		userRepo,
		secureCookie,
		logger,
	)

	// 12. Session middleware
	sessionAuth := middleware.NewSessionAuth(sessionMgr, logger)

	// 13. topologymetrics — мониторинг зависимостей (PostgreSQL + Headscale)
	var dephealthSvc *service.DephealthService
	dephealthSvc, dephealthErr := service.NewDephealthService(
		"headplane",
		cfg.DephealthGroup,
		pgDB,
		cfg.DatabaseURL(),
		cfg.HeadscaleURL,
		cfg.DephealthCheckInterval,
		logger,
	)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
	} else {
		if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics",
				slog.String("error", startErr.Error()),
			)
		} else {
			logger.Info("topologymetrics запущен",
				slog.String("group", cfg.DephealthGroup),
				slog.String("check_interval", cfg.DephealthCheckInterval.String()),
			)
		}
	}

	// 14. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, apiHandler, sessionAuth)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 15. Graceful shutdown фоновых задач
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	logger.Info("Headplane остановлен")
}
