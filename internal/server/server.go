// Пакет server — HTTP-сервер Headplane с graceful shutdown.
// Без TLS — HTTP внутри кластера, TLS termination на reverse proxy.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/drifterza/headplane/internal/api/handlers"
	"github.com/drifterza/headplane/internal/api/middleware"
	"github.com/drifterza/headplane/internal/config"
	"github.com/drifterza/headplane/internal/domain/capabilities"
)

// Server — HTTP-сервер Headplane.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт новый HTTP-сервер с настроенными routes и middleware.
// sessionAuth — middleware проверки cookie-сессий (применяется к /api/v1,
// кроме публичного endpoint входа).
func New(cfg *config.Config, logger *slog.Logger, handler *handlers.APIHandler, sessionAuth *middleware.SessionAuth) *Server {
	router := chi.NewRouter()

	// Глобальные middleware (применяются ко ВСЕМ маршрутам)
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))

	// Публичные endpoint'ы: health, метрики, вход
	router.Get("/health/live", handler.HealthLive)
	router.Get("/health/ready", handler.HealthReady)
	router.Get("/metrics", handler.GetMetrics)
	router.Get("/oidc/start", handler.OIDCStart)
	router.Get("/oidc/callback", handler.OIDCCallback)
	router.Post("/api/v1/auth/apikey", handler.LoginAPIKey)

	// Защищённые endpoint'ы: требуется валидная сессия
	router.Group(func(r chi.Router) {
		r.Use(sessionAuth.Middleware())

		r.Post("/api/v1/auth/logout", handler.Logout)

		r.With(middleware.RequireCapability(capabilities.CapReadUsers)).
			Get("/api/v1/users", handler.ListUsers)

		r.With(middleware.RequireCapability(capabilities.CapReadMachines)).
			Get("/api/v1/preauthkeys", handler.ListPreAuthKeys)

		// Создание/истечение ключей: право проверяется внутри обработчика
		// (CapGenerateAuthKeys либо CapGenerateOwnAuthKeys + собственный пользователь)
		r.Post("/api/v1/preauthkeys", handler.CreatePreAuthKey)
		r.Post("/api/v1/preauthkeys/expire", handler.ExpirePreAuthKey)

		r.With(middleware.RequireCapability(capabilities.CapWriteMachines)).
			Post("/api/v1/nodes/register", handler.RegisterNode)
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
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

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown.
func (s *Server) Run() error {
	// Канал для ошибок сервера
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Ожидание сигнала завершения
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

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
