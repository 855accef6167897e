package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/garyagent/dashboard/internal/config"
	"github.com/garyagent/dashboard/internal/handler"
	"github.com/garyagent/dashboard/internal/httpx"
	"github.com/garyagent/dashboard/internal/repository"
	"github.com/garyagent/dashboard/internal/service"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := run(); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := sqlx.Connect("pgx", cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	slog.Info("database connected")

	client := httpx.New()
	client.MaxRetries = cfg.HTTPMaxRetries
	client.BackoffBase = cfg.HTTPBackoffBase
	client.Timeout = cfg.HTTPTimeout

	userRepo := repository.NewUserRepository(db)
	issueRepo := repository.NewIssueRepository(db)
	unitRepo := repository.NewWorkUnitRepository(db)
	repoRepo := repository.NewRepoRepository(db)
	settingRepo := repository.NewSettingRepository(db)

	github := service.NewGitHub(client, cfg.GitHubToken)
	gemini := service.NewGemini(client, cfg.GeminiAPIKey)
	notifier := service.NewNotifier(client, settingRepo, cfg.TelegramBotToken, cfg.TelegramChatID)

	authSvc := service.NewAuthService(userRepo, client, service.AuthConfig{
		GitHubClientID:     cfg.GitHubClientID,
		GitHubClientSecret: cfg.GitHubClientSecret,
		JWTSecret:          cfg.JWTSecret,
		FrontendURL:        cfg.FrontendURL,
	})
	issueSvc := service.NewIssueService(issueRepo)
	dispatcher := service.NewDispatcher(unitRepo, issueRepo, notifier)
	analyzer := service.NewAnalyzer(repoRepo, github, gemini)
	planner := service.NewPlanner(issueRepo, github, gemini)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewAppValidator()
	e.HTTPErrorHandler = handler.HTTPErrorHandler

	e.Use(echomw.RequestID())
	e.Use(echomw.Recover())
	e.Use(handler.RequestLogger())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     []string{cfg.FrontendURL},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{echo.HeaderAccept, echo.HeaderAuthorization, echo.HeaderContentType, "X-API-Key"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	jwtAuth := handler.JWTAuth(authSvc)
	workerAuth := handler.WorkerKeyAuth(cfg.WorkerAPIKey)

	api := e.Group("/api")
	handler.NewAuthHandler(authSvc, analyzer).Register(api, jwtAuth)
	handler.NewIssueHandler(issueSvc, planner).Register(api, jwtAuth)
	handler.NewQueueHandler(dispatcher).Register(api, jwtAuth, workerAuth)
	handler.NewRepoHandler(analyzer, github).Register(api, jwtAuth)
	handler.NewSettingsHandler(settingRepo, notifier).Register(api, jwtAuth)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      e,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "port", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("shutdown signal received", "signal", sig)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}
