package app

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

	"calculator-api/internal/config"
	"calculator-api/internal/database"
	"calculator-api/internal/handler"
	"calculator-api/internal/logger"
	"calculator-api/internal/middleware"
	"calculator-api/internal/repository"
	"calculator-api/internal/router"
	"calculator-api/internal/service"
)

type App struct {
	server          *http.Server
	shutdownTimeout time.Duration
	cleanupFuncs    []func()
}

func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger.Setup(os.Stdout, cfg.LogLevel, cfg.LogNoColor)

	slog.Info("connecting to PostgreSQL")
	db, err := database.New(context.Background(), cfg.DatabaseURL, database.Options{
		MaxConns:       cfg.DBMaxConns,
		MinConns:       cfg.DBMinConns,
		ConnectTimeout: cfg.DBConnectTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.DBMigrateOnStart {
		if err := db.EnsureSchema(context.Background()); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to ensure database schema: %w", err)
		}
	}

	components, err := Build(cfg, db)
	if err != nil {
		db.Close()
		return nil, err
	}

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	if components.Cleaner != nil {
		go service.StartRevocationCleanup(cleanupCtx, components.Cleaner, cfg.RevocationCleanupInterval)
	}

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           components.Handler,
		ReadHeaderTimeout: cfg.ServerReadHeaderTimeout,
		WriteTimeout:      cfg.ServerWriteTimeout,
		IdleTimeout:       cfg.ServerIdleTimeout,
	}

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		cleanupFuncs: []func(){
			cleanupCancel,
			db.Close,
		},
	}, nil
}

// Components is the wired service graph behind the HTTP server.
type Components struct {
	Handler     http.Handler
	Auth        *service.AuthService
	Resolver    *service.SessionResolver
	Revocations service.RevocationRegistry
	Cleaner     service.RevocationCleaner
}

// Build wires repositories, services and handlers on top of an open database.
func Build(cfg *config.Config, db *database.DB) (*Components, error) {
	pool := db.Pool
	users := repository.NewUserRepository(pool)

	var codecOpts []service.CodecOption
	if cfg.JWTEmbedProfile {
		codecOpts = append(codecOpts, service.WithEmbeddedProfile())
	}
	codec, err := service.NewTokenCodec(cfg.JWTSecret, cfg.JWTAccessTTL, cfg.JWTRefreshTTL, codecOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token codec: %w", err)
	}

	var (
		revocations service.RevocationRegistry
		cleaner     service.RevocationCleaner
	)
	switch cfg.RevocationBackend {
	case config.RevocationPostgres:
		repo := repository.NewRevocationRepository(pool)
		revocations, cleaner = repo, repo
	default:
		memory := service.NewMemoryRevocations()
		revocations, cleaner = memory, memory
	}
	slog.Info("revocation registry ready", "backend", cfg.RevocationBackend)

	resolver := service.NewSessionResolver(codec, revocations, NewConnOpener(pool))

	authService, err := service.NewAuthService(users, service.NewBcryptHasher(cfg.BcryptCost), codec, revocations, resolver, service.AuthOptions{
		RequireActiveAtLogin: cfg.LoginRequireActive,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize auth service: %w", err)
	}

	authMiddleware := middleware.NewAuthMiddleware(resolver, users)
	appRouter := router.New(cfg, authMiddleware, router.Handlers{
		Auth:   handler.NewAuthHandler(authService),
		User:   handler.NewUserHandler(authService),
		Health: handler.NewHealthHandler(db),
	})

	return &Components{
		Handler:     appRouter,
		Auth:        authService,
		Resolver:    resolver,
		Revocations: revocations,
		Cleaner:     cleaner,
	}, nil
}

func (a *App) Run() error {
	go func() {
		slog.Info("server starting", "addr", a.server.Addr)
		if serveErr := a.server.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			slog.Error("server failed", "error", serveErr)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()

	shutdownErr := a.server.Shutdown(ctx)

	for _, cleanup := range a.cleanupFuncs {
		cleanup()
	}

	if shutdownErr != nil {
		return fmt.Errorf("graceful shutdown failed: %w", shutdownErr)
	}

	slog.Info("server stopped")
	return nil
}
