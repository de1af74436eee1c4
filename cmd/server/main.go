package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/libris/libris/internal/app"
	"github.com/libris/libris/internal/config"
	"github.com/libris/libris/internal/handlers"
	"github.com/libris/libris/internal/middleware"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	if cfg.Env != "production" {
		logger.SetLevel(logrus.DebugLevel)
	}

	a, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize application")
	}
	defer a.Close()

	authHandlers := handlers.NewAuthHandlers(
		a.OTP,
		a.JWT,
		a.RefreshTokens,
		a.UserService,
		logger,
	)

	router := handlers.NewRouter(handlers.RouterDeps{
		Auth:        authHandlers,
		Catalog:     a.Catalog,
		Stats:       a.Stats,
		Middleware:  middleware.NewAuthMiddleware(a.JWT, a.RefreshTokens, a.OTP, logger),
		HTTPMetrics: middleware.NewHTTPMetrics(a.Registry),
		Gatherer:    a.Registry,
		Logger:      logger,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.WithField("port", cfg.Server.Port).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Fatal("Server forced to shutdown")
	}

	logger.Info("Server exited")
}
