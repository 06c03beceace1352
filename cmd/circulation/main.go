// Package main запускает HTTP-сервер сервиса книговыдачи.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/circulation-system/internal/config"
	"github.com/mmeshcher/circulation-system/internal/events"
	"github.com/mmeshcher/circulation-system/internal/handler"
	"github.com/mmeshcher/circulation-system/internal/middleware"
	"github.com/mmeshcher/circulation-system/internal/repository"
	"github.com/mmeshcher/circulation-system/internal/service"
)

const eventBuffer = 1024

func openStore(cfg *config.Config) (repository.Store, error) {
	if cfg.DatabaseURI == "" {
		return repository.NewMemoryRepository(), nil
	}
	return repository.NewPostgresRepository(cfg.DatabaseURI)
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	store, err := openStore(cfg)
	if err != nil {
		sugar.Fatalw("storage initialization error", "error", err.Error())
	}
	if cfg.DatabaseURI == "" {
		sugar.Warnw("DATABASE_URI is empty, state is kept in memory")
	}

	sink := events.NewLogSink(logger.Named("events"), eventBuffer)
	defer func() {
		sink.Close()
		if n := sink.Dropped(); n > 0 {
			sugar.Warnw("circulation events dropped", "count", n)
		}
	}()

	svc := service.NewService(store, service.WithEvents(sink), service.WithPolicy(cfg.Policy()))
	defer svc.Close()

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	h := handler.NewHandler(svc, logger, authMiddleware)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск фонового обхода просроченных выдач
	g.Go(func() error {
		svc.StartOverdueSweep(ctx, cfg.OverdueSweepInterval)
		return nil
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting circulation server",
			"addr", cfg.RunAddress,
			"loan_period", cfg.LoanPeriod.String(),
			"max_renewals", cfg.MaxRenewals,
			"daily_fine_cents", cfg.DailyFineCents,
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Errorw("application terminated with error", "error", err)
	}
}
