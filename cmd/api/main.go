package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"escrowflow/account"
	"escrowflow/audit"
	"escrowflow/auth"
	"escrowflow/config"
	"escrowflow/db"
	"escrowflow/dispute"
	"escrowflow/escrow"
	"escrowflow/httpapi"
	"escrowflow/outbox"
	"escrowflow/query"
	"escrowflow/workers"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		log.Error("load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("bootstrap database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	trail := audit.NewTrail(pool)
	accounts := account.NewAggregator(pool)
	queue := outbox.NewQueue(pool)

	escrowRepo := escrow.NewRepository(pool)
	escrowSvc := escrow.NewService(pool, escrowRepo, trail, queue, accounts)
	disputeSvc := dispute.NewService(pool, dispute.NewRepository(pool), escrowRepo, trail, queue, accounts)
	authSvc := auth.NewService(auth.NewRepository(pool), cfg.JWTSecret)
	querySvc := query.NewService(pool)

	server := httpapi.NewServer(escrowSvc, disputeSvc, authSvc, querySvc, accounts, trail, log)

	dispatcher := &workers.OutboxDispatcher{
		Queue:     queue,
		Publisher: workers.LogPublisher{Log: log},
		Interval:  cfg.OutboxInterval,
		BatchSize: cfg.OutboxBatchSize,
		Log:       log,
	}
	go dispatcher.Run(ctx)

	releaser := &workers.AutoReleaseWorker{
		Pool:     pool,
		Releaser: escrowSvc,
		Interval: cfg.AutoReleaseTick,
		Log:      log,
	}
	go releaser.Run(ctx)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: server.Routes(),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()
	log.Info("api listening", "addr", cfg.HTTPAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutting down", "signal", sig.String())
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown http server", "error", err)
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "error", err)
			os.Exit(1)
		}
	}
}
