package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SRXKaiser/mro-inventory/internal/adapters/notify"
	"github.com/SRXKaiser/mro-inventory/internal/adapters/web"
	"github.com/SRXKaiser/mro-inventory/internal/config"
	"github.com/SRXKaiser/mro-inventory/internal/core"
	"github.com/SRXKaiser/mro-inventory/internal/db"
	"github.com/SRXKaiser/mro-inventory/internal/logger"
)

func main() {
	cfg, err := config.Load("config/config.yaml")
	if err != nil {
		logger.New("prod").Error("failed to load config", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.App.Env)

	if err := db.RunMigrations(cfg.Postgres.DSN, "migrations"); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}
	log.Info("migrations applied")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.Postgres.DSN)
	if err != nil {
		log.Error("database connect failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	log.Info("database connected")

	reporting := core.NewReportingService(pool)
	sender := notify.NewLogSender(log, cfg.Notify.Recipients)
	notifier := core.NewNotifyService(pool, reporting, sender, core.Cooldowns{
		Critical:    cfg.CriticalCooldown(),
		High:        cfg.HighCooldown(),
		Medium:      cfg.MediumCooldown(),
		DailyReport: cfg.DailyReportCooldown(),
	}, log)

	stock := core.NewStockService(pool, notifier)
	catalog := core.NewCatalogService(pool)
	locations := core.NewLocationService(pool)
	orders := core.NewWorkOrderService(pool)
	orderOps := core.NewWorkOrderStockService(pool, stock, notifier)
	workflow := core.NewWorkflowService(pool, stock, notifier)
	audit := core.NewAuditService(pool)

	handler := web.NewHandler(web.Services{
		Stock:     stock,
		Catalog:   catalog,
		Locations: locations,
		Orders:    orders,
		OrderOps:  orderOps,
		Workflow:  workflow,
		Reporting: reporting,
		Notify:    notifier,
		Audit:     audit,
	}, log, cfg.Metrics.Enabled)

	srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: handler}
	go func() {
		log.Info("server starting", "addr", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info("graceful shutdown complete")
}
