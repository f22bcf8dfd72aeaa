// Command notifier runs the notification gate from cron: a low-stock scan,
// the daily report, or both.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/SRXKaiser/mro-inventory/internal/adapters/notify"
	"github.com/SRXKaiser/mro-inventory/internal/config"
	"github.com/SRXKaiser/mro-inventory/internal/core"
	"github.com/SRXKaiser/mro-inventory/internal/db"
	"github.com/SRXKaiser/mro-inventory/internal/logger"
)

func main() {
	var (
		configPath = flag.String("config", "config/config.yaml", "path to config file")
		scan       = flag.Bool("scan", false, "scan snapshots and send low stock alerts")
		daily      = flag.Bool("daily", false, "send the daily report")
		date       = flag.String("date", "", "report date (YYYY-MM-DD), defaults to today")
		force      = flag.Bool("force", false, "resend the daily report even if already sent")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.New("prod").Error("failed to load config", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.App.Env)

	if !*scan && !*daily {
		log.Error("nothing to do: pass -scan and/or -daily")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.Postgres.DSN)
	if err != nil {
		log.Error("database connect failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	reporting := core.NewReportingService(pool)
	sender := notify.NewLogSender(log, cfg.Notify.Recipients)
	notifier := core.NewNotifyService(pool, reporting, sender, core.Cooldowns{
		Critical:    cfg.CriticalCooldown(),
		High:        cfg.HighCooldown(),
		Medium:      cfg.MediumCooldown(),
		DailyReport: cfg.DailyReportCooldown(),
	}, log)

	if *scan {
		sent, err := notifier.ScanAndNotify(ctx)
		if err != nil {
			log.Error("low stock scan failed", "error", err)
			os.Exit(1)
		}
		log.Info("low stock scan finished", "alerts_sent", sent)
	}

	if *daily {
		day := time.Now()
		if *date != "" {
			day, err = time.Parse("2006-01-02", *date)
			if err != nil {
				log.Error("invalid -date, expected YYYY-MM-DD", "error", err)
				os.Exit(2)
			}
		}
		ev, err := notifier.SendDailyReport(ctx, day, *force)
		if err != nil {
			log.Error("daily report failed", "error", err)
			os.Exit(1)
		}
		log.Info("daily report finished", "status", string(ev.Status), "key", ev.Key)
	}
}
