package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pizzacraft/api/internal/config"
	"github.com/pizzacraft/api/internal/database"
	"github.com/pizzacraft/api/internal/gateway"
	"github.com/pizzacraft/api/internal/idempotency"
	"github.com/pizzacraft/api/internal/logger"
	"github.com/pizzacraft/api/internal/monitor"
	"github.com/pizzacraft/api/internal/notify"
	"github.com/pizzacraft/api/internal/router"
	"github.com/pizzacraft/api/internal/service"
	"github.com/pizzacraft/api/internal/ws"
	"github.com/sirupsen/logrus"
)

const (
	mailQueueSize   = 100
	idempotencyTTL  = 10 * time.Minute
	shutdownTimeout = 15 * time.Second
)

func main() {
	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("server stopped")
	}
}

func run(cfg *config.Config, log *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	log.Info("connected to database")
	queries := database.New(pool)

	// Background workers get their own context so that in-flight requests can
	// still queue mail and broadcasts while the server drains.
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	var mailer notify.Mailer = notify.LogMailer{Log: log.WithField("component", "mail")}
	if cfg.MailEnabled() {
		mailer = notify.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.FromEmail)
	} else {
		log.Warn("SMTP credentials not set, e-mails will be logged only")
	}
	dispatcher := notify.NewDispatcher(mailer, log.WithField("component", "mail"), mailQueueSize)
	go dispatcher.Run(bgCtx)

	mailOpts := notify.Options{
		AdminEmail:   cfg.AdminEmail,
		FrontendURL:  cfg.FrontendURL,
		DashboardURL: cfg.AdminDashboardURL,
		Location:     cfg.Location,
	}
	notifier := notify.NewNotifier(dispatcher, mailOpts)

	hub := ws.NewHub()
	go hub.Run(bgCtx)

	monitorCfg := monitor.DefaultConfig()
	monitorCfg.Location = cfg.Location
	// Stock alerts bypass the queue: the monitor only starts its cooldown
	// once the mail server has accepted the alert.
	alerts := notify.NewNotifier(mailer, mailOpts)
	stock := monitor.New(queries, alerts, log.WithField("component", "stock-monitor"), monitorCfg)
	if cfg.StockMonitorEnabled {
		if err := stock.Start(bgCtx); err != nil {
			return fmt.Errorf("start stock monitor: %w", err)
		}
	}

	orders := service.NewOrderService(pool,
		func(db database.DBTX) service.OrderStore { return database.New(db) },
		service.OrderOptions{
			Location: cfg.Location,
			Events:   notify.NewOrderEvents(notifier, hub, log.WithField("component", "events")),
			Stock:    stock,
		},
	)

	var guard idempotency.Guard = idempotency.Noop{}
	if cfg.RedisURL != "" {
		rdb, err := idempotency.Connect(ctx, cfg.RedisURL)
		if err != nil {
			log.WithError(err).Warn("redis unavailable, payment callbacks rely on the database constraint only")
		} else {
			defer rdb.Close()
			guard = idempotency.NewStore(rdb, idempotencyTTL)
		}
	}

	gw := gateway.NewClient(cfg.RazorpayBaseURL, cfg.RazorpayKeyID, cfg.RazorpayKeySecret)
	if !gw.Configured() {
		log.Warn("payment gateway credentials not set, online payments disabled")
	}
	payments := service.NewPaymentService(gw, orders, queries, service.PaymentConfig{
		KeySecret: cfg.RazorpayKeySecret,
		Guard:     guard,
		Log:       log.WithField("component", "payments"),
	})

	r := router.New(cfg, router.Deps{
		Queries:  queries,
		Orders:   orders,
		Payments: payments,
		Stock:    stock,
		Mail:     notifier,
		Hub:      hub,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{"port": cfg.Port, "env": cfg.Env}).Info("starting server")
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
	}

	bgCancel()
	<-dispatcher.Done()
	if cfg.StockMonitorEnabled {
		<-stock.Done()
	}
	log.Info("server stopped cleanly")
	return nil
}
