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

	"github.com/bsm/redislock"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/barberhub/totem-api/internal/accounting/ledger"
	"github.com/barberhub/totem-api/internal/config"
	"github.com/barberhub/totem-api/internal/database"
	"github.com/barberhub/totem-api/internal/events"
	"github.com/barberhub/totem-api/internal/logging"
	"github.com/barberhub/totem-api/internal/receipt"
	"github.com/barberhub/totem-api/internal/router"
	"github.com/barberhub/totem-api/internal/service"
	"github.com/barberhub/totem-api/internal/terminal"
	"github.com/barberhub/totem-api/internal/ws"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	pool, err := pgxpool.New(sigCtx, cfg.DatabaseURL)
	if err != nil {
		logger.WithField("module", "main").Fatal("unable to create pool: " + err.Error())
	}
	defer pool.Close()
	if err := pool.Ping(sigCtx); err != nil {
		logger.WithField("module", "main").Fatal("unable to reach database: " + err.Error())
	}

	// Redis is optional: without it the ledger lock is process-local and the
	// pending-transaction marker lives in memory.
	var (
		rdb     *redis.Client
		locker  ledger.Locker = ledger.NewLocalLocker()
		pending terminal.PendingStore
	)
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(sigCtx).Err(); err != nil {
			logger.WithField("module", "main").Fatal("unable to reach redis: " + err.Error())
		}
		locker = ledger.NewRedisLocker(redislock.New(rdb))
		pending = terminal.NewRedisPendingStore(rdb, cfg.TerminalID)
		logger.WithField("module", "main").Info("redis connected")
	}

	hub := ws.NewHub(logger)
	go hub.Run()

	publishers := events.Multi{hub}
	if cfg.PubSubProjectID != "" {
		ps, err := events.NewPubSubPublisher(sigCtx, cfg.PubSubProjectID, cfg.PubSubTopic, cfg.PubSubCredentialsJSON)
		if err != nil {
			logger.WithField("module", "main").Warn("pubsub disabled: " + err.Error())
		} else {
			defer ps.Close()
			publishers = append(publishers, ps)
		}
	}

	engine := ledger.NewEngine(pool, func(db database.DBTX) ledger.Store {
		return database.New(db)
	}, locker, ledger.Options{
		DefaultCommissionRate: cfg.DefaultCommissionRate,
		RequireCommissionRate: cfg.RequireCommissionRate,
	}, logger)

	coordinator := service.NewCheckoutCoordinator(pool, func(db database.DBTX) service.CheckoutStore {
		return database.New(db)
	}, engine, publishers, logger)

	orch := terminal.NewOrchestrator(
		terminal.NewHTTPBridge(cfg.TerminalBridgeURL),
		pending,
		receipt.NewHTTPSender(cfg.ReceiptServiceURL, logger),
		coordinator,
		logger,
		terminal.Options{
			Timeout:      cfg.TerminalTimeout,
			PollInterval: cfg.TerminalPollInterval,
		},
	)

	r := router.New(cfg, router.Services{
		Checkout: coordinator,
		Terminal: orch,
		Ledger:   engine,
		Hub:      hub,
	}, logger)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrCh := make(chan error, 1)
	go func() {
		logger.WithField("module", "main").Info("starting server on :" + cfg.Port)
		serverErrCh <- srv.ListenAndServe()
	}()

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"module": "main"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"module": "main"}).Error("graceful shutdown failed: " + err.Error())
	}

	// Give in-flight terminal work (polling, recovery checks, receipts) the
	// rest of the shutdown window.
	done := make(chan struct{})
	go func() {
		orch.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.WithField("module", "main").Warn("terminal work still running at shutdown")
	}

	if rdb != nil {
		_ = rdb.Close()
	}
}
