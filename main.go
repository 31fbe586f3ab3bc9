package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"creatorpay/internal/config"
	"creatorpay/internal/db"
	httpapi "creatorpay/internal/http"
	"creatorpay/internal/ledger"
	"creatorpay/internal/notify"
	"creatorpay/internal/payout"
	"creatorpay/internal/reconciler"
	"creatorpay/internal/stripegw"
	"github.com/joho/godotenv"
)

func main() {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			log.Printf("load .env failed: %v", err)
		}
	} else if err != nil && !os.IsNotExist(err) {
		log.Printf("stat .env failed: %v", err)
	}

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		log.Fatalf("migrate failed: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	store := ledger.New(pool)
	gateway := stripegw.New(cfg.StripeSecretKey, cfg.StripeCurrency, cfg.StripeTimeout())
	notifier := notify.NewResendClient(cfg.ResendAPIKey, cfg.AlertFromEmail, cfg.AlertToEmail)
	rec := reconciler.New(store, notifier, cfg.StripeWebhookSecret, logger)
	initiator := payout.NewInitiator(store, gateway, notifier, cfg.MinPayoutCents, logger)

	server := httpapi.NewServer(store, cfg, gateway, rec, initiator)
	httpServer := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: server.Routes(),
	}

	go func() {
		log.Printf("server listening on %s", cfg.ServerAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}
}
