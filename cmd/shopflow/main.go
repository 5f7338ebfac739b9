package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/shopflow/shopflow/internal/catalog"
	"github.com/shopflow/shopflow/internal/config"
	"github.com/shopflow/shopflow/internal/db"
	"github.com/shopflow/shopflow/internal/handler"
	"github.com/shopflow/shopflow/internal/notify"
	"github.com/shopflow/shopflow/internal/order"
	"github.com/shopflow/shopflow/internal/payment"
	"github.com/shopflow/shopflow/internal/transport"
)

const expireSweepInterval = 5 * time.Minute

func main() {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	log.Logger = log.With().Str("service", "shopflow").Logger()

	log.Info().Msg("Shopflow starting...")

	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	dbConn, err := db.New(cfg.Postgres)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbConn.Close()

	catalogStore := catalog.NewStore(dbConn.Pool)

	messenger := buildMessenger(cfg.Twilio)
	notifySvc := notify.NewService(notify.NewRepository(dbConn.Pool), messenger, catalogStore, notifyStatuses(cfg.App.NotifyStatuses))

	orderSvc := order.NewService(order.NewRepository(dbConn.Pool), catalogStore, notifySvc)

	providers := buildProviders(cfg)
	paymentSvc := payment.NewService(payment.NewRepository(dbConn.Pool), providers, orderSvc)

	router := transport.NewRouter(transport.Handlers{
		Orders:   handler.NewOrderHandler(orderSvc),
		Payments: handler.NewPaymentHandler(paymentSvc, cfg.Stripe.WebhookSecret),
		Notify:   handler.NewNotifyHandler(notifySvc, orderSvc),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	go runExpireSweep(sweepCtx, paymentSvc, cfg.App.PaymentMaxAge)

	go func() {
		log.Info().Str("port", cfg.App.Port).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Info().Msg("Shutting down...")

	stopSweep()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Shutdown failed")
	}
	log.Info().Msg("Server stopped")
}

func buildProviders(cfg *config.Config) map[payment.Kind]payment.Provider {
	providers := make(map[payment.Kind]payment.Provider)

	if cfg.Stripe.SecretKey != "" {
		stripe, err := payment.NewStripeProvider(cfg.Stripe.SecretKey)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to configure Stripe")
		}
		providers[payment.KindStripe] = stripe
		log.Info().Msg("Stripe payments enabled")
	}

	if cfg.PayPal.ClientID != "" && cfg.PayPal.ClientSecret != "" {
		paypal, err := payment.NewPayPalProvider(payment.PayPalConfig{
			ClientID:     cfg.PayPal.ClientID,
			ClientSecret: cfg.PayPal.ClientSecret,
			Mode:         cfg.PayPal.Mode,
			ReturnURL:    cfg.PayPal.ReturnURL,
			CancelURL:    cfg.PayPal.CancelURL,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to configure PayPal")
		}
		providers[payment.KindPayPal] = paypal
		log.Info().Str("mode", cfg.PayPal.Mode).Msg("PayPal payments enabled")
	}

	if len(providers) == 0 {
		log.Warn().Msg("No payment providers configured; orders cannot be paid")
	}

	return providers
}

func buildMessenger(cfg config.TwilioConfig) notify.Messenger {
	if cfg.AccountSID == "" || cfg.AuthToken == "" || cfg.PhoneNumber == "" {
		log.Warn().Msg("Twilio is not configured; notifications will be recorded as failed")
		return notify.Disabled{}
	}

	messenger, err := notify.NewTwilioMessenger(notify.TwilioConfig{
		AccountSID:  cfg.AccountSID,
		AuthToken:   cfg.AuthToken,
		PhoneNumber: cfg.PhoneNumber,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to configure Twilio")
	}
	log.Info().Msg("Twilio notifications enabled")

	return messenger
}

func notifyStatuses(raw []string) []order.Status {
	statuses := make([]order.Status, 0, len(raw))
	for _, s := range raw {
		status := order.Status(s)
		if !status.Valid() {
			log.Fatal().Msgf("NOTIFY_STATUSES contains unknown status %q", s)
		}
		statuses = append(statuses, status)
	}
	return statuses
}

// runExpireSweep periodically cancels abandoned payment attempts so their
// orders become payable again.
func runExpireSweep(ctx context.Context, svc payment.Service, maxAge time.Duration) {
	ticker := time.NewTicker(expireSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := svc.ExpireStale(ctx, maxAge); err != nil {
				log.Error().Err(err).Msg("Failed to expire stale payment attempts")
			}
		}
	}
}
