package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type AppConfig struct {
	Port string
	// NotifyStatuses is a comma-separated list of order statuses that
	// trigger a customer SMS. Empty means the built-in default set.
	NotifyStatuses []string
	// PaymentMaxAge bounds how long an unresolved payment attempt may block
	// an order before the reconciliation sweep cancels it.
	PaymentMaxAge time.Duration
}

type PostgresConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MigrationsPath  string
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
}

type PayPalConfig struct {
	ClientID     string
	ClientSecret string
	Mode         string
	ReturnURL    string
	CancelURL    string
}

type TwilioConfig struct {
	AccountSID  string
	AuthToken   string
	PhoneNumber string
}

type Config struct {
	App      AppConfig
	Postgres PostgresConfig
	Stripe   StripeConfig
	PayPal   PayPalConfig
	Twilio   TwilioConfig
}

func Load(path string) (*Config, error) {
	if path != "" {
		err := godotenv.Load(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load .env: %w", err)
		}
	}

	cfg := &Config{}
	cfg.App.Port = getEnv("APP_PORT", "8080")
	cfg.App.NotifyStatuses = splitCSV(os.Getenv("NOTIFY_STATUSES"))
	cfg.App.PaymentMaxAge = getDuration("PAYMENT_MAX_AGE", 30*time.Minute)

	cfg.Postgres.Host = mustEnv("DB_HOST")
	cfg.Postgres.Port = getEnv("DB_PORT", "5432")
	cfg.Postgres.User = mustEnv("DB_USER")
	cfg.Postgres.Password = mustEnv("DB_PASSWORD")
	cfg.Postgres.DBName = mustEnv("DB_NAME")
	cfg.Postgres.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Postgres.MaxConns = getInt32("DB_MAX_CONNS", 10)
	cfg.Postgres.MinConns = getInt32("DB_MIN_CONNS", 2)
	cfg.Postgres.MaxConnLifetime = getDuration("DB_MAX_CONN_LIFETIME", time.Hour)
	cfg.Postgres.MigrationsPath = getEnv("DB_MIGRATIONS_PATH", "migrations")

	cfg.Stripe.SecretKey = os.Getenv("STRIPE_SECRET_KEY")
	cfg.Stripe.WebhookSecret = os.Getenv("STRIPE_WEBHOOK_SECRET")

	cfg.PayPal.ClientID = os.Getenv("PAYPAL_CLIENT_ID")
	cfg.PayPal.ClientSecret = os.Getenv("PAYPAL_CLIENT_SECRET")
	cfg.PayPal.Mode = getEnv("PAYPAL_MODE", "sandbox")
	cfg.PayPal.ReturnURL = os.Getenv("PAYPAL_RETURN_URL")
	cfg.PayPal.CancelURL = os.Getenv("PAYPAL_CANCEL_URL")

	cfg.Twilio.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	cfg.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	cfg.Twilio.PhoneNumber = os.Getenv("TWILIO_PHONE_NUMBER")

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatal().Msgf("%s is required", key)
	}
	return v
}

func getInt32(key string, fallback int32) int32 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil {
		log.Fatal().Msgf("%s must be an integer, got %q", key, v)
	}
	return int32(n)
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Fatal().Msgf("%s must be a duration, got %q", key, v)
	}
	return d
}

func splitCSV(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
