package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aelleshop/aelle-api/internal/auth"
	"github.com/aelleshop/aelle-api/internal/cache"
	"github.com/aelleshop/aelle-api/internal/config"
	"github.com/aelleshop/aelle-api/internal/db"
	"github.com/aelleshop/aelle-api/internal/email"
	"github.com/aelleshop/aelle-api/internal/handlers"
	"github.com/aelleshop/aelle-api/internal/payment"
	"github.com/aelleshop/aelle-api/internal/pricing"
	"github.com/aelleshop/aelle-api/internal/services"
	"github.com/aelleshop/aelle-api/internal/stripe"
)

type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	DB            *pgxpool.Pool
	CacheProvider cache.Provider
	Handlers      *handlers.Handlers

	orderService *services.OrderService
}

func New() (*App, error) {
	// Local development reads .env; deployed environments set real env vars.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := newLogger(cfg)

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()

	database, err := db.Connect(startupCtx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	cacheProvider, err := cache.NewProvider(cache.Config{
		Provider:              cfg.CacheProvider,
		RedisConnectionString: cfg.RedisConnectionString,
	})
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to initialize cache provider: %w", err)
	}

	authMW, err := auth.NewMiddleware(cfg.JWTSecret)
	if err != nil {
		closeCacheProvider(logger, cacheProvider)
		database.Close()
		return nil, fmt.Errorf("failed to initialize auth: %w", err)
	}

	policy, err := pricing.Load(cfg.PricingConfigPath)
	if err != nil {
		closeCacheProvider(logger, cacheProvider)
		database.Close()
		return nil, fmt.Errorf("failed to load pricing policy: %w", err)
	}

	emailProvider, err := email.NewProvider(email.Config{
		Provider: cfg.EmailProvider,
		APIKey:   cfg.ResendAPIKey,
		From:     cfg.EmailFrom,
		Logger:   logger.With("component", "email"),
	})
	if err != nil {
		closeCacheProvider(logger, cacheProvider)
		database.Close()
		return nil, fmt.Errorf("failed to initialize email provider: %w", err)
	}
	orderEmailer, err := services.NewEmailOrderNotifier(emailProvider)
	if err != nil {
		closeCacheProvider(logger, cacheProvider)
		database.Close()
		return nil, fmt.Errorf("failed to initialize order notifier: %w", err)
	}

	var razorpayClient services.RazorpayGateway
	if cfg.RazorpayEnabled() {
		razorpayClient = payment.NewRazorpayClient(cfg.RazorpayKeyID, cfg.RazorpayKeySecret)
	}
	var stripeClient services.StripeGateway
	if cfg.StripeEnabled() {
		stripeClient = stripe.NewClient(cfg.StripeSecretKey)
	}

	orderStore := db.NewOrderStore(database)
	productStore := db.NewProductStore(database)

	orderService := services.NewOrderService(
		orderStore,
		productStore,
		razorpayClient,
		stripeClient,
		cfg.RazorpayKeySecret,
		policy,
		orderEmailer,
		logger.With("component", "order_service"),
	)
	otpService := services.NewOTPService(cacheProvider, nil, logger.With("component", "otp_service"))

	h, err := handlers.New(handlers.Dependencies{
		Config:        cfg,
		DB:            database,
		CacheProvider: cacheProvider,
		AuthMW:        authMW,
		OrderService:  orderService,
		OTPService:    otpService,
		Logger:        logger,
	})
	if err != nil {
		closeCacheProvider(logger, cacheProvider)
		database.Close()
		return nil, fmt.Errorf("failed to initialize handlers: %w", err)
	}

	return &App{
		Config:        cfg,
		Logger:        logger,
		DB:            database,
		CacheProvider: cacheProvider,
		Handlers:      h,
		orderService:  orderService,
	}, nil
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.orderService != nil {
		// Drain in-flight notification emails before tearing down.
		a.orderService.Close()
	}
	if a.CacheProvider != nil {
		closeCacheProvider(a.Logger, a.CacheProvider)
	}
	if a.DB != nil {
		a.DB.Close()
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	format := strings.ToLower(strings.TrimSpace(cfg.LogFormat))
	switch format {
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	case "text", "":
		return slog.New(tint.NewHandler(os.Stdout, &tint.Options{
			Level: cfg.LogLevel,
		}))
	}
	return slog.New(tint.NewHandler(os.Stdout, &tint.Options{Level: cfg.LogLevel}))
}

func closeCacheProvider(logger *slog.Logger, provider cache.Provider) {
	if provider == nil {
		return
	}
	if err := provider.Close(); err != nil && logger != nil {
		logger.Warn("failed to close cache provider", "error", err)
	}
}
