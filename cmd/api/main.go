package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/mwork/ledger-api/internal/config"
	"github.com/mwork/ledger-api/internal/domain/ledger"
	"github.com/mwork/ledger-api/internal/domain/notification"
	"github.com/mwork/ledger-api/internal/domain/payment"
	"github.com/mwork/ledger-api/internal/domain/subscription"
	"github.com/mwork/ledger-api/internal/middleware"
	"github.com/mwork/ledger-api/internal/pkg/chatbot"
	"github.com/mwork/ledger-api/internal/pkg/database"
	"github.com/mwork/ledger-api/internal/pkg/events"
	"github.com/mwork/ledger-api/internal/pkg/jwt"
	"github.com/mwork/ledger-api/internal/pkg/logger"
	"github.com/mwork/ledger-api/internal/pkg/metrics"
	pkgresponse "github.com/mwork/ledger-api/internal/pkg/response"
	"github.com/mwork/ledger-api/internal/pkg/servicekey"
	"github.com/mwork/ledger-api/internal/pkg/stripe"
)

const version = "1.0.0"

func main() {
	cfg := config.Load()
	logCloser, err := logger.Init(logger.Config{
		Level:       cfg.LogLevel,
		Environment: cfg.Env,
		LogFile:     cfg.LogFile,
		Service:     "api",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open log file")
	}
	defer logCloser.Close()

	log.Info().
		Str("env", cfg.Env).
		Str("port", cfg.Port).
		Msg("Starting ledger API")

	db, err := database.NewPostgres(cfg.DatabaseURL, database.PoolConfig{})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	if cfg.AutoMigrate {
		if err := database.Migrate(context.Background(), db.DB, "up"); err != nil {
			log.Fatal().Err(err).Msg("Failed to run migrations")
		}
	}

	redis, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer database.CloseRedis(redis)

	var nc *nats.Conn
	if cfg.NatsURL != "" {
		nc, err = events.Connect(cfg.NatsURL, "ledger-api")
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
	}
	bus := events.NewBus(nc)
	defer bus.Close()

	serviceKeys, err := servicekey.NewVerifier(cfg.ServiceKeyHashes)
	if err != nil {
		log.Warn().Err(err).Msg("No service keys configured, internal routes will reject every request")
	}

	m := metrics.New(metrics.Config{ServiceName: "ledger-api", Environment: cfg.Env})
	jwtService := jwt.NewService(cfg.JWTSecret, cfg.JWTAccessTTL)

	// ---------- Notifications ----------
	hub := notification.NewHub(redis)
	go hub.Run()
	defer hub.Shutdown()

	notificationRepo := notification.NewRepository(db)
	var sink notification.Sink
	if bus.Enabled() {
		sink = notification.NewBusSink(bus)
	} else {
		sink = notification.NewChatSink(notificationRepo, chatbot.NewTelegram(cfg.TelegramAPIURL, cfg.TelegramBotToken))
	}
	notificationService := notification.NewService(notificationRepo, hub, sink)
	notificationService.SetMetrics(m)
	defer notificationService.Wait()

	// ---------- Ledger ----------
	ledgerService := ledger.NewService(ledger.NewRepository(db), ledger.Options{
		WelcomeBonus:        cfg.WelcomeBonusCredits,
		DailyGrant:          cfg.DailyFreeCredits,
		LowBalanceThreshold: cfg.LowBalanceThreshold,
		Location:            cfg.Location(),
	})
	ledgerService.SetNotifier(notificationService)
	ledgerService.SetPublisher(bus)
	ledgerService.SetMetrics(m)

	// ---------- Subscriptions & payments ----------
	subscriptionService := subscription.NewService(subscription.NewRepository(db))
	subscriptionService.SetNotifier(notificationService)
	subscriptionService.SetPublisher(bus)
	subscriptionService.SetMetrics(m)

	paymentService := payment.NewService(subscriptionService, payment.NewRepository(db))
	paymentService.SetWaker(payment.NewWaker(redis))
	paymentService.SetMetrics(m)

	handlers := routerDeps{
		ledger:       ledger.NewHandler(ledgerService),
		subscription: subscription.NewHandler(subscriptionService),
		notification: notification.NewHandler(notificationService, hub, jwtService, cfg.AllowedOrigins),
		payment:      payment.NewHandler(paymentService, stripe.NewVerifier(cfg.StripeWebhookSecret, cfg.StripeSignatureTolerance)),
		auth:         middleware.Auth(jwtService),
		serviceAuth:  middleware.ServiceAuth(serviceKeys),
		rateLimit:    middleware.RateLimit(redis, cfg.RateLimitPerMinute, time.Minute),
		metrics:      m,
		corsOrigins:  cfg.AllowedOrigins,
	}

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      newRouter(handlers),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited properly")
}

type routerDeps struct {
	ledger       *ledger.Handler
	subscription *subscription.Handler
	notification *notification.Handler
	payment      *payment.Handler

	auth        func(http.Handler) http.Handler
	serviceAuth func(http.Handler) http.Handler
	rateLimit   func(http.Handler) http.Handler
	metrics     *metrics.Metrics
	corsOrigins []string
}

func newRouter(d routerDeps) chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recover)
	r.Use(middleware.Metrics(d.metrics))
	r.Use(middleware.CORSHandler(d.corsOrigins))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		pkgresponse.OK(w, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	r.Method(http.MethodGet, "/metrics", d.metrics.Handler())

	r.Route("/internal/v1", func(r chi.Router) {
		r.Use(d.serviceAuth)
		r.Mount("/accounts", d.ledger.InternalRoutes())
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Mount("/ledger", d.ledger.Routes(d.auth, d.rateLimit))
		r.Mount("/subscription", d.subscription.Routes(d.auth))
		r.Mount("/notifications", d.notification.Routes(d.auth))
	})

	r.Mount("/webhooks", d.payment.WebhookRoutes())
	return r
}
