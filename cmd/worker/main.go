package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/mwork/ledger-api/internal/config"
	"github.com/mwork/ledger-api/internal/domain/ledger"
	"github.com/mwork/ledger-api/internal/domain/notification"
	"github.com/mwork/ledger-api/internal/domain/payment"
	"github.com/mwork/ledger-api/internal/domain/subscription"
	"github.com/mwork/ledger-api/internal/pkg/chatbot"
	"github.com/mwork/ledger-api/internal/pkg/database"
	"github.com/mwork/ledger-api/internal/pkg/events"
	"github.com/mwork/ledger-api/internal/pkg/lock"
	"github.com/mwork/ledger-api/internal/pkg/logger"
	"github.com/mwork/ledger-api/internal/pkg/metrics"
	pkgresponse "github.com/mwork/ledger-api/internal/pkg/response"
)

const (
	relayQueue          = "ledger-relay"
	premiumExpiryKey    = "ledger:lock:premium-expiry"
	premiumExpiryEvery  = 10 * time.Minute
	notificationCleanup = 24 * time.Hour
)

func main() {
	cfg := config.Load()
	logCloser, err := logger.Init(logger.Config{
		Level:       cfg.LogLevel,
		Environment: cfg.Env,
		LogFile:     cfg.LogFile,
		Service:     "worker",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open log file")
	}
	defer logCloser.Close()

	log.Info().Str("env", cfg.Env).Msg("Starting ledger worker")

	db, err := database.NewPostgres(cfg.DatabaseURL, database.PoolConfig{MaxOpen: 10, MaxIdle: 5})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	redis, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer database.CloseRedis(redis)

	var nc *nats.Conn
	if cfg.NatsURL != "" {
		nc, err = events.Connect(cfg.NatsURL, "ledger-worker")
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to NATS")
		}
	}
	bus := events.NewBus(nc)
	defer bus.Close()

	m := metrics.New(metrics.Config{ServiceName: "ledger-worker", Environment: cfg.Env})
	provider := chatbot.NewTelegram(cfg.TelegramAPIURL, cfg.TelegramBotToken)
	alerter := notification.NewAlerter(provider, cfg.AlertChatID)

	// Realtime pushes from the worker reach API instances through Redis.
	hub := notification.NewHub(redis)
	defer hub.Shutdown()

	notificationRepo := notification.NewRepository(db)
	var sink notification.Sink
	if bus.Enabled() {
		sink = notification.NewBusSink(bus)
	} else {
		sink = notification.NewChatSink(notificationRepo, provider)
	}
	notificationService := notification.NewService(notificationRepo, hub, sink)
	notificationService.SetMetrics(m)
	defer notificationService.Wait()

	ledgerService := ledger.NewService(ledger.NewRepository(db), ledger.Options{
		WelcomeBonus:        cfg.WelcomeBonusCredits,
		DailyGrant:          cfg.DailyFreeCredits,
		LowBalanceThreshold: cfg.LowBalanceThreshold,
		Location:            cfg.Location(),
	})
	ledgerService.SetNotifier(notificationService)
	ledgerService.SetPublisher(bus)
	ledgerService.SetMetrics(m)

	subscriptionService := subscription.NewService(subscription.NewRepository(db))
	subscriptionService.SetNotifier(notificationService)
	subscriptionService.SetPublisher(bus)
	subscriptionService.SetMetrics(m)

	retryQueue := payment.NewRepository(db)
	paymentService := payment.NewService(subscriptionService, retryQueue)
	paymentService.SetMetrics(m)
	retryWorker := payment.NewWorker(paymentService, retryQueue, alerter, payment.WorkerConfig{
		Base:        cfg.WebhookRetryBase,
		Cap:         cfg.WebhookRetryCap,
		MaxAttempts: cfg.WebhookRetryMaxAttempts,
		Poll:        cfg.WebhookRetryPoll,
	})
	retryWorker.SetMetrics(m)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	retryWorker.SetWake(payment.NewWaker(redis).Subscribe(ctx))

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return retryWorker.Run(ctx) })

	g.Go(func() error {
		return notification.NewCleanupJob(notificationRepo, cfg.NotificationRetentionDays).Start(ctx, notificationCleanup)
	})

	locker := lock.NewLocker(redis)
	g.Go(func() error {
		return runPremiumExpiry(ctx, locker, ledgerService, notificationService, cfg.PremiumGracePeriod)
	})

	if nc != nil {
		relay := notification.NewRelay(notificationRepo, provider, m)
		g.Go(func() error {
			return events.Consume(ctx, nc, events.SubjectNotification, relayQueue, relay.Handle)
		})
	} else {
		log.Info().Msg("NATS not configured, notifications are delivered directly by the API")
	}

	g.Go(func() error { return serveMetrics(ctx, ":"+cfg.WorkerMetricsPort, m) })

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Worker stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("Worker exited properly")
}

type premiumExpirer interface {
	ExpireLapsedPremium(ctx context.Context, grace time.Duration) ([]uuid.UUID, error)
}

// premiumEnder is told about accounts whose premium lapsed.
type premiumEnder interface {
	NotifyPremiumEnded(ctx context.Context, accountID uuid.UUID, status string)
}

// runPremiumExpiry sweeps every premiumExpiryEvery; the lock keeps the sweep
// on one worker at a time.
func runPremiumExpiry(ctx context.Context, locker *lock.Locker, svc premiumExpirer, notifier premiumEnder, grace time.Duration) error {
	ticker := time.NewTicker(premiumExpiryEvery)
	defer ticker.Stop()

	for {
		ran, err := locker.Run(ctx, premiumExpiryKey, premiumExpiryEvery/2, func(ctx context.Context) error {
			expired, err := svc.ExpireLapsedPremium(ctx, grace)
			if err != nil {
				return err
			}
			for _, id := range expired {
				notifier.NotifyPremiumEnded(ctx, id, "expired")
			}
			if len(expired) > 0 {
				log.Info().Int("accounts", len(expired)).Msg("Expired lapsed premium")
			}
			return nil
		})
		if err != nil {
			log.Error().Err(err).Msg("Premium expiry sweep failed")
		} else if !ran {
			log.Debug().Msg("Premium expiry sweep held by another worker")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func serveMetrics(ctx context.Context, addr string, m *metrics.Metrics) error {
	r := chi.NewRouter()
	r.Method(http.MethodGet, "/metrics", m.Handler())
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		pkgresponse.OK(w, map[string]string{"status": "ok"})
	})
	server := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", addr).Msg("Worker metrics listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
