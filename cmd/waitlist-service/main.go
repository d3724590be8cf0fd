package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/valayash/qwaitfront/internal/config"
	"github.com/valayash/qwaitfront/internal/events"
	"github.com/valayash/qwaitfront/internal/httpapi"
	"github.com/valayash/qwaitfront/internal/hub"
	"github.com/valayash/qwaitfront/internal/idempotency"
	"github.com/valayash/qwaitfront/internal/logging"
	"github.com/valayash/qwaitfront/internal/models"
	"github.com/valayash/qwaitfront/internal/notify"
	"github.com/valayash/qwaitfront/internal/qrcode"
	"github.com/valayash/qwaitfront/internal/queue"
	"github.com/valayash/qwaitfront/internal/realtime"
	"github.com/valayash/qwaitfront/internal/store"
	"github.com/valayash/qwaitfront/internal/store/memory"
	"github.com/valayash/qwaitfront/internal/store/postgres"
	"github.com/valayash/qwaitfront/internal/telemetry"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, cfg.ServiceName)
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	shutdownTracing := telemetry.Setup(context.Background(), telemetry.Config{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    cfg.OTLPInsecure,
		SampleRatio: cfg.TraceSampleRatio,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	seed, err := seedRestaurant(cfg)
	if err != nil {
		logger.Fatal("seed restaurant", zap.Error(err))
	}

	var (
		st     store.Store
		outbox store.OutboxSource
	)
	switch cfg.StoreDriver {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("db connect", zap.Error(err))
		}
		defer pool.Close()
		var opts []postgres.Option
		if cfg.AMQPURL != "" {
			opts = append(opts, postgres.WithOutbox())
		}
		pg := postgres.NewStore(pool, opts...)
		if seed != nil {
			if err := pg.UpsertRestaurant(ctx, *seed); err != nil {
				logger.Fatal("seed restaurant", zap.Error(err))
			}
		}
		st = pg
		if cfg.AMQPURL != "" {
			outbox = pg
		}
	default:
		mem := memory.NewStore()
		if seed != nil {
			mem.PutRestaurant(*seed)
		}
		st = mem
	}
	logger.Info("store ready", zap.String("driver", cfg.StoreDriver))

	liveHub := hub.New(logger)
	bus := events.NewBus(logger, realtime.NewBroadcaster(liveHub))

	if cfg.AMQPURL != "" {
		broker := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPQueue, logger)
		defer broker.Close()
		if outbox != nil {
			relay := events.NewRelay(outbox, broker, cfg.OutboxBatchSize, cfg.OutboxRetention, logger)
			go events.StartRelay(ctx, cfg.OutboxPollInterval, relay)
		} else {
			forwarder := events.NewForwarder(broker, 0, logger)
			bus.Subscribe(forwarder)
			go forwarder.Run(ctx)
		}
	}

	var guard idempotency.Guard = idempotency.NewMemoryGuard(cfg.IdempotencyTTL)
	if client := config.NewRedisClient(); client != nil {
		defer client.Close()
		guard = idempotency.NewRedisGuard(client, cfg.IdempotencyTTL)
		logger.Info("idempotency guard using redis")
	}

	notifier := notify.NewNotifier(
		notify.NewProvider(notify.ChannelSMS, notify.ProviderConfig{
			Kind:         cfg.SMSProvider,
			WebhookURL:   cfg.SMSWebhookURL,
			WebhookToken: cfg.SMSWebhookToken,
			Timeout:      cfg.NotifyTimeout,
			RetryCount:   cfg.NotifyRetryCount,
		}, logger),
		notify.NewProvider(notify.ChannelEmail, notify.ProviderConfig{
			Kind:         cfg.EmailProvider,
			WebhookURL:   cfg.EmailWebhookURL,
			WebhookToken: cfg.EmailWebhookToken,
			Timeout:      cfg.NotifyTimeout,
			RetryCount:   cfg.NotifyRetryCount,
		}, logger),
		logger,
	)

	location, err := time.LoadLocation(cfg.RestaurantTZ)
	if err != nil {
		logger.Warn("unknown restaurant timezone, using UTC", zap.String("tz", cfg.RestaurantTZ), zap.Error(err))
		location = time.UTC
	}

	controller := queue.NewController(st, bus, queue.WithNotifier(notifier), queue.WithLogger(logger))
	reservations := queue.NewReservations(st, queue.ReservationsConfig{
		Guard:    guard,
		Logger:   logger,
		Location: location,
	})
	gateway := realtime.NewGateway(liveHub, st, logger, realtime.Options{
		PingInterval: cfg.WSPingInterval,
		SendBuffer:   cfg.HubSendBuffer,
	})
	handler := httpapi.NewHandler(controller, reservations, httpapi.Options{
		QRCode:   qrcode.NewGenerator(cfg.PublicBaseURL, cfg.QRSize, cfg.QRLevel),
		Realtime: gateway,
		Logger:   logger,
	})
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute:         cfg.RateLimitPerMinute,
		IPBurst:             cfg.RateLimitBurst,
		RestaurantPerMinute: cfg.RestaurantRateLimitPerMinute,
		RestaurantBurst:     cfg.RestaurantRateLimitBurst,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           otelhttp.NewHandler(httpapi.LoggingMiddleware(logger, limiter.Middleware(handler.Routes())), cfg.ServiceName),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("waitlist-service listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	grace := cfg.ShutdownGracePeriod
	if grace <= 0 {
		grace = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("telemetry shutdown error", zap.Error(err))
	}
}

// seedRestaurant builds the restaurant named by SEED_RESTAURANT_ID, hashing
// its staff key. It returns nil when no seed is configured.
func seedRestaurant(cfg config.Config) (*models.Restaurant, error) {
	if cfg.SeedRestaurantID == "" {
		return nil, nil
	}
	r := models.Restaurant{
		ID:               cfg.SeedRestaurantID,
		Name:             cfg.SeedRestaurantName,
		AvgWaitMinutes:   cfg.SeedAvgWaitMinutes,
		MaxQueueSize:     cfg.SeedMaxQueueSize,
		SMSNotifications: cfg.SeedSMSEnabled,
	}
	if cfg.SeedStaffKey != "" {
		hash, err := httpapi.HashStaffKey(cfg.SeedStaffKey)
		if err != nil {
			return nil, err
		}
		r.StaffKeyHash = hash
	}
	return &r, nil
}
