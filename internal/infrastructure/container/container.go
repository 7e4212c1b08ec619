// Package container provides dependency injection using Uber FX.
// Every client is constructed once here and handed to the components that
// need it; nothing in the application reaches for module-level globals.
package container

import (
	"context"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/platefull/v1/internal/application/account"
	"github.com/platefull/v1/internal/application/generation"
	"github.com/platefull/v1/internal/application/subscription"
	"github.com/platefull/v1/internal/infrastructure/ai/openai"
	"github.com/platefull/v1/internal/infrastructure/analytics"
	stripebilling "github.com/platefull/v1/internal/infrastructure/billing/stripe"
	"github.com/platefull/v1/internal/infrastructure/config"
	"github.com/platefull/v1/internal/infrastructure/identity/local"
	"github.com/platefull/v1/internal/infrastructure/persistence/memory"
	"github.com/platefull/v1/internal/infrastructure/persistence/postgres"
	"github.com/platefull/v1/internal/ports/outbound"
	"github.com/platefull/v1/pkg/logger"
)

// Module provides all dependency injection modules
var Module = fx.Options(
	ConfigModule,
	LoggerModule,
	StoreModule,
	AnalyticsModule,
	IdentityModule,
	ServiceModule,
	LifecycleModule,
)

// ConfigModule provides configuration
var ConfigModule = fx.Provide(
	func() (*config.Config, error) {
		return config.Load("")
	},
)

// LoggerModule provides logging
var LoggerModule = fx.Provide(
	func(cfg *config.Config) (*zap.Logger, error) {
		return logger.New(logger.Config{
			Level:       cfg.App.LogLevel,
			Format:      cfg.App.LogFormat,
			Development: cfg.App.Debug,
		})
	},
)

// StoreModule provides the document store repositories. A configured
// database name selects the PostgreSQL adapters; otherwise the in-memory
// adapters back a local run.
var StoreModule = fx.Provide(
	func(cfg *config.Config, log *zap.Logger) (outbound.ProfileRepository, outbound.SubscriptionRepository, outbound.PremiumWriter, error) {
		if cfg.Database.Database == "" {
			log.Info("Using in-memory document store")
			profiles := memory.NewProfileRepository()
			subscriptions := memory.NewSubscriptionRepository()
			return profiles, subscriptions, memory.NewPremiumWriter(profiles, subscriptions), nil
		}

		pool, err := postgres.Connect(context.Background(), cfg.GetDSN(), log)
		if err != nil {
			return nil, nil, nil, err
		}
		return postgres.NewProfileRepository(pool, log),
			postgres.NewSubscriptionRepository(pool, log),
			postgres.NewPremiumWriter(pool, log),
			nil
	},
)

// AnalyticsModule provides the analytics sink. With a configured stream the
// events flow to Redis; otherwise they only hit the log.
var AnalyticsModule = fx.Provide(
	func(cfg *config.Config, log *zap.Logger) outbound.AnalyticsSink {
		if cfg.Analytics.Stream == "" {
			return analytics.NewLogSink(log)
		}

		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.Database,
		})
		log.Info("Analytics events stream to Redis",
			zap.String("stream", cfg.Analytics.Stream),
		)
		return analytics.NewRedisSink(client, cfg.Analytics.Stream, log)
	},
)

// IdentityModule provides the identity provider
var IdentityModule = fx.Provide(
	func(cfg *config.Config, log *zap.Logger) outbound.IdentityService {
		return local.NewProvider(cfg.Auth.JWTSecret, cfg.Auth.JWTExpiration, cfg.Auth.BCryptCost, log)
	},
)

// ServiceModule provides application services
var ServiceModule = fx.Provide(
	func(
		profiles outbound.ProfileRepository,
		subscriptions outbound.SubscriptionRepository,
		sink outbound.AnalyticsSink,
		log *zap.Logger,
	) *subscription.Verifier {
		return subscription.NewVerifier(profiles, subscriptions, sink, log)
	},

	func(cfg *config.Config, log *zap.Logger) outbound.BillingService {
		if cfg.Billing.StripeSecretKey == "" {
			return nil
		}
		return stripebilling.NewClient(cfg.Billing.StripeSecretKey, log)
	},

	func(
		identity outbound.IdentityService,
		profiles outbound.ProfileRepository,
		subscriptions outbound.SubscriptionRepository,
		premiumWriter outbound.PremiumWriter,
		verifier *subscription.Verifier,
		sink outbound.AnalyticsSink,
		billing outbound.BillingService,
		log *zap.Logger,
	) *account.Service {
		return account.NewService(identity, profiles, subscriptions, premiumWriter, verifier, sink, billing, log)
	},

	func(cfg *config.Config, log *zap.Logger) outbound.ChatService {
		return openai.NewClient(cfg.AI, log)
	},

	func(chat outbound.ChatService, sink outbound.AnalyticsSink, cfg *config.Config, log *zap.Logger) *generation.Service {
		return generation.NewService(chat, sink, cfg.AI.Model, log)
	},
)

// LifecycleModule provides lifecycle hooks
var LifecycleModule = fx.Invoke(
	RegisterLifecycleHooks,
)

// RegisterLifecycleHooks registers application lifecycle hooks
func RegisterLifecycleHooks(
	lc fx.Lifecycle,
	cfg *config.Config,
	log *zap.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("Starting Platefull data layer",
				zap.String("version", cfg.App.Version),
				zap.String("environment", cfg.App.Environment),
			)

			// Missing credentials are reported but never block startup.
			cfg.CheckCredentials(log)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("Shutting down Platefull data layer")
			_ = log.Sync()
			return nil
		},
	})
}
