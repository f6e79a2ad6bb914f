package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	goredis "github.com/redis/go-redis/v9"

	billinghttp "github.com/dmitrymomot/saasbilling/modules/billing"
	"github.com/dmitrymomot/saasbilling/pkg/archive"
	"github.com/dmitrymomot/saasbilling/pkg/billing"
	"github.com/dmitrymomot/saasbilling/pkg/billing/pgstore"
	"github.com/dmitrymomot/saasbilling/pkg/config"
	"github.com/dmitrymomot/saasbilling/pkg/email"
	"github.com/dmitrymomot/saasbilling/pkg/httpserver"
	"github.com/dmitrymomot/saasbilling/pkg/jwt"
	"github.com/dmitrymomot/saasbilling/pkg/logger"
	"github.com/dmitrymomot/saasbilling/pkg/metrics"
	"github.com/dmitrymomot/saasbilling/pkg/pg"
	"github.com/dmitrymomot/saasbilling/pkg/ratelimiter"
	"github.com/dmitrymomot/saasbilling/pkg/redis"
	"github.com/dmitrymomot/saasbilling/pkg/requestid"
)

func main() {
	var logCfg logger.Config
	config.MustLoad(&logCfg)
	log := logger.New(
		logger.FromConfig(logCfg),
		logger.WithContextExtractors(requestid.LoggerExtractor()),
	)
	logger.SetAsDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, log); err != nil {
		log.Error("billingd stopped", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, log *slog.Logger) error {
	var cfg appConfig
	if err := config.Load(&cfg); err != nil {
		return err
	}
	if err := cfg.validate(); err != nil {
		return err
	}

	catalog, err := cfg.catalog()
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}

	var (
		opts   = []billing.Option{billing.WithLogger(log)}
		checks []httpserver.Check
		store  billing.Store
		users  billing.UserDirectory
	)

	switch cfg.Store {
	case "postgres":
		var pgCfg pg.Config
		if err := config.Load(&pgCfg); err != nil {
			return err
		}
		pool, err := pg.Connect(ctx, pgCfg)
		if err != nil {
			return err
		}
		defer pool.Close()
		if pgCfg.Migrate {
			if err := pg.Migrate(ctx, pool, pgCfg, pgstore.Migrations(), log); err != nil {
				return err
			}
		}
		store = pgstore.New(pool)
		users = pgstore.NewUserDirectory(pool, cfg.UsersTable)
		checks = append(checks, httpserver.Check{Name: "postgres", Fn: pg.Healthcheck(pool)})
	default:
		seed, err := cfg.seedUsers()
		if err != nil {
			return err
		}
		store = billing.NewMemoryStore()
		users = billing.NewMemoryDirectory(seed...)
	}

	var rateCfg ratelimiter.Config
	if err := config.Load(&rateCfg); err != nil {
		return err
	}

	var redisClient *goredis.Client
	if cfg.Locker == "redis" || rateCfg.Driver == "redis" {
		var redisCfg redis.Config
		if err := config.Load(&redisCfg); err != nil {
			return err
		}
		client, err := redis.Connect(ctx, redisCfg)
		if err != nil {
			return err
		}
		defer client.Close()
		redisClient = client
		checks = append(checks, httpserver.Check{Name: "redis", Fn: redis.Healthcheck(client)})
		if cfg.Locker == "redis" {
			opts = append(opts, billing.WithLocker(redis.NewLocker(client, redisCfg, log)))
		}
	}

	var rateStore ratelimiter.Store
	if redisClient != nil && rateCfg.Driver == "redis" {
		rateStore = ratelimiter.NewRedisStore(redisClient, rateCfg.RedisPrefix)
	} else {
		mem := ratelimiter.NewMemoryStore()
		go mem.Cleanup(ctx, 5*time.Minute)
		rateStore = mem
	}
	limiter, err := ratelimiter.NewBucket(rateStore, rateCfg)
	if err != nil {
		return err
	}

	var archiveCfg archive.Config
	if err := config.Load(&archiveCfg); err != nil {
		return err
	}
	if archiveCfg.Driver != "" {
		archiver, err := archive.New(ctx, archiveCfg)
		if err != nil {
			return err
		}
		opts = append(opts, billing.WithArchiver(archiver))
	}

	notifier, err := newNotifier(log)
	if err != nil {
		return err
	}
	opts = append(opts, billing.WithNotifier(notifier))

	router := chi.NewRouter()
	router.Use(requestid.Middleware, middleware.RealIP, middleware.Recoverer)

	if cfg.Metrics {
		reg := metrics.NewRegistry()
		m, err := metrics.NewBilling(reg)
		if err != nil {
			return err
		}
		opts = append(opts, billing.WithMetrics(m))
		router.Handle("/metrics", metrics.Handler(reg))
	}

	handlerOpts := []billinghttp.Option{
		billinghttp.WithLogger(log),
		billinghttp.WithAllowedRedirectHosts(cfg.RedirectHosts...),
		billinghttp.WithBaseURL(cfg.BaseURL),
		billinghttp.WithCheckoutLimiter(limiter),
	}

	var jwtCfg jwt.Config
	if err := config.Load(&jwtCfg); err != nil {
		return err
	}
	if jwtCfg.Secret != "" {
		auth, err := jwt.New(jwtCfg)
		if err != nil {
			return err
		}
		handlerOpts = append(handlerOpts, billinghttp.WithAuth(auth))
	} else {
		log.Warn("JWT_SECRET is empty, billing endpoints trust the userId they are given")
	}

	var (
		checkoutProvider billing.CheckoutProvider
		parser           billing.WebhookParser
	)
	switch cfg.Provider {
	case "stripe":
		var stripeCfg billing.StripeConfig
		if err := config.Load(&stripeCfg); err != nil {
			return err
		}
		p, err := billing.NewStripeProvider(stripeCfg)
		if err != nil {
			return err
		}
		checkoutProvider, parser = p, p
	case "paddle":
		var paddleCfg billing.PaddleConfig
		if err := config.Load(&paddleCfg); err != nil {
			return err
		}
		p, err := billing.NewPaddleProvider(paddleCfg)
		if err != nil {
			return err
		}
		checkoutProvider, parser = p, p
	default:
		p, err := billing.NewDevProvider(cfg.BaseURL, cfg.DevSecret, catalog)
		if err != nil {
			return err
		}
		checkoutProvider, parser = p, p
		handlerOpts = append(handlerOpts, billinghttp.WithDevProvider(p))
		log.Warn("dev billing provider enabled, checkouts are not charged")
	}

	svc := billinghttp.Services{
		Catalog:       catalog,
		Checkout:      billing.NewCheckout(store, catalog, users, checkoutProvider, opts...),
		Subscriptions: billing.NewSubscriptions(store, catalog, users, opts...),
		Ledger:        billing.NewLedger(store, users, opts...),
		Payments:      billing.NewPayments(store),
		Reconciler:    billing.NewReconciler(parser, store, catalog, users, opts...),
	}
	router.Mount("/billing", billinghttp.NewHandler(svc, handlerOpts...).Handle())
	router.Get("/healthz", httpserver.HealthCheckHandler(log, 3*time.Second, checks...))

	var srvCfg httpserver.Config
	if err := config.Load(&srvCfg); err != nil {
		return err
	}
	srv := httpserver.NewFromConfig(srvCfg, httpserver.WithLogger(log))

	log.Info("billingd starting",
		slog.String("addr", srvCfg.Addr),
		logger.Provider(cfg.Provider),
		slog.String("store", cfg.Store),
		slog.Int("plans", len(catalog.ListPlans())),
	)
	if err := srv.Run(ctx, router); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// newNotifier sends receipts through Postmark when it is configured and to disk otherwise.
func newNotifier(log *slog.Logger) (*email.ReceiptNotifier, error) {
	var cfg email.Config
	if err := config.Load(&cfg); err != nil {
		return nil, err
	}
	if cfg.Enabled() {
		sender, err := email.NewPostmarkClient(cfg)
		if err != nil {
			return nil, err
		}
		return email.NewReceiptNotifier(sender, cfg), nil
	}
	log.Info("postmark is not configured, receipts are written to disk", slog.String("dir", cfg.DevDir))
	return email.NewReceiptNotifier(email.NewDevSender(cfg.DevDir), cfg), nil
}
