package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5/middleware"
	goredis "github.com/redis/go-redis/v9"

	"github.com/shoplink/cryptobill/internal/storage"
	"github.com/shoplink/cryptobill/pkg/async"
	"github.com/shoplink/cryptobill/pkg/chains"
	"github.com/shoplink/cryptobill/pkg/config"
	"github.com/shoplink/cryptobill/pkg/explorer"
	"github.com/shoplink/cryptobill/pkg/httpserver"
	"github.com/shoplink/cryptobill/pkg/invoice"
	"github.com/shoplink/cryptobill/pkg/ledger"
	"github.com/shoplink/cryptobill/pkg/logger"
	"github.com/shoplink/cryptobill/pkg/payment"
	"github.com/shoplink/cryptobill/pkg/pg"
	"github.com/shoplink/cryptobill/pkg/rates"
	"github.com/shoplink/cryptobill/pkg/redis"
	"github.com/shoplink/cryptobill/pkg/scheduler"
	"github.com/shoplink/cryptobill/svc/billing"
)

type appConfig struct {
	Env     string `env:"APP_ENV" envDefault:"development"`
	HTTP    httpserver.Config
	PG      pg.Config
	Redis   redis.Config
	Billing billing.Config
}

func main() {
	if err := run(); err != nil {
		slog.Error("billingd exited", logger.Error(err))
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cfg appConfig
	if err := config.Load(&cfg); err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(
		logger.WithEnvironment(cfg.Env, "billingd"),
		logger.WithContextValue("request_id", middleware.RequestIDKey),
	)
	logger.SetAsDefault(log)

	pool, err := pg.Connect(ctx, cfg.PG)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	if err := pg.Migrate(ctx, pool, cfg.PG, log); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	rdb, err := redis.Connect(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer rdb.Close()

	store := storage.New(pool)

	plans, err := loadPlans(cfg.Billing)
	if err != nil {
		return err
	}

	oracle := newOracle(cfg.Billing, rdb, log)

	blockcypher := explorer.NewBlockCypher(cfg.Billing.BlockCypherURL, cfg.Billing.BlockCypherToken)
	eth, err := explorer.DialEthereum(ctx, cfg.Billing.EthereumRPCURL)
	if err != nil {
		return fmt.Errorf("dial ethereum rpc: %w", err)
	}
	registry := explorer.NewRegistry(map[chains.Chain]explorer.Client{
		chains.BTC:  blockcypher.ForChain(chains.BTC),
		chains.LTC:  blockcypher.ForChain(chains.LTC),
		chains.ETH:  eth,
		chains.USDT: explorer.NewTron(cfg.Billing.TronscanURL),
	})

	issuerOpts := []invoice.IssuerOption{
		invoice.WithKeys(cfg.Billing.Keys()),
		invoice.WithLogger(log),
	}
	if cfg.Billing.CallbackBaseURL != "" {
		issuerOpts = append(issuerOpts, invoice.WithHookRegistrar(blockcypher, cfg.Billing.CallbackBaseURL))
	}

	ldg := ledger.New(store, plans, ledger.WithLogger(log))
	iss := invoice.NewIssuer(store, plans, oracle, store, issuerOpts...)
	ver := payment.NewVerifier(store, store, ldg, registry, payment.WithLogger(log))

	svc := billing.NewService(ldg, iss, ver, plans,
		billing.WithQRSize(cfg.Billing.QRSize),
		billing.WithServiceLogger(log),
	)
	router := billing.NewRouter(svc, log, pg.Healthcheck(pool), redis.Healthcheck(rdb))

	sched := scheduler.New(scheduler.WithLogger(log))
	if err := sched.AddJob("billing-sweep", cfg.Billing.SweepInterval, svc.Sweep); err != nil {
		return fmt.Errorf("register sweep job: %w", err)
	}

	srv := httpserver.NewFromConfig(cfg.HTTP, httpserver.WithLogger(log))
	log.InfoContext(ctx, "starting billingd",
		slog.String("addr", cfg.HTTP.Addr),
		slog.String("env", cfg.Env))

	serverRun := async.Go(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, srv.Run(ctx, router)
	})
	sweepRun := async.Go(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, sched.Start(ctx)
	})

	// One component failing cancels the other through the shared context.
	_, err = async.WaitAll(serverRun, sweepRun)
	stop()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func loadPlans(cfg billing.Config) (*billing.PlanSource, error) {
	if cfg.PlansFile == "" {
		return billing.NewPlanSource(billing.DefaultPlans()...), nil
	}
	plans, err := billing.LoadPlansFile(cfg.PlansFile)
	if err != nil {
		return nil, fmt.Errorf("load plans: %w", err)
	}
	return billing.NewPlanSource(plans...), nil
}

func newOracle(cfg billing.Config, rdb *goredis.Client, log *slog.Logger) *rates.Oracle {
	opts := []rates.Option{
		rates.WithCache(rates.NewRedisCache(rdb, cfg.RateCacheTTL)),
		rates.WithLogger(log),
	}
	if cfg.RateFeedURL != "" {
		opts = append(opts, rates.WithBaseURL(cfg.RateFeedURL))
	}
	return rates.New(opts...)
}
