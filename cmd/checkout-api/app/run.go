package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/aq2208/gcheckout/configs"
	"github.com/aq2208/gcheckout/internal/adapter/cache"
	httpadapter "github.com/aq2208/gcheckout/internal/adapter/http"
	"github.com/aq2208/gcheckout/internal/adapter/http/middleware"
	"github.com/aq2208/gcheckout/internal/adapter/kafka"
	"github.com/aq2208/gcheckout/internal/adapter/observ"
	"github.com/aq2208/gcheckout/internal/adapter/queue"
	"github.com/aq2208/gcheckout/internal/adapter/repo"
	"github.com/aq2208/gcheckout/internal/logging"
	"github.com/aq2208/gcheckout/internal/security"
	"github.com/aq2208/gcheckout/internal/usecase"
	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// App holds the long-running parts of the service. Run drives them until
// the context ends or one of them fails.
type App struct {
	cfg        configs.Config
	server     *http.Server
	relay      *usecase.OutboxRelay
	reconciler *usecase.Reconciler
	rabbit     *queue.Router
	kafka      *kafka.Consumer
}

func InitWithConfig(ctx context.Context, cfg configs.Config) (*App, func(), error) {
	log := logging.New("bootstrap")
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
		closers = nil
	}
	fail := func(err error) (*App, func(), error) {
		cleanup()
		return nil, nil, err
	}

	// init database
	db, err := repo.Open(ctx, cfg.MySQL.DSN, repo.PoolConfig{
		MaxOpen:     cfg.MySQL.MaxOpenConns,
		MaxIdle:     cfg.MySQL.MaxIdleConns,
		MaxLifetime: cfg.MySQL.ConnMaxLifetime,
	})
	if err != nil {
		return fail(fmt.Errorf("mysql: %w", err))
	}
	closers = append(closers, func() { _ = db.Close() })
	if cfg.MySQL.Migrate {
		if err := repo.Migrate(db); err != nil {
			return fail(fmt.Errorf("migrate: %w", err))
		}
	}

	// init redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	closers = append(closers, func() { _ = rdb.Close() })
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fail(fmt.Errorf("redis: %w", err))
	}

	// load crypto keys
	keyring, err := security.LoadKeyring(cfg.Crypto)
	if err != nil {
		return fail(err)
	}
	sealer, err := security.NewSealer(keyring)
	if err != nil {
		return fail(err)
	}

	metrics := observ.NewMetrics(prometheus.DefaultRegisterer)
	providers, err := buildProviders(cfg, metrics)
	if err != nil {
		return fail(err)
	}

	// infra
	orders := repo.NewMySQLOrderRepo(db)
	outbox := repo.NewMySQLOutboxRepo(db)
	idem := cache.NewRedisIdempotencyStore(rdb, cfg.Idempotency.TTL)
	sessions := cache.NewRedisSessionStore(rdb, sealer, cfg.Session.TTL)
	statusCache := cache.NewRedisCache(rdb, cfg.Cache.TTL)

	checkout := usecase.NewCheckout(providers, sessions, orders, outbox, idem,
		usecase.WithStatusCache(statusCache),
		usecase.WithMetrics(metrics),
		usecase.WithTimeouts(usecase.Timeouts{
			Intent:    cfg.Checkout.IntentTimeout,
			Confirm:   cfg.Checkout.ConfirmTimeout,
			Reconcile: cfg.Checkout.ReconcileTimeout,
		}),
	)
	events := usecase.NewProviderEvents(checkout, idem)

	a := &App{
		cfg:        cfg,
		reconciler: usecase.NewReconciler(checkout, cfg.Checkout.ReconcileInterval, cfg.Checkout.StaleAfter, cfg.Checkout.ReconcileBatch),
	}

	// init rabbitmq: producer for the outbox relay, router for relayed provider events
	conn, err := amqp.Dial(cfg.Rabbit.URL)
	if err != nil {
		return fail(fmt.Errorf("rabbitmq: %w", err))
	}
	closers = append(closers, func() { _ = conn.Close() })
	pubCh, err := conn.Channel()
	if err != nil {
		return fail(err)
	}
	if err := queue.DeclareTopology(pubCh, cfg.Rabbit.Exchange, cfg.Rabbit.ProviderEventsQueue); err != nil {
		return fail(err)
	}
	producer, err := queue.NewRabbitProducer(pubCh, cfg.Rabbit.Exchange)
	if err != nil {
		return fail(err)
	}
	a.relay = usecase.NewOutboxRelay(outbox, producer, cfg.Checkout.RelayInterval, cfg.Checkout.RelayBatch)

	if cfg.Rabbit.ProviderEventsQueue != "" {
		consCh, err := conn.Channel()
		if err != nil {
			return fail(err)
		}
		a.rabbit = queue.NewRouter(consCh, queue.WithPrefetch(cfg.Rabbit.Prefetch), queue.WithLogger(logging.New("rabbitmq")))
		a.rabbit.Register(cfg.Rabbit.ProviderEventsQueue, queue.JSONHandler[usecase.ProviderEvent]{HandleFunc: events.Consume})
	}

	// register kafka-listener
	if cfg.Kafka.Enabled {
		grp, err := kafka.NewGroup(cfg.Kafka.Brokers, cfg.Kafka.GroupID)
		if err != nil {
			return fail(fmt.Errorf("kafka: %w", err))
		}
		a.kafka = kafka.NewConsumer(grp, []string{cfg.Kafka.TopicEvents}, events.Consume)
		closers = append(closers, func() { _ = a.kafka.Close() })
	}

	// init handlers + routers + middleware
	router := httpadapter.NewRouter(httpadapter.Handlers{
		Checkout: httpadapter.NewCheckoutHandler(checkout, providers),
		Orders:   httpadapter.NewOrderHandler(checkout),
		Webhooks: httpadapter.NewWebhookHandler(events),
		Token:    httpadapter.NewTokenHandler(cfg, security.NewClients(cfg.Security.Clients)),
	}, httpadapter.RouterDeps{
		Authz:    middleware.NewAuthz(cfg),
		Webhooks: security.NewWebhookVerifier(cfg.Webhooks.Secrets, cfg.Webhooks.Tolerance),
		Logger:   logging.New("http"),
		Registry: prometheus.DefaultRegisterer,
		Gatherer: prometheus.DefaultGatherer,
	})
	a.server = &http.Server{
		Addr:         cfg.App.HTTPAddr,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	log.Info("checkout-api: started up", "providers", len(providers.All()), "kafka", cfg.Kafka.Enabled)
	return a, cleanup, nil
}

// Run serves HTTP and runs the background workers. Cancelling ctx shuts the
// HTTP server down gracefully and stops the workers.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return a.server.Shutdown(sctx)
	})
	g.Go(func() error { return a.relay.Run(ctx) })
	g.Go(func() error { return a.reconciler.Run(ctx) })
	if a.rabbit != nil {
		g.Go(func() error { return a.rabbit.Run(ctx) })
	}
	if a.kafka != nil {
		g.Go(func() error { return a.kafka.Start(ctx) })
	}
	return g.Wait()
}
