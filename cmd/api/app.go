package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/davidleathers/handyman-marketplace-backend/internal/api/websocket"
	"github.com/davidleathers/handyman-marketplace-backend/internal/domain/values"
	"github.com/davidleathers/handyman-marketplace-backend/internal/infrastructure/cache"
	"github.com/davidleathers/handyman-marketplace-backend/internal/infrastructure/config"
	"github.com/davidleathers/handyman-marketplace-backend/internal/infrastructure/database"
	"github.com/davidleathers/handyman-marketplace-backend/internal/infrastructure/repository"
	"github.com/davidleathers/handyman-marketplace-backend/internal/metrics"
	"github.com/davidleathers/handyman-marketplace-backend/internal/scheduler"
	"github.com/davidleathers/handyman-marketplace-backend/internal/service/bidding"
	"github.com/davidleathers/handyman-marketplace-backend/internal/service/currency"
	"github.com/davidleathers/handyman-marketplace-backend/internal/service/joboffer"
	"github.com/davidleathers/handyman-marketplace-backend/internal/service/notification"
	"github.com/davidleathers/handyman-marketplace-backend/internal/service/pricing"
)

const poolStatsInterval = 15 * time.Second

// application owns every long lived component of the API process
type application struct {
	cfg    *config.Config
	logger *zap.Logger

	pool    *pgxpool.Pool
	storage *repository.Storage
	cache   *cache.CacheManager

	currency  currency.Service
	pricing   pricing.Service
	bidding   bidding.Service
	jobOffers joboffer.Service

	hub        *websocket.Hub
	dispatcher *notification.Dispatcher
	scheduler  *scheduler.Scheduler
	server     *http.Server
}

func newApplication(ctx context.Context, cfg *config.Config, registry *metrics.Registry, logger *zap.Logger) (_ *application, err error) {
	app := &application{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			app.close()
		}
	}()

	currencies, err := parseCurrencies(cfg.Bidding.Currencies)
	if err != nil {
		return nil, err
	}

	if err := app.initStorage(ctx); err != nil {
		return nil, err
	}

	if cfg.Redis.URL != "" {
		app.cache, err = cache.NewCacheManager(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
	} else {
		logger.Warn("redis not configured; rate cache, attempt limiting and notification retries are disabled")
	}

	if err := app.initNotifications(registry); err != nil {
		return nil, err
	}

	var rateCache currency.RateCache
	if app.cache != nil {
		rateCache = app.cache.Rates
	}
	app.currency = currency.NewService(app.storage.ExchangeRates, rateCache, registry, currency.Config{
		LookupTimeout: cfg.Currency.LookupTimeout,
		TrendWindow:   cfg.Currency.TrendWindow,
	}, logger)

	app.pricing = pricing.NewService(app.storage.Recommendations, nil, registry, pricing.Config{
		Currencies:          currencies,
		DefaultQualityScore: cfg.Pricing.DefaultQualityScore,
		RatingTimeout:       cfg.Pricing.RatingTimeout,
	}, logger)

	var limiter bidding.AttemptLimiter
	if app.cache != nil {
		limiter = app.cache.RateLimiter
	}
	app.bidding = bidding.NewService(bidding.Dependencies{
		Repositories: app.storage.Repositories,
		Tx:           app.storage.Tx,
		Currency:     app.currency,
		Pricing:      app.pricing,
		Notifier:     app.dispatcher,
		Limiter:      limiter,
		Metrics:      registry,
		Logger:       logger,
	}, bidding.Config{
		Currencies:    currencies,
		AttemptLimit:  cfg.Bidding.AttemptLimit,
		AttemptWindow: cfg.Bidding.AttemptWindow,
	})

	app.jobOffers = joboffer.NewService(joboffer.Dependencies{
		Repositories: app.storage.Repositories,
		Tx:           app.storage.Tx,
		Converter:    app.currency,
		Notifier:     app.dispatcher,
		Metrics:      registry,
		Logger:       logger,
	}, joboffer.Config{
		Currencies:      currencies,
		DefaultRadiusKM: cfg.Geo.DefaultRadiusKM,
	})

	if err := app.initScheduler(ctx); err != nil {
		return nil, err
	}

	app.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      app.routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return app, nil
}

func (a *application) initStorage(ctx context.Context) error {
	if a.cfg.Storage.Driver == "memory" {
		a.logger.Warn("using in-memory storage; data is lost on restart")
		a.storage = repository.NewMemoryStorage()
		return nil
	}

	if a.cfg.Database.AutoMigrate {
		if err := database.Migrate(a.cfg.Database.URL, a.logger); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
	}

	pool, err := database.NewPool(ctx, a.cfg.Database, a.logger)
	if err != nil {
		return err
	}
	a.pool = pool
	a.storage = repository.NewPostgresStorage(pool)
	return nil
}

func (a *application) initNotifications(registry *metrics.Registry) error {
	var senders notification.MultiSender

	if a.cfg.Security.JWTSecret != "" {
		wsCfg := websocket.DefaultConfig()
		wsCfg.OnConnectionChange = UpdateWSConnections
		hub, err := websocket.NewHub(a.cfg.Security.JWTSecret, wsCfg, a.logger)
		if err != nil {
			return fmt.Errorf("creating websocket hub: %w", err)
		}
		a.hub = hub
		senders = append(senders, hub)
	} else {
		a.logger.Warn("security.jwt_secret not set; realtime notifications are disabled")
	}
	if a.cfg.IsDevelopment() || len(senders) == 0 {
		senders = append(senders, notification.NewLogSender(a.logger.Named("notification")))
	}

	var sender notification.Sender = senders
	if len(senders) == 1 {
		sender = senders[0]
	}

	var retries notification.RetryStore
	if a.cache != nil {
		retries = a.cache.Retries
	}

	nc := a.cfg.Notification
	a.dispatcher = notification.NewDispatcher(sender, retries, registry, notification.Config{
		Workers:         nc.Workers,
		QueueSize:       nc.QueueSize,
		SendTimeout:     nc.SendTimeout,
		RatePerSecond:   nc.RatePerSecond,
		Burst:           nc.Burst,
		MaxAttempts:     nc.MaxAttempts,
		BreakerFailures: nc.BreakerFailures,
		BreakerTimeout:  nc.BreakerTimeout,
	}, a.logger)
	return nil
}

func (a *application) initScheduler(ctx context.Context) error {
	a.scheduler = scheduler.New(ctx, a.logger)

	if a.cache != nil && a.cfg.Notification.RetryInterval > 0 {
		err := a.scheduler.Every("notification-retries", a.cfg.Notification.RetryInterval, func(ctx context.Context) error {
			delivered, err := a.dispatcher.DrainRetries(ctx)
			if err != nil {
				return err
			}
			pending, err := a.dispatcher.Pending(ctx)
			if err != nil {
				return err
			}
			UpdateRetryMetrics(delivered, pending)
			return nil
		})
		if err != nil {
			return err
		}
	}

	if a.pool != nil {
		err := a.scheduler.Every("db-pool-stats", poolStatsInterval, func(ctx context.Context) error {
			UpdateDBConnectionPoolMetrics(a.pool.Stat())
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (a *application) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", MetricsHandler())
	mux.HandleFunc("/healthz", InstrumentHTTPHandler("healthz", http.HandlerFunc(a.handleHealth)))
	if a.hub != nil {
		mux.HandleFunc("/ws", InstrumentHTTPHandler("ws", a.hub))
	}
	return mux
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func (a *application) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Checks: map[string]string{}}
	check := func(name string, err error) {
		if err != nil {
			resp.Status = "degraded"
			resp.Checks[name] = err.Error()
			return
		}
		resp.Checks[name] = "ok"
	}

	if a.pool != nil {
		check("database", database.HealthCheck(ctx, a.pool))
	}
	if a.cache != nil {
		check("redis", a.cache.Client().Ping(ctx).Err())
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		a.logger.Debug("writing health response", zap.Error(err))
	}
}

// run serves until ctx is cancelled, then shuts down in dependency order
func (a *application) run(ctx context.Context) error {
	a.dispatcher.Start()
	a.scheduler.Start()

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if serveErr != nil {
		errs = append(errs, fmt.Errorf("http server: %w", serveErr))
	}
	if a.hub != nil {
		a.hub.Close()
	}
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := a.scheduler.Stop(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := a.dispatcher.Stop(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("notification dispatcher: %w", err))
	}
	a.close()
	return errors.Join(errs...)
}

func (a *application) close() {
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Warn("closing redis", zap.Error(err))
		}
	}
	if a.storage != nil {
		a.storage.Close()
	}
}

func parseCurrencies(codes []string) ([]values.Currency, error) {
	out := make([]values.Currency, 0, len(codes))
	for _, code := range codes {
		c, err := values.ParseCurrency(code)
		if err != nil {
			return nil, fmt.Errorf("bidding.currencies: %w", err)
		}
		out = append(out, c)
	}
	return out, nil
}
