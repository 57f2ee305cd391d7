package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"gamerent/internal/config"
	"gamerent/internal/logging"
	"gamerent/pkg/bus"
	"gamerent/pkg/db"
	"gamerent/pkg/idempotency"
	"gamerent/pkg/render"
	gs3 "gamerent/pkg/s3"
	"gamerent/pkg/telemetry"
	"gamerent/services/api"
	"gamerent/services/ledger"
	"gamerent/services/notifier"
	"gamerent/services/rentals"
)

const serviceName = "rental-api"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	logger := logging.Setup(cfg.LogFormat, cfg.LogLevel)

	shutdownTracing, traced, err := telemetry.Init(ctx, telemetry.Options{
		ServiceName: serviceName,
		Endpoint:    cfg.OTLPEndpoint,
		Logger:      logger,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("init telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown telemetry")
		}
	}()

	pool, err := db.Open(ctx, cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}

	orm, err := db.OpenORM(ctx, cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("open orm")
	}
	defer func() {
		if err := db.CloseORM(orm); err != nil {
			log.Error().Err(err).Msg("close orm")
		}
	}()

	var (
		svcOpts []rentals.Option
		events  *bus.Bus
	)
	if cfg.NATSURL != "" {
		events, err = bus.New(cfg.NATSURL)
		if err != nil {
			log.Fatal().Err(err).Str("url", cfg.NATSURL).Msg("connect nats")
		}
		defer events.Close()
		if err := events.EnsureStream(rentals.StreamName, rentals.Subjects, cfg.EventMaxAge); err != nil {
			log.Fatal().Err(err).Msg("ensure event stream")
		}
		svcOpts = append(svcOpts, rentals.WithPublisher(events))
	} else {
		log.Warn().Msg("NATS_URL not set; rental events are not published")
	}

	svc, err := rentals.NewService(orm, svcOpts...)
	if err != nil {
		log.Fatal().Err(err).Msg("rentals service")
	}

	idem, closeIdem := idempotencyStore(ctx, cfg)
	defer closeIdem()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := api.NewMetrics(reg)

	engine, err := render.New()
	if err != nil {
		log.Fatal().Err(err).Msg("load templates")
	}

	opts := api.Options{
		Rentals:        svc,
		Renderer:       engine,
		Idempotency:    idem,
		Metrics:        metrics,
		Logger:         logger,
		Ready:          func(ctx context.Context) error { return db.Ping(ctx, pool) },
		AllowedOrigins: cfg.AllowedOrigins,
		RateLimit:      cfg.RateLimit,
		Currency:       cfg.Currency,
	}

	if analytics, err := rentals.NewAnalytics(pool); err == nil {
		opts.Analytics = analytics
	}

	if exporter := ledgerExporter(ctx, cfg, svc); exporter != nil {
		opts.Exporter = exporter
	}

	var notes *notifier.Notifier
	if events != nil {
		notes, err = notifier.New(orm, events)
	} else {
		notes, err = notifier.New(orm, nil)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("notifier")
	}
	opts.Notifications = notes
	if events != nil {
		if err := notes.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("start notifier")
		}
		defer func() {
			if err := notes.Close(); err != nil {
				log.Error().Err(err).Msg("stop notifier")
			}
		}()
	}

	sweeper := rentals.NewSweeper(svc, cfg.SweepInterval, metrics.ObserveSweep)
	go func() {
		if err := sweeper.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("expiry sweeper stopped")
		}
	}()

	a, err := api.New(opts)
	if err != nil {
		log.Fatal().Err(err).Msg("build api")
	}
	routes, err := a.Routes()
	if err != nil {
		log.Fatal().Err(err).Msg("build routes")
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           traced(routes),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("starting rental-api")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown server")
	}
}

func idempotencyStore(ctx context.Context, cfg config.Config) (idempotency.Store, func()) {
	if cfg.RedisURL == "" {
		log.Warn().Msg("REDIS_URL not set; idempotency keys are kept in memory")
		return idempotency.NewMemory(cfg.IdempotencyTTL), func() {}
	}
	store, err := idempotency.NewRedis(cfg.RedisURL, "gamerent:idem:", cfg.IdempotencyTTL)
	if err != nil {
		log.Fatal().Err(err).Msg("connect redis")
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		log.Fatal().Err(err).Msg("ping redis")
	}
	return store, func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("close redis")
		}
	}
}

func ledgerExporter(ctx context.Context, cfg config.Config, svc *rentals.Service) *ledger.Exporter {
	if cfg.S3.Endpoint == "" {
		log.Info().Msg("S3_ENDPOINT not set; ledger export disabled")
		return nil
	}
	client, err := gs3.NewClient(ctx, gs3.Config{
		Endpoint:       cfg.S3.Endpoint,
		AccessKey:      cfg.S3.AccessKey,
		SecretKey:      cfg.S3.SecretKey,
		Region:         cfg.S3.Region,
		DisableTLS:     cfg.S3.DisableTLS,
		ForcePathStyle: cfg.S3.ForcePathStyle,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("s3 client")
	}
	exporter, err := ledger.NewExporter(svc, client, cfg.S3.Bucket, cfg.ExportURLTTL)
	if err != nil {
		log.Fatal().Err(err).Msg("ledger exporter")
	}
	return exporter
}
