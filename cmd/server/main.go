package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"hireloop/internal/auth/handler"
	authmetrics "hireloop/internal/auth/metrics"
	"hireloop/internal/auth/password"
	"hireloop/internal/auth/service"
	"hireloop/internal/auth/store/credential"
	"hireloop/internal/auth/store/session"
	"hireloop/internal/auth/token"
	"hireloop/internal/auth/workers/cleanup"
	"hireloop/internal/events"
	"hireloop/internal/events/broker"
	"hireloop/internal/events/overflow"
	"hireloop/internal/events/overflow/replayer"
	"hireloop/internal/events/publisher"
	"hireloop/internal/platform/config"
	"hireloop/internal/platform/database"
	"hireloop/internal/platform/health"
	"hireloop/internal/platform/kafka"
	"hireloop/internal/platform/kafka/producer"
	"hireloop/internal/platform/logger"
	"hireloop/internal/platform/metrics"
	"hireloop/internal/platform/redis"
	"hireloop/internal/platform/tracer"
	httptransport "hireloop/internal/transport/http"
	request "hireloop/pkg/platform/middleware/request"
)

const poolStatsInterval = 15 * time.Second

func main() {
	configPath := flag.String("config", os.Getenv("HIRELOOP_CONFIG_FILE"), "path to an optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

// infra holds the optional backing services. Nil fields mean the in-memory
// implementation is used instead.
type infra struct {
	db    *database.Pool
	redis *redis.Client
}

func (i infra) close(log *slog.Logger) {
	if i.redis != nil {
		if err := i.redis.Close(); err != nil {
			log.Warn("close redis", "error", err)
		}
	}
	if i.db != nil {
		if err := i.db.Close(); err != nil {
			log.Warn("close database", "error", err)
		}
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	log.Info("initializing hireloop auth",
		"addr", cfg.Server.Addr,
		"environment", cfg.Server.Environment,
		"kafka_enabled", cfg.Kafka.Enabled(),
		"topic_mode", cfg.Kafka.TopicMode,
		"overflow_policy", cfg.Publisher.OverflowPolicy,
	)

	reg := metrics.NewRegistry(health.Version, cfg.Server.Environment)

	var deps infra
	defer deps.close(log)

	db, err := database.New(cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	deps.db = db

	rc, err := redis.New(ctx, cfg.Redis, redis.NewMetrics(reg))
	if err != nil {
		return fmt.Errorf("open redis: %w", err)
	}
	deps.redis = rc

	var (
		creds    service.CredentialStore = credential.NewInMemory()
		sessions service.SessionStore
		sweeper  *cleanup.CleanupService
		spill    overflow.Store = overflow.NewMemoryStore()
	)
	if db != nil {
		creds = credential.NewPostgres(db.DB())
		spill = overflow.NewPostgresStore(db.DB())
	}
	if rc != nil {
		sessions = session.NewRedis(rc.Client)
	} else {
		mem := session.NewInMemory()
		sessions = mem
		if sweeper, err = cleanup.New(mem, cleanup.WithCleanupLogger(log)); err != nil {
			return fmt.Errorf("session cleanup: %w", err)
		}
	}

	version, err := cfg.Password.Version()
	if err != nil {
		return err
	}
	hasher, err := password.New(
		password.WithCurrentVersion(version),
		password.WithBcryptCost(cfg.Password.BcryptCost),
		password.WithArgon2Params(cfg.Password.Argon2),
	)
	if err != nil {
		return fmt.Errorf("password hasher: %w", err)
	}
	tokens, err := token.NewService(cfg.Server.JWTSigningKey, cfg.Server.JWTIssuer, cfg.Server.JWTAudience, cfg.Server.TokenTTL)
	if err != nil {
		return fmt.Errorf("token service: %w", err)
	}

	manager := broker.New(dialer(cfg.Kafka, log),
		broker.WithLogger(log),
		broker.WithMetrics(broker.NewMetrics(reg)),
		broker.WithPolicy(cfg.Kafka.Connect),
		broker.WithAttemptTimeout(cfg.Kafka.AttemptTimeout),
	)

	pub := publisher.New(manager, events.NewRouter(cfg.Kafka.TopicMode, cfg.Kafka.Topic), cfg.Publisher,
		publisher.WithLogger(log),
		publisher.WithMetrics(publisher.NewMetrics(reg)),
		publisher.WithOverflow(spill),
		publisher.WithTracer(tracer.NewOTel("hireloop/events")),
	)

	replay := replayer.New(spill, manager,
		replayer.WithBatchSize(cfg.Replayer.BatchSize),
		replayer.WithPollInterval(cfg.Replayer.PollInterval),
		replayer.WithRetention(cfg.Replayer.Retention),
		replayer.WithMaxRejections(cfg.Replayer.MaxRejections),
		replayer.WithMetrics(replayer.NewMetrics(reg)),
		replayer.WithLogger(log),
	)

	authService, err := service.New(creds, sessions, hasher, tokens, pub,
		service.Config{RefreshTTL: cfg.Server.RefreshTTL},
		service.WithLogger(log),
		service.WithMetrics(authmetrics.New(reg)),
		service.WithTracer(tracer.NewOTel("hireloop/auth")),
	)
	if err != nil {
		return fmt.Errorf("auth service: %w", err)
	}

	probes := health.New(cfg.Server.Environment)
	if db != nil {
		probes.RegisterCheck("postgres", db.Health)
	}
	if rc != nil {
		probes.RegisterCheck("redis", rc.Health)
	}
	if cfg.Kafka.Enabled() {
		probes.RegisterInformational("kafka", kafka.NewHealthChecker(cfg.Kafka.Brokers, cfg.Kafka.DialTimeout).Check)
	}
	probes.RegisterInformational("event_publisher", func(context.Context) error {
		if pub.CircuitOpen() {
			return errors.New("delivery circuit open")
		}
		return nil
	})

	router := httptransport.NewRouter(httptransport.RouterConfig{
		Logger:         log,
		RequestTimeout: cfg.Server.RequestTimeout,
		AdminToken:     cfg.Server.AdminToken,
		Health:         probes,
		Metrics:        request.NewMetrics(reg),
		Gatherer:       reg,
		Modules:        []httptransport.RouteRegistrar{handler.New(authService, log)},
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	replay.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting http server", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		recordPoolStats(gctx, rc)
		return nil
	})
	if sweeper != nil {
		g.Go(func() error {
			_ = sweeper.Start(gctx)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return shutdown(srv, pub, replay, manager, cfg, log)
	})
	return g.Wait()
}

// dialer connects to Kafka when brokers are configured and otherwise hands
// out a no-op producer so events are logged and discarded.
func dialer(cfg kafka.Config, log *slog.Logger) broker.DialFunc {
	if cfg.Enabled() {
		return broker.ProducerDialer(cfg.ProducerConfig(), log)
	}
	log.Warn("no kafka brokers configured; auth events will be discarded")
	return func(context.Context) (broker.Conn, error) {
		return producer.NewNoop(log), nil
	}
}

func recordPoolStats(ctx context.Context, rc *redis.Client) {
	if rc == nil {
		return
	}
	ticker := time.NewTicker(poolStatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rc.RecordPoolStats()
		}
	}
}

// shutdown stops intake first, then drains the publisher, then stops the
// replayer and finally closes the broker connection.
func shutdown(srv *http.Server, pub *publisher.Publisher, replay *replayer.Replayer, manager *broker.Manager, cfg config.Config, log *slog.Logger) error {
	log.Info("shutting down server gracefully")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	report := pub.Drain(ctx)
	log.Info("event publisher drained",
		"delivered", report.Delivered,
		"overflowed", report.Overflowed,
		"dropped", report.Dropped,
		"abandoned", report.Abandoned,
		"timed_out", report.TimedOut,
		"duration", report.Duration,
	)

	if err := replay.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("replayer stop: %w", err))
	}
	if err := manager.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("broker close: %w", err))
	}
	return errors.Join(errs...)
}
