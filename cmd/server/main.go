// Command server runs the group membership reconciliation service: it
// consumes lifecycle notifications from the host portal (Kafka topic and/or
// HTTP), drives idempotent membership changes against the configured
// external backend, and serves the admin API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/errgroup"

	"groupsync/internal/directory"
	directorymemory "groupsync/internal/directory/memory"
	directorypostgres "groupsync/internal/directory/postgres"
	"groupsync/internal/membership"
	grouperclient "groupsync/internal/membership/grouper"
	membershipmemory "groupsync/internal/membership/memory"
	membershipredis "groupsync/internal/membership/redis"
	"groupsync/internal/outcomes"
	outcomememory "groupsync/internal/outcomes/store/memory"
	outcomepostgres "groupsync/internal/outcomes/store/postgres"
	"groupsync/internal/platform/config"
	"groupsync/internal/platform/httpserver"
	"groupsync/internal/platform/kafka/consumer"
	"groupsync/internal/platform/logger"
	"groupsync/internal/platform/metrics"
	"groupsync/internal/platform/postgres"
	platformredis "groupsync/internal/platform/redis"
	"groupsync/internal/reconcile/adapter"
	"groupsync/internal/reconcile/engine"
	"groupsync/internal/resync"
	httpapi "groupsync/internal/transport/http"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := logger.New(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(log)
	m := metrics.New()

	var checkers []httpapi.HealthChecker

	// Directory store.
	var dir directory.Store
	if cfg.Postgres.DirectoryDSN != "" {
		pool, err := postgres.Connect(ctx, cfg.Postgres.DirectoryDSN)
		if err != nil {
			return fmt.Errorf("connect directory store: %w", err)
		}
		defer pool.Close()
		store := directorypostgres.New(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
		dir = store
		checkers = append(checkers, httpapi.HealthChecker{Name: "postgres", Check: pool.Ping})
	} else {
		log.Warn("no directory DSN configured, using in-memory directory store")
		dir = directorymemory.New()
	}

	// Membership backend.
	client, closeBackend, err := buildBackend(ctx, cfg, log, &checkers)
	if err != nil {
		return err
	}
	if closeBackend != nil {
		defer closeBackend()
	}

	// Outcome pipeline.
	var outcomeStore outcomes.Store
	if cfg.Postgres.OutcomeDSN != "" {
		db, err := outcomepostgres.Open(ctx, cfg.Postgres.OutcomeDSN)
		if err != nil {
			return fmt.Errorf("connect outcome store: %w", err)
		}
		defer db.Close()
		store := outcomepostgres.New(db)
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
		outcomeStore = store
		checkers = append(checkers, httpapi.HealthChecker{Name: "outcomes-postgres", Check: db.PingContext})
	} else {
		outcomeStore = outcomememory.New()
	}
	publisher := outcomes.NewPublisher(cfg.OutcomeBuffer, log)
	worker := outcomes.NewWorker(outcomeStore, publisher.Inbox(), log)

	// Engine and adapter.
	eng, err := engine.New(client, cfg.Policy(),
		engine.WithLogger(log),
		engine.WithMetrics(m),
		engine.WithOutcomeSink(publisher),
		engine.WithRetry(engine.RetryConfig{
			MaxAttempts:     cfg.RetryMaxAttempts,
			InitialInterval: cfg.RetryBaseDelay,
			MaxInterval:     cfg.RetryMaxDelay,
		}),
		engine.WithCallTimeout(cfg.ClientTimeout),
		engine.WithBatchWorkers(cfg.BatchWorkers),
	)
	if err != nil {
		return err
	}

	disp, err := adapter.New(adapter.Config{
		Policy:                 cfg.Policy(),
		GroupAttributeName:     cfg.GroupAttributeName,
		SignalsEnabled:         cfg.SignalsEnabled,
		RemoveOnProjectArchive: cfg.RemoveOnProjectArchive,
	}, dir, eng, adapter.WithLogger(log), adapter.WithMetrics(m))
	if err != nil {
		return err
	}

	sweeper, err := resync.New(dir, client, cfg.Policy(), cfg.GroupAttributeName,
		resync.WithLogger(log), resync.WithMetrics(m))
	if err != nil {
		return err
	}

	handler := httpapi.NewHandler(disp, sweeper, outcomeStore, log, cfg.JWTSigningKey, checkers...)
	server := httpserver.New(cfg.HTTPAddr, httpapi.NewRouter(handler))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := worker.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if len(cfg.Kafka.Brokers) > 0 {
		cons, err := consumer.New(consumer.Config{
			Brokers: cfg.Kafka.Brokers,
			GroupID: cfg.Kafka.GroupID,
			Topics:  []string{cfg.Kafka.Topic},
		}, log)
		if err != nil {
			return err
		}
		defer cons.Close()
		if err := cons.EnsureTopics(ctx, 3, 1, cfg.Kafka.Topic); err != nil {
			return err
		}
		runner := adapter.NewKafkaRunner(cons, disp, log)
		g.Go(func() error {
			err := runner.Run(gctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
		log.Info("kafka consumer started", "topic", cfg.Kafka.Topic, "group", cfg.Kafka.GroupID)
	} else {
		log.Info("no kafka brokers configured, events arrive over HTTP only")
	}

	g.Go(func() error {
		log.Info("http server listening", "addr", cfg.HTTPAddr,
			"policy", cfg.ScopingPolicy, "backend", cfg.Backend)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	log.Info("server stopped")
	return err
}

// buildBackend constructs the membership client named by config, returning
// an optional close func for backends holding connections.
func buildBackend(ctx context.Context, cfg *config.Config, log *slog.Logger, checkers *[]httpapi.HealthChecker) (membership.Client, func() error, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		log.Warn("using in-memory membership backend, state will not survive restart")
		return membershipmemory.New(), nil, nil

	case config.BackendRedis:
		rc, err := platformredis.New(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, fmt.Errorf("connect redis backend: %w", err)
		}
		*checkers = append(*checkers, httpapi.HealthChecker{Name: "redis", Check: rc.Health})
		return membershipredis.New(rc.Client, cfg.Redis.KeyPrefix), rc.Close, nil

	case config.BackendGrouper:
		pem, err := os.ReadFile(cfg.Grouper.SigningKeyPath)
		if err != nil {
			return nil, nil, fmt.Errorf("read grouper signing key: %w", err)
		}
		key, err := jwt.ParseRSAPrivateKeyFromPEM(pem)
		if err != nil {
			return nil, nil, fmt.Errorf("parse grouper signing key: %w", err)
		}
		gc, err := grouperclient.New(grouperclient.Config{
			BaseURL:    cfg.Grouper.BaseURL,
			Subject:    cfg.Grouper.Subject,
			Stem:       cfg.Grouper.Stem,
			SigningKey: key,
			TokenTTL:   cfg.Grouper.TokenTTL,
		})
		if err != nil {
			return nil, nil, err
		}
		return gc, nil, nil

	default:
		return nil, nil, fmt.Errorf("unknown membership backend %q", cfg.Backend)
	}
}
