package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/outcomes/outcomes/internal/config"
	"github.com/outcomes/outcomes/internal/domain/client"
	"github.com/outcomes/outcomes/internal/domain/flag"
	"github.com/outcomes/outcomes/internal/domain/measure"
	"github.com/outcomes/outcomes/internal/domain/quality"
	"github.com/outcomes/outcomes/internal/platform/cache"
	"github.com/outcomes/outcomes/internal/platform/db"
	"github.com/outcomes/outcomes/internal/platform/events"
	"github.com/outcomes/outcomes/internal/platform/sweep"
)

// app holds the services shared by every command.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger
	pool   *pgxpool.Pool
	redis  *redis.Client
	broker *amqp.Connection
	pub    *events.Publisher

	measures  *measure.Service
	clients   *client.Service
	flags     *flag.Service
	quality   *quality.Service
	evaluator *sweep.Evaluator
	runner    *sweep.Runner
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// loadConfig reads and validates the configuration.
func loadConfig() (*config.Config, zerolog.Logger, error) {
	logger := newLogger(os.Getenv("ENV"))
	cfg, err := config.Load()
	if err != nil {
		return nil, logger, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, logger, err
	}
	if cfg.IsDev() {
		logger.Warn().Msg("development mode: unauthenticated requests are granted admin access")
	}
	return cfg, logger, nil
}

// newApp connects to Postgres and, when configured, Redis and the broker,
// then wires the domain services together.
func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, pool: pool}
	logger.Info().Msg("connected to database")

	if cfg.RedisURL != "" {
		if a.redis, err = cache.NewClient(ctx, cfg.RedisURL); err != nil {
			a.close()
			return nil, err
		}
		logger.Info().Msg("connected to redis")
	}
	if cfg.AMQPURL != "" {
		if a.broker, err = events.Dial(cfg.AMQPURL); err != nil {
			a.close()
			return nil, err
		}
		if a.pub, err = events.NewPublisher(a.broker, cfg.AMQPExchange, logger); err != nil {
			a.close()
			return nil, err
		}
		logger.Info().Str("exchange", cfg.AMQPExchange).Msg("connected to broker")
	}

	a.clients = client.NewService(client.NewRepoPG(pool), client.NewHistoryReaderPG(pool), logger)
	a.measures = measure.NewService(measure.NewDefinitionRepoPG(pool), measure.NewFormRepoPG(pool), logger)
	a.flags = flag.NewService(flag.NewRuleRepoPG(pool), flag.NewFlagRepoPG(pool), a.clients, logger)
	a.flags.SetAutoClear(cfg.FlagsAutoClear)
	a.quality = quality.NewService(quality.NewRepoPG(pool), a.clients, logger)

	if a.redis != nil {
		a.measures.SetCache(cache.NewMeasureCache(a.redis, cfg.MeasureCacheTTL))
	}
	if a.pub != nil {
		a.measures.SetPublisher(a.pub)
		a.flags.SetPublisher(a.pub)
	}

	a.evaluator = sweep.NewEvaluator(a.flags, a.quality, a.inTenant, logger)
	a.measures.AddSubmitHook(a.evaluator)

	a.runner = sweep.NewRunner(a.clients, a.evaluator, a.inTenant, logger)
	a.runner.SetConcurrency(cfg.SweepConcurrency)
	if a.redis != nil {
		a.runner.SetLocker(cache.NewLocker(a.redis))
	}
	return a, nil
}

func (a *app) inTenant(ctx context.Context, tenant string, fn func(ctx context.Context) error) error {
	return db.WithTenant(ctx, a.pool, tenant, fn)
}

// tenants lists the tenants background sweeps cover: SWEEP_TENANTS when
// set, otherwise every tenant schema.
func (a *app) tenants(ctx context.Context) ([]string, error) {
	if len(a.cfg.SweepTenants) > 0 {
		return a.cfg.SweepTenants, nil
	}
	return db.ListTenants(ctx, a.pool)
}

func (a *app) healthChecks() []db.Check {
	var checks []db.Check
	if a.redis != nil {
		checks = append(checks, db.Check{Name: "redis", Ping: cache.Ping(a.redis)})
	}
	if a.broker != nil {
		conn := a.broker
		checks = append(checks, db.Check{Name: "amqp", Ping: func(context.Context) error {
			if conn.IsClosed() {
				return fmt.Errorf("connection closed")
			}
			return nil
		}})
	}
	return checks
}

func (a *app) close() {
	if a.pub != nil {
		if err := a.pub.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("close publisher")
		}
	}
	if a.broker != nil {
		a.broker.Close()
	}
	if a.redis != nil {
		a.redis.Close()
	}
	a.pool.Close()
}
