package cmd

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"example.com/backstage/services/taskstatus/config"
	"example.com/backstage/services/taskstatus/internal/cache"
	"example.com/backstage/services/taskstatus/internal/database"
	"example.com/backstage/services/taskstatus/internal/dispatcher"
	"example.com/backstage/services/taskstatus/internal/engine"
	"example.com/backstage/services/taskstatus/internal/messaging"
	"example.com/backstage/services/taskstatus/internal/metrics"
	"example.com/backstage/services/taskstatus/internal/repositories"
	"example.com/backstage/services/taskstatus/internal/search"
	"example.com/backstage/services/taskstatus/internal/tracing"
)

// app holds the components shared by the worker and api commands
type app struct {
	cfg        config.Config
	db         database.DB
	readOnlyDB database.DB
	repo       *repositories.TaskStatusRepository
	cache      *cache.RedisCache
	elastic    *search.ElasticClient
	tracer     tracing.Tracer
	metrics    *metrics.Metrics
	publisher  messaging.Publisher
	dispatcher *dispatcher.Dispatcher
	pool       *dispatcher.Pool
}

func newApp(cfg config.Config) (*app, error) {
	a := &app{cfg: cfg, metrics: metrics.NewMetrics()}

	db, err := database.Connect(cfg.DB)
	if err != nil {
		return nil, err
	}
	a.db = db

	gormDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	var readOnlyGorm *gorm.DB
	if cfg.DB.ReadOnlyDSN != "" {
		roCfg := cfg.DB
		roCfg.DSN = cfg.DB.ReadOnlyDSN
		readOnlyDB, err := database.Connect(roCfg)
		if err != nil {
			a.Close()
			return nil, errors.Wrap(err, "failed to connect to read-only database")
		}
		a.readOnlyDB = readOnlyDB
		if readOnlyGorm, err = readOnlyDB.DB(); err != nil {
			a.Close()
			return nil, err
		}
	}
	a.repo = repositories.NewTaskStatusRepository(gormDB, readOnlyGorm)

	a.cache, err = cache.NewRedisCache(cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Redis cache, continuing without caching")
		a.cache, _ = cache.NewRedisCache(config.RedisConfig{Enabled: false})
	}

	a.tracer, err = tracing.NewTracer(cfg.Tracing)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
		a.tracer = tracing.Noop()
	}

	if cfg.Elastic.Enabled {
		a.elastic, err = search.NewElasticClient(cfg.Elastic)
		if err == nil {
			err = a.elastic.EnsureIndex(context.Background())
		}
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize Elasticsearch client, continuing without feedback index")
			a.elastic = nil
		}
	}

	a.publisher, err = messaging.NewPublisher(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	var store dispatcher.StatusStore = a.repo
	if a.cache.Enabled() {
		store = cache.NewCachedStatusStore(a.repo, a.cache, cfg.Redis.TTL)
	}

	var sink dispatcher.NotificationSink = messaging.NewFeedbackProducer(a.publisher, cfg.Channels())
	if a.elastic != nil {
		sink = search.NewFeedbackIndexer(sink, a.elastic)
	}

	eng := engine.New(engine.Policy{
		PriorityLimit:  cfg.Feedback.PriorityLimit,
		TransitionOnly: cfg.Feedback.Policy == config.PolicyTransition,
	})

	a.dispatcher = dispatcher.New(store, sink, eng, a.metrics, a.tracer)
	a.pool = dispatcher.NewPool(a.dispatcher, cfg.Dispatcher.Workers, cfg.Dispatcher.QueueSize, a.metrics)

	log.Info().
		Str("transport", cfg.Transport.Driver).
		Str("policy", cfg.Feedback.Policy).
		Int("priority_limit", eng.Policy().PriorityLimit).
		Bool("cache", a.cache.Enabled()).
		Bool("search", a.elastic != nil).
		Msg("task status service initialized")

	return a, nil
}

// checkHealth pings the database and Redis and records the result
func (a *app) checkHealth(ctx context.Context) {
	if err := a.db.Ping(ctx); err != nil {
		log.Error().Err(err).Msg("database health check failed")
		a.metrics.SetHealth(metrics.HealthDatabase, false)
	} else {
		a.metrics.SetHealth(metrics.HealthDatabase, true)
	}

	if err := a.cache.Ping(ctx); err != nil {
		log.Error().Err(err).Msg("redis health check failed")
		a.metrics.SetHealth(metrics.HealthRedis, false)
	} else {
		a.metrics.SetHealth(metrics.HealthRedis, true)
	}
}

// Close releases everything newApp opened, pool first so in-flight events
// can still reach the store and the bus
func (a *app) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close publisher")
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close Redis cache")
		}
	}
	if a.tracer != nil {
		a.tracer.Close()
	}
	if a.readOnlyDB != nil {
		if err := a.readOnlyDB.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close read-only database")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close database")
		}
	}
}
