package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/spigell/grant-interviewer/internal/ai"
	"github.com/spigell/grant-interviewer/internal/ai/gemini"
	"github.com/spigell/grant-interviewer/internal/ai/offline"
	"github.com/spigell/grant-interviewer/internal/evaluator"
	"github.com/spigell/grant-interviewer/internal/events"
	"github.com/spigell/grant-interviewer/internal/interview"
	"github.com/spigell/grant-interviewer/internal/metrics"
	"github.com/spigell/grant-interviewer/internal/question"
	"github.com/spigell/grant-interviewer/internal/secrets"
	"github.com/spigell/grant-interviewer/internal/store"
	"github.com/spigell/grant-interviewer/internal/topic"
)

const connectTimeout = 5 * time.Second

// engine is the wired interview manager together with the connections it owns.
type engine struct {
	manager *interview.Manager
	catalog *topic.Catalog
	metrics *metrics.Metrics
	closers []func(context.Context) error
}

func (e *engine) Close(ctx context.Context, log *zap.Logger) {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](ctx); err != nil {
			log.Warn("closing connection", zap.Error(err))
		}
	}
}

func buildEngine(ctx context.Context, cfg *Config, log *zap.Logger, reg prometheus.Registerer) (*engine, error) {
	e := &engine{metrics: metrics.New(reg)}

	catalog, err := loadCatalog(cfg.Interview.TopicsFile)
	if err != nil {
		return nil, err
	}
	e.catalog = catalog

	aggregate, err := interview.AggregateByName(cfg.Interview.Aggregate)
	if err != nil {
		return nil, err
	}

	completer, err := newCompleter(ctx, cfg.LLM, log)
	if err != nil {
		return nil, err
	}

	policy := ai.Policy{Attempts: cfg.LLM.Attempts, Backoff: cfg.LLM.Backoff, Timeout: cfg.LLM.Timeout}
	maxLogLen := cfg.LLM.Gemini.MaxLogLength

	deps := interview.Deps{
		Catalog:   catalog,
		Evaluator: evaluator.New(completer, evaluator.Options{Policy: policy, MaxLogLength: maxLogLen}, log),
		Questions: question.New(completer, question.Options{Policy: policy, MaxLogLength: maxLogLen}, log),
		Recorder:  e.metrics,
		Logger:    log,
	}

	if deps.Store, err = e.openStore(ctx, cfg.Store, log); err != nil {
		e.Close(ctx, log)
		return nil, err
	}

	if mongoCfg := cfg.Archive.Mongo; mongoCfg != nil && mongoCfg.URI != "" {
		archive, err := e.openArchive(ctx, mongoCfg, log)
		if err != nil {
			e.Close(ctx, log)
			return nil, err
		}
		deps.Archiver = archive
	}

	if amqpCfg := cfg.Events.AMQP; amqpCfg != nil && amqpCfg.URL != "" {
		publisher, err := events.Dial(amqpCfg.URL, amqpCfg.Exchange, log)
		if err != nil {
			e.Close(ctx, log)
			return nil, err
		}
		e.closers = append(e.closers, func(context.Context) error { return publisher.Close() })
		deps.Notifier = publisher
	}

	manager, err := interview.NewManager(interview.Config{
		Budget: interview.Budget{
			MinQuestions: cfg.Interview.MinQuestions,
			MaxQuestions: cfg.Interview.MaxQuestions,
		},
		IdleTimeout: cfg.Interview.IdleTimeout,
		Aggregate:   aggregate,
	}, deps)
	if err != nil {
		e.Close(ctx, log)
		return nil, err
	}
	e.manager = manager

	return e, nil
}

func loadCatalog(file string) (*topic.Catalog, error) {
	if file == "" {
		return topic.Default(), nil
	}
	return topic.Load(file)
}

func newCompleter(ctx context.Context, cfg *LLMConfig, log *zap.Logger) (ai.Completer, error) {
	if strings.EqualFold(cfg.Provider, providerNone) {
		log.Info("running without a language model, questions come from the static bank")
		return offline.New(), nil
	}

	apiKey, err := secrets.Load(secrets.Source{
		Name:  "gemini api key",
		File:  cfg.Gemini.APIKeyFile,
		Value: cfg.Gemini.APIKey,
		Env:   "GEMINI_API_KEY",
	})
	if err != nil {
		return nil, fmt.Errorf("%w (set llm.gemini.api-key-file, GEMINI_API_KEY_FILE or GEMINI_API_KEY, or use llm.provider: none)", err)
	}

	client, err := gemini.New(ctx, gemini.Options{
		APIKey:            apiKey,
		Model:             cfg.Gemini.Model,
		MaxRetries:        cfg.Gemini.MaxRetries,
		RequestsPerMinute: cfg.Gemini.RequestsPerMinute,
		Temperature:       cfg.Gemini.Temperature,
		MaxLogLength:      cfg.Gemini.MaxLogLength,
	}, log)
	if err != nil {
		return nil, err
	}

	log.Info("language model configured", zap.String("provider", providerGemini), zap.String("model", client.Model()))
	return client, nil
}

func (e *engine) openStore(ctx context.Context, cfg *StoreConfig, log *zap.Logger) (interview.Store, error) {
	if !strings.EqualFold(cfg.Driver, driverRedis) {
		log.Warn("using in-memory session store, interviews do not survive a restart")
		return store.NewMemory(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     strings.TrimPrefix(cfg.Redis.Addr, "redis://"),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", cfg.Redis.Addr, err)
	}

	e.closers = append(e.closers, func(context.Context) error { return client.Close() })
	log.Info("connected to redis", zap.String("addr", cfg.Redis.Addr), zap.Duration("ttl", cfg.Redis.TTL))

	return store.NewRedis(client, cfg.Redis.TTL), nil
}

func (e *engine) openArchive(ctx context.Context, cfg *MongoConfig, log *zap.Logger) (*store.MongoArchive, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	e.closers = append(e.closers, client.Disconnect)
	log.Info("connected to mongodb", zap.String("database", cfg.Database), zap.String("collection", cfg.Collection))

	return store.NewMongoArchive(client.Database(cfg.Database).Collection(cfg.Collection)), nil
}
