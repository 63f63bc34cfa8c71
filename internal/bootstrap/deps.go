// Package bootstrap wires configuration, stores, and services into
// runnable API and worker processes.
package bootstrap

import (
	"context"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"

	"ordersight/adapter/out/messaging"
	"ordersight/adapter/out/mongodb"
	"ordersight/adapter/out/persistence"
	"ordersight/config"
	"ordersight/core/agent/llm"
	"ordersight/core/domain"
	"ordersight/core/port/out"
	"ordersight/core/service/pipeline"
	"ordersight/core/service/retailer"
	"ordersight/infra/database"
)

type Dependencies struct {
	Config *config.Config
	Log    zerolog.Logger

	DB      *pgxpool.Pool
	SQLDB   *sqlx.DB
	Redis   *redis.Client
	MongoDB *mongo.Client

	// Repositories (autocommit; transactional writes go through Uow)
	Messages  domain.InboundMessageRepository
	Retailers domain.RetailerRepository
	Audit     domain.AuditRepository
	Bodies    out.MessageBodyStore
	Uow       out.UnitOfWork

	// Messaging
	Producer out.MessageProducer

	// Services
	Extractor    out.Extractor
	Matcher      *retailer.Matcher
	Orchestrator *pipeline.Orchestrator
}

func NewDependencies(cfg *config.Config) (*Dependencies, func(), error) {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
		With().Timestamp().Logger()
	if cfg.IsProduction() {
		log = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}

	deps := &Dependencies{Config: cfg, Log: log}
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	// Postgres (pgxpool for health checks, sqlx for the adapters)
	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	deps.DB = db
	cleanups = append(cleanups, func() { db.Close() })

	sqlDB, err := database.NewSqlx(cfg.DatabaseURL)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	deps.SQLDB = sqlDB
	cleanups = append(cleanups, func() { sqlDB.Close() })

	// Redis
	redisClient, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	deps.Redis = redisClient
	cleanups = append(cleanups, func() { redisClient.Close() })
	deps.Producer = messaging.NewRedisProducer(redisClient)

	// MongoDB (message bodies)
	mongoClient, err := mongodb.NewClient(cfg.MongoDBURL)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	deps.MongoDB = mongoClient
	cleanups = append(cleanups, func() {
		mongoClient.Disconnect(context.Background())
	})

	bodyAdapter := mongodb.NewBodyAdapter(mongoClient.Database(cfg.MongoDBName))
	{
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := bodyAdapter.EnsureIndexes(ctx); err != nil {
			log.Warn().Err(err).Msg("failed to ensure mongodb indexes")
		}
		cancel()
	}
	deps.Bodies = bodyAdapter

	// Repositories
	deps.Messages = persistence.NewMessageAdapter(sqlDB)
	deps.Retailers = persistence.NewRetailerAdapter(sqlDB)
	deps.Audit = persistence.NewAuditAdapter(sqlDB)
	deps.Uow = persistence.NewTxManager(sqlDB)

	// LLM extraction
	llmClient := llm.NewClient(llm.ClientConfig{
		APIKey:      cfg.OpenAIAPIKey,
		Model:       cfg.LLMModel,
		MaxTokens:   cfg.LLMMaxTokens,
		Temperature: cfg.LLMTemperature,
	}, log)
	deps.Extractor = llm.NewExtractor(llmClient, log)

	// Retailer directory
	deps.Matcher = retailer.NewMatcher(
		deps.Retailers,
		time.Duration(cfg.RetailerCacheTTLSec)*time.Second,
		log,
	)

	// Pipeline
	deps.Orchestrator = pipeline.NewOrchestrator(
		deps.Messages,
		deps.Audit,
		deps.Uow,
		deps.Bodies,
		deps.Extractor,
		deps.Matcher,
		pipeline.Policy{
			ClassifyConfidenceThreshold: cfg.ClassifyConfidenceThreshold,
			ParseConfidenceThreshold:    cfg.ParseConfidenceThreshold,
			MaxBodyChars:                cfg.MaxBodyChars,
			MergeMaxAttempts:            cfg.MergeMaxAttempts,
		},
		log,
	)

	return deps, cleanup, nil
}

func (d *Dependencies) HealthCheck(ctx context.Context) error {
	if err := d.DB.Ping(ctx); err != nil {
		return err
	}
	if err := d.Redis.Ping(ctx).Err(); err != nil {
		return err
	}
	return nil
}
