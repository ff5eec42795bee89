/**
 * @description
 * This is the main entry point for the marketing-service. It is a non-HTTP,
 * long-running process: trigger events and workflow execution handoffs
 * arrive over RabbitMQ, and the cron scheduler drives the resume, campaign,
 * and points-expiry sweeps. Route handlers elsewhere call the services
 * in-process through the same packages wired here.
 *
 * @dependencies
 * - internal/app, internal/config, internal/store: Core service wiring.
 * - pkg/notifier, pkg/rabbitmq: Collaborator clients.
 * - github.com/jackc/pgx/v5, github.com/redis/go-redis/v9: Datastores.
 */
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/verdantnursery/marketing-service/internal/app"
	"github.com/verdantnursery/marketing-service/internal/config"
	"github.com/verdantnursery/marketing-service/internal/store"
	"github.com/verdantnursery/marketing-service/pkg/notifier"
	"github.com/verdantnursery/marketing-service/pkg/rabbitmq"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}
	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	repo := store.NewPostgresRepository(dbpool)

	// Redis backs the distributed sweep locks. The service degrades to
	// single-instance sweeping when Redis is unavailable.
	var redisClient *redis.Client
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; sweep locking disabled\" env=REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; sweep locking disabled\" err=%v", parseErr)
		} else {
			redisClient = redis.NewClient(redisOptions)
			pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; sweep locking disabled\" err=%v", pingErr)
				redisClient.Close()
				redisClient = nil
			} else {
				defer redisClient.Close()
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
			cancel()
		}
	}

	// Initialize the RabbitMQ producer for the execution handoff queue.
	var rabbitProducer rabbitmq.Publisher
	producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; executions run inline\" err=%v", err)
		rabbitProducer = nil
	} else {
		defer producer.Close()
		rabbitProducer = producer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	notifierClient := notifier.NewClient(cfg.NotifierBaseURL, cfg.NotifierAPIKey)

	// Without RabbitMQ, triggers process their executions synchronously so a
	// single-process deployment still drives workflows to completion.
	var queue app.ExecutionQueue
	var inline *app.InlineExecutionQueue
	if rabbitProducer != nil {
		queue = app.NewAMQPExecutionQueue(rabbitProducer, cfg.ExecutionExchange)
	} else {
		inline = app.NewInlineExecutionQueue()
		queue = inline
	}

	engine := app.NewWorkflowEngine(repo, repo, notifierClient, queue, cfg, logger)
	if inline != nil {
		inline.Bind(engine)
	}

	loyaltyService := app.NewLoyaltyService(repo, cfg, logger)
	campaignService := app.NewCampaignService(repo, repo, repo, engine, cfg, logger)

	// Seed the default tier ladder and reward catalog; both are no-ops when
	// rows already exist.
	seedCtx, cancelSeed := context.WithTimeout(context.Background(), 30*time.Second)
	if err := loyaltyService.SeedDefaultTiers(seedCtx); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"tier seeding failed\" err=%v", err)
	}
	if err := loyaltyService.SeedDefaultRewards(seedCtx); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"reward seeding failed\" err=%v", err)
	}
	cancelSeed()

	// The worker side of the execution queue: consume handoff messages and
	// drive each execution forward.
	if rabbitProducer != nil {
		rabbitConsumer, err := rabbitmq.NewConsumer(cfg.RabbitMQURL)
		if err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"rabbitmq consumer init failed\" err=%v", err)
		}
		defer rabbitConsumer.Close()

		bindings := map[string]func([]byte) bool{
			app.RoutingKeyExecutionCreated: func(body []byte) bool {
				var payload app.ExecutionCreatedPayload
				if err := json.Unmarshal(body, &payload); err != nil {
					logger.Error("execution payload unmarshal failed", "error", err)
					return true // malformed, drop
				}
				if payload.ExecutionID == uuid.Nil {
					return true
				}
				ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
				defer cancel()
				if err := engine.ProcessExecution(ctx, payload.ExecutionID); err != nil {
					logger.Error("execution processing failed", "execution_id", payload.ExecutionID, "error", err)
					return !isRetryable(err)
				}
				return true
			},
		}
		if err := rabbitConsumer.ConsumeWithBindings(cfg.ExecutionExchange, cfg.ExecutionQueue, bindings); err != nil {
			log.Fatalf("level=fatal component=bootstrap msg=\"rabbitmq consume failed\" err=%v", err)
		}
		log.Printf("level=info component=bootstrap msg=\"execution worker consuming\" queue=%s", cfg.ExecutionQueue)
	}

	// A nil *redis.Client must not reach the lock as a non-nil interface.
	var lockClient redis.UniversalClient
	if redisClient != nil {
		lockClient = redisClient
	}
	sweepLock := app.NewRedisSweepLock(lockClient, "marketing:sweep_lock", uuid.NewString())
	jobs := app.NewJobs(engine, campaignService, loyaltyService, sweepLock, logger, cfg)
	scheduler := app.NewScheduler(jobs, logger, cfg)
	scheduler.Start()
	logger.Info("scheduler started")

	// Wait for termination signal to gracefully shut down.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutdown signal received, stopping scheduler")
	stopCtx := scheduler.Stop()
	<-stopCtx.Done()
	logger.Info("scheduler stopped gracefully")
}

// isRetryable reports whether a failed execution handoff should be
// re-queued. Missing rows are permanent; everything else gets another
// delivery attempt.
func isRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, store.ErrExecutionNotFound), errors.Is(err, store.ErrWorkflowNotFound):
		return false
	default:
		return true
	}
}
