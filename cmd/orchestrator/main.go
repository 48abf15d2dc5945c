// Command orchestrator runs the saga orchestration daemon: it consumes
// workflow events from Kafka, drives saga state in SQLite, and mirrors status
// into Redis for polling.
//
// Configuration is environment-only:
//
//	KAFKA_BROKERS     comma-separated broker list (default localhost:9092)
//	KAFKA_GROUP_ID    consumer group id (default orchestrator-group)
//	REDIS_ADDR        status cache address, empty disables the cache
//	SAGAFLOW_DB_PATH  saga database file (default ./data/sagaflow.db)
//	LOG_LEVEL         debug, info, warn or error (default info)
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"

	_ "go.uber.org/automaxprocs"

	"github.com/sketchtocad/sagaflow"
	"github.com/sketchtocad/sagaflow/internal/eventbus"
	"github.com/sketchtocad/sagaflow/internal/orchestrator"
	"github.com/sketchtocad/sagaflow/logs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := logs.NewDefaultLoggerWithLevel(logLevel(os.Getenv("LOG_LEVEL")))

	brokers := strings.Split(envOr("KAFKA_BROKERS", "localhost:9092"), ",")
	groupID := envOr("KAFKA_GROUP_ID", orchestrator.DefaultGroupID)
	dbPath := envOr("SAGAFLOW_DB_PATH", "./data/sagaflow.db")
	redisAddr := os.Getenv("REDIS_ADDR")

	bus, err := eventbus.NewKafkaBus(brokers, logger)
	if err != nil {
		logger.Error(ctx, "kafka bus init failed", "error", err)
		os.Exit(1)
	}
	defer bus.Close()

	// Brokers may still be starting; EnsureTopics retries before giving up.
	topics := []string{
		eventbus.TopicCommands,
		eventbus.TopicEvents,
		eventbus.DeadLetterTopic(eventbus.TopicCommands),
		eventbus.DeadLetterTopic(eventbus.TopicEvents),
	}
	if err := bus.EnsureTopics(ctx, topics...); err != nil {
		logger.Error(ctx, "topic creation failed", "brokers", brokers, "error", err)
		os.Exit(1)
	}

	opts := []sagaflow.Option{
		sagaflow.WithPath(dbPath),
		sagaflow.WithBus(bus),
		sagaflow.WithConsumerGroup(groupID),
		sagaflow.WithLogger(logger),
	}
	if redisAddr != "" {
		opts = append(opts, sagaflow.WithRedis(redisAddr))
	}

	engine, err := sagaflow.New(ctx, opts...)
	if err != nil {
		logger.Error(ctx, "engine init failed", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	logger.Info(ctx, "orchestrator running",
		"brokers", brokers,
		"group_id", groupID,
		"db_path", dbPath,
		"redis", redisAddr != "",
	)

	if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error(ctx, "orchestrator stopped", "error", err)
		os.Exit(1)
	}
	logger.Info(ctx, "orchestrator shut down")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func logLevel(s string) logs.Level {
	switch strings.ToLower(s) {
	case "debug":
		return logs.LevelDebug
	case "warn":
		return logs.LevelWarn
	case "error":
		return logs.LevelError
	default:
		return logs.LevelInfo
	}
}
