package sagaflow

import (
	"time"

	"github.com/sketchtocad/sagaflow/internal/eventbus"
	"github.com/sketchtocad/sagaflow/logs"
	"github.com/sketchtocad/sagaflow/types"
)

type engineConfig struct {
	path        *string
	destructive bool
	logger      logs.Logger

	bus     eventbus.Bus
	brokers []string
	groupID string

	redisAddr string
	statusTTL time.Duration
}

type Option func(*engineConfig)

func WithLogger(logger logs.Logger) Option {
	return func(c *engineConfig) {
		c.logger = logger
	}
}

// WithPath stores the saga database at path, creating parent directories as
// needed.
func WithPath(path string) Option {
	return func(c *engineConfig) {
		c.path = &path
	}
}

// WithMemory keeps the saga database in memory. State is lost on Close.
func WithMemory() Option {
	return func(c *engineConfig) {
		c.path = nil
	}
}

// WithDestructive removes an existing database file before opening.
func WithDestructive() Option {
	return func(c *engineConfig) {
		c.destructive = true
	}
}

// WithBus injects an already constructed bus. The engine will not close it.
func WithBus(bus eventbus.Bus) Option {
	return func(c *engineConfig) {
		c.bus = bus
	}
}

// WithBrokers connects the engine to Kafka. Without brokers (and without
// WithBus) the engine falls back to an in-process bus, which only makes sense
// for tests and single-binary setups.
func WithBrokers(brokers ...string) Option {
	return func(c *engineConfig) {
		c.brokers = brokers
	}
}

// WithConsumerGroup overrides the orchestrator's consumer group id.
func WithConsumerGroup(groupID string) Option {
	return func(c *engineConfig) {
		if groupID != "" {
			c.groupID = groupID
		}
	}
}

// WithRedis enables the Redis status cache at addr.
func WithRedis(addr string) Option {
	return func(c *engineConfig) {
		c.redisAddr = addr
	}
}

// WithStatusCacheTTL overrides the status cache entry lifetime.
func WithStatusCacheTTL(ttl time.Duration) Option {
	return func(c *engineConfig) {
		if ttl > 0 {
			c.statusTTL = ttl
		}
	}
}

type startConfig struct {
	workflowType types.WorkflowType
	metadata     types.Document
}

type StartOption func(*startConfig)

// WithWorkflowType selects the pipeline variant. Defaults to the full
// image-to-CAD pipeline.
func WithWorkflowType(t types.WorkflowType) StartOption {
	return func(c *startConfig) {
		c.workflowType = t
	}
}

// WithStartMetadata attaches metadata to the initiating event.
func WithStartMetadata(md types.Document) StartOption {
	return func(c *startConfig) {
		c.metadata = md
	}
}
