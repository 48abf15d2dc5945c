package sagaflow

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/davidroman0O/comfylite3"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	dbSQL "database/sql"

	"github.com/sketchtocad/sagaflow/events"
	"github.com/sketchtocad/sagaflow/internal/eventbus"
	"github.com/sketchtocad/sagaflow/internal/orchestrator"
	"github.com/sketchtocad/sagaflow/internal/statuscache"
	"github.com/sketchtocad/sagaflow/internal/store"
	"github.com/sketchtocad/sagaflow/logs"
	"github.com/sketchtocad/sagaflow/types"
)

// Engine wires the saga store, the event bus, the orchestrator and the status
// cache into one runnable unit. Construct it with New, start the event loop
// with Run, drive workflows through StartWorkflow and the Resume methods, and
// poll with SagaStatus.
type Engine struct {
	ctx    context.Context
	cancel context.CancelFunc

	comfy *comfylite3.ComfyDB
	db    *dbSQL.DB
	rdb   *redis.Client

	store *store.Store
	bus   eventbus.Bus
	orch  *orchestrator.Orchestrator
	cache *statuscache.Cache

	groupID string
	ownBus  bool
	logger  logs.Logger
}

func New(ctx context.Context, opts ...Option) (*Engine, error) {
	cfg := engineConfig{
		groupID:   orchestrator.DefaultGroupID,
		statusTTL: statuscache.DefaultTTL,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = logs.NewDefaultLogger()
	}

	ctx, cancel := context.WithCancel(ctx)

	optsComfy := []comfylite3.ComfyOption{
		comfylite3.WithBuffer(77777),
	}

	var firstTime bool
	if cfg.path != nil {
		info, err := os.Stat(*cfg.path)
		firstTime = err != nil || info.IsDir()
		if cfg.destructive {
			cfg.logger.Debug(ctx, "destructive open, removing database", "path", *cfg.path)
			if err := os.Remove(*cfg.path); err != nil && !os.IsNotExist(err) {
				cancel()
				return nil, err
			}
		}
		if err := os.MkdirAll(filepath.Dir(*cfg.path), os.ModePerm); err != nil {
			cancel()
			return nil, err
		}
		optsComfy = append(optsComfy, comfylite3.WithPath(*cfg.path))
	} else {
		optsComfy = append(optsComfy, comfylite3.WithMemory())
		firstTime = true
	}

	comfy, err := comfylite3.New(optsComfy...)
	if err != nil {
		cancel()
		return nil, err
	}

	db := comfylite3.OpenDB(
		comfy,
		comfylite3.WithOption("_fk=1"),
		comfylite3.WithOption("cache=shared"),
		comfylite3.WithOption("mode=rwc"),
		comfylite3.WithForeignKeys(),
	)

	st := store.New(db, cfg.logger)
	if firstTime || (cfg.destructive && cfg.path != nil) {
		cfg.logger.Debug(ctx, "creating saga schema")
		if err := st.Migrate(ctx); err != nil {
			db.Close()
			comfy.Close()
			cancel()
			return nil, err
		}
	}

	bus := cfg.bus
	ownBus := false
	if bus == nil {
		if len(cfg.brokers) > 0 {
			kb, err := eventbus.NewKafkaBus(cfg.brokers, cfg.logger)
			if err != nil {
				db.Close()
				comfy.Close()
				cancel()
				return nil, err
			}
			bus = kb
		} else {
			bus = eventbus.NewMemoryBus(cfg.logger)
		}
		ownBus = true
	}

	var rdb *redis.Client
	if cfg.redisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.redisAddr})
	}

	e := &Engine{
		ctx:     ctx,
		cancel:  cancel,
		comfy:   comfy,
		db:      db,
		rdb:     rdb,
		store:   st,
		bus:     bus,
		orch:    orchestrator.New(st, bus, cfg.groupID, cfg.logger),
		cache:   statuscache.New(rdb, st, cfg.statusTTL, cfg.logger),
		groupID: cfg.groupID,
		ownBus:  ownBus,
		logger:  cfg.logger,
	}
	return e, nil
}

// Run consumes the events topic until ctx is cancelled or the bus fails. The
// status cache is refreshed after every handled event so polls observe the
// transition without hitting SQLite.
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return e.bus.Subscribe(ctx, eventbus.SubscribeConfig{
			Topics:  []string{eventbus.TopicEvents},
			GroupID: e.groupID,
			Handler: e.handleEvent,
		})
	})
	return g.Wait()
}

func (e *Engine) handleEvent(ctx context.Context, ev *events.Event) error {
	if err := e.orch.HandleEvent(ctx, ev); err != nil {
		return err
	}
	e.cache.Refresh(ctx, ev.SagaID)
	return nil
}

// StartWorkflow creates a saga for the session and publishes the initiating
// event. It returns the new saga id.
func (e *Engine) StartWorkflow(ctx context.Context, sessionID, imageFilename string, opts ...StartOption) (string, error) {
	cfg := startConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	return e.orch.StartWorkflow(ctx, sessionID, imageFilename, orchestrator.StartOptions{
		WorkflowType: cfg.workflowType,
		Metadata:     cfg.metadata,
	})
}

// ResumeWithEnhancement submits the operator's enhancement choice for a saga
// parked in AWAITING_ENHANCEMENT_SELECTION. Returns false when the saga is
// missing or not awaiting that input.
func (e *Engine) ResumeWithEnhancement(ctx context.Context, sagaID, enhancementMethod string) (bool, error) {
	return e.orch.ResumeWithEnhancement(ctx, sagaID, enhancementMethod)
}

// ResumeWithClustering submits the operator's cluster assignment for a saga
// parked in AWAITING_CLUSTERING.
func (e *Engine) ResumeWithClustering(ctx context.Context, sagaID string, clustersData types.Document) (bool, error) {
	return e.orch.ResumeWithClustering(ctx, sagaID, clustersData)
}

// ResumeWithExport triggers the final export for a saga parked in
// AWAITING_EXPORT. An empty exportType defaults to "detailed".
func (e *Engine) ResumeWithExport(ctx context.Context, sagaID, exportType string) (bool, error) {
	return e.orch.ResumeWithExport(ctx, sagaID, exportType)
}

// SagaStatus returns the saga record, served from the status cache when
// available.
func (e *Engine) SagaStatus(ctx context.Context, sagaID string) (*types.Saga, error) {
	return e.cache.Get(ctx, sagaID)
}

// SagaSteps returns the saga's step log in execution order.
func (e *Engine) SagaSteps(ctx context.Context, sagaID string) ([]*types.SagaStepLog, error) {
	return e.store.SagaSteps(ctx, sagaID)
}

// Compensations returns the saga's recorded rollback actions.
func (e *Engine) Compensations(ctx context.Context, sagaID string) ([]*types.SagaCompensation, error) {
	return e.store.Compensations(ctx, sagaID)
}

// SagasBySession lists every saga started for a session, newest first.
func (e *Engine) SagasBySession(ctx context.Context, sessionID string) ([]*types.Saga, error) {
	return e.store.SagasBySession(ctx, sessionID)
}

// IsSagaNotFound reports whether err marks a lookup of an unknown saga id.
func IsSagaNotFound(err error) bool {
	return errors.Is(err, store.ErrSagaNotFound)
}

// Close releases the bus, the Redis client and the database. A bus injected
// through WithBus is left open for its owner.
func (e *Engine) Close() error {
	e.cancel()
	var errs []error
	if e.ownBus {
		if err := e.bus.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if e.rdb != nil {
		if err := e.rdb.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := e.db.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := e.comfy.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
