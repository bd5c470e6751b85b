package main

import (
	"fmt"

	"github.com/datallboy/gonzb/internal/assembler"
	"github.com/datallboy/gonzb/internal/config"
	"github.com/datallboy/gonzb/internal/domain"
	"github.com/datallboy/gonzb/internal/events"
	"github.com/datallboy/gonzb/internal/extraction"
	"github.com/datallboy/gonzb/internal/fallback"
	"github.com/datallboy/gonzb/internal/logger"
	"github.com/datallboy/gonzb/internal/orchestrator"
	"github.com/datallboy/gonzb/internal/par2"
	"github.com/datallboy/gonzb/internal/platform"
	"github.com/datallboy/gonzb/internal/pool"
	"github.com/datallboy/gonzb/internal/queue"
	"github.com/datallboy/gonzb/internal/segment"
	"github.com/datallboy/gonzb/internal/store"
)

// engine bundles every collaborator the CLI subcommands need, built once
// from a loaded Config.
type engine struct {
	cfg   *config.Config
	log   *logger.Logger
	store *store.PersistentStore
	bus   *events.Bus
	queue *queue.Manager
	orch  *orchestrator.Orchestrator
	pools *pool.Registry
}

func buildEngine(cfg *config.Config, loadExisting bool) (*engine, error) {
	log, err := logger.New(logger.Config{
		Path:          cfg.Log.Path,
		Level:         cfg.Log.Level,
		IncludeStdout: cfg.Log.IncludeStdout,
		MaxSizeMB:     cfg.Log.MaxSizeMB,
		MaxBackups:    cfg.Log.MaxBackups,
	})
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}

	st, err := store.NewPersistentStore(cfg.Store.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	for _, missing := range platform.CheckDependencies() {
		log.Warn("%s unavailable: none of %v found on PATH, will be skipped", missing.Capability, missing.Candidates)
	}

	registry := pool.NewRegistry()
	providerConfigs := cfg.ToProviderConfigs()
	pools := make([]*pool.Pool, 0, len(providerConfigs))
	for _, pc := range providerConfigs {
		pools = append(pools, registry.GetOrCreate(pc))
	}

	fallbackMgr := fallback.NewManager(pools)

	asm := assembler.New()
	segDownloader := segment.NewDownloader(fallbackMgr, asm, segment.Hooks{
		OnRetry: func(job domain.SegmentJob, attempt uint, err error) {
			log.Debug("retrying segment %d (attempt %d): %v", job.Segment.Number, attempt, err)
		},
		OnCRCMismatch: func(job domain.SegmentJob, err error) {
			log.Warn("segment %d crc mismatch: %v", job.Segment.Number, err)
		},
	})

	par2Adapter := par2.NewCLIAdapter()
	extractionMgr := extraction.NewManager()
	bus := events.NewBus()

	capacity := func() int {
		if cfg.Download.SegmentConcurrency > 0 {
			return cfg.Download.SegmentConcurrency
		}
		return registry.TotalCapacity()
	}

	orch := orchestrator.New(segDownloader, asm, par2Adapter, extractionMgr, bus, capacity)
	qm := queue.New(st, orch, log, loadExisting)

	return &engine{
		cfg:   cfg,
		log:   log,
		store: st,
		bus:   bus,
		queue: qm,
		orch:  orch,
		pools: registry,
	}, nil
}

func (e *engine) Close() {
	_ = e.pools.CloseAll()
	_ = e.store.Close()
}
