package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"

	"github.com/soochol/ingest/internal/config"
	"github.com/soochol/ingest/internal/db"
	"github.com/soochol/ingest/internal/engine"
	"github.com/soochol/ingest/internal/importer"
	"github.com/soochol/ingest/internal/lead"
	"github.com/soochol/ingest/internal/metrics"
	"github.com/soochol/ingest/internal/repository"
	"github.com/soochol/ingest/internal/storage"
)

// app is the wired set of services shared by every command.
type app struct {
	cfg     *config.Config
	engine  *engine.Engine
	imports *importer.Service
	leads   repository.LeadRepository
	metrics *metrics.Recorder
	db      *db.DB
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, metrics: metrics.New()}

	a.engine = engine.New(
		engine.WithRollbackPolicy(engine.RollbackPolicy(cfg.Ingest.RollbackPolicy)),
		engine.WithConcurrency(cfg.Ingest.Concurrency),
	)
	a.metrics.Attach(a.engine.Events())

	mem := repository.NewMemoryLeadRepository(cfg.Ingest.SimilarityThreshold)
	a.leads = mem
	deps := lead.Deps{Store: mem, Retry: cfg.Ingest.Retry}

	if cfg.Database.URL != "" {
		conn, err := db.New(ctx, cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		if err := conn.Migrate(ctx); err != nil {
			conn.Close()
			return nil, err
		}
		if err := seedCases(ctx, conn, cfg.Cases); err != nil {
			conn.Close()
			return nil, err
		}
		slog.Info("database connected")
		a.db = conn
		persistent := repository.NewPersistentLeadRepository(mem, conn)
		a.leads = persistent
		deps.Store = persistent
		deps.Cases = conn
	} else if len(cfg.Cases) > 0 {
		deps.Cases = lead.StaticCaseResolver(cfg.Cases)
	}

	if cfg.Storage.Dir != "" {
		local, err := storage.NewLocalStorage(cfg.Storage.Dir)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("attachment storage: %w", err)
		}
		deps.Attachments = storage.NewAttachmentStore(local, cfg.Storage.MaxAttachmentSize)
	}

	if err := lead.Register(a.engine, deps); err != nil {
		a.close()
		return nil, err
	}
	if err := registerSources(a.engine, cfg); err != nil {
		a.close()
		return nil, err
	}

	a.imports = importer.New(a.engine, importer.Settings{
		BatchSize:    cfg.Ingest.BatchSize,
		BatchDelay:   cfg.Ingest.BatchDelay,
		BatchTimeout: cfg.Ingest.BatchTimeout,
	})
	return a, nil
}

// caseCreator is the part of *db.DB that seeding needs.
type caseCreator interface {
	CreateCase(ctx context.Context, id, caseNumber, title string) error
}

// seedCases writes the configured case numbers to the cases table so the
// database resolver knows them.
func seedCases(ctx context.Context, store caseCreator, cases map[string][]string) error {
	for number, ids := range cases {
		for _, id := range ids {
			if err := store.CreateCase(ctx, id, number, ""); err != nil {
				return fmt.Errorf("seed case %s: %w", number, err)
			}
		}
	}
	return nil
}

// registerSources adds the configured sources. A source with the "lead"
// preset and no fields of its own gets the built-in lead schema.
func registerSources(eng *engine.Engine, cfg *config.Config) error {
	for _, src := range cfg.Sources {
		settings, err := config.DecodeSourceSettings(src)
		if err != nil {
			return err
		}
		if settings.Preset == "lead" && len(src.Schema.Fields) == 0 {
			src.Schema = lead.Schema()
		}
		if err := eng.RegisterSource(src); err != nil {
			return err
		}
	}
	return nil
}

// drain waits for background work to finish, bounded by timeout.
func (a *app) drain(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		a.imports.Drain()
		a.engine.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		slog.Warn("shutdown timed out with work still running")
	}
}

func (a *app) close() {
	if a.db != nil {
		a.db.Close()
	}
}
