package repository

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/soochol/ingest/internal/lead"
)

// LeadDB defines the DB-layer methods needed by the persistent lead repo.
// *db.DB satisfies this interface.
type LeadDB interface {
	SaveLead(ctx context.Context, l *lead.NormalizedLead) error
	GetLead(ctx context.Context, id string) (*lead.NormalizedLead, error)
	ListLeadsByCase(ctx context.Context, caseID string) ([]*lead.NormalizedLead, error)
	DeleteLead(ctx context.Context, id string) error
}

// PersistentLeadRepository wraps MemoryLeadRepository with a PostgreSQL
// backend. Writes go to both. Reads try memory first; on miss, fall back to
// the DB and cache.
type PersistentLeadRepository struct {
	mem *MemoryLeadRepository
	db  LeadDB
}

func NewPersistentLeadRepository(mem *MemoryLeadRepository, db LeadDB) *PersistentLeadRepository {
	return &PersistentLeadRepository{mem: mem, db: db}
}

func (r *PersistentLeadRepository) SaveNormalizedLead(ctx context.Context, l *lead.NormalizedLead) error {
	if err := r.db.SaveLead(ctx, l); err != nil {
		return fmt.Errorf("db save lead: %w", err)
	}
	_ = r.mem.SaveNormalizedLead(ctx, l)
	return nil
}

func (r *PersistentLeadRepository) Get(ctx context.Context, id string) (*lead.NormalizedLead, error) {
	if l, err := r.mem.Get(ctx, id); err == nil {
		return l, nil
	}
	l, err := r.db.GetLead(ctx, id)
	if err != nil {
		return nil, err
	}
	_ = r.mem.SaveNormalizedLead(ctx, l)
	return l, nil
}

func (r *PersistentLeadRepository) DeleteLead(ctx context.Context, id string) error {
	_ = r.mem.DeleteLead(ctx, id)
	if err := r.db.DeleteLead(ctx, id); err != nil {
		return fmt.Errorf("db delete lead: %w", err)
	}
	return nil
}

func (r *PersistentLeadRepository) ListByCase(ctx context.Context, caseID string) ([]*lead.NormalizedLead, error) {
	leads, err := r.db.ListLeadsByCase(ctx, caseID)
	if err == nil {
		return leads, nil
	}
	slog.Warn("db list leads failed, falling back to in-memory", "case", caseID, "err", err)
	return r.mem.ListByCase(ctx, caseID)
}

func (r *PersistentLeadRepository) FindSimilarLeads(ctx context.Context, l *lead.NormalizedLead) ([]*lead.NormalizedLead, error) {
	candidates, err := r.ListByCase(ctx, l.CaseID)
	if err != nil {
		return nil, err
	}
	return similar(l, candidates, r.mem.threshold), nil
}
