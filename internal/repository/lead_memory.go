package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/soochol/ingest/internal/lead"
	memstore "github.com/soochol/ingest/internal/repository/memory"
)

// MemoryLeadRepository is a thread-safe in-memory LeadRepository.
type MemoryLeadRepository struct {
	store     *memstore.Store[*lead.NormalizedLead]
	threshold float64
}

// NewMemoryLeadRepository creates an empty repository. A threshold <= 0
// selects DefaultSimilarity.
func NewMemoryLeadRepository(threshold float64) *MemoryLeadRepository {
	if threshold <= 0 {
		threshold = DefaultSimilarity
	}
	return &MemoryLeadRepository{
		store:     memstore.New(func(l *lead.NormalizedLead) string { return l.ID }),
		threshold: threshold,
	}
}

func (r *MemoryLeadRepository) SaveNormalizedLead(ctx context.Context, l *lead.NormalizedLead) error {
	return r.store.Set(ctx, l)
}

func (r *MemoryLeadRepository) Get(ctx context.Context, id string) (*lead.NormalizedLead, error) {
	l, err := r.store.Get(ctx, id)
	if errors.Is(err, memstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return l, err
}

// DeleteLead is a no-op on missing leads so rollbacks can be retried.
func (r *MemoryLeadRepository) DeleteLead(ctx context.Context, id string) error {
	_ = r.store.Delete(ctx, id)
	return nil
}

// ListByCase returns the case's leads, newest first.
func (r *MemoryLeadRepository) ListByCase(ctx context.Context, caseID string) ([]*lead.NormalizedLead, error) {
	leads, err := r.store.Filter(ctx, func(l *lead.NormalizedLead) bool { return l.CaseID == caseID })
	if err != nil {
		return nil, err
	}
	sort.Slice(leads, func(i, j int) bool { return leads[i].CreatedAt.After(leads[j].CreatedAt) })
	return leads, nil
}

func (r *MemoryLeadRepository) FindSimilarLeads(ctx context.Context, l *lead.NormalizedLead) ([]*lead.NormalizedLead, error) {
	candidates, err := r.ListByCase(ctx, l.CaseID)
	if err != nil {
		return nil, err
	}
	return similar(l, candidates, r.threshold), nil
}
