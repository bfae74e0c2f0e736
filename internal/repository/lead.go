// Package repository stores normalized leads, in memory or backed by
// PostgreSQL.
package repository

import (
	"context"
	"errors"
	"sort"

	"github.com/soochol/ingest/internal/lead"
)

// ErrNotFound is returned when a requested lead does not exist.
var ErrNotFound = errors.New("lead not found")

// DefaultSimilarity is the Jaccard threshold above which two leads on the
// same case are considered duplicates.
const DefaultSimilarity = 0.8

// LeadRepository is the lead store used by the pipeline plus read access
// for the API.
type LeadRepository interface {
	lead.LeadStore
	Get(ctx context.Context, id string) (*lead.NormalizedLead, error)
	ListByCase(ctx context.Context, caseID string) ([]*lead.NormalizedLead, error)
}

// similar returns the candidates on l's case whose description is at least
// threshold similar to l's, most similar first.
func similar(l *lead.NormalizedLead, candidates []*lead.NormalizedLead, threshold float64) []*lead.NormalizedLead {
	type scored struct {
		l *lead.NormalizedLead
		s float64
	}
	var hits []scored
	for _, c := range candidates {
		if c.ID == l.ID || c.CaseID != l.CaseID {
			continue
		}
		if s := lead.Similarity(l.Description, c.Description); s >= threshold {
			hits = append(hits, scored{c, s})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].s > hits[j].s })
	out := make([]*lead.NormalizedLead, len(hits))
	for i, h := range hits {
		out[i] = h.l
	}
	return out
}
