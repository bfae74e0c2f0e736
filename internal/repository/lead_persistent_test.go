package repository_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/soochol/ingest/internal/lead"
	"github.com/soochol/ingest/internal/repository"
)

var errFake = errors.New("fake db error")

// stubLeadDB is a fake DB that records calls and returns canned data.
type stubLeadDB struct {
	leads   []*lead.NormalizedLead
	deleted []string
	saveErr error
	listErr error
}

func (s *stubLeadDB) SaveLead(_ context.Context, l *lead.NormalizedLead) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.leads = append(s.leads, l)
	return nil
}

func (s *stubLeadDB) GetLead(_ context.Context, id string) (*lead.NormalizedLead, error) {
	for _, l := range s.leads {
		if l.ID == id {
			return l, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *stubLeadDB) ListLeadsByCase(_ context.Context, caseID string) ([]*lead.NormalizedLead, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []*lead.NormalizedLead
	for _, l := range s.leads {
		if l.CaseID == caseID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *stubLeadDB) DeleteLead(_ context.Context, id string) error {
	s.deleted = append(s.deleted, id)
	return nil
}

func TestPersistentLeadRepository_SaveFailureNotCached(t *testing.T) {
	ctx := context.Background()
	mem := repository.NewMemoryLeadRepository(0)
	repo := repository.NewPersistentLeadRepository(mem, &stubLeadDB{saveErr: errFake})

	err := repo.SaveNormalizedLead(ctx, newLead("a", "c1", "x", time.Now()))
	if !errors.Is(err, errFake) {
		t.Fatalf("expected fake error, got %v", err)
	}
	if _, err := mem.Get(ctx, "a"); err == nil {
		t.Fatal("failed save should not populate memory")
	}
}

func TestPersistentLeadRepository_GetFallsBackToDB(t *testing.T) {
	ctx := context.Background()
	db := &stubLeadDB{leads: []*lead.NormalizedLead{newLead("a", "c1", "x", time.Now())}}
	mem := repository.NewMemoryLeadRepository(0)
	repo := repository.NewPersistentLeadRepository(mem, db)

	got, err := repo.Get(ctx, "a")
	if err != nil || got.ID != "a" {
		t.Fatalf("get: %v %+v", err, got)
	}
	if _, err := mem.Get(ctx, "a"); err != nil {
		t.Fatal("expected lead to be cached in memory")
	}
}

func TestPersistentLeadRepository_ListFallsBackToMemory(t *testing.T) {
	ctx := context.Background()
	mem := repository.NewMemoryLeadRepository(0)
	_ = mem.SaveNormalizedLead(ctx, newLead("a", "c1", "red car by the mill", time.Now()))
	repo := repository.NewPersistentLeadRepository(mem, &stubLeadDB{listErr: errFake})

	got, err := repo.FindSimilarLeads(ctx, &lead.NormalizedLead{CaseID: "c1", Description: "red car by the mill"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("expected memory fallback match, got %d", len(got))
	}
}

func TestPersistentLeadRepository_Delete(t *testing.T) {
	ctx := context.Background()
	db := &stubLeadDB{}
	mem := repository.NewMemoryLeadRepository(0)
	repo := repository.NewPersistentLeadRepository(mem, db)
	_ = repo.SaveNormalizedLead(ctx, newLead("a", "c1", "x", time.Now()))

	if err := repo.DeleteLead(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if len(db.deleted) != 1 || db.deleted[0] != "a" {
		t.Fatalf("db delete not called: %v", db.deleted)
	}
	if _, err := mem.Get(ctx, "a"); err == nil {
		t.Fatal("lead still cached")
	}
}
