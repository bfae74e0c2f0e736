package lead

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrCaseNotFound  = errors.New("case not found")
	ErrCaseAmbiguous = errors.New("case number matches more than one case")
)

// CaseResolver maps a human-facing case number to the internal case ID.
type CaseResolver interface {
	ResolveCaseNumber(ctx context.Context, caseNumber string) (string, error)
}

// Coordinates is a geocoding result.
type Coordinates struct {
	Latitude  float64
	Longitude float64
}

// Geocoder resolves addresses to coordinates and back. Returning a nil
// result (or empty address) with a nil error means "no match".
type Geocoder interface {
	Geocode(ctx context.Context, address string) (*Coordinates, error)
	ReverseGeocode(ctx context.Context, lat, lng float64) (string, error)
}

// AttachmentStore persists declared attachments and returns their IDs.
type AttachmentStore interface {
	StoreAttachment(ctx context.Context, leadRef string, a Attachment) (string, error)
	DeleteAttachment(ctx context.Context, id string) error
}

// LeadStore is the downstream lead repository.
type LeadStore interface {
	SaveNormalizedLead(ctx context.Context, l *NormalizedLead) error
	DeleteLead(ctx context.Context, id string) error
	FindSimilarLeads(ctx context.Context, l *NormalizedLead) ([]*NormalizedLead, error)
}

// PlaceholderCaseResolver synthesizes an ID from the case number. It is the
// default when no case database is configured.
type PlaceholderCaseResolver struct{}

func (PlaceholderCaseResolver) ResolveCaseNumber(_ context.Context, caseNumber string) (string, error) {
	n := strings.ToLower(strings.TrimSpace(caseNumber))
	if n == "" {
		return "", ErrCaseNotFound
	}
	return "case-" + n, nil
}

// StaticCaseResolver resolves against a fixed number→IDs table.
type StaticCaseResolver map[string][]string

func (s StaticCaseResolver) ResolveCaseNumber(_ context.Context, caseNumber string) (string, error) {
	ids := s[strings.TrimSpace(caseNumber)]
	switch len(ids) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrCaseNotFound, caseNumber)
	case 1:
		return ids[0], nil
	default:
		return "", fmt.Errorf("%w: %s", ErrCaseAmbiguous, caseNumber)
	}
}

// NoopGeocoder never finds anything.
type NoopGeocoder struct{}

func (NoopGeocoder) Geocode(context.Context, string) (*Coordinates, error) { return nil, nil }

func (NoopGeocoder) ReverseGeocode(context.Context, float64, float64) (string, error) {
	return "", nil
}

// PlaceholderAttachmentStore hands out random IDs without storing anything.
type PlaceholderAttachmentStore struct{}

func (PlaceholderAttachmentStore) StoreAttachment(context.Context, string, Attachment) (string, error) {
	return uuid.NewString(), nil
}

func (PlaceholderAttachmentStore) DeleteAttachment(context.Context, string) error { return nil }

type noopLeadStore struct{}

func (noopLeadStore) SaveNormalizedLead(context.Context, *NormalizedLead) error { return nil }
func (noopLeadStore) DeleteLead(context.Context, string) error                  { return nil }
func (noopLeadStore) FindSimilarLeads(context.Context, *NormalizedLead) ([]*NormalizedLead, error) {
	return nil, nil
}

// Similarity is the Jaccard index of the lowercase word sets of a and b.
func Similarity(a, b string) float64 {
	wa, wb := words(a), words(b)
	if len(wa) == 0 && len(wb) == 0 {
		return 0
	}
	inter := 0
	for w := range wa {
		if _, ok := wb[w]; ok {
			inter++
		}
	}
	union := len(wa) + len(wb) - inter
	return float64(inter) / float64(union)
}

func words(s string) map[string]struct{} {
	set := map[string]struct{}{}
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r > 127)
	}) {
		set[w] = struct{}{}
	}
	return set
}
