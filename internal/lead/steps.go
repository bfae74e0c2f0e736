package lead

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/soochol/ingest/internal/ingest"
)

const (
	minDescriptionLength = 10
	attachmentWorkers    = 4
)

// stateKey carries the in-flight lead between steps.
const stateKey = "_lead"

var (
	errNoState = errors.New("lead state missing: validate step must run first")
	emailRe    = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

type state struct {
	in            IncomingLead
	caseID        string
	duplicateOf   string
	score         int
	attachmentIDs []string
	leadID        string
}

func stateOf(data ingest.Record) (*state, error) {
	st, ok := data[stateKey].(*state)
	if !ok {
		return nil, errNoState
	}
	return st, nil
}

// validateStep decodes the payload and rejects leads that cannot be acted on.
type validateStep struct{}

func (validateStep) Name() string { return "validate" }

func (validateStep) Execute(_ context.Context, data ingest.Record) (ingest.Record, error) {
	in, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if problems := Check(in); len(problems) > 0 {
		return nil, fmt.Errorf("invalid lead: %s", strings.Join(problems, "; "))
	}
	out := data.Clone()
	out[stateKey] = &state{in: in, caseID: in.CaseID}
	return out, nil
}

// Check returns every reason in is not an acceptable lead.
func Check(in IncomingLead) []string {
	var problems []string
	if utf8.RuneCountInString(in.Description) < minDescriptionLength {
		problems = append(problems, fmt.Sprintf("description must be at least %d characters", minDescriptionLength))
	}
	if in.CaseID == "" && in.CaseNumber == "" {
		problems = append(problems, "caseId or caseNumber is required")
	}
	if e := strings.TrimSpace(in.Submitter.Email); e != "" && !emailRe.MatchString(e) {
		problems = append(problems, fmt.Sprintf("invalid email %q", e))
	}
	lat, lng := in.Location.Latitude, in.Location.Longitude
	switch {
	case (lat == nil) != (lng == nil):
		problems = append(problems, "latitude and longitude must be provided together")
	case lat != nil:
		if *lat < -90 || *lat > 90 {
			problems = append(problems, fmt.Sprintf("latitude %v out of range [-90, 90]", *lat))
		}
		if *lng < -180 || *lng > 180 {
			problems = append(problems, fmt.Sprintf("longitude %v out of range [-180, 180]", *lng))
		}
	}
	return problems
}

type resolveCaseStep struct{ cases CaseResolver }

func (resolveCaseStep) Name() string { return "resolve_case" }

func (s resolveCaseStep) Execute(ctx context.Context, data ingest.Record) (ingest.Record, error) {
	st, err := stateOf(data)
	if err != nil {
		return nil, err
	}
	if st.caseID != "" {
		return data, nil
	}
	id, err := s.cases.ResolveCaseNumber(ctx, st.in.CaseNumber)
	if err != nil {
		return nil, fmt.Errorf("resolve case %q: %w", st.in.CaseNumber, err)
	}
	st.caseID = id
	return data, nil
}

// enrichLocationStep fills in whichever of address or coordinates is
// missing. Geocoder failures leave the location as submitted.
type enrichLocationStep struct{ geo Geocoder }

func (enrichLocationStep) Name() string { return "enrich_location" }

func (s enrichLocationStep) Execute(ctx context.Context, data ingest.Record) (ingest.Record, error) {
	st, err := stateOf(data)
	if err != nil {
		return nil, err
	}
	loc := &st.in.Location
	address := strings.TrimSpace(loc.Address)
	switch {
	case address != "" && !loc.HasCoordinates():
		c, err := s.geo.Geocode(ctx, address)
		if err != nil {
			slog.Warn("geocode failed", "address", address, "err", err)
			break
		}
		if c != nil {
			loc.Latitude, loc.Longitude = &c.Latitude, &c.Longitude
		}
	case address == "" && loc.HasCoordinates():
		a, err := s.geo.ReverseGeocode(ctx, *loc.Latitude, *loc.Longitude)
		if err != nil {
			slog.Warn("reverse geocode failed", "lat", *loc.Latitude, "lng", *loc.Longitude, "err", err)
			break
		}
		loc.Address = a
	}
	return data, nil
}

type dedupStep struct{ store LeadStore }

func (dedupStep) Name() string { return "dedup" }

func (s dedupStep) Execute(ctx context.Context, data ingest.Record) (ingest.Record, error) {
	st, err := stateOf(data)
	if err != nil {
		return nil, err
	}
	similar, err := s.store.FindSimilarLeads(ctx, &NormalizedLead{CaseID: st.caseID, Description: st.in.Description})
	if err != nil {
		return nil, fmt.Errorf("find similar leads: %w", err)
	}
	if len(similar) > 0 {
		st.duplicateOf = similar[0].ID
	}
	return data, nil
}

type scoreStep struct{}

func (scoreStep) Name() string { return "score" }

func (scoreStep) Execute(_ context.Context, data ingest.Record) (ingest.Record, error) {
	st, err := stateOf(data)
	if err != nil {
		return nil, err
	}
	st.score = Score(st.in)
	return data, nil
}

// attachmentsStep stores declared attachments concurrently, keeping IDs in
// declaration order.
type attachmentsStep struct{ store AttachmentStore }

func (attachmentsStep) Name() string { return "attachments" }

func (s attachmentsStep) Execute(ctx context.Context, data ingest.Record) (ingest.Record, error) {
	st, err := stateOf(data)
	if err != nil {
		return nil, err
	}
	if len(st.in.Attachments) == 0 {
		return data, nil
	}

	ids := make([]string, len(st.in.Attachments))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(attachmentWorkers)
	for i, a := range st.in.Attachments {
		i, a := i, a
		g.Go(func() error {
			id, err := s.store.StoreAttachment(gctx, st.caseID, a)
			if err != nil {
				return fmt.Errorf("attachment %q: %w", a.Filename, err)
			}
			ids[i] = id
			return nil
		})
	}
	err = g.Wait()
	for _, id := range ids {
		if id != "" {
			st.attachmentIDs = append(st.attachmentIDs, id)
		}
	}
	if err != nil {
		s.discard(ctx, st)
		return nil, err
	}
	return data, nil
}

func (s attachmentsStep) Rollback(ctx context.Context, data ingest.Record) error {
	st, err := stateOf(data)
	if err != nil {
		return nil
	}
	return s.discard(ctx, st)
}

func (s attachmentsStep) discard(ctx context.Context, st *state) error {
	var errs []error
	for _, id := range st.attachmentIDs {
		if err := s.store.DeleteAttachment(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	st.attachmentIDs = nil
	return errors.Join(errs...)
}

// storeStep builds the normalized lead and saves it. Its output is the
// normalized lead itself.
type storeStep struct{ store LeadStore }

func (storeStep) Name() string { return "store" }

func (s storeStep) Execute(ctx context.Context, data ingest.Record) (ingest.Record, error) {
	st, err := stateOf(data)
	if err != nil {
		return nil, err
	}
	l := Normalize(st.in, st.caseID)
	l.ConfidenceScore = st.score
	if st.attachmentIDs != nil {
		l.AttachmentIDs = append(l.AttachmentIDs, st.attachmentIDs...)
	}
	if st.duplicateOf != "" {
		dup := st.duplicateOf
		l.DuplicateOf = &dup
	}
	if err := s.store.SaveNormalizedLead(ctx, l); err != nil {
		return nil, fmt.Errorf("save lead: %w", err)
	}
	st.leadID = l.ID
	return toRecord(l)
}

func (s storeStep) Rollback(ctx context.Context, data ingest.Record) error {
	id := ""
	if st, err := stateOf(data); err == nil {
		id = st.leadID
	} else if v, ok := data["id"].(string); ok {
		id = v
	}
	if id == "" {
		return nil
	}
	return s.store.DeleteLead(ctx, id)
}

// Normalize builds the canonical lead. Anonymous submissions drop all
// submitter contact fields.
func Normalize(in IncomingLead, caseID string) *NormalizedLead {
	l := &NormalizedLead{
		ID:            uuid.NewString(),
		CaseID:        caseID,
		CaseNumber:    in.CaseNumber,
		Status:        StatusNew,
		Priority:      ParsePriority(strings.ToLower(strings.TrimSpace(in.Priority))),
		Description:   in.Description,
		IsAnonymous:   in.IsAnonymous,
		AttachmentIDs: []string{},
		Source:        in.Source,
		ExternalID:    in.ExternalID,
		SubmittedAt:   in.SubmittedAt,
		CreatedAt:     time.Now().UTC(),
	}
	if !in.IsAnonymous {
		l.Submitter = NormalizedSubmitter{
			Name:         optional(in.Submitter.Name),
			Email:        optional(strings.ToLower(in.Submitter.Email)),
			Phone:        optional(in.Submitter.Phone),
			Relationship: in.Submitter.Relationship,
		}
	}
	if loc := in.Location; loc != (Location{}) {
		l.Location = &loc
	}
	if s := in.Sighting; s != (Sighting{}) {
		l.Sighting = &s
	}
	return l
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func toRecord(l *NormalizedLead) (ingest.Record, error) {
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	var out ingest.Record
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
