package lead

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/soochol/ingest/internal/ingest"
)

type fieldPath struct {
	group string
	key   string
}

// flatFields lifts flat column names (as produced by delimited files and
// field mapping) into the nested IncomingLead groups. Aliases of one key are
// listed canonical name first; the first non-blank one in this order wins.
var flatFields = []struct {
	column string
	path   fieldPath
}{
	{"name", fieldPath{"submitter", "name"}},
	{"submitterName", fieldPath{"submitter", "name"}},
	{"fullName", fieldPath{"submitter", "name"}},
	{"reporterName", fieldPath{"submitter", "name"}},
	{"email", fieldPath{"submitter", "email"}},
	{"submitterEmail", fieldPath{"submitter", "email"}},
	{"phone", fieldPath{"submitter", "phone"}},
	{"submitterPhone", fieldPath{"submitter", "phone"}},
	{"relationship", fieldPath{"submitter", "relationship"}},
	{"address", fieldPath{"location", "address"}},
	{"street", fieldPath{"location", "address"}},
	{"city", fieldPath{"location", "city"}},
	{"state", fieldPath{"location", "state"}},
	{"zip", fieldPath{"location", "zip"}},
	{"zipCode", fieldPath{"location", "zip"}},
	{"postalCode", fieldPath{"location", "zip"}},
	{"latitude", fieldPath{"location", "latitude"}},
	{"lat", fieldPath{"location", "latitude"}},
	{"longitude", fieldPath{"location", "longitude"}},
	{"lng", fieldPath{"location", "longitude"}},
	{"lon", fieldPath{"location", "longitude"}},
	{"locationDescription", fieldPath{"location", "description"}},
	{"sightingDate", fieldPath{"sighting", "date"}},
	{"date", fieldPath{"sighting", "date"}},
	{"sightingTime", fieldPath{"sighting", "time"}},
	{"time", fieldPath{"sighting", "time"}},
	{"personDescription", fieldPath{"sighting", "personDescription"}},
	{"vehicleDescription", fieldPath{"sighting", "vehicleDescription"}},
	{"direction", fieldPath{"sighting", "direction"}},
}

var flatColumns = func() map[string]bool {
	m := make(map[string]bool, len(flatFields))
	for _, f := range flatFields {
		m[f.column] = true
	}
	return m
}()

// Decode converts a record payload into an IncomingLead. Nested groups win
// over flat columns; empty strings are treated as absent.
func Decode(data ingest.Record) (IncomingLead, error) {
	lifted := lift(data)

	var in IncomingLead
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &in,
	})
	if err != nil {
		return in, err
	}
	if err := dec.Decode(lifted); err != nil {
		return in, fmt.Errorf("decode lead: %w", err)
	}
	in.Description = strings.TrimSpace(in.Description)
	in.CaseNumber = strings.TrimSpace(in.CaseNumber)
	in.CaseID = strings.TrimSpace(in.CaseID)
	return in, nil
}

func lift(data ingest.Record) map[string]any {
	out := make(map[string]any, len(data))
	groups := map[string]map[string]any{}
	group := func(name string) map[string]any {
		g, ok := groups[name]
		if !ok {
			g = map[string]any{}
			if existing, isMap := data[name].(map[string]any); isMap {
				for k, v := range existing {
					g[k] = v
				}
			}
			groups[name] = g
		}
		return g
	}

	for k, v := range data {
		if strings.HasPrefix(k, "_") || flatColumns[k] {
			continue
		}
		if _, isGroup := v.(map[string]any); isGroup && (k == "submitter" || k == "location" || k == "sighting") {
			group(k)
			continue
		}
		out[k] = v
	}
	for _, f := range flatFields {
		v, ok := data[f.column]
		if !ok || !present(v) {
			continue
		}
		if g := group(f.path.group); !present(g[f.path.key]) {
			g[f.path.key] = v
		}
	}

	if s := group("submitter"); !present(s["name"]) {
		first, _ := data["firstName"].(string)
		last, _ := data["lastName"].(string)
		if full := strings.TrimSpace(strings.TrimSpace(first) + " " + strings.TrimSpace(last)); full != "" {
			s["name"] = full
		}
	}
	delete(out, "firstName")
	delete(out, "lastName")

	for name, g := range groups {
		out[name] = g
	}
	return prune(out).(map[string]any)
}

func present(v any) bool {
	if v == nil {
		return false
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) != ""
	}
	return true
}

// prune drops nil values and blank strings so weak decoding does not turn
// empty cells into zero coordinates.
func prune(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if !present(val) {
				continue
			}
			out[k] = prune(val)
		}
		return out
	case ingest.Record:
		return prune(map[string]any(t))
	case []any:
		out := make([]any, 0, len(t))
		for _, val := range t {
			if present(val) {
				out = append(out, prune(val))
			}
		}
		return out
	}
	return v
}
