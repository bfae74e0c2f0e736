package importer

import (
	"sort"
	"strings"
	"unicode"

	"github.com/soochol/ingest/internal/ingest"
)

// synonyms lists, per canonical field, the normalized column names that
// should map to it. Extend the table rather than adding conditionals.
var synonyms = map[string][]string{
	"firstName":          {"firstname", "fname", "givenname", "first"},
	"lastName":           {"lastname", "lname", "surname", "familyname", "last"},
	"name":               {"name", "fullname", "submittername", "reportername", "contactname"},
	"email":              {"email", "emailaddress", "mail", "submitteremail", "contactemail"},
	"phone":              {"phone", "phonenumber", "telephone", "tel", "mobile", "cell", "cellphone", "contactphone"},
	"address":            {"address", "streetaddress", "street", "addr", "address1", "location"},
	"city":               {"city", "town"},
	"state":              {"state", "province", "region"},
	"zip":                {"zip", "zipcode", "postalcode", "postcode"},
	"latitude":           {"latitude", "lat"},
	"longitude":          {"longitude", "lng", "lon", "long"},
	"sightingDate":       {"date", "sightingdate", "dateseen", "seenon", "incidentdate", "lastseen"},
	"sightingTime":       {"time", "sightingtime", "timeseen"},
	"description":        {"description", "desc", "details", "notes", "tip", "comments", "summary"},
	"personDescription":  {"persondescription", "suspectdescription", "subjectdescription"},
	"vehicleDescription": {"vehicledescription", "vehicle", "car"},
	"caseNumber":         {"casenumber", "caseno", "casenum", "case", "casereference"},
	"caseId":             {"caseid"},
	"externalId":         {"id", "externalid", "referenceid", "ref", "reference", "recordid"},
	"title":              {"title", "subject", "headline"},
	"priority":           {"priority", "urgency"},
}

// identifyingFields are the mapped fields of which at least one must be
// present for a row to be meaningful.
var identifyingFields = []string{"description", "name", "title"}

var synonymIndex = func() map[string]string {
	idx := make(map[string]string)
	for target, names := range synonyms {
		for _, n := range names {
			idx[n] = target
		}
	}
	return idx
}()

// normalizeKey lowercases and drops everything but letters and digits, so
// "First_Name", "first-name" and "First Name" compare equal.
func normalizeKey(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// SuggestMappings proposes a target for every detected field. Unknown
// fields map to themselves.
func SuggestMappings(fields []string) map[string]string {
	out := make(map[string]string, len(fields))
	for _, f := range fields {
		if target, ok := synonymIndex[normalizeKey(f)]; ok {
			out[f] = target
			continue
		}
		out[f] = f
	}
	return out
}

// applyMapping renames columns. Columns without an entry pass through;
// an empty target drops the column. When several columns land on the same
// target, the first non-blank one in fields order wins.
func applyMapping(row ingest.Record, fields []string, mapping map[string]string) ingest.Record {
	if len(mapping) == 0 {
		return row
	}
	out := make(ingest.Record, len(row))
	for _, k := range columnOrder(row, fields) {
		v := row[k]
		target := k
		if t, ok := mapping[k]; ok {
			if t == "" {
				continue
			}
			target = t
		}
		if cur, exists := out[target]; exists && (!blank(cur) || blank(v)) {
			continue
		}
		out[target] = v
	}
	return out
}

// columnOrder lists the row's keys in fields order, followed by any keys
// fields does not name, sorted.
func columnOrder(row ingest.Record, fields []string) []string {
	keys := make([]string, 0, len(row))
	seen := make(map[string]bool, len(row))
	for _, f := range fields {
		if _, ok := row[f]; ok && !seen[f] {
			keys = append(keys, f)
			seen[f] = true
		}
	}
	var rest []string
	for k := range row {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}

func blank(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

func hasIdentifyingField(row ingest.Record) bool {
	for _, f := range identifyingFields {
		if !blank(row[f]) {
			return true
		}
	}
	return false
}
