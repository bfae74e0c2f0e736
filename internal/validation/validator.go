// Package validation checks raw records against a declarative DataSchema.
package validation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/soochol/ingest/internal/ingest"
)

var (
	patternMu    sync.Mutex
	patternCache = map[string]*regexp.Regexp{}
)

// Validate returns every finding for record against schema. It has no side
// effects; callers decide what to do with error- vs warning-severity items.
func Validate(record ingest.Record, schema ingest.DataSchema) []ingest.ValidationError {
	var errs []ingest.ValidationError

	for _, name := range schema.Required {
		if isMissing(record, name) {
			errs = append(errs, fail(name, fmt.Sprintf("required field %q is missing", name)))
		}
	}

	for _, field := range schema.Fields {
		value, ok := record[field.Name]
		if !ok || value == nil || isMissing(record, field.Name) {
			continue
		}
		if !typeMatches(field.Type, value) {
			errs = append(errs, fail(field.Name, fmt.Sprintf("expected %s, got %T", field.Type, value)))
			continue
		}
		if field.Validation != nil {
			errs = append(errs, checkConstraints(field, value)...)
		}
	}
	return errs
}

// HasErrors reports whether any finding is error severity.
func HasErrors(errs []ingest.ValidationError) bool {
	for _, e := range errs {
		if e.Severity == ingest.SeverityError {
			return true
		}
	}
	return false
}

func fail(field, msg string) ingest.ValidationError {
	return ingest.ValidationError{Field: field, Message: msg, Severity: ingest.SeverityError}
}

func isMissing(record ingest.Record, name string) bool {
	v, ok := record[name]
	if !ok || v == nil {
		return true
	}
	if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
		return true
	}
	return false
}

// typeMatches compares the declared type with the runtime shape. Dates are
// strings before parsing, so FieldDate accepts anything. Numeric and boolean
// fields also accept their textual forms since delimited files carry no types.
func typeMatches(t ingest.FieldType, v any) bool {
	switch t {
	case "", ingest.FieldDate:
		return true
	case ingest.FieldString:
		_, ok := v.(string)
		return ok
	case ingest.FieldNumber:
		_, ok := toFloat(v)
		return ok
	case ingest.FieldBoolean:
		switch b := v.(type) {
		case bool:
			return true
		case string:
			_, err := strconv.ParseBool(strings.TrimSpace(b))
			return err == nil
		}
		return false
	case ingest.FieldArray:
		switch v.(type) {
		case []any, []string, []map[string]any:
			return true
		}
		return false
	case ingest.FieldObject:
		switch v.(type) {
		case map[string]any, ingest.Record:
			return true
		}
		return false
	}
	return true
}

func checkConstraints(field ingest.SchemaField, v any) []ingest.ValidationError {
	var errs []ingest.ValidationError
	rules := field.Validation

	if s, ok := v.(string); ok && field.Type == ingest.FieldString {
		if rules.Pattern != "" {
			re, err := compile(rules.Pattern)
			if err != nil {
				errs = append(errs, fail(field.Name, fmt.Sprintf("invalid pattern %q: %v", rules.Pattern, err)))
			} else if !re.MatchString(s) {
				errs = append(errs, fail(field.Name, fmt.Sprintf("value does not match pattern %s", rules.Pattern)))
			}
		}
		n := utf8.RuneCountInString(s)
		if rules.MinLength != nil && n < *rules.MinLength {
			errs = append(errs, fail(field.Name, fmt.Sprintf("must be at least %d characters", *rules.MinLength)))
		}
		if rules.MaxLength != nil && n > *rules.MaxLength {
			errs = append(errs, fail(field.Name, fmt.Sprintf("must be at most %d characters", *rules.MaxLength)))
		}
	}

	if field.Type == ingest.FieldNumber {
		if f, ok := toFloat(v); ok {
			if rules.Min != nil && f < *rules.Min {
				errs = append(errs, fail(field.Name, fmt.Sprintf("must be >= %v", *rules.Min)))
			}
			if rules.Max != nil && f > *rules.Max {
				errs = append(errs, fail(field.Name, fmt.Sprintf("must be <= %v", *rules.Max)))
			}
		}
	}

	if len(rules.AllowedValues) > 0 && !allowed(rules.AllowedValues, v) {
		errs = append(errs, fail(field.Name, fmt.Sprintf("value %v is not one of %v", v, rules.AllowedValues)))
	}
	return errs
}

func allowed(set []any, v any) bool {
	want := fmt.Sprint(v)
	for _, a := range set {
		if fmt.Sprint(a) == want {
			return true
		}
	}
	return false
}

func compile(pattern string) (*regexp.Regexp, error) {
	patternMu.Lock()
	defer patternMu.Unlock()
	if re, ok := patternCache[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	patternCache[pattern] = re
	return re, nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}
