// Package transform remaps and normalizes validated records according to the
// transformations declared on a DataSchema.
package transform

import (
	"fmt"
	"strings"
	"sync"
	"unicode"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/mitchellh/mapstructure"

	"github.com/soochol/ingest/internal/ingest"
)

type formatConfig struct {
	Format string `mapstructure:"format"`
}

type splitConfig struct {
	Delimiter string `mapstructure:"delimiter"`
}

type lookupConfig struct {
	Table map[string]any `mapstructure:"table"`
}

type mergeConfig struct {
	Fields    []string `mapstructure:"fields"`
	Separator *string  `mapstructure:"separator"`
}

type customConfig struct {
	Expression string `mapstructure:"expression"`
}

var (
	programMu sync.Mutex
	programs  = map[string]*vm.Program{}
)

// Transform returns a new record with field names remapped per the schema's
// field mappings and every declared transformation applied in order.
// The input record is not modified.
func Transform(record ingest.Record, schema ingest.DataSchema) (ingest.Record, error) {
	out := make(ingest.Record, len(record))
	for k, v := range record {
		if f, ok := schema.Field(k); ok && f.Mapping != "" {
			out[f.Mapping] = v
			continue
		}
		out[k] = v
	}

	for _, t := range schema.Transformations {
		if err := apply(out, t); err != nil {
			return nil, fmt.Errorf("transform %s on %q: %w", t.Kind, t.Field, err)
		}
	}
	return out, nil
}

func apply(rec ingest.Record, t ingest.Transformation) error {
	value, present := rec[t.Field]

	switch t.Kind {
	case ingest.TransformNormalize:
		if s, ok := value.(string); ok {
			rec[t.Field] = strings.ToLower(strings.TrimSpace(s))
		}

	case ingest.TransformFormat:
		var cfg formatConfig
		if err := mapstructure.Decode(t.Config, &cfg); err != nil {
			return err
		}
		if s, ok := value.(string); ok {
			rec[t.Field] = format(s, cfg.Format)
		}

	case ingest.TransformSplit:
		cfg := splitConfig{Delimiter: ","}
		if err := mapstructure.Decode(t.Config, &cfg); err != nil {
			return err
		}
		if s, ok := value.(string); ok {
			rec[t.Field] = split(s, cfg.Delimiter)
		}

	case ingest.TransformLookup:
		var cfg lookupConfig
		if err := mapstructure.Decode(t.Config, &cfg); err != nil {
			return err
		}
		if !present || value == nil {
			return nil
		}
		if mapped, ok := cfg.Table[fmt.Sprint(value)]; ok {
			rec[t.Field] = mapped
		}

	case ingest.TransformMerge:
		var cfg mergeConfig
		if err := mapstructure.Decode(t.Config, &cfg); err != nil {
			return err
		}
		if len(cfg.Fields) == 0 {
			return nil
		}
		sep := " "
		if cfg.Separator != nil {
			sep = *cfg.Separator
		}
		var parts []string
		for _, name := range cfg.Fields {
			if v, ok := rec[name]; ok && v != nil {
				if s := strings.TrimSpace(fmt.Sprint(v)); s != "" {
					parts = append(parts, s)
				}
			}
		}
		if len(parts) > 0 {
			rec[t.Field] = strings.Join(parts, sep)
		}

	case ingest.TransformCustom:
		var cfg customConfig
		if err := mapstructure.Decode(t.Config, &cfg); err != nil {
			return err
		}
		if cfg.Expression == "" {
			return nil
		}
		program, err := compile(cfg.Expression)
		if err != nil {
			return err
		}
		result, err := expr.Run(program, map[string]any(rec))
		if err != nil {
			return fmt.Errorf("evaluate %q: %w", cfg.Expression, err)
		}
		rec[t.Field] = result

	default:
		return fmt.Errorf("unknown transformation kind %q", t.Kind)
	}
	return nil
}

func format(s, kind string) string {
	switch kind {
	case "", "phone", "digits":
		return strings.Map(func(r rune) rune {
			if unicode.IsDigit(r) {
				return r
			}
			return -1
		}, s)
	case "upper":
		return strings.ToUpper(s)
	case "lower":
		return strings.ToLower(s)
	case "trim":
		return strings.TrimSpace(s)
	}
	return s
}

func split(s, delim string) []any {
	if delim == "" {
		delim = ","
	}
	var out []any
	for _, part := range strings.Split(s, delim) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func compile(expression string) (*vm.Program, error) {
	programMu.Lock()
	defer programMu.Unlock()
	if p, ok := programs[expression]; ok {
		return p, nil
	}
	p, err := expr.Compile(expression, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", expression, err)
	}
	programs[expression] = p
	return p, nil
}
