package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/soochol/ingest/internal/importer"
	"github.com/soochol/ingest/internal/lead"
	"github.com/soochol/ingest/internal/parse"
)

var (
	formatFlag    string
	maxRowsFlag   int
	sheetFlag     string
	delimiterFlag string

	sourceFlag       string
	mappingFlags     []string
	batchSizeFlag    int
	stopOnErrorFlag  bool
	maxErrorsFlag    int
	validateOnlyFlag bool

	previewCmd = &cobra.Command{
		Use:   "preview FILE",
		Short: "Parse a file and print the first rows with suggested field mappings",
		Args:  cobra.ExactArgs(1),
		RunE:  runPreview,
	}
	importCmd = &cobra.Command{
		Use:   "import FILE",
		Short: "Import a file through a source's pipeline and print the result",
		Args:  cobra.ExactArgs(1),
		RunE:  runImport,
	}
)

func init() {
	for _, c := range []*cobra.Command{previewCmd, importCmd} {
		c.Flags().StringVarP(&formatFlag, "format", "f", "", "csv, json, xlsx, xml or feed (default from file extension)")
		c.Flags().StringVar(&sheetFlag, "sheet", "", "worksheet name for xlsx files")
		c.Flags().StringVar(&delimiterFlag, "delimiter", "", "field delimiter for csv files")
	}
	previewCmd.Flags().IntVarP(&maxRowsFlag, "max-rows", "n", importer.PreviewRows, "rows to show")

	importCmd.Flags().StringVarP(&sourceFlag, "source", "s", lead.UploadSourceID, "target source id")
	importCmd.Flags().StringArrayVarP(&mappingFlags, "map", "m", nil, "field mapping as column=field (repeatable; empty field drops the column)")
	importCmd.Flags().IntVar(&batchSizeFlag, "batch-size", 0, "records per engine job (default from config)")
	importCmd.Flags().BoolVar(&stopOnErrorFlag, "stop-on-error", false, "abort on the first failed row")
	importCmd.Flags().IntVar(&maxErrorsFlag, "max-errors", 0, "abort after this many failed rows (0 = unlimited)")
	importCmd.Flags().BoolVar(&validateOnlyFlag, "validate-only", false, "validate rows without ingesting them")
}

func readInput(path string) ([]byte, parse.Format, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", path, err)
	}
	name := formatFlag
	if name == "" {
		name = filepath.Ext(path)
	}
	format, err := parse.ParseFormat(name)
	if err != nil {
		return nil, "", err
	}
	return content, format, nil
}

func parseOptions() parse.Options {
	return parse.Options{Sheet: sheetFlag, Delimiter: delimiterFlag}
}

func parseMappings(flags []string) (map[string]string, error) {
	if len(flags) == 0 {
		return nil, nil
	}
	m := make(map[string]string, len(flags))
	for _, f := range flags {
		from, to, ok := strings.Cut(f, "=")
		if !ok || strings.TrimSpace(from) == "" {
			return nil, fmt.Errorf("invalid mapping %q, want column=field", f)
		}
		m[strings.TrimSpace(from)] = strings.TrimSpace(to)
	}
	return m, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runPreview(cmd *cobra.Command, args []string) error {
	content, format, err := readInput(args[0])
	if err != nil {
		return err
	}
	opts := parseOptions()
	opts.MaxRows = maxRowsFlag
	// Preview never touches the engine.
	svc := importer.New(nil, importer.Settings{})
	p, err := svc.Preview(content, format, opts)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), p)
}

func runImport(cmd *cobra.Command, args []string) error {
	content, format, err := readInput(args[0])
	if err != nil {
		return err
	}
	mapping, err := parseMappings(mappingFlags)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	res, err := a.imports.Import(ctx, content, importer.Config{
		SourceID:     sourceFlag,
		Format:       format,
		FieldMapping: mapping,
		Options:      parseOptions(),
		ValidateOnly: validateOnlyFlag,
		BatchSize:    batchSizeFlag,
		StopOnError:  stopOnErrorFlag,
		MaxErrors:    maxErrorsFlag,
	}, "cli")
	if err != nil {
		return err
	}
	a.engine.Wait()

	if err := printJSON(cmd.OutOrStdout(), res); err != nil {
		return err
	}
	if res.Status == importer.StatusFailed {
		return fmt.Errorf("import %s failed", res.ID)
	}
	return nil
}
