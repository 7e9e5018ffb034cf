// Package tables extracts markdown pipe tables from converted documents and
// writes them into spreadsheet workbooks, a fixed number of sheets per file.
package tables

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"markergate/internal/config"
	"markergate/internal/logging"
	"markergate/internal/services"
)

// DefaultSheetsPerFile matches the workbook batching used when none is configured.
const DefaultSheetsPerFile = 30

// Report summarizes one export.
type Report struct {
	Document     string   `json:"document"`
	MarkdownPath string   `json:"markdown_path"`
	TableCount   int      `json:"table_count"`
	ExcelFiles   []string `json:"excel_files"`
	ExcelDir     string   `json:"excel_dir"`
	Skipped      int      `json:"skipped"`
}

// Exporter locates a document's markdown and writes its tables.
type Exporter struct {
	outputDir     string
	excelBaseDir  string
	sheetsPerFile int
	logger        *slog.Logger
}

// NewExporter constructs an exporter. An empty excelBaseDir stores workbooks
// beside the document under <output_dir>/<document>/tables_xlsx_<document>.
func NewExporter(outputDir, excelBaseDir string, sheetsPerFile int, logger *slog.Logger) *Exporter {
	if sheetsPerFile <= 0 {
		sheetsPerFile = DefaultSheetsPerFile
	}
	return &Exporter{
		outputDir:     outputDir,
		excelBaseDir:  excelBaseDir,
		sheetsPerFile: sheetsPerFile,
		logger:        logging.NewComponentLogger(logger, "tables"),
	}
}

// NewExporterFromConfig builds an exporter from the tables section.
func NewExporterFromConfig(cfg *config.Config, logger *slog.Logger) *Exporter {
	return NewExporter(cfg.Paths.OutputDir, cfg.Tables.ExcelDir, cfg.Tables.SheetsPerFile, logger)
}

// MarkdownPath returns the markdown for document, checking the nested
// <document>/<document>.md layout first and the flat <document>.md second.
func (e *Exporter) MarkdownPath(document string) (string, error) {
	if err := validateDocument(document); err != nil {
		return "", err
	}
	nested := filepath.Join(e.outputDir, document, document+".md")
	flat := filepath.Join(e.outputDir, document+".md")
	for _, candidate := range []string{nested, flat} {
		if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
			return candidate, nil
		}
	}
	return "", services.Wrap(services.ErrNotFound, "tables", "locate",
		fmt.Sprintf("processed markdown not found for document %q: %s", document, nested), nil)
}

// ExcelDir returns where workbooks for document are written.
func (e *Exporter) ExcelDir(document string) string {
	if strings.TrimSpace(e.excelBaseDir) != "" {
		return filepath.Join(e.excelBaseDir, document)
	}
	return filepath.Join(e.outputDir, document, "tables_xlsx_"+document)
}

// Export extracts tables from document's markdown and writes workbooks.
func (e *Exporter) Export(ctx context.Context, document string) (Report, error) {
	logger := logging.WithContext(services.WithJob(ctx, document), e.logger)
	mdPath, err := e.MarkdownPath(document)
	if err != nil {
		return Report{}, err
	}
	content, err := os.ReadFile(mdPath)
	if err != nil {
		return Report{}, fmt.Errorf("read markdown: %w", err)
	}

	parsed, skipped := Parse(string(content))
	for _, skipErr := range skipped {
		logging.WarnWithContext(logger, "failed to parse a table chunk", "table_parse_failed",
			logging.Error(skipErr),
			logging.String(logging.FieldImpact, "table omitted from workbook"),
		)
	}
	logger.Info("tables extracted", logging.Int("table_count", len(parsed)), logging.String("markdown_path", mdPath))

	excelDir := e.ExcelDir(document)
	files, err := WriteBatches(parsed, excelDir, e.sheetsPerFile)
	if err != nil {
		return Report{}, err
	}
	for _, f := range files {
		logger.Info("created workbook", logging.String("path", f))
	}
	return Report{
		Document:     document,
		MarkdownPath: mdPath,
		TableCount:   len(parsed),
		ExcelFiles:   files,
		ExcelDir:     excelDir,
		Skipped:      len(skipped),
	}, nil
}

// WriteBatches writes tables into dir as tables_<n>.xlsx with at most
// sheetsPerFile sheets each. Sheets are named Sheet_<k> by global position.
// No files are written for an empty slice.
func WriteBatches(tables []Table, dir string, sheetsPerFile int) ([]string, error) {
	if sheetsPerFile <= 0 {
		sheetsPerFile = DefaultSheetsPerFile
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create excel directory: %w", err)
	}
	var created []string
	for start := 0; start < len(tables); start += sheetsPerFile {
		end := start + sheetsPerFile
		if end > len(tables) {
			end = len(tables)
		}
		path := filepath.Join(dir, fmt.Sprintf("tables_%d.xlsx", start/sheetsPerFile+1))
		if err := writeWorkbook(path, tables[start:end], start); err != nil {
			return created, err
		}
		created = append(created, path)
	}
	return created, nil
}

func writeWorkbook(path string, batch []Table, offset int) (err error) {
	f := excelize.NewFile()
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	defaultSheet := f.GetSheetName(0)
	for i, table := range batch {
		name := fmt.Sprintf("Sheet_%d", offset+i+1)
		if i == 0 {
			if err := f.SetSheetName(defaultSheet, name); err != nil {
				return fmt.Errorf("rename sheet: %w", err)
			}
		} else if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("add sheet %s: %w", name, err)
		}
		if err := writeSheet(f, name, table); err != nil {
			return err
		}
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook %s: %w", path, err)
	}
	return nil
}

func writeSheet(f *excelize.File, sheet string, table Table) error {
	numeric := numericColumns(table)
	rows := append([][]string{table.Header}, table.Rows...)
	for r, row := range rows {
		values := make([]any, len(row))
		for c, cell := range row {
			values[c] = cell
			if r > 0 && numeric[c] && cell != "" {
				if v, err := strconv.ParseFloat(cell, 64); err == nil {
					values[c] = v
				}
			}
		}
		anchor, err := excelize.CoordinatesToCellName(1, r+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, anchor, &values); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, r+1, err)
		}
	}
	return nil
}

// numericColumns marks columns whose non-empty data cells all parse as numbers.
func numericColumns(table Table) []bool {
	numeric := make([]bool, len(table.Header))
	for c := range numeric {
		seen := false
		numeric[c] = true
		for _, row := range table.Rows {
			if row[c] == "" {
				continue
			}
			seen = true
			if _, err := strconv.ParseFloat(row[c], 64); err != nil {
				numeric[c] = false
				break
			}
		}
		numeric[c] = numeric[c] && seen
	}
	return numeric
}

func validateDocument(document string) error {
	if document == "" || document == "." || document == ".." || strings.ContainsAny(document, `/\`) {
		return services.Wrap(services.ErrInvalidInput, "tables", "validate", fmt.Sprintf("invalid document name %q", document), nil)
	}
	return nil
}
