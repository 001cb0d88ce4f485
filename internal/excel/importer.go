package excel

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/example/lexisync/internal/ingest"
	"github.com/xuri/excelize/v2"
)

// ImportConfig defines which columns of a sheet hold which entry field
type ImportConfig struct {
	FilePath            string // Path to the Excel or CSV file
	Lang                string // Language of every row
	IDColumn            string // Column with the item id
	LemmaColumn         string // Column with the lemma
	LevelColumn         string // Column with the CEFR level
	RankColumn          string // Column with the frequency rank
	RegisterColumn      string // Column with the register
	TranscriptionColumn string // Column with the IPA transcription
	FormsColumn         string // Column with forms, "ging!; gegangen!" marks irregular ones with "!"
	CollectionsColumn   string // Column with comma separated collection ids
	SheetName           string // Name of the sheet to import
	StartRow            int    // The row to start importing from (1-based index)
}

// DefaultImportConfig returns the default import configuration
func DefaultImportConfig() ImportConfig {
	return ImportConfig{
		IDColumn:            "A",
		LemmaColumn:         "B",
		LevelColumn:         "C",
		RankColumn:          "D",
		RegisterColumn:      "E",
		TranscriptionColumn: "F",
		FormsColumn:         "G",
		CollectionsColumn:   "H",
		SheetName:           "Sheet1",
		StartRow:            2, // By default, start from the second row (skip header)
	}
}

// ImportResult holds the entries read from a sheet
type ImportResult struct {
	Entries        []ingest.Entry
	TotalProcessed int
	Skipped        int
	Errors         []string
}

var errSkipRow = errors.New("skipping row")

// LoadEntriesFromFile reads entries from an Excel or CSV file. A row with
// only its first cell filled starts a collection: every following row is
// added to it until the next such row.
func LoadEntriesFromFile(config ImportConfig) (*ImportResult, error) {
	if config.Lang == "" {
		return nil, fmt.Errorf("language is required for sheet imports")
	}
	if config.StartRow < 1 {
		config.StartRow = 1
	}

	var rows [][]string
	var err error
	switch strings.ToLower(filepath.Ext(config.FilePath)) {
	case ".csv":
		rows, err = readCSV(config.FilePath)
	case ".xlsx", ".xlsm":
		rows, err = readExcel(config.FilePath, config.SheetName)
	default:
		return nil, fmt.Errorf("unsupported sheet format %q", filepath.Ext(config.FilePath))
	}
	if err != nil {
		return nil, err
	}

	result := &ImportResult{Errors: make([]string, 0)}
	currentCollection := ""
	for i, row := range rows {
		rowNum := i + 1
		// Skip header rows
		if rowNum < config.StartRow {
			continue
		}
		if isBlank(row) {
			continue
		}
		if isCollectionHeader(row) {
			currentCollection = strings.Trim(strings.TrimSpace(row[0]), "\"")
			continue
		}

		result.TotalProcessed++
		entry, err := processRow(row, config, currentCollection)
		if errors.Is(err, errSkipRow) {
			result.Skipped++
			continue
		}
		if err != nil {
			result.Skipped++
			result.Errors = append(result.Errors, fmt.Sprintf("Row %d: %v", rowNum, err))
			continue
		}
		result.Entries = append(result.Entries, entry)
	}
	return result, nil
}

func readExcel(path, sheet string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to get rows: %w", err)
	}
	return rows, nil
}

func readCSV(path string) ([][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1 // Allow variable number of fields
	reader.LazyQuotes = true

	var rows [][]string
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading CSV: %w", err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// isCollectionHeader reports rows like "verbs,,,": a first cell and nothing else
func isCollectionHeader(row []string) bool {
	if len(row) == 0 || strings.TrimSpace(row[0]) == "" {
		return false
	}
	return isBlank(row[1:])
}

func isBlank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// processRow turns a single row into an entry
func processRow(row []string, config ImportConfig, collection string) (ingest.Entry, error) {
	cell := func(column string) string {
		if column == "" {
			return ""
		}
		if idx := columnToIndex(column); idx >= 0 && idx < len(row) {
			return strings.TrimSpace(row[idx])
		}
		return ""
	}

	id := cell(config.IDColumn)
	lemma := cleanLemma(cell(config.LemmaColumn))
	if id == "" && lemma == "" {
		return ingest.Entry{}, errSkipRow
	}
	if id == "" {
		id = fmt.Sprintf("%s:%s:1", config.Lang, strings.ToLower(lemma))
	}

	entry := ingest.Entry{
		ID:            id,
		Lang:          config.Lang,
		Lemma:         lemma,
		Level:         strings.ToUpper(cell(config.LevelColumn)),
		Register:      strings.ToLower(cell(config.RegisterColumn)),
		Transcription: strings.Trim(cell(config.TranscriptionColumn), "[]/"),
		Forms:         parseForms(cell(config.FormsColumn)),
		Collections:   parseCollections(cell(config.CollectionsColumn), collection),
	}
	if raw := cell(config.RankColumn); raw != "" {
		rank, err := strconv.Atoi(raw)
		if err != nil || rank < 1 {
			return ingest.Entry{}, fmt.Errorf("invalid frequency rank %q", raw)
		}
		entry.FrequencyRank = &rank
	}
	return entry, nil
}

func parseForms(s string) []ingest.Form {
	var forms []ingest.Form
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		irregular := strings.HasSuffix(part, "!")
		forms = append(forms, ingest.Form{Form: strings.TrimSpace(strings.TrimSuffix(part, "!")), Irregular: irregular})
	}
	return forms
}

func parseCollections(s, current string) []string {
	seen := map[string]bool{}
	var out []string
	add := func(id string) {
		id = strings.TrimSpace(id)
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	add(current)
	for _, part := range strings.Split(s, ",") {
		add(part)
	}
	return out
}

// cleanLemma drops trailing notes in brackets, e.g. "gehen (ging, gegangen)"
func cleanLemma(lemma string) string {
	if idx := strings.Index(lemma, "("); idx > 0 {
		return strings.TrimSpace(lemma[:idx])
	}
	return strings.TrimSpace(lemma)
}

// Helper function to convert Excel column letter to index
func columnToIndex(column string) int {
	column = strings.ToUpper(column)
	index := 0
	for i := 0; i < len(column); i++ {
		index = index*26 + int(column[i]-'A'+1)
	}
	return index - 1
}
