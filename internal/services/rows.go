package services

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// RawRow is one tabular row reduced to the columns the price history
// importer understands. Values are kept as raw strings; extraction decides
// what is usable. Unknown columns are ignored at read time.
type RawRow struct {
	Date          string
	FinalPrice    string
	OriginalPrice string
}

// NamedFile pairs an uploaded file's name with its content reader
type NamedFile struct {
	Name   string
	Reader io.Reader
}

// FailedFile wraps a file that could not be opened so the failure flows
// through the same per-file accounting as read failures
func FailedFile(name string, err error) NamedFile {
	return NamedFile{Name: name, Reader: errorReader{err: err}}
}

type errorReader struct{ err error }

func (r errorReader) Read([]byte) (int, error) { return 0, r.err }

// Column headers recognized in uploaded exports. The Chinese names are
// verbatim from the scraped source data; English aliases cover re-exports.
var (
	dateHeaders     = []string{"日期", "date"}
	finalHeaders    = []string{"到手价", "finalprice", "final_price"}
	originalHeaders = []string{"页面价", "originalprice", "original_price"}
)

// ReadRows converts a header-keyed CSV stream into RawRow values.
// Rows shorter than the header are padded; the error covers unreadable
// input only, not row content.
func ReadRows(r io.Reader) ([]RawRow, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	dateIdx := findColumn(header, dateHeaders)
	finalIdx := findColumn(header, finalHeaders)
	originalIdx := findColumn(header, originalHeaders)

	var rows []RawRow
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return rows, fmt.Errorf("read row: %w", err)
		}
		rows = append(rows, RawRow{
			Date:          fieldAt(record, dateIdx),
			FinalPrice:    fieldAt(record, finalIdx),
			OriginalPrice: fieldAt(record, originalIdx),
		})
	}
	return rows, nil
}

func findColumn(header []string, names []string) int {
	for i, h := range header {
		normalized := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF")))
		for _, name := range names {
			if normalized == name {
				return i
			}
		}
	}
	return -1
}

func fieldAt(record []string, idx int) string {
	if idx < 0 || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}
