// Package ingest parses recipient spreadsheets.
package ingest

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/xuri/excelize/v2"
)

var (
	// ErrEmptySheet is returned for a workbook without data rows.
	ErrEmptySheet = errors.New("spreadsheet is empty")
	// ErrNoEmailColumn is returned when no column holds email addresses.
	ErrNoEmailColumn = errors.New("no email column found")
	// ErrNoValidRecipients is returned when every row was skipped.
	ErrNoValidRecipients = errors.New("no valid recipients found")
)

var emailPattern = regexp.MustCompile(`^\S+@\S+\.\S+$`)

// emailKeywords are header names that mark the email column outright.
var emailKeywords = []string{"email", "e-mail", "mail", "email_address", "emailaddress", "e_mail"}

// Row is one usable recipient row.
type Row struct {
	Email string
	Data  map[string]string
}

// Result is a parsed recipient sheet.
type Result struct {
	Columns     []string
	EmailColumn string
	Rows        []Row
}

// Parse reads the first sheet of an xlsx workbook. The first row is
// the header; the email column is detected by name or, failing that,
// by sampling the data. Rows without a plausible email address are
// dropped rather than failing the whole upload.
func Parse(r io.Reader) (*Result, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptySheet
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheets[0], err)
	}
	if len(rows) < 2 {
		return nil, ErrEmptySheet
	}

	columns := rows[0]
	records := make([]map[string]string, 0, len(rows)-1)
	for _, row := range rows[1:] {
		record := make(map[string]string, len(columns))
		for i, col := range columns {
			if col == "" {
				continue
			}
			if i < len(row) {
				record[col] = strings.TrimSpace(row[i])
			} else {
				record[col] = ""
			}
		}
		records = append(records, record)
	}

	emailColumn := detectEmailColumn(columns, records)
	if emailColumn == "" {
		return nil, ErrNoEmailColumn
	}

	result := &Result{
		Columns:     columns,
		EmailColumn: emailColumn,
	}
	for _, record := range records {
		email := record[emailColumn]
		if !emailPattern.MatchString(email) {
			continue
		}
		result.Rows = append(result.Rows, Row{Email: email, Data: record})
	}
	if len(result.Rows) == 0 {
		return nil, ErrNoValidRecipients
	}

	return result, nil
}

// detectEmailColumn prefers a header containing an email keyword, then
// falls back to the first column where at least 80% of a five-row
// sample looks like addresses.
func detectEmailColumn(columns []string, records []map[string]string) string {
	for _, keyword := range emailKeywords {
		for _, col := range columns {
			if strings.Contains(strings.ToLower(col), keyword) {
				return col
			}
		}
	}

	sampleSize := len(records)
	if sampleSize > 5 {
		sampleSize = 5
	}
	if sampleSize == 0 {
		return ""
	}

	for _, col := range columns {
		matches := 0
		for _, record := range records[:sampleSize] {
			if emailPattern.MatchString(record[col]) {
				matches++
			}
		}
		if float64(matches) >= float64(sampleSize)*0.8 {
			return col
		}
	}
	return ""
}
