package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/xuri/excelize/v2"
)

func buildSheet(t *testing.T, rows [][]interface{}) *bytes.Reader {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()

	for i, row := range rows {
		cell := fmt.Sprintf("A%d", i+1)
		if err := f.SetSheetRow("Sheet1", cell, &row); err != nil {
			t.Fatalf("failed to write row %d: %v", i, err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("failed to build workbook: %v", err)
	}
	return bytes.NewReader(buf.Bytes())
}

func TestParseDetectsEmailColumnByName(t *testing.T) {
	r := buildSheet(t, [][]interface{}{
		{"Name", "Email", "Company"},
		{"Priya", "priya@example.com", "Acme"},
		{"Dev", "dev@example.com", "Initech"},
	})

	result, err := Parse(r)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	if result.EmailColumn != "Email" {
		t.Errorf("EmailColumn = %q, want Email", result.EmailColumn)
	}
	if len(result.Columns) != 3 {
		t.Errorf("Columns = %v", result.Columns)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(result.Rows))
	}
	if result.Rows[0].Email != "priya@example.com" {
		t.Errorf("row[0].Email = %q", result.Rows[0].Email)
	}
	if result.Rows[0].Data["Company"] != "Acme" {
		t.Errorf("row[0].Data = %v", result.Rows[0].Data)
	}
}

func TestParseDetectsEmailColumnByContent(t *testing.T) {
	r := buildSheet(t, [][]interface{}{
		{"Name", "Contact"},
		{"Priya", "priya@example.com"},
		{"Dev", "dev@example.com"},
		{"Sam", "sam@example.com"},
	})

	result, err := Parse(r)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if result.EmailColumn != "Contact" {
		t.Errorf("EmailColumn = %q, want Contact", result.EmailColumn)
	}
}

func TestParseSkipsInvalidEmails(t *testing.T) {
	r := buildSheet(t, [][]interface{}{
		{"Name", "Email"},
		{"Good", "good@example.com"},
		{"Bad", "not-an-email"},
		{"Empty", ""},
		{"AlsoGood", "also@example.com"},
	})

	result, err := Parse(r)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(result.Rows))
	}
	if result.Rows[1].Email != "also@example.com" {
		t.Errorf("row[1].Email = %q", result.Rows[1].Email)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		rows    [][]interface{}
		wantErr error
	}{
		{"header only", [][]interface{}{{"Name", "Email"}}, ErrEmptySheet},
		{"no email column", [][]interface{}{
			{"Name", "City"},
			{"Priya", "Pune"},
		}, ErrNoEmailColumn},
		{"all rows invalid", [][]interface{}{
			{"Name", "Email"},
			{"Bad", "nope"},
		}, ErrNoValidRecipients},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(buildSheet(t, tt.rows)); !errors.Is(err, tt.wantErr) {
				t.Errorf("Parse() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseGarbageInput(t *testing.T) {
	if _, err := Parse(bytes.NewReader([]byte("not an xlsx file"))); err == nil {
		t.Error("Parse() expected error for non-xlsx input")
	}
}

func TestSampleRoundTrips(t *testing.T) {
	data, err := Sample()
	if err != nil {
		t.Fatalf("Sample() error: %v", err)
	}

	result, err := Parse(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Parse(sample) error: %v", err)
	}
	if result.EmailColumn != "Email" {
		t.Errorf("EmailColumn = %q, want Email", result.EmailColumn)
	}
	if len(result.Rows) != 3 {
		t.Errorf("got %d rows, want 3", len(result.Rows))
	}
}
