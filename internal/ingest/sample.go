package ingest

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

// Sample builds a small example workbook users can download to see
// the expected layout.
func Sample() ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Recipients"
	f.SetSheetName("Sheet1", sheet)

	rows := [][]interface{}{
		{"Name", "Email", "Role", "Company"},
		{"Sahil", "sahil@gmail.com", "Software Developer", "Fortek"},
		{"Alex", "alex@gmail.com", "Product Manager", "TechCorp"},
		{"Maria", "maria@gmail.com", "Marketing Director", "BrandWave"},
	}
	for i, row := range rows {
		cell := fmt.Sprintf("A%d", i+1)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return nil, fmt.Errorf("failed to write sample row: %w", err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to build sample workbook: %w", err)
	}
	return buf.Bytes(), nil
}
