package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// extractXLSX renders each sheet as tab-separated rows, skipping empty rows
// and trailing empty cells. Workbooks with more than one non-empty sheet get
// a "[name]" header per sheet.
func extractXLSX(content []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("%w: xlsx: %v", ErrMalformed, err)
	}
	defer f.Close()

	type sheetText struct {
		name string
		body string
	}
	var sheets []sheetText
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			return "", fmt.Errorf("%w: xlsx sheet %q: %v", ErrMalformed, name, err)
		}
		lines := make([]string, 0, len(rows))
		for _, row := range rows {
			end := len(row)
			for end > 0 && strings.TrimSpace(row[end-1]) == "" {
				end--
			}
			if end > 0 {
				lines = append(lines, strings.Join(row[:end], "\t"))
			}
		}
		if len(lines) > 0 {
			sheets = append(sheets, sheetText{name: name, body: strings.Join(lines, "\n")})
		}
	}

	parts := make([]string, len(sheets))
	for i, s := range sheets {
		if len(sheets) > 1 {
			parts[i] = "[" + s.name + "]\n" + s.body
		} else {
			parts[i] = s.body
		}
	}
	return strings.Join(parts, pageBreak), nil
}
