package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
)

// exportCSV writes one header row and one record per item. Grouped views
// get a leading Group column.
func exportCSV(t Table) (*Result, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	grouped := t.grouped()

	header := t.Columns
	if grouped {
		header = append([]string{"Group"}, t.Columns...)
	}
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for _, g := range t.Groups {
		for _, row := range g.Rows {
			if grouped {
				row = append([]string{g.Title}, row...)
			}
			if err := w.Write(row); err != nil {
				return nil, fmt.Errorf("write csv row: %w", err)
			}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}

	return &Result{
		Data:     buf.Bytes(),
		Filename: sanitizeFilename(t.Title) + ".csv",
		MimeType: "text/csv; charset=utf-8",
	}, nil
}
