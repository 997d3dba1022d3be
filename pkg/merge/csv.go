package merge

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"sort"

	"github.com/Sternrassler/fudo-extractor/pkg/record"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Decode parses a partition blob. Empty input yields no header and no rows.
func Decode(data []byte) ([]string, []record.Record, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil, nil
	}

	r := csv.NewReader(bytes.NewReader(data))
	header, err := r.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("read csv header: %w", err)
	}
	header = append([]string(nil), header...)

	var rows []record.Record
	for {
		fields, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read csv row %d: %w", len(rows)+1, err)
		}
		row := make(record.Record, len(header))
		for i, col := range header {
			row[col] = fields[i]
		}
		rows = append(rows, row)
	}
	return header, rows, nil
}

// Encode writes header and rows as CSV. Cells missing from a row are empty.
func Encode(header []string, rows []record.Record) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	line := make([]string, len(header))
	for _, row := range rows {
		for i, col := range header {
			line[i] = row[col]
		}
		if err := w.Write(line); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

// Header extends base with every column of rows it lacks. New columns are
// sorted; record.IDField leads when base is empty.
func Header(base []string, rows []record.Record) []string {
	known := make(map[string]bool, len(base))
	for _, col := range base {
		known[col] = true
	}

	var extra []string
	for _, row := range rows {
		for col := range row {
			if !known[col] {
				known[col] = true
				extra = append(extra, col)
			}
		}
	}
	sort.Strings(extra)
	if len(base) == 0 {
		sort.SliceStable(extra, func(i, j int) bool {
			return extra[i] == record.IDField && extra[j] != record.IDField
		})
	}

	return append(append([]string(nil), base...), extra...)
}
