package plan

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	apperrors "github.com/vfbgraph/graphmaint/internal/errors"
)

// DefaultTSVBatch is the number of rows bound to one UNWIND statement
const DefaultTSVBatch = 1000

// RowBatch is a run of data rows keyed by header name. First and Last are
// 1-based data row numbers (the header is not counted).
type RowBatch struct {
	First int
	Last  int
	Rows  []map[string]any
}

// ReadRowBatches reads a delimited file with a header row into batches of size rows
func ReadRowBatches(path string, delimiter rune, size int) ([]RowBatch, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.FileSystemErrorf(err, "failed to open %s", path)
	}
	defer f.Close()

	batches, err := ParseRowBatches(f, delimiter, size)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return batches, nil
}

// ParseRowBatches parses delimited records with a header row. Values stay
// strings; conversion belongs in the row statement (toFloat(row.score)).
// Stray quotes inside unquoted fields are tolerated.
func ParseRowBatches(r io.Reader, delimiter rune, size int) ([]RowBatch, error) {
	if size <= 0 {
		size = DefaultTSVBatch
	}

	reader := csv.NewReader(r)
	reader.Comma = delimiter
	reader.LazyQuotes = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("missing header row")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	for i, h := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if header[i] == "" {
			return nil, fmt.Errorf("header column %d is empty", i+1)
		}
	}
	reader.FieldsPerRecord = len(header)

	var (
		batches []RowBatch
		current RowBatch
		rowNum  int
	)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row %d: %w", rowNum+1, err)
		}

		rowNum++
		row := make(map[string]any, len(header))
		for i, col := range header {
			row[col] = record[i]
		}

		if len(current.Rows) == 0 {
			current.First = rowNum
		}
		current.Rows = append(current.Rows, row)
		current.Last = rowNum

		if len(current.Rows) == size {
			batches = append(batches, current)
			current = RowBatch{}
		}
	}
	if len(current.Rows) > 0 {
		batches = append(batches, current)
	}

	return batches, nil
}
