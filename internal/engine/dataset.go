package engine

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Dataset is a numeric table: predictors X (row-major) and target Y.
type Dataset struct {
	X             [][]float64
	Y             []float64
	VariableNames []string
}

// Features returns the number of predictor columns.
func (d *Dataset) Features() int {
	if len(d.X) == 0 {
		return 0
	}
	return len(d.X[0])
}

// Rows returns the number of samples.
func (d *Dataset) Rows() int {
	return len(d.Y)
}

// ParseCSV reads comma-separated text. The last column is the target; every
// preceding column is a predictor. Cells are trimmed before parsing.
func ParseCSV(text string, hasHeader bool) (*Dataset, error) {
	reader := csv.NewReader(strings.NewReader(text))
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1 // ragged rows get a better message below

	var headers []string
	var rows [][]float64
	first := true

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv: %w", err)
		}
		if isBlank(record) {
			continue
		}

		if first && hasHeader {
			first = false
			for _, h := range record {
				headers = append(headers, strings.TrimSpace(h))
			}
			continue
		}
		first = false

		row := make([]float64, len(record))
		for j, cell := range record {
			cell = strings.TrimSpace(cell)
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, fmt.Errorf("failed to parse %q as f64: %w", cell, err)
			}
			row[j] = v
		}
		rows = append(rows, row)
	}

	if len(rows) == 0 {
		return nil, errors.New("CSV had no data rows")
	}
	nCols := len(rows[0])
	if nCols < 2 {
		return nil, errors.New("CSV must have at least 2 columns (features..., target)")
	}
	for i, row := range rows {
		if len(row) != nCols {
			return nil, fmt.Errorf("row %d has %d columns but expected %d", i, len(row), nCols)
		}
	}

	nFeatures := nCols - 1
	ds := &Dataset{
		X: make([][]float64, len(rows)),
		Y: make([]float64, len(rows)),
	}
	for i, row := range rows {
		ds.X[i] = row[:nFeatures:nFeatures]
		ds.Y[i] = row[nFeatures]
	}

	if hasHeader && len(headers) == nCols {
		ds.VariableNames = headers[:nFeatures]
	} else {
		ds.VariableNames = make([]string, nFeatures)
		for j := range ds.VariableNames {
			ds.VariableNames[j] = fmt.Sprintf("x%d", j+1)
		}
	}
	return ds, nil
}

func isBlank(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
