// Package utils holds file helpers shared by the command-line tools.
package utils

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"papertrader/internal/domain"
)

var tickHeader = []string{"time", "symbol", "price", "condition"}

// WriteTicksToCSV writes ticks to a new file, replacing any existing one.
func WriteTicksToCSV(ticks []domain.Tick, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := WriteTicks(file, ticks); err != nil {
		return err
	}
	return file.Close()
}

// WriteTicks writes a header and one row per tick.
func WriteTicks(w io.Writer, ticks []domain.Tick) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(tickHeader); err != nil {
		return err
	}
	for _, t := range ticks {
		cond := t.Condition
		if cond == "" {
			cond = domain.ConditionNormal
		}
		if err := writer.Write([]string{
			t.Time.UTC().Format(time.RFC3339Nano),
			t.Symbol,
			t.Price.String(),
			string(cond),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// ReadTicksFromCSV reads a tick file written by WriteTicksToCSV.
func ReadTicksFromCSV(filename string) ([]domain.Tick, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return ReadTicks(file)
}

// ReadTicks parses tick rows. The header row is required; an empty condition
// column means NORMAL.
func ReadTicks(r io.Reader) ([]domain.Tick, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = len(tickHeader)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("empty tick file")
	}
	if err != nil {
		return nil, err
	}
	for i, col := range tickHeader {
		if header[i] != col {
			return nil, fmt.Errorf("unexpected column %q at position %d, want %q", header[i], i+1, col)
		}
	}

	var ticks []domain.Tick
	for line := 2; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		ts, err := time.Parse(time.RFC3339Nano, row[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid time: %w", line, err)
		}
		price, err := decimal.NewFromString(row[2])
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid price: %w", line, err)
		}
		cond, err := domain.ParseCondition(row[3])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if row[1] == "" {
			return nil, fmt.Errorf("line %d: missing symbol", line)
		}
		ticks = append(ticks, domain.Tick{Time: ts, Symbol: row[1], Price: price, Condition: cond})
	}
	return ticks, nil
}
