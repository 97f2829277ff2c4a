package kline

import (
	"encoding/csv"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	apperrors "qcat-backtest/internal/errors"
)

// LoadCSV reads a series from a timestamp,open,high,low,close,volume file
func LoadCSV(path, symbol string, interval Interval) (*Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrCodeInvalidInput, "failed to open price file", err)
	}
	defer f.Close()

	return ReadCSV(f, symbol, interval)
}

// ReadCSV parses bars from CSV. A header row is skipped when its first
// column does not parse as a timestamp. Rows are sorted by time.
func ReadCSV(r io.Reader, symbol string, interval Interval) (*Series, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	var klines []Kline
	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, apperrors.NewAppErrorWithDetails(apperrors.ErrCodeInvalidInput,
				"malformed csv", "line "+strconv.Itoa(line), err)
		}
		if len(record) == 0 || (len(record) == 1 && strings.TrimSpace(record[0]) == "") {
			continue
		}

		ts, tsErr := parseTimestamp(record[0])
		if tsErr != nil && line == 1 {
			continue
		}
		if tsErr != nil {
			return nil, apperrors.InvalidInput("line %d: invalid timestamp %q", line, record[0])
		}
		if len(record) < 6 {
			return nil, apperrors.InvalidInput("line %d: expected 6 columns, got %d", line, len(record))
		}

		var vals [5]float64
		for i := range vals {
			v, err := strconv.ParseFloat(strings.TrimSpace(record[i+1]), 64)
			if err != nil {
				return nil, apperrors.InvalidInput("line %d: column %d is not a number", line, i+2)
			}
			vals[i] = v
		}

		klines = append(klines, Kline{
			OpenTime: ts,
			Open:     vals[0],
			High:     vals[1],
			Low:      vals[2],
			Close:    vals[3],
			Volume:   vals[4],
		})
	}

	sort.SliceStable(klines, func(i, j int) bool {
		return klines[i].OpenTime.Before(klines[j].OpenTime)
	})

	return NewSeries(symbol, interval, klines), nil
}

// WriteCSV writes a series in the format ReadCSV accepts
func WriteCSV(w io.Writer, s *Series) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"timestamp", "open", "high", "low", "close", "volume"}); err != nil {
		return err
	}
	for _, k := range s.Klines {
		row := []string{
			strconv.FormatInt(k.OpenTime.UnixMilli(), 10),
			strconv.FormatFloat(k.Open, 'f', -1, 64),
			strconv.FormatFloat(k.High, 'f', -1, 64),
			strconv.FormatFloat(k.Low, 'f', -1, 64),
			strconv.FormatFloat(k.Close, 'f', -1, 64),
			strconv.FormatFloat(k.Volume, 'f', -1, 64),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// parseTimestamp accepts unix seconds, unix milliseconds or RFC3339
func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	return time.Parse("2006-01-02", raw)
}
