// Package csvrows parses header-delimited text into ordered, name-addressed rows.
//
// The first non-blank record is the header. Blank lines and records whose
// fields are all empty are skipped, so consumers never see them. No schema is
// enforced beyond "keys come from the header line": callers read fields by
// name and must tolerate missing or blank values.
//
// Quoting is lenient: a bare quote inside an unquoted field is kept as a
// literal character, and an unterminated quoted field runs to end of input.
// Only read errors from the underlying stream fail a parse.
package csvrows

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

const bom = "\ufeff"

// Row maps a column name to its string value.
type Row map[string]string

// Get returns the value for name, or "" when the column is absent.
func (r Row) Get(name string) string {
	return r[name]
}

// Trimmed returns the value for name with surrounding whitespace removed.
func (r Row) Trimmed(name string) string {
	return strings.TrimSpace(r[name])
}

// Blank reports whether every value in the row is empty after trimming.
func (r Row) Blank() bool {
	for _, v := range r {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// RowSet is an ordered sequence of rows; order is file order.
type RowSet []Row

// Len returns the number of rows.
func (s RowSet) Len() int { return len(s) }

// Parse parses text with header: true and skipEmptyLines: true semantics.
func Parse(text string) (RowSet, error) {
	return ParseReader(strings.NewReader(text))
}

// ParseReader is Parse over a stream.
func ParseReader(r io.Reader) (RowSet, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = false

	var header []string
	rows := RowSet{}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csvrows: %w", err)
		}
		if blankRecord(rec) {
			continue
		}
		if header == nil {
			header = normaliseHeader(rec)
			continue
		}
		row := make(Row, len(header))
		for i, name := range header {
			if i >= len(rec) {
				break
			}
			if name == "" {
				continue
			}
			row[name] = rec[i]
		}
		if row.Blank() {
			continue
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func normaliseHeader(rec []string) []string {
	h := make([]string, len(rec))
	for i, name := range rec {
		if i == 0 {
			name = strings.TrimPrefix(name, bom)
		}
		h[i] = strings.TrimSpace(name)
	}
	return h
}

func blankRecord(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
