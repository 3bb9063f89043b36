// Package report consumes the enriched CSV table and produces the
// derived artifacts: per-project totals and notification address lists.
package report

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"strconv"
	"strings"
)

// ErrMissingColumn reports an input table that lacks a column a
// derivation depends on. It is a configuration problem, not bad data,
// so callers abort instead of skipping.
var ErrMissingColumn = errors.New("required column missing")

// Column names of the enriched table this package keys on.
const (
	ColumnProject = "projekt"
	ColumnMeasure = "measure"
	ColumnEmail   = "Email address"
)

// Table is a parsed enriched CSV: a header plus data rows, both in
// file order.
type Table struct {
	Header []string
	Rows   [][]string
}

// ReadTable parses an enriched CSV stream. The first record is the
// header; ragged rows are rejected by the csv reader itself.
func ReadTable(r io.Reader) (Table, error) {
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return Table{}, fmt.Errorf("parse enriched table: %w", err)
	}
	if len(records) == 0 {
		return Table{}, fmt.Errorf("parse enriched table: no header row")
	}
	return Table{Header: records[0], Rows: records[1:]}, nil
}

func (t Table) columnIndex(name string) (int, error) {
	for i, h := range t.Header {
		if h == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrMissingColumn, name)
}

// ProjectTotal is one project's summed measure.
type ProjectTotal struct {
	Project string
	Measure int64
}

// ProjectTotals groups the table by project and sums the measure
// column. Rows with a non-numeric measure contribute zero and are
// logged; the grand total is otherwise conserved. Results are sorted
// by project id.
func ProjectTotals(t Table, logger *log.Logger) ([]ProjectTotal, error) {
	projectIdx, err := t.columnIndex(ColumnProject)
	if err != nil {
		return nil, err
	}
	measureIdx, err := t.columnIndex(ColumnMeasure)
	if err != nil {
		return nil, err
	}

	totals := make(map[string]int64)
	for i, row := range t.Rows {
		measure, err := strconv.ParseInt(row[measureIdx], 10, 64)
		if err != nil {
			logger.Printf("row %d: non-numeric measure %q counted as 0", i+2, row[measureIdx])
			measure = 0
		}
		totals[row[projectIdx]] += measure
	}

	result := make([]ProjectTotal, 0, len(totals))
	for project, measure := range totals {
		result = append(result, ProjectTotal{Project: project, Measure: measure})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Project < result[j].Project })
	return result, nil
}

// WriteProjectTotals emits the grouped table as CSV.
func WriteProjectTotals(w io.Writer, totals []ProjectTotal) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{ColumnProject, ColumnMeasure}); err != nil {
		return fmt.Errorf("write totals header: %w", err)
	}
	for _, t := range totals {
		if err := cw.Write([]string{t.Project, strconv.FormatInt(t.Measure, 10)}); err != nil {
			return fmt.Errorf("write totals row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush totals: %w", err)
	}
	return nil
}

// TopEmails returns up to limit addresses from the table, preserving
// input order. Empty addresses are skipped, as are addresses whose
// domain contains marker (case-insensitive); those belong to staff who
// must not receive top-user notifications. The domain is everything
// after the last '@', so quoted local parts cannot smuggle a marker
// match.
func TopEmails(t Table, limit int, marker string) ([]string, error) {
	emailIdx, err := t.columnIndex(ColumnEmail)
	if err != nil {
		return nil, err
	}

	marker = strings.ToLower(marker)
	var emails []string
	for _, row := range t.Rows {
		if len(emails) == limit {
			break
		}
		addr := row[emailIdx]
		if addr == "" {
			continue
		}
		if marker != "" {
			at := strings.LastIndex(addr, "@")
			if at >= 0 && strings.Contains(strings.ToLower(addr[at+1:]), marker) {
				continue
			}
		}
		emails = append(emails, addr)
	}
	return emails, nil
}

// WriteEmails writes the address list as a single semicolon-separated
// line, ready to paste into a mail client.
func WriteEmails(w io.Writer, emails []string) error {
	if _, err := io.WriteString(w, strings.Join(emails, ";")+"\n"); err != nil {
		return fmt.Errorf("write email list: %w", err)
	}
	return nil
}
