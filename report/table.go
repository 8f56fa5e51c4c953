package report

import (
	"strconv"
	"strings"
)

// Column is one table column. Group is the upper header level and is empty
// for ungrouped columns.
type Column struct {
	Group string
	Name  string
}

// Table is a rectangular string table with an optionally grouped header
type Table struct {
	Columns []Column
	Rows    [][]string
}

// Grouped reports whether the header has a second level
func (t Table) Grouped() bool {
	for _, c := range t.Columns {
		if c.Group != "" {
			return true
		}
	}
	return false
}

// HeaderLines returns one header line per level. Grouped headers produce the
// group line followed by the name line.
func (t Table) HeaderLines() [][]string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	if !t.Grouped() {
		return [][]string{names}
	}

	groups := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		groups[i] = c.Group
	}
	return [][]string{groups, names}
}

// Records returns the header lines followed by the data rows
func (t Table) Records() [][]string {
	return append(t.HeaderLines(), t.Rows...)
}

// Column returns the values of the named column, or nil if it is absent.
// The first column with the name wins.
func (t Table) Column(group, name string) []string {
	for i, c := range t.Columns {
		if c.Group == group && c.Name == name {
			out := make([]string, len(t.Rows))
			for r, row := range t.Rows {
				out[r] = row[i]
			}
			return out
		}
	}
	return nil
}

// Metrics table header columns
const (
	FoldColumn  = "Fold"
	ModelColumn = "model"
)

// NewMetricsTable lays out metric rows with the grouped header
// ('', key) | ('Macro', Precision Recall F1) | ('Micro', ...) | ('', Accuracy).
// key is FoldColumn for cross-validation and ModelColumn for holdout runs.
func NewMetricsTable(key string, rows []MetricsRow) Table {
	t := Table{
		Columns: []Column{
			{Name: key},
			{Group: "Macro", Name: "Precision"},
			{Group: "Macro", Name: "Recall"},
			{Group: "Macro", Name: "F1"},
			{Group: "Micro", Name: "Precision"},
			{Group: "Micro", Name: "Recall"},
			{Group: "Micro", Name: "F1"},
			{Name: "Accuracy"},
		},
		Rows: make([][]string, 0, len(rows)),
	}

	for _, row := range rows {
		m := row.Metrics
		t.Rows = append(t.Rows, []string{
			row.Label,
			FormatFloat(m.PrecisionMacro),
			FormatFloat(m.RecallMacro),
			FormatFloat(m.F1Macro),
			FormatFloat(m.PrecisionMicro),
			FormatFloat(m.RecallMicro),
			FormatFloat(m.F1Micro),
			FormatFloat(m.Accuracy),
		})
	}
	return t
}

// FormatFloat renders a value the way the reports have always shown it:
// shortest round-trip digits, with integral values keeping a ".0".
func FormatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".NI") {
		s += ".0"
	}
	return s
}
