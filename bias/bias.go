// Package bias screens a trained classifier for performance gaps between
// demographic subgroups of the test set.
package bias

import (
	"fmt"
	"sort"

	"github.com/tsawler/go-emotion/report"
	"github.com/tsawler/go-emotion/training"
	"gonum.org/v1/gonum/stat"
)

// Attribute names understood by the bias stage
const (
	AttributeAge    = "age"
	AttributeGender = "gender"
)

// Labels used in the summary rows
const (
	AverageGroup     = "Average"
	OverallAttribute = "Average"
	OverallGroup     = "All"
)

// Detect scores predictions per value of one attribute. groups[i] is the
// attribute value of sample i. Groups appear in sorted order followed by an
// Average row over the groups. Precision, recall and F1 are macro averages
// with zero_division=1.
func Detect(attribute string, yTrue, yPred []int, groups []string, numClasses int) ([]report.BiasRow, error) {
	if len(yTrue) != len(yPred) || len(yTrue) != len(groups) {
		return nil, fmt.Errorf("bias %s: %d labels, %d predictions, %d group values", attribute, len(yTrue), len(yPred), len(groups))
	}
	if len(yTrue) == 0 {
		return nil, fmt.Errorf("bias %s: no samples", attribute)
	}

	members := make(map[string][]int)
	for i, g := range groups {
		members[g] = append(members[g], i)
	}
	names := make([]string, 0, len(members))
	for g := range members {
		names = append(names, g)
	}
	sort.Strings(names)

	rows := make([]report.BiasRow, 0, len(names)+1)
	for _, g := range names {
		idx := members[g]
		t := make([]int, len(idx))
		p := make([]int, len(idx))
		for i, j := range idx {
			t[i], p[i] = yTrue[j], yPred[j]
		}
		m, err := training.Evaluate(t, p, numClasses)
		if err != nil {
			return nil, fmt.Errorf("bias %s=%s: %w", attribute, g, err)
		}
		rows = append(rows, report.BiasRow{
			Attribute: attribute,
			Group:     g,
			Accuracy:  m.Accuracy,
			Precision: m.PrecisionMacro,
			Recall:    m.RecallMacro,
			F1:        m.F1Macro,
		})
	}

	avg := average(rows)
	avg.Attribute = attribute
	avg.Group = AverageGroup
	return append(rows, avg), nil
}

// Combine concatenates tables produced by Detect and appends the overall
// row, the mean of each table's trailing Average row. The trailing row is
// taken by position, so a real group named "Average" is never mistaken for it.
func Combine(tables ...[]report.BiasRow) []report.BiasRow {
	var out, averages []report.BiasRow
	for _, rows := range tables {
		if len(rows) == 0 {
			continue
		}
		out = append(out, rows...)
		averages = append(averages, rows[len(rows)-1])
	}
	if len(averages) == 0 {
		return out
	}

	overall := average(averages)
	overall.Attribute = OverallAttribute
	overall.Group = OverallGroup
	return append(out, overall)
}

func average(rows []report.BiasRow) report.BiasRow {
	col := func(get func(report.BiasRow) float64) float64 {
		v := make([]float64, len(rows))
		for i, r := range rows {
			v[i] = get(r)
		}
		return stat.Mean(v, nil)
	}
	return report.BiasRow{
		Accuracy:  col(func(r report.BiasRow) float64 { return r.Accuracy }),
		Precision: col(func(r report.BiasRow) float64 { return r.Precision }),
		Recall:    col(func(r report.BiasRow) float64 { return r.Recall }),
		F1:        col(func(r report.BiasRow) float64 { return r.F1 }),
	}
}
