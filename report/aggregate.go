package report

import (
	"github.com/tsawler/go-emotion/training"
	"gonum.org/v1/gonum/stat"
)

// AverageLabel labels the synthetic mean row
const AverageLabel = "Average"

// MetricsRow is one labelled row of a metrics table: a fold number, a model
// name or the average.
type MetricsRow struct {
	Label   string
	Metrics training.ClassificationMetrics
}

// Aggregate returns a new slice holding rows followed by one row whose
// metrics are the column-wise arithmetic means of rows. The input is never
// modified. An empty input yields an empty result.
func Aggregate(rows []MetricsRow) []MetricsRow {
	out := make([]MetricsRow, len(rows), len(rows)+1)
	copy(out, rows)
	if len(rows) == 0 {
		return out
	}

	return append(out, MetricsRow{Label: AverageLabel, Metrics: Mean(rows)})
}

// Mean returns the column-wise means of the row metrics
func Mean(rows []MetricsRow) training.ClassificationMetrics {
	if len(rows) == 0 {
		return training.ClassificationMetrics{}
	}

	columns := len(rows[0].Metrics.Values())
	means := make([]float64, columns)
	column := make([]float64, len(rows))
	for c := 0; c < columns; c++ {
		for r, row := range rows {
			column[r] = row.Metrics.Values()[c]
		}
		means[c] = stat.Mean(column, nil)
	}

	m, _ := training.ClassificationMetricsFromValues(means)
	return m
}
