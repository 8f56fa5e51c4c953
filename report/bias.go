package report

// BiasRow is one subgroup line of a bias audit
type BiasRow struct {
	Attribute string
	Group     string
	Accuracy  float64
	Precision float64
	Recall    float64
	F1        float64
}

// NewBiasTable lays out bias rows under a flat header
func NewBiasTable(rows []BiasRow) Table {
	t := Table{
		Columns: []Column{
			{Name: "Attribute"},
			{Name: "Group"},
			{Name: "Accuracy"},
			{Name: "Precision"},
			{Name: "Recall"},
			{Name: "F1"},
		},
		Rows: make([][]string, 0, len(rows)),
	}

	for _, r := range rows {
		t.Rows = append(t.Rows, []string{
			r.Attribute,
			r.Group,
			FormatFloat(r.Accuracy),
			FormatFloat(r.Precision),
			FormatFloat(r.Recall),
			FormatFloat(r.F1),
		})
	}
	return t
}
