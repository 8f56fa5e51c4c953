package bias

import (
	"math"
	"testing"

	"github.com/tsawler/go-emotion/report"
)

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-12
}

func TestDetect(t *testing.T) {
	yTrue := []int{0, 1, 2, 3, 0, 1}
	yPred := []int{0, 1, 2, 0, 1, 1}
	groups := []string{"male", "male", "female", "female", "male", "female"}

	rows, err := Detect(AttributeGender, yTrue, yPred, groups, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows, expected 2 groups and the average", len(rows))
	}

	female, male, avg := rows[0], rows[1], rows[2]
	if female.Group != "female" || male.Group != "male" || avg.Group != AverageGroup {
		t.Fatalf("unexpected group order: %s, %s, %s", female.Group, male.Group, avg.Group)
	}
	for _, r := range rows {
		if r.Attribute != AttributeGender {
			t.Errorf("row %s has attribute %s", r.Group, r.Attribute)
		}
	}

	// female: true [2,3,1], pred [2,0,1] -> 2 of 3 correct
	if !near(female.Accuracy, 2.0/3.0) {
		t.Errorf("female accuracy %v", female.Accuracy)
	}
	// male: true [0,1,0], pred [0,1,1] -> 2 of 3 correct
	if !near(male.Accuracy, 2.0/3.0) {
		t.Errorf("male accuracy %v", male.Accuracy)
	}
	// male classes 0 and 1: precision 1 and 0.5, recall 0.5 and 1
	if !near(male.Precision, 0.75) || !near(male.Recall, 0.75) {
		t.Errorf("male precision %v recall %v", male.Precision, male.Recall)
	}
	if !near(avg.Accuracy, (female.Accuracy+male.Accuracy)/2) || !near(avg.F1, (female.F1+male.F1)/2) {
		t.Errorf("average row %+v", avg)
	}
}

func TestDetectErrors(t *testing.T) {
	if _, err := Detect(AttributeAge, []int{0}, []int{0, 1}, []string{"a"}, 4); err == nil {
		t.Error("expected error for length mismatch")
	}
	if _, err := Detect(AttributeAge, nil, nil, nil, 4); err == nil {
		t.Error("expected error for empty input")
	}
	if _, err := Detect(AttributeAge, []int{0}, []int{7}, []string{"a"}, 4); err == nil {
		t.Error("expected error for out of range prediction")
	}
}

func TestCombine(t *testing.T) {
	age := []report.BiasRow{
		{Attribute: "age", Group: "old", Accuracy: 0.5, Precision: 0.5, Recall: 0.5, F1: 0.5},
		{Attribute: "age", Group: AverageGroup, Accuracy: 0.6, Precision: 0.4, Recall: 0.2, F1: 0.3},
	}
	gender := []report.BiasRow{
		{Attribute: "gender", Group: "female", Accuracy: 0.9, Precision: 0.9, Recall: 0.9, F1: 0.9},
		{Attribute: "gender", Group: AverageGroup, Accuracy: 0.8, Precision: 0.6, Recall: 0.4, F1: 0.5},
	}

	rows := Combine(age, gender)
	if len(rows) != 5 {
		t.Fatalf("got %d rows, expected 5", len(rows))
	}
	overall := rows[4]
	if overall.Attribute != OverallAttribute || overall.Group != OverallGroup {
		t.Errorf("overall row labelled %s/%s", overall.Attribute, overall.Group)
	}
	if !near(overall.Accuracy, 0.7) || !near(overall.Precision, 0.5) || !near(overall.Recall, 0.3) || !near(overall.F1, 0.4) {
		t.Errorf("overall row %+v", overall)
	}

	if got := Combine(); len(got) != 0 {
		t.Errorf("Combine() = %v", got)
	}
}

func TestCombineIgnoresGroupNamedAverage(t *testing.T) {
	yTrue := []int{0, 0, 1, 1}
	yPred := []int{0, 0, 0, 0}
	rows, err := Detect("age", yTrue, yPred, []string{"Average", "Average", "senior", "senior"}, 2)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	// Average group scores 1.0, senior 0.0, so the synthetic row is 0.5
	if len(rows) != 3 || rows[0].Group != "Average" || rows[2].Group != AverageGroup {
		t.Fatalf("rows = %+v", rows)
	}

	combined := Combine(rows)
	if len(combined) != 4 {
		t.Fatalf("got %d rows, expected 4", len(combined))
	}
	if overall := combined[3]; !near(overall.Accuracy, 0.5) {
		t.Errorf("overall accuracy = %v, expected 0.5 from the trailing Average row only", overall.Accuracy)
	}
}
