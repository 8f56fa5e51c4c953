package training

import (
	"fmt"
)

// MetricType represents different evaluation metrics
type MetricType int

const (
	Accuracy MetricType = iota
	MacroPrecision
	MacroRecall
	MacroF1
	MicroPrecision
	MicroRecall
	MicroF1
)

func (mt MetricType) String() string {
	switch mt {
	case Accuracy:
		return "Accuracy"
	case MacroPrecision:
		return "MacroPrecision"
	case MacroRecall:
		return "MacroRecall"
	case MacroF1:
		return "MacroF1"
	case MicroPrecision:
		return "MicroPrecision"
	case MicroRecall:
		return "MicroRecall"
	case MicroF1:
		return "MicroF1"
	default:
		return fmt.Sprintf("Unknown(%d)", int(mt))
	}
}

// DefaultZeroDivision is the value used for a ratio whose denominator is zero
const DefaultZeroDivision = 1.0

// ConfusionMatrix represents a confusion matrix for classification tasks.
// Macro averages are taken over the classes that occur in either the true
// or the predicted labels; any per-class ratio with a zero denominator
// scores ZeroDivision instead of failing.
type ConfusionMatrix struct {
	NumClasses   int
	Matrix       [][]int // [true_class][predicted_class]
	TotalSamples int
	ZeroDivision float64

	// Cached metrics to avoid recomputation
	cachedMetrics map[MetricType]float64
	metricsValid  bool
}

// NewConfusionMatrix creates a new confusion matrix
func NewConfusionMatrix(numClasses int) *ConfusionMatrix {
	matrix := make([][]int, numClasses)
	for i := range matrix {
		matrix[i] = make([]int, numClasses)
	}

	return &ConfusionMatrix{
		NumClasses:    numClasses,
		Matrix:        matrix,
		ZeroDivision:  DefaultZeroDivision,
		cachedMetrics: make(map[MetricType]float64),
	}
}

// Reset clears the confusion matrix
func (cm *ConfusionMatrix) Reset() {
	for i := range cm.Matrix {
		for j := range cm.Matrix[i] {
			cm.Matrix[i][j] = 0
		}
	}
	cm.TotalSamples = 0
	cm.metricsValid = false
	cm.cachedMetrics = make(map[MetricType]float64)
}

// Update adds paired true and predicted class labels
func (cm *ConfusionMatrix) Update(yTrue, yPred []int) error {
	if len(yTrue) != len(yPred) {
		return fmt.Errorf("labels length mismatch: %d true, %d predicted", len(yTrue), len(yPred))
	}

	for i := range yTrue {
		t, p := yTrue[i], yPred[i]
		if t < 0 || t >= cm.NumClasses || p < 0 || p >= cm.NumClasses {
			return fmt.Errorf("sample %d: class out of range [0, %d): true %d, predicted %d", i, cm.NumClasses, t, p)
		}
		cm.Matrix[t][p]++
		cm.TotalSamples++
	}

	cm.metricsValid = false
	cm.cachedMetrics = make(map[MetricType]float64)
	return nil
}

// GetMetric calculates and caches evaluation metrics
func (cm *ConfusionMatrix) GetMetric(metric MetricType) float64 {
	if cm.metricsValid {
		if value, exists := cm.cachedMetrics[metric]; exists {
			return value
		}
	}

	var result float64

	switch metric {
	case Accuracy:
		result = cm.GetAccuracy()
	case MacroPrecision:
		result = cm.macro(cm.ClassPrecision)
	case MacroRecall:
		result = cm.macro(cm.ClassRecall)
	case MacroF1:
		result = cm.macro(cm.ClassF1)
	case MicroPrecision:
		tp, fp, _ := cm.totals()
		result = cm.ratio(tp, tp+fp)
	case MicroRecall:
		tp, _, fn := cm.totals()
		result = cm.ratio(tp, tp+fn)
	case MicroF1:
		tp, fp, fn := cm.totals()
		result = cm.ratio(2*tp, 2*tp+fp+fn)
	default:
		return 0.0
	}

	cm.cachedMetrics[metric] = result
	cm.metricsValid = true
	return result
}

// GetAccuracy returns overall classification accuracy
func (cm *ConfusionMatrix) GetAccuracy() float64 {
	if cm.TotalSamples == 0 {
		return 0.0
	}

	correct := 0
	for i := 0; i < cm.NumClasses; i++ {
		correct += cm.Matrix[i][i]
	}

	return float64(correct) / float64(cm.TotalSamples)
}

// ClassPrecision returns tp / (tp + fp) for one class
func (cm *ConfusionMatrix) ClassPrecision(class int) float64 {
	tp, fp, _ := cm.counts(class)
	return cm.ratio(tp, tp+fp)
}

// ClassRecall returns tp / (tp + fn) for one class
func (cm *ConfusionMatrix) ClassRecall(class int) float64 {
	tp, _, fn := cm.counts(class)
	return cm.ratio(tp, tp+fn)
}

// ClassF1 returns 2tp / (2tp + fp + fn) for one class
func (cm *ConfusionMatrix) ClassF1(class int) float64 {
	tp, fp, fn := cm.counts(class)
	return cm.ratio(2*tp, 2*tp+fp+fn)
}

// PresentClasses returns the classes with at least one true or predicted sample
func (cm *ConfusionMatrix) PresentClasses() []int {
	var present []int
	for class := 0; class < cm.NumClasses; class++ {
		tp, fp, fn := cm.counts(class)
		if tp+fp+fn > 0 {
			present = append(present, class)
		}
	}
	return present
}

func (cm *ConfusionMatrix) macro(perClass func(int) float64) float64 {
	present := cm.PresentClasses()
	if len(present) == 0 {
		return cm.ZeroDivision
	}

	sum := 0.0
	for _, class := range present {
		sum += perClass(class)
	}
	return sum / float64(len(present))
}

// counts returns true positives, false positives and false negatives of a class
func (cm *ConfusionMatrix) counts(class int) (tp, fp, fn float64) {
	tp = float64(cm.Matrix[class][class])
	for other := 0; other < cm.NumClasses; other++ {
		if other == class {
			continue
		}
		fp += float64(cm.Matrix[other][class])
		fn += float64(cm.Matrix[class][other])
	}
	return tp, fp, fn
}

func (cm *ConfusionMatrix) totals() (tp, fp, fn float64) {
	for class := 0; class < cm.NumClasses; class++ {
		ctp, cfp, cfn := cm.counts(class)
		tp += ctp
		fp += cfp
		fn += cfn
	}
	return tp, fp, fn
}

func (cm *ConfusionMatrix) ratio(num, den float64) float64 {
	if den == 0 {
		return cm.ZeroDivision
	}
	return num / den
}

// ClassificationMetrics is one row of holdout or fold evaluation results
type ClassificationMetrics struct {
	Accuracy       float64
	PrecisionMacro float64
	PrecisionMicro float64
	RecallMacro    float64
	RecallMicro    float64
	F1Macro        float64
	F1Micro        float64
}

// Values returns the metrics in report column order: accuracy, macro and
// micro precision, recall, F1
func (m ClassificationMetrics) Values() []float64 {
	return []float64{
		m.Accuracy,
		m.PrecisionMacro,
		m.PrecisionMicro,
		m.RecallMacro,
		m.RecallMicro,
		m.F1Macro,
		m.F1Micro,
	}
}

// ClassificationMetricsFromValues is the inverse of Values
func ClassificationMetricsFromValues(v []float64) (ClassificationMetrics, error) {
	if len(v) != 7 {
		return ClassificationMetrics{}, fmt.Errorf("expected 7 metric values, got %d", len(v))
	}
	return ClassificationMetrics{
		Accuracy:       v[0],
		PrecisionMacro: v[1],
		PrecisionMicro: v[2],
		RecallMacro:    v[3],
		RecallMicro:    v[4],
		F1Macro:        v[5],
		F1Micro:        v[6],
	}, nil
}

// Evaluate scores predictions against true labels with the default
// zero-division policy
func Evaluate(yTrue, yPred []int, numClasses int) (ClassificationMetrics, error) {
	cm := NewConfusionMatrix(numClasses)
	if err := cm.Update(yTrue, yPred); err != nil {
		return ClassificationMetrics{}, err
	}
	return cm.Metrics(), nil
}

// Metrics returns every metric of the matrix as one row
func (cm *ConfusionMatrix) Metrics() ClassificationMetrics {
	return ClassificationMetrics{
		Accuracy:       cm.GetMetric(Accuracy),
		PrecisionMacro: cm.GetMetric(MacroPrecision),
		PrecisionMicro: cm.GetMetric(MicroPrecision),
		RecallMacro:    cm.GetMetric(MacroRecall),
		RecallMicro:    cm.GetMetric(MicroRecall),
		F1Macro:        cm.GetMetric(MacroF1),
		F1Micro:        cm.GetMetric(MicroF1),
	}
}
