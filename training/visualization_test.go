package training

import (
	"encoding/json"
	"testing"
)

func TestTrainingCurvesPlot(t *testing.T) {
	trainer, _, _ := newScripted(t, []float64{0.9, 0.8, 0.85, 0.83}, 10, 1)
	history, err := trainer.Train()
	if err != nil {
		t.Fatalf("Train: %v", err)
	}

	plot := TrainingCurvesPlot("softmax", history)

	if plot.PlotType != TrainingCurves {
		t.Errorf("PlotType = %s, expected %s", plot.PlotType, TrainingCurves)
	}
	if len(plot.Series) != 4 {
		t.Fatalf("expected 4 series, got %d", len(plot.Series))
	}
	for _, s := range plot.Series {
		if len(s.Data) != history.Len() {
			t.Errorf("series %q has %d points, expected %d", s.Name, len(s.Data), history.Len())
		}
	}
	if x := plot.Series[2].Data[0].X; x != 1 {
		t.Errorf("first epoch plotted at x=%v, expected 1", x)
	}
	if plot.Metrics["best_epoch"] != 2 {
		t.Errorf("best_epoch = %v, expected 2", plot.Metrics["best_epoch"])
	}
	if plot.Metrics["stopped_early"] != true {
		t.Error("expected stopped_early to be recorded")
	}
}

func TestConfusionMatrixHeatmap(t *testing.T) {
	cm := NewConfusionMatrix(2)
	_ = cm.Update([]int{0, 1, 1}, []int{0, 0, 1})

	plot, err := ConfusionMatrixHeatmap("mlp", cm, []string{"focused", "happy"})
	if err != nil {
		t.Fatalf("ConfusionMatrixHeatmap: %v", err)
	}
	if len(plot.Series) != 1 || len(plot.Series[0].Data) != 4 {
		t.Fatalf("expected one heatmap with 4 cells, got %+v", plot.Series)
	}
	cell := plot.Series[0].Data[2] // true 1, predicted 0
	if cell.Z != 1 || cell.Label != "True: happy, Pred: focused" {
		t.Errorf("unexpected cell %+v", cell)
	}

	if _, err := ConfusionMatrixHeatmap("mlp", cm, []string{"only"}); err == nil {
		t.Error("expected error for mismatched class names")
	}

	raw, err := plot.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if decoded["plot_type"] != "confusion_matrix" {
		t.Errorf("plot_type = %v", decoded["plot_type"])
	}
}
