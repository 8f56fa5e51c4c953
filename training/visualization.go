package training

import (
	"encoding/json"
	"fmt"
	"time"
)

// PlotType represents different types of plots that can be generated
type PlotType string

const (
	TrainingCurves      PlotType = "training_curves"
	ConfusionMatrixPlot PlotType = "confusion_matrix"
)

// PlotData is the plot-agnostic JSON document written next to reports
type PlotData struct {
	PlotType  PlotType  `json:"plot_type"`
	Title     string    `json:"title"`
	Timestamp time.Time `json:"timestamp"`
	ModelName string    `json:"model_name"`

	Series []SeriesData `json:"series"`
	Config PlotConfig   `json:"config"`

	Metrics map[string]interface{} `json:"metrics,omitempty"`
}

// SeriesData represents a single data series in a plot
type SeriesData struct {
	Name  string                 `json:"name"`
	Type  string                 `json:"type"` // "line" or "heatmap"
	Data  []DataPoint            `json:"data"`
	Style map[string]interface{} `json:"style,omitempty"`
}

// DataPoint represents a single data point
type DataPoint struct {
	X     interface{} `json:"x"`
	Y     interface{} `json:"y"`
	Z     interface{} `json:"z,omitempty"` // Heatmap cell value
	Label string      `json:"label,omitempty"`
}

// PlotConfig contains plot-specific configuration
type PlotConfig struct {
	XAxisLabel    string                 `json:"x_axis_label"`
	YAxisLabel    string                 `json:"y_axis_label"`
	ShowLegend    bool                   `json:"show_legend"`
	ShowGrid      bool                   `json:"show_grid"`
	Width         int                    `json:"width"`
	Height        int                    `json:"height"`
	CustomOptions map[string]interface{} `json:"custom_options,omitempty"`
}

// TrainingCurvesPlot turns a run history into per-epoch loss and accuracy
// lines. Epochs are numbered from 1.
func TrainingCurvesPlot(modelName string, history *History) PlotData {
	line := func(name, color string, values []float64, dashed bool) SeriesData {
		s := SeriesData{
			Name:  name,
			Type:  "line",
			Data:  make([]DataPoint, len(values)),
			Style: map[string]interface{}{"color": color, "line_width": 2},
		}
		if dashed {
			s.Style["line_style"] = "dashed"
		}
		for i, v := range values {
			s.Data[i] = DataPoint{X: i + 1, Y: v}
		}
		return s
	}

	metrics := map[string]interface{}{
		"epochs_run":    history.Len(),
		"stopped_early": history.StoppedEarly,
	}
	if history.BestEpoch >= 0 {
		metrics["best_epoch"] = history.BestEpoch + 1
		metrics["best_valid_loss"] = history.BestValidLoss
	}

	return PlotData{
		PlotType:  TrainingCurves,
		Title:     fmt.Sprintf("Training Curves - %s", modelName),
		Timestamp: time.Now(),
		ModelName: modelName,
		Series: []SeriesData{
			line("Training Loss", "#FF6B6B", history.TrainLosses(), false),
			line("Training Accuracy", "#4ECDC4", history.TrainAccuracies(), false),
			line("Validation Loss", "#FF9F43", history.ValidLosses(), true),
			line("Validation Accuracy", "#5F27CD", history.ValidAccuracies(), true),
		},
		Config: PlotConfig{
			XAxisLabel: "Epoch",
			YAxisLabel: "Loss / Accuracy",
			ShowLegend: true,
			ShowGrid:   true,
			Width:      800,
			Height:     600,
		},
		Metrics: metrics,
	}
}

// ConfusionMatrixHeatmap renders a confusion matrix as a heatmap. classNames
// must have one entry per class.
func ConfusionMatrixHeatmap(modelName string, cm *ConfusionMatrix, classNames []string) (PlotData, error) {
	if len(classNames) != cm.NumClasses {
		return PlotData{}, fmt.Errorf("got %d class names for %d classes", len(classNames), cm.NumClasses)
	}

	var data []DataPoint
	for i, row := range cm.Matrix {
		for j, value := range row {
			data = append(data, DataPoint{
				X:     j,
				Y:     i,
				Z:     value,
				Label: fmt.Sprintf("True: %s, Pred: %s", classNames[i], classNames[j]),
			})
		}
	}

	return PlotData{
		PlotType:  ConfusionMatrixPlot,
		Title:     fmt.Sprintf("Confusion Matrix - %s", modelName),
		Timestamp: time.Now(),
		ModelName: modelName,
		Series: []SeriesData{
			{
				Name:  "Confusion Matrix",
				Type:  "heatmap",
				Data:  data,
				Style: map[string]interface{}{"colorscale": "Blues"},
			},
		},
		Config: PlotConfig{
			XAxisLabel: "Predicted Class",
			YAxisLabel: "True Class",
			Width:      600,
			Height:     600,
			CustomOptions: map[string]interface{}{
				"class_names": classNames,
			},
		},
		Metrics: map[string]interface{}{
			"accuracy": cm.GetAccuracy(),
			"samples":  cm.TotalSamples,
		},
	}, nil
}

// ToJSON converts plot data to JSON string
func (pd PlotData) ToJSON() (string, error) {
	jsonData, err := json.MarshalIndent(pd, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal plot data to JSON: %w", err)
	}
	return string(jsonData), nil
}
