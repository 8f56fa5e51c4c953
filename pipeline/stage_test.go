package pipeline

import (
	"testing"

	"github.com/tsawler/go-emotion/training"
)

func TestParseStage(t *testing.T) {
	tests := map[string]Stage{
		"train":          StageTrain,
		" Holdout ":      StageTrain,
		"cv":             StageCrossValidate,
		"kfold":          StageCrossValidate,
		"bias":           StageDetectBias,
		"predict-single": StagePredictSingle,
	}
	for input, expected := range tests {
		got, err := ParseStage(input)
		if err != nil || got != expected {
			t.Errorf("ParseStage(%q) = %v, %v; expected %v", input, got, err, expected)
		}
	}

	if _, err := ParseStage("deploy"); !training.IsConfigurationError(err) {
		t.Errorf("expected configuration error, got %v", err)
	}
}

func TestStageString(t *testing.T) {
	for stage, expected := range map[Stage]string{
		StageTrain:         "train",
		StageCrossValidate: "cv",
		StageDetectBias:    "bias",
		StagePredictSingle: "predict",
		Stage(9):           "Unknown(9)",
	} {
		if got := stage.String(); got != expected {
			t.Errorf("String() = %s, expected %s", got, expected)
		}
	}
}
