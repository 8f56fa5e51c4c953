package pipeline

import (
	"fmt"
	"strings"

	"github.com/tsawler/go-emotion/training"
)

// Stage selects what a Runner does
type Stage int

const (
	StageTrain         Stage = iota // Holdout training on the train set, scored on the test set
	StageCrossValidate              // K-fold cross-validation on the train set
	StageDetectBias                 // Subgroup metrics of the holdout model on the test set
	StagePredictSingle              // Predict one test image with the holdout model
)

func (s Stage) String() string {
	switch s {
	case StageTrain:
		return "train"
	case StageCrossValidate:
		return "cv"
	case StageDetectBias:
		return "bias"
	case StagePredictSingle:
		return "predict"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// ParseStage accepts the stage names used on the command line
func ParseStage(s string) (Stage, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "train", "holdout":
		return StageTrain, nil
	case "cv", "crossval", "cross-validate", "kfold":
		return StageCrossValidate, nil
	case "bias":
		return StageDetectBias, nil
	case "predict", "predict-single":
		return StagePredictSingle, nil
	default:
		return 0, training.NewConfigurationError("stage", "unknown stage %q (train, cv, bias, predict)", s)
	}
}
