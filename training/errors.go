package training

import (
	"errors"
	"fmt"
)

// ConfigurationError reports an invalid hyperparameter or data shape. It is
// always raised before any training work starts.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// NewConfigurationError builds a ConfigurationError with a formatted reason
func NewConfigurationError(field, format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsConfigurationError reports whether err wraps a ConfigurationError
func IsConfigurationError(err error) bool {
	var target *ConfigurationError
	return errors.As(err, &target)
}

// FoldTrainingError is returned when training or evaluating a single
// cross-validation fold fails. Fold is 1-based, matching the report.
type FoldTrainingError struct {
	Fold int
	Err  error
}

func (e *FoldTrainingError) Error() string {
	return fmt.Sprintf("fold %d: training failed: %v", e.Fold, e.Err)
}

func (e *FoldTrainingError) Unwrap() error {
	return e.Err
}

// ErrNonFiniteLoss is returned by the epoch collaborators when a loss diverges
var ErrNonFiniteLoss = errors.New("loss is not finite")
