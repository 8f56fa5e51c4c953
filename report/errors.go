package report

import "fmt"

// ReportIOError is returned when a table cannot be written to its path
// after all retries.
type ReportIOError struct {
	Path string
	Err  error
}

func (e *ReportIOError) Error() string {
	return fmt.Sprintf("report %s: %v", e.Path, e.Err)
}

func (e *ReportIOError) Unwrap() error {
	return e.Err
}
