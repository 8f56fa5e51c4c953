package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tsawler/go-emotion/logger"
)

// Sink persists a table at a path
type Sink interface {
	Write(path string, table Table) error
}

// CSVSink writes tables as CSV. Each write goes to a temporary file in the
// target directory which is then renamed over the target, so readers never
// see a partial report.
type CSVSink struct {
	Retries    int           // Extra attempts after the first failure
	RetryDelay time.Duration // Pause between attempts
	Logger     logrus.FieldLogger
}

// NewCSVSink creates a sink with the given retry policy
func NewCSVSink(retries int, retryDelay time.Duration) *CSVSink {
	return &CSVSink{Retries: retries, RetryDelay: retryDelay}
}

// Write persists table at path, creating parent directories. Failures are
// returned as *ReportIOError.
func (s *CSVSink) Write(path string, table Table) error {
	log := s.Logger
	if log == nil {
		log = logger.Log
	}

	var err error
	for attempt := 0; attempt <= s.Retries; attempt++ {
		if attempt > 0 {
			log.WithFields(logrus.Fields{
				"path":    path,
				"attempt": attempt + 1,
				"error":   err,
			}).Warn("retrying report write")
			time.Sleep(s.RetryDelay)
		}
		if err = writeCSV(path, table.Records()); err == nil {
			log.WithFields(logrus.Fields{"path": path, "rows": len(table.Rows)}).Info("report written")
			return nil
		}
	}
	return &ReportIOError{Path: path, Err: err}
}

func writeCSV(path string, records [][]string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create report directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	w := csv.NewWriter(tmp)
	if err := w.WriteAll(records); err != nil {
		tmp.Close()
		return fmt.Errorf("write csv: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// ReadCSV loads the raw records of a CSV report
func ReadCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ReportIOError{Path: path, Err: err}
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, &ReportIOError{Path: path, Err: err}
	}
	return records, nil
}
