package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const summaryCSVFile = "live_summary.csv"

var summaryHeader = []string{
	"timestamp_utc", "iteration", "markets_found", "opps_detected", "opps_approved",
}

// SummaryCSV appends one row per changed iteration to live_summary.csv,
// creating the file with a header on first use. Append-only: rows are never
// rewritten, so the file survives restarts.
type SummaryCSV struct {
	path string
	now  func() time.Time
}

func NewSummaryCSV(dir string) (*SummaryCSV, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("report: create dir %s: %w", dir, err)
	}
	return &SummaryCSV{path: filepath.Join(dir, summaryCSVFile), now: time.Now}, nil
}

// Append writes one summary row.
func (s *SummaryCSV) Append(iteration, markets, detected, approved int) error {
	_, statErr := os.Stat(s.path)
	writeHeader := os.IsNotExist(statErr)

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("report: open %s: %w", s.path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if writeHeader {
		if err := w.Write(summaryHeader); err != nil {
			return fmt.Errorf("report: write header: %w", err)
		}
	}
	row := []string{
		s.now().UTC().Format(time.RFC3339),
		strconv.Itoa(iteration),
		strconv.Itoa(markets),
		strconv.Itoa(detected),
		strconv.Itoa(approved),
	}
	if err := w.Write(row); err != nil {
		return fmt.Errorf("report: write row: %w", err)
	}
	w.Flush()
	return w.Error()
}

// Path returns the CSV file location.
func (s *SummaryCSV) Path() string { return s.path }
