package analytics

import (
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/wattscope/wattscope/internal/store"
)

// exportMaxYears caps the export window to bound result size.
const exportMaxYears = 10

var exportHeader = []string{
	"hour_of_day", "avg_power_w", "total_kwh", "reading_count", "days_covered", "avg_coverage_seconds",
}

// ExportCSV renders the hour-of-day averages for [start, end] as CSV.
// Empty bounds default like Averages. Windows longer than ten years
// are rejected.
func (s *Service) ExportCSV(deviceID, start, end string) (string, error) {
	device, err := s.ResolveDevice(deviceID)
	if err != nil {
		return "", err
	}
	start, end, err = s.dateWindow(device, start, end)
	if err != nil {
		return "", err
	}
	if err := checkExportSpan(start, end); err != nil {
		return "", err
	}

	rows, err := s.store.HourOfDayReport(device, start+"T00", end+"T23")
	if err != nil {
		return "", err
	}

	var buf strings.Builder
	w := csv.NewWriter(&buf)
	if err := w.Write(exportHeader); err != nil {
		return "", err
	}
	for _, r := range rows {
		record := []string{
			strconv.Itoa(r.HourOfDay),
			formatFloat(r.AvgPowerW),
			formatFloat(r.TotalKWh),
			strconv.FormatInt(r.ReadingCount, 10),
			strconv.FormatInt(r.DaysCovered, 10),
			formatFloat(r.AvgCoverageSeconds),
		}
		if err := w.Write(record); err != nil {
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func checkExportSpan(start, end string) error {
	from, err := time.Parse(store.DateLayout, start)
	if err != nil {
		return fmt.Errorf("%w: bad date %q", ErrBadRange, start)
	}
	to, err := time.Parse(store.DateLayout, end)
	if err != nil {
		return fmt.Errorf("%w: bad date %q", ErrBadRange, end)
	}
	if to.After(from.AddDate(exportMaxYears, 0, 0)) {
		return fmt.Errorf("%w: window exceeds %d years", ErrBadRange, exportMaxYears)
	}
	return nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
