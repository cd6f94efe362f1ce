package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// HourlyAggregate is one device-hour rollup derived from raw readings.
type HourlyAggregate struct {
	DeviceID        string
	Hour            string // "2006-01-02T15", UTC
	EnergyWh        float64
	ReadingCount    int64
	CoverageSeconds int64
}

// DailyAggregate is one device-day rollup derived from hourly rows.
type DailyAggregate struct {
	DeviceID     string
	Date         string // "2006-01-02", UTC
	EnergyKWh    float64
	AvgPowerW    float64
	HoursCovered int64
}

// HourOfDayRow is the per-hour-of-day average over a window of hourly rows.
type HourOfDayRow struct {
	HourOfDay          int
	AvgPowerW          float64
	TotalKWh           float64
	ReadingCount       int64
	DaysCovered        int64
	AvgCoverageSeconds float64
}

// WeekdayRow is the average daily consumption for one weekday.
// Weekday follows SQLite's %w: 0 is Sunday.
type WeekdayRow struct {
	Weekday      int
	AvgEnergyKWh float64
	DaysCounted  int64
}

// DailyStats summarises the full daily history of a device.
type DailyStats struct {
	Days         int64
	TotalKWh     float64
	AvgKWhPerDay float64
	MinKWh       float64
	MaxKWh       float64
}

// UpsertHourly inserts or replaces the rollup for one device-hour.
// Re-running aggregation for the same hour is idempotent.
func (s *Store) UpsertHourly(a *HourlyAggregate) error {
	_, err := s.writer.Exec(`
		INSERT INTO hourly_agg (device_id, hour, energy_wh, reading_count, coverage_seconds)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(device_id, hour) DO UPDATE SET
			energy_wh = excluded.energy_wh,
			reading_count = excluded.reading_count,
			coverage_seconds = excluded.coverage_seconds`,
		a.DeviceID, a.Hour, a.EnergyWh, a.ReadingCount, a.CoverageSeconds,
	)
	if err != nil {
		return fmt.Errorf("store: upsert hourly %s/%s: %w", a.DeviceID, a.Hour, err)
	}
	return nil
}

// UpsertDaily inserts or replaces the rollup for one device-day.
func (s *Store) UpsertDaily(a *DailyAggregate) error {
	_, err := s.writer.Exec(`
		INSERT INTO daily_agg (device_id, date, energy_kwh, avg_power_w, hours_covered)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(device_id, date) DO UPDATE SET
			energy_kwh = excluded.energy_kwh,
			avg_power_w = excluded.avg_power_w,
			hours_covered = excluded.hours_covered`,
		a.DeviceID, a.Date, a.EnergyKWh, a.AvgPowerW, a.HoursCovered,
	)
	if err != nil {
		return fmt.Errorf("store: upsert daily %s/%s: %w", a.DeviceID, a.Date, err)
	}
	return nil
}

// GetHourly fetches one hourly rollup, or ErrNotFound.
func (s *Store) GetHourly(deviceID, hour string) (*HourlyAggregate, error) {
	a := &HourlyAggregate{}
	err := s.reader.QueryRow(`
		SELECT device_id, hour, energy_wh, reading_count, coverage_seconds
		FROM hourly_agg WHERE device_id = ? AND hour = ?`, deviceID, hour,
	).Scan(&a.DeviceID, &a.Hour, &a.EnergyWh, &a.ReadingCount, &a.CoverageSeconds)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get hourly %s/%s: %w", deviceID, hour, err)
	}
	return a, nil
}

// HourlyInRange returns hourly rollups with start <= hour < end, ordered
// by hour.
func (s *Store) HourlyInRange(deviceID, start, end string) ([]*HourlyAggregate, error) {
	rows, err := s.reader.Query(`
		SELECT device_id, hour, energy_wh, reading_count, coverage_seconds
		FROM hourly_agg
		WHERE device_id = ? AND hour >= ? AND hour < ?
		ORDER BY hour`, deviceID, start, end,
	)
	if err != nil {
		return nil, fmt.Errorf("store: hourly in range: %w", err)
	}
	defer rows.Close()

	var results []*HourlyAggregate
	for rows.Next() {
		a := &HourlyAggregate{}
		if err := rows.Scan(&a.DeviceID, &a.Hour, &a.EnergyWh, &a.ReadingCount, &a.CoverageSeconds); err != nil {
			return nil, fmt.Errorf("store: scan hourly row: %w", err)
		}
		results = append(results, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: hourly iteration: %w", err)
	}
	return results, nil
}

// HourlyForDate returns the hourly rollups whose hour falls on the given
// date, ordered by hour. This is the sole input to the daily rollup.
func (s *Store) HourlyForDate(deviceID, date string) ([]*HourlyAggregate, error) {
	rows, err := s.reader.Query(`
		SELECT device_id, hour, energy_wh, reading_count, coverage_seconds
		FROM hourly_agg
		WHERE device_id = ? AND substr(hour, 1, 10) = ?
		ORDER BY hour`, deviceID, date,
	)
	if err != nil {
		return nil, fmt.Errorf("store: hourly for date: %w", err)
	}
	defer rows.Close()

	var results []*HourlyAggregate
	for rows.Next() {
		a := &HourlyAggregate{}
		if err := rows.Scan(&a.DeviceID, &a.Hour, &a.EnergyWh, &a.ReadingCount, &a.CoverageSeconds); err != nil {
			return nil, fmt.Errorf("store: scan hourly row: %w", err)
		}
		results = append(results, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: hourly for date iteration: %w", err)
	}
	return results, nil
}

// DailyInRange returns daily rollups with start <= date <= end, ordered
// by date.
func (s *Store) DailyInRange(deviceID, start, end string) ([]*DailyAggregate, error) {
	rows, err := s.reader.Query(`
		SELECT device_id, date, energy_kwh, avg_power_w, hours_covered
		FROM daily_agg
		WHERE device_id = ? AND date >= ? AND date <= ?
		ORDER BY date`, deviceID, start, end,
	)
	if err != nil {
		return nil, fmt.Errorf("store: daily in range: %w", err)
	}
	defer rows.Close()

	var results []*DailyAggregate
	for rows.Next() {
		a := &DailyAggregate{}
		if err := rows.Scan(&a.DeviceID, &a.Date, &a.EnergyKWh, &a.AvgPowerW, &a.HoursCovered); err != nil {
			return nil, fmt.Errorf("store: scan daily row: %w", err)
		}
		results = append(results, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: daily iteration: %w", err)
	}
	return results, nil
}

// HourOfDayReport groups hourly rollups by hour-of-day over hours in
// [sinceHour, untilHour]. Buckets with no data are absent from the
// result.
func (s *Store) HourOfDayReport(deviceID, sinceHour, untilHour string) ([]*HourOfDayRow, error) {
	rows, err := s.reader.Query(`
		SELECT
			CAST(substr(hour, 12, 2) AS INTEGER) AS hod,
			AVG(energy_wh),
			SUM(energy_wh) / 1000.0,
			SUM(reading_count),
			COUNT(DISTINCT substr(hour, 1, 10)),
			AVG(coverage_seconds)
		FROM hourly_agg
		WHERE device_id = ? AND hour >= ? AND hour <= ?
		GROUP BY hod
		ORDER BY hod`, deviceID, sinceHour, untilHour,
	)
	if err != nil {
		return nil, fmt.Errorf("store: hour-of-day report: %w", err)
	}
	defer rows.Close()

	var results []*HourOfDayRow
	for rows.Next() {
		r := &HourOfDayRow{}
		if err := rows.Scan(&r.HourOfDay, &r.AvgPowerW, &r.TotalKWh, &r.ReadingCount, &r.DaysCovered, &r.AvgCoverageSeconds); err != nil {
			return nil, fmt.Errorf("store: scan hour-of-day row: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: hour-of-day iteration: %w", err)
	}
	return results, nil
}

// WeekdayReport averages daily consumption per weekday over days in
// [sinceDate, untilDate].
func (s *Store) WeekdayReport(deviceID, sinceDate, untilDate string) ([]*WeekdayRow, error) {
	rows, err := s.reader.Query(`
		SELECT
			CAST(strftime('%w', date) AS INTEGER) AS wd,
			AVG(energy_kwh),
			COUNT(*)
		FROM daily_agg
		WHERE device_id = ? AND date >= ? AND date <= ?
		GROUP BY wd
		ORDER BY wd`, deviceID, sinceDate, untilDate,
	)
	if err != nil {
		return nil, fmt.Errorf("store: weekday report: %w", err)
	}
	defer rows.Close()

	var results []*WeekdayRow
	for rows.Next() {
		r := &WeekdayRow{}
		if err := rows.Scan(&r.Weekday, &r.AvgEnergyKWh, &r.DaysCounted); err != nil {
			return nil, fmt.Errorf("store: scan weekday row: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: weekday iteration: %w", err)
	}
	return results, nil
}

// TopDays returns up to limit daily rollups ordered by consumption,
// highest first, or lowest first when ascending. Date breaks ties.
func (s *Store) TopDays(deviceID string, limit int, ascending bool) ([]*DailyAggregate, error) {
	order := "DESC"
	if ascending {
		order = "ASC"
	}
	rows, err := s.reader.Query(fmt.Sprintf(`
		SELECT device_id, date, energy_kwh, avg_power_w, hours_covered
		FROM daily_agg
		WHERE device_id = ?
		ORDER BY energy_kwh %s, date ASC
		LIMIT ?`, order), deviceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: top days: %w", err)
	}
	defer rows.Close()

	var results []*DailyAggregate
	for rows.Next() {
		a := &DailyAggregate{}
		if err := rows.Scan(&a.DeviceID, &a.Date, &a.EnergyKWh, &a.AvgPowerW, &a.HoursCovered); err != nil {
			return nil, fmt.Errorf("store: scan top day row: %w", err)
		}
		results = append(results, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: top days iteration: %w", err)
	}
	return results, nil
}

// DailyStatsFor summarises the entire daily history of a device. A
// device with no daily rows yields zero-valued stats.
func (s *Store) DailyStatsFor(deviceID string) (*DailyStats, error) {
	st := &DailyStats{}
	err := s.reader.QueryRow(`
		SELECT
			COUNT(*),
			COALESCE(SUM(energy_kwh), 0),
			COALESCE(AVG(energy_kwh), 0),
			COALESCE(MIN(energy_kwh), 0),
			COALESCE(MAX(energy_kwh), 0)
		FROM daily_agg WHERE device_id = ?`, deviceID,
	).Scan(&st.Days, &st.TotalKWh, &st.AvgKWhPerDay, &st.MinKWh, &st.MaxKWh)
	if err != nil {
		return nil, fmt.Errorf("store: daily stats %s: %w", deviceID, err)
	}
	return st, nil
}

// EarliestDailyDate returns the first date with a daily rollup for a
// device, or ErrNotFound.
func (s *Store) EarliestDailyDate(deviceID string) (string, error) {
	var date string
	err := s.reader.QueryRow(
		"SELECT MIN(date) FROM daily_agg WHERE device_id = ? HAVING COUNT(*) > 0", deviceID,
	).Scan(&date)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("store: earliest daily date: %w", err)
	}
	return date, nil
}
