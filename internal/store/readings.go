package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("store: not found")

// Reading is a single raw meter reading. Rows are immutable once
// inserted; only the retention pruner ever removes them.
type Reading struct {
	ID         int64
	DeviceID   string
	ObservedAt string // RFC3339 UTC
	TotalIn    float64
	TotalOut   sql.NullFloat64
	PowerW     sql.NullFloat64
	Voltage    sql.NullFloat64
	ReceivedAt string // RFC3339 UTC, server-assigned
}

// HourStats summarises the raw rows inside one hour bucket for a device.
// CoverageSeconds is the span between the first and last reading.
type HourStats struct {
	Count           int64
	MinTotalIn      float64
	MaxTotalIn      float64
	CoverageSeconds int64
}

// InsertReading appends one raw reading.
func (s *Store) InsertReading(r *Reading) error {
	_, err := s.writer.Exec(`
		INSERT INTO raw_readings (device_id, observed_at, total_in, total_out, power_w, voltage, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.DeviceID, r.ObservedAt, r.TotalIn, r.TotalOut, r.PowerW, r.Voltage, r.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("store: insert reading: %w", err)
	}
	return nil
}

// LatestReading returns the most recent raw reading by observed time.
// An empty deviceID matches any device. Returns ErrNotFound when the
// table is empty (or holds nothing for the device).
func (s *Store) LatestReading(deviceID string) (*Reading, error) {
	query := `
		SELECT id, device_id, observed_at, total_in, total_out, power_w, voltage, received_at
		FROM raw_readings`
	args := []interface{}{}
	if deviceID != "" {
		query += " WHERE device_id = ?"
		args = append(args, deviceID)
	}
	query += " ORDER BY observed_at DESC LIMIT 1"

	r := &Reading{}
	err := s.reader.QueryRow(query, args...).Scan(
		&r.ID, &r.DeviceID, &r.ObservedAt, &r.TotalIn, &r.TotalOut, &r.PowerW, &r.Voltage, &r.ReceivedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: latest reading: %w", err)
	}
	return r, nil
}

// ReadingsInRange returns raw readings for a device with
// start <= observed_at < end, ordered by observed time.
func (s *Store) ReadingsInRange(deviceID, start, end string) ([]*Reading, error) {
	rows, err := s.reader.Query(`
		SELECT id, device_id, observed_at, total_in, total_out, power_w, voltage, received_at
		FROM raw_readings
		WHERE device_id = ? AND observed_at >= ? AND observed_at < ?
		ORDER BY observed_at`, deviceID, start, end,
	)
	if err != nil {
		return nil, fmt.Errorf("store: readings in range: %w", err)
	}
	defer rows.Close()

	var results []*Reading
	for rows.Next() {
		r := &Reading{}
		if err := rows.Scan(
			&r.ID, &r.DeviceID, &r.ObservedAt, &r.TotalIn, &r.TotalOut, &r.PowerW, &r.Voltage, &r.ReceivedAt,
		); err != nil {
			return nil, fmt.Errorf("store: scan reading row: %w", err)
		}
		results = append(results, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: readings iteration: %w", err)
	}
	return results, nil
}

// HourReadingStats computes min/max total_in, the reading count, and the
// first-to-last span for the raw rows of one hour bucket. Count == 0
// means the bucket holds no raw data.
func (s *Store) HourReadingStats(deviceID, hour string) (*HourStats, error) {
	st := &HourStats{}
	err := s.reader.QueryRow(`
		SELECT
			COUNT(*),
			COALESCE(MIN(total_in), 0),
			COALESCE(MAX(total_in), 0),
			CAST(COALESCE(strftime('%s', MAX(observed_at)) - strftime('%s', MIN(observed_at)), 0) AS INTEGER)
		FROM raw_readings
		WHERE device_id = ? AND substr(observed_at, 1, 13) = ?`, deviceID, hour,
	).Scan(&st.Count, &st.MinTotalIn, &st.MaxTotalIn, &st.CoverageSeconds)
	if err != nil {
		return nil, fmt.Errorf("store: hour stats %s/%s: %w", deviceID, hour, err)
	}
	return st, nil
}

// HasReadingInMinute reports whether a raw row already exists for the
// given device and 60-second bucket.
func (s *Store) HasReadingInMinute(deviceID, minute string) (bool, error) {
	var one int
	err := s.reader.QueryRow(`
		SELECT 1 FROM raw_readings
		WHERE device_id = ? AND substr(observed_at, 1, 16) = ?
		LIMIT 1`, deviceID, minute,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: minute lookup: %w", err)
	}
	return true, nil
}

// KnownDevices returns every device id present in the raw table.
func (s *Store) KnownDevices() ([]string, error) {
	rows, err := s.reader.Query("SELECT DISTINCT device_id FROM raw_readings ORDER BY device_id")
	if err != nil {
		return nil, fmt.Errorf("store: known devices: %w", err)
	}
	defer rows.Close()

	var devices []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("store: scan device id: %w", err)
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: known devices iteration: %w", err)
	}
	return devices, nil
}

// MostRecentDevice returns the device id of the reading with the highest
// server receive time. Queries that omit a device id resolve to this.
func (s *Store) MostRecentDevice() (string, error) {
	var device string
	err := s.reader.QueryRow(
		"SELECT device_id FROM raw_readings ORDER BY received_at DESC LIMIT 1",
	).Scan(&device)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("store: most recent device: %w", err)
	}
	return device, nil
}

// CountRaw returns the number of raw rows, optionally scoped to a device.
func (s *Store) CountRaw(deviceID string) (int64, error) {
	query := "SELECT COUNT(*) FROM raw_readings"
	args := []interface{}{}
	if deviceID != "" {
		query += " WHERE device_id = ?"
		args = append(args, deviceID)
	}
	var n int64
	if err := s.reader.QueryRow(query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count raw: %w", err)
	}
	return n, nil
}

// DeleteRawBefore deletes raw rows with observed_at < cutoff whose hour
// bucket is already covered by an hourly aggregate. Rows in hours that
// have not been aggregated yet are kept regardless of the cutoff, so a
// prune can never destroy data the aggregation engine still needs.
// An empty deviceID applies the cutoff to every device.
func (s *Store) DeleteRawBefore(cutoff, deviceID string) (int64, error) {
	query := `
		DELETE FROM raw_readings
		WHERE observed_at < ?
		  AND EXISTS (
			SELECT 1 FROM hourly_agg h
			WHERE h.device_id = raw_readings.device_id
			  AND h.hour = substr(raw_readings.observed_at, 1, 13)
		  )`
	args := []interface{}{cutoff}
	if deviceID != "" {
		query += " AND device_id = ?"
		args = append(args, deviceID)
	}

	res, err := s.writer.Exec(query, args...)
	if err != nil {
		return 0, fmt.Errorf("store: delete raw before %s: %w", cutoff, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: delete raw rows affected: %w", err)
	}
	return n, nil
}
