// Package analytics provides read-only consumption queries over the
// stored readings and rollups. Every query is side-effect-free.
package analytics

import (
	"errors"
	"fmt"
	"time"

	"github.com/wattscope/wattscope/internal/store"
)

// ErrNoData is returned when a query targets a device with no stored
// readings.
var ErrNoData = errors.New("analytics: no data for device")

// ErrBadRange is returned for an unknown history range or an invalid
// date window.
var ErrBadRange = errors.New("analytics: invalid range")

// Average days per month, used to project a monthly figure from the
// per-day average.
const daysPerMonth = 30.44

// Service answers analytics queries. An empty device id in any query
// resolves to the most recently active device.
type Service struct {
	store *store.Store
	now   func() time.Time
}

// New creates a Service over the given store.
func New(st *store.Store) *Service {
	return &Service{store: st, now: time.Now}
}

// HistoryPoint is one bucketed sample in a history series.
type HistoryPoint struct {
	Bucket       string  `json:"bucket"`
	Value        float64 `json:"value"`
	ReadingCount int64   `json:"reading_count,omitempty"`
}

// History is an ordered series plus the unit its values carry.
type History struct {
	DeviceID string         `json:"device_id"`
	Range    string         `json:"range"`
	Unit     string         `json:"unit"`
	Points   []HistoryPoint `json:"points"`
}

// Records holds the five highest and five lowest consumption days.
type Records struct {
	DeviceID string                  `json:"device_id"`
	Top      []*store.DailyAggregate `json:"top"`
	Bottom   []*store.DailyAggregate `json:"bottom"`
}

// Stats is a flat record of scalar aggregates over a device's daily
// history.
type Stats struct {
	DeviceID     string  `json:"device_id"`
	Days         int64   `json:"days"`
	TotalKWh     float64 `json:"total_kwh"`
	AvgPerDay    float64 `json:"avg_kwh_per_day"`
	AvgPerMonth  float64 `json:"avg_kwh_per_month"`
	YearToDate   float64 `json:"year_to_date_kwh"`
	MinKWh       float64 `json:"min_kwh"`
	MaxKWh       float64 `json:"max_kwh"`
	Coverage     float64 `json:"coverage"` // fraction of days with a rollup
	EarliestDate string  `json:"earliest_date,omitempty"`
}

// ResolveDevice maps an empty device id to the most recently active
// device. A non-empty id passes through unchanged.
func (s *Service) ResolveDevice(deviceID string) (string, error) {
	if deviceID != "" {
		return deviceID, nil
	}
	device, err := s.store.MostRecentDevice()
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrNoData
	}
	if err != nil {
		return "", err
	}
	return device, nil
}

// Current returns the most recent raw reading for the device.
func (s *Service) Current(deviceID string) (*store.Reading, error) {
	device, err := s.ResolveDevice(deviceID)
	if err != nil {
		return nil, err
	}
	r, err := s.store.LatestReading(device)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNoData
	}
	return r, err
}

// History returns an ordered series for one of the ranges "24h", "7d",
// "30d". The 24h series comes from raw readings for full resolution;
// the longer ranges come from hourly rollups to bound the result size.
func (s *Service) History(deviceID, rng string) (*History, error) {
	device, err := s.ResolveDevice(deviceID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()

	switch rng {
	case "24h":
		start := now.Add(-24 * time.Hour).Format(time.RFC3339)
		end := now.Format(time.RFC3339)
		readings, err := s.store.ReadingsInRange(device, start, end)
		if err != nil {
			return nil, err
		}
		h := &History{DeviceID: device, Range: rng, Unit: "kwh_total"}
		for _, r := range readings {
			h.Points = append(h.Points, HistoryPoint{Bucket: r.ObservedAt, Value: r.TotalIn})
		}
		return h, nil
	case "7d", "30d":
		days := 7
		if rng == "30d" {
			days = 30
		}
		start := store.HourBucket(now.AddDate(0, 0, -days))
		end := store.HourBucket(now.Add(time.Hour))
		hours, err := s.store.HourlyInRange(device, start, end)
		if err != nil {
			return nil, err
		}
		h := &History{DeviceID: device, Range: rng, Unit: "energy_wh"}
		for _, a := range hours {
			h.Points = append(h.Points, HistoryPoint{Bucket: a.Hour, Value: a.EnergyWh, ReadingCount: a.ReadingCount})
		}
		return h, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrBadRange, rng)
	}
}

// Averages returns mean consumption per hour-of-day over [fromDate,
// toDate]. Empty bounds default to the earliest rollup date and today.
func (s *Service) Averages(deviceID, fromDate, toDate string) ([]*store.HourOfDayRow, error) {
	device, err := s.ResolveDevice(deviceID)
	if err != nil {
		return nil, err
	}
	fromDate, toDate, err = s.dateWindow(device, fromDate, toDate)
	if err != nil {
		return nil, err
	}
	return s.store.HourOfDayReport(device, fromDate+"T00", toDate+"T23")
}

// WeekdayAverages returns mean daily consumption grouped by day of
// week (0=Sunday) over [fromDate, toDate].
func (s *Service) WeekdayAverages(deviceID, fromDate, toDate string) ([]*store.WeekdayRow, error) {
	device, err := s.ResolveDevice(deviceID)
	if err != nil {
		return nil, err
	}
	fromDate, toDate, err = s.dateWindow(device, fromDate, toDate)
	if err != nil {
		return nil, err
	}
	return s.store.WeekdayReport(device, fromDate, toDate)
}

// TopBottom returns the five highest and five lowest consumption days,
// ties broken by the earlier date.
func (s *Service) TopBottom(deviceID string) (*Records, error) {
	device, err := s.ResolveDevice(deviceID)
	if err != nil {
		return nil, err
	}
	top, err := s.store.TopDays(device, 5, false)
	if err != nil {
		return nil, err
	}
	bottom, err := s.store.TopDays(device, 5, true)
	if err != nil {
		return nil, err
	}
	return &Records{DeviceID: device, Top: top, Bottom: bottom}, nil
}

// Stats computes scalar aggregates over the device's daily history.
func (s *Service) Stats(deviceID string) (*Stats, error) {
	device, err := s.ResolveDevice(deviceID)
	if err != nil {
		return nil, err
	}

	daily, err := s.store.DailyStatsFor(device)
	if err != nil {
		return nil, err
	}

	st := &Stats{
		DeviceID:    device,
		Days:        daily.Days,
		TotalKWh:    daily.TotalKWh,
		AvgPerDay:   daily.AvgKWhPerDay,
		AvgPerMonth: daily.AvgKWhPerDay * daysPerMonth,
		MinKWh:      daily.MinKWh,
		MaxKWh:      daily.MaxKWh,
	}
	if daily.Days == 0 {
		return st, nil
	}

	now := s.now().UTC()
	today := store.DayBucket(now)

	yearStart := fmt.Sprintf("%04d-01-01", now.Year())
	ytd, err := s.store.DailyInRange(device, yearStart, today)
	if err != nil {
		return nil, err
	}
	for _, d := range ytd {
		st.YearToDate += d.EnergyKWh
	}

	earliest, err := s.store.EarliestDailyDate(device)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if earliest != "" {
		st.EarliestDate = earliest
		if span := daysBetween(earliest, today); span > 0 {
			st.Coverage = float64(daily.Days) / float64(span)
		}
	}
	return st, nil
}

// dateWindow fills empty bounds with the earliest rollup date and
// today, and validates ordering.
func (s *Service) dateWindow(device, fromDate, toDate string) (string, string, error) {
	if toDate == "" {
		toDate = store.DayBucket(s.now().UTC())
	}
	if fromDate == "" {
		earliest, err := s.store.EarliestDailyDate(device)
		if errors.Is(err, store.ErrNotFound) {
			// No rollups yet; an empty window is still a valid query.
			earliest = toDate
		} else if err != nil {
			return "", "", err
		}
		fromDate = earliest
	}
	for _, d := range []string{fromDate, toDate} {
		if _, err := time.Parse(store.DateLayout, d); err != nil {
			return "", "", fmt.Errorf("%w: bad date %q", ErrBadRange, d)
		}
	}
	if fromDate > toDate {
		return "", "", fmt.Errorf("%w: %s after %s", ErrBadRange, fromDate, toDate)
	}
	return fromDate, toDate, nil
}

// daysBetween counts calendar days from a to b inclusive. Both are
// "2006-01-02" strings; returns 0 on parse failure.
func daysBetween(a, b string) int {
	ta, err := time.Parse(store.DateLayout, a)
	if err != nil {
		return 0
	}
	tb, err := time.Parse(store.DateLayout, b)
	if err != nil {
		return 0
	}
	return int(tb.Sub(ta).Hours()/24) + 1
}
