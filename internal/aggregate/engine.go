// Package aggregate computes hourly and daily consumption rollups from
// raw cumulative-counter readings.
package aggregate

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wattscope/wattscope/internal/store"
)

// Engine derives rollup rows from raw readings. It is the only writer
// of the hourly and daily tables. All operations are idempotent: the
// same raw data always produces the same rollup row.
type Engine struct {
	store   *store.Store
	tracker *Tracker
}

// NewEngine creates an engine over the given store and dirty tracker.
func NewEngine(st *store.Store, tracker *Tracker) *Engine {
	return &Engine{store: st, tracker: tracker}
}

// Tracker returns the engine's dirty-bucket tracker. The ingestion
// pipeline marks it on every stored reading.
func (e *Engine) Tracker() *Tracker {
	return e.tracker
}

// AggregateHour recomputes the rollup for one device-hour from raw
// rows. Energy is the counter delta across the bucket, in Wh; a bucket
// with fewer than two readings cannot span a delta and rolls up as
// zero. An hour with no raw rows at all is left untouched so pruned
// history keeps its aggregates.
func (e *Engine) AggregateHour(deviceID, hour string) error {
	stats, err := e.store.HourReadingStats(deviceID, hour)
	if err != nil {
		return fmt.Errorf("aggregate hour %s/%s: %w", deviceID, hour, err)
	}
	if stats.Count == 0 {
		return nil
	}

	// max-min over the bucket, so the result is non-negative even if a
	// counter reset lands mid-hour.
	var energyWh float64
	if stats.Count >= 2 {
		energyWh = 1000 * (stats.MaxTotalIn - stats.MinTotalIn)
	}

	agg := &store.HourlyAggregate{
		DeviceID:        deviceID,
		Hour:            hour,
		EnergyWh:        energyWh,
		ReadingCount:    stats.Count,
		CoverageSeconds: stats.CoverageSeconds,
	}
	if err := e.store.UpsertHourly(agg); err != nil {
		return fmt.Errorf("aggregate hour %s/%s: %w", deviceID, hour, err)
	}
	return nil
}

// AggregateDay recomputes one device-day strictly from that day's
// hourly rows, never from raw data, so daily and hourly totals cannot
// diverge. A day with no hourly rows is left untouched.
func (e *Engine) AggregateDay(deviceID, date string) error {
	hours, err := e.store.HourlyForDate(deviceID, date)
	if err != nil {
		return fmt.Errorf("aggregate day %s/%s: %w", deviceID, date, err)
	}
	if len(hours) == 0 {
		return nil
	}

	var sumWh float64
	for _, h := range hours {
		sumWh += h.EnergyWh
	}

	agg := &store.DailyAggregate{
		DeviceID:     deviceID,
		Date:         date,
		EnergyKWh:    sumWh / 1000,
		AvgPowerW:    sumWh / float64(len(hours)),
		HoursCovered: int64(len(hours)),
	}
	if err := e.store.UpsertDaily(agg); err != nil {
		return fmt.Errorf("aggregate day %s/%s: %w", deviceID, date, err)
	}
	return nil
}

// RunPass aggregates the previous and current hour for every known
// device, plus every dirty bucket, then rolls up the affected days. A
// failing bucket is logged and re-marked for the next pass; it never
// aborts the rest of the pass.
func (e *Engine) RunPass(now time.Time) {
	now = now.UTC()
	currentHour := store.HourBucket(now)
	previousHour := store.HourBucket(now.Add(-time.Hour))

	devices, err := e.store.KnownDevices()
	if err != nil {
		log.Error().Err(err).Msg("aggregation pass: listing devices")
		return
	}

	buckets := make(map[Bucket]struct{})
	for _, d := range devices {
		buckets[Bucket{DeviceID: d, Hour: previousHour}] = struct{}{}
		buckets[Bucket{DeviceID: d, Hour: currentHour}] = struct{}{}
	}
	if e.tracker != nil {
		for _, b := range e.tracker.Drain() {
			buckets[b] = struct{}{}
		}
	}

	// Days touched by this pass, re-rolled after the hourly work.
	days := make(map[string]map[string]struct{})
	markDay := func(device, hour string) {
		if len(hour) < 10 {
			return
		}
		date := hour[:10]
		if days[device] == nil {
			days[device] = make(map[string]struct{})
		}
		days[device][date] = struct{}{}
	}

	ordered := make([]Bucket, 0, len(buckets))
	for b := range buckets {
		ordered = append(ordered, b)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].DeviceID != ordered[j].DeviceID {
			return ordered[i].DeviceID < ordered[j].DeviceID
		}
		return ordered[i].Hour < ordered[j].Hour
	})

	for _, b := range ordered {
		if err := e.AggregateHour(b.DeviceID, b.Hour); err != nil {
			log.Error().Err(err).Str("device", b.DeviceID).Str("hour", b.Hour).Msg("hourly aggregation failed")
			if e.tracker != nil {
				e.tracker.Mark(b.DeviceID, b.Hour)
			}
			continue
		}
		markDay(b.DeviceID, b.Hour)
	}

	for device, dates := range days {
		for date := range dates {
			if err := e.AggregateDay(device, date); err != nil {
				log.Error().Err(err).Str("device", device).Str("date", date).Msg("daily aggregation failed")
			}
		}
	}
}
