package aggregate

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/wattscope/wattscope/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func insertReading(t *testing.T, st *store.Store, device, observedAt string, totalIn float64) {
	t.Helper()
	err := st.InsertReading(&store.Reading{
		DeviceID:   device,
		ObservedAt: observedAt,
		TotalIn:    totalIn,
		ReceivedAt: observedAt,
	})
	if err != nil {
		t.Fatalf("InsertReading: %v", err)
	}
}

func TestAggregateHour_CounterDelta(t *testing.T) {
	st := openTestStore(t)
	e := NewEngine(st, NewTracker())

	// Three readings inside one UTC hour: 100.0 → 101.2 kWh.
	insertReading(t, st, "meter1", "2024-01-15T10:00:00Z", 100.0)
	insertReading(t, st, "meter1", "2024-01-15T10:20:00Z", 100.5)
	insertReading(t, st, "meter1", "2024-01-15T10:40:00Z", 101.2)

	if err := e.AggregateHour("meter1", "2024-01-15T10"); err != nil {
		t.Fatalf("AggregateHour: %v", err)
	}

	got, err := st.GetHourly("meter1", "2024-01-15T10")
	if err != nil {
		t.Fatalf("GetHourly: %v", err)
	}
	if got.EnergyWh != 1200.0 {
		t.Errorf("EnergyWh: got %v, want 1200.0", got.EnergyWh)
	}
	if got.ReadingCount != 3 {
		t.Errorf("ReadingCount: got %d, want 3", got.ReadingCount)
	}
	if got.CoverageSeconds != 2400 {
		t.Errorf("CoverageSeconds: got %d, want 2400", got.CoverageSeconds)
	}
}

func TestAggregateHour_SingleReadingIsIncomplete(t *testing.T) {
	st := openTestStore(t)
	e := NewEngine(st, NewTracker())

	insertReading(t, st, "meter1", "2024-01-15T10:00:00Z", 100.0)

	if err := e.AggregateHour("meter1", "2024-01-15T10"); err != nil {
		t.Fatalf("AggregateHour: %v", err)
	}

	got, err := st.GetHourly("meter1", "2024-01-15T10")
	if err != nil {
		t.Fatalf("GetHourly: %v", err)
	}
	if got.EnergyWh != 0 {
		t.Errorf("EnergyWh: got %v, want 0", got.EnergyWh)
	}
	if got.ReadingCount != 1 {
		t.Errorf("ReadingCount: got %d, want 1", got.ReadingCount)
	}
}

func TestAggregateHour_Idempotent(t *testing.T) {
	st := openTestStore(t)
	e := NewEngine(st, NewTracker())

	insertReading(t, st, "meter1", "2024-01-15T10:00:00Z", 100.0)
	insertReading(t, st, "meter1", "2024-01-15T10:30:00Z", 100.8)

	if err := e.AggregateHour("meter1", "2024-01-15T10"); err != nil {
		t.Fatalf("AggregateHour #1: %v", err)
	}
	first, err := st.GetHourly("meter1", "2024-01-15T10")
	if err != nil {
		t.Fatalf("GetHourly: %v", err)
	}

	if err := e.AggregateHour("meter1", "2024-01-15T10"); err != nil {
		t.Fatalf("AggregateHour #2: %v", err)
	}
	second, err := st.GetHourly("meter1", "2024-01-15T10")
	if err != nil {
		t.Fatalf("GetHourly: %v", err)
	}

	if *first != *second {
		t.Errorf("re-run changed the row: %+v vs %+v", first, second)
	}
}

func TestAggregateHour_CounterResetClampsToZero(t *testing.T) {
	st := openTestStore(t)
	e := NewEngine(st, NewTracker())

	// Counter replaced mid-hour: max-min is positive but the delta
	// across the replacement is meaningless. The min/max form still
	// guarantees a non-negative result.
	insertReading(t, st, "meter1", "2024-01-15T10:00:00Z", 500.0)
	insertReading(t, st, "meter1", "2024-01-15T10:30:00Z", 0.1)

	if err := e.AggregateHour("meter1", "2024-01-15T10"); err != nil {
		t.Fatalf("AggregateHour: %v", err)
	}

	got, err := st.GetHourly("meter1", "2024-01-15T10")
	if err != nil {
		t.Fatalf("GetHourly: %v", err)
	}
	if got.EnergyWh < 0 {
		t.Errorf("EnergyWh: got %v, want >= 0", got.EnergyWh)
	}
}

func TestAggregateHour_EmptyHourKeepsExistingRow(t *testing.T) {
	st := openTestStore(t)
	e := NewEngine(st, NewTracker())

	// A rollup exists but its raw rows have been pruned.
	agg := &store.HourlyAggregate{DeviceID: "meter1", Hour: "2024-01-01T10", EnergyWh: 750, ReadingCount: 4, CoverageSeconds: 2700}
	if err := st.UpsertHourly(agg); err != nil {
		t.Fatalf("UpsertHourly: %v", err)
	}

	if err := e.AggregateHour("meter1", "2024-01-01T10"); err != nil {
		t.Fatalf("AggregateHour: %v", err)
	}

	got, err := st.GetHourly("meter1", "2024-01-01T10")
	if err != nil {
		t.Fatalf("GetHourly: %v", err)
	}
	if got.EnergyWh != 750 {
		t.Errorf("EnergyWh after empty re-run: got %v, want 750", got.EnergyWh)
	}
}

func TestAggregateDay_SumsHourlyOnly(t *testing.T) {
	st := openTestStore(t)
	e := NewEngine(st, NewTracker())

	// Raw rows for the day deliberately disagree with the hourly rows;
	// the daily rollup must follow the hourly rows.
	insertReading(t, st, "meter1", "2024-01-15T10:00:00Z", 0.0)
	insertReading(t, st, "meter1", "2024-01-15T10:30:00Z", 999.0)

	hours := []*store.HourlyAggregate{
		{DeviceID: "meter1", Hour: "2024-01-15T10", EnergyWh: 400, ReadingCount: 5, CoverageSeconds: 3000},
		{DeviceID: "meter1", Hour: "2024-01-15T11", EnergyWh: 600, ReadingCount: 6, CoverageSeconds: 3300},
	}
	for _, h := range hours {
		if err := st.UpsertHourly(h); err != nil {
			t.Fatalf("UpsertHourly: %v", err)
		}
	}

	if err := e.AggregateDay("meter1", "2024-01-15"); err != nil {
		t.Fatalf("AggregateDay: %v", err)
	}

	days, err := st.DailyInRange("meter1", "2024-01-15", "2024-01-15")
	if err != nil {
		t.Fatalf("DailyInRange: %v", err)
	}
	if len(days) != 1 {
		t.Fatalf("daily rows: got %d, want 1", len(days))
	}
	d := days[0]
	if d.EnergyKWh != 1.0 {
		t.Errorf("EnergyKWh: got %v, want 1.0", d.EnergyKWh)
	}
	if d.AvgPowerW != 500.0 {
		t.Errorf("AvgPowerW: got %v, want 500.0", d.AvgPowerW)
	}
	if d.HoursCovered != 2 {
		t.Errorf("HoursCovered: got %d, want 2", d.HoursCovered)
	}
}

func TestAggregateDay_NoHourlyRowsIsNoop(t *testing.T) {
	st := openTestStore(t)
	e := NewEngine(st, NewTracker())

	if err := e.AggregateDay("meter1", "2024-01-15"); err != nil {
		t.Fatalf("AggregateDay: %v", err)
	}

	days, err := st.DailyInRange("meter1", "2024-01-15", "2024-01-15")
	if err != nil {
		t.Fatalf("DailyInRange: %v", err)
	}
	if len(days) != 0 {
		t.Errorf("daily rows: got %d, want 0", len(days))
	}
}

func TestRunPass_CurrentAndPreviousHour(t *testing.T) {
	st := openTestStore(t)
	e := NewEngine(st, NewTracker())

	now := time.Date(2024, 1, 15, 11, 5, 0, 0, time.UTC)

	// Previous hour complete, current hour partial.
	insertReading(t, st, "meter1", "2024-01-15T10:00:00Z", 100.0)
	insertReading(t, st, "meter1", "2024-01-15T10:50:00Z", 100.6)
	insertReading(t, st, "meter1", "2024-01-15T11:00:00Z", 100.7)
	insertReading(t, st, "meter1", "2024-01-15T11:04:00Z", 100.8)

	e.RunPass(now)

	prev, err := st.GetHourly("meter1", "2024-01-15T10")
	if err != nil {
		t.Fatalf("GetHourly previous: %v", err)
	}
	if prev.EnergyWh != 600.0 {
		t.Errorf("previous hour EnergyWh: got %v, want 600.0", prev.EnergyWh)
	}

	cur, err := st.GetHourly("meter1", "2024-01-15T11")
	if err != nil {
		t.Fatalf("GetHourly current: %v", err)
	}
	if cur.ReadingCount != 2 {
		t.Errorf("current hour ReadingCount: got %d, want 2", cur.ReadingCount)
	}

	// The day rolls up after the hourly pass.
	days, err := st.DailyInRange("meter1", "2024-01-15", "2024-01-15")
	if err != nil {
		t.Fatalf("DailyInRange: %v", err)
	}
	if len(days) != 1 {
		t.Fatalf("daily rows: got %d, want 1", len(days))
	}
	if days[0].HoursCovered != 2 {
		t.Errorf("HoursCovered: got %d, want 2", days[0].HoursCovered)
	}
}

func TestRunPass_DirtyBucketBackfill(t *testing.T) {
	st := openTestStore(t)
	tracker := NewTracker()
	e := NewEngine(st, tracker)

	now := time.Date(2024, 1, 20, 12, 0, 0, 0, time.UTC)

	// A late-arriving reading lands in an hour days in the past; only
	// the dirty mark makes the pass revisit it.
	insertReading(t, st, "meter1", "2024-01-15T08:10:00Z", 90.0)
	insertReading(t, st, "meter1", "2024-01-15T08:40:00Z", 90.3)
	tracker.Mark("meter1", "2024-01-15T08")

	e.RunPass(now)

	got, err := st.GetHourly("meter1", "2024-01-15T08")
	if err != nil {
		t.Fatalf("GetHourly backfilled hour: %v", err)
	}
	if got.EnergyWh != 300.0 {
		t.Errorf("EnergyWh: got %v, want 300.0", got.EnergyWh)
	}

	// The past day rolled up too, and the tracker drained.
	days, err := st.DailyInRange("meter1", "2024-01-15", "2024-01-15")
	if err != nil {
		t.Fatalf("DailyInRange: %v", err)
	}
	if len(days) != 1 {
		t.Fatalf("daily rows: got %d, want 1", len(days))
	}
	if tracker.Len() != 0 {
		t.Errorf("tracker not drained: %d pending", tracker.Len())
	}
}
