package store

// SQL schema constants for all wattscope tables.

const schemaRawReadings = `
CREATE TABLE IF NOT EXISTS raw_readings (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    device_id TEXT NOT NULL,
    observed_at TEXT NOT NULL,
    total_in REAL NOT NULL,
    total_out REAL,
    power_w REAL,
    voltage REAL,
    received_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_raw_device_observed ON raw_readings(device_id, observed_at);
CREATE INDEX IF NOT EXISTS idx_raw_observed ON raw_readings(observed_at);
`

const schemaHourlyAgg = `
CREATE TABLE IF NOT EXISTS hourly_agg (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    device_id TEXT NOT NULL,
    hour TEXT NOT NULL,
    energy_wh REAL NOT NULL DEFAULT 0,
    reading_count INTEGER NOT NULL DEFAULT 0,
    coverage_seconds INTEGER NOT NULL DEFAULT 0,
    UNIQUE(device_id, hour)
);
`

const schemaDailyAgg = `
CREATE TABLE IF NOT EXISTS daily_agg (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    device_id TEXT NOT NULL,
    date TEXT NOT NULL,
    energy_kwh REAL NOT NULL DEFAULT 0,
    avg_power_w REAL NOT NULL DEFAULT 0,
    hours_covered INTEGER NOT NULL DEFAULT 0,
    UNIQUE(device_id, date)
);
`

const schemaMigrations = `
CREATE TABLE IF NOT EXISTS migrations (
    version INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL
);
`

// allSchemas is the ordered list of schema DDL statements that form
// the initial (version-1) database layout.
var allSchemas = []string{
	schemaRawReadings,
	schemaHourlyAgg,
	schemaDailyAgg,
	schemaMigrations,
}
