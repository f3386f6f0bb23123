// Package history persists 5-minute-granularity power samples to Postgres
// and derives the daily energy summaries and the hourly consumption
// profile the forecast layer consumes.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

// Record is one 5-minute-granularity telemetry sample.
type Record struct {
	Timestamp    time.Time
	SOCPercent   float64
	PVWatts      float64
	BatteryWatts float64 // positive = charging, negative = discharging
	GridWatts    float64 // positive = import, negative = export
	LoadWatts    float64
}

// DailySummary is one day's aggregated energy totals, computed once per
// day from the Records persisted that day.
type DailySummary struct {
	Date                time.Time
	SolarKWh            float64
	GridImportKWh       float64
	GridExportKWh       float64
	BatteryChargeKWh    float64
	BatteryDischargeKWh float64
	LoadKWh             float64
	AvgEffectivePrice   float64
	SampleCount         int
}

// Samples is a thread-safe in-memory accumulator for Records awaiting
// persistence.
type Samples struct {
	mu      sync.Mutex
	records []Record
}

// Add appends one Record to the buffer.
func (s *Samples) Add(r Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
}

// DrainBefore removes and returns every Record with Timestamp <= cutoff,
// leaving later records buffered for the next drain.
func (s *Samples) DrainBefore(cutoff time.Time) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	var drained, remaining []Record
	for _, r := range s.records {
		if !r.Timestamp.After(cutoff) {
			drained = append(drained, r)
		} else {
			remaining = append(remaining, r)
		}
	}
	s.records = remaining
	return drained
}

// HourlyProfileKWh averages drained Records into a 24-slot kWh-per-hour
// consumption profile the forecast-aware
// ForecastData carries.
func HourlyProfileKWh(records []Record, blockHours float64) [24]float64 {
	var totals [24]float64
	var counts [24]int
	for _, r := range records {
		hour := r.Timestamp.Hour()
		consumptionKW := r.LoadWatts / 1000.0
		totals[hour] += consumptionKW * blockHours
		counts[hour]++
	}
	var profile [24]float64
	for h := 0; h < 24; h++ {
		if counts[h] > 0 {
			// Normalize to a kWh-per-hour estimate by scaling the averaged
			// per-sample energy by the number of blocks in an hour.
			blocksPerHour := 1.0
			if blockHours > 0 {
				blocksPerHour = 1.0 / blockHours
			}
			profile[h] = (totals[h] / float64(counts[h])) * blocksPerHour
		}
	}
	return profile
}

// Store persists Records and DailySummary rows to Postgres using
// upserts (INSERT ... ON CONFLICT DO UPDATE) so reruns are idempotent.
type Store struct {
	db *sql.DB
}

// Open connects to a Postgres instance via the lib/pq driver.
func Open(connString string) (*Store, error) {
	db, err := sql.Open("postgres", connString)
	if err != nil {
		return nil, fmt.Errorf("history: opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("history: pinging database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRecords upserts records into history_records keyed by timestamp,
// all inside one transaction; existing rows are updated, not deleted.
func (s *Store) SaveRecords(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("history: beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO history_records (
			timestamp, soc_percent, pv_watts, battery_watts, grid_watts, load_watts
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (timestamp) DO UPDATE SET
			soc_percent = EXCLUDED.soc_percent,
			pv_watts = EXCLUDED.pv_watts,
			battery_watts = EXCLUDED.battery_watts,
			grid_watts = EXCLUDED.grid_watts,
			load_watts = EXCLUDED.load_watts
	`)
	if err != nil {
		return fmt.Errorf("history: preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.Timestamp, r.SOCPercent, r.PVWatts, r.BatteryWatts, r.GridWatts, r.LoadWatts); err != nil {
			return fmt.Errorf("history: inserting record at %s: %w", r.Timestamp, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("history: committing transaction: %w", err)
	}
	return nil
}

// LoadRecordsSince loads every Record with timestamp >= since, ordered
// ascending, for EMA/profile recomputation.
func (s *Store) LoadRecordsSince(ctx context.Context, since time.Time) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, soc_percent, pv_watts, battery_watts, grid_watts, load_watts
		FROM history_records
		WHERE timestamp >= $1
		ORDER BY timestamp ASC
	`, since)
	if err != nil {
		return nil, fmt.Errorf("history: querying records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.Timestamp, &r.SOCPercent, &r.PVWatts, &r.BatteryWatts, &r.GridWatts, &r.LoadWatts); err != nil {
			return nil, fmt.Errorf("history: scanning record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveDailySummary upserts one day's aggregated totals into
// daily_energy_summaries.
func (s *Store) SaveDailySummary(ctx context.Context, summary DailySummary) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_energy_summaries (
			date, solar_kwh, grid_import_kwh, grid_export_kwh,
			battery_charge_kwh, battery_discharge_kwh, load_kwh,
			avg_effective_price, sample_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (date) DO UPDATE SET
			solar_kwh = EXCLUDED.solar_kwh,
			grid_import_kwh = EXCLUDED.grid_import_kwh,
			grid_export_kwh = EXCLUDED.grid_export_kwh,
			battery_charge_kwh = EXCLUDED.battery_charge_kwh,
			battery_discharge_kwh = EXCLUDED.battery_discharge_kwh,
			load_kwh = EXCLUDED.load_kwh,
			avg_effective_price = EXCLUDED.avg_effective_price,
			sample_count = EXCLUDED.sample_count
	`,
		summary.Date, summary.SolarKWh, summary.GridImportKWh, summary.GridExportKWh,
		summary.BatteryChargeKWh, summary.BatteryDischargeKWh, summary.LoadKWh,
		summary.AvgEffectivePrice, summary.SampleCount,
	)
	if err != nil {
		return fmt.Errorf("history: upserting daily summary for %s: %w", summary.Date, err)
	}
	return nil
}

// Summarize aggregates records (assumed to span roughly one calendar day)
// into a DailySummary.
func Summarize(date time.Time, records []Record, blockHours float64) DailySummary {
	summary := DailySummary{Date: date}

	for _, r := range records {
		summary.SampleCount++
		summary.SolarKWh += (r.PVWatts / 1000.0) * blockHours
		if r.GridWatts > 0 {
			summary.GridImportKWh += (r.GridWatts / 1000.0) * blockHours
		} else if r.GridWatts < 0 {
			summary.GridExportKWh += (-r.GridWatts / 1000.0) * blockHours
		}
		if r.BatteryWatts > 0 {
			summary.BatteryChargeKWh += (r.BatteryWatts / 1000.0) * blockHours
		} else if r.BatteryWatts < 0 {
			summary.BatteryDischargeKWh += (-r.BatteryWatts / 1000.0) * blockHours
		}
		summary.LoadKWh += (r.LoadWatts / 1000.0) * blockHours
	}
	return summary
}
