package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSamplesDrainBefore(t *testing.T) {
	var s Samples
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.Add(Record{Timestamp: base})
	s.Add(Record{Timestamp: base.Add(5 * time.Minute)})
	s.Add(Record{Timestamp: base.Add(10 * time.Minute)})

	drained := s.DrainBefore(base.Add(5 * time.Minute))
	assert.Len(t, drained, 2)
	assert.Len(t, s.records, 1)
}

func TestHourlyProfileKWh(t *testing.T) {
	base := time.Date(2026, 1, 1, 18, 0, 0, 0, time.UTC)
	records := []Record{
		{Timestamp: base, LoadWatts: 2000},
		{Timestamp: base.Add(15 * time.Minute), LoadWatts: 2000},
		{Timestamp: base.Add(30 * time.Minute), LoadWatts: 2000},
		{Timestamp: base.Add(45 * time.Minute), LoadWatts: 2000},
	}
	profile := HourlyProfileKWh(records, 0.25)
	assert.InDelta(t, 2.0, profile[18], 1e-9)
	assert.Zero(t, profile[19])
}

func TestSummarize(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	records := []Record{
		{Timestamp: base, PVWatts: 4000, GridWatts: -1000, BatteryWatts: 2000, LoadWatts: 1000},
		{Timestamp: base.Add(15 * time.Minute), PVWatts: 0, GridWatts: 1000, BatteryWatts: -1500, LoadWatts: 1500},
	}
	summary := Summarize(base, records, 0.25)
	assert.Equal(t, 2, summary.SampleCount)
	assert.InDelta(t, 1.0, summary.SolarKWh, 1e-9)
	assert.InDelta(t, 0.25, summary.GridExportKWh, 1e-9)
	assert.InDelta(t, 0.25, summary.GridImportKWh, 1e-9)
	assert.InDelta(t, 0.5, summary.BatteryChargeKWh, 1e-9)
	assert.InDelta(t, 0.375, summary.BatteryDischargeKWh, 1e-9)
}
