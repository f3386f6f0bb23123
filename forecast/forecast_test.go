package forecast

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHourlyProfileSeedsThenSmooths(t *testing.T) {
	p, err := NewHourlyProfile(0.5)
	require.NoError(t, err)

	require.NoError(t, p.Update(10, 2.0))
	assert.InDelta(t, 2.0, p.Estimate(10), 1e-9)

	require.NoError(t, p.Update(10, 4.0))
	assert.InDelta(t, 3.0, p.Estimate(10), 1e-9)
}

func TestHourlyProfileRejectsBadHour(t *testing.T) {
	p, _ := NewHourlyProfile(0.3)
	assert.Error(t, p.Update(24, 1.0))
}

func TestBuildFromProfile(t *testing.T) {
	p, _ := NewHourlyProfile(0.3)
	require.NoError(t, p.Update(0, 1.5))

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	data := BuildFromProfile(p, []float64{3.0}, start, 2)
	require.Len(t, data.Points, 2)
	assert.InDelta(t, 1.5, data.Points[0].ConsumptionKW, 1e-9)
	assert.InDelta(t, 3.0, data.Points[0].SolarKW, 1e-9)
	assert.InDelta(t, 0.0, data.Points[1].SolarKW, 1e-9)
}

func TestDataAt(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d := Data{Points: []Point{{Start: start, ConsumptionKW: 1}}}
	p, ok := d.At(start.Add(5 * time.Minute))
	require.True(t, ok)
	assert.Equal(t, 1.0, p.ConsumptionKW)

	_, ok = d.At(start.Add(time.Hour))
	assert.False(t, ok)
}

func TestHourlyProfileDeterministicOnSameInput(t *testing.T) {
	samples := []float64{2.0, 2.5, 1.8, 3.1, 2.2}

	run := func() float64 {
		p, err := NewHourlyProfile(0.4)
		require.NoError(t, err)
		for _, v := range samples {
			require.NoError(t, p.Update(7, v))
		}
		return p.Estimate(7)
	}

	first := run()
	assert.Equal(t, first, run())
	assert.Equal(t, first, run())
}
