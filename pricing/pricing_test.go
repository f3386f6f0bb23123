package pricing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeEffectivePrices(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	blocks := []Block{
		{Start: start, End: start.Add(15 * time.Minute), SpotEURMWh: 100},
	}
	fees := Fees{ImportOperatorEURMWh: 8.5, ImportDeliveryEURMWh: 40, ExportOperatorEURMWh: 17}

	out, err := ComputeEffectivePrices(blocks, fees)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.InDelta(t, 0.1485, out[0].ImportEURPerKWh, 1e-9)
	assert.InDelta(t, 0.083, out[0].ExportEURPerKWh, 1e-9)
}

func TestComputeEffectivePricesRejectsBadBlock(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := ComputeEffectivePrices([]Block{{Start: start, End: start}}, Fees{})
	assert.Error(t, err)
}

func TestTariffWindowWraps(t *testing.T) {
	night := TariffWindow{Name: "night", StartHour: 22, EndHour: 6}
	assert.True(t, night.Contains(23))
	assert.True(t, night.Contains(3))
	assert.False(t, night.Contains(12))
}

func TestTariffScheduleActiveWindows(t *testing.T) {
	sched := TariffSchedule{Windows: []TariffWindow{
		{Name: "night", StartHour: 22, EndHour: 6},
		{Name: "peak", StartHour: 17, EndHour: 20},
	}}
	t1 := time.Date(2026, 1, 1, 18, 0, 0, 0, time.UTC)
	assert.Equal(t, []string{"peak"}, sched.ActiveWindows(t1))
}
