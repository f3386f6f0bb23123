package pricing

import (
	"encoding/json"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawBlock(start time.Time, spotEURMWh float64) Block {
	return Block{Start: start, End: start.Add(15 * time.Minute), SpotEURMWh: spotEURMWh}
}

func TestBuildPriceBlocksAppliesWindowFee(t *testing.T) {
	// 02:00 is inside the night low window, 12:00 outside.
	night := HDOSchedule{LowWindows: []TariffWindow{{Name: "night", StartHour: 22, EndHour: 6}}}
	fees := TariffFees{LowFeePerKWh: 0.5, HighFeePerKWh: 1.8, SpotBuyFeePerKWh: 1.0}

	low := time.Date(2026, 1, 10, 2, 0, 0, 0, time.UTC)
	high := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	out := BuildPriceBlocks([]Block{rawBlock(low, 1000), rawBlock(high, 2000)}, nil, night, fees, log.Default())

	require.Len(t, out, 2)
	assert.InDelta(t, 1.0, out[0].SpotPricePerKWh, 1e-9)
	assert.InDelta(t, 1.5, out[0].EffectivePricePerKWh, 1e-9)
	assert.InDelta(t, 2.0, out[1].SpotPricePerKWh, 1e-9)
	assert.InDelta(t, 3.8, out[1].EffectivePricePerKWh, 1e-9)

	// The fee law holds for every block.
	for _, b := range out {
		window, ok := night.WindowAt(b.BlockStart)
		require.True(t, ok)
		assert.InDelta(t, b.SpotPricePerKWh+fees.Fee(window), b.EffectivePricePerKWh, 1e-9)
	}
}

func TestBuildPriceBlocksConcatenatesTodayTomorrow(t *testing.T) {
	resolver := HDOSchedule{}
	day1 := time.Date(2026, 1, 10, 23, 45, 0, 0, time.UTC)
	day2 := time.Date(2026, 1, 11, 0, 0, 0, 0, time.UTC)

	out := BuildPriceBlocks(
		[]Block{rawBlock(day1, 100)},
		[]Block{rawBlock(day2, 200)},
		resolver, TariffFees{}, log.Default())

	require.Len(t, out, 2)
	assert.True(t, out[0].BlockStart.Before(out[1].BlockStart))
}

func TestBuildPriceBlocksDuplicateKeepsLastWritten(t *testing.T) {
	resolver := HDOSchedule{}
	start := time.Date(2026, 1, 10, 10, 0, 0, 0, time.UTC)

	out := BuildPriceBlocks(
		[]Block{rawBlock(start, 100)},
		[]Block{rawBlock(start, 999)},
		resolver, TariffFees{}, log.Default())

	require.Len(t, out, 1)
	assert.InDelta(t, 0.999, out[0].SpotPricePerKWh, 1e-9)
}

type unknownResolver struct{}

func (unknownResolver) WindowAt(time.Time) (Window, bool) { return WindowUnknown, false }

func TestBuildPriceBlocksUnknownWindowFallsBack(t *testing.T) {
	fees := TariffFees{LowFeePerKWh: 0.5, HighFeePerKWh: 1.8, SpotBuyFeePerKWh: 1.2}
	start := time.Date(2026, 1, 10, 10, 0, 0, 0, time.UTC)

	out := BuildPriceBlocks([]Block{rawBlock(start, 1000)}, nil, unknownResolver{}, fees, log.Default())

	require.Len(t, out, 1)
	assert.InDelta(t, 2.2, out[0].EffectivePricePerKWh, 1e-9)
}

func TestBuildPriceBlocksNegativeSpotPassesThrough(t *testing.T) {
	resolver := HDOSchedule{}
	start := time.Date(2026, 1, 10, 13, 0, 0, 0, time.UTC)

	out := BuildPriceBlocks([]Block{rawBlock(start, -500)}, nil, resolver, TariffFees{HighFeePerKWh: 0.2}, log.Default())

	require.Len(t, out, 1)
	assert.InDelta(t, -0.5, out[0].SpotPricePerKWh, 1e-9)
	assert.InDelta(t, -0.3, out[0].EffectivePricePerKWh, 1e-9)
}

func TestPriceBlockJSONRoundTrip(t *testing.T) {
	in := PriceBlock{
		BlockStart:           time.Date(2026, 1, 10, 2, 0, 0, 0, time.UTC),
		DurationMinutes:      15,
		SpotPricePerKWh:      1.25,
		EffectivePricePerKWh: 1.75,
	}
	data, err := json.Marshal(in)
	require.NoError(t, err)
	var out PriceBlock
	require.NoError(t, json.Unmarshal(data, &out))
	assert.True(t, in.BlockStart.Equal(out.BlockStart))
	assert.Equal(t, in.DurationMinutes, out.DurationMinutes)
	assert.Equal(t, in.SpotPricePerKWh, out.SpotPricePerKWh)
	assert.Equal(t, in.EffectivePricePerKWh, out.EffectivePricePerKWh)
}

func TestAverageEffectivePrice(t *testing.T) {
	blocks := []PriceBlock{
		{EffectivePricePerKWh: 1.0},
		{EffectivePricePerKWh: 3.0},
	}
	assert.InDelta(t, 2.0, AverageEffectivePrice(blocks), 1e-9)
	assert.Zero(t, AverageEffectivePrice(nil))
}
