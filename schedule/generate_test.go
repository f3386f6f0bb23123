package schedule

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelhome/battplan/battery"
	"github.com/kestrelhome/battplan/forecast"
	"github.com/kestrelhome/battplan/optimizer"
	"github.com/kestrelhome/battplan/strategy"
	"github.com/kestrelhome/battplan/usercontrol"
)

func pricedHorizon(start time.Time, effectivePrices ...float64) []strategy.PriceBlock {
	blocks := make([]strategy.PriceBlock, len(effectivePrices))
	for i, p := range effectivePrices {
		blocks[i] = strategy.PriceBlock{
			BlockStart:           start.Add(time.Duration(i) * 15 * time.Minute),
			DurationMinutes:      15,
			SpotPricePerKWh:      p,
			EffectivePricePerKWh: p,
		}
	}
	return blocks
}

func testBattery() battery.State {
	return battery.State{
		CapacityKWh:    10,
		SOC:            0.2,
		MinSOC:         0.1,
		MaxSOC:         1.0,
		MaxChargeKW:    3,
		MaxDischargeKW: 3,
		Efficiency:     0.95,
		WearCostPerKWh: 0.05,
	}
}

func flatForecast(n int, start time.Time, solarKW, consumptionKW float64) Forecast {
	points := make([]forecast.Point, n)
	for i := range points {
		points[i] = forecast.Point{
			Start:         start.Add(time.Duration(i) * 15 * time.Minute),
			SolarKW:       solarKW,
			ConsumptionKW: consumptionKW,
		}
	}
	return Forecast{Points: points}
}

func defaultOptimizer() *optimizer.Optimizer {
	return optimizer.New(strategy.DefaultRegistry(), nil)
}

func TestFilterHorizonDropsStaleBlocks(t *testing.T) {
	start := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	prices := pricedHorizon(start, 1, 1, 1, 1)
	now := start.Add(25 * time.Minute) // cutoff at now-15m = start+10m

	filtered := filterHorizon(prices, now)
	require.Len(t, filtered, 3)
	for _, b := range filtered {
		assert.False(t, b.BlockStart.Before(now.Add(-15*time.Minute)))
	}
}

func TestGenerateEmptyInputs(t *testing.T) {
	now := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)

	sched, tally, err := Generate(DefaultParams(), Input{}, defaultOptimizer(), now)
	require.NoError(t, err)
	assert.Empty(t, sched.Entries)
	assert.Zero(t, tally)

	// A horizon entirely in the past also filters to empty.
	stale := pricedHorizon(now.Add(-2*time.Hour), 1, 1, 1)
	sched, _, err = Generate(DefaultParams(), Input{Prices: stale, Battery: testBattery()}, defaultOptimizer(), now)
	require.NoError(t, err)
	assert.Empty(t, sched.Entries)
}

func TestGenerateScheduleIsMonotonic(t *testing.T) {
	start := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	prices := pricedHorizon(start, 1, 1, 1, 1, 5, 5, 5, 5, 5, 5, 5, 5)
	in := Input{
		Prices:                prices,
		Battery:               testBattery(),
		Forecast:              flatForecast(len(prices), start, 0, 0.8),
		ExportPricePerKWh:     0.05,
		BackupDischargeMinSOC: 0.1,
	}

	sched, _, err := Generate(DefaultParams(), in, defaultOptimizer(), start)
	require.NoError(t, err)
	require.Len(t, sched.Entries, len(prices))
	for i := 1; i < len(sched.Entries); i++ {
		prev, cur := sched.Entries[i-1], sched.Entries[i]
		expected := prev.BlockStart.Add(time.Duration(prev.DurationMinutes) * time.Minute)
		assert.True(t, cur.BlockStart.Equal(expected),
			"entry %d starts at %s, want %s", i, cur.BlockStart, expected)
	}
}

func TestOvernightCheapCharge(t *testing.T) {
	// Four cheap blocks then twenty expensive ones: the cheap blocks are
	// force-charged, the rest self-use.
	start := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	effectivePrices := make([]float64, 24)
	for i := range effectivePrices {
		if i < 4 {
			effectivePrices[i] = 1.0
		} else {
			effectivePrices[i] = 5.0
		}
	}
	prices := pricedHorizon(start, effectivePrices...)
	bat := testBattery()

	in := Input{
		Prices:                prices,
		Battery:               bat,
		Forecast:              flatForecast(len(prices), start, 0, 0),
		ExportPricePerKWh:     0.05,
		BackupDischargeMinSOC: 0.1,
	}
	params := DefaultParams()
	params.MinConsecutiveForceBlocks = 2

	sched, tally, err := Generate(params, in, defaultOptimizer(), start)
	require.NoError(t, err)
	require.Len(t, sched.Entries, 24)

	forceCharged := 0
	for i, e := range sched.Entries {
		if i < 4 {
			assert.Equal(t, strategy.ForceCharge, e.Mode, "block %d should force-charge", i)
			forceCharged++
		} else {
			assert.Equal(t, strategy.SelfUse, e.Mode, "block %d should self-use", i)
		}
	}
	assert.GreaterOrEqual(t, forceCharged, params.MinConsecutiveForceBlocks)
	assert.Equal(t, forceCharged, tally.ForceCharge)

	// Pass-1 SOC prediction at the first expensive block reflects the
	// charge energy accumulated across the cheap blocks.
	predicted := pass1Predict(params, in, prices, params.DefaultBatteryCostBasis, defaultOptimizer())
	wantMin := bat.SOC + (bat.MaxChargeKW*0.25*float64(forceCharged)*bat.Efficiency)/bat.CapacityKWh
	assert.GreaterOrEqual(t, predicted[4]+1e-9, wantMin)
}

func TestPass1PredictionsStayWithinBounds(t *testing.T) {
	start := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	// Strongly alternating prices push both charge and discharge hard.
	effectivePrices := make([]float64, 48)
	for i := range effectivePrices {
		if i%8 < 4 {
			effectivePrices[i] = -0.2
		} else {
			effectivePrices[i] = 8.0
		}
	}
	prices := pricedHorizon(start, effectivePrices...)
	bat := testBattery()

	in := Input{
		Prices:                prices,
		Battery:               bat,
		Forecast:              flatForecast(len(prices), start, 0, 1.2),
		ExportPricePerKWh:     2.0,
		BackupDischargeMinSOC: 0.1,
	}
	params := DefaultParams()

	predicted := pass1Predict(params, in, prices, 0.5, defaultOptimizer())
	require.Len(t, predicted, len(prices))
	for i, soc := range predicted {
		assert.GreaterOrEqual(t, soc+1e-9, bat.MinSOC, "block %d", i)
		assert.LessOrEqual(t, soc-1e-9, bat.MaxSOC, "block %d", i)
	}
}

func TestUserOverridePreemptsStrategies(t *testing.T) {
	start := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	prices := pricedHorizon(start, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1)

	store := usercontrol.NewStore("")
	slotStart := start.Add(4 * 15 * time.Minute)
	slot := usercontrol.FixedSlot{
		ID:    "slot-1",
		Start: slotStart,
		End:   slotStart.Add(2 * time.Hour),
		Mode:  strategy.BackUp,
		Note:  "outage expected",
	}
	store.Apply(usercontrol.UpdateEvent{UpsertSlot: &slot}, start)

	in := Input{
		Prices:                prices,
		Battery:               testBattery(),
		Forecast:              flatForecast(len(prices), start, 0, 0.5),
		UserControl:           store,
		ExportPricePerKWh:     0.05,
		BackupDischargeMinSOC: 0.1,
	}

	sched, _, err := Generate(DefaultParams(), in, defaultOptimizer(), start)
	require.NoError(t, err)

	for _, e := range sched.Entries {
		if slot.Covers(e.BlockStart) {
			assert.Equal(t, strategy.BackUp, e.Mode, "block %s", e.BlockStart)
			assert.True(t, strings.HasPrefix(e.Reason, "User Override"), "reason %q", e.Reason)
		}
	}
}

func TestDisallowDischargeConvertsPeakDischarge(t *testing.T) {
	// A peak block over a cheap cost basis and a high export price makes
	// force-discharge the winning move; the restriction converts it.
	start := time.Date(2026, 1, 10, 17, 0, 0, 0, time.UTC)
	effectivePrices := []float64{1, 1, 1, 1, 6, 6, 6, 6, 1, 1, 1, 1}
	prices := pricedHorizon(start, effectivePrices...)

	bat := testBattery()
	bat.SOC = 0.9

	baseInput := Input{
		Prices:                   prices,
		Battery:                  bat,
		Forecast:                 flatForecast(len(prices), start, 0, 0),
		ExportPricePerKWh:        2.0,
		BackupDischargeMinSOC:    0.1,
		PrevDayAvgEffectivePrice: 0.5,
	}

	// Without the restriction the peak is discharged.
	sched, tally, err := Generate(DefaultParams(), baseInput, defaultOptimizer(), start)
	require.NoError(t, err)
	require.Greater(t, tally.ForceDischarge, 0, "expected the peak to be discharged without restrictions")

	// With the restriction, no force-discharge survives and the converted
	// blocks say why.
	store := usercontrol.NewStore("")
	disallow := true
	store.Apply(usercontrol.UpdateEvent{SetDisallowDischarge: &disallow}, start)
	restricted := baseInput
	restricted.UserControl = store

	sched, tally, err = Generate(DefaultParams(), restricted, defaultOptimizer(), start)
	require.NoError(t, err)
	assert.Zero(t, tally.ForceDischarge)

	converted := 0
	for _, e := range sched.Entries {
		assert.NotEqual(t, strategy.ForceDischarge, e.Mode)
		if strings.Contains(e.Reason, "discharge disallowed") {
			converted++
		}
	}
	assert.Greater(t, converted, 0)
}

func TestDisallowChargeLeavesNoForceCharge(t *testing.T) {
	start := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	effectivePrices := []float64{1, 1, 1, 1, 5, 5, 5, 5, 5, 5, 5, 5}
	prices := pricedHorizon(start, effectivePrices...)

	store := usercontrol.NewStore("")
	disallow := true
	store.Apply(usercontrol.UpdateEvent{SetDisallowCharge: &disallow}, start)

	in := Input{
		Prices:                prices,
		Battery:               testBattery(),
		Forecast:              flatForecast(len(prices), start, 0, 0),
		UserControl:           store,
		ExportPricePerKWh:     0.05,
		BackupDischargeMinSOC: 0.1,
	}

	sched, tally, err := Generate(DefaultParams(), in, defaultOptimizer(), start)
	require.NoError(t, err)
	assert.Zero(t, tally.ForceCharge)
	for _, e := range sched.Entries {
		assert.NotEqual(t, strategy.ForceCharge, e.Mode)
	}
}

func TestInitialCostBasisPreference(t *testing.T) {
	params := Params{DefaultBatteryCostBasis: 0.3}

	assert.Equal(t, 1.5, initialCostBasis(params, Input{PrevDayAvgEffectivePrice: 1.5, TodayAvgEffectivePrice: 2.0}))
	assert.Equal(t, 2.0, initialCostBasis(params, Input{TodayAvgEffectivePrice: 2.0}))
	assert.Equal(t, 0.3, initialCostBasis(params, Input{}))
}

func TestSimStateCostBasisTracking(t *testing.T) {
	bat := testBattery()
	sim := newSimState(bat, 1.0)
	assert.Zero(t, sim.energyBasisKWh)

	// First tracked charge dominates the blend against an empty basis.
	sim.charge(bat, 2.0, 0.5)
	assert.InDelta(t, 0.5, sim.avgChargePrice, 1e-9)
	assert.InDelta(t, 0.2+0.2, sim.soc, 1e-9)

	// A second, pricier charge moves the mean proportionally.
	sim.charge(bat, 2.0, 1.5)
	assert.InDelta(t, 1.0, sim.avgChargePrice, 1e-9)

	// Discharging half the stored energy halves the basis quantity but
	// keeps the mean price.
	before := sim.avgChargePrice
	sim.discharge(bat, bat.CapacityKWh*sim.soc/2)
	assert.InDelta(t, before, sim.avgChargePrice, 1e-9)
	assert.InDelta(t, 2.0, sim.energyBasisKWh, 1e-9)
}

func TestScheduleHistoryRing(t *testing.T) {
	h := NewHistory(2)
	_, ok := h.Latest()
	assert.False(t, ok)

	now := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		h.Record(HistoryEntry{Trigger: string(rune('a' + i)), GeneratedAt: now.Add(time.Duration(i) * time.Minute)})
	}

	latest, ok := h.Latest()
	require.True(t, ok)
	assert.Equal(t, "c", latest.Trigger)

	all := h.All()
	require.Len(t, all, 2)
	assert.Equal(t, "b", all[0].Trigger)
	assert.Equal(t, "c", all[1].Trigger)
}

func TestNegativePricesScheduleForceCharge(t *testing.T) {
	start := time.Date(2026, 1, 10, 13, 0, 0, 0, time.UTC)
	prices := pricedHorizon(start, -0.3, -0.2, 3, 3, 3, 3, 3, 3)
	bat := testBattery()
	bat.SOC = 0.4

	in := Input{
		Prices:                prices,
		Battery:               bat,
		Forecast:              flatForecast(len(prices), start, 0, 0.3),
		ExportPricePerKWh:     0.05,
		BackupDischargeMinSOC: 0.1,
	}

	sched, _, err := Generate(DefaultParams(), in, defaultOptimizer(), start)
	require.NoError(t, err)
	require.NotEmpty(t, sched.Entries)

	for i := 0; i < 2; i++ {
		assert.Equal(t, strategy.ForceCharge, sched.Entries[i].Mode, "negative-price block %d", i)
		assert.Contains(t, sched.Entries[i].DecisionUID, "negative")
	}
}
