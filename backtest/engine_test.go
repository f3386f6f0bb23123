package backtest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelhome/battplan/strategy"
)

func cheapExpensiveScenario() *Scenario {
	start := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	s := &Scenario{
		Name:              "cheap-night",
		ExportPricePerKWh: 0.05,
		Battery: BatterySpec{
			CapacityKWh:    10,
			InitialSOC:     0.2,
			MinSOC:         0.1,
			MaxSOC:         1.0,
			MaxChargeKW:    3,
			MaxDischargeKW: 3,
			Efficiency:     0.9,
		},
		MinConsecutiveForceBlocks: 2,
	}
	for i := 0; i < 16; i++ {
		price := 5.0
		if i < 4 {
			price = 1.0
		}
		s.Blocks = append(s.Blocks, ScenarioBlock{
			Start:           start.Add(time.Duration(i) * 15 * time.Minute),
			DurationMinutes: 15,
			SpotPrice:       price,
			EffectivePrice:  price,
			ConsumptionKWh:  0.2,
		})
	}
	return s
}

func TestRunChargesCheapBlocksAndSaves(t *testing.T) {
	result, err := Run(cheapExpensiveScenario(), strategy.DefaultRegistry(), nil)
	require.NoError(t, err)
	require.Len(t, result.Blocks, 16)

	assert.GreaterOrEqual(t, result.Tally.ForceCharge, 2)
	assert.Greater(t, result.PredictedSavings, 0.0,
		"battery arbitrage should beat the no-battery baseline")
	assert.Greater(t, result.FinalSOC, 0.2)
	assert.Nil(t, result.RealizedCost)

	// Per-block predicted cost sums to the total.
	var sum float64
	for _, b := range result.Blocks {
		sum += b.PredictedCost
	}
	assert.InDelta(t, result.PredictedCost, sum, 1e-9)
}

func TestRunDiffsRealizedCost(t *testing.T) {
	s := cheapExpensiveScenario()
	actualImport := 0.3
	for i := range s.Blocks {
		s.Blocks[i].ActualGridImportKWh = &actualImport
	}

	result, err := Run(s, strategy.DefaultRegistry(), nil)
	require.NoError(t, err)
	require.NotNil(t, result.RealizedCost)

	// 0.3 kWh at each block's effective price.
	want := 0.3*1.0*4 + 0.3*5.0*12
	assert.InDelta(t, want, *result.RealizedCost, 1e-9)
}

func TestParseScenario(t *testing.T) {
	doc := []byte(`
name: sample
export_price_per_kwh: 0.05
battery:
  capacity_kwh: 10
  initial_soc: 0.5
  min_soc: 0.1
  max_soc: 1.0
  max_charge_kw: 3
  max_discharge_kw: 3
  efficiency: 0.9
blocks:
  - start: 2026-01-10T00:00:00Z
    duration_minutes: 15
    spot_price: 1.0
    effective_price: 1.5
    consumption_kwh: 0.2
  - start: 2026-01-10T00:15:00Z
    duration_minutes: 15
    spot_price: 2.0
    effective_price: 2.5
    consumption_kwh: 0.2
`)
	s, err := ParseScenario(doc)
	require.NoError(t, err)
	assert.Equal(t, "sample", s.Name)
	require.Len(t, s.Blocks, 2)
	assert.Equal(t, 1.5, s.Blocks[0].EffectivePrice)
}

func TestScenarioValidation(t *testing.T) {
	s := cheapExpensiveScenario()
	s.Battery.Efficiency = 1.5
	assert.Error(t, s.Validate())

	s = cheapExpensiveScenario()
	s.Blocks[1].Start = s.Blocks[0].Start
	assert.Error(t, s.Validate())

	s = cheapExpensiveScenario()
	s.Blocks = nil
	assert.Error(t, s.Validate())
}

func TestNoBatteryCost(t *testing.T) {
	s := cheapExpensiveScenario()
	// 0.2 kWh per block: four at 1.0, twelve at 5.0.
	want := 0.2*1.0*4 + 0.2*5.0*12
	assert.InDelta(t, want, noBatteryCost(s), 1e-9)
}
