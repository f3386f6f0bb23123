package battery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChargeBlendsAvgPrice(t *testing.T) {
	s := &State{CapacityKWh: 10, SOC: 0, MaxSOC: 1}

	require.NoError(t, s.Charge(2, 1.0))
	assert.InDelta(t, 1.0, s.AvgChargePrice, 1e-9)

	require.NoError(t, s.Charge(2, 3.0))
	assert.InDelta(t, 2.0, s.AvgChargePrice, 1e-9) // (2*1+2*3)/4
	assert.InDelta(t, 0.4, s.SOC, 1e-9)
}

func TestDischargeReducesBasisProportionally(t *testing.T) {
	s := &State{CapacityKWh: 10, SOC: 0.4, AvgChargePrice: 2.0, EnergyBasisKWh: 4}

	require.NoError(t, s.Discharge(2)) // half of the 4kWh stored
	assert.InDelta(t, 2.0, s.EnergyBasisKWh, 1e-9)
	assert.InDelta(t, 2.0, s.AvgChargePrice, 1e-9) // price itself unaffected by ratio
	assert.InDelta(t, 0.2, s.SOC, 1e-9)
}

func TestDischargeClampsRatioAtFullDrain(t *testing.T) {
	s := &State{CapacityKWh: 10, SOC: 0.2, AvgChargePrice: 1.5, EnergyBasisKWh: 2}

	require.NoError(t, s.Discharge(5)) // more than stored
	assert.Equal(t, 0.0, s.EnergyBasisKWh)
	assert.Equal(t, 0.0, s.AvgChargePrice)
	assert.Equal(t, 0.0, s.SOC)
}

func TestHeadroomAndAvailable(t *testing.T) {
	s := State{CapacityKWh: 10, SOC: 0.5, MinSOC: 0.1, MaxSOC: 0.9}
	assert.InDelta(t, 4.0, s.HeadroomKWh(), 1e-9)
	assert.InDelta(t, 4.0, s.AvailableKWh(), 1e-9)
}

func TestChargeRejectsNegative(t *testing.T) {
	s := &State{CapacityKWh: 10}
	assert.Error(t, s.Charge(-1, 1.0))
}
