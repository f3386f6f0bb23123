// Package battery models the residential battery: capacity, limits and the
// running average-charge-price cost basis used by the economic strategies.
package battery

import "fmt"

// State is a point-in-time snapshot of the battery.
type State struct {
	CapacityKWh    float64 // usable capacity
	SOC            float64 // state of charge, 0-1
	MinSOC         float64 // floor, 0-1
	MaxSOC         float64 // ceiling, 0-1
	MaxChargeKW    float64
	MaxDischargeKW float64
	Efficiency     float64 // round-trip efficiency, 0-1
	WearCostPerKWh float64 // degradation cost, currency/kWh cycled

	// AvgChargePrice is the energy-weighted mean price (currency/kWh) paid
	// for the energy currently stored in the battery. It only exists
	// against EnergyBasisKWh, the portion of the charge actually tracked
	// by the cost basis (see Charge/Discharge).
	AvgChargePrice float64
	EnergyBasisKWh float64
}

// EnergyKWh returns the amount of energy currently stored.
func (s State) EnergyKWh() float64 {
	return s.CapacityKWh * s.SOC
}

// HeadroomKWh returns how much energy could still be charged before MaxSOC.
func (s State) HeadroomKWh() float64 {
	headroom := s.CapacityKWh*s.MaxSOC - s.EnergyKWh()
	if headroom < 0 {
		return 0
	}
	return headroom
}

// AvailableKWh returns how much energy could still be discharged before MinSOC.
func (s State) AvailableKWh() float64 {
	available := s.EnergyKWh() - s.CapacityKWh*s.MinSOC
	if available < 0 {
		return 0
	}
	return available
}

// Charge adds storedKWh, the energy actually stored in the battery
// (efficiency already applied by the caller to the AC-side energy), updating
// SOC and the cost basis. price is the currency/kWh paid for the AC-side
// energy used to produce this charge.
func (s *State) Charge(storedKWh, price float64) error {
	if storedKWh < 0 {
		return fmt.Errorf("battery: charge amount must be non-negative, got %f", storedKWh)
	}
	if s.CapacityKWh <= 0 {
		return fmt.Errorf("battery: capacity must be positive")
	}

	s.AvgChargePrice = blendedPrice(s.AvgChargePrice, s.EnergyBasisKWh, price, storedKWh)
	s.EnergyBasisKWh += storedKWh

	s.SOC += storedKWh / s.CapacityKWh
	if s.SOC > 1 {
		s.SOC = 1
	}
	return nil
}

// Discharge removes dischargeKWh of stored energy from the battery,
// proportionally reducing the cost basis by the same ratio the spec's
// two-pass generator applies: discharge_ratio = min(discharge/energy, 1.0).
func (s *State) Discharge(dischargeKWh float64) error {
	if dischargeKWh < 0 {
		return fmt.Errorf("battery: discharge amount must be non-negative, got %f", dischargeKWh)
	}
	if s.CapacityKWh <= 0 {
		return fmt.Errorf("battery: capacity must be positive")
	}

	energy := s.EnergyKWh()
	ratio := 1.0
	if energy > 0 {
		ratio = dischargeKWh / energy
		if ratio > 1 {
			ratio = 1
		}
	}

	s.EnergyBasisKWh -= s.EnergyBasisKWh * ratio
	if s.EnergyBasisKWh < 0 {
		s.EnergyBasisKWh = 0
	}
	if s.EnergyBasisKWh == 0 {
		s.AvgChargePrice = 0
	}

	s.SOC -= dischargeKWh / s.CapacityKWh
	if s.SOC < 0 {
		s.SOC = 0
	}
	return nil
}

// blendedPrice computes the energy-weighted mean of an existing (price,
// quantity) pair and an incoming one.
func blendedPrice(existingPrice, existingQty, incomingPrice, incomingQty float64) float64 {
	total := existingQty + incomingQty
	if total <= 0 {
		return existingPrice
	}
	return (existingPrice*existingQty + incomingPrice*incomingQty) / total
}

// WearCost returns the degradation cost of cycling throughputKWh of energy
// (charge or discharge magnitude) through the battery.
func (s State) WearCost(throughputKWh float64) float64 {
	return throughputKWh * s.WearCostPerKWh
}
