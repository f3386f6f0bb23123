package schedule

import (
	"time"

	"github.com/kestrelhome/battplan/battery"
	"github.com/kestrelhome/battplan/optimizer"
	"github.com/kestrelhome/battplan/strategy"
	"github.com/kestrelhome/battplan/usercontrol"
)

// Input bundles everything one generation pass needs. The generator
// borrows these for the duration of the call and releases them; nothing
// it touches outlives the call except the returned OperationSchedule.
type Input struct {
	Prices      []strategy.PriceBlock // sorted, abutting
	Battery     battery.State         // live state; treated read-only, a local copy is simulated
	Forecast    Forecast
	UserControl *usercontrol.Store // may be nil: no overrides active

	ExportPricePerKWh     float64
	BackupDischargeMinSOC float64
	GridImportTodayKWh    float64

	// PrevDayAvgEffectivePrice / TodayAvgEffectivePrice seed the initial
	// battery cost basis, preferred in that order; if both
	// are zero-value/absent Params.DefaultBatteryCostBasis is used.
	PrevDayAvgEffectivePrice float64
	TodayAvgEffectivePrice   float64
}

// Generate runs the full two-pass schedule generation plus EEPROM-
// protection post-processing, returning the committed OperationSchedule
// and a mode tally for logging. An empty Input.Prices, or a horizon that
// filters down to nothing, yields an empty schedule, never an error: an
// empty schedule is always a valid fallback and dispatch then commands
// the default mode.
func Generate(params Params, in Input, opt *optimizer.Optimizer, now time.Time) (OperationSchedule, Tally, error) {
	horizon := filterHorizon(in.Prices, now)
	if len(horizon) == 0 {
		return OperationSchedule{GeneratedAt: now}, Tally{}, nil
	}

	costBasis := initialCostBasis(params, in)

	predicted := pass1Predict(params, in, horizon, costBasis, opt)
	entries := pass2Schedule(params, in, horizon, predicted, costBasis, opt)

	entries = mergeNearbyChargeBlocks(params, entries, predicted)
	entries = extendOrDropShortRuns(params, entries, predicted)

	// Tally the committed modes after post-processing so the log matches
	// what dispatch will actually issue.
	var tally Tally
	for _, e := range entries {
		tally.add(e.Mode)
	}

	return OperationSchedule{
		Entries:     entries,
		GeneratedAt: now,
	}, tally, nil
}

// filterHorizon drops every block whose BlockStart is earlier than
// now-minus-one-block-width.
func filterHorizon(prices []strategy.PriceBlock, now time.Time) []strategy.PriceBlock {
	if len(prices) == 0 {
		return nil
	}
	blockWidth := time.Duration(prices[0].DurationMinutes) * time.Minute
	if blockWidth <= 0 {
		blockWidth = 15 * time.Minute
	}
	cutoff := now.Add(-blockWidth)

	out := make([]strategy.PriceBlock, 0, len(prices))
	for _, p := range prices {
		if !p.BlockStart.Before(cutoff) {
			out = append(out, p)
		}
	}
	return out
}

// initialCostBasis seeds the battery's average-charge-price cost basis:
// previous day's average effective price if available, else today's
// average, else the configured default.
func initialCostBasis(params Params, in Input) float64 {
	if in.PrevDayAvgEffectivePrice != 0 {
		return in.PrevDayAvgEffectivePrice
	}
	if in.TodayAvgEffectivePrice != 0 {
		return in.TodayAvgEffectivePrice
	}
	return params.DefaultBatteryCostBasis
}

// simState is a lightweight energy-weighted cost-basis + SOC tracker used
// by both passes, mirroring battery.State's charge/discharge cost-basis
// arithmetic but clamping to the battery's configured ceiling/floor rather
// than the physical 0/100% bounds.
type simState struct {
	soc            float64
	energyBasisKWh float64
	avgChargePrice float64
}

func newSimState(b battery.State, avgChargePrice float64) simState {
	return simState{soc: b.SOC, avgChargePrice: avgChargePrice}
}

func (s *simState) charge(b battery.State, storedKWh, price float64) {
	if storedKWh <= 0 {
		return
	}
	total := s.energyBasisKWh + storedKWh
	if total > 0 {
		s.avgChargePrice = (s.avgChargePrice*s.energyBasisKWh + price*storedKWh) / total
	}
	s.energyBasisKWh = total
	s.soc += storedKWh / b.CapacityKWh
	s.clamp(b)
}

func (s *simState) discharge(b battery.State, dischargeKWh float64) {
	if dischargeKWh <= 0 {
		return
	}
	energy := b.CapacityKWh * s.soc
	ratio := 1.0
	if energy > 0 {
		ratio = dischargeKWh / energy
		if ratio > 1 {
			ratio = 1
		}
	}
	s.energyBasisKWh -= s.energyBasisKWh * ratio
	if s.energyBasisKWh < 0 {
		s.energyBasisKWh = 0
	}
	s.soc -= dischargeKWh / b.CapacityKWh
	s.clamp(b)
}

func (s *simState) clamp(b battery.State) {
	if s.soc > b.MaxSOC {
		s.soc = b.MaxSOC
	}
	if s.soc < b.MinSOC {
		s.soc = b.MinSOC
	}
}

// applyModeStep advances the simulated SOC one block under mode, updating
// the cost basis for charge/discharge movements.
func applyModeStep(s *simState, b battery.State, mode strategy.Mode, price float64, consumptionKWh, solarKWh, hours float64) {
	switch mode {
	case strategy.ForceCharge:
		storedKWh := b.MaxChargeKW * hours * b.Efficiency
		headroom := (b.MaxSOC - s.soc) * b.CapacityKWh
		if storedKWh > headroom {
			storedKWh = headroom
		}
		if storedKWh < 0 {
			storedKWh = 0
		}
		s.charge(b, storedKWh, price)
	case strategy.ForceDischarge:
		dischargeKWh := b.MaxDischargeKW * hours
		available := (s.soc - b.MinSOC) * b.CapacityKWh
		if dischargeKWh > available {
			dischargeKWh = available
		}
		if dischargeKWh < 0 {
			dischargeKWh = 0
		}
		s.discharge(b, dischargeKWh)
	default: // SelfUse, BackUp
		net := consumptionKWh - solarKWh
		if net > 0 {
			available := (s.soc - b.MinSOC) * b.CapacityKWh
			draw := net
			if draw > available {
				draw = available
			}
			if draw > 0 {
				s.discharge(b, draw)
			}
		} else if net < 0 {
			surplus := -net
			headroom := (b.MaxSOC - s.soc) * b.CapacityKWh
			charge := surplus
			if charge > headroom {
				charge = headroom
			}
			if charge > 0 {
				s.charge(b, charge, price)
			}
		}
	}
}

// pass1Predict walks the horizon once using the optimizer's winning
// decision at each step purely to predict SOC, discarding the decisions
// themselves. The returned slice holds the predicted SOC at each
// block-start, index-aligned with horizon.
func pass1Predict(params Params, in Input, horizon []strategy.PriceBlock, initialCostBasis float64, opt *optimizer.Optimizer) []float64 {
	sim := newSimState(in.Battery, initialCostBasis)
	predicted := make([]float64, len(horizon))

	for i, block := range horizon {
		predicted[i] = sim.soc

		ctx := buildContext(in, horizon, i, toSnapshotFromSim(in.Battery, sim), sim.avgChargePrice)
		winner, _, _ := opt.SelectWinner(ctx)

		fp := in.Forecast.snapshotAt(i)
		hours := blockDurationHours(block)
		applyModeStep(&sim, in.Battery, winner.Mode, block.EffectivePricePerKWh, fp.ConsumptionKWh, fp.SolarKWh, hours)
	}
	return predicted
}

func blockDurationHours(b strategy.PriceBlock) float64 {
	if b.DurationMinutes <= 0 {
		return 0.25
	}
	return float64(b.DurationMinutes) / 60.0
}

func toSnapshotFromSim(b battery.State, sim simState) strategy.BatterySnapshot {
	snap := toSnapshot(b)
	snap.SOC = sim.soc
	return snap
}

// buildContext assembles a fresh EvaluationContext for block index i of
// horizon; contexts are never stored across blocks.
func buildContext(in Input, horizon []strategy.PriceBlock, i int, batterySnapshot strategy.BatterySnapshot, avgChargePrice float64) strategy.EvaluationContext {
	return strategy.EvaluationContext{
		ThisBlock:             horizon[i],
		Horizon:               horizon[i:],
		Battery:               batterySnapshot,
		Forecast:              in.Forecast.snapshotAt(i),
		ExportPricePerKWh:     in.ExportPricePerKWh,
		BackupDischargeMinSOC: in.BackupDischargeMinSOC,
		GridImportTodayKWh:    in.GridImportTodayKWh,
		AvgBatteryChargePrice: avgChargePrice,
	}
}
