package backtest

import (
	"log"
	"time"

	"github.com/kestrelhome/battplan/battery"
	"github.com/kestrelhome/battplan/forecast"
	"github.com/kestrelhome/battplan/optimizer"
	"github.com/kestrelhome/battplan/schedule"
	"github.com/kestrelhome/battplan/strategy"
)

// BlockResult pairs one scheduled block with its simulated energy flows
// and cost, plus the realized cost where the scenario recorded an actual
// trace.
type BlockResult struct {
	Start         time.Time     `json:"start" yaml:"start"`
	Mode          strategy.Mode `json:"mode" yaml:"mode"`
	Reason        string        `json:"reason" yaml:"reason"`
	SOCBefore     float64       `json:"soc_before" yaml:"soc_before"`
	GridImportKWh float64       `json:"grid_import_kwh" yaml:"grid_import_kwh"`
	GridExportKWh float64       `json:"grid_export_kwh" yaml:"grid_export_kwh"`
	PredictedCost float64       `json:"predicted_cost" yaml:"predicted_cost"`
	RealizedCost  *float64      `json:"realized_cost,omitempty" yaml:"realized_cost,omitempty"`
}

// Result summarizes one replay.
type Result struct {
	Scenario         string         `json:"scenario" yaml:"scenario"`
	Tally            schedule.Tally `json:"tally" yaml:"tally"`
	Blocks           []BlockResult  `json:"blocks" yaml:"blocks"`
	PredictedCost    float64        `json:"predicted_cost" yaml:"predicted_cost"`
	RealizedCost     *float64       `json:"realized_cost,omitempty" yaml:"realized_cost,omitempty"`
	NoBatteryCost    float64        `json:"no_battery_cost" yaml:"no_battery_cost"`
	PredictedSavings float64        `json:"predicted_savings" yaml:"predicted_savings"`
	FinalSOC         float64        `json:"final_soc" yaml:"final_soc"`
}

// Run generates a schedule for the scenario with the given registry and
// steps a simulated battery through it block by block. The same generator
// the live planner uses produces the schedule; only the energy stepping is
// local to this package.
func Run(s *Scenario, registry *strategy.Registry, logger *log.Logger) (*Result, error) {
	if logger == nil {
		logger = log.Default()
	}

	prices := make([]strategy.PriceBlock, len(s.Blocks))
	points := make([]forecastPoint, len(s.Blocks))
	for i, b := range s.Blocks {
		duration := b.DurationMinutes
		if duration <= 0 {
			duration = 15
		}
		prices[i] = strategy.PriceBlock{
			BlockStart:           b.Start,
			DurationMinutes:      duration,
			SpotPricePerKWh:      b.SpotPrice,
			EffectivePricePerKWh: b.EffectivePrice,
		}
		points[i] = forecastPoint{solarKWh: b.SolarKWh, consumptionKWh: b.ConsumptionKWh}
	}

	opt := optimizer.New(registry, logger)
	params := s.params()
	in := schedule.Input{
		Prices:                prices,
		Battery:               s.batteryState(),
		Forecast:              toForecast(points),
		ExportPricePerKWh:     s.ExportPricePerKWh,
		BackupDischargeMinSOC: params.BackupDischargeMinSOC,
	}
	// Generate as of the first block's start so nothing is filtered.
	now := s.Blocks[0].Start
	sched, tally, err := schedule.Generate(params, in, opt, now)
	if err != nil {
		return nil, err
	}

	result := &Result{Scenario: s.Name, Tally: tally}
	bat := s.batteryState()
	var realizedTotal float64
	realizedSeen := false

	for i, entry := range sched.Entries {
		if i >= len(s.Blocks) {
			break
		}
		blk := s.Blocks[i]
		hours := float64(entry.DurationMinutes) / 60.0
		if hours <= 0 {
			hours = 0.25
		}

		br := BlockResult{Start: entry.BlockStart, Mode: entry.Mode, Reason: entry.Reason, SOCBefore: bat.SOC}
		stepBattery(&bat, entry.Mode, blk, hours, &br)
		br.PredictedCost = br.GridImportKWh*blk.EffectivePrice - br.GridExportKWh*s.ExportPricePerKWh
		result.PredictedCost += br.PredictedCost

		if blk.ActualGridImportKWh != nil {
			var exp float64
			if blk.ActualGridExportKWh != nil {
				exp = *blk.ActualGridExportKWh
			}
			realized := *blk.ActualGridImportKWh*blk.EffectivePrice - exp*s.ExportPricePerKWh
			br.RealizedCost = &realized
			realizedTotal += realized
			realizedSeen = true
		}

		result.Blocks = append(result.Blocks, br)
	}

	if realizedSeen {
		result.RealizedCost = &realizedTotal
	}
	result.NoBatteryCost = noBatteryCost(s)
	result.PredictedSavings = result.NoBatteryCost - result.PredictedCost
	result.FinalSOC = bat.SOC
	return result, nil
}

type forecastPoint struct {
	solarKWh       float64
	consumptionKWh float64
}

func toForecast(points []forecastPoint) schedule.Forecast {
	f := schedule.Forecast{Points: make([]forecast.Point, len(points))}
	for i, p := range points {
		// The forecast horizon carries average power per block; the
		// scenario records energy, so divide by the block width.
		f.Points[i] = forecast.Point{
			SolarKW:       p.solarKWh / 0.25,
			ConsumptionKW: p.consumptionKWh / 0.25,
		}
	}
	return f
}

// stepBattery advances the simulated battery one block under mode and
// records the resulting grid flows on br.
func stepBattery(bat *battery.State, mode strategy.Mode, blk ScenarioBlock, hours float64, br *BlockResult) {
	switch mode {
	case strategy.ForceCharge:
		stored := bat.MaxChargeKW * hours * bat.Efficiency
		if headroom := bat.HeadroomKWh(); stored > headroom {
			stored = headroom
		}
		acSide := 0.0
		if bat.Efficiency > 0 {
			acSide = stored / bat.Efficiency
		}
		_ = bat.Charge(stored, blk.EffectivePrice)
		solarSurplus := blk.SolarKWh - blk.ConsumptionKWh
		if solarSurplus < 0 {
			solarSurplus = 0
		}
		gridForCharge := acSide - solarSurplus
		if gridForCharge < 0 {
			br.GridExportKWh = -gridForCharge
			gridForCharge = 0
		}
		household := blk.ConsumptionKWh - blk.SolarKWh
		if household < 0 {
			household = 0
		}
		br.GridImportKWh = household + gridForCharge
	case strategy.ForceDischarge:
		discharge := bat.MaxDischargeKW * hours
		if available := bat.AvailableKWh(); discharge > available {
			discharge = available
		}
		_ = bat.Discharge(discharge)
		supply := blk.SolarKWh + discharge
		if supply >= blk.ConsumptionKWh {
			br.GridExportKWh = supply - blk.ConsumptionKWh
		} else {
			br.GridImportKWh = blk.ConsumptionKWh - supply
		}
	default: // SelfUse, BackUp
		net := blk.ConsumptionKWh - blk.SolarKWh
		if net > 0 {
			draw := net
			if available := bat.AvailableKWh(); draw > available {
				draw = available
			}
			_ = bat.Discharge(draw)
			br.GridImportKWh = net - draw
		} else if net < 0 {
			surplus := -net
			charge := surplus
			if headroom := bat.HeadroomKWh(); charge > headroom {
				charge = headroom
			}
			_ = bat.Charge(charge, 0)
			br.GridExportKWh = surplus - charge
		}
	}
}

// noBatteryCost prices the scenario as if no battery existed: every
// shortfall imports, every surplus exports.
func noBatteryCost(s *Scenario) float64 {
	var total float64
	for _, blk := range s.Blocks {
		net := blk.ConsumptionKWh - blk.SolarKWh
		if net > 0 {
			total += net * blk.EffectivePrice
		} else {
			total -= -net * s.ExportPricePerKWh
		}
	}
	return total
}
