package strategy

import "sort"

// This file holds the scoring skeleton every concrete strategy shares:
// the energy-flow arithmetic for each mode and the cost/revenue/profit
// finalisation. Concrete strategies only decide which mode to pick per
// block; they all reduce to these helpers to populate EnergyFlows, Cost,
// Revenue and NetProfit consistently.

// selfUseFlows computes the energy flows for SelfUse/BackUp: the household
// draws from solar first, then battery (if mode allows and SOC permits),
// then grid; any solar surplus charges the battery up to its rate limit and
// headroom, with further surplus exported.
func selfUseFlows(ctx EvaluationContext, allowBatteryDischarge bool) EnergyFlows {
	hours := blockDurationHours(ctx.ThisBlock)
	solar := ctx.Forecast.SolarKWh
	consumption := ctx.Forecast.ConsumptionKWh

	var flows EnergyFlows
	net := consumption - solar
	if net > 0 {
		// Consumption exceeds solar: draw from battery first if allowed.
		if allowBatteryDischarge {
			available := availableKWh(ctx.Battery)
			maxDischarge := ctx.Battery.MaxDischargeKW * hours
			if maxDischarge < available {
				available = maxDischarge
			}
			draw := net
			if draw > available {
				draw = available
			}
			flows.BatteryDischargeKWh = draw
			net -= draw
		}
		if net > 0 {
			flows.GridImportKWh = net
		}
	} else if net < 0 {
		// Solar surplus: charge battery up to headroom/rate, export the rest.
		surplus := -net
		headroom := headroomKWh(ctx.Battery)
		maxCharge := ctx.Battery.MaxChargeKW * hours
		if maxCharge < headroom {
			headroom = maxCharge
		}
		charge := surplus
		if charge > headroom {
			charge = headroom
		}
		flows.BatteryChargeKWh = charge
		flows.GridExportKWh = surplus - charge
	}
	return flows
}

// forceChargeFlows computes the flows for a ForceCharge decision: the
// battery charges at its rate limit (bounded by headroom), solar offsets
// the grid import, and the household's own consumption is still served
// from whatever solar remains plus grid.
func forceChargeFlows(ctx EvaluationContext) EnergyFlows {
	hours := blockDurationHours(ctx.ThisBlock)
	headroom := headroomKWh(ctx.Battery)
	maxCharge := ctx.Battery.MaxChargeKW * hours
	charge := maxCharge
	if charge > headroom {
		charge = headroom
	}

	solar := ctx.Forecast.SolarKWh
	consumption := ctx.Forecast.ConsumptionKWh

	var flows EnergyFlows
	flows.BatteryChargeKWh = charge

	solarForHousehold := solar
	if solarForHousehold > consumption {
		solarForHousehold = consumption
	}
	remainingSolar := solar - solarForHousehold
	householdShortfall := consumption - solarForHousehold

	solarForCharge := remainingSolar
	if solarForCharge > charge {
		solarForCharge = charge
	}
	gridForCharge := charge - solarForCharge
	flows.GridExportKWh = remainingSolar - solarForCharge

	flows.GridImportKWh = householdShortfall + gridForCharge
	return flows
}

// forceDischargeFlows computes the flows for a ForceDischarge decision: the
// battery discharges at its rate limit (bounded by available energy above
// the backup floor), serving the household first and exporting the rest.
func forceDischargeFlows(ctx EvaluationContext) EnergyFlows {
	hours := blockDurationHours(ctx.ThisBlock)
	available := availableKWh(ctx.Battery)
	maxDischarge := ctx.Battery.MaxDischargeKW * hours
	discharge := maxDischarge
	if discharge > available {
		discharge = available
	}

	solar := ctx.Forecast.SolarKWh
	consumption := ctx.Forecast.ConsumptionKWh

	var flows EnergyFlows
	flows.BatteryDischargeKWh = discharge

	available2 := solar + discharge
	if available2 >= consumption {
		flows.GridExportKWh = available2 - consumption
	} else {
		flows.GridImportKWh = consumption - available2
	}
	return flows
}

func headroomKWh(b BatterySnapshot) float64 {
	headroom := b.CapacityKWh*b.MaxSOC - b.CapacityKWh*b.SOC
	if headroom < 0 {
		return 0
	}
	return headroom
}

func availableKWh(b BatterySnapshot) float64 {
	available := b.CapacityKWh*b.SOC - b.CapacityKWh*b.MinSOC
	if available < 0 {
		return 0
	}
	return available
}

// finalizeEconomics computes cost/revenue/profit for a set of flows
// against the block's effective import/export prices, folding in wear
// cost only when includeWear is true.
func finalizeEconomics(eval *BlockEvaluation, ctx EvaluationContext, flows EnergyFlows, includeWear bool, wearCostPerKWh float64) {
	eval.EnergyFlows = flows
	eval.Cost = flows.GridImportKWh * ctx.ThisBlock.EffectivePricePerKWh
	eval.Revenue = flows.GridExportKWh * ctx.ExportPricePerKWh
	if includeWear {
		throughput := flows.BatteryChargeKWh + flows.BatteryDischargeKWh
		eval.Cost += throughput * wearCostPerKWh
	}
	eval.FinalizeProfit()
}

// futureValuePerKWh returns the reference price a kWh stored now is
// expected to earn later in the horizon: the mean of the top quarter of
// effective prices in the blocks after this one. Charging is only ever
// profitable against this future value, so charge evaluations credit it
// as revenue; without it a charge recommendation could never outrank a
// do-nothing baseline on net profit.
func futureValuePerKWh(horizon []PriceBlock) float64 {
	if len(horizon) < 2 {
		return 0
	}
	rest := append([]PriceBlock(nil), horizon[1:]...)
	sort.Slice(rest, func(i, j int) bool {
		return rest[i].EffectivePricePerKWh > rest[j].EffectivePricePerKWh
	})
	n := len(rest) / 4
	if n < 1 {
		n = 1
	}
	var sum float64
	for _, b := range rest[:n] {
		sum += b.EffectivePricePerKWh
	}
	return sum / float64(n)
}

// finalizeSelfUseEconomics prices a SelfUse/BackUp evaluation: imports at
// the effective price on the cost side, exports at the export price plus
// the avoided grid import (consumption served by solar and battery) on the
// revenue side.
func finalizeSelfUseEconomics(eval *BlockEvaluation, ctx EvaluationContext, flows EnergyFlows, includeWear bool, wearCostPerKWh float64) {
	finalizeEconomics(eval, ctx, flows, includeWear, wearCostPerKWh)
	avoided := ctx.Forecast.ConsumptionKWh - flows.GridImportKWh
	if avoided > 0 {
		eval.Revenue += avoided * ctx.ThisBlock.EffectivePricePerKWh
	}
	eval.FinalizeProfit()
}

// finalizeChargeEconomics prices a ForceCharge evaluation: on top of the
// flow arithmetic, the energy actually stored (after efficiency loss) is
// credited at the horizon's future value.
func finalizeChargeEconomics(eval *BlockEvaluation, ctx EvaluationContext, flows EnergyFlows, includeWear bool, wearCostPerKWh float64) {
	finalizeEconomics(eval, ctx, flows, includeWear, wearCostPerKWh)
	stored := flows.BatteryChargeKWh * ctx.Battery.Efficiency
	eval.Revenue += stored * futureValuePerKWh(ctx.Horizon)
	eval.FinalizeProfit()
}

// finalizeDischargeEconomics prices a ForceDischarge evaluation: exports
// and avoided import on the revenue side, and the discharged energy's
// cost basis (the running average charge price) on the cost side so that
// selling stored energy is never treated as free.
func finalizeDischargeEconomics(eval *BlockEvaluation, ctx EvaluationContext, flows EnergyFlows, includeWear bool, wearCostPerKWh float64) {
	finalizeEconomics(eval, ctx, flows, includeWear, wearCostPerKWh)
	avoided := ctx.Forecast.ConsumptionKWh - flows.GridImportKWh
	if avoided > 0 {
		eval.Revenue += avoided * ctx.ThisBlock.EffectivePricePerKWh
	}
	eval.Cost += flows.BatteryDischargeKWh * ctx.AvgBatteryChargePrice
	eval.FinalizeProfit()
}

// horizonMin returns the minimum effective price across the horizon.
func horizonMin(horizon []PriceBlock) float64 {
	if len(horizon) == 0 {
		return 0
	}
	min := horizon[0].EffectivePricePerKWh
	for _, b := range horizon[1:] {
		if b.EffectivePricePerKWh < min {
			min = b.EffectivePricePerKWh
		}
	}
	return min
}

// horizonMax returns the maximum effective price across the horizon.
func horizonMax(horizon []PriceBlock) float64 {
	if len(horizon) == 0 {
		return 0
	}
	max := horizon[0].EffectivePricePerKWh
	for _, b := range horizon[1:] {
		if b.EffectivePricePerKWh > max {
			max = b.EffectivePricePerKWh
		}
	}
	return max
}
