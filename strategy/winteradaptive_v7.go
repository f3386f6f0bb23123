package strategy

import "sort"

// WinterAdaptiveV7 refines V6: tighter percentile selection, a higher
// minimum cycle profit (it requires more conviction before committing an
// arbitrage cycle), and it does not fold wear cost into net-profit
// arithmetic.
type WinterAdaptiveV7 struct {
	priority int
	enabled  bool

	PercentileFraction float64
	MinCycleProfit     float64
}

// NewWinterAdaptiveV7 returns the default-tuned V7 strategy, outranking V6.
func NewWinterAdaptiveV7() *WinterAdaptiveV7 {
	return &WinterAdaptiveV7{
		priority:           30,
		enabled:            true,
		PercentileFraction: 0.20,
		MinCycleProfit:     0.4,
	}
}

func (s *WinterAdaptiveV7) Name() string           { return "winter-adaptive-v7" }
func (s *WinterAdaptiveV7) Priority() int          { return s.priority }
func (s *WinterAdaptiveV7) Enabled() bool          { return s.enabled }
func (s *WinterAdaptiveV7) SetEnabled(v bool)      { s.enabled = v }
func (s *WinterAdaptiveV7) SetPriority(p int)      { s.priority = p }
func (s *WinterAdaptiveV7) IncludesWearCost() bool { return false }

func (s *WinterAdaptiveV7) Evaluate(ctx EvaluationContext) BlockEvaluation {
	eval := BlockEvaluation{
		BlockStart:      ctx.ThisBlock.BlockStart,
		DurationMinutes: ctx.ThisBlock.DurationMinutes,
		StrategyName:    s.Name(),
	}

	shape := classifyHorizon(ctx.Horizon)

	if shape == ShapeNegativePresent && ctx.ThisBlock.EffectivePricePerKWh < 0 {
		eval.Mode = ForceCharge
		eval.Reason = "winter-adaptive v7: negative price block"
		eval.DecisionUID = s.Name() + ":negative"
		finalizeChargeEconomics(&eval, ctx, forceChargeFlows(ctx), s.IncludesWearCost(), ctx.Battery.WearCostPerKWh)
		return eval
	}

	// Peak-hour discharge: if this block is in the horizon's top price
	// percentile and an arbitrage cycle still clears the bar, discharge
	// rather than just self-use, since V7 is willing to sell stored energy
	// back at the peak rather than only avoiding import.
	if s.isPeakBlock(ctx) && s.dischargeProfitable(ctx) {
		eval.Mode = ForceDischarge
		eval.Reason = "winter-adaptive v7: peak-price discharge (" + shape.String() + ")"
		eval.DecisionUID = s.Name() + ":peak-discharge"
		finalizeDischargeEconomics(&eval, ctx, forceDischargeFlows(ctx), s.IncludesWearCost(), ctx.Battery.WearCostPerKWh)
		return eval
	}

	switch shape {
	case ShapeStructured, ShapeHighVolatility:
		if valleyPeakProfit(ctx) >= s.MinCycleProfit {
			eval.Mode = ForceCharge
			eval.Reason = "winter-adaptive v7: valley/peak arbitrage cycle (" + shape.String() + ")"
			eval.DecisionUID = s.Name() + ":arbitrage-" + shape.String()
			finalizeChargeEconomics(&eval, ctx, forceChargeFlows(ctx), s.IncludesWearCost(), ctx.Battery.WearCostPerKWh)
			return eval
		}
	default:
		cheapest := cheapestN(ctx.Horizon, percentileCount(len(ctx.Horizon), s.PercentileFraction))
		if blockIn(ctx.ThisBlock, cheapest) {
			eval.Mode = ForceCharge
			eval.Reason = "winter-adaptive v7: percentile charge block (" + shape.String() + ")"
			eval.DecisionUID = s.Name() + ":percentile"
			finalizeChargeEconomics(&eval, ctx, forceChargeFlows(ctx), s.IncludesWearCost(), ctx.Battery.WearCostPerKWh)
			return eval
		}
	}

	eval.Mode = SelfUse
	eval.Reason = "winter-adaptive v7: self-use (" + shape.String() + ")"
	eval.DecisionUID = s.Name() + ":self-use"
	finalizeSelfUseEconomics(&eval, ctx, selfUseFlows(ctx, true), s.IncludesWearCost(), ctx.Battery.WearCostPerKWh)
	return eval
}

// isPeakBlock reports whether ThisBlock is in the top percentile of
// horizon prices.
func (s *WinterAdaptiveV7) isPeakBlock(ctx EvaluationContext) bool {
	n := percentileCount(len(ctx.Horizon), s.PercentileFraction)
	sorted := append([]PriceBlock(nil), ctx.Horizon...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].EffectivePricePerKWh > sorted[j].EffectivePricePerKWh
	})
	if n > len(sorted) {
		n = len(sorted)
	}
	return blockIn(ctx.ThisBlock, sorted[:n])
}

// dischargeProfitable reports whether discharging now, valued against the
// battery's running average charge price, clears the minimum-cycle-profit
// bar.
func (s *WinterAdaptiveV7) dischargeProfitable(ctx EvaluationContext) bool {
	spread := ctx.ThisBlock.EffectivePricePerKWh - ctx.AvgBatteryChargePrice
	return spread*ctx.Battery.Efficiency >= s.MinCycleProfit
}
