package strategy

// WinterAdaptiveV6 classifies the horizon shape and switches
// between percentile-based charge-block selection (flat/simple-spread
// horizons) and valley/peak arbitrage selection (structured/volatile
// horizons). It is the first generation of the winter-adaptive family;
// V7/V9 refine its thresholds and add profile-aware reasoning.
type WinterAdaptiveV6 struct {
	priority int
	enabled  bool

	// PercentileFraction is the top fraction of cheapest blocks eligible
	// for ForceCharge when the horizon is classified flat/simple-spread.
	PercentileFraction float64
	// MinCycleProfit is the minimum per-kWh arbitrage profit (after
	// efficiency loss) required to justify a valley/peak charge-discharge
	// cycle when the horizon is structured/volatile.
	MinCycleProfit float64
}

// NewWinterAdaptiveV6 returns the default-tuned V6 strategy.
func NewWinterAdaptiveV6() *WinterAdaptiveV6 {
	return &WinterAdaptiveV6{
		priority:           20,
		enabled:            true,
		PercentileFraction: 0.25,
		MinCycleProfit:     0.3,
	}
}

func (s *WinterAdaptiveV6) Name() string           { return "winter-adaptive-v6" }
func (s *WinterAdaptiveV6) Priority() int          { return s.priority }
func (s *WinterAdaptiveV6) Enabled() bool          { return s.enabled }
func (s *WinterAdaptiveV6) SetEnabled(v bool)      { s.enabled = v }
func (s *WinterAdaptiveV6) SetPriority(p int)      { s.priority = p }
func (s *WinterAdaptiveV6) IncludesWearCost() bool { return true }

func (s *WinterAdaptiveV6) Evaluate(ctx EvaluationContext) BlockEvaluation {
	eval := BlockEvaluation{
		BlockStart:      ctx.ThisBlock.BlockStart,
		DurationMinutes: ctx.ThisBlock.DurationMinutes,
		StrategyName:    s.Name(),
	}

	shape := classifyHorizon(ctx.Horizon)

	if shape == ShapeNegativePresent && ctx.ThisBlock.EffectivePricePerKWh < 0 {
		eval.Mode = ForceCharge
		eval.Reason = "winter-adaptive v6: negative price block"
		eval.DecisionUID = s.Name() + ":negative"
		finalizeChargeEconomics(&eval, ctx, forceChargeFlows(ctx), s.IncludesWearCost(), ctx.Battery.WearCostPerKWh)
		return eval
	}

	switch shape {
	case ShapeStructured, ShapeHighVolatility:
		if valleyPeakProfit(ctx) >= s.MinCycleProfit {
			eval.Mode = ForceCharge
			eval.Reason = "winter-adaptive v6: valley/peak arbitrage cycle (" + shape.String() + ")"
			eval.DecisionUID = s.Name() + ":arbitrage-" + shape.String()
			finalizeChargeEconomics(&eval, ctx, forceChargeFlows(ctx), s.IncludesWearCost(), ctx.Battery.WearCostPerKWh)
			return eval
		}
	default:
		cheapest := cheapestN(ctx.Horizon, percentileCount(len(ctx.Horizon), s.PercentileFraction))
		if blockIn(ctx.ThisBlock, cheapest) {
			eval.Mode = ForceCharge
			eval.Reason = "winter-adaptive v6: percentile charge block (" + shape.String() + ")"
			eval.DecisionUID = s.Name() + ":percentile"
			finalizeChargeEconomics(&eval, ctx, forceChargeFlows(ctx), s.IncludesWearCost(), ctx.Battery.WearCostPerKWh)
			return eval
		}
	}

	eval.Mode = SelfUse
	eval.Reason = "winter-adaptive v6: self-use (" + shape.String() + ")"
	eval.DecisionUID = s.Name() + ":self-use"
	finalizeSelfUseEconomics(&eval, ctx, selfUseFlows(ctx, true), s.IncludesWearCost(), ctx.Battery.WearCostPerKWh)
	return eval
}

// percentileCount converts a fraction of the horizon into a block count,
// always at least 1 when the horizon is non-empty.
func percentileCount(horizonLen int, fraction float64) int {
	n := int(float64(horizonLen) * fraction)
	if n < 1 && horizonLen > 0 {
		n = 1
	}
	return n
}

// blockIn reports whether block (matched by BlockStart) is present in set.
func blockIn(block PriceBlock, set []PriceBlock) bool {
	for _, b := range set {
		if b.BlockStart.Equal(block.BlockStart) {
			return true
		}
	}
	return false
}
