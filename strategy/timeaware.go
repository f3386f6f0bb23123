package strategy

import "sort"

// TimeAwareCharge selects the cheapest upcoming blocks within a relative
// threshold of the horizon minimum and schedules ForceCharge only there; it
// targets a time-of-day SOC ceiling (lower overnight, higher as the evening
// peak approaches) so it doesn't force-charge past what the day actually
// needs.
type TimeAwareCharge struct {
	priority int
	enabled  bool
	// Threshold is how far above the horizon minimum (as a fraction, e.g.
	// 0.15 for 15%) a block's effective price may be and still count as
	// "cheap enough to charge in".
	Threshold float64
}

// NewTimeAwareCharge returns the default-tuned time-aware strategy.
func NewTimeAwareCharge() *TimeAwareCharge {
	return &TimeAwareCharge{priority: 10, enabled: true, Threshold: 0.15}
}

func (s *TimeAwareCharge) Name() string           { return "time-aware-charge" }
func (s *TimeAwareCharge) Priority() int          { return s.priority }
func (s *TimeAwareCharge) Enabled() bool          { return s.enabled }
func (s *TimeAwareCharge) SetEnabled(v bool)      { s.enabled = v }
func (s *TimeAwareCharge) SetPriority(p int)      { s.priority = p }
func (s *TimeAwareCharge) IncludesWearCost() bool { return true }

// targetSOCForHour returns the time-of-day SOC ceiling the strategy is willing to
// charge toward: lower at night (more of the day still ahead to catch
// cheaper blocks or solar), higher in the afternoon/evening.
func targetSOCForHour(hour int) float64 {
	switch {
	case hour >= 0 && hour < 6:
		return 0.70
	case hour >= 6 && hour < 16:
		return 0.90
	default:
		return 1.0
	}
}

func (s *TimeAwareCharge) Evaluate(ctx EvaluationContext) BlockEvaluation {
	eval := BlockEvaluation{
		BlockStart:      ctx.ThisBlock.BlockStart,
		DurationMinutes: ctx.ThisBlock.DurationMinutes,
		StrategyName:    s.Name(),
	}

	target := targetSOCForHour(ctx.ThisBlock.BlockStart.Hour())
	if ctx.Battery.SOC >= target {
		eval.Mode = SelfUse
		eval.Reason = "time-aware: target SOC already reached"
		eval.DecisionUID = s.Name() + ":at-target"
		finalizeSelfUseEconomics(&eval, ctx, selfUseFlows(ctx, true), s.IncludesWearCost(), ctx.Battery.WearCostPerKWh)
		return eval
	}

	if s.isCheapBlock(ctx) {
		eval.Mode = ForceCharge
		eval.Reason = "time-aware: among cheapest upcoming blocks"
		eval.DecisionUID = s.Name() + ":cheap-block"
		finalizeChargeEconomics(&eval, ctx, forceChargeFlows(ctx), s.IncludesWearCost(), ctx.Battery.WearCostPerKWh)
		return eval
	}

	eval.Mode = SelfUse
	eval.Reason = "time-aware: not among cheapest upcoming blocks"
	eval.DecisionUID = s.Name() + ":not-cheap"
	finalizeSelfUseEconomics(&eval, ctx, selfUseFlows(ctx, true), s.IncludesWearCost(), ctx.Battery.WearCostPerKWh)
	return eval
}

// isCheapBlock reports whether ThisBlock's effective price is within
// Threshold of the minimum across the horizon.
func (s *TimeAwareCharge) isCheapBlock(ctx EvaluationContext) bool {
	min := horizonMin(ctx.Horizon)
	if min < 0 {
		// Any non-negative threshold comparison against a negative minimum
		// is meaningless; fall back to "is this block itself non-positive".
		return ctx.ThisBlock.EffectivePricePerKWh <= 0
	}
	cutoff := min * (1 + s.Threshold)
	return ctx.ThisBlock.EffectivePricePerKWh <= cutoff
}

// cheapestN returns the N cheapest blocks in horizon by effective price,
// used by related strategies for percentile-style selection.
func cheapestN(horizon []PriceBlock, n int) []PriceBlock {
	sorted := append([]PriceBlock(nil), horizon...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].EffectivePricePerKWh < sorted[j].EffectivePricePerKWh
	})
	if n > len(sorted) {
		n = len(sorted)
	}
	return sorted[:n]
}
