package strategy

// WinterAdaptiveV9 is the highest-priority member of the winter-adaptive
// family. It adds two refinements over V7: it computes the energy required
// to cover the morning-peak window from the hourly consumption profile and
// treats that as the overnight charge target (rather than charging to a
// fixed percentile count), and it treats a healthy solar-remaining-today
// forecast as a reason to *skip* overnight grid charging altogether, since
// the household can cover tomorrow's morning load from panels once the sun
// is up.
type WinterAdaptiveV9 struct {
	priority int
	enabled  bool

	PercentileFraction float64
	MinCycleProfit     float64
	// MorningPeakStartHour/EndHour bound the window the overnight charge
	// target is computed to cover.
	MorningPeakStartHour int
	MorningPeakEndHour   int
	// SolarSkipThresholdKWh is the forecasted remaining-today solar above
	// which overnight charging is skipped.
	SolarSkipThresholdKWh float64
}

// NewWinterAdaptiveV9 returns the default-tuned V9 strategy, outranking V7.
func NewWinterAdaptiveV9() *WinterAdaptiveV9 {
	return &WinterAdaptiveV9{
		priority:              40,
		enabled:               true,
		PercentileFraction:    0.20,
		MinCycleProfit:        0.4,
		MorningPeakStartHour:  6,
		MorningPeakEndHour:    9,
		SolarSkipThresholdKWh: 3.0,
	}
}

func (s *WinterAdaptiveV9) Name() string           { return "winter-adaptive-v9" }
func (s *WinterAdaptiveV9) Priority() int          { return s.priority }
func (s *WinterAdaptiveV9) Enabled() bool          { return s.enabled }
func (s *WinterAdaptiveV9) SetEnabled(v bool)      { s.enabled = v }
func (s *WinterAdaptiveV9) SetPriority(p int)      { s.priority = p }
func (s *WinterAdaptiveV9) IncludesWearCost() bool { return false }

func (s *WinterAdaptiveV9) Evaluate(ctx EvaluationContext) BlockEvaluation {
	eval := BlockEvaluation{
		BlockStart:      ctx.ThisBlock.BlockStart,
		DurationMinutes: ctx.ThisBlock.DurationMinutes,
		StrategyName:    s.Name(),
	}

	shape := classifyHorizon(ctx.Horizon)

	if shape == ShapeNegativePresent && ctx.ThisBlock.EffectivePricePerKWh < 0 {
		eval.Mode = ForceCharge
		eval.Reason = "winter-adaptive v9: negative price block"
		eval.DecisionUID = s.Name() + ":negative"
		finalizeChargeEconomics(&eval, ctx, forceChargeFlows(ctx), s.IncludesWearCost(), ctx.Battery.WearCostPerKWh)
		return eval
	}

	hour := ctx.ThisBlock.BlockStart.Hour()
	isOvernight := hour < s.MorningPeakStartHour

	if isOvernight && s.solarCoversMorning(ctx) {
		eval.Mode = SelfUse
		eval.Reason = "winter-adaptive v9: overnight charge skipped, solar forecast covers morning peak"
		eval.DecisionUID = s.Name() + ":solar-skip"
		finalizeSelfUseEconomics(&eval, ctx, selfUseFlows(ctx, true), s.IncludesWearCost(), ctx.Battery.WearCostPerKWh)
		return eval
	}

	if isOvernight && s.morningPeakRequiresCharge(ctx) {
		eval.Mode = ForceCharge
		eval.Reason = "winter-adaptive v9: charging to cover morning-peak consumption from hourly profile"
		eval.DecisionUID = s.Name() + ":morning-peak-charge"
		finalizeChargeEconomics(&eval, ctx, forceChargeFlows(ctx), s.IncludesWearCost(), ctx.Battery.WearCostPerKWh)
		return eval
	}

	switch shape {
	case ShapeStructured, ShapeHighVolatility:
		if valleyPeakProfit(ctx) >= s.MinCycleProfit {
			eval.Mode = ForceCharge
			eval.Reason = "winter-adaptive v9: valley/peak arbitrage cycle (" + shape.String() + ")"
			eval.DecisionUID = s.Name() + ":arbitrage-" + shape.String()
			finalizeChargeEconomics(&eval, ctx, forceChargeFlows(ctx), s.IncludesWearCost(), ctx.Battery.WearCostPerKWh)
			return eval
		}
	default:
		cheapest := cheapestN(ctx.Horizon, percentileCount(len(ctx.Horizon), s.PercentileFraction))
		if blockIn(ctx.ThisBlock, cheapest) {
			eval.Mode = ForceCharge
			eval.Reason = "winter-adaptive v9: percentile charge block (" + shape.String() + ")"
			eval.DecisionUID = s.Name() + ":percentile"
			finalizeChargeEconomics(&eval, ctx, forceChargeFlows(ctx), s.IncludesWearCost(), ctx.Battery.WearCostPerKWh)
			return eval
		}
	}

	eval.Mode = SelfUse
	eval.Reason = "winter-adaptive v9: self-use (" + shape.String() + ")"
	eval.DecisionUID = s.Name() + ":self-use"
	finalizeSelfUseEconomics(&eval, ctx, selfUseFlows(ctx, true), s.IncludesWearCost(), ctx.Battery.WearCostPerKWh)
	return eval
}

// solarCoversMorning reports whether the forecasted solar remaining today
// is comfortably above the configured threshold, making overnight grid
// charging unnecessary to cover the morning peak.
func (s *WinterAdaptiveV9) solarCoversMorning(ctx EvaluationContext) bool {
	return ctx.Forecast.SolarRemainingTodayKWh >= s.SolarSkipThresholdKWh
}

// morningPeakRequiresCharge sums the hourly consumption profile across the
// morning-peak window and reports whether the battery's current headroom
// of usable energy (down to backup floor) falls short of that requirement.
func (s *WinterAdaptiveV9) morningPeakRequiresCharge(ctx EvaluationContext) bool {
	if ctx.Forecast.HourlyProfile == nil {
		return true // no profile yet: conservative default, charge.
	}
	var required float64
	for h := s.MorningPeakStartHour; h < s.MorningPeakEndHour; h++ {
		required += ctx.Forecast.HourlyProfile[h%24]
	}
	available := ctx.Battery.CapacityKWh*ctx.Battery.SOC - ctx.Battery.CapacityKWh*ctx.BackupDischargeMinSOC
	if available < 0 {
		available = 0
	}
	return available < required
}
