package strategy

// NoBattery is the naive baseline: it always recommends SelfUse and never
// charges or discharges, serving as the "what if we didn't optimize at
// all" comparison point. Unlike SelfUseStrategy it leaves the battery out
// of the energy flows entirely, and it is disabled by default.
type NoBattery struct {
	priority int
	enabled  bool
}

// NewNoBattery returns the baseline, disabled by default.
func NewNoBattery() *NoBattery {
	return &NoBattery{priority: -100, enabled: false}
}

func (s *NoBattery) Name() string           { return "no-battery" }
func (s *NoBattery) Priority() int          { return s.priority }
func (s *NoBattery) Enabled() bool          { return s.enabled }
func (s *NoBattery) SetEnabled(v bool)      { s.enabled = v }
func (s *NoBattery) SetPriority(p int)      { s.priority = p }
func (s *NoBattery) IncludesWearCost() bool { return false }

func (s *NoBattery) Evaluate(ctx EvaluationContext) BlockEvaluation {
	eval := BlockEvaluation{
		BlockStart:      ctx.ThisBlock.BlockStart,
		DurationMinutes: ctx.ThisBlock.DurationMinutes,
		Mode:            SelfUse,
		StrategyName:    s.Name(),
		Reason:          "no-battery baseline: solar offsets consumption, no storage",
		DecisionUID:     s.Name() + ":baseline",
	}
	// No battery participation at all: solar offsets consumption directly,
	// any shortfall from grid, any surplus exported. allowBatteryDischarge
	// is false and headroom/available are irrelevant since capacity is
	// conceptually zero for this baseline, but we still route through
	// selfUseFlows with the real battery snapshot zeroed out so the energy
	// conservation arithmetic stays in one place.
	noBattery := ctx
	noBattery.Battery.CapacityKWh = 0
	flows := selfUseFlows(noBattery, false)
	finalizeSelfUseEconomics(&eval, ctx, flows, s.IncludesWearCost(), 0)
	return eval
}
