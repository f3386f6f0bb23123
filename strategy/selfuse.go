package strategy

// SelfUseStrategy is the baseline strategy: it always recommends SelfUse,
// letting solar offset consumption and the battery fill any gap. Revenue
// is the avoided grid import valued at the effective price.
type SelfUseStrategy struct {
	priority int
	enabled  bool
}

// NewSelfUse returns the baseline self-use strategy, lowest priority since
// every other strategy is meant to outrank it when conditions favor
// arbitrage.
func NewSelfUse() *SelfUseStrategy {
	return &SelfUseStrategy{priority: 0, enabled: true}
}

func (s *SelfUseStrategy) Name() string           { return "self-use" }
func (s *SelfUseStrategy) Priority() int          { return s.priority }
func (s *SelfUseStrategy) Enabled() bool          { return s.enabled }
func (s *SelfUseStrategy) SetEnabled(v bool)      { s.enabled = v }
func (s *SelfUseStrategy) SetPriority(p int)      { s.priority = p }
func (s *SelfUseStrategy) IncludesWearCost() bool { return true }

func (s *SelfUseStrategy) Evaluate(ctx EvaluationContext) BlockEvaluation {
	eval := BlockEvaluation{
		BlockStart:      ctx.ThisBlock.BlockStart,
		DurationMinutes: ctx.ThisBlock.DurationMinutes,
		Mode:            SelfUse,
		StrategyName:    s.Name(),
		Reason:          "self-use baseline",
		DecisionUID:     s.Name() + ":baseline",
	}
	flows := selfUseFlows(ctx, true)
	finalizeSelfUseEconomics(&eval, ctx, flows, s.IncludesWearCost(), ctx.Battery.WearCostPerKWh)
	return eval
}
