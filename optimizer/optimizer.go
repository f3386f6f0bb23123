// Package optimizer ranks the BlockEvaluations produced by every enabled
// strategy for a single block and selects a winner. It is a direct
// per-block evaluation and selection; schedule.Generate's two-pass
// simulation resolves the SOC circularity, so no dynamic-programming
// machinery is needed here.
package optimizer

import (
	"log"
	"math"
	"sort"

	"github.com/kestrelhome/battplan/strategy"
)

// ProfitEpsilon is the tolerance (currency/kWh-block, i.e. one CZK-cent
// equivalent) within which two strategies' net profit are considered tied
// and priority breaks the tie.
const ProfitEpsilon = 0.01

// Optimizer selects a winning BlockEvaluation among a Registry's enabled
// strategies for one block.
type Optimizer struct {
	Registry *strategy.Registry
	// DebugCapture, when true, makes SelectWinner return every candidate
	// evaluation (not just the winner) for UI inspection.
	DebugCapture bool
	Logger       *log.Logger
}

// New builds an Optimizer over the given registry.
func New(registry *strategy.Registry, logger *log.Logger) *Optimizer {
	if logger == nil {
		logger = log.Default()
	}
	return &Optimizer{Registry: registry, Logger: logger}
}

// SelectWinner evaluates every enabled strategy against ctx, drops any
// whose recommended mode violates a hard constraint, and ranks the rest by
// net profit (desc), then priority (desc), then strategy name (asc) for a
// fully deterministic result. It returns the winner and, if DebugCapture is
// set, every surviving candidate alongside it (winner first).
func (o *Optimizer) SelectWinner(ctx strategy.EvaluationContext) (strategy.BlockEvaluation, []strategy.BlockEvaluation, error) {
	candidates := make([]candidate, 0, 8)

	for _, s := range o.Registry.Enabled() {
		eval, ok := o.safeEvaluate(s, ctx)
		if !ok {
			continue
		}
		if violatesConstraint(eval.Mode, ctx) {
			continue
		}
		candidates = append(candidates, candidate{strat: s, eval: eval})
	}

	if len(candidates) == 0 {
		return selfUseFallback(ctx), nil, nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if math.Abs(a.eval.NetProfit-b.eval.NetProfit) > ProfitEpsilon {
			return a.eval.NetProfit > b.eval.NetProfit
		}
		if a.strat.Priority() != b.strat.Priority() {
			return a.strat.Priority() > b.strat.Priority()
		}
		return a.strat.Name() < b.strat.Name()
	})

	winner := candidates[0].eval

	var debug []strategy.BlockEvaluation
	if o.DebugCapture {
		debug = make([]strategy.BlockEvaluation, len(candidates))
		for i, c := range candidates {
			debug[i] = c.eval
		}
	}
	return winner, debug, nil
}

type candidate struct {
	strat strategy.Strategy
	eval  strategy.BlockEvaluation
}

// safeEvaluate calls s.Evaluate and recovers from a panic, logging it as a
// faulted strategy excluded from this pass rather than letting it
// propagate and abort the whole pass.
func (o *Optimizer) safeEvaluate(s strategy.Strategy, ctx strategy.EvaluationContext) (eval strategy.BlockEvaluation, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			o.Logger.Printf("optimizer: strategy %q faulted, excluded from this pass: %v", s.Name(), r)
			ok = false
		}
	}()
	eval = s.Evaluate(ctx)
	ok = true
	return
}

// violatesConstraint reports whether mode is a hard violation given ctx:
// ForceCharge when SOC is already at or above the ceiling, or
// ForceDischarge when SOC is at or below the backup-discharge floor.
func violatesConstraint(mode strategy.Mode, ctx strategy.EvaluationContext) bool {
	switch mode {
	case strategy.ForceCharge:
		return ctx.Battery.SOC >= ctx.Battery.MaxSOC
	case strategy.ForceDischarge:
		return ctx.Battery.SOC <= ctx.BackupDischargeMinSOC
	default:
		return false
	}
}

// selfUseFallback is returned when every strategy is disabled, faulted, or
// constraint-filtered: SelfUse is always a legal fallback.
func selfUseFallback(ctx strategy.EvaluationContext) strategy.BlockEvaluation {
	eval := strategy.BlockEvaluation{
		BlockStart:      ctx.ThisBlock.BlockStart,
		DurationMinutes: ctx.ThisBlock.DurationMinutes,
		Mode:            strategy.SelfUse,
		StrategyName:    "optimizer-fallback",
		Reason:          "no strategy produced a valid evaluation; defaulting to self-use",
		DecisionUID:     "optimizer-fallback:no-candidates",
	}
	eval.FinalizeProfit()
	return eval
}
