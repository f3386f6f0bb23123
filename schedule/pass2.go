package schedule

import (
	"fmt"

	"github.com/kestrelhome/battplan/optimizer"
	"github.com/kestrelhome/battplan/strategy"
)

// pass2Schedule walks the filtered horizon a second time, this time with
// the live (not predicted) starting SOC, applying user overrides and
// restriction conversion and producing the committed ScheduledMode
// sequence.
func pass2Schedule(params Params, in Input, horizon []strategy.PriceBlock, predicted []float64, initialCostBasis float64, opt *optimizer.Optimizer) []ScheduledMode {
	sim := newSimState(in.Battery, initialCostBasis)
	entries := make([]ScheduledMode, 0, len(horizon))

	for i, block := range horizon {
		fp := in.Forecast.snapshotAt(i)
		hours := blockDurationHours(block)

		if in.UserControl != nil {
			if slot, ok := in.UserControl.SlotAt(block.BlockStart); ok {
				entry := ScheduledMode{
					BlockStart:      block.BlockStart,
					DurationMinutes: block.DurationMinutes,
					Mode:            slot.Mode,
					Reason:          "User Override: " + slot.Note,
					DecisionUID:     "user-override:" + slot.ID,
				}
				applyModeStep(&sim, in.Battery, slot.Mode, block.EffectivePricePerKWh, fp.ConsumptionKWh, fp.SolarKWh, hours)
				entries = append(entries, entry)
				continue
			}
		}

		snapshot := toSnapshotFromSim(in.Battery, sim)
		ctx := buildContext(in, horizon, i, snapshot, sim.avgChargePrice)
		winner, _, _ := opt.SelectWinner(ctx)

		mode := winner.Mode
		reason := winner.Reason

		if in.UserControl != nil {
			restriction := in.UserControl.Snapshot()
			if restriction.DisallowCharge && mode == strategy.ForceCharge {
				mode = params.DefaultBatteryMode
				reason = fmt.Sprintf("%s (charge disallowed by user control, was: %s)", reason, winner.Mode)
			}
			if restriction.DisallowDischarge && mode == strategy.ForceDischarge {
				mode = params.DefaultBatteryMode
				reason = fmt.Sprintf("%s (discharge disallowed by user control, was: %s)", reason, winner.Mode)
			}
		}

		applyModeStep(&sim, in.Battery, mode, block.EffectivePricePerKWh, fp.ConsumptionKWh, fp.SolarKWh, hours)

		composite := fmt.Sprintf("%s: %s (expected profit: %.2f CZK)", winner.StrategyName, reason, winner.NetProfit)
		entries = append(entries, ScheduledMode{
			BlockStart:      block.BlockStart,
			DurationMinutes: block.DurationMinutes,
			Mode:            mode,
			Reason:          composite,
			DecisionUID:     winner.DecisionUID,
		})
	}

	return entries
}

// soc predicts exist only to drive post-processing's high-SOC safety
// check; expose a lookup by block index for that purpose.
func predictedSOCAt(predicted []float64, i int) float64 {
	if i < 0 || i >= len(predicted) {
		return 0
	}
	return predicted[i]
}
