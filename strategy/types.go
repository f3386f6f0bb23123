// Package strategy defines the plug-in contract every scoring strategy
// implements, plus the evaluation context and the concrete strategies the
// repository ships with. Each strategy is a pure function over a read-only
// EvaluationContext and never mutates shared state.
package strategy

import "time"

// Mode is one of the four inverter operating modes the planner may command.
type Mode string

const (
	SelfUse        Mode = "SelfUse"
	ForceCharge    Mode = "ForceCharge"
	ForceDischarge Mode = "ForceDischarge"
	BackUp         Mode = "BackUp"
)

// PriceBlock is one 15-minute priced interval, with the tariff fee already
// folded into EffectivePricePerKWh by the pricing package.
type PriceBlock struct {
	BlockStart           time.Time
	DurationMinutes      int
	SpotPricePerKWh      float64
	EffectivePricePerKWh float64
}

// BatterySnapshot is the subset of battery.State a strategy needs, passed
// by value so strategies cannot mutate the generator's live state.
type BatterySnapshot struct {
	SOC            float64 // 0-1
	CapacityKWh    float64
	MaxChargeKW    float64
	MaxDischargeKW float64
	MinSOC         float64
	MaxSOC         float64
	Efficiency     float64
	WearCostPerKWh float64
}

// ForecastSnapshot bundles the per-block and horizon-aggregate forecast
// figures a strategy may need.
type ForecastSnapshot struct {
	SolarKWh               float64
	ConsumptionKWh         float64
	SolarRemainingTodayKWh float64
	SolarTomorrowKWh       float64
	HourlyProfile          *[24]float64 // nil if no profile available yet
}

// EvaluationContext is the read-only bundle passed to every strategy for a
// single block.
type EvaluationContext struct {
	ThisBlock             PriceBlock
	Horizon               []PriceBlock // starts at ThisBlock
	Battery               BatterySnapshot
	Forecast              ForecastSnapshot
	ExportPricePerKWh     float64
	BackupDischargeMinSOC float64
	GridImportTodayKWh    float64
	AvgBatteryChargePrice float64
}

// EnergyFlows is the per-block energy movement a BlockEvaluation commits to.
type EnergyFlows struct {
	GridImportKWh       float64
	GridExportKWh       float64
	BatteryChargeKWh    float64
	BatteryDischargeKWh float64
}

// BlockEvaluation is a strategy's output for one block.
type BlockEvaluation struct {
	BlockStart      time.Time
	DurationMinutes int
	Mode            Mode
	StrategyName    string
	Reason          string
	DecisionUID     string
	Cost            float64
	Revenue         float64
	NetProfit       float64
	EnergyFlows     EnergyFlows
	Assumptions     map[string]float64
}

// FinalizeProfit sets NetProfit = Revenue - Cost, as every strategy must
// call before returning.
func (e *BlockEvaluation) FinalizeProfit() {
	e.NetProfit = e.Revenue - e.Cost
}

// Strategy is a pure scoring plug-in.
type Strategy interface {
	Name() string
	Priority() int
	Enabled() bool
	// IncludesWearCost reports whether this strategy folds battery wear
	// cost into net-profit arithmetic. This is a strategy-level knob, not
	// a global policy.
	IncludesWearCost() bool
	Evaluate(ctx EvaluationContext) BlockEvaluation
}

// blockDurationHours returns how many hours a block spans, for kWh<->kW math.
func blockDurationHours(b PriceBlock) float64 {
	if b.DurationMinutes <= 0 {
		return 0.25
	}
	return float64(b.DurationMinutes) / 60.0
}
