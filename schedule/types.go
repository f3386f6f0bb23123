// Package schedule implements the two-pass schedule generator. A block's
// best decision depends on the SOC it will find, and the SOC depends on
// the decisions before it; pass 1 breaks that circularity by walking the
// horizon once purely to predict SOC, and pass 2 walks it again applying
// user overrides, restriction conversion and the evolving battery cost
// basis. EEPROM-protection post-processing then merges, extends or drops
// short mode runs so the inverter is never asked to flap.
package schedule

import (
	"errors"
	"time"

	"github.com/kestrelhome/battplan/strategy"
)

// ErrScheduleEmpty is returned by nothing directly, since an empty
// schedule is always a valid, non-error outcome. No package in this
// repository returns or checks it.
var ErrScheduleEmpty = errors.New("schedule: empty")

// ScheduledMode is the final committed entry for one block.
type ScheduledMode struct {
	BlockStart        time.Time
	DurationMinutes   int
	Mode              strategy.Mode
	Reason            string
	DecisionUID       string
	TargetInverterIDs []string
	DebugInfo         []strategy.BlockEvaluation
}

// OperationSchedule is the ordered sequence of ScheduledMode the generator
// produces, plus provenance.
type OperationSchedule struct {
	Entries             []ScheduledMode
	GeneratedAt         time.Time
	BasedOnPriceVersion string
}

// Tally counts how many blocks of each mode the schedule contains, for
// logging.
type Tally struct {
	ForceCharge    int
	ForceDischarge int
	SelfUse        int
	BackUp         int
}

func (t *Tally) add(mode strategy.Mode) {
	switch mode {
	case strategy.ForceCharge:
		t.ForceCharge++
	case strategy.ForceDischarge:
		t.ForceDischarge++
	case strategy.BackUp:
		t.BackUp++
	default:
		t.SelfUse++
	}
}

// Params bundles every tunable the generator and post-processor need, kept
// distinct from config.Config so this package has no dependency on config.
type Params struct {
	MinConsecutiveForceBlocks int
	MaxGapBlocks              int
	// HighSOCThreshold: above this predicted SOC at a ForceCharge run's
	// start, extending that run leftward/rightward is considered unsafe.
	HighSOCThreshold   float64
	DefaultBatteryMode strategy.Mode

	ExportPricePerKWh     float64
	BackupDischargeMinSOC float64
	// DefaultBatteryCostBasis seeds AvgBatteryChargePrice when no
	// yesterday/today average is available.
	DefaultBatteryCostBasis float64
}

// DefaultParams returns reasonable defaults.
func DefaultParams() Params {
	return Params{
		MinConsecutiveForceBlocks: 2,
		MaxGapBlocks:              1,
		HighSOCThreshold:          0.90,
		DefaultBatteryMode:        strategy.SelfUse,
		BackupDischargeMinSOC:     0.10,
	}
}
