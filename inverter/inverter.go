// Package inverter defines the narrow vendor-agnostic contract the planner
// depends on for inverter I/O. Vendor-specific entity-name mappings live
// outside the core; modbusadapter and mqttadapter are reference adapters,
// not a catalog.
package inverter

import (
	"context"
	"time"

	"github.com/kestrelhome/battplan/strategy"
)

// SubMode carries the sub-mode distinction some vendor protocols collapse
// on read-back: the ForceCharge <-> manual sub-mode round trip loses the
// ForceDischarge/NoChargeNoDischarge distinction on some mappers.
// Implementers who can distinguish it populate this; those who can't
// leave it empty and accept the documented lossy behavior.
type SubMode string

const (
	SubModeNone                    SubMode = ""
	SubModeManualCharge            SubMode = "manual-charge"
	SubModeManualDischarge         SubMode = "manual-discharge"
	SubModeManualNoChargeDischarge SubMode = "manual-no-charge-discharge"
)

// State is the telemetry read back from one inverter.
type State struct {
	InverterID     string
	SOCPercent     float64
	ActualMode     strategy.Mode
	LastSubMode    SubMode
	PVPowerKW      float64
	BatteryPowerKW float64 // positive = charging, negative = discharging
	GridPowerKW    float64
	LoadPowerKW    float64
	ReadAt         time.Time
}

// Command is the narrow set of vendor commands the dispatch layer issues.
type Command struct {
	SetMode         *strategy.Mode
	SetExportLimitW *int
}

// DataSource is the capability trait every vendor adapter implements.
type DataSource interface {
	ReadState(ctx context.Context, inverterID string) (State, error)
	WriteCommand(ctx context.Context, inverterID string, cmd Command) error
	HealthCheck(ctx context.Context) (bool, error)
	// LastCommandedSubMode returns the sub-mode side channel recorded by
	// the last WriteCommand for inverterID (a side channel is preferred
	// side channel over the lossy read-back).
	LastCommandedSubMode(inverterID string) SubMode
}
