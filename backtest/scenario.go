// Package backtest replays a recorded price and forecast scenario through
// the same schedule generator the live planner uses, steps a simulated
// battery through the result, and reports predicted versus realized cost
// so strategy changes can be judged against history before shipping.
package backtest

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kestrelhome/battplan/battery"
	"github.com/kestrelhome/battplan/schedule"
)

// ScenarioBlock is one 15-minute interval of recorded inputs, optionally
// paired with the actually observed grid flows for realized-cost diffing.
type ScenarioBlock struct {
	Start           time.Time `yaml:"start" json:"start"`
	DurationMinutes int       `yaml:"duration_minutes" json:"duration_minutes"`
	SpotPrice       float64   `yaml:"spot_price" json:"spot_price"`
	EffectivePrice  float64   `yaml:"effective_price" json:"effective_price"`
	SolarKWh        float64   `yaml:"solar_kwh" json:"solar_kwh"`
	ConsumptionKWh  float64   `yaml:"consumption_kwh" json:"consumption_kwh"`

	ActualGridImportKWh *float64 `yaml:"actual_grid_import_kwh,omitempty" json:"actual_grid_import_kwh,omitempty"`
	ActualGridExportKWh *float64 `yaml:"actual_grid_export_kwh,omitempty" json:"actual_grid_export_kwh,omitempty"`
}

// BatterySpec mirrors the live battery parameters for the replay.
type BatterySpec struct {
	CapacityKWh    float64 `yaml:"capacity_kwh" json:"capacity_kwh"`
	InitialSOC     float64 `yaml:"initial_soc" json:"initial_soc"`
	MinSOC         float64 `yaml:"min_soc" json:"min_soc"`
	MaxSOC         float64 `yaml:"max_soc" json:"max_soc"`
	MaxChargeKW    float64 `yaml:"max_charge_kw" json:"max_charge_kw"`
	MaxDischargeKW float64 `yaml:"max_discharge_kw" json:"max_discharge_kw"`
	Efficiency     float64 `yaml:"efficiency" json:"efficiency"`
	WearCostPerKWh float64 `yaml:"wear_cost_per_kwh" json:"wear_cost_per_kwh"`
}

// Scenario is one recorded day (or longer) to replay.
type Scenario struct {
	Name              string          `yaml:"name" json:"name"`
	Battery           BatterySpec     `yaml:"battery" json:"battery"`
	ExportPricePerKWh float64         `yaml:"export_price_per_kwh" json:"export_price_per_kwh"`
	Blocks            []ScenarioBlock `yaml:"blocks" json:"blocks"`

	MinConsecutiveForceBlocks int     `yaml:"min_consecutive_force_blocks" json:"min_consecutive_force_blocks"`
	MaxGapBlocks              int     `yaml:"max_gap_blocks" json:"max_gap_blocks"`
	HighSOCThreshold          float64 `yaml:"high_soc_threshold" json:"high_soc_threshold"`
	BackupDischargeMinSOC     float64 `yaml:"backup_discharge_min_soc" json:"backup_discharge_min_soc"`
	DefaultBatteryCostBasis   float64 `yaml:"default_battery_cost_basis" json:"default_battery_cost_basis"`
}

// LoadScenario reads and validates a YAML scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("backtest: reading scenario %s: %w", path, err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates a YAML scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("backtest: decoding scenario: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks the scenario is replayable.
func (s *Scenario) Validate() error {
	if len(s.Blocks) == 0 {
		return fmt.Errorf("backtest: scenario %q has no blocks", s.Name)
	}
	if s.Battery.CapacityKWh <= 0 {
		return fmt.Errorf("backtest: scenario %q battery capacity must be positive", s.Name)
	}
	if s.Battery.Efficiency <= 0 || s.Battery.Efficiency > 1 {
		return fmt.Errorf("backtest: scenario %q battery efficiency must be in (0,1]", s.Name)
	}
	for i := 1; i < len(s.Blocks); i++ {
		if !s.Blocks[i].Start.After(s.Blocks[i-1].Start) {
			return fmt.Errorf("backtest: scenario %q blocks not strictly increasing at index %d", s.Name, i)
		}
	}
	return nil
}

func (s *Scenario) batteryState() battery.State {
	return battery.State{
		CapacityKWh:    s.Battery.CapacityKWh,
		SOC:            s.Battery.InitialSOC,
		MinSOC:         s.Battery.MinSOC,
		MaxSOC:         s.Battery.MaxSOC,
		MaxChargeKW:    s.Battery.MaxChargeKW,
		MaxDischargeKW: s.Battery.MaxDischargeKW,
		Efficiency:     s.Battery.Efficiency,
		WearCostPerKWh: s.Battery.WearCostPerKWh,
	}
}

func (s *Scenario) params() schedule.Params {
	p := schedule.DefaultParams()
	if s.MinConsecutiveForceBlocks > 0 {
		p.MinConsecutiveForceBlocks = s.MinConsecutiveForceBlocks
	}
	if s.MaxGapBlocks > 0 {
		p.MaxGapBlocks = s.MaxGapBlocks
	}
	if s.HighSOCThreshold > 0 {
		p.HighSOCThreshold = s.HighSOCThreshold
	}
	if s.BackupDischargeMinSOC > 0 {
		p.BackupDischargeMinSOC = s.BackupDischargeMinSOC
	}
	p.DefaultBatteryCostBasis = s.DefaultBatteryCostBasis
	p.ExportPricePerKWh = s.ExportPricePerKWh
	return p
}
