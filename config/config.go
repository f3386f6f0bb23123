// Package config implements the planner's on-disk configuration file: a
// single JSON-tagged struct, DefaultConfig/LoadConfig/SaveConfig, a Validate()
// covering every invariant, and the type-Alias trick for time.Duration
// fields, organized into the sections the HTTP surface edits
// independently.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// SystemSection covers clock, logging and dry-run switches.
type SystemSection struct {
	Location           string        `json:"location"`   // e.g. "Europe/Riga"
	LogLevel           string        `json:"log_level"`  // debug, info, warn, error
	LogFormat          string        `json:"log_format"` // text, json
	DryRun             bool          `json:"dry_run"`
	RegenerateDebounce time.Duration `json:"regenerate_debounce"`
	HealthCheckPort    int           `json:"health_check_port"`

	// Site coordinates and installed PV peak drive the weather-based
	// solar forecast.
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	PVPeakKW  float64 `json:"pv_peak_kw"`
}

// InverterSection describes one configured inverter and its adapter.
type InverterSection struct {
	ID                 string  `json:"id"`
	Adapter            string  `json:"adapter"` // "modbus" or "mqtt"
	ModbusAddress      string  `json:"modbus_address,omitempty"`
	MQTTBroker         string  `json:"mqtt_broker,omitempty"`
	BatteryCapacityKWh float64 `json:"battery_capacity_kwh"`
	MaxChargeKW        float64 `json:"max_charge_kw"`
	MaxDischargeKW     float64 `json:"max_discharge_kw"`
	MinSOC             float64 `json:"min_soc"`
	MaxSOC             float64 `json:"max_soc"`
	Efficiency         float64 `json:"efficiency"`
}

// PricingSection configures the day-ahead price source and fee stack.
type PricingSection struct {
	SecurityToken      string        `json:"security_token"`
	URLFormat          string        `json:"url_format"`
	APITimeout         time.Duration `json:"api_timeout"`
	CheckPriceInterval time.Duration `json:"check_price_interval"`
	ImportOperatorFee  float64       `json:"import_operator_fee"`
	ImportDeliveryFee  float64       `json:"import_delivery_fee"`
	ExportOperatorFee  float64       `json:"export_operator_fee"`
	ExportPricePerKWh  float64       `json:"export_price_per_kwh"`
}

// ControlSection covers schedule generation and dispatch tunables.
type ControlSection struct {
	MinConsecutiveForceBlocks int           `json:"min_consecutive_force_blocks"`
	MaxGapBlocks              int           `json:"max_gap_blocks"`
	HighSOCThreshold          float64       `json:"high_soc_threshold"`
	BackupDischargeMinSOC     float64       `json:"backup_discharge_min_soc"`
	DefaultBatteryCostBasis   float64       `json:"default_battery_cost_basis"`
	MinModeChangeInterval     time.Duration `json:"min_mode_change_interval"`
	DispatchBackoffBase       time.Duration `json:"dispatch_backoff_base"`
	DispatchBackoffCap        time.Duration `json:"dispatch_backoff_cap"`
	DispatchPollInterval      time.Duration `json:"dispatch_poll_interval"`
}

// StrategiesSection toggles individual strategies and their priority
// order, without touching the code-level registry defaults.
type StrategiesSection struct {
	Disabled []string       `json:"disabled,omitempty"`
	Priority map[string]int `json:"priority,omitempty"`
}

// Config is the root configuration document.
type Config struct {
	System     SystemSection     `json:"system"`
	Inverters  []InverterSection `json:"inverters"`
	Pricing    PricingSection    `json:"pricing"`
	Control    ControlSection    `json:"control"`
	Strategies StrategiesSection `json:"strategies"`

	PostgresConnString string `json:"postgres_conn_string"`
}

// DefaultConfig returns a configuration with sane defaults.
func DefaultConfig() *Config {
	return &Config{
		System: SystemSection{
			Location:           "UTC",
			LogLevel:           "info",
			LogFormat:          "text",
			DryRun:             false,
			RegenerateDebounce: time.Second,
			HealthCheckPort:    0,
		},
		Pricing: PricingSection{
			URLFormat:          "https://web-api.tp.entsoe.eu/api?documentType=A44&out_Domain=10YLV-1001A00074&in_Domain=10YLV-1001A00074&periodStart=%s&periodEnd=%s&securityToken=%s",
			APITimeout:         30 * time.Second,
			CheckPriceInterval: 15 * time.Minute,
			ImportOperatorFee:  8.5,
			ImportDeliveryFee:  40.0,
			ExportOperatorFee:  17.0,
			ExportPricePerKWh:  0.05,
		},
		Control: ControlSection{
			MinConsecutiveForceBlocks: 2,
			MaxGapBlocks:              1,
			HighSOCThreshold:          0.90,
			BackupDischargeMinSOC:     0.10,
			DefaultBatteryCostBasis:   0.10,
			MinModeChangeInterval:     2 * time.Minute,
			DispatchBackoffBase:       5 * time.Second,
			DispatchBackoffCap:        5 * time.Minute,
			DispatchPollInterval:      5 * time.Minute,
		},
	}
}

// LoadConfig loads configuration from a JSON file.
func LoadConfig(filename string) (*Config, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("config: opening %s: %w", filename, err)
	}
	defer file.Close()
	return LoadConfigFromReader(file)
}

// LoadConfigFromReader loads configuration starting from DefaultConfig and
// overlaying whatever the reader's JSON document specifies.
func LoadConfigFromReader(reader io.Reader) (*Config, error) {
	cfg := DefaultConfig()
	decoder := json.NewDecoder(reader)
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decoding JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes c to filename via a write-temp-then-rename, so a crash
// mid-write never corrupts the existing file (mirrors the atomic-persist
// pattern used by usercontrol.Store.Save).
func (c *Config) SaveConfig(filename string) error {
	dir := filepath.Dir(filename)
	tmp, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("config: creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := c.SaveConfigToWriter(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("config: closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, filename); err != nil {
		return fmt.Errorf("config: renaming into place: %w", err)
	}
	return nil
}

// SaveConfigToWriter saves the configuration to an io.Writer.
func (c *Config) SaveConfigToWriter(writer io.Writer) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("config: encoding JSON: %w", err)
	}
	return nil
}

// Validate checks every numeric/string invariant the planner depends on.
func (c *Config) Validate() error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.System.LogLevel] {
		return fmt.Errorf("system.log_level invalid: %s", c.System.LogLevel)
	}
	validLogFormats := map[string]bool{"text": true, "json": true}
	if !validLogFormats[c.System.LogFormat] {
		return fmt.Errorf("system.log_format invalid: %s", c.System.LogFormat)
	}
	if c.System.HealthCheckPort < 0 || c.System.HealthCheckPort > 65535 {
		return fmt.Errorf("system.health_check_port must be between 0 and 65535, got: %d", c.System.HealthCheckPort)
	}

	if c.Pricing.CheckPriceInterval <= 0 {
		return fmt.Errorf("pricing.check_price_interval must be greater than 0")
	}
	if c.Pricing.APITimeout <= 0 {
		return fmt.Errorf("pricing.api_timeout must be greater than 0")
	}
	if c.Pricing.URLFormat == "" {
		return fmt.Errorf("pricing.url_format cannot be empty")
	}

	for i, inv := range c.Inverters {
		if inv.ID == "" {
			return fmt.Errorf("inverters[%d].id cannot be empty", i)
		}
		if inv.Adapter != "modbus" && inv.Adapter != "mqtt" {
			return fmt.Errorf("inverters[%d].adapter must be \"modbus\" or \"mqtt\", got %q", i, inv.Adapter)
		}
		if inv.Adapter == "modbus" && inv.ModbusAddress == "" {
			return fmt.Errorf("inverters[%d].modbus_address required for modbus adapter", i)
		}
		if inv.Adapter == "mqtt" && inv.MQTTBroker == "" {
			return fmt.Errorf("inverters[%d].mqtt_broker required for mqtt adapter", i)
		}
		if inv.BatteryCapacityKWh < 0 {
			return fmt.Errorf("inverters[%d].battery_capacity_kwh must be non-negative", i)
		}
		if inv.MinSOC < 0 || inv.MinSOC > 1 {
			return fmt.Errorf("inverters[%d].min_soc must be between 0 and 1", i)
		}
		if inv.MaxSOC < 0 || inv.MaxSOC > 1 {
			return fmt.Errorf("inverters[%d].max_soc must be between 0 and 1", i)
		}
		if inv.MinSOC > inv.MaxSOC {
			return fmt.Errorf("inverters[%d].min_soc cannot exceed max_soc", i)
		}
		if inv.Efficiency < 0 || inv.Efficiency > 1 {
			return fmt.Errorf("inverters[%d].efficiency must be between 0 and 1", i)
		}
	}

	if c.Control.MinConsecutiveForceBlocks < 1 {
		return fmt.Errorf("control.min_consecutive_force_blocks must be at least 1")
	}
	if c.Control.MaxGapBlocks < 0 {
		return fmt.Errorf("control.max_gap_blocks must be non-negative")
	}
	if c.Control.HighSOCThreshold < 0 || c.Control.HighSOCThreshold > 1 {
		return fmt.Errorf("control.high_soc_threshold must be between 0 and 1")
	}
	if c.Control.BackupDischargeMinSOC < 0 || c.Control.BackupDischargeMinSOC > 1 {
		return fmt.Errorf("control.backup_discharge_min_soc must be between 0 and 1")
	}
	if c.Control.MinModeChangeInterval <= 0 {
		return fmt.Errorf("control.min_mode_change_interval must be greater than 0")
	}
	if c.Control.DispatchBackoffBase <= 0 {
		return fmt.Errorf("control.dispatch_backoff_base must be greater than 0")
	}
	if c.Control.DispatchBackoffCap < c.Control.DispatchBackoffBase {
		return fmt.Errorf("control.dispatch_backoff_cap must be >= dispatch_backoff_base")
	}
	if c.Control.DispatchPollInterval <= 0 {
		return fmt.Errorf("control.dispatch_poll_interval must be greater than 0")
	}

	return nil
}

// ResetSection restores one named section to DefaultConfig()'s values,
// leaving every other section untouched.
func (c *Config) ResetSection(name string) error {
	def := DefaultConfig()
	switch name {
	case "system":
		c.System = def.System
	case "pricing":
		c.Pricing = def.Pricing
	case "control":
		c.Control = def.Control
	case "strategies":
		c.Strategies = def.Strategies
	case "inverters":
		c.Inverters = def.Inverters
	default:
		return fmt.Errorf("config: unknown section %q", name)
	}
	return nil
}

// Redacted returns a copy of c with secrets blanked, safe to serve over
// the HTTP surface.
func (c *Config) Redacted() *Config {
	cp := *c
	cp.Pricing.SecurityToken = ""
	cp.PostgresConnString = ""
	inverters := make([]InverterSection, len(c.Inverters))
	copy(inverters, c.Inverters)
	for i := range inverters {
		inverters[i].MQTTBroker = redactBroker(inverters[i].MQTTBroker)
	}
	cp.Inverters = inverters
	return &cp
}

func redactBroker(broker string) string {
	if broker == "" {
		return broker
	}
	return "***"
}

// MarshalJSON renders SystemSection's time.Duration field as a
// human-editable duration string.
func (s SystemSection) MarshalJSON() ([]byte, error) {
	type alias SystemSection
	return json.Marshal(&struct {
		alias
		RegenerateDebounce string `json:"regenerate_debounce"`
	}{alias(s), s.RegenerateDebounce.String()})
}

// UnmarshalJSON is the reverse of SystemSection.MarshalJSON.
func (s *SystemSection) UnmarshalJSON(data []byte) error {
	type alias SystemSection
	aux := struct {
		*alias
		RegenerateDebounce string `json:"regenerate_debounce"`
	}{alias: (*alias)(s)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	return parseDurationInto("system.regenerate_debounce", aux.RegenerateDebounce, &s.RegenerateDebounce)
}

// MarshalJSON implements the type-Alias trick for PricingSection's
// time.Duration fields.
func (p PricingSection) MarshalJSON() ([]byte, error) {
	type alias PricingSection
	return json.Marshal(&struct {
		alias
		APITimeout         string `json:"api_timeout"`
		CheckPriceInterval string `json:"check_price_interval"`
	}{alias(p), p.APITimeout.String(), p.CheckPriceInterval.String()})
}

// UnmarshalJSON is the reverse of PricingSection.MarshalJSON.
func (p *PricingSection) UnmarshalJSON(data []byte) error {
	type alias PricingSection
	aux := struct {
		*alias
		APITimeout         string `json:"api_timeout"`
		CheckPriceInterval string `json:"check_price_interval"`
	}{alias: (*alias)(p)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if err := parseDurationInto("pricing.api_timeout", aux.APITimeout, &p.APITimeout); err != nil {
		return err
	}
	return parseDurationInto("pricing.check_price_interval", aux.CheckPriceInterval, &p.CheckPriceInterval)
}

// MarshalJSON implements the type-Alias trick for ControlSection's
// time.Duration fields.
func (c ControlSection) MarshalJSON() ([]byte, error) {
	type alias ControlSection
	return json.Marshal(&struct {
		alias
		MinModeChangeInterval string `json:"min_mode_change_interval"`
		DispatchBackoffBase   string `json:"dispatch_backoff_base"`
		DispatchBackoffCap    string `json:"dispatch_backoff_cap"`
		DispatchPollInterval  string `json:"dispatch_poll_interval"`
	}{alias(c), c.MinModeChangeInterval.String(), c.DispatchBackoffBase.String(), c.DispatchBackoffCap.String(), c.DispatchPollInterval.String()})
}

// UnmarshalJSON is the reverse of ControlSection.MarshalJSON.
func (c *ControlSection) UnmarshalJSON(data []byte) error {
	type alias ControlSection
	aux := struct {
		*alias
		MinModeChangeInterval string `json:"min_mode_change_interval"`
		DispatchBackoffBase   string `json:"dispatch_backoff_base"`
		DispatchBackoffCap    string `json:"dispatch_backoff_cap"`
		DispatchPollInterval  string `json:"dispatch_poll_interval"`
	}{alias: (*alias)(c)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if err := parseDurationInto("control.min_mode_change_interval", aux.MinModeChangeInterval, &c.MinModeChangeInterval); err != nil {
		return err
	}
	if err := parseDurationInto("control.dispatch_backoff_base", aux.DispatchBackoffBase, &c.DispatchBackoffBase); err != nil {
		return err
	}
	if err := parseDurationInto("control.dispatch_backoff_cap", aux.DispatchBackoffCap, &c.DispatchBackoffCap); err != nil {
		return err
	}
	return parseDurationInto("control.dispatch_poll_interval", aux.DispatchPollInterval, &c.DispatchPollInterval)
}

func parseDurationInto(field, s string, dst *time.Duration) error {
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: invalid %s: %w", field, err)
	}
	*dst = d
	return nil
}

// UpdateEvent is emitted after a configuration edit is validated and
// persisted: the sections whose values changed plus the before/after
// documents, so consumers can decide whether the change concerns them.
type UpdateEvent struct {
	ChangedSections []string
	Old             *Config
	New             *Config
}

// ChangedSections diffs two configs section by section, by comparing their
// JSON encodings.
func ChangedSections(old, new *Config) []string {
	var changed []string
	sections := []struct {
		name     string
		old, new interface{}
	}{
		{"system", old.System, new.System},
		{"inverters", old.Inverters, new.Inverters},
		{"pricing", old.Pricing, new.Pricing},
		{"control", old.Control, new.Control},
		{"strategies", old.Strategies, new.Strategies},
	}
	for _, s := range sections {
		a, _ := json.Marshal(s.old)
		b, _ := json.Marshal(s.new)
		if string(a) != string(b) {
			changed = append(changed, s.name)
		}
	}
	if old.PostgresConnString != new.PostgresConnString {
		found := false
		for _, name := range changed {
			if name == "system" {
				found = true
				break
			}
		}
		if !found {
			changed = append(changed, "system")
		}
	}
	return changed
}
