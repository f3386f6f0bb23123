// Package modbusadapter is a reference inverter.DataSource backed by a
// Modbus-TCP connection to a Sigenergy-style hybrid inverter plant. It
// implements the narrow ReadState/WriteCommand/HealthCheck contract only;
// it does not attempt a full vendor entity-name-mapping catalog.
package modbusadapter

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/goburrow/modbus"

	"github.com/kestrelhome/battplan/inverter"
	"github.com/kestrelhome/battplan/strategy"
)

// Register addresses for the plant-level running info block: a small
// subset sufficient for ReadState/WriteCommand, not the full catalog.
const (
	regEMSWorkMode    = 40031 // holds the inverter's current remote-EMS mode
	regSOC            = 30014 // ESS SOC, scaled 0.1%
	regPVPowerKW      = 30035 // scaled 0.001 kW
	regBatteryPowerKW = 30037 // scaled 0.001 kW, signed
	regGridPowerKW    = 30039 // scaled 0.001 kW, signed
	regLoadPowerKW    = 30041 // scaled 0.001 kW

	cmdStartPlant = 40000
)

// modeToRegister/registerToMode map strategy.Mode to/from the vendor's
// remote-EMS mode register values. ForceCharge and ForceDischarge are both
// written as the single "manual" register value 2, which reads back as
// ForceCharge; callers needing that distinction on read-back should use
// LastCommandedSubMode instead.
var modeToRegister = map[strategy.Mode]uint16{
	strategy.SelfUse:        0,
	strategy.ForceCharge:    2,
	strategy.ForceDischarge: 2, // same manual value as ForceCharge; reads back as ForceCharge
	strategy.BackUp:         3,
}

var registerToMode = map[uint16]strategy.Mode{
	0: strategy.SelfUse,
	2: strategy.ForceCharge, // lossy: could also mean ForceDischarge, see modeToRegister
	3: strategy.BackUp,
}

// Adapter implements inverter.DataSource over one Modbus-TCP connection
// per inverter ID.
type Adapter struct {
	mu       sync.Mutex
	clients  map[string]modbus.Client
	subModes map[string]inverter.SubMode
	dial     func(inverterID string) (modbus.Client, error)
}

// New builds an Adapter that dials a TCP client per inverter ID on first
// use via addressFor.
func New(addressFor func(inverterID string) string) *Adapter {
	return &Adapter{
		clients:  make(map[string]modbus.Client),
		subModes: make(map[string]inverter.SubMode),
		dial: func(inverterID string) (modbus.Client, error) {
			addr := addressFor(inverterID)
			if addr == "" {
				return nil, fmt.Errorf("modbusadapter: no address configured for inverter %q", inverterID)
			}
			handler := modbus.NewTCPClientHandler(addr)
			handler.Timeout = 5 * time.Second
			if err := handler.Connect(); err != nil {
				return nil, fmt.Errorf("modbusadapter: connecting to %s: %w", addr, err)
			}
			return modbus.NewClient(handler), nil
		},
	}
}

func (a *Adapter) clientFor(inverterID string) (modbus.Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if c, ok := a.clients[inverterID]; ok {
		return c, nil
	}
	c, err := a.dial(inverterID)
	if err != nil {
		return nil, err
	}
	a.clients[inverterID] = c
	return c, nil
}

// ReadState reads back SOC, mode and power telemetry for one inverter.
func (a *Adapter) ReadState(ctx context.Context, inverterID string) (inverter.State, error) {
	client, err := a.clientFor(inverterID)
	if err != nil {
		return inverter.State{}, err
	}

	socRaw, err := client.ReadInputRegisters(regSOC, 1)
	if err != nil {
		return inverter.State{}, fmt.Errorf("modbusadapter: reading SOC: %w", err)
	}
	modeRaw, err := client.ReadHoldingRegisters(regEMSWorkMode, 1)
	if err != nil {
		return inverter.State{}, fmt.Errorf("modbusadapter: reading mode: %w", err)
	}
	pvRaw, err := client.ReadInputRegisters(regPVPowerKW, 2)
	if err != nil {
		return inverter.State{}, fmt.Errorf("modbusadapter: reading PV power: %w", err)
	}
	battRaw, err := client.ReadInputRegisters(regBatteryPowerKW, 2)
	if err != nil {
		return inverter.State{}, fmt.Errorf("modbusadapter: reading battery power: %w", err)
	}
	gridRaw, err := client.ReadInputRegisters(regGridPowerKW, 2)
	if err != nil {
		return inverter.State{}, fmt.Errorf("modbusadapter: reading grid power: %w", err)
	}
	loadRaw, err := client.ReadInputRegisters(regLoadPowerKW, 2)
	if err != nil {
		return inverter.State{}, fmt.Errorf("modbusadapter: reading load power: %w", err)
	}

	a.mu.Lock()
	subMode := a.subModes[inverterID]
	a.mu.Unlock()

	return inverter.State{
		InverterID:     inverterID,
		SOCPercent:     float64(bytesToU16(socRaw)) * 0.1,
		ActualMode:     registerToMode[bytesToU16(modeRaw)],
		LastSubMode:    subMode,
		PVPowerKW:      float64(bytesToS32(pvRaw)) * 0.001,
		BatteryPowerKW: float64(bytesToS32(battRaw)) * 0.001,
		GridPowerKW:    float64(bytesToS32(gridRaw)) * 0.001,
		LoadPowerKW:    float64(bytesToS32(loadRaw)) * 0.001,
		ReadAt:         time.Now(),
	}, nil
}

// WriteCommand issues a SetMode/SetExportLimit command and records the
// sub-mode side channel so ForceDischarge can be recovered on read-back
// despite the vendor register sharing one value with ForceCharge.
func (a *Adapter) WriteCommand(ctx context.Context, inverterID string, cmd inverter.Command) error {
	client, err := a.clientFor(inverterID)
	if err != nil {
		return err
	}

	if cmd.SetMode != nil {
		reg, ok := modeToRegister[*cmd.SetMode]
		if !ok {
			return fmt.Errorf("modbusadapter: unsupported mode %q", *cmd.SetMode)
		}
		if _, err := client.WriteSingleRegister(regEMSWorkMode, reg); err != nil {
			return fmt.Errorf("modbusadapter: writing mode: %w", err)
		}
		a.mu.Lock()
		switch *cmd.SetMode {
		case strategy.ForceDischarge:
			a.subModes[inverterID] = inverter.SubModeManualDischarge
		case strategy.ForceCharge:
			a.subModes[inverterID] = inverter.SubModeManualCharge
		default:
			a.subModes[inverterID] = inverter.SubModeNone
		}
		a.mu.Unlock()
	}

	if cmd.SetExportLimitW != nil {
		watts := uint16(*cmd.SetExportLimitW)
		if _, err := client.WriteSingleRegister(cmdStartPlant+5, watts); err != nil {
			return fmt.Errorf("modbusadapter: writing export limit: %w", err)
		}
	}
	return nil
}

// HealthCheck reads a single cheap register to confirm connectivity.
func (a *Adapter) HealthCheck(ctx context.Context) (bool, error) {
	a.mu.Lock()
	n := len(a.clients)
	clients := make([]modbus.Client, 0, n)
	for _, c := range a.clients {
		clients = append(clients, c)
	}
	a.mu.Unlock()

	for _, c := range clients {
		if _, err := c.ReadInputRegisters(regSOC, 1); err != nil {
			return false, err
		}
	}
	return true, nil
}

// LastCommandedSubMode returns the side-channel sub-mode recorded by the
// most recent WriteCommand for inverterID.
func (a *Adapter) LastCommandedSubMode(inverterID string) inverter.SubMode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.subModes[inverterID]
}

func bytesToU16(data []byte) uint16 {
	return binary.BigEndian.Uint16(data)
}

func bytesToS32(data []byte) int32 {
	return int32(binary.BigEndian.Uint32(data))
}
