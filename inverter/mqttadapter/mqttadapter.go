// Package mqttadapter is a reference inverter.DataSource backed by MQTT
// topics (state published by the vendor's own bridge, commands issued by
// publishing to a command topic).
package mqttadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/kestrelhome/battplan/inverter"
	"github.com/kestrelhome/battplan/strategy"
)

// Topics is the per-inverter topic layout the adapter subscribes/publishes
// to. State topics carry plain numeric payloads, with "Undefined" and
// "unavailable" sentinels tolerated for dropped sensors; the command topic
// carries a JSON-encoded Command.
type Topics struct {
	SOCState          string
	ModeState         string
	PVPowerState      string
	BatteryPowerState string
	GridPowerState    string
	LoadPowerState    string
	CommandTopic      string
}

// Adapter implements inverter.DataSource over one MQTT client shared
// across all configured inverters.
type Adapter struct {
	client mqtt.Client
	topics map[string]Topics

	mu       sync.Mutex
	latest   map[string]inverter.State
	subModes map[string]inverter.SubMode
}

// New connects to broker and subscribes to every topic in topics,
// mirroring mqtt_worker.go's OnConnect subscription loop.
func New(broker, clientID, username, password string, topics map[string]Topics) (*Adapter, error) {
	a := &Adapter{
		topics:   topics,
		latest:   make(map[string]inverter.State),
		subModes: make(map[string]inverter.SubMode),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetUsername(username)
	opts.SetPassword(password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetOnConnectHandler(a.onConnect)

	a.client = mqtt.NewClient(opts)
	if token := a.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqttadapter: connecting to %s: %w", broker, token.Error())
	}
	return a, nil
}

func (a *Adapter) onConnect(client mqtt.Client) {
	for inverterID, t := range a.topics {
		inverterID := inverterID
		for _, topic := range []string{t.SOCState, t.ModeState, t.PVPowerState, t.BatteryPowerState, t.GridPowerState, t.LoadPowerState} {
			if topic == "" {
				continue
			}
			topic := topic
			client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
				a.handleMessage(inverterID, topic, string(msg.Payload()))
			})
		}
	}
}

func (a *Adapter) handleMessage(inverterID, topic, value string) {
	if value == "Undefined" || value == "unavailable" || value == "" {
		return
	}
	t := a.topics[inverterID]

	a.mu.Lock()
	defer a.mu.Unlock()
	st := a.latest[inverterID]
	st.InverterID = inverterID
	st.ReadAt = time.Now()

	switch topic {
	case t.SOCState:
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			st.SOCPercent = f
		}
	case t.ModeState:
		st.ActualMode = strategy.Mode(value)
	case t.PVPowerState:
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			st.PVPowerKW = f
		}
	case t.BatteryPowerState:
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			st.BatteryPowerKW = f
		}
	case t.GridPowerState:
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			st.GridPowerKW = f
		}
	case t.LoadPowerState:
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			st.LoadPowerKW = f
		}
	}
	a.latest[inverterID] = st
}

// ReadState returns the most recently received telemetry for inverterID.
func (a *Adapter) ReadState(ctx context.Context, inverterID string) (inverter.State, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.latest[inverterID]
	if !ok {
		return inverter.State{}, fmt.Errorf("mqttadapter: no telemetry received yet for %q", inverterID)
	}
	st.LastSubMode = a.subModes[inverterID]
	return st, nil
}

// commandPayload is the JSON body published to the command topic.
type commandPayload struct {
	Mode         string `json:"mode,omitempty"`
	ExportLimitW *int   `json:"export_limit_w,omitempty"`
}

// WriteCommand publishes cmd to the inverter's command topic.
func (a *Adapter) WriteCommand(ctx context.Context, inverterID string, cmd inverter.Command) error {
	t, ok := a.topics[inverterID]
	if !ok || t.CommandTopic == "" {
		return fmt.Errorf("mqttadapter: no command topic configured for %q", inverterID)
	}

	payload := commandPayload{ExportLimitW: cmd.SetExportLimitW}
	if cmd.SetMode != nil {
		payload.Mode = string(*cmd.SetMode)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("mqttadapter: encoding command: %w", err)
	}

	token := a.client.Publish(t.CommandTopic, 0, false, body)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqttadapter: publishing command: %w", token.Error())
	}

	if cmd.SetMode != nil {
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
	return nil
}

// HealthCheck reports whether the MQTT client still holds a live
// connection.
func (a *Adapter) HealthCheck(ctx context.Context) (bool, error) {
	return a.client.IsConnected(), nil
}

// LastCommandedSubMode returns the side-channel sub-mode recorded by the
// most recent WriteCommand for inverterID.
func (a *Adapter) LastCommandedSubMode(inverterID string) inverter.SubMode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.subModes[inverterID]
}

// DefaultTopics returns the conventional topic layout for one inverter id.
func DefaultTopics(inverterID string) Topics {
	prefix := "battplan/" + inverterID + "/"
	return Topics{
		SOCState:          prefix + "soc",
		ModeState:         prefix + "mode",
		PVPowerState:      prefix + "pv_power",
		BatteryPowerState: prefix + "battery_power",
		GridPowerState:    prefix + "grid_power",
		LoadPowerState:    prefix + "load_power",
		CommandTopic:      prefix + "command",
	}
}
