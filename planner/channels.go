package planner

import (
	"log"
	"time"

	"github.com/kestrelhome/battplan/config"
	"github.com/kestrelhome/battplan/history"
	"github.com/kestrelhome/battplan/inverter"
	"github.com/kestrelhome/battplan/pricing"
	"github.com/kestrelhome/battplan/schedule"
	"github.com/kestrelhome/battplan/usercontrol"
)

// PricesUpdate is one day-ahead publication as produced by the price
// fetcher worker, already tariff-resolved.
type PricesUpdate struct {
	Blocks    []pricing.PriceBlock
	FetchedAt time.Time
	Version   string
}

// DispatchRequest asks the command writer to bring one inverter onto the
// scheduled mode. Producers block when the queue is full: a mode command
// must never be silently dropped.
type DispatchRequest struct {
	InverterID string
	Entry      schedule.ScheduledMode
	At         time.Time
}

// CommandResult reports the outcome of one vendor command issued by the
// command writer.
type CommandResult struct {
	InverterID string
	Err        error
	At         time.Time
}

// HealthEvent is one health-check outcome from an I/O worker.
type HealthEvent struct {
	Source  string
	Healthy bool
	Err     error
	At      time.Time
}

// ConsumptionHistoryUpdate delivers freshly downloaded history records the
// planner folds into the hourly consumption profile.
type ConsumptionHistoryUpdate struct {
	Records []history.Record
}

// Channels bundles every queue between the I/O workers and the planner
// loop. Bounds and backpressure follow the channel table: producers on the
// bounded queues use the TrySend helpers (drop-and-warn), the command
// queue blocks, and the two HTTP-fed update queues are sized generously
// enough that a web client can never observe a dropped edit.
type Channels struct {
	Prices             chan PricesUpdate
	InverterState      chan inverter.State
	InverterCommands   chan DispatchRequest
	CommandResults     chan CommandResult
	Health             chan HealthEvent
	ConfigUpdates      chan config.UpdateEvent
	UserControlUpdates chan usercontrol.UpdateEvent
	ConsumptionHistory chan ConsumptionHistoryUpdate
	ForecastUpdates    chan schedule.Forecast
}

// NewChannels allocates every queue at its documented bound.
func NewChannels() *Channels {
	return &Channels{
		Prices:             make(chan PricesUpdate, 100),
		InverterState:      make(chan inverter.State, 100),
		InverterCommands:   make(chan DispatchRequest, 50),
		CommandResults:     make(chan CommandResult, 50),
		Health:             make(chan HealthEvent, 20),
		ConfigUpdates:      make(chan config.UpdateEvent, 256),
		UserControlUpdates: make(chan usercontrol.UpdateEvent, 256),
		ConsumptionHistory: make(chan ConsumptionHistoryUpdate, 10),
		ForecastUpdates:    make(chan schedule.Forecast, 10),
	}
}

// TrySendPrices offers a prices snapshot without blocking, warning on drop.
func (c *Channels) TrySendPrices(u PricesUpdate, logger *log.Logger) bool {
	select {
	case c.Prices <- u:
		return true
	default:
		if logger != nil {
			logger.Printf("planner: prices queue full, dropping snapshot fetched at %s", u.FetchedAt)
		}
		return false
	}
}

// TrySendInverterState offers a telemetry reading without blocking.
func (c *Channels) TrySendInverterState(s inverter.State, logger *log.Logger) bool {
	select {
	case c.InverterState <- s:
		return true
	default:
		if logger != nil {
			logger.Printf("planner: inverter-state queue full, dropping reading for %s", s.InverterID)
		}
		return false
	}
}

// TrySendHealth offers a health event without blocking.
func (c *Channels) TrySendHealth(e HealthEvent, logger *log.Logger) bool {
	select {
	case c.Health <- e:
		return true
	default:
		if logger != nil {
			logger.Printf("planner: health queue full, dropping event from %s", e.Source)
		}
		return false
	}
}

// TrySendCommandResult offers a command outcome without blocking.
func (c *Channels) TrySendCommandResult(r CommandResult, logger *log.Logger) bool {
	select {
	case c.CommandResults <- r:
		return true
	default:
		if logger != nil {
			logger.Printf("planner: command-results queue full, dropping result for %s", r.InverterID)
		}
		return false
	}
}

// TrySendConsumptionHistory offers a history download without blocking.
func (c *Channels) TrySendConsumptionHistory(u ConsumptionHistoryUpdate, logger *log.Logger) bool {
	select {
	case c.ConsumptionHistory <- u:
		return true
	default:
		if logger != nil {
			logger.Printf("planner: consumption-history queue full, dropping %d records", len(u.Records))
		}
		return false
	}
}

// TrySendForecast offers a forecast refresh without blocking.
func (c *Channels) TrySendForecast(f schedule.Forecast, logger *log.Logger) bool {
	select {
	case c.ForecastUpdates <- f:
		return true
	default:
		if logger != nil {
			logger.Printf("planner: forecast queue full, dropping refresh of %d points", len(f.Points))
		}
		return false
	}
}
