// Package planner runs the single-threaded control loop that turns
// asynchronously arriving prices, telemetry and config edits into a valid
// operation schedule. I/O workers never touch the planner's state; they
// only produce onto the bounded queues in Channels, and the loop drains
// them in a fixed order each tick: telemetry, then prices, then
// config/overrides, then regeneration if anything changed, then dispatch.
package planner

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/kestrelhome/battplan/battery"
	"github.com/kestrelhome/battplan/clock"
	"github.com/kestrelhome/battplan/config"
	"github.com/kestrelhome/battplan/dispatch"
	"github.com/kestrelhome/battplan/forecast"
	"github.com/kestrelhome/battplan/history"
	"github.com/kestrelhome/battplan/inverter"
	"github.com/kestrelhome/battplan/optimizer"
	"github.com/kestrelhome/battplan/pricing"
	"github.com/kestrelhome/battplan/schedule"
	"github.com/kestrelhome/battplan/strategy"
	"github.com/kestrelhome/battplan/usercontrol"
)

// Planner owns the world: current prices, battery state, forecasts,
// overrides and the committed schedule. Only the Run loop mutates it;
// everything else reads through Snapshot.
type Planner struct {
	Clock       *clock.Clock
	Registry    *strategy.Registry
	Optimizer   *optimizer.Optimizer
	Dispatcher  *dispatch.Dispatcher
	UserControl *usercontrol.Store
	History     *schedule.History
	Channels    *Channels
	Logger      *log.Logger

	TickInterval time.Duration

	mu  sync.RWMutex
	cfg *config.Config

	prices       []pricing.PriceBlock
	priceVersion string
	batteryState battery.State
	forecast     schedule.Forecast
	telemetry    map[string]inverter.State
	health       map[string]HealthEvent

	current schedule.OperationSchedule
	tally   schedule.Tally

	gridImportTodayKWh float64
	importDay          int
	lastTelemetryAt    time.Time
	prevDayAvgPrice    float64
	todayAvgPrice      float64

	regenPending  bool
	regenTrigger  string
	regenDeadline time.Time
	lastBlock     time.Time
}

// New wires a Planner from its collaborators. cfg seeds the battery's
// invariant parameters from the first configured inverter.
func New(cfg *config.Config, clk *clock.Clock, registry *strategy.Registry, opt *optimizer.Optimizer, disp *dispatch.Dispatcher, uc *usercontrol.Store, logger *log.Logger) *Planner {
	if logger == nil {
		logger = log.Default()
	}
	p := &Planner{
		Clock:        clk,
		Registry:     registry,
		Optimizer:    opt,
		Dispatcher:   disp,
		UserControl:  uc,
		History:      schedule.NewHistory(16),
		Channels:     NewChannels(),
		Logger:       logger,
		TickInterval: time.Second,
		cfg:          cfg,
		telemetry:    make(map[string]inverter.State),
		health:       make(map[string]HealthEvent),
	}
	p.batteryState = batteryFromConfig(cfg)
	registry.Configure(cfg.Strategies.Disabled, cfg.Strategies.Priority)
	return p
}

func batteryFromConfig(cfg *config.Config) battery.State {
	if len(cfg.Inverters) == 0 {
		return battery.State{}
	}
	inv := cfg.Inverters[0]
	return battery.State{
		CapacityKWh:    inv.BatteryCapacityKWh,
		SOC:            inv.MinSOC,
		MinSOC:         inv.MinSOC,
		MaxSOC:         inv.MaxSOC,
		MaxChargeKW:    inv.MaxChargeKW,
		MaxDischargeKW: inv.MaxDischargeKW,
		Efficiency:     inv.Efficiency,
	}
}

func (p *Planner) params() schedule.Params {
	ctl := p.cfg.Control
	return schedule.Params{
		MinConsecutiveForceBlocks: ctl.MinConsecutiveForceBlocks,
		MaxGapBlocks:              ctl.MaxGapBlocks,
		HighSOCThreshold:          ctl.HighSOCThreshold,
		DefaultBatteryMode:        strategy.SelfUse,
		ExportPricePerKWh:         p.cfg.Pricing.ExportPricePerKWh,
		BackupDischargeMinSOC:     ctl.BackupDischargeMinSOC,
		DefaultBatteryCostBasis:   ctl.DefaultBatteryCostBasis,
	}
}

// Run drives the loop until ctx is cancelled. It also starts the command
// writer (the sole consumer of the blocking command queue) and the
// poll-and-sync worker.
func (p *Planner) Run(ctx context.Context) error {
	go p.commandWriter(ctx)
	go p.pollAndSync(ctx)

	ticker := time.NewTicker(p.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.tick(p.Clock.Now())
		}
	}
}

// tick advances the world once, in the documented component order.
func (p *Planner) tick(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.drainTelemetry(now)
	p.drainPrices(now)
	p.drainConfigAndOverrides(now)
	p.drainHealthAndResults()

	if block := clock.BlockStart(now); !block.Equal(p.lastBlock) {
		p.lastBlock = block
		p.requestRegen(now, "block boundary")
	}

	if p.regenPending && !now.Before(p.regenDeadline) {
		p.regenerate(now)
	}

	p.dispatchCurrent(now)
}

// drainTelemetry empties the inverter-state queue, keeping the latest
// reading per inverter and integrating positive grid power into the
// running grid-import-today total.
func (p *Planner) drainTelemetry(now time.Time) {
	for {
		select {
		case st := <-p.Channels.InverterState:
			p.telemetry[st.InverterID] = st
			p.batteryState.SOC = st.SOCPercent / 100.0
			p.integrateGridImport(st, now)
		default:
			return
		}
	}
}

func (p *Planner) integrateGridImport(st inverter.State, now time.Time) {
	if now.YearDay() != p.importDay {
		p.importDay = now.YearDay()
		p.gridImportTodayKWh = 0
	}
	if !p.lastTelemetryAt.IsZero() && st.GridPowerKW > 0 {
		hours := st.ReadAt.Sub(p.lastTelemetryAt).Hours()
		if hours > 0 && hours < 1 {
			p.gridImportTodayKWh += st.GridPowerKW * hours
		}
	}
	p.lastTelemetryAt = st.ReadAt
}

// drainPrices keeps only the newest snapshot per tick and requests a
// regeneration when the new horizon is strictly larger than the old.
func (p *Planner) drainPrices(now time.Time) {
	var latest *PricesUpdate
	for {
		select {
		case u := <-p.Channels.Prices:
			latest = &u
		default:
			if latest == nil {
				return
			}
			grew := horizonEnd(latest.Blocks).After(horizonEnd(p.prices))
			p.prevDayAvgPrice = p.todayAvgPrice
			p.todayAvgPrice = pricing.AverageEffectivePrice(latest.Blocks)
			p.prices = latest.Blocks
			p.priceVersion = latest.Version
			if grew {
				p.requestRegen(now, "price horizon grew")
			}
			return
		}
	}
}

func horizonEnd(blocks []pricing.PriceBlock) time.Time {
	if len(blocks) == 0 {
		return time.Time{}
	}
	last := blocks[len(blocks)-1]
	return last.BlockStart.Add(time.Duration(last.DurationMinutes) * time.Minute)
}

// drainConfigAndOverrides applies config edits and user-control events.
// Config changes touching pricing, control or strategies request a
// regeneration; so does any override affecting the next 24 hours.
func (p *Planner) drainConfigAndOverrides(now time.Time) {
configLoop:
	for {
		select {
		case ev := <-p.Channels.ConfigUpdates:
			if ev.New != nil {
				p.cfg = ev.New
				p.batteryState = mergeBattery(p.batteryState, batteryFromConfig(ev.New))
				p.Registry.Configure(ev.New.Strategies.Disabled, ev.New.Strategies.Priority)
			}
			for _, section := range ev.ChangedSections {
				if section == "pricing" || section == "control" || section == "strategies" {
					p.requestRegen(now, "config section "+section+" changed")
					break
				}
			}
		default:
			break configLoop
		}
	}

controlLoop:
	for {
		select {
		case ev := <-p.Channels.UserControlUpdates:
			if p.UserControl.Apply(ev, now) {
				p.requestRegen(now, "user control changed")
			}
			if err := p.UserControl.Save(); err != nil {
				p.Logger.Printf("planner: persisting user control: %v", err)
			}
		default:
			break controlLoop
		}
	}

	for {
		select {
		case f := <-p.Channels.ForecastUpdates:
			// Forecast refreshes replace the horizon wholesale but never
			// carry a profile; keep the one learned from history.
			f.HourlyProfile = p.forecast.HourlyProfile
			p.forecast = f
		case u := <-p.Channels.ConsumptionHistory:
			profile := history.HourlyProfileKWh(u.Records, 0.25)
			p.forecast.HourlyProfile = &profile
		default:
			return
		}
	}
}

// mergeBattery carries the live SOC and cost basis across a config-driven
// parameter change.
func mergeBattery(live, fresh battery.State) battery.State {
	fresh.SOC = live.SOC
	fresh.AvgChargePrice = live.AvgChargePrice
	fresh.EnergyBasisKWh = live.EnergyBasisKWh
	return fresh
}

func (p *Planner) drainHealthAndResults() {
	for {
		select {
		case e := <-p.Channels.Health:
			p.health[e.Source] = e
		case r := <-p.Channels.CommandResults:
			if r.Err != nil {
				p.Logger.Printf("planner: command for %s failed: %v", r.InverterID, r.Err)
			}
		default:
			return
		}
	}
}

// requestRegen schedules a regeneration, coalescing triggers that arrive
// within the configured debounce window.
func (p *Planner) requestRegen(now time.Time, trigger string) {
	debounce := p.cfg.System.RegenerateDebounce
	if debounce <= 0 {
		debounce = time.Second
	}
	if !p.regenPending {
		p.regenDeadline = now.Add(debounce)
		p.regenTrigger = trigger
	}
	p.regenPending = true
}

func (p *Planner) regenerate(now time.Time) {
	p.regenPending = false

	fc := p.forecast
	if fc.HourlyProfile != nil {
		points := append([]forecast.Point(nil), fc.Points...)
		for i := range points {
			if points[i].ConsumptionKW == 0 {
				points[i].ConsumptionKW = fc.HourlyProfile[points[i].Start.Hour()]
			}
		}
		fc.Points = points
	}

	in := schedule.Input{
		Prices:                   schedule.FromPriceBlocks(p.prices),
		Battery:                  p.batteryState,
		Forecast:                 fc,
		UserControl:              p.UserControl,
		ExportPricePerKWh:        p.cfg.Pricing.ExportPricePerKWh,
		BackupDischargeMinSOC:    p.cfg.Control.BackupDischargeMinSOC,
		GridImportTodayKWh:       p.gridImportTodayKWh,
		PrevDayAvgEffectivePrice: p.prevDayAvgPrice,
		TodayAvgEffectivePrice:   p.todayAvgPrice,
	}

	sched, tally, err := schedule.Generate(p.params(), in, p.Optimizer, now)
	if err != nil {
		p.Logger.Printf("planner: regeneration failed: %v", err)
		return
	}
	sched.BasedOnPriceVersion = p.priceVersion
	p.current = sched
	p.tally = tally
	p.History.Record(schedule.HistoryEntry{
		Schedule:    sched,
		Tally:       tally,
		Trigger:     p.regenTrigger,
		GeneratedAt: now,
	})
	p.Logger.Printf("planner: regenerated %d blocks (%s): charge=%d discharge=%d selfuse=%d backup=%d",
		len(sched.Entries), p.regenTrigger, tally.ForceCharge, tally.ForceDischarge, tally.SelfUse, tally.BackUp)
}

// dispatchCurrent enqueues the scheduled mode for the block containing now
// onto the blocking command queue, one request per configured inverter.
// The Dispatcher's own debounce suppresses repeats.
func (p *Planner) dispatchCurrent(now time.Time) {
	entry, ok := p.entryAt(now)
	if !ok {
		return
	}
	for _, inv := range p.cfg.Inverters {
		req := DispatchRequest{InverterID: inv.ID, Entry: entry, At: now}
		p.Channels.InverterCommands <- req
	}
}

func (p *Planner) entryAt(now time.Time) (schedule.ScheduledMode, bool) {
	for _, e := range p.current.Entries {
		end := e.BlockStart.Add(time.Duration(e.DurationMinutes) * time.Minute)
		if !now.Before(e.BlockStart) && now.Before(end) {
			return e, true
		}
	}
	return schedule.ScheduledMode{}, false
}

// commandWriter is the sole consumer of the command queue.
func (p *Planner) commandWriter(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-p.Channels.InverterCommands:
			err := p.Dispatcher.Dispatch(ctx, req.InverterID, req.Entry, req.At)
			p.Channels.TrySendCommandResult(CommandResult{InverterID: req.InverterID, Err: err, At: req.At}, p.Logger)
		}
	}
}

// pollAndSync periodically reads back each inverter's actual mode.
func (p *Planner) pollAndSync(ctx context.Context) {
	interval := p.Dispatcher.PollInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.mu.RLock()
			ids := make([]string, 0, len(p.cfg.Inverters))
			for _, inv := range p.cfg.Inverters {
				ids = append(ids, inv.ID)
			}
			p.mu.RUnlock()
			for _, id := range ids {
				if err := p.Dispatcher.PollAndSync(ctx, id); err != nil {
					p.Channels.TrySendHealth(HealthEvent{Source: "inverter:" + id, Healthy: false, Err: err, At: p.Clock.Now()}, p.Logger)
				}
			}
		}
	}
}

// Snapshot is the read-only bundle the web surface serves.
type Snapshot struct {
	GeneratedAt        time.Time                  `json:"generated_at"`
	Schedule           schedule.OperationSchedule `json:"schedule"`
	Tally              schedule.Tally             `json:"tally"`
	Battery            battery.State              `json:"battery"`
	Telemetry          map[string]inverter.State  `json:"telemetry"`
	Health             map[string]HealthEvent     `json:"health"`
	Prices             []pricing.PriceBlock       `json:"prices"`
	PriceVersion       string                     `json:"price_version"`
	GridImportTodayKWh float64                    `json:"grid_import_today_kwh"`
	UserControl        usercontrol.State          `json:"user_control"`
	Dispatch           []dispatch.Status          `json:"dispatch"`
}

// Snapshot copies the planner's current world for concurrent readers.
func (p *Planner) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	telemetry := make(map[string]inverter.State, len(p.telemetry))
	for k, v := range p.telemetry {
		telemetry[k] = v
	}
	health := make(map[string]HealthEvent, len(p.health))
	for k, v := range p.health {
		health[k] = v
	}
	statuses := make([]dispatch.Status, 0, len(p.cfg.Inverters))
	for _, inv := range p.cfg.Inverters {
		statuses = append(statuses, p.Dispatcher.StatusFor(inv.ID))
	}

	return Snapshot{
		GeneratedAt:        p.current.GeneratedAt,
		Schedule:           p.current,
		Tally:              p.tally,
		Battery:            p.batteryState,
		Telemetry:          telemetry,
		Health:             health,
		Prices:             append([]pricing.PriceBlock(nil), p.prices...),
		PriceVersion:       p.priceVersion,
		GridImportTodayKWh: p.gridImportTodayKWh,
		UserControl:        p.UserControl.Snapshot(),
		Dispatch:           statuses,
	}
}

// Config returns the planner's current configuration.
func (p *Planner) Config() *config.Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

// Tick exposes a single loop iteration for tests.
func (p *Planner) Tick(now time.Time) {
	p.tick(now)
}
