// Command plannerd is the long-lived battery-planner daemon: it wires the
// planner loop, the I/O workers and the HTTP surface from one config file
// and runs until SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/kestrelhome/battplan/backtest"
	"github.com/kestrelhome/battplan/clock"
	"github.com/kestrelhome/battplan/config"
	"github.com/kestrelhome/battplan/dispatch"
	"github.com/kestrelhome/battplan/forecast"
	"github.com/kestrelhome/battplan/history"
	"github.com/kestrelhome/battplan/httpapi"
	"github.com/kestrelhome/battplan/inverter"
	"github.com/kestrelhome/battplan/inverter/modbusadapter"
	"github.com/kestrelhome/battplan/inverter/mqttadapter"
	"github.com/kestrelhome/battplan/optimizer"
	"github.com/kestrelhome/battplan/planner"
	"github.com/kestrelhome/battplan/pricing"
	"github.com/kestrelhome/battplan/pricing/dayahead"
	"github.com/kestrelhome/battplan/schedule"
	"github.com/kestrelhome/battplan/solarforecast"
	"github.com/kestrelhome/battplan/strategy"
	"github.com/kestrelhome/battplan/usercontrol"
)

func main() {
	var (
		configFile  = flag.String("config", "config.json", "Configuration file path")
		controlFile = flag.String("usercontrol", "usercontrol.json", "User-control state file path")
		port        = flag.Int("port", 8080, "HTTP API port (0 disables)")
		replay      = flag.String("backtest", "", "Run a scenario file through the generator once and exit")
	)
	flag.Parse()

	// Local secrets (API token, broker credentials) come from .env when
	// present; absence is not an error.
	_ = godotenv.Load()

	logger := log.New(os.Stdout, "[PLANNER] ", log.LstdFlags)

	if *replay != "" {
		if err := runBacktest(*replay, logger); err != nil {
			logger.Printf("backtest failed: %v", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error loading configuration:", err)
		os.Exit(1)
	}

	loc, err := time.LoadLocation(cfg.System.Location)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error loading time zone:", err)
		os.Exit(1)
	}
	clk := clock.New(loc)

	uc := usercontrol.NewStore(*controlFile)
	if err := uc.Load(); err != nil {
		logger.Printf("loading user-control state: %v (starting empty)", err)
	}

	source, err := buildSource(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error building inverter adapter:", err)
		os.Exit(1)
	}

	registry := strategy.DefaultRegistry()
	opt := optimizer.New(registry, logger)
	disp := dispatch.New(source, logger)
	disp.MinModeChangeInterval = cfg.Control.MinModeChangeInterval
	disp.BackoffBase = cfg.Control.DispatchBackoffBase
	disp.BackoffCap = cfg.Control.DispatchBackoffCap
	disp.PollInterval = cfg.Control.DispatchPollInterval

	p := planner.New(cfg, clk, registry, opt, disp, uc, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go runPriceFetcher(ctx, cfg, clk, p, logger)
	go runStateReader(ctx, cfg, source, p, logger)
	go runHistoryWorker(ctx, cfg, p, logger)
	go runSolarForecaster(ctx, cfg, clk, p, logger)

	api := httpapi.New(p, *configFile, *port, logger)
	go func() {
		if err := api.Start(ctx); err != nil {
			logger.Printf("http surface stopped: %v", err)
			cancel()
		}
	}()

	go func() {
		if err := p.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("planner stopped: %v", err)
		}
	}()

	logger.Printf("planner started (%d inverters, zone %s)", len(cfg.Inverters), cfg.System.Location)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Printf("shutdown signal received")
	cancel()
	time.Sleep(200 * time.Millisecond)
	logger.Printf("stopped")
}

// buildSource picks the vendor adapter for the configured inverters. All
// inverters currently share one adapter kind.
func buildSource(cfg *config.Config) (inverter.DataSource, error) {
	if len(cfg.Inverters) == 0 {
		return nil, fmt.Errorf("no inverters configured")
	}
	first := cfg.Inverters[0]
	switch first.Adapter {
	case "modbus", "":
		addresses := make(map[string]string, len(cfg.Inverters))
		for _, inv := range cfg.Inverters {
			addresses[inv.ID] = inv.ModbusAddress
		}
		return modbusadapter.New(func(id string) string { return addresses[id] }), nil
	case "mqtt":
		topics := make(map[string]mqttadapter.Topics, len(cfg.Inverters))
		for _, inv := range cfg.Inverters {
			topics[inv.ID] = mqttadapter.DefaultTopics(inv.ID)
		}
		adapter, err := mqttadapter.New(first.MQTTBroker, "battplan-"+first.ID, os.Getenv("MQTT_USERNAME"), os.Getenv("MQTT_PASSWORD"), topics)
		if err != nil {
			return nil, err
		}
		return adapter, nil
	default:
		return nil, fmt.Errorf("unknown inverter adapter %q", first.Adapter)
	}
}

// runPriceFetcher polls the day-ahead source and offers tariff-resolved
// blocks to the planner.
func runPriceFetcher(ctx context.Context, cfg *config.Config, clk *clock.Clock, p *planner.Planner, logger *log.Logger) {
	client := dayahead.NewClient(cfg.Pricing.URLFormat, cfg.Pricing.SecurityToken, cfg.Pricing.APITimeout)
	fees := pricing.TariffFees{
		LowFeePerKWh:     cfg.Pricing.ImportOperatorFee / 1000.0,
		HighFeePerKWh:    (cfg.Pricing.ImportOperatorFee + cfg.Pricing.ImportDeliveryFee) / 1000.0,
		SpotBuyFeePerKWh: cfg.Pricing.ImportDeliveryFee / 1000.0,
	}
	resolver := pricing.HDOSchedule{LowWindows: []pricing.TariffWindow{{Name: "night", StartHour: 22, EndHour: 6}}}

	interval := cfg.Pricing.CheckPriceInterval
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	fetch := func() {
		now := clk.Now()
		blocks, err := client.FetchBlocks(ctx, now.Truncate(24*time.Hour), now.Add(48*time.Hour))
		p.Channels.TrySendHealth(planner.HealthEvent{Source: "prices", Healthy: err == nil, Err: err, At: now}, logger)
		if err != nil {
			logger.Printf("price fetch failed: %v", err)
			return
		}
		resolved := pricing.BuildPriceBlocks(blocks, nil, resolver, fees, logger)
		p.Channels.TrySendPrices(planner.PricesUpdate{
			Blocks:    resolved,
			FetchedAt: now,
			Version:   now.Format(time.RFC3339),
		}, logger)
	}

	fetch()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fetch()
		}
	}
}

// runStateReader polls each inverter's telemetry once a minute.
func runStateReader(ctx context.Context, cfg *config.Config, source inverter.DataSource, p *planner.Planner, logger *log.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, inv := range cfg.Inverters {
				readCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
				state, err := source.ReadState(readCtx, inv.ID)
				cancel()
				if err != nil {
					p.Channels.TrySendHealth(planner.HealthEvent{Source: "inverter:" + inv.ID, Healthy: false, Err: err, At: time.Now()}, logger)
					continue
				}
				p.Channels.TrySendInverterState(state, logger)
			}
		}
	}
}

// runSolarForecaster refreshes the 24-hour solar production horizon once
// an hour from the weather forecast and the sun's position. Disabled when
// the site has no configured coordinates or PV.
func runSolarForecaster(ctx context.Context, cfg *config.Config, clk *clock.Clock, p *planner.Planner, logger *log.Logger) {
	sys := cfg.System
	if sys.PVPeakKW <= 0 || (sys.Latitude == 0 && sys.Longitude == 0) {
		return
	}
	estimator, err := solarforecast.NewEstimator(
		solarforecast.NewMETNoSource("battplan/1.0 github.com/kestrelhome/battplan"),
		sys.Latitude, sys.Longitude, sys.PVPeakKW)
	if err != nil {
		logger.Printf("solar forecaster unavailable: %v", err)
		return
	}

	refresh := func() {
		now := clk.Now()
		start := clock.BlockStart(now)
		fc := schedule.Forecast{Points: make([]forecast.Point, 0, 96)}
		var remainingToday, tomorrow float64
		for i := 0; i < 96; i++ {
			t := start.Add(time.Duration(i) * 15 * time.Minute)
			estCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			kw, err := estimator.EstimateAt(estCtx, t, 0)
			cancel()
			if err != nil {
				p.Channels.TrySendHealth(planner.HealthEvent{Source: "solarforecast", Healthy: false, Err: err, At: now}, logger)
				logger.Printf("solar forecast failed: %v", err)
				return
			}
			fc.Points = append(fc.Points, forecast.Point{Start: t, SolarKW: kw})
			kwh := kw * 0.25
			if t.YearDay() == now.YearDay() {
				remainingToday += kwh
			} else {
				tomorrow += kwh
			}
		}
		fc.SolarRemainingTodayKWh = remainingToday
		fc.SolarTomorrowKWh = tomorrow
		p.Channels.TrySendForecast(fc, logger)
		p.Channels.TrySendHealth(planner.HealthEvent{Source: "solarforecast", Healthy: true, At: now}, logger)
	}

	refresh()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refresh()
		}
	}
}

// runHistoryWorker persists 5-minute telemetry samples to Postgres and
// reloads the recent window hourly so the planner can refresh its hourly
// consumption profile. Disabled when no connection string is configured.
func runHistoryWorker(ctx context.Context, cfg *config.Config, p *planner.Planner, logger *log.Logger) {
	if cfg.PostgresConnString == "" {
		return
	}
	store, err := history.Open(cfg.PostgresConnString)
	if err != nil {
		logger.Printf("history store unavailable: %v", err)
		return
	}
	defer store.Close()

	samples := &history.Samples{}
	sampleTicker := time.NewTicker(5 * time.Minute)
	reloadTicker := time.NewTicker(time.Hour)
	defer sampleTicker.Stop()
	defer reloadTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sampleTicker.C:
			snap := p.Snapshot()
			for _, st := range snap.Telemetry {
				samples.Add(history.Record{
					Timestamp:    st.ReadAt,
					SOCPercent:   st.SOCPercent,
					PVWatts:      st.PVPowerKW * 1000,
					BatteryWatts: st.BatteryPowerKW * 1000,
					GridWatts:    st.GridPowerKW * 1000,
					LoadWatts:    st.LoadPowerKW * 1000,
				})
			}
			pending := samples.DrainBefore(time.Now())
			if len(pending) == 0 {
				continue
			}
			saveCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			if err := store.SaveRecords(saveCtx, pending); err != nil {
				logger.Printf("persisting history records: %v", err)
			}
			cancel()
		case <-reloadTicker.C:
			loadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			records, err := store.LoadRecordsSince(loadCtx, time.Now().Add(-7*24*time.Hour))
			cancel()
			p.Channels.TrySendHealth(planner.HealthEvent{Source: "history", Healthy: err == nil, Err: err, At: time.Now()}, logger)
			if err != nil {
				logger.Printf("loading history records: %v", err)
				continue
			}
			p.Channels.TrySendConsumptionHistory(planner.ConsumptionHistoryUpdate{Records: records}, logger)
		}
	}
}

func runBacktest(path string, logger *log.Logger) error {
	scenario, err := backtest.LoadScenario(path)
	if err != nil {
		return err
	}
	result, err := backtest.Run(scenario, strategy.DefaultRegistry(), logger)
	if err != nil {
		return err
	}
	fmt.Printf("Scenario: %s\n", result.Scenario)
	fmt.Printf("Blocks: %d (charge=%d discharge=%d selfuse=%d backup=%d)\n",
		len(result.Blocks), result.Tally.ForceCharge, result.Tally.ForceDischarge, result.Tally.SelfUse, result.Tally.BackUp)
	fmt.Printf("Predicted cost: %.2f\n", result.PredictedCost)
	fmt.Printf("No-battery cost: %.2f\n", result.NoBatteryCost)
	fmt.Printf("Predicted savings: %.2f\n", result.PredictedSavings)
	if result.RealizedCost != nil {
		fmt.Printf("Realized cost: %.2f\n", *result.RealizedCost)
	}
	fmt.Printf("Final SOC: %.0f%%\n", result.FinalSOC*100)
	return nil
}
