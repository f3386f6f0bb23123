package schedule

import (
	"github.com/kestrelhome/battplan/battery"
	"github.com/kestrelhome/battplan/forecast"
	"github.com/kestrelhome/battplan/pricing"
	"github.com/kestrelhome/battplan/strategy"
)

// FromPriceBlocks converts tariff-resolved price blocks into the strategy
// package's view of the horizon.
func FromPriceBlocks(prices []pricing.PriceBlock) []strategy.PriceBlock {
	out := make([]strategy.PriceBlock, 0, len(prices))
	for _, p := range prices {
		out = append(out, strategy.PriceBlock{
			BlockStart:           p.BlockStart,
			DurationMinutes:      p.DurationMinutes,
			SpotPricePerKWh:      p.SpotPricePerKWh,
			EffectivePricePerKWh: p.EffectivePricePerKWh,
		})
	}
	return out
}

// ToPriceBlocks converts effective-price records into the strategy
// package's narrower PriceBlock view.
func ToPriceBlocks(prices []pricing.EffectivePrice) []strategy.PriceBlock {
	out := make([]strategy.PriceBlock, 0, len(prices))
	for _, p := range prices {
		out = append(out, strategy.PriceBlock{
			BlockStart:           p.Start,
			DurationMinutes:      int(p.End.Sub(p.Start).Minutes()),
			SpotPricePerKWh:      0, // spot price isn't separately tracked post-fee; effective price is authoritative here
			EffectivePricePerKWh: p.ImportEURPerKWh,
		})
	}
	return out
}

// toSnapshot converts a battery.State into the read-only BatterySnapshot
// passed to strategies, carrying the live SOC/cost-basis the generator is
// tracking at this point in the pass.
func toSnapshot(b battery.State) strategy.BatterySnapshot {
	return strategy.BatterySnapshot{
		SOC:            b.SOC,
		CapacityKWh:    b.CapacityKWh,
		MaxChargeKW:    b.MaxChargeKW,
		MaxDischargeKW: b.MaxDischargeKW,
		MinSOC:         b.MinSOC,
		MaxSOC:         b.MaxSOC,
		Efficiency:     b.Efficiency,
		WearCostPerKWh: b.WearCostPerKWh,
	}
}

// Forecast bundles the per-block and horizon-aggregate forecast data the
// generator needs, index-aligned with the filtered price horizon.
type Forecast struct {
	Points                 []forecast.Point
	SolarRemainingTodayKWh float64
	SolarTomorrowKWh       float64
	HourlyProfile          *[24]float64
}

func (f Forecast) snapshotAt(i int) strategy.ForecastSnapshot {
	var solar, consumption float64
	if i < len(f.Points) {
		hours := 0.25
		solar = f.Points[i].SolarKW * hours
		consumption = f.Points[i].ConsumptionKW * hours
	}
	return strategy.ForecastSnapshot{
		SolarKWh:               solar,
		ConsumptionKWh:         consumption,
		SolarRemainingTodayKWh: f.SolarRemainingTodayKWh,
		SolarTomorrowKWh:       f.SolarTomorrowKWh,
		HourlyProfile:          f.HourlyProfile,
	}
}
