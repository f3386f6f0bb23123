// Package pricing holds day-ahead price blocks, tariff windows and the
// effective-price computation that folds operator/delivery fees into the
// raw spot price.
package pricing

import (
	"context"
	"fmt"
	"time"
)

// Block is one priced interval on the horizon, raw spot price before fees.
type Block struct {
	Start      time.Time
	End        time.Time
	SpotEURMWh float64
}

// Duration returns the block length.
func (b Block) Duration() time.Duration {
	return b.End.Sub(b.Start)
}

// Fees are the flat operator/delivery adjustments layered on top of the
// raw spot price, independent of the tariff window.
type Fees struct {
	ImportOperatorEURMWh float64
	ImportDeliveryEURMWh float64
	ExportOperatorEURMWh float64
}

// EffectivePrice is the per-kWh currency cost/revenue of a block once fees
// are applied.
type EffectivePrice struct {
	Start           time.Time
	End             time.Time
	ImportEURPerKWh float64
	ExportEURPerKWh float64
}

// TariffWindow marks a recurring time-of-day window (e.g. "high demand
// charge", "night valley") that strategies may treat specially regardless of
// spot price.
type TariffWindow struct {
	Name      string
	StartHour int // 0-23, inclusive
	EndHour   int // 0-23, exclusive; EndHour < StartHour wraps past midnight, EndHour == StartHour is empty
}

// Contains reports whether hour (0-23) falls inside the window.
func (w TariffWindow) Contains(hour int) bool {
	if w.StartHour == w.EndHour {
		return false
	}
	if w.StartHour < w.EndHour {
		return hour >= w.StartHour && hour < w.EndHour
	}
	return hour >= w.StartHour || hour < w.EndHour
}

// TariffSchedule is the set of recurring windows in effect.
type TariffSchedule struct {
	Windows []TariffWindow
}

// ActiveWindows returns the names of all windows containing t's local hour.
func (s TariffSchedule) ActiveWindows(t time.Time) []string {
	var names []string
	hour := t.Hour()
	for _, w := range s.Windows {
		if w.Contains(hour) {
			names = append(names, w.Name)
		}
	}
	return names
}

// Source is the narrow contract the planner depends on for spot prices;
// adapters (e.g. pricing/dayahead) implement it against a concrete API.
type Source interface {
	FetchBlocks(ctx context.Context, from, to time.Time) ([]Block, error)
}

// ComputeEffectivePrices converts raw spot blocks to currency/kWh import
// and export prices by applying Fees (EUR/MWh additions/subtractions, then
// /1000 to EUR/kWh).
func ComputeEffectivePrices(blocks []Block, fees Fees) ([]EffectivePrice, error) {
	out := make([]EffectivePrice, 0, len(blocks))
	for _, b := range blocks {
		if !b.End.After(b.Start) {
			return nil, fmt.Errorf("pricing: block end %s must be after start %s", b.End, b.Start)
		}
		importEURMWh := b.SpotEURMWh + fees.ImportOperatorEURMWh + fees.ImportDeliveryEURMWh
		exportEURMWh := b.SpotEURMWh - fees.ExportOperatorEURMWh

		out = append(out, EffectivePrice{
			Start:           b.Start,
			End:             b.End,
			ImportEURPerKWh: importEURMWh / 1000.0,
			ExportEURPerKWh: exportEURMWh / 1000.0,
		})
	}
	return out, nil
}
