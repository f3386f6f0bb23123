package pricing

import (
	"log"
	"sort"
	"time"
)

// Window is the distribution-fee tariff window an instant falls into. The
// distributor publishes a switching plan (HDO) that alternates between a
// low and a high fee during the day.
type Window string

const (
	WindowLow     Window = "low"
	WindowHigh    Window = "high"
	WindowUnknown Window = ""
)

// WindowResolver answers which tariff window contains an instant. The
// second return is false when the resolver has no data for that instant
// (e.g. the switching plan hasn't been published that far ahead).
type WindowResolver interface {
	WindowAt(t time.Time) (Window, bool)
}

// HDOSchedule is a WindowResolver backed by recurring time-of-day windows:
// hours inside any LowWindows entry are low-tariff, everything else high.
type HDOSchedule struct {
	LowWindows []TariffWindow
}

// WindowAt resolves t's local hour against the low windows.
func (h HDOSchedule) WindowAt(t time.Time) (Window, bool) {
	hour := t.Hour()
	for _, w := range h.LowWindows {
		if w.Contains(hour) {
			return WindowLow, true
		}
	}
	return WindowHigh, true
}

// TariffFees holds the per-kWh distribution fee for each window plus the
// fallback applied when the window for an instant is unknown.
type TariffFees struct {
	LowFeePerKWh     float64 `json:"low_fee_per_kwh"`
	HighFeePerKWh    float64 `json:"high_fee_per_kwh"`
	SpotBuyFeePerKWh float64 `json:"spot_buy_fee_per_kwh"`
}

// Fee returns the distribution fee for w, or the spot-buy fallback for an
// unknown window.
func (f TariffFees) Fee(w Window) float64 {
	switch w {
	case WindowLow:
		return f.LowFeePerKWh
	case WindowHigh:
		return f.HighFeePerKWh
	default:
		return f.SpotBuyFeePerKWh
	}
}

// PriceBlock is one 15-minute priced interval with the distribution fee
// already folded in: EffectivePricePerKWh = SpotPricePerKWh + fee(window).
// JSON tags keep the block round-trippable for persistence and the web
// surface.
type PriceBlock struct {
	BlockStart           time.Time `json:"block_start"`
	DurationMinutes      int       `json:"duration_minutes"`
	SpotPricePerKWh      float64   `json:"spot_price"`
	EffectivePricePerKWh float64   `json:"effective_price"`
}

// BuildPriceBlocks merges the today and tomorrow publications (either may
// be empty), resolves each block's tariff window and produces PriceBlocks
// with the fee folded in. Duplicate block starts indicate an upstream bug:
// the last-written wins and the duplicate is logged. Unknown windows fall
// back to fees.SpotBuyFeePerKWh with one warning per contiguous gap.
// Negative spot prices pass through untouched. Past blocks are not
// filtered here; that happens at schedule-generation time.
func BuildPriceBlocks(today, tomorrow []Block, resolver WindowResolver, fees TariffFees, logger *log.Logger) []PriceBlock {
	if logger == nil {
		logger = log.Default()
	}

	merged := make([]Block, 0, len(today)+len(tomorrow))
	merged = append(merged, today...)
	merged = append(merged, tomorrow...)
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Start.Before(merged[j].Start) })

	// Last-written wins on duplicate starts. SliceStable preserved append
	// order among equals, so the final occurrence is the survivor.
	deduped := merged[:0]
	for i, b := range merged {
		if i+1 < len(merged) && merged[i+1].Start.Equal(b.Start) {
			logger.Printf("pricing: duplicate block start %s, keeping last-written", b.Start)
			continue
		}
		deduped = append(deduped, b)
	}

	out := make([]PriceBlock, 0, len(deduped))
	inGap := false
	for _, b := range deduped {
		spotPerKWh := b.SpotEURMWh / 1000.0
		window, ok := resolver.WindowAt(b.Start)
		if !ok {
			if !inGap {
				logger.Printf("pricing: tariff window unknown from %s, using spot-buy fallback fee", b.Start)
				inGap = true
			}
			window = WindowUnknown
		} else {
			inGap = false
		}

		out = append(out, PriceBlock{
			BlockStart:           b.Start,
			DurationMinutes:      int(b.End.Sub(b.Start).Minutes()),
			SpotPricePerKWh:      spotPerKWh,
			EffectivePricePerKWh: spotPerKWh + fees.Fee(window),
		})
	}
	return out
}

// AverageEffectivePrice returns the mean effective price across blocks, 0
// when empty. Used to seed the battery cost basis.
func AverageEffectivePrice(blocks []PriceBlock) float64 {
	if len(blocks) == 0 {
		return 0
	}
	var sum float64
	for _, b := range blocks {
		sum += b.EffectivePricePerKWh
	}
	return sum / float64(len(blocks))
}
