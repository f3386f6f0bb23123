// Package solarforecast estimates expected PV output from a weather
// forecast (cloud cover, weather symbol) and the sun's position.
package solarforecast

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sixdouglas/suncalc"
)

// WeatherStep is one timestep of a weather forecast, the fields this
// package needs out of whatever provider-specific response shape the
// caller's WeatherSource decodes.
type WeatherStep struct {
	Time              time.Time
	CloudAreaFraction *float64 // percent, 0-100
	SymbolCode        string   // e.g. "clearsky_day", "snow"
}

// HasSnow reports whether the forecast symbol indicates snowfall or snow
// cover; panels under snow produce nothing regardless of irradiance.
func (w WeatherStep) HasSnow() bool {
	switch w.SymbolCode {
	case "snow", "snowshowers_day", "snowshowers_night", "snowshowersandthunder_day",
		"snowshowersandthunder_night", "sleet", "sleetshowers_day", "sleetshowers_night",
		"heavysnow", "lightsnow":
		return true
	default:
		return false
	}
}

// WeatherSource fetches a forecast; provider-specific decoding happens
// behind the interface, with METNoSource as the shipped implementation.
type WeatherSource interface {
	Forecast(ctx context.Context, lat, lon float64) ([]WeatherStep, error)
}

// Estimator produces solar power estimates for a location and panel peak
// power using a WeatherSource.
type Estimator struct {
	Source    WeatherSource
	Latitude  float64
	Longitude float64
	PeakKW    float64
}

// NewEstimator validates the coordinates and peak power up front.
func NewEstimator(source WeatherSource, lat, lon, peakKW float64) (*Estimator, error) {
	if lat < -90 || lat > 90 {
		return nil, fmt.Errorf("solarforecast: latitude must be -90..90, got %f", lat)
	}
	if lon < -180 || lon > 180 {
		return nil, fmt.Errorf("solarforecast: longitude must be -180..180, got %f", lon)
	}
	if peakKW < 0 {
		return nil, fmt.Errorf("solarforecast: peak power must be non-negative, got %f", peakKW)
	}
	return &Estimator{Source: source, Latitude: lat, Longitude: lon, PeakKW: peakKW}, nil
}

// EstimateAt returns the estimated solar power in kW at targetTime, given
// the freshest weather forecast and the instantaneously-measured current
// PV power (used only for the snow-cover heuristic below).
func (e *Estimator) EstimateAt(ctx context.Context, targetTime time.Time, currentPVKW float64) (float64, error) {
	steps, err := e.Source.Forecast(ctx, e.Latitude, e.Longitude)
	if err != nil {
		return 0, fmt.Errorf("solarforecast: fetching weather: %w", err)
	}
	if len(steps) == 0 {
		return 0, nil
	}

	closest := closestStep(steps, targetTime)

	sunTimes := suncalc.GetTimes(targetTime, e.Latitude, e.Longitude)
	sunrise := sunTimes["sunrise"].Value
	sunset := sunTimes["sunset"].Value
	if targetTime.Before(sunrise) || targetTime.After(sunset) {
		return 0, nil
	}

	pos := suncalc.GetPosition(targetTime, e.Latitude, e.Longitude)
	angleFactor := math.Sin(pos.Altitude)
	if angleFactor < 0 {
		return 0, nil
	}

	if closest.HasSnow() {
		return 0, nil
	}

	expected := e.PeakKW * angleFactor * 0.5 // rough estimate assuming some cloud cover
	if currentPVKW < 0.1 && expected > 1.0 && time.Until(targetTime).Hours() < 1 {
		// Measured output is essentially zero even though the sun angle and
		// forecast both expect meaningful output; treat as snow-covered panels.
		return 0, nil
	}

	cloudFactor := 1.0
	if closest.CloudAreaFraction != nil {
		cloudFraction := *closest.CloudAreaFraction / 100.0
		cloudFactor = 1.0 - cloudFraction*0.90
	}

	return e.PeakKW * angleFactor * cloudFactor, nil
}

func closestStep(steps []WeatherStep, target time.Time) WeatherStep {
	best := steps[0]
	bestDiff := absDuration(best.Time.Sub(target))
	for _, s := range steps[1:] {
		d := absDuration(s.Time.Sub(target))
		if d < bestDiff {
			best, bestDiff = s, d
		}
	}
	return best
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
