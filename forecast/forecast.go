// Package forecast holds the consumption and solar forecast data used by
// the scheduler, plus the hourly-profile EMA that turns historical samples
// into a consumption forecast baseline.
package forecast

import (
	"fmt"
	"time"
)

// Point is a single forecast value for one 15-minute block.
type Point struct {
	Start         time.Time
	ConsumptionKW float64
	SolarKW       float64
}

// Data is the forecast horizon handed to the schedule generator.
type Data struct {
	Points []Point
}

// At returns the point covering t, or false if the horizon doesn't cover it.
func (d Data) At(t time.Time) (Point, bool) {
	for _, p := range d.Points {
		if !t.Before(p.Start) && t.Before(p.Start.Add(15*time.Minute)) {
			return p, true
		}
	}
	return Point{}, false
}

// HourlyProfile is an exponential moving average of consumption per
// hour-of-day, updated by history as new samples arrive.
type HourlyProfile struct {
	Alpha       float64 // smoothing factor, 0-1; higher weighs recent samples more
	AvgKWByHour [24]float64
	seeded      [24]bool
}

// NewHourlyProfile returns a profile with the given smoothing factor.
func NewHourlyProfile(alpha float64) (*HourlyProfile, error) {
	if alpha <= 0 || alpha > 1 {
		return nil, fmt.Errorf("forecast: alpha must be in (0,1], got %f", alpha)
	}
	return &HourlyProfile{Alpha: alpha}, nil
}

// Update folds a new consumption sample for hour into the EMA.
func (p *HourlyProfile) Update(hour int, consumptionKW float64) error {
	if hour < 0 || hour > 23 {
		return fmt.Errorf("forecast: hour must be 0-23, got %d", hour)
	}
	if !p.seeded[hour] {
		p.AvgKWByHour[hour] = consumptionKW
		p.seeded[hour] = true
		return nil
	}
	p.AvgKWByHour[hour] = p.Alpha*consumptionKW + (1-p.Alpha)*p.AvgKWByHour[hour]
	return nil
}

// Estimate returns the EMA-smoothed consumption for hour, or 0 if unseeded.
func (p *HourlyProfile) Estimate(hour int) float64 {
	if hour < 0 || hour > 23 {
		return 0
	}
	return p.AvgKWByHour[hour]
}

// BuildFromProfile synthesizes a Data horizon from a consumption profile and
// a separately-sourced solar forecast (e.g. solarforecast.Estimate), one
// point per 15-minute block from start for the given number of blocks.
func BuildFromProfile(profile *HourlyProfile, solar []float64, start time.Time, blocks int) Data {
	points := make([]Point, 0, blocks)
	for i := 0; i < blocks; i++ {
		t := start.Add(time.Duration(i) * 15 * time.Minute)
		var solarKW float64
		if i < len(solar) {
			solarKW = solar[i]
		}
		points = append(points, Point{
			Start:         t,
			ConsumptionKW: profile.Estimate(t.Hour()),
			SolarKW:       solarKW,
		})
	}
	return Data{Points: points}
}
