package solarforecast

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	steps []WeatherStep
}

func (f fakeSource) Forecast(context.Context, float64, float64) ([]WeatherStep, error) {
	return f.steps, nil
}

func TestEstimateAtNightReturnsZero(t *testing.T) {
	// Riga, midnight in January: sun is down.
	target := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	est, err := NewEstimator(fakeSource{steps: []WeatherStep{{Time: target}}}, 56.9496, 24.1052, 10)
	require.NoError(t, err)

	power, err := est.EstimateAt(context.Background(), target, 0)
	require.NoError(t, err)
	assert.Equal(t, 0.0, power)
}

func TestEstimateAtSnowReturnsZero(t *testing.T) {
	target := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	cloud := 10.0
	est, err := NewEstimator(fakeSource{steps: []WeatherStep{
		{Time: target, SymbolCode: "snow", CloudAreaFraction: &cloud},
	}}, 56.9496, 24.1052, 10)
	require.NoError(t, err)

	power, err := est.EstimateAt(context.Background(), target, 5)
	require.NoError(t, err)
	assert.Equal(t, 0.0, power)
}

func TestEstimateAtMiddayClearSky(t *testing.T) {
	target := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	cloud := 0.0
	est, err := NewEstimator(fakeSource{steps: []WeatherStep{
		{Time: target, SymbolCode: "clearsky_day", CloudAreaFraction: &cloud},
	}}, 56.9496, 24.1052, 10)
	require.NoError(t, err)

	power, err := est.EstimateAt(context.Background(), target, 8)
	require.NoError(t, err)
	assert.Greater(t, power, 0.0)
	assert.LessOrEqual(t, power, 10.0)
}

func TestNewEstimatorValidatesCoordinates(t *testing.T) {
	_, err := NewEstimator(fakeSource{}, 200, 0, 1)
	assert.Error(t, err)
}
