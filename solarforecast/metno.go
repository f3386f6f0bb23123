package solarforecast

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// METNoSource is a WeatherSource backed by the MET Norway locationforecast
// compact endpoint. The service requires an identifying User-Agent.
type METNoSource struct {
	BaseURL    string
	UserAgent  string
	HTTPClient *http.Client
}

// NewMETNoSource builds a source with the production endpoint and a
// 30-second timeout.
func NewMETNoSource(userAgent string) *METNoSource {
	return &METNoSource{
		BaseURL:    "https://api.met.no/weatherapi/locationforecast/2.0",
		UserAgent:  userAgent,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// compactResponse decodes only the fields the estimator consumes out of
// the locationforecast document.
type compactResponse struct {
	Properties struct {
		Timeseries []struct {
			Time time.Time `json:"time"`
			Data struct {
				Instant struct {
					Details struct {
						CloudAreaFraction *float64 `json:"cloud_area_fraction"`
					} `json:"details"`
				} `json:"instant"`
				Next1Hours *struct {
					Summary struct {
						SymbolCode string `json:"symbol_code"`
					} `json:"summary"`
				} `json:"next_1_hours"`
			} `json:"data"`
		} `json:"timeseries"`
	} `json:"properties"`
}

// Forecast fetches the compact forecast for lat/lon and flattens it into
// WeatherSteps.
func (m *METNoSource) Forecast(ctx context.Context, lat, lon float64) ([]WeatherStep, error) {
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return nil, fmt.Errorf("solarforecast: coordinates out of range: %f,%f", lat, lon)
	}

	endpoint := fmt.Sprintf("%s/compact?lat=%s&lon=%s",
		m.BaseURL,
		url.QueryEscape(fmt.Sprintf("%.4f", lat)),
		url.QueryEscape(fmt.Sprintf("%.4f", lon)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("solarforecast: building request: %w", err)
	}
	req.Header.Set("User-Agent", m.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := m.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("solarforecast: fetching forecast: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNonAuthoritativeInfo {
		return nil, fmt.Errorf("solarforecast: forecast request returned %s", resp.Status)
	}

	var doc compactResponse
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("solarforecast: decoding forecast: %w", err)
	}

	steps := make([]WeatherStep, 0, len(doc.Properties.Timeseries))
	for _, ts := range doc.Properties.Timeseries {
		step := WeatherStep{
			Time:              ts.Time,
			CloudAreaFraction: ts.Data.Instant.Details.CloudAreaFraction,
		}
		if ts.Data.Next1Hours != nil {
			step.SymbolCode = ts.Data.Next1Hours.Summary.SymbolCode
		}
		steps = append(steps, step)
	}
	return steps, nil
}
