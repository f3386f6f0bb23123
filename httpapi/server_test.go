package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelhome/battplan/clock"
	"github.com/kestrelhome/battplan/config"
	"github.com/kestrelhome/battplan/dispatch"
	"github.com/kestrelhome/battplan/inverter"
	"github.com/kestrelhome/battplan/optimizer"
	"github.com/kestrelhome/battplan/planner"
	"github.com/kestrelhome/battplan/pricing"
	"github.com/kestrelhome/battplan/strategy"
	"github.com/kestrelhome/battplan/usercontrol"
)

type nullSource struct{}

func (nullSource) ReadState(ctx context.Context, inverterID string) (inverter.State, error) {
	return inverter.State{InverterID: inverterID}, nil
}
func (nullSource) WriteCommand(ctx context.Context, inverterID string, cmd inverter.Command) error {
	return nil
}
func (nullSource) HealthCheck(ctx context.Context) (bool, error) { return true, nil }
func (nullSource) LastCommandedSubMode(inverterID string) inverter.SubMode {
	return inverter.SubModeNone
}

func testServer(t *testing.T) (*Server, *planner.Planner) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Inverters = []config.InverterSection{{
		ID:                 "inv-1",
		Adapter:            "modbus",
		ModbusAddress:      "localhost:1502",
		BatteryCapacityKWh: 10,
		MaxChargeKW:        3,
		MaxDischargeKW:     3,
		MinSOC:             0.1,
		MaxSOC:             1.0,
		Efficiency:         0.9,
	}}
	cfg.Pricing.SecurityToken = "super-secret"

	registry := strategy.DefaultRegistry()
	p := planner.New(cfg, clock.New(time.UTC),
		registry, optimizer.New(registry, nil),
		dispatch.New(nullSource{}, nil),
		usercontrol.NewStore(""), nil)

	configPath := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, cfg.SaveConfig(configPath))

	s := New(p, configPath, 18080, nil)
	require.NotNil(t, s)
	return s, p
}

func doRequest(s *Server, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	s, _ := testServer(t)
	rec := doRequest(s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status"`)
}

func TestReadyReportsNoPrices(t *testing.T) {
	s, _ := testServer(t)
	rec := doRequest(s, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestReadyAfterPrices(t *testing.T) {
	s, p := testServer(t)
	now := time.Now().UTC().Truncate(15 * time.Minute)
	p.Channels.Prices <- planner.PricesUpdate{
		Blocks: []pricing.PriceBlock{{BlockStart: now, DurationMinutes: 15, EffectivePricePerKWh: 1}},
	}
	p.Tick(now)

	rec := doRequest(s, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestConfigGetIsRedacted(t *testing.T) {
	s, _ := testServer(t)
	rec := doRequest(s, http.MethodGet, "/api/config", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "super-secret")
}

func TestConfigPutMergesAndEmitsEvent(t *testing.T) {
	s, p := testServer(t)

	rec := doRequest(s, http.MethodPut, "/api/config", `{"control":{"max_gap_blocks":3}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	select {
	case ev := <-p.Channels.ConfigUpdates:
		assert.Contains(t, ev.ChangedSections, "control")
		assert.Equal(t, 3, ev.New.Control.MaxGapBlocks)
		// Deep-merge keeps untouched fields.
		assert.Equal(t, ev.Old.Control.MinConsecutiveForceBlocks, ev.New.Control.MinConsecutiveForceBlocks)
	default:
		t.Fatal("expected a config update event")
	}
}

func TestConfigPutRejectsInvalid(t *testing.T) {
	s, _ := testServer(t)
	rec := doRequest(s, http.MethodPut, "/api/config", `{"control":{"min_consecutive_force_blocks":0}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConfigResetSection(t *testing.T) {
	s, p := testServer(t)
	rec := doRequest(s, http.MethodPost, "/api/config/reset/control", "")
	require.Equal(t, http.StatusOK, rec.Code)

	select {
	case ev := <-p.Channels.ConfigUpdates:
		assert.Equal(t, []string{"control"}, ev.ChangedSections)
	default:
		t.Fatal("expected a config update event")
	}

	rec = doRequest(s, http.MethodPost, "/api/config/reset/nonsense", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUserControlSlotLifecycle(t *testing.T) {
	s, p := testServer(t)

	slot := map[string]interface{}{
		"id":    "slot-1",
		"start": "2026-01-10T10:00:00Z",
		"end":   "2026-01-10T12:00:00Z",
		"mode":  "BackUp",
		"note":  "outage expected",
	}
	body, _ := json.Marshal(slot)
	rec := doRequest(s, http.MethodPost, "/api/usercontrol/slots", string(body))
	require.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case ev := <-p.Channels.UserControlUpdates:
		require.NotNil(t, ev.UpsertSlot)
		assert.Equal(t, "slot-1", ev.UpsertSlot.ID)
		assert.Equal(t, strategy.BackUp, ev.UpsertSlot.Mode)
	default:
		t.Fatal("expected a user-control update event")
	}

	rec = doRequest(s, http.MethodDelete, "/api/usercontrol/slots/slot-1", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case ev := <-p.Channels.UserControlUpdates:
		assert.Equal(t, "slot-1", ev.RemoveSlotID)
	default:
		t.Fatal("expected a removal event")
	}
}

func TestUserControlSlotRejectsBadRange(t *testing.T) {
	s, _ := testServer(t)
	rec := doRequest(s, http.MethodPost, "/api/usercontrol/slots",
		`{"id":"x","start":"2026-01-10T12:00:00Z","end":"2026-01-10T10:00:00Z","mode":"BackUp"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBacktestEndpoint(t *testing.T) {
	s, _ := testServer(t)
	scenario := `{
		"name": "api-test",
		"export_price_per_kwh": 0.05,
		"battery": {"capacity_kwh": 10, "initial_soc": 0.2, "min_soc": 0.1, "max_soc": 1.0,
			"max_charge_kw": 3, "max_discharge_kw": 3, "efficiency": 0.9},
		"blocks": [
			{"start": "2026-01-10T00:00:00Z", "duration_minutes": 15, "spot_price": 1, "effective_price": 1, "consumption_kwh": 0.2},
			{"start": "2026-01-10T00:15:00Z", "duration_minutes": 15, "spot_price": 5, "effective_price": 5, "consumption_kwh": 0.2}
		]
	}`
	rec := doRequest(s, http.MethodPost, "/api/backtest", scenario)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"predicted_cost"`)
}
