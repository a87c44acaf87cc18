package adminapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grimm-is/icsrange/internal/clock"
	"github.com/grimm-is/icsrange/internal/fabric"
	"github.com/grimm-is/icsrange/internal/netgate"
	"github.com/grimm-is/icsrange/internal/telemetry"
)

type fakeEvents struct{ events []fabric.Event }

func (f fakeEvents) Events() []fabric.Event { return f.events }

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	clk, err := clock.New(clock.Stepped, 1)
	require.NoError(t, err)
	fab := fabric.New(clk)
	require.NoError(t, fab.Register("plc_1", fabric.KindPLC, 1, []string{"modbus"}, nil))

	gate := netgate.New("corporate_network", 16)
	tele := telemetry.NewCollector()
	events := fakeEvents{events: []fabric.Event{{Type: fabric.DeviceRegistered, Device: "plc_1"}}}

	srv := New("127.0.0.1:0", clk, fab, gate, tele, events, nil)
	ts := httptest.NewServer(srv.router)
	t.Cleanup(ts.Close)
	return ts
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "ok", body["status"])
}

func TestSummary(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/summary")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.EqualValues(t, 1, body["devices_total"])
	require.EqualValues(t, 1, body["devices_online"])
	require.Equal(t, "Stepped", body["clock_mode"])
}

func TestDevices(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/devices")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body, 1)
	require.Equal(t, "plc_1", body[0]["Name"])
	require.Equal(t, "PLC", body[0]["Kind"])
}

func TestEvents(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body, 1)
	require.Equal(t, "DeviceRegistered", body[0]["Type"])
}

func TestDenied(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/denied")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body, 0)
}

func TestMetricsEndpointExposesRegisteredSeries(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
