package api

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ponytojas/go-plant-monitor/internal/dashboard"
	"github.com/ponytojas/go-plant-monitor/internal/metrics"
	"github.com/ponytojas/go-plant-monitor/internal/models"
)

var base = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

type fakeRefresher struct{ calls atomic.Int32 }

func (f *fakeRefresher) Trigger() bool {
	return f.calls.Add(1) == 1
}

func newTestServer(t *testing.T) (*Server, *dashboard.State, *httptest.Server) {
	t.Helper()
	state, err := dashboard.New(dashboard.DefaultConfig(), zerolog.Nop(),
		dashboard.WithClock(func() time.Time { return base.Add(30 * time.Minute) }))
	require.NoError(t, err)

	s := NewServer(state, &fakeRefresher{}, metrics.NewMetrics(), zerolog.Nop())
	s.now = func() time.Time { return base.Add(30 * time.Minute) }
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		state.Close()
	})
	return s, state, ts
}

// minutely ingests one sample per minute starting at base.
func minutely(state *dashboard.State, n int) {
	samples := make([]models.SensorData, n)
	for i := range samples {
		samples[i] = models.SensorData{
			Timestamp:   base.Add(time.Duration(i) * time.Minute),
			Moisture:    float64(10 + i),
			Temperature: 21,
			Humidity:    45,
		}
	}
	state.Ingest(samples...)
}

func do(t *testing.T, method, url, body string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestHealth(t *testing.T) {
	_, _, ts := newTestServer(t)
	resp, body := do(t, http.MethodGet, ts.URL+"/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestStatus(t *testing.T) {
	_, state, ts := newTestServer(t)

	resp, body := do(t, http.MethodGet, ts.URL+"/api/v1/status", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.NotEmpty(t, body["error"])

	minutely(state, 25)
	resp, body = do(t, http.MethodGet, ts.URL+"/api/v1/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "smart-plant-reminder", body["device_id"])
	assert.Equal(t, "OK", body["status"])
	assert.Equal(t, float64(60), body["countdown"])
	assert.Equal(t, float64(25), body["records"])
	assert.Equal(t, "now", body["last_update_ago"])
	gauge := body["gauge"].(map[string]interface{})
	assert.Equal(t, float64(34), gauge["moisture"])
	assert.Equal(t, "OK", gauge["band"])
}

func TestRecords(t *testing.T) {
	_, state, ts := newTestServer(t)
	minutely(state, 60)

	_, body := do(t, http.MethodGet, ts.URL+"/api/v1/records/recent", "")
	assert.Equal(t, float64(10), body["count"])
	_, body = do(t, http.MethodGet, ts.URL+"/api/v1/records/past", "")
	assert.Equal(t, float64(50), body["count"])
	_, body = do(t, http.MethodGet, ts.URL+"/api/v1/records/history", "")
	assert.Equal(t, float64(60), body["count"])

	_, body = do(t, http.MethodGet, ts.URL+"/api/v1/records/history?since="+base.Add(55*time.Minute).Format(time.RFC3339), "")
	assert.Equal(t, float64(5), body["count"])

	resp, _ := do(t, http.MethodGet, ts.URL+"/api/v1/records/history?since=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = do(t, http.MethodGet, ts.URL+"/api/v1/records/everything", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRecords_EmptyIsArray(t *testing.T) {
	_, _, ts := newTestServer(t)
	resp, body := do(t, http.MethodGet, ts.URL+"/api/v1/records/recent", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []interface{}{}, body["records"])
}

func TestChart(t *testing.T) {
	_, state, ts := newTestServer(t)
	minutely(state, 30)

	resp, body := do(t, http.MethodGet, ts.URL+"/api/v1/charts/moisture", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(10), body["minutes"])
	points := body["points"].([]interface{})
	require.Len(t, points, 10)
	assert.Equal(t, float64(30), points[0].(map[string]interface{})["value"])

	resp, _ = do(t, http.MethodGet, ts.URL+"/api/v1/charts/light", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPutChartRange(t *testing.T) {
	_, state, ts := newTestServer(t)
	minutely(state, 30)

	resp, body := do(t, http.MethodPut, ts.URL+"/api/v1/charts/temperature/range", `{"minutes": 20}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(20), body["minutes"])
	assert.Len(t, body["points"], 20)

	minutes, err := state.ChartRange(models.MetricTemperature)
	require.NoError(t, err)
	assert.Equal(t, 20, minutes)

	for _, payload := range []string{`{"minutes": 0}`, `{"minutes": 10081}`, `{}`, `nope`} {
		resp, body := do(t, http.MethodPut, ts.URL+"/api/v1/charts/temperature/range", payload)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, payload)
		assert.NotEmpty(t, body["error"])
	}
	resp, _ = do(t, http.MethodPut, ts.URL+"/api/v1/charts/light/range", `{"minutes": 5}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListCharts(t *testing.T) {
	_, _, ts := newTestServer(t)
	_, body := do(t, http.MethodGet, ts.URL+"/api/v1/charts", "")
	assert.Equal(t, map[string]interface{}{
		"moisture": float64(10), "temperature": float64(10), "humidity": float64(10),
	}, body)
}

func TestClassify(t *testing.T) {
	_, _, ts := newTestServer(t)
	cases := map[string]string{
		"0": "NEED_WATER", "30": "NEED_WATER", "31": "OK", "50": "OK",
		"51": "MOIST", "70": "MOIST", "71": "TOO WET", "100": "TOO WET",
	}
	for in, want := range cases {
		resp, body := do(t, http.MethodGet, ts.URL+"/api/v1/classify?moisture="+in, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, want, body["status"], in)
	}
	for _, bad := range []string{"", "wet", "NaN"} {
		resp, _ := do(t, http.MethodGet, ts.URL+"/api/v1/classify?moisture="+bad, "")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, bad)
	}
}

func TestRefresh(t *testing.T) {
	s, _, ts := newTestServer(t)
	resp, body := do(t, http.MethodPost, ts.URL+"/api/v1/refresh", "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, true, body["queued"])
	_, body = do(t, http.MethodPost, ts.URL+"/api/v1/refresh", "")
	assert.Equal(t, false, body["queued"])
	assert.Equal(t, int32(2), s.refresher.(*fakeRefresher).calls.Load())

	resp, _ = do(t, http.MethodGet, ts.URL+"/api/v1/refresh", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestRefresh_Unavailable(t *testing.T) {
	state, err := dashboard.New(dashboard.DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)
	defer state.Close()
	ts := httptest.NewServer(NewServer(state, nil, nil, zerolog.Nop()).Handler())
	defer ts.Close()

	resp, _ := do(t, http.MethodPost, ts.URL+"/api/v1/refresh", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	_, _, ts := newTestServer(t)
	do(t, http.MethodGet, ts.URL+"/healthz", "")

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	buf := new(bytes.Buffer)
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `http_requests_total{route="/healthz",status="200"} 1`)
}

func TestMetricsCountsUnmatchedRequests(t *testing.T) {
	_, _, ts := newTestServer(t)
	resp, _ := do(t, http.MethodGet, ts.URL+"/nowhere", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = do(t, http.MethodDelete, ts.URL+"/healthz", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	buf := new(bytes.Buffer)
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `http_requests_total{route="unmatched",status="404"} 1`)
	assert.Contains(t, buf.String(), `http_requests_total{route="unmatched",status="405"} 1`)
}

func TestWebsocketPushesUpdates(t *testing.T) {
	_, state, ts := newTestServer(t)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var doc statusDocument
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&doc))
	assert.Nil(t, doc.Gauge)
	assert.Equal(t, 0, doc.Records)

	state.Ingest(models.SensorData{Timestamp: base, Moisture: 12})
	require.NoError(t, conn.ReadJSON(&doc))
	require.NotNil(t, doc.Gauge)
	assert.Equal(t, 12.0, doc.Gauge.Moisture)
	require.NotNil(t, doc.Status)
	assert.Equal(t, "NEED_WATER", doc.Status.String())
	assert.Equal(t, 1, doc.Records)
}
