package firebase_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ponytojas/go-plant-monitor/internal/breaker"
	"github.com/ponytojas/go-plant-monitor/internal/firebase"
)

const recordsBody = `{
  "-NxB": {"moisture": "45", "temperature": 22.5, "humidity": 60, "timestamp": 1717228860},
  "-NxA": {"soil_moisture": 28, "temperature": "21.0", "humidity": "58.5", "timestamp": 1717228800000},
  "-NxC": {"moisture": 80, "temperature": 23, "humidity": 61},
  "-NxD": "garbage"
}`

func newClient(t *testing.T, srv *httptest.Server, token string, brk *breaker.Breaker) *firebase.Client {
	t.Helper()
	c, err := firebase.NewClient(firebase.Config{
		URL:       srv.URL + "/",
		DeviceID:  "smart-plant-reminder",
		AuthToken: token,
		Timeout:   2 * time.Second,
	}, brk, zerolog.Nop())
	require.NoError(t, err)
	return c
}

func TestFetchRecords_DecodesAndSorts(t *testing.T) {
	var gotPath, gotOrder, gotLimit, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotOrder = r.URL.Query().Get("orderBy")
		gotLimit = r.URL.Query().Get("limitToLast")
		gotAuth = r.URL.Query().Get("auth")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(recordsBody))
	}))
	defer srv.Close()

	records, err := newClient(t, srv, "secret", nil).FetchRecords(context.Background(), 50)
	require.NoError(t, err)

	assert.Equal(t, "/smart-plant-reminder/records.json", gotPath)
	assert.Equal(t, `"$key"`, gotOrder)
	assert.Equal(t, "50", gotLimit)
	assert.Equal(t, "secret", gotAuth)

	require.Len(t, records, 2)
	assert.Equal(t, time.Unix(1717228800, 0).UTC(), records[0].Timestamp)
	assert.Equal(t, 28.0, records[0].Moisture)
	assert.Equal(t, 21.0, records[0].Temperature)
	assert.Equal(t, 58.5, records[0].Humidity)
	assert.Equal(t, 45.0, records[1].Moisture)
	assert.Equal(t, "smart-plant-reminder", records[1].DeviceID)
}

func TestFetchRecords_PathKeyOwnsRecords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"-Nx1": {"moisture": 25, "timestamp": 1717228800, "device_id": "esp32-garden"}}`))
	}))
	defer srv.Close()

	records, err := newClient(t, srv, "", nil).FetchRecords(context.Background(), 50)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "smart-plant-reminder", records[0].DeviceID)
}

func TestDecodeRecord_RejectsNonFiniteReadings(t *testing.T) {
	for _, moisture := range []interface{}{"NaN", "+Inf", "-inf", "wet", nil} {
		_, err := firebase.DecodeRecord(map[string]interface{}{
			"moisture":  moisture,
			"timestamp": float64(1717228800),
		}, "smart-plant-reminder")
		assert.Error(t, err, "moisture %v", moisture)
	}

	d, err := firebase.DecodeRecord(map[string]interface{}{
		"moisture":    "41",
		"temperature": "NaN",
		"timestamp":   float64(1717228800),
	}, "smart-plant-reminder")
	require.NoError(t, err)
	assert.Equal(t, 41.0, d.Moisture)
	assert.Equal(t, 0.0, d.Temperature)

	_, err = firebase.DecodeRecord(map[string]interface{}{"moisture": 41.0, "timestamp": "NaN"}, "d")
	assert.Error(t, err)
}

func TestFetchRecords_NullNodeIsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("null"))
	}))
	defer srv.Close()

	records, err := newClient(t, srv, "", nil).FetchRecords(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestFetchRecords_ArrayNode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[null, {"moisture": 33, "timestamp": "2024-06-01T08:00:00Z"}]`))
	}))
	defer srv.Close()

	records, err := newClient(t, srv, "", nil).FetchRecords(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 33.0, records[0].Moisture)
}

func TestFetchLatest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/smart-plant-reminder/latest.json" {
			_, _ = w.Write([]byte("null"))
			return
		}
		_, _ = w.Write([]byte(`{"moisture": 51, "temperature": 20, "humidity": 50, "timestamp": "2024-06-01 08:00:00"}`))
	}))
	defer srv.Close()

	d, err := newClient(t, srv, "", nil).FetchLatest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 51.0, d.Moisture)
	assert.Equal(t, time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC), d.Timestamp)
}

func TestFetchLatest_NoData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("null"))
	}))
	defer srv.Close()

	_, err := newClient(t, srv, "", nil).FetchLatest(context.Background())
	assert.ErrorIs(t, err, firebase.ErrNoData)
}

func TestFetchRecords_ErrorStatusOpensBreaker(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, `{"error":"Permission denied"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	brk := breaker.New("rtdb", breaker.Config{MaxFailures: 2, ResetTimeout: time.Minute}, zerolog.Nop(), nil)
	c := newClient(t, srv, "", brk)
	ctx := context.Background()

	_, err := c.FetchRecords(ctx, 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	_, err = c.FetchRecords(ctx, 10)
	require.Error(t, err)

	_, err = c.FetchRecords(ctx, 10)
	assert.ErrorIs(t, err, breaker.ErrOpen)
	assert.Equal(t, int32(2), hits.Load())
}

func TestNewClient_Validates(t *testing.T) {
	_, err := firebase.NewClient(firebase.Config{URL: "ftp://example.com", DeviceID: "d"}, nil, zerolog.Nop())
	assert.Error(t, err)
	_, err = firebase.NewClient(firebase.Config{URL: "https://example.com"}, nil, zerolog.Nop())
	assert.Error(t, err)
}
