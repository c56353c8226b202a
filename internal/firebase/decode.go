package firebase

import (
	"errors"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ponytojas/go-plant-monitor/internal/models"
)

var (
	errNoTimestamp = errors.New("record has no usable timestamp")
	errNoMoisture  = errors.New("record has no usable moisture reading")
)

var (
	moistureKeys    = []string{"moisture", "soil_moisture", "soilMoisture"}
	temperatureKeys = []string{"temperature", "temp"}
	humidityKeys    = []string{"humidity", "hum"}
	timestampKeys   = []string{"timestamp", "time", "ts"}
)

// millisCutoff separates unix seconds from unix milliseconds.
const millisCutoff = 1e11

// DecodeRecords turns an RTDB node into samples sorted by timestamp. The node
// is either an object keyed by push id or, for integer keys, an array.
// Records without a timestamp are skipped.
func DecodeRecords(raw interface{}, device string, logger zerolog.Logger) []models.SensorData {
	var entries []interface{}
	switch v := raw.(type) {
	case nil:
		return nil
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			entries = append(entries, v[k])
		}
	case []interface{}:
		entries = v
	default:
		logger.Warn().Msg("Unexpected records node shape, ignoring")
		return nil
	}

	out := make([]models.SensorData, 0, len(entries))
	for _, e := range entries {
		rec, ok := e.(map[string]interface{})
		if !ok {
			continue
		}
		d, err := DecodeRecord(rec, device)
		if err != nil {
			logger.Debug().Err(err).Msg("Skipping record")
			continue
		}
		out = append(out, d)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// DecodeRecord reads one record. Readings may be numbers or numeric strings;
// a record without a finite moisture reading is rejected.
// The record belongs to the device whose path it was read from; a device_id
// field inside the payload is ignored.
func DecodeRecord(rec map[string]interface{}, device string) (models.SensorData, error) {
	ts, ok := parseTimestamp(first(rec, timestampKeys))
	if !ok {
		return models.SensorData{}, errNoTimestamp
	}
	moisture, ok := getFloat64Value(first(rec, moistureKeys))
	if !ok {
		return models.SensorData{}, errNoMoisture
	}
	d := models.SensorData{Timestamp: ts, Moisture: moisture, DeviceID: device}
	d.Temperature, _ = getFloat64Value(first(rec, temperatureKeys))
	d.Humidity, _ = getFloat64Value(first(rec, humidityKeys))
	return d, nil
}

func first(rec map[string]interface{}, keys []string) interface{} {
	for _, k := range keys {
		if v, ok := rec[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

// getFloat64Value accepts finite numbers only.
func getFloat64Value(val interface{}) (float64, bool) {
	var f float64
	switch v := val.(type) {
	case float64:
		f = v
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func parseTimestamp(val interface{}) (time.Time, bool) {
	if f, ok := getFloat64Value(val); ok {
		if f <= 0 {
			return time.Time{}, false
		}
		if f >= millisCutoff {
			return time.UnixMilli(int64(f)).UTC(), true
		}
		sec, frac := math.Modf(f)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC(), true
	}
	s, ok := val.(string)
	if !ok {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
