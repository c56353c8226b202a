package models

import (
	"fmt"
	"time"
)

// SensorData is one telemetry reading from the monitored device.
type SensorData struct {
	Timestamp   time.Time `json:"timestamp"`
	Moisture    float64   `json:"moisture"`
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	DeviceID    string    `json:"device_id"`
}

// Metric names a charted telemetry channel.
type Metric string

const (
	MetricMoisture    Metric = "moisture"
	MetricTemperature Metric = "temperature"
	MetricHumidity    Metric = "humidity"
)

// Metrics lists every charted metric in display order.
var Metrics = []Metric{MetricMoisture, MetricTemperature, MetricHumidity}

// ParseMetric maps a metric name onto a known Metric.
func ParseMetric(s string) (Metric, bool) {
	for _, m := range Metrics {
		if string(m) == s {
			return m, true
		}
	}
	return "", false
}

// Value returns the reading for the given metric.
func (d SensorData) Value(m Metric) float64 {
	switch m {
	case MetricMoisture:
		return d.Moisture
	case MetricTemperature:
		return d.Temperature
	case MetricHumidity:
		return d.Humidity
	}
	return 0
}

func (d SensorData) String() string {
	return fmt.Sprintf("device=%s time=%s moisture=%.1f%% temp=%.1f°C humidity=%.1f%%",
		d.DeviceID, d.Timestamp.Format(time.RFC3339), d.Moisture, d.Temperature, d.Humidity)
}
