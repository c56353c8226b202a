// Package alert turns moisture band changes into watering reminders.
package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ponytojas/go-plant-monitor/internal/models"
	"github.com/ponytojas/go-plant-monitor/internal/status"
)

// Event reports that a device moved into a new moisture band.
type Event struct {
	ID        string       `json:"id"`
	DeviceID  string       `json:"device_id"`
	From      *status.Band `json:"from,omitempty"`
	To        status.Band  `json:"to"`
	Moisture  float64      `json:"moisture"`
	Timestamp time.Time    `json:"timestamp"`
	Message   string       `json:"message"`
}

// Detector remembers the last band seen per device. The first observation of
// a device only produces an event when the plant already needs water.
type Detector struct {
	mu         sync.Mutex
	thresholds status.Thresholds
	last       map[string]status.Band
	lastAt     map[string]time.Time
}

// NewDetector classifies with t.
func NewDetector(t status.Thresholds) *Detector {
	return &Detector{
		thresholds: t,
		last:       make(map[string]status.Band),
		lastAt:     make(map[string]time.Time),
	}
}

// Observe feeds samples in timestamp order and returns the resulting events.
// Samples not newer than the last observed one for their device are ignored.
func (d *Detector) Observe(samples ...models.SensorData) []Event {
	d.mu.Lock()
	defer d.mu.Unlock()

	var events []Event
	for _, s := range samples {
		if at, ok := d.lastAt[s.DeviceID]; ok && !s.Timestamp.After(at) {
			continue
		}
		band := d.thresholds.Classify(s.Moisture)
		prev, seen := d.last[s.DeviceID]
		d.last[s.DeviceID] = band
		d.lastAt[s.DeviceID] = s.Timestamp

		if seen && prev == band {
			continue
		}
		if !seen && band != status.NeedWater {
			continue
		}
		ev := Event{
			ID:        uuid.New().String(),
			DeviceID:  s.DeviceID,
			To:        band,
			Moisture:  s.Moisture,
			Timestamp: s.Timestamp,
			Message:   message(band, s.Moisture),
		}
		if seen {
			from := prev
			ev.From = &from
		}
		events = append(events, ev)
	}
	return events
}

func message(b status.Band, moisture float64) string {
	switch b {
	case status.NeedWater:
		return fmt.Sprintf("Soil moisture is %.0f%%, time to water the plant", moisture)
	case status.TooWet:
		return fmt.Sprintf("Soil moisture is %.0f%%, hold off watering", moisture)
	default:
		return fmt.Sprintf("Soil moisture is %.0f%%, status %s", moisture, b)
	}
}

// Publisher delivers events somewhere people will see them.
type Publisher interface {
	Publish(ctx context.Context, events []Event) error
	Close() error
}

// Recorder receives publish outcomes, typically metrics.
type Recorder interface {
	AlertPublished(success bool)
}

// Service detects band changes and publishes them.
type Service struct {
	detector  *Detector
	publisher Publisher
	recorder  Recorder
	logger    zerolog.Logger
}

// NewService builds a Service. publisher may be nil, in which case events are
// only logged.
func NewService(detector *Detector, publisher Publisher, recorder Recorder, logger zerolog.Logger) *Service {
	return &Service{
		detector:  detector,
		publisher: publisher,
		recorder:  recorder,
		logger:    logger.With().Str("component", "alert").Logger(),
	}
}

// Process observes samples and publishes any band changes.
func (s *Service) Process(ctx context.Context, samples []models.SensorData) ([]Event, error) {
	events := s.detector.Observe(samples...)
	if len(events) == 0 {
		return nil, nil
	}
	for _, ev := range events {
		s.logger.Info().
			Str("device_id", ev.DeviceID).
			Stringer("band", ev.To).
			Float64("moisture", ev.Moisture).
			Msg(ev.Message)
	}
	if s.publisher == nil {
		return events, nil
	}
	err := s.publisher.Publish(ctx, events)
	if s.recorder != nil {
		s.recorder.AlertPublished(err == nil)
	}
	if err != nil {
		return events, fmt.Errorf("publish %d alerts: %w", len(events), err)
	}
	return events, nil
}

// Close releases the publisher.
func (s *Service) Close() error {
	if s.publisher == nil {
		return nil
	}
	return s.publisher.Close()
}
