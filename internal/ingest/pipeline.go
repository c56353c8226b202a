// Package ingest routes telemetry from any source through the dashboard
// state, the archive and the reminder service.
package ingest

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ponytojas/go-plant-monitor/internal/alert"
	"github.com/ponytojas/go-plant-monitor/internal/dashboard"
	"github.com/ponytojas/go-plant-monitor/internal/metrics"
	"github.com/ponytojas/go-plant-monitor/internal/models"
)

// Archiver persists accepted samples.
type Archiver interface {
	InsertSamples(ctx context.Context, samples []models.SensorData) error
}

// Pipeline is safe for concurrent use.
type Pipeline struct {
	state   *dashboard.State
	archive Archiver
	alerts  *alert.Service
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewPipeline wires the stages; archive, alerts and m may be nil.
func NewPipeline(state *dashboard.State, archive Archiver, alerts *alert.Service, m *metrics.Metrics, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		state:   state,
		archive: archive,
		alerts:  alerts,
		metrics: m,
		logger:  logger.With().Str("component", "ingest").Logger(),
	}
}

// Ingest merges samples into the dashboard and forwards the new ones
// downstream. Archive and alert failures are logged, never returned; the
// dashboard already holds the data.
func (p *Pipeline) Ingest(ctx context.Context, source string, samples []models.SensorData) []models.SensorData {
	accepted := p.state.Ingest(samples...)
	if len(accepted) == 0 {
		return nil
	}
	p.metrics.SamplesIngested(source, len(accepted))
	if g, ok := p.state.Gauge(); ok {
		p.metrics.SetReading(string(models.MetricMoisture), g.Moisture)
		p.metrics.SetReading(string(models.MetricTemperature), g.Temperature)
		p.metrics.SetReading(string(models.MetricHumidity), g.Humidity)
	}

	if p.archive != nil {
		actx, cancel := context.WithTimeout(ctx, 30*time.Second)
		if err := p.archive.InsertSamples(actx, accepted); err != nil {
			p.logger.Error().Err(err).Str("source", source).Int("samples", len(accepted)).Msg("Failed to archive samples")
		}
		cancel()
	}
	if p.alerts != nil {
		if _, err := p.alerts.Process(ctx, accepted); err != nil {
			p.logger.Error().Err(err).Str("source", source).Msg("Failed to publish reminders")
		}
	}

	p.logger.Debug().Str("source", source).Int("accepted", len(accepted)).Msg("Samples ingested")
	return accepted
}

// State exposes the dashboard the pipeline feeds.
func (p *Pipeline) State() *dashboard.State { return p.state }
