// Package refresh drives the dashboard countdown and periodic pulls from the
// realtime database.
package refresh

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ponytojas/go-plant-monitor/internal/dashboard"
	"github.com/ponytojas/go-plant-monitor/internal/ingest"
	"github.com/ponytojas/go-plant-monitor/internal/metrics"
	"github.com/ponytojas/go-plant-monitor/internal/models"
)

// Source returns the newest records, oldest first.
type Source interface {
	FetchRecords(ctx context.Context, limit int) ([]models.SensorData, error)
}

// latestSource is implemented by sources that also expose a single latest
// record, used when the record list comes back empty.
type latestSource interface {
	FetchLatest(ctx context.Context) (models.SensorData, error)
}

// HistoryLoader reads archived samples.
type HistoryLoader interface {
	QuerySince(ctx context.Context, deviceID string, since time.Time) ([]models.SensorData, error)
}

// Refresher owns the countdown loop for one dashboard.
type Refresher struct {
	source   Source
	pipeline *ingest.Pipeline
	state    *dashboard.State
	limit    int
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	tick    time.Duration
	trigger chan struct{}
}

// NewRefresher pulls limit records per cycle from source into pipeline.
func NewRefresher(source Source, pipeline *ingest.Pipeline, limit int, m *metrics.Metrics, logger zerolog.Logger) *Refresher {
	return &Refresher{
		source:   source,
		pipeline: pipeline,
		state:    pipeline.State(),
		limit:    limit,
		metrics:  m,
		logger:   logger.With().Str("component", "refresher").Logger(),
		tick:     time.Second,
		trigger:  make(chan struct{}, 1),
	}
}

// Run refreshes once, then counts down one step per second and refreshes
// whenever the countdown reaches zero or Trigger is called. It returns when
// ctx is done.
func (r *Refresher) Run(ctx context.Context) error {
	r.logger.Info().Dur("interval", r.state.RefreshInterval()).Int("limit", r.limit).Msg("Starting refresh loop")
	_ = r.RefreshNow(ctx)

	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("Refresh loop stopped")
			return nil
		case <-r.trigger:
			_ = r.RefreshNow(ctx)
		case <-ticker.C:
			left := r.state.Tick()
			r.metrics.SetCountdown(left)
			if left == 0 {
				_ = r.RefreshNow(ctx)
			}
		}
	}
}

// Trigger asks the loop for an immediate refresh. It reports false when a
// request is already pending.
func (r *Refresher) Trigger() bool {
	select {
	case r.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// RefreshNow pulls from the source and restarts the countdown, whether or not
// the pull succeeded.
func (r *Refresher) RefreshNow(ctx context.Context) error {
	start := time.Now()
	records, err := r.source.FetchRecords(ctx, r.limit)
	r.metrics.Refresh(time.Since(start), err)
	r.state.ResetCountdown()
	r.metrics.SetCountdown(r.state.Countdown())
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Warn().Err(err).Msg("Refresh failed")
		}
		return fmt.Errorf("refresh: %w", err)
	}
	if len(records) == 0 {
		if ls, ok := r.source.(latestSource); ok {
			if d, err := ls.FetchLatest(ctx); err == nil {
				records = []models.SensorData{d}
			} else {
				r.logger.Debug().Err(err).Msg("No latest record either")
			}
		}
	}
	accepted := r.pipeline.Ingest(ctx, "firebase", records)
	r.logger.Debug().Int("fetched", len(records)).Int("new", len(accepted)).Dur("took", time.Since(start)).Msg("Refresh complete")
	return nil
}

// SeedFromArchive loads the widest chart window of archived samples into
// the dashboard so charts are populated before the first refresh.
func SeedFromArchive(ctx context.Context, loader HistoryLoader, state *dashboard.State, now time.Time) (int, error) {
	since := now.Add(-state.MaxChartRange())
	samples, err := loader.QuerySince(ctx, state.DeviceID(), since)
	if err != nil {
		return 0, fmt.Errorf("seed history: %w", err)
	}
	return len(state.Ingest(samples...)), nil
}
