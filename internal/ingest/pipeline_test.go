package ingest_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ponytojas/go-plant-monitor/internal/alert"
	"github.com/ponytojas/go-plant-monitor/internal/dashboard"
	"github.com/ponytojas/go-plant-monitor/internal/ingest"
	"github.com/ponytojas/go-plant-monitor/internal/metrics"
	"github.com/ponytojas/go-plant-monitor/internal/models"
	"github.com/ponytojas/go-plant-monitor/internal/status"
)

type memArchive struct {
	mu      sync.Mutex
	batches [][]models.SensorData
	err     error
}

func (m *memArchive) InsertSamples(_ context.Context, s []models.SensorData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, s)
	return m.err
}

type memPublisher struct{ events []alert.Event }

func (m *memPublisher) Publish(_ context.Context, ev []alert.Event) error {
	m.events = append(m.events, ev...)
	return nil
}
func (m *memPublisher) Close() error { return nil }

func TestPipeline_ForwardsOnlyNewSamples(t *testing.T) {
	state, err := dashboard.New(dashboard.DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)
	archive := &memArchive{}
	pub := &memPublisher{}
	alerts := alert.NewService(alert.NewDetector(status.DefaultThresholds), pub, nil, zerolog.Nop())
	p := ingest.NewPipeline(state, archive, alerts, metrics.NewMetrics(), zerolog.Nop())

	base := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	batch := []models.SensorData{
		{Timestamp: base, Moisture: 40},
		{Timestamp: base.Add(time.Minute), Moisture: 20},
	}

	got := p.Ingest(context.Background(), "firebase", batch)
	require.Len(t, got, 2)
	assert.Empty(t, p.Ingest(context.Background(), "firebase", batch))

	require.Len(t, archive.batches, 1)
	assert.Len(t, archive.batches[0], 2)
	require.Len(t, pub.events, 1)
	assert.Equal(t, status.NeedWater, pub.events[0].To)
	assert.Same(t, state, p.State())
}

func TestPipeline_ArchiveFailureKeepsState(t *testing.T) {
	state, err := dashboard.New(dashboard.DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)
	archive := &memArchive{err: errors.New("db down")}
	p := ingest.NewPipeline(state, archive, nil, nil, zerolog.Nop())

	got := p.Ingest(context.Background(), "mqtt", []models.SensorData{{Timestamp: time.Now(), Moisture: 60}})
	assert.Len(t, got, 1)
	assert.Len(t, state.History(), 1)
}
