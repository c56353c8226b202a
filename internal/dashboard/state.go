// Package dashboard holds the process-wide dashboard state: the record
// buffers, chart windows and refresh countdown. A single State is built at
// startup, mutated by the refresher and live ingestion, and closed on
// shutdown.
package dashboard

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ponytojas/go-plant-monitor/internal/history"
	"github.com/ponytojas/go-plant-monitor/internal/models"
	"github.com/ponytojas/go-plant-monitor/internal/status"
)

// MaxChartRangeMinutes bounds a chart window to one week.
const MaxChartRangeMinutes = 7 * 24 * 60

var (
	ErrUnknownMetric = errors.New("unknown metric")
	ErrInvalidRange  = errors.New("chart range must be between 1 and 10080 minutes")
)

// Config describes the initial dashboard state.
type Config struct {
	DeviceID        string
	RecentLimit     int
	PastLimit       int
	ChartRanges     map[models.Metric]int
	Thresholds      status.Thresholds
	Retention       time.Duration // 0 keeps all history
	RefreshInterval time.Duration
}

// DefaultConfig mirrors the stock dashboard: 10 recent, 50 past, 10 minute
// charts and a 60 second refresh.
func DefaultConfig() Config {
	return Config{
		DeviceID:    "smart-plant-reminder",
		RecentLimit: 10,
		PastLimit:   50,
		ChartRanges: map[models.Metric]int{
			models.MetricMoisture:    10,
			models.MetricTemperature: 10,
			models.MetricHumidity:    10,
		},
		Thresholds:      status.DefaultThresholds,
		RefreshInterval: 60 * time.Second,
	}
}

// Gauge is the latest reading with its moisture band.
type Gauge struct {
	Timestamp   time.Time   `json:"timestamp"`
	Moisture    float64     `json:"moisture"`
	Temperature float64     `json:"temperature"`
	Humidity    float64     `json:"humidity"`
	Band        status.Band `json:"band"`
}

// Point is one chart sample.
type Point struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// Chart is the windowed series for one metric.
type Chart struct {
	Metric  models.Metric `json:"metric"`
	Minutes int           `json:"minutes"`
	From    time.Time     `json:"from"`
	Points  []Point       `json:"points"`
}

// Snapshot is a consistent view of the headline dashboard values.
type Snapshot struct {
	DeviceID   string    `json:"device_id"`
	Gauge      *Gauge    `json:"gauge,omitempty"`
	Countdown  int       `json:"countdown"`
	LastUpdate time.Time `json:"last_update"`
	Records    int       `json:"records"`
}

// Option customizes a State.
type Option func(*State)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *State) { s.now = now }
}

// State is safe for concurrent use.
type State struct {
	mu         sync.RWMutex
	deviceID   string
	recent     *history.Ring[models.SensorData]
	past       *history.Ring[models.SensorData]
	all        history.Series
	ranges     map[models.Metric]int
	thresholds status.Thresholds
	retention  time.Duration
	cutoff     time.Time // samples before this were pruned and stay rejected
	interval   time.Duration
	countdown  int
	lastUpdate time.Time

	subs   map[chan struct{}]struct{}
	closed bool

	now    func() time.Time
	logger zerolog.Logger
}

// New validates cfg and builds the state.
func New(cfg Config, logger zerolog.Logger, opts ...Option) (*State, error) {
	if cfg.DeviceID == "" {
		return nil, errors.New("device id is required")
	}
	recent, err := history.NewRing[models.SensorData](cfg.RecentLimit)
	if err != nil {
		return nil, fmt.Errorf("recent buffer: %w", err)
	}
	past, err := history.NewRing[models.SensorData](cfg.PastLimit)
	if err != nil {
		return nil, fmt.Errorf("past buffer: %w", err)
	}
	if err := cfg.Thresholds.Validate(); err != nil {
		return nil, err
	}
	if cfg.RefreshInterval < time.Second {
		return nil, fmt.Errorf("refresh interval %s is below one second", cfg.RefreshInterval)
	}

	ranges := make(map[models.Metric]int, len(models.Metrics))
	for _, m := range models.Metrics {
		ranges[m] = 10
	}
	for m, minutes := range cfg.ChartRanges {
		if _, ok := ranges[m]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownMetric, m)
		}
		if minutes < 1 || minutes > MaxChartRangeMinutes {
			return nil, fmt.Errorf("%w: %s=%d", ErrInvalidRange, m, minutes)
		}
		ranges[m] = minutes
	}

	s := &State{
		deviceID:   cfg.DeviceID,
		recent:     recent,
		past:       past,
		ranges:     ranges,
		thresholds: cfg.Thresholds,
		retention:  cfg.Retention,
		interval:   cfg.RefreshInterval,
		countdown:  int(cfg.RefreshInterval / time.Second),
		subs:       make(map[chan struct{}]struct{}),
		now:        time.Now,
		logger:     logger.With().Str("component", "dashboard").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// DeviceID returns the monitored device key.
func (s *State) DeviceID() string { return s.deviceID }

// Thresholds returns the moisture band breakpoints in use.
func (s *State) Thresholds() status.Thresholds { return s.thresholds }

// RefreshInterval returns the countdown period.
func (s *State) RefreshInterval() time.Duration { return s.interval }

// Ingest merges samples into the buffers and returns the ones that were new.
// Samples for other devices are ignored; a missing device id is taken to be
// this device. Only samples newer than everything already held reach the
// recent and past buffers. With a retention set, samples older than the
// retention cutoff are never accepted again once pruned.
func (s *State) Ingest(samples ...models.SensorData) []models.SensorData {
	if len(samples) == 0 {
		return nil
	}
	sorted := make([]models.SensorData, 0, len(samples))
	for _, d := range samples {
		if d.DeviceID == "" {
			d.DeviceID = s.deviceID
		}
		if d.DeviceID != s.deviceID {
			s.logger.Debug().Str("device_id", d.DeviceID).Msg("Ignoring sample for another device")
			continue
		}
		if d.Timestamp.IsZero() {
			s.logger.Debug().Msg("Ignoring sample without timestamp")
			continue
		}
		sorted = append(sorted, d)
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	var accepted []models.SensorData
	for _, d := range sorted {
		if d.Timestamp.Before(s.cutoff) {
			continue
		}
		latest, hasLatest := s.all.Latest()
		if !s.all.Insert(d) {
			continue
		}
		accepted = append(accepted, d)
		if !hasLatest || d.Timestamp.After(latest.Timestamp) {
			s.recent.Add(d)
			s.past.Add(d)
		}
	}
	if len(accepted) > 0 {
		if s.retention > 0 {
			newest, _ := s.all.Latest()
			if c := newest.Timestamp.Add(-s.retention); c.After(s.cutoff) {
				s.cutoff = c
			}
			if n := s.all.Prune(s.cutoff); n > 0 {
				s.logger.Debug().Int("pruned", n).Msg("Pruned history past retention")
			}
		}
		s.lastUpdate = s.now()
	}
	s.mu.Unlock()

	if len(accepted) > 0 {
		s.logger.Debug().Int("accepted", len(accepted)).Int("offered", len(samples)).Msg("Ingested samples")
		s.notify()
	}
	return accepted
}

// Recent returns the recent buffer, oldest first.
func (s *State) Recent() []models.SensorData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recent.Items()
}

// Past returns the past buffer, oldest first.
func (s *State) Past() []models.SensorData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.past.Items()
}

// History returns every retained sample, oldest first.
func (s *State) History() []models.SensorData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.all.All()
}

// Gauge returns the newest reading. ok is false before any data arrives.
func (s *State) Gauge() (Gauge, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gaugeLocked()
}

func (s *State) gaugeLocked() (Gauge, bool) {
	d, ok := s.all.Latest()
	if !ok {
		return Gauge{}, false
	}
	return Gauge{
		Timestamp:   d.Timestamp,
		Moisture:    d.Moisture,
		Temperature: d.Temperature,
		Humidity:    d.Humidity,
		Band:        s.thresholds.Classify(d.Moisture),
	}, true
}

// Classify applies the configured thresholds.
func (s *State) Classify(moisture float64) status.Band {
	return s.thresholds.Classify(moisture)
}

// ChartRange returns the lookback window in minutes for m.
func (s *State) ChartRange(m models.Metric) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	minutes, ok := s.ranges[m]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownMetric, m)
	}
	return minutes, nil
}

// ChartRanges returns a copy of every chart window.
func (s *State) ChartRanges() map[models.Metric]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[models.Metric]int, len(s.ranges))
	for m, v := range s.ranges {
		out[m] = v
	}
	return out
}

// MaxChartRange returns the widest chart window.
func (s *State) MaxChartRange() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	widest := 0
	for _, v := range s.ranges {
		if v > widest {
			widest = v
		}
	}
	return time.Duration(widest) * time.Minute
}

// SetChartRange changes the lookback window for m.
func (s *State) SetChartRange(m models.Metric, minutes int) error {
	if minutes < 1 || minutes > MaxChartRangeMinutes {
		return fmt.Errorf("%w: got %d", ErrInvalidRange, minutes)
	}
	s.mu.Lock()
	if _, ok := s.ranges[m]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownMetric, m)
	}
	s.ranges[m] = minutes
	s.mu.Unlock()

	s.logger.Info().Str("metric", string(m)).Int("minutes", minutes).Msg("Chart range updated")
	s.notify()
	return nil
}

// Chart returns the samples of m inside its window ending at now.
func (s *State) Chart(m models.Metric, now time.Time) (Chart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	minutes, ok := s.ranges[m]
	if !ok {
		return Chart{}, fmt.Errorf("%w: %q", ErrUnknownMetric, m)
	}
	from := now.Add(-time.Duration(minutes) * time.Minute)
	samples := s.all.Since(from)
	points := make([]Point, 0, len(samples))
	for _, d := range samples {
		if d.Timestamp.After(now) {
			break
		}
		points = append(points, Point{Timestamp: d.Timestamp, Value: d.Value(m)})
	}
	return Chart{Metric: m, Minutes: minutes, From: from, Points: points}, nil
}

// Countdown returns the seconds left until the next refresh.
func (s *State) Countdown() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countdown
}

// SetCountdown overwrites the countdown.
func (s *State) SetCountdown(seconds int) {
	if seconds < 0 {
		seconds = 0
	}
	s.mu.Lock()
	s.countdown = seconds
	s.mu.Unlock()
}

// ResetCountdown restarts the countdown from the refresh interval.
func (s *State) ResetCountdown() {
	s.SetCountdown(int(s.interval / time.Second))
}

// Tick decrements the countdown by one second and returns the new value.
func (s *State) Tick() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.countdown > 0 {
		s.countdown--
	}
	return s.countdown
}

// LastUpdate returns when new data was last accepted.
func (s *State) LastUpdate() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdate
}

// Snapshot returns the headline values under one lock.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		DeviceID:   s.deviceID,
		Countdown:  s.countdown,
		LastUpdate: s.lastUpdate,
		Records:    s.all.Len(),
	}
	if g, ok := s.gaugeLocked(); ok {
		snap.Gauge = &g
	}
	return snap
}

// Subscribe returns a channel signalled after each data or range change and a
// function that cancels the subscription. Signals coalesce; the channel is
// closed by cancel or Close.
func (s *State) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if _, ok := s.subs[ch]; ok {
				delete(s.subs, ch)
				close(ch)
			}
		})
	}
}

func (s *State) notify() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Close releases subscribers and stops accepting samples.
func (s *State) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for ch := range s.subs {
		close(ch)
		delete(s.subs, ch)
	}
	s.logger.Info().Msg("Dashboard state closed")
}
