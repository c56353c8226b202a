package history

import (
	"sort"
	"time"

	"github.com/ponytojas/go-plant-monitor/internal/models"
)

// Series is a timestamp-ordered list of samples with at most one sample per
// instant.
type Series struct {
	samples []models.SensorData
}

// Insert places s in timestamp order. It returns false when a sample with the
// same timestamp is already stored.
func (s *Series) Insert(d models.SensorData) bool {
	n := len(s.samples)
	if n == 0 || s.samples[n-1].Timestamp.Before(d.Timestamp) {
		s.samples = append(s.samples, d)
		return true
	}
	i := sort.Search(n, func(i int) bool {
		return !s.samples[i].Timestamp.Before(d.Timestamp)
	})
	if i < n && s.samples[i].Timestamp.Equal(d.Timestamp) {
		return false
	}
	s.samples = append(s.samples, models.SensorData{})
	copy(s.samples[i+1:], s.samples[i:])
	s.samples[i] = d
	return true
}

// Contains reports whether a sample exists at t.
func (s *Series) Contains(t time.Time) bool {
	i := s.search(t)
	return i < len(s.samples) && s.samples[i].Timestamp.Equal(t)
}

// Since returns a copy of the samples at or after t.
func (s *Series) Since(t time.Time) []models.SensorData {
	i := s.search(t)
	out := make([]models.SensorData, len(s.samples)-i)
	copy(out, s.samples[i:])
	return out
}

// All returns a copy of every sample.
func (s *Series) All() []models.SensorData {
	out := make([]models.SensorData, len(s.samples))
	copy(out, s.samples)
	return out
}

// Prune drops samples strictly before t and returns how many were removed.
func (s *Series) Prune(before time.Time) int {
	i := s.search(before)
	if i == 0 {
		return 0
	}
	s.samples = append(s.samples[:0], s.samples[i:]...)
	return i
}

// Latest returns the newest sample.
func (s *Series) Latest() (models.SensorData, bool) {
	if len(s.samples) == 0 {
		return models.SensorData{}, false
	}
	return s.samples[len(s.samples)-1], true
}

// Len returns the number of samples held.
func (s *Series) Len() int { return len(s.samples) }

func (s *Series) search(t time.Time) int {
	return sort.Search(len(s.samples), func(i int) bool {
		return !s.samples[i].Timestamp.Before(t)
	})
}
