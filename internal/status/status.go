// Package status maps soil moisture percentages onto qualitative watering bands.
package status

import (
	"errors"
	"fmt"
)

// Band is a qualitative moisture status.
type Band int

const (
	NeedWater Band = iota
	OK
	Moist
	TooWet
)

var bandLabels = [...]string{
	NeedWater: "NEED_WATER",
	OK:        "OK",
	Moist:     "MOIST",
	TooWet:    "TOO WET",
}

func (b Band) String() string {
	if b < NeedWater || b > TooWet {
		return fmt.Sprintf("Band(%d)", int(b))
	}
	return bandLabels[b]
}

// MarshalText encodes the band as its label.
func (b Band) MarshalText() ([]byte, error) {
	if b < NeedWater || b > TooWet {
		return nil, fmt.Errorf("invalid band %d", int(b))
	}
	return []byte(bandLabels[b]), nil
}

// UnmarshalText decodes a band label.
func (b *Band) UnmarshalText(text []byte) error {
	for i, l := range bandLabels {
		if l == string(text) {
			*b = Band(i)
			return nil
		}
	}
	return fmt.Errorf("unknown band %q", string(text))
}

// Thresholds are the inclusive upper bounds of the NEED_WATER, OK and MOIST bands.
// Anything above the last bound is TOO WET.
type Thresholds [3]float64

// DefaultThresholds partitions 0..100 into ≤30, 31-50, 51-70 and 71-100.
var DefaultThresholds = Thresholds{30, 50, 70}

// ErrInvalidThresholds reports unusable band breakpoints.
var ErrInvalidThresholds = errors.New("thresholds must be strictly increasing within 0..100")

// Validate checks that the breakpoints are ordered and inside the percentage range.
func (t Thresholds) Validate() error {
	prev := -1.0
	for _, v := range t {
		if v <= prev || v < 0 || v > 100 {
			return fmt.Errorf("%w: %v", ErrInvalidThresholds, [3]float64(t))
		}
		prev = v
	}
	return nil
}

// Classify returns the band for a moisture percentage.
func (t Thresholds) Classify(moisture float64) Band {
	switch {
	case moisture <= t[0]:
		return NeedWater
	case moisture <= t[1]:
		return OK
	case moisture <= t[2]:
		return Moist
	default:
		return TooWet
	}
}

// Classify uses DefaultThresholds.
func Classify(moisture float64) Band {
	return DefaultThresholds.Classify(moisture)
}
