package status_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ponytojas/go-plant-monitor/internal/status"
)

func TestClassify_Boundaries(t *testing.T) {
	cases := []struct {
		moisture float64
		want     status.Band
	}{
		{0, status.NeedWater},
		{30, status.NeedWater},
		{31, status.OK},
		{50, status.OK},
		{51, status.Moist},
		{70, status.Moist},
		{71, status.TooWet},
		{100, status.TooWet},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, status.Classify(tc.moisture), "moisture=%v", tc.moisture)
	}
}

func TestClassify_AllIntegerPercentages(t *testing.T) {
	for v := 0; v <= 100; v++ {
		got := status.Classify(float64(v))
		switch {
		case v <= 30:
			assert.Equal(t, status.NeedWater, got, "v=%d", v)
		case v <= 50:
			assert.Equal(t, status.OK, got, "v=%d", v)
		case v <= 70:
			assert.Equal(t, status.Moist, got, "v=%d", v)
		default:
			assert.Equal(t, status.TooWet, got, "v=%d", v)
		}
	}
}

func TestClassify_OutOfRangeAndFractions(t *testing.T) {
	assert.Equal(t, status.NeedWater, status.Classify(-5))
	assert.Equal(t, status.TooWet, status.Classify(140))
	assert.Equal(t, status.OK, status.Classify(30.5))
	assert.Equal(t, status.TooWet, status.Classify(70.01))
}

func TestThresholds_Validate(t *testing.T) {
	require.NoError(t, status.DefaultThresholds.Validate())
	assert.ErrorIs(t, status.Thresholds{50, 30, 70}.Validate(), status.ErrInvalidThresholds)
	assert.ErrorIs(t, status.Thresholds{30, 30, 70}.Validate(), status.ErrInvalidThresholds)
	assert.ErrorIs(t, status.Thresholds{30, 50, 120}.Validate(), status.ErrInvalidThresholds)
}

func TestBand_JSON(t *testing.T) {
	b, err := json.Marshal(map[string]status.Band{"band": status.TooWet})
	require.NoError(t, err)
	assert.JSONEq(t, `{"band":"TOO WET"}`, string(b))

	var out map[string]status.Band
	require.NoError(t, json.Unmarshal([]byte(`{"band":"NEED_WATER"}`), &out))
	assert.Equal(t, status.NeedWater, out["band"])
	assert.Equal(t, "MOIST", status.Moist.String())
}
