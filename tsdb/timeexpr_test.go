package tsdb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTime(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		expr string
		want time.Time
	}{
		{"now", now},
		{"now-30s", now.Add(-30 * time.Second)},
		{"now-15m", now.Add(-15 * time.Minute)},
		{"now-6h", now.Add(-6 * time.Hour)},
		{"now-7d", now.Add(-7 * 24 * time.Hour)},
		{"0", time.Unix(0, 0).UTC()},
		{"1714564800000", time.UnixMilli(1714564800000).UTC()},
		{"2024-05-01T10:30:00Z", time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := ParseTime(tt.expr, now)
			require.NoError(t, err)
			assert.True(t, got.Equal(tt.want), "got %s, want %s", got, tt.want)
		})
	}
}

func TestParseTimeRejectsGarbage(t *testing.T) {
	now := time.Now().UTC()
	for _, expr := range []string{"", "yesterday", "now-5y", "now+5m", "12.5", "-100"} {
		_, err := ParseTime(expr, now)
		assert.Error(t, err, "expression %q", expr)
	}
}

func TestParseTimeRange(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	start, end, err := ParseTimeRange("now-1h", "now", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-time.Hour), start)
	assert.Equal(t, now, end)

	// Inverted ranges are rejected.
	_, _, err = ParseTimeRange("now", "now-1h", now)
	assert.Error(t, err)

	// The sentinel start covers everything.
	start, _, err = ParseTimeRange("0", "now", now)
	require.NoError(t, err)
	assert.Equal(t, time.Unix(0, 0).UTC(), start)
}
