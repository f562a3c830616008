package realtime

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{20, 30 * time.Second},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, Backoff(time.Second, 30*time.Second, tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestBackoffWithoutCeilingSaturates(t *testing.T) {
	require.Equal(t, 64*time.Second, Backoff(time.Second, 0, 7))
	require.Equal(t, time.Duration(math.MaxInt64), Backoff(time.Second, 0, 200))
}
