package fake

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/listing-publisher/internal/publish"
)

var _ publish.Clock = (*Clock)(nil)

func TestClockAfterAdvances(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	clk := New(start)
	fired := <-clk.After(3 * time.Second)
	require.Equal(t, start.Add(3*time.Second), fired)
	clk.Advance(time.Minute)
	require.Equal(t, start.Add(63*time.Second), clk.Now())
	require.Equal(t, []time.Duration{3 * time.Second}, clk.Sleeps())
}
