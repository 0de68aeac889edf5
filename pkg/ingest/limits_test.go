package ingest

import (
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinytrack/pkg/config"
)

func TestSessionLimiter_Burst(t *testing.T) {
	clock := quartz.NewMock(t)
	l := NewSessionLimiter(10, 3, clock)

	for i := 0; i < 3; i++ {
		require.True(t, l.Allow("s1"), "burst event %d", i)
	}
	require.False(t, l.Allow("s1"))
	require.True(t, l.Allow("s2"))

	clock.Advance(150 * time.Millisecond)
	require.True(t, l.Allow("s1"))
	require.False(t, l.Allow("s1"))
}

func TestSessionLimiter_ForgetsIdleSessions(t *testing.T) {
	clock := quartz.NewMock(t)
	l := NewSessionLimiter(1, 1, clock)

	require.True(t, l.Allow("old"))
	clock.Advance(config.LimiterIdleAfter / 2)
	require.True(t, l.Allow("fresh"))
	require.Equal(t, 2, l.Len())

	clock.Advance(config.LimiterIdleAfter/2 + time.Second)
	require.True(t, l.Allow("fresh"))
	require.Equal(t, 1, l.Len())
}

func TestSessionLimiter_ZeroBurst(t *testing.T) {
	l := NewSessionLimiter(1, 0, quartz.NewMock(t))
	require.True(t, l.Allow("s"))
}
