package alert

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-pathguide/pkg/direction"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func sample(sec float64, c direction.Classification) direction.Sample {
	return direction.Sample{
		Timestamp:      t0.Add(time.Duration(sec * float64(time.Second))),
		Classification: c,
	}
}

func TestThrottler_Debounce(t *testing.T) {
	th := NewThrottler(14 * time.Second)

	var emitted []float64
	for _, sec := range []float64{0, 5, 14, 20} {
		if ev, ok := th.Offer("s1", sample(sec, direction.Left)); ok {
			emitted = append(emitted, ev.TriggeredAt.Sub(t0).Seconds())
		}
	}

	assert.Equal(t, []float64{0, 14}, emitted)
}

func TestThrottler_SharedAcrossDirections(t *testing.T) {
	th := NewThrottler(10 * time.Second)

	_, ok := th.Offer("s1", sample(0, direction.Left))
	require.True(t, ok)

	_, ok = th.Offer("s1", sample(3, direction.Right))
	assert.False(t, ok, "cooldown is global, not per direction")
}

func TestThrottler_NonTurnsIgnored(t *testing.T) {
	th := NewThrottler(10 * time.Second)

	for i, c := range []direction.Classification{direction.Straight, direction.Indeterminate} {
		_, ok := th.Offer("s1", sample(float64(i), c))
		assert.False(t, ok)
	}
	_, set := th.LastAlert()
	assert.False(t, set, "non-turns must not start the timer")

	_, ok := th.Offer("s1", sample(2, direction.Right))
	require.True(t, ok)

	_, ok = th.Offer("s1", sample(11, direction.Straight))
	assert.False(t, ok)

	last, _ := th.LastAlert()
	assert.Equal(t, t0.Add(2*time.Second), last, "straight must not reset the timer")
}

func TestThrottler_EventFields(t *testing.T) {
	th := NewThrottler(DefaultDebounce)

	s := sample(1, direction.Right)
	s.Slope = 0.9
	ev, ok := th.Offer("session-a", s)
	require.True(t, ok)

	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, "session-a", ev.SessionID)
	assert.Equal(t, direction.Right, ev.Direction)
	assert.Equal(t, 0.9, ev.Slope)
	assert.Equal(t, s.Timestamp, ev.TriggeredAt)
}

func TestThrottler_MinimumSpacing(t *testing.T) {
	th := NewThrottler(14 * time.Second)

	var times []time.Time
	for ms := 0; ms < 120_000; ms += 700 {
		c := direction.Left
		if ms%2100 == 0 {
			c = direction.Right
		}
		if ev, ok := th.Offer("s", sample(float64(ms)/1000, c)); ok {
			times = append(times, ev.TriggeredAt)
		}
	}

	require.NotEmpty(t, times)
	for i := 1; i < len(times); i++ {
		assert.GreaterOrEqual(t, times[i].Sub(times[i-1]), 14*time.Second)
	}
}

func TestThrottler_Reset(t *testing.T) {
	th := NewThrottler(time.Minute)
	th.Offer("s", sample(0, direction.Left))
	th.Reset()

	_, ok := th.Offer("s", sample(1, direction.Left))
	assert.True(t, ok)
}
