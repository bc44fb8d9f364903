package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffGrowsAndCaps(t *testing.T) {
	b := NewBackoff(BackoffConfig{
		Initial:    100 * time.Millisecond,
		Max:        400 * time.Millisecond,
		Multiplier: 2.0,
		Jitter:     0, // deterministic
	})

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		400 * time.Millisecond, // capped
	}
	for i, expected := range want {
		assert.Equal(t, expected, b.Next(), "delay %d", i)
	}
	assert.Equal(t, len(want), b.Attempts())
}

func TestBackoffJitterBounds(t *testing.T) {
	b := NewBackoff(BackoffConfig{
		Initial:    100 * time.Millisecond,
		Max:        time.Second,
		Multiplier: 2.0,
		Jitter:     0.25,
	})

	for i := 0; i < 20; i++ {
		b.Reset()
		d := b.Next()
		require.GreaterOrEqual(t, d, 100*time.Millisecond)
		require.LessOrEqual(t, d, 125*time.Millisecond)
	}
}

func TestBackoffReset(t *testing.T) {
	b := NewBackoff(BackoffConfig{Initial: time.Millisecond, Max: time.Second, Multiplier: 2.0})
	b.Next()
	b.Next()
	b.Reset()

	assert.Equal(t, 0, b.Attempts())
}

func TestBackoffConfigDefaults(t *testing.T) {
	b := NewBackoff(BackoffConfig{})
	assert.Equal(t, InitialBackoff, b.initial)
	assert.Equal(t, MaxBackoff, b.max)
	assert.Equal(t, BackoffMultiplier, b.multiplier)
}
