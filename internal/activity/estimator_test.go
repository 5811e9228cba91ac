package activity

import (
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimator_Lifecycle(t *testing.T) {
	e, err := NewEstimator(DefaultParams())
	require.NoError(t, err)

	_, ok := e.State("s1")
	assert.False(t, ok)

	_, err = e.Observe("s1", 0, sec(0))
	require.NoError(t, err)
	_, err = e.Observe(GlobalCounter, 0, sec(0))
	require.NoError(t, err)
	_, err = e.Observe("s2", 0, sec(0))
	require.NoError(t, err)
	assert.Equal(t, []string{"global", "s1", "s2"}, e.Counters())

	s, err := e.Observe("s1", 300, sec(1))
	require.NoError(t, err)
	assert.Equal(t, 300.0, s.InstantRate)

	e.Tick(sec(2))
	got, ok := e.State("s1")
	require.True(t, ok)
	assert.InDelta(t, 300.0, got.InstantRate, 1e-9)
	assert.Less(t, got.Buckets[len(got.Buckets)-1], 300.0, "tick shifts in a decayed bucket")

	assert.Equal(t, 1, e.Retain([]string{GlobalCounter, "s1"}))
	e.Forget("s1")
	assert.Equal(t, []string{"global"}, e.Counters())
}

func TestEstimator_InvalidValueCreatesNoCounter(t *testing.T) {
	e, err := NewEstimator(DefaultParams())
	require.NoError(t, err)

	for _, v := range []float64{math.NaN(), math.Inf(1), -5} {
		_, err := e.Observe("s1", v, sec(0))
		assert.ErrorIs(t, err, ErrInvalidValue)
	}
	_, ok := e.State("s1")
	assert.False(t, ok)
	assert.Empty(t, e.Counters())
}

func TestEstimator_IndependentCounters(t *testing.T) {
	e, err := NewEstimator(DefaultParams())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		id := fmt.Sprintf("session-%d", g)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i <= 20; i++ {
				_, err := e.Observe(id, float64(i*50), sec(float64(i)))
				assert.NoError(t, err)
			}
		}()
	}
	for i := 0; i < 20; i++ {
		e.Tick(sec(float64(i)))
	}
	wg.Wait()

	assert.Len(t, e.Counters(), 8)
	for _, id := range e.Counters() {
		s, ok := e.State(id)
		require.True(t, ok)
		assert.Equal(t, 50.0, s.LastRate, id)
	}
}
