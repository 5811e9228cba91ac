// Package activity turns cumulative token counters into smoothed,
// spike-aware rates.
//
// Each counter is a two-state machine driven by Observe and Tick. The first
// observation seeds the counter; later observations write delta/dt into a
// ring of one-second buckets that Tick shifts and decays toward zero.
package activity

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

// ErrInvalidValue rejects NaN, infinite or negative cumulative values.
var ErrInvalidValue = errors.New("invalid counter value")

// Phase is the lifecycle state of a counter.
type Phase int

const (
	Uninitialized Phase = iota
	Tracking
)

func (p Phase) String() string {
	if p == Tracking {
		return "tracking"
	}
	return "uninitialized"
}

// State is a read-only view of a counter.
type State struct {
	Phase       Phase     `json:"phase"`
	InstantRate float64   `json:"instantRate"`
	AvgRate     float64   `json:"avgRate"`
	IsSpike     bool      `json:"isSpike"`
	LastRate    float64   `json:"lastRate"`
	LastValue   float64   `json:"lastValue"`
	UpdatedAt   time.Time `json:"updatedAt"`
	Buckets     []float64 `json:"buckets,omitempty"`
}

// Counter tracks one cumulative value. It is safe for concurrent use, but
// callers should still feed a counter from a single task so observations
// arrive in time order.
type Counter struct {
	mu sync.Mutex
	p  Params

	phase        Phase
	buckets      []float64 // last element is the current second
	lastValue    float64
	lastRate     float64
	lastAccepted time.Time
	lastShift    time.Time
	shifted      int // buckets shifted in since the last accepted observation
}

// NewCounter returns an uninitialized counter.
func NewCounter(p Params) (*Counter, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("activity params: %w", err)
	}
	return &Counter{p: p, buckets: make([]float64, p.Slots)}, nil
}

// Observe feeds the counter's cumulative value at now.
func (c *Counter) Observe(value float64, now time.Time) (State, error) {
	if err := checkValue(value); err != nil {
		return State{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase == Uninitialized {
		c.phase = Tracking
		c.lastValue = value
		c.lastAccepted = now
		c.lastShift = now
		return c.stateLocked(), nil
	}

	c.shiftLocked(now)

	elapsed := now.Sub(c.lastAccepted)
	if elapsed < c.p.MinInterval {
		// lastValue stays put so the delta is picked up by a later sample.
		return c.stateLocked(), nil
	}

	delta := math.Max(0, value-c.lastValue)
	dt := min(max(elapsed, c.p.MinInterval), c.p.MaxInterval).Seconds()
	rate := delta / dt

	c.lastValue = value
	c.lastAccepted = now
	c.lastRate = rate
	c.writeLocked(rate)
	c.shifted = 0

	return c.stateLocked(), nil
}

// Tick advances the ring to now without a new sample.
func (c *Counter) Tick(now time.Time) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shiftLocked(now)
	return c.stateLocked()
}

// State returns the current view.
func (c *Counter) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

// writeLocked records rate in the current bucket and ramps it back over the
// buckets shifted in during the gap, excluding the bucket that holds the
// previous observation.
func (c *Counter) writeLocked(rate float64) {
	last := len(c.buckets) - 1
	c.buckets[last] = math.Max(c.buckets[last], rate)

	spread := min(c.shifted-1, c.p.Ramp-1, last)
	for i := 1; i <= spread; i++ {
		v := rate * float64(c.p.Ramp-i) / float64(c.p.Ramp)
		c.buckets[last-i] = math.Max(c.buckets[last-i], v)
	}
}

// shiftLocked moves the ring left by the whole seconds elapsed since the last
// shift. Each shifted-in bucket carries the previous newest value decayed once
// per second of gap.
func (c *Counter) shiftLocked(now time.Time) {
	if c.phase != Tracking {
		return
	}
	n := int(now.Sub(c.lastShift) / time.Second)
	if n <= 0 {
		return
	}
	c.lastShift = c.lastShift.Add(time.Duration(n) * time.Second)
	c.shifted += n

	size := len(c.buckets)
	carry := c.buckets[size-1]
	if n >= size {
		for i := range c.buckets {
			c.buckets[i] = c.decayed(carry, n-(size-1-i))
		}
		return
	}
	copy(c.buckets, c.buckets[n:])
	for j := 1; j <= n; j++ {
		c.buckets[size-n+j-1] = c.decayed(carry, j)
	}
}

func (c *Counter) decayed(v float64, seconds int) float64 {
	v *= math.Pow(c.p.DecayPerSecond, float64(seconds))
	if v < c.p.Epsilon {
		return 0
	}
	return v
}

func (c *Counter) stateLocked() State {
	s := State{
		Phase:     c.phase,
		LastRate:  c.lastRate,
		LastValue: c.lastValue,
		UpdatedAt: c.lastAccepted,
		Buckets:   append([]float64(nil), c.buckets...),
	}
	if c.phase != Tracking {
		return s
	}

	window := c.buckets[len(c.buckets)-c.p.Window:]
	var sum float64
	for _, v := range window {
		sum += v
		s.InstantRate = math.Max(s.InstantRate, v)
	}
	s.AvgRate = sum / float64(len(window))
	s.IsSpike = s.InstantRate > 0 &&
		s.InstantRate >= c.p.SpikeFloor &&
		s.InstantRate >= s.AvgRate*c.p.SpikeFactor
	return s
}

func checkValue(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return fmt.Errorf("%w: %v", ErrInvalidValue, v)
	}
	return nil
}
