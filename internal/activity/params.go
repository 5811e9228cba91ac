package activity

import (
	"errors"
	"fmt"
	"time"
)

// Params tunes a counter. Decay and the spike thresholds are empirical and
// exposed for configuration.
type Params struct {
	Slots          int           // one-second buckets kept
	Window         int           // most recent buckets used for rates
	MinInterval    time.Duration // observations closer than this are deferred
	MaxInterval    time.Duration // cap on dt after idle gaps
	DecayPerSecond float64       // multiplier applied to shifted-in buckets per second
	Epsilon        float64       // decayed values below this become 0
	Ramp           int           // max buckets a burst is spread over
	SpikeFloor     float64       // minimum instant rate for a spike
	SpikeFactor    float64       // instant must reach avg * SpikeFactor
}

// DefaultParams returns the standard tuning.
func DefaultParams() Params {
	return Params{
		Slots:          60,
		Window:         10,
		MinInterval:    500 * time.Millisecond,
		MaxInterval:    10 * time.Second,
		DecayPerSecond: 0.7,
		Epsilon:        0.01,
		Ramp:           6,
		SpikeFloor:     50,
		SpikeFactor:    3,
	}
}

// Validate checks that the parameters describe a usable ring.
func (p Params) Validate() error {
	var errs []error
	if p.Slots < 1 {
		errs = append(errs, fmt.Errorf("slots must be positive, got %d", p.Slots))
	}
	if p.Window < 1 || p.Window > p.Slots {
		errs = append(errs, fmt.Errorf("window must be in [1, %d], got %d", p.Slots, p.Window))
	}
	if p.Ramp < 1 || p.Ramp > p.Slots {
		errs = append(errs, fmt.Errorf("ramp must be in [1, %d], got %d", p.Slots, p.Ramp))
	}
	if p.MinInterval <= 0 || p.MaxInterval < p.MinInterval {
		errs = append(errs, fmt.Errorf("interval bounds invalid: min %s, max %s", p.MinInterval, p.MaxInterval))
	}
	if p.DecayPerSecond <= 0 || p.DecayPerSecond >= 1 {
		errs = append(errs, fmt.Errorf("decay must be in (0, 1), got %v", p.DecayPerSecond))
	}
	if p.Epsilon < 0 || p.SpikeFloor < 0 || p.SpikeFactor < 1 {
		errs = append(errs, errors.New("epsilon and spike floor must be non-negative and spike factor at least 1"))
	}
	return errors.Join(errs...)
}
