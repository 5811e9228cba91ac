package activity

import (
	"sort"
	"sync"
	"time"
)

// GlobalCounter is the conventional id for the all-sources total.
const GlobalCounter = "global"

// Estimator owns one Counter per id. Counters are created on first
// observation and dropped with Forget or Retain.
type Estimator struct {
	p Params

	mu       sync.RWMutex
	counters map[string]*Counter
}

// NewEstimator validates p and returns an empty estimator.
func NewEstimator(p Params) (*Estimator, error) {
	if _, err := NewCounter(p); err != nil {
		return nil, err
	}
	return &Estimator{p: p, counters: make(map[string]*Counter)}, nil
}

// Observe feeds counter id. An invalid value is rejected before any counter
// is created.
func (e *Estimator) Observe(id string, value float64, now time.Time) (State, error) {
	if err := checkValue(value); err != nil {
		return State{}, err
	}
	return e.counter(id).Observe(value, now)
}

// Tick shifts and decays every counter.
func (e *Estimator) Tick(now time.Time) {
	e.mu.RLock()
	counters := make([]*Counter, 0, len(e.counters))
	for _, c := range e.counters {
		counters = append(counters, c)
	}
	e.mu.RUnlock()

	for _, c := range counters {
		c.Tick(now)
	}
}

// State returns the view of counter id, if it exists.
func (e *Estimator) State(id string) (State, bool) {
	e.mu.RLock()
	c, ok := e.counters[id]
	e.mu.RUnlock()
	if !ok {
		return State{}, false
	}
	return c.State(), true
}

// Forget discards counter id.
func (e *Estimator) Forget(id string) {
	e.mu.Lock()
	delete(e.counters, id)
	e.mu.Unlock()
}

// Retain discards every counter whose id is not in keep and returns how many
// were dropped.
func (e *Estimator) Retain(keep []string) int {
	set := make(map[string]struct{}, len(keep))
	for _, id := range keep {
		set[id] = struct{}{}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	dropped := 0
	for id := range e.counters {
		if _, ok := set[id]; !ok {
			delete(e.counters, id)
			dropped++
		}
	}
	return dropped
}

// Counters lists tracked ids in sorted order.
func (e *Estimator) Counters() []string {
	e.mu.RLock()
	ids := make([]string, 0, len(e.counters))
	for id := range e.counters {
		ids = append(ids, id)
	}
	e.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

func (e *Estimator) counter(id string) *Counter {
	e.mu.RLock()
	c, ok := e.counters[id]
	e.mu.RUnlock()
	if ok {
		return c
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok = e.counters[id]; ok {
		return c
	}
	c = &Counter{p: e.p, buckets: make([]float64, e.p.Slots)}
	e.counters[id] = c
	return c
}
