// Package poller runs one concurrent fetch per provider per cycle. Each
// provider has its own timeout, retry policy, circuit breaker and minimum
// poll spacing, and failures are kept on that provider's Result.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/theirongolddev/tokpulse/internal/provider"
)

// Config tunes every provider task.
type Config struct {
	Timeout     time.Duration
	MaxRetries  int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MinInterval time.Duration

	// BreakerThreshold consecutive failures open the breaker for BreakerOpen.
	BreakerThreshold uint32
	BreakerOpen      time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:          10 * time.Second,
		MaxRetries:       2,
		BaseDelay:        500 * time.Millisecond,
		MaxDelay:         5 * time.Second,
		MinInterval:      30 * time.Second,
		BreakerThreshold: 5,
		BreakerOpen:      time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = d.BaseDelay
	}
	if c.MaxDelay <= c.BaseDelay {
		c.MaxDelay = c.BaseDelay * 10
	}
	if c.BreakerThreshold == 0 {
		c.BreakerThreshold = d.BreakerThreshold
	}
	if c.BreakerOpen <= 0 {
		c.BreakerOpen = d.BreakerOpen
	}
	return c
}

type task struct {
	p       provider.Provider
	creds   provider.Credentials
	exec    failsafe.Executor[provider.Result]
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

// Poller polls a fixed set of providers.
type Poller struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
	tasks  []*task

	mu   sync.RWMutex
	last map[string]provider.Result
	good map[string]provider.Result
}

// Option configures a Poller.
type Option func(*Poller)

// WithClock overrides the time source stamped on failed results.
func WithClock(now func() time.Time) Option {
	return func(p *Poller) { p.now = now }
}

// New builds a poller for every provider in reg. creds is keyed by provider id.
func New(reg *provider.Registry, creds map[string]provider.Credentials, cfg Config, logger *zap.Logger, opts ...Option) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	p := &Poller{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		last:   make(map[string]provider.Result),
		good:   make(map[string]provider.Result),
	}
	for _, opt := range opts {
		opt(p)
	}

	for _, prov := range reg.All() {
		id := prov.ID()
		limit := rate.Inf
		if cfg.MinInterval > 0 {
			limit = rate.Every(cfg.MinInterval)
		}
		p.tasks = append(p.tasks, &task{
			p:       prov,
			creds:   creds[id],
			exec:    failsafe.With[provider.Result](newRetryPolicy(cfg)),
			breaker: newBreaker(id, cfg, logger),
			limiter: rate.NewLimiter(limit, 1),
		})
	}
	return p
}

func newRetryPolicy(cfg Config) retrypolicy.RetryPolicy[provider.Result] {
	return retrypolicy.NewBuilder[provider.Result]().
		HandleIf(func(_ provider.Result, err error) bool { return provider.Retryable(err) }).
		WithMaxRetries(cfg.MaxRetries).
		WithBackoff(cfg.BaseDelay, cfg.MaxDelay).
		WithJitter(cfg.BaseDelay / 2).
		ReturnLastFailure().
		Build()
}

func newBreaker(id string, cfg Config, logger *zap.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    id,
		Timeout: cfg.BreakerOpen,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, provider.ErrMissingCredentials)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("provider breaker state changed",
				zap.String("provider", name), zap.Stringer("from", from), zap.Stringer("to", to))
		},
	})
}

// PollAll polls every provider concurrently and returns one fresh result per
// provider, ordered by id. It returns once every provider task has finished.
func (p *Poller) PollAll(ctx context.Context) []provider.Result {
	results := make([]provider.Result, len(p.tasks))
	var g errgroup.Group
	for i, t := range p.tasks {
		g.Go(func() error {
			results[i] = p.poll(ctx, t)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Poll polls the single provider id.
func (p *Poller) Poll(ctx context.Context, id string) (provider.Result, bool) {
	for _, t := range p.tasks {
		if t.p.ID() == id {
			return p.poll(ctx, t), true
		}
	}
	return provider.Result{}, false
}

func (p *Poller) poll(ctx context.Context, t *task) provider.Result {
	id := t.p.ID()
	if !t.limiter.Allow() {
		p.mu.RLock()
		prev, ok := p.last[id]
		p.mu.RUnlock()
		if ok {
			return prev
		}
	}

	tctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	out, err := t.breaker.Execute(func() (any, error) {
		return t.exec.WithContext(tctx).Get(func() (provider.Result, error) {
			r := t.p.FetchUsage(tctx, t.creds)
			if r.Err == nil && r.Error != "" {
				r.Err = errors.New(r.Error)
			}
			return r, r.Err
		})
	})

	res, _ := out.(provider.Result)
	if res.Provider == "" {
		res = provider.Failed(id, p.now(), err)
	}
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = fmt.Errorf("%s: circuit open: %w", id, err)
		}
		res.SetErr(err)
		p.logger.Warn("provider poll failed", zap.String("provider", id), zap.Error(err))
	}

	p.mu.Lock()
	p.last[id] = res
	if res.OK() {
		p.good[id] = res
	}
	p.mu.Unlock()
	return res
}

// Last returns the latest state of every provider that has been polled,
// ordered by id. A provider whose latest poll failed reports its last
// successful values together with the new error.
func (p *Poller) Last() []provider.Result {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]provider.Result, 0, len(p.last))
	for _, t := range p.tasks {
		id := t.p.ID()
		r, ok := p.last[id]
		if !ok {
			continue
		}
		if !r.OK() {
			if good, ok := p.good[id]; ok {
				merged := good
				merged.SetErr(r.Err)
				if merged.Err == nil {
					merged.Error = r.Error
				}
				r = merged
			}
		}
		out = append(out, r)
	}
	return out
}

// IDs returns the polled provider ids in order.
func (p *Poller) IDs() []string {
	ids := make([]string, len(p.tasks))
	for i, t := range p.tasks {
		ids[i] = t.p.ID()
	}
	return ids
}
