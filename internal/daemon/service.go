// Package daemon provides the long-running background usage monitor service.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/theirongolddev/tokpulse/internal/activity"
	"github.com/theirongolddev/tokpulse/internal/model"
	"github.com/theirongolddev/tokpulse/internal/pipeline"
	"github.com/theirongolddev/tokpulse/internal/poller"
	"github.com/theirongolddev/tokpulse/internal/pricing"
	"github.com/theirongolddev/tokpulse/internal/provider"
	"github.com/theirongolddev/tokpulse/internal/source"
	"github.com/theirongolddev/tokpulse/internal/store"
)

const (
	DefaultAddr         = "127.0.0.1:8787"
	DefaultInterval     = 5 * time.Second
	DefaultEventsBuffer = 200

	minInterval = 500 * time.Millisecond
	tickEvery   = time.Second
)

// Config controls the daemon runtime behavior.
type Config struct {
	// Addr is the HTTP listen address. An empty Addr disables the HTTP
	// server; Handler still works.
	Addr             string
	Interval         time.Duration
	ActiveThreshold  time.Duration
	SessionWindow    time.Duration
	BucketMinutes    int
	EventsBuffer     int
	MonthlyBudgetUSD *float64
}

// Deps are the collaborators a Service drives. Store and Loader are
// required; the rest are optional.
type Deps struct {
	Store     *store.Store
	Loader    *source.Loader
	Poller    *poller.Poller
	Resolver  *pricing.Resolver
	Estimator *activity.Estimator
	Watcher   *source.Watcher
	Logger    *zap.Logger
	Now       func() time.Time
}

// Snapshot is a compact usage state for status/event payloads.
type Snapshot struct {
	At              time.Time `json:"at"`
	Sessions        int       `json:"sessions"`
	ActiveSessions  int       `json:"activeSessions"`
	Requests        int       `json:"requests"`
	Tokens          int64     `json:"tokens"`
	CostUSD         float64   `json:"costUsd"`
	TokensPerSecond float64   `json:"tokensPerSecond"`
	IsSpike         bool      `json:"isSpike"`
}

// Delta captures snapshot deltas between refreshes.
type Delta struct {
	Sessions int     `json:"sessions"`
	Requests int     `json:"requests"`
	Tokens   int64   `json:"tokens"`
	CostUSD  float64 `json:"costUsd"`
}

func (d Delta) isZero() bool {
	return d.Sessions == 0 &&
		d.Requests == 0 &&
		d.Tokens == 0 &&
		d.CostUSD == 0
}

// Event is emitted whenever the usage snapshot changes.
type Event struct {
	ID        int64     `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Snapshot  Snapshot  `json:"snapshot"`
	Delta     Delta     `json:"delta"`
}

// Status is served at /v1/status.
type Status struct {
	InstanceID        string            `json:"instanceId"`
	StartedAt         time.Time         `json:"startedAt"`
	LastRefreshAt     time.Time         `json:"lastRefreshAt"`
	RefreshIntervalMs int64             `json:"refreshIntervalMs"`
	RefreshCount      int64             `json:"refreshCount"`
	Summary           Snapshot          `json:"summary"`
	Providers         []provider.Result `json:"providers"`
	LastError         string            `json:"lastError,omitempty"`
	EventCount        int               `json:"eventCount"`
	SubscriberCount   int               `json:"subscriberCount"`
}

// Service provides the daemon runtime and HTTP API.
type Service struct {
	cfg  Config
	deps Deps
	log  *zap.Logger
	now  func() time.Time

	instanceID string
	refreshCh  chan struct{}

	// refreshMu serializes refresh cycles; the aggregator's row set and the
	// estimator's counters have a single writer.
	refreshMu sync.Mutex
	recorded  map[string]time.Time

	mu           sync.RWMutex
	startedAt    time.Time
	lastRefresh  time.Time
	refreshCount int64
	lastError    string
	hasSnapshot  bool
	snapshot     Snapshot
	sessions     []model.SessionAggregate
	nextEventID  int64
	events       []Event

	nextSubID int
	subs      map[int]chan Event
}

// New returns a daemon service with the provided config and collaborators.
func New(cfg Config, deps Deps) (*Service, error) {
	if deps.Store == nil {
		return nil, errors.New("daemon: store is required")
	}
	if deps.Loader == nil {
		return nil, errors.New("daemon: loader is required")
	}
	if cfg.Interval < minInterval {
		cfg.Interval = DefaultInterval
	}
	if cfg.EventsBuffer < 1 {
		cfg.EventsBuffer = DefaultEventsBuffer
	}
	if cfg.ActiveThreshold <= 0 {
		cfg.ActiveThreshold = pipeline.DefaultActiveThreshold
	}
	if cfg.SessionWindow <= 0 {
		cfg.SessionWindow = 24 * time.Hour
	}
	if cfg.BucketMinutes <= 0 {
		cfg.BucketMinutes = 60
	}
	if deps.Estimator == nil {
		est, err := activity.NewEstimator(activity.DefaultParams())
		if err != nil {
			return nil, fmt.Errorf("daemon: create estimator: %w", err)
		}
		deps.Estimator = est
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	return &Service{
		cfg:        cfg,
		deps:       deps,
		log:        deps.Logger.Named("daemon"),
		now:        now,
		instanceID: uuid.NewString(),
		refreshCh:  make(chan struct{}, 1),
		recorded:   make(map[string]time.Time),
		startedAt:  now(),
		subs:       make(map[int]chan Event),
	}, nil
}

// InstanceID identifies this daemon run in status payloads and SSE ids.
func (s *Service) InstanceID() string { return s.instanceID }

// RefreshNow asks the refresh loop to run a cycle as soon as possible.
// Requests made while one is already pending are coalesced.
func (s *Service) RefreshNow() {
	select {
	case s.refreshCh <- struct{}{}:
	default:
	}
}

// Run starts the HTTP server, the refresh loop, the 1 Hz activity tick and
// the optional file watcher, and blocks until ctx is canceled or one of them
// fails. In-flight refreshes finish before Run returns.
func (s *Service) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if s.cfg.Addr != "" {
		server := &http.Server{
			Addr:              s.cfg.Addr,
			Handler:           s.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("daemon http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
		s.log.Info("listening", zap.String("addr", s.cfg.Addr), zap.String("instance", s.instanceID))
	}

	var dirty <-chan struct{}
	if w := s.deps.Watcher; w != nil {
		dirty = w.Events()
		g.Go(func() error { return w.Run(gctx) })
	}

	g.Go(func() error { return s.refreshLoop(gctx, dirty) })
	g.Go(func() error { return s.tickLoop(gctx) })

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Service) refreshLoop(ctx context.Context, dirty <-chan struct{}) error {
	// Seed initial snapshot so status is useful immediately.
	s.refreshOnce(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-dirty:
			s.log.Debug("session files changed")
		case <-s.refreshCh:
		}
		s.refreshOnce(ctx)
	}
}

func (s *Service) tickLoop(ctx context.Context) error {
	ticker := time.NewTicker(tickEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.deps.Estimator.Tick(s.now())
		}
	}
}

// refreshOnce runs one poll → ingest → aggregate → persist → rate cycle.
// Errors are recorded on the status, never returned.
func (s *Service) refreshOnce(ctx context.Context) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	if ctx.Err() != nil {
		return
	}

	now := s.now()
	var errs []error

	s.pollProviders(ctx, &errs)

	var prices pricing.Lookup
	if s.deps.Resolver != nil {
		prices = s.deps.Resolver.Table(ctx)
	}

	lastSeen, err := s.ingest(ctx, prices)
	if err != nil {
		errs = append(errs, err)
	}

	aggs, err := s.aggregate(ctx, now, lastSeen, prices)
	if err != nil {
		errs = append(errs, err)
	}

	if err := s.observe(ctx, aggs, now); err != nil {
		errs = append(errs, err)
	}

	snap := snapshotFromSessions(aggs, now)
	if st, ok := s.deps.Estimator.State(activity.GlobalCounter); ok {
		snap.TokensPerSecond = st.AvgRate
		snap.IsSpike = st.IsSpike
	}

	joined := errors.Join(errs...)
	if joined != nil && ctx.Err() == nil {
		s.log.Warn("refresh failed", zap.Error(joined))
	}
	s.commit(snap, aggs, joined, now)
}

func (s *Service) pollProviders(ctx context.Context, errs *[]error) {
	if s.deps.Poller == nil {
		return
	}
	for _, r := range s.deps.Poller.PollAll(ctx) {
		if !r.FetchedAt.After(s.recorded[r.Provider]) {
			// Rate-limited polls hand back the previous result.
			continue
		}
		if _, err := s.deps.Store.RecordSnapshot(ctx, r.Snapshot()); err != nil {
			*errs = append(*errs, fmt.Errorf("record %s snapshot: %w", r.Provider, err))
			continue
		}
		s.recorded[r.Provider] = r.FetchedAt
		if r.Err != nil {
			s.log.Info("provider degraded", zap.String("provider", r.Provider), zap.Error(r.Err))
		}
	}
}

// ingest persists the events of changed session files, pricing them first
// so rollups and summaries carry costs.
func (s *Service) ingest(ctx context.Context, prices pricing.Lookup) (map[model.SessionKey]time.Time, error) {
	res, err := s.deps.Loader.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}
	if len(res.Events) > 0 {
		pipeline.PriceEvents(res.Events, prices)
		ar, err := s.deps.Store.AppendEvents(ctx, res.Events)
		if err != nil {
			return res.LastSeen, fmt.Errorf("append events: %w", err)
		}
		if ar.RowErrors != nil {
			s.log.Debug("rejected usage rows", zap.Int("rejected", ar.Rejected), zap.Error(ar.RowErrors))
		}
		s.log.Debug("ingested",
			zap.Int("inserted", ar.Inserted),
			zap.Int("updated", ar.Updated),
			zap.Int("duplicates", ar.Duplicates),
			zap.Int("reparsed", res.Reparsed),
		)
	}
	if err := s.deps.Loader.Commit(ctx, res); err != nil {
		return res.LastSeen, fmt.Errorf("commit file tracker: %w", err)
	}
	return res.LastSeen, nil
}

func (s *Service) aggregate(ctx context.Context, now time.Time, lastSeen map[model.SessionKey]time.Time, prices pricing.Lookup) ([]model.SessionAggregate, error) {
	rows, err := s.deps.Store.ListEvents(ctx, store.EventFilter{ActiveSince: now.Add(-s.cfg.SessionWindow)})
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}

	aggs := pipeline.AggregateSessions(rows, now, pipeline.Options{
		ActiveThreshold: s.cfg.ActiveThreshold,
		LastSeen:        lastSeen,
		Prices:          prices,
	})

	if err := s.deps.Store.SaveSessions(ctx, aggs, now); err != nil {
		return aggs, fmt.Errorf("save sessions: %w", err)
	}
	return aggs, nil
}

// observe feeds cumulative token totals into the activity estimator: one
// counter per live session plus the all-time global total.
func (s *Service) observe(ctx context.Context, aggs []model.SessionAggregate, now time.Time) error {
	est := s.deps.Estimator
	keep := []string{activity.GlobalCounter}

	for _, a := range aggs {
		id := a.Key().String()
		keep = append(keep, id)
		if _, err := est.Observe(id, float64(a.Totals.Total()), now); err != nil {
			return fmt.Errorf("observe session %s: %w", id, err)
		}
	}

	sum, err := s.deps.Store.Summary(ctx, time.UnixMilli(0), now)
	if err != nil {
		return fmt.Errorf("summary: %w", err)
	}
	if _, err := est.Observe(activity.GlobalCounter, float64(sum.TotalTokens()), now); err != nil {
		return fmt.Errorf("observe global: %w", err)
	}

	if dropped := est.Retain(keep); dropped > 0 {
		s.log.Debug("dropped idle counters", zap.Int("count", dropped))
	}
	return nil
}

func (s *Service) commit(snap Snapshot, aggs []model.SessionAggregate, refreshErr error, now time.Time) {
	var (
		ev      Event
		publish bool
	)

	s.mu.Lock()
	prev := s.snapshot
	prevExists := s.hasSnapshot

	s.lastRefresh = now
	s.refreshCount++
	s.lastError = ""
	if refreshErr != nil {
		s.lastError = refreshErr.Error()
	}
	if aggs != nil || refreshErr == nil {
		s.sessions = aggs
		s.hasSnapshot = true
		s.snapshot = snap
	}

	switch {
	case !s.hasSnapshot:
	case !prevExists:
		s.nextEventID++
		ev = Event{ID: s.nextEventID, Type: "snapshot", Timestamp: now, Snapshot: snap}
		publish = true
	default:
		delta := diffSnapshots(prev, snap)
		if !delta.isZero() {
			s.nextEventID++
			ev = Event{ID: s.nextEventID, Type: "usage_delta", Timestamp: now, Snapshot: snap, Delta: delta}
			publish = true
		}
	}
	s.mu.Unlock()

	if publish {
		s.publishEvent(ev)
	}
}

func snapshotFromSessions(aggs []model.SessionAggregate, at time.Time) Snapshot {
	costs := lo.FilterMap(aggs, func(a model.SessionAggregate, _ int) (float64, bool) {
		return model.Deref(a.CostUSD), a.CostUSD != nil
	})
	return Snapshot{
		At:       at,
		Sessions: len(aggs),
		ActiveSessions: lo.CountBy(aggs, func(a model.SessionAggregate) bool {
			return a.Status == model.StatusActive
		}),
		Requests: lo.SumBy(aggs, func(a model.SessionAggregate) int { return a.RequestCount }),
		Tokens:   lo.SumBy(aggs, func(a model.SessionAggregate) int64 { return a.Totals.Total() }),
		CostUSD:  pricing.SumUSD(costs...),
	}
}

func diffSnapshots(prev, curr Snapshot) Delta {
	return Delta{
		Sessions: curr.Sessions - prev.Sessions,
		Requests: curr.Requests - prev.Requests,
		Tokens:   curr.Tokens - prev.Tokens,
		CostUSD:  pricing.RoundUSD(curr.CostUSD - prev.CostUSD),
	}
}

func (s *Service) publishEvent(ev Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	if len(s.events) > s.cfg.EventsBuffer {
		s.events = s.events[len(s.events)-s.cfg.EventsBuffer:]
	}

	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	s.mu.Unlock()
}

func (s *Service) status() Status {
	var providers []provider.Result
	if s.deps.Poller != nil {
		providers = s.deps.Poller.Last()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return Status{
		InstanceID:        s.instanceID,
		StartedAt:         s.startedAt,
		LastRefreshAt:     s.lastRefresh,
		RefreshIntervalMs: s.cfg.Interval.Milliseconds(),
		RefreshCount:      s.refreshCount,
		Summary:           s.snapshot,
		Providers:         providers,
		LastError:         s.lastError,
		EventCount:        len(s.events),
		SubscriberCount:   len(s.subs),
	}
}

// Sessions returns the aggregates of the last refresh.
func (s *Service) Sessions() []model.SessionAggregate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.SessionAggregate, len(s.sessions))
	copy(out, s.sessions)
	return out
}

func (s *Service) addSubscriber(ch chan Event) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSubID++
	id := s.nextSubID
	s.subs[id] = ch
	return id
}

func (s *Service) removeSubscriber(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, id)
}
