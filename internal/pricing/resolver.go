// Package pricing resolves per-model token rates and estimates costs.
//
// Rates come from the live models.dev catalog when available, then from a
// static per-provider fallback table. A model found in neither is unknown.
package pricing

import (
	"context"

	"go.uber.org/zap"

	"github.com/theirongolddev/tokpulse/internal/model"
)

// Lookup resolves rates without I/O.
type Lookup interface {
	Lookup(provider, modelID string) (model.PricingEntry, bool)
}

// Table is an immutable view over a catalog snapshot and the fallback table.
type Table struct {
	live     Catalog
	fallback *Fallback
}

// NewTable builds a view. Either argument may be nil.
func NewTable(live Catalog, fallback *Fallback) Table {
	return Table{live: live, fallback: fallback}
}

// Lookup tries the live catalog, then the fallback table. When neither has
// the model the returned entry has Source unknown and ok is false.
func (t Table) Lookup(provider, modelID string) (model.PricingEntry, bool) {
	if e, ok := t.live.Lookup(provider, modelID); ok {
		return e, true
	}
	if e, ok := t.fallback.Match(provider, modelID); ok {
		return e, true
	}
	return model.PricingEntry{
		Provider: CanonicalProvider(provider),
		Model:    modelID,
		Source:   model.PricingUnknown,
	}, false
}

// Resolver owns the live cache and the fallback table.
type Resolver struct {
	cache    *Cache
	fallback *Fallback
	logger   *zap.Logger
}

// NewResolver returns a resolver. A nil cache disables the live source.
func NewResolver(cache *Cache, fallback *Fallback, logger *zap.Logger) *Resolver {
	if fallback == nil {
		fallback = NewFallback()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{cache: cache, fallback: fallback, logger: logger}
}

// Table returns a snapshot for pure lookups, refreshing the live catalog if
// its TTL has elapsed.
func (r *Resolver) Table(ctx context.Context) Table {
	if r.cache == nil {
		return NewTable(nil, r.fallback)
	}
	live, err := r.cache.Get(ctx)
	if err != nil {
		r.logger.Debug("live pricing unavailable", zap.Error(err))
	}
	return NewTable(live, r.fallback)
}

// Resolve looks up a single provider/model.
func (r *Resolver) Resolve(ctx context.Context, provider, modelID string) (model.PricingEntry, bool) {
	return r.Table(ctx).Lookup(provider, modelID)
}

// Clear drops the cached live catalog.
func (r *Resolver) Clear() {
	if r.cache != nil {
		r.cache.Clear()
	}
}
