package pricing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theirongolddev/tokpulse/internal/model"
)

const sampleCatalog = `{
  "anthropic": {
    "id": "anthropic",
    "models": {
      "claude-sonnet-4-5": {"id": "claude-sonnet-4-5", "cost": {"input": 3, "output": 15, "cache_read": 0.3, "cache_write": 3.75}},
      "claude-embed": {"id": "claude-embed"}
    }
  },
  "openai": {
    "models": {
      "gpt-4o": {"cost": {"input": 2.5, "output": 10}}
    }
  },
  "meta": {"name": "no models here"}
}`

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

type stubSource struct {
	calls atomic.Int32
	cat   Catalog
	err   error
}

func (s *stubSource) Fetch(context.Context) (Catalog, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return s.cat, nil
}

func mustCatalog(t *testing.T) Catalog {
	t.Helper()
	cat, err := ParseCatalog([]byte(sampleCatalog))
	require.NoError(t, err)
	return cat
}

func TestParseCatalog(t *testing.T) {
	cat := mustCatalog(t)

	e, ok := cat.Lookup("anthropic", "Claude-Sonnet-4-5")
	require.True(t, ok)
	assert.Equal(t, model.PricingModelsDev, e.Source)
	assert.Equal(t, 3.0, e.Input)
	require.NotNil(t, e.CacheWrite)
	assert.Equal(t, 3.75, *e.CacheWrite)

	e, ok = cat.Lookup("openai", "gpt-4o-2024-08-06")
	require.True(t, ok, "dated model should resolve through normalization")
	assert.Nil(t, e.CacheRead)

	_, ok = cat.Lookup("anthropic", "claude-embed")
	assert.False(t, ok, "models without cost are skipped")
	assert.Equal(t, 2, cat.Len())
}

func TestParseCatalog_Invalid(t *testing.T) {
	for _, in := range []string{`not json`, `[1,2]`, `{"x": {"models": {}}}`} {
		_, err := ParseCatalog([]byte(in))
		assert.Error(t, err, "input %q", in)
	}
}

func TestCache_TTL(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	src := &stubSource{cat: mustCatalog(t)}
	c := NewCache(src, time.Hour, WithClock(clock.now))
	ctx := context.Background()

	_, err := c.Get(ctx)
	require.NoError(t, err)
	clock.advance(59 * time.Minute)
	_, err = c.Get(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, src.calls.Load(), "fresh catalog must not refetch")

	clock.advance(2 * time.Minute)
	_, err = c.Get(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, src.calls.Load(), "expired catalog must refetch")
}

func TestCache_ServesStaleOnFailure(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	src := &stubSource{cat: mustCatalog(t)}
	c := NewCache(src, time.Hour, WithClock(clock.now))
	ctx := context.Background()

	_, err := c.Get(ctx)
	require.NoError(t, err)

	src.err = errors.New("network down")
	clock.advance(2 * time.Hour)
	cat, err := c.Get(ctx)
	require.NoError(t, err)
	_, ok := cat.Lookup("anthropic", "claude-sonnet-4-5")
	assert.True(t, ok, "stale catalog should still resolve")

	// Within the retry spacing no further fetch is attempted.
	calls := src.calls.Load()
	clock.advance(30 * time.Second)
	_, err = c.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, calls, src.calls.Load())

	c.Clear()
	_, err = c.Get(ctx)
	require.ErrorIs(t, err, ErrNoCatalog)
}

func TestResolver_FallbackWhenLiveUnavailable(t *testing.T) {
	src := &stubSource{err: errors.New("dial tcp: connection refused")}
	r := NewResolver(NewCache(src, time.Hour), NewFallback(), nil)

	e, ok := r.Resolve(context.Background(), "anthropic", "claude-3-5-haiku-20241022")
	require.True(t, ok)
	assert.Equal(t, 0.8, e.Input)
	assert.Equal(t, 4.0, e.Output)
	require.NotNil(t, e.CacheRead)
	require.NotNil(t, e.CacheWrite)
	assert.Equal(t, 0.08, *e.CacheRead)
	assert.Equal(t, 1.0, *e.CacheWrite)
	assert.Equal(t, model.PricingFallback, e.Source)
}

func TestResolver_LivePreferred(t *testing.T) {
	src := &stubSource{cat: mustCatalog(t)}
	r := NewResolver(NewCache(src, time.Hour), NewFallback(), nil)

	e, ok := r.Resolve(context.Background(), "anthropic", "claude-sonnet-4-5")
	require.True(t, ok)
	assert.Equal(t, model.PricingModelsDev, e.Source)

	e, ok = r.Resolve(context.Background(), "anthropic", "claude-opus-4-1")
	require.True(t, ok)
	assert.Equal(t, model.PricingFallback, e.Source)
}

func TestResolver_Unknown(t *testing.T) {
	r := NewResolver(nil, NewFallback(), nil)
	e, ok := r.Resolve(context.Background(), "acme", "rocket-1")
	assert.False(t, ok)
	assert.Equal(t, model.PricingUnknown, e.Source)
}

func TestModelsDevFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api.json" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(sampleCatalog))
	}))
	defer srv.Close()

	cat, err := NewModelsDev(srv.URL + "/api.json").Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, cat.Len())

	_, err = NewModelsDev(srv.URL + "/missing").Fetch(context.Background())
	require.Error(t, err)
}
