package pricing

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/theirongolddev/tokpulse/internal/model"
)

// DefaultURL is the public models.dev catalog.
const DefaultURL = "https://models.dev/api.json"

const (
	fetchTimeout   = 10 * time.Second
	maxCatalogSize = 32 << 20
)

// Catalog maps provider id to lowercase model id to pricing.
type Catalog map[string]map[string]model.PricingEntry

// Lookup finds an exact (case-insensitive) entry, trying the normalized
// model name second.
func (c Catalog) Lookup(provider, modelID string) (model.PricingEntry, bool) {
	models := c[CanonicalProvider(provider)]
	if len(models) == 0 {
		return model.PricingEntry{}, false
	}
	raw := strings.ToLower(strings.TrimSpace(modelID))
	if e, ok := models[raw]; ok {
		return e, true
	}
	e, ok := models[NormalizeModelName(raw)]
	return e, ok
}

// Len returns the number of priced models across providers.
func (c Catalog) Len() int {
	n := 0
	for _, models := range c {
		n += len(models)
	}
	return n
}

// ParseCatalog reads the models.dev api.json shape:
//
//	{"anthropic": {"models": {"claude-...": {"cost": {"input": 3, "output": 15, "cache_read": 0.3, "cache_write": 3.75}}}}}
//
// Models without a cost block are skipped.
func ParseCatalog(data []byte) (Catalog, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.New("parsing pricing catalog: invalid JSON")
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, errors.New("parsing pricing catalog: top level is not an object")
	}

	cat := make(Catalog)
	root.ForEach(func(pk, prov gjson.Result) bool {
		models := prov.Get("models")
		if !models.IsObject() {
			return true
		}
		provider := CanonicalProvider(pk.String())
		models.ForEach(func(mk, m gjson.Result) bool {
			cost := m.Get("cost")
			in, out := cost.Get("input"), cost.Get("output")
			if !in.Exists() && !out.Exists() {
				return true
			}
			e := model.PricingEntry{
				Provider: provider,
				Model:    mk.String(),
				Input:    in.Float(),
				Output:   out.Float(),
				Source:   model.PricingModelsDev,
			}
			if v := cost.Get("cache_read"); v.Exists() {
				e.CacheRead = model.Rate(v.Float())
			}
			if v := cost.Get("cache_write"); v.Exists() {
				e.CacheWrite = model.Rate(v.Float())
			}
			if cat[provider] == nil {
				cat[provider] = make(map[string]model.PricingEntry)
			}
			cat[provider][strings.ToLower(mk.String())] = e
			return true
		})
		return true
	})
	if len(cat) == 0 {
		return nil, errors.New("parsing pricing catalog: no priced models")
	}
	return cat, nil
}

// Source produces a pricing catalog.
type Source interface {
	Fetch(ctx context.Context) (Catalog, error)
}

// ModelsDev fetches the catalog over HTTP.
type ModelsDev struct {
	URL    string
	Client *http.Client
}

// NewModelsDev returns a source for url, or DefaultURL when empty.
func NewModelsDev(url string) *ModelsDev {
	if url == "" {
		url = DefaultURL
	}
	return &ModelsDev{URL: url, Client: http.DefaultClient}
}

// Fetch downloads and parses the catalog.
func (m *ModelsDev) Fetch(ctx context.Context) (Catalog, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := m.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching pricing catalog: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching pricing catalog: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCatalogSize))
	if err != nil {
		return nil, fmt.Errorf("reading pricing catalog: %w", err)
	}
	return ParseCatalog(body)
}
