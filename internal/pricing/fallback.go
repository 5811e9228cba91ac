package pricing

import (
	"sort"
	"strings"

	"github.com/theirongolddev/tokpulse/internal/model"
)

func rates(modelID string, input, output, cacheRead, cacheWrite float64) model.PricingEntry {
	e := model.PricingEntry{Model: modelID, Input: input, Output: output, Source: model.PricingFallback}
	if cacheRead > 0 {
		e.CacheRead = model.Rate(cacheRead)
	}
	if cacheWrite > 0 {
		e.CacheWrite = model.Rate(cacheWrite)
	}
	return e
}

// defaultRates is the static table used when the live catalog has no entry.
// Cache writes are priced at the 5-minute tier.
var defaultRates = map[string][]model.PricingEntry{
	"anthropic": {
		rates("claude-opus-4-6", 5.00, 25.00, 0.50, 6.25),
		rates("claude-opus-4-5", 5.00, 25.00, 0.50, 6.25),
		rates("claude-opus-4-1", 15.00, 75.00, 1.50, 18.75),
		rates("claude-opus-4", 15.00, 75.00, 1.50, 18.75),
		rates("claude-sonnet-4-6", 3.00, 15.00, 0.30, 3.75),
		rates("claude-sonnet-4-5", 3.00, 15.00, 0.30, 3.75),
		rates("claude-sonnet-4", 3.00, 15.00, 0.30, 3.75),
		rates("claude-haiku-4-5", 1.00, 5.00, 0.10, 1.25),
		rates("claude-3-7-sonnet", 3.00, 15.00, 0.30, 3.75),
		rates("claude-3-5-sonnet", 3.00, 15.00, 0.30, 3.75),
		rates("claude-3-5-haiku", 0.80, 4.00, 0.08, 1.00),
		rates("claude-haiku-3-5", 0.80, 4.00, 0.08, 1.00),
		rates("claude-3-opus", 15.00, 75.00, 1.50, 18.75),
		rates("claude-3-haiku", 0.25, 1.25, 0.03, 0.30),
	},
	"openai": {
		rates("gpt-5", 1.25, 10.00, 0.125, 0),
		rates("gpt-5-codex", 1.25, 10.00, 0.125, 0),
		rates("gpt-5-mini", 0.25, 2.00, 0.025, 0),
		rates("gpt-4.1", 2.00, 8.00, 0.50, 0),
		rates("gpt-4.1-mini", 0.40, 1.60, 0.10, 0),
		rates("gpt-4o", 2.50, 10.00, 1.25, 0),
		rates("gpt-4o-mini", 0.15, 0.60, 0.075, 0),
		rates("o3", 2.00, 8.00, 0.50, 0),
		rates("o4-mini", 1.10, 4.40, 0.275, 0),
		rates("codex-mini-latest", 1.50, 6.00, 0.375, 0),
	},
	"google": {
		rates("gemini-2.5-pro", 1.25, 10.00, 0.31, 0),
		rates("gemini-2.5-flash", 0.30, 2.50, 0.075, 0),
		rates("gemini-2.0-flash", 0.10, 0.40, 0.025, 0),
	},
}

var providerAliases = map[string]string{
	"claude":      "anthropic",
	"claude-code": "anthropic",
	"claudeai":    "anthropic",
	"codex":       "openai",
	"gemini":      "google",
	"vertex":      "google",
}

// CanonicalProvider lowercases a provider id and resolves known aliases.
func CanonicalProvider(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	if alias, ok := providerAliases[id]; ok {
		return alias
	}
	return id
}

// Fallback is the static per-provider rate table. Entries are kept longest
// model id first so substring matching prefers the most specific entry.
type Fallback struct {
	entries map[string][]model.PricingEntry
}

// NewFallback builds the table from the built-in rates plus overrides.
// An override replaces a built-in entry with the same provider and model.
func NewFallback(overrides ...model.PricingEntry) *Fallback {
	f := &Fallback{entries: make(map[string][]model.PricingEntry, len(defaultRates))}
	for provider, list := range defaultRates {
		for _, e := range list {
			e.Provider = provider
			f.put(e)
		}
	}
	for _, e := range overrides {
		e.Provider = CanonicalProvider(e.Provider)
		e.Source = model.PricingFallback
		f.put(e)
	}
	for provider := range f.entries {
		list := f.entries[provider]
		sort.SliceStable(list, func(i, j int) bool {
			if len(list[i].Model) != len(list[j].Model) {
				return len(list[i].Model) > len(list[j].Model)
			}
			return list[i].Model < list[j].Model
		})
	}
	return f
}

func (f *Fallback) put(e model.PricingEntry) {
	e.Model = strings.ToLower(e.Model)
	list := f.entries[e.Provider]
	for i := range list {
		if list[i].Model == e.Model {
			list[i] = e
			return
		}
	}
	f.entries[e.Provider] = append(list, e)
}

// Match finds an entry by exact model id (after normalization), then by
// substring containment in either direction.
func (f *Fallback) Match(provider, modelID string) (model.PricingEntry, bool) {
	if f == nil {
		return model.PricingEntry{}, false
	}
	list := f.entries[CanonicalProvider(provider)]
	raw := strings.ToLower(strings.TrimSpace(modelID))
	if raw == "" || len(list) == 0 {
		return model.PricingEntry{}, false
	}

	normalized := NormalizeModelName(raw)
	for _, e := range list {
		if e.Model == raw || e.Model == normalized {
			return e, true
		}
	}
	for _, e := range list {
		if strings.Contains(normalized, e.Model) || strings.Contains(e.Model, normalized) {
			return e, true
		}
	}
	return model.PricingEntry{}, false
}

// NormalizeModelName strips a vendor prefix and a trailing date suffix.
// e.g. "anthropic/claude-opus-4-5-20251101" -> "claude-opus-4-5"
func NormalizeModelName(raw string) string {
	name := strings.ToLower(strings.TrimSpace(raw))
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimSuffix(name, "-latest")

	// Models can carry date suffixes like -20251101 or -2024-07-18.
	parts := strings.Split(name, "-")
	if len(parts) >= 2 {
		last := parts[len(parts)-1]
		if isAllDigits(last) && len(last) >= 8 {
			return strings.Join(parts[:len(parts)-1], "-")
		}
	}
	if len(parts) >= 4 {
		y, m, d := parts[len(parts)-3], parts[len(parts)-2], parts[len(parts)-1]
		if len(y) == 4 && len(m) == 2 && len(d) == 2 && isAllDigits(y+m+d) {
			return strings.Join(parts[:len(parts)-3], "-")
		}
	}
	return name
}

func isAllDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return len(s) > 0
}
