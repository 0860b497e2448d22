// Package symbols resolves the authoritative, exchange-recognized symbol
// set from the on-disk configuration, caching the reference-data lookup
// and performing a one-shot cleanup of invalid entries.
package symbols

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"tradeingest/internal/trade"
	"tradeingest/pkg/logger"
)

const (
	minLen = 4
	maxLen = 12

	referenceEndpoint = "https://api.binance.com/api/v3/exchangeInfo"
	cacheTTL          = 10 * time.Minute
)

// ConfigReader reads the symbol array and the path of the backing file, so
// Resolver can rewrite it during cleanup without owning config parsing
// itself.
type ConfigReader interface {
	Symbols() []string
	Path() string
}

// ReferenceLookup resolves the set of symbols the exchange currently
// recognizes. Exposed as an interface so tests can stub it without hitting
// the network.
type ReferenceLookup interface {
	RecognizedSymbols(ctx context.Context) (map[string]struct{}, error)
}

// HTTPReferenceLookup calls Binance's public exchangeInfo endpoint.
type HTTPReferenceLookup struct {
	Client *http.Client
}

// NewHTTPReferenceLookup returns a lookup with a bounded-timeout client.
func NewHTTPReferenceLookup() *HTTPReferenceLookup {
	return &HTTPReferenceLookup{Client: &http.Client{Timeout: 5 * time.Second}}
}

type exchangeInfoResponse struct {
	Symbols []struct {
		Symbol string `json:"symbol"`
	} `json:"symbols"`
}

// RecognizedSymbols fetches and parses the reference-data endpoint,
// retrying transient failures a few times with a fixed backoff before the
// caller falls back to degraded (format-only) validation.
func (h *HTTPReferenceLookup) RecognizedSymbols(ctx context.Context) (map[string]struct{}, error) {
	op := func() (map[string]struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, referenceEndpoint, nil)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		resp, err := h.Client.Do(req)
		if err != nil {
			return nil, err // transient: retry
		}
		defer resp.Body.Close()

		var parsed exchangeInfoResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return nil, backoff.Permanent(err)
		}

		out := make(map[string]struct{}, len(parsed.Symbols))
		for _, s := range parsed.Symbols {
			out[strings.ToUpper(s.Symbol)] = struct{}{}
		}
		return out, nil
	}

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(200*time.Millisecond)),
		backoff.WithMaxTries(3),
	)
}

type cacheEntry struct {
	recognized map[string]struct{}
	expiresAt  time.Time
}

// Resolver exposes Resolve, returning the current authoritative symbol set.
type Resolver struct {
	cfg    ConfigReader
	lookup ReferenceLookup

	mu    sync.Mutex
	cache map[string]cacheEntry

	cleanupOnce sync.Once
}

// New constructs a Resolver over the given config reader and reference
// lookup.
func New(cfg ConfigReader, lookup ReferenceLookup) *Resolver {
	return &Resolver{
		cfg:    cfg,
		lookup: lookup,
		cache:  make(map[string]cacheEntry),
	}
}

// Resolve reads the configured symbols, filters to format-valid entries,
// and narrows to those the exchange recognizes. If the reference endpoint
// is unreachable it degrades to returning the format-valid subset. The
// on-disk config is rewritten once per process lifetime to drop entries
// that failed format validation.
func (r *Resolver) Resolve(ctx context.Context) map[string]struct{} {
	raw := r.cfg.Symbols()

	formatValid := make([]string, 0, len(raw))
	var invalid []string
	for _, s := range raw {
		up := strings.ToUpper(strings.TrimSpace(s))
		if trade.ValidSymbol(up, minLen, maxLen) {
			formatValid = append(formatValid, up)
		} else {
			invalid = append(invalid, s)
		}
	}

	if len(invalid) > 0 {
		r.cleanupOnce.Do(func() {
			if err := cleanupConfigFile(r.cfg.Path(), formatValid); err != nil {
				logger.Warn(ctx, "symbols: cleanup failed", zap.Error(err))
			}
		})
	}

	recognized, err := r.recognizedCached(ctx, formatValid)
	if err != nil {
		logger.Warn(ctx, "symbols: reference endpoint unreachable, degraded mode", zap.Error(err))
		out := make(map[string]struct{}, len(formatValid))
		for _, s := range formatValid {
			out[s] = struct{}{}
		}
		return out
	}

	out := make(map[string]struct{}, len(formatValid))
	for _, s := range formatValid {
		if _, ok := recognized[s]; ok {
			out[s] = struct{}{}
		}
	}
	return out
}

func (r *Resolver) recognizedCached(ctx context.Context, symbols []string) (map[string]struct{}, error) {
	key := cacheKey(symbols)

	r.mu.Lock()
	if entry, ok := r.cache[key]; ok && time.Now().Before(entry.expiresAt) {
		r.mu.Unlock()
		return entry.recognized, nil
	}
	r.mu.Unlock()

	recognized, err := r.lookup.RecognizedSymbols(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[key] = cacheEntry{recognized: recognized, expiresAt: time.Now().Add(cacheTTL)}
	r.mu.Unlock()
	return recognized, nil
}

func cacheKey(symbols []string) string {
	sorted := append([]string(nil), symbols...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

// rewritableConfig is the minimal on-disk JSON shape needed to preserve
// structure while rewriting only the symbol array.
type rewritableConfig map[string]json.RawMessage

func cleanupConfigFile(path string, validSymbols []string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}

	symbolsJSON, err := json.Marshal(validSymbols)
	if err != nil {
		return err
	}
	if _, ok := doc["Symbols"]; ok {
		doc["Symbols"] = symbolsJSON
	} else if _, ok := doc["symbols"]; ok {
		doc["symbols"] = symbolsJSON
	} else {
		doc["Symbols"] = symbolsJSON
	}

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o644)
}
