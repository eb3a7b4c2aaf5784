package symbolinfo

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"execplane/internal/venue"
	"execplane/pkg/metrics"
)

// SymbolInfoFetchFailed is returned when a venue fetch fails. A stale
// cached entry is not served in its place.
var SymbolInfoFetchFailed = errors.New("symbolinfo: fetch failed")

const numShards = 16

type shard struct {
	mu    sync.RWMutex
	items map[string]Info
}

// Cache is the TTL, single-flight-deduplicated symbol info store. One
// Cache instance is shared across every venue registered with the UOM;
// entries are keyed by "venueId|symbol".
type Cache struct {
	shards    [numShards]*shard
	group     singleflight.Group
	defaultTTL time.Duration
	log       *zap.SugaredLogger
	metrics   *metrics.Registry
}

// GatewayLookup resolves a venue id to its Gateway, so the cache can fetch
// without depending on the UOM registry directly.
type GatewayLookup func(venueID string) (venue.Gateway, error)

// New builds a Cache with the given default TTL (from
// config.SymbolInfoTTL).
func New(defaultTTL time.Duration, log *zap.SugaredLogger, reg *metrics.Registry) *Cache {
	c := &Cache{defaultTTL: defaultTTL, log: log, metrics: reg}
	for i := range c.shards {
		c.shards[i] = &shard{items: make(map[string]Info)}
	}
	return c
}

func cacheKey(venueID, symbol string) string { return venueID + "|" + symbol }

func (c *Cache) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return c.shards[h.Sum32()%numShards]
}

// Options controls one GetSymbolInfo call.
type Options struct {
	TTL          time.Duration // zero means use the cache default
	ForceRefresh bool
}

// GetSymbolInfo returns the cached entry when fresh, otherwise fetches via
// gw, normalizing the venue's raw market info into the unified Info shape.
// Concurrent callers for the same (venueID, symbol) share one in-flight
// fetch; on failure the shared attempt is discarded so the next caller
// retries instead of seeing a cached failure.
func (c *Cache) GetSymbolInfo(ctx context.Context, venueID, symbol string, gw venue.Gateway, opts Options) (Info, error) {
	ttl := opts.TTL
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	key := cacheKey(venueID, symbol)
	s := c.shardFor(key)

	if !opts.ForceRefresh {
		s.mu.RLock()
		entry, ok := s.items[key]
		s.mu.RUnlock()
		if ok && entry.Valid(ttl, time.Now()) {
			if c.metrics != nil {
				c.metrics.CacheHits.Inc()
			}
			return entry, nil
		}
	}
	if c.metrics != nil {
		c.metrics.CacheMisses.Inc()
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		mi, err := gw.GetMarketInfo(ctx, symbol)
		if err != nil {
			return Info{}, fmt.Errorf("%w: %v", SymbolInfoFetchFailed, err)
		}
		info := normalize(mi)
		s.mu.Lock()
		s.items[key] = info
		s.mu.Unlock()
		return info, nil
	})
	if err != nil {
		return Info{}, err
	}
	return v.(Info), nil
}

// GetMultiple fetches several symbols in parallel, tolerating partial
// failure: failed symbols are omitted from the result and logged, and one
// symbol's failure never cancels its siblings' in-flight fetches.
func (c *Cache) GetMultiple(ctx context.Context, venueID string, symbols []string, gw venue.Gateway, opts Options) map[string]Info {
	results := make(map[string]Info, len(symbols))
	var mu sync.Mutex

	var g errgroup.Group
	for _, sym := range symbols {
		sym := sym
		g.Go(func() error {
			info, err := c.GetSymbolInfo(ctx, venueID, sym, gw, opts)
			if err != nil {
				if c.log != nil {
					c.log.Warnw("symbol info fetch failed, omitting from batch", "venue", venueID, "symbol", sym, "err", err)
				}
				return nil
			}
			mu.Lock()
			results[sym] = info
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // every goroutine swallows its own error; Wait never returns non-nil here
	return results
}

// ClearCache invalidates one symbol's entry across every venue, or the
// entire cache when symbol is empty.
func (c *Cache) ClearCache(symbol string) {
	for _, s := range c.shards {
		s.mu.Lock()
		if symbol == "" {
			s.items = make(map[string]Info)
		} else {
			for k := range s.items {
				if hasSymbolSuffix(k, symbol) {
					delete(s.items, k)
				}
			}
		}
		s.mu.Unlock()
	}
}

// RefreshCache force-fetches the listed symbols (or every cached symbol
// when symbols is empty) for venueID with the given ttl.
func (c *Cache) RefreshCache(ctx context.Context, venueID string, symbols []string, ttl time.Duration, gw venue.Gateway) {
	if len(symbols) == 0 {
		symbols = c.knownSymbols(venueID)
	}
	c.GetMultiple(ctx, venueID, symbols, gw, Options{TTL: ttl, ForceRefresh: true})
}

func (c *Cache) knownSymbols(venueID string) []string {
	prefix := venueID + "|"
	var out []string
	for _, s := range c.shards {
		s.mu.RLock()
		for k := range s.items {
			if len(k) > len(prefix) && k[:len(prefix)] == prefix {
				out = append(out, k[len(prefix):])
			}
		}
		s.mu.RUnlock()
	}
	return out
}

func hasSymbolSuffix(key, symbol string) bool {
	suffix := "|" + symbol
	return len(key) >= len(suffix) && key[len(key)-len(suffix):] == suffix
}

func normalize(mi venue.MarketInfo) Info {
	return Info{
		Symbol:          mi.Symbol,
		Base:            mi.Base,
		Quote:           mi.Quote,
		Active:          mi.Active,
		PricePrecision:  mi.PricePrecision,
		AmountPrecision: mi.AmountPrecision,
		CostPrecision:   mi.CostPrecision,
		MinPrice:        mi.MinPrice,
		MaxPrice:        mi.MaxPrice,
		MinAmount:       mi.MinAmount,
		MaxAmount:       mi.MaxAmount,
		MinCost:         mi.MinCost,
		TickSize:        mi.TickSize,
		StepSize:        mi.StepSize,
		MakerFee:        mi.MakerFee,
		TakerFee:        mi.TakerFee,
		FetchTimestamp:  time.Now(),
		Raw:             mi.Raw,
	}
}
