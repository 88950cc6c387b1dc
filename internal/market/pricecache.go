package market

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sonu96/project-athena-sub001/internal/config"
	"github.com/sonu96/project-athena-sub001/internal/domain"
	"github.com/sonu96/project-athena-sub001/pkg/logger"
)

const priceTTL = 300 * time.Second

// RouteStablecoin is the canonical stablecoin every base token (WETH, AERO,
// ...) is quoted against to resolve a USD price, per spec.md scenario S6.
const RouteStablecoin = "USDC"

type priceEntry struct {
	usd        float64
	lastRefresh time.Time
	sourcePool  string
}

// QuoteFetcher is the narrow collaborator TVL resolution needs from the
// gateway: a swap quote against a known stable routing token.
type QuoteFetcher interface {
	GetSwapQuote(ctx context.Context, tokenIn, tokenOut string, amountIn float64) (domain.Quote, error)
}

// PriceCache is C3: a short-TTL token->USD cache with a stablecoin shortcut
// and per-key stampede guard.
type PriceCache struct {
	cfg *config.Config
	log zerolog.Logger

	mu      sync.RWMutex
	entries map[string]priceEntry

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewPriceCache builds an empty cache. cfg supplies the stablecoin set.
func NewPriceCache(cfg *config.Config, log zerolog.Logger) *PriceCache {
	return &PriceCache{
		cfg:     cfg,
		log:     logger.Scoped(log, "market.pricecache"),
		entries: make(map[string]priceEntry),
		locks:   make(map[string]*sync.Mutex),
	}
}

func (c *PriceCache) keyLock(token string) *sync.Mutex {
	c.locksMu.Lock()
	defer c.locksMu.Unlock()
	l, ok := c.locks[token]
	if !ok {
		l = &sync.Mutex{}
		c.locks[token] = l
	}
	return l
}

// Seed pre-populates the cache with an already-known price, used at the
// start of each scan to pre-populate base tokens (WETH via WETH/USDC, AERO
// via AERO/USDC) so resolution never recurses into the gateway for the pool
// currently being priced.
func (c *PriceCache) Seed(token string, usd float64, sourcePool string, at time.Time) {
	token = strings.ToUpper(token)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[token] = priceEntry{usd: usd, lastRefresh: at, sourcePool: sourcePool}
}

func (c *PriceCache) fresh(token string, now time.Time) (priceEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[token]
	if !ok {
		return priceEntry{}, false
	}
	return e, now.Sub(e.lastRefresh) < priceTTL
}

// ResolveFn is supplied by the caller to fetch a fresh price for a
// non-stable, non-cached token: typically a swap quote against a known base
// token. Returning ok=false means the price could not be resolved and the
// caller must report TVL as 0 rather than computing it transitively.
type ResolveFn func(ctx context.Context, token string) (usd float64, sourcePool string, ok bool)

// Get resolves token's USD price. Stablecoins return 1.00 with no I/O.
// Cached, fresh entries return without calling resolve. Otherwise resolve is
// invoked once per token under a per-key lock to prevent a refresh stampede;
// concurrent callers for the same token block and share the single result.
func (c *PriceCache) Get(ctx context.Context, now time.Time, token string, resolve ResolveFn) (float64, bool) {
	token = strings.ToUpper(token)
	if c.cfg.IsStablecoin(token) {
		return 1.00, true
	}
	if e, ok := c.fresh(token, now); ok {
		return e.usd, true
	}

	lock := c.keyLock(token)
	lock.Lock()
	defer lock.Unlock()

	// re-check after acquiring the lock: another goroutine may have just
	// refreshed this token while we were waiting.
	if e, ok := c.fresh(token, now); ok {
		return e.usd, true
	}

	usd, sourcePool, ok := resolve(ctx, token)
	if !ok {
		c.log.Warn().Str("token", token).Msg("price unresolved, reporting TVL as 0 for affected pool")
		return 0, false
	}
	c.Seed(token, usd, sourcePool, now)
	return usd, true
}

// resolveViaStable resolves token's USD price by quoting it against
// routeStable (never against the pool currently being priced); a failed
// quote or a non-positive amount out leaves the price unresolved. It seeds the
// cache on success so repeated pools sharing the same base token (WETH,
// AERO, ...) in one cycle only hit the gateway once.
func resolveViaStable(ctx context.Context, cache *PriceCache, now time.Time, token, routeStable string, quoter QuoteFetcher) (float64, bool) {
	return cache.Get(ctx, now, token, func(ctx context.Context, tok string) (float64, string, bool) {
		quote, err := quoter.GetSwapQuote(ctx, tok, routeStable, 1.0)
		if err != nil || quote.AmountOut <= 0 {
			return 0, "", false
		}
		return quote.AmountOut, tok + "/" + routeStable, true
	})
}

// PrimeBaseTokenPrices pre-populates the cache for each of the given base
// tokens (e.g. WETH, AERO) by quoting it against routeStable, so that
// TVLFromReserves never needs to resolve a token's price through the very
// pool it is pricing (spec.md scenario S6).
func PrimeBaseTokenPrices(ctx context.Context, cache *PriceCache, now time.Time, baseTokens []string, routeStable string, quoter QuoteFetcher) {
	for _, token := range baseTokens {
		resolveViaStable(ctx, cache, now, token, routeStable, quoter)
	}
}

// TVLFromReserves computes a pool's TVL as the sum of each side's reserve
// amount times its USD price (spec.md section 4.3, scenario S6):
// reserve_A * price_A + reserve_B * price_B. Stablecoin sides resolve to
// 1.00 for free; non-stable sides resolve through routeStable via the cache
// (seeded ahead of time by PrimeBaseTokenPrices, or resolved here on a cache
// miss), never by quoting against m's own pool. Returns ok=false when any
// side's price cannot be resolved, in which case the caller reports TVL as 0
// rather than a partial sum.
func TVLFromReserves(ctx context.Context, cache *PriceCache, now time.Time, m domain.PoolMetric, routeStable string, quoter QuoteFetcher) (float64, bool) {
	if len(m.Reserves) == 0 {
		return 0, false
	}
	total := 0.0
	for _, token := range m.Pair {
		reserve, ok := m.Reserves[token]
		if !ok {
			continue
		}
		price, ok := resolveViaStable(ctx, cache, now, token, routeStable, quoter)
		if !ok {
			return 0, false
		}
		total += reserve * price
	}
	return total, true
}

// String renders a cache entry for diagnostics.
func (e priceEntry) String() string {
	return fmt.Sprintf("%.4f usd (source=%s, refreshed=%s)", e.usd, e.sourcePool, e.lastRefresh)
}
