package pricefeed

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stockarena/contest-engine/internal/metrics"
	"github.com/stockarena/contest-engine/internal/model"
)

// trackTTL is how long a quoted/searched symbol stays in the fetch set
// without renewed interest. Held symbols are re-merged every tick and so
// never expire while held.
const trackTTL = time.Hour

// maxBackoff bounds the retry delay after wholly failed fetch rounds.
const maxBackoff = 2 * time.Minute

// Tick is one published price update round. Prices contains only the
// symbols whose quotes were refreshed this round.
type Tick struct {
	Prices map[string]decimal.Decimal
	Time   time.Time
}

// Feed maintains the latest known price per symbol and broadcasts ticks to
// subscribers. A symbol whose upstream quote is stale for one round keeps
// its previous price; failure of one symbol never blocks the others.
type Feed struct {
	source   Source
	interval time.Duration

	// heldFn lists symbols held across active contests; merged into the
	// tracked set every round. May be nil.
	heldFn func(ctx context.Context) ([]string, error)

	mu      sync.RWMutex
	latest  map[string]model.PriceQuote
	tracked map[string]time.Time // symbol → last interest

	subMu sync.Mutex
	subs  []chan Tick
}

// NewFeed creates a feed polling source every interval. heldFn may be nil.
func NewFeed(source Source, interval time.Duration, heldFn func(ctx context.Context) ([]string, error)) *Feed {
	return &Feed{
		source:   source,
		interval: interval,
		heldFn:   heldFn,
		latest:   make(map[string]model.PriceQuote),
		tracked:  make(map[string]time.Time),
	}
}

// Normalize converts user input to the canonical upstream symbol format:
// uppercase with a market suffix (NSE ".NS" appended when absent).
func Normalize(symbol string) string {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	if sym == "" {
		return ""
	}
	if !strings.Contains(sym, ".") {
		sym += ".NS"
	}
	return sym
}

// Track registers interest in symbols so the next rounds fetch them.
// Symbols must already be normalized.
func (f *Feed) Track(symbols ...string) {
	now := time.Now()
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sym := range symbols {
		if sym != "" {
			f.tracked[sym] = now
		}
	}
}

// Price returns the latest known price for a normalized symbol.
func (f *Feed) Price(symbol string) (decimal.Decimal, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	q, ok := f.latest[symbol]
	return q.Price, ok
}

// Quote returns the latest known quote for a normalized symbol.
func (f *Feed) Quote(symbol string) (model.PriceQuote, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	q, ok := f.latest[symbol]
	return q, ok
}

// Lookup returns the latest quote, fetching through to the upstream source
// when the symbol has not been priced yet. The symbol is tracked for
// subsequent rounds either way. Returns model.ErrPriceUnavailable when the
// upstream cannot price it.
func (f *Feed) Lookup(ctx context.Context, symbol string) (model.PriceQuote, error) {
	f.Track(symbol)

	if q, ok := f.Quote(symbol); ok {
		return q, nil
	}

	prices, err := f.source.FetchQuotes(ctx, []string{symbol})
	if err != nil {
		return model.PriceQuote{}, model.ErrPriceUnavailable
	}
	price, ok := prices[symbol]
	if !ok {
		return model.PriceQuote{}, model.ErrPriceUnavailable
	}

	q := model.PriceQuote{Symbol: symbol, Price: price, Timestamp: time.Now().UTC()}
	f.mu.Lock()
	f.latest[symbol] = q
	f.mu.Unlock()
	return q, nil
}

// Search proxies a symbol search to the upstream source.
func (f *Feed) Search(ctx context.Context, query string) ([]SymbolInfo, error) {
	return f.source.Search(ctx, query)
}

// Subscribe returns a channel receiving every published tick. Delivery is
// best-effort: a slow subscriber misses ticks rather than blocking the feed.
func (f *Feed) Subscribe() <-chan Tick {
	ch := make(chan Tick, 16)
	f.subMu.Lock()
	f.subs = append(f.subs, ch)
	f.subMu.Unlock()
	return ch
}

// Poll runs one fetch round immediately, outside the Run schedule.
func (f *Feed) Poll(ctx context.Context) error {
	return f.poll(ctx)
}

// Run polls the upstream source until ctx is cancelled. Must be called in
// a goroutine. Wholly failed rounds back off exponentially; partial rounds
// publish whatever was priced.
func (f *Feed) Run(ctx context.Context) {
	backoff := f.interval
	timer := time.NewTimer(f.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if err := f.poll(ctx); err != nil {
			slog.Warn("price fetch round failed", "err", err, "retry_in", backoff)
			timer.Reset(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = f.interval
		timer.Reset(f.interval)
	}
}

// poll runs one fetch round: refresh the tracked set, fetch, store, publish.
func (f *Feed) poll(ctx context.Context) error {
	if f.heldFn != nil {
		held, err := f.heldFn(ctx)
		if err != nil {
			slog.Warn("listing held symbols failed", "err", err)
		} else {
			f.Track(held...)
		}
	}

	symbols := f.snapshot()
	if len(symbols) == 0 {
		return nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, f.interval)
	prices, err := f.source.FetchQuotes(fetchCtx, symbols)
	cancel()
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	f.mu.Lock()
	for sym, price := range prices {
		f.latest[sym] = model.PriceQuote{Symbol: sym, Price: price, Timestamp: now}
	}
	f.mu.Unlock()

	if len(prices) > 0 {
		metrics.PriceTicks.Inc()
		f.publish(Tick{Prices: prices, Time: now})
	}
	return nil
}

// snapshot returns the tracked symbols, dropping expired entries.
func (f *Feed) snapshot() []string {
	cutoff := time.Now().Add(-trackTTL)
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]string, 0, len(f.tracked))
	for sym, last := range f.tracked {
		if last.Before(cutoff) {
			delete(f.tracked, sym)
			delete(f.latest, sym)
			continue
		}
		out = append(out, sym)
	}
	return out
}

func (f *Feed) publish(t Tick) {
	f.subMu.Lock()
	defer f.subMu.Unlock()
	for _, ch := range f.subs {
		select {
		case ch <- t:
		default:
			// Drop for slow subscribers; never block the poll loop.
		}
	}
}
