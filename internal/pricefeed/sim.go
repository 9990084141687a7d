package pricefeed

import (
	"context"
	"math/rand"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

// simUniverse seeds the simulated source with liquid NSE large caps.
var simUniverse = map[string]float64{
	"RELIANCE.NS":   2950.00,
	"TCS.NS":        3890.50,
	"HDFCBANK.NS":   1645.25,
	"INFY.NS":       1512.80,
	"HINDUNILVR.NS": 2480.00,
	"ICICIBANK.NS":  1098.40,
	"ITC.NS":        435.15,
	"SBIN.NS":       772.60,
	"BAJFINANCE.NS": 6890.00,
	"BHARTIARTL.NS": 1305.75,
	"KOTAKBANK.NS":  1755.30,
	"HCLTECH.NS":    1388.90,
	"ASIANPAINT.NS": 2902.45,
	"MARUTI.NS":     11250.00,
	"AXISBANK.NS":   1068.20,
	"LT.NS":         3520.00,
	"WIPRO.NS":      465.80,
	"ULTRACEMCO.NS": 9810.00,
	"NESTLEIND.NS":  2465.55,
}

// SimSource is a random-walk quote generator for development and tests.
// Each fetch moves every requested price by up to ±0.5%.
type SimSource struct {
	mu     sync.Mutex
	rng    *rand.Rand
	prices map[string]decimal.Decimal
}

var _ Source = (*SimSource)(nil)

// NewSimSource creates a simulated source seeded with the default universe.
func NewSimSource(seed int64) *SimSource {
	prices := make(map[string]decimal.Decimal, len(simUniverse))
	for sym, p := range simUniverse {
		prices[sym] = decimal.NewFromFloat(p)
	}
	return &SimSource{
		rng:    rand.New(rand.NewSource(seed)),
		prices: prices,
	}
}

// SetPrice pins a symbol to a fixed price. Primarily for tests.
func (s *SimSource) SetPrice(symbol string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[symbol] = price
}

func (s *SimSource) FetchQuotes(_ context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]decimal.Decimal, len(symbols))
	for _, sym := range symbols {
		p, ok := s.prices[sym]
		if !ok {
			continue // unknown symbol, skip like a real upstream would
		}
		// Random walk: ±0.5% per tick.
		drift := decimal.NewFromFloat((s.rng.Float64() - 0.5) / 100)
		p = p.Mul(decimal.NewFromInt(1).Add(drift)).Round(2)
		s.prices[sym] = p
		out[sym] = p
	}
	return out, nil
}

func (s *SimSource) Search(_ context.Context, query string) ([]SymbolInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query = strings.ToUpper(strings.TrimSpace(query))
	var out []SymbolInfo
	for sym := range s.prices {
		if strings.Contains(sym, query) {
			out = append(out, SymbolInfo{
				Symbol:   sym,
				Name:     strings.TrimSuffix(sym, ".NS"),
				Exchange: "NSE",
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}
