// Package pricefeed pulls market quotes from an upstream source, normalizes
// symbols, and publishes a symbol→price map to interested components.
package pricefeed

import (
	"context"

	"github.com/shopspring/decimal"
)

// SymbolInfo is one symbol-search result.
type SymbolInfo struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Exchange string `json:"exchange"`
}

// Source supplies quotes for the feed. FetchQuotes returns prices for the
// symbols it could price this round; a symbol with a stale or unavailable
// quote upstream is simply absent from the result. The error is non-nil only
// when the whole batch failed.
type Source interface {
	FetchQuotes(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error)
	Search(ctx context.Context, query string) ([]SymbolInfo, error)
}
