package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds the upstream quote API settings.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// ConfigFromEnv reads the upstream settings from QUOTE_API_URL and
// QUOTE_API_KEY. BaseURL empty means no upstream is configured.
func ConfigFromEnv() Config {
	return Config{
		BaseURL: os.Getenv("QUOTE_API_URL"),
		APIKey:  os.Getenv("QUOTE_API_KEY"),
		Timeout: 10 * time.Second,
	}
}

// HTTPSource fetches quotes from an upstream market-data HTTP API.
type HTTPSource struct {
	cfg    Config
	client *http.Client
}

var _ Source = (*HTTPSource)(nil)

// NewHTTPSource creates an upstream client. Pass nil to use a client with
// the configured timeout.
func NewHTTPSource(cfg Config, client *http.Client) *HTTPSource {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &HTTPSource{cfg: cfg, client: client}
}

// priceEntry is one element of the upstream /price response. Error entries
// carry status == "error" and are skipped.
type priceEntry struct {
	Price   string `json:"price"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// FetchQuotes requests prices for all symbols in one batched call.
// Symbols the upstream cannot price are logged and skipped; one bad symbol
// never blocks pricing of the others.
func (s *HTTPSource) FetchQuotes(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	if len(symbols) == 0 {
		return map[string]decimal.Decimal{}, nil
	}

	q := url.Values{}
	q.Set("symbol", strings.Join(symbols, ","))
	q.Set("apikey", s.cfg.APIKey)
	u := fmt.Sprintf("%s/price?%s", s.cfg.BaseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	res, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode >= 400 {
		return nil, fmt.Errorf("quote api http %d", res.StatusCode)
	}

	var raw json.RawMessage
	if err := json.NewDecoder(res.Body).Decode(&raw); err != nil {
		return nil, err
	}

	out := make(map[string]decimal.Decimal, len(symbols))

	// A single-symbol request returns a bare entry; a batch returns a
	// symbol-keyed object.
	if len(symbols) == 1 {
		var entry priceEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return nil, err
		}
		addEntry(out, symbols[0], entry)
		return out, nil
	}

	var entries map[string]priceEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, err
	}
	for sym, entry := range entries {
		addEntry(out, sym, entry)
	}
	return out, nil
}

func addEntry(out map[string]decimal.Decimal, symbol string, entry priceEntry) {
	if entry.Status == "error" || entry.Price == "" {
		slog.Warn("quote unavailable", "symbol", symbol, "message", entry.Message)
		return
	}
	price, err := decimal.NewFromString(entry.Price)
	if err != nil {
		slog.Warn("unparsable quote", "symbol", symbol, "price", entry.Price)
		return
	}
	out[symbol] = price
}

// searchResponse is the upstream /symbol_search response body.
type searchResponse struct {
	Data []struct {
		Symbol         string `json:"symbol"`
		InstrumentName string `json:"instrument_name"`
		Exchange       string `json:"exchange"`
	} `json:"data"`
}

// Search looks symbols up by name or ticker prefix.
func (s *HTTPSource) Search(ctx context.Context, query string) ([]SymbolInfo, error) {
	q := url.Values{}
	q.Set("symbol", query)
	q.Set("outputsize", "10")
	q.Set("apikey", s.cfg.APIKey)
	u := fmt.Sprintf("%s/symbol_search?%s", s.cfg.BaseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	res, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode >= 400 {
		return nil, fmt.Errorf("quote api http %d", res.StatusCode)
	}

	var body searchResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return nil, err
	}

	out := make([]SymbolInfo, 0, len(body.Data))
	for _, d := range body.Data {
		out = append(out, SymbolInfo{
			Symbol:   d.Symbol,
			Name:     d.InstrumentName,
			Exchange: d.Exchange,
		})
	}
	return out, nil
}
