package pricefeed_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stockarena/contest-engine/internal/model"
	"github.com/stockarena/contest-engine/internal/pricefeed"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

type fixedSource struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
	err    error
}

func (f *fixedSource) set(symbol string, price decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[symbol] = price
}

func (f *fixedSource) remove(symbol string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.prices, symbol)
}

func (f *fixedSource) FetchQuotes(_ context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]decimal.Decimal)
	for _, sym := range symbols {
		if p, ok := f.prices[sym]; ok {
			out[sym] = p
		}
	}
	return out, nil
}

func (f *fixedSource) Search(_ context.Context, _ string) ([]pricefeed.SymbolInfo, error) {
	return nil, nil
}

func TestNormalize(t *testing.T) {
	cases := []struct{ in, want string }{
		{"reliance", "RELIANCE.NS"},
		{"RELIANCE", "RELIANCE.NS"},
		{"  tcs  ", "TCS.NS"},
		{"TCS.NS", "TCS.NS"},
		{"aapl.us", "AAPL.US"},
		{"", ""},
		{"   ", ""},
	}
	for _, c := range cases {
		if got := pricefeed.Normalize(c.in); got != c.want {
			t.Errorf("Normalize(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestLookup_FetchesThroughAndCaches(t *testing.T) {
	src := &fixedSource{prices: map[string]decimal.Decimal{"INFY.NS": d(1500)}}
	feed := pricefeed.NewFeed(src, time.Minute, nil)
	ctx := context.Background()

	q, err := feed.Lookup(ctx, "INFY.NS")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !q.Price.Equal(d(1500)) {
		t.Errorf("price = %s, want 1500", q.Price)
	}

	// The quote is now cached; a vanished upstream does not matter.
	src.remove("INFY.NS")
	if _, err := feed.Lookup(ctx, "INFY.NS"); err != nil {
		t.Errorf("cached lookup failed: %v", err)
	}
	if _, ok := feed.Price("INFY.NS"); !ok {
		t.Error("Price should know the symbol after Lookup")
	}
}

func TestLookup_Unpriced(t *testing.T) {
	src := &fixedSource{prices: map[string]decimal.Decimal{}}
	feed := pricefeed.NewFeed(src, time.Minute, nil)

	if _, err := feed.Lookup(context.Background(), "NOSUCH.NS"); !errors.Is(err, model.ErrPriceUnavailable) {
		t.Errorf("err = %v, want ErrPriceUnavailable", err)
	}
}

func TestLookup_UpstreamError(t *testing.T) {
	src := &fixedSource{prices: map[string]decimal.Decimal{}, err: errors.New("upstream down")}
	feed := pricefeed.NewFeed(src, time.Minute, nil)

	if _, err := feed.Lookup(context.Background(), "TCS.NS"); !errors.Is(err, model.ErrPriceUnavailable) {
		t.Errorf("err = %v, want ErrPriceUnavailable", err)
	}
}

func TestPoll_PartialFailureRetainsPreviousPrice(t *testing.T) {
	src := &fixedSource{prices: map[string]decimal.Decimal{
		"TCS.NS": d(4000),
		"ITC.NS": d(435),
	}}
	feed := pricefeed.NewFeed(src, time.Minute, nil)
	ctx := context.Background()

	feed.Track("TCS.NS", "ITC.NS")
	if err := feed.Poll(ctx); err != nil {
		t.Fatalf("poll: %v", err)
	}

	// ITC drops out of the upstream response; TCS moves. The stale ITC
	// quote must survive the round.
	src.remove("ITC.NS")
	src.set("TCS.NS", d(4100))
	if err := feed.Poll(ctx); err != nil {
		t.Fatalf("poll: %v", err)
	}

	if p, ok := feed.Price("TCS.NS"); !ok || !p.Equal(d(4100)) {
		t.Errorf("TCS price = %s (%v), want 4100", p, ok)
	}
	if p, ok := feed.Price("ITC.NS"); !ok || !p.Equal(d(435)) {
		t.Errorf("ITC price = %s (%v), want retained 435", p, ok)
	}
}

func TestPoll_MergesHeldSymbols(t *testing.T) {
	src := &fixedSource{prices: map[string]decimal.Decimal{"SBIN.NS": d(772)}}
	heldFn := func(context.Context) ([]string, error) {
		return []string{"SBIN.NS"}, nil
	}
	feed := pricefeed.NewFeed(src, time.Minute, heldFn)

	// Nothing tracked explicitly; the held set alone drives the fetch.
	if err := feed.Poll(context.Background()); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if _, ok := feed.Price("SBIN.NS"); !ok {
		t.Error("held symbol was not fetched")
	}
}

func TestSubscribe_ReceivesTicks(t *testing.T) {
	src := &fixedSource{prices: map[string]decimal.Decimal{"LT.NS": d(3520)}}
	feed := pricefeed.NewFeed(src, time.Minute, nil)
	ctx := context.Background()

	ticks := feed.Subscribe()
	feed.Track("LT.NS")
	if err := feed.Poll(ctx); err != nil {
		t.Fatalf("poll: %v", err)
	}

	select {
	case tick := <-ticks:
		if p, ok := tick.Prices["LT.NS"]; !ok || !p.Equal(d(3520)) {
			t.Errorf("tick prices = %v", tick.Prices)
		}
	case <-time.After(time.Second):
		t.Fatal("no tick received")
	}
}

func TestSimSource(t *testing.T) {
	src := pricefeed.NewSimSource(1)
	ctx := context.Background()

	quotes, err := src.FetchQuotes(ctx, []string{"RELIANCE.NS", "UNKNOWN.NS"})
	if err != nil {
		t.Fatalf("FetchQuotes: %v", err)
	}
	if _, ok := quotes["RELIANCE.NS"]; !ok {
		t.Error("expected RELIANCE.NS in simulated universe")
	}
	if _, ok := quotes["UNKNOWN.NS"]; ok {
		t.Error("unknown symbol should be skipped")
	}

	results, err := src.Search(ctx, "reli")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Symbol != "RELIANCE.NS" {
		t.Errorf("search results = %+v", results)
	}
}
