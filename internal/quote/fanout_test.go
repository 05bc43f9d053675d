package quote

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
)

func TestFetchAll_GathersKnownPricesAndSkipsUnknown(t *testing.T) {
	s := NewStub()
	s.Prices["AAPL"] = decimal.NewFromInt(150)
	s.Prices["MSFT"] = decimal.NewFromInt(300)

	got := FetchAll(context.Background(), s, []string{"AAPL", "MSFT", "UNKNOWN"})
	if len(got) != 2 {
		t.Fatalf("expected 2 known prices, got %d", len(got))
	}
	if !got["AAPL"].Equal(decimal.NewFromInt(150)) {
		t.Fatalf("unexpected AAPL price: %v", got["AAPL"])
	}
	if _, ok := got["UNKNOWN"]; ok {
		t.Fatal("expected unknown ticker to be absent")
	}
}

func TestFetchAll_MoreTickersThanConcurrencyLimit(t *testing.T) {
	s := NewStub()
	tickers := make([]string, 0, MaxConcurrentFetches*3)
	for i := 0; i < MaxConcurrentFetches*3; i++ {
		ticker := string(rune('A' + i%26))
		tickers = append(tickers, ticker)
		s.Prices[ticker] = decimal.NewFromInt(int64(i + 1))
	}
	got := FetchAll(context.Background(), s, tickers)
	if len(got) == 0 {
		t.Fatal("expected results despite exceeding the concurrency cap")
	}
}

func TestFetchAll_EmptyTickerList(t *testing.T) {
	s := NewStub()
	got := FetchAll(context.Background(), s, nil)
	if len(got) != 0 {
		t.Fatalf("expected empty result, got %d entries", len(got))
	}
}
