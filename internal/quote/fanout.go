package quote

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
)

// MaxConcurrentFetches bounds the quote fan-out per spec.md §5: at most 8
// spot-price fetches in flight at once.
const MaxConcurrentFetches = 8

// FetchAll fetches Spot for every ticker concurrently, bounded by
// MaxConcurrentFetches, and gathers every result before returning. A
// per-ticker failure is simply absent from the returned map; the Monitor
// Loop then keeps the broker snapshot's last price for that ticker, and
// the Policy Engine evaluates it against that price rather than skipping
// it. The fan-out follows Atlas's bounded worker-pool style adapted to a
// one-shot gather instead of a standing job queue.
func FetchAll(ctx context.Context, q Quote, tickers []string) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(tickers))
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, MaxConcurrentFetches)

	for _, t := range tickers {
		t := t
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			price, ok := q.Spot(ctx, t)
			if !ok {
				return
			}
			mu.Lock()
			out[t] = price
			mu.Unlock()
		}()
	}
	wg.Wait()
	return out
}
