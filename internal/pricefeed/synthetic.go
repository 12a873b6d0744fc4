package pricefeed

import (
	"context"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// SyntheticSource produces pseudo-random walk prices for every known symbol.
// Used when no broker credentials are configured, and as the fallback when
// the live stream cannot authenticate.
type SyntheticSource struct {
	cache    *Cache
	interval time.Duration
	seed     int64
	running  atomic.Bool
}

// NewSyntheticSource creates a generator writing into cache every interval.
// A zero seed derives one from the clock.
func NewSyntheticSource(cache *Cache, interval time.Duration, seed int64) *SyntheticSource {
	if interval <= 0 {
		interval = time.Second
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &SyntheticSource{cache: cache, interval: interval, seed: seed}
}

// Run emits one full round of quotes immediately, then a round per tick,
// until the context is cancelled. Each price moves within ±0.8% of its
// previous value, rounded to 2 decimal places.
func (s *SyntheticSource) Run(ctx context.Context) error {
	rng := rand.New(rand.NewSource(s.seed))

	prices := make(map[string]float64, len(basePrices))
	for symbol, base := range basePrices {
		prices[symbol] = float64(base)
	}

	s.running.Store(true)
	defer s.running.Store(false)

	emit := func() {
		for symbol, p := range prices {
			fluctuation := (rng.Float64()*2 - 1) * 0.008
			p = p * (1 + fluctuation)
			if p < 0.05 {
				p = 0.05
			}
			prices[symbol] = p
			s.cache.Set(symbol, decimal.NewFromFloat(p).Round(2))
		}
	}
	emit()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			emit()
		}
	}
}

// Status reports the generator as connected while it is running.
func (s *SyntheticSource) Status() Status {
	return Status{
		Connected:         s.running.Load(),
		SymbolsWithPrices: s.cache.Len(),
		TotalSymbols:      len(stockTokens),
	}
}
