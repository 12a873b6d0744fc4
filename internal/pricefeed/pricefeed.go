// Package pricefeed supplies current stock prices to the rest of the engine.
//
// Prices flow from a Source (live broker stream or synthetic generator) into
// a shared Cache that order execution and portfolio valuation read from.
// The cache is an explicit injected dependency — readers never block waiting
// for a fresher quote; a price of zero means "unknown, caller must fall back".
package pricefeed

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

const defaultSubscriberBuf = 64

// Quote is the latest known price for one symbol.
type Quote struct {
	Symbol  string          `json:"symbol"`
	Price   decimal.Decimal `json:"price"`
	Updated time.Time       `json:"updated"`
}

// Status describes the feed connection state.
type Status struct {
	Connected         bool `json:"connected"`
	SymbolsWithPrices int  `json:"symbols_with_prices"`
	TotalSymbols      int  `json:"total_symbols"`
}

// Source produces price updates into a Cache until its context is cancelled.
type Source interface {
	Run(ctx context.Context) error
	Status() Status
}

// Cache is the shared read-mostly symbol→price table. Written by the feed
// source, read by many concurrent order and valuation calls. Last writer
// wins per symbol.
type Cache struct {
	mu          sync.RWMutex
	quotes      map[string]Quote
	subscribers map[int64]chan Quote
	nextSubID   int64
}

// NewCache creates an empty price cache.
func NewCache() *Cache {
	return &Cache{
		quotes:      make(map[string]Quote),
		subscribers: make(map[int64]chan Quote),
	}
}

// Set records the latest price for a symbol and fans it out to subscribers.
// Non-positive prices are ignored.
func (c *Cache) Set(symbol string, price decimal.Decimal) {
	if symbol == "" || !price.IsPositive() {
		return
	}
	q := Quote{Symbol: symbol, Price: price, Updated: time.Now().UTC()}

	c.mu.Lock()
	c.quotes[symbol] = q
	for id, ch := range c.subscribers {
		select {
		case ch <- q:
		default:
			// Drop slow subscribers rather than block the feed.
			close(ch)
			delete(c.subscribers, id)
		}
	}
	c.mu.Unlock()
}

// Price returns the current price for a symbol, or zero when unknown.
func (c *Cache) Price(symbol string) decimal.Decimal {
	c.mu.RLock()
	q, ok := c.quotes[symbol]
	c.mu.RUnlock()
	if !ok {
		return decimal.Zero
	}
	return q.Price
}

// Snapshot returns all current quotes.
func (c *Cache) Snapshot() []Quote {
	c.mu.RLock()
	defer c.mu.RUnlock()

	quotes := make([]Quote, 0, len(c.quotes))
	for _, q := range c.quotes {
		quotes = append(quotes, q)
	}
	return quotes
}

// Len reports how many symbols currently have a known price.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.quotes)
}

// Subscribe registers a buffered channel that receives every quote update.
func (c *Cache) Subscribe(buffer int) (int64, <-chan Quote) {
	if buffer <= 0 {
		buffer = defaultSubscriberBuf
	}
	ch := make(chan Quote, buffer)
	id := atomic.AddInt64(&c.nextSubID, 1)

	c.mu.Lock()
	c.subscribers[id] = ch
	c.mu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (c *Cache) Unsubscribe(id int64) {
	c.mu.Lock()
	if ch, ok := c.subscribers[id]; ok {
		delete(c.subscribers, id)
		close(ch)
	}
	c.mu.Unlock()
}
