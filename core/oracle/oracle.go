package oracle

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

var (
	// ErrInvalidPrice indicates a missing or non-positive price.
	ErrInvalidPrice = errors.New("oracle: invalid price")
	// ErrNoFreshPrice indicates that no source produced a price within the
	// configured freshness window.
	ErrNoFreshPrice = errors.New("oracle: no fresh price available")
)

// PriceSource returns the USD price of one whole unit of asset scaled to
// 36-decimals minus the asset decimals, so that amount*price/1e18 is a USD
// mantissa.
type PriceSource interface {
	GetPrice(asset ethcommon.Address) (*big.Int, error)
}

// Quote is a price observation with the time it was reported.
type Quote struct {
	Price     *big.Int
	Timestamp time.Time
	Source    string
}

// QuoteSource is implemented by feeds that report observation times.
type QuoteSource interface {
	Quote(asset ethcommon.Address) (Quote, error)
}

// Feed is a manually maintained price table.
type Feed struct {
	mu     sync.RWMutex
	name   string
	prices map[ethcommon.Address]Quote
	now    func() time.Time
}

// NewFeed builds an empty feed identified by name.
func NewFeed(name string) *Feed {
	return &Feed{name: name, prices: make(map[ethcommon.Address]Quote), now: time.Now}
}

// SetPrice records price for asset observed at ts. A zero ts means now.
func (f *Feed) SetPrice(asset ethcommon.Address, price *big.Int, ts time.Time) error {
	if price == nil || price.Sign() <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidPrice, asset.Hex())
	}
	if ts.IsZero() {
		ts = f.now()
	}
	f.mu.Lock()
	f.prices[asset] = Quote{Price: new(big.Int).Set(price), Timestamp: ts.UTC(), Source: f.name}
	f.mu.Unlock()
	return nil
}

// Quote returns the latest observation for asset.
func (f *Feed) Quote(asset ethcommon.Address) (Quote, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	q, ok := f.prices[asset]
	if !ok {
		return Quote{}, fmt.Errorf("%w: %s", ErrInvalidPrice, asset.Hex())
	}
	return Quote{Price: new(big.Int).Set(q.Price), Timestamp: q.Timestamp, Source: q.Source}, nil
}

// GetPrice implements PriceSource.
func (f *Feed) GetPrice(asset ethcommon.Address) (*big.Int, error) {
	q, err := f.Quote(asset)
	if err != nil {
		return nil, err
	}
	return q.Price, nil
}

// Aggregator consults registered sources in priority order until a fresh
// quote is obtained.
type Aggregator struct {
	mu       sync.RWMutex
	priority []string
	sources  map[string]QuoteSource
	maxAge   time.Duration
	now      func() time.Time
}

// NewAggregator returns an aggregator with the given priority and freshness
// window. A zero maxAge disables the freshness check.
func NewAggregator(priority []string, maxAge time.Duration) *Aggregator {
	prio := make([]string, 0, len(priority))
	for _, name := range priority {
		if trimmed := normalizeName(name); trimmed != "" {
			prio = append(prio, trimmed)
		}
	}
	return &Aggregator{
		priority: prio,
		sources:  make(map[string]QuoteSource),
		maxAge:   maxAge,
		now:      time.Now,
	}
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Register adds or replaces a source. Sources missing from the priority list
// are consulted last in registration order.
func (a *Aggregator) Register(name string, source QuoteSource) {
	trimmed := normalizeName(name)
	if trimmed == "" || source == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sources[trimmed] = source
	for _, entry := range a.priority {
		if entry == trimmed {
			return
		}
	}
	a.priority = append(a.priority, trimmed)
}

// SetMaxAge updates the freshness window.
func (a *Aggregator) SetMaxAge(maxAge time.Duration) {
	a.mu.Lock()
	a.maxAge = maxAge
	a.mu.Unlock()
}

// SetClock overrides the time source. Intended for tests.
func (a *Aggregator) SetClock(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	a.mu.Lock()
	a.now = now
	a.mu.Unlock()
}

// Quote returns the first fresh quote for asset.
func (a *Aggregator) Quote(asset ethcommon.Address) (Quote, error) {
	a.mu.RLock()
	priority := append([]string(nil), a.priority...)
	sources := make(map[string]QuoteSource, len(a.sources))
	for k, v := range a.sources {
		sources[k] = v
	}
	maxAge := a.maxAge
	now := a.now()
	a.mu.RUnlock()

	var lastErr error
	for _, name := range priority {
		source, ok := sources[name]
		if !ok {
			continue
		}
		q, err := source.Quote(asset)
		if err != nil {
			lastErr = err
			continue
		}
		if q.Price == nil || q.Price.Sign() <= 0 {
			lastErr = ErrInvalidPrice
			continue
		}
		if maxAge > 0 && now.Sub(q.Timestamp) > maxAge {
			lastErr = fmt.Errorf("%w: %s quote from %s is %s old", ErrNoFreshPrice, name, asset.Hex(), now.Sub(q.Timestamp))
			continue
		}
		if q.Source == "" {
			q.Source = name
		}
		return q, nil
	}
	if lastErr == nil {
		lastErr = ErrNoFreshPrice
	}
	if !errors.Is(lastErr, ErrNoFreshPrice) {
		lastErr = fmt.Errorf("%w: %v", ErrNoFreshPrice, lastErr)
	}
	return Quote{}, lastErr
}

// GetPrice implements PriceSource.
func (a *Aggregator) GetPrice(asset ethcommon.Address) (*big.Int, error) {
	q, err := a.Quote(asset)
	if err != nil {
		return nil, err
	}
	return q.Price, nil
}
