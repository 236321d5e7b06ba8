package weights

import (
	"sync"
	"time"
)

// Cache memoizes a bot's recomputed weights between rebalance ticks.
type Cache struct {
	mu               sync.Mutex
	rebalanceEvery   time.Duration
	lookback         time.Duration
	bounds           Bounds
	lastComputedAt   map[string]time.Time
	weightsByBot     map[string]map[string]float64
}

// NewCache builds a weights Cache.
func NewCache(rebalanceEvery, lookback time.Duration, bounds Bounds) *Cache {
	return &Cache{
		rebalanceEvery: rebalanceEvery,
		lookback:       lookback,
		bounds:         bounds,
		lastComputedAt: make(map[string]time.Time),
		weightsByBot:   make(map[string]map[string]float64),
	}
}

// Get returns the cached weights for botID, recomputing from fetchResults
// if the rebalance interval has elapsed or nothing is cached yet.
func (c *Cache) Get(botID string, now time.Time, fetchResults func() []BacktestResult) map[string]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	last, ok := c.lastComputedAt[botID]
	if ok && now.Sub(last) < c.rebalanceEvery {
		return c.weightsByBot[botID]
	}

	results := fetchResults()
	w := Recompute(results, now, c.lookback, c.bounds)
	c.weightsByBot[botID] = w
	c.lastComputedAt[botID] = now
	return w
}
