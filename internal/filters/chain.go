package filters

import (
	"log"
	"sort"
	"sync"
	"time"

	"github.com/optionscan/engine/internal/metrics"
	"github.com/optionscan/engine/internal/models"
)

// ewmaAlpha is the smoothing factor for FilterStats' selectivity and cost
// moving averages.
const ewmaAlpha = 0.2

// reorderThreshold is how many runs a filter needs before the chain trusts
// its observed stats over its declared Priority().
const reorderThreshold = 20

// skipSmallBatchThreshold: a high-cost filter late in the chain may be
// skipped once the batch has already shrunk below this size.
const skipSmallBatchThreshold = 100

// skipSelectivityThreshold: a filter that historically keeps almost
// everything is a candidate to skip, trading a slightly stale result for
// one cheap tick; the next full run (not skipped) restores correctness.
const skipSelectivityThreshold = 0.9

// highCostPerContract marks a filter as "high" cost class for the skip
// heuristic.
const highCostPerContract = 50 * time.Microsecond

// OrderDependent is implemented by filters whose position in the chain must
// never be changed by the optimizer (e.g. a filter that assumes an earlier
// filter already pruned impossible values). Filters that don't implement it
// are free to be reordered.
type OrderDependent interface {
	OrderDependent() bool
}

// FilterStats is the chain's per-filter rolling performance record: an EWMA
// of selectivity (output/input ratio) and of cost per contract, used by the
// optimizer to reorder the chain once enough runs have been observed.
type FilterStats struct {
	Runs            int64
	Selectivity     float64
	CostPerContract time.Duration
	LastRun         time.Time
}

func (s *FilterStats) costClassHigh() bool {
	return s.CostPerContract >= highCostPerContract
}

// Chain is the Filter Chain Executor: it owns a scan's ordered filters, its
// per-filter stats, and its result cache, and applies them in an order the
// optimizer may revise as it learns each filter's selectivity and cost.
type Chain struct {
	mu sync.Mutex

	contractFilters []Filter
	spreadFilters   []SpreadFilter
	combinedFilters []CombinedFilter

	stats map[string]*FilterStats
	cache *stageCache

	skipEnabled bool

	metricsCollector *metrics.Collector

	logger *log.Logger
}

// NewChain builds a chain executor from a decoded FilterConfig. cacheSize
// bounds the LRU result cache entry count.
func NewChain(cfg FilterConfig, cacheSize int, logger *log.Logger) (*Chain, error) {
	contractFilters, spreadFilters, combinedFilters, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}

	c := &Chain{
		contractFilters: contractFilters,
		spreadFilters:   spreadFilters,
		combinedFilters: combinedFilters,
		stats:           make(map[string]*FilterStats),
		cache:           newStageCache(cacheSize),
		logger:          logger,
	}
	for _, f := range contractFilters {
		c.stats[f.Name()] = &FilterStats{}
	}
	return c, nil
}

// SetSkipEnabled toggles whether ApplyToContracts may apply the §4.C skip
// heuristics this tick. The caller (the engine) permits skips only when the
// scan's next scheduled tick falls within the cache's TTL floor, so a skip's
// staleness is always erased by a full run before it could be observed;
// otherwise it disables skips and runs every filter in full.
func (c *Chain) SetSkipEnabled(enabled bool) {
	c.mu.Lock()
	c.skipEnabled = enabled
	c.mu.Unlock()
}

// SetMetrics attaches the collector this chain reports its per-filter
// execution counts, durations, and selectivity to. A nil collector (the
// default) disables this instrumentation.
func (c *Chain) SetMetrics(coll *metrics.Collector) {
	c.mu.Lock()
	c.metricsCollector = coll
	c.mu.Unlock()
}

// Reconfigure atomically swaps the chain's filter set (UpdateFilters,
// applied between ticks by the engine) and invalidates cached stage output
// for any filter whose StaticKey changed relative to its predecessor of the
// same name.
func (c *Chain) Reconfigure(cfg FilterConfig) error {
	contractFilters, spreadFilters, combinedFilters, err := cfg.Build()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	changed := len(contractFilters) != len(c.contractFilters)
	if !changed {
		oldByName := make(map[string]Filter, len(c.contractFilters))
		for _, f := range c.contractFilters {
			oldByName[f.Name()] = f
		}
		for _, f := range contractFilters {
			old, ok := oldByName[f.Name()]
			if !ok || string(old.StaticKey()) != string(f.StaticKey()) {
				changed = true
				break
			}
		}
	}

	c.contractFilters = contractFilters
	c.spreadFilters = spreadFilters
	c.combinedFilters = combinedFilters

	newStats := make(map[string]*FilterStats, len(contractFilters))
	for _, f := range contractFilters {
		if existing, ok := c.stats[f.Name()]; ok && !changed {
			newStats[f.Name()] = existing
			continue
		}
		newStats[f.Name()] = &FilterStats{}
	}
	c.stats = newStats

	if changed {
		c.cache.invalidateAll()
	}
	return nil
}

// effectiveOrder returns the contract filter order to run this tick: the
// Priority() order unless every filter has enough runs to trust its stats,
// in which case non-order-dependent filters are sorted by ascending
// estimated cost (selectivity * costPerContract * currentInputSize).
func (c *Chain) effectiveOrder(inputSize int) []Filter {
	all := make([]Filter, len(c.contractFilters))
	copy(all, c.contractFilters)

	ready := true
	for _, f := range all {
		if c.stats[f.Name()].Runs < reorderThreshold {
			ready = false
			break
		}
	}
	if !ready {
		sort.SliceStable(all, func(i, j int) bool { return all[i].Priority() < all[j].Priority() })
		return all
	}

	type scored struct {
		f    Filter
		cost float64
		pin  bool
	}
	scoredFilters := make([]scored, len(all))
	for i, f := range all {
		pinned := false
		if od, ok := f.(OrderDependent); ok && od.OrderDependent() {
			pinned = true
		}
		st := c.stats[f.Name()]
		est := st.Selectivity * float64(st.CostPerContract) * float64(inputSize)
		scoredFilters[i] = scored{f: f, cost: est, pin: pinned}
	}

	// Order-dependent filters keep their declared relative position;
	// reorderable filters are stably sorted by estimated cost among
	// themselves and interleaved back into the pinned slots.
	pinnedPositions := make([]int, 0)
	for i, sf := range scoredFilters {
		if sf.pin {
			pinnedPositions = append(pinnedPositions, i)
		}
	}
	movable := make([]scored, 0, len(scoredFilters))
	for _, sf := range scoredFilters {
		if !sf.pin {
			movable = append(movable, sf)
		}
	}
	sort.SliceStable(movable, func(i, j int) bool { return movable[i].cost < movable[j].cost })

	out := make([]Filter, len(scoredFilters))
	mi := 0
	pinSet := make(map[int]bool, len(pinnedPositions))
	for _, p := range pinnedPositions {
		pinSet[p] = true
	}
	for i := range out {
		if pinSet[i] {
			out[i] = scoredFilters[i].f
			continue
		}
		out[i] = movable[mi].f
		mi++
	}
	return out
}

// ApplyToContracts runs the contract filter stages in the current effective
// order, honoring per-stage caching and the skip heuristics.
func (c *Chain) ApplyToContracts(in []models.Contract) []models.Contract {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.contractFilters) == 0 {
		return in
	}

	order := c.effectiveOrder(len(in))
	current := in

	for i, f := range order {
		if len(current) == 0 {
			return current
		}

		if c.shouldSkip(f, i, len(order), len(current)) {
			continue
		}

		stageInput := current
		if cached, ok := c.cache.get(f, stageInput); ok {
			current = cached
			continue
		}

		current = c.runOne(f, stageInput)
		c.cache.set(f, stageInput, current)
	}

	return current
}

// runOne invokes a single filter, handling ErrDependency pass-through for
// DependencyFilter implementations, and records EWMA stats.
func (c *Chain) runOne(f Filter, in []models.Contract) []models.Contract {
	start := time.Now()
	var out []models.Contract

	if df, ok := f.(DependencyFilter); ok {
		result, err := df.ApplyWithError(in)
		if err != nil {
			c.logger.Printf("filter %s: dependency unavailable, pass-through: %v", f.Name(), err)
			out = in
		} else {
			out = result
		}
	} else {
		out = f.Apply(in)
	}

	elapsed := time.Since(start)
	c.updateStats(f.Name(), len(in), len(out), elapsed)
	return out
}

func (c *Chain) updateStats(name string, itemsIn, itemsOut int, elapsed time.Duration) {
	st, ok := c.stats[name]
	if !ok {
		st = &FilterStats{}
		c.stats[name] = st
	}

	selectivity := 1.0
	if itemsIn > 0 {
		selectivity = float64(itemsOut) / float64(itemsIn)
	}
	costPer := time.Duration(0)
	if itemsIn > 0 {
		costPer = elapsed / time.Duration(itemsIn)
	}

	if st.Runs == 0 {
		st.Selectivity = selectivity
		st.CostPerContract = costPer
	} else {
		st.Selectivity = ewmaAlpha*selectivity + (1-ewmaAlpha)*st.Selectivity
		st.CostPerContract = time.Duration(ewmaAlpha*float64(costPer) + (1-ewmaAlpha)*float64(st.CostPerContract))
	}
	st.Runs++
	st.LastRun = time.Now()

	if c.metricsCollector != nil {
		c.metricsCollector.RecordFilter(name, elapsed, st.Selectivity)
	}
}

// shouldSkip implements the two permitted skip heuristics: a high-cost
// filter may be skipped once the batch is already small, and a late-chain
// filter that historically retains nearly everything may be skipped
// outright. Skipping never changes the next full run's correctness; it
// only defers the filter's effect by one tick.
func (c *Chain) shouldSkip(f Filter, position, chainLen, currentSize int) bool {
	if !c.skipEnabled {
		return false
	}
	st, ok := c.stats[f.Name()]
	if !ok || st.Runs < reorderThreshold {
		return false
	}
	if st.costClassHigh() && currentSize < skipSmallBatchThreshold {
		return true
	}
	isLate := position >= chainLen/2
	if isLate && st.Selectivity >= skipSelectivityThreshold {
		return true
	}
	return false
}

// ApplyToSpreads runs the spread-filter stage: a spread survives only if
// every spread filter's ApplyToSpread returns true.
func (c *Chain) ApplyToSpreads(in []models.VerticalSpread) []models.VerticalSpread {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.spreadFilters) == 0 {
		return in
	}

	out := make([]models.VerticalSpread, 0, len(in))
	for _, s := range in {
		keep := true
		for _, f := range c.spreadFilters {
			start := time.Now()
			ok := f.ApplyToSpread(s)
			c.updateStats(f.Name(), 1, boolToInt(ok), time.Since(start))
			if !ok {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, s)
		}
	}
	return out
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ApplyCombined runs the portfolio-level filters that see contracts and
// spreads together.
func (c *Chain) ApplyCombined(contracts []models.Contract, spreads []models.VerticalSpread) ([]models.Contract, []models.VerticalSpread) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, f := range c.combinedFilters {
		start := time.Now()
		itemsIn := len(contracts) + len(spreads)
		contracts, spreads = f.ApplyToCombined(contracts, spreads)
		c.updateStats(f.Name(), itemsIn, len(contracts)+len(spreads), time.Since(start))
	}
	return contracts, spreads
}

// Stats returns a snapshot copy of the chain's per-filter statistics.
func (c *Chain) Stats() map[string]FilterStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]FilterStats, len(c.stats))
	for name, st := range c.stats {
		out[name] = *st
	}
	return out
}
