package filters

import (
	"errors"
	"io"
	"log"
	"testing"

	"github.com/optionscan/engine/internal/models"
)

func nopLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// countingFilter records how many times Apply ran, for cache-hit assertions.
type countingFilter struct {
	runs int
	keep func(models.Contract) bool
}

func (f *countingFilter) Name() string     { return "counting" }
func (f *countingFilter) Priority() int    { return 5 }
func (f *countingFilter) StaticKey() []byte { return []byte("counting-static") }
func (f *countingFilter) Validate() error  { return nil }
func (f *countingFilter) Apply(in []models.Contract) []models.Contract {
	f.runs++
	out := make([]models.Contract, 0, len(in))
	for _, c := range in {
		if f.keep == nil || f.keep(c) {
			out = append(out, c)
		}
	}
	return out
}

func TestChain_CacheHitAvoidsRerunningFilter(t *testing.T) {
	contracts := []models.Contract{contractAt(100, models.Call, 30, 0.3)}
	cf := &countingFilter{}

	chain := &Chain{
		contractFilters: []Filter{cf},
		stats:           map[string]*FilterStats{cf.Name(): {}},
		cache:           newStageCache(32),
		logger:          nopLogger(),
	}

	out1 := chain.ApplyToContracts(contracts)
	out2 := chain.ApplyToContracts(contracts)

	if len(out1) != 1 || len(out2) != 1 {
		t.Fatalf("expected both calls to retain the contract, got %d and %d", len(out1), len(out2))
	}
	if cf.runs != 1 {
		t.Fatalf("expected the second call to hit the cache (1 run), got %d runs", cf.runs)
	}
}

// TestChain_CacheHitAcrossMultipleStages guards against a cache keyed on
// the chain's original input instead of each stage's own input: with two
// filters where the first drops contracts, the second filter's cache key
// must be derived from its actual (already-filtered) input, not the
// chain's original input, or every lookup past stage one misses forever.
func TestChain_CacheHitAcrossMultipleStages(t *testing.T) {
	kept := contractAt(100, models.Call, 30, 0.3)
	dropped := contractAt(200, models.Call, 30, 0.3)

	first := &countingFilter{keep: func(c models.Contract) bool { return c.Strike == kept.Strike }}
	second := &countingFilter{keep: func(models.Contract) bool { return true }}
	// give the two filters distinct names/keys so they cache independently
	firstFilter := &namedCountingFilter{countingFilter: first, name: "first"}
	secondFilter := &namedCountingFilter{countingFilter: second, name: "second"}

	chain := &Chain{
		contractFilters: []Filter{firstFilter, secondFilter},
		stats:           map[string]*FilterStats{"first": {}, "second": {}},
		cache:           newStageCache(32),
		logger:          nopLogger(),
	}

	in := []models.Contract{kept, dropped}
	chain.ApplyToContracts(in)
	chain.ApplyToContracts(in)

	if second.runs != 1 {
		t.Fatalf("expected the second stage's cache to hit on the repeat call, got %d runs", second.runs)
	}
}

type namedCountingFilter struct {
	*countingFilter
	name string
}

func (f *namedCountingFilter) Name() string      { return f.name }
func (f *namedCountingFilter) StaticKey() []byte { return []byte(f.name + "-static") }

type dependencyFilter struct {
	fail bool
}

func (f *dependencyFilter) Name() string      { return "dep" }
func (f *dependencyFilter) Priority() int     { return 1 }
func (f *dependencyFilter) StaticKey() []byte { return []byte("dep-static") }
func (f *dependencyFilter) Validate() error   { return nil }
func (f *dependencyFilter) Apply(in []models.Contract) []models.Contract {
	out, err := f.ApplyWithError(in)
	if err != nil {
		return in
	}
	return out
}
func (f *dependencyFilter) ApplyWithError(in []models.Contract) ([]models.Contract, error) {
	if f.fail {
		return nil, errors.New("unused")
	}
	return nil, &ErrDependency{Filter: f.Name(), Reason: "unavailable"}
}

func TestChain_ErrDependencyIsPassThrough(t *testing.T) {
	contracts := []models.Contract{
		contractAt(100, models.Call, 30, 0.3),
		contractAt(110, models.Call, 30, 0.3),
	}
	df := &dependencyFilter{}
	chain := &Chain{
		contractFilters: []Filter{df},
		stats:           map[string]*FilterStats{df.Name(): {}},
		cache:           newStageCache(32),
		logger:          nopLogger(),
	}

	out := chain.ApplyToContracts(contracts)
	if len(out) != 2 {
		t.Fatalf("ErrDependency must be treated as identity pass-through, got %d contracts", len(out))
	}
}

func TestChain_SkipHeuristicsDisabledByDefault(t *testing.T) {
	cf := &countingFilter{keep: func(models.Contract) bool { return true }}
	chain := &Chain{
		contractFilters: []Filter{cf},
		stats:           map[string]*FilterStats{cf.Name(): {Runs: reorderThreshold + 1, Selectivity: 1.0, CostPerContract: highCostPerContract * 2}},
		cache:           newStageCache(32),
		logger:          nopLogger(),
	}

	small := make([]models.Contract, 5)
	for i := range small {
		small[i] = contractAt(float64(100+i), models.Call, 30, 0.3)
	}

	chain.ApplyToContracts(small)
	if cf.runs != 1 {
		t.Fatalf("skips must stay off until SetSkipEnabled(true), expected 1 run got %d", cf.runs)
	}
}

func TestChain_SkipHeuristicSkipsHighCostFilterOnSmallBatch(t *testing.T) {
	cf := &countingFilter{keep: func(models.Contract) bool { return true }}
	chain := &Chain{
		contractFilters: []Filter{cf},
		stats:           map[string]*FilterStats{cf.Name(): {Runs: reorderThreshold + 1, Selectivity: 1.0, CostPerContract: highCostPerContract * 2}},
		cache:           newStageCache(32),
		logger:          nopLogger(),
	}
	chain.SetSkipEnabled(true)

	small := make([]models.Contract, 5)
	for i := range small {
		small[i] = contractAt(float64(100+i), models.Call, 30, 0.3)
	}

	out := chain.ApplyToContracts(small)
	if len(out) != 5 {
		t.Fatalf("a skipped filter must not drop any input, got %d", len(out))
	}
	if cf.runs != 0 {
		t.Fatalf("expected the high-cost filter to be skipped on a small batch, got %d runs", cf.runs)
	}
}

func TestChain_ReconfigureInvalidatesCacheOnFilterChange(t *testing.T) {
	chain, err := NewChain(FilterConfig{DTE: &DTEConfig{MinDays: 0, MaxDays: 30}}, 32, nil)
	if err != nil {
		t.Fatalf("NewChain: %v", err)
	}
	contracts := []models.Contract{contractAt(100, models.Call, 10, 0.3)}
	chain.ApplyToContracts(contracts)

	if err := chain.Reconfigure(FilterConfig{DTE: &DTEConfig{MinDays: 20, MaxDays: 40}}); err != nil {
		t.Fatalf("Reconfigure: %v", err)
	}

	// A contract at 10 DTE should now be rejected under the new bounds.
	out := chain.ApplyToContracts(contracts)
	if len(out) != 0 {
		t.Fatalf("expected the reconfigured chain to apply its new bounds, got %d contracts", len(out))
	}
}

func TestChain_ReconfigureRejectsInvalidConfig(t *testing.T) {
	chain, err := NewChain(FilterConfig{}, 32, nil)
	if err != nil {
		t.Fatalf("NewChain: %v", err)
	}
	err = chain.Reconfigure(FilterConfig{Delta: &DeltaConfig{Min: 2, Max: 3}})
	if err == nil {
		t.Fatal("expected Reconfigure to reject an out-of-range delta config")
	}
}
