package filters

import (
	"testing"
	"time"

	"github.com/optionscan/engine/internal/models"
)

func contractAt(strike float64, right models.Right, dteDays int, delta float64) models.Contract {
	return models.Contract{
		Symbol:     "TEST",
		Underlying: "TEST",
		Expiry:     time.Now().Add(time.Duration(dteDays) * 24 * time.Hour),
		Strike:     strike,
		Right:      right,
		Bid:        1.0,
		Ask:        1.1,
		Delta:      delta,
	}
}

func TestDTEFilter_BoundaryInclusive(t *testing.T) {
	now := time.Now()
	nowFn := func() time.Time { return now }

	contracts := []models.Contract{
		{Symbol: "c29", Expiry: now.Add(29 * 24 * time.Hour)},
		{Symbol: "c30", Expiry: now.Add(30 * 24 * time.Hour)},
		{Symbol: "c60", Expiry: now.Add(60 * 24 * time.Hour)},
		{Symbol: "c61", Expiry: now.Add(61 * 24 * time.Hour)},
	}

	f := &DTEConfig{MinDays: 30, MaxDays: 60, Now: nowFn}
	out := f.Apply(contracts)

	if len(out) != 2 {
		t.Fatalf("expected 2 contracts retained, got %d", len(out))
	}
	seen := map[string]bool{}
	for _, c := range out {
		seen[c.Symbol] = true
	}
	if !seen["c30"] || !seen["c60"] {
		t.Fatalf("expected exactly the 30- and 60-day contracts retained, got %+v", out)
	}
	if seen["c29"] || seen["c61"] {
		t.Fatalf("29- and 61-day contracts must be dropped, got %+v", out)
	}
}

func TestDTEFilter_Validate(t *testing.T) {
	f := &DTEConfig{MinDays: 60, MaxDays: 30}
	if err := f.Validate(); err == nil {
		t.Fatal("expected ErrConfig for min > max")
	}
	f2 := &DTEConfig{MinDays: -1, MaxDays: 30}
	if err := f2.Validate(); err == nil {
		t.Fatal("expected ErrConfig for negative days")
	}
}

func TestDeltaFilter_AbsoluteForPuts(t *testing.T) {
	contracts := []models.Contract{
		contractAt(100, models.Put, 30, -0.30),
		contractAt(100, models.Call, 30, 0.30),
		contractAt(100, models.Put, 30, -0.60),
	}
	f := &DeltaConfig{Min: 0.25, Max: 0.35, Absolute: true}
	out := f.Apply(contracts)
	if len(out) != 2 {
		t.Fatalf("expected 2 contracts (call 0.30 and |put -0.30|), got %d", len(out))
	}
}

func TestDeltaFilter_NaNDropped(t *testing.T) {
	c := contractAt(100, models.Call, 30, 0.30)
	c.Delta = nanFloat()
	out := (&DeltaConfig{Min: -1, Max: 1}).Apply([]models.Contract{c})
	if len(out) != 0 {
		t.Fatalf("NaN delta must fail every comparison and be dropped, got %d", len(out))
	}
}

func nanFloat() float64 {
	var zero float64
	return zero / zero
}

func TestLiquidityFilter_VolumeOrOpenInterest(t *testing.T) {
	c := contractAt(100, models.Call, 30, 0.30)
	c.Volume = 0
	c.OpenInterest = 500
	c.Bid, c.Ask = 1.0, 1.05

	f := &LiquidityConfig{MinVolume: 50, MinOpenInterest: 100, MaxBidAskSpread: 0.10}
	out := f.Apply([]models.Contract{c})
	if len(out) != 1 {
		t.Fatalf("expected contract retained on open-interest floor alone, got %d", len(out))
	}
}

func TestLiquidityFilter_SpreadTooWideDropped(t *testing.T) {
	c := contractAt(100, models.Call, 30, 0.30)
	c.Volume = 1000
	c.Bid, c.Ask = 1.0, 1.50

	f := &LiquidityConfig{MinVolume: 50, MaxBidAskSpread: 0.10}
	out := f.Apply([]models.Contract{c})
	if len(out) != 0 {
		t.Fatalf("expected contract dropped for too-wide spread, got %d", len(out))
	}
}

// TestChain_LiquidityFirstShortCircuit exercises the end-to-end scenario
// from the scan orchestration design: 10,000 contracts, 9,500 illiquid,
// chained behind Liquidity then Delta. Delta should only ever see the
// contracts that survive Liquidity.
func TestChain_LiquidityFirstShortCircuit(t *testing.T) {
	contracts := make([]models.Contract, 0, 10000)
	for i := 0; i < 9500; i++ {
		c := contractAt(float64(100+i), models.Call, 30, 0.30)
		c.Volume, c.OpenInterest = 0, 0
		contracts = append(contracts, c)
	}
	for i := 0; i < 500; i++ {
		c := contractAt(float64(200+i), models.Call, 30, 0.30)
		c.Volume = 1000
		c.OpenInterest = 1000
		c.Bid, c.Ask = 1.0, 1.05
		contracts = append(contracts, c)
	}

	cfg := FilterConfig{
		Liquidity: &LiquidityConfig{MinVolume: 50, MinOpenInterest: 100, MaxBidAskSpread: 0.10},
		Delta:     &DeltaConfig{Min: 0.25, Max: 0.35},
	}
	chain, err := NewChain(cfg, 64, nil)
	if err != nil {
		t.Fatalf("NewChain: %v", err)
	}

	out := chain.ApplyToContracts(contracts)
	if len(out) != 500 {
		t.Fatalf("expected 500 contracts to survive both filters, got %d", len(out))
	}

	stats := chain.Stats()
	if stats["delta"].Runs != 1 {
		t.Fatalf("expected delta filter to have run exactly once, got %d runs", stats["delta"].Runs)
	}
}

func TestChain_EmptyChainReturnsInputUnchanged(t *testing.T) {
	chain, err := NewChain(FilterConfig{}, 8, nil)
	if err != nil {
		t.Fatalf("NewChain: %v", err)
	}
	in := []models.Contract{contractAt(100, models.Call, 30, 0.3)}
	out := chain.ApplyToContracts(in)
	if len(out) != 1 {
		t.Fatalf("expected pass-through for an empty chain, got %d", len(out))
	}
}

func TestChain_ShortCircuitsOnEmptyIntermediate(t *testing.T) {
	cfg := FilterConfig{
		Liquidity: &LiquidityConfig{MinVolume: 1000000, MinOpenInterest: 1000000},
		Delta:     &DeltaConfig{Min: -1, Max: 1},
	}
	chain, err := NewChain(cfg, 8, nil)
	if err != nil {
		t.Fatalf("NewChain: %v", err)
	}
	in := []models.Contract{contractAt(100, models.Call, 30, 0.3)}
	out := chain.ApplyToContracts(in)
	if len(out) != 0 {
		t.Fatalf("expected empty result once liquidity drops everything, got %d", len(out))
	}

	stats := chain.Stats()
	if stats["delta"].Runs != 0 {
		t.Fatalf("delta must never run once the chain is empty, got %d runs", stats["delta"].Runs)
	}
}

func TestFilterConfig_InvalidFilterRejectedAtBuildTime(t *testing.T) {
	cfg := FilterConfig{Delta: &DeltaConfig{Min: 0.9, Max: 0.1}}
	if _, err := NewChain(cfg, 8, nil); err == nil {
		t.Fatal("expected ErrConfig to surface from chain construction")
	}
}
