// Package presets provides a fluent builder over filters.FilterConfig and a
// handful of named starting points for common scan styles.
package presets

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/optionscan/engine/internal/filters"
)

// Builder accumulates a FilterConfig fluently, collecting malformed-JSON
// errors from FromJSON so Build can report them together rather than
// panicking mid-chain.
type Builder struct {
	config filters.FilterConfig
	errs   []error
}

func New() *Builder {
	return &Builder{}
}

func (b *Builder) WithDelta(min, max float64) *Builder {
	b.config.Delta = &filters.DeltaConfig{Min: min, Max: max}
	return b
}

func (b *Builder) WithDTE(min, max int) *Builder {
	b.config.DTE = &filters.DTEConfig{MinDays: min, MaxDays: max}
	return b
}

func (b *Builder) WithLiquidity(minVolume, minOpenInterest int64) *Builder {
	b.config.Liquidity = &filters.LiquidityConfig{MinVolume: minVolume, MinOpenInterest: minOpenInterest}
	return b
}

func (b *Builder) WithGreeks(maxGamma, minTheta, maxVega float64) *Builder {
	b.config.Greeks = &filters.GreeksConfig{MaxGamma: maxGamma, MinTheta: minTheta, MaxVega: maxVega}
	return b
}

func (b *Builder) WithIV(min, max float64) *Builder {
	b.config.IV = &filters.IVConfig{Min: min, Max: max}
	return b
}

func (b *Builder) WithIVPercentile(min, max float64, lookbackDays int, history filters.HistorySource) *Builder {
	b.config.IVPercentile = &filters.IVPercentileConfig{
		MinPercentile: min, MaxPercentile: max, LookbackDays: lookbackDays, History: history,
	}
	return b
}

func (b *Builder) WithProbabilityOfProfit(min float64) *Builder {
	b.config.Probability = &filters.ProbabilityConfig{MinPoP: min}
	return b
}

func (b *Builder) WithRanking(maxSpreads int, scoreThreshold float64) *Builder {
	b.config.Ranking = &filters.RankingConfig{MaxSpreads: maxSpreads, ScoreThreshold: scoreThreshold}
	return b
}

// Build validates the accumulated config and returns it for use in a
// ScanSpec; it does not itself construct a Chain, since chain construction
// needs the scan's cache-size and logger as well.
func (b *Builder) Build() (filters.FilterConfig, error) {
	if len(b.errs) > 0 {
		return filters.FilterConfig{}, fmt.Errorf("preset builder has %d errors: %w", len(b.errs), b.errs[0])
	}
	if _, _, _, err := b.config.Build(); err != nil {
		return filters.FilterConfig{}, fmt.Errorf("filter validation failed: %w", err)
	}
	return b.config, nil
}

// FromJSON merges a JSON-encoded FilterConfig into the builder's state.
func (b *Builder) FromJSON(data []byte) *Builder {
	if err := json.Unmarshal(data, &b.config); err != nil {
		b.errs = append(b.errs, fmt.Errorf("failed to parse JSON: %w", err))
	}
	return b
}

// ToJSON exports the builder's accumulated config.
func (b *Builder) ToJSON() ([]byte, error) {
	return json.MarshalIndent(b.config, "", "  ")
}

// Reset clears the builder back to an empty config.
func (b *Builder) Reset() *Builder {
	b.config = filters.FilterConfig{}
	b.errs = nil
	return b
}

// Named presets, carried over from the teacher's FilterPresets with the
// same five named styles and comparable threshold bands.

func Conservative() *Builder {
	return New().
		WithDelta(0.15, 0.30).
		WithDTE(30, 60).
		WithLiquidity(100, 50).
		WithProbabilityOfProfit(0.70)
}

func Moderate() *Builder {
	return New().
		WithDelta(0.20, 0.40).
		WithDTE(20, 45).
		WithLiquidity(50, 25).
		WithProbabilityOfProfit(0.60)
}

func Aggressive() *Builder {
	return New().
		WithDelta(0.25, 0.50).
		WithDTE(7, 30).
		WithLiquidity(25, 10).
		WithProbabilityOfProfit(0.50)
}

func HighIV() *Builder {
	return New().
		WithDelta(0.10, 0.25).
		WithDTE(30, 60).
		WithLiquidity(100, 50).
		WithIV(0.30, 1.0)
}

func ThetaHarvesting() *Builder {
	return New().
		WithDelta(0.20, 0.35).
		WithDTE(15, 45).
		WithLiquidity(50, 25).
		WithGreeks(1.0, 0.02, 1.0).
		WithProbabilityOfProfit(0.65)
}

// namedPresets is the fixed id/builder pairing SeedNamedPresets writes into
// a Store; ids are stable strings rather than generated uuids so a restart
// doesn't pile up duplicate copies of the same five starting points.
var namedPresets = []struct {
	id   string
	name string
	b    func() *Builder
}{
	{"conservative", "Conservative", Conservative},
	{"moderate", "Moderate", Moderate},
	{"aggressive", "Aggressive", Aggressive},
	{"high_iv", "High IV", HighIV},
	{"theta_harvesting", "Theta Harvesting", ThetaHarvesting},
}

// SeedNamedPresets writes the built-in named presets directly into store's
// backing KV, bypassing Create's random id assignment so every process
// start converges on the same five entries instead of accumulating new
// copies each time.
func SeedNamedPresets(ctx context.Context, store *Store) error {
	for _, n := range namedPresets {
		cfg, err := n.b().Build()
		if err != nil {
			return fmt.Errorf("seeding preset %s: %w", n.id, err)
		}
		filterData, err := json.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("seeding preset %s: %w", n.id, err)
		}

		p := Preset{ID: n.id, Name: n.name, Description: "built-in starting point", Filters: filterData}
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("seeding preset %s: %w", n.id, err)
		}
		if err := store.kv.Put(ctx, n.id, data); err != nil {
			return fmt.Errorf("seeding preset %s: %w", n.id, err)
		}
	}
	return nil
}
