// Package filters implements the contract and spread filter library and the
// chain executor that applies them in optimal order against a scan's
// incoming contract batch.
package filters

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/optionscan/engine/internal/models"
)

// Filter is the capability set every contract filter implements. Apply must
// be a pure function over its input batch: it must not mutate the input
// slice's elements, and it may only ever fail (at construction time, via
// Validate) with ErrConfig — a filter must never panic on ordinary input.
type Filter interface {
	Name() string
	Apply(in []models.Contract) []models.Contract
	// Priority is a default ordering hint (lower runs earlier); only
	// consulted by the chain executor when it has no selectivity/cost
	// stats yet for this filter.
	Priority() int
	// StaticKey is a deterministic hash of the filter's own parameters;
	// identical filter configurations must produce identical keys, and it
	// feeds the chain executor's cache key.
	StaticKey() []byte
	Validate() error
}

// SpreadFilter is specialized for filtering vertical spreads once they have
// been generated from a filtered contract set.
type SpreadFilter interface {
	Name() string
	ApplyToSpread(spread models.VerticalSpread) bool
	Priority() int
	StaticKey() []byte
	Validate() error
}

// CombinedFilter operates on the contract set and the spread set together,
// for filters whose decision depends on cross-cutting portfolio state
// (correlation grouping, allocation limits, ranking) rather than a single
// contract or spread in isolation.
type CombinedFilter interface {
	Name() string
	ApplyToCombined(contracts []models.Contract, spreads []models.VerticalSpread) ([]models.Contract, []models.VerticalSpread)
	Validate() error
}

// staticKey hashes any JSON-serializable filter parameter struct into a
// deterministic digest, the teacher's own cache-key idiom (see
// filters.FilterCache.generateKey) generalized into the per-filter
// StaticKey contract.
func staticKey(filterName string, params interface{}) []byte {
	data, _ := json.Marshal(params)
	sum := sha256.Sum256(append([]byte(filterName+"|"), data...))
	return sum[:]
}

// ErrConfig is returned by Validate for nonsensical filter parameters.
type ErrConfig struct {
	Filter  string
	Reason  string
}

func (e *ErrConfig) Error() string {
	return fmt.Sprintf("%s: invalid config: %s", e.Filter, e.Reason)
}

// ErrDependency is returned by ApplyWithError (not Validate) when a filter's runtime
// dependency — the historical IV source, for IVPercentile — is unavailable.
// The chain executor catches this and treats the filter as pass-through.
type ErrDependency struct {
	Filter string
	Reason string
}

func (e *ErrDependency) Error() string {
	return fmt.Sprintf("%s: dependency unavailable: %s", e.Filter, e.Reason)
}

// DependencyFilter is implemented by filters whose Apply may fail with
// ErrDependency instead of always succeeding (currently only IVPercentile).
type DependencyFilter interface {
	Filter
	ApplyWithError(in []models.Contract) ([]models.Contract, error)
}

// FilterConfig is the tagged-variant configuration for an entire chain: one
// optional pointer field per filter kind. This replaces the teacher's (and
// the original system's) dynamically-typed dict config with an explicit
// sum type decoded once, at chain-construction time, from user JSON/YAML.
type FilterConfig struct {
	DTE          *DTEConfig          `json:"dte,omitempty" yaml:"dte,omitempty"`
	Delta        *DeltaConfig        `json:"delta,omitempty" yaml:"delta,omitempty"`
	Greeks       *GreeksConfig       `json:"greeks,omitempty" yaml:"greeks,omitempty"`
	Liquidity    *LiquidityConfig    `json:"liquidity,omitempty" yaml:"liquidity,omitempty"`
	IV           *IVConfig           `json:"iv,omitempty" yaml:"iv,omitempty"`
	IVPercentile *IVPercentileConfig `json:"iv_percentile,omitempty" yaml:"iv_percentile,omitempty"`

	SpreadWidth  *SpreadWidthConfig  `json:"spread_width,omitempty" yaml:"spread_width,omitempty"`
	Probability  *ProbabilityConfig  `json:"probability,omitempty" yaml:"probability,omitempty"`
	RiskReward   *RiskRewardConfig   `json:"risk_reward,omitempty" yaml:"risk_reward,omitempty"`
	BreakEven    *BreakEvenConfig    `json:"break_even,omitempty" yaml:"break_even,omitempty"`
	ExpectedValue *ExpectedValueConfig `json:"expected_value,omitempty" yaml:"expected_value,omitempty"`
	DeltaNeutral *DeltaNeutralConfig `json:"delta_neutral,omitempty" yaml:"delta_neutral,omitempty"`
	MarginEfficiency *MarginEfficiencyConfig `json:"margin_efficiency,omitempty" yaml:"margin_efficiency,omitempty"`
	VolatilityEdge   *VolatilityEdgeConfig   `json:"volatility_edge,omitempty" yaml:"volatility_edge,omitempty"`
	CombinedGreeks   *CombinedGreeksConfig   `json:"combined_greeks,omitempty" yaml:"combined_greeks,omitempty"`
	LiquiditySpread  *LiquiditySpreadConfig  `json:"liquidity_spread,omitempty" yaml:"liquidity_spread,omitempty"`

	Correlation      *CorrelationConfig      `json:"correlation,omitempty" yaml:"correlation,omitempty"`
	PortfolioBalance *PortfolioBalanceConfig `json:"portfolio_balance,omitempty" yaml:"portfolio_balance,omitempty"`
	Ranking          *RankingConfig          `json:"ranking,omitempty" yaml:"ranking,omitempty"`
	TimeDecay        *TimeDecayConfig        `json:"time_decay,omitempty" yaml:"time_decay,omitempty"`
}

// Build decodes the tagged variant into the three filter-kind slices the
// chain executor operates over, validating every active filter. This is
// the only place user-supplied config becomes live filter values.
func (c FilterConfig) Build() (contractFilters []Filter, spreadFilters []SpreadFilter, combinedFilters []CombinedFilter, err error) {
	add := func(f Filter) {
		contractFilters = append(contractFilters, f)
	}
	addSpread := func(f SpreadFilter) {
		spreadFilters = append(spreadFilters, f)
	}
	addCombined := func(f CombinedFilter) {
		combinedFilters = append(combinedFilters, f)
	}

	if c.DTE != nil {
		add(c.DTE)
	}
	if c.Delta != nil {
		add(c.Delta)
	}
	if c.Greeks != nil {
		add(c.Greeks)
	}
	if c.Liquidity != nil {
		add(c.Liquidity)
	}
	if c.IV != nil {
		add(c.IV)
	}
	if c.IVPercentile != nil {
		add(c.IVPercentile)
	}
	if c.SpreadWidth != nil {
		addSpread(c.SpreadWidth)
	}
	if c.Probability != nil {
		addSpread(c.Probability)
	}
	if c.RiskReward != nil {
		addSpread(c.RiskReward)
	}
	if c.BreakEven != nil {
		addSpread(c.BreakEven)
	}
	if c.ExpectedValue != nil {
		addSpread(c.ExpectedValue)
	}
	if c.DeltaNeutral != nil {
		addSpread(c.DeltaNeutral)
	}
	if c.MarginEfficiency != nil {
		addSpread(c.MarginEfficiency)
	}
	if c.VolatilityEdge != nil {
		addSpread(c.VolatilityEdge)
	}
	if c.CombinedGreeks != nil {
		addSpread(c.CombinedGreeks)
	}
	if c.LiquiditySpread != nil {
		addSpread(c.LiquiditySpread)
	}
	if c.Correlation != nil {
		addCombined(c.Correlation)
	}
	if c.PortfolioBalance != nil {
		addCombined(c.PortfolioBalance)
	}
	if c.Ranking != nil {
		addCombined(c.Ranking)
	}
	if c.TimeDecay != nil {
		addCombined(c.TimeDecay)
	}

	for _, f := range contractFilters {
		if verr := f.Validate(); verr != nil {
			return nil, nil, nil, verr
		}
	}
	for _, f := range spreadFilters {
		if verr := f.Validate(); verr != nil {
			return nil, nil, nil, verr
		}
	}
	for _, f := range combinedFilters {
		if verr := f.Validate(); verr != nil {
			return nil, nil, nil, verr
		}
	}

	return contractFilters, spreadFilters, combinedFilters, nil
}
