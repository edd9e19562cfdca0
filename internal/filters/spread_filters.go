package filters

import (
	"math"

	"github.com/optionscan/engine/internal/models"
)

// SpreadWidthConfig bounds the strike distance between the two legs.
type SpreadWidthConfig struct {
	MinWidth float64 `json:"min_width" yaml:"min_width"`
	MaxWidth float64 `json:"max_width" yaml:"max_width"`
}

func (f *SpreadWidthConfig) Name() string { return "spread_width" }
func (f *SpreadWidthConfig) Priority() int { return 50 }
func (f *SpreadWidthConfig) StaticKey() []byte { return staticKey(f.Name(), f) }
func (f *SpreadWidthConfig) Validate() error {
	if f.MinWidth < 0 || f.MaxWidth < 0 || f.MinWidth > f.MaxWidth {
		return &ErrConfig{Filter: f.Name(), Reason: "width bounds invalid"}
	}
	return nil
}
func (f *SpreadWidthConfig) ApplyToSpread(s models.VerticalSpread) bool {
	width := math.Abs(s.Long.Strike - s.Short.Strike)
	return width >= f.MinWidth && width <= f.MaxWidth
}

// ProbabilityConfig filters on the spread's modeled probability of profit.
type ProbabilityConfig struct {
	MinPoP float64 `json:"min_pop" yaml:"min_pop"`
}

func (f *ProbabilityConfig) Name() string { return "probability" }
func (f *ProbabilityConfig) Priority() int { return 55 }
func (f *ProbabilityConfig) StaticKey() []byte { return staticKey(f.Name(), f) }
func (f *ProbabilityConfig) Validate() error {
	if f.MinPoP < 0 || f.MinPoP > 1 {
		return &ErrConfig{Filter: f.Name(), Reason: "min_pop must be within [0, 1]"}
	}
	return nil
}
func (f *ProbabilityConfig) ApplyToSpread(s models.VerticalSpread) bool {
	return s.ProbOfProfit >= f.MinPoP
}

// RiskRewardConfig requires a minimum reward-to-risk ratio (maxProfit/maxLoss).
type RiskRewardConfig struct {
	MinRatio float64 `json:"min_ratio" yaml:"min_ratio"`
}

func (f *RiskRewardConfig) Name() string { return "risk_reward" }
func (f *RiskRewardConfig) Priority() int { return 60 }
func (f *RiskRewardConfig) StaticKey() []byte { return staticKey(f.Name(), f) }
func (f *RiskRewardConfig) Validate() error {
	if f.MinRatio < 0 {
		return &ErrConfig{Filter: f.Name(), Reason: "min_ratio cannot be negative"}
	}
	return nil
}
func (f *RiskRewardConfig) ApplyToSpread(s models.VerticalSpread) bool {
	if s.MaxLoss == 0 {
		return false
	}
	return s.MaxProfit/s.MaxLoss >= f.MinRatio
}

// BreakEvenConfig bounds how far the breakeven price may sit from the
// current underlying price, expressed as a fraction of underlying price.
type BreakEvenConfig struct {
	MaxDistancePct float64 `json:"max_distance_pct" yaml:"max_distance_pct"`
}

func (f *BreakEvenConfig) Name() string { return "break_even" }
func (f *BreakEvenConfig) Priority() int { return 65 }
func (f *BreakEvenConfig) StaticKey() []byte { return staticKey(f.Name(), f) }
func (f *BreakEvenConfig) Validate() error {
	if f.MaxDistancePct < 0 {
		return &ErrConfig{Filter: f.Name(), Reason: "max_distance_pct cannot be negative"}
	}
	return nil
}
func (f *BreakEvenConfig) ApplyToSpread(s models.VerticalSpread) bool {
	if s.UnderlyingPrice == 0 {
		return false
	}
	dist := math.Abs(s.Breakeven-s.UnderlyingPrice) / s.UnderlyingPrice
	return dist <= f.MaxDistancePct
}

// ExpectedValueConfig requires a minimum expected value, computed from the
// spread's modeled probability of profit and its profit/loss magnitudes.
type ExpectedValueConfig struct {
	MinExpectedValue float64 `json:"min_expected_value" yaml:"min_expected_value"`
}

func (f *ExpectedValueConfig) Name() string { return "expected_value" }
func (f *ExpectedValueConfig) Priority() int { return 70 }
func (f *ExpectedValueConfig) StaticKey() []byte { return staticKey(f.Name(), f) }
func (f *ExpectedValueConfig) Validate() error { return nil }
func (f *ExpectedValueConfig) ApplyToSpread(s models.VerticalSpread) bool {
	ev := s.ProbOfProfit*s.MaxProfit - (1-s.ProbOfProfit)*s.MaxLoss
	return ev >= f.MinExpectedValue
}

// DeltaNeutralConfig keeps spreads whose net delta sits within a band around
// zero, for traders hedging directional exposure.
type DeltaNeutralConfig struct {
	MaxAbsNetDelta float64 `json:"max_abs_net_delta" yaml:"max_abs_net_delta"`
}

func (f *DeltaNeutralConfig) Name() string { return "delta_neutral" }
func (f *DeltaNeutralConfig) Priority() int { return 35 }
func (f *DeltaNeutralConfig) StaticKey() []byte { return staticKey(f.Name(), f) }
func (f *DeltaNeutralConfig) Validate() error {
	if f.MaxAbsNetDelta < 0 {
		return &ErrConfig{Filter: f.Name(), Reason: "max_abs_net_delta cannot be negative"}
	}
	return nil
}
func (f *DeltaNeutralConfig) ApplyToSpread(s models.VerticalSpread) bool {
	return math.Abs(s.NetDelta) <= f.MaxAbsNetDelta
}

// MarginEfficiencyConfig requires a minimum max-profit-per-dollar-of-margin
// ratio, using MaxLoss as the margin proxy (the teacher's own approximation
// for a defined-risk vertical).
type MarginEfficiencyConfig struct {
	MinEfficiency float64 `json:"min_efficiency" yaml:"min_efficiency"`
}

func (f *MarginEfficiencyConfig) Name() string { return "margin_efficiency" }
func (f *MarginEfficiencyConfig) Priority() int { return 75 }
func (f *MarginEfficiencyConfig) StaticKey() []byte { return staticKey(f.Name(), f) }
func (f *MarginEfficiencyConfig) Validate() error {
	if f.MinEfficiency < 0 {
		return &ErrConfig{Filter: f.Name(), Reason: "min_efficiency cannot be negative"}
	}
	return nil
}
func (f *MarginEfficiencyConfig) ApplyToSpread(s models.VerticalSpread) bool {
	if s.MaxLoss == 0 {
		return false
	}
	return s.MaxProfit/s.MaxLoss >= f.MinEfficiency
}

// VolatilityEdgeConfig requires the short leg's IV to exceed the long leg's
// by at least MinIVEdge, a proxy for the spread capturing a volatility skew.
type VolatilityEdgeConfig struct {
	MinIVEdge float64 `json:"min_iv_edge" yaml:"min_iv_edge"`
}

func (f *VolatilityEdgeConfig) Name() string { return "volatility_edge" }
func (f *VolatilityEdgeConfig) Priority() int { return 80 }
func (f *VolatilityEdgeConfig) StaticKey() []byte { return staticKey(f.Name(), f) }
func (f *VolatilityEdgeConfig) Validate() error { return nil }
func (f *VolatilityEdgeConfig) ApplyToSpread(s models.VerticalSpread) bool {
	return s.Short.IV-s.Long.IV >= f.MinIVEdge
}

// CombinedGreeksConfig bounds the spread's net theta and net vega together,
// the spread-level analog of the contract-level GreeksConfig.
type CombinedGreeksConfig struct {
	MinNetTheta float64 `json:"min_net_theta" yaml:"min_net_theta"`
	MaxAbsNetVega float64 `json:"max_abs_net_vega" yaml:"max_abs_net_vega"`
}

func (f *CombinedGreeksConfig) Name() string { return "combined_greeks" }
func (f *CombinedGreeksConfig) Priority() int { return 45 }
func (f *CombinedGreeksConfig) StaticKey() []byte { return staticKey(f.Name(), f) }
func (f *CombinedGreeksConfig) Validate() error {
	if f.MaxAbsNetVega < 0 {
		return &ErrConfig{Filter: f.Name(), Reason: "max_abs_net_vega cannot be negative"}
	}
	return nil
}
func (f *CombinedGreeksConfig) ApplyToSpread(s models.VerticalSpread) bool {
	return s.NetTheta >= f.MinNetTheta && math.Abs(s.NetVega) <= f.MaxAbsNetVega
}

// LiquiditySpreadConfig bounds the average of the two legs' bid-ask spreads.
type LiquiditySpreadConfig struct {
	MaxAvgLegSpread float64 `json:"max_avg_leg_spread" yaml:"max_avg_leg_spread"`
}

func (f *LiquiditySpreadConfig) Name() string { return "liquidity_spread" }
func (f *LiquiditySpreadConfig) Priority() int { return 18 }
func (f *LiquiditySpreadConfig) StaticKey() []byte { return staticKey(f.Name(), f) }
func (f *LiquiditySpreadConfig) Validate() error {
	if f.MaxAvgLegSpread < 0 {
		return &ErrConfig{Filter: f.Name(), Reason: "max_avg_leg_spread cannot be negative"}
	}
	return nil
}
func (f *LiquiditySpreadConfig) ApplyToSpread(s models.VerticalSpread) bool {
	return s.AvgLegBidAskSpread() <= f.MaxAvgLegSpread
}
