package filters

import (
	"sort"
	"time"

	"github.com/optionscan/engine/internal/models"
)

// CorrelationConfig caps how many spreads from a correlated symbol group may
// coexist in a single scan's result set, so a scan doesn't surface ten
// variations on the same directional bet under different tickers.
type CorrelationConfig struct {
	MaxCorrelation float64             `json:"max_correlation" yaml:"max_correlation"`
	SymbolGroups   map[string][]string `json:"symbol_groups" yaml:"symbol_groups"`
}

func (f *CorrelationConfig) Name() string { return "correlation" }

func (f *CorrelationConfig) Validate() error {
	if f.MaxCorrelation < 0 || f.MaxCorrelation > 1 {
		return &ErrConfig{Filter: f.Name(), Reason: "max_correlation must be within [0, 1]"}
	}
	return nil
}

func (f *CorrelationConfig) groupOf(symbol string) string {
	for group, symbols := range f.SymbolGroups {
		for _, s := range symbols {
			if s == symbol {
				return group
			}
		}
	}
	return ""
}

func (f *CorrelationConfig) ApplyToCombined(contracts []models.Contract, spreads []models.VerticalSpread) ([]models.Contract, []models.VerticalSpread) {
	if f.SymbolGroups == nil {
		return contracts, spreads
	}

	groupCounts := make(map[string]int)
	filteredSpreads := make([]models.VerticalSpread, 0, len(spreads))
	for _, s := range spreads {
		group := f.groupOf(s.Underlying)
		if group == "" {
			filteredSpreads = append(filteredSpreads, s)
			continue
		}
		size := len(f.SymbolGroups[group])
		if size > 0 && float64(groupCounts[group]+1)/float64(size) > f.MaxCorrelation {
			continue
		}
		groupCounts[group]++
		filteredSpreads = append(filteredSpreads, s)
	}

	allowedSymbols := make(map[string]bool)
	for _, s := range filteredSpreads {
		allowedSymbols[s.Underlying] = true
	}
	filteredContracts := make([]models.Contract, 0, len(contracts))
	for _, c := range contracts {
		group := f.groupOf(c.Underlying)
		if group == "" || allowedSymbols[c.Underlying] || groupCounts[group] == 0 {
			filteredContracts = append(filteredContracts, c)
		}
	}

	return filteredContracts, filteredSpreads
}

// PortfolioBalanceConfig caps exposure per underlying and per sector, using
// each spread's net debit/credit magnitude as its notional weight.
type PortfolioBalanceConfig struct {
	MaxAllocationPct float64            `json:"max_allocation_pct" yaml:"max_allocation_pct"`
	SectorLimitsPct  map[string]float64 `json:"sector_limits_pct" yaml:"sector_limits_pct"`
	SymbolToSector   map[string]string  `json:"symbol_to_sector" yaml:"symbol_to_sector"`
}

func (f *PortfolioBalanceConfig) Name() string { return "portfolio_balance" }

func (f *PortfolioBalanceConfig) Validate() error {
	if f.MaxAllocationPct < 0 {
		return &ErrConfig{Filter: f.Name(), Reason: "max_allocation_pct cannot be negative"}
	}
	return nil
}

func (f *PortfolioBalanceConfig) weight(s models.VerticalSpread) float64 {
	if s.IsCredit {
		return s.Credit * 100
	}
	return s.NetDebit * 100
}

func (f *PortfolioBalanceConfig) ApplyToCombined(contracts []models.Contract, spreads []models.VerticalSpread) ([]models.Contract, []models.VerticalSpread) {
	symbolAlloc := make(map[string]float64)
	sectorAlloc := make(map[string]float64)
	total := 0.0
	for _, s := range spreads {
		v := f.weight(s)
		symbolAlloc[s.Underlying] += v
		total += v
		if sector, ok := f.SymbolToSector[s.Underlying]; ok {
			sectorAlloc[sector] += v
		}
	}
	if total == 0 {
		return contracts, spreads
	}

	keep := func(symbol string) bool {
		if f.MaxAllocationPct > 0 && symbolAlloc[symbol]/total >= f.MaxAllocationPct {
			return false
		}
		if sector, ok := f.SymbolToSector[symbol]; ok {
			if limit, hasLimit := f.SectorLimitsPct[sector]; hasLimit && sectorAlloc[sector]/total >= limit {
				return false
			}
		}
		return true
	}

	filteredSpreads := make([]models.VerticalSpread, 0, len(spreads))
	for _, s := range spreads {
		if keep(s.Underlying) {
			filteredSpreads = append(filteredSpreads, s)
		}
	}
	filteredContracts := make([]models.Contract, 0, len(contracts))
	for _, c := range contracts {
		if keep(c.Underlying) {
			filteredContracts = append(filteredContracts, c)
		}
	}
	return filteredContracts, filteredSpreads
}

// RankingConfig sorts spreads by score descending and keeps the top
// MaxSpreads above ScoreThreshold. Contracts pass through unchanged; ranking
// only makes sense once spreads (and their scores) exist.
type RankingConfig struct {
	MaxSpreads     int     `json:"max_spreads" yaml:"max_spreads"`
	ScoreThreshold float64 `json:"score_threshold" yaml:"score_threshold"`
}

func (f *RankingConfig) Name() string { return "ranking" }

func (f *RankingConfig) Validate() error {
	if f.MaxSpreads < 0 {
		return &ErrConfig{Filter: f.Name(), Reason: "max_spreads cannot be negative"}
	}
	return nil
}

func (f *RankingConfig) ApplyToCombined(contracts []models.Contract, spreads []models.VerticalSpread) ([]models.Contract, []models.VerticalSpread) {
	ranked := make([]models.VerticalSpread, len(spreads))
	copy(ranked, spreads)
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })

	limit := f.MaxSpreads
	if limit <= 0 || limit > len(ranked) {
		limit = len(ranked)
	}

	filtered := make([]models.VerticalSpread, 0, limit)
	for i := 0; i < limit; i++ {
		if ranked[i].Score < f.ScoreThreshold {
			break
		}
		filtered = append(filtered, ranked[i])
	}
	return contracts, filtered
}

// TimeDecayConfig biases the survivor set toward theta-collection trades: it
// requires net theta within [MinDailyTheta, MaxThetaRisk] and rescales each
// spread's score by proximity to a preferred DTE.
type TimeDecayConfig struct {
	MinDailyTheta float64 `json:"min_daily_theta" yaml:"min_daily_theta"`
	MaxThetaRisk  float64 `json:"max_theta_risk" yaml:"max_theta_risk"`
	PreferredDTE  int     `json:"preferred_dte" yaml:"preferred_dte"`
	DTEWeight     float64 `json:"dte_weight" yaml:"dte_weight"`

	Now func() time.Time `json:"-" yaml:"-"`
}

func (f *TimeDecayConfig) Name() string { return "time_decay" }

func (f *TimeDecayConfig) Validate() error {
	if f.MinDailyTheta > f.MaxThetaRisk {
		return &ErrConfig{Filter: f.Name(), Reason: "min_daily_theta greater than max_theta_risk"}
	}
	return nil
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

func (f *TimeDecayConfig) ApplyToCombined(contracts []models.Contract, spreads []models.VerticalSpread) ([]models.Contract, []models.VerticalSpread) {
	now := time.Now
	if f.Now != nil {
		now = f.Now
	}
	ref := now()

	filtered := make([]models.VerticalSpread, 0, len(spreads))
	for _, s := range spreads {
		if s.NetTheta < f.MinDailyTheta || s.NetTheta > f.MaxThetaRisk {
			continue
		}
		avgDTE := (s.Long.DTE(ref) + s.Short.DTE(ref)) / 2
		dist := float64(absInt(avgDTE - f.PreferredDTE))
		s.Score = s.Score * (1 - f.DTEWeight*dist/100)
		filtered = append(filtered, s)
	}
	return contracts, filtered
}
