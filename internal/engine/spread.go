package engine

import (
	"sort"

	"github.com/optionscan/engine/internal/models"
)

// maxStrikesWide bounds how many strikes apart two legs of a generated
// spread may be, keeping the Cartesian combination from exploding on a
// wide, liquid chain.
const maxStrikesWide = 3

// generateVerticalSpreads builds every candidate vertical spread from a
// filtered contract set: contracts are grouped by (expiry, right), sorted
// by strike within each group, and adjacent-to-maxStrikesWide pairs become
// spread candidates. This transform is deterministic given its input.
func generateVerticalSpreads(contracts []models.Contract) []models.VerticalSpread {
	type groupKey struct {
		expiry string
		right  models.Right
	}
	groups := make(map[groupKey][]models.Contract)
	for _, c := range contracts {
		k := groupKey{expiry: c.Expiry.Format("2006-01-02"), right: c.Right}
		groups[k] = append(groups[k], c)
	}

	spreads := make([]models.VerticalSpread, 0)
	for _, group := range groups {
		sort.Slice(group, func(i, j int) bool { return group[i].Strike < group[j].Strike })

		for i := 0; i < len(group)-1; i++ {
			for j := i + 1; j < len(group) && j <= i+maxStrikesWide; j++ {
				spreads = append(spreads, createSpread(group[i], group[j]))
			}
		}
	}
	return spreads
}

// createSpread builds a vertical spread from two same-expiry, same-right
// contracts at different strikes. Calls produce a bull call debit spread
// (long the lower strike); puts produce a bear put debit spread (long the
// higher strike).
func createSpread(lower, higher models.Contract) models.VerticalSpread {
	s := models.VerticalSpread{
		Underlying:      lower.Underlying,
		Expiry:          lower.Expiry,
		Right:           lower.Right,
		UnderlyingPrice: lower.UnderlyingPrice,
	}

	if lower.Right == models.Call {
		s.Long, s.Short = lower, higher
		s.NetDebit = lower.Ask - higher.Bid
		s.MaxProfit = (higher.Strike - lower.Strike) - s.NetDebit
		s.MaxLoss = s.NetDebit
		s.Breakeven = lower.Strike + s.NetDebit
	} else {
		s.Long, s.Short = higher, lower
		s.NetDebit = higher.Ask - lower.Bid
		s.MaxProfit = (higher.Strike - lower.Strike) - s.NetDebit
		s.MaxLoss = s.NetDebit
		s.Breakeven = higher.Strike - s.NetDebit
	}

	s.NetDelta = s.Long.Delta - s.Short.Delta
	s.NetTheta = s.Long.Theta - s.Short.Theta
	s.NetVega = s.Long.Vega - s.Short.Vega
	s.ProbOfProfit = estimateProbOfProfit(s)
	s.Score = score(s)

	return s
}

// estimateProbOfProfit approximates probability of profit as
// maxProfit/(maxProfit+maxLoss), clamped to [0, 1] and 0 for a zero-width
// spread or one with no positive max profit: a coarse but deterministic
// stand-in for a full pricing-model estimate (out of scope:
// this package consumes greeks and quotes as given, it does not model
// them).
func estimateProbOfProfit(s models.VerticalSpread) float64 {
	width := s.Long.Strike - s.Short.Strike
	if width == 0 {
		width = s.Short.Strike - s.Long.Strike
	}
	if width == 0 {
		return 0
	}
	if s.MaxProfit <= 0 {
		return 0
	}
	ratio := s.MaxProfit / (s.MaxProfit + s.MaxLoss)
	if ratio < 0 {
		return 0
	}
	if ratio > 1 {
		return 1
	}
	return ratio
}

// score is the published scoring formula: reward a good risk/reward ratio
// and positive theta, penalize wide leg spreads, reward probability of
// profit.
func score(s models.VerticalSpread) float64 {
	v := 0.0
	if s.MaxLoss > 0 {
		v += (s.MaxProfit / s.MaxLoss) * 10
	}
	v += s.NetTheta * 5
	v -= s.AvgLegBidAskSpread() * 2
	if s.ProbOfProfit > 0 {
		v += s.ProbOfProfit * 20
	}
	return v
}
