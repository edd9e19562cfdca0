package engine

import (
	"sort"

	"github.com/optionscan/engine/internal/models"
)

// sortSpreads orders spreads by the scan's configured sort key and
// direction, defaulting to score descending.
func sortSpreads(spreads []models.VerticalSpread, key models.SortKey, dir models.SortDirection) {
	less := func(i, j int) bool {
		a, b := value(spreads[i], key), value(spreads[j], key)
		if dir == models.Ascending {
			return a < b
		}
		return a > b
	}
	sort.SliceStable(spreads, less)
}

func value(s models.VerticalSpread, key models.SortKey) float64 {
	switch key {
	case models.SortByPoP:
		return s.ProbOfProfit
	case models.SortByMaxProfit:
		return s.MaxProfit
	case models.SortByNetTheta:
		return s.NetTheta
	default:
		return s.Score
	}
}
