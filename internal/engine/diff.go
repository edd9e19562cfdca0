package engine

import (
	"math"

	"github.com/optionscan/engine/internal/models"
)

// priceEpsilon and greekEpsilon bound how much a result's price/greek
// metrics must move between ticks before it counts as "changed" rather
// than noise.
const (
	priceEpsilon = 0.01
	greekEpsilon = 0.001
)

// diffResult is the outcome of comparing one tick's result set against the
// previous one, by result id.
type diffResult struct {
	added   []models.Result
	removed []models.Result
	changed []models.Result
}

// diff computes added/removed/changed between the previous and current
// result sets. A result present in both with metrics within epsilon of
// each other is considered unchanged and omitted entirely.
func diff(prev, curr map[string]models.Result) diffResult {
	var d diffResult

	for id, c := range curr {
		p, existed := prev[id]
		if !existed {
			d.added = append(d.added, c)
			continue
		}
		if materiallyChanged(p, c) {
			d.changed = append(d.changed, c)
		}
	}

	for id, p := range prev {
		if _, stillPresent := curr[id]; !stillPresent {
			d.removed = append(d.removed, p)
		}
	}

	return d
}

func materiallyChanged(prev, curr models.Result) bool {
	if math.Abs(curr.Spread.MaxProfit-prev.Spread.MaxProfit) > priceEpsilon {
		return true
	}
	if math.Abs(curr.Spread.MaxLoss-prev.Spread.MaxLoss) > priceEpsilon {
		return true
	}
	if math.Abs(curr.Spread.Breakeven-prev.Spread.Breakeven) > priceEpsilon {
		return true
	}
	if math.Abs(curr.Spread.NetDelta-prev.Spread.NetDelta) > greekEpsilon {
		return true
	}
	if math.Abs(curr.Spread.NetTheta-prev.Spread.NetTheta) > greekEpsilon {
		return true
	}
	if math.Abs(curr.Spread.NetVega-prev.Spread.NetVega) > greekEpsilon {
		return true
	}
	if math.Abs(curr.Score-prev.Score) > priceEpsilon {
		return true
	}
	return false
}
