// Package models holds the value types shared across the scan orchestration
// engine: contracts as they arrive from the upstream gateway, the vertical
// spreads derived from them, and the scan configuration/result types that
// flow between the engine, the chain executor, and the coordinator.
package models

import (
	"fmt"
	"time"
)

// Right distinguishes a call from a put.
type Right string

const (
	Call Right = "CALL"
	Put  Right = "PUT"
)

// Contract is a single option instrument at a point in time. It is
// immutable once produced by the upstream client: nothing downstream of the
// gateway may mutate a Contract's fields, only copy them into new values.
type Contract struct {
	Symbol     string
	Underlying string
	Expiry     time.Time
	Strike     float64
	Right      Right

	Bid          float64
	Ask          float64
	Last         float64
	Volume       int64
	OpenInterest int64

	Delta float64
	Gamma float64
	Theta float64
	Vega  float64

	IV           float64
	IVPercentile float64

	UnderlyingPrice float64
	FetchedAt       time.Time
}

// ID is the stable identifier for a contract: symbol/expiry/strike/right
// uniquely determine an option instrument.
func (c Contract) ID() string {
	return fmt.Sprintf("%s|%s|%.4f|%s", c.Underlying, c.Expiry.Format("2006-01-02"), c.Strike, c.Right)
}

// DTE returns days to expiration relative to now, floored.
func (c Contract) DTE(now time.Time) int {
	d := c.Expiry.Sub(now)
	return int(d.Hours() / 24)
}

// BidAskSpread is ask-bid, the liquidity proxy used throughout the filter
// library and the scoring formula.
func (c Contract) BidAskSpread() float64 {
	return c.Ask - c.Bid
}

// Valid enforces the two invariants every contract handed to a chain must
// satisfy: bid <= ask and expiry in the future relative to now.
func (c Contract) Valid(now time.Time) bool {
	return c.Bid <= c.Ask && c.Expiry.After(now)
}

// VerticalSpread is a long+short option pair, same expiry and right,
// different strikes.
type VerticalSpread struct {
	Underlying string
	Expiry     time.Time
	Right      Right

	Long  Contract
	Short Contract

	Credit   float64 // credit received for credit spreads
	NetDebit float64 // debit paid for debit spreads
	IsCredit bool

	MaxProfit    float64
	MaxLoss      float64
	Breakeven    float64
	ProbOfProfit float64

	NetDelta float64
	NetTheta float64
	NetVega  float64

	UnderlyingPrice float64

	Score float64
}

// ID derives the stable result identifier from the spread's defining legs.
// Two spreads with the same id across adjacent ticks represent the same
// candidate with updated metrics.
func (s VerticalSpread) ID() string {
	return fmt.Sprintf("%s|%s|%.4f|%.4f|%s",
		s.Underlying, s.Expiry.Format("2006-01-02"), s.Long.Strike, s.Short.Strike, s.Right)
}

// AvgLegBidAskSpread is the average of the two legs' bid-ask spreads, used
// as the liquidity penalty term in the published scoring formula.
func (s VerticalSpread) AvgLegBidAskSpread() float64 {
	return (s.Long.BidAskSpread() + s.Short.BidAskSpread()) / 2
}

// SortKey identifies which field to sort a scan's results by.
type SortKey string

const (
	SortByScore     SortKey = "score"
	SortByPoP       SortKey = "prob_of_profit"
	SortByMaxProfit SortKey = "max_profit"
	SortByNetTheta  SortKey = "net_theta"
)

// SortDirection is ascending or descending.
type SortDirection string

const (
	Ascending  SortDirection = "asc"
	Descending SortDirection = "desc"
)

// Result is a scored, ranked spread candidate as emitted to subscribers and
// the REST surface. Its Spread carries the raw computed metrics; Result
// adds the tick-scoped bookkeeping (id, tick-of-last-change) the diff
// algorithm in the engine relies on.
type Result struct {
	ID     string
	Spread VerticalSpread
	Score  float64

	FirstSeenTick int64
	LastChangedAt time.Time
}
