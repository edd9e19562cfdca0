package filters

import (
	"github.com/optionscan/engine/internal/models"
)

// LiquidityConfig keeps a contract if it clears either the volume or the
// open-interest floor (whichever is configured; a zero floor is treated as
// "not required") and its bid-ask spread does not exceed MaxBidAskSpread.
type LiquidityConfig struct {
	MinVolume       int64   `json:"min_volume" yaml:"min_volume"`
	MinOpenInterest int64   `json:"min_open_interest" yaml:"min_open_interest"`
	MaxBidAskSpread float64 `json:"max_bid_ask_spread" yaml:"max_bid_ask_spread"`
}

func (f *LiquidityConfig) Name() string { return "liquidity" }

func (f *LiquidityConfig) Priority() int { return 15 }

func (f *LiquidityConfig) StaticKey() []byte { return staticKey(f.Name(), f) }

func (f *LiquidityConfig) Validate() error {
	if f.MinVolume < 0 || f.MinOpenInterest < 0 || f.MaxBidAskSpread < 0 {
		return &ErrConfig{Filter: f.Name(), Reason: "liquidity thresholds cannot be negative"}
	}
	return nil
}

func (f *LiquidityConfig) Apply(in []models.Contract) []models.Contract {
	out := make([]models.Contract, 0, len(in))
	for _, c := range in {
		volOK := f.MinVolume == 0 || c.Volume >= f.MinVolume
		oiOK := f.MinOpenInterest == 0 || c.OpenInterest >= f.MinOpenInterest
		if !(volOK || oiOK) {
			continue
		}
		if f.MaxBidAskSpread > 0 && c.BidAskSpread() > f.MaxBidAskSpread {
			continue
		}
		out = append(out, c)
	}
	return out
}
