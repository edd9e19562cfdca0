package filters

import (
	"math"

	"github.com/optionscan/engine/internal/models"
)

const ratioEpsilon = 1e-9

// GreeksConfig is the composite greeks filter: gamma ceiling, theta floor,
// vega ceiling, and an optional |theta/gamma| floor guarded against
// divide-by-zero with a small epsilon.
type GreeksConfig struct {
	MaxGamma        float64 `json:"max_gamma" yaml:"max_gamma"`
	MinTheta        float64 `json:"min_theta" yaml:"min_theta"`
	MaxVega         float64 `json:"max_vega" yaml:"max_vega"`
	ThetaGammaRatio float64 `json:"theta_gamma_ratio,omitempty" yaml:"theta_gamma_ratio,omitempty"`
}

func (f *GreeksConfig) Name() string { return "greeks" }

func (f *GreeksConfig) Priority() int { return 30 }

func (f *GreeksConfig) StaticKey() []byte { return staticKey(f.Name(), f) }

func (f *GreeksConfig) Validate() error {
	if f.MaxGamma < 0 || f.MaxVega < 0 {
		return &ErrConfig{Filter: f.Name(), Reason: "gamma/vega ceilings cannot be negative"}
	}
	return nil
}

func (f *GreeksConfig) Apply(in []models.Contract) []models.Contract {
	out := make([]models.Contract, 0, len(in))
	for _, c := range in {
		if math.IsNaN(c.Gamma) || math.IsNaN(c.Theta) || math.IsNaN(c.Vega) {
			continue
		}
		if c.Gamma > f.MaxGamma || c.Theta < f.MinTheta || c.Vega > f.MaxVega {
			continue
		}
		if f.ThetaGammaRatio != 0 && c.Gamma != 0 {
			ratio := math.Abs(c.Theta / (c.Gamma + ratioEpsilon))
			if ratio < f.ThetaGammaRatio {
				continue
			}
		}
		out = append(out, c)
	}
	return out
}

// IVConfig is a plain absolute implied-volatility range filter, distinct
// from IVPercentile which ranks IV against its own trailing history.
type IVConfig struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

func (f *IVConfig) Name() string { return "iv" }

func (f *IVConfig) Priority() int { return 25 }

func (f *IVConfig) StaticKey() []byte { return staticKey(f.Name(), f) }

func (f *IVConfig) Validate() error {
	if f.Min < 0 || f.Max < 0 {
		return &ErrConfig{Filter: f.Name(), Reason: "iv bounds cannot be negative"}
	}
	if f.Min > f.Max {
		return &ErrConfig{Filter: f.Name(), Reason: "min greater than max"}
	}
	return nil
}

func (f *IVConfig) Apply(in []models.Contract) []models.Contract {
	out := make([]models.Contract, 0, len(in))
	for _, c := range in {
		if math.IsNaN(c.IV) {
			continue
		}
		if c.IV >= f.Min && c.IV <= f.Max {
			out = append(out, c)
		}
	}
	return out
}

// HistorySource is the external, out-of-scope IV history collaborator:
// a read-only lookup of daily closing IVs used only by IVPercentile.
type HistorySource interface {
	GetHistory(symbol string, lookbackDays int) ([]float64, error)
}

// IVPercentileConfig ranks a contract's current IV within its trailing
// LookbackDays of historical IV and keeps it if the rank falls in
// [MinPercentile, MaxPercentile]. If the history source returns no data,
// ApplyWithError fails with ErrDependency so the chain executor can treat
// the filter as pass-through for the tick; Apply itself passes the input
// through unchanged.
type IVPercentileConfig struct {
	MinPercentile float64 `json:"min_percentile" yaml:"min_percentile"`
	MaxPercentile float64 `json:"max_percentile" yaml:"max_percentile"`
	LookbackDays  int     `json:"lookback_days" yaml:"lookback_days"`

	History HistorySource `json:"-" yaml:"-"`
}

func (f *IVPercentileConfig) Name() string { return "iv_percentile" }

func (f *IVPercentileConfig) Priority() int { return 40 }

func (f *IVPercentileConfig) StaticKey() []byte {
	return staticKey(f.Name(), struct {
		Min, Max float64
		Lookback int
	}{f.MinPercentile, f.MaxPercentile, f.LookbackDays})
}

func (f *IVPercentileConfig) Validate() error {
	if f.MinPercentile < 0 || f.MaxPercentile > 100 || f.MinPercentile > f.MaxPercentile {
		return &ErrConfig{Filter: f.Name(), Reason: "percentile bounds must be within [0, 100] and ordered"}
	}
	if f.LookbackDays <= 0 {
		return &ErrConfig{Filter: f.Name(), Reason: "lookback_days must be positive"}
	}
	return nil
}

// Apply satisfies the plain Filter interface by collapsing a dependency
// failure into a pass-through, matching 4.B's "Chain Executor catches this
// and treats the filter as pass-through" rule for callers that don't check
// the error explicitly.
func (f *IVPercentileConfig) Apply(in []models.Contract) []models.Contract {
	out, err := f.ApplyWithError(in)
	if err != nil {
		return in
	}
	return out
}

func (f *IVPercentileConfig) ApplyWithError(in []models.Contract) ([]models.Contract, error) {
	if f.History == nil {
		return in, &ErrDependency{Filter: f.Name(), Reason: "no history source configured"}
	}

	out := make([]models.Contract, 0, len(in))
	ranked := map[string]float64{}
	for _, c := range in {
		rank, ok := ranked[c.Underlying]
		if !ok {
			history, err := f.History.GetHistory(c.Underlying, f.LookbackDays)
			if err != nil || len(history) == 0 {
				return in, &ErrDependency{Filter: f.Name(), Reason: "history unavailable for " + c.Underlying}
			}
			rank = percentileRank(history, c.IV)
			ranked[c.Underlying] = rank
		}
		if rank >= f.MinPercentile && rank <= f.MaxPercentile {
			out = append(out, c)
		}
	}
	return out, nil
}

// percentileRank returns the percentage of values in history at or below v.
func percentileRank(history []float64, v float64) float64 {
	if len(history) == 0 {
		return 0
	}
	count := 0
	for _, h := range history {
		if h <= v {
			count++
		}
	}
	return 100 * float64(count) / float64(len(history))
}
