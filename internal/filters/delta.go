package filters

import (
	"math"

	"github.com/optionscan/engine/internal/models"
)

// DeltaConfig filters contracts by delta range. When Absolute is set, puts
// are compared on |delta| rather than the signed value, matching the
// convention that a -0.30 put and a 0.30 call are both "30-delta".
type DeltaConfig struct {
	Min      float64 `json:"min" yaml:"min"`
	Max      float64 `json:"max" yaml:"max"`
	Absolute bool    `json:"absolute" yaml:"absolute"`
}

func (f *DeltaConfig) Name() string { return "delta" }

func (f *DeltaConfig) Priority() int { return 20 }

func (f *DeltaConfig) StaticKey() []byte {
	return staticKey(f.Name(), f)
}

func (f *DeltaConfig) Validate() error {
	if f.Min < -1 || f.Min > 1 || f.Max < -1 || f.Max > 1 {
		return &ErrConfig{Filter: f.Name(), Reason: "delta bounds must be within [-1, 1]"}
	}
	if f.Min > f.Max {
		return &ErrConfig{Filter: f.Name(), Reason: "min greater than max"}
	}
	return nil
}

func (f *DeltaConfig) Apply(in []models.Contract) []models.Contract {
	out := make([]models.Contract, 0, len(in))
	for _, c := range in {
		if math.IsNaN(c.Delta) {
			continue
		}
		d := c.Delta
		if f.Absolute && c.Right == models.Put {
			d = math.Abs(d)
		}
		if d >= f.Min && d <= f.Max {
			out = append(out, c)
		}
	}
	return out
}
