package filters

import (
	"time"

	"github.com/optionscan/engine/internal/models"
)

// DTEConfig filters contracts by days-to-expiration.
type DTEConfig struct {
	MinDays int `json:"min_days" yaml:"min_days"`
	MaxDays int `json:"max_days" yaml:"max_days"`

	// Now lets tests pin the reference clock; nil uses time.Now.
	Now func() time.Time `json:"-" yaml:"-"`
}

func (f *DTEConfig) Name() string { return "dte" }

func (f *DTEConfig) Priority() int { return 10 }

func (f *DTEConfig) StaticKey() []byte {
	return staticKey(f.Name(), struct {
		Min, Max int
	}{f.MinDays, f.MaxDays})
}

func (f *DTEConfig) Validate() error {
	if f.MinDays < 0 || f.MaxDays < 0 {
		return &ErrConfig{Filter: f.Name(), Reason: "days cannot be negative"}
	}
	if f.MinDays > f.MaxDays {
		return &ErrConfig{Filter: f.Name(), Reason: "min_days greater than max_days"}
	}
	return nil
}

func (f *DTEConfig) Apply(in []models.Contract) []models.Contract {
	now := time.Now
	if f.Now != nil {
		now = f.Now
	}
	ref := now()

	out := make([]models.Contract, 0, len(in))
	for _, c := range in {
		dte := c.DTE(ref)
		if dte >= f.MinDays && dte <= f.MaxDays {
			out = append(out, c)
		}
	}
	return out
}
