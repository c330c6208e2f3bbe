// Package config loads the JSON tuning file that drives spot finding and
// reflection filtering. All fields are optional pointers so a partial file
// only overrides what it names; Resolve fills in the documented defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/xtal-data/spotsieve/internal/threshold"
)

// TuningConfig is the root of the tuning file. The schema doubles as the
// run-parameter record persisted alongside each run, so the same JSON can
// reproduce a run later.
type TuningConfig struct {
	// Threshold engine
	Policy   *string  `json:"policy,omitempty"`    // one of the threshold.Policy names
	WindowX  *int     `json:"window_x,omitempty"`  // half-width, pixels
	WindowY  *int     `json:"window_y,omitempty"`  // half-width, pixels
	NSigma   *float64 `json:"n_sigma,omitempty"`   // niblack, fano variants
	SauvolaK *float64 `json:"sauvola_k,omitempty"`
	SauvolaR *float64 `json:"sauvola_r,omitempty"`
	MinCount *int     `json:"min_count,omitempty"` // fano_masked, fano_gain
	NSigmaB  *float64 `json:"nsig_b,omitempty"`    // kabsch variants
	NSigmaS  *float64 `json:"nsig_s,omitempty"`    // kabsch variants

	// Reflection filters
	MinZeta       *float64 `json:"min_zeta,omitempty"`
	DeltaM        *float64 `json:"delta_m,omitempty"`        // mosaicity × n_sigma, radians
	NumBins       *int     `json:"num_bins,omitempty"`       // 0 = round(cbrt(n))
	MaxSeparation *float64 `json:"max_separation,omitempty"` // centroid/prediction, pixels
	DMin          *float64 `json:"d_min,omitempty"`          // resolution limit, ångströms
	DMax          *float64 `json:"d_max,omitempty"`          // negative = unbounded
}

// Tuning holds the resolved values actually used by a run.
type Tuning struct {
	Threshold threshold.Params

	MinZeta       float64
	DeltaM        float64
	NumBins       int
	MaxSeparation float64
	DMin          float64
	DMax          float64
}

// Defaults used when the tuning file omits a field. The threshold defaults
// match the conventional dispersion (kabsch) settings; delta_m assumes a
// typical mosaic spread scaled by three sigma.
const (
	DefaultPolicy        = threshold.PolicyKabsch
	DefaultWindowHalf    = 3
	DefaultNSigma        = 6.0
	DefaultSauvolaK      = 0.5
	DefaultSauvolaR      = 128.0
	DefaultMinCount      = 2
	DefaultNSigmaB       = 6.0
	DefaultNSigmaS       = 3.0
	DefaultMinZeta       = 0.05
	DefaultDeltaM        = 0.018
	DefaultMaxSeparation = 2.0
	DefaultDMin          = 0.0
	DefaultDMax          = -1.0
)

// Load reads and validates a tuning file. Fields omitted from the JSON keep
// their defaults, so partial configs are safe.
func Load(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg := &TuningConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the fields that have hard constraints. The engines
// re-check their own parameters; this catches config mistakes early with
// file-oriented messages.
func (c *TuningConfig) Validate() error {
	if c.Policy != nil {
		known := false
		for _, p := range threshold.Policies {
			if threshold.Policy(*c.Policy) == p {
				known = true
				break
			}
		}
		if !known {
			return fmt.Errorf("unknown policy %q", *c.Policy)
		}
	}
	if c.WindowX != nil && *c.WindowX < 0 {
		return fmt.Errorf("window_x must be non-negative, got %d", *c.WindowX)
	}
	if c.WindowY != nil && *c.WindowY < 0 {
		return fmt.Errorf("window_y must be non-negative, got %d", *c.WindowY)
	}
	for name, v := range map[string]*float64{
		"n_sigma": c.NSigma, "sauvola_k": c.SauvolaK, "sauvola_r": c.SauvolaR,
		"nsig_b": c.NSigmaB, "nsig_s": c.NSigmaS,
		"min_zeta": c.MinZeta, "max_separation": c.MaxSeparation,
	} {
		if v != nil && *v < 0 {
			return fmt.Errorf("%s must be non-negative, got %f", name, *v)
		}
	}
	if c.NumBins != nil && *c.NumBins < 0 {
		return fmt.Errorf("num_bins must be non-negative, got %d", *c.NumBins)
	}
	return nil
}

// Resolve merges the config over the defaults into the concrete values a run
// uses. A nil receiver resolves to pure defaults.
func (c *TuningConfig) Resolve() Tuning {
	t := Tuning{
		Threshold: threshold.Params{
			Policy:   DefaultPolicy,
			Window:   threshold.Window{X: DefaultWindowHalf, Y: DefaultWindowHalf},
			NSigma:   DefaultNSigma,
			K:        DefaultSauvolaK,
			R:        DefaultSauvolaR,
			MinCount: DefaultMinCount,
			NsigB:    DefaultNSigmaB,
			NsigS:    DefaultNSigmaS,
		},
		MinZeta:       DefaultMinZeta,
		DeltaM:        DefaultDeltaM,
		MaxSeparation: DefaultMaxSeparation,
		DMin:          DefaultDMin,
		DMax:          DefaultDMax,
	}
	if c == nil {
		return t
	}
	if c.Policy != nil {
		t.Threshold.Policy = threshold.Policy(*c.Policy)
	}
	if c.WindowX != nil {
		t.Threshold.Window.X = *c.WindowX
	}
	if c.WindowY != nil {
		t.Threshold.Window.Y = *c.WindowY
	}
	if c.NSigma != nil {
		t.Threshold.NSigma = *c.NSigma
	}
	if c.SauvolaK != nil {
		t.Threshold.K = *c.SauvolaK
	}
	if c.SauvolaR != nil {
		t.Threshold.R = *c.SauvolaR
	}
	if c.MinCount != nil {
		t.Threshold.MinCount = *c.MinCount
	}
	if c.NSigmaB != nil {
		t.Threshold.NsigB = *c.NSigmaB
	}
	if c.NSigmaS != nil {
		t.Threshold.NsigS = *c.NSigmaS
	}
	if c.MinZeta != nil {
		t.MinZeta = *c.MinZeta
	}
	if c.DeltaM != nil {
		t.DeltaM = *c.DeltaM
	}
	if c.NumBins != nil {
		t.NumBins = *c.NumBins
	}
	if c.MaxSeparation != nil {
		t.MaxSeparation = *c.MaxSeparation
	}
	if c.DMin != nil {
		t.DMin = *c.DMin
	}
	if c.DMax != nil {
		t.DMax = *c.DMax
	}
	return t
}
