package threshold

import (
	"fmt"

	"github.com/xtal-data/spotsieve/internal/grid"
)

// Policy names a thresholding policy for configuration and CLI selection.
type Policy string

const (
	PolicyNiblack    Policy = "niblack"
	PolicySauvola    Policy = "sauvola"
	PolicyFano       Policy = "fano"
	PolicyFanoMasked Policy = "fano_masked"
	PolicyFanoGain   Policy = "fano_gain"
	PolicyKabsch     Policy = "kabsch"
	PolicyKabschGain Policy = "kabsch_gain"
)

// Policies lists every selectable policy in a stable order.
var Policies = []Policy{
	PolicyNiblack, PolicySauvola, PolicyFano, PolicyFanoMasked,
	PolicyFanoGain, PolicyKabsch, PolicyKabschGain,
}

// Params bundles the union of the per-policy parameters so a single
// configuration block can drive any policy. Fields a policy does not use are
// ignored.
type Params struct {
	Policy   Policy
	Window   Window
	NSigma   float64 // niblack, fano, fano_masked, fano_gain
	K        float64 // sauvola
	R        float64 // sauvola
	MinCount int     // fano_masked, fano_gain
	NsigB    float64 // kabsch, kabsch_gain
	NsigS    float64 // kabsch, kabsch_gain
}

// Apply runs the selected policy. mask may be nil (all pixels valid); gain is
// required by the gain-scaled policies and ignored by the rest.
func Apply(img *grid.Grid, mask *grid.Bitmap, gain *grid.Grid, p Params) (*grid.Bitmap, error) {
	switch p.Policy {
	case PolicyNiblack:
		return Niblack(img, p.Window, p.NSigma)
	case PolicySauvola:
		return Sauvola(img, p.Window, p.K, p.R)
	case PolicyFano:
		return Fano(img, p.Window, p.NSigma)
	case PolicyFanoMasked:
		return FanoMasked(img, mask, p.Window, p.MinCount, p.NSigma)
	case PolicyFanoGain:
		if gain == nil {
			return nil, fmt.Errorf("%w: policy %q requires a gain map", ErrInvalidArgument, p.Policy)
		}
		return FanoGain(img, mask, gain, p.Window, p.MinCount, p.NSigma)
	case PolicyKabsch:
		return Kabsch(img, mask, p.Window, p.NsigB, p.NsigS)
	case PolicyKabschGain:
		if gain == nil {
			return nil, fmt.Errorf("%w: policy %q requires a gain map", ErrInvalidArgument, p.Policy)
		}
		return KabschGain(img, mask, gain, p.Window, p.NsigB, p.NsigS)
	default:
		return nil, fmt.Errorf("%w: unknown policy %q", ErrInvalidArgument, p.Policy)
	}
}
