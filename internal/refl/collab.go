package refl

import "github.com/xtal-data/spotsieve/internal/geom"

// The experiment geometry models are owned elsewhere; the filters only need
// the narrow read surfaces below.

// Goniometer exposes the rotation geometry of the scan.
type Goniometer interface {
	// RotationAxis returns the normalized axis the sample rotates about.
	RotationAxis() geom.Vec3
}

// Beam exposes the incident beam model.
type Beam interface {
	// S0 returns the incident beam vector.
	S0() geom.Vec3
	// Wavelength returns the beam wavelength in ångströms.
	Wavelength() float64
}

// Detector maps detector positions to resolution.
type Detector interface {
	// ResolutionAtPixel returns the d-spacing diffracting to the given
	// detector position for the given incident beam and wavelength.
	ResolutionAtPixel(s0 geom.Vec3, wavelength float64, x, y float64) float64
}

// ModeFinder locates the transition bin in a unimodal histogram of counts,
// returning its index. The bounding-box volume filter multiplies the index by
// the bin width to obtain its cutoff.
type ModeFinder func(hist []float64) int
