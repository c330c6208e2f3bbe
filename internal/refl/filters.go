package refl

import (
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/floats"

	"github.com/xtal-data/spotsieve/internal/geom"
	"github.com/xtal-data/spotsieve/internal/grid"
	"github.com/xtal-data/spotsieve/internal/par"
	"github.com/xtal-data/spotsieve/internal/unimodal"
)

// The passes fall into two deliberate groups. ByZeta, BySmallAngle,
// ByAngleRange and ByBBoxVolume evaluate every reflection whatever its
// current flag and only push toward invalid; ByDetectorMask recomputes the
// flag outright; ByCentroidPredictionSeparation and ByResolutionAtCentroid
// narrow the currently-valid set and skip the rest. The groups must not be
// unified: the first are independent preconditions, the last are refinements
// of an already-screened list.

// ByZeta invalidates reflections whose zeta factor magnitude falls below
// minZeta.
func ByZeta(g Goniometer, b Beam, refs []Reflection, minZeta float64) {
	m2 := g.RotationAxis()
	s0 := b.S0()
	par.Do(len(refs), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			if !geom.IsZetaValid(m2, s0, refs[i].BeamVector, minZeta) {
				refs[i].Valid = false
			}
		}
	})
}

// BySmallAngle invalidates reflections for which the small-angle
// approximation of the profile transform breaks down at mosaic half-width
// deltaM.
func BySmallAngle(g Goniometer, b Beam, refs []Reflection, deltaM float64) {
	m2 := g.RotationAxis()
	s0 := b.S0()
	par.Do(len(refs), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			if !geom.IsSmallAngleValid(m2, s0, refs[i].BeamVector, deltaM) {
				refs[i].Valid = false
			}
		}
	})
}

// ByAngleRange invalidates reflections whose mosaic rotation interval
// [−deltaM, deltaM] is not fully contained in the interval over which the
// reflection crosses the reflecting condition.
func ByAngleRange(g Goniometer, b Beam, refs []Reflection, deltaM float64) {
	m2 := g.RotationAxis()
	s0 := b.S0()
	par.Do(len(refs), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			if !geom.IsAngleValid(m2, s0, refs[i].BeamVector, deltaM) {
				refs[i].Valid = false
			}
		}
	})
}

// ByBBoxVolume invalidates reflections whose bounding-box volume lies beyond
// the background→outlier transition of the volume histogram. The histogram
// spans [min, max] volume with numBins bins of width (max−min)/(numBins−1);
// find locates the transition bin and the cutoff is its index times the bin
// width. Volumes above the cutoff are invalidated; the pass never marks a
// reflection valid.
func ByBBoxVolume(refs []Reflection, numBins int, find ModeFinder) error {
	if numBins < 2 {
		return fmt.Errorf("%w: num_bins = %d, need at least 2", ErrInvalidArgument, numBins)
	}
	if len(refs) == 0 {
		return fmt.Errorf("%w: empty reflection list", ErrPrecondition)
	}

	volumes := make([]float64, len(refs))
	par.Do(len(refs), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			volumes[i] = float64(refs[i].BBox.Volume())
		}
	})

	minV, maxV := floats.Min(volumes), floats.Max(volumes)
	if !(maxV > minV && minV > 0) {
		return fmt.Errorf("%w: degenerate volume range [%v, %v]", ErrPrecondition, minV, maxV)
	}

	// Histogram accumulation is the one reduction in the pipeline: each
	// worker fills a private partial histogram and the partials are merged
	// before the strictly sequential mode-finding step.
	binSize := (maxV - minV) / float64(numBins-1)
	hist := accumulateHistogram(volumes, minV, binSize, numBins)

	threshold := float64(find(hist)) * binSize
	par.Do(len(refs), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			if volumes[i] > threshold {
				refs[i].Valid = false
			}
		}
	})
	return nil
}

// ByBBoxVolumeAuto is ByBBoxVolume with the default bin count round(∛n) and
// the triangle-method mode finder.
func ByBBoxVolumeAuto(refs []Reflection) error {
	numBins := int(math.Round(math.Cbrt(float64(len(refs)))))
	if numBins < 2 {
		numBins = 2
	}
	return ByBBoxVolume(refs, numBins, unimodal.MaximumDeviation)
}

func accumulateHistogram(volumes []float64, minV, binSize float64, numBins int) []float64 {
	const chunk = 4096
	numChunks := (len(volumes) + chunk - 1) / chunk
	partials := make([][]float64, numChunks)
	var wg sync.WaitGroup
	for c := 0; c < numChunks; c++ {
		lo, hi := c*chunk, (c+1)*chunk
		if hi > len(volumes) {
			hi = len(volumes)
		}
		wg.Add(1)
		go func(c, lo, hi int) {
			defer wg.Done()
			h := make([]float64, numBins)
			for _, v := range volumes[lo:hi] {
				idx := int((v - minV) / binSize)
				if idx < 0 {
					idx = 0
				}
				if idx >= numBins {
					idx = numBins - 1
				}
				h[idx]++
			}
			partials[c] = h
		}(c, lo, hi)
	}
	wg.Wait()

	hist := make([]float64, numBins)
	for _, h := range partials {
		floats.Add(hist, h)
	}
	return hist
}

// ByDetectorMask recomputes every reflection's flag from scratch: valid iff
// the bounding box lies inside the detector (x1, y1 strictly below the image
// extent), inside the scan frame range [scanStart, scanEnd), and covers no
// bad detector pixel. mask is true for good pixels.
func ByDetectorMask(refs []Reflection, mask *grid.Bitmap, scanStart, scanEnd int) {
	par.Do(len(refs), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			refs[i].Valid = bboxValid(refs[i].BBox, mask, scanStart, scanEnd)
		}
	})
}

func bboxValid(b BBox, mask *grid.Bitmap, scanStart, scanEnd int) bool {
	if b.X0 < 0 || b.X1 >= mask.W ||
		b.Y0 < 0 || b.Y1 >= mask.H ||
		b.Z0 < scanStart || b.Z1 >= scanEnd {
		return false
	}
	for y := b.Y0; y < b.Y1; y++ {
		for x := b.X0; x < b.X1; x++ {
			if !mask.At(x, y) {
				return false
			}
		}
	}
	return true
}

// ByCentroidPredictionSeparation invalidates currently-valid reflections
// whose observed centroid sits further than maxSeparation from the predicted
// (pixel, pixel, frame) position. Already-invalid reflections are skipped.
func ByCentroidPredictionSeparation(refs []Reflection, maxSeparation float64) {
	par.Do(len(refs), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			if !refs[i].Valid {
				continue
			}
			c := refs[i].Centroid
			dx := c[0] - refs[i].ImageCoord[0]
			dy := c[1] - refs[i].ImageCoord[1]
			dz := c[2] - refs[i].FrameNumber
			if math.Sqrt(dx*dx+dy*dy+dz*dz) > maxSeparation {
				refs[i].Valid = false
			}
		}
	})
}

// ByResolutionAtCentroid invalidates currently-valid reflections whose
// centroid maps to a resolution outside [dMin, dMax]. dMax < 0 means no
// upper bound. Already-invalid reflections are skipped.
func ByResolutionAtCentroid(refs []Reflection, b Beam, d Detector, dMin, dMax float64) {
	s0 := b.S0()
	wavelength := b.Wavelength()
	if dMax < 0 {
		dMax = math.MaxFloat64
	}
	par.Do(len(refs), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			if !refs[i].Valid {
				continue
			}
			c := refs[i].Centroid
			resolution := d.ResolutionAtPixel(s0, wavelength, c[0], c[1])
			if resolution < dMin || resolution > dMax {
				refs[i].Valid = false
			}
		}
	})
}

// ByCentroidPeakSeparation would invalidate reflections whose centroid sits
// too far from the strongest pixel of their shoebox. The shoebox data needed
// to locate that peak is not carried on Reflection, so the capability is
// declared but unavailable; callers get a detectable error instead of a
// guessed formula.
func ByCentroidPeakSeparation(refs []Reflection, maxSeparation float64) error {
	return fmt.Errorf("%w: centroid/peak separation filter requires shoebox pixel data", ErrNotImplemented)
}
