package threshold

import (
	"fmt"
	"math"

	"github.com/xtal-data/spotsieve/internal/grid"
	"github.com/xtal-data/spotsieve/internal/par"
)

// The policies below all return a signal mask congruent to the image, with
// true marking object pixels. Pixels whose windowed valid-sample count is
// <= 1 have undefined local statistics and are always background; the
// noise-ratio policies would otherwise divide by count-1.

func checkNonNegative(name string, v float64) error {
	if v < 0 {
		return fmt.Errorf("%w: %s = %v must be non-negative", ErrInvalidArgument, name, v)
	}
	return nil
}

func checkNonNegative2(name1 string, v1 float64, name2 string, v2 float64) error {
	if err := checkNonNegative(name1, v1); err != nil {
		return err
	}
	return checkNonNegative(name2, v2)
}

func checkGain(img, gain *grid.Grid) error {
	if !gain.SameShape(img) {
		return fmt.Errorf("%w: gain map shape %dx%d != image shape %dx%d",
			ErrPrecondition, gain.W, gain.H, img.W, img.H)
	}
	return nil
}

// Niblack thresholds with a local mean plus a sigma offset:
//
//	pixel > mean + nSigma·sqrt(variance)
func Niblack(img *grid.Grid, win Window, nSigma float64) (*grid.Bitmap, error) {
	if err := checkNonNegative("n_sigma", nSigma); err != nil {
		return nil, err
	}
	st, err := LocalStatistics(img, nil, win)
	if err != nil {
		return nil, err
	}
	result := grid.NewBitmap(img.W, img.H)
	par.Do(img.Len(), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			if st.Count[i] > 1 {
				result.Bits[i] = img.Data[i] > st.Mean[i]+nSigma*math.Sqrt(st.Variance[i])
			}
		}
	})
	return result, nil
}

// Sauvola thresholds with a ratio-scaled local mean:
//
//	pixel > mean·(1 + k·(sqrt(variance)/r − 1))
func Sauvola(img *grid.Grid, win Window, k, r float64) (*grid.Bitmap, error) {
	if err := checkNonNegative2("k", k, "r", r); err != nil {
		return nil, err
	}
	st, err := LocalStatistics(img, nil, win)
	if err != nil {
		return nil, err
	}
	result := grid.NewBitmap(img.W, img.H)
	par.Do(img.Len(), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			if st.Count[i] > 1 {
				result.Bits[i] = img.Data[i] > st.Mean[i]*(1.0+k*(math.Sqrt(st.Variance[i])/r-1.0))
			}
		}
	})
	return result, nil
}

// Fano thresholds on the local variance-to-mean ratio (the Fano factor, 1 for
// pure Poisson noise) against a bound derived from the full window size:
//
//	variance/mean > 1 + nSigma·sqrt(2/(n−1)),  n = (2wx+1)·(2wy+1)
func Fano(img *grid.Grid, win Window, nSigma float64) (*grid.Bitmap, error) {
	if err := checkNonNegative("n_sigma", nSigma); err != nil {
		return nil, err
	}
	st, err := LocalStatistics(img, nil, win)
	if err != nil {
		return nil, err
	}
	n := win.Cells()
	if n < 2 {
		// A 1-cell window leaves every pixel with count <= 1.
		return grid.NewBitmap(img.W, img.H), nil
	}
	bound := 1.0 + nSigma*math.Sqrt(2.0/float64(n-1))
	result := grid.NewBitmap(img.W, img.H)
	par.Do(img.Len(), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			if st.Count[i] > 1 {
				result.Bits[i] = st.Variance[i]/st.Mean[i] > bound
			}
		}
	})
	return result, nil
}

// FanoMasked is Fano with a validity mask and a per-pixel bound computed from
// the local valid-sample count. Pixels with fewer than minCount valid
// neighbors are background without evaluation.
func FanoMasked(img *grid.Grid, mask *grid.Bitmap, win Window, minCount int, nSigma float64) (*grid.Bitmap, error) {
	if err := checkNonNegative("n_sigma", nSigma); err != nil {
		return nil, err
	}
	st, err := LocalStatistics(img, mask, win)
	if err != nil {
		return nil, err
	}
	result := grid.NewBitmap(img.W, img.H)
	par.Do(img.Len(), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			n := st.Count[i]
			if n <= 1 || n < minCount {
				continue
			}
			bound := 1.0 + nSigma*math.Sqrt(2.0/float64(n-1))
			result.Bits[i] = st.Variance[i]/st.Mean[i] > bound
		}
	})
	return result, nil
}

// FanoGain is FanoMasked with the bound scaled by a per-pixel detector gain:
//
//	variance/mean > gain + nSigma·gain·sqrt(2/(count−1))
func FanoGain(img *grid.Grid, mask *grid.Bitmap, gain *grid.Grid, win Window, minCount int, nSigma float64) (*grid.Bitmap, error) {
	if err := checkNonNegative("n_sigma", nSigma); err != nil {
		return nil, err
	}
	if err := checkGain(img, gain); err != nil {
		return nil, err
	}
	st, err := LocalStatistics(img, mask, win)
	if err != nil {
		return nil, err
	}
	result := grid.NewBitmap(img.W, img.H)
	par.Do(img.Len(), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			n := st.Count[i]
			if n <= 1 || n < minCount {
				continue
			}
			g := gain.Data[i]
			bound := g + nSigma*g*math.Sqrt(2.0/float64(n-1))
			result.Bits[i] = st.Variance[i]/st.Mean[i] > bound
		}
	})
	return result, nil
}

// Kabsch combines the Fano noise-ratio test with a Poisson strong-pixel test;
// a pixel is signal only when both hold:
//
//	variance/mean > 1 + nsigB·sqrt(2/(count−1))
//	pixel > mean + nsigS·sqrt(mean)
func Kabsch(img *grid.Grid, mask *grid.Bitmap, win Window, nsigB, nsigS float64) (*grid.Bitmap, error) {
	if err := checkNonNegative2("nsig_b", nsigB, "nsig_s", nsigS); err != nil {
		return nil, err
	}
	st, err := LocalStatistics(img, mask, win)
	if err != nil {
		return nil, err
	}
	result := grid.NewBitmap(img.W, img.H)
	par.Do(img.Len(), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			n := st.Count[i]
			if n <= 1 {
				continue
			}
			bndB := 1.0 + nsigB*math.Sqrt(2.0/float64(n-1))
			bndS := st.Mean[i] + nsigS*math.Sqrt(st.Mean[i])
			result.Bits[i] = st.Variance[i]/st.Mean[i] > bndB && img.Data[i] > bndS
		}
	})
	return result, nil
}

// KabschGain is Kabsch with both bounds scaled by a per-pixel detector gain:
//
//	variance/mean > gain + nsigB·gain·sqrt(2/(count−1))
//	pixel > mean + nsigS·sqrt(gain·mean)
func KabschGain(img *grid.Grid, mask *grid.Bitmap, gain *grid.Grid, win Window, nsigB, nsigS float64) (*grid.Bitmap, error) {
	if err := checkNonNegative2("nsig_b", nsigB, "nsig_s", nsigS); err != nil {
		return nil, err
	}
	if err := checkGain(img, gain); err != nil {
		return nil, err
	}
	st, err := LocalStatistics(img, mask, win)
	if err != nil {
		return nil, err
	}
	result := grid.NewBitmap(img.W, img.H)
	par.Do(img.Len(), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			n := st.Count[i]
			if n <= 1 {
				continue
			}
			g := gain.Data[i]
			bndB := g + nsigB*g*math.Sqrt(2.0/float64(n-1))
			bndS := st.Mean[i] + nsigS*math.Sqrt(g*st.Mean[i])
			result.Bits[i] = st.Variance[i]/st.Mean[i] > bndB && img.Data[i] > bndS
		}
	})
	return result, nil
}
