// Package threshold separates diffraction signal from background noise with
// local adaptive thresholding. The windowed mean/variance/count statistics
// are computed once per image via summed-area tables; each policy then maps
// those statistics to a binary signal mask under its own statistical model.
package threshold

import (
	"errors"
	"fmt"

	"github.com/xtal-data/spotsieve/internal/grid"
	"github.com/xtal-data/spotsieve/internal/par"
)

// ErrInvalidArgument marks parameter errors detected before any per-pixel
// work begins: negative window half-widths or negative policy parameters.
var ErrInvalidArgument = errors.New("invalid argument")

// ErrPrecondition marks input-consistency violations: mask or gain map whose
// shape differs from the image. Like ErrInvalidArgument it aborts the whole
// call with no partial output.
var ErrPrecondition = errors.New("precondition violated")

// Window holds the half-widths of the local neighborhood. A window (wx, wy)
// spans (2wx+1)×(2wy+1) pixels, clipped at the image edges.
type Window struct {
	X, Y int
}

// Cells returns the unclipped cell count of the window.
func (w Window) Cells() int { return (2*w.X + 1) * (2*w.Y + 1) }

func (w Window) validate() error {
	if w.X < 0 || w.Y < 0 {
		return fmt.Errorf("%w: window half-widths (%d, %d) must be non-negative", ErrInvalidArgument, w.X, w.Y)
	}
	return nil
}

// LocalStats holds per-pixel windowed statistics, row-major and congruent to
// the source image. Where Count <= 1 the Mean and Variance entries are
// meaningless; every policy treats such pixels as background.
type LocalStats struct {
	W, H     int
	Mean     []float64
	Variance []float64 // unbiased sample variance
	Count    []int     // number of in-bounds, valid contributing samples
}

// LocalStatistics computes windowed mean, sample variance and valid-sample
// count for every pixel of img. A nil mask means every pixel is valid;
// otherwise masked-out pixels contribute to no window, including their own.
func LocalStatistics(img *grid.Grid, mask *grid.Bitmap, win Window) (*LocalStats, error) {
	if err := win.validate(); err != nil {
		return nil, err
	}
	if mask != nil && !mask.MatchesGrid(img) {
		return nil, fmt.Errorf("%w: mask shape %dx%d != image shape %dx%d",
			ErrPrecondition, mask.W, mask.H, img.W, img.H)
	}

	w, h := img.W, img.H
	stride := w + 1

	// Summed-area tables over value, value² and valid-sample count, with a
	// zero top row and left column so window sums need no edge special cases.
	sat := make([]float64, (w+1)*(h+1))
	satSq := make([]float64, (w+1)*(h+1))
	satN := make([]float64, (w+1)*(h+1))
	for y := 0; y < h; y++ {
		row := (y + 1) * stride
		prev := y * stride
		for x := 0; x < w; x++ {
			v, n := img.At(x, y), 1.0
			if mask != nil && !mask.At(x, y) {
				v, n = 0, 0
			}
			sat[row+x+1] = v + sat[row+x] + sat[prev+x+1] - sat[prev+x]
			satSq[row+x+1] = v*v + satSq[row+x] + satSq[prev+x+1] - satSq[prev+x]
			satN[row+x+1] = n + satN[row+x] + satN[prev+x+1] - satN[prev+x]
		}
	}

	st := &LocalStats{
		W: w, H: h,
		Mean:     make([]float64, w*h),
		Variance: make([]float64, w*h),
		Count:    make([]int, w*h),
	}
	par.Do(h, func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			ylo, yhi := y-win.Y, y+win.Y+1
			if ylo < 0 {
				ylo = 0
			}
			if yhi > h {
				yhi = h
			}
			for x := 0; x < w; x++ {
				xlo, xhi := x-win.X, x+win.X+1
				if xlo < 0 {
					xlo = 0
				}
				if xhi > w {
					xhi = w
				}
				a, b, c, d := yhi*stride+xhi, ylo*stride+xhi, yhi*stride+xlo, ylo*stride+xlo
				n := int(satN[a] - satN[b] - satN[c] + satN[d])
				i := y*w + x
				st.Count[i] = n
				if n < 1 {
					continue
				}
				sum := sat[a] - sat[b] - sat[c] + sat[d]
				st.Mean[i] = sum / float64(n)
				if n > 1 {
					sumSq := satSq[a] - satSq[b] - satSq[c] + satSq[d]
					v := (sumSq - sum*sum/float64(n)) / float64(n-1)
					if v < 0 {
						v = 0 // round-off from the table subtraction
					}
					st.Variance[i] = v
				}
			}
		}
	})
	return st, nil
}
