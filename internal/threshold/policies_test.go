package threshold

import (
	"errors"
	"testing"

	"github.com/xtal-data/spotsieve/internal/grid"
)

// hotPixelImage returns a 5×5 image of value 10 with a single bright pixel
// (1000) at the center. With window half-width 1 the center window has mean
// 120 and sample variance 108900, a Fano ratio of 907.5.
func hotPixelImage() *grid.Grid {
	img := grid.New(5, 5)
	for i := range img.Data {
		img.Data[i] = 10
	}
	img.Set(2, 2, 1000)
	return img
}

func TestNiblackUniformImage(t *testing.T) {
	// Uniform image, n_sigma = 0: the test is a strict inequality against
	// the local mean, so nothing can be signal.
	img := grid.New(10, 10)
	for i := range img.Data {
		img.Data[i] = 100
	}
	result, err := Niblack(img, Window{X: 2, Y: 2}, 0)
	if err != nil {
		t.Fatalf("Niblack: %v", err)
	}
	if !result.MatchesGrid(img) {
		t.Fatalf("result shape %dx%d != image shape %dx%d", result.W, result.H, img.W, img.H)
	}
	if n := result.CountTrue(); n != 0 {
		t.Errorf("uniform image flagged %d signal pixels, want 0", n)
	}
}

func TestNiblackHotPixel(t *testing.T) {
	// Center window: mean 120, sdev ~330. At n_sigma = 1 the bound is 450,
	// below the 1000 peak; the quiet corner (mean 10, sdev 0) stays under
	// its own strict bound.
	result, err := Niblack(hotPixelImage(), Window{X: 1, Y: 1}, 1)
	if err != nil {
		t.Fatalf("Niblack: %v", err)
	}
	if !result.At(2, 2) {
		t.Error("hot pixel not flagged")
	}
	if result.At(0, 0) {
		t.Error("quiet corner flagged")
	}
	if n := result.CountTrue(); n != 1 {
		t.Errorf("%d pixels flagged, want 1", n)
	}
}

func TestNiblackMonotonicInNSigma(t *testing.T) {
	// Raising n_sigma can only demote pixels from signal to background.
	img := grid.FromValues(4, 4, []float64{
		5, 9, 2, 14,
		7, 30, 4, 6,
		1, 8, 22, 3,
		11, 2, 6, 17,
	})
	prev := -1
	for _, nSigma := range []float64{0, 0.5, 1, 2, 4} {
		result, err := Niblack(img, Window{X: 1, Y: 1}, nSigma)
		if err != nil {
			t.Fatalf("Niblack(n_sigma=%v): %v", nSigma, err)
		}
		n := result.CountTrue()
		if prev >= 0 && n > prev {
			t.Errorf("signal count rose from %d to %d when n_sigma increased to %v", prev, n, nSigma)
		}
		prev = n
	}
}

func TestSauvola(t *testing.T) {
	// With k = 0 the threshold collapses to the local mean: a uniform image
	// produces no signal under the strict inequality.
	uniform := grid.New(6, 6)
	for i := range uniform.Data {
		uniform.Data[i] = 40
	}
	result, err := Sauvola(uniform, Window{X: 1, Y: 1}, 0, 128)
	if err != nil {
		t.Fatalf("Sauvola: %v", err)
	}
	if n := result.CountTrue(); n != 0 {
		t.Errorf("uniform image flagged %d pixels with k = 0, want 0", n)
	}

	// The hot pixel clears its scaled local mean comfortably.
	result, err = Sauvola(hotPixelImage(), Window{X: 1, Y: 1}, 0.5, 128)
	if err != nil {
		t.Fatalf("Sauvola: %v", err)
	}
	if !result.At(2, 2) {
		t.Error("hot pixel not flagged")
	}
}

func TestFanoUniformPoisson(t *testing.T) {
	// A constant image has zero variance everywhere: the Fano ratio is 0
	// and nothing exceeds the bound.
	img := grid.New(6, 6)
	for i := range img.Data {
		img.Data[i] = 25
	}
	result, err := Fano(img, Window{X: 2, Y: 2}, 3)
	if err != nil {
		t.Fatalf("Fano: %v", err)
	}
	if n := result.CountTrue(); n != 0 {
		t.Errorf("uniform image flagged %d pixels, want 0", n)
	}
}

func TestFanoHotPixelNeighborhood(t *testing.T) {
	// The unmasked variant uses one bound for the whole image, derived from
	// the full window population; every window containing the bright pixel
	// still exceeds it.
	result, err := Fano(hotPixelImage(), Window{X: 1, Y: 1}, 3)
	if err != nil {
		t.Fatalf("Fano: %v", err)
	}
	for y := 0; y < 5; y++ {
		for x := 0; x < 5; x++ {
			inBlock := x >= 1 && x <= 3 && y >= 1 && y <= 3
			if got := result.At(x, y); got != inBlock {
				t.Errorf("pixel (%d,%d) = %v, want %v", x, y, got, inBlock)
			}
		}
	}
}

func TestFanoMaskedHotPixelNeighborhood(t *testing.T) {
	// Every window that contains the bright pixel has a huge
	// variance-to-mean ratio, so the full 3×3 block centered on it is
	// signal; windows that never see it stay Poisson-like.
	img := hotPixelImage()
	mask := grid.NewBitmapFilled(5, 5, true)
	result, err := FanoMasked(img, mask, Window{X: 1, Y: 1}, 1, 3)
	if err != nil {
		t.Fatalf("FanoMasked: %v", err)
	}
	for y := 0; y < 5; y++ {
		for x := 0; x < 5; x++ {
			inBlock := x >= 1 && x <= 3 && y >= 1 && y <= 3
			if got := result.At(x, y); got != inBlock {
				t.Errorf("pixel (%d,%d) = %v, want %v", x, y, got, inBlock)
			}
		}
	}
}

func TestFanoMaskedDegenerateCount(t *testing.T) {
	// A pixel whose window holds one valid sample is background for every
	// parameter choice, including n_sigma = 0 and min_count = 0.
	img := grid.New(5, 5)
	img.Set(2, 2, 1000)
	mask := grid.NewBitmap(5, 5)
	mask.Set(2, 2, true)

	for _, nSigma := range []float64{0, 1, 10} {
		result, err := FanoMasked(img, mask, Window{X: 1, Y: 1}, 0, nSigma)
		if err != nil {
			t.Fatalf("FanoMasked: %v", err)
		}
		if n := result.CountTrue(); n != 0 {
			t.Errorf("n_sigma=%v: %d pixels flagged with count <= 1, want 0", nSigma, n)
		}
	}
}

func TestFanoMaskedMinCount(t *testing.T) {
	img := hotPixelImage()
	mask := grid.NewBitmapFilled(5, 5, true)
	// min_count above the largest possible window population blanks the
	// whole result.
	result, err := FanoMasked(img, mask, Window{X: 1, Y: 1}, 10, 3)
	if err != nil {
		t.Fatalf("FanoMasked: %v", err)
	}
	if n := result.CountTrue(); n != 0 {
		t.Errorf("%d pixels flagged below min_count, want 0", n)
	}
}

func TestKabschHotPixelOnly(t *testing.T) {
	// The ratio test fires for the whole 3×3 block around the bright pixel,
	// but the strong-pixel test (pixel > mean + 3·sqrt(mean)) only passes at
	// the bright pixel itself. AND semantics leave exactly one signal pixel.
	img := hotPixelImage()
	mask := grid.NewBitmapFilled(5, 5, true)
	result, err := Kabsch(img, mask, Window{X: 1, Y: 1}, 3, 3)
	if err != nil {
		t.Fatalf("Kabsch: %v", err)
	}
	if !result.At(2, 2) {
		t.Error("bright pixel not flagged")
	}
	if n := result.CountTrue(); n != 1 {
		t.Errorf("%d pixels flagged, want exactly 1", n)
	}
	// Explicit AND check: (1,1) passes the noise-ratio test but fails the
	// intensity test, so it must be background.
	if result.At(1, 1) {
		t.Error("pixel passing only the noise-ratio test was flagged")
	}
}

func TestGainPoliciesMatchUnitGain(t *testing.T) {
	// With a gain map of all ones the gain-scaled policies reduce to their
	// unscaled counterparts.
	img := hotPixelImage()
	mask := grid.NewBitmapFilled(5, 5, true)
	gain := grid.New(5, 5)
	for i := range gain.Data {
		gain.Data[i] = 1
	}

	plain, err := FanoMasked(img, mask, Window{X: 1, Y: 1}, 2, 3)
	if err != nil {
		t.Fatalf("FanoMasked: %v", err)
	}
	scaled, err := FanoGain(img, mask, gain, Window{X: 1, Y: 1}, 2, 3)
	if err != nil {
		t.Fatalf("FanoGain: %v", err)
	}
	for i := range plain.Bits {
		if plain.Bits[i] != scaled.Bits[i] {
			t.Fatalf("FanoGain with unit gain diverged from FanoMasked at cell %d", i)
		}
	}

	plainK, err := Kabsch(img, mask, Window{X: 1, Y: 1}, 3, 3)
	if err != nil {
		t.Fatalf("Kabsch: %v", err)
	}
	scaledK, err := KabschGain(img, mask, gain, Window{X: 1, Y: 1}, 3, 3)
	if err != nil {
		t.Fatalf("KabschGain: %v", err)
	}
	for i := range plainK.Bits {
		if plainK.Bits[i] != scaledK.Bits[i] {
			t.Fatalf("KabschGain with unit gain diverged from Kabsch at cell %d", i)
		}
	}
}

func TestHighGainSuppressesSignal(t *testing.T) {
	// A large gain raises the noise-ratio bound beyond the observed ratio.
	img := hotPixelImage()
	mask := grid.NewBitmapFilled(5, 5, true)
	gain := grid.New(5, 5)
	for i := range gain.Data {
		gain.Data[i] = 1e6
	}
	result, err := FanoGain(img, mask, gain, Window{X: 1, Y: 1}, 1, 3)
	if err != nil {
		t.Fatalf("FanoGain: %v", err)
	}
	if n := result.CountTrue(); n != 0 {
		t.Errorf("%d pixels flagged under extreme gain, want 0", n)
	}
}

func TestPolicyParameterValidation(t *testing.T) {
	img := grid.New(4, 4)
	mask := grid.NewBitmapFilled(4, 4, true)
	gain := grid.New(4, 4)
	win := Window{X: 1, Y: 1}

	cases := []struct {
		name string
		run  func() error
	}{
		{"niblack negative sigma", func() error { _, err := Niblack(img, win, -1); return err }},
		{"sauvola negative k", func() error { _, err := Sauvola(img, win, -0.1, 128); return err }},
		{"sauvola negative r", func() error { _, err := Sauvola(img, win, 0.5, -1); return err }},
		{"fano negative sigma", func() error { _, err := Fano(img, win, -2); return err }},
		{"fano_masked negative sigma", func() error { _, err := FanoMasked(img, mask, win, 1, -2); return err }},
		{"fano_gain negative sigma", func() error { _, err := FanoGain(img, mask, gain, win, 1, -2); return err }},
		{"kabsch negative nsig_b", func() error { _, err := Kabsch(img, mask, win, -3, 3); return err }},
		{"kabsch negative nsig_s", func() error { _, err := Kabsch(img, mask, win, 3, -3); return err }},
		{"kabsch_gain negative nsig_s", func() error { _, err := KabschGain(img, mask, gain, win, 3, -3); return err }},
	}
	for _, c := range cases {
		if err := c.run(); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("%s: err = %v, want ErrInvalidArgument", c.name, err)
		}
	}

	badGain := grid.New(3, 4)
	if _, err := FanoGain(img, mask, badGain, win, 1, 3); !errors.Is(err, ErrPrecondition) {
		t.Errorf("gain shape mismatch: err = %v, want ErrPrecondition", err)
	}
}

func TestApplyDispatch(t *testing.T) {
	img := hotPixelImage()
	mask := grid.NewBitmapFilled(5, 5, true)
	gain := grid.New(5, 5)
	for i := range gain.Data {
		gain.Data[i] = 1
	}

	for _, policy := range Policies {
		p := Params{
			Policy: policy,
			Window: Window{X: 1, Y: 1},
			NSigma: 3, K: 0.5, R: 128,
			MinCount: 2, NsigB: 3, NsigS: 3,
		}
		result, err := Apply(img, mask, gain, p)
		if err != nil {
			t.Fatalf("Apply(%s): %v", policy, err)
		}
		if !result.MatchesGrid(img) {
			t.Errorf("Apply(%s): result shape mismatch", policy)
		}
	}

	if _, err := Apply(img, mask, nil, Params{Policy: PolicyFanoGain, Window: Window{X: 1, Y: 1}}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("fano_gain without gain map: err = %v, want ErrInvalidArgument", err)
	}
	if _, err := Apply(img, mask, nil, Params{Policy: "otsu"}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("unknown policy: err = %v, want ErrInvalidArgument", err)
	}
}
