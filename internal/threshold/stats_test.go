package threshold

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/xtal-data/spotsieve/internal/grid"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestLocalStatisticsUniform(t *testing.T) {
	img := grid.New(8, 6)
	for i := range img.Data {
		img.Data[i] = 100
	}
	st, err := LocalStatistics(img, nil, Window{X: 2, Y: 2})
	if err != nil {
		t.Fatalf("LocalStatistics: %v", err)
	}
	for i := range img.Data {
		if !approx(st.Mean[i], 100) {
			t.Fatalf("mean[%d] = %v, want 100", i, st.Mean[i])
		}
		if !approx(st.Variance[i], 0) {
			t.Fatalf("variance[%d] = %v, want 0", i, st.Variance[i])
		}
	}
	// Interior pixel sees the full 5×5 window; the corner only 3×3.
	if got := st.Count[2*8+2]; got != 25 {
		t.Errorf("interior count = %d, want 25", got)
	}
	if got := st.Count[0]; got != 9 {
		t.Errorf("corner count = %d, want 9", got)
	}
}

func TestLocalStatisticsEdgeClipping(t *testing.T) {
	// 3×3 image with values 1..9. The corner (0,0) window covers {1,2,4,5}:
	// count 4, mean 3, sample variance 10/3.
	img := grid.FromValues(3, 3, []float64{
		1, 2, 3,
		4, 5, 6,
		7, 8, 9,
	})
	st, err := LocalStatistics(img, nil, Window{X: 1, Y: 1})
	if err != nil {
		t.Fatalf("LocalStatistics: %v", err)
	}
	if st.Count[0] != 4 {
		t.Errorf("corner count = %d, want 4", st.Count[0])
	}
	if !approx(st.Mean[0], 3) {
		t.Errorf("corner mean = %v, want 3", st.Mean[0])
	}
	if !approx(st.Variance[0], 10.0/3.0) {
		t.Errorf("corner variance = %v, want 10/3", st.Variance[0])
	}
	// Center sees all nine values: mean 5, sample variance 60/8 = 7.5.
	if st.Count[4] != 9 || !approx(st.Mean[4], 5) || !approx(st.Variance[4], 7.5) {
		t.Errorf("center stats = (%d, %v, %v), want (9, 5, 7.5)",
			st.Count[4], st.Mean[4], st.Variance[4])
	}

	// Clipping gives corners 4, edges 6, and the centre 9.
	wantCounts := []int{
		4, 6, 4,
		6, 9, 6,
		4, 6, 4,
	}
	if diff := cmp.Diff(wantCounts, st.Count); diff != "" {
		t.Errorf("window counts mismatch (-want +got):\n%s", diff)
	}
}

func TestLocalStatisticsMasked(t *testing.T) {
	img := grid.FromValues(3, 3, []float64{
		1, 2, 3,
		4, 5, 6,
		7, 8, 9,
	})
	mask := grid.NewBitmapFilled(3, 3, true)
	mask.Set(1, 1, false) // knock out the center value 5

	st, err := LocalStatistics(img, mask, Window{X: 1, Y: 1})
	if err != nil {
		t.Fatalf("LocalStatistics: %v", err)
	}
	// The center window loses its own sample: count 8, mean (45-5)/8 = 5.
	if st.Count[4] != 8 {
		t.Errorf("center count = %d, want 8", st.Count[4])
	}
	if !approx(st.Mean[4], 5) {
		t.Errorf("center mean = %v, want 5", st.Mean[4])
	}
	// Corner loses 5 as well: {1,2,4} → mean 7/3.
	if st.Count[0] != 3 || !approx(st.Mean[0], 7.0/3.0) {
		t.Errorf("corner stats = (%d, %v), want (3, 7/3)", st.Count[0], st.Mean[0])
	}
}

func TestLocalStatisticsDegenerateCount(t *testing.T) {
	// Mask out everything except one pixel: its window holds a single
	// sample, so variance stays zero and count is 1.
	img := grid.New(4, 4)
	img.Set(2, 2, 50)
	mask := grid.NewBitmap(4, 4)
	mask.Set(2, 2, true)

	st, err := LocalStatistics(img, mask, Window{X: 1, Y: 1})
	if err != nil {
		t.Fatalf("LocalStatistics: %v", err)
	}
	i := 2*4 + 2
	if st.Count[i] != 1 {
		t.Errorf("count = %d, want 1", st.Count[i])
	}
	if st.Variance[i] != 0 {
		t.Errorf("variance = %v, want 0", st.Variance[i])
	}
	if st.Count[0] != 0 {
		t.Errorf("fully masked count = %d, want 0", st.Count[0])
	}
}

func TestLocalStatisticsErrors(t *testing.T) {
	img := grid.New(4, 4)

	if _, err := LocalStatistics(img, nil, Window{X: -1, Y: 1}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("negative half-width: err = %v, want ErrInvalidArgument", err)
	}
	if _, err := LocalStatistics(img, grid.NewBitmap(3, 4), Window{X: 1, Y: 1}); !errors.Is(err, ErrPrecondition) {
		t.Errorf("mask shape mismatch: err = %v, want ErrPrecondition", err)
	}
}
