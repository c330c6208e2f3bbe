// Package monitor produces debug visualisations for spot-finding runs:
// static PNG plots for quick inspection and a self-contained HTML report.
package monitor

import (
	"fmt"
	"image/color"
	"path/filepath"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/xtal-data/spotsieve/internal/grid"
)

// SaveVolumeHistogram writes a PNG histogram of shoebox volumes with a
// vertical line at the rejection threshold. Volumes above the line were
// invalidated as outliers.
func SaveVolumeHistogram(path string, volumes []float64, numBins int, threshold float64) error {
	if len(volumes) == 0 {
		return fmt.Errorf("no volumes to plot")
	}
	if numBins < 2 {
		numBins = 16
	}

	p := plot.New()
	p.Title.Text = "Shoebox Volume Distribution"
	p.X.Label.Text = "Volume (voxels)"
	p.Y.Label.Text = "Count"

	vals := make(plotter.Values, len(volumes))
	copy(vals, volumes)

	hist, err := plotter.NewHist(vals, numBins)
	if err != nil {
		return fmt.Errorf("build histogram: %w", err)
	}
	hist.FillColor = color.RGBA{R: 0x31, G: 0x68, B: 0x8e, A: 255}
	p.Add(hist)

	if threshold > 0 {
		cut := plotter.XYs{
			{X: threshold, Y: 0},
			{X: threshold, Y: hist.Bins[maxBin(hist)].Weight},
		}
		line, err := plotter.NewLine(cut)
		if err != nil {
			return fmt.Errorf("build threshold line: %w", err)
		}
		line.Color = color.RGBA{R: 0xd6, G: 0x28, B: 0x28, A: 255}
		line.Width = vg.Points(1.5)
		p.Add(line)
		p.Legend.Add("threshold", line)
		p.Legend.Top = true
	}

	if err := p.Save(10*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("save histogram: %w", err)
	}
	return nil
}

func maxBin(h *plotter.Histogram) int {
	best := 0
	for i, b := range h.Bins {
		if b.Weight > h.Bins[best].Weight {
			best = i
		}
	}
	return best
}

// SaveRowProfile writes a PNG of one detector row: the raw intensity as a
// line and the pixels flagged as signal as scatter points on top. Useful for
// eyeballing whether a threshold policy is biting where expected.
func SaveRowProfile(path string, img *grid.Grid, signal *grid.Bitmap, row int) error {
	if row < 0 || row >= img.H {
		return fmt.Errorf("row %d out of range [0, %d)", row, img.H)
	}
	if signal != nil && !signal.MatchesGrid(img) {
		return fmt.Errorf("signal mask shape %dx%d does not match image %dx%d",
			signal.W, signal.H, img.W, img.H)
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Row %d Intensity Profile", row)
	p.X.Label.Text = "Pixel"
	p.Y.Label.Text = "Counts"

	raw := make(plotter.XYs, 0, img.W)
	flagged := make(plotter.XYs, 0, 16)
	for x := 0; x < img.W; x++ {
		v := img.At(x, row)
		raw = append(raw, plotter.XY{X: float64(x), Y: v})
		if signal != nil && signal.At(x, row) {
			flagged = append(flagged, plotter.XY{X: float64(x), Y: v})
		}
	}

	line, err := plotter.NewLine(raw)
	if err != nil {
		return fmt.Errorf("build intensity line: %w", err)
	}
	line.Color = color.RGBA{R: 0x44, G: 0x44, B: 0x44, A: 255}
	line.Width = vg.Points(1)
	p.Add(line)
	p.Legend.Add("intensity", line)

	if len(flagged) > 0 {
		pts, err := plotter.NewScatter(flagged)
		if err != nil {
			return fmt.Errorf("build signal scatter: %w", err)
		}
		pts.Color = color.RGBA{R: 0xd6, G: 0x28, B: 0x28, A: 255}
		pts.Radius = vg.Points(2)
		p.Add(pts)
		p.Legend.Add("signal", pts)
	}
	p.Legend.Top = true

	if err := p.Save(12*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("save row profile: %w", err)
	}
	return nil
}

// MakePlotOutputDir returns a timestamped directory path for a run's plots:
// <baseDir>/<image basename>/<timestamp>.
func MakePlotOutputDir(baseDir, imageFile string) string {
	ts := time.Now().Format("20060102_150405")
	if imageFile != "" {
		base := filepath.Base(imageFile)
		ext := filepath.Ext(base)
		return filepath.Join(baseDir, base[:len(base)-len(ext)], ts)
	}
	return filepath.Join(baseDir, "run_"+ts)
}
