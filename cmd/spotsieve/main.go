// Package main provides the spotsieve command: it runs a local threshold
// policy over a detector image to flag signal pixels, optionally applies the
// reflection validity filters to a predicted reflection list, and can persist
// the run to a sqlite log with an HTML report and debug plots.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/xtal-data/spotsieve/internal/config"
	"github.com/xtal-data/spotsieve/internal/geom"
	"github.com/xtal-data/spotsieve/internal/grid"
	"github.com/xtal-data/spotsieve/internal/imageio"
	"github.com/xtal-data/spotsieve/internal/monitor"
	"github.com/xtal-data/spotsieve/internal/refl"
	"github.com/xtal-data/spotsieve/internal/storage/sqlite"
	"github.com/xtal-data/spotsieve/internal/threshold"
	"github.com/xtal-data/spotsieve/internal/unimodal"
)

type cliConfig struct {
	ImageFile     string
	ConfigFile    string
	MaskOut       string
	ReflFile      string
	DBPath        string
	MigrationsDir string
	ReportOut     string
	PlotDir       string
	ProfileRow    int
}

func parseFlags() cliConfig {
	cfg := cliConfig{}

	flag.StringVar(&cfg.ImageFile, "image", "", "Detector image to process (png or pgm)")
	flag.StringVar(&cfg.ConfigFile, "config", "", "Tuning file (json); defaults apply when omitted")
	flag.StringVar(&cfg.MaskOut, "out", "", "Output path for the signal mask png")
	flag.StringVar(&cfg.ReflFile, "refl", "", "Predicted reflection list (json) to filter")
	flag.StringVar(&cfg.DBPath, "db", "", "Run-log sqlite database (optional)")
	flag.StringVar(&cfg.MigrationsDir, "migrations", "internal/storage/sqlite/migrations", "Run-log schema migrations directory")
	flag.StringVar(&cfg.ReportOut, "report", "", "Output path for the html run report (requires -db)")
	flag.StringVar(&cfg.PlotDir, "plot-dir", "", "Directory for debug plots (optional)")
	flag.IntVar(&cfg.ProfileRow, "profile-row", -1, "Detector row to plot as an intensity profile (requires -plot-dir)")

	flag.Parse()
	return cfg
}

func main() {
	cfg := parseFlags()

	if cfg.ImageFile == "" {
		log.Fatal("an input image is required (-image)")
	}

	var tuningCfg *config.TuningConfig
	if cfg.ConfigFile != "" {
		var err error
		tuningCfg, err = config.Load(cfg.ConfigFile)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
	}
	tuning := tuningCfg.Resolve()

	img, err := imageio.ReadImage(cfg.ImageFile)
	if err != nil {
		log.Fatalf("read image: %v", err)
	}
	log.Printf("loaded %s (%dx%d)", cfg.ImageFile, img.W, img.H)

	signal, err := threshold.Apply(img, nil, nil, tuning.Threshold)
	if err != nil {
		log.Fatalf("threshold: %v", err)
	}
	signalCount := signal.CountTrue()
	log.Printf("policy %s flagged %d of %d pixels (%.3f%%)",
		tuning.Threshold.Policy, signalCount, img.Len(),
		100*float64(signalCount)/float64(img.Len()))

	if cfg.MaskOut != "" {
		if err := imageio.WriteMaskPNG(cfg.MaskOut, signal); err != nil {
			log.Fatalf("write mask: %v", err)
		}
		log.Printf("wrote signal mask to %s", cfg.MaskOut)
	}

	var passes []*sqlite.FilterPass
	if cfg.ReflFile != "" {
		passes, err = runFilters(cfg, tuning, img)
		if err != nil {
			log.Fatalf("filter reflections: %v", err)
		}
	}

	if cfg.PlotDir != "" && cfg.ProfileRow >= 0 {
		if err := os.MkdirAll(cfg.PlotDir, 0755); err != nil {
			log.Fatalf("create plot dir: %v", err)
		}
		path := filepath.Join(cfg.PlotDir, fmt.Sprintf("row_%04d.png", cfg.ProfileRow))
		if err := monitor.SaveRowProfile(path, img, signal, cfg.ProfileRow); err != nil {
			log.Fatalf("row profile plot: %v", err)
		}
		log.Printf("wrote row profile to %s", path)
	}

	if cfg.DBPath != "" {
		if err := persistRun(cfg, tuning, img, signalCount, passes); err != nil {
			log.Fatalf("persist run: %v", err)
		}
	}
}

// reflInput is the on-disk format for predicted reflections: experiment
// geometry plus the reflection records themselves.
type reflInput struct {
	S0         [3]float64 `json:"s0"`
	Axis       [3]float64 `json:"rotation_axis"`
	Wavelength float64    `json:"wavelength"`
	ScanStart  int        `json:"scan_start"`
	ScanEnd    int        `json:"scan_end"`

	Reflections []struct {
		S1       [3]float64 `json:"s1"`
		BBox     [6]int     `json:"bbox"` // x0 x1 y0 y1 z0 z1, half open
		Centroid [3]float64 `json:"centroid"`
		Image    [2]float64 `json:"image_coord"`
		Frame    float64    `json:"frame"`
	} `json:"reflections"`
}

type fileGoniometer struct{ axis geom.Vec3 }

func (g fileGoniometer) RotationAxis() geom.Vec3 { return g.axis }

type fileBeam struct {
	s0         geom.Vec3
	wavelength float64
}

func (b fileBeam) S0() geom.Vec3       { return b.s0 }
func (b fileBeam) Wavelength() float64 { return b.wavelength }

func loadReflections(path string) (*reflInput, []refl.Reflection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read reflection file: %w", err)
	}
	var in reflInput
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, nil, fmt.Errorf("parse reflection file: %w", err)
	}

	refs := make([]refl.Reflection, len(in.Reflections))
	for i, r := range in.Reflections {
		refs[i] = refl.Reflection{
			BeamVector: geom.Vec3(r.S1),
			BBox: refl.BBox{
				X0: r.BBox[0], X1: r.BBox[1],
				Y0: r.BBox[2], Y1: r.BBox[3],
				Z0: r.BBox[4], Z1: r.BBox[5],
			},
			Centroid:    geom.Vec3(r.Centroid),
			ImageCoord:  r.Image,
			FrameNumber: r.Frame,
			Valid:       true,
		}
	}
	return &in, refs, nil
}

// runFilters applies the validity passes in the conventional order and
// returns per-pass statistics for the run log.
func runFilters(cfg cliConfig, tuning config.Tuning, img *grid.Grid) ([]*sqlite.FilterPass, error) {
	in, refs, err := loadReflections(cfg.ReflFile)
	if err != nil {
		return nil, err
	}
	log.Printf("loaded %d predicted reflections from %s", len(refs), cfg.ReflFile)

	gonio := fileGoniometer{axis: geom.Vec3(in.Axis)}
	beam := fileBeam{s0: geom.Vec3(in.S0), wavelength: in.Wavelength}

	// Detector coverage for the mask pass: every physical pixel is usable,
	// bad regions arrive pre-zeroed in the image.
	detectorMask := grid.NewBitmapFilled(img.W, img.H, true)

	var passes []*sqlite.FilterPass
	record := func(name string, before int, apply func() error) error {
		if err := apply(); err != nil {
			return fmt.Errorf("%s pass: %w", name, err)
		}
		after := countValid(refs)
		passes = append(passes, &sqlite.FilterPass{
			Seq:         len(passes),
			Name:        name,
			InputCount:  before,
			Invalidated: before - after,
			Survivors:   after,
		})
		log.Printf("pass %-20s %5d -> %5d", name, before, after)
		return nil
	}

	steps := []struct {
		name  string
		apply func() error
	}{
		{"zeta", func() error {
			refl.ByZeta(gonio, beam, refs, tuning.MinZeta)
			return nil
		}},
		{"small_angle", func() error {
			refl.BySmallAngle(gonio, beam, refs, tuning.DeltaM)
			return nil
		}},
		{"bbox_volume", func() error {
			if tuning.NumBins > 0 {
				return refl.ByBBoxVolume(refs, tuning.NumBins, unimodal.MaximumDeviation)
			}
			return refl.ByBBoxVolumeAuto(refs)
		}},
		{"detector_mask", func() error {
			refl.ByDetectorMask(refs, detectorMask, in.ScanStart, in.ScanEnd)
			return nil
		}},
		{"centroid_separation", func() error {
			refl.ByCentroidPredictionSeparation(refs, tuning.MaxSeparation)
			return nil
		}},
	}
	for _, step := range steps {
		if err := record(step.name, countValid(refs), step.apply); err != nil {
			return nil, err
		}
	}

	if cfg.PlotDir != "" {
		if err := os.MkdirAll(cfg.PlotDir, 0755); err != nil {
			return nil, fmt.Errorf("create plot dir: %w", err)
		}
		volumes := make([]float64, len(refs))
		for i := range refs {
			volumes[i] = float64(refs[i].BBox.Volume())
		}
		path := filepath.Join(cfg.PlotDir, "bbox_volumes.png")
		if err := monitor.SaveVolumeHistogram(path, volumes, tuning.NumBins, 0); err != nil {
			return nil, fmt.Errorf("volume histogram: %w", err)
		}
		log.Printf("wrote volume histogram to %s", path)
	}

	return passes, nil
}

func countValid(refs []refl.Reflection) int {
	n := 0
	for i := range refs {
		if refs[i].Valid {
			n++
		}
	}
	return n
}

func persistRun(cfg cliConfig, tuning config.Tuning, img *grid.Grid, signalCount int, passes []*sqlite.FilterPass) error {
	db, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.MigrateUp(cfg.MigrationsDir); err != nil {
		return err
	}

	params, err := json.Marshal(tuning.Threshold)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}

	store := sqlite.NewRunStore(db)
	run := &sqlite.Run{
		ImagePath:    cfg.ImageFile,
		Policy:       string(tuning.Threshold.Policy),
		ParamsJSON:   params,
		Width:        img.W,
		Height:       img.H,
		TotalPixels:  img.Len(),
		SignalPixels: signalCount,
	}
	if err := store.InsertRun(run); err != nil {
		return err
	}
	for _, p := range passes {
		p.RunID = run.RunID
		if err := store.InsertFilterPass(p); err != nil {
			return err
		}
	}
	log.Printf("recorded run %s in %s", run.RunID, cfg.DBPath)

	if cfg.ReportOut != "" {
		if err := monitor.WriteRunReport(cfg.ReportOut, run, passes); err != nil {
			return err
		}
		log.Printf("wrote run report to %s", cfg.ReportOut)
	}
	return nil
}
