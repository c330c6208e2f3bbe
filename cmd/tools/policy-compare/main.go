// Package main provides a threshold policy comparison tool. It runs every
// applicable policy over one detector image with shared window settings and
// reports how many pixels each flags and how well they agree, so tuning
// changes can be sanity-checked before a production run.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/xtal-data/spotsieve/internal/config"
	"github.com/xtal-data/spotsieve/internal/grid"
	"github.com/xtal-data/spotsieve/internal/imageio"
	"github.com/xtal-data/spotsieve/internal/threshold"
)

// Config holds configuration for the policy comparison.
type Config struct {
	ImageFile  string
	ConfigFile string
	GainFile   string
	Baseline   string
	OutputJSON string
}

// ComparisonResult holds the results of running all policies on one image.
type ComparisonResult struct {
	ImageFile        string                 `json:"image_file"`
	Width            int                    `json:"width"`
	Height           int                    `json:"height"`
	Baseline         string                 `json:"baseline"`
	ProcessingTimeMs int64                  `json:"processing_time_ms"`
	PerPolicy        map[string]PolicyStats `json:"per_policy"`
}

// PolicyStats holds per-policy statistics.
type PolicyStats struct {
	Name          string  `json:"name"`
	SignalPixels  int     `json:"signal_pixels"`
	SignalRatio   float64 `json:"signal_ratio"`
	AgreementPct  float64 `json:"agreement_pct"`
	ProcessingUs  int64   `json:"processing_us"`
	Skipped       bool    `json:"skipped,omitempty"`
	SkippedReason string  `json:"skipped_reason,omitempty"`
}

func parseFlags() Config {
	cfg := Config{}

	flag.StringVar(&cfg.ImageFile, "image", "", "Detector image to process (png or pgm)")
	flag.StringVar(&cfg.ConfigFile, "config", "", "Tuning file providing shared window settings")
	flag.StringVar(&cfg.GainFile, "gain", "", "Per-pixel gain map image (enables the gain policies)")
	flag.StringVar(&cfg.Baseline, "baseline", string(threshold.PolicyKabsch), "Policy the others are compared against")
	flag.StringVar(&cfg.OutputJSON, "json", "", "Output JSON filename (e.g. results.json)")

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

	var gain *grid.Grid
	if cfg.GainFile != "" {
		gain, err = imageio.ReadImage(cfg.GainFile)
		if err != nil {
			log.Fatalf("read gain map: %v", err)
		}
		if !img.SameShape(gain) {
			log.Fatalf("gain map %dx%d does not match image %dx%d", gain.W, gain.H, img.W, img.H)
		}
	}

	result, err := runComparison(cfg, tuning, img, gain)
	if err != nil {
		log.Fatalf("comparison failed: %v", err)
	}

	printResults(result)

	if cfg.OutputJSON != "" {
		if err := exportJSON(result, cfg.OutputJSON); err != nil {
			log.Printf("Warning: failed to export JSON: %v", err)
		} else {
			log.Printf("Results exported to: %s", cfg.OutputJSON)
		}
	}
}

func runComparison(cfg Config, tuning config.Tuning, img *grid.Grid, gain *grid.Grid) (*ComparisonResult, error) {
	result := &ComparisonResult{
		ImageFile: cfg.ImageFile,
		Width:     img.W,
		Height:    img.H,
		Baseline:  cfg.Baseline,
		PerPolicy: make(map[string]PolicyStats),
	}

	start := time.Now()
	masks := make(map[string]*grid.Bitmap)
	for _, policy := range threshold.Policies {
		params := tuning.Threshold
		params.Policy = policy

		needsGain := policy == threshold.PolicyFanoGain || policy == threshold.PolicyKabschGain
		if needsGain && gain == nil {
			result.PerPolicy[string(policy)] = PolicyStats{
				Name:          string(policy),
				Skipped:       true,
				SkippedReason: "no gain map supplied",
			}
			continue
		}

		policyStart := time.Now()
		mask, err := threshold.Apply(img, nil, gain, params)
		if err != nil {
			return nil, fmt.Errorf("policy %s: %w", policy, err)
		}
		elapsed := time.Since(policyStart)

		count := mask.CountTrue()
		masks[string(policy)] = mask
		result.PerPolicy[string(policy)] = PolicyStats{
			Name:         string(policy),
			SignalPixels: count,
			SignalRatio:  float64(count) / float64(img.Len()),
			ProcessingUs: elapsed.Microseconds(),
		}
	}
	result.ProcessingTimeMs = time.Since(start).Milliseconds()

	baseline, ok := masks[cfg.Baseline]
	if !ok {
		return nil, fmt.Errorf("baseline policy %q did not run", cfg.Baseline)
	}
	for name, mask := range masks {
		stats := result.PerPolicy[name]
		stats.AgreementPct = agreementPct(baseline, mask)
		result.PerPolicy[name] = stats
	}

	return result, nil
}

// agreementPct returns the percentage of pixels where the two masks agree.
func agreementPct(a, b *grid.Bitmap) float64 {
	if a.Len() == 0 || a.Len() != b.Len() {
		return 0
	}
	agree := 0
	for i := range a.Bits {
		if a.Bits[i] == b.Bits[i] {
			agree++
		}
	}
	return 100 * float64(agree) / float64(a.Len())
}

func printResults(result *ComparisonResult) {
	fmt.Printf("\n=== Policy Comparison: %s (%dx%d) ===\n",
		result.ImageFile, result.Width, result.Height)
	fmt.Printf("Baseline: %s   Total time: %dms\n\n", result.Baseline, result.ProcessingTimeMs)
	fmt.Printf("%-14s %12s %10s %10s %10s\n",
		"policy", "signal px", "ratio", "agree%", "time(us)")

	for _, policy := range threshold.Policies {
		stats, ok := result.PerPolicy[string(policy)]
		if !ok {
			continue
		}
		if stats.Skipped {
			fmt.Printf("%-14s %12s (%s)\n", stats.Name, "skipped", stats.SkippedReason)
			continue
		}
		fmt.Printf("%-14s %12d %10.5f %9.2f%% %10d\n",
			stats.Name, stats.SignalPixels, stats.SignalRatio,
			stats.AgreementPct, stats.ProcessingUs)
	}
	fmt.Println()
}

func exportJSON(result *ComparisonResult, path string) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
