package monitor

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/xtal-data/spotsieve/internal/storage/sqlite"
)

// RenderRunReport writes a self-contained HTML report for a run: a pixel
// breakdown pie and the filter funnel showing how many reflections each pass
// removed. The passes must be in application order.
func RenderRunReport(w io.Writer, run *sqlite.Run, passes []*sqlite.FilterPass) error {
	if run == nil {
		return fmt.Errorf("nil run")
	}

	page := components.NewPage()
	page.PageTitle = fmt.Sprintf("Run %s", run.RunID)

	page.AddCharts(pixelBreakdownPie(run))
	if len(passes) > 0 {
		page.AddCharts(filterFunnelBar(run, passes))
	}

	if err := page.Render(w); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return nil
}

// WriteRunReport renders the report to a file.
func WriteRunReport(path string, run *sqlite.Run, passes []*sqlite.FilterPass) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report file: %w", err)
	}
	defer f.Close()
	return RenderRunReport(f, run, passes)
}

func pixelBreakdownPie(run *sqlite.Run) *charts.Pie {
	background := run.TotalPixels - run.SignalPixels
	if background < 0 {
		background = 0
	}

	pie := charts.NewPie()
	pie.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title: "Pixel Classification",
			Subtitle: fmt.Sprintf("%s · policy=%s · %dx%d",
				run.ImagePath, run.Policy, run.Width, run.Height),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	pie.AddSeries("pixels", []opts.PieData{
		{Name: "signal", Value: run.SignalPixels},
		{Name: "background", Value: background},
	})
	return pie
}

func filterFunnelBar(run *sqlite.Run, passes []*sqlite.FilterPass) *charts.Bar {
	names := make([]string, 0, len(passes))
	survivors := make([]opts.BarData, 0, len(passes))
	invalidated := make([]opts.BarData, 0, len(passes))
	for _, p := range passes {
		names = append(names, p.Name)
		survivors = append(survivors, opts.BarData{Value: p.Survivors})
		invalidated = append(invalidated, opts.BarData{Value: p.Invalidated})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Reflection Filter Funnel",
			Subtitle: time.Unix(0, run.CreatedAt).Format(time.RFC3339),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(names).
		AddSeries("survivors", survivors).
		AddSeries("invalidated", invalidated)
	bar.SetSeriesOptions(charts.WithBarChartOpts(opts.BarChart{Stack: "total"}))
	return bar
}
